package config

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	appdefaults "github.com/xiaoai/assistant/config"

	"github.com/spf13/viper"
	"github.com/xiaoai/assistant/internal/logger"
	"github.com/xiaoai/assistant/pkg/audio"
)

const envPrefix = "xiaoai"

// SystemConfig holds listener settings.
type SystemConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// GeminiConfig configures the remote model client.
type GeminiConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`
	VisionModel    string `mapstructure:"vision_model"`
	DefaultAPIKey  string `mapstructure:"default_api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// DeepgramConfig configures the speech adapters.
type DeepgramConfig struct {
	APIKey         string `mapstructure:"api_key"`
	STTModel       string `mapstructure:"stt_model"`
	Language       string `mapstructure:"language"`
	SampleRate     int    `mapstructure:"sample_rate"`
	EndpointingMs  int    `mapstructure:"endpointing_ms"`
	UtteranceEndMs int    `mapstructure:"utterance_end_ms"`
	TTSVoice       string `mapstructure:"tts_voice"`
	TTSSampleRate  int    `mapstructure:"tts_sample_rate"`
}

// MediaConfig configures uploads and frame extraction.
type MediaConfig struct {
	Dir              string `mapstructure:"dir"`
	MaxUploadMB      int    `mapstructure:"max_upload_mb"`
	ImageMaxDim      int    `mapstructure:"image_max_dim"`
	VideoFrameMaxDim int    `mapstructure:"video_frame_max_dim"`
	VideoFrameCount  int    `mapstructure:"video_frame_count"`
	FFmpegPath       string `mapstructure:"ffmpeg_path"`
	FFprobePath      string `mapstructure:"ffprobe_path"`
}

// AudioConfig describes the audio exchanged with websocket clients.
type AudioConfig struct {
	ClientSampleRate int               `mapstructure:"client_sample_rate"`
	OutputFormat     string            `mapstructure:"output_format"`
	FrameDuration    int               `mapstructure:"frame_duration"`
	Opus             audio.OpusOptions `mapstructure:"opus"`
}

// Config is the full server configuration.
type Config struct {
	RootDir        string         `mapstructure:"-"`
	HTTPAddr       string         `mapstructure:"http_addr"`
	SettingsPath   string         `mapstructure:"settings_path"`
	ChatHistoryDir string         `mapstructure:"chat_history_dir"`
	PersonaPath    string         `mapstructure:"persona_path"`
	TLSCertPath    string         `mapstructure:"tls_cert_path"`
	TLSKeyPath     string         `mapstructure:"tls_key_path"`
	TLSRequired    bool           `mapstructure:"tls_required"`
	TLSDisable     bool           `mapstructure:"tls_disable"`
	SystemConfig   SystemConfig   `mapstructure:"system_config"`
	Gemini         GeminiConfig   `mapstructure:"gemini"`
	Deepgram       DeepgramConfig `mapstructure:"deepgram"`
	Media          MediaConfig    `mapstructure:"media"`
	Audio          AudioConfig    `mapstructure:"audio"`
	Log            logger.Config  `mapstructure:"log"`

	// Persona is resolved from PersonaPath, or the built-in persona.
	Persona Persona `mapstructure:"-"`
}

// Load reads the embedded defaults, an optional conf.yaml found from the
// working directory upwards, and XIAOAI_* environment overrides.
func Load() (Config, error) {
	rootDir, err := resolveRootDir()
	if err != nil {
		return Config{}, err
	}

	v, err := newViper()
	if err != nil {
		return Config{}, err
	}
	v.SetConfigName("conf")
	v.SetConfigType("yaml")
	v.AddConfigPath(rootDir)

	if err := v.MergeInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, err
		}
	}

	return finish(v, rootDir)
}

// LoadConfig reads configuration from an explicit file. An empty path
// behaves like Load.
func LoadConfig(configPath string) (Config, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		return Load()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, err
	}

	rootDir := strings.TrimSpace(os.Getenv("XIAOAI_ROOT_DIR"))
	if rootDir == "" {
		rootDir = filepath.Dir(absPath)
		if filepath.Base(rootDir) == "config" {
			rootDir = filepath.Dir(rootDir)
		}
	}

	v, err := newViper()
	if err != nil {
		return Config{}, err
	}
	v.SetConfigFile(absPath)
	if err := v.MergeInConfig(); err != nil {
		return Config{}, err
	}

	return finish(v, rootDir)
}

func newViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if err := v.ReadConfig(bytes.NewReader(appdefaults.Default)); err != nil {
		return nil, fmt.Errorf("load embedded config: %w", err)
	}

	v.SetDefault("http_addr", "")
	v.SetDefault("tls_required", false)
	v.SetDefault("tls_cert_path", "")
	v.SetDefault("tls_key_path", "")
	v.SetDefault("gemini.model", "gemini-1.5-flash")
	v.SetDefault("gemini.timeout_seconds", 60)
	v.SetDefault("deepgram.language", "vi")
	v.SetDefault("deepgram.sample_rate", 16000)
	v.SetDefault("media.video_frame_count", 5)
	v.SetDefault("audio.output_format", "pcm16")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.stdout", true)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

func finish(v *viper.Viper, rootDir string) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	cfg.RootDir = rootDir
	deriveHTTPAddr(&cfg)
	derivePaths(&cfg)
	deriveMedia(&cfg)

	persona, err := resolvePersona(cfg.PersonaPath)
	if err != nil {
		return Config{}, fmt.Errorf("load persona: %w", err)
	}
	cfg.Persona = persona

	return cfg, nil
}

func deriveHTTPAddr(cfg *Config) {
	if cfg.HTTPAddr != "" {
		return
	}
	host := cfg.SystemConfig.Host
	port := cfg.SystemConfig.Port
	if port == 0 {
		port = 8101
	}
	if host == "" {
		cfg.HTTPAddr = fmt.Sprintf(":%d", port)
		return
	}
	cfg.HTTPAddr = net.JoinHostPort(host, strconv.Itoa(port))
}

func resolveRootDir() (string, error) {
	if root := strings.TrimSpace(os.Getenv("XIAOAI_ROOT_DIR")); root != "" {
		return filepath.Abs(root)
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	dir := wd
	for i := 0; i < 6; i++ {
		if fileExists(filepath.Join(dir, "conf.yaml")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return wd, nil
}

func derivePaths(cfg *Config) {
	cfg.SettingsPath = resolvePath(cfg.RootDir, cfg.SettingsPath, filepath.Join("data", "settings.yaml"))
	cfg.ChatHistoryDir = resolvePath(cfg.RootDir, cfg.ChatHistoryDir, filepath.Join("data", "chat"))
	cfg.Media.Dir = resolvePath(cfg.RootDir, cfg.Media.Dir, filepath.Join("data", "media"))
	cfg.TLSCertPath = resolvePath(cfg.RootDir, cfg.TLSCertPath, filepath.Join("certs", "server.crt"))
	cfg.TLSKeyPath = resolvePath(cfg.RootDir, cfg.TLSKeyPath, filepath.Join("certs", "server.key"))
	if strings.TrimSpace(cfg.PersonaPath) != "" {
		cfg.PersonaPath = resolvePath(cfg.RootDir, cfg.PersonaPath, "")
	}
}

func deriveMedia(cfg *Config) {
	media := &cfg.Media
	if media.ImageMaxDim <= 0 {
		media.ImageMaxDim = 1024
	}
	if media.VideoFrameMaxDim <= 0 {
		media.VideoFrameMaxDim = 512
	}
	if media.VideoFrameCount <= 0 {
		media.VideoFrameCount = 5
	}
	if media.MaxUploadMB <= 0 {
		media.MaxUploadMB = 64
	}
	if media.FFmpegPath == "" {
		media.FFmpegPath = "ffmpeg"
	}
	if media.FFprobePath == "" {
		media.FFprobePath = "ffprobe"
	}
}

func resolvePath(rootDir string, configured string, fallback string) string {
	path := strings.TrimSpace(configured)
	if path == "" {
		path = fallback
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(rootDir, path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
