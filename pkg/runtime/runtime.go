// Package runtime assembles the assistant server from configuration.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	appconfig "github.com/xiaoai/assistant/internal/config"
	"github.com/xiaoai/assistant/internal/gemini"
	apphttp "github.com/xiaoai/assistant/internal/http"
	applogger "github.com/xiaoai/assistant/internal/logger"
	"github.com/xiaoai/assistant/internal/media"
	"github.com/xiaoai/assistant/internal/settings"
	"github.com/xiaoai/assistant/internal/speech/deepgram"
	"github.com/xiaoai/assistant/internal/storage"
	"github.com/xiaoai/assistant/internal/ws"
	"github.com/xiaoai/assistant/pkg/audio"
)

// Server owns the HTTP listener and the process-wide components.
type Server struct {
	cfg       appconfig.Config
	logger    *zap.Logger
	server    *http.Server
	settings  *settings.Store
	wsHandler *ws.Handler

	watchCtx    context.Context
	cancelWatch context.CancelFunc
}

// New loads configuration from configPath (empty searches the working
// directory) and wires every component.
func New(configPath string) (*Server, error) {
	cfg, err := appconfig.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := applogger.New(cfg.Log)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	logger.Info("logger configured",
		zap.String("level", cfg.Log.Level),
		zap.Bool("stdout", cfg.Log.Stdout),
		zap.Bool("file_enabled", cfg.Log.File.Enabled),
		zap.String("file_path", cfg.Log.File.Path),
	)
	logger.Info("config loaded",
		zap.String("config_path", configPath),
		zap.String("root_dir", cfg.RootDir),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("persona", cfg.Persona.UID),
		zap.String("opus_backend", audio.Backend()),
	)

	prefs, err := settings.Open(cfg.SettingsPath, cfg.Gemini.DefaultAPIKey, logger.Named("settings"))
	if err != nil {
		return nil, fmt.Errorf("open settings: %w", err)
	}

	library, err := media.NewLibrary(cfg.Media.Dir)
	if err != nil {
		return nil, fmt.Errorf("open media library: %w", err)
	}
	loader := media.NewLoader(library,
		&media.FFmpeg{FFmpegPath: cfg.Media.FFmpegPath, FFprobePath: cfg.Media.FFprobePath},
		media.LoaderConfig{
			ImageMaxDim:      cfg.Media.ImageMaxDim,
			VideoFrameMaxDim: cfg.Media.VideoFrameMaxDim,
		},
		logger.Named("media"),
	)

	model := gemini.New(gemini.Config{
		BaseURL:     cfg.Gemini.BaseURL,
		Model:       cfg.Gemini.Model,
		VisionModel: cfg.Gemini.VisionModel,
		Timeout:     time.Duration(cfg.Gemini.TimeoutSeconds) * time.Second,
	}, prefs, cfg.Persona.SystemPrompt, logger.Named("gemini"))

	archive, err := storage.NewArchive(cfg.ChatHistoryDir, cfg.Persona.UID)
	if err != nil {
		return nil, fmt.Errorf("open history archive: %w", err)
	}

	if cfg.Deepgram.APIKey == "" {
		logger.Warn("deepgram api key missing; speech input and output are disabled")
	}
	wsHandler := ws.NewHandler(logger, ws.Deps{
		Config:   cfg,
		Model:    model,
		Loader:   loader,
		Settings: prefs,
		Archive:  archive,
		Speech:   ws.DeepgramSpeech(speechConfig(cfg.Deepgram)),
	})
	router := apphttp.NewRouter(cfg, wsHandler, library, prefs, logger)

	watchCtx, cancelWatch := context.WithCancel(context.Background())
	return &Server{
		cfg:       cfg,
		logger:    logger,
		settings:  prefs,
		wsHandler: wsHandler,
		server: &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		watchCtx:    watchCtx,
		cancelWatch: cancelWatch,
	}, nil
}

func speechConfig(cfg appconfig.DeepgramConfig) deepgram.Config {
	return deepgram.Config{
		APIKey:          cfg.APIKey,
		Model:           cfg.STTModel,
		Language:        cfg.Language,
		SampleRate:      cfg.SampleRate,
		EndpointingMs:   cfg.EndpointingMs,
		UtteranceEndMs:  cfg.UtteranceEndMs,
		Voice:           cfg.TTSVoice,
		SpeakSampleRate: cfg.TTSSampleRate,
	}
}

// Logger returns the process logger.
func (s *Server) Logger() *zap.Logger {
	return s.logger
}

// Run starts the settings watcher and serves until Shutdown.
func (s *Server) Run() error {
	if s == nil || s.server == nil {
		return nil
	}
	if err := s.settings.Watch(s.watchCtx); err != nil {
		s.logger.Warn("settings watcher disabled", zap.Error(err))
	}

	err := listen(s.server, s.cfg, s.logger)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	if s == nil || s.server == nil {
		return ""
	}
	return s.server.Addr
}

// Shutdown stops accepting requests, disconnects websocket clients and
// waits for their sessions to close, then stops the settings watcher.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	err := ignoreServerClosed(s.server.Shutdown(ctx))
	if closeErr := s.wsHandler.CloseAll(ctx); closeErr != nil && err == nil {
		err = closeErr
	}
	s.cancelWatch()
	if closeErr := s.settings.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

func ignoreServerClosed(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
