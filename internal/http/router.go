package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appconfig "github.com/xiaoai/assistant/internal/config"
	"github.com/xiaoai/assistant/internal/media"
	"github.com/xiaoai/assistant/internal/settings"
)

// WebsocketHandler serves /client-ws.
type WebsocketHandler interface {
	Handle(w http.ResponseWriter, r *http.Request)
}

// NewRouter wires the HTTP surface: health, the client websocket, media
// uploads and settings.
func NewRouter(cfg appconfig.Config, wsHandler WebsocketHandler, library *media.Library, prefs *settings.Store, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.MaxMultipartMemory = 8 << 20
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/client-ws", func(c *gin.Context) {
		wsHandler.Handle(c.Writer, c.Request)
	})

	api := router.Group("/api")
	uploads := mediaHandler{
		library:  library,
		maxBytes: int64(cfg.Media.MaxUploadMB) << 20,
		logger:   logger,
	}
	api.POST("/media", uploads.upload)

	prefsAPI := settingsHandler{store: prefs}
	api.GET("/settings", prefsAPI.get)
	api.PUT("/settings", prefsAPI.put)

	return router
}

type mediaHandler struct {
	library  *media.Library
	maxBytes int64
	logger   *zap.Logger
}

func (h mediaHandler) upload(c *gin.Context) {
	if h.maxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes)
	}
	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file"})
		return
	}

	kind, err := media.DetectKind(header.Header.Get("Content-Type"), header.Filename)
	if err != nil {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": err.Error()})
		return
	}

	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer file.Close()

	ref, err := h.library.Save(kind, header.Filename, file)
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("media upload failed", zap.String("filename", header.Filename), zap.Error(err))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store media"})
		return
	}
	if h.logger != nil {
		h.logger.Info("media stored",
			zap.String("ref", ref),
			zap.String("kind", string(kind)),
			zap.Int64("bytes", header.Size),
		)
	}
	c.JSON(http.StatusCreated, gin.H{"ref": ref, "kind": kind})
}

type settingsHandler struct {
	store *settings.Store
}

// settingsView never echoes the stored credential.
type settingsView struct {
	APIKeySet           bool `json:"gemini_api_key_set"`
	VoiceEnabled        bool `json:"voice_enabled"`
	OnboardingCompleted bool `json:"onboarding_completed"`
	DefaultAssistantSet bool `json:"default_assistant_set"`
}

type settingsPatch struct {
	GeminiAPIKey        *string `json:"gemini_api_key"`
	VoiceEnabled        *bool   `json:"voice_enabled"`
	OnboardingCompleted *bool   `json:"onboarding_completed"`
	DefaultAssistantSet *bool   `json:"default_assistant_set"`
}

func (h settingsHandler) view() settingsView {
	snap := h.store.Snapshot()
	return settingsView{
		APIKeySet:           h.store.HasAPIKey(),
		VoiceEnabled:        snap.VoiceEnabled,
		OnboardingCompleted: snap.OnboardingCompleted,
		DefaultAssistantSet: snap.DefaultAssistantSet,
	}
}

func (h settingsHandler) get(c *gin.Context) {
	c.JSON(http.StatusOK, h.view())
}

func (h settingsHandler) put(c *gin.Context) {
	var patch settingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	err := h.store.Update(func(s *settings.Settings) {
		if patch.GeminiAPIKey != nil {
			s.GeminiAPIKey = strings.TrimSpace(*patch.GeminiAPIKey)
		}
		if patch.VoiceEnabled != nil {
			s.VoiceEnabled = *patch.VoiceEnabled
		}
		if patch.OnboardingCompleted != nil {
			s.OnboardingCompleted = *patch.OnboardingCompleted
		}
		if patch.DefaultAssistantSet != nil {
			s.DefaultAssistantSet = *patch.DefaultAssistantSet
		}
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.view())
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		if logger == nil {
			return
		}
		if c.Request.URL.Path == "/health" {
			return
		}
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("status", c.Writer.Status()),
			zap.Int("bytes", c.Writer.Size()),
			zap.Duration("latency", latency),
			zap.String("user_agent", c.Request.UserAgent()),
		)
	}
}
