// Package gemini talks to the Gemini generateContent REST API.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xiaoai/assistant/internal/conversation"
	"github.com/xiaoai/assistant/internal/media"
)

// ErrMissingAPIKey is returned when no credential is configured.
var ErrMissingAPIKey = errors.New("API key chưa được cấu hình")

const (
	fallbackText  = "Không có phản hồi"
	fallbackImage = "Không thể trả lời câu hỏi về hình ảnh"
	fallbackVideo = "Không thể phân tích video"
)

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("gemini: %d %s", e.StatusCode, e.Status)
}

// KeySource yields the current credential.
type KeySource interface {
	APIKey() string
}

// Config selects endpoint and models.
type Config struct {
	BaseURL     string
	Model       string
	VisionModel string
	Timeout     time.Duration
}

type handle struct {
	model  string
	apiKey string
}

// Client is the model client. Text and vision handles are built on first
// use and kept until Invalidate or until the credential changes.
type Client struct {
	cfg     Config
	keys    KeySource
	persona string
	http    *http.Client
	logger  *zap.Logger

	mu     sync.Mutex
	text   *handle
	vision *handle
}

// New creates a client. persona is prepended to first-turn and media
// prompts.
func New(cfg Config, keys KeySource, persona string, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = cfg.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		keys:    keys,
		persona: persona,
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   cfg.Timeout,
		},
		logger: logger,
	}
}

// Invalidate drops cached handles so the next call picks up a new
// credential.
func (c *Client) Invalidate() {
	c.mu.Lock()
	c.text = nil
	c.vision = nil
	c.mu.Unlock()
}

// CompleteText continues the conversation. The persona is only sent when
// there is no history.
func (c *Client) CompleteText(ctx context.Context, prompt string, history []conversation.Message) (string, error) {
	ctx, span := tracer.Start(ctx, "gemini complete text")
	defer span.End()

	h, err := c.textHandle()
	if err != nil {
		return "", recordError(span, err)
	}

	contents := make([]content, 0, len(history)+1)
	for _, msg := range history {
		contents = append(contents, content{Role: roleOf(msg), Parts: []part{{Text: msg.Content}}})
	}
	fullPrompt := prompt
	if len(history) == 0 {
		fullPrompt = c.persona + "\n\nNgười dùng: " + prompt
	}
	contents = append(contents, content{Role: "user", Parts: []part{{Text: fullPrompt}}})

	span.SetAttributes(attribute.Int("request.history", len(history)))
	text, err := c.generate(ctx, h, contents)
	if err != nil {
		return "", recordError(span, err)
	}
	return orFallback(text, fallbackText), nil
}

// CompleteWithImage asks a question about one image.
func (c *Client) CompleteWithImage(ctx context.Context, frame media.Frame, question string) (string, error) {
	ctx, span := tracer.Start(ctx, "gemini complete image")
	defer span.End()

	h, err := c.visionHandle()
	if err != nil {
		return "", recordError(span, err)
	}

	parts := []part{
		imagePart(frame),
		{Text: c.persona + "\n\nCâu hỏi về hình ảnh: " + question},
	}
	text, err := c.generate(ctx, h, []content{{Role: "user", Parts: parts}})
	if err != nil {
		return "", recordError(span, err)
	}
	return orFallback(text, fallbackImage), nil
}

// CompleteWithVideo asks a question about sampled video frames.
func (c *Client) CompleteWithVideo(ctx context.Context, frames []media.Frame, question string) (string, error) {
	ctx, span := tracer.Start(ctx, "gemini complete video")
	defer span.End()

	h, err := c.visionHandle()
	if err != nil {
		return "", recordError(span, err)
	}

	span.SetAttributes(attribute.Int("request.frames", len(frames)))
	text, err := c.generate(ctx, h, []content{{Role: "user", Parts: videoParts(c.persona, frames, question)}})
	if err != nil {
		return "", recordError(span, err)
	}
	return orFallback(text, fallbackVideo), nil
}

func videoParts(persona string, frames []media.Frame, question string) []part {
	parts := make([]part, 0, len(frames)*2+1)
	for i, frame := range frames {
		parts = append(parts, imagePart(frame))
		if i < len(frames)-1 {
			parts = append(parts, part{Text: fmt.Sprintf("[Khung hình %d]", i+1)})
		}
	}
	return append(parts, part{Text: persona + "\n\nĐây là các khung hình từ một video. " + question})
}

func imagePart(frame media.Frame) part {
	return part{InlineData: &inlineData{
		MimeType: frame.MIMEType,
		Data:     base64.StdEncoding.EncodeToString(frame.Data),
	}}
}

func roleOf(msg conversation.Message) string {
	if msg.IsUser() {
		return "user"
	}
	return "model"
}

func (c *Client) textHandle() (*handle, error) {
	return c.cachedHandle(&c.text, c.cfg.Model)
}

func (c *Client) visionHandle() (*handle, error) {
	return c.cachedHandle(&c.vision, c.cfg.VisionModel)
}

func (c *Client) cachedHandle(slot **handle, model string) (*handle, error) {
	apiKey := ""
	if c.keys != nil {
		apiKey = strings.TrimSpace(c.keys.APIKey())
	}
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if *slot == nil || (*slot).apiKey != apiKey {
		*slot = &handle{model: model, apiKey: apiKey}
	}
	return *slot, nil
}

func (c *Client) generate(ctx context.Context, h *handle, contents []content) (string, error) {
	body, err := json.Marshal(generateRequest{Contents: contents})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/models/" + h.model + ":generateContent"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", h.apiKey)

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug("gemini response",
		zap.String("model", h.model),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(started)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Status: resp.Status}
		var parsed errorResponse
		if json.Unmarshal(respBody, &parsed) == nil {
			apiErr.Message = parsed.Error.Message
		}
		return "", apiErr
	}

	var parsed generateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return parsed.text(), nil
}

func orFallback(text string, fallback string) string {
	if strings.TrimSpace(text) == "" {
		return fallback
	}
	return text
}

func recordError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
