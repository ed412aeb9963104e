// Package deepgram implements the speech contracts on top of Deepgram's
// streaming listen and speak websockets.
package deepgram

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xiaoai/assistant/internal/speech"
)

const (
	defaultListenURL = "wss://api.deepgram.com/v1/listen"
	defaultSpeakURL  = "wss://api.deepgram.com/v1/speak"
)

// Config holds credentials and stream parameters for both directions.
type Config struct {
	APIKey string

	ListenURL      string
	Model          string
	Language       string
	SampleRate     int
	EndpointingMs  int
	UtteranceEndMs int

	SpeakURL        string
	Voice           string
	SpeakSampleRate int

	DialTimeout       time.Duration
	KeepAliveInterval time.Duration
	NoSpeechTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.ListenURL == "" {
		c.ListenURL = defaultListenURL
	}
	if c.SpeakURL == "" {
		c.SpeakURL = defaultSpeakURL
	}
	if c.Model == "" {
		c.Model = "nova-2"
	}
	if c.Language == "" {
		c.Language = "vi"
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.EndpointingMs <= 0 {
		c.EndpointingMs = 300
	}
	if c.UtteranceEndMs <= 0 {
		c.UtteranceEndMs = 1000
	}
	if c.Voice == "" {
		c.Voice = "aura-asteria-en"
	}
	if c.SpeakSampleRate <= 0 {
		c.SpeakSampleRate = 24000
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = 5 * time.Second
	}
	if c.NoSpeechTimeout <= 0 {
		c.NoSpeechTimeout = 8 * time.Second
	}
	return c
}

type controlMessage struct {
	Type string `json:"type"`
}

type speakMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

var (
	keepAliveMsg = controlMessage{Type: "KeepAlive"}
	flushMsg     = controlMessage{Type: "Flush"}
	clearMsg     = controlMessage{Type: "Clear"}
	closeMsg     = controlMessage{Type: "Close"}
)

func dial(ctx context.Context, endpoint string, query url.Values, apiKey string, timeout time.Duration) (*websocket.Conn, error) {
	target, err := url.Parse(endpoint)
	if err != nil {
		return nil, &speech.ReasonError{Reason: speech.ReasonClient, Err: fmt.Errorf("parse endpoint: %w", err)}
	}
	target.RawQuery = query.Encode()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(dialCtx, target.String(), http.Header{"Authorization": {"Token " + apiKey}})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, &speech.ReasonError{Reason: classifyDial(resp, err), Err: fmt.Errorf("open socket connection to deepgram: %w", err)}
	}
	return conn, nil
}

func classifyDial(resp *http.Response, err error) speech.Reason {
	if resp != nil {
		switch {
		case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
			return speech.ReasonPermission
		case resp.StatusCode == http.StatusTooManyRequests:
			return speech.ReasonBusy
		case resp.StatusCode >= http.StatusInternalServerError:
			return speech.ReasonServer
		case resp.StatusCode >= http.StatusBadRequest:
			return speech.ReasonClient
		}
	}
	return classifyTransport(err)
}

func classifyTransport(err error) speech.Reason {
	if errors.Is(err, context.DeadlineExceeded) {
		return speech.ReasonNetworkTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return speech.ReasonNetworkTimeout
	}
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure) {
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseInternalServerErr {
			return speech.ReasonServer
		}
	}
	return speech.ReasonNetwork
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure) ||
		errors.Is(err, net.ErrClosed)
}
