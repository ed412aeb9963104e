package http

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	appconfig "github.com/xiaoai/assistant/internal/config"
	"github.com/xiaoai/assistant/internal/media"
	"github.com/xiaoai/assistant/internal/settings"
)

type stubWS struct{ called bool }

func (s *stubWS) Handle(w http.ResponseWriter, _ *http.Request) {
	s.called = true
	w.WriteHeader(http.StatusSwitchingProtocols)
}

func newTestRouter(t *testing.T) (*gin.Engine, *media.Library, *settings.Store, *stubWS) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	library, err := media.NewLibrary(t.TempDir())
	if err != nil {
		t.Fatalf("NewLibrary error: %v", err)
	}
	prefs, err := settings.Open(filepath.Join(t.TempDir(), "settings.yaml"), "", nil)
	if err != nil {
		t.Fatalf("settings.Open error: %v", err)
	}
	cfg := appconfig.Config{}
	cfg.Media.MaxUploadMB = 1
	ws := &stubWS{}
	return NewRouter(cfg, ws, library, prefs, nil), library, prefs, ws
}

func multipartBody(t *testing.T, filename string, contentType string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("CreatePart error: %v", err)
	}
	part.Write(content)
	writer.Close()
	return body, writer.FormDataContentType()
}

func TestHealth(t *testing.T) {
	router, _, _, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("body=%s", rec.Body.String())
	}
}

func TestClientWebsocketRoute(t *testing.T) {
	router, _, _, ws := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/client-ws", nil))
	if !ws.called {
		t.Fatalf("websocket handler not called")
	}
}

func TestUploadImage(t *testing.T) {
	router, library, _, _ := newTestRouter(t)
	body, contentType := multipartBody(t, "cat.png", "image/png", []byte("fake png"))

	req := httptest.NewRequest(http.MethodPost, "/api/media", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status=%d, want 201: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Ref  string `json:"ref"`
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Kind != "image" || !strings.HasPrefix(resp.Ref, "img_") {
		t.Fatalf("resp=%+v", resp)
	}
	if _, err := library.Path(resp.Ref); err != nil {
		t.Fatalf("stored file not found: %v", err)
	}
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	router, _, _, _ := newTestRouter(t)
	body, contentType := multipartBody(t, "notes.txt", "text/plain", []byte("hello"))

	req := httptest.NewRequest(http.MethodPost, "/api/media", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status=%d, want 415", rec.Code)
	}
}

func TestUploadMissingFile(t *testing.T) {
	router, _, _, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/api/media", strings.NewReader(""))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rec.Code)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	router, _, prefs, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/settings", nil))
	var view settingsView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.APIKeySet || !view.VoiceEnabled {
		t.Fatalf("defaults=%+v", view)
	}

	req := httptest.NewRequest(http.MethodPut, "/api/settings",
		strings.NewReader(`{"gemini_api_key":" secret ","voice_enabled":false}`))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !view.APIKeySet || view.VoiceEnabled {
		t.Fatalf("updated=%+v", view)
	}
	if strings.Contains(rec.Body.String(), "secret") {
		t.Fatalf("credential leaked: %s", rec.Body.String())
	}
	if prefs.APIKey() != "secret" {
		t.Fatalf("APIKey=%q, want secret", prefs.APIKey())
	}
	if prefs.Snapshot().OnboardingCompleted {
		t.Fatalf("untouched field changed")
	}
}

func TestSettingsRejectsBadJSON(t *testing.T) {
	router, _, _, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPut, "/api/settings", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rec.Code)
	}
}
