package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/xiaoai/assistant/internal/conversation"
	"github.com/xiaoai/assistant/internal/media"
	"github.com/xiaoai/assistant/internal/settings"
)

type staticKey string

func (k staticKey) APIKey() string { return string(k) }

type mutableKey struct {
	mu  sync.Mutex
	key string
}

func (k *mutableKey) APIKey() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.key
}

func (k *mutableKey) set(v string) {
	k.mu.Lock()
	k.key = v
	k.mu.Unlock()
}

type captured struct {
	path    string
	apiKey  string
	request generateRequest
}

func newServer(t *testing.T, status int, reply string) (*httptest.Server, func() []captured) {
	t.Helper()
	var mu sync.Mutex
	var calls []captured
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		mu.Lock()
		calls = append(calls, captured{path: r.URL.Path, apiKey: r.Header.Get("x-goog-api-key"), request: req})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(server.Close)
	return server, func() []captured {
		mu.Lock()
		defer mu.Unlock()
		return append([]captured(nil), calls...)
	}
}

func textReply(text string) string {
	b, _ := json.Marshal(map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{"role": "model", "parts": []any{map[string]any{"text": text}}},
		}},
	})
	return string(b)
}

func TestCompleteTextFirstTurnCarriesPersona(t *testing.T) {
	server, calls := newServer(t, http.StatusOK, textReply("Chào bạn"))
	client := New(Config{BaseURL: server.URL}, staticKey("k1"), "PERSONA", nil)

	got, err := client.CompleteText(context.Background(), "Xin chào", nil)
	if err != nil {
		t.Fatalf("CompleteText: %v", err)
	}
	if got != "Chào bạn" {
		t.Fatalf("reply=%q, want Chào bạn", got)
	}

	call := calls()[0]
	if call.path != "/models/gemini-1.5-flash:generateContent" {
		t.Fatalf("path=%q", call.path)
	}
	if call.apiKey != "k1" {
		t.Fatalf("api key=%q, want k1", call.apiKey)
	}
	if len(call.request.Contents) != 1 {
		t.Fatalf("contents=%d, want 1", len(call.request.Contents))
	}
	if text := call.request.Contents[0].Parts[0].Text; text != "PERSONA\n\nNgười dùng: Xin chào" {
		t.Fatalf("prompt=%q", text)
	}
}

func TestCompleteTextWithHistoryOmitsPersona(t *testing.T) {
	server, calls := newServer(t, http.StatusOK, textReply("ok"))
	client := New(Config{BaseURL: server.URL}, staticKey("k"), "PERSONA", nil)

	history := []conversation.Message{
		conversation.NewUserMessage("hỏi", "", ""),
		conversation.NewAssistantMessage("đáp"),
	}
	if _, err := client.CompleteText(context.Background(), "tiếp", history); err != nil {
		t.Fatalf("CompleteText: %v", err)
	}

	contents := calls()[0].request.Contents
	if len(contents) != 3 {
		t.Fatalf("contents=%d, want 3", len(contents))
	}
	if contents[0].Role != "user" || contents[1].Role != "model" || contents[2].Role != "user" {
		t.Fatalf("roles=%s,%s,%s", contents[0].Role, contents[1].Role, contents[2].Role)
	}
	if contents[2].Parts[0].Text != "tiếp" {
		t.Fatalf("prompt=%q, want plain prompt", contents[2].Parts[0].Text)
	}
}

func TestEmptyCandidatesUseFallbacks(t *testing.T) {
	server, _ := newServer(t, http.StatusOK, `{"candidates":[]}`)
	client := New(Config{BaseURL: server.URL}, staticKey("k"), "P", nil)
	frame := media.Frame{MIMEType: "image/jpeg", Data: []byte{1, 2, 3}}

	if got, _ := client.CompleteText(context.Background(), "x", nil); got != "Không có phản hồi" {
		t.Fatalf("text fallback=%q", got)
	}
	if got, _ := client.CompleteWithImage(context.Background(), frame, "x"); got != "Không thể trả lời câu hỏi về hình ảnh" {
		t.Fatalf("image fallback=%q", got)
	}
	if got, _ := client.CompleteWithVideo(context.Background(), []media.Frame{frame}, "x"); got != "Không thể phân tích video" {
		t.Fatalf("video fallback=%q", got)
	}
}

func TestCompleteWithImageLayout(t *testing.T) {
	server, calls := newServer(t, http.StatusOK, textReply("một con mèo"))
	client := New(Config{BaseURL: server.URL, VisionModel: "vision-x"}, staticKey("k"), "P", nil)

	frame := media.Frame{MIMEType: "image/jpeg", Data: []byte("jpg")}
	if _, err := client.CompleteWithImage(context.Background(), frame, "Đây là gì?"); err != nil {
		t.Fatalf("CompleteWithImage: %v", err)
	}

	call := calls()[0]
	if call.path != "/models/vision-x:generateContent" {
		t.Fatalf("path=%q", call.path)
	}
	parts := call.request.Contents[0].Parts
	if len(parts) != 2 || parts[0].InlineData == nil || parts[0].InlineData.Data != "anBn" {
		t.Fatalf("parts=%+v", parts)
	}
	if parts[1].Text != "P\n\nCâu hỏi về hình ảnh: Đây là gì?" {
		t.Fatalf("question=%q", parts[1].Text)
	}
}

func TestVideoPartsLabelsAllButLastFrame(t *testing.T) {
	frames := []media.Frame{{MIMEType: "image/jpeg"}, {MIMEType: "image/jpeg"}, {MIMEType: "image/jpeg"}}
	parts := videoParts("P", frames, "Có gì?")

	var labels []string
	for _, p := range parts {
		if p.InlineData == nil {
			labels = append(labels, p.Text)
		}
	}
	want := []string{"[Khung hình 1]", "[Khung hình 2]", "P\n\nĐây là các khung hình từ một video. Có gì?"}
	if strings.Join(labels, "|") != strings.Join(want, "|") {
		t.Fatalf("labels=%q, want %q", labels, want)
	}
	if len(parts) != 6 {
		t.Fatalf("parts=%d, want 6", len(parts))
	}
}

func TestMissingAPIKey(t *testing.T) {
	client := New(Config{BaseURL: "http://127.0.0.1:0"}, staticKey("  "), "P", nil)
	_, err := client.CompleteText(context.Background(), "x", nil)
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("err=%v, want ErrMissingAPIKey", err)
	}
	if err.Error() != "API key chưa được cấu hình" {
		t.Fatalf("message=%q", err.Error())
	}
}

func TestAPIErrorSurfacesMessage(t *testing.T) {
	server, _ := newServer(t, http.StatusBadRequest, `{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`)
	client := New(Config{BaseURL: server.URL}, staticKey("k"), "P", nil)

	_, err := client.CompleteText(context.Background(), "x", nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err=%v, want APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || err.Error() != "API key not valid" {
		t.Fatalf("apiErr=%+v", apiErr)
	}
}

func TestHandlesAreCachedUntilCredentialChanges(t *testing.T) {
	server, calls := newServer(t, http.StatusOK, textReply("ok"))
	keys := &mutableKey{key: "old"}
	client := New(Config{BaseURL: server.URL}, keys, "P", nil)

	first, err := client.textHandle()
	if err != nil {
		t.Fatalf("textHandle: %v", err)
	}
	again, _ := client.textHandle()
	if first != again {
		t.Fatalf("handle rebuilt without a credential change")
	}

	if _, err := client.CompleteText(context.Background(), "a", nil); err != nil {
		t.Fatalf("CompleteText: %v", err)
	}
	keys.set("new")
	if _, err := client.CompleteText(context.Background(), "b", nil); err != nil {
		t.Fatalf("CompleteText: %v", err)
	}
	client.Invalidate()
	if _, err := client.CompleteText(context.Background(), "c", nil); err != nil {
		t.Fatalf("CompleteText: %v", err)
	}

	got := []string{calls()[0].apiKey, calls()[1].apiKey, calls()[2].apiKey}
	if strings.Join(got, ",") != "old,new,new" {
		t.Fatalf("keys=%v, want old,new,new", got)
	}
}

func TestStoredKeyChangeReachesNextRequest(t *testing.T) {
	server, calls := newServer(t, http.StatusOK, textReply("ok"))
	prefs, err := settings.Open(filepath.Join(t.TempDir(), "settings.yaml"), "", nil)
	if err != nil {
		t.Fatalf("settings.Open: %v", err)
	}
	defer prefs.Close()
	if err := prefs.SetAPIKey("K1"); err != nil {
		t.Fatalf("SetAPIKey: %v", err)
	}
	client := New(Config{BaseURL: server.URL}, prefs, "P", nil)

	if _, err := client.CompleteText(context.Background(), "a", nil); err != nil {
		t.Fatalf("CompleteText: %v", err)
	}
	// No session is following settings here, so nothing calls Invalidate.
	if err := prefs.SetAPIKey("K2"); err != nil {
		t.Fatalf("SetAPIKey: %v", err)
	}
	if _, err := client.CompleteWithImage(context.Background(), media.Frame{MIMEType: "image/jpeg"}, "b"); err != nil {
		t.Fatalf("CompleteWithImage: %v", err)
	}
	if _, err := client.CompleteText(context.Background(), "c", nil); err != nil {
		t.Fatalf("CompleteText: %v", err)
	}

	got := []string{calls()[0].apiKey, calls()[1].apiKey, calls()[2].apiKey}
	if strings.Join(got, ",") != "K1,K2,K2" {
		t.Fatalf("keys=%v, want K1,K2,K2", got)
	}
}
