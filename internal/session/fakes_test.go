package session

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/xiaoai/assistant/internal/conversation"
	"github.com/xiaoai/assistant/internal/media"
	"github.com/xiaoai/assistant/internal/speech"
)

type fakeRecognition struct {
	mu     sync.Mutex
	events chan speech.RecognitionEvent
	audio  [][]byte
	closed bool
}

func newFakeRecognition() *fakeRecognition {
	return &fakeRecognition{events: make(chan speech.RecognitionEvent, 16)}
}

func (r *fakeRecognition) Events() <-chan speech.RecognitionEvent { return r.events }

func (r *fakeRecognition) SendAudio(pcm []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio = append(r.audio, pcm)
	return nil
}

func (r *fakeRecognition) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.events)
	}
	return nil
}

func (r *fakeRecognition) emit(ev speech.RecognitionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.events <- ev
	}
}

func (r *fakeRecognition) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *fakeRecognition) audioChunks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.audio)
}

type fakeRecognizer struct {
	available bool
	startErr  error
	started   chan *fakeRecognition
}

func newFakeRecognizer() *fakeRecognizer {
	return &fakeRecognizer{available: true, started: make(chan *fakeRecognition, 4)}
}

func (r *fakeRecognizer) Available() bool { return r.available }

func (r *fakeRecognizer) Start(context.Context) (speech.Recognition, error) {
	if r.startErr != nil {
		return nil, r.startErr
	}
	rec := newFakeRecognition()
	rec.emit(speech.Listening())
	r.started <- rec
	return rec, nil
}

type fakePlayback struct {
	mu      sync.Mutex
	events  chan speech.SpeechEvent
	stopped bool
}

func (p *fakePlayback) Events() <-chan speech.SpeechEvent { return p.events }

func (p *fakePlayback) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.stopped {
		p.stopped = true
		close(p.events)
	}
	return nil
}

func (p *fakePlayback) emit(ev speech.SpeechEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.stopped {
		p.events <- ev
	}
}

func (p *fakePlayback) isStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

type fakeSynthesizer struct {
	mu       sync.Mutex
	texts    []string
	started  chan *fakePlayback
	speakErr error
}

func newFakeSynthesizer() *fakeSynthesizer {
	return &fakeSynthesizer{started: make(chan *fakePlayback, 4)}
}

func (s *fakeSynthesizer) Available() bool { return true }

func (s *fakeSynthesizer) Speak(_ context.Context, text string) (speech.Playback, error) {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
	if s.speakErr != nil {
		return nil, s.speakErr
	}
	p := &fakePlayback{events: make(chan speech.SpeechEvent, 4)}
	p.emit(speech.SpeechEvent{Kind: speech.SpeechSpeaking})
	s.started <- p
	return p, nil
}

func (s *fakeSynthesizer) spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

type modelCall struct {
	kind     string
	prompt   string
	history  []conversation.Message
	frames   int
	frameDim int
}

type fakeModel struct {
	mu          sync.Mutex
	reply       string
	err         error
	calls       []modelCall
	invalidated int
	release     chan struct{}
}

func (m *fakeModel) record(call modelCall) (string, error) {
	if m.release != nil {
		<-m.release
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
	return m.reply, m.err
}

func (m *fakeModel) CompleteText(_ context.Context, prompt string, history []conversation.Message) (string, error) {
	return m.record(modelCall{kind: "text", prompt: prompt, history: history})
}

func (m *fakeModel) CompleteWithImage(_ context.Context, frame media.Frame, question string) (string, error) {
	return m.record(modelCall{kind: "image", prompt: question, frames: 1, frameDim: frame.Width})
}

func (m *fakeModel) CompleteWithVideo(_ context.Context, frames []media.Frame, question string) (string, error) {
	return m.record(modelCall{kind: "video", prompt: question, frames: len(frames)})
}

func (m *fakeModel) Invalidate() {
	m.mu.Lock()
	m.invalidated++
	m.mu.Unlock()
}

func (m *fakeModel) snapshot() ([]modelCall, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]modelCall(nil), m.calls...), m.invalidated
}

type fakeLoader struct {
	imageErr   error
	videoErr   error
	frameCount atomic.Int64
}

func (l *fakeLoader) LoadImage(context.Context, string) (media.Frame, error) {
	if l.imageErr != nil {
		return media.Frame{}, l.imageErr
	}
	return media.Frame{MIMEType: "image/jpeg", Width: 1024, Height: 768}, nil
}

func (l *fakeLoader) ExtractVideoFrames(_ context.Context, _ string, count int) ([]media.Frame, error) {
	l.frameCount.Store(int64(count))
	if l.videoErr != nil {
		return nil, l.videoErr
	}
	return make([]media.Frame, count), nil
}

type fakeArchive struct {
	mu       sync.Mutex
	created  int
	appended map[string][]conversation.Message
}

func (a *fakeArchive) Create() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.created++
	return "h1", nil
}

func (a *fakeArchive) Append(historyUID string, messages ...conversation.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.appended == nil {
		a.appended = make(map[string][]conversation.Message)
	}
	a.appended[historyUID] = append(a.appended[historyUID], messages...)
	return nil
}

func (a *fakeArchive) entries(historyUID string) []conversation.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]conversation.Message(nil), a.appended[historyUID]...)
}
