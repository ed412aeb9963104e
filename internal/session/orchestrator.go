// Package session coordinates one assistant session: speech input, the
// conversation log, model dispatch, and spoken replies.
//
// Every state change goes through Orchestrator.mu and produces a fresh
// State value for subscribers. Model dispatch runs in the background and
// is never cancelled; Close waits for it.
package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/xiaoai/assistant/internal/conversation"
	"github.com/xiaoai/assistant/internal/session/fsm"
	"github.com/xiaoai/assistant/internal/settings"
	"github.com/xiaoai/assistant/internal/speech"
)

const defaultVideoFrameCount = 5

// Options lists the collaborators of an orchestrator. Store, Model and
// Loader are required.
type Options struct {
	Store       *conversation.Store
	Recognizer  speech.Recognizer
	Synthesizer speech.Synthesizer
	Loader      MediaLoader
	Model       ModelClient
	Settings    Preferences
	Archive     Archive
	Logger      *zap.Logger

	VideoFrameCount int
}

// Orchestrator is the session state machine.
type Orchestrator struct {
	store       *conversation.Store
	recognizer  speech.Recognizer
	synthesizer speech.Synthesizer
	loader      MediaLoader
	model       ModelClient
	prefs       Preferences
	archive     Archive
	logger      *zap.Logger
	frameCount  int

	machine *fsm.Machine

	// speechCtx bounds provider connections; dispatch does not use it.
	speechCtx    context.Context
	cancelSpeech context.CancelFunc
	wg           sync.WaitGroup

	mu          sync.Mutex
	state       State
	subscribers map[int]chan State
	nextSubID   int
	closed      bool

	listen       *activation
	nextListenID uint64

	playback   speech.Playback
	playbackID uint64

	historyUID string
	// logEpoch changes whenever the log is replaced wholesale. A dispatch
	// from an earlier epoch must not touch the current log or transcript.
	logEpoch uint64
	apiKey   string

	unsubscribePrefs func()
}

// New creates an orchestrator and starts following settings changes.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	frameCount := opts.VideoFrameCount
	if frameCount <= 0 {
		frameCount = defaultVideoFrameCount
	}
	store := opts.Store
	if store == nil {
		store = conversation.NewStore()
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		store:        store,
		recognizer:   opts.Recognizer,
		synthesizer:  opts.Synthesizer,
		loader:       opts.Loader,
		model:        opts.Model,
		prefs:        opts.Settings,
		archive:      opts.Archive,
		logger:       logger,
		frameCount:   frameCount,
		machine:      fsm.New(),
		speechCtx:    ctx,
		cancelSpeech: cancel,
		subscribers:  make(map[int]chan State),
		state: State{
			Phase:              fsm.PhaseIdle,
			VoiceOutputEnabled: true,
		},
	}

	if o.prefs != nil {
		snap := o.prefs.Snapshot()
		o.apiKey = o.prefs.APIKey()
		o.state.VoiceOutputEnabled = snap.VoiceEnabled
		o.state.CredentialPresent = o.apiKey != ""

		updates, unsubscribe := o.prefs.Subscribe()
		o.unsubscribePrefs = unsubscribe
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.followSettings(updates)
		}()
	}
	return o
}

// Store returns the conversation log of this session.
func (o *Orchestrator) Store() *conversation.Store {
	return o.store
}

// State returns the current snapshot.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Subscribe streams state snapshots, starting with the current one. Slow
// readers only see the latest value.
func (o *Orchestrator) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := o.nextSubID
	o.nextSubID++
	o.subscribers[id] = ch
	ch <- o.state
	o.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			if _, ok := o.subscribers[id]; ok {
				delete(o.subscribers, id)
				close(ch)
			}
		})
	}
}

// update applies fn under the lock, re-derives the activity flags from the
// phase machine and publishes the result.
func (o *Orchestrator) update(fn func(*State)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.updateLocked(fn)
}

func (o *Orchestrator) updateLocked(fn func(*State)) {
	next := o.state
	if fn != nil {
		fn(&next)
	}
	next = next.withActivities(o.machine.Activities())
	if next == o.state {
		return
	}
	o.state = next
	for _, ch := range o.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- next
	}
}

// UpdateInput replaces the draft input.
func (o *Orchestrator) UpdateInput(text string) {
	o.update(func(s *State) { s.DraftInput = text })
}

// ClearError dismisses the last error.
func (o *Orchestrator) ClearError() {
	o.update(func(s *State) { s.LastError = "" })
}

// SelectImage attaches an image to the next message, replacing any video.
func (o *Orchestrator) SelectImage(ref string) {
	o.update(func(s *State) {
		s.PendingImageRef = ref
		s.PendingVideoRef = ""
	})
}

// SelectVideo attaches a video to the next message, replacing any image.
func (o *Orchestrator) SelectVideo(ref string) {
	o.update(func(s *State) {
		s.PendingVideoRef = ref
		s.PendingImageRef = ""
	})
}

// ClearMedia drops the pending attachment.
func (o *Orchestrator) ClearMedia() {
	o.update(func(s *State) {
		s.PendingImageRef = ""
		s.PendingVideoRef = ""
	})
}

// ClearConversation empties the log. Archived exchanges stay on disk and
// the next exchange starts a new transcript.
func (o *Orchestrator) ClearConversation() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.historyUID = ""
	o.logEpoch++
	o.store.Clear()
}

// HistoryUID returns the transcript exchanges are archived to.
func (o *Orchestrator) HistoryUID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.historyUID
}

// StartHistory switches to a fresh transcript with an empty log.
func (o *Orchestrator) StartHistory(historyUID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.historyUID = historyUID
	o.logEpoch++
	o.store.Clear()
}

// RestoreHistory loads an archived transcript into the log and keeps
// appending to it.
func (o *Orchestrator) RestoreHistory(historyUID string, messages []conversation.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.historyUID = historyUID
	o.logEpoch++
	o.store.Replace(messages)
}

// ForgetHistory detaches from a transcript that was deleted.
func (o *Orchestrator) ForgetHistory(historyUID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.historyUID == historyUID {
		o.historyUID = ""
	}
}

// Close stops recognition and playback, waits for background work and
// closes subscriber streams. It is safe to call more than once.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	act := o.listen
	o.listen = nil
	playback := o.playback
	o.playback = nil
	o.playbackID++
	unsubscribe := o.unsubscribePrefs
	o.mu.Unlock()

	if act != nil {
		act.close()
	}
	if playback != nil {
		_ = playback.Stop()
	}
	o.cancelSpeech()
	if unsubscribe != nil {
		unsubscribe()
	}

	o.wg.Wait()

	o.mu.Lock()
	o.machine.Reset()
	for id, ch := range o.subscribers {
		delete(o.subscribers, id)
		close(ch)
	}
	o.mu.Unlock()
}

func (o *Orchestrator) followSettings(updates <-chan settings.Settings) {
	for snap := range updates {
		key := o.prefs.APIKey()

		o.mu.Lock()
		keyChanged := key != o.apiKey
		o.apiKey = key
		o.updateLocked(func(s *State) {
			s.VoiceOutputEnabled = snap.VoiceEnabled
			s.CredentialPresent = key != ""
		})
		o.mu.Unlock()

		if keyChanged {
			if inv, ok := o.model.(invalidator); ok {
				inv.Invalidate()
			}
		}
	}
}
