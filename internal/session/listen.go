package session

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/xiaoai/assistant/internal/speech"
)

// maxPendingChunks bounds the audio kept while the recognizer connects.
const maxPendingChunks = 256

// activation is one recognition run. Audio that arrives before the
// provider is connected is queued and flushed in order.
type activation struct {
	id     uint64
	cancel context.CancelFunc

	mu      sync.Mutex
	rec     speech.Recognition
	pending [][]byte
	closed  bool
}

func (a *activation) send(pcm []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	if a.rec == nil {
		if len(a.pending) < maxPendingChunks {
			a.pending = append(a.pending, append([]byte(nil), pcm...))
		}
		return nil
	}
	return a.rec.SendAudio(pcm)
}

func (a *activation) attach(rec speech.Recognition) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false, nil
	}
	a.rec = rec
	pending := a.pending
	a.pending = nil
	for _, chunk := range pending {
		if err := rec.SendAudio(chunk); err != nil {
			return true, err
		}
	}
	return true, nil
}

func (a *activation) close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	rec := a.rec
	a.pending = nil
	a.mu.Unlock()

	a.cancel()
	if rec != nil {
		_ = rec.Close()
	}
}

// StartListening begins a recognition activation, replacing any running
// one. The recognizer connects in the background; audio fed meanwhile is
// queued.
func (o *Orchestrator) StartListening(ctx context.Context) {
	if o.recognizer == nil || !o.recognizer.Available() {
		o.update(func(s *State) { s.LastError = speech.UnavailableMessage })
		return
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	previous := o.listen
	o.nextListenID++
	dialCtx, cancel := context.WithCancel(ctx)
	act := &activation{id: o.nextListenID, cancel: cancel}
	o.listen = act
	o.machine.OnListenStart()
	o.updateLocked(func(s *State) { s.PartialTranscript = "" })
	o.wg.Add(1)
	o.mu.Unlock()

	if previous != nil {
		previous.close()
	}

	go func() {
		defer o.wg.Done()
		o.runActivation(dialCtx, act)
	}()
}

// FeedAudio forwards PCM16 audio to the running activation. Audio is
// dropped when nothing is listening.
func (o *Orchestrator) FeedAudio(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	o.mu.Lock()
	act := o.listen
	o.mu.Unlock()
	if act == nil {
		return
	}
	if err := act.send(pcm); err != nil {
		o.logger.Debug("recognizer audio dropped", zap.Error(err))
	}
}

// StopListening cancels the running activation. The draft input is kept.
func (o *Orchestrator) StopListening() {
	o.mu.Lock()
	act := o.listen
	o.listen = nil
	o.machine.OnListenStop()
	o.updateLocked(func(s *State) { s.PartialTranscript = "" })
	o.mu.Unlock()

	if act != nil {
		act.close()
	}
}

func (o *Orchestrator) runActivation(ctx context.Context, act *activation) {
	rec, err := o.recognizer.Start(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			o.finishActivation(act, func(s *State) { s.PartialTranscript = "" })
			return
		}
		message := speech.ReasonOf(err).Message()
		if errors.Is(err, speech.ErrUnavailable) {
			message = speech.UnavailableMessage
		}
		o.logger.Warn("recognizer start failed", zap.Error(err))
		o.finishActivation(act, func(s *State) {
			s.LastError = message
			s.PartialTranscript = ""
		})
		return
	}

	attached, err := act.attach(rec)
	if !attached {
		_ = rec.Close()
		return
	}
	if err != nil {
		o.logger.Debug("queued audio flush failed", zap.Error(err))
	}

	for ev := range rec.Events() {
		if !o.isCurrent(act) {
			return
		}
		switch ev.Kind {
		case speech.RecognitionListening:
			o.mu.Lock()
			if o.listen == act {
				o.machine.OnListenStart()
				o.updateLocked(nil)
			}
			o.mu.Unlock()

		case speech.RecognitionPartial:
			text := ev.Text
			o.mu.Lock()
			if o.listen == act {
				o.updateLocked(func(s *State) { s.PartialTranscript = text })
			}
			o.mu.Unlock()

		case speech.RecognitionResult:
			text := ev.Text
			if o.finishActivation(act, func(s *State) {
				s.DraftInput = text
				s.PartialTranscript = ""
			}) {
				o.Submit(text)
			}
			return

		case speech.RecognitionError:
			message := ev.Reason.Message()
			o.finishActivation(act, func(s *State) {
				s.LastError = message
				s.PartialTranscript = ""
			})
			return

		case speech.RecognitionIdle:
			o.finishActivation(act, nil)
			return
		}
	}
	o.finishActivation(act, nil)
}

func (o *Orchestrator) isCurrent(act *activation) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.listen == act
}

// finishActivation ends act if it is still current and reports whether it
// was.
func (o *Orchestrator) finishActivation(act *activation, fn func(*State)) bool {
	o.mu.Lock()
	if o.listen != act {
		o.mu.Unlock()
		return false
	}
	o.listen = nil
	o.machine.OnListenStop()
	o.updateLocked(fn)
	o.mu.Unlock()

	act.close()
	return true
}
