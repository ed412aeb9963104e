package session

import (
	"go.uber.org/zap"

	"github.com/xiaoai/assistant/internal/speech"
)

// speak plays text, replacing any running playback.
func (o *Orchestrator) speak(text string) {
	if o.synthesizer == nil || !o.synthesizer.Available() {
		o.logger.Warn("speech output skipped", zap.String("reason", speech.SynthesizerNotReadyMessage))
		return
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	previous := o.playback
	o.playback = nil
	o.playbackID++
	id := o.playbackID
	o.machine.OnSpeakStart()
	o.updateLocked(nil)
	o.wg.Add(1)
	o.mu.Unlock()

	if previous != nil {
		_ = previous.Stop()
	}

	go func() {
		defer o.wg.Done()
		o.runPlayback(id, text)
	}()
}

func (o *Orchestrator) runPlayback(id uint64, text string) {
	playback, err := o.synthesizer.Speak(o.speechCtx, text)
	if err != nil {
		o.logger.Warn("speech output failed", zap.Error(err))
		o.endPlayback(id)
		return
	}

	o.mu.Lock()
	if o.playbackID != id {
		o.mu.Unlock()
		_ = playback.Stop()
		return
	}
	o.playback = playback
	o.mu.Unlock()

	for ev := range playback.Events() {
		if ev.Kind == speech.SpeechError {
			o.logger.Warn("speech output error", zap.String("message", ev.Message))
		}
		if ev.Terminal() {
			break
		}
	}
	_ = playback.Stop()
	o.endPlayback(id)
}

func (o *Orchestrator) endPlayback(id uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.playbackID != id {
		return
	}
	o.playback = nil
	o.machine.OnSpeakStop()
	o.updateLocked(nil)
}

// StopSpeaking interrupts playback and clears the speaking flag at once.
func (o *Orchestrator) StopSpeaking() {
	o.mu.Lock()
	playback := o.playback
	o.playback = nil
	o.playbackID++
	o.machine.OnSpeakStop()
	o.updateLocked(nil)
	o.mu.Unlock()

	if playback != nil {
		_ = playback.Stop()
	}
}
