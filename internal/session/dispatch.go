package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/xiaoai/assistant/internal/conversation"
	"github.com/xiaoai/assistant/internal/gemini"
	"github.com/xiaoai/assistant/internal/media"
)

// turn is everything a dispatch needs, captured when the user submits.
type turn struct {
	user     conversation.Message
	history  []conversation.Message
	imageRef string
	videoRef string
	epoch    uint64
}

// Submit sends text, or the draft input when text is empty, together with
// the pending attachment. Blank input is ignored. It reports whether a
// dispatch was started.
func (o *Orchestrator) Submit(text string) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	if text == "" {
		text = o.state.DraftInput
	}
	if strings.TrimSpace(text) == "" {
		o.mu.Unlock()
		return false
	}

	imageRef := o.state.PendingImageRef
	videoRef := o.state.PendingVideoRef
	user := conversation.NewUserMessage(text, imageRef, videoRef)
	o.store.Append(user)
	o.store.Append(conversation.NewPendingAssistantMessage())
	history := o.store.History()

	o.machine.OnProcessingStart()
	o.updateLocked(func(s *State) {
		s.DraftInput = ""
		s.PendingImageRef = ""
		s.PendingVideoRef = ""
	})
	o.wg.Add(1)
	epoch := o.logEpoch
	o.mu.Unlock()

	t := turn{
		user:     user,
		history:  history[:len(history)-2],
		imageRef: imageRef,
		videoRef: videoRef,
		epoch:    epoch,
	}
	go func() {
		defer o.wg.Done()
		o.dispatch(t)
	}()
	return true
}

func (o *Orchestrator) dispatch(t turn) {
	ctx, span := tracer.Start(context.Background(), "session dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.Bool("request.image", t.imageRef != ""),
		attribute.Bool("request.video", t.videoRef != ""),
		attribute.Int("request.history", len(t.history)),
	)

	started := time.Now()
	reply, err := o.complete(ctx, t)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.Warn("dispatch failed",
			zap.Bool("image", t.imageRef != ""),
			zap.Bool("video", t.videoRef != ""),
			zap.Duration("elapsed", time.Since(started)),
			zap.Error(err),
		)
	} else {
		o.logger.Info("dispatch completed",
			zap.Int("reply_chars", len(reply)),
			zap.Duration("elapsed", time.Since(started)),
		)
	}
	o.apply(t, reply, err)
}

// complete picks the model capability: image, then video, then text.
func (o *Orchestrator) complete(ctx context.Context, t turn) (string, error) {
	question := t.user.Content
	switch {
	case t.imageRef != "":
		frame, err := o.loader.LoadImage(ctx, t.imageRef)
		if err != nil {
			return "", err
		}
		return o.model.CompleteWithImage(ctx, frame, question)

	case t.videoRef != "":
		frames, err := o.loader.ExtractVideoFrames(ctx, t.videoRef, o.frameCount)
		if err != nil {
			return "", err
		}
		return o.model.CompleteWithVideo(ctx, frames, question)

	default:
		return o.model.CompleteText(ctx, question, t.history)
	}
}

func (o *Orchestrator) apply(t turn, reply string, err error) {
	defer o.endProcessing()

	o.mu.Lock()
	if t.epoch != o.logEpoch {
		o.mu.Unlock()
		o.logger.Debug("reply dropped, conversation was replaced")
		return
	}
	if err != nil {
		o.store.ReplaceTail(conversation.NewAssistantMessage("Lỗi: " + failureMessage(err)))
		o.mu.Unlock()
		return
	}
	answer := conversation.NewAssistantMessage(reply)
	o.store.ReplaceTail(answer)
	historyUID := o.historyUID
	voice := o.state.VoiceOutputEnabled && !o.closed
	o.mu.Unlock()

	o.archiveExchange(t.epoch, historyUID, t.user, answer)
	if voice {
		o.speak(reply)
	}
}

func (o *Orchestrator) endProcessing() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.machine.OnProcessingEnd()
	o.updateLocked(nil)
}

func (o *Orchestrator) archiveExchange(epoch uint64, historyUID string, user conversation.Message, answer conversation.Message) {
	if o.archive == nil {
		return
	}

	if historyUID == "" {
		created, err := o.archive.Create()
		if err != nil {
			o.logger.Warn("history create failed", zap.Error(err))
			return
		}
		o.mu.Lock()
		if epoch != o.logEpoch {
			o.mu.Unlock()
			return
		}
		if o.historyUID == "" {
			o.historyUID = created
		}
		historyUID = o.historyUID
		o.mu.Unlock()
	}

	if err := o.archive.Append(historyUID, user, answer); err != nil {
		o.logger.Warn("history append failed", zap.String("history_uid", historyUID), zap.Error(err))
	}
}

var userFacingErrors = []error{
	media.ErrUnreadableImage,
	media.ErrUnreadableVideo,
	media.ErrNoFrames,
	gemini.ErrMissingAPIKey,
}

const missingAttachmentMessage = "Không tìm thấy tệp đính kèm"

// failureMessage strips wrapping detail from known failures.
func failureMessage(err error) string {
	if errors.Is(err, media.ErrUnknownRef) {
		return missingAttachmentMessage
	}
	for _, known := range userFacingErrors {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return err.Error()
}
