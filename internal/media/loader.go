package media

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
)

// LoaderConfig bounds the frames handed to the model.
type LoaderConfig struct {
	ImageMaxDim      int
	VideoFrameMaxDim int
	Workers          int
}

// Loader turns media references into model-ready frames.
type Loader struct {
	library *Library
	source  FrameSource
	cfg     LoaderConfig
	logger  *zap.Logger
}

// NewLoader builds a loader. A nil source disables video support.
func NewLoader(library *Library, source FrameSource, cfg LoaderConfig, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ImageMaxDim <= 0 {
		cfg.ImageMaxDim = 1024
	}
	if cfg.VideoFrameMaxDim <= 0 {
		cfg.VideoFrameMaxDim = 512
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	return &Loader{library: library, source: source, cfg: cfg, logger: logger}
}

// LoadImage decodes an image upload.
func (l *Loader) LoadImage(ctx context.Context, ref string) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	path, err := l.pathFor(ref, KindImage)
	if err != nil {
		return Frame{}, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrUnreadableImage, err)
	}
	return decodeFrame(raw, l.cfg.ImageMaxDim)
}

// ExtractVideoFrames samples count frames from a video upload.
func (l *Loader) ExtractVideoFrames(ctx context.Context, ref string, count int) ([]Frame, error) {
	if count <= 0 {
		return nil, fmt.Errorf("frame count must be positive, got %d", count)
	}
	path, err := l.pathFor(ref, KindVideo)
	if err != nil {
		return nil, err
	}
	if l.source == nil {
		return nil, ErrUnreadableVideo
	}

	frames, failures := extractFrames(ctx, l.source, path, count, l.cfg.VideoFrameMaxDim, l.cfg.Workers)
	for _, failure := range failures {
		if errors.Is(failure, ErrUnreadableVideo) {
			return nil, failure
		}
		l.logger.Warn("video frame skipped", zap.String("ref", ref), zap.Error(failure))
	}
	if len(frames) == 0 {
		return nil, ErrNoFrames
	}
	return frames, nil
}

func (l *Loader) pathFor(ref string, want Kind) (string, error) {
	kind, ok := KindOf(ref)
	if !ok || kind != want {
		return "", fmt.Errorf("%w: %q", ErrUnknownRef, ref)
	}
	return l.library.Path(ref)
}
