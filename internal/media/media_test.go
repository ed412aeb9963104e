package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestLibrarySaveAndResolve(t *testing.T) {
	lib, err := NewLibrary(t.TempDir())
	if err != nil {
		t.Fatalf("NewLibrary: %v", err)
	}

	ref, err := lib.Save(KindImage, "photo.PNG", bytes.NewReader(pngBytes(t, 4, 4)))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !strings.HasPrefix(ref, "img_") {
		t.Fatalf("ref=%q, want img_ prefix", ref)
	}
	if kind, ok := KindOf(ref); !ok || kind != KindImage {
		t.Fatalf("KindOf(%q)=%s,%v", ref, kind, ok)
	}

	path, err := lib.Path(ref)
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	if !strings.HasSuffix(path, ref+".png") {
		t.Fatalf("path=%q", path)
	}
}

func TestLibraryRejectsUnknownRefs(t *testing.T) {
	lib, err := NewLibrary(t.TempDir())
	if err != nil {
		t.Fatalf("NewLibrary: %v", err)
	}
	for _, ref := range []string{"", "../etc/passwd", "img_nothex", "vid_00000000-0000-0000-0000-000000000000"} {
		if _, err := lib.Path(ref); !errors.Is(err, ErrUnknownRef) {
			t.Fatalf("Path(%q) err=%v, want ErrUnknownRef", ref, err)
		}
	}
}

func TestDetectKind(t *testing.T) {
	cases := []struct {
		contentType string
		filename    string
		want        Kind
		wantErr     bool
	}{
		{"image/jpeg", "a.jpg", KindImage, false},
		{"video/mp4", "a.mp4", KindVideo, false},
		{"application/octet-stream", "clip.mp4", KindVideo, false},
		{"", "pic.png", KindImage, false},
		{"text/plain", "notes.txt", "", true},
	}
	for _, tc := range cases {
		got, err := DetectKind(tc.contentType, tc.filename)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("DetectKind(%q,%q) err=nil, want error", tc.contentType, tc.filename)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("DetectKind(%q,%q)=%s,%v, want %s", tc.contentType, tc.filename, got, err, tc.want)
		}
	}
}

func TestDecodeFrameDownscalesKeepingAspect(t *testing.T) {
	frame, err := decodeFrame(pngBytes(t, 2048, 1024), 1024)
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}
	if frame.Width != 1024 || frame.Height != 512 {
		t.Fatalf("size=%dx%d, want 1024x512", frame.Width, frame.Height)
	}
	if frame.MIMEType != "image/jpeg" || len(frame.Data) == 0 {
		t.Fatalf("frame=%s/%d bytes", frame.MIMEType, len(frame.Data))
	}

	portrait, err := decodeFrame(pngBytes(t, 300, 900), 512)
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}
	if portrait.Width != 170 || portrait.Height != 512 {
		t.Fatalf("size=%dx%d, want 170x512", portrait.Width, portrait.Height)
	}
}

func TestDecodeFrameKeepsSmallImages(t *testing.T) {
	frame, err := decodeFrame(pngBytes(t, 64, 32), 1024)
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}
	if frame.Width != 64 || frame.Height != 32 {
		t.Fatalf("size=%dx%d, want 64x32", frame.Width, frame.Height)
	}
}

func TestDecodeFrameRejectsGarbage(t *testing.T) {
	_, err := decodeFrame([]byte("not an image"), 1024)
	if !errors.Is(err, ErrUnreadableImage) {
		t.Fatalf("err=%v, want ErrUnreadableImage", err)
	}
}

func TestOrientRotates(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 3, 2))
	marker := color.RGBA{R: 255, A: 255}
	src.Set(0, 0, marker)

	rotated := orient(src, 6)
	if b := rotated.Bounds(); b.Dx() != 2 || b.Dy() != 3 {
		t.Fatalf("bounds=%v, want 2x3", b)
	}
	if got := color.RGBAModel.Convert(rotated.At(1, 0)); got != marker {
		t.Fatalf("top-right=%v, want marker", got)
	}

	flipped := orient(src, 3)
	if got := color.RGBAModel.Convert(flipped.At(2, 1)); got != marker {
		t.Fatalf("bottom-right=%v, want marker", got)
	}

	if orient(src, 1) != image.Image(src) {
		t.Fatal("orientation 1 should return the input")
	}
}

func TestSampleTimes(t *testing.T) {
	got := sampleTimes(60*time.Second, 5)
	want := []time.Duration{10 * time.Second, 20 * time.Second, 30 * time.Second, 40 * time.Second, 50 * time.Second}
	if len(got) != len(want) {
		t.Fatalf("len=%d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("times=%v, want %v", got, want)
		}
	}
}

type fakeSource struct {
	mu       sync.Mutex
	duration time.Duration
	durErr   error
	fail     map[time.Duration]bool
	frame    []byte
	calls    []time.Duration
}

func (f *fakeSource) Duration(context.Context, string) (time.Duration, error) {
	return f.duration, f.durErr
}

func (f *fakeSource) FrameAt(_ context.Context, _ string, at time.Duration) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, at)
	f.mu.Unlock()
	if f.fail[at] {
		return nil, fmt.Errorf("no frame at %s", at)
	}
	return f.frame, nil
}

func newVideoLoader(t *testing.T, source FrameSource) (*Loader, string) {
	t.Helper()
	lib, err := NewLibrary(t.TempDir())
	if err != nil {
		t.Fatalf("NewLibrary: %v", err)
	}
	ref, err := lib.Save(KindVideo, "clip.mp4", strings.NewReader("fake video"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	return NewLoader(lib, source, LoaderConfig{}, nil), ref
}

func TestExtractVideoFramesSkipsFailures(t *testing.T) {
	source := &fakeSource{
		duration: 6 * time.Second,
		fail:     map[time.Duration]bool{2 * time.Second: true},
		frame:    pngBytes(t, 1024, 768),
	}
	loader, ref := newVideoLoader(t, source)

	frames, err := loader.ExtractVideoFrames(context.Background(), ref, 5)
	if err != nil {
		t.Fatalf("ExtractVideoFrames: %v", err)
	}
	if len(frames) != 4 {
		t.Fatalf("frames=%d, want 4", len(frames))
	}
	if frames[0].Width != 512 || frames[0].Height != 384 {
		t.Fatalf("frame size=%dx%d, want 512x384", frames[0].Width, frames[0].Height)
	}
	if len(source.calls) != 5 {
		t.Fatalf("calls=%d, want 5", len(source.calls))
	}
}

func TestExtractVideoFramesZeroDuration(t *testing.T) {
	loader, ref := newVideoLoader(t, &fakeSource{})
	_, err := loader.ExtractVideoFrames(context.Background(), ref, 5)
	if !errors.Is(err, ErrUnreadableVideo) {
		t.Fatalf("err=%v, want ErrUnreadableVideo", err)
	}
}

func TestExtractVideoFramesAllFail(t *testing.T) {
	source := &fakeSource{duration: time.Second, frame: []byte("garbage")}
	loader, ref := newVideoLoader(t, source)
	_, err := loader.ExtractVideoFrames(context.Background(), ref, 5)
	if !errors.Is(err, ErrNoFrames) {
		t.Fatalf("err=%v, want ErrNoFrames", err)
	}
}

func TestLoadImageRejectsVideoRef(t *testing.T) {
	loader, ref := newVideoLoader(t, &fakeSource{})
	if _, err := loader.LoadImage(context.Background(), ref); !errors.Is(err, ErrUnknownRef) {
		t.Fatalf("err=%v, want ErrUnknownRef", err)
	}
}

func TestLoadImage(t *testing.T) {
	lib, err := NewLibrary(t.TempDir())
	if err != nil {
		t.Fatalf("NewLibrary: %v", err)
	}
	ref, err := lib.Save(KindImage, "big.png", bytes.NewReader(pngBytes(t, 1500, 1000)))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	loader := NewLoader(lib, nil, LoaderConfig{}, nil)

	frame, err := loader.LoadImage(context.Background(), ref)
	if err != nil {
		t.Fatalf("LoadImage: %v", err)
	}
	if frame.Width != 1024 || frame.Height != 682 {
		t.Fatalf("size=%dx%d, want 1024x682", frame.Width, frame.Height)
	}
}
