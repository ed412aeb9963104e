// Package media stores user uploads and prepares them for the model.
package media

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Kind distinguishes image and video uploads.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

var refPattern = regexp.MustCompile(`^(img|vid)_[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// Library keeps uploaded files on disk and hands out opaque references.
type Library struct {
	dir string
}

// NewLibrary creates the media directory if needed.
func NewLibrary(dir string) (*Library, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &Library{dir: dir}, nil
}

// KindOf returns the kind a reference points to.
func KindOf(ref string) (Kind, bool) {
	if !refPattern.MatchString(ref) {
		return "", false
	}
	if strings.HasPrefix(ref, "img_") {
		return KindImage, true
	}
	return KindVideo, true
}

// DetectKind classifies an upload from its content type or file name.
func DetectKind(contentType string, filename string) (Kind, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType == "application/octet-stream" {
		mediaType = mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	}
	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return KindImage, nil
	case strings.HasPrefix(mediaType, "video/"):
		return KindVideo, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedKind, contentType)
	}
}

// Save copies the upload into the library and returns its reference.
func (l *Library) Save(kind Kind, filename string, r io.Reader) (string, error) {
	var prefix string
	switch kind {
	case KindImage:
		prefix = "img_"
	case KindVideo:
		prefix = "vid_"
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
	}

	ref := prefix + uuid.NewString()
	ext := sanitizeExt(filepath.Ext(filename))
	path := filepath.Join(l.dir, ref+ext)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create media file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write media file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close media file: %w", err)
	}
	return ref, nil
}

// Path resolves a reference to the stored file.
func (l *Library) Path(ref string) (string, error) {
	if _, ok := KindOf(ref); !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRef, ref)
	}
	matches, err := filepath.Glob(filepath.Join(l.dir, ref+"*"))
	if err != nil {
		return "", err
	}
	for _, match := range matches {
		base := filepath.Base(match)
		if base == ref || strings.TrimSuffix(base, filepath.Ext(base)) == ref {
			return match, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRef, ref)
}

func sanitizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if len(ext) > 8 {
		return ""
	}
	for _, r := range strings.TrimPrefix(ext, ".") {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
