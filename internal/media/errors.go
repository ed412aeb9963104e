package media

import "errors"

var (
	ErrUnknownRef      = errors.New("unknown media reference")
	ErrUnsupportedKind = errors.New("unsupported media type")
	ErrUnreadableImage = errors.New("Không thể đọc hình ảnh")
	ErrUnreadableVideo = errors.New("Không thể đọc video")
	ErrNoFrames        = errors.New("Không thể trích xuất khung hình từ video")
)
