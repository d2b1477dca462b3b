package vision

import (
	"errors"
	"time"
)

var (
	ErrEmptyFrame        = errors.New("empty frame data")
	ErrUnsupportedFormat = errors.New("unsupported frame format")
	ErrFrameSizeMismatch = errors.New("frame data does not match declared dimensions")
	ErrInvalidDimensions = errors.New("invalid frame dimensions")
)

// PixelFormat is the declared layout of an incoming frame. Channel order is
// taken from the declaration only.
type PixelFormat string

const (
	FormatRGB24  PixelFormat = "rgb24"
	FormatBGR24  PixelFormat = "bgr24"
	FormatRGBA32 PixelFormat = "rgba32"
	FormatJPEG   PixelFormat = "jpeg"
	FormatPNG    PixelFormat = "png"
	FormatVP8    PixelFormat = "vp8"
)

func (f PixelFormat) Valid() bool {
	switch f {
	case FormatRGB24, FormatBGR24, FormatRGBA32, FormatJPEG, FormatPNG, FormatVP8:
		return true
	}
	return false
}

// Raw reports whether the format carries bare pixels with explicit dimensions.
func (f PixelFormat) Raw() bool {
	return f == FormatRGB24 || f == FormatBGR24 || f == FormatRGBA32
}

type RawFrame struct {
	Data   []byte
	Width  int
	Height int
	Format PixelFormat
}

type StoreConfig struct {
	FrameTTL  time.Duration
	MaxFrames int64
}

// Snapshot is an annotated frame kept for a stream session.
type Snapshot struct {
	SessionID  string  `json:"session_id"`
	Timestamp  int64   `json:"timestamp"`
	Data       []byte  `json:"data"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Status     string  `json:"status"`
	DetectedID string  `json:"detected_id"`
	Confidence float64 `json:"confidence"`
}
