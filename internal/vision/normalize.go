package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"

	"golang.org/x/image/draw"
)

const (
	DefaultMaxSize = 640
	// MaxDimension bounds either side of an incoming frame before decoding.
	MaxDimension = 8192
)

// Normalizer converts frames into the detector's canonical layout: RGBA pixels
// in RGB channel order, origin at (0,0), longest side at most MaxSize.
type Normalizer struct {
	MaxSize int
	vp8     *VP8Decoder
}

func NewNormalizer(maxSize int) *Normalizer {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Normalizer{
		MaxSize: maxSize,
		vp8:     NewVP8Decoder(),
	}
}

func (n *Normalizer) Normalize(raw RawFrame) (*image.RGBA, error) {
	img, err := n.decode(raw)
	if err != nil {
		return nil, err
	}
	return n.NormalizeImage(img), nil
}

func (n *Normalizer) NormalizeImage(img image.Image) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	tw, th := fitWithin(w, h, n.MaxSize)
	dst := image.NewRGBA(image.Rect(0, 0, tw, th))

	if tw == w && th == h {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
		return dst
	}

	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func (n *Normalizer) LoadImageFile(path string) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", path, err)
	}
	if err := checkDimensions(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind image: %w", err)
	}

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", path, err)
	}
	return n.NormalizeImage(img), nil
}

func (n *Normalizer) decode(raw RawFrame) (image.Image, error) {
	if len(raw.Data) == 0 {
		return nil, ErrEmptyFrame
	}

	switch raw.Format {
	case FormatRGB24, FormatBGR24, FormatRGBA32:
		return decodeRaw(raw)
	case FormatJPEG:
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(raw.Data))
		if err != nil {
			return nil, fmt.Errorf("decode jpeg: %w", err)
		}
		if err := checkDimensions(cfg.Width, cfg.Height); err != nil {
			return nil, err
		}
		img, err := jpeg.Decode(bytes.NewReader(raw.Data))
		if err != nil {
			return nil, fmt.Errorf("decode jpeg: %w", err)
		}
		return img, nil
	case FormatPNG:
		cfg, err := png.DecodeConfig(bytes.NewReader(raw.Data))
		if err != nil {
			return nil, fmt.Errorf("decode png: %w", err)
		}
		if err := checkDimensions(cfg.Width, cfg.Height); err != nil {
			return nil, err
		}
		img, err := png.Decode(bytes.NewReader(raw.Data))
		if err != nil {
			return nil, fmt.Errorf("decode png: %w", err)
		}
		return img, nil
	case FormatVP8:
		vp := n.vp8
		if vp == nil {
			vp = NewVP8Decoder()
		}
		return vp.Decode(raw.Data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, raw.Format)
	}
}

func checkDimensions(w, h int) error {
	if w <= 0 || h <= 0 || w > MaxDimension || h > MaxDimension {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, w, h)
	}
	return nil
}

func decodeRaw(raw RawFrame) (*image.RGBA, error) {
	if err := checkDimensions(raw.Width, raw.Height); err != nil {
		return nil, err
	}

	channels := 3
	if raw.Format == FormatRGBA32 {
		channels = 4
	}

	pixels := raw.Width * raw.Height
	if len(raw.Data) != pixels*channels {
		return nil, fmt.Errorf("%w: got %d bytes for %dx%d %s", ErrFrameSizeMismatch, len(raw.Data), raw.Width, raw.Height, raw.Format)
	}

	img := image.NewRGBA(image.Rect(0, 0, raw.Width, raw.Height))
	if raw.Format == FormatRGBA32 {
		copy(img.Pix, raw.Data)
		return img, nil
	}

	// Red and blue swap here, once, for BGR sources.
	r, b := 0, 2
	if raw.Format == FormatBGR24 {
		r, b = 2, 0
	}

	for i := 0; i < pixels; i++ {
		src := raw.Data[i*3 : i*3+3]
		dst := img.Pix[i*4 : i*4+4]
		dst[0] = src[r]
		dst[1] = src[1]
		dst[2] = src[b]
		dst[3] = 0xff
	}
	return img, nil
}

func fitWithin(w, h, limit int) (int, int) {
	if limit <= 0 || (w <= limit && h <= limit) {
		return w, h
	}

	if w >= h {
		nh := (h*limit + w/2) / w
		return limit, atLeastOne(nh)
	}
	nw := (w*limit + h/2) / h
	return atLeastOne(nw), limit
}

func atLeastOne(v int) int {
	if v < 1 {
		return 1
	}
	return v
}

// FrameFromImage packs a normalized image back into a raw RGBA32 frame.
func FrameFromImage(img *image.RGBA) RawFrame {
	b := img.Bounds()
	data := make([]byte, b.Dx()*b.Dy()*4)
	for y := 0; y < b.Dy(); y++ {
		start := img.PixOffset(b.Min.X, b.Min.Y+y)
		copy(data[y*b.Dx()*4:], img.Pix[start:start+b.Dx()*4])
	}
	return RawFrame{
		Data:   data,
		Width:  b.Dx(),
		Height: b.Dy(),
		Format: FormatRGBA32,
	}
}
