package detector

import (
	"context"
	"errors"
	"image"
	"time"
)

var (
	ErrNoModel        = errors.New("no model candidate could be loaded")
	ErrModelNotLoaded = errors.New("model not loaded")
)

type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

type Detection struct {
	ClassID    int     `json:"class_id"`
	ClassLabel string  `json:"class_label"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"bounding_box"`
}

// Backend is the opaque pretrained detector. Predict returns detections in the
// detector's own ranking, which callers treat as stable.
type Backend interface {
	Load(ctx context.Context, path string) ([]string, error)
	Predict(ctx context.Context, img image.Image, confidence float64, classes []int) ([]Detection, error)
}

type Config struct {
	Candidates []string
	InputSize  int
	Serialize  bool
	Timeout    time.Duration
}
