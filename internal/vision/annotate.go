package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	ColorVerified = color.RGBA{R: 0, G: 200, B: 0, A: 255}
	ColorMismatch = color.RGBA{R: 220, G: 0, B: 0, A: 255}
	labelText     = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

const boxThickness = 3

// Clone returns a copy with its own pixel buffer.
func Clone(img *image.RGBA) *image.RGBA {
	if img == nil {
		return nil
	}
	out := image.NewRGBA(img.Bounds())
	copy(out.Pix, img.Pix)
	return out
}

// Annotate draws one box and its label onto a copy of img.
func Annotate(img *image.RGBA, box image.Rectangle, label string, c color.RGBA) *image.RGBA {
	out := Clone(img)
	if out == nil {
		return nil
	}

	box = box.Canon().Intersect(out.Bounds())
	if box.Empty() {
		return out
	}

	drawOutline(out, box, c)
	drawLabel(out, box, label, c)
	return out
}

func drawOutline(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	src := image.NewUniform(c)
	t := min(boxThickness, r.Dx(), r.Dy())
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t),
		image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y),
		image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(img, e, src, image.Point{}, draw.Src)
	}
}

func drawLabel(img *image.RGBA, box image.Rectangle, label string, c color.RGBA) {
	if label == "" {
		return
	}

	face := basicfont.Face7x13
	d := &font.Drawer{Dst: img, Src: image.NewUniform(labelText), Face: face}
	width := d.MeasureString(label).Ceil()
	height := face.Height

	top := box.Min.Y - height - 2
	if top < img.Bounds().Min.Y {
		top = box.Min.Y
	}
	bg := image.Rect(box.Min.X, top, box.Min.X+width+4, top+height+2).Intersect(img.Bounds())
	draw.Draw(img, bg, image.NewUniform(c), image.Point{}, draw.Src)

	d.Dot = fixed.P(box.Min.X+2, top+face.Ascent+1)
	d.DrawString(label)
}

func Label(id string, confidence float64) string {
	return fmt.Sprintf("%s %.2f", id, confidence)
}

func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if img == nil {
		return nil, ErrEmptyFrame
	}
	if quality <= 0 {
		quality = 80
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}
