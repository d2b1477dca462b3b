package match

import (
	"image"
	"image/color"
	"testing"

	"github.com/eleven-am/medverify/internal/detector"
	"github.com/eleven-am/medverify/internal/vision"
)

func det(id int, label string, conf float64) detector.Detection {
	return detector.Detection{
		ClassID:    id,
		ClassLabel: label,
		Confidence: conf,
		Box:        detector.Box{X1: 10, Y1: 20, X2: 40, Y2: 50},
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name       string
		dets       []detector.Detection
		target     string
		restrict   []int
		wantID     string
		wantConf   float64
		wantStatus Status
		wantCount  int
	}{
		{
			name:       "no detections",
			dets:       nil,
			target:     "drug_a",
			wantID:     NoDetection,
			wantStatus: StatusMismatch,
		},
		{
			name:       "single match",
			dets:       []detector.Detection{det(0, "drug_a", 0.9)},
			target:     "drug_a",
			wantID:     "drug_a",
			wantConf:   0.9,
			wantStatus: StatusVerified,
			wantCount:  1,
		},
		{
			name:       "highest confidence wins",
			dets:       []detector.Detection{det(0, "drug_a", 0.5), det(1, "drug_b", 0.8)},
			target:     "drug_a",
			wantID:     "drug_b",
			wantConf:   0.8,
			wantStatus: StatusMismatch,
			wantCount:  2,
		},
		{
			name:       "tie keeps first",
			dets:       []detector.Detection{det(1, "drug_b", 0.7), det(0, "drug_a", 0.7)},
			target:     "drug_a",
			wantID:     "drug_b",
			wantConf:   0.7,
			wantStatus: StatusMismatch,
			wantCount:  2,
		},
		{
			name:       "restriction filters classes",
			dets:       []detector.Detection{det(5, "bottle", 0.95), det(0, "drug_a", 0.6)},
			target:     "drug_a",
			restrict:   []int{0, 1},
			wantID:     "drug_a",
			wantConf:   0.6,
			wantStatus: StatusVerified,
			wantCount:  2,
		},
		{
			name:       "restriction removes everything",
			dets:       []detector.Detection{det(5, "bottle", 0.95)},
			target:     "drug_a",
			restrict:   []int{0},
			wantID:     NoDetection,
			wantStatus: StatusMismatch,
			wantCount:  1,
		},
		{
			name:       "empty restriction excludes all",
			dets:       []detector.Detection{det(0, "drug_a", 0.9)},
			target:     "drug_a",
			restrict:   []int{},
			wantID:     NoDetection,
			wantStatus: StatusMismatch,
			wantCount:  1,
		},
		{
			name:       "target none never verifies",
			dets:       nil,
			target:     NoDetection,
			wantID:     NoDetection,
			wantStatus: StatusMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := Evaluate(tt.dets, tt.target, tt.restrict)
			if ev.DetectedID != tt.wantID {
				t.Errorf("expected detected id %q, got %q", tt.wantID, ev.DetectedID)
			}
			if ev.Confidence != tt.wantConf {
				t.Errorf("expected confidence %v, got %v", tt.wantConf, ev.Confidence)
			}
			if ev.Status != tt.wantStatus {
				t.Errorf("expected status %s, got %s", tt.wantStatus, ev.Status)
			}
			if ev.Count != tt.wantCount {
				t.Errorf("expected count %d, got %d", tt.wantCount, ev.Count)
			}
			if (ev.Record == nil) != (tt.wantID == NoDetection) {
				t.Errorf("record presence mismatch: %+v", ev.Record)
			}
		})
	}
}

func TestEvaluate_DoesNotMutateInput(t *testing.T) {
	dets := []detector.Detection{det(1, "drug_b", 0.3), det(0, "drug_a", 0.9)}
	before := append([]detector.Detection(nil), dets...)

	ev := Evaluate(dets, "drug_a", nil)
	ev.Record.Confidence = 0

	for i := range dets {
		if dets[i] != before[i] {
			t.Errorf("input %d changed: %+v", i, dets[i])
		}
	}
}

func TestRender(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))

	t.Run("no record returns untouched copy", func(t *testing.T) {
		out := Render(img, Evaluation{DetectedID: NoDetection, Status: StatusMismatch})
		if out == img {
			t.Fatal("expected a copy")
		}
		for i, v := range out.Pix {
			if v != img.Pix[i] {
				t.Fatalf("pixel byte %d changed", i)
			}
		}
	})

	tests := []struct {
		name   string
		status Status
		want   color.RGBA
	}{
		{"verified is green", StatusVerified, vision.ColorVerified},
		{"mismatch is red", StatusMismatch, vision.ColorMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := det(0, "drug_a", 0.9)
			out := Render(img, Evaluation{DetectedID: "drug_a", Confidence: 0.9, Status: tt.status, Record: &d})
			got := out.RGBAAt(10, 49)
			if got != tt.want {
				t.Errorf("expected box color %v, got %v", tt.want, got)
			}
			if img.RGBAAt(10, 49) != (color.RGBA{}) {
				t.Error("source image was modified")
			}
		})
	}
}

func TestRenderAs(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	d := det(0, "drug_a", 0.9)
	ev := Evaluation{DetectedID: "drug_a", Confidence: 0.9, Status: StatusSkipped, Record: &d}

	if got := RenderAs(img, ev, true).RGBAAt(10, 49); got != vision.ColorVerified {
		t.Errorf("expected verified color, got %v", got)
	}
	if got := RenderAs(img, ev, false).RGBAAt(10, 49); got != vision.ColorMismatch {
		t.Errorf("expected mismatch color, got %v", got)
	}
}
