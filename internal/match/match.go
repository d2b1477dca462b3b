package match

import (
	"image"

	"github.com/eleven-am/medverify/internal/detector"
	"github.com/eleven-am/medverify/internal/vision"
)

type Status string

const (
	StatusVerified Status = "VERIFIED"
	StatusMismatch Status = "MISMATCH"
	StatusSkipped  Status = "SKIPPED"
	StatusError    Status = "ERROR"
)

// NoDetection is reported as the detected id when no record survives selection.
const NoDetection = "none"

type Evaluation struct {
	DetectedID string              `json:"detected_id"`
	Confidence float64             `json:"confidence"`
	Status     Status              `json:"status"`
	Record     *detector.Detection `json:"record,omitempty"`
	Count      int                 `json:"count"`
}

func (e Evaluation) Verified() bool {
	return e.Status == StatusVerified
}

// Evaluate picks the highest-confidence detection, restricted to the given
// class ids when restrictedTo is non-nil, and compares its label to targetID.
// Ties keep the detector's order. Inputs are never reordered or mutated.
func Evaluate(dets []detector.Detection, targetID string, restrictedTo []int) Evaluation {
	ev := Evaluation{
		DetectedID: NoDetection,
		Status:     StatusMismatch,
		Count:      len(dets),
	}

	var allowed map[int]struct{}
	if restrictedTo != nil {
		allowed = make(map[int]struct{}, len(restrictedTo))
		for _, id := range restrictedTo {
			allowed[id] = struct{}{}
		}
	}

	best := -1
	for i := range dets {
		if allowed != nil {
			if _, ok := allowed[dets[i].ClassID]; !ok {
				continue
			}
		}
		if best < 0 || dets[i].Confidence > dets[best].Confidence {
			best = i
		}
	}
	if best < 0 {
		return ev
	}

	rec := dets[best]
	ev.Record = &rec
	ev.DetectedID = rec.ClassLabel
	ev.Confidence = rec.Confidence
	if targetID != "" && rec.ClassLabel == targetID {
		ev.Status = StatusVerified
	}
	return ev
}

// Render draws the selected record onto a copy of img. Without a record the
// copy is returned untouched.
func Render(img *image.RGBA, ev Evaluation) *image.RGBA {
	if ev.Record == nil {
		return vision.Clone(img)
	}

	c := vision.ColorMismatch
	if ev.Status == StatusVerified {
		c = vision.ColorVerified
	}
	return vision.Annotate(img, ev.Record.Box.Rect(), vision.Label(ev.DetectedID, ev.Confidence), c)
}

// RenderAs re-annotates a cached evaluation onto a new frame, coloring by the
// verdict the evaluation carried when it was computed.
func RenderAs(img *image.RGBA, ev Evaluation, verified bool) *image.RGBA {
	if verified {
		ev.Status = StatusVerified
	} else {
		ev.Status = StatusMismatch
	}
	return Render(img, ev)
}
