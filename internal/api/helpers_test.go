package api

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/eleven-am/medverify/internal/detector"
	"github.com/eleven-am/medverify/internal/inventory"
	"github.com/eleven-am/medverify/internal/ledger"
	"github.com/eleven-am/medverify/internal/pipeline"
	"github.com/eleven-am/medverify/internal/vision"
)

type fakeDetector struct {
	mu    sync.Mutex
	dets  []detector.Detection
	calls int
}

func (f *fakeDetector) Infer(ctx context.Context, img image.Image, confidence float64, classes []int) ([]detector.Detection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.dets, nil
}

func (f *fakeDetector) Source() string {
	return "models/best.pt"
}

func (f *fakeDetector) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testInventory(t *testing.T) *inventory.Inventory {
	t.Helper()
	inv, err := inventory.New(map[string]inventory.Entry{
		"drug_a": {Name: "Drug A", Dose: "10mg"},
		"drug_b": {Name: "Drug B", Dose: "20mg"},
	})
	if err != nil {
		t.Fatalf("inventory.New failed: %v", err)
	}
	return inv
}

func testLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := ledger.New(filepath.Join(t.TempDir(), "logs", "audit_trail.csv"), nil)
	if err != nil {
		t.Fatalf("ledger.New failed: %v", err)
	}
	return l
}

func testPipeline(det pipeline.Detector, l *ledger.Ledger, inv *inventory.Inventory) *pipeline.Pipeline {
	return pipeline.New(det, vision.NewNormalizer(64), ledger.NewRecorder(l, nil, testLogger()), inv,
		pipeline.Config{LogFloor: pipeline.DefaultLogFloor}, testLogger())
}

func detection(label string, conf float64) detector.Detection {
	return detector.Detection{
		ClassID:    1,
		ClassLabel: label,
		Confidence: conf,
		Box:        detector.Box{X1: 2, Y1: 2, X2: 12, Y2: 12},
	}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// multipartRequest builds a POST with the given form fields and, when file
// is non-nil, a "file" part.
func multipartRequest(t *testing.T, target string, fields map[string]string, file []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if file != nil {
		part, err := mw.CreateFormFile("file", "pill.png")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		part.Write(file)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}
