package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/eleven-am/medverify/internal/detector"
	"github.com/eleven-am/medverify/internal/ledger"
	"github.com/eleven-am/medverify/internal/match"
	"github.com/eleven-am/medverify/internal/vision"
)

const (
	DefaultLogFloor         = 0.60
	DefaultDetectConfidence = 0.25
)

var ErrNoTarget = errors.New("target id is required")

type Detector interface {
	Infer(ctx context.Context, img image.Image, confidence float64, classes []int) ([]detector.Detection, error)
	Source() string
}

type Recorder interface {
	Record(ctx context.Context, rec ledger.AuditRecord) error
}

// Catalog resolves medication ids to display names. Unknown ids return "".
type Catalog interface {
	Name(id string) string
}

type Config struct {
	LogFloor         float64
	DetectConfidence float64
	// Restrict returns the class ids inference is narrowed to for a target.
	// A nil func or a nil result runs unrestricted.
	Restrict func(targetID string) []int
}

type Verdict string

const (
	VerdictSafe   Verdict = "SAFE"
	VerdictDanger Verdict = "DANGER"
	VerdictError  Verdict = "ERROR"
)

type Report struct {
	Status     Verdict             `json:"status"`
	Message    string              `json:"message"`
	Audited    *ledger.AuditRecord `json:"audited_record,omitempty"`
	Evaluation *match.Evaluation   `json:"evaluation,omitempty"`
	Frame      *image.RGBA         `json:"-"`
}

type Pipeline struct {
	detector   Detector
	normalizer *vision.Normalizer
	recorder   Recorder
	catalog    Catalog
	cfg        Config
	logger     *slog.Logger
}

func New(det Detector, normalizer *vision.Normalizer, recorder Recorder, catalog Catalog, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if normalizer == nil {
		normalizer = vision.NewNormalizer(vision.DefaultMaxSize)
	}
	if cfg.DetectConfidence <= 0 {
		cfg.DetectConfidence = DefaultDetectConfidence
	}
	return &Pipeline{
		detector:   det,
		normalizer: normalizer,
		recorder:   recorder,
		catalog:    catalog,
		cfg:        cfg,
		logger:     logger.With("component", "pipeline"),
	}
}

// VerifyStaticImage runs one unthrottled verification of the image at path
// and always writes the outcome to the ledger.
func (p *Pipeline) VerifyStaticImage(ctx context.Context, path, targetID string) (report Report) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("static verification panicked", "path", path, "panic", r)
			report = errorReport(fmt.Errorf("internal fault: %v", r))
		}
	}()

	frame, err := p.normalizer.LoadImageFile(path)
	if err != nil {
		return errorReport(err)
	}
	return p.verifyFrame(ctx, frame, targetID)
}

// VerifyImage is VerifyStaticImage for an image that is already decoded.
func (p *Pipeline) VerifyImage(ctx context.Context, img image.Image, targetID string) (report Report) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("static verification panicked", "panic", r)
			report = errorReport(fmt.Errorf("internal fault: %v", r))
		}
	}()
	if img == nil {
		return errorReport(vision.ErrEmptyFrame)
	}
	return p.verifyFrame(ctx, p.normalizer.NormalizeImage(img), targetID)
}

func (p *Pipeline) verifyFrame(ctx context.Context, frame *image.RGBA, targetID string) Report {
	if targetID == "" {
		return errorReport(ErrNoTarget)
	}

	restrict := p.restrict(targetID)
	dets, err := p.infer(ctx, frame, restrict)
	if err != nil {
		p.logger.Error("inference failed", "target_id", targetID, "error", err)
		return errorReport(err)
	}

	ev := match.Evaluate(dets, targetID, restrict)
	report := Report{
		Status:     VerdictDanger,
		Message:    p.message(ev, targetID),
		Evaluation: &ev,
		Frame:      match.Render(frame, ev),
	}
	if ev.Verified() {
		report.Status = VerdictSafe
	}

	rec := ledger.NewRecord(ev.Verified(), report.Message, p.source(), ev.Confidence)
	if err := p.record(ctx, rec); err != nil {
		p.logger.Error("audit append failed", "target_id", targetID, "error", err)
		return report
	}
	report.Audited = &rec
	return report
}

// VerifyStreamFrame handles one live frame. Inference only runs on frames the
// session throttle selects; other frames reuse the last result on the current
// image. Faults never escape: they come back as an ERROR result.
func (p *Pipeline) VerifyStreamFrame(ctx context.Context, state *SessionState, raw vision.RawFrame, targetID string) (res FrameResult) {
	index, run := state.Next()

	var frame *image.RGBA
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("stream frame panicked", "session_id", state.ID, "index", index, "panic", r)
			res = p.errorResult(state, index, frame, fmt.Errorf("internal fault: %v", r))
		}
	}()

	frame, err := p.normalizer.Normalize(raw)
	if err != nil {
		return p.errorResult(state, index, nil, err)
	}

	if !run {
		return p.skipResult(state, index, frame, targetID)
	}

	restrict := p.restrict(targetID)
	dets, err := p.infer(ctx, frame, restrict)
	if err != nil {
		return p.errorResult(state, index, frame, err)
	}

	ev := match.Evaluate(dets, targetID, restrict)
	res = FrameResult{
		Index:      index,
		DetectedID: ev.DetectedID,
		Confidence: ev.Confidence,
		Status:     ev.Status,
		Count:      ev.Count,
		Record:     ev.Record,
		Frame:      match.Render(frame, ev),
	}

	if ev.Record != nil && ledger.Qualifies(ev.Confidence, p.cfg.LogFloor) {
		rec := ledger.NewRecord(ev.Verified(), p.message(ev, targetID), p.source(), ev.Confidence)
		if err := p.record(ctx, rec); err != nil {
			p.logger.Error("audit append failed", "session_id", state.ID, "index", index, "error", err)
		} else {
			res.Audited = true
		}
	}

	state.Remember(res)
	return res
}

func (p *Pipeline) skipResult(state *SessionState, index uint64, frame *image.RGBA, targetID string) FrameResult {
	res := FrameResult{
		Index:      index,
		DetectedID: match.NoDetection,
		Status:     match.StatusSkipped,
		Frame:      vision.Clone(frame),
	}

	if last := state.Last(); last != nil {
		res.DetectedID = last.DetectedID
		res.Confidence = last.Confidence
		res.Count = last.Count
		res.Record = last.Record
		cached := match.Evaluation{
			DetectedID: last.DetectedID,
			Confidence: last.Confidence,
			Record:     last.Record,
		}
		verified := last.Record != nil && last.DetectedID == targetID
		res.Frame = match.RenderAs(frame, cached, verified)
	}

	state.rememberFrame(res.Frame)
	return res
}

func (p *Pipeline) errorResult(state *SessionState, index uint64, frame *image.RGBA, err error) FrameResult {
	p.logger.Warn("stream frame failed", "session_id", state.ID, "index", index, "error", err)

	if frame == nil {
		frame = state.LastFrame()
	}
	return FrameResult{
		Index:      index,
		DetectedID: match.NoDetection,
		Status:     match.StatusError,
		Error:      err.Error(),
		Frame:      frame,
	}
}

func (p *Pipeline) infer(ctx context.Context, frame *image.RGBA, restrict []int) ([]detector.Detection, error) {
	if p.detector == nil {
		return nil, detector.ErrModelNotLoaded
	}
	return p.detector.Infer(ctx, frame, p.cfg.DetectConfidence, restrict)
}

func (p *Pipeline) record(ctx context.Context, rec ledger.AuditRecord) error {
	if p.recorder == nil {
		return errors.New("no audit recorder configured")
	}
	return p.recorder.Record(ctx, rec)
}

func (p *Pipeline) source() string {
	if p.detector == nil {
		return ""
	}
	return p.detector.Source()
}

func (p *Pipeline) restrict(targetID string) []int {
	if p.cfg.Restrict == nil {
		return nil
	}
	return p.cfg.Restrict(targetID)
}

func (p *Pipeline) message(ev match.Evaluation, targetID string) string {
	if ev.Verified() {
		return fmt.Sprintf("Verified: %s.", p.displayName(targetID))
	}
	return fmt.Sprintf("Mismatch! Detected %s (%s), expected %s (%s).",
		ev.DetectedID, p.displayName(ev.DetectedID), targetID, p.displayName(targetID))
}

func (p *Pipeline) displayName(id string) string {
	if id == match.NoDetection {
		return "no detection"
	}
	if p.catalog != nil {
		if name := p.catalog.Name(id); name != "" {
			return name
		}
	}
	return id
}

func errorReport(err error) Report {
	return Report{
		Status:  VerdictError,
		Message: fmt.Sprintf("Verification failed: %v", err),
	}
}
