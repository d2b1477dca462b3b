package pipeline

import (
	"image"
	"sync"

	"github.com/eleven-am/medverify/internal/detector"
	"github.com/eleven-am/medverify/internal/match"
)

const DefaultInferenceEvery = 3

// FrameResult is the per-frame answer handed back to the stream consumer.
type FrameResult struct {
	Index      uint64              `json:"index"`
	DetectedID string              `json:"detected_id"`
	Confidence float64             `json:"confidence"`
	Status     match.Status        `json:"match_status"`
	Count      int                 `json:"current_count"`
	Audited    bool                `json:"audited"`
	Error      string              `json:"error,omitempty"`
	Record     *detector.Detection `json:"record,omitempty"`
	Frame      *image.RGBA         `json:"-"`
}

// SessionState is the throttle counter and last-result cache of one stream.
// It must not be shared between streams.
type SessionState struct {
	ID string

	mu        sync.Mutex
	every     uint64
	count     uint64
	last      *FrameResult
	lastFrame *image.RGBA
}

func NewSessionState(id string, every int) *SessionState {
	if every <= 0 {
		every = DefaultInferenceEvery
	}
	return &SessionState{ID: id, every: uint64(every)}
}

// Next advances the frame counter and reports whether the new frame is due
// for inference. Frames are 1-indexed, so with every=3 frames 3, 6, 9 run.
func (s *SessionState) Next() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	return s.count, s.shouldRun(s.count)
}

func (s *SessionState) ShouldRunInference(index uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shouldRun(index)
}

func (s *SessionState) shouldRun(index uint64) bool {
	return index > 0 && index%s.every == 0
}

func (s *SessionState) Count() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *SessionState) Every() int {
	return int(s.every)
}

// Last returns a copy of the most recent inference result, or nil before the
// first inference.
func (s *SessionState) Last() *FrameResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	r := *s.last
	return &r
}

func (s *SessionState) Remember(r FrameResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = &r
	s.lastFrame = r.Frame
}

func (s *SessionState) LastFrame() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFrame
}

func (s *SessionState) rememberFrame(frame *image.RGBA) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFrame = frame
}
