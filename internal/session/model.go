package session

import (
	"time"

	"github.com/eleven-am/medverify/internal/vision"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
	StatusError  Status = "error"
)

// Session is the stored metadata of one live verification stream.
type Session struct {
	ID           string             `json:"id"`
	TargetID     string             `json:"target_id"`
	Format       vision.PixelFormat `json:"format"`
	Width        int                `json:"width,omitempty"`
	Height       int                `json:"height,omitempty"`
	Status       Status             `json:"status"`
	StartedAt    time.Time          `json:"started_at"`
	LastActiveAt time.Time          `json:"last_active_at"`
}

func (s *Session) RedisKey() string {
	return sessionKey(s.ID)
}

const (
	MetricFrames     = "frames"
	MetricInferences = "inferences"
	MetricSkipped    = "skipped"
	MetricVerified   = "verified"
	MetricMismatched = "mismatched"
	MetricErrors     = "errors"
	MetricAudited    = "audited"
)

type Metrics struct {
	SessionID  string `json:"session_id"`
	Frames     int64  `json:"frames"`
	Inferences int64  `json:"inferences"`
	Skipped    int64  `json:"skipped"`
	Verified   int64  `json:"verified"`
	Mismatched int64  `json:"mismatched"`
	Errors     int64  `json:"errors"`
	Audited    int64  `json:"audited"`
}

func sessionKey(id string) string {
	return "stream:" + id
}

func MetricsRedisKey(id string) string {
	return "stream:" + id + ":metrics"
}
