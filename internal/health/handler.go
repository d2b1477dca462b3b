package health

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const readinessTimeout = 5 * time.Second

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

type ComponentStatus struct {
	Status    Status `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// ReadinessResponse is what /health/ready returns. A verifier is ready when
// the model answers and stream sessions can be stored; the audit directory
// and the database mirror only degrade it.
type ReadinessResponse struct {
	Status        Status                     `json:"status"`
	Timestamp     time.Time                  `json:"timestamp"`
	Version       string                     `json:"version"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	ModelSource   string                     `json:"model_source,omitempty"`
	ActiveStreams int                        `json:"active_streams"`
	Components    map[string]ComponentStatus `json:"components"`
}

// Detector is the part of the model stack readiness cares about.
type Detector interface {
	IsAvailable(ctx context.Context) bool
	Source() string
}

type StreamCounter interface {
	ActiveCount() int
}

type dependency struct {
	name     string
	critical bool
	check    func(context.Context) error
}

type Handler struct {
	deps     []dependency
	detector Detector
	streams  StreamCounter
	version  string
	started  time.Time
}

// NewHandler builds the health endpoints. db may be nil when the audit
// mirror is disabled; it is then left out of the report.
func NewHandler(
	db *gorm.DB,
	redisClient *redis.Client,
	detector Detector,
	ledgerPath string,
	streams StreamCounter,
	version string,
) *Handler {
	h := &Handler{
		detector: detector,
		streams:  streams,
		version:  version,
		started:  time.Now(),
	}
	h.deps = []dependency{
		{name: "detector", critical: true, check: h.checkDetector},
		{name: "redis", critical: true, check: redisCheck(redisClient)},
		{name: "ledger", check: ledgerCheck(ledgerPath)},
	}
	if db != nil {
		h.deps = append(h.deps, dependency{name: "database", check: databaseCheck(db)})
	}
	return h
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Liveness)
	e.GET("/health/ready", h.Readiness)
}

func (h *Handler) Liveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Readiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessTimeout)
	defer cancel()

	components := make(map[string]ComponentStatus, len(h.deps))
	var mu sync.Mutex

	var g errgroup.Group
	for _, dep := range h.deps {
		dep := dep
		g.Go(func() error {
			status := run(ctx, dep)
			mu.Lock()
			components[dep.name] = status
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	resp := ReadinessResponse{
		Status:        overall(components),
		Timestamp:     time.Now().UTC(),
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		Components:    components,
	}
	if h.detector != nil {
		resp.ModelSource = h.detector.Source()
	}
	if h.streams != nil {
		resp.ActiveStreams = h.streams.ActiveCount()
	}

	code := http.StatusOK
	if resp.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}

func run(ctx context.Context, dep dependency) ComponentStatus {
	start := time.Now()
	err := dep.check(ctx)
	status := ComponentStatus{Status: StatusHealthy, LatencyMs: time.Since(start).Milliseconds()}
	if err == nil {
		return status
	}
	status.Error = err.Error()
	status.Status = StatusDegraded
	if dep.critical {
		status.Status = StatusUnhealthy
	}
	return status
}

func overall(components map[string]ComponentStatus) Status {
	result := StatusHealthy
	for _, c := range components {
		switch c.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			result = StatusDegraded
		}
	}
	return result
}

func (h *Handler) checkDetector(ctx context.Context) error {
	if h.detector == nil || h.detector.Source() == "" {
		return errors.New("model not loaded")
	}
	if !h.detector.IsAvailable(ctx) {
		return errors.New("inference backend unreachable")
	}
	return nil
}

func redisCheck(client *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		if client == nil {
			return errors.New("redis not configured")
		}
		if err := client.Ping(ctx).Err(); err != nil {
			return errors.New("ping failed")
		}
		return nil
	}
}

func databaseCheck(db *gorm.DB) func(context.Context) error {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return errors.New("failed to get underlying db")
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return errors.New("ping failed")
		}
		return nil
	}
}

// ledgerCheck verifies the audit directory accepts new files.
func ledgerCheck(path string) func(context.Context) error {
	return func(context.Context) error {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.New("ledger directory not writable")
		}
		f, err := os.CreateTemp(dir, ".ready-*")
		if err != nil {
			return errors.New("ledger directory not writable")
		}
		f.Close()
		os.Remove(f.Name())
		return nil
	}
}
