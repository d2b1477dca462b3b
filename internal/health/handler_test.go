package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeDetector struct {
	source    string
	available bool
}

func (f fakeDetector) IsAvailable(ctx context.Context) bool { return f.available }
func (f fakeDetector) Source() string                       { return f.source }

type fakeStreams int

func (f fakeStreams) ActiveCount() int { return int(f) }

func TestLiveness(t *testing.T) {
	h := NewHandler(nil, nil, nil, "", nil, "test")
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), rec)

	if err := h.Liveness(c); err != nil {
		t.Fatalf("Liveness failed: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestReadiness(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ledgerPath := filepath.Join(t.TempDir(), "logs", "audit.csv")

	tests := []struct {
		name       string
		redis      *redis.Client
		detector   Detector
		wantStatus Status
		wantCode   int
	}{
		{
			name:       "all healthy",
			redis:      client,
			detector:   fakeDetector{source: "models/best.pt", available: true},
			wantStatus: StatusHealthy,
			wantCode:   http.StatusOK,
		},
		{
			name:       "backend unreachable",
			redis:      client,
			detector:   fakeDetector{source: "models/best.pt", available: false},
			wantStatus: StatusUnhealthy,
			wantCode:   http.StatusServiceUnavailable,
		},
		{
			name:       "no model",
			redis:      client,
			detector:   nil,
			wantStatus: StatusUnhealthy,
			wantCode:   http.StatusServiceUnavailable,
		},
		{
			name:       "no redis",
			redis:      nil,
			detector:   fakeDetector{source: "models/best.pt", available: true},
			wantStatus: StatusUnhealthy,
			wantCode:   http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(nil, tt.redis, tt.detector, ledgerPath, fakeStreams(2), "test")
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health/ready", nil), rec)

			if err := h.Readiness(c); err != nil {
				t.Fatalf("Readiness failed: %v", err)
			}
			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rec.Code)
			}

			var resp ReadinessResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("expected %s, got %s (%+v)", tt.wantStatus, resp.Status, resp.Components)
			}
			if resp.ActiveStreams != 2 {
				t.Errorf("expected 2 active streams, got %d", resp.ActiveStreams)
			}
			if _, ok := resp.Components["database"]; ok {
				t.Error("database should be omitted when not configured")
			}
		})
	}
}

func TestOverall(t *testing.T) {
	tests := []struct {
		name       string
		components map[string]ComponentStatus
		want       Status
	}{
		{"healthy", map[string]ComponentStatus{"redis": {Status: StatusHealthy}, "ledger": {Status: StatusHealthy}}, StatusHealthy},
		{"ledger degraded", map[string]ComponentStatus{"redis": {Status: StatusHealthy}, "ledger": {Status: StatusDegraded}}, StatusDegraded},
		{"detector down", map[string]ComponentStatus{"ledger": {Status: StatusDegraded}, "detector": {Status: StatusUnhealthy}}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := overall(tt.components); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestRun_Severity(t *testing.T) {
	failing := func(context.Context) error { return errors.New("down") }

	if got := run(context.Background(), dependency{name: "database", check: failing}); got.Status != StatusDegraded || got.Error != "down" {
		t.Errorf("optional dependency: got %+v", got)
	}
	if got := run(context.Background(), dependency{name: "redis", critical: true, check: failing}); got.Status != StatusUnhealthy {
		t.Errorf("critical dependency: got %+v", got)
	}
}

func TestReadiness_DatabaseDegrades(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.Close()

	h := NewHandler(db, redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		fakeDetector{source: "models/best.pt", available: true},
		filepath.Join(t.TempDir(), "audit.csv"), nil, "test")
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/health/ready", nil), rec)

	if err := h.Readiness(c); err != nil {
		t.Fatalf("Readiness failed: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var resp ReadinessResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != StatusDegraded {
		t.Errorf("expected degraded, got %s", resp.Status)
	}
	if resp.Components["database"].Status != StatusDegraded {
		t.Errorf("database component: %+v", resp.Components["database"])
	}
}
