package detector

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"
)

const defaultInputSize = 640

type Model struct {
	backend Backend
	source  string
	labels  []string
	logger  *slog.Logger

	serialize bool
	mu        sync.Mutex
}

// Load resolves the first candidate that exists on disk and that the backend
// accepts. Running out of candidates is an error; there is no default model.
func Load(ctx context.Context, backend Backend, cfg Config, logger *slog.Logger) (*Model, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "detector")

	if cfg.InputSize <= 0 {
		cfg.InputSize = defaultInputSize
	}

	for _, path := range cfg.Candidates {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			logger.Debug("model candidate missing", "path", path)
			continue
		}

		labels, err := backend.Load(ctx, path)
		if err != nil {
			logger.Warn("model candidate failed to load", "path", path, "error", err)
			continue
		}

		m := &Model{
			backend:   backend,
			source:    path,
			labels:    labels,
			logger:    logger,
			serialize: cfg.Serialize,
		}

		if err := m.warmup(ctx, cfg.InputSize); err != nil {
			logger.Warn("model warm-up failed", "path", path, "error", err)
		}

		logger.Info("model loaded", "path", path, "classes", len(labels))
		return m, nil
	}

	return nil, fmt.Errorf("%w: tried %d candidates", ErrNoModel, len(cfg.Candidates))
}

func (m *Model) warmup(ctx context.Context, size int) error {
	blank := image.NewRGBA(image.Rect(0, 0, size, size))
	_, err := m.Infer(ctx, blank, 1.0, nil)
	return err
}

// Infer runs one forward pass. A nil classes slice searches every class.
func (m *Model) Infer(ctx context.Context, img image.Image, confidence float64, classes []int) ([]Detection, error) {
	if m == nil || m.backend == nil {
		return nil, ErrModelNotLoaded
	}
	if img == nil {
		return nil, fmt.Errorf("infer: nil image")
	}

	if m.serialize {
		m.mu.Lock()
		defer m.mu.Unlock()
	}

	return m.backend.Predict(ctx, img, confidence, classes)
}

func (m *Model) Source() string {
	if m == nil {
		return ""
	}
	return m.source
}

type availabilityChecker interface {
	IsAvailable(ctx context.Context) bool
}

// IsAvailable asks the backend whether it can still serve inference. Backends
// without an availability check are assumed available once loaded.
func (m *Model) IsAvailable(ctx context.Context) bool {
	if m == nil || m.backend == nil {
		return false
	}
	if c, ok := m.backend.(availabilityChecker); ok {
		return c.IsAvailable(ctx)
	}
	return true
}

func (m *Model) Labels() []string {
	out := make([]string, len(m.labels))
	copy(out, m.labels)
	return out
}

// ClassIDs maps labels to the model's class indices, skipping labels the model
// was not trained on. The result is never nil so callers can tell "restricted
// to nothing known" apart from "unrestricted".
func (m *Model) ClassIDs(labels []string) []int {
	index := make(map[string]int, len(m.labels))
	for i, l := range m.labels {
		index[l] = i
	}

	ids := make([]int, 0, len(labels))
	for _, l := range labels {
		if id, ok := index[l]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Provider hands out one process-wide Model, loading it on first use.
type Provider struct {
	backend Backend
	cfg     Config
	logger  *slog.Logger

	once  sync.Once
	model *Model
	err   error
}

func NewProvider(backend Backend, cfg Config, logger *slog.Logger) *Provider {
	return &Provider{
		backend: backend,
		cfg:     cfg,
		logger:  logger,
	}
}

func (p *Provider) Get(ctx context.Context) (*Model, error) {
	p.once.Do(func() {
		p.model, p.err = Load(ctx, p.backend, p.cfg, p.logger)
	})
	return p.model, p.err
}
