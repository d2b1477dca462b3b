package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/eleven-am/medverify/internal/detector"
	"github.com/eleven-am/medverify/internal/expiry"
	"github.com/eleven-am/medverify/internal/expiry/tesseract"
	"github.com/eleven-am/medverify/internal/inventory"
	"github.com/eleven-am/medverify/internal/ledger"
	"github.com/eleven-am/medverify/internal/pipeline"
	"github.com/eleven-am/medverify/internal/vision"
	"go.uber.org/fx"
)

const modelLoadTimeout = 2 * time.Minute

var errNoInventoryClasses = errors.New("no inventory medication is a class of the loaded model")

func ProvideDetectorConfig(cfg *Config) detector.Config {
	return detector.Config{
		Candidates: cfg.ModelCandidates,
		InputSize:  cfg.InputSize,
		Serialize:  cfg.SerializeInference,
		Timeout:    cfg.DetectorTimeout,
	}
}

func ProvideDetectorBackend(cfg *Config) detector.Backend {
	return detector.NewSidecarBackend(cfg.DetectorURL, cfg.DetectorTimeout)
}

func ProvideDetectorProvider(backend detector.Backend, cfg detector.Config, logger *slog.Logger) *detector.Provider {
	return detector.NewProvider(backend, cfg, logger)
}

// ProvideModel loads the model once at startup. Failing to load any candidate
// stops the service.
func ProvideModel(provider *detector.Provider) (*detector.Model, error) {
	ctx, cancel := context.WithTimeout(context.Background(), modelLoadTimeout)
	defer cancel()
	return provider.Get(ctx)
}

func ProvideNormalizer(cfg *Config) *vision.Normalizer {
	return vision.NewNormalizer(cfg.InputSize)
}

func ProvidePipeline(
	model *detector.Model,
	normalizer *vision.Normalizer,
	recorder *ledger.Recorder,
	inv *inventory.Inventory,
	cfg *Config,
	logger *slog.Logger,
) (*pipeline.Pipeline, error) {
	pcfg := pipeline.Config{
		LogFloor:         cfg.LogConfidenceFloor,
		DetectConfidence: cfg.DetectConfidence,
	}

	if cfg.RestrictToInventory {
		classes := model.ClassIDs(inv.IDs())
		if len(classes) == 0 {
			return nil, errNoInventoryClasses
		}
		pcfg.Restrict = func(string) []int { return classes }
		logger.Info("inference restricted to inventory", "classes", len(classes), "medications", inv.Len())
	}

	return pipeline.New(model, normalizer, recorder, inv, pcfg, logger), nil
}

// ProvideExpiryReader returns nil unless OCR is enabled.
func ProvideExpiryReader(lc fx.Lifecycle, cfg *Config, logger *slog.Logger) (*expiry.Reader, error) {
	if !cfg.OCREnabled {
		return nil, nil
	}

	engine, err := tesseract.New(cfg.TesseractLangs...)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return engine.Close()
		},
	})

	logger.Info("expiry OCR enabled", "languages", cfg.TesseractLangs)
	return expiry.NewReader(engine), nil
}

var PipelineModule = fx.Options(
	fx.Provide(
		ProvideDetectorConfig,
		ProvideDetectorBackend,
		ProvideDetectorProvider,
		ProvideModel,
		ProvideNormalizer,
		ProvidePipeline,
		ProvideExpiryReader,
	),
)
