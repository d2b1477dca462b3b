package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/eleven-am/medverify/docs"
	"github.com/eleven-am/medverify/internal/api"
	"github.com/eleven-am/medverify/internal/expiry"
	"github.com/eleven-am/medverify/internal/inventory"
	"github.com/eleven-am/medverify/internal/ledger"
	"github.com/eleven-am/medverify/internal/pipeline"
	"github.com/eleven-am/medverify/internal/session"
	"github.com/eleven-am/medverify/internal/vision"
	"github.com/labstack/echo/v4"
	echoSwagger "github.com/swaggo/echo-swagger"
	"go.uber.org/fx"
	"gopkg.in/natefinch/lumberjack.v2"
)

type HandlerParams struct {
	fx.In

	APIHandler     *api.Handler
	StreamServer   *api.StreamServer
	SessionHandler *session.Handler
	Validator      *api.Validator
	Config         *Config
}

func RegisterRoutes(e *echo.Echo, params HandlerParams) {
	e.Validator = params.Validator

	v1 := e.Group("/v1")
	limiter := api.RateLimiter(api.RateLimiterConfig{
		RequestsPerSecond: params.Config.RateLimitRPS,
		Burst:             params.Config.RateLimitBurst,
		CleanupInterval:   api.DefaultRateLimiterConfig().CleanupInterval,
	})

	params.APIHandler.RegisterRoutes(v1, limiter)
	params.StreamServer.RegisterRoutes(v1)
	params.SessionHandler.RegisterRoutes(v1.Group("/sessions"))

	e.GET("/swagger/*", echoSwagger.EchoWrapHandlerV3())
	e.GET("/asyncapi.yaml", func(c echo.Context) error {
		return c.Blob(http.StatusOK, "application/yaml", docs.AsyncAPISpec)
	})
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ProvideLogger writes JSON logs to stdout and, when LOG_FILE is set, to a
// rotating file as well.
func ProvideLogger(lc fx.Lifecycle, cfg *Config) *slog.Logger {
	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			LocalTime:  true,
			Compress:   true,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxAge:     cfg.LogMaxAgeDays,
			MaxBackups: cfg.LogMaxBackups,
		}
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return file.Close()
			},
		})
		out = io.MultiWriter(os.Stdout, file)
	}

	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)
	return logger
}

func ProvideValidator() *api.Validator {
	return api.NewValidator()
}

func ProvideStreamRegistry() *api.StreamRegistry {
	return api.NewStreamRegistry()
}

type APIParams struct {
	fx.In

	Pipeline  *pipeline.Pipeline
	Inventory *inventory.Inventory
	Ledger    *ledger.Ledger
	Expiry    *expiry.Reader
	Validator *api.Validator
	Config    *Config
	Logger    *slog.Logger
}

func ProvideAPIHandler(p APIParams) *api.Handler {
	return api.NewHandler(api.HandlerConfig{
		Verifier:  p.Pipeline,
		Inventory: p.Inventory,
		Ledger:    p.Ledger,
		Expiry:    p.Expiry,
		Validator: p.Validator,
		UploadDir: p.Config.UploadDir,
		Logger:    p.Logger.With("handler", "api"),
	})
}

type StreamParams struct {
	fx.In

	Pipeline  *pipeline.Pipeline
	Inventory *inventory.Inventory
	Sessions  *session.Store
	Frames    *vision.Store
	Registry  *api.StreamRegistry
	Validator *api.Validator
	Config    *Config
	Logger    *slog.Logger
}

func ProvideStreamServer(p StreamParams) *api.StreamServer {
	return api.NewStreamServer(api.StreamConfig{
		Verifier:       p.Pipeline,
		Inventory:      p.Inventory,
		Sessions:       p.Sessions,
		Frames:         p.Frames,
		Registry:       p.Registry,
		Validator:      p.Validator,
		InferenceEvery: p.Config.InferenceEvery,
		Logger:         p.Logger.With("handler", "stream"),
	})
}

func ProvideSessionHandler(store *session.Store, frames *vision.Store, logger *slog.Logger) *session.Handler {
	return session.NewHandler(store, frames, logger.With("handler", "session"))
}

var HandlersModule = fx.Options(
	fx.Provide(
		ProvideValidator,
		ProvideStreamRegistry,
		ProvideAPIHandler,
		ProvideStreamServer,
		ProvideSessionHandler,
	),
	fx.Invoke(RegisterRoutes),
)
