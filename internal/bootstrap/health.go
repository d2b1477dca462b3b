package bootstrap

import (
	"github.com/eleven-am/medverify/internal/api"
	"github.com/eleven-am/medverify/internal/detector"
	"github.com/eleven-am/medverify/internal/health"
	"github.com/eleven-am/medverify/internal/ledger"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

const version = "1.0.0"

func ProvideHealthHandler(
	db *gorm.DB,
	redis *redis.Client,
	model *detector.Model,
	l *ledger.Ledger,
	streams *api.StreamRegistry,
) *health.Handler {
	return health.NewHandler(
		db,
		redis,
		model,
		l.Path(),
		streams,
		version,
	)
}

func RegisterHealthRoutes(e *echo.Echo, h *health.Handler) {
	h.RegisterRoutes(e)
}

var HealthModule = fx.Options(
	fx.Provide(ProvideHealthHandler),
	fx.Invoke(RegisterHealthRoutes),
)
