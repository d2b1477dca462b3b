package bootstrap

import (
	"log/slog"

	"github.com/eleven-am/medverify/internal/inventory"
	"github.com/eleven-am/medverify/internal/ledger"
	"github.com/eleven-am/medverify/internal/session"
	"github.com/eleven-am/medverify/internal/vision"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func ProvideSessionStore(redisClient *redis.Client, cfg *Config) *session.Store {
	return session.NewStore(redisClient, cfg.SessionTTL)
}

func ProvideFrameStore(redisClient *redis.Client) *vision.Store {
	return vision.NewStore(redisClient, vision.StoreConfig{})
}

func ProvideLedger(cfg *Config) (*ledger.Ledger, error) {
	return ledger.New(cfg.LedgerPath, cfg.LedgerColumns)
}

func ProvideMirror(db *gorm.DB) *ledger.Mirror {
	if db == nil {
		return nil
	}
	return ledger.NewMirror(db)
}

func ProvideRecorder(l *ledger.Ledger, mirror *ledger.Mirror, logger *slog.Logger) *ledger.Recorder {
	return ledger.NewRecorder(l, mirror, logger)
}

func ProvideInventory(cfg *Config, logger *slog.Logger) (*inventory.Inventory, error) {
	inv, err := inventory.LoadFile(cfg.InventoryPath)
	if err != nil {
		return nil, err
	}
	logger.Info("inventory loaded", "path", cfg.InventoryPath, "medications", inv.Len())
	return inv, nil
}

// RunMigrations makes sure the ledger file carries its header before the
// first request, and migrates the mirror table when a database is configured.
func RunMigrations(l *ledger.Ledger, mirror *ledger.Mirror) error {
	if err := l.InitializeIfAbsent(); err != nil {
		return err
	}
	if mirror == nil {
		return nil
	}
	return mirror.Migrate()
}

var StoresModule = fx.Options(
	fx.Provide(
		ProvideSessionStore,
		ProvideFrameStore,
		ProvideLedger,
		ProvideMirror,
		ProvideRecorder,
		ProvideInventory,
	),
	fx.Invoke(RunMigrations),
)
