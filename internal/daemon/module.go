package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/ofbraga/chatd/internal/bus"
	"github.com/ofbraga/chatd/internal/chat"
	"github.com/ofbraga/chatd/internal/config"
	"github.com/ofbraga/chatd/internal/home"
	"github.com/ofbraga/chatd/internal/lock"
	"github.com/ofbraga/chatd/internal/logging"
	"github.com/ofbraga/chatd/internal/notify"
	"github.com/ofbraga/chatd/internal/status"
	"github.com/ofbraga/chatd/internal/store"
	"github.com/ofbraga/chatd/internal/wa"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile string
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideNotifier,
			provideAdapter,
			provideRegistry,
			provideHandler,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	return config.LoadOrDefault(home.ConfigPath())
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(home.LogPath(p.Profile), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := home.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(home.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, b *bus.Bus, logger *zap.Logger) (*store.DB, error) {
	dbPath := home.DBPath(p.Profile)
	db, err := store.Open(dbPath, b)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideNotifier(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *notify.Center {
	return notify.NewCenter(cfg.Notifications, b, logger)
}

func provideAdapter(p Params, b *bus.Bus, logger *zap.Logger) (*wa.Adapter, error) {
	return wa.NewAdapter(context.Background(), p.Profile, b, logger)
}

func provideRegistry(db *store.DB, adapter *wa.Adapter, center *notify.Center, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *chat.Registry {
	return chat.New(chat.Deps{
		Store:          db,
		Transport:      adapter,
		Notifier:       center,
		Sessions:       db,
		Bus:            b,
		Logger:         logger,
		DelayThreshold: cfg.DelayThreshold(),
	})
}

func provideHandler(adapter *wa.Adapter, registry *chat.Registry, db *store.DB, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *wa.Handler {
	return wa.NewHandler(adapter, registry, db, machine, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, adapter *wa.Adapter, handler *wa.Handler, registry *chat.Registry, db *store.DB, machine *status.Machine, cfg *config.Config, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			adapter.RegisterEventHandler(handler.Handle)

			// Blocked peers from config never notify.
			for _, peer := range cfg.Privacy.Blocked {
				registry.Block(adapter.Account(), chat.PeerID(peer))
			}

			if adapter.IsLoggedIn() {
				_ = machine.Transition(status.Connecting)
				go func() {
					if err := adapter.Connect(); err != nil {
						logger.Error("auto-connect failed", zap.Error(err))
						_ = machine.Transition(status.Error)
					}
				}()
			} else {
				logger.Info("no credentials found, auth required")
				_ = machine.Transition(status.AuthRequired)
			}

			return nil
		},
		OnStop: func(_ context.Context) error {
			adapter.Disconnect()
			registry.Close()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
