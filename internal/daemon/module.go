package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/jmadeira/wabridge/internal/bus"
	"github.com/jmadeira/wabridge/internal/config"
	"github.com/jmadeira/wabridge/internal/httpapi"
	"github.com/jmadeira/wabridge/internal/lock"
	"github.com/jmadeira/wabridge/internal/logging"
	"github.com/jmadeira/wabridge/internal/media"
	"github.com/jmadeira/wabridge/internal/outbox"
	"github.com/jmadeira/wabridge/internal/paths"
	"github.com/jmadeira/wabridge/internal/session"
	"github.com/jmadeira/wabridge/internal/status"
	"github.com/jmadeira/wabridge/internal/store"
	intsync "github.com/jmadeira/wabridge/internal/sync"
	"github.com/jmadeira/wabridge/internal/wa"
)

// Params holds startup options resolved before the fx graph builds.
type Params struct {
	ConfigPath string
}

// Module returns the fx module for the bridge daemon, composing all
// providers and lifecycle hooks.
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
			provideAdapter,
			provideSyncEngine,
			provideReconciler,
			provideMediaService,
			provideSender,
			provideSessionManager,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (config.Config, error) {
	cfg, err := config.Load(p.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	if err := paths.EnsureTree(cfg.DataDir); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) (*zap.Logger, error) {
	return logging.New(paths.LogPath(cfg.DataDir))
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(cfg config.Config, logger *zap.Logger) (*lock.Lock, error) {
	l, err := lock.Acquire(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("data directory lock acquired", zap.String("dir", cfg.DataDir))
	return l, nil
}

func provideStore(cfg config.Config, logger *zap.Logger) (*store.DB, error) {
	dbPath := paths.MessageDBPath(cfg.DataDir)
	db, err := store.Open(dbPath)
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

func provideAdapter(cfg config.Config, b *bus.Bus, logger *zap.Logger) (*wa.Adapter, error) {
	return wa.NewAdapter(context.Background(), cfg.DataDir, b, logger)
}

func provideSyncEngine(db *store.DB, adapter *wa.Adapter, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, adapter, b, logger)
}

func provideReconciler(cfg config.Config, adapter *wa.Adapter, b *bus.Bus, logger *zap.Logger) *intsync.Reconciler {
	return intsync.NewReconciler(adapter, b, logger, cfg.HistorySyncRetries, cfg.HistorySyncCount)
}

func provideMediaService(cfg config.Config, db *store.DB, adapter *wa.Adapter, logger *zap.Logger) *media.Service {
	return media.NewService(db, adapter, cfg.DataDir, logger)
}

func provideSender(db *store.DB, adapter *wa.Adapter, svc *media.Service, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, adapter, svc, b, logger)
}

func provideSessionManager(cfg config.Config, adapter *wa.Adapter, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *session.Manager {
	return session.NewManager(adapter, machine, b, logger, cfg.PairTimeout())
}

func provideServer(cfg config.Config, db *store.DB, manager *session.Manager, svc *media.Service,
	sender *outbox.Sender, reconciler *intsync.Reconciler, adapter *wa.Adapter, logger *zap.Logger) *httpapi.Server {
	return httpapi.NewServer(cfg.HTTPPort, db, manager, svc, sender, reconciler,
		adapter, cfg.RetentionWindow(), logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *httpapi.Server, lk *lock.Lock, adapter *wa.Adapter,
	engine *intsync.Engine, reconciler *intsync.Reconciler, sender *outbox.Sender,
	manager *session.Manager, machine *status.Machine, b *bus.Bus, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Consumers first so no early event is dropped.
			engine.Start()
			reconciler.Start()
			sender.Start()

			handler := wa.NewEventHandler(b, machine, logger, adapter.OwnUserID)
			adapter.RegisterEventHandler(handler.Handle)

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("REST gateway error", zap.Error(err))
				}
			}()

			manager.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			manager.Stop()
			sender.Stop()
			reconciler.Stop()
			engine.Stop()
			adapter.Disconnect()
			if err := srv.Stop(ctx); err != nil {
				logger.Warn("error stopping REST gateway", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
