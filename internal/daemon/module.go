package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/lungsom/chatd/internal/api"
	"github.com/lungsom/chatd/internal/bus"
	"github.com/lungsom/chatd/internal/config"
	"github.com/lungsom/chatd/internal/delivery"
	"github.com/lungsom/chatd/internal/lock"
	"github.com/lungsom/chatd/internal/logging"
	"github.com/lungsom/chatd/internal/outbox"
	"github.com/lungsom/chatd/internal/presence"
	"github.com/lungsom/chatd/internal/roster"
	"github.com/lungsom/chatd/internal/search"
	"github.com/lungsom/chatd/internal/session"
	"github.com/lungsom/chatd/internal/status"
	"github.com/lungsom/chatd/internal/store"
	intsync "github.com/lungsom/chatd/internal/sync"
	"github.com/lungsom/chatd/internal/transport"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	Sess        session.Context
	Config      *config.Config
}

// Module returns the fx module for the sync core, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideAPIClient,
			provideTransport,
			providePresenceTracker,
			provideDeliveryMachine,
			provideRoster,
			provideCoordinator,
			provideSearch,
			provideEngine,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.CacheDBPath(p.SessionName)
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
	logger.Info("cache initialized", zap.String("path", dbPath))
	return db, nil
}

func provideAPIClient(p Params, logger *zap.Logger) *api.Client {
	return api.NewClient(p.Config.Server.APIBaseURL, p.Sess, logger)
}

func provideTransport(p Params, b *bus.Bus, m *status.Machine, logger *zap.Logger) *transport.Client {
	minBackoff, maxBackoff := p.Config.BackoffBounds()
	return transport.NewClient(p.Config.Server.SocketURL, p.Sess, b, m, logger, minBackoff, maxBackoff)
}

func providePresenceTracker() *presence.Tracker {
	return presence.NewTracker()
}

func provideDeliveryMachine() *delivery.Machine {
	return delivery.NewMachine()
}

func provideRoster() *roster.Roster {
	return roster.New()
}

func provideCoordinator(p Params, db *store.DB, client *api.Client, conn *transport.Client, machine *delivery.Machine, r *roster.Roster, b *bus.Bus, logger *zap.Logger) *outbox.Coordinator {
	return outbox.NewCoordinator(db, client, conn, machine, r, b, p.Sess, logger)
}

func provideSearch(p Params, client *api.Client, b *bus.Bus, logger *zap.Logger) *search.Debouncer {
	return search.NewDebouncer(client, p.Config.DebounceInterval(), logger,
		func(term string, users []api.User) {
			b.Emit(bus.KindSearchResults, search.Results{Term: term, Users: users})
		})
}

func provideEngine(p Params, db *store.DB, client *api.Client, conn *transport.Client, tracker *presence.Tracker, machine *delivery.Machine, r *roster.Roster, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, client, conn, tracker, machine, r, b, p.Sess, logger)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, conn *transport.Client, engine *intsync.Engine, coordinator *outbox.Coordinator, machine *status.Machine, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// The engine subscribes before the transport dials so the
			// first connected event cannot be missed.
			engine.Start(context.Background())
			coordinator.Start(context.Background())

			if err := conn.Start(context.Background()); err != nil {
				logger.Error("transport start failed", zap.Error(err))
				return err
			}
			return nil
		},
		OnStop: func(_ context.Context) error {
			conn.Disconnect()
			coordinator.Stop()
			engine.Stop()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("sync core stopped")
			return nil
		},
	})
}
