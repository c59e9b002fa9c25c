package daemon

import (
	"context"

	"github.com/matheus3301/bolechat/internal/api"
	"github.com/matheus3301/bolechat/internal/backend"
	"github.com/matheus3301/bolechat/internal/bus"
	"github.com/matheus3301/bolechat/internal/chat"
	"github.com/matheus3301/bolechat/internal/config"
	"github.com/matheus3301/bolechat/internal/lock"
	"github.com/matheus3301/bolechat/internal/logging"
	"github.com/matheus3301/bolechat/internal/outbox"
	"github.com/matheus3301/bolechat/internal/realtime"
	"github.com/matheus3301/bolechat/internal/session"
	"github.com/matheus3301/bolechat/internal/status"
	"github.com/matheus3301/bolechat/internal/store"
	intsync "github.com/matheus3301/bolechat/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
	Config      *config.Config
	Debug       bool
}

func (p Params) config() *config.Config {
	if p.Config == nil {
		return config.Default()
	}
	return p.Config
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideBackend,
			provideEventHandler,
			provideConn,
			provideChatStore,
			provideReconciler,
			provideSyncEngine,
			provideSender,
			provideAuth,
			provideSessionService,
			provideConversationService,
			provideMessageService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if p.Debug {
		level = zapcore.DebugLevel
	}
	return logging.New(session.LogPath(p.SessionName), p.SessionName, level)
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

// provideStore depends on the lock so the cache is never opened by two
// daemons at once.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.CachePath(p.SessionName)
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
	logger.Info("store initialized", zap.String("path", db.Path()))
	return db, nil
}

func provideBackend(p Params, logger *zap.Logger) (*backend.Client, error) {
	cfg := p.config()
	return backend.New(cfg.API.BaseURL, backend.Options{
		Timeout:           cfg.API.Timeout,
		RequestsPerSecond: cfg.API.RequestsPerSecond,
		Burst:             cfg.API.Burst,
		BreakerFailures:   cfg.Breaker.Failures,
		BreakerCooldown:   cfg.Breaker.Cooldown,
	}, logger.Named("backend"))
}

func provideEventHandler(b *bus.Bus, m *status.Machine, logger *zap.Logger) *realtime.EventHandler {
	return realtime.NewEventHandler(b, m, logger.Named("realtime"))
}

func provideConn(p Params, h *realtime.EventHandler, client *backend.Client, logger *zap.Logger) *realtime.Conn {
	cfg := p.config()
	return realtime.New(realtime.Options{
		URL:        cfg.SocketURL(),
		Token:      client.Token,
		MinBackoff: cfg.Reconnect.MinBackoff,
		MaxBackoff: cfg.Reconnect.MaxBackoff,
	}, h, logger.Named("realtime"))
}

// provideChatStore wires the Conversation Store to the REST client, with
// every send also announced on the push connection.
func provideChatStore(client *backend.Client, conn *realtime.Conn, b *bus.Bus, logger *zap.Logger) *chat.Store {
	var s *chat.Store
	self := func() string { return s.Self() }
	s = chat.NewStore(realtime.Mirror(client, conn, self, logger), b, logger.Named("chat"))
	return s
}

func provideReconciler(p Params, db *store.DB, s *chat.Store, m *status.Machine, logger *zap.Logger) *intsync.Reconciler {
	return intsync.NewReconciler(db, s, m, p.config().Sync.PageSize, logger.Named("sync"))
}

func provideSyncEngine(p Params, s *chat.Store, db *store.DB, b *bus.Bus, r *intsync.Reconciler, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(s, db, b, r, p.config().API.Timeout, logger.Named("sync"))
}

func provideSender(p Params, db *store.DB, s *chat.Store, logger *zap.Logger) *outbox.Sender {
	cfg := p.config()
	return outbox.NewSender(db, s, cfg.Sync.OutboxInterval, cfg.Sync.OutboxRetention, logger.Named("outbox"))
}

func provideAuth(p Params, client *backend.Client, conn *realtime.Conn, s *chat.Store, db *store.DB, m *status.Machine, logger *zap.Logger) *Auth {
	return NewAuth(session.TokenFile(p.SessionName), client, conn, s, db, m, logger.Named("auth"))
}

func provideSessionService(p Params, m *status.Machine, b *bus.Bus, s *chat.Store, db *store.DB, auth *Auth, conn *realtime.Conn, r *intsync.Reconciler) *api.SessionService {
	return api.NewSessionService(p.SessionName, p.config().API.BaseURL, m, b, s, db, auth, conn, r)
}

func provideConversationService(s *chat.Store, r *intsync.Reconciler, b *bus.Bus, logger *zap.Logger) *api.ConversationService {
	return api.NewConversationService(s, r, b, logger.Named("api"))
}

func provideMessageService(s *chat.Store, sender *outbox.Sender, db *store.DB, b *bus.Bus) *api.MessageService {
	return api.NewMessageService(s, sender, db, b)
}

func registerLifecycle(lc fx.Lifecycle, p Params, srv *Server, lk *lock.Lock, db *store.DB, auth *Auth, conn *realtime.Conn, r *intsync.Reconciler, engine *intsync.Engine, sender *outbox.Sender, machine *status.Machine, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start sync engine (subscribes to rt.*, conversation.* and message.* bus events).
			engine.Start(context.Background())

			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			signedIn, err := auth.Restore(p.config().Token)
			if err != nil {
				logger.Error("restoring credentials failed", zap.Error(err))
			}

			if n, err := db.RequeueInterrupted(); err != nil {
				logger.Warn("failed to requeue interrupted sends", zap.Error(err))
			} else if n > 0 {
				logger.Info("interrupted sends marked failed", zap.Int64("count", n))
			}
			if err := r.Hydrate(); err != nil {
				logger.Warn("cache hydration failed", zap.Error(err))
			}

			sender.Start(context.Background())

			if signedIn {
				if err := auth.Connect(); err != nil {
					logger.Error("auto-connect failed", zap.Error(err))
				}
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sender.Stop()
			conn.Close()
			engine.Stop()
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
