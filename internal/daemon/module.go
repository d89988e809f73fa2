// Package daemon composes the client components into a running process.
package daemon

import (
	"context"
	"time"

	"github.com/bazario/chatkit/internal/bus"
	"github.com/bazario/chatkit/internal/chat"
	"github.com/bazario/chatkit/internal/config"
	"github.com/bazario/chatkit/internal/lock"
	"github.com/bazario/chatkit/internal/logging"
	"github.com/bazario/chatkit/internal/outbox"
	"github.com/bazario/chatkit/internal/rest"
	"github.com/bazario/chatkit/internal/session"
	"github.com/bazario/chatkit/internal/status"
	"github.com/bazario/chatkit/internal/store"
	"github.com/bazario/chatkit/internal/transport"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	Credential  string // auth token; empty = read from the session token file
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideConfig,
			provideStateMachine,
			provideLock,
			provideStore,
			provideCredential,
			provideLiveChannel,
			provideRequestClient,
			provideOrchestrator,
			provideSender,
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

func provideConfig(logger *zap.Logger) *config.Config {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		logger.Info("no config file, using defaults")
		return config.Default()
	}
	return cfg
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
	dbPath := session.DBPath(p.SessionName)
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

// credential is a named string so fx can tell it apart from other strings.
type credential string

func provideCredential(p Params) (credential, error) {
	if p.Credential != "" {
		return credential(p.Credential), nil
	}
	token, err := session.ReadToken(p.SessionName)
	if err != nil {
		return "", err
	}
	return credential(token), nil
}

func provideLiveChannel(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *transport.Client {
	return transport.NewClient(transport.Options{
		URL:               cfg.SocketURL,
		AckTimeout:        cfg.AckTimeout(),
		ReconnectAttempts: uint64(max(cfg.ReconnectAttempts, 0)),
		ReconnectDelay:    cfg.ReconnectDelay(),
	}, b, logger)
}

func provideRequestClient(cfg *config.Config, cred credential, logger *zap.Logger) *rest.Client {
	return rest.NewClient(rest.Options{
		BaseURL: cfg.APIBaseURL,
	}, string(cred), logger)
}

func provideOrchestrator(cfg *config.Config, cred credential, db *store.DB, live *transport.Client, rc *rest.Client, b *bus.Bus, m *status.Machine, logger *zap.Logger) (*chat.Orchestrator, error) {
	userID, err := transport.Identity(string(cred))
	if err != nil {
		return nil, err
	}
	return chat.NewOrchestrator(chat.Options{
		UserID:     userID,
		AckTimeout: cfg.AckTimeout(),
		PageSize:   cfg.PageSize,
		TypingTTL:  cfg.TypingTTL(),
	}, db, live, rc, b, m, logger), nil
}

func provideSender(cfg *config.Config, db *store.DB, o *chat.Orchestrator, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, o, b, logger, 2*time.Second, cfg.OutboxMaxAttempts)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, live *transport.Client, o *chat.Orchestrator, sender *outbox.Sender, machine *status.Machine, cred credential, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// The orchestrator must register its handlers before the first
			// frame can arrive.
			o.Start(context.Background())
			sender.Start(context.Background())

			_ = machine.Transition(status.Connecting)
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := live.Connect(ctx, string(cred)); err != nil {
					logger.Error("initial connect failed, running on fallback", zap.Error(err))
					_ = machine.Transition(status.Degraded)
				}
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			sender.Stop()
			o.Stop()
			live.Disconnect()
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
