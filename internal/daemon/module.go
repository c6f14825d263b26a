// Package daemon composes the sync daemon out of its parts with fx.
package daemon

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/chatchick/chatd/internal/bus"
	"github.com/chatchick/chatd/internal/config"
	"github.com/chatchick/chatd/internal/convo"
	"github.com/chatchick/chatd/internal/dispatch"
	"github.com/chatchick/chatd/internal/history"
	"github.com/chatchick/chatd/internal/lock"
	"github.com/chatchick/chatd/internal/logging"
	"github.com/chatchick/chatd/internal/metrics"
	"github.com/chatchick/chatd/internal/outbox"
	"github.com/chatchick/chatd/internal/rest"
	"github.com/chatchick/chatd/internal/session"
	"github.com/chatchick/chatd/internal/socket"
	"github.com/chatchick/chatd/internal/status"
	intsync "github.com/chatchick/chatd/internal/sync"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	ConfigPath  string // optional override for testing; empty = use default
}

// Token is the bearer credential for this session.
type Token string

// UserID is the authenticated user's server id, used to key direct
// conversations.
type UserID string

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
			provideToken,
			provideIdentity,
			provideRESTClient,
			provideStore,
			provideSocketManager,
			provideDispatcher,
			providePipeline,
			provideLoader,
			provideSyncEngine,
			provideCollector,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = session.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("config %s: server_url is required", path)
	}
	return cfg, nil
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

func provideToken(p Params, cfg *config.Config) (Token, error) {
	token, err := session.LoadToken(p.SessionName, cfg.CredentialPath)
	if err != nil {
		return "", err
	}
	return Token(token), nil
}

func provideIdentity(token Token, client *rest.Client, logger *zap.Logger) (UserID, error) {
	if id, err := session.TokenIdentity(string(token)); err == nil {
		return UserID(id), nil
	}
	// Opaque token; ask the server who we are.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	profile, err := client.Profile(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve own identity: %w", err)
	}
	logger.Info("identity resolved from profile", zap.Int64("user_id", profile.ID))
	return UserID(fmt.Sprintf("%d", profile.ID)), nil
}

func provideRESTClient(cfg *config.Config, token Token) *rest.Client {
	return rest.NewClient(cfg.ServerURL, string(token))
}

func provideStore(b *bus.Bus, logger *zap.Logger) *convo.Store {
	return convo.NewStore(b, logger)
}

func provideSocketManager(cfg *config.Config, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *socket.Manager {
	return socket.NewManager(socket.Config{
		URL:         cfg.SocketEndpoint(),
		DialTimeout: cfg.DialTimeout(),
		BackoffBase: cfg.ReconnectBase(),
		BackoffMax:  cfg.ReconnectMax(),
		MaxAttempts: cfg.ReconnectRetries,
	}, nil, b, machine, logger)
}

func provideDispatcher(b *bus.Bus, logger *zap.Logger) *dispatch.Dispatcher {
	return dispatch.New(b, logger)
}

func providePipeline(manager *socket.Manager, store *convo.Store, b *bus.Bus, self UserID, cfg *config.Config, logger *zap.Logger) *outbox.Pipeline {
	return outbox.NewPipeline(manager, store, b, string(self), cfg.SendRatePerSecond, cfg.SendBurst, logger)
}

func provideLoader(client *rest.Client, store *convo.Store, self UserID, logger *zap.Logger) *history.Loader {
	return history.NewLoader(client, store, string(self), logger)
}

func provideSyncEngine(d *dispatch.Dispatcher, store *convo.Store, p *outbox.Pipeline, b *bus.Bus, self UserID, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(d, store, p, b, string(self), logger)
}

func provideCollector(b *bus.Bus, logger *zap.Logger) *metrics.Collector {
	return metrics.NewCollector(b, logger)
}

func registerLifecycle(
	lc fx.Lifecycle,
	srv *Server,
	lk *lock.Lock,
	manager *socket.Manager,
	dispatcher *dispatch.Dispatcher,
	engine *intsync.Engine,
	pipeline *outbox.Pipeline,
	collector *metrics.Collector,
	token Token,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			collector.Start(context.Background())
			dispatcher.Start(context.Background())
			engine.Start()
			pipeline.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("metrics server error", zap.Error(err))
				}
			}()

			// Establishment is asynchronous; dial failures surface
			// through the state machine and reconnect on their own.
			if err := manager.Connect(string(token)); err != nil {
				return err
			}
			logger.Info("daemon started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			manager.Disconnect()
			pipeline.Stop()
			engine.Stop()
			dispatcher.Stop()
			collector.Stop()
			srv.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
