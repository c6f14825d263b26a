package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chatchick/chatd/internal/bus"
	"github.com/chatchick/chatd/internal/config"
	"github.com/chatchick/chatd/internal/convo"
	"github.com/chatchick/chatd/internal/dispatch"
	"github.com/chatchick/chatd/internal/history"
	"github.com/chatchick/chatd/internal/outbox"
	"github.com/chatchick/chatd/internal/rest"
	"github.com/chatchick/chatd/internal/session"
	"github.com/chatchick/chatd/internal/socket"
	"github.com/chatchick/chatd/internal/status"
	intsync "github.com/chatchick/chatd/internal/sync"
)

var (
	sessionFlag string
	configFlag  string
)

var rootCmd = &cobra.Command{
	Use:   "chatctl",
	Short: "Operator CLI for the chatchick messaging service",
	Long:  "Send messages, follow conversations, and manage the social graph\nof a chatchick session from the command line.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&sessionFlag, "session", "", "session name (overrides config default)")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "config file path (default ~/.chatd/config.toml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup is the resolved environment every subcommand starts from.
type setup struct {
	session string
	cfg     *config.Config
	token   string
	self    string
	client  *rest.Client
}

func loadSetup() (*setup, error) {
	name := session.Resolve(sessionFlag)
	if err := session.ValidateName(name); err != nil {
		return nil, err
	}

	path := configFlag
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

	token, err := session.LoadToken(name, cfg.CredentialPath)
	if err != nil {
		return nil, err
	}

	client := rest.NewClient(cfg.ServerURL, token)
	self, err := session.TokenIdentity(token)
	if err != nil {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout())
		defer cancel()
		profile, perr := client.Profile(ctx)
		if perr != nil {
			return nil, fmt.Errorf("resolve own identity: %w", perr)
		}
		self = fmt.Sprintf("%d", profile.ID)
	}

	return &setup{session: name, cfg: cfg, token: token, self: self, client: client}, nil
}

// liveSession is a short-lived in-process instance of the sync stack, used
// by the send and tail commands when no daemon is required.
type liveSession struct {
	*setup
	bus        *bus.Bus
	machine    *status.Machine
	manager    *socket.Manager
	dispatcher *dispatch.Dispatcher
	store      *convo.Store
	pipeline   *outbox.Pipeline
	engine     *intsync.Engine
	loader     *history.Loader
}

func connectLive(ctx context.Context, s *setup) (*liveSession, error) {
	logger := zap.NewNop()
	b := bus.New()
	machine := status.NewMachine(b)
	store := convo.NewStore(b, logger)
	manager := socket.NewManager(socket.Config{
		URL:         s.cfg.SocketEndpoint(),
		DialTimeout: s.cfg.DialTimeout(),
		BackoffBase: s.cfg.ReconnectBase(),
		BackoffMax:  s.cfg.ReconnectMax(),
		MaxAttempts: s.cfg.ReconnectRetries,
	}, nil, b, machine, logger)
	dispatcher := dispatch.New(b, logger)
	pipeline := outbox.NewPipeline(manager, store, b, s.self, s.cfg.SendRatePerSecond, s.cfg.SendBurst, logger)
	engine := intsync.NewEngine(dispatcher, store, pipeline, b, s.self, logger)
	loader := history.NewLoader(s.client, store, s.self, logger)

	dispatcher.Start(ctx)
	engine.Start()
	pipeline.Start(ctx)

	live := &liveSession{
		setup:      s,
		bus:        b,
		machine:    machine,
		manager:    manager,
		dispatcher: dispatcher,
		store:      store,
		pipeline:   pipeline,
		engine:     engine,
		loader:     loader,
	}
	if err := live.waitConnected(ctx); err != nil {
		live.close()
		return nil, err
	}
	return live, nil
}

// waitConnected blocks until the socket is up or establishment fails.
func (l *liveSession) waitConnected(ctx context.Context) error {
	states, unsub := l.bus.Subscribe("session.state_changed", 16)
	defer unsub()

	if err := l.manager.Connect(l.token); err != nil {
		return err
	}
	for {
		switch l.machine.Current() {
		case status.Connected:
			return nil
		case status.Failed:
			return fmt.Errorf("connection failed: %s", l.machine.Reason())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-states:
		}
	}
}

func (l *liveSession) close() {
	l.manager.Disconnect()
	l.pipeline.Stop()
	l.engine.Stop()
	l.dispatcher.Stop()
}
