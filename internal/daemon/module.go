package daemon

import (
	"context"

	"github.com/matheus3301/wppdash/internal/api"
	"github.com/matheus3301/wppdash/internal/bus"
	"github.com/matheus3301/wppdash/internal/config"
	"github.com/matheus3301/wppdash/internal/lock"
	"github.com/matheus3301/wppdash/internal/logging"
	"github.com/matheus3301/wppdash/internal/manager"
	"github.com/matheus3301/wppdash/internal/outbox"
	"github.com/matheus3301/wppdash/internal/persist"
	"github.com/matheus3301/wppdash/internal/session"
	"github.com/matheus3301/wppdash/internal/status"
	"github.com/matheus3301/wppdash/internal/store"
	"github.com/matheus3301/wppdash/internal/wa"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
	Config      *config.Config
	Version     string
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
			provideRegistry,
			provideStore,
			provideEngine,
			provideOutbox,
			provideSendLog,
			provideManager,
			provideHub,
			provideAPI,
			NewHTTPServer,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName, p.config().LogLevel)
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
	l, err := lock.Acquire(session.Dir(p.SessionName), lock.Info{Listen: p.config().HTTP.Listen})
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideRegistry returns a private registry so /metrics only exposes this
// daemon's collectors plus the runtime ones.
func provideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func provideStore(p Params, b *bus.Bus, logger *zap.Logger) *store.Store {
	return store.New(b, logger.Named("store"), store.Options{
		DedupWindow: p.config().Dedup.Window.Duration,
	})
}

// provideEngine depends on the lock so no other daemon touches the data
// files while it runs.
func provideEngine(p Params, _ *lock.Lock, st *store.Store, b *bus.Bus, reg *prometheus.Registry, logger *zap.Logger) (*persist.Engine, error) {
	cfg := p.config().Persistence
	engine, err := persist.New(session.DataDir(p.SessionName), session.BackupDir(p.SessionName), st, b, logger.Named("persist"), persist.Options{
		FlushInterval:  cfg.FlushInterval.Duration,
		BackupInterval: cfg.BackupInterval.Duration,
		BackupBurst:    cfg.BackupBurst,
		Retention:      cfg.BackupRetention,
		MaxMessages:    cfg.MaxMessagesPerChat,
		Version:        p.Version,
		Registerer:     reg,
	})
	if err != nil {
		return nil, err
	}
	st.SetTracker(engine)
	return engine, nil
}

func provideOutbox(p Params, _ *lock.Lock, logger *zap.Logger) (*outbox.DB, error) {
	dbPath := session.OutboxDBPath(p.SessionName)
	db, err := outbox.Open(dbPath)
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
	logger.Info("send log initialized", zap.String("path", dbPath))
	return db, nil
}

func provideSendLog(db *outbox.DB, logger *zap.Logger) *outbox.Log {
	return outbox.NewLog(db, logger.Named("outbox"))
}

func provideManager(p Params, st *store.Store, engine *persist.Engine, sendLog *outbox.Log, machine *status.Machine, b *bus.Bus, reg *prometheus.Registry, logger *zap.Logger) *manager.Manager {
	cfg := p.config()
	dbPath := session.SessionDBPath(p.SessionName)
	waLogger := logger.Named("wa")

	factory := func(ctx context.Context, sink manager.EventSink) (manager.Client, error) {
		a, err := wa.NewAdapter(ctx, wa.Options{
			DBPath:     dbPath,
			DeviceName: cfg.Connection.DeviceName,
		}, sink, waLogger)
		if err != nil {
			return nil, err
		}
		return a, nil
	}

	return manager.New(st, engine, sendLog, machine, b, factory, logger.Named("manager"), manager.Options{
		ReconnectDelay: cfg.Connection.ReconnectDelay.Duration,
		RestartDelay:   cfg.Connection.RestartDelay.Duration,
		ClearAuth:      func() error { return wa.ClearAuth(dbPath) },
		Registerer:     reg,
	})
}

func provideHub(b *bus.Bus, logger *zap.Logger) *api.Hub {
	return api.NewHub(b, logger.Named("ws"))
}

func provideAPI(p Params, mgr *manager.Manager, hub *api.Hub, reg *prometheus.Registry, logger *zap.Logger) *api.Server {
	cfg := p.config().HTTP
	return api.NewServer(mgr, hub, logger.Named("http"), api.Options{
		SendRate:   cfg.SendRate,
		SendBurst:  cfg.SendBurst,
		Registerer: reg,
		Gatherer:   reg,
	})
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, httpSrv *HTTPServer, lk *lock.Lock, engine *persist.Engine, db *outbox.DB, mgr *manager.Manager, hub *api.Hub, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Restore persisted state before anything can mutate the store.
			engine.Load()
			engine.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("control socket error", zap.Error(err))
				}
			}()
			go func() {
				if err := httpSrv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()

			go func() {
				if err := mgr.Initialize(context.Background()); err != nil {
					logger.Error("initialize whatsapp client", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			for _, step := range stopSequence(srv, httpSrv, engine, mgr, hub) {
				step.run(ctx)
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing send log", zap.Error(err))
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

type stopStep struct {
	name string
	run  func(context.Context)
}

// stopSequence orders teardown. The HTTP API and websocket hub close before
// the manager's final save so no request can change state after it.
func stopSequence(srv *Server, httpSrv *HTTPServer, engine *persist.Engine, mgr *manager.Manager, hub *api.Hub) []stopStep {
	return []stopStep{
		{"http", httpSrv.Stop},
		{"hub", func(context.Context) { hub.Close() }},
		{"manager", mgr.Shutdown},
		{"persist", func(context.Context) { engine.Stop() }},
		{"control", srv.Stop},
	}
}
