package daemon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/matheus3301/courier/internal/api"
	"github.com/matheus3301/courier/internal/cache"
	"github.com/matheus3301/courier/internal/config"
	"github.com/matheus3301/courier/internal/gateway"
	"github.com/matheus3301/courier/internal/hub"
	"github.com/matheus3301/courier/internal/identity"
	"github.com/matheus3301/courier/internal/index"
	"github.com/matheus3301/courier/internal/lock"
	"github.com/matheus3301/courier/internal/logging"
	"github.com/matheus3301/courier/internal/messaging"
	"github.com/matheus3301/courier/internal/paths"
	"github.com/matheus3301/courier/internal/status"
	"github.com/matheus3301/courier/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds command line overrides passed to the fx module.
type Params struct {
	ConfigPath string // empty = ~/.courier/config.toml, defaults if missing
	DataDir    string // overrides config data_dir
	SocketPath string // optional override for testing; empty = use default
	HTTPAddr   string // overrides config http_addr; "off" disables the gateway
}

// Layout is the resolved on-disk layout of the running daemon.
type Layout struct {
	DataDir string
	Socket  string
	DB      string
	Log     string
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLayout,
			provideLogger,
			provideStateMachine,
			provideLock,
			provideStore,
			provideCache,
			provideIndex,
			provideHub,
			provideService,
			provideDirectory,
			provideMonitor,
			provideAPI,
			provideGateway,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = paths.ConfigPath()
	}
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) && p.ConfigPath == "" {
		return config.Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLayout(p Params, cfg *config.Config) (Layout, error) {
	dir := paths.Resolve(p.DataDir, cfg.DataDir)
	if err := paths.EnsureDir(dir); err != nil {
		return Layout{}, err
	}
	socket := p.SocketPath
	if socket == "" {
		socket = paths.Expand(cfg.Socket)
	}
	if socket == "" {
		socket = paths.SocketPath(dir)
	}
	return Layout{
		DataDir: dir,
		Socket:  socket,
		DB:      paths.DBPath(dir),
		Log:     paths.LogPath(dir),
	}, nil
}

func provideLogger(l Layout, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(l.Log, cfg.LogLevel)
}

func provideStateMachine(logger *zap.Logger) *status.Machine {
	return status.NewMachine(logger)
}

func provideLock(l Layout, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring data directory lock", zap.String("dir", l.DataDir))
	lk, err := lock.Acquire(l.DataDir, l.Socket)
	if err != nil {
		return nil, err
	}
	logger.Info("data directory lock acquired", zap.Int("pid", lk.Owner().PID))
	return lk, nil
}

// provideStore depends on the lock so no second daemon opens the database.
func provideStore(l Layout, cfg *config.Config, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(l.DB, store.WithMaxContentBytes(cfg.MaxContentBytes))
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("from", result.From), zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", l.DB))
	return db, nil
}

func provideCache(cfg *config.Config, logger *zap.Logger) (cache.Cache, error) {
	if cfg.Cache.Backend != config.CacheRedis {
		logger.Info("summary cache", zap.String("backend", config.CacheMemory))
		return cache.NewMemory(), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := cache.NewRedis(ctx, cfg.Cache.RedisURL, "courier:")
	if err != nil {
		return nil, fmt.Errorf("summary cache: %w", err)
	}
	logger.Info("summary cache", zap.String("backend", config.CacheRedis))
	return c, nil
}

func provideIndex(db *store.DB, c cache.Cache, cfg *config.Config, logger *zap.Logger) *index.Index {
	return index.New(db, c, cfg.Cache.TTL.Duration, logger.Named("index"))
}

func provideHub(cfg *config.Config, logger *zap.Logger) *hub.Hub {
	return hub.New(cfg.Hub.QueueSize, logger.Named("hub"))
}

func provideService(db *store.DB, idx *index.Index, h *hub.Hub, cfg *config.Config, logger *zap.Logger) *messaging.Service {
	return messaging.New(db, idx, h, messaging.Options{
		StoreTimeout:   cfg.StoreTimeout.Duration,
		RetryAttempts:  cfg.Retry.Attempts,
		RetryBaseDelay: cfg.Retry.BaseDelay.Duration,
	}, logger.Named("messaging"))
}

func provideDirectory(cfg *config.Config, logger *zap.Logger) *identity.Directory {
	dir := identity.NewDirectory(cfg.Users)
	logger.Info("user directory loaded", zap.Int("users", dir.Len()))
	return dir
}

func provideMonitor(m *status.Machine, db *store.DB, c cache.Cache, logger *zap.Logger) *status.Monitor {
	return status.NewMonitor(m, status.DefaultInterval, logger.Named("health"),
		status.Check{Name: "store", Probe: db.PingContext},
		status.Check{Name: "cache", Probe: c.Ping},
	)
}

func provideAPI(svc *messaging.Service, dir *identity.Directory, m *status.Machine, logger *zap.Logger) *api.Server {
	return api.NewServer(svc, identity.Metadata{}, dir, m, logger.Named("api"))
}

// provideGateway returns nil when the gateway is disabled.
func provideGateway(p Params, cfg *config.Config, svc *messaging.Service, dir *identity.Directory, m *status.Machine, logger *zap.Logger) *gateway.Server {
	addr := cfg.HTTPAddr
	if p.HTTPAddr != "" {
		addr = p.HTTPAddr
	}
	if addr == "" || addr == "off" {
		logger.Info("websocket gateway disabled")
		return nil
	}
	gw := gateway.New(svc, dir, m, logger.Named("gateway"))
	return gateway.NewServer(addr, gw, logger.Named("gateway"))
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, gw *gateway.Server, monitor *status.Monitor, machine *status.Machine, h *hub.Hub, c cache.Cache, db *store.DB, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if gw != nil {
				if err := gw.Start(); err != nil {
					return fmt.Errorf("start gateway: %w", err)
				}
			}

			// First probe moves BOOTING to READY or DEGRADED.
			monitor.Start(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			_ = machine.Transition(status.Stopping, "shutdown")
			monitor.Stop()
			// Closing the hub ends watch streams and websocket pushes so the
			// servers can drain.
			h.Close()
			if gw != nil {
				if err := gw.Stop(ctx); err != nil {
					logger.Warn("gateway shutdown", zap.Error(err))
				}
			}
			srv.Stop(ctx)
			if err := c.Close(); err != nil {
				logger.Warn("error closing cache", zap.Error(err))
			}
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
