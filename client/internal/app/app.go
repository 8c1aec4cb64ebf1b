package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"drivepower/client/internal/api"
	"drivepower/client/internal/auth"
	"drivepower/client/internal/bookings"
	"drivepower/client/internal/cache"
	"drivepower/client/internal/chat"
	"drivepower/client/internal/config"
	"drivepower/client/internal/modal"
	"drivepower/client/internal/stations"
	"drivepower/client/internal/tokenstore"
	"drivepower/libs/db"
	"drivepower/libs/redis"
)

// App wires the client stores for one process.
type App struct {
	Auth     *auth.Store
	Stations *stations.Store
	Bookings *bookings.Store
	Chat     *chat.Session
	Modals   *modal.Store

	cfg       *config.Config
	logger    *zap.Logger
	redis     *goredis.Client
	db        *sql.DB
	scheduler *Scheduler
}

// New builds the application graph.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger, Modals: modal.NewStore()}

	if cfg.RedisEnabled() {
		rc, err := redis.Connect(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err != nil {
			return nil, fmt.Errorf("app: connect redis: %w", err)
		}
		a.redis = rc
	}

	tokens, err := a.tokenStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	httpClient := api.NewDefaultHTTPClient(cfg.HTTPTimeout())
	base := api.NewClient(cfg.APIBaseURL(), httpClient, logger.Named("api"))

	a.Auth = auth.NewStore(base, tokens, auth.NewTokenDecoder(cfg.Auth.JWTSecret), logger.Named("auth"))
	authed := base.WithTokenSource(a.Auth)

	var snapshots stations.SnapshotCache
	if a.redis != nil {
		snapshots = cache.NewRedisStations(a.redis, cfg.Cache.StationsTTL)
	}
	a.Stations = stations.NewStore(authed, a.Auth, snapshots, logger.Named("stations"))
	a.Bookings = bookings.NewStore(authed, a.Auth, logger.Named("bookings"))

	hubURL := cfg.Hub.URL
	if hubURL == "" {
		hubURL, err = chat.HubURL(cfg.APIBaseURL(), cfg.Hub.Path)
		if err != nil {
			a.Close()
			return nil, err
		}
	}
	dialer := chat.NewWebSocketDialer(chat.HubOptions{
		URL:              hubURL,
		HandshakeTimeout: cfg.Hub.HandshakeTimeout,
		PingInterval:     cfg.Hub.PingInterval,
		ReadTimeout:      cfg.Hub.ReadTimeout,
		WriteTimeout:     cfg.Hub.WriteTimeout,
	}, logger.Named("hub"))
	a.Chat = chat.NewSession(authed, dialer, a.Auth, logger.Named("chat"))

	a.scheduler = NewScheduler(logger.Named("scheduler"))
	return a, nil
}

func (a *App) tokenStore(ctx context.Context) (tokenstore.Store, error) {
	ts := a.cfg.TokenStore
	switch ts.Driver {
	case config.TokenStoreMemory:
		return tokenstore.NewMemoryStore(), nil
	case config.TokenStoreRedis:
		if a.redis == nil {
			return nil, fmt.Errorf("app: redis token store requires a redis addr")
		}
		return tokenstore.NewRedisStore(a.redis, ts.Key, ts.TTL), nil
	case config.TokenStorePostgres:
		sqlDB, err := db.Open(ctx, db.Options{DSN: a.cfg.Database.DSN})
		if err != nil {
			return nil, fmt.Errorf("app: connect postgres: %w", err)
		}
		a.db = sqlDB
		store := tokenstore.NewPostgresStore(sqlDB, ts.Key)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("app: token schema: %w", err)
		}
		return store, nil
	default:
		return tokenstore.NewFileStore(resolvePath(ts.Path), ts.Passphrase), nil
	}
}

// resolvePath anchors relative token paths in the user's home directory.
func resolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path)
}

// Restore rebuilds the session from durable storage and seeds the station cache.
func (a *App) Restore(ctx context.Context) bool {
	authenticated := a.Auth.CheckAuth(ctx)
	if n, err := a.Stations.Warm(ctx); err != nil {
		a.logger.Debug("station snapshot unavailable", zap.Error(err))
	} else if n > 0 {
		a.logger.Debug("station cache warmed", zap.Int("stations", n))
	}
	return authenticated
}

// StartScheduler registers the background jobs and starts them.
func (a *App) StartScheduler() error {
	if err := a.scheduler.Add(a.cfg.Schedule.SessionCheck, "session-check", SessionCheckJob(a.Auth, a.Chat, a.cfg.Schedule.ExpiryWarning, a.logger)); err != nil {
		return err
	}
	if err := a.scheduler.Add(a.cfg.Schedule.StationsRefresh, "stations-refresh", StationsRefreshJob(a.Auth, a.Stations)); err != nil {
		return err
	}
	a.scheduler.Start()
	return nil
}

// Close releases resources.
func (a *App) Close() {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.Chat != nil {
		a.Chat.Disconnect()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
}
