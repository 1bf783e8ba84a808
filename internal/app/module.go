package app

import (
	"context"
	"strings"

	"github.com/cabachat/caba/internal/backend"
	"github.com/cabachat/caba/internal/bus"
	"github.com/cabachat/caba/internal/channel"
	"github.com/cabachat/caba/internal/config"
	"github.com/cabachat/caba/internal/lock"
	"github.com/cabachat/caba/internal/logging"
	"github.com/cabachat/caba/internal/prefs"
	"github.com/cabachat/caba/internal/session"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session and backend configuration passed to
// the fx module.
type Params struct {
	SessionName string
	Backend     config.Backend
	Email       string
	Password    string
}

// Module returns the fx module for the client, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("caba",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			providePrefs,
			provideAuth,
			provideClient,
			provideRealtime,
			provideAdapter,
			provideSessionContext,
			NewApp,
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

func providePrefs(p Params, logger *zap.Logger) (*prefs.DB, error) {
	dbPath := session.PrefsDBPath(p.SessionName)
	db, err := prefs.Open(dbPath)
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
	logger.Info("prefs initialized", zap.String("path", dbPath))
	return db, nil
}

func provideAuth(p Params, logger *zap.Logger) *backend.Auth {
	return backend.NewAuth(p.Backend.URL, p.Backend.AnonKey, logger)
}

func provideClient(p Params, auth *backend.Auth, logger *zap.Logger) *backend.Client {
	c := backend.NewClient(p.Backend.URL, p.Backend.AnonKey, logger)
	c.SetTokenSource(auth.Token)
	return c
}

func provideRealtime(p Params, logger *zap.Logger) *backend.Realtime {
	return backend.NewRealtime(realtimeURL(p.Backend.URL), p.Backend.AnonKey, logger)
}

func provideAdapter(rt *backend.Realtime, b *bus.Bus, logger *zap.Logger) *channel.Adapter {
	return channel.New(rt, b, logger)
}

func provideSessionContext(p Params, b *bus.Bus) *session.Context {
	return session.NewContext(p.SessionName, b)
}

// realtimeURL derives the websocket endpoint from the REST base URL.
func realtimeURL(base string) string {
	ws := strings.Replace(base, "http", "ws", 1)
	return strings.TrimSuffix(ws, "/") + "/realtime/v1/websocket"
}

func registerLifecycle(lc fx.Lifecycle, p Params, a *App, rt *backend.Realtime, adapter *channel.Adapter, db *prefs.DB, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := rt.Connect(ctx); err != nil {
				return err
			}
			if p.Email == "" {
				logger.Info("no credentials given, sign-in required")
				return nil
			}
			return a.SignIn(ctx, p.Email, p.Password)
		},
		OnStop: func(context.Context) error {
			adapter.CloseAll()
			if err := rt.Close(); err != nil {
				logger.Warn("realtime close", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				logger.Warn("prefs close", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("client stopped")
			return nil
		},
	})
}
