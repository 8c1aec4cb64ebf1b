package app

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SessionGuard is the slice of the auth store the session job needs.
type SessionGuard interface {
	CheckAuth(ctx context.Context) bool
	ExpiresWithin(window time.Duration) bool
}

// Disconnector tears down realtime connections.
type Disconnector interface {
	Disconnect()
}

// StationRefresher reloads the station directory.
type StationRefresher interface {
	FetchStations(ctx context.Context) error
}

// Authenticated reports whether a session is active.
type Authenticated interface {
	IsAuthenticated() bool
}

// SessionCheckJob re-validates the persisted token. An expired session drops the
// realtime connection; a session close to expiry is logged.
func SessionCheckJob(guard SessionGuard, hub Disconnector, warning time.Duration, logger *zap.Logger) Job {
	return func(ctx context.Context) error {
		if !guard.CheckAuth(ctx) {
			if hub != nil {
				hub.Disconnect()
			}
			return nil
		}
		if warning > 0 && guard.ExpiresWithin(warning) {
			logger.Warn("session expires soon, sign in again to continue", zap.Duration("within", warning))
		}
		return nil
	}
}

// StationsRefreshJob refetches the station list while signed in.
func StationsRefreshJob(session Authenticated, stations StationRefresher) Job {
	return func(ctx context.Context) error {
		if !session.IsAuthenticated() {
			return nil
		}
		return stations.FetchStations(ctx)
	}
}
