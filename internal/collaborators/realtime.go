package collaborators

import (
	"context"
	"log/slog"
)

// Realtime broadcasts best-effort JSON events to a single user or to every
// connected admin. Per-user/per-admin socket ownership and fan-out live
// entirely behind this interface; the dispatch core only ever calls these
// two operations and never holds a database lock while doing so.
type Realtime interface {
	SendToUser(ctx context.Context, userID string, payload any) error
	BroadcastToAdmins(ctx context.Context, payload any) error
}

// LoggingRealtime is a Realtime that only logs; it stands in for a real
// WebSocket hub until one is wired.
type LoggingRealtime struct {
	logger *slog.Logger
}

// NewLoggingRealtime creates a Realtime that logs instead of broadcasting.
func NewLoggingRealtime(logger *slog.Logger) *LoggingRealtime {
	return &LoggingRealtime{logger: logger}
}

// SendToUser implements Realtime.
func (r *LoggingRealtime) SendToUser(ctx context.Context, userID string, payload any) error {
	r.logger.Debug("realtime send to user", slog.String("user_id", userID), slog.Any("payload", payload))
	return nil
}

// BroadcastToAdmins implements Realtime.
func (r *LoggingRealtime) BroadcastToAdmins(ctx context.Context, payload any) error {
	r.logger.Debug("realtime broadcast to admins", slog.Any("payload", payload))
	return nil
}

var _ Realtime = (*LoggingRealtime)(nil)
