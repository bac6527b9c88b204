package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/terra-clan/apprentice-engine/internal/models"
)

// Sessions is the part of the session manager the reaper needs
type Sessions interface {
	GetExpired(ctx context.Context) ([]*models.Session, error)
	Delete(ctx context.Context, id string) error
}

// Cleaner handles periodic cleanup of idle sessions
type Cleaner struct {
	sessions Sessions
	interval time.Duration
}

// NewCleaner creates a new cleanup worker
func NewCleaner(sessions Sessions, interval time.Duration) *Cleaner {
	if interval <= 0 {
		interval = time.Minute
	}

	return &Cleaner{
		sessions: sessions,
		interval: interval,
	}
}

// Start begins the cleanup worker in a goroutine
func (c *Cleaner) Start(ctx context.Context) {
	go c.run(ctx)
}

// run is the main loop for the cleanup worker
func (c *Cleaner) run(ctx context.Context) {
	slog.Info("cleanup worker started", "interval", c.interval)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup worker stopped")
			return
		case <-ticker.C:
			c.Cleanup(ctx)
		}
	}
}

// Cleanup deletes expired sessions, cancelling their in-flight work, and
// returns how many were removed
func (c *Cleaner) Cleanup(ctx context.Context) int {
	slog.Debug("running cleanup cycle")

	expired, err := c.sessions.GetExpired(ctx)
	if err != nil {
		slog.Error("failed to get expired sessions", "error", err)
		return 0
	}

	if len(expired) == 0 {
		slog.Debug("no expired sessions found")
		return 0
	}

	slog.Info("found expired sessions", "count", len(expired))

	removed := 0
	for _, s := range expired {
		attrs := []any{"session_id", s.ID, "state", s.State, "expired_at", s.ExpiresAt}
		if s.Profile != nil {
			attrs = append(attrs, "user_id", s.Profile.ID)
		}
		slog.Info("deleting expired session", attrs...)

		if err := c.sessions.Delete(ctx, s.ID); err != nil {
			slog.Error("failed to delete expired session",
				"error", err,
				"session_id", s.ID,
			)
			continue
		}
		removed++
	}
	return removed
}
