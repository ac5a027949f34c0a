package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Remote is the server-side session surface the synchronizer talks to.
type Remote interface {
	ListSessions(ctx context.Context, userID string) ([]Session, error)
	CreateSession(ctx context.Context, sess Session) error
	UpdateSession(ctx context.Context, sess Session) error
	DeleteSession(ctx context.Context, sessionID string) error
}

// Synchronizer keeps the local session cache reconciled with the
// authoritative server-side list and mirrors local mutations back. It
// runs independently of message streaming and never blocks it.
type Synchronizer struct {
	store    *Store
	remote   Remote
	userID   string
	interval time.Duration
	logger   *slog.Logger
}

// NewSynchronizer creates a synchronizer polling the remote at the
// given interval. A zero interval defaults to 2s.
func NewSynchronizer(store *Store, remote Remote, userID string, interval time.Duration, logger *slog.Logger) *Synchronizer {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		store:    store,
		remote:   remote,
		userID:   userID,
		interval: interval,
		logger:   logger,
	}
}

// Run reconciles continuously until the context is canceled. Transient
// list failures are logged and retried on the next tick.
func (sy *Synchronizer) Run(ctx context.Context) {
	ticker := time.NewTicker(sy.interval)
	defer ticker.Stop()

	for {
		if err := sy.SyncOnce(ctx); err != nil {
			sy.logger.Warn("session reconciliation failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SyncOnce performs a single reconciliation pass.
func (sy *Synchronizer) SyncOnce(ctx context.Context) error {
	server, err := sy.remote.ListSessions(ctx, sy.userID)
	if err != nil {
		return fmt.Errorf("failed to list server sessions: %w", err)
	}
	sy.store.Reconcile(server)
	return nil
}

// CreateSession creates a session optimistically: the local record and
// active pointer are set before the server write. A failed server write
// is logged but the optimistic record is kept; reconciliation surfaces
// any divergence rather than silently merging it.
func (sy *Synchronizer) CreateSession(ctx context.Context, title string) (string, error) {
	sess := sy.store.Create(title, sy.userID)
	if err := sy.remote.CreateSession(ctx, sess); err != nil {
		sy.logger.Error("failed to mirror session to server", "session_id", sess.SessionID, "error", err)
		return sess.SessionID, fmt.Errorf("failed to create server session: %w", err)
	}
	return sess.SessionID, nil
}

// SwitchSession changes the active session pointer.
func (sy *Synchronizer) SwitchSession(sessionID string) error {
	if !sy.store.Switch(sessionID) {
		return fmt.Errorf("unknown session: %s", sessionID)
	}
	return nil
}

// DeleteSession removes the session locally and server-side.
func (sy *Synchronizer) DeleteSession(ctx context.Context, sessionID string) error {
	sy.store.Delete(sessionID)
	if err := sy.remote.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete server session: %w", err)
	}
	return nil
}

// RenameSession renames the session locally and server-side.
func (sy *Synchronizer) RenameSession(ctx context.Context, sessionID, title string) error {
	sy.store.Rename(sessionID, title)
	sess, ok := sy.store.Get(sessionID)
	if !ok {
		return fmt.Errorf("unknown session: %s", sessionID)
	}
	if err := sy.remote.UpdateSession(ctx, sess); err != nil {
		return fmt.Errorf("failed to update server session: %w", err)
	}
	return nil
}
