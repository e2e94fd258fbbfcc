// Package command translates administrator intent arriving over the session
// socket into local effects: time grants, forced logout, restart/shutdown, and
// session seeding at registration time.
package command

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"gamedock/internal/api"
	"gamedock/internal/message"
	"gamedock/internal/session"
	"gamedock/internal/state"
	"gamedock/internal/ws"
)

// Connection is the handler-registration surface of the socket client.
type Connection interface {
	On(kind message.Kind, handler ws.Handler)
}

// SessionFetcher is the authoritative-session collaborator used to seed the
// countdown at connect/register time.
type SessionFetcher interface {
	FetchSession(ctx context.Context, sessionID string) (*api.Session, error)
}

// Config wires the dispatcher's collaborators and grace delays.
type Config struct {
	// Logout notifies the backend and clears local session state. Invoked
	// after LogoutGrace when an admin forces a logout.
	Logout func(ctx context.Context)
	// Restart reloads/restarts the client application. Invoked after
	// RestartGrace on SHUTDOWN_STATION and RESTART_STATION.
	Restart func()

	LogoutGrace  time.Duration
	RestartGrace time.Duration
}

func (c *Config) applyDefaults() {
	if c.LogoutGrace <= 0 {
		c.LogoutGrace = 2 * time.Second
	}
	if c.RestartGrace <= 0 {
		c.RestartGrace = 3 * time.Second
	}
}

// Dispatcher maps named admin commands to local state mutations and side
// effects. Every command is safe to receive more than once.
type Dispatcher struct {
	conn     Connection
	rec      *session.Reconciler
	fetcher  SessionFetcher
	store    state.Store
	notifier session.Notifier
	clock    clockwork.Clock
	logger   *zap.Logger
	cfg      Config
}

// NewDispatcher builds the dispatcher; Register must be called to attach it.
func NewDispatcher(conn Connection, rec *session.Reconciler, fetcher SessionFetcher, store state.Store, notifier session.Notifier, clock clockwork.Clock, logger *zap.Logger, cfg Config) *Dispatcher {
	cfg.applyDefaults()
	return &Dispatcher{
		conn:     conn,
		rec:      rec,
		fetcher:  fetcher,
		store:    store,
		notifier: notifier,
		clock:    clock,
		logger:   logger,
		cfg:      cfg,
	}
}

// Register attaches all command handlers to the connection. ctx bounds the
// side effects of every command received afterwards.
func (d *Dispatcher) Register(ctx context.Context) {
	for _, kind := range message.GrantKinds() {
		kind := kind
		d.conn.On(kind, func(msg *message.Message) { d.handleGrant(kind, msg) })
	}

	d.conn.On(message.KindLogoutUser, func(*message.Message) { d.handleLogout(ctx) })
	d.conn.On(message.KindShutdownStation, func(*message.Message) {
		d.handleRestart("Admin is shutting down the station")
	})
	d.conn.On(message.KindRestartStation, func(*message.Message) {
		d.handleRestart("Admin is restarting the station")
	})
	d.conn.On(message.KindStationRegistered, func(msg *message.Message) { d.handleRegistered(ctx, msg) })
	d.conn.On(message.KindSessionDetails, func(msg *message.Message) { d.handleRegistered(ctx, msg) })
}

func (d *Dispatcher) handleGrant(kind message.Kind, msg *message.Message) {
	d.rec.ApplyGrant(session.Grant{
		RequestID:      msg.RequestID,
		Minutes:        msg.Minutes,
		BonusCoins:     msg.BonusCoins,
		Source:         "push:" + string(kind),
		CompletesOrder: kind == message.KindTimeApproved,
	})
}

func (d *Dispatcher) handleLogout(ctx context.Context) {
	d.notify(session.Notification{Level: "error", Message: "Admin has logged you out"})
	d.clock.AfterFunc(d.cfg.LogoutGrace, func() {
		if ctx.Err() != nil {
			return
		}
		if d.cfg.Logout != nil {
			d.cfg.Logout(ctx)
		}
	})
}

func (d *Dispatcher) handleRestart(notice string) {
	d.notify(session.Notification{Level: "error", Message: notice})
	d.clock.AfterFunc(d.cfg.RestartGrace, func() {
		if d.cfg.Restart != nil {
			d.cfg.Restart()
		}
	})
}

// handleRegistered seeds the reconciler from the registration ack and then
// fetches the authoritative session record. Acks without session data fall
// back to the persisted session id, so an occupancy survives a client reload.
func (d *Dispatcher) handleRegistered(ctx context.Context, msg *message.Message) {
	sessionID := msg.SessionID
	if sessionID == "" && d.store != nil {
		saved, err := d.store.Get(ctx, state.KeySessionID)
		if err == nil {
			sessionID = saved
		} else if !errors.Is(err, state.ErrNotFound) {
			d.logger.Warn("failed to read persisted session id", zap.Error(err))
		}
	}
	if sessionID == "" {
		d.logger.Info("station registered, waiting for user login")
		return
	}

	if d.store != nil && msg.SessionID != "" {
		if err := d.store.Set(ctx, state.KeySessionID, msg.SessionID); err != nil {
			d.logger.Warn("failed to persist session id", zap.Error(err))
		}
	}

	d.rec.Seed(sessionID, msg.RemainingSeconds, msg.HasRemaining)
	d.logger.Info("station registered with active session",
		zap.String("session_id", sessionID),
		zap.Bool("ack_carried_countdown", msg.HasRemaining))

	go d.refreshSession(ctx, sessionID)
}

func (d *Dispatcher) refreshSession(ctx context.Context, sessionID string) {
	sess, err := d.fetcher.FetchSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, api.ErrNotAuthenticated) {
			d.notify(session.Notification{Level: "error", Message: "You are not logged in or your session expired."})
		}
		d.logger.Warn("authoritative session fetch failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return
	}
	d.rec.Sync(sess)
}

func (d *Dispatcher) notify(n session.Notification) {
	if d.notifier != nil {
		d.notifier.Notify(n)
	}
}
