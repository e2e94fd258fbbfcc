// Package app wires the station agent's dependency graph and owns the
// app-level session lifecycle: user login/logout, purchases, and teardown.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"gamedock/internal/api"
	"gamedock/internal/command"
	"gamedock/internal/config"
	"gamedock/internal/message"
	"gamedock/internal/session"
	"gamedock/internal/state"
	"gamedock/internal/station"
	"gamedock/internal/ws"
)

// ErrRestartRequested is returned from Run when an admin command asked for a
// station restart/shutdown; the process supervisor brings the agent back up.
var ErrRestartRequested = errors.New("app: station restart requested")

// ErrNoTimeRemaining is returned when a game launch is refused because the
// countdown is exhausted.
var ErrNoTimeRemaining = errors.New("app: no time remaining")

// tokenPath is the backend endpoint issuing station bearer credentials.
const tokenPath = "/auth/dummy-admin-token"

// App is the assembled station agent.
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	clock  clockwork.Clock

	store     state.Store
	apiClient *api.Client
	identity  station.Identity
	conn      *ws.Client
	rec       *session.Reconciler

	notifications chan session.Notification
	restartCh     chan struct{}
	restartOnce   sync.Once

	userMu     sync.Mutex
	userID     string
	username   string
	activeGame string
}

// New constructs the application graph. The socket is not dialed and no
// timers run until Run.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{
		cfg:           cfg,
		logger:        logger,
		clock:         clockwork.NewRealClock(),
		notifications: make(chan session.Notification, 32),
		restartCh:     make(chan struct{}),
	}

	store, err := newStore(cfg)
	if err != nil {
		return nil, err
	}
	a.store = store

	tokens := api.NewTokenSource(cfg.Server.APIBaseURL+tokenPath, nil, store, logger)
	a.apiClient = api.NewClient(cfg.Server.APIBaseURL, tokens, logger)

	// A kiosk often boots before its network; the directory lookup retries
	// until the backend answers or the process is told to stop.
	identity, err := station.ResolveWithRetry(ctx, cfg.Station.ID, cfg.Station.Name,
		a.apiClient, a.clock, cfg.Socket.ReconnectDelay, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("app: resolve station identity: %w", err)
	}
	a.identity = identity

	a.conn = ws.NewClient(ws.Config{
		URL:              cfg.Server.WSURL,
		ReconnectDelay:   cfg.Socket.ReconnectDelay,
		HandshakeTimeout: cfg.Socket.HandshakeTimeout,
		WriteTimeout:     cfg.Socket.WriteTimeout,
	}, identity, a.clock, logger)

	a.rec = session.New(a.apiClient, a.clock, session.NotifierFunc(a.publish), logger, session.Config{
		TickInterval:  cfg.Session.TickInterval,
		PollInterval:  cfg.Session.PollInterval,
		BonusInterval: cfg.Session.BonusIntervalSeconds,
		BonusCoins:    cfg.Session.BonusCoins,
	})

	return a, nil
}

func newStore(cfg *config.Config) (state.Store, error) {
	if cfg.State.Backend == "redis" {
		return state.NewRedisStore(cfg.State.Redis.Addr, cfg.State.Redis.Password, cfg.Station.ID)
	}
	return state.NewFileStore(cfg.State.FilePath)
}

// Run connects, starts the reconciler and status loop, and blocks until the
// context is cancelled or an admin requested a restart.
func (a *App) Run(ctx context.Context) error {
	dispatcher := command.NewDispatcher(a.conn, a.rec, a.apiClient, a.store,
		session.NotifierFunc(a.publish), a.clock, a.logger, command.Config{
			Logout:  func(ctx context.Context) { a.Logout(ctx) },
			Restart: a.requestRestart,
		})
	dispatcher.Register(ctx)

	a.rec.Start(ctx)
	defer a.rec.Stop()

	if err := a.conn.Connect(ctx); err != nil {
		// The reconnect timer is already armed; startup continues offline.
		a.logger.Warn("initial connect failed, retrying in background", zap.Error(err))
	}

	statusInterval := a.cfg.Session.StatusInterval
	if statusInterval <= 0 {
		statusInterval = 30 * time.Second
	}
	status := a.clock.NewTicker(statusInterval)
	defer status.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.restartCh:
			return ErrRestartRequested
		case <-status.Chan():
			a.conn.SendStationStatus(a.statusFrame())
		}
	}
}

// statusFrame assembles the STATION_STATUS_UPDATE payload from the current
// countdown snapshot and the game in play.
func (a *App) statusFrame() message.StationStatus {
	snap := a.rec.Snapshot()
	a.userMu.Lock()
	active := a.activeGame
	a.userMu.Unlock()
	return message.StationStatus{
		TimeLeft:   snap.RemainingSeconds,
		Coins:      snap.Coins,
		ActiveGame: active,
	}
}

// Close releases the socket and the state store.
func (a *App) Close() {
	a.conn.Disconnect()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close state store", zap.Error(err))
	}
}

// Notifications exposes user-facing events to the UI layer.
func (a *App) Notifications() <-chan session.Notification {
	return a.notifications
}

// Snapshot returns the current session state for rendering.
func (a *App) Snapshot() session.Snapshot {
	return a.rec.Snapshot()
}

// LoginUser records the current user identity and announces it.
func (a *App) LoginUser(userID, username string) {
	a.userMu.Lock()
	a.userID = userID
	a.username = username
	a.userMu.Unlock()
	a.conn.SendUserLogin(userID, username)
}

// LaunchGame reports a game being started on the station. Launching with an
// exhausted countdown is refused; the active game is carried on subsequent
// status updates until logout.
func (a *App) LaunchGame(gameID, gameTitle string) error {
	if a.rec.Snapshot().RemainingSeconds <= 0 {
		a.publish(session.Notification{
			Level:   "error",
			Message: "No time left! Purchase a time pack to continue playing.",
		})
		return ErrNoTimeRemaining
	}

	a.userMu.Lock()
	userID := a.userID
	a.activeGame = gameTitle
	a.userMu.Unlock()

	a.conn.SendGameLaunch(gameID, gameTitle, userID)
	return nil
}

// Logout is the logout collaborator: it notifies the backend, announces the
// departure over the socket, and clears all local session state. Safe to call
// when no user is logged in.
func (a *App) Logout(ctx context.Context) {
	a.userMu.Lock()
	userID := a.userID
	a.userID = ""
	a.username = ""
	a.activeGame = ""
	a.userMu.Unlock()

	snap := a.rec.Snapshot()
	if userID != "" {
		if err := a.apiClient.LogoutUser(ctx, userID, a.identity.ID); err != nil {
			a.logger.Warn("backend logout failed", zap.Error(err))
		}
		a.conn.SendUserLogout(userID, snap.SessionID, snap.RemainingSeconds)
	}

	a.rec.Reset()
	if err := a.store.Delete(ctx, state.KeySessionID); err != nil {
		a.logger.Warn("failed to clear persisted session id", zap.Error(err))
	}
}

// PurchaseTimePack initiates a time-pack purchase. The grant itself arrives
// later, by admin approval, over the socket or the poll.
func (a *App) PurchaseTimePack(ctx context.Context, minutes int, amount float64) error {
	a.userMu.Lock()
	userID := a.userID
	a.userMu.Unlock()
	if userID == "" {
		return errors.New("app: no user logged in")
	}

	reply, err := a.apiClient.CreateTimeRequest(ctx, api.CreateTimeRequestInput{
		UserID:            userID,
		SessionID:         a.rec.SessionID(),
		AdditionalMinutes: minutes,
		Amount:            amount,
		StationID:         a.identity.ID,
	})
	if err != nil {
		return err
	}

	a.rec.OrderPlaced()
	a.conn.SendPaymentNotification(amount, fmt.Sprintf("%d minute time pack", minutes))
	if reply == "" {
		reply = "Payment received. Waiting for admin approval..."
	}
	a.publish(session.Notification{Level: "info", Message: reply})
	return nil
}

func (a *App) requestRestart() {
	a.restartOnce.Do(func() { close(a.restartCh) })
}

// publish forwards a notification to the UI channel without ever blocking the
// core; when the UI is not draining, the oldest events are dropped.
func (a *App) publish(n session.Notification) {
	for {
		select {
		case a.notifications <- n:
			return
		default:
			select {
			case dropped := <-a.notifications:
				a.logger.Debug("dropping stale notification", zap.String("message", dropped.Message))
			default:
			}
		}
	}
}
