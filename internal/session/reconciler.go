// Package session owns the authoritative countdown for the station's current
// occupancy. Three independent sources mutate it: the one-second local tick,
// the periodic authoritative poll, and server-pushed grants. All three
// serialize through one mutex; grants de-duplicate by request identity.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"gamedock/internal/api"
)

// Status of the current occupancy.
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusExpired Status = "EXPIRED"
)

// API is the REST surface the poll loop consumes; satisfied by *api.Client.
type API interface {
	FetchSession(ctx context.Context, sessionID string) (*api.Session, error)
	FetchTimeRequests(ctx context.Context, sessionID string) ([]api.TimeRequest, error)
}

// Notification is a user-facing event. Each real-world event produces exactly
// one of these, regardless of how many channels reported it.
type Notification struct {
	Level   string // "info", "success", "error"
	Message string
}

// Notifier receives user-facing notifications. Implementations must be safe
// for concurrent use and must not block.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(n Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// Grant is a confirmed addition of minutes, normalized from any channel.
type Grant struct {
	RequestID      int64 // 0 when the grant carries no request identity
	Minutes        int
	BonusCoins     int64
	Source         string // channel label for logging
	CompletesOrder bool   // true when the grant settles a pending purchase
}

// Config tunes the reconciler's intervals and rewards.
type Config struct {
	TickInterval  time.Duration
	PollInterval  time.Duration
	BonusInterval int64 // seconds of playtime per coin reward
	BonusCoins    int64
}

func (c *Config) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.BonusInterval <= 0 {
		c.BonusInterval = 1800
	}
	if c.BonusCoins <= 0 {
		c.BonusCoins = 5
	}
}

// Snapshot is a consistent read of the reconciler state for the UI layer.
type Snapshot struct {
	SessionID        string
	RemainingSeconds int64
	Status           Status
	Coins            int64
	PendingOrders    int
}

// Reconciler merges tick, poll and push updates into one countdown value.
type Reconciler struct {
	mu            sync.Mutex
	sessionID     string
	remaining     int64
	status        Status
	coins         int64
	pendingOrders int
	applied       map[int64]struct{} // AppliedGrantLog
	pollBusy      bool

	api      API
	clock    clockwork.Clock
	notifier Notifier
	logger   *zap.Logger
	cfg      Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a stopped reconciler. The clock is injected so tests can drive
// the timers deterministically.
func New(apiClient API, clock clockwork.Clock, notifier Notifier, logger *zap.Logger, cfg Config) *Reconciler {
	cfg.applyDefaults()
	return &Reconciler{
		status:   StatusExpired,
		applied:  make(map[int64]struct{}),
		api:      apiClient,
		clock:    clock,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
	}
}

// Start launches the tick and poll timers. Stop (or ctx cancellation) halts
// both and waits for any in-flight poll.
func (r *Reconciler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	go r.run(ctx)
}

// Stop cancels the timers and waits for outstanding work.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Reconciler) run(ctx context.Context) {
	defer r.wg.Done()

	tick := r.clock.NewTicker(r.cfg.TickInterval)
	defer tick.Stop()
	poll := r.clock.NewTicker(r.cfg.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.Chan():
			r.tick()
		case <-poll.Chan():
			// The poll runs in its own goroutine so a slow backend never
			// stalls the countdown.
			r.startPoll(ctx)
		}
	}
}

// tick advances the countdown by one second, floored at zero.
func (r *Reconciler) tick() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.remaining <= 0 {
		return
	}
	r.remaining--

	if r.remaining == 0 {
		r.expireLocked()
		return
	}
	if r.remaining%r.cfg.BonusInterval == 0 {
		r.coins += r.cfg.BonusCoins
		r.notify(Notification{Level: "success", Message: "Earned bonus coins for playtime!"})
	}
}

// ApplyGrant credits a server-confirmed grant. Returns true when the countdown
// changed. A grant whose request id is already in the applied log is dropped;
// a grant with no usable minutes records its id (so the other channel will not
// re-announce it) and is otherwise a no-op.
func (r *Reconciler) ApplyGrant(g Grant) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if g.RequestID != 0 {
		if _, seen := r.applied[g.RequestID]; seen {
			r.logger.Debug("grant already applied, skipping",
				zap.Int64("request_id", g.RequestID),
				zap.String("source", g.Source))
			return false
		}
		r.applied[g.RequestID] = struct{}{}
	}

	if g.CompletesOrder && r.pendingOrders > 0 {
		r.pendingOrders--
	}

	if g.Minutes <= 0 {
		r.logger.Warn("grant carried no usable minutes",
			zap.String("source", g.Source),
			zap.Int64("request_id", g.RequestID))
		return false
	}

	r.remaining += int64(g.Minutes) * 60
	r.coins += g.BonusCoins
	if r.status == StatusExpired && r.remaining > 0 {
		r.status = StatusActive
	}
	r.notify(Notification{
		Level:   "success",
		Message: grantMessage(g),
	})
	r.logger.Info("grant applied",
		zap.Int("minutes", g.Minutes),
		zap.Int64("request_id", g.RequestID),
		zap.String("source", g.Source),
		zap.Int64("remaining_seconds", r.remaining))
	return true
}

// Seed installs the session identity (and countdown, when the registration ack
// carried one) at connect/register time.
func (r *Reconciler) Seed(sessionID string, remainingSeconds int64, hasRemaining bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sessionID != "" && sessionID != r.sessionID {
		r.sessionID = sessionID
		// A new occupancy starts a fresh grant log.
		r.applied = make(map[int64]struct{})
	}
	if hasRemaining {
		r.setRemainingLocked(remainingSeconds)
	}
}

// Sync overwrites the countdown with the authoritative server value.
func (r *Reconciler) Sync(sess *api.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.syncLocked(sess)
}

// OrderPlaced records a purchase awaiting admin approval.
func (r *Reconciler) OrderPlaced() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pendingOrders++
}

// Reset clears all occupancy state on logout or teardown.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionID = ""
	r.remaining = 0
	r.status = StatusExpired
	r.pendingOrders = 0
	r.applied = make(map[int64]struct{})
}

// Snapshot returns a consistent copy of the current state.
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		SessionID:        r.sessionID,
		RemainingSeconds: r.remaining,
		Status:           r.status,
		Coins:            r.coins,
		PendingOrders:    r.pendingOrders,
	}
}

// SessionID returns the current session identity, empty when none is known.
func (r *Reconciler) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

func (r *Reconciler) startPoll(ctx context.Context) {
	r.mu.Lock()
	sessionID := r.sessionID
	if sessionID == "" || r.pollBusy {
		r.mu.Unlock()
		return
	}
	r.pollBusy = true
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			r.pollBusy = false
			r.mu.Unlock()
		}()
		r.poll(ctx, sessionID)
	}()
}

// poll fetches the authoritative session record and the time-request list
// concurrently, then applies both under the state mutex.
func (r *Reconciler) poll(ctx context.Context, sessionID string) {
	var (
		sess     *api.Session
		sessErr  error
		requests []api.TimeRequest
		reqErr   error
	)

	var fetches sync.WaitGroup
	fetches.Add(2)
	go func() {
		defer fetches.Done()
		sess, sessErr = r.api.FetchSession(ctx, sessionID)
	}()
	go func() {
		defer fetches.Done()
		requests, reqErr = r.api.FetchTimeRequests(ctx, sessionID)
	}()
	fetches.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	// The occupancy may have ended while the fetches were in flight.
	if r.sessionID != sessionID {
		return
	}

	if sessErr != nil {
		r.logger.Warn("session poll failed", zap.String("session_id", sessionID), zap.Error(sessErr))
	} else if sess != nil {
		r.syncLocked(sess)
	}

	if reqErr != nil {
		r.logger.Warn("time request poll failed", zap.String("session_id", sessionID), zap.Error(reqErr))
		return
	}
	for _, req := range requests {
		if req.Status != api.TimeRequestApproved {
			continue
		}
		if _, seen := r.applied[req.ID]; seen {
			continue
		}
		// The authoritative fetch above already reflects approved minutes;
		// the scan's job is the one-time notification, never crediting.
		r.applied[req.ID] = struct{}{}
		if r.pendingOrders > 0 {
			r.pendingOrders--
		}
		r.notify(Notification{
			Level:   "success",
			Message: approvedMessage(req.AdditionalMinutes),
		})
		r.logger.Info("time request approved",
			zap.Int64("request_id", req.ID),
			zap.Int("minutes", req.AdditionalMinutes))
	}
}

// syncLocked applies "server value wins" to the countdown.
func (r *Reconciler) syncLocked(sess *api.Session) {
	if sess.RemainingSeconds != r.remaining {
		r.logger.Info("countdown corrected from server",
			zap.Int64("local_seconds", r.remaining),
			zap.Int64("server_seconds", sess.RemainingSeconds))
	}
	r.setRemainingLocked(sess.RemainingSeconds)
}

// setRemainingLocked installs a new countdown value and handles the
// ACTIVE/EXPIRED transitions it implies.
func (r *Reconciler) setRemainingLocked(value int64) {
	if value < 0 {
		value = 0
	}
	r.remaining = value
	switch {
	case r.remaining == 0 && r.status == StatusActive:
		r.expireLocked()
	case r.remaining > 0 && r.status == StatusExpired:
		r.status = StatusActive
	}
}

func (r *Reconciler) expireLocked() {
	r.status = StatusExpired
	r.notify(Notification{
		Level:   "error",
		Message: "No time left! Purchase a time pack to continue playing.",
	})
}

func (r *Reconciler) notify(n Notification) {
	if r.notifier != nil {
		r.notifier.Notify(n)
	}
}

func grantMessage(g Grant) string {
	return fmt.Sprintf("+%d minutes added to your session", g.Minutes)
}

func approvedMessage(minutes int) string {
	return fmt.Sprintf("Time request approved! +%d minutes added.", minutes)
}
