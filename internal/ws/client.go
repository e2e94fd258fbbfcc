// Package ws maintains the station's single persistent connection to the
// session server: registration handshake, automatic reconnection, and dispatch
// of normalized inbound frames to registered handlers.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"gamedock/internal/message"
	"gamedock/internal/station"
)

// Handler consumes one normalized inbound frame. Handlers run on the read
// goroutine, so dispatch is naturally serialized.
type Handler func(msg *message.Message)

// Config tunes the connection.
type Config struct {
	URL              string // ws endpoint, e.g. ws://host:8087/ws/station
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

func (c *Config) applyDefaults() {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
}

// Client owns the one live socket of the station process. Exactly one socket
// is open at a time; reconnect attempts are suppressed while one is pending.
type Client struct {
	cfg      Config
	identity station.Identity
	logger   *zap.Logger
	clock    clockwork.Clock

	mu               sync.Mutex
	conn             *websocket.Conn
	handlers         map[message.Kind]Handler
	connecting       bool
	reconnectPending bool
	closed           bool

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// NewClient builds a disconnected client for the given station identity.
func NewClient(cfg Config, identity station.Identity, clock clockwork.Clock, logger *zap.Logger) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:      cfg,
		identity: identity,
		logger:   logger,
		clock:    clock,
		handlers: make(map[message.Kind]Handler),
	}
}

// On registers the handler for a message kind. Exactly one handler per kind;
// the last registration wins.
func (c *Client) On(kind message.Kind, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[kind] = handler
}

// Connect dials the session server and sends the registration handshake.
// Calling while connected, connecting, or awaiting a reconnect is a no-op.
// A failed dial schedules a retry; the failure is logged, never fatal.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed || c.conn != nil || c.connecting || c.reconnectPending {
		c.mu.Unlock()
		return nil
	}
	c.connecting = true
	c.mu.Unlock()

	dialer := &websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.endpoint(), nil)
	if err != nil {
		c.logger.Warn("session server dial failed",
			zap.String("station_id", c.identity.ID),
			zap.Error(err))
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
		c.scheduleReconnect(ctx)
		return fmt.Errorf("ws: dial: %w", err)
	}
	conn.SetReadLimit(1024 * 1024)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.connecting = false
	c.mu.Unlock()

	c.logger.Info("connected to session server", zap.String("station_id", c.identity.ID))
	c.Send(message.StationRegister{
		Action:    message.ActionStationRegister,
		StationID: c.identity.ID,
	})

	c.wg.Add(1)
	go c.readLoop(ctx, conn)
	return nil
}

func (c *Client) endpoint() string {
	return fmt.Sprintf("%s?stationId=%s", c.cfg.URL, url.QueryEscape(c.identity.ID))
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()
		c.scheduleReconnect(ctx)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.logger.Info("connection read closed",
				zap.String("station_id", c.identity.ID),
				zap.Error(err))
			return
		}

		msg, err := message.Parse(raw)
		if err != nil {
			// Malformed frames never take the connection down.
			c.logger.Warn("dropping malformed frame",
				zap.String("station_id", c.identity.ID),
				zap.Error(err))
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg *message.Message) {
	if msg.Kind == message.KindPing {
		c.Send(message.Pong{Action: message.ActionPong})
		return
	}

	c.mu.Lock()
	handler := c.handlers[msg.Kind]
	details := c.handlers[message.KindSessionDetails]
	c.mu.Unlock()

	if handler == nil {
		c.logger.Info("unhandled server frame", zap.String("kind", string(msg.Kind)))
		return
	}
	handler(msg)

	// Registration acks that carried session data additionally fire the
	// SESSION_DETAILS handler, as a separate event.
	if msg.Kind == message.KindStationRegistered && msg.SessionDetails && details != nil {
		details(msg)
	}
}

// Send serializes and transmits a frame. When the socket is not open the frame
// is dropped with a warning; the client never queues.
func (c *Client) Send(v interface{}) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		c.logger.Warn("socket not open, dropping outbound frame")
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("failed to encode outbound frame", zap.Error(err))
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Warn("failed to write frame", zap.Error(err))
	}
}

func (c *Client) scheduleReconnect(ctx context.Context) {
	c.mu.Lock()
	if c.closed || c.reconnectPending || ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	c.reconnectPending = true
	c.mu.Unlock()

	c.logger.Warn("disconnected from session server, reconnect scheduled",
		zap.Duration("delay", c.cfg.ReconnectDelay))
	c.clock.AfterFunc(c.cfg.ReconnectDelay, func() {
		c.mu.Lock()
		c.reconnectPending = false
		closed := c.closed
		c.mu.Unlock()
		if closed || ctx.Err() != nil {
			return
		}
		_ = c.Connect(ctx)
	})
}

// Disconnect sends a best-effort STATION_DISCONNECT notice, closes the socket
// and stops all reconnect attempts.
func (c *Client) Disconnect() {
	c.Send(message.StationDisconnect{
		Action:    message.ActionStationDisconnect,
		StationID: c.identity.ID,
	})

	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.wg.Wait()
}

// --- user/session frames -------------------------------------------------

// SendUserLogin announces a user taking the station.
func (c *Client) SendUserLogin(userID, username string) {
	c.Send(message.UserLogin{
		Action:    message.ActionUserLogin,
		StationID: c.identity.ID,
		UserID:    userID,
		Username:  username,
		Timestamp: message.Stamp(c.clock.Now()),
	})
}

// SendUserLogout announces the user leaving with the countdown at departure.
func (c *Client) SendUserLogout(userID, sessionID string, timeLeft int64) {
	c.Send(message.UserLogout{
		Action:    message.ActionUserLogout,
		StationID: c.identity.ID,
		UserID:    userID,
		SessionID: sessionID,
		TimeLeft:  timeLeft,
		Timestamp: message.Stamp(c.clock.Now()),
	})
}

// SendGameLaunch reports a game start.
func (c *Client) SendGameLaunch(gameID, gameTitle, userID string) {
	c.Send(message.GameLaunch{
		Action:    message.ActionGameLaunch,
		StationID: c.identity.ID,
		GameID:    gameID,
		GameTitle: gameTitle,
		UserID:    userID,
		Timestamp: message.Stamp(c.clock.Now()),
	})
}

// SendStationStatus pushes the live countdown snapshot.
func (c *Client) SendStationStatus(status message.StationStatus) {
	c.Send(message.StationStatusUpdate{
		Action:    message.ActionStationStatusUpdate,
		StationID: c.identity.ID,
		Status:    status,
		Timestamp: message.Stamp(c.clock.Now()),
	})
}

// SendPaymentNotification reports a completed kiosk-side payment with a fresh
// transaction id.
func (c *Client) SendPaymentNotification(amount float64, itemName string) string {
	transactionID := uuid.NewString()
	c.Send(message.PaymentNotification{
		Action:        message.ActionPaymentNotification,
		StationID:     c.identity.ID,
		TransactionID: transactionID,
		Amount:        amount,
		ItemName:      itemName,
		Timestamp:     message.Stamp(c.clock.Now()),
	})
	return transactionID
}
