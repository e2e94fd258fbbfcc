// Package api is the REST collaborator of the station agent: session and
// time-request reads used by the poll loop, purchase initiation, logout, and
// the MAC-keyed station directory lookup.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// ErrNotAuthenticated reports a 401/403 from the backend. It is propagated to
// the caller unchanged; recovery beyond the token-refresh path is UI concern.
var ErrNotAuthenticated = errors.New("api: not logged in or session expired")

// TimeRequest statuses as reported by the backend.
const (
	TimeRequestPending  = "PENDING"
	TimeRequestApproved = "APPROVED"
	TimeRequestRejected = "REJECTED"
)

// Session is the authoritative session record.
type Session struct {
	SessionID        string
	RemainingSeconds int64
	Status           string
}

// TimeRequest is a purchase of additional minutes, owned by the server.
type TimeRequest struct {
	ID                int64   `json:"id"`
	AdditionalMinutes int     `json:"additionalMinutes"`
	Amount            float64 `json:"amount"`
	Status            string  `json:"status"`
	PaymentMethod     string  `json:"paymentMethod"`
}

// Station is a directory record resolved from a hardware address.
type Station struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CreateTimeRequestInput carries a purchase initiation.
type CreateTimeRequestInput struct {
	UserID            string  `json:"userId"`
	SessionID         string  `json:"sessionId,omitempty"`
	AdditionalMinutes int     `json:"additionalMinutes"`
	Amount            float64 `json:"amount"`
	StationID         string  `json:"stationId,omitempty"`
}

// Client talks to the café backend. All methods attach the bearer credential
// from the TokenSource and map 401/403 to ErrNotAuthenticated.
type Client struct {
	baseURL string
	client  *http.Client
	tokens  *TokenSource
	logger  *zap.Logger
}

// NewClient builds the REST client. baseURL is the /api root.
func NewClient(baseURL string, tokens *TokenSource, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		tokens: tokens,
		logger: logger,
	}
}

// FetchSession returns the authoritative session record. The backend reports
// the countdown either as remainingMinutes (minutes) or timeRemaining
// (seconds); both normalize to RemainingSeconds here.
func (c *Client) FetchSession(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, errors.New("api: session id is empty")
	}

	var raw struct {
		ID               json.Number `json:"id"`
		RemainingMinutes *float64    `json:"remainingMinutes"`
		TimeRemaining    *float64    `json:"timeRemaining"`
		Status           string      `json:"status"`
	}
	path := fmt.Sprintf("/auth/client/Session/%s", url.PathEscape(sessionID))
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}

	session := &Session{SessionID: sessionID, Status: raw.Status}
	if raw.ID.String() != "" {
		session.SessionID = raw.ID.String()
	}
	switch {
	case raw.RemainingMinutes != nil:
		session.RemainingSeconds = int64(*raw.RemainingMinutes * 60)
	case raw.TimeRemaining != nil:
		session.RemainingSeconds = int64(*raw.TimeRemaining)
	}
	if session.RemainingSeconds < 0 {
		session.RemainingSeconds = 0
	}
	return session, nil
}

// FetchTimeRequests lists the session's purchase requests.
func (c *Client) FetchTimeRequests(ctx context.Context, sessionID string) ([]TimeRequest, error) {
	if sessionID == "" {
		return nil, errors.New("api: session id is empty")
	}
	var requests []TimeRequest
	path := fmt.Sprintf("/auth/client/Session/TimeRequests/%s", url.PathEscape(sessionID))
	if err := c.do(ctx, http.MethodGet, path, nil, &requests); err != nil {
		return nil, err
	}
	return requests, nil
}

// CreateTimeRequest initiates a purchase and returns the backend's message.
func (c *Client) CreateTimeRequest(ctx context.Context, input CreateTimeRequestInput) (string, error) {
	var resp struct {
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/client/AddTimeRequest", input, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// LogoutUser tells the backend to close the user's occupancy of the station.
func (c *Client) LogoutUser(ctx context.Context, userID, stationID string) error {
	body := map[string]string{"userId": userID, "stationId": stationID}
	return c.do(ctx, http.MethodPost, "/auth/client/logout", body, nil)
}

// StationByMAC resolves the station directory record for a hardware address.
func (c *Client) StationByMAC(ctx context.Context, mac string) (*Station, error) {
	var station Station
	path := fmt.Sprintf("/auth/client/Station/%s", url.PathEscape(mac))
	if err := c.do(ctx, http.MethodGet, path, nil, &station); err != nil {
		return nil, err
	}
	if station.ID == "" {
		return nil, errors.New("api: station not found for hardware address")
	}
	return &station, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			c.logger.Warn("proceeding without bearer credential", zap.Error(err))
		} else if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrNotAuthenticated
	}
	if resp.StatusCode >= 300 {
		var failure struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&failure)
		if failure.Message != "" {
			return fmt.Errorf("api: %s %s: %s", method, path, failure.Message)
		}
		return fmt.Errorf("api: %s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("api: decode %s response: %w", path, err)
	}
	return nil
}
