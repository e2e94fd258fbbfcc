package message

import "time"

// Outbound frame actions.
const (
	ActionStationRegister     = "STATION_REGISTER"
	ActionStationDisconnect   = "STATION_DISCONNECT"
	ActionUserLogin           = "USER_LOGIN"
	ActionUserLogout          = "USER_LOGOUT"
	ActionGameLaunch          = "GAME_LAUNCH"
	ActionStationStatusUpdate = "STATION_STATUS_UPDATE"
	ActionPaymentNotification = "PAYMENT_NOTIFICATION"
	ActionPong                = "PONG"
)

// StationRegister is the handshake frame sent on every (re)connect.
type StationRegister struct {
	Action    string `json:"action"`
	StationID string `json:"stationId"`
}

// StationDisconnect is the best-effort goodbye sent before closing.
type StationDisconnect struct {
	Action    string `json:"action"`
	StationID string `json:"stationId"`
}

// Pong answers a server PING.
type Pong struct {
	Action string `json:"action"`
}

// UserLogin announces a user taking the station.
type UserLogin struct {
	Action    string `json:"action"`
	StationID string `json:"stationId"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Timestamp string `json:"timestamp"`
}

// UserLogout announces the user leaving, with the countdown value at departure.
type UserLogout struct {
	Action    string `json:"action"`
	StationID string `json:"stationId"`
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId,omitempty"`
	TimeLeft  int64  `json:"timeLeft"`
	Timestamp string `json:"timestamp"`
}

// GameLaunch reports a game being started on the station.
type GameLaunch struct {
	Action    string `json:"action"`
	StationID string `json:"stationId"`
	GameID    string `json:"gameId"`
	GameTitle string `json:"gameTitle"`
	UserID    string `json:"userId"`
	Timestamp string `json:"timestamp"`
}

// StationStatus is the live state block carried by STATION_STATUS_UPDATE.
type StationStatus struct {
	TimeLeft   int64  `json:"timeLeft"`
	Coins      int64  `json:"coins"`
	ActiveGame string `json:"activeGame,omitempty"`
}

// StationStatusUpdate pushes the current countdown snapshot to the server.
type StationStatusUpdate struct {
	Action    string        `json:"action"`
	StationID string        `json:"stationId"`
	Status    StationStatus `json:"status"`
	Timestamp string        `json:"timestamp"`
}

// PaymentNotification reports a completed kiosk-side payment.
type PaymentNotification struct {
	Action        string  `json:"action"`
	StationID     string  `json:"stationId"`
	TransactionID string  `json:"transactionId"`
	Amount        float64 `json:"amount"`
	ItemName      string  `json:"itemName"`
	Timestamp     string  `json:"timestamp"`
}

// Stamp returns the wire timestamp format used on all outbound frames.
func Stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
