package message

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Kind identifies a normalized inbound frame.
type Kind string

const (
	KindAddTime           Kind = "ADD_TIME"
	KindTimeApproved      Kind = "TIME_APPROVED"
	KindTimeAutoApproved  Kind = "TIME_AUTO_APPROVED"
	KindTimeAdded         Kind = "TIME_ADDED"
	KindLogoutUser        Kind = "LOGOUT_USER"
	KindShutdownStation   Kind = "SHUTDOWN_STATION"
	KindRestartStation    Kind = "RESTART_STATION"
	KindStationRegistered Kind = "STATION_REGISTERED"
	KindSessionDetails    Kind = "SESSION_DETAILS"
	KindPing              Kind = "PING"
)

// IsGrant reports whether the kind announces added session time.
func (k Kind) IsGrant() bool {
	switch k {
	case KindAddTime, KindTimeApproved, KindTimeAutoApproved, KindTimeAdded:
		return true
	}
	return false
}

var allKinds = []Kind{
	KindAddTime,
	KindTimeApproved,
	KindTimeAutoApproved,
	KindTimeAdded,
	KindLogoutUser,
	KindShutdownStation,
	KindRestartStation,
	KindStationRegistered,
	KindSessionDetails,
	KindPing,
}

// GrantKinds lists every kind that announces added session time.
func GrantKinds() []Kind {
	var kinds []Kind
	for _, k := range allKinds {
		if k.IsGrant() {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Message is the single internal representation of an inbound server frame.
// All discriminator and payload-shape tolerance lives in Parse; consumers only
// ever see this type.
type Message struct {
	Kind       Kind
	StationID  string
	SessionID  string
	UserID     string
	RequestID  int64 // 0 when the frame carries no request identity
	Minutes    int
	BonusCoins int64
	Status     string
	Text       string

	// RemainingSeconds is set when a registration/session frame carries an
	// authoritative countdown value. HasRemaining distinguishes 0 from absent.
	RemainingSeconds int64
	HasRemaining     bool

	// SessionDetails marks registration acks that carried session data and
	// therefore warrant a second SESSION_DETAILS dispatch.
	SessionDetails bool
}

// Parse decodes a raw frame into a Message. The server is inconsistent about
// both the discriminator key (action, type or command, accepted in that
// precedence) and the nesting depth of numeric payload fields; every such
// variant is folded here. A frame that decodes as JSON but matches no known
// kind is returned with an empty Kind for the caller to log and drop.
func Parse(data []byte) (*Message, error) {
	var root map[string]any
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, err
	}

	// COMMAND envelopes wrap the real command one level down.
	if kind := discriminator(root); kind == "COMMAND" {
		if inner, ok := stringField(root, "command"); ok {
			payload, _ := root["data"].(map[string]any)
			if payload == nil {
				payload = map[string]any{}
			}
			// Envelope-level identity fields still apply to the inner command.
			for _, key := range []string{"stationId", "sessionId", "userId"} {
				if _, exists := payload[key]; !exists {
					if v, ok := root[key]; ok {
						payload[key] = v
					}
				}
			}
			payload["action"] = inner
			root = payload
		}
	}

	msg := &Message{Kind: Kind(discriminator(root))}

	msg.StationID, _ = stringField(root, "stationId")
	msg.SessionID, _ = stringField(root, "sessionId")
	msg.UserID, _ = stringField(root, "userId")
	msg.Status, _ = stringField(root, "status")
	msg.Text, _ = stringField(root, "message")

	if v, ok := numberAt(root, "id", "requestId"); ok {
		msg.RequestID = int64(v)
	}
	msg.Minutes = extractMinutes(root)
	if v, ok := numberAt(root, "bonusCoins"); ok {
		msg.BonusCoins = int64(v)
	}
	if v, ok := numberAt(root, "remainingTime", "remainingMinutes"); ok {
		msg.RemainingSeconds = int64(v) * 60
		msg.HasRemaining = true
	} else if v, ok := numberAt(root, "timeRemaining"); ok {
		msg.RemainingSeconds = int64(v)
		msg.HasRemaining = true
	}

	// Registration acks arrive either as explicit kinds or as free-text
	// status messages; both normalize to STATION_REGISTERED.
	switch msg.Kind {
	case "STATION_REGISTER", KindStationRegistered, KindSessionDetails:
		msg.Kind = KindStationRegistered
		msg.SessionDetails = msg.SessionID != "" || msg.HasRemaining
	case "":
		if strings.Contains(msg.Text, "waiting for user login") {
			msg.Kind = KindStationRegistered
		} else if strings.Contains(msg.Text, "registered successfully with active session") {
			msg.Kind = KindStationRegistered
			msg.SessionDetails = msg.HasRemaining
		}
	}

	return msg, nil
}

func discriminator(root map[string]any) string {
	for _, key := range []string{"action", "type", "command"} {
		if v, ok := stringField(root, key); ok && v != "" {
			return v
		}
	}
	return ""
}

// extractMinutes folds every observed placement of the granted-minutes value:
// flat on the frame, flat under data, and nested one more level under a
// session-keyed object inside data. Missing or unparseable values yield 0.
func extractMinutes(root map[string]any) int {
	if v, ok := numberAt(root, "minutes", "addedMinutes", "additionalMinutes"); ok {
		return int(v)
	}
	data, ok := root["data"].(map[string]any)
	if !ok {
		return 0
	}
	if v, ok := numberAt(data, "minutes", "addedMinutes", "additionalMinutes"); ok {
		return int(v)
	}
	for _, nested := range data {
		if obj, ok := nested.(map[string]any); ok {
			if v, ok := numberAt(obj, "minutes", "addedMinutes", "additionalMinutes"); ok {
				return int(v)
			}
		}
	}
	return 0
}

func numberAt(m map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		v, ok := m[key]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n, true
		case string:
			if parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return parsed, true
			}
		case json.Number:
			if parsed, err := n.Float64(); err == nil {
				return parsed, true
			}
		}
	}
	return 0, false
}

func stringField(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	}
	return "", false
}
