package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDiscriminatorPrecedence(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Kind
	}{
		{"action only", `{"action":"ADD_TIME","minutes":10}`, KindAddTime},
		{"type only", `{"type":"LOGOUT_USER"}`, KindLogoutUser},
		{"command only", `{"command":"RESTART_STATION"}`, KindRestartStation},
		{"action beats type", `{"action":"ADD_TIME","type":"LOGOUT_USER"}`, KindAddTime},
		{"type beats command", `{"type":"SHUTDOWN_STATION","command":"RESTART_STATION"}`, KindShutdownStation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Parse([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg.Kind)
		})
	}
}

func TestParseMinutesDepths(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{"flat minutes", `{"action":"ADD_TIME","minutes":30}`, 30},
		{"flat addedMinutes", `{"action":"TIME_ADDED","addedMinutes":20}`, 20},
		{"under data", `{"action":"TIME_ADDED","data":{"minutes":25}}`, 25},
		{"session-keyed under data", `{"action":"TIME_AUTO_APPROVED","data":{"817":{"minutes":15}}}`, 15},
		{"string number", `{"action":"ADD_TIME","minutes":"45"}`, 45},
		{"missing", `{"action":"ADD_TIME"}`, 0},
		{"unparseable", `{"action":"ADD_TIME","minutes":"soon"}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Parse([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg.Minutes)
		})
	}
}

func TestParseMalformedFrame(t *testing.T) {
	_, err := Parse([]byte(`{"action":`))
	require.Error(t, err)

	_, err = Parse([]byte(`[1,2,3]`))
	require.Error(t, err)
}

func TestParseCommandEnvelope(t *testing.T) {
	raw := `{"type":"COMMAND","command":"ADD_TIME","stationId":"7","data":{"minutes":12,"bonusCoins":3}}`
	msg, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, KindAddTime, msg.Kind)
	assert.Equal(t, 12, msg.Minutes)
	assert.Equal(t, int64(3), msg.BonusCoins)
	assert.Equal(t, "7", msg.StationID)
}

func TestParseRegistrationVariants(t *testing.T) {
	t.Run("idle text", func(t *testing.T) {
		raw := `{"message":"Station connected - waiting for user login","stationId":"7"}`
		msg, err := Parse([]byte(raw))
		require.NoError(t, err)
		assert.Equal(t, KindStationRegistered, msg.Kind)
		assert.False(t, msg.SessionDetails)
	})

	t.Run("active session text", func(t *testing.T) {
		raw := `{"message":"Station registered successfully with active session","stationId":"7","sessionId":"44","remainingTime":45,"status":"ACTIVE"}`
		msg, err := Parse([]byte(raw))
		require.NoError(t, err)
		assert.Equal(t, KindStationRegistered, msg.Kind)
		assert.True(t, msg.SessionDetails)
		assert.Equal(t, "44", msg.SessionID)
		assert.True(t, msg.HasRemaining)
		assert.Equal(t, int64(45*60), msg.RemainingSeconds)
	})

	t.Run("explicit kinds fold", func(t *testing.T) {
		for _, kind := range []string{"STATION_REGISTER", "STATION_REGISTERED", "SESSION_DETAILS"} {
			msg, err := Parse([]byte(`{"action":"` + kind + `","sessionId":"9"}`))
			require.NoError(t, err)
			assert.Equal(t, KindStationRegistered, msg.Kind)
			assert.True(t, msg.SessionDetails)
		}
	})
}

func TestParseSecondsRemaining(t *testing.T) {
	msg, err := Parse([]byte(`{"action":"SESSION_DETAILS","sessionId":"9","timeRemaining":500}`))
	require.NoError(t, err)
	assert.True(t, msg.HasRemaining)
	assert.Equal(t, int64(500), msg.RemainingSeconds)
}

func TestParsePing(t *testing.T) {
	msg, err := Parse([]byte(`{"action":"PING"}`))
	require.NoError(t, err)
	assert.Equal(t, KindPing, msg.Kind)
}

func TestParseNumericIdentityFields(t *testing.T) {
	msg, err := Parse([]byte(`{"action":"TIME_APPROVED","stationId":7,"sessionId":44,"id":19,"minutes":30,"bonusCoins":5}`))
	require.NoError(t, err)
	assert.Equal(t, "7", msg.StationID)
	assert.Equal(t, "44", msg.SessionID)
	assert.Equal(t, int64(19), msg.RequestID)
	assert.Equal(t, int64(5), msg.BonusCoins)
}

func TestParseUnknownKindKept(t *testing.T) {
	msg, err := Parse([]byte(`{"action":"SOMETHING_NEW"}`))
	require.NoError(t, err)
	assert.Equal(t, Kind("SOMETHING_NEW"), msg.Kind)
}

func TestGrantKinds(t *testing.T) {
	for _, kind := range []Kind{KindAddTime, KindTimeApproved, KindTimeAutoApproved, KindTimeAdded} {
		assert.True(t, kind.IsGrant())
	}
	assert.False(t, KindLogoutUser.IsGrant())
	assert.False(t, KindPing.IsGrant())

	assert.ElementsMatch(t,
		[]Kind{KindAddTime, KindTimeApproved, KindTimeAutoApproved, KindTimeAdded},
		GrantKinds())
}
