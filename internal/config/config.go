package config

import (
	"errors"
	"strings"
	"time"

	libconfig "gamedock/libs/config"
)

// StationConfig pins the station identity. When ID is empty the identity is
// resolved from the hardware address via the station directory.
type StationConfig struct {
	ID   string `yaml:"id" env:"STATION_ID"`
	Name string `yaml:"name" env:"STATION_NAME"`
}

// ServerConfig points at the café backend.
type ServerConfig struct {
	WSURL      string `yaml:"wsUrl" env:"STATION_WS_URL"`
	APIBaseURL string `yaml:"apiBaseUrl" env:"STATION_API_BASE_URL"`
}

// SocketConfig tunes the persistent connection.
type SocketConfig struct {
	ReconnectDelay   time.Duration `yaml:"reconnectDelay" env:"STATION_WS_RECONNECT_DELAY"`
	HandshakeTimeout time.Duration `yaml:"handshakeTimeout" env:"STATION_WS_HANDSHAKE_TIMEOUT"`
	WriteTimeout     time.Duration `yaml:"writeTimeout" env:"STATION_WS_WRITE_TIMEOUT"`
}

// SessionConfig tunes the reconciler.
type SessionConfig struct {
	TickInterval         time.Duration `yaml:"tickInterval" env:"STATION_TICK_INTERVAL"`
	PollInterval         time.Duration `yaml:"pollInterval" env:"STATION_POLL_INTERVAL"`
	StatusInterval       time.Duration `yaml:"statusInterval" env:"STATION_STATUS_INTERVAL"`
	BonusIntervalSeconds int64         `yaml:"bonusIntervalSeconds" env:"STATION_BONUS_INTERVAL_SECONDS"`
	BonusCoins           int64         `yaml:"bonusCoins" env:"STATION_BONUS_COINS"`
}

// StateConfig selects where station-local state is persisted.
type StateConfig struct {
	Backend  string `yaml:"backend" env:"STATION_STATE_BACKEND"` // "file" or "redis"
	FilePath string `yaml:"filePath" env:"STATION_STATE_FILE"`
	Redis    struct {
		Addr     string `yaml:"addr" env:"STATION_REDIS_ADDR"`
		Password string `yaml:"password" env:"STATION_REDIS_PASSWORD"`
	} `yaml:"redis"`
}

// Config is the station agent configuration.
type Config struct {
	Station StationConfig `yaml:"station"`
	Server  ServerConfig  `yaml:"server"`
	Socket  SocketConfig  `yaml:"socket"`
	Session SessionConfig `yaml:"session"`
	State   StateConfig   `yaml:"state"`
}

// Load reads configuration via the shared helper and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.Server.WSURL = "ws://localhost:8087/ws/station"
	cfg.Server.APIBaseURL = "http://localhost:8087/api"
	cfg.Socket.ReconnectDelay = 5 * time.Second
	cfg.Session.TickInterval = time.Second
	cfg.Session.PollInterval = 5 * time.Second
	cfg.Session.StatusInterval = 30 * time.Second
	cfg.Session.BonusIntervalSeconds = 1800
	cfg.Session.BonusCoins = 5
	cfg.State.Backend = "file"
	cfg.State.FilePath = "station-state.json"

	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Server.WSURL) == "" {
		return nil, errors.New("config: websocket url required")
	}
	if strings.TrimSpace(cfg.Server.APIBaseURL) == "" {
		return nil, errors.New("config: api base url required")
	}
	switch cfg.State.Backend {
	case "file", "redis":
	default:
		return nil, errors.New("config: state backend must be file or redis")
	}
	if cfg.State.Backend == "redis" && strings.TrimSpace(cfg.State.Redis.Addr) == "" {
		return nil, errors.New("config: redis addr required for redis state backend")
	}
	return cfg, nil
}
