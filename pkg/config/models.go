package config

import "time"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Transport TransportConfig `mapstructure:"transport"`
	Collab    CollabConfig    `mapstructure:"collab"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Address         string                `mapstructure:"address"`
	Auth            AuthConfig            `mapstructure:"auth"`
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwtSecret"`
}

type ConnectionLimitConfig struct {
	MaxPerUser int    `mapstructure:"maxPerUser"`
	Mode       string `mapstructure:"mode"` // "reject" or "cycle"
}

type TransportConfig struct {
	// HeartbeatWindow doubles as the read deadline: a connection that stays
	// silent (no frames, no pings) for this long is force-disconnected.
	HeartbeatWindow time.Duration `mapstructure:"heartbeatWindow"`
}

// CollabConfig holds the timing knobs of the session engine. They are
// injected rather than hardcoded so tests can run with short durations.
type CollabConfig struct {
	CursorStaleAfter  time.Duration `mapstructure:"cursorStaleAfter"`
	CursorSweepEvery  time.Duration `mapstructure:"cursorSweepEvery"`
	CursorMinInterval time.Duration `mapstructure:"cursorMinInterval"`
	TypingTimeout     time.Duration `mapstructure:"typingTimeout"`
}

type StorageConfig struct {
	Backend string `mapstructure:"backend"` // "memory" or "pebble"
	Path    string `mapstructure:"path"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}
