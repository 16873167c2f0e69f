package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/balatrobot/internal/protocol/frame"
)

var ErrInvalidConfig = errors.New("session: invalid config")

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// HeartbeatConfig defines the idle ping policy of one connection.
type HeartbeatConfig struct {
	InactivityTimeout   time.Duration
	PingResponseTimeout time.Duration
	MaxPingRetries      int
}

type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// TLSConfig configures optional TLS on the peer stream.
type TLSConfig struct {
	Enabled            bool
	Mutual             bool
	CertFile           string
	KeyFile            string
	CAFile             string
	ServerName         string
	InsecureSkipVerify bool
}

// Config defines transport/session reliability defaults.
type Config struct {
	ConnectTimeout     time.Duration
	HandshakeTimeout   time.Duration
	WriteTimeout       time.Duration
	QueueSize          int
	MaxLineBytes       int
	MaxConnectAttempts int
	Heartbeat          HeartbeatConfig
	Backoff            BackoffConfig
	SecurityMode       SecurityMode
	TLS                TLSConfig
}

// DefaultConfig returns the peer mod's heartbeat contract and local transport defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:     5 * time.Second,
		HandshakeTimeout:   5 * time.Second,
		WriteTimeout:       10 * time.Second,
		QueueSize:          32,
		MaxLineBytes:       frame.DefaultLimits().MaxLineBytes,
		MaxConnectAttempts: 0,
		Heartbeat: HeartbeatConfig{
			InactivityTimeout:   7 * time.Second,
			PingResponseTimeout: 3 * time.Second,
			MaxPingRetries:      3,
		},
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
		SecurityMode: SecurityModeDevelopment,
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.MaxLineBytes <= 0 {
		c.MaxLineBytes = def.MaxLineBytes
	}
	if c.Heartbeat.InactivityTimeout <= 0 {
		c.Heartbeat.InactivityTimeout = def.Heartbeat.InactivityTimeout
	}
	if c.Heartbeat.PingResponseTimeout <= 0 {
		c.Heartbeat.PingResponseTimeout = def.Heartbeat.PingResponseTimeout
	}
	if c.Heartbeat.MaxPingRetries <= 0 {
		c.Heartbeat.MaxPingRetries = def.Heartbeat.MaxPingRetries
	}
	if c.Backoff.InitialDelay <= 0 && c.Backoff.MaxDelay <= 0 && c.Backoff.Multiplier == 0 {
		c.Backoff = def.Backoff
	}
	c.SecurityMode = NormalizeSecurityMode(c.SecurityMode)
	return c
}

// Validate checks the fields WithDefaults cannot repair.
func (c Config) Validate() error {
	if c.Heartbeat.PingResponseTimeout >= c.Heartbeat.InactivityTimeout {
		return fmt.Errorf(
			"%w: ping_response_timeout %s must be shorter than inactivity_timeout %s",
			ErrInvalidConfig,
			c.Heartbeat.PingResponseTimeout,
			c.Heartbeat.InactivityTimeout,
		)
	}
	if c.Backoff.MaxDelay > 0 && c.Backoff.InitialDelay > c.Backoff.MaxDelay {
		return fmt.Errorf("%w: backoff initial delay exceeds max delay", ErrInvalidConfig)
	}
	return nil
}

func (c Config) limits() frame.Limits {
	return frame.Limits{MaxLineBytes: c.MaxLineBytes}
}
