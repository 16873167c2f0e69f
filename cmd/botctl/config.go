package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/balatrobot/internal/config"
	"github.com/danmuck/balatrobot/internal/protocol/session"
)

// botctl config.toml key mapping to serve settings.
type fileConfig struct {
	ListenAddr          string        `toml:"listen_addr"`
	AdminListenAddr     string        `toml:"admin_listen_addr"`
	AdminToken          string        `toml:"admin_token"`
	InactivityTimeout   string        `toml:"inactivity_timeout"`
	PingResponseTimeout string        `toml:"ping_response_timeout"`
	MaxPingRetries      int           `toml:"max_ping_retries"`
	QueueSize           int           `toml:"queue_size"`
	WriteTimeout        string        `toml:"write_timeout"`
	SecurityMode        string        `toml:"security_mode"`
	SessionTLSEnabled   bool          `toml:"session_tls_enabled"`
	SessionTLSMutual    bool          `toml:"session_tls_mutual"`
	SessionTLSCertFile  string        `toml:"session_tls_cert_file"`
	SessionTLSKeyFile   string        `toml:"session_tls_key_file"`
	SessionTLSCAFile    string        `toml:"session_tls_ca_file"`
	Run                 runFileConfig `toml:"run"`
}

type runFileConfig struct {
	AutoStart    bool   `toml:"auto_start"`
	Deck         string `toml:"deck"`
	Stake        string `toml:"stake"`
	Seed         string `toml:"seed"`
	ProfilesFile string `toml:"profiles_file"`
	Profile      string `toml:"profile"`
}

type runConfig struct {
	AutoStart    bool
	Deck         string
	Stake        string
	Seed         string
	ProfilesFile string
	Profile      string
}

// adminTokenEnv overrides admin_token so the secret can live in .env.
const adminTokenEnv = "BALATROBOT_ADMIN_TOKEN"

type serviceConfig struct {
	ListenAddr      string
	AdminListenAddr string
	AdminToken      string
	Session         session.Config
	Run             runConfig
}

func defaultServiceConfig() serviceConfig {
	return serviceConfig{
		ListenAddr:      "127.0.0.1:12345",
		AdminListenAddr: "127.0.0.1:9105",
		Session:         session.DefaultConfig(),
		Run: runConfig{
			Deck:  "red",
			Stake: "white",
		},
	}
}

// loadServiceConfig overlays the keys present in path onto the defaults.
func loadServiceConfig(path string) (serviceConfig, error) {
	cfg := defaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return serviceConfig{}, fmt.Errorf("load botctl config: %w", err)
	}

	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("admin_listen_addr") {
		cfg.AdminListenAddr = strings.TrimSpace(raw.AdminListenAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("inactivity_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.InactivityTimeout))
		if err != nil {
			return serviceConfig{}, fmt.Errorf("parse inactivity_timeout: %w", err)
		}
		cfg.Session.Heartbeat.InactivityTimeout = d
	}
	if meta.IsDefined("ping_response_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.PingResponseTimeout))
		if err != nil {
			return serviceConfig{}, fmt.Errorf("parse ping_response_timeout: %w", err)
		}
		cfg.Session.Heartbeat.PingResponseTimeout = d
	}
	if meta.IsDefined("max_ping_retries") {
		cfg.Session.Heartbeat.MaxPingRetries = raw.MaxPingRetries
	}
	if meta.IsDefined("queue_size") {
		cfg.Session.QueueSize = raw.QueueSize
	}
	if meta.IsDefined("write_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.WriteTimeout))
		if err != nil {
			return serviceConfig{}, fmt.Errorf("parse write_timeout: %w", err)
		}
		cfg.Session.WriteTimeout = d
	}
	if meta.IsDefined("security_mode") {
		cfg.Session.SecurityMode = session.SecurityMode(strings.TrimSpace(raw.SecurityMode))
	}
	if meta.IsDefined("session_tls_enabled") {
		cfg.Session.TLS.Enabled = raw.SessionTLSEnabled
	}
	if meta.IsDefined("session_tls_mutual") {
		cfg.Session.TLS.Mutual = raw.SessionTLSMutual
	}
	if meta.IsDefined("session_tls_cert_file") {
		cfg.Session.TLS.CertFile = strings.TrimSpace(raw.SessionTLSCertFile)
	}
	if meta.IsDefined("session_tls_key_file") {
		cfg.Session.TLS.KeyFile = strings.TrimSpace(raw.SessionTLSKeyFile)
	}
	if meta.IsDefined("session_tls_ca_file") {
		cfg.Session.TLS.CAFile = strings.TrimSpace(raw.SessionTLSCAFile)
	}

	if meta.IsDefined("run", "auto_start") {
		cfg.Run.AutoStart = raw.Run.AutoStart
	}
	if meta.IsDefined("run", "deck") {
		cfg.Run.Deck = strings.TrimSpace(raw.Run.Deck)
	}
	if meta.IsDefined("run", "stake") {
		cfg.Run.Stake = strings.TrimSpace(raw.Run.Stake)
	}
	if meta.IsDefined("run", "seed") {
		cfg.Run.Seed = strings.TrimSpace(raw.Run.Seed)
	}
	if meta.IsDefined("run", "profiles_file") {
		cfg.Run.ProfilesFile = strings.TrimSpace(raw.Run.ProfilesFile)
	}
	if meta.IsDefined("run", "profile") {
		cfg.Run.Profile = strings.TrimSpace(raw.Run.Profile)
	}

	cfg.applyEnv()
	cfg.Session = cfg.Session.WithDefaults()
	if err := cfg.Session.Validate(); err != nil {
		return serviceConfig{}, err
	}
	return cfg, nil
}

func (c *serviceConfig) applyEnv() {
	if token, ok := os.LookupEnv(adminTokenEnv); ok {
		c.AdminToken = strings.TrimSpace(token)
	}
}

// runParams resolves the start_run arguments, preferring a profiles file.
func (c serviceConfig) runParams() (config.RunParams, error) {
	if c.Run.ProfilesFile != "" {
		profiles, err := config.LoadRunProfiles(c.Run.ProfilesFile)
		if err != nil {
			return config.RunParams{}, err
		}
		profile, err := profiles.Lookup(c.Run.Profile)
		if err != nil {
			return config.RunParams{}, err
		}
		return profile.Resolve()
	}
	return config.RunProfile{
		Name:  "inline",
		Deck:  c.Run.Deck,
		Stake: c.Run.Stake,
		Seed:  c.Run.Seed,
	}.Resolve()
}
