package session

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/danmuck/balatrobot/internal/logging"
)

var ErrConnectAttemptsExhausted = errors.New("session: connect attempts exhausted")

// Dial connects to addr, retrying with backoff until it succeeds,
// MaxConnectAttempts is reached (0 means unlimited), or ctx ends.
func Dial(ctx context.Context, addr string, cfg Config) (*Conn, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.ValidateClientTransport(); err != nil {
		return nil, err
	}

	var tlsCfg *tls.Config
	if cfg.TLS.Enabled {
		var err error
		tlsCfg, err = cfg.ClientTLSConfig(addr)
		if err != nil {
			return nil, fmt.Errorf("session: client tls: %w", err)
		}
	}

	log := logging.Component("session").With().Str("addr", addr).Logger()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var lastErr error
	for attempt := 1; cfg.MaxConnectAttempts <= 0 || attempt <= cfg.MaxConnectAttempts; attempt++ {
		stream, err := dialOnce(ctx, addr, cfg, tlsCfg)
		if err == nil {
			log.Info().Int("attempt", attempt).Msg("connected to peer")
			return NewConn(stream, RoleClient, cfg), nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("connect failed")
		if attempt == cfg.MaxConnectAttempts {
			break
		}
		if err := sleepBackoff(ctx, cfg.Backoff, attempt, rng); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w after %d: %w", ErrConnectAttemptsExhausted, cfg.MaxConnectAttempts, lastErr)
}

func dialOnce(ctx context.Context, addr string, cfg Config, tlsCfg *tls.Config) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	stream, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, ioError("dial", err)
	}
	if tlsCfg == nil {
		return stream, nil
	}
	tlsConn := tls.Client(stream, tlsCfg)
	if err := handshake(ctx, tlsConn, cfg.HandshakeTimeout); err != nil {
		_ = tlsConn.Close()
		return nil, ioError("tls handshake", err)
	}
	return tlsConn, nil
}
