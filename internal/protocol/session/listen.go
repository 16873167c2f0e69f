package session

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/danmuck/balatrobot/internal/logging"
)

// Listener accepts peer connections and wraps each in an engine.
type Listener struct {
	cfg Config
	ln  net.Listener
	tls *tls.Config
}

// Listen binds addr. TLS is used when cfg.TLS.Enabled.
func Listen(addr string, cfg Config) (*Listener, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.ValidateServerTransport(); err != nil {
		return nil, err
	}

	var tlsCfg *tls.Config
	if cfg.TLS.Enabled {
		var err error
		tlsCfg, err = cfg.ServerTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("session: server tls: %w", err)
		}
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, ioError("listen", err)
	}
	log := logging.Component("session")
	log.Info().
		Str("addr", ln.Addr().String()).
		Bool("tls", tlsCfg != nil).
		Msg("listening for peer")
	return &Listener{cfg: cfg, ln: ln, tls: tlsCfg}, nil
}

func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *Listener) Close() error {
	return l.ln.Close()
}

// Accept waits for the next peer. A failed TLS handshake drops that peer and
// keeps waiting. Cancelling ctx unblocks Accept but leaves the listener open.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	for {
		stream, err := l.acceptStream(ctx)
		if err != nil {
			return nil, err
		}
		if l.tls == nil {
			return NewConn(stream, RoleServer, l.cfg), nil
		}
		tlsConn := tls.Server(stream, l.tls)
		if err := handshake(ctx, tlsConn, l.cfg.HandshakeTimeout); err != nil {
			log := logging.Component("session")
			log.Warn().
				Err(err).
				Str("remote", stream.RemoteAddr().String()).
				Msg("tls handshake failed")
			_ = tlsConn.Close()
			continue
		}
		return NewConn(tlsConn, RoleServer, l.cfg), nil
	}
}

func (l *Listener) acceptStream(ctx context.Context) (net.Conn, error) {
	type acceptResult struct {
		conn net.Conn
		err  error
	}
	ch := make(chan acceptResult, 1)
	go func() {
		conn, err := l.ln.Accept()
		ch <- acceptResult{conn: conn, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			if errors.Is(res.err, net.ErrClosed) {
				return nil, ErrConnectionClosed
			}
			return nil, ioError("accept", res.err)
		}
		return res.conn, nil
	case <-ctx.Done():
		// Unblock the pending Accept, then drop whatever it returns.
		if dl, ok := l.ln.(interface{ SetDeadline(time.Time) error }); ok {
			_ = dl.SetDeadline(time.Now())
			res := <-ch
			_ = dl.SetDeadline(time.Time{})
			if res.conn != nil {
				_ = res.conn.Close()
			}
		}
		return nil, ctx.Err()
	}
}

func handshake(ctx context.Context, conn *tls.Conn, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return conn.HandshakeContext(ctx)
}
