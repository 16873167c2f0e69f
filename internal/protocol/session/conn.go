package session

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"github.com/danmuck/balatrobot/internal/logging"
	"github.com/danmuck/balatrobot/internal/observability"
	"github.com/danmuck/balatrobot/internal/protocol/frame"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Role names which side of the TCP stream opened the connection.
type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"
)

type outboundFrame struct {
	kind   string
	line   []byte
	result chan error
}

// Conn is one engine-backed peer connection. All stream I/O happens on the
// engine goroutine; callers talk to it through Route.Do.
type Conn struct {
	id       string
	role     Role
	cfg      Config
	stream   net.Conn
	writer   *bufio.Writer
	log      zerolog.Logger
	openedAt time.Time

	outbound chan outboundFrame
	inbound  chan frame.Frame

	closeCh   chan struct{}
	closeOnce sync.Once
	done      chan struct{}

	errMu    sync.Mutex
	err      error
	reported bool

	reqMu sync.Mutex

	pendingMu sync.RWMutex
	pending   *PendingRequest
}

// NewConn wraps an established stream and starts its engine. Listener and
// Dial call this; it is exported for callers that bring their own net.Conn.
func NewConn(stream net.Conn, role Role, cfg Config) *Conn {
	cfg = cfg.WithDefaults()
	id := uuid.NewString()
	c := &Conn{
		id:       id,
		role:     role,
		cfg:      cfg,
		stream:   stream,
		writer:   bufio.NewWriter(stream),
		openedAt: time.Now(),
		outbound: make(chan outboundFrame),
		inbound:  make(chan frame.Frame, cfg.QueueSize),
		closeCh:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	c.log = logging.Component("session").With().
		Str("session_id", id).
		Str("role", string(role)).
		Str("remote", remoteString(stream)).
		Logger()
	observability.ConnectionOpened(string(role))
	go c.run()
	return c
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Role() Role { return c.role }

func (c *Conn) OpenedAt() time.Time { return c.openedAt }

func (c *Conn) RemoteAddr() net.Addr {
	return c.stream.RemoteAddr()
}

// Done is closed once the engine has exited.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns the terminal error, or nil while the engine runs.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close signals the engine to stop and waits for it. Safe to call repeatedly.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closeCh)
	})
	<-c.done
	return nil
}

// send hands one data frame to the engine and waits for it to be flushed.
func (c *Conn) send(ctx context.Context, kind string, body []byte) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}
	out := outboundFrame{
		kind:   kind,
		line:   frame.Encode(kind, body),
		result: make(chan error, 1),
	}
	select {
	case c.outbound <- out:
	case <-c.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-out.result:
		return err
	case <-c.done:
		// The engine may have flushed the frame right before exiting.
		select {
		case err := <-out.result:
			return err
		default:
			return c.takeTerminal()
		}
	}
}

// recv returns the next data frame. Frames queued before the engine exited
// are still delivered; after that the terminal error is reported once and
// ErrConnectionClosed on every later call.
func (c *Conn) recv(ctx context.Context) (frame.Frame, error) {
	select {
	case f := <-c.inbound:
		return f, nil
	default:
	}
	select {
	case f := <-c.inbound:
		return f, nil
	case <-c.done:
		return c.drain()
	case <-ctx.Done():
		return frame.Frame{}, ctx.Err()
	}
}

func (c *Conn) drain() (frame.Frame, error) {
	select {
	case f := <-c.inbound:
		return f, nil
	default:
		return frame.Frame{}, c.takeTerminal()
	}
}

func (c *Conn) takeTerminal() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.reported || c.err == nil {
		return ErrConnectionClosed
	}
	c.reported = true
	return c.err
}

func (c *Conn) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func remoteString(stream net.Conn) string {
	if stream == nil || stream.RemoteAddr() == nil {
		return ""
	}
	return stream.RemoteAddr().String()
}
