// Package fakepeer plays the game side of a connection in tests. It speaks
// raw kind!body lines and deliberately knows nothing about the session
// package so that session tests can use it.
//
// Failing helpers call t.Errorf and end the calling goroutine, so a Peer is
// safe to drive from a script goroutine.
package fakepeer

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"runtime"
	"strings"
	"testing"
	"time"
)

const defaultTimeout = 5 * time.Second

type Peer struct {
	t       testing.TB
	conn    net.Conn
	r       *bufio.Reader
	Timeout time.Duration
}

// Dial connects to a session listener the way the game mod does.
func Dial(t testing.TB, addr string) *Peer {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, defaultTimeout)
	if err != nil {
		t.Fatalf("fakepeer dial %s: %v", addr, err)
	}
	return Wrap(t, conn)
}

// Wrap drives an existing stream, for example a TLS client conn.
func Wrap(t testing.TB, conn net.Conn) *Peer {
	p := &Peer{t: t, conn: conn, r: bufio.NewReader(conn), Timeout: defaultTimeout}
	t.Cleanup(func() { _ = conn.Close() })
	return p
}

// Listener accepts session dialers.
type Listener struct {
	t  testing.TB
	ln net.Listener
}

func Listen(t testing.TB) *Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("fakepeer listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	return &Listener{t: t, ln: ln}
}

func (l *Listener) Addr() string { return l.ln.Addr().String() }

func (l *Listener) Close() error { return l.ln.Close() }

func (l *Listener) Accept() *Peer {
	conn, err := l.ln.Accept()
	if err != nil {
		l.t.Errorf("fakepeer accept: %v", err)
		runtime.Goexit()
	}
	return Wrap(l.t, conn)
}

// ReadLine returns the next raw line without its delimiter.
func (p *Peer) ReadLine() (string, error) {
	_ = p.conn.SetReadDeadline(time.Now().Add(p.Timeout))
	line, err := p.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(line, "\n"), nil
}

// NextLine is ReadLine that fails the test on error.
func (p *Peer) NextLine() string {
	line, err := p.ReadLine()
	if err != nil {
		p.fail("fakepeer read: %v", err)
	}
	return line
}

// Expect reads one frame, requires its kind, and returns its body.
func (p *Peer) Expect(kind string) []byte {
	line := p.NextLine()
	gotKind, body, ok := strings.Cut(line, "!")
	if !ok {
		p.fail("fakepeer: malformed line %q", line)
	}
	if gotKind != kind {
		p.fail("fakepeer: expected kind %q, got %q (body %s)", kind, gotKind, body)
	}
	return []byte(body)
}

// ExpectJSON is Expect plus a decode of the body into v.
func (p *Peer) ExpectJSON(kind string, v any) {
	body := p.Expect(kind)
	if err := json.Unmarshal(body, v); err != nil {
		p.fail("fakepeer: decode %s body %s: %v", kind, body, err)
	}
}

// ExpectClosed requires the stream to end before another line arrives.
func (p *Peer) ExpectClosed() {
	line, err := p.ReadLine()
	if err == nil {
		p.fail("fakepeer: expected closed stream, got %q", line)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		p.fail("fakepeer: stream still open after %s", p.Timeout)
	}
}

// Reply sends kind!<json(v)>. A json.RawMessage or []byte is sent as is.
func (p *Peer) Reply(kind string, v any) {
	var body []byte
	switch b := v.(type) {
	case json.RawMessage:
		body = b
	case []byte:
		body = b
	default:
		var err error
		body, err = json.Marshal(v)
		if err != nil {
			p.fail("fakepeer: encode %s: %v", kind, err)
		}
	}
	p.WriteLine(kind + "!" + string(body))
}

// ReplyOk sends result/<expect> wrapping v as {"Ok": v}.
func (p *Peer) ReplyOk(expect string, v any) {
	p.Reply("result/"+expect, map[string]any{"Ok": v})
}

// ReplyErr sends result/<expect> carrying {"Err": msg}.
func (p *Peer) ReplyErr(expect, msg string) {
	p.Reply("result/"+expect, map[string]string{"Err": msg})
}

func (p *Peer) WriteLine(line string) {
	_ = p.conn.SetWriteDeadline(time.Now().Add(p.Timeout))
	if _, err := p.conn.Write([]byte(line + "\n")); err != nil {
		p.fail("fakepeer write: %v", err)
	}
}

func (p *Peer) Close() error {
	return p.conn.Close()
}

func (p *Peer) fail(format string, args ...any) {
	p.t.Errorf(format, args...)
	runtime.Goexit()
}
