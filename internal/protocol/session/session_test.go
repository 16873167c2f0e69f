package session

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/balatrobot/internal/protocol/frame"
	"github.com/danmuck/balatrobot/internal/testutil/fakepeer"
	"github.com/danmuck/balatrobot/internal/testutil/testlog"
)

type echoRequest struct {
	Text string `json:"text"`
}

type echoResponse struct {
	Text string `json:"text"`
}

var echoRoute = NewRoute[echoRequest, echoResponse]("test/echo", "test/echoed")

// quietConfig never pings within a test's lifetime.
func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.Heartbeat = HeartbeatConfig{
		InactivityTimeout:   time.Hour,
		PingResponseTimeout: time.Minute,
		MaxPingRetries:      3,
	}
	return cfg
}

func fastHeartbeatConfig(inactivity, response time.Duration) Config {
	cfg := DefaultConfig()
	cfg.Heartbeat = HeartbeatConfig{
		InactivityTimeout:   inactivity,
		PingResponseTimeout: response,
		MaxPingRetries:      3,
	}
	return cfg
}

func pair(t *testing.T, cfg Config) (*Conn, *fakepeer.Peer) {
	t.Helper()
	ln, err := Listen("127.0.0.1:0", cfg)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan *Conn, 1)
	go func() {
		c, err := ln.Accept(context.Background())
		if err != nil {
			t.Errorf("accept: %v", err)
			close(accepted)
			return
		}
		accepted <- c
	}()
	peer := fakepeer.Dial(t, ln.Addr().String())
	c, ok := <-accepted
	if !ok {
		t.FailNow()
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, peer
}

func waitDone(t *testing.T, c *Conn, within time.Duration) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(within):
		t.Fatalf("engine still running after %s", within)
	}
}

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       false,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
}

func TestConfigDefaultsAndValidate(t *testing.T) {
	testlog.Start(t)
	cfg := Config{}.WithDefaults()
	if cfg.Heartbeat.InactivityTimeout != 7*time.Second ||
		cfg.Heartbeat.PingResponseTimeout != 3*time.Second ||
		cfg.Heartbeat.MaxPingRetries != 3 {
		t.Fatalf("unexpected heartbeat defaults: %+v", cfg.Heartbeat)
	}
	if cfg.QueueSize != 32 {
		t.Fatalf("unexpected queue size: %d", cfg.QueueSize)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	cfg.Heartbeat.PingResponseTimeout = cfg.Heartbeat.InactivityTimeout
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestHeartbeatPingRetryTimeoutSequence(t *testing.T) {
	testlog.Start(t)
	t0 := time.Unix(1700000000, 0)
	hb := newHeartbeat(HeartbeatConfig{
		InactivityTimeout:   7 * time.Second,
		PingResponseTimeout: 3 * time.Second,
		MaxPingRetries:      3,
	}, t0)

	if got := hb.next(); !got.Equal(t0.Add(7 * time.Second)) {
		t.Fatalf("first deadline got=%v", got)
	}
	if got := hb.due(t0.Add(6 * time.Second)); got != actionNone {
		t.Fatalf("early fire got=%s", got)
	}
	steps := []struct {
		at   time.Duration
		want heartbeatAction
	}{
		{7 * time.Second, actionPing},
		{10 * time.Second, actionPing},
		{13 * time.Second, actionPing},
		{16 * time.Second, actionTimeout},
	}
	for i, step := range steps {
		if got := hb.due(t0.Add(step.at)); got != step.want {
			t.Fatalf("step %d at %s got=%s want=%s", i, step.at, got, step.want)
		}
	}
	if hb.attempts() != 3 {
		t.Fatalf("unexpected attempts=%d", hb.attempts())
	}
}

func TestHeartbeatActivityClearsOutstandingPing(t *testing.T) {
	testlog.Start(t)
	t0 := time.Unix(1700000000, 0)
	hb := newHeartbeat(HeartbeatConfig{
		InactivityTimeout:   7 * time.Second,
		PingResponseTimeout: 3 * time.Second,
		MaxPingRetries:      3,
	}, t0)
	if got := hb.due(t0.Add(7 * time.Second)); got != actionPing {
		t.Fatalf("expected ping, got=%s", got)
	}
	hb.activity(t0.Add(8 * time.Second))
	if hb.attempts() != 0 || !hb.pingDeadline.IsZero() {
		t.Fatalf("activity did not reset: attempts=%d deadline=%v", hb.attempts(), hb.pingDeadline)
	}
	if got := hb.next(); !got.Equal(t0.Add(15 * time.Second)) {
		t.Fatalf("next after activity got=%v", got)
	}
}

func TestEngineNoPingUnderRegularTraffic(t *testing.T) {
	testlog.Start(t)
	c, peer := pair(t, fastHeartbeatConfig(200*time.Millisecond, 50*time.Millisecond))

	const rounds = 8
	go func() {
		for range rounds {
			var req echoRequest
			peer.ExpectJSON(echoRoute.Kind, &req)
			peer.Reply(echoRoute.Expect, echoResponse{Text: req.Text})
		}
	}()

	for i := range rounds {
		resp, err := echoRoute.Do(context.Background(), c, echoRequest{Text: "hi"})
		if err != nil {
			t.Fatalf("round %d: %v", i, err)
		}
		if resp.Text != "hi" {
			t.Fatalf("round %d: unexpected response %+v", i, resp)
		}
		time.Sleep(60 * time.Millisecond)
	}
}

func TestEngineIdlePingRetryThenTimeout(t *testing.T) {
	testlog.Start(t)
	start := time.Now()
	c, peer := pair(t, fastHeartbeatConfig(100*time.Millisecond, 50*time.Millisecond))

	for i := range 3 {
		if line := peer.NextLine(); line != frame.PingLine {
			t.Fatalf("ping %d: got line %q", i+1, line)
		}
	}
	waitDone(t, c, 2*time.Second)
	if elapsed := time.Since(start); elapsed < 250*time.Millisecond {
		t.Fatalf("timed out too early after %s", elapsed)
	}
	if !errors.Is(c.Err(), ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", c.Err())
	}
	peer.ExpectClosed()
}

func TestEngineAnswersPingWithoutSurfacingIt(t *testing.T) {
	testlog.Start(t)
	c, peer := pair(t, quietConfig())

	peer.WriteLine(frame.PingLine)
	if line := peer.NextLine(); line != frame.PongLine {
		t.Fatalf("expected pong, got %q", line)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		peer.Expect(echoRoute.Kind)
		peer.WriteLine(frame.PingLine)
		peer.Reply(echoRoute.Expect, echoResponse{Text: "after ping"})
		if line := peer.NextLine(); line != frame.PongLine {
			t.Errorf("expected second pong, got %q", line)
		}
	}()

	resp, err := echoRoute.Do(context.Background(), c, echoRequest{Text: "x"})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if resp.Text != "after ping" {
		t.Fatalf("unexpected response %+v", resp)
	}
	<-done
}

func TestEnginePongIsSwallowed(t *testing.T) {
	testlog.Start(t)
	c, peer := pair(t, quietConfig())

	go func() {
		peer.Expect(echoRoute.Kind)
		peer.WriteLine(frame.PongLine)
		peer.Reply(echoRoute.Expect, echoResponse{Text: "ok"})
	}()
	resp, err := echoRoute.Do(context.Background(), c, echoRequest{})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if resp.Text != "ok" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestRequestAfterEngineExitFailsFast(t *testing.T) {
	testlog.Start(t)
	c, _ := pair(t, quietConfig())
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := echoRoute.Do(context.Background(), c, echoRequest{})
		errCh <- err
	}()
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrChannelClosed) {
			t.Fatalf("expected ErrChannelClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("request on closed connection blocked")
	}
}

func TestMalformedLineTerminatesEngine(t *testing.T) {
	testlog.Start(t)
	c, peer := pair(t, quietConfig())

	peer.WriteLine("no separator here")
	waitDone(t, c, 2*time.Second)

	ctx := context.Background()
	if _, err := c.recv(ctx); !errors.Is(err, frame.ErrMalformed) {
		t.Fatalf("first recv expected ErrMalformed, got %v", err)
	}
	for i := range 2 {
		if _, err := c.recv(ctx); !errors.Is(err, ErrConnectionClosed) {
			t.Fatalf("recv %d expected ErrConnectionClosed, got %v", i, err)
		}
	}
	peer.ExpectClosed()
}

func TestControlFrameWithBodyIsMalformed(t *testing.T) {
	testlog.Start(t)
	c, peer := pair(t, quietConfig())

	peer.WriteLine("ping!x")
	waitDone(t, c, 2*time.Second)
	if !errors.Is(c.Err(), frame.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", c.Err())
	}
}

func TestBufferedFramesDeliveredAfterPeerClose(t *testing.T) {
	testlog.Start(t)
	c, peer := pair(t, quietConfig())

	peer.WriteLine("first!1")
	peer.WriteLine("second!2")
	_ = peer.Close()
	waitDone(t, c, 2*time.Second)

	ctx := context.Background()
	for _, want := range []string{"first", "second"} {
		f, err := c.recv(ctx)
		if err != nil {
			t.Fatalf("recv %s: %v", want, err)
		}
		if f.Kind != want {
			t.Fatalf("expected kind %q, got %q", want, f.Kind)
		}
	}
	if _, err := c.recv(ctx); !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("expected terminal ErrConnectionClosed, got %v", err)
	}
	if _, err := c.recv(ctx); !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("expected ErrConnectionClosed, got %v", err)
	}
}

func TestRouteResultEnvelope(t *testing.T) {
	testlog.Start(t)
	c, peer := pair(t, quietConfig())

	go func() {
		peer.Expect(echoRoute.Kind)
		peer.ReplyOk(echoRoute.Expect, echoResponse{Text: "wrapped"})
		peer.Expect(echoRoute.Kind)
		peer.ReplyErr(echoRoute.Expect, "index out of range")
		peer.Expect(echoRoute.Kind)
		peer.Reply(echoRoute.Expect, echoResponse{Text: "still alive"})
	}()

	ctx := context.Background()
	resp, err := echoRoute.Do(ctx, c, echoRequest{})
	if err != nil || resp.Text != "wrapped" {
		t.Fatalf("ok envelope: resp=%+v err=%v", resp, err)
	}

	_, err = echoRoute.Do(ctx, c, echoRequest{})
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if remote.Message != "index out of range" || remote.Kind != echoRoute.Expect {
		t.Fatalf("unexpected remote error %+v", remote)
	}
	if !errors.Is(err, ErrRemote) || IsFatal(err) {
		t.Fatalf("remote error classification wrong: %v", err)
	}

	resp, err = echoRoute.Do(ctx, c, echoRequest{})
	if err != nil || resp.Text != "still alive" {
		t.Fatalf("after remote error: resp=%+v err=%v", resp, err)
	}
}

func TestRouteKindMismatchAndBadBody(t *testing.T) {
	testlog.Start(t)
	c, peer := pair(t, quietConfig())

	go func() {
		peer.Expect(echoRoute.Kind)
		peer.WriteLine("screen/current!{}")
		peer.Expect(echoRoute.Kind)
		peer.WriteLine(echoRoute.Expect + "!not json")
	}()

	ctx := context.Background()
	_, err := echoRoute.Do(ctx, c, echoRequest{})
	if !errors.Is(err, ErrKindMismatch) {
		t.Fatalf("expected ErrKindMismatch, got %v", err)
	}
	if !strings.Contains(err.Error(), "screen/current") {
		t.Fatalf("mismatch error should name actual kind: %v", err)
	}

	_, err = echoRoute.Do(ctx, c, echoRequest{})
	if !errors.Is(err, ErrDeserialization) {
		t.Fatalf("expected ErrDeserialization, got %v", err)
	}
	if IsFatal(err) {
		t.Fatalf("deserialization error should not be fatal")
	}
}

func TestDoCancelClosesConnection(t *testing.T) {
	testlog.Start(t)
	c, peer := pair(t, quietConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	go peer.Expect(echoRoute.Kind)

	_, err := echoRoute.Do(ctx, c, echoRequest{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	waitDone(t, c, time.Second)
	if !errors.Is(c.Err(), ErrConnectionClosed) {
		t.Fatalf("expected ErrConnectionClosed, got %v", c.Err())
	}
}

func TestPendingSnapshotDuringRequest(t *testing.T) {
	testlog.Start(t)
	c, peer := pair(t, quietConfig())

	if _, ok := c.Pending(); ok {
		t.Fatalf("unexpected pending request before Do")
	}
	go func() {
		peer.Expect(echoRoute.Kind)
		p, ok := c.Pending()
		if !ok || p.Kind != echoRoute.Kind || p.Expect != echoRoute.Expect || p.SentAt.IsZero() {
			t.Errorf("unexpected pending snapshot ok=%v %+v", ok, p)
		}
		peer.Reply(echoRoute.Expect, echoResponse{})
	}()
	if _, err := echoRoute.Do(context.Background(), c, echoRequest{}); err != nil {
		t.Fatalf("do: %v", err)
	}
	if _, ok := c.Pending(); ok {
		t.Fatalf("pending request not cleared")
	}
}

func TestNewRouteRejectsBadKinds(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name   string
		kind   string
		expect string
	}{
		{name: "duplicate", kind: echoRoute.Kind, expect: "test/other"},
		{name: "separator", kind: "bad!kind", expect: "test/other"},
		{name: "newline", kind: "bad\nkind", expect: "test/other"},
		{name: "reserved", kind: "test/ok", expect: frame.KindPing},
		{name: "empty", kind: "", expect: "test/other"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatalf("expected panic for kind=%q expect=%q", tc.kind, tc.expect)
				}
			}()
			NewRoute[struct{}, struct{}](tc.kind, tc.expect)
		})
	}
}

func TestRoutesListsRegistry(t *testing.T) {
	testlog.Start(t)
	routes := Routes()
	found := false
	for i, r := range routes {
		if i > 0 && routes[i-1].Kind > r.Kind {
			t.Fatalf("routes not sorted: %q before %q", routes[i-1].Kind, r.Kind)
		}
		if r.Kind == echoRoute.Kind {
			found = true
			if r.Expect != echoRoute.Expect || r.Request != "session.echoRequest" {
				t.Fatalf("unexpected route info %+v", r)
			}
		}
	}
	if !found {
		t.Fatalf("echo route missing from %+v", routes)
	}
}

func TestDialConnectsToListeningPeer(t *testing.T) {
	testlog.Start(t)
	ln := fakepeer.Listen(t)

	peerCh := make(chan *fakepeer.Peer, 1)
	go func() { peerCh <- ln.Accept() }()

	c, err := Dial(context.Background(), ln.Addr(), quietConfig())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	if c.Role() != RoleClient || c.ID() == "" {
		t.Fatalf("unexpected conn identity role=%s id=%q", c.Role(), c.ID())
	}

	peer := <-peerCh
	go func() {
		peer.Expect(echoRoute.Kind)
		peer.Reply(echoRoute.Expect, echoResponse{Text: "dialed"})
	}()
	resp, err := echoRoute.Do(context.Background(), c, echoRequest{})
	if err != nil || resp.Text != "dialed" {
		t.Fatalf("resp=%+v err=%v", resp, err)
	}
}

func TestDialGivesUpAfterMaxAttempts(t *testing.T) {
	testlog.Start(t)
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := probe.Addr().String()
	_ = probe.Close()

	cfg := quietConfig()
	cfg.MaxConnectAttempts = 2
	cfg.ConnectTimeout = 200 * time.Millisecond
	cfg.Backoff = BackoffConfig{InitialDelay: 10 * time.Millisecond, Multiplier: 2, MaxDelay: 50 * time.Millisecond}

	_, err = Dial(context.Background(), addr, cfg)
	if !errors.Is(err, ErrConnectAttemptsExhausted) {
		t.Fatalf("expected ErrConnectAttemptsExhausted, got %v", err)
	}
	if !errors.Is(err, ErrIO) {
		t.Fatalf("expected wrapped ErrIO, got %v", err)
	}
}

func TestAcceptHonorsContext(t *testing.T) {
	testlog.Start(t)
	ln, err := Listen("127.0.0.1:0", quietConfig())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := ln.Accept(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestPendingPingAnsweredBeforeQueuedFrame(t *testing.T) {
	testlog.Start(t)

	for trial := range 5 {
		client, server := net.Pipe()
		c := NewConn(client, RoleClient, quietConfig())
		peer := fakepeer.Wrap(t, server)

		first := make(chan error, 1)
		go func() { first <- c.send(context.Background(), "test/first", []byte("1")) }()
		// the peer is not reading yet, so the engine is parked writing first
		time.Sleep(30 * time.Millisecond)

		peer.WriteLine(frame.PingLine)

		second := make(chan error, 1)
		go func() { second <- c.send(context.Background(), "test/second", []byte("2")) }()
		time.Sleep(30 * time.Millisecond)

		lines := []string{peer.NextLine(), peer.NextLine(), peer.NextLine()}
		want := []string{"test/first!1", frame.PongLine, "test/second!2"}
		for i := range want {
			if lines[i] != want[i] {
				t.Fatalf("trial %d: line %d = %q, want %q (all %q)", trial, i, lines[i], want[i], lines)
			}
		}
		for _, ch := range []chan error{first, second} {
			if err := <-ch; err != nil {
				t.Fatalf("trial %d: send: %v", trial, err)
			}
		}
		_ = c.Close()
	}
}
