package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/balatrobot/internal/observability"
	"github.com/danmuck/balatrobot/internal/protocol/frame"
)

// ResultPrefix marks a response that wraps its payload as {"Ok":..} or {"Err":".."}.
const ResultPrefix = "result/"

var ErrInvalidKind = errors.New("session: invalid frame kind")

// Route pairs a request type with its frame kind and the kind of the
// response it must produce. Declare routes once, at package level.
type Route[Req, Resp any] struct {
	Kind   string
	Expect string
}

// RouteInfo is the registry view of one declared route.
type RouteInfo struct {
	Kind     string `json:"kind"`
	Expect   string `json:"expect"`
	Request  string `json:"request"`
	Response string `json:"response"`
}

var (
	registryMu sync.RWMutex
	registry   = map[string]RouteInfo{}
)

// NewRoute validates and registers a route. Invalid or duplicate kinds panic.
func NewRoute[Req, Resp any](kind, expect string) Route[Req, Resp] {
	if err := ValidateKind(kind); err != nil {
		panic(err)
	}
	if err := ValidateKind(expect); err != nil {
		panic(err)
	}
	info := RouteInfo{
		Kind:     kind,
		Expect:   expect,
		Request:  reflect.TypeFor[Req]().String(),
		Response: reflect.TypeFor[Resp]().String(),
	}

	registryMu.Lock()
	defer registryMu.Unlock()
	if prev, ok := registry[kind]; ok {
		panic(fmt.Sprintf("session: route %q already declared (expect %q)", kind, prev.Expect))
	}
	registry[kind] = info
	return Route[Req, Resp]{Kind: kind, Expect: expect}
}

// ValidateKind rejects kinds the framer cannot carry and the reserved heartbeat kinds.
func ValidateKind(kind string) error {
	switch {
	case kind == "":
		return fmt.Errorf("%w: empty", ErrInvalidKind)
	case strings.ContainsAny(kind, string(frame.Separator)+string(frame.Delimiter)):
		return fmt.Errorf("%w: %q contains a separator or newline", ErrInvalidKind, kind)
	case kind == frame.KindPing || kind == frame.KindPong:
		return fmt.Errorf("%w: %q is reserved", ErrInvalidKind, kind)
	}
	return nil
}

func ResultKind(expect string) string {
	return ResultPrefix + expect
}

// Routes lists every declared route sorted by request kind.
func Routes() []RouteInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]RouteInfo, 0, len(registry))
	for _, info := range registry {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// Do sends req and waits for its response. Only one request is in flight per
// connection; concurrent callers queue on the connection. Cancelling ctx while
// waiting closes the connection, since a late response would pair with the
// next request.
func (r Route[Req, Resp]) Do(ctx context.Context, c *Conn, req Req) (Resp, error) {
	var zero Resp

	body, err := json.Marshal(req)
	if err != nil {
		return zero, fmt.Errorf("session: encode %s: %w", r.Kind, err)
	}

	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	start := time.Now()
	c.setPending(r.Kind, r.Expect, start)
	defer c.clearPending()

	resp, err := r.roundTrip(ctx, c, body)
	observability.RecordRequest(r.Kind, outcome(err), time.Since(start))
	if err != nil {
		c.log.Debug().Str("kind", r.Kind).Err(err).Msg("request failed")
		return zero, err
	}
	return resp, nil
}

func (r Route[Req, Resp]) roundTrip(ctx context.Context, c *Conn, body []byte) (Resp, error) {
	var zero Resp
	if err := c.send(ctx, r.Kind, body); err != nil {
		return zero, err
	}
	f, err := c.recv(ctx)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			c.log.Warn().Str("kind", r.Kind).Msg("request abandoned, closing connection")
			_ = c.Close()
		}
		return zero, err
	}
	return decodeResponse[Resp](r.Expect, f)
}

type resultEnvelope struct {
	Ok  json.RawMessage `json:"Ok"`
	Err *string         `json:"Err"`
}

func decodeResponse[Resp any](expect string, f frame.Frame) (Resp, error) {
	var resp Resp
	switch f.Kind {
	case expect:
		if err := json.Unmarshal(f.Body, &resp); err != nil {
			return resp, fmt.Errorf("%w: %s: %w", ErrDeserialization, f.Kind, err)
		}
		return resp, nil

	case ResultKind(expect):
		var env resultEnvelope
		if err := json.Unmarshal(f.Body, &env); err != nil {
			return resp, fmt.Errorf("%w: %s: %w", ErrDeserialization, f.Kind, err)
		}
		if env.Err != nil {
			return resp, &RemoteError{Kind: expect, Message: *env.Err}
		}
		if env.Ok == nil {
			return resp, fmt.Errorf("%w: %s: neither Ok nor Err present", ErrDeserialization, f.Kind)
		}
		if err := json.Unmarshal(env.Ok, &resp); err != nil {
			return resp, fmt.Errorf("%w: %s: %w", ErrDeserialization, f.Kind, err)
		}
		return resp, nil

	default:
		return resp, fmt.Errorf("%w: expected %q, got %q", ErrKindMismatch, expect, f.Kind)
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRemote):
		return "remote_error"
	case errors.Is(err, ErrKindMismatch):
		return "kind_mismatch"
	case errors.Is(err, ErrDeserialization):
		return "decode_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "transport_error"
	}
}
