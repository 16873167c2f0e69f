package session

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/danmuck/balatrobot/internal/observability"
	"github.com/danmuck/balatrobot/internal/protocol/frame"
)

type readResult struct {
	line []byte
	err  error
}

func (c *Conn) run() {
	lines := make(chan readResult)
	stopRead := make(chan struct{})
	go c.readLoop(lines, stopRead)

	c.log.Info().Msg("engine started")
	err := c.loop(lines)
	close(stopRead)
	c.finish(err)
}

// readLoop is the only reader of the stream. It blocks in ReadLine and hands
// every result to the engine; stop releases it once the engine is gone.
func (c *Conn) readLoop(lines chan<- readResult, stop <-chan struct{}) {
	r := bufio.NewReader(c.stream)
	limits := c.cfg.limits()
	for {
		line, err := frame.ReadLine(r, limits)
		select {
		case lines <- readResult{line: line, err: err}:
		case <-stop:
			return
		}
		if err != nil {
			return
		}
	}
}

func (c *Conn) loop(lines <-chan readResult) error {
	hb := newHeartbeat(c.cfg.Heartbeat, time.Now())
	timer := time.NewTimer(time.Until(hb.next()))
	defer timer.Stop()

	for {
		// Close, then inbound, then outbound, then timers. A ping that is
		// already waiting gets its pong ahead of any queued data frame.
		select {
		case <-c.closeCh:
			return ErrConnectionClosed
		default:
		}
		select {
		case res := <-lines:
			if err := c.onRead(hb, res); err != nil {
				return err
			}
			continue
		default:
		}
		select {
		case out := <-c.outbound:
			if err := c.onOutbound(hb, out); err != nil {
				return err
			}
			continue
		default:
		}
		timer.Reset(time.Until(hb.next()))

		select {
		case <-c.closeCh:
			return ErrConnectionClosed

		case res := <-lines:
			if err := c.onRead(hb, res); err != nil {
				return err
			}

		case out := <-c.outbound:
			if err := c.onOutbound(hb, out); err != nil {
				return err
			}

		case now := <-timer.C:
			// A frame that raced the timer is activity, not silence.
			select {
			case res := <-lines:
				if err := c.onRead(hb, res); err != nil {
					return err
				}
				continue
			default:
			}
			switch hb.due(now) {
			case actionPing:
				attempt := hb.attempts()
				if attempt > 1 {
					c.log.Warn().Int("attempt", attempt).Msg("ping unanswered, retrying")
				} else {
					c.log.Debug().Msg("idle, sending ping")
				}
				if err := c.write([]byte(frame.PingLine + "\n")); err != nil {
					return err
				}
				observability.RecordPing(observability.PingSent)
			case actionTimeout:
				observability.RecordPing(observability.PingTimeout)
				return fmt.Errorf("%w: %d pings unanswered", ErrTimeout, hb.attempts())
			}
		}
	}
}

func (c *Conn) onRead(hb *heartbeat, res readResult) error {
	if res.err != nil {
		return readError(res.err)
	}
	hb.activity(time.Now())
	return c.handleLine(res.line)
}

func (c *Conn) onOutbound(hb *heartbeat, out outboundFrame) error {
	err := c.write(out.line)
	out.result <- err
	if err != nil {
		return err
	}
	hb.activity(time.Now())
	observability.RecordFrame(observability.DirectionOut, out.kind)
	c.log.Debug().Str("kind", out.kind).Msg("frame sent")
	return nil
}

func (c *Conn) handleLine(line []byte) error {
	f, err := frame.Decode(line)
	if err != nil {
		return err
	}
	switch f.Kind {
	case frame.KindPing:
		observability.RecordPing(observability.PingReceived)
		c.log.Debug().Msg("ping received, answering")
		return c.write([]byte(frame.PongLine + "\n"))
	case frame.KindPong:
		observability.RecordPing(observability.PongReceived)
		c.log.Debug().Msg("pong received")
		return nil
	}

	observability.RecordFrame(observability.DirectionIn, f.Kind)
	c.log.Debug().Str("kind", f.Kind).Int("bytes", len(f.Body)).Msg("frame received")
	select {
	case c.inbound <- f:
		return nil
	case <-c.closeCh:
		return ErrConnectionClosed
	}
}

func (c *Conn) write(line []byte) error {
	if c.cfg.WriteTimeout > 0 {
		_ = c.stream.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	if _, err := c.writer.Write(line); err != nil {
		return ioError("write", err)
	}
	if err := c.writer.Flush(); err != nil {
		return ioError("flush", err)
	}
	return nil
}

func (c *Conn) finish(err error) {
	c.setErr(err)
	_ = c.stream.Close()
	observability.ConnectionClosed(string(c.role))

	switch {
	case errors.Is(err, ErrConnectionClosed):
		c.log.Info().Err(err).Msg("engine stopped")
	default:
		c.log.Error().Err(err).Msg("engine failed")
	}
	close(c.done)
}

func readError(err error) error {
	switch {
	case errors.Is(err, io.EOF):
		return fmt.Errorf("%w: peer closed stream", ErrConnectionClosed)
	case errors.Is(err, net.ErrClosed):
		return ErrConnectionClosed
	case errors.Is(err, frame.ErrLineTooLong):
		return err
	default:
		return ioError("read", err)
	}
}
