package frame

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

const (
	Separator byte = '!'
	Delimiter byte = '\n'

	KindPing = "ping"
	KindPong = "pong"

	PingLine = "ping!"
	PongLine = "pong!"
)

var (
	ErrMalformed   = errors.New("frame: malformed line")
	ErrLineTooLong = errors.New("frame: line too long")
)

// Frame is one newline-delimited kind!body unit.
type Frame struct {
	Kind string
	Body []byte
}

// Limits constrains frame read memory use.
type Limits struct {
	// MaxLineBytes bounds kind!body, not counting the delimiter.
	MaxLineBytes int
}

func DefaultLimits() Limits {
	return Limits{
		MaxLineBytes: 1024 * 1024,
	}
}

// IsControl reports whether f is a heartbeat ping or pong.
func (f Frame) IsControl() bool {
	return f.Kind == KindPing || f.Kind == KindPong
}

func (f Frame) String() string {
	return f.Kind + string(Separator) + string(f.Body)
}

// Encode renders kind!body\n. Kinds are never escaped.
func Encode(kind string, body []byte) []byte {
	buf := make([]byte, 0, len(kind)+len(body)+2)
	buf = append(buf, kind...)
	buf = append(buf, Separator)
	buf = append(buf, body...)
	buf = append(buf, Delimiter)
	return buf
}

// Decode splits one line on its first separator.
func Decode(line []byte) (Frame, error) {
	line = bytes.TrimSuffix(line, []byte{Delimiter})
	line = bytes.TrimSuffix(line, []byte{'\r'})
	idx := bytes.IndexByte(line, Separator)
	if idx < 0 {
		return Frame{}, fmt.Errorf("%w: no separator in %q", ErrMalformed, preview(line))
	}
	f := Frame{
		Kind: string(line[:idx]),
		Body: append([]byte(nil), line[idx+1:]...),
	}
	if err := ValidateControl(f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// ValidateControl rejects heartbeat frames that carry a body.
func ValidateControl(f Frame) error {
	if f.IsControl() && len(f.Body) > 0 {
		return fmt.Errorf("%w: %s frame carries body %q", ErrMalformed, f.Kind, preview(f.Body))
	}
	return nil
}

func ReadFrame(r *bufio.Reader, limits Limits) (Frame, error) {
	line, err := ReadLine(r, limits)
	if err != nil {
		return Frame{}, err
	}
	return Decode(line)
}

// ReadLine returns one delimited line without decoding it. A final
// unterminated line before EOF is returned as is.
func ReadLine(r *bufio.Reader, limits Limits) ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice(Delimiter)
		line = append(line, chunk...)
		if limits.MaxLineBytes > 0 && len(bytes.TrimSuffix(line, []byte{Delimiter})) > limits.MaxLineBytes {
			return nil, ErrLineTooLong
		}
		switch {
		case err == nil:
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(line) > 0:
			return line, nil
		default:
			return nil, err
		}
	}
}

func WriteFrame(w io.Writer, f Frame) error {
	_, err := w.Write(Encode(f.Kind, f.Body))
	return err
}

func preview(b []byte) string {
	const max = 64
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
