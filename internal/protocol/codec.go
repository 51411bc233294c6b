package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

const (
	delimiter = '\n'
	separator = ':'

	// MaxFrame bounds a frame, delimiter included. Longer input without a
	// delimiter is treated as malformed rather than buffered forever.
	MaxFrame = 64
)

// ErrMalformed matches every decode failure.
var ErrMalformed = errors.New("protocol: malformed frame")

// DecodeError describes a frame that could not be decoded.
type DecodeError struct {
	Frame  string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("protocol: malformed frame %q: %s", e.Frame, e.Reason)
}

// Is makes errors.Is(err, ErrMalformed) hold for every DecodeError.
func (e *DecodeError) Is(target error) bool { return target == ErrMalformed }

// Encode serializes m into a single frame.
func Encode(m Message) ([]byte, error) {
	tag, ok := kindTags[m.Kind]
	if !ok {
		return nil, fmt.Errorf("protocol: encode: unknown kind %v", m.Kind)
	}
	var b strings.Builder
	b.WriteString(tag)
	if m.Kind == KindMove {
		if !validUCI(m.UCI) {
			return nil, fmt.Errorf("protocol: encode: invalid move %q", m.UCI)
		}
		b.WriteByte(separator)
		b.WriteString(m.UCI)
	} else if m.UCI != "" {
		return nil, fmt.Errorf("protocol: encode: %s carries no payload", tag)
	}
	b.WriteByte(delimiter)
	return []byte(b.String()), nil
}

// Decoder turns an arbitrarily chunked byte stream back into messages.
// The zero value is ready to use. A Decoder is not safe for concurrent use.
type Decoder struct {
	buf []byte
	err error
}

// Feed appends p to the buffered input and returns every message completed
// by it, in order. After the first error the decoder is spent and keeps
// returning that error.
func (d *Decoder) Feed(p []byte) ([]Message, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.buf = append(d.buf, p...)
	var out []Message
	for {
		i := bytes.IndexByte(d.buf, delimiter)
		if i < 0 {
			break
		}
		m, err := parseFrame(d.buf[:i])
		if err != nil {
			d.err = err
			return out, err
		}
		out = append(out, m)
		d.buf = d.buf[i+1:]
	}
	if len(d.buf) >= MaxFrame {
		d.err = &DecodeError{Frame: string(d.buf[:MaxFrame]), Reason: "frame too long"}
		return out, d.err
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return out, nil
}

// Buffered returns the bytes of an incomplete trailing frame.
func (d *Decoder) Buffered() []byte {
	return d.buf
}

// Decode decodes every complete frame in b and returns the unconsumed tail.
func Decode(b []byte) ([]Message, []byte, error) {
	var d Decoder
	msgs, err := d.Feed(b)
	return msgs, d.Buffered(), err
}

func parseFrame(frame []byte) (Message, error) {
	s := string(frame)
	tag, payload, hasPayload := strings.Cut(s, string(separator))
	kind, ok := tagKinds[tag]
	if !ok {
		return Message{}, &DecodeError{Frame: s, Reason: "unknown tag"}
	}
	if kind != KindMove {
		if hasPayload {
			return Message{}, &DecodeError{Frame: s, Reason: "unexpected payload"}
		}
		return Message{Kind: kind}, nil
	}
	if !hasPayload || !validUCI(payload) {
		return Message{}, &DecodeError{Frame: s, Reason: "invalid move payload"}
	}
	return Move(payload), nil
}

// validUCI checks the shape of a move: two squares and an optional
// promotion letter. Legality is left to the rules engine.
func validUCI(s string) bool {
	if len(s) != 4 && len(s) != 5 {
		return false
	}
	for i := 0; i < 4; i += 2 {
		if s[i] < 'a' || s[i] > 'h' || s[i+1] < '1' || s[i+1] > '8' {
			return false
		}
	}
	if len(s) == 5 && !strings.ContainsRune("qrbn", rune(s[4])) {
		return false
	}
	return true
}
