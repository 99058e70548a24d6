package frame

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	ErrBufferOverflow = errors.New("frame: buffered bytes exceed limit without a terminator")
)

var (
	errorPrefix = []byte("ACK [")
	okSuffix    = []byte("OK\n")
)

// Kind classifies a complete response.
type Kind uint8

const (
	KindSuccess Kind = iota
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Frame is one complete response. Raw is owned by the receiver.
type Frame struct {
	Kind Kind
	Raw  []byte
}

// Limits constrains decoder memory use.
type Limits struct {
	MaxBuffer int
}

func DefaultLimits() Limits {
	return Limits{
		MaxBuffer: 16 * 1024 * 1024,
	}
}

// Decoder splits an arbitrarily chunked byte stream into frames.
// A Decoder is not safe for concurrent use; one reader goroutine owns it.
//
// An error reply is recognised only when it opens a delivery into an empty
// buffer. A success reply ends at the first delivery that leaves the buffer
// ending in "OK\n", so a payload that itself ends in those bytes is cut early.
type Decoder struct {
	buf    []byte
	limits Limits
}

func NewDecoder(limits Limits) *Decoder {
	if limits.MaxBuffer <= 0 {
		limits = DefaultLimits()
	}
	return &Decoder{limits: limits}
}

// Feed consumes one delivery. It returns a frame and true when the delivery
// completes one.
func (d *Decoder) Feed(chunk []byte) (Frame, bool, error) {
	if len(chunk) == 0 {
		return Frame{}, false, nil
	}
	if len(d.buf) == 0 && bytes.HasPrefix(chunk, errorPrefix) {
		raw := make([]byte, len(chunk))
		copy(raw, chunk)
		return Frame{Kind: KindError, Raw: raw}, true, nil
	}

	if len(d.buf)+len(chunk) > d.limits.MaxBuffer {
		d.buf = nil
		return Frame{}, false, fmt.Errorf("%w: limit=%d", ErrBufferOverflow, d.limits.MaxBuffer)
	}
	d.buf = append(d.buf, chunk...)
	if !bytes.HasSuffix(d.buf, okSuffix) {
		return Frame{}, false, nil
	}

	raw := d.buf
	d.buf = nil
	return Frame{Kind: KindSuccess, Raw: raw}, true, nil
}

// Buffered reports how many bytes are waiting for a terminator.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

func (d *Decoder) Reset() {
	d.buf = nil
}
