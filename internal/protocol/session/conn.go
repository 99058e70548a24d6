package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/mpdctl/internal/observability"
	"github.com/danmuck/mpdctl/internal/protocol"
	"github.com/danmuck/mpdctl/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

// State is the lifecycle position of a Conn.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ClosedFunc observes the end of a Conn exactly once. intentional is true
// only when Close ended it.
type ClosedFunc func(conn *Conn, err error, intentional bool)

// Conn is one greeted connection. A Conn never returns to Connected once it
// leaves that state; callers dial a new one.
type Conn struct {
	addr     string
	cfg      Config
	raw      net.Conn
	reader   *bufio.Reader
	greeting protocol.Greeting
	onClosed ClosedFunc

	frames chan frame.Frame
	done   chan struct{}
	state  atomic.Int32

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

// Dial opens a TCP connection to addr and reads the greeting.
func Dial(ctx context.Context, addr string, cfg Config, onClosed ClosedFunc) (*Conn, error) {
	cfg = cfg.WithDefaults()
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", protocol.ErrConnection, addr, err)
	}
	return Open(ctx, raw, addr, cfg, onClosed)
}

// Open takes ownership of raw, reads the greeting and starts the reader.
// raw is closed on failure.
func Open(ctx context.Context, raw net.Conn, addr string, cfg Config, onClosed ClosedFunc) (*Conn, error) {
	cfg = cfg.WithDefaults()
	c := &Conn{
		addr:     addr,
		cfg:      cfg,
		raw:      raw,
		reader:   bufio.NewReaderSize(raw, cfg.ReadBufferSize),
		onClosed: onClosed,
		frames:   make(chan frame.Frame, 1),
		done:     make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))

	greeting, err := c.readGreeting(ctx)
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		_ = raw.Close()
		return nil, err
	}
	c.greeting = greeting
	c.state.Store(int32(StateConnected))
	log.Debug().Msgf("session.Conn.Open connected addr=%s daemon=%s version=%s", addr, greeting.Name, greeting.Version)

	go c.readLoop()
	return c, nil
}

func (c *Conn) readGreeting(ctx context.Context) (protocol.Greeting, error) {
	deadline := time.Now().Add(c.cfg.GreetingTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := c.raw.SetReadDeadline(deadline); err != nil {
		return protocol.Greeting{}, fmt.Errorf("%w: greeting deadline: %v", protocol.ErrConnection, err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.raw.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	line, err := c.reader.ReadString('\n')
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return protocol.Greeting{}, fmt.Errorf("%w: greeting from %s: %w", protocol.ErrConnection, c.addr, ctxErr)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, os.ErrDeadlineExceeded) {
			return protocol.Greeting{}, fmt.Errorf("%w: no greeting from %s: %v", protocol.ErrProtocol, c.addr, err)
		}
		return protocol.Greeting{}, fmt.Errorf("%w: read greeting from %s: %v", protocol.ErrConnection, c.addr, err)
	}
	if err := c.raw.SetReadDeadline(time.Time{}); err != nil {
		return protocol.Greeting{}, fmt.Errorf("%w: clear deadline: %v", protocol.ErrConnection, err)
	}
	return protocol.ParseGreeting(line)
}

// readLoop is the only owner of the decoder.
func (c *Conn) readLoop() {
	dec := frame.NewDecoder(c.cfg.Frame)
	buf := make([]byte, c.cfg.ReadBufferSize)
	for {
		n, err := c.reader.Read(buf)
		if n > 0 {
			f, ok, ferr := dec.Feed(buf[:n])
			if ferr != nil {
				c.shutdown(fmt.Errorf("%w: %w: %v", protocol.ErrProtocol, protocol.ErrConnectionLost, ferr), false)
				return
			}
			if ok {
				observability.RecordFrame(f.Kind.String())
				select {
				case c.frames <- f:
				case <-c.done:
					return
				}
			}
		}
		if err != nil {
			c.shutdown(fmt.Errorf("%w: %w: read %s: %v", protocol.ErrConnection, protocol.ErrConnectionLost, c.addr, err), false)
			return
		}
	}
}

// Write sends p. It fails unless the Conn is Connected; a failed write ends
// the Conn.
func (c *Conn) Write(ctx context.Context, p []byte) error {
	if st := c.State(); st != StateConnected {
		return fmt.Errorf("%w: write on %s connection", protocol.ErrConnection, st)
	}
	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := c.raw.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: write deadline: %v", protocol.ErrConnection, err)
	}
	if _, err := c.raw.Write(p); err != nil {
		lossErr := fmt.Errorf("%w: %w: write %s: %v", protocol.ErrConnection, protocol.ErrConnectionLost, c.addr, err)
		c.shutdown(lossErr, false)
		return lossErr
	}
	return nil
}

// Await returns the next frame. When the Conn ends first the caller gets the
// loss error. When ctx ends first the Conn is aborted, since the reply it was
// waiting for would otherwise be handed to the next caller.
func (c *Conn) Await(ctx context.Context) (frame.Frame, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.done:
		select {
		case f := <-c.frames:
			return f, nil
		default:
		}
		return frame.Frame{}, c.Err()
	case <-ctx.Done():
		c.Abort(ctx.Err())
		return frame.Frame{}, ctx.Err()
	}
}

// Close ends the Conn intentionally. It is idempotent.
func (c *Conn) Close() error {
	c.shutdown(fmt.Errorf("%w: connection closed", protocol.ErrConnection), true)
	return nil
}

// Abort ends the Conn as a loss.
func (c *Conn) Abort(cause error) {
	c.shutdown(fmt.Errorf("%w: %w: aborted: %v", protocol.ErrConnection, protocol.ErrConnectionLost, cause), false)
}

func (c *Conn) shutdown(err error, intentional bool) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		if intentional {
			c.state.Store(int32(StateClosed))
		} else {
			c.state.Store(int32(StateDisconnected))
		}
		close(c.done)
		_ = c.raw.Close()
		log.Debug().Msgf("session.Conn.shutdown addr=%s intentional=%t err=%v", c.addr, intentional, err)
		if c.onClosed != nil {
			c.onClosed(c, err, intentional)
		}
	})
}

// Done is closed once the Conn has ended.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err reports why the Conn ended, or nil while it is live.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) State() State {
	return State(c.state.Load())
}

func (c *Conn) Addr() string {
	return c.addr
}

func (c *Conn) Greeting() protocol.Greeting {
	return c.greeting
}
