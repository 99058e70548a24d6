package mpd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/mpdctl/internal/observability"
	"github.com/danmuck/mpdctl/internal/protocol"
	"github.com/danmuck/mpdctl/internal/protocol/frame"
	"github.com/danmuck/mpdctl/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// DialFunc opens a greeted connection. session.Dial is the default.
type DialFunc func(ctx context.Context, addr string, cfg session.Config, onClosed session.ClosedFunc) (*session.Conn, error)

type Config struct {
	Session       session.Config
	AutoReconnect bool
	Dial          DialFunc
}

func DefaultConfig() Config {
	return Config{
		Session:       session.DefaultConfig(),
		AutoReconnect: true,
		Dial:          session.Dial,
	}
}

// Sender issues one command and returns its success payload.
// *Client and the sender handed to Exchange callbacks both implement it.
type Sender interface {
	Execute(ctx context.Context, command string, args ...any) ([]byte, error)
}

// Client owns at most one live Conn and lets one caller use it at a time.
type Client struct {
	cfg Config
	// sem is the command serializer; holding its slot grants the wire.
	sem chan struct{}

	mu           sync.Mutex
	conn         *session.Conn
	host         string
	port         int
	hasTarget    bool
	connecting   int
	closed       bool
	epoch        uint64
	status       protocol.Status
	hasStatus    bool
	lossHandlers []func(error)
}

func New(cfg Config) *Client {
	if cfg.Dial == nil {
		cfg.Dial = session.Dial
	}
	cfg.Session = cfg.Session.WithDefaults()
	return &Client{
		cfg: cfg,
		sem: make(chan struct{}, 1),
	}
}

// Connect replaces any current connection with a new one to host:port and
// returns the daemon's protocol version.
func (c *Client) Connect(ctx context.Context, host string, port int) (protocol.Version, error) {
	return c.connect(ctx, host, port, nil)
}

// connect dials under the serializer. A non-nil expect makes the call a
// reconnect that gives up if anything moved the epoch since the loss.
func (c *Client) connect(ctx context.Context, host string, port int, expect *uint64) (protocol.Version, error) {
	if err := c.acquire(ctx); err != nil {
		return protocol.Version{}, err
	}
	defer c.release()

	c.mu.Lock()
	if expect != nil && (c.epoch != *expect || c.closed) {
		c.mu.Unlock()
		return protocol.Version{}, fmt.Errorf("%w: reconnect superseded", protocol.ErrConnection)
	}
	c.epoch++
	epoch := c.epoch
	c.closed = false
	c.host, c.port, c.hasTarget = host, port, true
	old := c.conn
	c.conn = nil
	c.hasStatus = false
	c.connecting++
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := c.cfg.Dial(ctx, addr, c.cfg.Session, c.handleClosed)

	c.mu.Lock()
	c.connecting--
	if err != nil {
		c.mu.Unlock()
		log.Debug().Msgf("mpd.Client.connect failed addr=%s err=%v", addr, err)
		return protocol.Version{}, err
	}
	if c.epoch != epoch {
		c.mu.Unlock()
		_ = conn.Close()
		return protocol.Version{}, fmt.Errorf("%w: connect to %s superseded", protocol.ErrConnection, addr)
	}
	c.conn = conn
	c.mu.Unlock()

	// A conn that died between greeting and install was ignored by
	// handleClosed; report it now that it is current.
	if conn.State() != session.StateConnected {
		c.handleClosed(conn, conn.Err(), conn.State() == session.StateClosed)
		return protocol.Version{}, conn.Err()
	}

	v := conn.Greeting().Version
	log.Info().Msgf("mpd.Client.connect connected addr=%s version=%s", addr, v)
	return v, nil
}

// handleClosed runs once per ended Conn. Only the current Conn counts.
func (c *Client) handleClosed(conn *session.Conn, err error, intentional bool) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.hasStatus = false
	if intentional {
		c.mu.Unlock()
		return
	}
	handlers := append([]func(error){}, c.lossHandlers...)
	reconnect := c.cfg.AutoReconnect && !c.closed && c.hasTarget
	epoch := c.epoch
	host, port := c.host, c.port
	c.mu.Unlock()

	observability.RecordConnectionLoss()
	log.Warn().Msgf("mpd.Client.handleClosed connection lost addr=%s reconnect=%t err=%v", conn.Addr(), reconnect, err)

	// Handlers may issue commands, and the goroutine that saw the loss may
	// still hold the serializer.
	go func() {
		for _, fn := range handlers {
			fn(err)
		}
		if reconnect {
			c.reconnect(host, port, epoch)
		}
	}()
}

// reconnect makes a single attempt. Retrying is left to callers.
func (c *Client) reconnect(host string, port int, epoch uint64) {
	timeout := c.cfg.Session.ConnectTimeout + c.cfg.Session.GreetingTimeout
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_, err := c.connect(ctx, host, port, &epoch)
	observability.RecordReconnect(err == nil)
	if err != nil {
		log.Warn().Msgf("mpd.Client.reconnect failed host=%s port=%d err=%v", host, port, err)
		return
	}
	log.Info().Msgf("mpd.Client.reconnect restored host=%s port=%d", host, port)
}

// OnConnectionLost registers fn for every unintentional loss.
func (c *Client) OnConnectionLost(fn func(error)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.lossHandlers = append(c.lossHandlers, fn)
	c.mu.Unlock()
}

// Execute runs one command under the serializer.
func (c *Client) Execute(ctx context.Context, command string, args ...any) ([]byte, error) {
	var out []byte
	err := c.Exchange(ctx, func(s Sender) error {
		var err error
		out, err = s.Execute(ctx, command, args...)
		return err
	})
	return out, err
}

// Exchange runs fn with exclusive use of the connection. Commands sent
// through the Sender are not interleaved with any other caller's. An error
// from fn wrapping protocol.ErrProtocol drops the connection as a loss.
func (c *Client) Exchange(ctx context.Context, fn func(Sender) error) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || conn.State() != session.StateConnected {
		return fmt.Errorf("%w: not connected", protocol.ErrConnection)
	}
	x := &exchange{conn: conn}
	err := fn(x)
	x.done.Store(true)
	// The rest of a misread reply is still on the wire and would be taken
	// as the next caller's answer.
	if errors.Is(err, protocol.ErrProtocol) && conn.State() == session.StateConnected {
		conn.Abort(err)
	}
	return err
}

// ExecuteWithFreshStatus refreshes the cached status and hands it to fn in
// the same exchange.
func (c *Client) ExecuteWithFreshStatus(ctx context.Context, fn func(Sender, protocol.Status) error) error {
	return c.Exchange(ctx, func(s Sender) error {
		raw, err := s.Execute(ctx, "status")
		if err != nil {
			return err
		}
		st, err := protocol.DecodeStatus(raw)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.status = st
		c.hasStatus = true
		c.mu.Unlock()
		if fn == nil {
			return nil
		}
		return fn(s, st)
	})
}

// CachedStatus returns the last refreshed status of the current connection.
func (c *Client) CachedStatus() (protocol.Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.hasStatus
}

// Close drops the connection without triggering a reconnect.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.epoch++
	conn := c.conn
	c.conn = nil
	c.hasStatus = false
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) State() session.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.conn != nil:
		return c.conn.State()
	case c.connecting > 0:
		return session.StateConnecting
	case c.closed:
		return session.StateClosed
	default:
		return session.StateDisconnected
	}
}

func (c *Client) Greeting() (protocol.Greeting, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return protocol.Greeting{}, false
	}
	return c.conn.Greeting(), true
}

func (c *Client) Version() (protocol.Version, bool) {
	g, ok := c.Greeting()
	return g.Version, ok
}

func (c *Client) acquire(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) release() {
	<-c.sem
}

// exchange is the Sender of one serializer acquisition. It stops working
// once Exchange returns.
type exchange struct {
	conn *session.Conn
	done atomic.Bool
}

func (x *exchange) Execute(ctx context.Context, command string, args ...any) ([]byte, error) {
	if x.done.Load() {
		return nil, fmt.Errorf("%w: sender used after its exchange ended", protocol.ErrConnection)
	}
	payload, err := protocol.FormatCommand(command, args...)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	raw, err := x.roundTrip(ctx, payload)
	observability.RecordCommand(command, resultLabel(err), time.Since(start))
	if err != nil {
		log.Debug().Msgf("mpd.exchange.Execute command=%s err=%v", command, err)
	}
	return raw, err
}

func (x *exchange) roundTrip(ctx context.Context, payload []byte) ([]byte, error) {
	if err := x.conn.Write(ctx, payload); err != nil {
		return nil, err
	}
	f, err := x.conn.Await(ctx)
	if err != nil {
		return nil, err
	}
	if f.Kind == frame.KindError {
		return nil, &protocol.ServerError{Fault: protocol.DecodeFault(f.Raw)}
	}
	return f.Raw, nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return observability.ResultOK
	case errors.Is(err, protocol.ErrServer):
		return observability.ResultServerError
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return observability.ResultCanceled
	case errors.Is(err, protocol.ErrProtocol):
		return observability.ResultProtocolError
	default:
		return observability.ResultConnectionError
	}
}
