package mpd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/mpdctl/internal/protocol"
	"github.com/danmuck/mpdctl/internal/protocol/session"
	"github.com/danmuck/mpdctl/internal/testutil/mpdtest"
	"github.com/danmuck/mpdctl/internal/testutil/testlog"
)

func testConfig(dials *atomic.Int32) Config {
	cfg := DefaultConfig()
	cfg.Session.ConnectTimeout = time.Second
	cfg.Session.GreetingTimeout = time.Second
	cfg.Dial = func(ctx context.Context, addr string, sc session.Config, onClosed session.ClosedFunc) (*session.Conn, error) {
		if dials != nil {
			dials.Add(1)
		}
		return session.Dial(ctx, addr, sc, onClosed)
	}
	return cfg
}

func connect(t *testing.T, c *Client, srv *mpdtest.Server) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := c.Connect(ctx, srv.Host(), srv.Port())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if v != (protocol.Version{Major: 0, Minor: 23, Patch: 5}) {
		t.Fatalf("unexpected version: %s", v)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestExecuteFormatsAndReturnsPayload(t *testing.T) {
	testlog.Start(t)
	srv := mpdtest.Start(t, mpdtest.Replies(map[string]string{
		"status": "volume: 50\nrepeat: 1\nstate: play\n\nOK\n",
	}))
	c := New(testConfig(nil))
	defer c.Close()
	connect(t, c, srv)

	ctx := context.Background()
	if _, err := c.Execute(ctx, "setvol", 50); err != nil {
		t.Fatalf("setvol: %v", err)
	}
	raw, err := c.Execute(ctx, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	st, err := protocol.DecodeStatus(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Volume == nil || *st.Volume != 50 || st.State == nil || *st.State != "play" {
		t.Fatalf("unexpected status: %+v", st)
	}
	cmds := srv.Commands()
	if len(cmds) != 2 || cmds[0] != "setvol 50" || cmds[1] != "status" {
		t.Fatalf("unexpected wire commands: %q", cmds)
	}
}

func TestExecuteServerError(t *testing.T) {
	testlog.Start(t)
	srv := mpdtest.Start(t, mpdtest.Replies(map[string]string{
		"play": "ACK [50@0] {play} song doesn't exist\n",
	}))
	c := New(testConfig(nil))
	defer c.Close()
	connect(t, c, srv)

	_, err := c.Execute(context.Background(), "play", 99)
	if !errors.Is(err, protocol.ErrServer) {
		t.Fatalf("expected ErrServer, got %v", err)
	}
	var serverErr *protocol.ServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("expected *ServerError, got %T", err)
	}
	if !serverErr.Fault.HasCode(protocol.FaultNoExist) || *serverErr.Fault.Message != "song doesn't exist" {
		t.Fatalf("unexpected fault: %+v", serverErr.Fault)
	}

	// The pipeline stays usable after an ACK.
	if _, err := c.Execute(context.Background(), "stop"); err != nil {
		t.Fatalf("stop after ack: %v", err)
	}
}

func TestExecuteFailsFastWhenDisconnected(t *testing.T) {
	testlog.Start(t)
	c := New(testConfig(nil))
	_, err := c.Execute(context.Background(), "status")
	if !errors.Is(err, protocol.ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
	if c.State() != session.StateDisconnected {
		t.Fatalf("state got=%s", c.State())
	}
}

func TestConcurrentExecuteIsSerialized(t *testing.T) {
	testlog.Start(t)
	srv := mpdtest.Start(t, func(command string, args []string) string {
		time.Sleep(2 * time.Millisecond)
		return fmt.Sprintf("echo: %s\nOK\n", strings.Join(append([]string{command}, args...), " "))
	}, mpdtest.WithPipelineCheck(5*time.Millisecond))
	c := New(testConfig(nil))
	defer c.Close()
	connect(t, c, srv)

	const callers = 12
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			raw, err := c.Execute(context.Background(), "seek", i)
			if err != nil {
				errs <- err
				return
			}
			want := fmt.Sprintf("echo: seek %d\nOK\n", i)
			if string(raw) != want {
				errs <- fmt.Errorf("caller %d got %q", i, raw)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent execute: %v", err)
	}
	if n := srv.Pipelined(); n != 0 {
		t.Fatalf("commands were pipelined %d times", n)
	}
	if n := len(srv.Commands()); n != callers {
		t.Fatalf("server saw %d commands, want %d", n, callers)
	}
}

func TestExchangeHoldsSerializer(t *testing.T) {
	testlog.Start(t)
	srv := mpdtest.Start(t, nil)
	c := New(testConfig(nil))
	defer c.Close()
	connect(t, c, srv)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- c.Exchange(context.Background(), func(s Sender) error {
			if _, err := s.Execute(context.Background(), "clear"); err != nil {
				return err
			}
			close(entered)
			<-release
			_, err := s.Execute(context.Background(), "add", protocol.Quote("a b.mp3"))
			return err
		})
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := c.Execute(ctx, "status"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected serializer wait to time out, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("exchange: %v", err)
	}
	cmds := srv.Commands()
	if len(cmds) != 2 || cmds[0] != "clear" || cmds[1] != `add "a b.mp3"` {
		t.Fatalf("unexpected wire commands: %q", cmds)
	}
}

func TestExecuteWithFreshStatusCaches(t *testing.T) {
	testlog.Start(t)
	srv := mpdtest.Start(t, mpdtest.Replies(map[string]string{
		"status": "volume: 30\nstate: pause\nOK\n",
	}))
	c := New(testConfig(nil))
	defer c.Close()
	connect(t, c, srv)

	if _, ok := c.CachedStatus(); ok {
		t.Fatalf("status cached before any refresh")
	}
	err := c.ExecuteWithFreshStatus(context.Background(), func(s Sender, st protocol.Status) error {
		if st.State == nil || *st.State != protocol.StatePause {
			return fmt.Errorf("unexpected state %v", st.State)
		}
		_, err := s.Execute(context.Background(), "pause", 0)
		return err
	})
	if err != nil {
		t.Fatalf("fresh status: %v", err)
	}
	st, ok := c.CachedStatus()
	if !ok || st.Volume == nil || *st.Volume != 30 {
		t.Fatalf("unexpected cached status ok=%v %+v", ok, st)
	}
}

func TestLossTriggersSingleReconnect(t *testing.T) {
	testlog.Start(t)
	srv := mpdtest.Start(t, nil)
	var dials atomic.Int32
	c := New(testConfig(&dials))
	defer c.Close()
	connect(t, c, srv)

	lost := make(chan error, 4)
	c.OnConnectionLost(func(err error) { lost <- err })

	srv.DropConnections()
	select {
	case err := <-lost:
		if !errors.Is(err, protocol.ErrConnectionLost) {
			t.Fatalf("unexpected loss error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("loss handler never called")
	}
	waitFor(t, "reconnect", func() bool { return c.State() == session.StateConnected })
	time.Sleep(50 * time.Millisecond)
	if dials.Load() != 2 || srv.Accepts() != 2 {
		t.Fatalf("dials=%d accepts=%d, want 2 and 2", dials.Load(), srv.Accepts())
	}
	if _, err := c.Execute(context.Background(), "ping"); err != nil {
		t.Fatalf("execute after reconnect: %v", err)
	}
}

func TestFailedReconnectIsNotRetried(t *testing.T) {
	testlog.Start(t)
	srv := mpdtest.Start(t, nil)
	var dials atomic.Int32
	c := New(testConfig(&dials))
	defer c.Close()
	connect(t, c, srv)

	srv.Close()
	waitFor(t, "reconnect attempt", func() bool { return dials.Load() == 2 })
	time.Sleep(100 * time.Millisecond)
	if dials.Load() != 2 {
		t.Fatalf("dials=%d, want exactly one reconnect attempt", dials.Load())
	}
	waitFor(t, "disconnected", func() bool { return c.State() == session.StateDisconnected })
	if _, err := c.Execute(context.Background(), "status"); !errors.Is(err, protocol.ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
}

func TestNoReconnectWhenDisabled(t *testing.T) {
	testlog.Start(t)
	srv := mpdtest.Start(t, nil)
	var dials atomic.Int32
	cfg := testConfig(&dials)
	cfg.AutoReconnect = false
	c := New(cfg)
	defer c.Close()
	connect(t, c, srv)

	srv.DropConnections()
	waitFor(t, "disconnected", func() bool { return c.State() == session.StateDisconnected })
	time.Sleep(50 * time.Millisecond)
	if dials.Load() != 1 {
		t.Fatalf("dials=%d, want 1", dials.Load())
	}
	if _, err := c.Execute(context.Background(), "status"); !errors.Is(err, protocol.ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
}

func TestCloseDoesNotReconnect(t *testing.T) {
	testlog.Start(t)
	srv := mpdtest.Start(t, nil)
	var dials atomic.Int32
	c := New(testConfig(&dials))
	lost := make(chan error, 1)
	c.OnConnectionLost(func(err error) { lost <- err })
	connect(t, c, srv)

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if dials.Load() != 1 {
		t.Fatalf("dials=%d after close", dials.Load())
	}
	select {
	case err := <-lost:
		t.Fatalf("close reported as loss: %v", err)
	default:
	}
	if c.State() != session.StateClosed {
		t.Fatalf("state got=%s", c.State())
	}
}

func TestLossReleasesWaiter(t *testing.T) {
	testlog.Start(t)
	srv := mpdtest.Start(t, func(command string, _ []string) string {
		if command == "idle" {
			return mpdtest.Hangup
		}
		return "OK\n"
	})
	cfg := testConfig(nil)
	cfg.AutoReconnect = false
	c := New(cfg)
	defer c.Close()
	connect(t, c, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := c.Execute(ctx, "idle")
	if !errors.Is(err, protocol.ErrConnectionLost) {
		t.Fatalf("expected ErrConnectionLost, got %v", err)
	}
}

func TestCancelWhileWaitingAbortsAndReconnects(t *testing.T) {
	testlog.Start(t)
	srv := mpdtest.Start(t, func(command string, _ []string) string {
		if command == "idle" {
			return ""
		}
		return "OK\n"
	})
	var dials atomic.Int32
	c := New(testConfig(&dials))
	defer c.Close()
	connect(t, c, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := c.Execute(ctx, "idle"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	waitFor(t, "reconnect after abort", func() bool {
		return dials.Load() == 2 && c.State() == session.StateConnected
	})
	if _, err := c.Execute(context.Background(), "ping"); err != nil {
		t.Fatalf("execute after abort: %v", err)
	}
}

func TestProtocolErrorDropsConnection(t *testing.T) {
	testlog.Start(t)
	// "BOOK\n" ends in "OK\n", so the first write reads as a whole reply.
	srv := mpdtest.Start(t, mpdtest.Replies(map[string]string{
		"playlistinfo": "file: a.mp3\nTitle: BOOK\n" + mpdtest.Split + "Pos: 0\nId: 1\nOK\n",
		"status":       "volume: 40\nstate: play\nOK\n",
	}))
	var dials atomic.Int32
	c := New(testConfig(&dials))
	defer c.Close()
	connect(t, c, srv)

	lost := make(chan error, 4)
	c.OnConnectionLost(func(err error) { lost <- err })

	ctx := context.Background()
	err := c.Exchange(ctx, func(s Sender) error {
		raw, err := s.Execute(ctx, "playlistinfo")
		if err != nil {
			return err
		}
		if string(raw) != "file: a.mp3\nTitle: BOOK\n" {
			t.Errorf("expected the cut reply, got %q", raw)
		}
		_, err = protocol.DecodeSongs(raw)
		return err
	})
	if !errors.Is(err, protocol.ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
	select {
	case err := <-lost:
		if !errors.Is(err, protocol.ErrConnectionLost) {
			t.Fatalf("unexpected loss error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("connection was not dropped after a protocol error")
	}
	waitFor(t, "reconnect after protocol error", func() bool {
		return dials.Load() == 2 && c.State() == session.StateConnected
	})

	var st protocol.Status
	err = c.ExecuteWithFreshStatus(ctx, func(_ Sender, fresh protocol.Status) error {
		st = fresh
		return nil
	})
	if err != nil {
		t.Fatalf("status after reconnect: %v", err)
	}
	if st.Volume == nil || *st.Volume != 40 {
		t.Fatalf("status decoded from a stale reply: %+v", st)
	}
}

func TestServerErrorKeepsConnection(t *testing.T) {
	testlog.Start(t)
	srv := mpdtest.Start(t, mpdtest.Replies(map[string]string{
		"play": "ACK [2@0] {play} Bad song index\n",
	}))
	var dials atomic.Int32
	c := New(testConfig(&dials))
	defer c.Close()
	connect(t, c, srv)

	ctx := context.Background()
	err := c.Exchange(ctx, func(s Sender) error {
		_, err := s.Execute(ctx, "play", 9)
		return err
	})
	if !errors.Is(err, protocol.ErrServer) {
		t.Fatalf("expected ErrServer, got %v", err)
	}
	if c.State() != session.StateConnected || dials.Load() != 1 {
		t.Fatalf("state=%s dials=%d, want connected on the first dial", c.State(), dials.Load())
	}
}

func TestSenderRetiredAfterExchange(t *testing.T) {
	testlog.Start(t)
	srv := mpdtest.Start(t, nil)
	c := New(testConfig(nil))
	defer c.Close()
	connect(t, c, srv)

	ctx := context.Background()
	var kept Sender
	if err := c.Exchange(ctx, func(s Sender) error {
		kept = s
		_, err := s.Execute(ctx, "ping")
		return err
	}); err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if _, err := kept.Execute(ctx, "stop"); !errors.Is(err, protocol.ErrConnection) {
		t.Fatalf("expected ErrConnection from a retired sender, got %v", err)
	}
	if got := srv.Commands(); fmt.Sprint(got) != fmt.Sprint([]string{"ping"}) {
		t.Fatalf("wire commands got=%q want only ping", got)
	}
	if c.State() != session.StateConnected {
		t.Fatalf("retired sender should not affect the connection, state=%s", c.State())
	}
}

func TestChunkedRepliesThroughClient(t *testing.T) {
	testlog.Start(t)
	listing := "file: a.mp3\nTitle: A\nPos: 0\nId: 1\nfile: b.mp3\nTitle: B\nPos: 1\nId: 2\nOK\n"
	srv := mpdtest.Start(t, mpdtest.Replies(map[string]string{
		"playlistinfo": listing,
		"play":         "ACK [2@0] {play} Bad song index\n",
	}), mpdtest.WithChunkSize(1))
	c := New(testConfig(nil))
	defer c.Close()
	connect(t, c, srv)

	raw, err := c.Execute(context.Background(), "playlistinfo")
	if err != nil {
		t.Fatalf("playlistinfo: %v", err)
	}
	songs, err := protocol.DecodeSongs(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(songs) != 2 || songs[0].File != "a.mp3" || songs[1].File != "b.mp3" {
		t.Fatalf("unexpected songs: %+v", songs)
	}
	if _, err := c.Execute(context.Background(), "play", 7); !errors.Is(err, protocol.ErrServer) {
		t.Fatalf("expected ErrServer, got %v", err)
	}
}

func TestResultLabel(t *testing.T) {
	cases := map[string]error{
		"ok":               nil,
		"server_error":     &protocol.ServerError{},
		"canceled":         context.Canceled,
		"protocol_error":   fmt.Errorf("%w: x", protocol.ErrProtocol),
		"connection_error": fmt.Errorf("%w: x", protocol.ErrConnection),
	}
	for want, err := range cases {
		if got := resultLabel(err); got != want {
			t.Fatalf("resultLabel(%v) = %q, want %q", err, got, want)
		}
	}
}
