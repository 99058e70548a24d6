package session

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/mpdctl/internal/protocol"
	"github.com/danmuck/mpdctl/internal/protocol/frame"
	"github.com/danmuck/mpdctl/internal/testutil/mpdtest"
	"github.com/danmuck/mpdctl/internal/testutil/testlog"
)

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

func TestNextBackoffDelayJitterRange(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       true,
	}
	rng := rand.New(rand.NewSource(7))
	got := NextBackoffDelay(cfg, 1, rng)
	if got < 125*time.Millisecond || got > 375*time.Millisecond {
		t.Fatalf("jitter out of range: %v", got)
	}
}

func TestBackoffWaitCountsAndResets(t *testing.T) {
	testlog.Start(t)
	b := NewBackoff(BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 2, MaxDelay: 4 * time.Millisecond}, nil)
	for i := 0; i < 3; i++ {
		if err := b.Wait(context.Background()); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
	if b.Attempts() != 3 {
		t.Fatalf("attempts got=%d want=3", b.Attempts())
	}
	b.Reset()
	if b.Attempts() != 0 {
		t.Fatalf("reset did not clear attempts")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	slow := NewBackoff(BackoffConfig{InitialDelay: time.Hour}, nil)
	if err := slow.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestConfigWithDefaults(t *testing.T) {
	testlog.Start(t)
	cfg := Config{WriteTimeout: time.Second}.WithDefaults()
	def := DefaultConfig()
	if cfg.WriteTimeout != time.Second {
		t.Fatalf("explicit value overwritten: %v", cfg.WriteTimeout)
	}
	if cfg.ConnectTimeout != def.ConnectTimeout || cfg.GreetingTimeout != def.GreetingTimeout {
		t.Fatalf("timeouts not defaulted: %+v", cfg)
	}
	if cfg.Frame.MaxBuffer != def.Frame.MaxBuffer || cfg.ReadBufferSize != def.ReadBufferSize {
		t.Fatalf("buffers not defaulted: %+v", cfg)
	}
}

func TestDialReadsGreetingAndFrames(t *testing.T) {
	testlog.Start(t)
	srv := mpdtest.Start(t, mpdtest.Replies(map[string]string{
		"status": "volume: 50\nstate: play\nOK\n",
		"play":   "ACK [2@0] {play} Bad song index\n",
	}))

	conn, err := Dial(context.Background(), srv.Addr(), DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	g := conn.Greeting()
	if g.Name != "MPD" || g.Version != (protocol.Version{Major: 0, Minor: 23, Patch: 5}) {
		t.Fatalf("unexpected greeting: %+v", g)
	}
	if conn.State() != StateConnected {
		t.Fatalf("state got=%s", conn.State())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, []byte("status\n")); err != nil {
		t.Fatalf("write status: %v", err)
	}
	f, err := conn.Await(ctx)
	if err != nil {
		t.Fatalf("await status: %v", err)
	}
	if f.Kind != frame.KindSuccess || string(f.Raw) != "volume: 50\nstate: play\nOK\n" {
		t.Fatalf("unexpected status frame: kind=%s raw=%q", f.Kind, f.Raw)
	}

	if err := conn.Write(ctx, []byte("play 99\n")); err != nil {
		t.Fatalf("write play: %v", err)
	}
	f, err = conn.Await(ctx)
	if err != nil {
		t.Fatalf("await play: %v", err)
	}
	if f.Kind != frame.KindError {
		t.Fatalf("expected error frame, got %s", f.Kind)
	}
}

func TestDialRejectsMalformedGreeting(t *testing.T) {
	testlog.Start(t)
	srv := mpdtest.Start(t, nil, mpdtest.WithGreeting("HELLO there\n"))
	_, err := Dial(context.Background(), srv.Addr(), DefaultConfig(), nil)
	if !errors.Is(err, protocol.ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
}

func TestDialMissingGreetingTimesOut(t *testing.T) {
	testlog.Start(t)
	srv := mpdtest.Start(t, nil, mpdtest.WithGreeting(""))
	cfg := DefaultConfig()
	cfg.GreetingTimeout = 50 * time.Millisecond
	_, err := Dial(context.Background(), srv.Addr(), cfg, nil)
	if !errors.Is(err, protocol.ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
}

func TestDialRefusedIsConnectionError(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	_, err = Dial(context.Background(), addr, DefaultConfig(), nil)
	if !errors.Is(err, protocol.ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
}

func TestCloseIsIdempotentAndIntentional(t *testing.T) {
	testlog.Start(t)
	srv := mpdtest.Start(t, nil)
	var calls atomic.Int32
	var intentional atomic.Bool
	conn, err := Dial(context.Background(), srv.Addr(), DefaultConfig(), func(_ *Conn, _ error, wasIntentional bool) {
		calls.Add(1)
		intentional.Store(wasIntentional)
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = conn.Close()
	_ = conn.Close()

	if conn.State() != StateClosed {
		t.Fatalf("state got=%s", conn.State())
	}
	if calls.Load() != 1 || !intentional.Load() {
		t.Fatalf("closed hook calls=%d intentional=%v", calls.Load(), intentional.Load())
	}
	err = conn.Write(context.Background(), []byte("status\n"))
	if !errors.Is(err, protocol.ErrConnection) {
		t.Fatalf("write after close: expected ErrConnection, got %v", err)
	}
}

func TestPeerHangupReleasesWaiter(t *testing.T) {
	testlog.Start(t)
	srv := mpdtest.Start(t, func(command string, _ []string) string {
		if command == "idle" {
			return mpdtest.Hangup
		}
		return "OK\n"
	})
	lost := make(chan bool, 1)
	conn, err := Dial(context.Background(), srv.Addr(), DefaultConfig(), func(_ *Conn, _ error, wasIntentional bool) {
		lost <- wasIntentional
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, []byte("idle\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err = conn.Await(ctx)
	if !errors.Is(err, protocol.ErrConnectionLost) || !errors.Is(err, protocol.ErrConnection) {
		t.Fatalf("expected lost connection error, got %v", err)
	}
	select {
	case wasIntentional := <-lost:
		if wasIntentional {
			t.Fatalf("peer hangup reported as intentional")
		}
	case <-ctx.Done():
		t.Fatalf("closed hook never fired")
	}
	if conn.State() != StateDisconnected {
		t.Fatalf("state got=%s", conn.State())
	}
}

func TestAwaitCancelAbortsConn(t *testing.T) {
	testlog.Start(t)
	srv := mpdtest.Start(t, func(string, []string) string { return "" })
	conn, err := Dial(context.Background(), srv.Addr(), DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := conn.Write(context.Background(), []byte("status\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = conn.Await(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatalf("conn not aborted")
	}
	if !strings.Contains(conn.Err().Error(), "aborted") {
		t.Fatalf("unexpected abort error: %v", conn.Err())
	}
}

func TestChunkedRepliesAssembleOneFrame(t *testing.T) {
	testlog.Start(t)
	reply := "file: a.mp3\nTitle: A\nPos: 0\nId: 1\nOK\n"
	srv := mpdtest.Start(t, mpdtest.Replies(map[string]string{"playlistinfo": reply}), mpdtest.WithChunkSize(3))
	conn, err := Dial(context.Background(), srv.Addr(), DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, []byte("playlistinfo\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	f, err := conn.Await(ctx)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if string(f.Raw) != reply {
		t.Fatalf("unexpected frame: %q", f.Raw)
	}
}
