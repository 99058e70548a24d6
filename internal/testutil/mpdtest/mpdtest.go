// Package mpdtest runs a scripted in-process daemon for tests.
package mpdtest

import (
	"bufio"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

const DefaultGreeting = "OK MPD 0.23.5\n"

// Hangup as a reply closes the connection instead of answering.
const Hangup = "\x00hangup"

// Split inside a reply sends the parts as separate writes with SplitDelay
// between them.
const (
	Split      = "\x00split"
	SplitDelay = 30 * time.Millisecond
)

// Handler answers one command. An empty reply writes nothing.
type Handler func(command string, args []string) string

// Replies answers each command from table, and "OK\n" for anything else.
func Replies(table map[string]string) Handler {
	return func(command string, _ []string) string {
		if reply, ok := table[command]; ok {
			return reply
		}
		return "OK\n"
	}
}

type Option func(*Server)

func WithGreeting(greeting string) Option {
	return func(s *Server) { s.greeting = greeting }
}

// WithChunkSize splits success replies into writes of at most n bytes.
// Error replies always go out in one write.
func WithChunkSize(n int) Option {
	return func(s *Server) { s.chunkSize = n }
}

// WithPipelineCheck waits up to d after each command for another one to
// arrive before the reply is sent, and counts it when one does.
func WithPipelineCheck(d time.Duration) Option {
	return func(s *Server) { s.pipelineWait = d }
}

type Server struct {
	t            testing.TB
	ln           net.Listener
	handler      Handler
	greeting     string
	chunkSize    int
	pipelineWait time.Duration

	mu        sync.Mutex
	commands  []string
	accepts   int
	pipelined int
	conns     map[net.Conn]struct{}
	closed    bool
	wg        sync.WaitGroup
}

// Start listens on 127.0.0.1:0 and stops with the test.
func Start(t testing.TB, handler Handler, opts ...Option) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("mpdtest listen: %v", err)
	}
	if handler == nil {
		handler = Replies(nil)
	}
	s := &Server{
		t:        t,
		ln:       ln,
		handler:  handler,
		greeting: DefaultGreeting,
		conns:    make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.accepts++
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer s.forget(conn)

	if _, err := conn.Write([]byte(s.greeting)); err != nil {
		return
	}
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\n")
		s.mu.Lock()
		s.commands = append(s.commands, line)
		s.mu.Unlock()

		if s.pipelineWait > 0 && s.sawPipelined(conn, reader) {
			s.mu.Lock()
			s.pipelined++
			s.mu.Unlock()
		}

		tokens := Tokenize(line)
		var command string
		var args []string
		if len(tokens) > 0 {
			command, args = tokens[0], tokens[1:]
		}
		reply := s.handler(command, args)
		if reply == Hangup {
			return
		}
		if err := s.write(conn, reply); err != nil {
			return
		}
	}
}

func (s *Server) sawPipelined(conn net.Conn, reader *bufio.Reader) bool {
	if reader.Buffered() > 0 {
		return true
	}
	_ = conn.SetReadDeadline(time.Now().Add(s.pipelineWait))
	defer conn.SetReadDeadline(time.Time{})
	_, err := reader.Peek(1)
	return err == nil
}

func (s *Server) write(conn net.Conn, reply string) error {
	for i, part := range strings.Split(reply, Split) {
		if i > 0 {
			time.Sleep(SplitDelay)
		}
		if err := s.writePart(conn, part); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) writePart(conn net.Conn, reply string) error {
	if reply == "" {
		return nil
	}
	if s.chunkSize <= 0 || strings.HasPrefix(reply, "ACK [") {
		_, err := conn.Write([]byte(reply))
		return err
	}
	for start := 0; start < len(reply); start += s.chunkSize {
		end := min(start+s.chunkSize, len(reply))
		if _, err := conn.Write([]byte(reply[start:end])); err != nil {
			return err
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}

func (s *Server) forget(conn net.Conn) {
	_ = conn.Close()
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// DropConnections closes every open connection from the server side.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}

func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()
	if err := s.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.t.Logf("mpdtest close listener: %v", err)
	}
	s.wg.Wait()
}

func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	n, _ := strconv.Atoi(port)
	return n
}

// Commands returns every received command line in arrival order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.commands))
	copy(out, s.commands)
	return out
}

// Accepts counts accepted connections.
func (s *Server) Accepts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepts
}

// Pipelined counts commands that arrived before the previous reply was sent.
func (s *Server) Pipelined() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipelined
}

// Tokenize splits a command line on spaces, honouring double quotes and
// backslash escapes inside them.
func Tokenize(line string) []string {
	var (
		out     []string
		cur     strings.Builder
		inQuote bool
		escaped bool
		started bool
	)
	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case inQuote && r == '\\':
			escaped = true
		case r == '"':
			inQuote = !inQuote
			started = true
		case r == ' ' && !inQuote:
			if started {
				out = append(out, cur.String())
				cur.Reset()
				started = false
			}
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	if started {
		out = append(out, cur.String())
	}
	return out
}
