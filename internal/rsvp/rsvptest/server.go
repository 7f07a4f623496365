// Package rsvptest runs an in-process fake leasing authority speaking the
// real wire protocol over a loopback listener. Tests script its answers per
// command and inspect the requests it saw.
package rsvptest

import (
	"bufio"
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/labpool/rsvp/internal/wire"
)

// Request is one decoded request the server received.
type Request struct {
	Command string
	Params  map[string]any
}

// HandlerFunc computes a response from request parameters.
type HandlerFunc func(params map[string]any) *wire.Result

// Server is the fake leasing authority.
type Server struct {
	ln net.Listener

	mu       sync.Mutex
	scripts  map[string][]*wire.Result
	handlers map[string]HandlerFunc
	raw      map[string][][]string
	requests []Request
}

// Start listens on loopback and serves until the test ends.
func Start(t *testing.T) *Server {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &Server{
		ln:       ln,
		scripts:  make(map[string][]*wire.Result),
		handlers: make(map[string]HandlerFunc),
		raw:      make(map[string][][]string),
	}
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

// Close stops the listener.
func (s *Server) Close() {
	_ = s.ln.Close()
}

// Host returns the server's loopback address.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.ln.Addr().String())
	return host
}

// Port returns the server's listen port.
func (s *Server) Port() int {
	_, portStr, _ := net.SplitHostPort(s.ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return port
}

// Script queues canned results for a command, consumed first-in first-out.
// Scripted results win over handlers.
func (s *Server) Script(command string, results ...*wire.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[command] = append(s.scripts[command], results...)
}

// Handle installs a handler for a command, used when no script is queued.
func (s *Server) Handle(command string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[command] = fn
}

// RawScript queues raw response lines for a command, written verbatim with
// no DONE line added. Used to provoke protocol failures.
func (s *Server) RawScript(command string, lines ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw[command] = append(s.raw[command], lines)
}

// Requests returns the requests seen for a command, in order. An empty
// command returns everything.
func (s *Server) Requests(command string) []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Request
	for _, r := range s.requests {
		if command == "" || r.Command == command {
			out = append(out, r)
		}
	}
	return out
}

func (s *Server) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return
	}
	var params map[string]any
	command, err := wire.DecodeRequest(line, &params)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, Request{Command: command, Params: params})

	if lines, ok := s.raw[command]; ok && len(lines) > 0 {
		rawLines := lines[0]
		s.raw[command] = lines[1:]
		s.mu.Unlock()
		for _, l := range rawLines {
			_, _ = conn.Write([]byte(l + "\n"))
		}
		return
	}

	var result *wire.Result
	if queue := s.scripts[command]; len(queue) > 0 {
		result = queue[0]
		s.scripts[command] = queue[1:]
	} else if fn, ok := s.handlers[command]; ok {
		s.mu.Unlock()
		result = fn(params)
		s.mu.Lock()
	} else {
		result = wire.Error("unknown command "+command, false)
	}
	s.mu.Unlock()

	out, err := wire.EncodeResponse("DONE", result)
	if err != nil {
		return
	}
	_, _ = conn.Write([]byte(out + "\n"))
}
