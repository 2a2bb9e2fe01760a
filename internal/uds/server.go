package uds

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"runtime/debug"
	"sync"
	"time"
)

// HandlerFunc answers one request. Handlers run on the connection's
// goroutine and must always produce a response.
type HandlerFunc func(req *Request) *Response

// Server answers framed requests on a Unix domain socket. Each request frame
// gets exactly one response frame; a client may pipeline several requests
// over a single connection.
type Server struct {
	socketPath string
	logger     *log.Logger

	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	listener    net.Listener
	connTimeout time.Duration
	closing     chan struct{}
	stop        sync.Once
	wg          sync.WaitGroup
}

func NewServer(socketPath string, logger *log.Logger) *Server {
	return &Server{
		socketPath:  socketPath,
		logger:      logger,
		handlers:    make(map[string]HandlerFunc),
		connTimeout: 30 * time.Second,
		closing:     make(chan struct{}),
	}
}

// SetConnTimeout bounds how long a connection may sit idle between frames.
func (s *Server) SetConnTimeout(d time.Duration) { s.connTimeout = d }

// Handle registers the handler for a command name.
func (s *Server) Handle(command string, handler HandlerFunc) {
	s.mu.Lock()
	s.handlers[command] = handler
	s.mu.Unlock()
}

// Start binds the socket and begins accepting connections. A stale socket
// file left by a crashed daemon is removed first; the daemon file lock
// guarantees no live process still owns it.
func (s *Server) Start() error {
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	// Only the owning user may talk to the daemon.
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}
	s.listener = listener

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptConnections()
	}()
	return nil
}

// Stop closes the listener, waits for in-flight connections to finish, and
// removes the socket file. Safe to call more than once.
func (s *Server) Stop() error {
	s.stop.Do(func() {
		close(s.closing)
		if s.listener != nil {
			_ = s.listener.Close()
		}
		s.wg.Wait()
		_ = os.Remove(s.socketPath)
	})
	return nil
}

func (s *Server) acceptConnections() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closing:
				return
			default:
			}
			s.logf("accept: %v", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(conn)
		}()
	}
}

// serveConn answers frames until the client hangs up or sits idle past the
// connection timeout.
func (s *Server) serveConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	defer func() {
		if r := recover(); r != nil {
			s.logf("panic serving connection: %v\n%s", r, debug.Stack())
		}
	}()

	for {
		_ = conn.SetDeadline(time.Now().Add(s.connTimeout))

		var req Request
		if err := ReadFrame(conn, &req); err != nil {
			if !errors.Is(err, io.EOF) {
				s.logf("read request: %v", err)
			}
			return
		}
		if err := WriteFrame(conn, s.dispatch(&req)); err != nil {
			s.logf("write response: %v", err)
			return
		}
	}
}

func (s *Server) dispatch(req *Request) *Response {
	if req.ProtocolVersion != ProtocolVersion {
		return ErrorResponse(
			ErrCodeProtocolMismatch,
			fmt.Sprintf("protocol version mismatch: got %d, expected %d", req.ProtocolVersion, ProtocolVersion),
		)
	}

	s.mu.RLock()
	handler, ok := s.handlers[req.Command]
	s.mu.RUnlock()
	if !ok {
		return ErrorResponse(ErrCodeUnknownCommand, fmt.Sprintf("unknown command: %q", req.Command))
	}
	return handler(req)
}

func (s *Server) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf("uds: "+format, args...)
	}
}
