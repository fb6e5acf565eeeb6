// Package control implements a local-only debug introspection surface for
// uwbd: a unix domain socket speaking newline-delimited JSON request and
// response frames. cmd/uwbctl is its sole intended client; it is not a
// public API and carries no authentication beyond socket file permissions.
package control

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"
)

// Request is one newline-JSON request frame.
type Request struct {
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// Response is one newline-JSON response frame.
type Response struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Handler answers one Request with a Response. Handlers must not block
// indefinitely; ctx is cancelled when the connection closes.
type Handler func(ctx context.Context, req Request) Response

// ErrUnknownCommand is returned by a Dispatcher-backed Handler when no
// registered command matches the request.
var ErrUnknownCommand = errors.New("control: unknown command")

// Dispatcher routes a Request to one of a set of named command handlers.
type Dispatcher struct {
	mu       sync.RWMutex
	commands map[string]func(ctx context.Context, args json.RawMessage) (any, error)
}

// NewDispatcher constructs an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{commands: make(map[string]func(ctx context.Context, args json.RawMessage) (any, error))}
}

// Register adds a named command handler. Registering the same name twice
// replaces the previous handler.
func (d *Dispatcher) Register(name string, fn func(ctx context.Context, args json.RawMessage) (any, error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands[name] = fn
}

// Handle implements Handler by routing to the registered command.
func (d *Dispatcher) Handle(ctx context.Context, req Request) Response {
	d.mu.RLock()
	fn, ok := d.commands[req.Command]
	d.mu.RUnlock()
	if !ok {
		return errResponse(fmt.Errorf("%w: %s", ErrUnknownCommand, req.Command))
	}

	data, err := fn(ctx, req.Args)
	if err != nil {
		return errResponse(err)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return errResponse(fmt.Errorf("control: marshal response: %w", err))
	}
	return Response{OK: true, Data: raw}
}

func errResponse(err error) Response {
	return Response{OK: false, Error: err.Error()}
}

// Server accepts connections on a unix domain socket and serves each with
// Handler, one goroutine per connection, one request in flight at a time
// per connection.
type Server struct {
	socketPath string
	handler    Handler
	log        *slog.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewServer constructs a Server listening at socketPath once Serve is
// called.
func NewServer(socketPath string, handler Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		handler:    handler,
		log:        logger.With(slog.String("component", "control")),
	}
}

// Serve binds the unix socket (removing any stale socket file left by a
// prior process) and accepts connections until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("control: remove stale socket: %w", err)
	}

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("control: listen on %s: %w", s.socketPath, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("control: accept: %w", err)
		}
		go s.serveConn(ctx, conn)
	}
}

// Close closes the listener, causing Serve's Accept loop to return.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	// connID has no meaning beyond this process's lifetime; it exists so
	// log lines from concurrent debug sessions (e.g. two uwbctl
	// invocations racing) can be told apart.
	connID := uuid.New().String()
	log := s.log.With(slog.String("conn_id", connID))

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-connCtx.Done()
		_ = conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	enc := json.NewEncoder(conn)

	log.Debug("control connection accepted")
	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			_ = enc.Encode(errResponse(fmt.Errorf("control: decode request: %w", err)))
			continue
		}
		resp := s.handler(connCtx, req)
		if err := enc.Encode(resp); err != nil {
			log.Warn("write response failed", slog.Any("err", err))
			return
		}
	}
	log.Debug("control connection closed")
}
