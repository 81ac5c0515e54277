// Package ingest receives gesture events from the vision process over TCP.
//
// The wire format is one JSON object per line, terminated by '\n'. Each
// connection is served by its own goroutine and its events are handled in
// arrival order.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ayusman/hasta/internal/dispatch"
	"github.com/ayusman/hasta/internal/gesture"
)

// DefaultMaxLineBytes bounds a single event line.
const DefaultMaxLineBytes = 64 << 10

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("ingest: server closed")

// Handler consumes decoded events.
type Handler interface {
	ProcessGesture(ctx context.Context, ev gesture.Event) (*dispatch.Result, error)
}

// Config holds the server configuration.
type Config struct {
	Addr         string
	Handler      Handler
	Logger       *zap.Logger
	MaxLineBytes int
}

// Server is a newline-delimited JSON event server.
type Server struct {
	addr     string
	handler  Handler
	logger   *zap.Logger
	maxLine  int
	ctx      context.Context
	cancel   context.CancelFunc
	closing  atomic.Bool
	wg       sync.WaitGroup
	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
}

// New creates a Server. It does not start listening.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = DefaultMaxLineBytes
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:    cfg.Addr,
		handler: cfg.Handler,
		logger:  cfg.Logger,
		maxLine: cfg.MaxLineBytes,
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Listen binds the configured address.
func (s *Server) Listen() (net.Listener, error) {
	return net.Listen("tcp", s.addr)
}

// ListenAndServe binds the configured address and serves it.
func (s *Server) ListenAndServe() error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Addr returns the bound address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections on ln until Shutdown is called. It always
// returns a non-nil error; after Shutdown the error is ErrServerClosed.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("Socket server listening", zap.String("addr", ln.Addr().String()))

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closing.Load() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if backoff == 0 {
					backoff = 5 * time.Millisecond
				} else if backoff *= 2; backoff > time.Second {
					backoff = time.Second
				}
				s.logger.Warn("Accept error, retrying", zap.Error(err), zap.Duration("backoff", backoff))
				time.Sleep(backoff)
				continue
			}
			s.logger.Error("Error accepting connection", zap.Error(err))
			return err
		}
		backoff = 0

		if !s.track(conn) {
			conn.Close()
			return ErrServerClosed
		}
		go s.serveConn(conn)
	}
}

// Shutdown stops accepting connections and waits for connection workers to
// finish the line they are processing. If ctx expires first the remaining
// connections are closed, in-flight handler contexts are cancelled and
// ctx.Err() is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Stopping socket server")

	s.mu.Lock()
	s.closing.Store(true)
	var lnErr error
	if s.listener != nil {
		lnErr = s.listener.Close()
	}
	now := time.Now()
	for conn := range s.conns {
		conn.SetReadDeadline(now)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.logger.Info("Socket server stopped")
		if errors.Is(lnErr, net.ErrClosed) {
			lnErr = nil
		}
		return lnErr
	case <-ctx.Done():
		s.mu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()
		s.cancel()
		s.logger.Warn("Socket server forced to stop", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}

// track registers conn with the worker group. It reports false once
// Shutdown has started, so wg.Add never races with wg.Wait.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing.Load() {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) serveConn(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	log := s.logger.With(zap.String("remote", remote))
	log.Info("Socket connection opened")

	defer func() {
		conn.Close()
		s.untrack(conn)
		s.wg.Done()
		log.Info("Socket connection closed")
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, min(4096, s.maxLine)), s.maxLine)
	scanner.Split(scanCompleteLines)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		ev, err := gesture.Decode(line)
		if err != nil {
			log.Error("Invalid JSON from socket", zap.Error(err))
			continue
		}

		if _, err := s.handler.ProcessGesture(s.ctx, ev); err != nil {
			log.Debug("Gesture not processed", zap.Error(err))
		}
	}

	if err := scanner.Err(); err != nil && !s.closing.Load() {
		if errors.Is(err, bufio.ErrTooLong) {
			log.Error("Line exceeds maximum length, closing connection", zap.Int("max_bytes", s.maxLine))
			return
		}
		log.Warn("Error reading from socket", zap.Error(err))
	}
}

// scanCompleteLines splits on '\n' and drops a trailing partial line when the
// stream ends, so a half-written event is never decoded.
func scanCompleteLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, data[:i], nil
	}
	return 0, nil, nil
}
