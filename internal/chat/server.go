package chat

import (
	"context"
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/textws/ws/wsutil"
)

// Errors returned by Server lifecycle methods.
var (
	ErrServerStarted    = errors.New("chat: server already started")
	ErrServerNotStarted = errors.New("chat: server not started")
)

// Server accepts TCP connections, upgrades them to websocket and hands them
// to Hub.
type Server struct {
	addr   string
	cfg    wsutil.Config
	hub    *Hub
	logger *zap.Logger

	mu     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a non-started server listening on addr.
func NewServer(addr string, cfg wsutil.Config, hub *Hub, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		addr:   addr,
		cfg:    cfg,
		hub:    hub,
		logger: logger,
	}
}

// Start starts listening and returns immediately.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return ErrServerStarted
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())

	s.ln = ln
	s.cancel = cancel
	s.conns = make(map[net.Conn]struct{})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ctx, ln)
	}()
	s.logger.Info("listening", zap.Stringer("addr", ln.Addr()))

	return nil
}

// Addr returns the listener address. It is nil until Start succeeds.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop closes the listener and every client connection, then waits for all
// sessions to end.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.ln == nil {
		s.mu.Unlock()
		return ErrServerNotStarted
	}
	err := s.ln.Close()
	s.cancel()
	for conn := range s.conns {
		conn.Close()
	}
	s.ln = nil
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("stopped")

	return err
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Error("accept failed", zap.Error(err))
			}
			return
		}
		if !s.track(conn) {
			conn.Close()
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.serve(ctx, conn)
		}()
	}
}

func (s *Server) serve(ctx context.Context, conn net.Conn) {
	log := s.logger.With(zap.Stringer("remote", conn.RemoteAddr()))

	c, err := wsutil.Accept(conn, s.cfg)
	if err != nil {
		log.Debug("handshake failed", zap.Error(err))
		conn.Close()
		return
	}
	log.Debug("upgraded", zap.String("uri", c.Handshake().URI))

	if err = s.hub.Serve(ctx, c); err != nil {
		log.Info("session ended with error", zap.Error(err))
	}
}

// track registers conn to be closed by Stop. It returns false if server is
// stopping.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}
