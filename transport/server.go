package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/machinefabric/rendercore-go/dispatch"
	"github.com/machinefabric/rendercore-go/rpc"
	"github.com/machinefabric/rendercore-go/task"
)

// Options configures a Server.
type Options struct {
	// Network is "tcp" or "unix".
	Network string
	// Address is a host:port for tcp or a socket path for unix.
	Address string
	Codec   Codec
	Limits  Limits
}

// Server accepts client connections and feeds their frames to a
// dispatcher. When a client goes away its tasks are disconnected from
// the task manager.
type Server struct {
	opts       Options
	dispatcher *dispatch.Dispatcher
	manager    *task.Manager
	logger     *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closing  bool

	active sync.WaitGroup
}

// NewServer creates a server. Nothing is bound until Listen or Serve.
func NewServer(opts Options, dispatcher *dispatch.Dispatcher, manager *task.Manager, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Network != "tcp" && opts.Network != "unix" {
		return nil, fmt.Errorf("unsupported network %q", opts.Network)
	}
	if opts.Address == "" {
		return nil, errors.New("listen address is empty")
	}
	if opts.Codec == nil {
		opts.Codec = JSONCodec{}
	}
	if opts.Limits.MaxFrame == 0 {
		opts.Limits = DefaultLimits()
	}
	return &Server{
		opts:       opts,
		dispatcher: dispatcher,
		manager:    manager,
		logger:     logger.Named("transport"),
		conns:      make(map[net.Conn]struct{}),
	}, nil
}

// Listen binds the listening socket. A stale unix socket file is removed
// first.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}
	if s.opts.Network == "unix" {
		if err := os.Remove(s.opts.Address); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing stale socket %s: %w", s.opts.Address, err)
		}
	}
	listener, err := net.Listen(s.opts.Network, s.opts.Address)
	if err != nil {
		return fmt.Errorf("listening on %s %s: %w", s.opts.Network, s.opts.Address, err)
	}
	s.listener = listener
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until ctx is cancelled, then closes the
// listener and every open connection and waits for their goroutines.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	defer func() {
		listener.Close()
		if s.opts.Network == "unix" {
			os.Remove(s.opts.Address)
		}
	}()

	go func() {
		<-ctx.Done()
		listener.Close()
		s.closeConnections()
	}()

	s.logger.Info("server listening",
		zap.String("network", s.opts.Network),
		zap.Stringer("address", listener.Addr()),
		zap.String("codec", s.opts.Codec.Name()))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", zap.Error(err))
			continue
		}

		if !s.track(conn) {
			conn.Close()
			continue
		}
		s.active.Add(1)
		go func() {
			defer s.active.Done()
			defer s.untrack(conn)
			defer conn.Close()
			s.ServeConn(conn)
		}()
	}

	s.active.Wait()
	s.logger.Info("server stopped")
	return nil
}

// ServeConn reads frames from rw until it fails or ends, dispatching each
// one. On return every task of the connection is disconnected.
func (s *Server) ServeConn(rw io.ReadWriter) {
	reader := NewFrameReader(rw)
	reader.SetLimits(s.opts.Limits)
	conn := NewConn(rw, s.opts.Codec, s.opts.Limits)
	logger := s.logger.With(zap.String("client", conn.ClientID()))
	logger.Info("client connected")

	defer func() {
		conn.Close()
		s.manager.Disconnect(conn.ClientID())
		logger.Info("client disconnected")
	}()

	for {
		payload, err := reader.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.Warn("read failed", zap.Error(err))
			}
			return
		}

		value, err := s.opts.Codec.Decode(payload)
		if err != nil {
			if sendErr := conn.Reply(rpc.NewErrorReply(rpc.NullID, rpc.NewParseError(err.Error()))); sendErr != nil {
				logger.Warn("failed to send reply", zap.Error(sendErr))
			}
			continue
		}
		s.dispatcher.DispatchValue(value, conn)
	}
}

// track registers an accepted connection. It reports false once shutdown
// has started; the caller must then close conn itself.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
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

func (s *Server) closeConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closing = true
	for conn := range s.conns {
		conn.Close()
	}
}
