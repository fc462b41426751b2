// Package rpcserver is the process-level TCP listener + connection
// manager that glues internal/transport/conn, internal/host, and
// internal/metrics into a runnable process (cmd/rpchost's sole
// collaborator).
//
// Grounded on the teacher's internal/rtmp/server.Server (Start/Stop/
// Addr/ConnectionCount, acceptLoop-spawns-goroutine-per-connection,
// conns map guarded by sync.RWMutex), generalised from a single fixed
// RTMP accept path to an arbitrary Config and host.Registry, and
// upgraded with golang.org/x/time/rate to police accept rate and
// maxOpenConnCount the way the teacher's accept loop never needed to
// (RTMP had no such budget; this spec's §5 resource model does).
package rpcserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/time/rate"

	"github.com/veloxdb/rpc/internal/config"
	"github.com/veloxdb/rpc/internal/host"
	"github.com/veloxdb/rpc/internal/logger"
	"github.com/veloxdb/rpc/internal/metrics"
	"github.com/veloxdb/rpc/internal/transport/conn"
)

// Server accepts connections on one configured endpoint, wiring each
// to a host.Dispatcher bound to the given service registry.
type Server struct {
	cfg      config.Config
	registry *host.Registry
	metrics  *metrics.Registry
	dispatch *host.Dispatcher
	log      *slog.Logger
	limiter  *rate.Limiter

	mu      sync.RWMutex
	l       net.Listener
	conns   map[string]*conn.Connection
	closing bool

	acceptDone chan struct{}
}

// New builds an unstarted Server over registry, ready to accept once
// Start is called.
func New(cfg config.Config, registry *host.Registry, m *metrics.Registry) *Server {
	conn.SetDispatchConcurrency(cfg.DispatchConcurrency)
	return &Server{
		cfg:        cfg,
		registry:   registry,
		metrics:    m,
		dispatch:   host.NewDispatcher(registry),
		log:        logger.Logger().With("component", "rpcserver"),
		limiter:    rate.NewLimiter(rate.Limit(cfg.MaxOpenConnCount), cfg.BacklogSize),
		conns:      make(map[string]*conn.Connection),
		acceptDone: make(chan struct{}),
	}
}

// Start binds the first configured endpoint and launches the accept loop.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.l != nil {
		s.mu.Unlock()
		return errors.New("rpcserver: already started")
	}
	if len(s.cfg.Endpoints) == 0 {
		s.mu.Unlock()
		return errors.New("rpcserver: no endpoints configured")
	}
	addr := s.cfg.Endpoints[0]
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("rpcserver: listen %s: %w", addr, err)
	}
	s.l = ln
	s.mu.Unlock()

	s.log.Info("rpc host listening", "addr", ln.Addr().String())
	go s.acceptLoop()
	return nil
}

// Addr returns the bound listener address, or nil if not started.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.l == nil {
		return nil
	}
	return s.l.Addr()
}

// ConnectionCount returns the number of currently tracked connections.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

func (s *Server) acceptLoop() {
	defer close(s.acceptDone)
	for {
		s.mu.RLock()
		l := s.l
		s.mu.RUnlock()
		if l == nil {
			return
		}
		raw, err := l.Accept()
		if err != nil {
			s.mu.RLock()
			closing := s.closing
			s.mu.RUnlock()
			if closing || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept error", "error", err)
			return
		}

		if err := s.limiter.Wait(context.Background()); err != nil {
			_ = raw.Close()
			continue
		}

		if s.ConnectionCount() >= s.cfg.MaxOpenConnCount {
			s.log.Warn("rejecting connection: maxOpenConnCount reached", "remote", raw.RemoteAddr().String())
			_ = raw.Close()
			continue
		}

		c := conn.New(raw, conn.Config{
			ChunkSize:           s.cfg.ChunkSize,
			MaxQueuedChunkCount: s.cfg.MaxQueuedChunkCount,
			InactivityInterval:  s.cfg.InactivityInterval,
			InactivityTimeout:   s.cfg.InactivityTimeout,
		})
		c.SetHandler(s.onMessage)

		s.mu.Lock()
		s.conns[c.ID()] = c
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.ConnectionsOpen.Inc()
		}
		s.log.Info("connection accepted", "conn_id", c.ID(), "remote", raw.RemoteAddr().String())

		c.Start()
		go s.awaitClose(c)
	}
}

func (s *Server) awaitClose(c *conn.Connection) {
	_ = c.Wait()
	s.mu.Lock()
	delete(s.conns, c.ID())
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.ConnectionsOpen.Dec()
	}
}

func (s *Server) onMessage(c *conn.Connection, requestID uint64, payload []byte) {
	s.dispatch.Dispatch(context.Background(), c.Tag(), c.SetTag, requestID, payload, func(ctx context.Context, requestID uint64, payload []byte) error {
		return c.SendResponse(ctx, requestID, payload)
	})
}

// Stop closes the listener and every tracked connection, waiting for
// the accept loop to exit, mirroring the teacher's Stop shape.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.l == nil {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	l := s.l
	s.l = nil
	s.mu.Unlock()
	_ = l.Close()

	s.mu.RLock()
	conns := make([]*conn.Connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()
	for _, c := range conns {
		_ = c.Close()
	}

	<-s.acceptDone
	s.log.Info("rpc host stopped")
	return nil
}
