// Package server accepts websocket connections and bridges them to the
// channel backend: inbound text commands go through the per-connection
// dispatcher, backend messages are fanned out by a single router to every
// subscribed connection.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/georelay/backend"
	"github.com/c360/georelay/errors"
	"github.com/c360/georelay/metric"
	"github.com/c360/georelay/protocol"
)

// ConstructorConfig holds everything needed to construct a Server.
type ConstructorConfig struct {
	Host string // Listen address (empty = all interfaces)
	Port int    // Listen port (0 = ephemeral, for tests)
	Path string // Websocket endpoint path

	Store backend.Store // Per-channel keyed-value store
	Bus   backend.Bus   // Channel bus the router subscribes to

	ChannelNames    []string // Concrete channels the router subscribes to
	ChannelPatterns []string // Wildcard patterns the router subscribes to
	AllowedChannels []string // Channels clients may touch (empty = all)
	Commands        []string // Commands active per connection (empty = all)

	Extensions []protocol.Extension // Extra command sets beyond the core

	QueueSize          int           // Per-connection inbound queue capacity
	MaxSessionLifetime time.Duration // 0 = unlimited
	LivenessInterval   time.Duration // Router heartbeat period

	Metrics *metric.Metrics
	Logger  *slog.Logger
}

// DefaultConstructorConfig returns sensible defaults for Server construction.
func DefaultConstructorConfig() ConstructorConfig {
	return ConstructorConfig{
		Host:             "0.0.0.0",
		Port:             8325,
		Path:             "/",
		QueueSize:        256,
		LivenessInterval: 30 * time.Second,
	}
}

// Server is the websocket relay front end.
type Server struct {
	cfg        ConstructorConfig
	commands   []string
	extensions []protocol.Extension
	access     protocol.AccessFunc
	metrics    *metric.Metrics
	logger     *slog.Logger

	upgrader websocket.Upgrader
	registry *registry
	router   *router

	listener   net.Listener
	httpServer *http.Server

	lifecycleMu sync.Mutex
	running     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// New validates the configuration and builds a Server. The core command set
// is always attached; cfg.Extensions add to it.
func New(cfg ConstructorConfig) (*Server, error) {
	if cfg.Store == nil || cfg.Bus == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"Server", "New", "store and bus are required")
	}
	if len(cfg.ChannelNames)+len(cfg.ChannelPatterns) == 0 {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"Server", "New", "at least one channel name or pattern is required")
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.LivenessInterval <= 0 {
		cfg.LivenessInterval = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metric.NewMetrics()
	}

	var access protocol.AccessFunc
	if len(cfg.AllowedChannels) > 0 {
		access = protocol.AllowListed(cfg.AllowedChannels)
	}

	// nil means "every contributed command"; the dispatcher validates a
	// non-empty list against the handlers at connect time.
	var commands []string
	if len(cfg.Commands) > 0 {
		commands = cfg.Commands
	}

	extensions := append([]protocol.Extension{protocol.CoreExtension{}}, cfg.Extensions...)

	s := &Server{
		cfg:        cfg,
		commands:   commands,
		extensions: extensions,
		access:     access,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(_ *http.Request) bool { return true },
		},
		registry: newRegistry(),
	}
	s.router = &router{
		bus:      cfg.Bus,
		registry: s.registry,
		names:    cfg.ChannelNames,
		patterns: cfg.ChannelPatterns,
		liveness: cfg.LivenessInterval,
		metrics:  s.metrics,
		logger:   s.logger.With("component", "router"),
	}

	// Fail at construction, not on the first connection, when the command
	// allow-list names something no extension provides.
	probe := protocol.NewSession("probe", cfg.Store, nopSender{}, access, cfg.Logger)
	if _, err := protocol.NewDispatcher(probe, commands, extensions...); err != nil {
		return nil, err
	}

	return s, nil
}

// nopSender backs the construction-time dispatcher probe.
type nopSender struct{}

func (nopSender) Send(context.Context, protocol.Frame) error { return nil }

// Start binds the listener, starts the fan-out router, and begins serving.
// It returns once the server is accepting connections.
func (s *Server) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.running {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(err, "Server", "Start", "bind listener")
	}
	s.listener = listener

	serveCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, func(w http.ResponseWriter, r *http.Request) {
		s.handleWS(serveCtx, w, r)
	})
	s.httpServer = &http.Server{Handler: mux}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.router.run(serveCtx); err != nil {
			s.logger.Error("router failed", "error", err)
		}
	}()
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server failed", "error", err)
		}
	}()

	s.running = true
	s.logger.Info("relay listening", "addr", listener.Addr().String(), "path", s.cfg.Path)
	return nil
}

// Addr returns the bound listen address, useful with an ephemeral port.
func (s *Server) Addr() string {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// ActiveConnections returns the number of registered connections.
func (s *Server) ActiveConnections() int {
	return s.registry.len()
}

// handleWS upgrades one request and runs the connection to completion.
func (s *Server) handleWS(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	peer := remoteAddr(ws.RemoteAddr())
	logger := s.logger.With("peer", peer)

	conn, err := s.buildConn(ws, peer, logger)
	if err != nil {
		logger.Error("connection setup failed", "error", err)
		_ = ws.Close()
		return
	}

	s.metrics.RecordConnectionOpened()
	s.registry.add(conn)
	conn.onClose = func(c *Conn) {
		s.registry.remove(c)
		s.metrics.RecordConnectionClosed()
	}

	connCtx := ctx
	if s.cfg.MaxSessionLifetime > 0 {
		var cancel context.CancelFunc
		connCtx, cancel = context.WithTimeout(ctx, s.cfg.MaxSessionLifetime)
		defer cancel()
	}

	s.wg.Add(1)
	defer s.wg.Done()
	conn.run(connCtx)
}

// buildConn assembles the session, dispatcher, and connection for one peer.
func (s *Server) buildConn(ws *websocket.Conn, peer string, logger *slog.Logger) (*Conn, error) {
	conn := &Conn{
		ws:      ws,
		queue:   make(chan protocol.Message, s.cfg.QueueSize),
		logger:  logger,
		metrics: s.metrics,
		done:    make(chan struct{}),
	}

	sess := protocol.NewSession(peer, s.cfg.Store, conn, s.access, s.logger)
	dispatcher, err := protocol.NewDispatcher(sess, s.commands, s.extensions...)
	if err != nil {
		return nil, err
	}

	conn.sess = sess
	conn.dispatcher = dispatcher
	return conn, nil
}

// Stop closes the listener, tears down every connection, and waits for all
// goroutines to finish or the timeout to expire.
func (s *Server) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	s.cancel()
	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http shutdown incomplete", "error", err)
		}
	}

	for _, c := range s.registry.snapshot() {
		c.teardown()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn("goroutines did not exit within timeout", "timeout", timeout)
	}

	s.listener = nil
	s.httpServer = nil
	s.logger.Info("relay stopped")
	return nil
}
