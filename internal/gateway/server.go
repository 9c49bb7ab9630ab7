package gateway

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/soyeahso/concierge/internal/catalog"
	"github.com/soyeahso/concierge/internal/chat"
	"github.com/soyeahso/concierge/internal/config"
	"github.com/soyeahso/concierge/internal/contextcache"
	"github.com/soyeahso/concierge/internal/hooks"
	"github.com/soyeahso/concierge/internal/latency"
	"github.com/soyeahso/concierge/internal/logging"
	"github.com/soyeahso/concierge/internal/metrics"
	"github.com/soyeahso/concierge/internal/ratelimit"
	"github.com/soyeahso/concierge/internal/satisfaction"
	"github.com/soyeahso/concierge/internal/version"
)

var ErrClientClosed = errors.New("client connection closed")

const (
	checkTimeout     = 2 * time.Second
	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
	shutdownTimeout  = 10 * time.Second
)

// LatencyQuery answers latency questions from durable storage.
// *store.LatencyStore satisfies it.
type LatencyQuery interface {
	Stats(ctx context.Context, f latency.Filter) (latency.Stats, error)
	Trend(ctx context.Context, f latency.Filter, bucket time.Duration) ([]latency.Bucket, error)
}

// Services are the components the gateway exposes. Catalog is optional;
// without it the /api/tours routes are not mounted.
type Services struct {
	Chat    *chat.Service
	Cache   *contextcache.Cache
	Ratings *satisfaction.Aggregator
	Latency *latency.Recorder
	Catalog catalog.Source
}

// Server is the concierge HTTP + WebSocket gateway.
type Server struct {
	cfg      config.Config
	log      *logging.Logger
	clients  *ClientRegistry
	handlers map[string]RequestHandler
	version  string
	eventSeq atomic.Int64

	chat    *chat.Service
	cache   *contextcache.Cache
	ratings *satisfaction.Aggregator
	latency *latency.Recorder
	catalog catalog.Source

	latencyStore LatencyQuery      // optional; nil serves latency from memory only
	limiter      ratelimit.Limiter // optional; nil disables throttling
	hooks        *hooks.Manager
	metrics      *metrics.Metrics
	gatherer     prometheus.Gatherer
	checks       map[string]CheckFunc

	startedAt  time.Time
	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithHooks sets the hook manager for lifecycle events.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) {
		s.hooks = hm
	}
}

// WithLimiter throttles chat and rating submissions per client.
func WithLimiter(l ratelimit.Limiter) ServerOption {
	return func(s *Server) {
		s.limiter = l
	}
}

// WithLatencyStore lets latency queries with explicit date bounds read
// durable history instead of the in-memory ring.
func WithLatencyStore(q LatencyQuery) ServerOption {
	return func(s *Server) {
		s.latencyStore = q
	}
}

// WithMetrics records gateway metrics on m and serves g at /metrics.
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) ServerOption {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// CheckFunc probes a dependency for the detailed status endpoint.
type CheckFunc func(ctx context.Context) error

// WithCheck adds a named dependency probe to /api/status and the health RPC.
func WithCheck(name string, fn CheckFunc) ServerOption {
	return func(s *Server) {
		if s.checks == nil {
			s.checks = make(map[string]CheckFunc)
		}
		s.checks[name] = fn
	}
}

// New creates a new gateway server.
func New(cfg config.Config, svc Services, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:       cfg,
		log:       log.Sub("gateway"),
		clients:   NewClientRegistry(log.Sub("clients")),
		handlers:  make(map[string]RequestHandler),
		version:   version.Version,
		chat:      svc.Chat,
		cache:     svc.Cache,
		ratings:   svc.Ratings,
		latency:   svc.Latency,
		catalog:   svc.Catalog,
		startedAt: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.Gateway.ControlUI.AllowedOrigins),
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	s.registerRPCHandlers()
	s.hooks.On(hooks.EventCacheRefreshed, "gateway.broadcast", func(_ context.Context, p hooks.Payload) error {
		n := s.clients.Broadcast(EventContextRefreshed, p.Data, s.eventSeq.Add(1))
		s.log.Debug().Int("clients", n).Msg("context refresh broadcast")
		return nil
	})
	return s
}

// checkWebSocketOrigin returns a function that validates WebSocket Origin headers.
// Requests without an Origin (non-browser clients) are always allowed; browser
// origins must be listed.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return isOriginAllowed(origin, allowed)
	}
}

// Handle registers an RPC method handler.
func (s *Server) Handle(method string, handler RequestHandler) {
	s.handlers[method] = handler
}

// Methods returns the registered RPC method names, sorted.
func (s *Server) Methods() []string {
	methods := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.GatewayConfig) string {
	switch cfg.Bind {
	case "loopback":
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	case "lan", "auto":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return fmt.Sprintf("%s:%d", host, cfg.Port)
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Handler returns the routed HTTP handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)
	return withMiddleware(mux, s.log, s.cfg.Gateway.ControlUI.AllowedOrigins)
}

// Start begins listening for HTTP and WebSocket connections.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg.Gateway)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// A reply may take up to the generator timeout before it is written.
		WriteTimeout: s.cfg.Chat.ReplyTimeout() + 15*time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	if s.cfg.Gateway.TLS.Enabled {
		cert, err := tls.LoadX509KeyPair(s.cfg.Gateway.TLS.CertPath, s.cfg.Gateway.TLS.KeyPath)
		if err != nil {
			ln.Close()
			return fmt.Errorf("loading TLS certificate: %w", err)
		}
		ln = tls.NewListener(ln, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
		s.log.Info().Msg("TLS enabled")
	} else if s.cfg.Gateway.Bind != "loopback" {
		s.log.Warn().Msg("TLS is not enabled on a non-loopback bind")
	}

	s.startedAt = time.Now()

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Gateway.Bind).
		Bool("rateLimit", s.limiter != nil).
		Int("methods", len(s.handlers)).
		Msg("gateway server ready")

	s.hooks.Emit(ctx, hooks.EventGatewayStart, map[string]any{
		"addr": ln.Addr().String(),
	})

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down gateway server")
		s.hooks.Emit(context.Background(), hooks.EventGatewayStop, nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.clients.CloseAll()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Warn().Err(err).Msg("gateway shutdown incomplete")
		}
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the server's listen address, or empty string if not started.
func (s *Server) Addr() string {
	if s.httpServer != nil {
		return s.httpServer.Addr
	}
	return ""
}

// handleWebSocket upgrades HTTP to WebSocket and runs the connection loop.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	key := ratelimit.ClientKey(r, s.cfg.Gateway.TrustProxy)
	if d, ok := s.admit(r.Context(), key); !ok {
		writeRateLimited(w, d)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxPayloadBytes)

	client, err := s.handshake(conn, key)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("handshake failed")
		conn.Close()
		return
	}

	s.clients.Add(client)
	stop := make(chan struct{})
	defer func() {
		close(stop)
		s.clients.Remove(client.ConnID)
		client.Close()
	}()

	client.armDeadline()
	go client.keepalive(tickInterval, stop)
	s.readLoop(r.Context(), client)
}

// handshake reads the client's connect request and answers with hello-ok.
func (s *Server) handshake(conn *websocket.Conn, remoteKey string) (*Client, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("reading connect: %w", err)
	}

	frame, err := ParseFrame(msg)
	if err != nil {
		var fe *FrameError
		if errors.As(err, &fe) {
			sendErrorAndClose(conn, fe.ID, "protocol_error", fe.Reason)
		}
		return nil, fmt.Errorf("parsing connect frame: %w", err)
	}

	if frame.Type != FrameTypeRequest || frame.Method != MethodConnect {
		sendErrorAndClose(conn, frame.ID, "protocol_error", "expected connect request")
		return nil, fmt.Errorf("expected connect request, got type=%s method=%s", frame.Type, frame.Method)
	}

	var params ConnectParams
	if len(frame.Params) > 0 {
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			sendErrorAndClose(conn, frame.ID, "invalid_params", "invalid connect params")
			return nil, fmt.Errorf("parsing connect params: %w", err)
		}
	}
	if !protocolSupported(params) {
		sendErrorAndClose(conn, frame.ID, "protocol_mismatch",
			fmt.Sprintf("server speaks protocol %d", ProtocolVersion))
		return nil, fmt.Errorf("protocol range %d-%d excludes %d", params.MinProtocol, params.MaxProtocol, ProtocolVersion)
	}

	conn.SetReadDeadline(time.Time{})

	client := NewClient(conn, params.Client, remoteKey, s.log.Sub("ws"))

	hello := HelloOK{
		Protocol: ProtocolVersion,
		Server: ServerInfo{
			Version: s.version,
			Commit:  version.Commit,
			ConnID:  client.ConnID,
		},
		Features: Features{
			Methods: s.Methods(),
			Events:  []string{EventContextRefreshed},
		},
		Policy: ServerPolicy{
			MaxPayload:     maxPayloadBytes,
			TickIntervalMs: tickIntervalMs,
		},
	}
	if err := client.Respond(frame.ID, hello); err != nil {
		return nil, fmt.Errorf("sending hello: %w", err)
	}

	s.log.Debug().
		Str("connId", client.ConnID).
		Str("clientId", params.Client.ID).
		Str("clientVersion", params.Client.Version).
		Msg("handshake complete")

	return client, nil
}

// protocolSupported reports whether the client's range admits ProtocolVersion.
// Zero bounds are open.
func protocolSupported(p ConnectParams) bool {
	if p.MinProtocol > 0 && ProtocolVersion < p.MinProtocol {
		return false
	}
	if p.MaxProtocol > 0 && ProtocolVersion > p.MaxProtocol {
		return false
	}
	return true
}

// readLoop processes incoming frames until the client disconnects.
// Requests on one connection are handled in order.
func (s *Server) readLoop(ctx context.Context, client *Client) {
	for {
		frame, err := client.ReadFrame()
		var fe *FrameError
		if errors.As(err, &fe) {
			if fe.ID != "" {
				client.RespondError(fe.ID, ErrorShape{Code: "invalid_frame", Message: fe.Reason})
			}
			s.log.Debug().Str("connId", client.ConnID).Str("reason", fe.Reason).Msg("dropping invalid frame")
			continue
		}
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Str("connId", client.ConnID).Msg("client closed connection")
			} else {
				s.log.Warn().Err(err).Str("connId", client.ConnID).Msg("read error")
			}
			return
		}

		if frame.Type != FrameTypeRequest {
			s.log.Debug().Str("type", frame.Type).Msg("ignoring frame from client")
			continue
		}

		s.dispatch(ctx, client, frame)
	}
}

// dispatch routes a request frame to the appropriate handler.
func (s *Server) dispatch(ctx context.Context, client *Client, frame Frame) {
	handler, ok := s.handlers[frame.Method]
	if !ok {
		client.RespondError(frame.ID, ErrorShape{
			Code:    "method_not_found",
			Message: "unknown method: " + frame.Method,
		})
		return
	}

	handler(&RequestContext{
		Ctx:    ctx,
		Client: client,
		Frame:  frame,
		Server: s,
	})
}

// sendErrorAndClose sends an error response and closes the connection.
func sendErrorAndClose(conn *websocket.Conn, reqID, code, message string) {
	conn.WriteJSON(NewErrorResponse(reqID, ErrorShape{
		Code:    code,
		Message: message,
	}))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message))
}
