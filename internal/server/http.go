package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/Vicinious/udp-webrtc-player/internal/admission"
	"github.com/Vicinious/udp-webrtc-player/internal/buffer"
	"github.com/Vicinious/udp-webrtc-player/internal/config"
	"github.com/Vicinious/udp-webrtc-player/internal/ingest"
	"github.com/Vicinious/udp-webrtc-player/internal/metrics"
	"github.com/Vicinious/udp-webrtc-player/internal/protocol"
	"github.com/Vicinious/udp-webrtc-player/internal/session"
)

// HTTPServer serves the control-plane upgrade endpoint and the monitoring
// API.
type HTTPServer struct {
	server      *http.Server
	logger      *slog.Logger
	cfg         *config.Config
	hub         *Hub
	dispatcher  *Dispatcher
	buf         *buffer.Buffer
	throughput  *ingest.Throughput
	registry    *session.Registry
	requestGate *admission.Gate
	connCap     *admission.ConnCap
	metrics     *metrics.Metrics
	upgrader    websocket.Upgrader
	startTime   time.Time
}

// NewHTTPServer creates the HTTP server with all routes configured.
func NewHTTPServer(cfg *config.Config, logger *slog.Logger, hub *Hub, dispatcher *Dispatcher,
	buf *buffer.Buffer, throughput *ingest.Throughput, registry *session.Registry,
	requestGate *admission.Gate, connCap *admission.ConnCap, m *metrics.Metrics) *HTTPServer {

	s := &HTTPServer{
		logger:      logger,
		cfg:         cfg,
		hub:         hub,
		dispatcher:  dispatcher,
		buf:         buf,
		throughput:  throughput,
		registry:    registry,
		requestGate: requestGate,
		connCap:     connCap,
		metrics:     m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The relay does no authentication; origins are not checked.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	s.setupRoutes(mux)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures the HTTP routes.
func (s *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.withMetrics("/healthz", s.handleHealth))
	mux.HandleFunc("/status", s.withMetrics("/status", s.withGate(s.handleStatus)))
	mux.HandleFunc("/ws", s.withMetrics("/ws", s.handleWS))
	mux.Handle("/metrics", promhttp.Handler())
}

// Handler exposes the configured routes, mainly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

// withMetrics wraps a handler with request metrics collection.
func (s *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		status := fmt.Sprintf("%d", ww.statusCode)
		s.metrics.RecordHTTPRequest(r.Method, endpoint, status, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			s.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// withGate applies the per-source-address request gate. A violation is an
// explicit rejection; the request is dropped, never queued.
func (s *HTTPServer) withGate(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr := clientAddr(r.RemoteAddr)
		if !s.requestGate.Allow(addr) {
			if s.metrics != nil {
				s.metrics.AdmissionDenied.WithLabelValues("request").Inc()
			}
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		handler(w, r)
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack forwards to the wrapped writer so the upgrade endpoint works
// through the metrics wrapper.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

// clientAddr strips the port from a remote address.
func clientAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// handleHealth responds to liveness probes.
func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// StatusResponse is the synchronous read-only status snapshot.
type StatusResponse struct {
	UptimeSeconds   float64 `json:"uptime_seconds"`
	BufferPackets   int     `json:"buffer_packets"`
	BufferBytes     int     `json:"buffer_bytes"`
	Throughput      int64   `json:"throughput_bps"`
	ActiveStreams   int     `json:"active_streams"`
	TotalFollowers  int     `json:"total_followers"`
	Connections     int     `json:"connections"`
	CPUCount        int     `json:"cpu_count"`
	MemoryTotal     uint64  `json:"memory_total"`
	MemoryAvailable uint64  `json:"memory_available"`
}

// handleStatus reports process and host counters. Informational only; no
// side effects.
func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := StatusResponse{
		UptimeSeconds:  time.Since(s.startTime).Seconds(),
		BufferPackets:  s.buf.Len(),
		BufferBytes:    s.buf.TotalBytes(),
		Throughput:     s.throughput.BytesPerSecond(),
		ActiveStreams:  s.registry.SessionCount(),
		TotalFollowers: s.registry.FollowerCount(),
		Connections:    s.hub.Count(),
	}

	if count, err := cpu.Counts(true); err == nil {
		resp.CPUCount = count
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resp.MemoryTotal = vm.Total
		resp.MemoryAvailable = vm.Available
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleWS upgrades a connection onto the control plane. The request gate
// applies first; then the per-address connection cap, which refuses the
// connection without completing the handshake.
func (s *HTTPServer) handleWS(w http.ResponseWriter, r *http.Request) {
	addr := clientAddr(r.RemoteAddr)

	if !s.requestGate.Allow(addr) {
		if s.metrics != nil {
			s.metrics.AdmissionDenied.WithLabelValues("request").Inc()
		}
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	if !s.connCap.Acquire(addr) {
		if s.metrics != nil {
			s.metrics.AdmissionDenied.WithLabelValues("conn_cap").Inc()
		}
		s.logger.Warn("Connection cap exceeded, refusing connection",
			slog.String("remote_addr", addr),
		)
		// Close the raw connection with no handshake response.
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				conn.Close()
				return
			}
		}
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.connCap.Release(addr)
		s.logger.Warn("Upgrade failed",
			slog.String("remote_addr", addr),
			slog.String("error", err.Error()),
		)
		return
	}

	connID := s.hub.Register(conn, addr)

	greeting, err := protocol.Encode(protocol.ConnectionEstablished{
		Type:       protocol.TypeConnectionEstablished,
		BufferSize: s.buf.Len(),
		ServerTime: protocol.Now(),
		Throughput: s.throughput.BytesPerSecond(),
	})
	if err != nil {
		s.logger.Error("Failed to encode connectionEstablished", slog.String("error", err.Error()))
		return
	}
	s.hub.Send(connID, greeting)
}

// Start starts the HTTP server.
func (s *HTTPServer) Start() error {
	s.logger.Info("Starting HTTP server",
		slog.String("address", s.server.Addr),
	)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server.
func (s *HTTPServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server...")
	return s.server.Shutdown(ctx)
}
