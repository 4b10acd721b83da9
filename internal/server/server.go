package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"foliage/internal/config"
	"foliage/internal/dispatch"
	"foliage/internal/geom"
	"foliage/internal/instances"
	"foliage/internal/ledger"
	"foliage/internal/placement"
)

type Server struct {
	cfg        config.ServerConfig
	maxDensity int
	dispatcher *dispatch.Dispatcher
	store      *instances.Store
	ledger     *ledger.Ledger
	recorder   *ledger.Recorder
	httpSrv    *http.Server
	logger     *log.Logger
}

// New builds the HTTP boundary from the server and placement sections of
// cfg. recorder may be nil, in which case the usage history is always empty.
func New(cfg *config.Config, d *dispatch.Dispatcher, store *instances.Store, l *ledger.Ledger, recorder *ledger.Recorder, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		cfg:        cfg.Server,
		maxDensity: cfg.Placement.MaxDensity,
		dispatcher: d,
		store:      store,
		ledger:     l,
		recorder:   recorder,
		logger:     logger,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/memory_stats", s.handleMemoryStats)
	mux.HandleFunc("/memory_stats/history", s.handleMemoryHistory)
	mux.HandleFunc("/paint", s.handlePaint)
	mux.HandleFunc("/instances", s.handleInstances)
	mux.HandleFunc("/clear", s.handleClear)
	mux.HandleFunc("/undo", s.handleUndo)
	return mux
}

// Run serves until ctx is cancelled, then drains in-flight requests for up
// to the configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           otelhttp.NewHandler(s.Handler(), "foliage"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("HTTP server listening on %s", s.cfg.ListenAddress)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		timeout := s.cfg.ShutdownTimeout.Duration()
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Printf("HTTP shutdown: %v", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

type memoryStats struct {
	UsageBytes uint64 `json:"usage_bytes"`
	Status     string `json:"status"`
}

// paintRequest is the /paint body. Pointer fields are required.
type paintRequest struct {
	X                 *float64 `json:"x"`
	Y                 *float64 `json:"y"`
	Z                 float64  `json:"z"`
	Radius            *float64 `json:"radius"`
	Density           *int     `json:"density"`
	MaxSlopeAngle     *float64 `json:"maxSlopeAngle"`
	ClusteringEnabled bool     `json:"clusteringEnabled"`
	Tag               string   `json:"tag"`
}

func (p paintRequest) validate(maxDensity int) error {
	switch {
	case p.X == nil:
		return errors.New("x is required")
	case p.Y == nil:
		return errors.New("y is required")
	case p.Radius == nil:
		return errors.New("radius is required")
	case p.Density == nil:
		return errors.New("density is required")
	case p.MaxSlopeAngle == nil:
		return errors.New("maxSlopeAngle is required")
	case maxDensity > 0 && *p.Density > maxDensity:
		return fmt.Errorf("density %d exceeds the limit of %d", *p.Density, maxDensity)
	}
	return nil
}

func (p paintRequest) toRequest() placement.Request {
	return placement.Request{
		Center:          geom.Vec3{X: *p.X, Y: *p.Y, Z: p.Z},
		Radius:          *p.Radius,
		Density:         *p.Density,
		MaxSlopeDegrees: *p.MaxSlopeAngle,
		Clustering:      p.ClusteringEnabled,
	}
}

type ack struct {
	Status string `json:"status"`
	Tag    string `json:"tag,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"queued": s.dispatcher.Len(),
	})
}

func (s *Server) handleMemoryStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, memoryStats{UsageBytes: s.ledger.CurrentUsage(), Status: "OK"})
}

func (s *Server) handleMemoryHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	history := []ledger.Sample{}
	if s.recorder != nil {
		history = append(history, s.recorder.History()...)
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handlePaint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes()))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, fmt.Sprintf("read paint request: %v", err), http.StatusBadRequest)
		return
	}

	var p paintRequest
	if err := json.Unmarshal(body, &p); err != nil {
		http.Error(w, fmt.Sprintf("invalid paint request: %v", err), http.StatusBadRequest)
		return
	}
	if err := p.validate(s.maxDensity); err != nil {
		http.Error(w, fmt.Sprintf("invalid paint request: %v", err), http.StatusBadRequest)
		return
	}

	pending := s.dispatcher.SubmitTagged(p.Tag, p.toRequest())
	s.logger.Printf("queued paint %s at (%.1f, %.1f) radius=%.1f density=%d", pending.Tag(), *p.X, *p.Y, *p.Radius, *p.Density)
	writeJSON(w, http.StatusAccepted, ack{Status: "queued", Tag: pending.Tag()})
}

func (s *Server) handleInstances(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var list []instances.Placed
	if tag := r.URL.Query().Get("tag"); tag != "" {
		list = s.store.ByTag(tag)
	} else {
		list = s.store.All()
	}
	if list == nil {
		list = []instances.Placed{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":     len(list),
		"instances": list,
	})
}

// handleClear removes instances carrying ?tag=, or everything without one.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	tag := r.URL.Query().Get("tag")
	s.dispatcher.SubmitClear(tag)
	s.logger.Printf("queued clear %q", tag)
	writeJSON(w, http.StatusAccepted, ack{Status: "queued", Tag: tag})
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.dispatcher.SubmitUndo()
	writeJSON(w, http.StatusAccepted, ack{Status: "queued"})
}

func (s *Server) maxBodyBytes() int64 {
	if s.cfg.MaxBodyBytes > 0 {
		return s.cfg.MaxBodyBytes
	}
	return 1 << 16
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
