package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"freebusy/internal/availability"
	"freebusy/internal/config"
	appLog "freebusy/internal/log"
	"freebusy/internal/report"
)

// DefaultSnapshotTTL is how long a computed snapshot is served before a
// request triggers a recompute.
const DefaultSnapshotTTL = 5 * time.Minute

// ComputeFunc produces a fresh availability report.
type ComputeFunc func(ctx context.Context) (availability.Report, error)

// Server serves the latest availability snapshot over HTTP.
type Server struct {
	cfg     *config.Config
	compute ComputeFunc
	ttl     time.Duration
	now     func() time.Time
	mux     *http.ServeMux

	// refreshMu serializes recomputes so concurrent requests on a stale
	// snapshot trigger a single run.
	refreshMu sync.Mutex

	snapMu sync.RWMutex
	snap   *snapshot
}

type snapshot struct {
	report     availability.Report
	computedAt time.Time
}

// NewServer constructs a Server. ttl <= 0 selects DefaultSnapshotTTL.
func NewServer(cfg *config.Config, compute ComputeFunc, ttl time.Duration) *Server {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	s := &Server{
		cfg:     cfg,
		compute: compute,
		ttl:     ttl,
		now:     time.Now,
		mux:     http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the server's handler with request IDs, access logging
// and, when configured, basic auth.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled")
		h = s.basicAuthMiddleware(h)
	}
	return chain(h, withRequestID, withAccessLog)
}

// Refresh recomputes the snapshot unconditionally. It is driven by the cron
// schedule in serve mode.
func (s *Server) Refresh(ctx context.Context) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	_, err := s.refreshLocked(ctx)
	return err
}

// current returns a snapshot no older than the TTL, recomputing if needed.
func (s *Server) current(ctx context.Context) (*snapshot, error) {
	if snap := s.fresh(); snap != nil {
		return snap, nil
	}

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	// Another request may have refreshed while we waited.
	if snap := s.fresh(); snap != nil {
		return snap, nil
	}
	return s.refreshLocked(ctx)
}

func (s *Server) fresh() *snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	if s.snap != nil && s.now().Sub(s.snap.computedAt) < s.ttl {
		return s.snap
	}
	return nil
}

func (s *Server) refreshLocked(ctx context.Context) (*snapshot, error) {
	if s.compute == nil {
		return nil, errors.New("web: no compute function configured")
	}
	rep, err := s.compute(ctx)
	if err != nil {
		return nil, err
	}
	snap := &snapshot{report: rep, computedAt: s.now()}

	s.snapMu.Lock()
	s.snap = snap
	s.snapMu.Unlock()

	appLog.Info("availability snapshot refreshed", "days", len(rep.Days), "timezone", rep.Timezone)
	return snap, nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/availability", s.handleAvailability)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// availabilityResponse is the JSON shape for /api/availability.
type availabilityResponse struct {
	ComputedAt time.Time `json:"computed_at"`
	report.Document
}

// handleAvailability returns the latest snapshot.
//
// GET /api/availability?mode=free|busy|both
//   - mode: which slots to include (defaults to the configured mode)
func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	modeName := r.URL.Query().Get("mode")
	if modeName == "" && s.cfg != nil {
		modeName = s.cfg.Mode
	}
	mode, err := report.ParseMode(modeName)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := s.current(r.Context())
	if err != nil {
		appLog.Error("api availability: compute failed", err, "request_id", RequestIDFromContext(r.Context()))
		writeError(w, http.StatusBadGateway, "failed to compute availability")
		return
	}

	writeJSON(w, http.StatusOK, availabilityResponse{
		ComputedAt: snap.computedAt,
		Document:   report.Build(snap.report, mode),
	})
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password disables auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="freebusy", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ListenAndServe serves s on addr until ctx is cancelled, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, addr string, s *Server) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		appLog.Info("HTTP server stopped")
		return nil
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
