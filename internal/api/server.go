// Package api serves connector status and row lookups over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/akynaston/idmunit-connectors-sub001/internal/poller"
	"github.com/akynaston/idmunit-connectors-sub001/internal/rowlog"
	"github.com/akynaston/idmunit-connectors-sub001/pkg/models"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// StatsProvider reports poller counters
type StatsProvider interface {
	Stats() poller.Stats
}

// Server holds the dependencies for API handlers
type Server struct {
	stats   StatsProvider
	history *rowlog.History
	dir     string
	logger  *zap.Logger
	router  *mux.Router
}

// NewServer creates the API. history may be nil when row parsing is off.
func NewServer(stats StatsProvider, history *rowlog.History, dir string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{stats: stats, history: history, dir: dir, logger: logger, router: mux.NewRouter()}

	s.router.HandleFunc("/api/v1/status", s.statusHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/rows/latest", s.latestHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/rows/verify", s.verifyHandler).Methods(http.MethodPost)
	return s
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve serves on l until ctx ends, then shuts down gracefully
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	server := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server starting", zap.String("addr", l.Addr().String()))
		errCh <- server.Serve(l)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("API server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server forced to shutdown: %w", err)
	}
	return nil
}

// ListenAndServe listens on addr and calls Serve
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("could not listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, l)
}

// StatusResponse is returned by GET /api/v1/status
type StatusResponse struct {
	Dir    string       `json:"dir"`
	Poller poller.Stats `json:"poller"`
	Rows   *RowStats    `json:"rows,omitempty"`
}

// RowStats summarizes the row history
type RowStats struct {
	Held     int    `json:"held"`
	Capacity int    `json:"capacity"`
	Total    uint64 `json:"total"`
}

// VerifyRequest is the body of POST /api/v1/rows/verify. Values are regular
// expressions matched against whole fields.
type VerifyRequest struct {
	Key    map[string]string `json:"key"`
	Fields map[string]string `json:"fields"`
}

// VerifyResponse is returned by POST /api/v1/rows/verify
type VerifyResponse struct {
	Matched    bool              `json:"matched"`
	Row        *models.Record    `json:"row,omitempty"`
	Mismatches []rowlog.Mismatch `json:"mismatches,omitempty"`
	Error      string            `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Dir: s.dir, Poller: s.stats.Stats()}
	if s.history != nil {
		resp.Rows = &RowStats{
			Held:     s.history.Len(),
			Capacity: s.history.Capacity(),
			Total:    s.history.Total(),
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) latestHandler(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "row history is disabled"})
		return
	}

	limit := 1
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid limit %q", v)})
			return
		}
		limit = n
	}

	s.writeJSON(w, http.StatusOK, s.history.Rows(limit))
}

func (s *Server) verifyHandler(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "row history is disabled"})
		return
	}

	var req VerifyRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("failed to decode request: %v", err)})
		return
	}
	if len(req.Key) == 0 {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "key must name at least one column"})
		return
	}

	row, err := rowlog.Verify(s.history, req.Key, req.Fields)
	var mismatch *rowlog.MismatchError
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, VerifyResponse{Matched: true, Row: row})
	case errors.Is(err, rowlog.ErrNoMatch):
		s.writeJSON(w, http.StatusNotFound, VerifyResponse{Error: err.Error()})
	case errors.As(err, &mismatch):
		s.writeJSON(w, http.StatusConflict, VerifyResponse{Row: row, Mismatches: mismatch.Mismatches, Error: err.Error()})
	default:
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", zap.Error(err))
	}
}
