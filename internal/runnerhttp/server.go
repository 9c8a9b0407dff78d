// Package runnerhttp exposes one Runner over a small HTTP control
// surface: status, offsets, pause/resume, checkpoints, and setting end
// offsets. Handler registration follows the grafana-loki style,
// routed with github.com/gorilla/mux.
package runnerhttp

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/ingestcore/streamtask/internal/ingesterrors"
	"github.com/ingestcore/streamtask/internal/runner"
	"github.com/ingestcore/streamtask/internal/streamid"
)

// Server wraps a *runner.Runner with its HTTP control surface.
type Server struct {
	Runner *runner.Runner
	router *mux.Router
}

func New(r *runner.Runner) *Server {
	s := &Server{Runner: r, router: mux.NewRouter()}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	s.router.ServeHTTP(w, req)
}

func (s *Server) routes() {
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/offsets/current", s.handleCurrentOffsets).Methods(http.MethodGet)
	s.router.HandleFunc("/offsets/end", s.handleGetEndOffsets).Methods(http.MethodGet)
	s.router.HandleFunc("/offsets/end", s.handleSetEndOffsets).Methods(http.MethodPost)
	s.router.HandleFunc("/pause", s.handlePause).Methods(http.MethodPost)
	s.router.HandleFunc("/resume", s.handleResume).Methods(http.MethodPost)
	s.router.HandleFunc("/stop", s.handleStop).Methods(http.MethodPost)
	s.router.HandleFunc("/checkpoints", s.handleCheckpoints).Methods(http.MethodGet)
	s.router.HandleFunc("/time/start", s.handleStartTime).Methods(http.MethodGet)
	s.router.HandleFunc("/rowStats", s.handleRowStats).Methods(http.MethodGet)
	s.router.HandleFunc("/unparseableEvents", s.handleUnparseableEvents).Methods(http.MethodGet)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("runnerhttp: failed to encode response")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, s.Runner.Status().String())
}

func (s *Server) handleCurrentOffsets(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, s.Runner.CurrentOffsets())
}

func (s *Server) handleGetEndOffsets(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, s.Runner.EndOffsets())
}

func (s *Server) handleSetEndOffsets(w http.ResponseWriter, req *http.Request) {
	finish := req.URL.Query().Get("finish") == "true"
	var body map[streamid.PartitionID]string
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	result, err := s.Runner.SetEndOffsets(req.Context(), body, finish)
	if err != nil {
		switch {
		case ingesterrors.Is(err, ingesterrors.ErrPartitionSetMismatch),
			ingesterrors.Is(err, ingesterrors.ErrOffsetRegression),
			ingesterrors.Is(err, ingesterrors.ErrDuplicateOffsetRequest),
			ingesterrors.Is(err, ingesterrors.ErrNotPaused):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePause(w http.ResponseWriter, req *http.Request) {
	result, err := s.Runner.Pause(req.Context())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if !result.Observed {
		writeJSON(w, http.StatusAccepted, result.Offsets)
		return
	}
	writeJSON(w, http.StatusOK, result.Offsets)
}

func (s *Server) handleResume(w http.ResponseWriter, req *http.Request) {
	if err := s.Runner.Resume(req.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleStop(w http.ResponseWriter, req *http.Request) {
	s.Runner.Stop()
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleCheckpoints(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, s.Runner.Checkpoints())
}

func (s *Server) handleStartTime(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, s.Runner.StartTime().UTC().Format(time.RFC3339))
}

func (s *Server) handleRowStats(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, s.Runner.RowStats())
}

func (s *Server) handleUnparseableEvents(w http.ResponseWriter, req *http.Request) {
	stats := s.Runner.RowStats()
	writeJSON(w, http.StatusOK, unparseableSummary{
		Unparseable:        stats.Unparseable,
		ProcessedWithError: stats.ProcessedWithError,
	})
}

type unparseableSummary struct {
	Unparseable        int64 `json:"unparseable"`
	ProcessedWithError int64 `json:"processedWithError"`
}
