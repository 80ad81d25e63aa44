// ABOUTME: HTTP query surface over the scheduler: submit runs, poll status, tail logs, list runs.
// ABOUTME: Thin chi router; all state lives in the scheduler, store, and index.
package pipeline

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// Server exposes the engine to CLI and UI clients over HTTP.
type Server struct {
	scheduler *Scheduler
	router    chi.Router
}

// submitRequest is the POST /runs/{kind} body.
type submitRequest struct {
	Params  Params      `json:"params"`
	Options *RunOptions `json:"options,omitempty"`
}

// artifactEntry describes one collected artifact for listing.
type artifactEntry struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
	Dir      bool      `json:"dir"`
}

// NewServer builds the HTTP server around a scheduler.
func NewServer(scheduler *Scheduler) *Server {
	s := &Server{scheduler: scheduler}

	r := chi.NewRouter()
	r.Post("/runs/{kind}", s.handleSubmit)
	r.Get("/runs", s.handleListRuns)
	r.Get("/runs/{id}", s.handleStatus)
	r.Get("/runs/{id}/log", s.handleTailLog)
	r.Get("/runs/{id}/artifacts", s.handleArtifacts)
	r.Get("/env-check", s.handleEnvCheck)
	s.router = r
	return s
}

// ServeHTTP delegates to the chi router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// handleSubmit admits a new run. Responses: 202 with the run ID on
// admission, 409 when the concurrency bound is reached, 422 when required
// parameters for the chosen flow are missing.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	kind := FlowKind(chi.URLParam(r, "kind"))

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if req.Params == nil {
		req.Params = Params{}
	}
	opts := DefaultRunOptions()
	if req.Options != nil {
		opts = *req.Options
	}

	flow, err := BuildFlow(kind, req.Params, opts, s.scheduler.cfg)
	if err != nil {
		var valErr *ValidationError
		if errors.As(err, &valErr) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": valErr.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	runID, err := s.scheduler.Submit(flow, req.Params, opts)
	if err != nil {
		if errors.Is(err, ErrAdmissionRejected) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": runID,
		"status": string(RunRunning),
	})
}

// handleListRuns returns run summaries, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.scheduler.ListRuns()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []RunSummary{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleStatus returns the full run record projection.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.scheduler.Status(id)
	if err != nil {
		if errors.Is(err, ErrRunNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleTailLog returns log content from ?offset=N and the next offset, so
// a polling observer only receives the increment since its last read.
func (s *Server) handleTailLog(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	offset := int64(0)
	if v := r.URL.Query().Get("offset"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "offset must be a non-negative integer"})
			return
		}
		offset = parsed
	}

	data, newOffset, err := s.scheduler.ReadLog(id, offset)
	if err != nil {
		if errors.Is(err, ErrRunNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"content":    string(data),
		"new_offset": newOffset,
	})
}

// handleArtifacts lists the run's collected artifacts.
func (s *Server) handleArtifacts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.scheduler.Status(id); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}

	artifactsDir := filepath.Join(s.scheduler.Store().RunDir(id), "artifacts")
	entries, err := os.ReadDir(artifactsDir)
	if err != nil {
		writeJSON(w, http.StatusOK, []artifactEntry{})
		return
	}

	out := make([]artifactEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, artifactEntry{
			Name:     e.Name(),
			Size:     info.Size(),
			Modified: info.ModTime(),
			Dir:      e.IsDir(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleEnvCheck reports the environment preflight result for ?flow=kind.
func (s *Server) handleEnvCheck(w http.ResponseWriter, r *http.Request) {
	kind := FlowKind(r.URL.Query().Get("flow"))
	checks, err := EnvChecksForFlow(kind)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	result := RunPreflight(checks)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     result.OK(),
		"passed": result.Passed,
		"failed": result.Failed,
	})
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
