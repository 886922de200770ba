// Package server exposes the job submission boundary: POST /jobs,
// GET /jobs/{id} and GET /health. Depends only on the queue Store interface.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/backport-service/internal/queue"
)

// submitRequest is the POST /jobs body.
type submitRequest struct {
	Repository   string `json:"repository"`
	TargetBranch string `json:"targetBranch"`
	FilterQuery  string `json:"prFilterQuery"`
	CallbackURL  string `json:"callbackUrl"`
}

// jobResponse is the GET /jobs/{id} body.
type jobResponse struct {
	JobID        string `json:"jobId"`
	Repository   string `json:"repository"`
	TargetBranch string `json:"targetBranch"`
	FilterQuery  string `json:"prFilterQuery"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
	CreatedAt    string `json:"createdAt"`
	UpdatedAt    string `json:"updatedAt"`
}

// Server serves the submission API over a queue Store.
type Server struct {
	queue queue.Store
	http  *http.Server
}

// NewServer returns an HTTP server that enqueues into and reads from q.
func NewServer(addr string, q queue.Store) *Server {
	mux := http.NewServeMux()
	srv := &Server{queue: q}
	mux.HandleFunc("/health", srv.handleHealth)
	mux.HandleFunc("/api/health", srv.handleHealth)
	mux.HandleFunc("/jobs", srv.handleSubmit)
	mux.HandleFunc("/jobs/", srv.handleGet)
	srv.http = &http.Server{Addr: addr, Handler: mux}
	return srv
}

// Start starts the HTTP server (blocking).
func (s *Server) Start() error {
	return s.http.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// handleHealth reports process liveness. It deliberately does not touch the
// queue store: a degraded store shows up as failed jobs, not a dead process.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		slog.Debug("health check method not allowed", "method", r.Method)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		slog.Debug("submit method not allowed", "method", r.Method)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid JSON body")
		return
	}
	if msg := validate(req); msg != "" {
		slog.Debug("submit rejected", "reason", msg)
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", msg)
		return
	}

	job, err := s.queue.Enqueue(r.Context(), queue.EnqueueParams{
		Repository:   req.Repository,
		TargetBranch: req.TargetBranch,
		FilterQuery:  req.FilterQuery,
		CallbackURL:  req.CallbackURL,
	})
	if err != nil {
		slog.Error("enqueue job", "repo", req.Repository, "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "could not enqueue job")
		return
	}
	slog.Info("job accepted", "job_id", job.ID, "repo", job.Repository, "branch", job.TargetBranch)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"jobId":  job.ID,
		"status": string(job.Status),
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/jobs/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no such job")
		return
	}
	job, err := s.queue.Get(r.Context(), id)
	if errors.Is(err, queue.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no such job")
		return
	}
	if err != nil {
		slog.Error("get job", "job_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "could not read job")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(jobResponse{
		JobID:        job.ID,
		Repository:   job.Repository,
		TargetBranch: job.TargetBranch,
		FilterQuery:  job.FilterQuery,
		Status:       string(job.Status),
		Error:        job.Error,
		CreatedAt:    job.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    job.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

// validate returns an empty string when req is acceptable.
func validate(req submitRequest) string {
	if req.Repository == "" {
		return "repository is required"
	}
	if !strings.Contains(req.Repository, "/") || strings.Count(req.Repository, "/") != 1 {
		return "repository must be in owner/name form"
	}
	if req.TargetBranch == "" {
		return "targetBranch is required"
	}
	if req.FilterQuery == "" {
		return "prFilterQuery is required"
	}
	if req.CallbackURL != "" &&
		!strings.HasPrefix(req.CallbackURL, "http://") &&
		!strings.HasPrefix(req.CallbackURL, "https://") {
		return "callbackUrl must be an http(s) URL"
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
