package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/me/jobsys/pkg/model"
)

// jobIDParam parses the {id} URL parameter, answering 400 itself on
// failure.
func jobIDParam(w http.ResponseWriter, r *http.Request, reqID string) (int, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.Atoi(raw)
	if err != nil || id < 0 {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("invalid job id",
				model.FieldError{Field: "id", Message: "must be a non-negative integer, got " + strconv.Quote(raw)}))
		return 0, false
	}
	return id, true
}

// handleSubmitJob creates a job by type name and submits it.
// POST /api/v1/jobs
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req model.JobRequest
	if !decodeBody(w, r, reqID, &req) {
		return
	}
	if req.Type == "" {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("missing required field",
				model.FieldError{Field: "type", Message: "type is required"}))
		return
	}

	id, err := s.sys.SubmitRequest(req)
	if err != nil {
		respondJobError(w, reqID, err)
		return
	}

	s.logger.Info("job submitted", "job_id", id, "type", req.Type)
	respondCreated(w, reqID, model.SubmitResponse{
		ID:     id,
		Type:   req.Type,
		Status: s.sys.Status(id),
	})
}

// handleListJobs returns the history table without outputs, optionally
// filtered by ?status= and ?type=.
// GET /api/v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var statusFilter *model.JobStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		st, err := model.ParseJobStatus(raw)
		if err != nil {
			respondError(w, reqID, http.StatusBadRequest,
				model.NewValidationError("invalid status filter",
					model.FieldError{Field: "status", Message: err.Error()}))
			return
		}
		statusFilter = &st
	}
	typeFilter := r.URL.Query().Get("type")

	jobs := make([]model.HistoryEntry, 0)
	for _, e := range s.sys.Summary().Jobs {
		if statusFilter != nil && e.Status != *statusFilter {
			continue
		}
		if typeFilter != "" && e.Type != typeFilter {
			continue
		}
		jobs = append(jobs, e)
	}
	respondOK(w, reqID, jobs)
}

// handleGetJob returns one history entry. Unknown IDs are not an error:
// they report NEVER_SEEN.
// GET /api/v1/jobs/{id}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id, ok := jobIDParam(w, r, reqID)
	if !ok {
		return
	}

	entry, found := s.sys.Entry(id)
	if !found {
		entry = model.HistoryEntry{ID: id, Status: model.JobStatusNeverSeen}
	}
	respondOK(w, reqID, entry)
}

// handleGetJobOutput returns the output of a completed or retired job.
// GET /api/v1/jobs/{id}/output
func (s *Server) handleGetJobOutput(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id, ok := jobIDParam(w, r, reqID)
	if !ok {
		return
	}

	out, found := s.sys.Output(id)
	if !found {
		respondError(w, reqID, http.StatusNotFound, &model.APIError{
			Code:    model.ErrNotFound,
			Message: "job " + strconv.Itoa(id) + " has no output (status " + s.sys.Status(id).String() + ")",
		})
		return
	}
	respondOK(w, reqID, out)
}

// handleRetireJob blocks until the job has completed, then retires it.
// POST /api/v1/jobs/{id}/retire?timeout=30s
func (s *Server) handleRetireJob(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id, ok := jobIDParam(w, r, reqID)
	if !ok {
		return
	}

	ctx := r.Context()
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			respondError(w, reqID, http.StatusBadRequest,
				model.NewValidationError("invalid timeout",
					model.FieldError{Field: "timeout", Message: "must be a positive duration such as 30s"}))
			return
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	if err := s.sys.RetireOne(ctx, id); err != nil {
		s.logger.Warn("retire failed", "job_id", id, "error", err)
		respondJobError(w, reqID, err)
		return
	}

	entry, _ := s.sys.Entry(id)
	respondOK(w, reqID, entry)
}

// handleRetireAll retires every job that is completed right now. Queued
// jobs depending on a retired job are never claimed afterwards.
// POST /api/v1/jobs/retire
func (s *Server) handleRetireAll(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	n := s.sys.RetireAll(r.Context())
	s.logger.Info("retired completed jobs", "count", n)
	respondOK(w, reqID, model.RetireAllResponse{Retired: n})
}

// handleListTypes returns the registered job type names.
// GET /api/v1/types
func (s *Server) handleListTypes(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, s.sys.Types())
}

// handleSummary returns status counts and the per-job table.
// GET /api/v1/summary
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, s.sys.Summary())
}
