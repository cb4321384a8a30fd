package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/me/jobsys/internal/pipeline"
	"github.com/me/jobsys/pkg/model"
)

// handleSubmitPipeline parses a YAML (or JSON) pipeline document and
// submits its steps in dependency order.
// POST /api/v1/pipelines
func (s *Server) handleSubmitPipeline(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest, &model.APIError{
			Code:    model.ErrValidation,
			Message: "read body: " + err.Error(),
		})
		return
	}

	p, err := pipeline.Parse(data)
	if err != nil {
		var verr *pipeline.ValidationError
		if errors.As(err, &verr) {
			respondError(w, reqID, http.StatusBadRequest, model.NewValidationError(err.Error(), verr.Errors...))
			return
		}
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError(err.Error()))
		return
	}

	ids, err := pipeline.Submit(s.sys, p)
	if err != nil {
		// Steps submitted before the failure stay in the system.
		s.logger.Warn("pipeline partially submitted", "pipeline", p.Name, "submitted", len(ids), "error", err)
		respondJobError(w, reqID, err)
		return
	}

	s.logger.Info("pipeline submitted", "pipeline", p.Name, "jobs", len(ids))
	respondCreated(w, reqID, model.PipelineResponse{Name: p.Name, Jobs: ids})
}
