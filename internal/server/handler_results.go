package server

import (
	"net/http"
	"strconv"

	"github.com/me/jobsys/internal/store"
	"github.com/me/jobsys/pkg/model"
)

func (s *Server) requireArchive(w http.ResponseWriter, reqID string) bool {
	if s.results == nil {
		respondError(w, reqID, http.StatusServiceUnavailable, &model.APIError{
			Code:    model.ErrUnavailable,
			Message: "result archive is disabled",
		})
		return false
	}
	return true
}

// handleListResults pages through archived results of this run.
// GET /api/v1/results?limit=&offset=&type=
func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if !s.requireArchive(w, reqID) {
		return
	}

	opts := parseListOptions(r)
	results, total, err := s.results.ListResults(r.Context(), opts)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	if results == nil {
		results = []*store.Result{}
	}
	respondList(w, reqID, results, model.NewPagination(total, opts))
}

// handleGetResult returns the archived record of one retired job.
// GET /api/v1/results/{id}
func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if !s.requireArchive(w, reqID) {
		return
	}
	id, ok := jobIDParam(w, r, reqID)
	if !ok {
		return
	}

	res, err := s.results.GetResult(r.Context(), id)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	if res == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("result", strconv.Itoa(id)))
		return
	}
	respondOK(w, reqID, res)
}
