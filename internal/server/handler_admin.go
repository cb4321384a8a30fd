package server

import (
	"net/http"

	"github.com/me/jobsys/internal/logging"
	"github.com/me/jobsys/pkg/model"
)

func (s *Server) requireLevelVar(w http.ResponseWriter, reqID string) bool {
	if s.level == nil {
		respondError(w, reqID, http.StatusServiceUnavailable, &model.APIError{
			Code:    model.ErrUnavailable,
			Message: "log level is fixed for this server",
		})
		return false
	}
	return true
}

// handleGetLogLevel reports the current log level.
// GET /api/v1/admin/log-level
func (s *Server) handleGetLogLevel(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if !s.requireLevelVar(w, reqID) {
		return
	}
	respondOK(w, reqID, model.LogLevelRequest{Level: logging.LevelName(s.level.Level())})
}

// handleSetLogLevel changes the log level of every component at once.
// PUT /api/v1/admin/log-level
func (s *Server) handleSetLogLevel(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if !s.requireLevelVar(w, reqID) {
		return
	}

	var req model.LogLevelRequest
	if !decodeBody(w, r, reqID, &req) {
		return
	}
	lvl, err := logging.ParseLevel(req.Level)
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("invalid log level",
				model.FieldError{Field: "level", Message: err.Error()}))
		return
	}

	s.level.Set(lvl)
	s.logger.Info("log level changed", "level", logging.LevelName(lvl))
	respondOK(w, reqID, model.LogLevelRequest{Level: logging.LevelName(lvl)})
}
