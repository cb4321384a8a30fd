package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/me/jobsys/pkg/model"
)

// handleListWorkers returns every worker in the pool.
// GET /api/v1/workers
func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, s.sys.Workers())
}

// handleCreateWorker starts a new worker. An empty name is generated.
// POST /api/v1/workers
func (s *Server) handleCreateWorker(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req model.WorkerRequest
	if !decodeBody(w, r, reqID, &req) {
		return
	}
	mask, ok := parseMask(w, reqID, req.Channels)
	if !ok {
		return
	}

	name, err := s.sys.CreateWorker(req.Name, mask)
	if err != nil {
		respondJobError(w, reqID, err)
		return
	}

	s.logger.Info("worker created", "worker", name, "channels", mask)
	respondCreated(w, reqID, s.workerInfo(name, mask))
}

// handleRemoveWorker stops a worker once its current job has finished.
// DELETE /api/v1/workers/{name}
func (s *Server) handleRemoveWorker(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	name := chi.URLParam(r, "name")

	if err := s.sys.RemoveWorker(r.Context(), name); err != nil {
		respondJobError(w, reqID, err)
		return
	}

	s.logger.Info("worker removed", "worker", name)
	respondOK(w, reqID, map[string]any{
		"name":  name,
		"state": model.WorkerStateStopped,
	})
}

// handleSetWorkerChannels changes which channels a worker claims from.
// PUT /api/v1/workers/{name}/channels
func (s *Server) handleSetWorkerChannels(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	name := chi.URLParam(r, "name")

	var req model.WorkerRequest
	if !decodeBody(w, r, reqID, &req) {
		return
	}
	mask, ok := parseMask(w, reqID, req.Channels)
	if !ok {
		return
	}

	if err := s.sys.SetWorkerChannelMask(name, mask); err != nil {
		respondJobError(w, reqID, err)
		return
	}

	respondOK(w, reqID, s.workerInfo(name, mask))
}

func parseMask(w http.ResponseWriter, reqID, raw string) (model.ChannelMask, bool) {
	mask, err := model.ParseChannelMask(raw)
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("invalid channel mask",
				model.FieldError{Field: "channels", Message: err.Error()}))
		return 0, false
	}
	return mask, true
}

// workerInfo looks the worker up in the pool, falling back to the values
// just applied if it has already gone.
func (s *Server) workerInfo(name string, mask model.ChannelMask) model.WorkerInfo {
	for _, info := range s.sys.Workers() {
		if info.Name == name {
			return info
		}
	}
	return model.WorkerInfo{Name: name, ChannelMask: mask, State: model.WorkerStateStopped}
}
