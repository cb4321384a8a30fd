package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "jobsys API",
		Version:     "v1",
		Description: "Dependency-aware job scheduler with channel-routed worker pools",
		Endpoints: []endpointInfo{
			{"/api/v1/jobs", []string{"GET", "POST"}, "List the job history or submit a job by type name"},
			{"/api/v1/jobs/{id}", []string{"GET"}, "History entry of one job (NEVER_SEEN for unknown IDs)"},
			{"/api/v1/jobs/{id}/output", []string{"GET"}, "Output of a completed or retired job"},
			{"/api/v1/jobs/{id}/retire", []string{"POST"}, "Block until the job completes, then retire it. Accepts ?timeout=30s"},
			{"/api/v1/jobs/retire", []string{"POST"}, "Retire every currently completed job"},
			{"/api/v1/types", []string{"GET"}, "Registered job types"},
			{"/api/v1/summary", []string{"GET"}, "Job counts per status and per-job table"},
			{"/api/v1/workers", []string{"GET", "POST"}, "List or start pool workers"},
			{"/api/v1/workers/{name}", []string{"DELETE"}, "Stop a worker after its current job"},
			{"/api/v1/workers/{name}/channels", []string{"PUT"}, "Change a worker's channel mask"},
			{"/api/v1/pipelines", []string{"POST"}, "Submit a YAML or JSON pipeline of named, dependent jobs"},
			{"/api/v1/results", []string{"GET"}, "Archived results of retired jobs (paginated, ?type= filter)"},
			{"/api/v1/results/{id}", []string{"GET"}, "Archived result of one retired job"},
			{"/api/v1/admin/log-level", []string{"GET", "PUT"}, "Read or change the daemon log level"},
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
			{"/metrics", []string{"GET"}, "Prometheus metrics"},
		},
	})
}
