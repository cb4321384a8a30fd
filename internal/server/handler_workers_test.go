package server

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/me/jobsys/pkg/model"
)

func TestCreateWorker(t *testing.T) {
	te := newTestEnv(t)

	w, env := do(t, te.srv, "POST", "/api/v1/workers/", `{"name":"c1","channels":"compile|parse"}`)
	expectStatus(t, w, http.StatusCreated, "", env)
	var info model.WorkerInfo
	json.Unmarshal(env.Data, &info)
	if info.Name != "c1" || info.ChannelMask != model.ChannelCompile|model.ChannelParse {
		t.Errorf("worker = %+v", info)
	}

	w, env = do(t, te.srv, "POST", "/api/v1/workers/", `{"name":"c1","channels":"compile"}`)
	expectStatus(t, w, http.StatusConflict, model.ErrConflict, env)

	w, env = do(t, te.srv, "POST", "/api/v1/workers/", `{"channels":"bogus"}`)
	expectStatus(t, w, http.StatusBadRequest, model.ErrValidation, env)
}

func TestCreateWorker_GeneratedName(t *testing.T) {
	te := newTestEnv(t)

	w, env := do(t, te.srv, "POST", "/api/v1/workers/", `{"channels":"0x1"}`)
	expectStatus(t, w, http.StatusCreated, "", env)
	var info model.WorkerInfo
	json.Unmarshal(env.Data, &info)
	if info.Name == "" {
		t.Error("expected a generated worker name")
	}
}

func TestListWorkers(t *testing.T) {
	te := newTestEnv(t)
	for _, body := range []string{`{"name":"b","channels":"parse"}`, `{"name":"a","channels":"compile"}`} {
		w, env := do(t, te.srv, "POST", "/api/v1/workers/", body)
		expectStatus(t, w, http.StatusCreated, "", env)
	}

	var workers []model.WorkerInfo
	json.Unmarshal(doGet(t, te.srv, "/api/v1/workers/").Data, &workers)
	if len(workers) != 2 || workers[0].Name != "a" || workers[1].Name != "b" {
		t.Errorf("workers = %+v, want a and b sorted by name", workers)
	}
}

func TestSetWorkerChannels(t *testing.T) {
	te := newTestEnv(t)
	do(t, te.srv, "POST", "/api/v1/workers/", `{"name":"w","channels":"compile"}`)

	w, env := do(t, te.srv, "PUT", "/api/v1/workers/w/channels", `{"channels":"enrich"}`)
	expectStatus(t, w, http.StatusOK, "", env)
	var info model.WorkerInfo
	json.Unmarshal(env.Data, &info)
	if info.ChannelMask != model.ChannelEnrich {
		t.Errorf("mask = %v, want enrich", info.ChannelMask)
	}

	w, env = do(t, te.srv, "PUT", "/api/v1/workers/missing/channels", `{"channels":"enrich"}`)
	expectStatus(t, w, http.StatusNotFound, model.ErrNotFound, env)

	w, env = do(t, te.srv, "PUT", "/api/v1/workers/w/channels", `{"channels":""}`)
	expectStatus(t, w, http.StatusBadRequest, model.ErrValidation, env)
}

func TestRemoveWorker(t *testing.T) {
	te := newTestEnv(t)
	do(t, te.srv, "POST", "/api/v1/workers/", `{"name":"gone","channels":"all"}`)

	w, env := do(t, te.srv, "DELETE", "/api/v1/workers/gone", "")
	expectStatus(t, w, http.StatusOK, "", env)
	if n := len(te.sys.Workers()); n != 0 {
		t.Errorf("workers after delete = %d, want 0", n)
	}

	w, env = do(t, te.srv, "DELETE", "/api/v1/workers/gone", "")
	expectStatus(t, w, http.StatusNotFound, model.ErrNotFound, env)
}
