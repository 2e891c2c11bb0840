package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/seantiz/factory-scheduler/internal/model"
)

const (
	testJobs      = `[{"id": "j1", "duration": 3}, {"id": "j2", "duration": 5}]`
	testScenarios = "name,population,elitism\nfast,10,true\nslow,200,false\n"
)

// postExperiment sends a multipart create request. Empty values are omitted.
func postExperiment(t *testing.T, url, name, jobs, scenarios string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if name != "" {
		if err := mw.WriteField(fieldName, name); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	for field, content := range map[string]string{fieldJobs: jobs, fieldScenarios: scenarios} {
		if content == "" {
			continue
		}
		fw, err := mw.CreateFormFile(field, field+".dat")
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		fw.Write([]byte(content))
	}
	mw.Close()

	resp, err := http.Post(url+"/v1/experiments", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("POST /v1/experiments: %v", err)
	}
	return resp
}

func TestCreateExperiment(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	resp := postExperiment(t, ts.URL, "trial1", testJobs, testScenarios)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	var view model.ExperimentView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Name != "trial1" {
		t.Errorf("name = %q, want trial1", view.Name)
	}
	if view.Status != model.StatusQueued {
		t.Errorf("status = %v, want QUEUED", view.Status)
	}
	if len(view.Scenarios) != 2 {
		t.Fatalf("scenarios = %d, want 2", len(view.Scenarios))
	}
	if got := view.Scenarios[0].Parameters["population"]; got != float64(10) {
		t.Errorf("population = %v, want 10", got)
	}
	if len(env.backend.Submitted()) != 2 {
		t.Errorf("submitted = %d, want 2", len(env.backend.Submitted()))
	}
	if !env.engine.Registry().Has("trial1") {
		t.Error("experiment not registered")
	}
}

func TestCreateExperimentGeneratesName(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	resp := postExperiment(t, ts.URL, "", testJobs, testScenarios)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var view model.ExperimentView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Name == "" {
		t.Error("expected a generated name")
	}
}

func TestCreateExperimentErrors(t *testing.T) {
	tests := []struct {
		name       string
		expName    string
		jobs       string
		scenarios  string
		wantStatus int
	}{
		{"missing jobs", "a", "", testScenarios, http.StatusBadRequest},
		{"missing scenarios", "a", testJobs, "", http.StatusBadRequest},
		{"no name column", "a", testJobs, "population\n10\n", http.StatusBadRequest},
		{"header only", "a", testJobs, "name,population\n", http.StatusBadRequest},
		{"unusable experiment name", "!!!", testJobs, testScenarios, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ts := httptest.NewServer(env.srv.Router())
			defer ts.Close()

			resp := postExperiment(t, ts.URL, tt.expName, tt.jobs, tt.scenarios)
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if n := len(env.backend.Submitted()); n != 0 {
				t.Errorf("submitted = %d, want 0", n)
			}
		})
	}
}

func TestCreateExperimentNotMultipart(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/experiments", "application/json", bytes.NewBufferString(`{}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCreateExperimentDuplicate(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	first := postExperiment(t, ts.URL, "trial1", testJobs, testScenarios)
	first.Body.Close()

	resp := postExperiment(t, ts.URL, "trial1", testJobs, testScenarios)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
	if n := len(env.backend.Submitted()); n != 2 {
		t.Errorf("submitted = %d, want 2", n)
	}
}

func TestListExperiments(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	for _, name := range []string{"alpha", "beta", "gamma"} {
		resp := postExperiment(t, ts.URL, name, testJobs, testScenarios)
		resp.Body.Close()
	}

	resp, err := http.Get(ts.URL + "/v1/experiments?limit=2&offset=1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var body listExperimentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 3 {
		t.Errorf("total = %d, want 3", body.Total)
	}
	if len(body.Experiments) != 2 {
		t.Fatalf("experiments = %d, want 2", len(body.Experiments))
	}
	if body.Experiments[0].Name != "beta" || body.Experiments[1].Name != "gamma" {
		t.Errorf("names = %q, %q, want beta, gamma", body.Experiments[0].Name, body.Experiments[1].Name)
	}
}

func TestListExperimentsEmpty(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/experiments?limit=1000")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var body listExperimentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Experiments == nil || len(body.Experiments) != 0 {
		t.Errorf("experiments = %v, want empty list", body.Experiments)
	}
	if body.Limit != maxListLimit {
		t.Errorf("limit = %d, want %d", body.Limit, maxListLimit)
	}
}

func TestGetAndDeleteExperiment(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	created := postExperiment(t, ts.URL, "trial1", testJobs, testScenarios)
	created.Body.Close()

	resp, err := http.Get(ts.URL + "/v1/experiments/trial1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET status = %d, want 200", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/experiments/trial1", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("DELETE status = %d, want 204", resp.StatusCode)
	}

	// Jobs stay on the backend after the experiment is forgotten.
	if n := len(env.backend.Submitted()); n != 2 {
		t.Errorf("submitted = %d, want 2", n)
	}

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		req, _ := http.NewRequest(method, ts.URL+"/v1/experiments/trial1", nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s: %v", method, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s after delete: status = %d, want 404", method, resp.StatusCode)
		}
	}
}
