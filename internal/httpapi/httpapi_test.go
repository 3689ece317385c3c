package httpapi_test

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nixpig/agentd/internal/httpapi"
	"github.com/nixpig/agentd/internal/job"
	"github.com/nixpig/agentd/internal/store"
	"github.com/nixpig/agentd/internal/target"
	"github.com/nixpig/agentd/internal/tmux"
)

type fakeRunner struct{}

func (f *fakeRunner) Run(args []string) ([]byte, error) {
	return nil, nil
}

func newTestAPI(t *testing.T) (http.Handler, *store.Store) {
	t.Helper()

	dir := t.TempDir()

	st, err := store.Open(dir, dir+"/logs")
	if err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	tm := tmux.NewClientWithRunner(&fakeRunner{})
	logger := slog.New(slog.DiscardHandler)

	resolver := target.NewResolver(tm, st, "cli")
	launcher := job.NewLauncher(st, tm, "agentd", "agentd", logger)
	notifier := job.NewNotifier(st, tm, logger)
	control := job.NewControl(st, tm, "agentd", notifier, logger)

	return httpapi.New(st, resolver, launcher, control, logger).Router(), st
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func TestCreateJob(t *testing.T) {
	t.Run("Test explicit target", func(t *testing.T) {
		h, st := newTestAPI(t)

		rec := doJSON(t, h, http.MethodPost, "/v1/jobs", `{"cmd":"sleep 5","target":"main:1.0"}`)
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201: got '%d' (%s)", rec.Code, rec.Body)
		}

		var resp struct {
			Token string `json:"token"`
			State string `json:"state"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}
		if resp.Token == "" || resp.State != "running" {
			t.Errorf("expected running job with token: got '%+v'", resp)
		}

		dest, err := st.Destination(resp.Token)
		if err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}
		if dest != "main:1.0" {
			t.Errorf("expected recorded destination: got '%s'", dest)
		}
	})

	t.Run("Test missing cmd", func(t *testing.T) {
		h, _ := newTestAPI(t)

		rec := doJSON(t, h, http.MethodPost, "/v1/jobs", `{"target":"main:1.0"}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400: got '%d'", rec.Code)
		}
	})

	t.Run("Test unknown target key", func(t *testing.T) {
		h, _ := newTestAPI(t)

		rec := doJSON(t, h, http.MethodPost, "/v1/jobs", `{"cmd":"true","target_key":"nope"}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400: got '%d'", rec.Code)
		}
	})

	t.Run("Test no resolvable destination", func(t *testing.T) {
		h, _ := newTestAPI(t)

		rec := doJSON(t, h, http.MethodPost, "/v1/jobs", `{"cmd":"true"}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400: got '%d'", rec.Code)
		}
	})
}

func TestGetJob(t *testing.T) {
	t.Run("Test done job", func(t *testing.T) {
		h, st := newTestAPI(t)

		if err := st.WriteExitStatus("tok-1", store.ExitStatus{Code: 7}); err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}

		rec := doJSON(t, h, http.MethodGet, "/v1/jobs/tok-1", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200: got '%d'", rec.Code)
		}

		var resp struct {
			State    string `json:"state"`
			ExitCode *int   `json:"exit_code"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}
		if resp.State != "done" || resp.ExitCode == nil || *resp.ExitCode != 7 {
			t.Errorf("expected done rc 7: got '%+v'", resp)
		}
	})

	t.Run("Test unknown token", func(t *testing.T) {
		h, _ := newTestAPI(t)

		rec := doJSON(t, h, http.MethodGet, "/v1/jobs/nope", "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404: got '%d'", rec.Code)
		}
	})
}

func TestListJobs(t *testing.T) {
	h, st := newTestAPI(t)

	if err := st.CreateLog("tok-1"); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}
	if err := st.WriteExitStatus("tok-2", store.ExitStatus{Code: 0}); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}

	rec := doJSON(t, h, http.MethodGet, "/v1/jobs", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200: got '%d'", rec.Code)
	}

	var resp []struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("expected not to receive error: got '%v'", err)
	}
	if len(resp) != 2 {
		t.Errorf("expected 2 jobs: got '%d'", len(resp))
	}
}

func TestGetLog(t *testing.T) {
	t.Run("Test tail", func(t *testing.T) {
		h, st := newTestAPI(t)

		if err := st.CreateLog("tok-1"); err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}

		rec := doJSON(t, h, http.MethodGet, "/v1/jobs/tok-1/log?tail=5", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200: got '%d'", rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
			t.Errorf("expected text/plain: got '%s'", ct)
		}
	})

	t.Run("Test invalid tail", func(t *testing.T) {
		h, _ := newTestAPI(t)

		rec := doJSON(t, h, http.MethodGet, "/v1/jobs/tok-1/log?tail=-1", "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400: got '%d'", rec.Code)
		}
	})

	t.Run("Test unknown token", func(t *testing.T) {
		h, _ := newTestAPI(t)

		rec := doJSON(t, h, http.MethodGet, "/v1/jobs/nope/log", "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404: got '%d'", rec.Code)
		}
	})
}

func TestStopJob(t *testing.T) {
	t.Run("Test stop running job", func(t *testing.T) {
		h, st := newTestAPI(t)

		if err := st.CreateLog("tok-1"); err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}

		rec := doJSON(t, h, http.MethodDelete, "/v1/jobs/tok-1", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200: got '%d' (%s)", rec.Code, rec.Body)
		}

		var resp struct {
			State   string `json:"state"`
			Stopped bool   `json:"stopped"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}
		if resp.State != "done" || !resp.Stopped {
			t.Errorf("expected stopped job: got '%+v'", resp)
		}
	})

	t.Run("Test unknown token", func(t *testing.T) {
		h, _ := newTestAPI(t)

		rec := doJSON(t, h, http.MethodDelete, "/v1/jobs/nope", "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404: got '%d'", rec.Code)
		}
	})
}
