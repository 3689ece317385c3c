// Package httpapi mirrors job control over a small REST surface, for
// callers that cannot speak MCP.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nixpig/agentd/internal/job"
	"github.com/nixpig/agentd/internal/store"
	"github.com/nixpig/agentd/internal/target"
)

// Handler serves the REST API.
type Handler struct {
	store    *store.Store
	resolver *target.Resolver
	launcher *job.Launcher
	control  *job.Control
	logger   *slog.Logger
}

func New(
	st *store.Store,
	resolver *target.Resolver,
	launcher *job.Launcher,
	control *job.Control,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		store:    st,
		resolver: resolver,
		launcher: launcher,
		control:  control,
		logger:   logger,
	}
}

// Router builds the chi router for the API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Post("/", h.createJob)
		r.Get("/", h.listJobs)
		r.Get("/{token}", h.getJob)
		r.Get("/{token}/log", h.getLog)
		r.Delete("/{token}", h.stopJob)
	})

	return r
}

type createJobRequest struct {
	Cmd         string  `json:"cmd"`
	Target      string  `json:"target,omitempty"`
	TargetKey   string  `json:"target_key,omitempty"`
	WaitSeconds float64 `json:"wait_seconds,omitempty"`
}

type jobResponse struct {
	Token    string `json:"token"`
	State    string `json:"state"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Stopped  bool   `json:"stopped,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Cmd == "" {
		writeError(w, http.StatusBadRequest, "cmd is required")
		return
	}

	dest, err := h.resolver.Resolve(target.Request{
		Explicit: req.Target,
		Named:    req.TargetKey,
	})
	if err != nil {
		h.writeResolveError(w, err)
		return
	}

	opts := job.Options{}
	if req.WaitSeconds > 0 {
		opts.WaitBudget = time.Duration(req.WaitSeconds * float64(time.Second))
	}

	tok, err := h.launcher.Launch(r.Context(), req.Cmd, dest, opts)
	if err != nil {
		h.logger.Error("launch job", "err", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	status, err := h.control.Status(tok)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, toResponse(status))
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.control.All()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]jobResponse, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, toResponse(s))
	}

	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	status, err := h.control.Status(chi.URLParam(r, "token"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, toResponse(status))
}

func (h *Handler) getLog(w http.ResponseWriter, r *http.Request) {
	tail := 0
	if raw := r.URL.Query().Get("tail"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "tail must be a non-negative integer")
			return
		}
		tail = n
	}

	data, err := h.control.Logs(chi.URLParam(r, "token"), tail)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) stopJob(w http.ResponseWriter, r *http.Request) {
	tok := chi.URLParam(r, "token")

	if err := h.control.Stop(tok); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status, err := h.control.Status(tok)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, toResponse(status))
}

func (h *Handler) writeResolveError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, target.ErrUnknownTarget),
		errors.Is(err, target.ErrNoTarget),
		errors.Is(err, target.ErrOutsideTmux):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func toResponse(s job.Status) jobResponse {
	resp := jobResponse{
		Token:   s.Token,
		State:   s.State.String(),
		Stopped: s.Stopped,
	}

	if s.State == job.StateDone {
		code := s.ExitCode
		resp.ExitCode = &code
	}

	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
