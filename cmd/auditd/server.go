package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/kshitijatalathi-lab/kat-auditagent/internal/audit"
	"github.com/kshitijatalathi-lab/kat-auditagent/internal/config"
	"github.com/kshitijatalathi-lab/kat-auditagent/internal/jobs"
	"github.com/kshitijatalathi-lab/kat-auditagent/internal/llm"
	"github.com/kshitijatalathi-lab/kat-auditagent/internal/repositories"
	"github.com/kshitijatalathi-lab/kat-auditagent/internal/services"
)

type server struct {
	scheduler  *jobs.Scheduler
	router     *llm.Router
	checklists *services.ChecklistService
	clauses    repositories.ClauseRepository
	settings   config.Settings
	logger     *slog.Logger
}

func newServer(scheduler *jobs.Scheduler, router *llm.Router, checklists *services.ChecklistService, clauses repositories.ClauseRepository, settings config.Settings, logger *slog.Logger) *server {
	return &server{
		scheduler:  scheduler,
		router:     router,
		checklists: checklists,
		clauses:    clauses,
		settings:   settings,
		logger:     logger,
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /audit/frameworks", s.handleFrameworks)
	mux.HandleFunc("POST /audit/jobs", s.handleCreate)
	mux.HandleFunc("GET /audit/jobs", s.handleHistory)
	mux.HandleFunc("GET /audit/jobs/{id}", s.handleStatus)
	mux.HandleFunc("GET /audit/jobs/{id}/result", s.handleResult)
	mux.HandleFunc("GET /audit/jobs/{id}/stream", s.handleStream)
	mux.HandleFunc("POST /audit/jobs/{id}/cancel", s.handleCancel)
	mux.HandleFunc("POST /audit/jobs/{id}/rerun", s.handleRerun)
	mux.HandleFunc("GET /audit/jobs/{id}/artifacts", s.handleArtifacts)
	mux.HandleFunc("POST /generate", s.handleGenerate)
	mux.Handle("GET /reports/", http.StripPrefix("/reports/", http.FileServer(http.Dir(s.settings.ReportsDir))))
	return s.withRequestLog(mux)
}

// withRequestLog tags each request with an id and logs it on completion.
func (s *server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		w.Header().Set("X-Request-Id", reqID)
		next.ServeHTTP(w, r)
		s.logger.Debug("request", "id", reqID, "method", r.Method, "path", r.URL.Path)
	})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	count, err := s.clauses.Count()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "clauses_indexed": count})
}

func (s *server) handleFrameworks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"frameworks": s.checklists.ListFrameworks()})
}

func (s *server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var params audit.Params
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if params.Prefer != "" && params.Prefer != "auto" && !llm.KnownProvider(params.Prefer) {
		writeError(w, http.StatusBadRequest, "unknown provider preference: "+params.Prefer)
		return
	}
	jobID, err := s.scheduler.Create(params)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.scheduler.Status(r.PathValue("id"))
	if err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *server) handleResult(w http.ResponseWriter, r *http.Request) {
	res, err := s.scheduler.Result(r.PathValue("id"))
	if err != nil {
		writeJobError(w, err)
		return
	}
	if res == nil {
		writeError(w, http.StatusConflict, "job has not finished")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	frames, err := s.scheduler.Stream(r.Context(), r.PathValue("id"))
	if err != nil {
		writeJobError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for frame := range frames {
		if _, err := w.Write(frame); err != nil {
			return
		}
		flusher.Flush()
	}
}

func (s *server) handleCancel(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if err := s.scheduler.Cancel(jobID); err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": string(jobs.StatusCancelling)})
}

func (s *server) handleRerun(w http.ResponseWriter, r *http.Request) {
	newID, err := s.scheduler.Rerun(r.PathValue("id"))
	if err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": newID})
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	records, err := s.scheduler.Recent(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []jobs.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": records})
}

func (s *server) handleArtifacts(w http.ResponseWriter, r *http.Request) {
	path, err := s.scheduler.ArtifactBundle(r.PathValue("id"))
	if err != nil {
		writeJobError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	http.ServeFile(w, r, path)
}

type generateRequest struct {
	Prompt      string  `json:"prompt"`
	Prefer      string  `json:"prefer,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
}

func (s *server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	temp := req.Temperature
	if temp == 0 {
		temp = llm.DefaultTemperature
	}
	resp, err := s.router.Generate(r.Context(), req.Prompt, req.Prefer, temp)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if resp == nil {
		writeError(w, http.StatusServiceUnavailable, "no generation provider available")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJobError(w http.ResponseWriter, err error) {
	if errors.Is(err, jobs.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
