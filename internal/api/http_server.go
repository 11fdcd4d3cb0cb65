// Package api exposes the local task store and sync controls over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"tasksync/internal/config"
	"tasksync/internal/domain"
	"tasksync/internal/metrics"
	"tasksync/internal/models"
	"tasksync/internal/service"
	"tasksync/internal/syncer"

	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

type HTTPServer struct {
	cfg    config.APIConfig
	tasks  domain.TaskService
	runner domain.SyncRunner
	logger *zerolog.Logger
	server *http.Server
}

func NewHTTPServer(cfg config.APIConfig, tasks domain.TaskService, runner domain.SyncRunner, logger *zerolog.Logger) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	mux := http.NewServeMux()
	srv := &HTTPServer{cfg: cfg, tasks: tasks, runner: runner, logger: logger}

	mux.HandleFunc("/api/tasks", srv.handleTasks)
	mux.HandleFunc("/api/tasks/", srv.handleTask)
	mux.HandleFunc("/api/sync", srv.handleSync)
	mux.HandleFunc("/api/sync/status", srv.handleSyncStatus)
	mux.HandleFunc("/api/health", srv.handleHealth)

	handler := loggingMiddleware(logger, newRateLimiter(cfg.RateLimit).Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		// A sync run may take several batch timeouts.
		WriteTimeout: 5 * time.Minute,
	}

	return srv
}

// Handler returns the fully wrapped HTTP handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("http api listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		tasks, err := s.tasks.ListTasks(r.Context())
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		if tasks == nil {
			tasks = []models.Task{}
		}
		writeJSON(w, http.StatusOK, tasks)

	case http.MethodPost:
		var input models.TaskInput
		if !decodeBody(w, r, &input) {
			return
		}
		task, err := s.tasks.CreateTask(r.Context(), input)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, task)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleTask serves /api/tasks/{id} and /api/tasks/{id}/requeue.
func (s *HTTPServer) handleTask(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/tasks/"), "/")
	id, action, _ := strings.Cut(rest, "/")
	id = strings.TrimSpace(id)
	if id == "" {
		writeError(w, http.StatusBadRequest, "task id is required")
		return
	}

	switch {
	case action == "requeue" && r.Method == http.MethodPost:
		n, err := s.tasks.RequeueTask(r.Context(), id)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"task_id": id, "requeued_items": n})

	case action != "":
		writeError(w, http.StatusNotFound, "not found")

	case r.Method == http.MethodGet:
		task, err := s.tasks.GetTask(r.Context(), id)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, task)

	case r.Method == http.MethodPut:
		var patch models.TaskPatch
		if !decodeBody(w, r, &patch) {
			return
		}
		task, err := s.tasks.UpdateTask(r.Context(), id, patch)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, task)

	case r.Method == http.MethodDelete:
		if err := s.tasks.DeleteTask(r.Context(), id); err != nil {
			s.writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	result, err := s.runner.Run(r.Context())
	switch {
	case errors.Is(err, syncer.ErrOffline):
		writeError(w, http.StatusServiceUnavailable, "Server not reachable. Please try again later.")
		return
	case errors.Is(err, syncer.ErrSyncInProgress):
		writeError(w, http.StatusConflict, "sync already in progress")
		return
	case err != nil:
		s.logger.Error().Err(err).Msg("sync failed")
		resp := map[string]any{"error": "Failed to sync", "details": err.Error()}
		if result != nil {
			resp["errors"] = result.Errors
		}
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}

	message := "Sync completed successfully"
	if !result.Success {
		message = "Sync completed with errors"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      result.Success,
		"synced_items": result.SyncedItems,
		"failed_items": result.FailedItems,
		"errors":       result.Errors,
		"message":      message,
	})
}

func (s *HTTPServer) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	stats, err := s.tasks.QueueStats(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("queue stats failed")
		writeError(w, http.StatusInternalServerError, "Failed to get sync status")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"online":    s.runner.Online(r.Context()),
		"pending":   stats.Pending,
		"failed":    stats.Failed,
		"last_sync": stats.LastSyncedAt,
		"timestamp": time.Now().UTC(),
	})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "timestamp": time.Now().UTC()})
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, service.ErrTitleTooLong), errors.Is(err, models.ErrInvalidOperation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func loggingMiddleware(logger *zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := routeLabel(r.URL.Path)
		metrics.IncHTTP(route)
		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("dur", time.Since(start)).
			Msg("http")
	})
}

// routeLabel collapses task ids and unknown paths so metric labels stay bounded.
func routeLabel(path string) string {
	const prefix = "/api/tasks/"
	if !strings.HasPrefix(path, prefix) {
		switch path {
		case "/api/tasks", "/api/sync", "/api/sync/status", "/api/health":
			return path
		}
		return "other"
	}
	if strings.HasSuffix(strings.TrimSuffix(path, "/"), "/requeue") {
		return prefix + "{id}/requeue"
	}
	return prefix + "{id}"
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
