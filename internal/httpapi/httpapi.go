// Package httpapi is the HTTP JSON API of agentbox. Create and continue requests return
// as soon as the task is accepted, the runs continue in the background.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/slok/agentbox/internal/app/connectors"
	"github.com/slok/agentbox/internal/app/continuetask"
	"github.com/slok/agentbox/internal/app/createtask"
	"github.com/slok/agentbox/internal/app/taskfiles"
	"github.com/slok/agentbox/internal/app/tasklist"
	"github.com/slok/agentbox/internal/app/taskremove"
	"github.com/slok/agentbox/internal/app/taskrun"
	"github.com/slok/agentbox/internal/app/taskstatus"
	"github.com/slok/agentbox/internal/conventions"
	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/metrics"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/ratelimit"
	"github.com/slok/agentbox/internal/redact"
)

// Runner runs accepted tasks.
type Runner interface {
	RunNew(ctx context.Context, taskID string) error
	RunContinue(ctx context.Context, req taskrun.ContinueRequest) error
}

// QuotaPeeker reads the user quota without consuming it.
type QuotaPeeker interface {
	Peek(ctx context.Context, userID string) (ratelimit.Status, error)
}

// HandlerConfig is the configuration of the API handler.
type HandlerConfig struct {
	CreateTask   *createtask.Service
	ContinueTask *continuetask.Service
	TaskFiles    *taskfiles.Service
	TaskStatus   *taskstatus.Service
	TaskList     *tasklist.Service
	TaskRemove   *taskremove.Service
	Connectors   *connectors.Service
	Quota        QuotaPeeker
	Runner       Runner
	// RunContext is the parent context of the background task runs, defaults to background.
	RunContext context.Context
	// Gatherer serves /metrics when set (optional).
	Gatherer prometheus.Gatherer
	Metrics  metrics.Recorder
	Logger   log.Logger
}

func (c *HandlerConfig) defaults() error {
	switch {
	case c.CreateTask == nil:
		return fmt.Errorf("create task service is required")
	case c.ContinueTask == nil:
		return fmt.Errorf("continue task service is required")
	case c.TaskFiles == nil:
		return fmt.Errorf("task files service is required")
	case c.TaskStatus == nil:
		return fmt.Errorf("task status service is required")
	case c.TaskList == nil:
		return fmt.Errorf("task list service is required")
	case c.TaskRemove == nil:
		return fmt.Errorf("task remove service is required")
	case c.Connectors == nil:
		return fmt.Errorf("connectors service is required")
	case c.Quota == nil:
		return fmt.Errorf("quota is required")
	case c.Runner == nil:
		return fmt.Errorf("runner is required")
	}
	if c.RunContext == nil {
		c.RunContext = context.Background()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Noop
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "httpapi.Handler"})
	return nil
}

// Handler is the API http.Handler.
type Handler struct {
	createTask   *createtask.Service
	continueTask *continuetask.Service
	taskFiles    *taskfiles.Service
	taskStatus   *taskstatus.Service
	taskList     *tasklist.Service
	taskRemove   *taskremove.Service
	connectors   *connectors.Service
	quota        QuotaPeeker
	runner       Runner
	runCtx       context.Context
	metrics      metrics.Recorder
	logger       log.Logger

	mux  *http.ServeMux
	runs sync.WaitGroup
}

// NewHandler returns the API handler.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	h := &Handler{
		createTask:   cfg.CreateTask,
		continueTask: cfg.ContinueTask,
		taskFiles:    cfg.TaskFiles,
		taskStatus:   cfg.TaskStatus,
		taskList:     cfg.TaskList,
		taskRemove:   cfg.TaskRemove,
		connectors:   cfg.Connectors,
		quota:        cfg.Quota,
		runner:       cfg.Runner,
		runCtx:       cfg.RunContext,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		mux:          http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /api/tasks", h.withUser(h.handleCreateTask))
	h.mux.HandleFunc("GET /api/tasks", h.withUser(h.handleListTasks))
	h.mux.HandleFunc("GET /api/tasks/{id}", h.withUser(h.handleGetTask))
	h.mux.HandleFunc("DELETE /api/tasks/{id}", h.withUser(h.handleRemoveTask))
	h.mux.HandleFunc("POST /api/tasks/{id}/continue", h.withUser(h.handleContinueTask))
	h.mux.HandleFunc("GET /api/tasks/{id}/files", h.withUser(h.handleTaskFiles))
	h.mux.HandleFunc("GET /api/tasks/{id}/messages", h.withUser(h.handleTaskMessages))
	h.mux.HandleFunc("PUT /api/connectors", h.withUser(h.handlePutConnector))
	h.mux.HandleFunc("GET /api/connectors", h.withUser(h.handleListConnectors))
	h.mux.HandleFunc("DELETE /api/connectors/{name}", h.withUser(h.handleDeleteConnector))
	h.mux.HandleFunc("GET /api/quota", h.withUser(h.handleQuota))
	h.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		h.mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	return h, nil
}

// ServeHTTP satisfies http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
	h.mux.ServeHTTP(rw, r)
	h.logger.Debugf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start).Round(time.Millisecond))
}

// Wait blocks until the background task runs end.
func (h *Handler) Wait() { h.runs.Wait() }

func (h *Handler) goRun(taskID string, fn func(ctx context.Context) error) {
	h.runs.Add(1)
	go func() {
		defer h.runs.Done()
		if err := fn(h.runCtx); err != nil {
			h.logger.WithValues(log.Kv{"task-id": taskID}).Warningf("Task run failed: %s", redact.Error(err))
		}
	}()
}

type userHandlerFunc func(w http.ResponseWriter, r *http.Request, userID string)

func (h *Handler) withUser(fn userHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(conventions.UserIDHeader))
		if userID == "" {
			writeJSON(w, http.StatusUnauthorized, errorResp{Error: fmt.Sprintf("missing %s header", conventions.UserIDHeader)})
			return
		}
		fn(w, r, userID)
	}
}

func (h *Handler) handleCreateTask(w http.ResponseWriter, r *http.Request, userID string) {
	var req createTaskReq
	if !decodeBody(w, r, &req) {
		return
	}
	if req.MaxDuration < 0 {
		writeError(w, fmt.Errorf("max duration can't be negative: %w", model.ErrNotValid))
		return
	}

	resp, err := h.createTask.Create(r.Context(), createtask.Request{
		UserID:              userID,
		Prompt:              req.Prompt,
		RepoURL:             req.RepoURL,
		Agent:               model.AgentVariant(req.Agent),
		Model:               req.Model,
		BranchName:          req.BranchName,
		InstallDependencies: req.InstallDependencies,
		KeepAlive:           req.KeepAlive,
		MaxDuration:         time.Duration(req.MaxDuration) * time.Minute,
	})
	if errors.Is(err, model.ErrRateLimited) {
		h.metrics.IncRateLimited()
		writeJSON(w, http.StatusTooManyRequests, rateLimitedResp{
			Error:     redact.Error(err),
			Remaining: resp.Quota.Remaining,
			ResetAt:   resp.Quota.ResetAt,
		})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	taskID := resp.Task.ID
	h.goRun(taskID, func(ctx context.Context) error { return h.runner.RunNew(ctx, taskID) })
	writeJSON(w, http.StatusCreated, taskIDResp{TaskID: taskID})
}

func (h *Handler) handleContinueTask(w http.ResponseWriter, r *http.Request, userID string) {
	var req continueTaskReq
	if !decodeBody(w, r, &req) {
		return
	}

	t, err := h.continueTask.Prepare(r.Context(), continuetask.Request{
		UserID:      userID,
		TaskID:      r.PathValue("id"),
		Instruction: req.Instruction,
		Model:       req.Model,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	taskID := t.ID
	run := taskrun.ContinueRequest{TaskID: taskID, Instruction: req.Instruction, Model: req.Model}
	h.goRun(taskID, func(ctx context.Context) error { return h.runner.RunContinue(ctx, run) })
	writeJSON(w, http.StatusAccepted, taskIDResp{TaskID: taskID})
}

func (h *Handler) handleGetTask(w http.ResponseWriter, r *http.Request, userID string) {
	resp, err := h.taskStatus.Run(r.Context(), taskstatus.Request{UserID: userID, TaskID: r.PathValue("id")})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskJSON(resp.Task))
}

func (h *Handler) handleTaskMessages(w http.ResponseWriter, r *http.Request, userID string) {
	resp, err := h.taskStatus.Run(r.Context(), taskstatus.Request{UserID: userID, TaskID: r.PathValue("id"), WithMessages: true})
	if err != nil {
		writeError(w, err)
		return
	}

	msgs := make([]messageJSON, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		msgs = append(msgs, messageJSON{ID: m.ID, Role: string(m.Role), Content: m.Content, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (h *Handler) handleListTasks(w http.ResponseWriter, r *http.Request, userID string) {
	var statuses []model.TaskStatus
	if q := r.URL.Query().Get("status"); q != "" {
		for _, s := range strings.Split(q, ",") {
			statuses = append(statuses, model.TaskStatus(strings.TrimSpace(s)))
		}
	}

	tasks, err := h.taskList.Run(r.Context(), tasklist.Request{UserID: userID, StatusFilter: statuses})
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]taskJSON, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toTaskJSON(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": out})
}

func (h *Handler) handleRemoveTask(w http.ResponseWriter, r *http.Request, userID string) {
	if _, err := h.taskRemove.Run(r.Context(), taskremove.Request{UserID: userID, TaskID: r.PathValue("id")}); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleTaskFiles(w http.ResponseWriter, r *http.Request, userID string) {
	resp, err := h.taskFiles.Run(r.Context(), taskfiles.Request{
		UserID: userID,
		TaskID: r.PathValue("id"),
		Mode:   taskfiles.Mode(r.URL.Query().Get("mode")),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handlePutConnector(w http.ResponseWriter, r *http.Request, userID string) {
	var req putConnectorReq
	if !decodeBody(w, r, &req) {
		return
	}

	c, err := h.connectors.Put(r.Context(), connectors.PutRequest{
		UserID:  userID,
		Name:    req.Name,
		Type:    model.ConnectorType(req.Type),
		Command: req.Command,
		Args:    req.Args,
		URL:     req.URL,
		Secrets: model.ConnectorSecrets{Env: req.Env, Headers: req.Headers},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConnectorJSON(*c))
}

func (h *Handler) handleListConnectors(w http.ResponseWriter, r *http.Request, userID string) {
	cs, err := h.connectors.List(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]connectorJSON, 0, len(cs))
	for _, c := range cs {
		out = append(out, toConnectorJSON(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"connectors": out})
}

func (h *Handler) handleDeleteConnector(w http.ResponseWriter, r *http.Request, userID string) {
	if err := h.connectors.Delete(r.Context(), userID, r.PathValue("name")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleQuota(w http.ResponseWriter, r *http.Request, userID string) {
	st, err := h.quota.Peek(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quotaResp{Limit: st.Limit, Remaining: st.Remaining, ResetAt: st.ResetAt, Unlimited: st.Unlimited})
}

// statusFor maps the domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrNotValid), errors.Is(err, model.ErrMissingConfig):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, model.ErrSandboxGone):
		return http.StatusGone
	case errors.Is(err, model.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, model.ErrProvisionTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResp{Error: redact.Error(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeBody decodes a JSON body rejecting unknown fields, it returns false if an
// error was written to the response.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "failed to read request body"})
		return false
	}
	if len(body) == 0 {
		return true
	}

	d := json.NewDecoder(bytes.NewReader(body))
	d.DisallowUnknownFields()
	if err := d.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: fmt.Sprintf("invalid request body: %s", err)})
		return false
	}
	return true
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
