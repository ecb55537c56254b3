package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/taskdeck/taskdeck/task"
)

const (
	defaultPageLimit    = 10
	maxPageLimit        = 100
	defaultActivitySize = 20
	maxActivitySize     = 200
)

// Handlers bundles all REST API handler dependencies.
type Handlers struct {
	Agents  Directory
	Tasks   task.Store
	Logger  *slog.Logger
	Version string
	StartAt time.Time
}

// RegisterRoutes registers all API routes on the given mux.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/agents", h.listAgents)
	mux.HandleFunc("GET /api/agents/{id}", h.getAgent)
	mux.HandleFunc("GET /api/agents/{id}/metrics", h.agentMetrics)

	mux.HandleFunc("GET /api/tasks", h.listTasks)
	mux.HandleFunc("POST /api/tasks", h.createTask)
	mux.HandleFunc("GET /api/tasks/{id}", h.getTask)

	mux.HandleFunc("GET /api/activity", h.activity)

	mux.HandleFunc("GET /api/status", h.status)
	mux.HandleFunc("GET /api/version", h.version)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// queryInt parses an integer query parameter, falling back to def when the
// parameter is absent or malformed, and capping the result at max.
func queryInt(r *http.Request, key string, def, max int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	if max > 0 && n > max {
		return max
	}
	return n
}

// --- Agent handlers ---

func (h *Handlers) listAgents(w http.ResponseWriter, _ *http.Request) {
	agents := h.Agents.ListAgents()
	if agents == nil {
		agents = []task.Agent{}
	}
	writeJSON(w, http.StatusOK, agents)
}

func (h *Handlers) getAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	a, ok := h.Agents.GetAgent(id)
	if !ok {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handlers) agentMetrics(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := h.Agents.GetAgent(id); !ok {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	m, err := h.Tasks.Metrics(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// --- Task handlers ---

func (h *Handlers) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := task.Filter{
		AgentID: q.Get("agent_id"),
		Limit:   queryInt(r, "limit", defaultPageLimit, maxPageLimit),
		Offset:  queryInt(r, "offset", 0, 0),
	}
	if s := q.Get("status"); s != "" {
		st := task.Status(s)
		filter.Status = &st
	}

	page, err := h.Tasks.List(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if page.Tasks == nil {
		page.Tasks = []*task.Task{}
	}
	writeJSON(w, http.StatusOK, page)
}

// executeRequest is the task submission payload.
type executeRequest struct {
	AgentType string          `json:"agent_type"`
	Action    string          `json:"action"`
	Input     json.RawMessage `json:"input,omitempty"`
}

func (h *Handlers) createTask(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Action == "" {
		writeError(w, http.StatusBadRequest, "action is required")
		return
	}
	if len(req.Input) > 0 && !json.Valid(req.Input) {
		writeError(w, http.StatusBadRequest, "input must be valid JSON")
		return
	}
	agent, ok := h.Agents.AgentByType(req.AgentType)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("no agent of type %s", req.AgentType))
		return
	}

	t := &task.Task{
		AgentID: agent.ID,
		Action:  req.Action,
		Input:   req.Input,
	}
	id, err := h.Tasks.Create(t)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	t.ID = id
	h.Logger.Info("task submitted", "task_id", id, "agent", agent.Type, "action", req.Action)
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handlers) getTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	t, err := h.Tasks.Get(id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// --- Activity feed ---

func (h *Handlers) activity(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultActivitySize, maxActivitySize)
	tasks, err := h.Tasks.Activity(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// --- Status / version ---

func (h *Handlers) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.Version,
		"uptime":  time.Since(h.StartAt).Truncate(time.Second).String(),
	})
}

// StatusHandler returns the status handler function for external registration.
func (h *Handlers) StatusHandler() http.HandlerFunc {
	return h.status
}

func (h *Handlers) version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": h.Version,
	})
}
