package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/taskdeck/taskdeck/server/api"
	"github.com/taskdeck/taskdeck/task"
)

// --- Test doubles ---

type fakeStore struct {
	tasks map[string]*task.Task
	next  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: make(map[string]*task.Task)}
}

func (s *fakeStore) Create(t *task.Task) (string, error) {
	s.next++
	t.ID = fmt.Sprintf("task-%d", s.next)
	if t.Status == "" {
		t.Status = task.StatusPending
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	copy := *t
	s.tasks[t.ID] = &copy
	return t.ID, nil
}

func (s *fakeStore) Get(id string) (*task.Task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s not found", id)
	}
	copy := *t
	return &copy, nil
}

func (s *fakeStore) Update(t *task.Task) error {
	copy := *t
	s.tasks[t.ID] = &copy
	return nil
}

func (s *fakeStore) sorted(agentID string) []*task.Task {
	var result []*task.Task
	for _, t := range s.tasks {
		if agentID != "" && t.AgentID != agentID {
			continue
		}
		copy := *t
		result = append(result, &copy)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (s *fakeStore) List(f task.Filter) (*task.Page, error) {
	all := s.sorted(f.AgentID)
	total := len(all)
	if f.Offset > total {
		f.Offset = total
	}
	end := f.Offset + f.Limit
	if f.Limit == 0 || end > total {
		end = total
	}
	return &task.Page{Tasks: all[f.Offset:end], Total: total}, nil
}

func (s *fakeStore) Metrics(agentID string) (*task.Metrics, error) {
	m := &task.Metrics{StatusCounts: make(map[task.Status]int)}
	for _, t := range s.sorted(agentID) {
		m.TotalTasks++
		m.StatusCounts[t.Status]++
	}
	return m, nil
}

func (s *fakeStore) Activity(limit int) ([]*task.Task, error) {
	all := s.sorted("")
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *fakeStore) Delete(id string) error {
	delete(s.tasks, id)
	return nil
}

// --- Test helpers ---

func newHandlers(t *testing.T, agents ...task.Agent) (*fakeStore, *http.ServeMux) {
	t.Helper()
	store := newFakeStore()
	mux := http.NewServeMux()
	h := &api.Handlers{
		Agents:  api.NewRegistry(agents),
		Tasks:   store,
		Logger:  slog.Default(),
		Version: "test",
		StartAt: time.Now(),
	}
	h.RegisterRoutes(mux)
	return store, mux
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

// --- Tests ---

func TestListAgents(t *testing.T) {
	_, mux := newHandlers(t, task.Agent{ID: "a1", Type: "blog", Name: "Blog Writer"})
	rr := doJSON(t, mux, http.MethodGet, "/api/agents", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var agents []task.Agent
	if err := json.NewDecoder(rr.Body).Decode(&agents); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(agents) != 1 || agents[0].ID != "a1" {
		t.Errorf("agents = %+v", agents)
	}
}

func TestListAgents_EmptyIsArray(t *testing.T) {
	_, mux := newHandlers(t)
	rr := doJSON(t, mux, http.MethodGet, "/api/agents", "")

	if got := rr.Body.String(); got == "null\n" {
		t.Error("expected empty array, not null")
	}
}

func TestAgentMetrics(t *testing.T) {
	store, mux := newHandlers(t, task.Agent{ID: "a1", Type: "blog"})
	for _, st := range []task.Status{task.StatusCompleted, task.StatusCompleted, task.StatusFailed} {
		if _, err := store.Create(&task.Task{AgentID: "a1", Action: "write", Status: st}); err != nil {
			t.Fatal(err)
		}
	}

	rr := doJSON(t, mux, http.MethodGet, "/api/agents/a1/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var m task.Metrics
	if err := json.NewDecoder(rr.Body).Decode(&m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.TotalTasks != 3 || m.StatusCounts[task.StatusCompleted] != 2 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestAgentMetrics_UnknownAgent(t *testing.T) {
	_, mux := newHandlers(t)
	rr := doJSON(t, mux, http.MethodGet, "/api/agents/nope/metrics", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestListTasks_WindowAndTotal(t *testing.T) {
	store, mux := newHandlers(t, task.Agent{ID: "a1", Type: "blog"})
	for i := 0; i < 15; i++ {
		if _, err := store.Create(&task.Task{AgentID: "a1", Action: "write"}); err != nil {
			t.Fatal(err)
		}
	}

	rr := doJSON(t, mux, http.MethodGet, "/api/tasks?agent_id=a1&limit=10&offset=10", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var page task.Page
	if err := json.NewDecoder(rr.Body).Decode(&page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if page.Total != 15 || len(page.Tasks) != 5 {
		t.Errorf("page total %d items %d", page.Total, len(page.Tasks))
	}
}

func TestListTasks_LimitCapped(t *testing.T) {
	store, mux := newHandlers(t, task.Agent{ID: "a1", Type: "blog"})
	for i := 0; i < 120; i++ {
		if _, err := store.Create(&task.Task{AgentID: "a1", Action: "write"}); err != nil {
			t.Fatal(err)
		}
	}

	rr := doJSON(t, mux, http.MethodGet, "/api/tasks?limit=5000", "")
	var page task.Page
	if err := json.NewDecoder(rr.Body).Decode(&page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(page.Tasks) != 100 {
		t.Errorf("items = %d, want cap of 100", len(page.Tasks))
	}
}

func TestCreateTask(t *testing.T) {
	store, mux := newHandlers(t, task.Agent{ID: "a1", Type: "blog"})

	body := `{"agent_type":"blog","action":"generate_post","input":{"topic":"go"}}`
	rr := doJSON(t, mux, http.MethodPost, "/api/tasks", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var created task.Task
	if err := json.NewDecoder(rr.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" || created.AgentID != "a1" || created.Status != task.StatusPending {
		t.Errorf("created = %+v", created)
	}
	if _, err := store.Get(created.ID); err != nil {
		t.Errorf("task not persisted: %v", err)
	}
}

func TestCreateTask_UnknownAgentType(t *testing.T) {
	_, mux := newHandlers(t)

	rr := doJSON(t, mux, http.MethodPost, "/api/tasks", `{"agent_type":"blog","action":"go"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["error"] != "no agent of type blog" {
		t.Errorf("error = %q", resp["error"])
	}
}

func TestCreateTask_MissingAction(t *testing.T) {
	_, mux := newHandlers(t, task.Agent{ID: "a1", Type: "blog"})
	rr := doJSON(t, mux, http.MethodPost, "/api/tasks", `{"agent_type":"blog"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestGetTask_NotFound(t *testing.T) {
	_, mux := newHandlers(t)
	rr := doJSON(t, mux, http.MethodGet, "/api/tasks/nope", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestActivityFeed(t *testing.T) {
	store, mux := newHandlers(t, task.Agent{ID: "a1", Type: "blog"})
	for i := 0; i < 30; i++ {
		if _, err := store.Create(&task.Task{AgentID: "a1", Action: "write"}); err != nil {
			t.Fatal(err)
		}
	}

	rr := doJSON(t, mux, http.MethodGet, "/api/activity?limit=5", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var tasks []*task.Task
	if err := json.NewDecoder(rr.Body).Decode(&tasks); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tasks) != 5 {
		t.Errorf("len = %d, want 5", len(tasks))
	}
}

func TestStatusEndpoint(t *testing.T) {
	_, mux := newHandlers(t)
	rr := doJSON(t, mux, http.MethodGet, "/api/status", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "ok" || resp["version"] != "test" {
		t.Errorf("resp = %v", resp)
	}
}
