package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/taskdeck/taskdeck/client"
	"github.com/taskdeck/taskdeck/task"
)

// fakeAPI is an in-memory store double.
type fakeAPI struct {
	mu       sync.Mutex
	agents   []task.Agent
	tasks    []*task.Task
	feed     []*task.Task
	feedErr  error
	executed int

	// listGate, when set, blocks the next ListTasks call until the channel
	// is closed. Consumed by exactly one call.
	listGate chan struct{}
}

func (f *fakeAPI) ListAgents(_ context.Context) ([]task.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]task.Agent{}, f.agents...), nil
}

func (f *fakeAPI) AgentMetrics(_ context.Context, agentID string) (*task.Metrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := &task.Metrics{StatusCounts: make(map[task.Status]int)}
	for _, t := range f.tasks {
		if t.AgentID == agentID {
			m.TotalTasks++
			m.StatusCounts[t.Status]++
		}
	}
	return m, nil
}

func (f *fakeAPI) ListTasks(_ context.Context, q client.TaskQuery) (*task.Page, error) {
	f.mu.Lock()
	gate := f.listGate
	f.listGate = nil
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	matched := []*task.Task{}
	for _, t := range f.tasks {
		if q.AgentID == "" || t.AgentID == q.AgentID {
			matched = append(matched, t)
		}
	}
	total := len(matched)
	if q.Offset >= total {
		return &task.Page{Tasks: []*task.Task{}, Total: total}, nil
	}
	end := q.Offset + q.Limit
	if q.Limit <= 0 || end > total {
		end = total
	}
	return &task.Page{Tasks: matched[q.Offset:end], Total: total}, nil
}

func (f *fakeAPI) ExecuteTask(_ context.Context, agentType, action string, input json.RawMessage) (*task.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed++
	for _, a := range f.agents {
		if a.Type == agentType {
			t := &task.Task{
				ID:        fmt.Sprintf("new-%d", f.executed),
				AgentID:   a.ID,
				Action:    action,
				Status:    task.StatusPending,
				Input:     input,
				CreatedAt: time.Now(),
			}
			f.tasks = append([]*task.Task{t}, f.tasks...)
			return t, nil
		}
	}
	return nil, &client.RequestError{StatusCode: 400, Message: "no agent of type " + agentType}
}

func (f *fakeAPI) Activity(_ context.Context, limit int) ([]*task.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.feedErr != nil {
		return nil, f.feedErr
	}
	feed := f.feed
	if limit > 0 && len(feed) > limit {
		feed = feed[:limit]
	}
	return append([]*task.Task{}, feed...), nil
}

func (f *fakeAPI) set(mutate func(*fakeAPI)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mutate(f)
}

func completedTask(id, agentID string, output string) *task.Task {
	now := time.Now()
	return &task.Task{
		ID:          id,
		AgentID:     agentID,
		Action:      "generate_outline",
		Status:      task.StatusCompleted,
		Output:      json.RawMessage(output),
		CreatedAt:   now.Add(-time.Minute),
		CompletedAt: &now,
	}
}

func startView(t *testing.T, api API, agentType string) *View {
	t.Helper()
	v := NewView(api, Options{
		AgentType:    agentType,
		PageSize:     10,
		PollInterval: time.Hour, // cycles driven manually via Refresh
	})
	v.Start()
	t.Cleanup(v.Stop)
	return v
}

func TestView_CompletedTaskProjectsEverywhere(t *testing.T) {
	t1 := completedTask("t1", "a1", `{"response":{"title":"X"}}`)
	api := &fakeAPI{
		agents: []task.Agent{{ID: "a1", Type: "blog", Name: "Blog"}},
		tasks:  []*task.Task{t1},
		feed:   []*task.Task{t1},
	}
	v := startView(t, api, "blog")

	waitFor(t, func() bool { return len(v.Conversations()) == 1 })

	convos := v.Conversations()
	if convos[0].Title != "X" {
		t.Errorf("conversation title = %q, want X", convos[0].Title)
	}
	entries := v.Entries()
	if len(entries) != 1 || entries[0].Bucket != BucketSuccess {
		t.Errorf("entries = %+v, want one success entry", entries)
	}
	if _, ok := v.Agent(); !ok {
		t.Error("agent scope not resolved")
	}
	if m := v.Metrics(); m == nil || m.TotalTasks != 1 {
		t.Errorf("metrics = %+v", m)
	}
	if got := v.Window(); got.Total != 1 || got.Page != 1 {
		t.Errorf("window = %+v", got)
	}
	if v.LastActivity().IsZero() {
		t.Error("last activity not derived")
	}
}

func TestView_EmptyStoreRendersEmptyViews(t *testing.T) {
	api := &fakeAPI{agents: []task.Agent{{ID: "a1", Type: "blog"}}}
	v := startView(t, api, "blog")

	waitFor(t, func() bool {
		_, ok := v.Agent()
		return ok
	})

	if n := len(v.Entries()); n != 0 {
		t.Errorf("entries = %d, want 0", n)
	}
	if n := len(v.Conversations()); n != 0 {
		t.Errorf("conversations = %d, want 0", n)
	}
	if n := len(v.Log()); n != 0 {
		t.Errorf("log lines = %d, want 0", n)
	}
	w := v.Window()
	if w.Total != 0 || w.TotalPages() != 1 {
		t.Errorf("window = %+v", w)
	}
	if !v.LastActivity().IsZero() {
		t.Error("last activity should be zero for an empty store")
	}
}

func TestView_SelectionClearedWhenRecordDisappears(t *testing.T) {
	t1 := completedTask("t1", "a1", `{"ok":true}`)
	api := &fakeAPI{
		agents: []task.Agent{{ID: "a1", Type: "blog"}},
		tasks:  []*task.Task{t1},
		feed:   []*task.Task{t1},
	}
	v := startView(t, api, "blog")
	waitFor(t, func() bool { return len(v.Entries()) == 1 })

	if !v.Select("t1") {
		t.Fatal("Select(t1) failed")
	}
	if _, ok := v.Selected(); !ok {
		t.Fatal("selection not visible")
	}

	// The next poll no longer contains t1.
	api.set(func(f *fakeAPI) {
		f.tasks = nil
		f.feed = nil
	})
	v.poller.Refresh()

	waitFor(t, func() bool {
		_, ok := v.Selected()
		return !ok
	})
}

func TestView_SelectionSurvivesRefreshWithFreshData(t *testing.T) {
	t1 := completedTask("t1", "a1", `{"response":{"title":"v1"}}`)
	api := &fakeAPI{
		agents: []task.Agent{{ID: "a1", Type: "blog"}},
		tasks:  []*task.Task{t1},
		feed:   []*task.Task{t1},
	}
	v := startView(t, api, "blog")
	waitFor(t, func() bool { return len(v.Entries()) == 1 })
	v.Select("t1")

	// Same identity, updated record on the next poll.
	t1b := completedTask("t1", "a1", `{"response":{"title":"v2"}}`)
	t1b.Error = ""
	api.set(func(f *fakeAPI) {
		f.tasks = []*task.Task{t1b}
		f.feed = []*task.Task{t1b}
	})
	v.poller.Refresh()

	waitFor(t, func() bool { return len(v.Conversations()) == 1 && v.Conversations()[0].Title == "v2" })
	if sel, ok := v.Selected(); !ok || sel.TaskID != "t1" {
		t.Errorf("selection lost across refresh: %+v ok=%v", sel, ok)
	}
}

func TestView_MissingScopeIsNotReadyThenResolves(t *testing.T) {
	api := &fakeAPI{} // no agents at all
	v := startView(t, api, "legal")

	// First cycle settles with no agent; submissions are refused with a
	// clear message and nothing crashes.
	waitFor(t, func() bool { return v.Window().PageSize == 10 })
	if _, ok := v.Agent(); ok {
		t.Fatal("agent resolved from empty roster")
	}
	if _, err := v.Submit(context.Background(), "review", nil); err == nil {
		t.Error("Submit succeeded without a resolved agent")
	}

	// A later poll finds the agent.
	api.set(func(f *fakeAPI) {
		f.agents = []task.Agent{{ID: "a9", Type: "legal", Name: "Legal"}}
	})
	v.poller.Refresh()
	waitFor(t, func() bool {
		_, ok := v.Agent()
		return ok
	})
}

func TestView_SubmitReloadsFirstPage(t *testing.T) {
	var tasks []*task.Task
	for i := 0; i < 25; i++ {
		tasks = append(tasks, &task.Task{
			ID:        fmt.Sprintf("t%d", i),
			AgentID:   "a1",
			Status:    task.StatusPending,
			CreatedAt: time.Now().Add(-time.Duration(i) * time.Minute),
		})
	}
	api := &fakeAPI{
		agents: []task.Agent{{ID: "a1", Type: "blog"}},
		tasks:  tasks,
	}
	v := startView(t, api, "blog")
	waitFor(t, func() bool { return v.Window().Total == 25 })

	if err := v.NextPage(context.Background()); err != nil {
		t.Fatalf("NextPage: %v", err)
	}
	if got := v.Window().Page; got != 2 {
		t.Fatalf("page = %d, want 2", got)
	}

	created, err := v.Submit(context.Background(), "publish", json.RawMessage(`{"post":"hello"}`))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if created.ID == "" {
		t.Error("no acknowledged record returned")
	}
	// Ack received, then an explicit page-1 reload makes the new task
	// visible; the record was not synthesized locally.
	w := v.Window()
	if w.Page != 1 {
		t.Errorf("page after submit = %d, want 1", w.Page)
	}
	if w.Total != 26 {
		t.Errorf("total after submit = %d, want 26", w.Total)
	}
	if w.Items[0].ID != created.ID {
		t.Errorf("first item = %s, want the created task %s", w.Items[0].ID, created.ID)
	}
}

func TestView_RefreshCommitPreservesNavigatedPage(t *testing.T) {
	var tasks []*task.Task
	for i := 0; i < 25; i++ {
		tasks = append(tasks, &task.Task{
			ID:        fmt.Sprintf("t%d", i),
			AgentID:   "a1",
			Status:    task.StatusPending,
			CreatedAt: time.Now().Add(-time.Duration(i) * time.Minute),
		})
	}
	api := &fakeAPI{
		agents: []task.Agent{{ID: "a1", Type: "blog"}},
		tasks:  tasks,
	}
	v := startView(t, api, "blog")
	waitFor(t, func() bool { return v.Window().Total == 25 })

	// Stall the next scheduled cycle inside its task-window fetch. The
	// feed is seeded first so the cycle's eventual commit is observable.
	gate := make(chan struct{})
	api.set(func(f *fakeAPI) {
		f.feed = []*task.Task{tasks[0]}
		f.listGate = gate
	})
	v.Refresh()
	waitFor(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return api.listGate == nil
	})

	// Navigate while that fetch is in flight.
	if err := v.NextPage(context.Background()); err != nil {
		t.Fatalf("NextPage: %v", err)
	}
	if got := v.Window().Page; got != 2 {
		t.Fatalf("page after NextPage = %d, want 2", got)
	}

	// Release the stalled cycle and let it commit.
	close(gate)
	waitFor(t, func() bool { return len(v.Log()) == 1 })

	w := v.Window()
	if w.Page != 2 {
		t.Errorf("page after refresh commit = %d, want 2", w.Page)
	}
	if len(w.Items) == 0 || w.Items[0].ID != "t10" {
		t.Errorf("window shows %+v, want page 2 items", w.Items)
	}
}

func TestView_SubmitRejectsMalformedInput(t *testing.T) {
	api := &fakeAPI{agents: []task.Agent{{ID: "a1", Type: "blog"}}}
	v := startView(t, api, "blog")
	waitFor(t, func() bool {
		_, ok := v.Agent()
		return ok
	})

	_, err := v.Submit(context.Background(), "publish", json.RawMessage(`{not json`))
	if err == nil {
		t.Fatal("malformed input accepted")
	}
	if api.executed != 0 {
		t.Error("malformed input was sent to the store")
	}
}

func TestView_FetchFailureKeepsSnapshot(t *testing.T) {
	t1 := completedTask("t1", "a1", `{"ok":true}`)
	api := &fakeAPI{
		agents: []task.Agent{{ID: "a1", Type: "blog"}},
		tasks:  []*task.Task{t1},
		feed:   []*task.Task{t1},
	}
	v := startView(t, api, "blog")
	waitFor(t, func() bool { return len(v.Entries()) == 1 })

	api.set(func(f *fakeAPI) {
		f.feedErr = fmt.Errorf("store down")
		f.feed = nil
	})
	v.poller.Refresh()
	time.Sleep(50 * time.Millisecond)

	// The failed cycle was abandoned whole; the stale-but-available
	// snapshot is still rendered.
	if n := len(v.Entries()); n != 1 {
		t.Errorf("entries after failed cycle = %d, want 1", n)
	}
}

func TestView_CategoryFilter(t *testing.T) {
	now := time.Now()
	feed := []*task.Task{
		{ID: "w1", AgentID: "a1", Action: "workflow_run", Status: task.StatusPending, CreatedAt: now},
		{ID: "t1", AgentID: "a1", Action: "generate_outline", Status: task.StatusPending, CreatedAt: now},
		{ID: "s1", Action: "retention_sweep", Status: task.StatusPending, CreatedAt: now},
	}
	api := &fakeAPI{agents: []task.Agent{{ID: "a1", Type: "blog"}}, feed: feed}
	v := startView(t, api, "blog")
	waitFor(t, func() bool { return len(v.Entries()) == 3 })

	v.SetFilter(CategoryWorkflows)
	got := v.Entries()
	if len(got) != 1 || got[0].TaskID != "w1" {
		t.Errorf("workflow filter = %+v", got)
	}

	v.SetFilter(CategorySystem)
	got = v.Entries()
	if len(got) != 1 || got[0].TaskID != "s1" {
		t.Errorf("system filter = %+v", got)
	}

	v.SetFilter(CategoryAll)
	if n := len(v.Entries()); n != 3 {
		t.Errorf("All filter = %d entries, want 3", n)
	}
}

func TestView_StopDiscardsInFlightCycle(t *testing.T) {
	t1 := completedTask("t1", "a1", `{"ok":true}`)
	api := &fakeAPI{
		agents: []task.Agent{{ID: "a1", Type: "blog"}},
		tasks:  []*task.Task{t1},
		feed:   []*task.Task{t1},
	}
	v := startView(t, api, "blog")
	waitFor(t, func() bool { return len(v.Entries()) == 1 })

	v.Stop()
	api.set(func(f *fakeAPI) { f.feed = nil })
	// Any cycle settling now must not be applied to released state.
	v.poller.Refresh()
	time.Sleep(50 * time.Millisecond)
	if n := len(v.Entries()); n != 1 {
		t.Errorf("state mutated after Stop: %d entries", n)
	}
}
