package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/taskdeck/taskdeck/client"
	"github.com/taskdeck/taskdeck/task"
)

// API is the subset of the store contract the dashboard consumes.
// *client.Client satisfies it.
type API interface {
	ListAgents(ctx context.Context) ([]task.Agent, error)
	AgentMetrics(ctx context.Context, agentID string) (*task.Metrics, error)
	ListTasks(ctx context.Context, q client.TaskQuery) (*task.Page, error)
	ExecuteTask(ctx context.Context, agentType, action string, input json.RawMessage) (*task.Task, error)
	Activity(ctx context.Context, limit int) ([]*task.Task, error)
}

// Options configures a View.
type Options struct {
	// AgentType scopes the task window to one agent, resolved by type on
	// every cycle. Empty means a global, unscoped window.
	AgentType string

	// PageSize is the task window size. Defaults to 10.
	PageSize int

	// PollInterval is the refresh cadence. Defaults to 5 seconds.
	PollInterval time.Duration

	// ActivityLimit caps the global activity feed. Defaults to 20.
	ActivityLimit int

	Logger *slog.Logger
}

// View owns one screen's synchronized state: the polled snapshot of the
// remote store plus client-local filter, selection, and pagination. A View
// is created per consuming screen and never shared; Start begins polling
// and Stop releases the schedule, discarding in-flight results.
type View struct {
	api    API
	logger *slog.Logger

	agentType     string
	pageSize      int
	activityLimit int

	poller *Poller
	tasks  *Collection

	mu           sync.RWMutex
	roster       []task.Agent
	agent        *task.Agent // resolved scope; nil = not ready
	scopeID      string
	metrics      *task.Metrics
	feed         []*task.Task
	entries      []ActivityEntry
	convos       []ConversationEntry
	logLines     []LogEntry
	filter       Category
	selectedID   string
	lastActivity time.Time
}

// NewView creates a stopped View. Call Start to begin polling.
func NewView(api API, opts Options) *View {
	if opts.PageSize <= 0 {
		opts.PageSize = 10
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.ActivityLimit <= 0 {
		opts.ActivityLimit = 20
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	v := &View{
		api:           api,
		logger:        opts.Logger,
		agentType:     opts.AgentType,
		pageSize:      opts.PageSize,
		activityLimit: opts.ActivityLimit,
		poller:        NewPoller(opts.PollInterval, opts.Logger),
		filter:        CategoryAll,
	}
	v.tasks = NewCollection(v.fetchPage, opts.PageSize)
	return v
}

// fetchPage is the Collection's fetcher. A scoped view whose agent has not
// resolved yet yields an empty window instead of querying globally.
func (v *View) fetchPage(ctx context.Context, limit, offset int) (*task.Page, error) {
	id := v.currentScopeID()
	if v.agentType != "" && id == "" {
		return &task.Page{Tasks: []*task.Task{}}, nil
	}
	return v.api.ListTasks(ctx, client.TaskQuery{AgentID: id, Limit: limit, Offset: offset})
}

func (v *View) currentScopeID() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.scopeID
}

// Start begins polling. Idempotent while running.
func (v *View) Start() {
	v.poller.Start(v.refresh)
}

// Stop tears the view down: the schedule is cancelled and any in-flight
// cycle's results are discarded rather than applied.
func (v *View) Stop() {
	v.poller.Stop()
}

// Refresh requests an out-of-schedule polling cycle.
func (v *View) Refresh() {
	v.poller.Refresh()
}

// cycle is one polling round's fetched state, committed as a unit.
type cycle struct {
	roster   []task.Agent
	agent    *task.Agent
	metrics  *task.Metrics
	window   *Window
	windowAt int // page the window fetch was anchored to; 0 when the scope changed
	feed     []*task.Task
}

// refresh runs one polling cycle: fetch everything, then swap the whole
// snapshot in at once. Any fetch failure abandons the cycle so the
// previous snapshot stays visible; the schedule itself never stops.
func (v *View) refresh(ctx context.Context, seq uint64) {
	cy, err := v.fetchCycle(ctx)
	if err != nil {
		if ctx.Err() == nil {
			v.logger.Error("refresh cycle failed", slog.Uint64("seq", seq), slog.Any("err", err))
		}
		return
	}
	if !v.poller.Commit(seq, func() { v.apply(cy) }) {
		v.logger.Debug("discarded stale cycle", slog.Uint64("seq", seq))
	}
}

func (v *View) fetchCycle(ctx context.Context) (*cycle, error) {
	cy := &cycle{}

	// Agent lookup and the activity feed are independent fetches.
	var wg sync.WaitGroup
	var rosterErr, feedErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		cy.roster, rosterErr = v.api.ListAgents(ctx)
	}()
	go func() {
		defer wg.Done()
		cy.feed, feedErr = v.api.Activity(ctx, v.activityLimit)
	}()
	wg.Wait()
	if rosterErr != nil {
		return nil, fmt.Errorf("list agents: %w", rosterErr)
	}
	if feedErr != nil {
		return nil, fmt.Errorf("activity feed: %w", feedErr)
	}

	if v.agentType != "" {
		for i := range cy.roster {
			if cy.roster[i].Type == v.agentType {
				cy.agent = &cy.roster[i]
				break
			}
		}
		if cy.agent == nil {
			// Scope not ready: dependent state is empty until a later
			// poll resolves the agent.
			cy.window = &Window{Items: []*task.Task{}, Page: 1, PageSize: v.pageSize}
			return cy, nil
		}
	}

	var metricsErr, winErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		if cy.agent == nil {
			return // global view has no per-agent metrics
		}
		cy.metrics, metricsErr = v.api.AgentMetrics(ctx, cy.agent.ID)
	}()
	go func() {
		defer wg.Done()
		cy.window, cy.windowAt, winErr = v.snapshotWindow(ctx, cy.agent)
	}()
	wg.Wait()
	if metricsErr != nil {
		return nil, fmt.Errorf("agent metrics: %w", metricsErr)
	}
	if winErr != nil {
		return nil, fmt.Errorf("task window: %w", winErr)
	}
	return cy, nil
}

// snapshotWindow fetches the task window for this cycle. A plain refresh
// is anchored to the page visible when the fetch starts; a scope identity
// change restarts at page 1 so the new scope's items are visible.
func (v *View) snapshotWindow(ctx context.Context, agent *task.Agent) (*Window, int, error) {
	if agent != nil && agent.ID != v.currentScopeID() {
		p, err := v.api.ListTasks(ctx, client.TaskQuery{AgentID: agent.ID, Limit: v.pageSize})
		if err != nil {
			return nil, 0, err
		}
		return &Window{Items: p.Tasks, Total: p.Total, Page: 1, PageSize: v.pageSize}, 0, nil
	}
	page := v.tasks.Window().Page
	w, err := v.tasks.SnapshotAt(ctx, page)
	return w, page, err
}

// apply installs a cycle's snapshot. Runs inside Poller.Commit.
func (v *View) apply(cy *cycle) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.roster = cy.roster
	v.agent = cy.agent
	if cy.agent != nil {
		v.scopeID = cy.agent.ID
	} else {
		v.scopeID = ""
	}
	v.metrics = cy.metrics
	v.feed = cy.feed
	// A window anchored to a page the operator has since navigated away
	// from is dropped; the live page stays and the next cycle re-anchors.
	if cy.windowAt == 0 {
		v.tasks.Apply(cy.window)
	} else {
		v.tasks.ApplyIfPage(cy.window, cy.windowAt)
	}
	v.reproject()
}

// reproject recomputes every derived view from the raw record caches and
// re-resolves the selection by identity. Callers hold v.mu.
func (v *View) reproject() {
	window := v.tasks.Window()

	v.entries = make([]ActivityEntry, 0, len(v.feed))
	for _, t := range v.feed {
		v.entries = append(v.entries, ActivityFromTask(t, v.agentByID(t.AgentID)))
	}
	v.convos = Conversations(window.Items)
	v.logLines = LogEntries(v.feed, v.activityLimit)

	all := make([]*task.Task, 0, len(v.feed)+len(window.Items))
	all = append(all, v.feed...)
	all = append(all, window.Items...)
	v.lastActivity = LastActivity(all)

	// A selection pointing at a record the new fetch no longer contains is
	// cleared, never left referencing stale data.
	if v.selectedID != "" {
		found := false
		for _, e := range v.entries {
			if e.TaskID == v.selectedID {
				found = true
				break
			}
		}
		if !found {
			v.selectedID = ""
		}
	}
}

// agentByID resolves an agent from the last-fetched roster. Callers hold
// v.mu (read or write).
func (v *View) agentByID(id string) *task.Agent {
	for i := range v.roster {
		if v.roster[i].ID == id {
			return &v.roster[i]
		}
	}
	return nil
}

// Agent returns the resolved scope agent. ok is false while the scope is
// not ready (no agent of the configured type has appeared yet).
func (v *View) Agent() (task.Agent, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.agent == nil {
		return task.Agent{}, false
	}
	return *v.agent, true
}

// Metrics returns the scope agent's latest metrics snapshot, or nil.
func (v *View) Metrics() *task.Metrics {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.metrics
}

// Entries returns the activity-log view, filtered by the current category.
func (v *View) Entries() []ActivityEntry {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := []ActivityEntry{}
	for _, e := range v.entries {
		if e.MatchesCategory(v.filter) {
			out = append(out, e)
		}
	}
	return out
}

// Conversations returns the conversation transcript view for the current
// task window.
func (v *View) Conversations() []ConversationEntry {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]ConversationEntry{}, v.convos...)
}

// Log returns the recent-activity log panel.
func (v *View) Log() []LogEntry {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]LogEntry{}, v.logLines...)
}

// Window returns the current task collection window.
func (v *View) Window() Window {
	return v.tasks.Window()
}

// LastActivity returns the most recent lifecycle timestamp across every
// loaded record, or the zero time when nothing is loaded.
func (v *View) LastActivity() time.Time {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.lastActivity
}

// SetFilter switches the category filter applied to Entries.
func (v *View) SetFilter(c Category) {
	v.mu.Lock()
	v.filter = c
	v.mu.Unlock()
}

// Filter returns the active category filter.
func (v *View) Filter() Category {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.filter
}

// Select marks the entry with the given id as selected. It reports whether
// the id exists in the current activity view; selecting an unknown id is
// a no-op.
func (v *View) Select(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, e := range v.entries {
		if e.TaskID == id {
			v.selectedID = id
			return true
		}
	}
	return false
}

// ClearSelection drops the current selection.
func (v *View) ClearSelection() {
	v.mu.Lock()
	v.selectedID = ""
	v.mu.Unlock()
}

// Selected returns the currently selected entry, re-resolved against the
// latest fetch. ok is false when nothing is selected.
func (v *View) Selected() (ActivityEntry, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.selectedID == "" {
		return ActivityEntry{}, false
	}
	for _, e := range v.entries {
		if e.TaskID == v.selectedID {
			return e, true
		}
	}
	return ActivityEntry{}, false
}

// NextPage advances the task window one page; no-op at the last page.
func (v *View) NextPage(ctx context.Context) error {
	if err := v.tasks.Next(ctx); err != nil {
		return err
	}
	v.mu.Lock()
	v.reproject()
	v.mu.Unlock()
	return nil
}

// PreviousPage steps the task window back one page; no-op at page 1.
func (v *View) PreviousPage(ctx context.Context) error {
	if err := v.tasks.Previous(ctx); err != nil {
		return err
	}
	v.mu.Lock()
	v.reproject()
	v.mu.Unlock()
	return nil
}

// Submit sends a new task to the scope agent and, once the store has
// acknowledged it, reloads the window at page 1 so the created record is
// visible. The record is never inserted locally ahead of the server's
// canonical copy. The returned error always carries a human-readable
// message; the caller's input state should be preserved for retry.
func (v *View) Submit(ctx context.Context, action string, input json.RawMessage) (*task.Task, error) {
	if len(input) > 0 && !json.Valid(input) {
		return nil, fmt.Errorf("input payload is not valid JSON")
	}
	if v.agentType == "" {
		return nil, fmt.Errorf("view has no agent scope to submit to")
	}
	if _, ok := v.Agent(); !ok {
		return nil, fmt.Errorf("agent %q is not available yet", v.agentType)
	}

	created, err := v.api.ExecuteTask(ctx, v.agentType, action, input)
	if err != nil {
		return nil, err
	}

	if err := v.tasks.Reset(ctx); err != nil {
		v.logger.Error("reload after submit", slog.Any("err", err))
	} else {
		v.mu.Lock()
		v.reproject()
		v.mu.Unlock()
	}
	v.poller.Refresh()
	return created, nil
}
