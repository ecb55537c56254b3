package dashboard

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/taskdeck/taskdeck/task"
)

// The projection mappers are pure and total: every status and action value,
// known or not, maps to a well-formed view item. A record that fails a
// view's preconditions is excluded or defaulted, never an error.

// Bucket is the coarse outcome grouping shown in the activity log.
type Bucket string

const (
	BucketSuccess    Bucket = "success"
	BucketError      Bucket = "error"
	BucketProcessing Bucket = "processing"
)

// Severity classifies an activity entry for display emphasis.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

// Category tags an activity entry for client-side filtering.
type Category string

const (
	CategoryAll       Category = "All"
	CategoryTasks     Category = "Tasks"
	CategoryWorkflows Category = "Workflows"
	CategorySystem    Category = "System"
)

// unknownTimestamp is rendered when a record carries no creation time.
const unknownTimestamp = "Unknown"

// timestampLayout formats activity timestamps for display.
const timestampLayout = "2006-01-02 15:04:05"

// ActivityEntry is one row of the activity log view.
type ActivityEntry struct {
	TaskID    string
	Bucket    Bucket
	Severity  Severity
	Category  Category
	Message   string
	Timestamp string
	Input     string
	Output    string
	Raw       string
}

// ActivityFromTask projects a task record into an activity-log entry.
// agent may be nil when the owning agent is unknown.
func ActivityFromTask(t *task.Task, agent *task.Agent) ActivityEntry {
	e := ActivityEntry{
		TaskID:    t.ID,
		Category:  categorize(t),
		Timestamp: unknownTimestamp,
	}

	switch t.Status {
	case task.StatusFailed:
		e.Bucket = BucketError
		e.Severity = SeverityError
	case task.StatusCompleted:
		e.Bucket = BucketSuccess
		e.Severity = SeveritySuccess
	default:
		// pending, processing, and anything unrecognized
		e.Bucket = BucketProcessing
		e.Severity = SeverityInfo
	}

	action := t.Action
	if action == "" {
		action = "task"
	}
	owner := "agent"
	if agent != nil && agent.Name != "" {
		owner = agent.Name
	} else if t.AgentID != "" {
		owner = t.AgentID
	}
	switch t.Status {
	case task.StatusFailed:
		msg := t.Error
		if msg == "" {
			msg = "failed"
		}
		e.Message = fmt.Sprintf("%s: %s failed: %s", owner, action, msg)
	case task.StatusCompleted:
		e.Message = fmt.Sprintf("%s: %s completed", owner, action)
	default:
		e.Message = fmt.Sprintf("%s: %s %s", owner, action, statusLabel(t.Status))
	}

	if !t.CreatedAt.IsZero() {
		e.Timestamp = t.CreatedAt.Local().Format(timestampLayout)
	}
	e.Input = string(t.Input)
	e.Output = string(t.Output)
	if raw, err := json.Marshal(t); err == nil {
		e.Raw = string(raw)
	}
	return e
}

// statusLabel renders a status for humans, defaulting unknown values.
func statusLabel(s task.Status) string {
	if s == "" {
		return "in progress"
	}
	return string(s)
}

// categorize derives the filter category from the record. Workflow-style
// actions form their own group; records without an owning agent are system
// activity; everything else is a plain task.
func categorize(t *task.Task) Category {
	if len(t.Action) >= 8 && t.Action[:8] == "workflow" {
		return CategoryWorkflows
	}
	if t.AgentID == "" {
		return CategorySystem
	}
	return CategoryTasks
}

// MatchesCategory is the filter predicate applied after projection.
// CategoryAll is the identity filter.
func (e ActivityEntry) MatchesCategory(c Category) bool {
	return c == CategoryAll || c == "" || e.Category == c
}

// ConversationEntry is one card in the conversation transcript view.
type ConversationEntry struct {
	TaskID      string
	Action      string
	Title       string
	Body        string
	CompletedAt *time.Time
}

// ConversationFromTask extracts a conversation card from a task's output.
// A task only becomes a conversation once it has produced output, so ok is
// false for records without one. The response body may arrive flat or
// nested under a "response" key; the nested form wins when both exist.
func ConversationFromTask(t *task.Task) (ConversationEntry, bool) {
	if len(t.Output) == 0 {
		return ConversationEntry{}, false
	}
	e := ConversationEntry{
		TaskID:      t.ID,
		Action:      t.Action,
		CompletedAt: t.CompletedAt,
	}

	payload := normalizeResponse(t.Output)
	switch v := payload.(type) {
	case map[string]any:
		if s, ok := v["title"].(string); ok {
			e.Title = s
		}
		if s, ok := v["content"].(string); ok {
			e.Body = s
		} else if s, ok := v["text"].(string); ok {
			e.Body = s
		} else if e.Title == "" {
			// No recognizable fields; show the payload as-is.
			if b, err := json.Marshal(v); err == nil {
				e.Body = string(b)
			}
		}
	case string:
		e.Body = v
	default:
		e.Body = string(t.Output)
	}
	return e, true
}

// normalizeResponse decodes an output payload, unwrapping a nested
// "response" value when present. Undecodable output falls back to the raw
// string so the mapper stays total.
func normalizeResponse(output json.RawMessage) any {
	var decoded any
	if err := json.Unmarshal(output, &decoded); err != nil {
		return string(output)
	}
	if obj, ok := decoded.(map[string]any); ok {
		if nested, ok := obj["response"]; ok {
			return nested
		}
	}
	return decoded
}

// Conversations projects every task with output, preserving input order.
func Conversations(tasks []*task.Task) []ConversationEntry {
	entries := []ConversationEntry{}
	for _, t := range tasks {
		if e, ok := ConversationFromTask(t); ok {
			entries = append(entries, e)
		}
	}
	return entries
}

// LogEntry is one line of the recent-activity log panel.
type LogEntry struct {
	TaskID      string
	AgentID     string
	Action      string
	Status      task.Status
	Error       string // populated only for failed tasks
	CreatedAt   time.Time
	CompletedAt *time.Time // populated only for terminal tasks
}

// defaultLogLimit caps the log panel when the caller passes no limit.
const defaultLogLimit = 20

// LogEntries projects the most recent records into log-panel lines,
// newest first, regardless of output presence.
func LogEntries(tasks []*task.Task, limit int) []LogEntry {
	if limit <= 0 {
		limit = defaultLogLimit
	}
	sorted := make([]*task.Task, len(tasks))
	copy(sorted, tasks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].LastActivity().After(sorted[j].LastActivity())
	})
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}

	entries := make([]LogEntry, 0, len(sorted))
	for _, t := range sorted {
		e := LogEntry{
			TaskID:    t.ID,
			AgentID:   t.AgentID,
			Action:    t.Action,
			Status:    t.Status,
			CreatedAt: t.CreatedAt,
		}
		if t.Status == task.StatusFailed {
			e.Error = t.Error
		}
		if t.Status.Terminal() {
			e.CompletedAt = t.CompletedAt
		}
		entries = append(entries, e)
	}
	return entries
}

// LastActivity returns the most recent lifecycle timestamp across the
// given records: completion time when set, creation time otherwise. The
// zero time means no records are loaded.
func LastActivity(tasks []*task.Task) time.Time {
	var latest time.Time
	for _, t := range tasks {
		if ts := t.LastActivity(); ts.After(latest) {
			latest = ts
		}
	}
	return latest
}
