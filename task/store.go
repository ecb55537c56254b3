package task

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id           TEXT PRIMARY KEY,
	agent_id     TEXT NOT NULL DEFAULT '',
	action       TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	priority     TEXT NOT NULL DEFAULT 'medium',
	input        TEXT NOT NULL DEFAULT '',
	output       TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL,
	completed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_tasks_agent ON tasks(agent_id, created_at);
`

// SQLiteStore persists tasks in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures
// the tasks table exists. The caller is responsible for calling Close.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Create persists a new task and sets its ID and CreatedAt. The status
// defaults to pending and the priority to medium when unset.
func (s *SQLiteStore) Create(t *Task) (string, error) {
	t.ID = uuid.NewString()
	t.CreatedAt = time.Now().UTC()
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}

	_, err := s.db.Exec(`
		INSERT INTO tasks
			(id, agent_id, action, status, priority, input, output, error, created_at, completed_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.AgentID, t.Action, string(t.Status), string(t.Priority),
		string(t.Input), string(t.Output), t.Error,
		t.CreatedAt, nullTime(t.CompletedAt),
	)
	if err != nil {
		return "", fmt.Errorf("insert task: %w", err)
	}
	return t.ID, nil
}

// Get retrieves a task by ID.
func (s *SQLiteStore) Get(id string) (*Task, error) {
	row := s.db.QueryRow(`SELECT * FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %s not found", id)
	}
	return t, err
}

// Update saves changes to an existing task. Status transitions are
// forward-only, and CompletedAt is stamped exactly once when the task
// reaches a terminal state.
func (s *SQLiteStore) Update(t *Task) error {
	cur, err := s.Get(t.ID)
	if err != nil {
		return err
	}
	if !cur.Status.CanTransition(t.Status) {
		return fmt.Errorf("task %s: invalid transition %s -> %s", t.ID, cur.Status, t.Status)
	}
	if t.Status.Terminal() && t.CompletedAt == nil {
		if cur.CompletedAt != nil {
			t.CompletedAt = cur.CompletedAt
		} else {
			now := time.Now().UTC()
			t.CompletedAt = &now
		}
	}

	res, err := s.db.Exec(`
		UPDATE tasks SET
			agent_id=?, action=?, status=?, priority=?, input=?, output=?, error=?, completed_at=?
		WHERE id=?`,
		t.AgentID, t.Action, string(t.Status), string(t.Priority),
		string(t.Input), string(t.Output), t.Error,
		nullTime(t.CompletedAt),
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("task %s not found", t.ID)
	}
	return nil
}

// List returns the window of tasks matching the filter and the total match
// count, newest first.
func (s *SQLiteStore) List(filter Filter) (*Page, error) {
	where := strings.Builder{}
	where.WriteString(" WHERE 1=1")
	args := []any{}

	if filter.AgentID != "" {
		where.WriteString(" AND agent_id=?")
		args = append(args, filter.AgentID)
	}
	if filter.Status != nil {
		where.WriteString(" AND status=?")
		args = append(args, string(*filter.Status))
	}

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM tasks"+where.String(), args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}

	q := strings.Builder{}
	q.WriteString("SELECT * FROM tasks")
	q.WriteString(where.String())
	q.WriteString(" ORDER BY created_at DESC, id")
	if filter.Limit > 0 {
		q.WriteString(fmt.Sprintf(" LIMIT %d", filter.Limit))
		if filter.Offset > 0 {
			q.WriteString(fmt.Sprintf(" OFFSET %d", filter.Offset))
		}
	}

	rows, err := s.db.Query(q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &Page{Tasks: tasks, Total: total}, nil
}

// Metrics returns per-status counts for one agent's tasks.
func (s *SQLiteStore) Metrics(agentID string) (*Metrics, error) {
	rows, err := s.db.Query(
		`SELECT status, COUNT(*) FROM tasks WHERE agent_id=? GROUP BY status`, agentID)
	if err != nil {
		return nil, fmt.Errorf("task metrics: %w", err)
	}
	defer rows.Close()

	m := &Metrics{StatusCounts: make(map[Status]int)}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		m.StatusCounts[Status(status)] = count
		m.TotalTasks += count
	}
	return m, rows.Err()
}

// Activity returns the most recently active tasks across all agents. A
// task's recency is its completion time when terminal, otherwise its
// creation time.
func (s *SQLiteStore) Activity(limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT * FROM tasks ORDER BY COALESCE(completed_at, created_at) DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	tasks := []*Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Delete removes a task by ID.
func (s *SQLiteStore) Delete(id string) error {
	res, err := s.db.Exec("DELETE FROM tasks WHERE id=?", id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("task %s not found", id)
	}
	return nil
}

// scanner abstracts sql.Row and sql.Rows for scanTask.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*Task, error) {
	var t Task
	var status, priority, input, output string
	var completedAt sql.NullTime

	err := s.Scan(
		&t.ID, &t.AgentID, &t.Action, &status, &priority,
		&input, &output, &t.Error,
		&t.CreatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = Status(status)
	t.Priority = Priority(priority)
	if input != "" {
		t.Input = []byte(input)
	}
	if output != "" {
		t.Output = []byte(output)
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
