package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/taskdeck/taskdeck/task"
)

const defaultDrainInterval = 500 * time.Millisecond

// Executor drains pending tasks from the store and runs them through their
// lifecycle. It stands in for real agent workers so the dashboard has live
// data to project.
type Executor struct {
	store    task.Store
	logger   *slog.Logger
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewExecutor creates an executor over the given store. A zero interval
// uses the default drain cadence.
func NewExecutor(store task.Store, interval time.Duration, logger *slog.Logger) *Executor {
	if interval <= 0 {
		interval = defaultDrainInterval
	}
	return &Executor{store: store, logger: logger, interval: interval}
}

// Start begins the drain loop. It is a no-op when already running.
func (e *Executor) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.loop(ctx)
}

// Stop halts the drain loop and waits for the current pass to finish.
func (e *Executor) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel = nil
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (e *Executor) loop(ctx context.Context) {
	defer close(e.done)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.drain(ctx)
		}
	}
}

// drain runs every pending task to a terminal state.
func (e *Executor) drain(ctx context.Context) {
	pending := task.StatusPending
	page, err := e.store.List(task.Filter{Status: &pending, Limit: 50})
	if err != nil {
		e.logger.Error("list pending tasks", slog.Any("err", err))
		return
	}
	for _, t := range page.Tasks {
		if ctx.Err() != nil {
			return
		}
		e.run(t)
	}
}

// run advances one task pending -> processing -> completed or failed.
func (e *Executor) run(t *task.Task) {
	t.Status = task.StatusProcessing
	if err := e.store.Update(t); err != nil {
		e.logger.Error("mark task processing", slog.String("task_id", t.ID), slog.Any("err", err))
		return
	}

	// Actions containing "fail" simulate a worker error.
	if strings.Contains(t.Action, "fail") {
		t.Status = task.StatusFailed
		t.Error = "simulated failure"
	} else {
		t.Status = task.StatusCompleted
		t.Output = simulatedOutput(t)
	}
	if err := e.store.Update(t); err != nil {
		e.logger.Error("complete task", slog.String("task_id", t.ID), slog.Any("err", err))
		return
	}
	e.logger.Info("task executed",
		slog.String("task_id", t.ID),
		slog.String("action", t.Action),
		slog.String("status", string(t.Status)))
}

// simulatedOutput builds a response payload in the shape real agents emit.
func simulatedOutput(t *task.Task) json.RawMessage {
	topic := "your request"
	var input map[string]any
	if len(t.Input) > 0 && json.Unmarshal(t.Input, &input) == nil {
		if s, ok := input["topic"].(string); ok && s != "" {
			topic = s
		}
	}
	out, _ := json.Marshal(map[string]any{
		"response": map[string]string{
			"title":   fmt.Sprintf("%s result", t.Action),
			"content": fmt.Sprintf("Simulated %s output for %s.", t.Action, topic),
		},
	})
	return out
}
