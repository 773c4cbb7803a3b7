// Package tasks implements the task-queue boundary: deferred work carries
// its submitter's serialized context set as an opaque payload, and the
// worker replays that payload around the handler so the deferred task
// observes the same logical environment as its submitter.
package tasks

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/ambitlabs/ambit/internal/ambient"
)

// Task is one unit of deferred work.
type Task struct {
	// ID is the task identifier, a UUIDv7 in production.
	ID string `json:"id"`

	// Handler names the registered handler that runs the task.
	Handler string `json:"handler"`

	// Args carries handler parameters.
	Args map[string]string `json:"args,omitempty"`

	// ContextPayload is the submitter's serialized context set. Opaque:
	// the queue and worker deliver it to the snapshot codec unchanged.
	ContextPayload []byte `json:"context_payload,omitempty"`
}

// HandlerFunc runs one task inside the replayed environment.
type HandlerFunc func(ctx context.Context, env *ambient.Env, task Task) error

// Submitter captures the caller's active contexts and enqueues tasks that
// carry them.
type Submitter struct {
	queue *Queue
	gen   IDGenerator
}

// NewSubmitter creates a submitter for the queue. A nil generator means
// UUIDv7 ids.
func NewSubmitter(queue *Queue, gen IDGenerator) *Submitter {
	if gen == nil {
		gen = UUIDv7Generator{}
	}
	return &Submitter{queue: queue, gen: gen}
}

// Submit captures the environment's active contexts, serializes them, and
// enqueues a task carrying the payload.
func (s *Submitter) Submit(env *ambient.Env, handler string, args map[string]string) (Task, error) {
	snapshot, err := ambient.CaptureActive(env)
	if err != nil {
		return Task{}, err
	}
	payload, err := snapshot.Serialize()
	if err != nil {
		return Task{}, fmt.Errorf("tasks: serialize context payload: %w", err)
	}
	task := Task{
		ID:             s.gen.Generate(),
		Handler:        handler,
		Args:           args,
		ContextPayload: payload,
	}
	if !s.queue.Enqueue(task) {
		return Task{}, fmt.Errorf("tasks: queue is closed")
	}
	return task, nil
}

// Worker dequeues tasks and runs their handlers inside a fresh execution
// environment with the submitter's contexts replayed.
type Worker struct {
	queue    *Queue
	handlers map[string]HandlerFunc
	logger   *log.Logger
}

// NewWorker creates a worker for the queue. A nil logger means the
// process default.
func NewWorker(queue *Queue, logger *log.Logger) *Worker {
	if logger == nil {
		logger = log.Default()
	}
	return &Worker{
		queue:    queue,
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
	}
}

// Register installs the handler for a name, replacing any previous one.
func (w *Worker) Register(name string, fn HandlerFunc) {
	w.handlers[name] = fn
}

// Run processes tasks until the queue closes and drains, or ctx is
// canceled. Handler failures are logged, not fatal: one bad task must not
// stop the worker. Cancellation is observed between tasks only; an
// in-flight handler finishes and unwinds through the normal exit path.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if task, ok := w.queue.TryDequeue(); ok {
			if err := w.runTask(ctx, task); err != nil {
				w.logger.Error("task failed", "task", task.ID, "handler", task.Handler, "err", err)
			}
			continue
		}
		if w.queue.Closed() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.queue.Wait():
		}
	}
}

// runTask replays the task's context payload in a fresh environment and
// runs the handler inside it.
func (w *Worker) runTask(ctx context.Context, task Task) error {
	handler, ok := w.handlers[task.Handler]
	if !ok {
		return fmt.Errorf("tasks: no handler registered for %q", task.Handler)
	}

	env := ambient.NewEnv()
	snapshot, err := ambient.Deserialize(task.ContextPayload)
	if err != nil {
		return fmt.Errorf("tasks: context payload for task %s: %w", task.ID, err)
	}
	if err := snapshot.Enter(env); err != nil {
		return err
	}

	handlerErr := handler(ctx, env, task)
	if exitErr := snapshot.Exit(); exitErr != nil {
		if handlerErr == nil {
			return exitErr
		}
		w.logger.Error("snapshot exit failed after handler error",
			"task", task.ID, "env", env.ID(), "err", exitErr)
	}
	return handlerErr
}
