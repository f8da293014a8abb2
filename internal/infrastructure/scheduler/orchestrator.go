// Package scheduler runs ingestion work on a fixed worker pool with
// cancellation, progress tracking and per-document serialization.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/contextkb/knowledge-server/internal/core/domain"
	"github.com/contextkb/knowledge-server/internal/core/ports"
	"github.com/contextkb/knowledge-server/internal/observability/metrics"
)

const (
	defaultWorkers  = 3
	defaultCapacity = 256
)

type Options struct {
	Workers       int
	QueueCapacity int
	ServiceName   string
	Logger        *slog.Logger
	Metrics       *metrics.TaskMetrics
	Events        ports.EventPublisher
}

type execution struct {
	task   domain.Task
	work   ports.Work
	cancel context.CancelFunc
}

// Orchestrator implements ports.TaskOrchestrator. Tasks for the same
// document run strictly one at a time; tasks for different documents
// run on up to Workers goroutines. Finished tasks stay queryable for
// the lifetime of the process.
type Orchestrator struct {
	workers  int
	capacity int
	service  string
	logger   *slog.Logger
	metrics  *metrics.TaskMetrics
	events   ports.EventPublisher

	mu       sync.Mutex
	closed   bool
	tasks    map[string]*execution
	ready    []*execution
	waiting  map[string][]*execution
	active   map[string]bool
	inflight int

	tokens     chan struct{}
	wg         sync.WaitGroup
	baseCtx    context.Context
	baseCancel context.CancelFunc
}

func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = defaultCapacity
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		workers:    opts.Workers,
		capacity:   opts.QueueCapacity,
		service:    opts.ServiceName,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		events:     opts.Events,
		tasks:      make(map[string]*execution),
		waiting:    make(map[string][]*execution),
		active:     make(map[string]bool),
		tokens:     make(chan struct{}, opts.QueueCapacity),
		baseCtx:    ctx,
		baseCancel: cancel,
	}
	for i := 0; i < o.workers; i++ {
		o.wg.Add(1)
		go o.worker()
	}
	return o
}

func (o *Orchestrator) Submit(documentID string, work ports.Work) (string, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return "", domain.WrapError(domain.ErrTemporary, "task.submit", errors.New("scheduler is shut down"))
	}
	if o.inflight >= o.capacity {
		o.mu.Unlock()
		return "", domain.WrapError(domain.ErrCapacity, "task.submit",
			fmt.Errorf("task queue full (%d tasks)", o.capacity))
	}

	exec := &execution{
		task: domain.Task{
			ID:          uuid.NewString(),
			DocumentID:  documentID,
			Status:      domain.TaskQueued,
			CurrentStep: "queued",
		},
		work: work,
	}
	o.tasks[exec.task.ID] = exec
	o.inflight++
	if o.active[documentID] {
		o.waiting[documentID] = append(o.waiting[documentID], exec)
	} else {
		o.active[documentID] = true
		o.ready = append(o.ready, exec)
		o.tokens <- struct{}{}
	}
	snapshot := exec.task
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.TaskQueued()
	}
	o.publish(snapshot)
	return snapshot.ID, nil
}

func (o *Orchestrator) Status(taskID string) (domain.Task, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	exec, ok := o.tasks[taskID]
	if !ok {
		return domain.Task{}, domain.WrapError(domain.ErrNotFound, "task.status",
			fmt.Errorf("task %s", taskID))
	}
	return exec.task, nil
}

// Cancel is best effort. Queued tasks terminate immediately and never
// run; running tasks observe cancellation at their next stage boundary.
// Cancelling a finished task is a no-op.
func (o *Orchestrator) Cancel(taskID string) error {
	o.mu.Lock()
	exec, ok := o.tasks[taskID]
	if !ok {
		o.mu.Unlock()
		return domain.WrapError(domain.ErrNotFound, "task.cancel",
			fmt.Errorf("task %s", taskID))
	}
	if exec.task.Status.Terminal() {
		o.mu.Unlock()
		return nil
	}
	if exec.task.Status == domain.TaskRunning {
		cancel := exec.cancel
		o.mu.Unlock()
		cancel()
		return nil
	}

	now := time.Now().UTC()
	exec.task.Status = domain.TaskCancelled
	exec.task.CurrentStep = "cancelled before start"
	exec.task.CompletedAt = &now
	o.inflight--
	snapshot := exec.task
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.TaskDropped(o.service, string(domain.TaskCancelled))
	}
	o.publish(snapshot)
	return nil
}

// Shutdown stops accepting tasks and waits for running work to finish.
// When ctx expires first, in-flight tasks are cancelled and the wait
// continues until workers exit.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	close(o.tokens)
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		o.baseCancel()
		<-done
	}
	o.baseCancel()
	return nil
}

func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for range o.tokens {
		o.runNext()
	}
}

func (o *Orchestrator) runNext() {
	o.mu.Lock()
	if len(o.ready) == 0 {
		o.mu.Unlock()
		return
	}
	exec := o.ready[0]
	o.ready = o.ready[1:]
	if exec.task.Status.Terminal() {
		o.promoteLocked(exec.task.DocumentID)
		o.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(o.baseCtx)
	exec.cancel = cancel
	exec.task.Status = domain.TaskRunning
	exec.task.CurrentStep = "starting"
	// run time starts here, not at submission, so queue wait never
	// inflates the reported duration
	exec.task.StartedAt = time.Now().UTC()
	snapshot := exec.task
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.TaskStarted()
	}
	o.publish(snapshot)
	o.logger.Info("task started", "task_id", snapshot.ID, "document_id", snapshot.DocumentID)

	err := o.invoke(ctx, exec)
	cancel()

	now := time.Now().UTC()
	o.mu.Lock()
	switch {
	case err == nil:
		exec.task.Status = domain.TaskCompleted
		if exec.task.Progress < 1 {
			exec.task.Progress = 1
		}
	case errors.Is(err, context.Canceled):
		exec.task.Status = domain.TaskCancelled
	default:
		exec.task.Status = domain.TaskFailed
		exec.task.Error = err.Error()
	}
	exec.task.CompletedAt = &now
	o.inflight--
	duration := now.Sub(exec.task.StartedAt)
	snapshot = exec.task
	o.promoteLocked(exec.task.DocumentID)
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.TaskFinished(o.service, string(snapshot.Status), duration)
	}
	o.publish(snapshot)
	if snapshot.Status == domain.TaskFailed {
		o.logger.Error("task failed", "task_id", snapshot.ID, "document_id", snapshot.DocumentID, "error", snapshot.Error)
	} else {
		o.logger.Info("task finished", "task_id", snapshot.ID, "document_id", snapshot.DocumentID, "status", snapshot.Status)
	}
}

// promoteLocked releases the next waiting task for a document, skipping
// any that were cancelled while waiting. Callers hold o.mu.
func (o *Orchestrator) promoteLocked(documentID string) {
	queue := o.waiting[documentID]
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if next.task.Status.Terminal() {
			continue
		}
		if len(queue) == 0 {
			delete(o.waiting, documentID)
		} else {
			o.waiting[documentID] = queue
		}
		o.ready = append(o.ready, next)
		if !o.closed {
			o.tokens <- struct{}{}
		}
		return
	}
	delete(o.waiting, documentID)
	delete(o.active, documentID)
}

func (o *Orchestrator) invoke(ctx context.Context, exec *execution) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return exec.work(ctx, &reporter{orchestrator: o, exec: exec})
}

func (o *Orchestrator) publish(task domain.Task) {
	if o.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := o.events.PublishTaskEvent(ctx, task); err != nil {
		o.logger.Warn("task event publish failed", "task_id", task.ID, "error", err)
	}
}

// reporter clamps progress to be monotonically non-decreasing so a
// retried stage can never make progress run backwards.
type reporter struct {
	orchestrator *Orchestrator
	exec         *execution
}

func (r *reporter) Step(fraction float64, label string) {
	r.orchestrator.mu.Lock()
	defer r.orchestrator.mu.Unlock()
	if r.exec.task.Status.Terminal() {
		return
	}
	if fraction > 1 {
		fraction = 1
	}
	if fraction > r.exec.task.Progress {
		r.exec.task.Progress = fraction
	}
	if label != "" {
		r.exec.task.CurrentStep = label
	}
}
