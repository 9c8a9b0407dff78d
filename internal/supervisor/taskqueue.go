package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ingestcore/streamtask/internal/streamid"
)

// TaskSpec is what the supervisor hands to the task orchestrator to
// launch one replica of a TaskGroup.
type TaskSpec struct {
	TaskID                   string
	GroupID                  int
	DataSource               string
	StartOffsets             map[streamid.PartitionID]string
	EndOffsets               map[streamid.PartitionID]string
	ExclusiveStartPartitions []streamid.PartitionID
	MinimumMessageTime       time.Time
	MaximumMessageTime       time.Time
	Duration                 time.Duration
}

// TaskOrchestrator is the external collaborator that actually
// schedules a task process or container onto a worker. The Supervisor
// only needs to submit specs and shut tasks down by id.
type TaskOrchestrator interface {
	SubmitTask(ctx context.Context, spec TaskSpec) error
	ShutdownTask(ctx context.Context, taskID string) error
	ListTasks(ctx context.Context) ([]string, error)
}

// InMemoryOrchestrator is a TaskOrchestrator fake for tests: it
// records submissions and shutdowns without starting anything.
type InMemoryOrchestrator struct {
	mu        sync.Mutex
	submitted map[string]TaskSpec
	shutdown  map[string]struct{}
}

func NewInMemoryOrchestrator() *InMemoryOrchestrator {
	return &InMemoryOrchestrator{
		submitted: make(map[string]TaskSpec),
		shutdown:  make(map[string]struct{}),
	}
}

func (o *InMemoryOrchestrator) SubmitTask(ctx context.Context, spec TaskSpec) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.submitted[spec.TaskID]; ok {
		return fmt.Errorf("task %s already submitted", spec.TaskID)
	}
	o.submitted[spec.TaskID] = spec
	return nil
}

func (o *InMemoryOrchestrator) ShutdownTask(ctx context.Context, taskID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.shutdown[taskID] = struct{}{}
	return nil
}

func (o *InMemoryOrchestrator) ListTasks(ctx context.Context) ([]string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.submitted))
	for id := range o.submitted {
		if _, dead := o.shutdown[id]; dead {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

func (o *InMemoryOrchestrator) Spec(taskID string) (TaskSpec, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.submitted[taskID]
	return s, ok
}

func (o *InMemoryOrchestrator) IsShutdown(taskID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.shutdown[taskID]
	return ok
}
