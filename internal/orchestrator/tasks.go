package orchestrator

import (
	"sync"
	"time"

	"crewhq/internal/types"
)

// TaskState tracks one background crew run.
type TaskState string

const (
	TaskRunning TaskState = "/running"
	TaskDone    TaskState = "/done"
	TaskFailed  TaskState = "/failed"
)

// Task is the retrievable status of a backgrounded command. Result is
// set only when the coordinator actually ran; a task that died before
// producing one carries the failure in Error instead.
type Task struct {
	ID         string            `json:"id"`
	State      TaskState         `json:"state"`
	Result     *types.CrewResult `json:"result,omitempty"`
	Error      string            `json:"error,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at,omitempty"`
}

// TaskRegistry holds background task state for later lookup.
type TaskRegistry struct {
	mu    sync.Mutex
	tasks map[string]Task
}

// NewTaskRegistry creates an empty registry.
func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{tasks: make(map[string]Task)}
}

func (r *TaskRegistry) start(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[id] = Task{ID: id, State: TaskRunning, StartedAt: time.Now()}
}

func (r *TaskRegistry) finish(id string, result types.CrewResult) {
	state := TaskDone
	if result.Status == types.CrewFailed {
		state = TaskFailed
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	task := r.tasks[id]
	task.State = state
	task.Result = &result
	task.FinishedAt = time.Now()
	r.tasks[id] = task
}

// fail marks a task that never produced a crew result.
func (r *TaskRegistry) fail(id, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task := r.tasks[id]
	task.State = TaskFailed
	task.Error = message
	task.FinishedAt = time.Now()
	r.tasks[id] = task
}

// Get returns the task by correlation id.
func (r *TaskRegistry) Get(id string) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	return task, ok
}
