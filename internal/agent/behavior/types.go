package behavior

import (
	"fmt"
	"log/slog"
	"reflect"
)

// ExecutionStatus is the outcome of a task's last Activate or Update call.
type ExecutionStatus int

const (
	// StatusNone is the uninitialised sentinel. Tasks never return it.
	StatusNone ExecutionStatus = iota
	StatusRunning
	StatusSuccess
	StatusFailed
)

func (s ExecutionStatus) String() string {
	switch s {
	case StatusNone:
		return "NONE"
	case StatusRunning:
		return "RUNNING"
	case StatusSuccess:
		return "SUCCESS"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether s ends a task's run.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// TaskData is per-agent state owned by one task for one run, stored in the
// agent's slot for the task's decider level.
type TaskData interface{}

// DecisionData is scratch data produced by Decide and handed to the matching
// Activate call.
type DecisionData interface{}

// Task is a node of a behavior tree. Task values are shared by every agent
// running the tree; all mutable state lives in AgentData.
//
// Activate is called once before any Update, and Deactivate once after the
// task stops running. Deactivate on a task that holds no data at the current
// decider level is a no-op.
type Task interface {
	Decide(agent AgentData) (float64, DecisionData)
	Activate(agent AgentData, decision DecisionData) ExecutionStatus
	Update(agent AgentData) ExecutionStatus
	Deactivate(agent AgentData)
}

// AgentData is the execution context of one agent.
type AgentData interface {
	Blackboard() *Blackboard

	DeciderLevel() int
	SetDeciderLevel(level int)

	// TaskData returns the slot at the current decider level, nil if empty.
	TaskData() TaskData
	SetTaskData(data TaskData)

	Status() ExecutionStatus
	SetStatus(status ExecutionStatus)

	// ActiveTasks is the running chain last reported by the tree.
	ActiveTasks() []Task
	SetActiveTasks(tasks []Task)

	LogEnabled() bool
	Logger() *slog.Logger
}

// ActiveChildTask is implemented by tasks that can report which child is
// running for an agent. It is called at the task's own decider level.
type ActiveChildTask interface {
	ActiveChild(agent AgentData) Task
}

// TaskDataError reports a missing or mismatched task data slot.
type TaskDataError struct {
	Level int
	Want  string
	Got   TaskData
}

func (e *TaskDataError) Error() string {
	if e.Got == nil {
		return fmt.Sprintf("behavior: no task data at decider level %d (want %s)", e.Level, e.Want)
	}
	return fmt.Sprintf("behavior: task data at decider level %d is %T, want %s", e.Level, e.Got, e.Want)
}

// GetTaskData returns the current slot cast to T. It panics with a
// *TaskDataError if the slot is empty or holds another type, which means the
// task was never activated at this level for this agent.
func GetTaskData[T TaskData](agent AgentData) T {
	raw := agent.TaskData()
	data, ok := raw.(T)
	if !ok || raw == nil {
		panic(&TaskDataError{
			Level: agent.DeciderLevel(),
			Want:  reflect.TypeFor[T]().String(),
			Got:   raw,
		})
	}
	return data
}

// lookupTaskData is the non-panicking variant used by Deactivate and the
// active chain walk.
func lookupTaskData[T TaskData](agent AgentData) (T, bool) {
	data, ok := agent.TaskData().(T)
	return data, ok
}

// Describe names a task for logs and visualisation.
func Describe(t Task) string {
	if t == nil {
		return "<nil>"
	}
	if s, ok := t.(fmt.Stringer); ok {
		return s.String()
	}
	typ := reflect.TypeOf(t)
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	return typ.Name()
}

func named(name, kind string) string {
	if name != "" {
		return name
	}
	return kind
}
