package behavior

import (
	"log/slog"
)

// AgentState is the default AgentData. Task data lives in a slice of slots
// indexed by decider level; traversal is depth-first so one slot per level is
// enough.
//
// An AgentState must only be used by one goroutine at a time.
type AgentState struct {
	blackboard *Blackboard
	level      int
	slots      []TaskData
	status     ExecutionStatus
	active     []Task
	logEnabled bool
	logger     *slog.Logger
}

var _ AgentData = (*AgentState)(nil)

// NewAgentState creates agent data around bb. A nil bb gets a fresh
// blackboard.
func NewAgentState(bb *Blackboard) *AgentState {
	if bb == nil {
		bb = NewBlackboard()
	}
	return &AgentState{
		blackboard: bb,
		logger:     slog.Default(),
	}
}

func (a *AgentState) Blackboard() *Blackboard { return a.blackboard }

func (a *AgentState) DeciderLevel() int { return a.level }

func (a *AgentState) SetDeciderLevel(level int) {
	if level < 0 {
		level = 0
	}
	a.level = level
}

func (a *AgentState) TaskData() TaskData {
	if a.level >= len(a.slots) {
		return nil
	}
	return a.slots[a.level]
}

// SetTaskData stores data at the current level. Setting nil clears the slot
// and trims empty slots off the top of the stack.
func (a *AgentState) SetTaskData(data TaskData) {
	if data == nil {
		if a.level < len(a.slots) {
			a.slots[a.level] = nil
			n := len(a.slots)
			for n > 0 && a.slots[n-1] == nil {
				n--
			}
			clear(a.slots[n:])
			a.slots = a.slots[:n]
		}
		return
	}
	for len(a.slots) <= a.level {
		a.slots = append(a.slots, nil)
	}
	a.slots[a.level] = data
}

// Depth is the number of slots currently held, including empty ones below
// the highest occupied level.
func (a *AgentState) Depth() int { return len(a.slots) }

func (a *AgentState) Status() ExecutionStatus { return a.status }

func (a *AgentState) SetStatus(status ExecutionStatus) { a.status = status }

func (a *AgentState) ActiveTasks() []Task { return a.active }

func (a *AgentState) SetActiveTasks(tasks []Task) { a.active = tasks }

func (a *AgentState) LogEnabled() bool { return a.logEnabled }

func (a *AgentState) SetLogEnabled(enabled bool) { a.logEnabled = enabled }

func (a *AgentState) Logger() *slog.Logger { return a.logger }

// SetLogger replaces the logger; nil restores slog.Default.
func (a *AgentState) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	a.logger = logger
}

// Reset drops all task data and returns the agent to the uninitialised
// status. Callers should deactivate the tree first.
func (a *AgentState) Reset() {
	clear(a.slots)
	a.slots = a.slots[:0]
	a.level = 0
	a.status = StatusNone
	a.active = nil
}
