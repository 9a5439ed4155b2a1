package behavior

import (
	"reflect"
)

// ActiveTasksObserver is told when the running chain of an agent changes.
type ActiveTasksObserver func(agent AgentData, active []Task)

// TreeOption configures a Tree.
type TreeOption func(*Tree)

// WithActiveTasksObserver registers fn to be called after every Update or
// Deactivate that changed the agent's running chain.
func WithActiveTasksObserver(fn ActiveTasksObserver) TreeOption {
	return func(t *Tree) {
		if fn != nil {
			t.observers = append(t.observers, fn)
		}
	}
}

// Tree drives a root task for any number of agents. It holds no per-agent
// state.
type Tree struct {
	Name      string
	root      Task
	observers []ActiveTasksObserver
}

func NewTree(root Task, opts ...TreeOption) *Tree {
	t := &Tree{root: root}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tree) Root() Task { return t.root }

// Update advances the tree one frame for agent. An agent that is not running
// the tree starts a new run: the root is decided and, when eligible,
// activated. A root that finishes is deactivated before Update returns, so
// the next call starts over.
func (t *Tree) Update(agent AgentData) ExecutionStatus {
	var status ExecutionStatus
	if agent.Status() != StatusRunning {
		agent.SetDeciderLevel(0)
		value, decision := t.root.Decide(agent)
		if value <= 0 {
			status = StatusFailed
		} else {
			status = t.root.Activate(agent, decision)
			logTransition(agent, t.root, "activate", status)
		}
	} else {
		agent.SetDeciderLevel(0)
		status = t.root.Update(agent)
	}
	if status != StatusRunning {
		agent.SetDeciderLevel(0)
		t.root.Deactivate(agent)
	}
	agent.SetStatus(status)
	t.refreshActive(agent)
	return status
}

// Deactivate stops a running tree for agent and resets its status.
func (t *Tree) Deactivate(agent AgentData) {
	if agent.Status() == StatusRunning {
		agent.SetDeciderLevel(0)
		t.root.Deactivate(agent)
	}
	agent.SetStatus(StatusNone)
	t.refreshActive(agent)
}

// ActiveTasks returns the running chain from the root down, following the
// active child of every task that reports one. Below a Parallel the chains of
// its running children follow one another in child order.
func (t *Tree) ActiveTasks(agent AgentData) []Task {
	if agent.Status() != StatusRunning {
		return nil
	}
	level := agent.DeciderLevel()
	defer agent.SetDeciderLevel(level)

	agent.SetDeciderLevel(0)
	return appendChain(nil, agent, t.root)
}

// appendChain walks down from task, which sits at agent's current decider
// level.
func appendChain(out []Task, agent AgentData, task Task) []Task {
	for task != nil {
		out = append(out, task)
		switch parent := task.(type) {
		case *Parallel:
			level := agent.DeciderLevel()
			for _, branch := range parent.runningBranches(agent) {
				agent.SetDeciderLevel(level + 1)
				out = appendChain(out, branch.agent, branch.task)
			}
			return out
		case ActiveChildTask:
			task = parent.ActiveChild(agent)
			agent.SetDeciderLevel(agent.DeciderLevel() + 1)
		default:
			return out
		}
	}
	return out
}

func (t *Tree) refreshActive(agent AgentData) {
	active := t.ActiveTasks(agent)
	if sameTasks(active, agent.ActiveTasks()) {
		return
	}
	agent.SetActiveTasks(active)
	if agent.LogEnabled() {
		agent.Logger().Debug("behavior: active tasks changed",
			"tree", t.String(),
			"active", DescribeAll(active))
	}
	for _, fn := range t.observers {
		fn(agent, active)
	}
}

// sameTasks compares two chains entry by entry. Tasks whose dynamic value
// cannot be compared with == count as changed.
func sameTasks(a, b []Task) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !sameTask(a[i], b[i]) {
			return false
		}
	}
	return true
}

func sameTask(a, b Task) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	if !reflect.ValueOf(a).Comparable() {
		return false
	}
	return a == b
}

func (t *Tree) String() string { return named(t.Name, "Tree") }

// DescribeAll names every task of a chain.
func DescribeAll(tasks []Task) []string {
	out := make([]string, len(tasks))
	for i, task := range tasks {
		out[i] = Describe(task)
	}
	return out
}
