package behavior

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSequence_FailureStopsLaterChildren(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name     string
		failAt   int
		children int
	}{
		{name: "first", failAt: 0, children: 3},
		{name: "middle", failAt: 1, children: 3},
		{name: "last", failAt: 2, children: 3},
		{name: "none", failAt: -1, children: 4},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			children := make([]*scriptedTask, tc.children)
			tasks := make([]Task, tc.children)
			for i := range children {
				children[i] = &scriptedTask{value: 1}
				if i == tc.failAt {
					children[i].activations = []ExecutionStatus{StatusFailed}
				}
				tasks[i] = children[i]
			}
			agent := NewAgentState(nil)
			status := NewTree(NewSequence(tasks...)).Update(agent)

			if tc.failAt < 0 {
				require.Equal(t, StatusSuccess, status)
				for _, c := range children {
					require.Equal(t, 1, c.activated)
				}
				return
			}
			require.Equal(t, StatusFailed, status)
			for i, c := range children {
				if i <= tc.failAt {
					require.Equal(t, 1, c.activated, "child %d", i)
				} else {
					require.Zero(t, c.activated, "child %d", i)
				}
			}
			require.Zero(t, agent.Depth())
		})
	}
}

func TestSequence_IneligibleChildFails(t *testing.T) {
	t.Parallel()

	later := &scriptedTask{value: 1}
	tree := NewTree(NewSequence(always(true), always(false), later))
	require.Equal(t, StatusFailed, tree.Update(NewAgentState(nil)))
	require.Zero(t, later.activated)
}

func TestSequence_ResumesRunningChild(t *testing.T) {
	t.Parallel()

	first := &scriptedTask{name: "first", value: 1, activations: []ExecutionStatus{StatusRunning}, updates: []ExecutionStatus{StatusRunning, StatusSuccess}}
	second := &scriptedTask{name: "second", value: 1, activations: []ExecutionStatus{StatusRunning}, updates: []ExecutionStatus{StatusFailed}}
	seq := NewSequence(first, second)
	tree := NewTree(seq)
	agent := NewAgentState(nil)

	require.Equal(t, StatusRunning, tree.Update(agent))
	require.Equal(t, []Task{seq, first}, tree.ActiveTasks(agent))
	require.Equal(t, StatusRunning, tree.Update(agent))
	// first succeeds and second starts in the same frame
	require.Equal(t, StatusRunning, tree.Update(agent))
	require.Equal(t, []Task{seq, second}, tree.ActiveTasks(agent))
	require.Equal(t, 1, first.released)
	require.Equal(t, StatusFailed, tree.Update(agent))
	require.Equal(t, 1, second.released)
	require.Zero(t, agent.Depth())
}

func TestSequence_Empty(t *testing.T) {
	t.Parallel()

	require.Equal(t, StatusSuccess, NewTree(NewSequence()).Update(NewAgentState(nil)))
}

func TestSelector_Policies(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name   string
		policy SelectionPolicy
		values []float64
		want   int
	}{
		{name: "first nonzero", policy: SelectFirst, values: []float64{0, 0.2, 0.9}, want: 1},
		{name: "first skips zero", policy: SelectFirst, values: []float64{0, 0, 1}, want: 2},
		{name: "highest", policy: SelectHighest, values: []float64{0.2, 0.9, 0.5}, want: 1},
		{name: "highest tie keeps earliest", policy: SelectHighest, values: []float64{0.1, 0.7, 0.7}, want: 1},
		{name: "all zero", policy: SelectFirst, values: []float64{0, 0, 0}, want: -1},
		{name: "all zero highest", policy: SelectHighest, values: []float64{0, 0}, want: -1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			children := make([]*scriptedTask, len(tc.values))
			sel := &Selector{Policy: tc.policy}
			for i, v := range tc.values {
				children[i] = &scriptedTask{value: v}
				sel.Children = append(sel.Children, children[i])
			}

			agent := NewAgentState(nil)
			value, decision := sel.Decide(agent)
			status := sel.Activate(agent, decision)
			if tc.want < 0 {
				require.Zero(t, value)
				require.Equal(t, StatusFailed, status)
			} else {
				require.Equal(t, tc.values[tc.want], value)
				require.Equal(t, StatusSuccess, status)
			}
			for i, c := range children {
				if i == tc.want {
					require.Equal(t, 1, c.activated)
				} else {
					require.Zero(t, c.activated, "child %d", i)
				}
			}
		})
	}
}

func TestSelector_DoesNotReselectWhileRunning(t *testing.T) {
	t.Parallel()

	bb := NewBlackboard()
	bb.SetValue("prefer_b", false)
	a := &Action{Name: "a", Decider: func(agent AgentData) float64 {
		if GetValue(agent.Blackboard(), "prefer_b", false) {
			return 0
		}
		return 1
	}, Tick: func(AgentData) ExecutionStatus { return StatusRunning }}
	b := &scriptedTask{name: "b", value: 1}
	sel := NewSelector(a, b)
	tree := NewTree(sel)
	agent := NewAgentState(bb)

	require.Equal(t, StatusRunning, tree.Update(agent))
	bb.SetValue("prefer_b", true)
	require.Equal(t, StatusRunning, tree.Update(agent))
	require.Equal(t, []Task{sel, a}, tree.ActiveTasks(agent))
	require.Zero(t, b.activated)
}

func TestSelector_ActivateWithoutDecision(t *testing.T) {
	t.Parallel()

	b := &scriptedTask{value: 1}
	sel := NewSelector(&scriptedTask{value: 0}, b)
	require.Equal(t, StatusSuccess, sel.Activate(NewAgentState(nil), nil))
	require.Equal(t, 1, b.activated)
}

func TestParallel_RequireAll(t *testing.T) {
	t.Parallel()

	short := &Wait{Name: "short", Ticks: 1}
	long := &Wait{Name: "long", Ticks: 2}
	tree := NewTree(NewParallel(short, long))
	agent := NewAgentState(nil)

	require.Equal(t, StatusRunning, tree.Update(agent))
	require.Equal(t, StatusRunning, tree.Update(agent))
	require.Equal(t, StatusSuccess, tree.Update(agent))
	require.Zero(t, agent.Depth())
}

func TestParallel_RequireOneStopsOthers(t *testing.T) {
	t.Parallel()

	stopped := 0
	forever := &Action{
		Tick: func(AgentData) ExecutionStatus { return StatusRunning },
		Stop: func(AgentData) { stopped++ },
	}
	par := &Parallel{Policy: RequireOne, Children: []Task{forever, &Wait{Ticks: 1}}}
	tree := NewTree(par)
	agent := NewAgentState(nil)

	require.Equal(t, StatusRunning, tree.Update(agent))
	require.ElementsMatch(t, []Task{forever, par.Children[1]}, par.RunningChildren(agent))
	require.Equal(t, StatusSuccess, tree.Update(agent))
	require.Equal(t, 1, stopped)
}

func TestParallel_FailureDeactivatesRunningSiblings(t *testing.T) {
	t.Parallel()

	stopped := 0
	forever := &Action{
		Tick: func(AgentData) ExecutionStatus { return StatusRunning },
		Stop: func(AgentData) { stopped++ },
	}
	failing := &scriptedTask{value: 1, activations: []ExecutionStatus{StatusRunning}, updates: []ExecutionStatus{StatusFailed}}
	tree := NewTree(NewParallel(forever, failing))
	agent := NewAgentState(nil)

	require.Equal(t, StatusRunning, tree.Update(agent))
	require.Equal(t, StatusFailed, tree.Update(agent))
	require.Equal(t, 1, stopped)
	require.Equal(t, 1, failing.released)
	require.Zero(t, agent.Depth())
}

func TestParallel_NestedComposites(t *testing.T) {
	t.Parallel()

	left := NewSequence(&Wait{Ticks: 1}, &SetValue{Key: "left", Value: 1})
	right := NewSequence(&Wait{Ticks: 2}, &SetValue{Key: "right", Value: 2})
	tree := NewTree(NewParallel(left, right))
	agent := NewAgentState(nil)

	require.Equal(t, StatusRunning, tree.Update(agent))
	require.Equal(t, StatusRunning, tree.Update(agent))
	require.Equal(t, 1, GetValue(agent.Blackboard(), "left", 0))
	require.False(t, agent.Blackboard().Has("right"))
	require.Equal(t, StatusSuccess, tree.Update(agent))
	require.Equal(t, 2, GetValue(agent.Blackboard(), "right", 0))
}

func TestParallel_NothingEligibleFails(t *testing.T) {
	t.Parallel()

	par := NewParallel(always(false), always(false))
	require.Equal(t, StatusFailed, par.Activate(NewAgentState(nil), nil))
}

func TestParallel_ActiveTasksFollowBranches(t *testing.T) {
	t.Parallel()

	left := &Sequence{Name: "left", Children: []Task{&Wait{Name: "l", Ticks: 1}, &SetValue{Key: "left", Value: 1}}}
	right := &Sequence{Name: "right", Children: []Task{&Wait{Name: "r", Ticks: 2}, &SetValue{Key: "right", Value: 2}}}
	par := &Parallel{Name: "par", Children: []Task{left, right}}

	var changes [][]string
	tree := NewTree(NewUntilFail(par), WithActiveTasksObserver(func(_ AgentData, active []Task) {
		changes = append(changes, DescribeAll(active))
	}))
	agent := NewAgentState(nil)

	require.Equal(t, StatusRunning, tree.Update(agent))
	require.Equal(t, []string{"UntilFail", "par", "left", "l", "right", "r"}, DescribeAll(agent.ActiveTasks()))

	require.Equal(t, StatusRunning, tree.Update(agent))
	require.Equal(t, []string{"UntilFail", "par", "right", "r"}, DescribeAll(agent.ActiveTasks()))

	// the decider level is left where it was
	require.Zero(t, agent.DeciderLevel())
	require.Len(t, changes, 2)
}
