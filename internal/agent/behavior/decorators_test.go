package behavior

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUntilFail_RunningUntilChildFails(t *testing.T) {
	t.Parallel()

	child := &scriptedTask{name: "child", value: 1, activations: []ExecutionStatus{StatusSuccess, StatusSuccess, StatusFailed}}
	tree := NewTree(NewUntilFail(child))
	agent := NewAgentState(nil)

	require.Equal(t, StatusRunning, tree.Update(agent))
	require.Equal(t, StatusRunning, tree.Update(agent))
	require.Equal(t, StatusFailed, tree.Update(agent))
	require.Equal(t, 3, child.activated)
	require.Equal(t, 3, child.released)
	require.Zero(t, agent.Depth())
}

func TestUntilFail_ImmediateFailure(t *testing.T) {
	t.Parallel()

	child := &scriptedTask{value: 1, activations: []ExecutionStatus{StatusFailed}}
	require.Equal(t, StatusFailed, NewTree(NewUntilFail(child)).Update(NewAgentState(nil)))
}

func TestUntilFail_RestartedChildIsUpdatedSameFrame(t *testing.T) {
	t.Parallel()

	child := &scriptedTask{
		value:       1,
		activations: []ExecutionStatus{StatusSuccess, StatusRunning},
		updates:     []ExecutionStatus{StatusRunning, StatusFailed},
	}
	deco := NewUntilFail(child)
	tree := NewTree(deco)
	agent := NewAgentState(nil)

	require.Equal(t, StatusRunning, tree.Update(agent))
	require.Nil(t, deco.ActiveChild(agent))

	// restart, then one update in the same frame
	require.Equal(t, StatusRunning, tree.Update(agent))
	require.Equal(t, 2, child.activated)
	require.Equal(t, 1, child.updated)
	require.Equal(t, []Task{deco, child}, tree.ActiveTasks(agent))

	require.Equal(t, StatusFailed, tree.Update(agent))
	require.Equal(t, 2, child.updated)
}

func TestUntilFail_IdlesWhileNotEligible(t *testing.T) {
	t.Parallel()

	bb := NewBlackboard()
	bb.SetValue("go", true)
	child := &scriptedTask{value: 1}
	deco := NewUntilFail(&Sequence{Children: []Task{&BlackboardFlag{Key: "go"}, child}})
	tree := NewTree(deco)
	agent := NewAgentState(bb)

	require.Equal(t, StatusRunning, tree.Update(agent))
	require.Equal(t, 1, child.activated)

	bb.SetValue("go", false)
	for range 3 {
		require.Equal(t, StatusRunning, tree.Update(agent))
	}
	require.Equal(t, 1, child.activated)

	bb.SetValue("go", true)
	require.Equal(t, StatusRunning, tree.Update(agent))
	require.Equal(t, 2, child.activated)
}

func TestUntilFail_DeactivateOnlyTouchesRunningChild(t *testing.T) {
	t.Parallel()

	child := &scriptedTask{value: 1, activations: []ExecutionStatus{StatusSuccess, StatusRunning}, updates: []ExecutionStatus{StatusRunning}}
	tree := NewTree(NewUntilFail(child))
	agent := NewAgentState(nil)

	require.Equal(t, StatusRunning, tree.Update(agent))
	tree.Deactivate(agent)
	// the first cycle already finished and was released
	require.Equal(t, 1, child.deactivated)

	require.Equal(t, StatusRunning, tree.Update(agent))
	require.Equal(t, StatusRunning, tree.Update(agent))
	tree.Deactivate(agent)
	require.Equal(t, 2, child.deactivated)
	require.Equal(t, 2, child.released)
	require.Zero(t, agent.Depth())
}

func TestInverter(t *testing.T) {
	t.Parallel()

	require.Equal(t, StatusFailed, NewTree(NewInverter(always(true))).Update(NewAgentState(nil)))

	failing := &scriptedTask{value: 1, activations: []ExecutionStatus{StatusFailed}}
	require.Equal(t, StatusSuccess, NewTree(NewInverter(failing)).Update(NewAgentState(nil)))

	running := &scriptedTask{value: 1, activations: []ExecutionStatus{StatusRunning}, updates: []ExecutionStatus{StatusSuccess}}
	tree := NewTree(NewInverter(running))
	agent := NewAgentState(nil)
	require.Equal(t, StatusRunning, tree.Update(agent))
	require.Equal(t, StatusFailed, tree.Update(agent))

	// decision is the child's
	value, _ := NewInverter(always(false)).Decide(NewAgentState(nil))
	require.Zero(t, value)
}

func TestSucceeder(t *testing.T) {
	t.Parallel()

	failing := &scriptedTask{value: 1, activations: []ExecutionStatus{StatusRunning}, updates: []ExecutionStatus{StatusFailed}}
	tree := NewTree(NewSucceeder(failing))
	agent := NewAgentState(nil)
	require.Equal(t, StatusRunning, tree.Update(agent))
	require.Equal(t, StatusSuccess, tree.Update(agent))
}

func TestRepeat(t *testing.T) {
	t.Parallel()

	t.Run("limit", func(t *testing.T) {
		t.Parallel()

		child := &scriptedTask{value: 1}
		tree := NewTree(NewRepeat(child, 3))
		agent := NewAgentState(nil)
		require.Equal(t, StatusRunning, tree.Update(agent))
		require.Equal(t, StatusRunning, tree.Update(agent))
		require.Equal(t, StatusSuccess, tree.Update(agent))
		require.Equal(t, 3, child.activated)
	})

	t.Run("child failure", func(t *testing.T) {
		t.Parallel()

		child := &scriptedTask{value: 1, activations: []ExecutionStatus{StatusSuccess, StatusFailed}}
		tree := NewTree(NewRepeat(child, 0))
		agent := NewAgentState(nil)
		require.Equal(t, StatusRunning, tree.Update(agent))
		require.Equal(t, StatusFailed, tree.Update(agent))
	})

	t.Run("running child", func(t *testing.T) {
		t.Parallel()

		tree := NewTree(NewRepeat(&Wait{Ticks: 1}, 2))
		agent := NewAgentState(nil)
		statuses := make([]ExecutionStatus, 0, 4)
		for range 4 {
			statuses = append(statuses, tree.Update(agent))
		}
		require.Equal(t, []ExecutionStatus{StatusRunning, StatusRunning, StatusRunning, StatusSuccess}, statuses)
	})
}
