package scenario

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"example.com/behavior-fleet/internal/agent/behavior"
	"github.com/stretchr/testify/require"
)

const patrolScenario = `
name: patrol
blackboard:
  battery: 80
  alarm: false
root:
  type: until_fail
  child:
    type: selector
    name: main
    children:
      - type: sequence
        name: respond
        children:
          - type: flag
            key: alarm
          - type: set
            key: mode
            value: respond
      - type: sequence
        name: dock
        children:
          - type: expr
            expr: battery < 20
          - type: action
            name: dock
      - type: sequence
        name: wander
        children:
          - type: set
            key: mode
            value: wander
          - type: wait
            ticks: 2
`

func TestParse_ValidScenario(t *testing.T) {
	t.Parallel()

	spec, err := Parse(patrolScenario)
	require.NoError(t, err)
	require.Equal(t, "patrol", spec.Name)
	require.Equal(t, TypeUntilFail, spec.Root.Type)
	require.Len(t, spec.Root.Child.Children, 3)
	require.Equal(t, 80, spec.Blackboard["battery"])
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name string
		raw  string
		want string
	}{
		{name: "empty", raw: "  \n", want: "scenario is empty"},
		{name: "bad yaml", raw: "root: [", want: "parse scenario"},
		{name: "no root", raw: "name: x", want: "scenario root is required"},
		{name: "no type", raw: "root:\n  name: x", want: "root: type is required"},
		{name: "decorator without child", raw: "root:\n  type: inverter", want: "root: inverter needs a child"},
		{name: "flag without key", raw: "root:\n  type: sequence\n  children:\n    - type: flag", want: "root.children[0]: flag needs a key"},
		{name: "bad expr", raw: "root:\n  type: expr\n  expr: 'a <'", want: "compile expression"},
		{name: "bad policy", raw: "root:\n  type: selector\n  policy: random", want: `unknown selector policy "random"`},
		{name: "bad parallel policy", raw: "root:\n  type: parallel\n  policy: most", want: `unknown parallel policy "most"`},
		{name: "negative wait", raw: "root:\n  type: wait\n  ticks: -1", want: "wait ticks must not be negative"},
		{name: "bad decision", raw: "root:\n  type: decision\n  value: high", want: "want a number"},
		{name: "unnamed action", raw: "root:\n  type: action", want: "action needs a name"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse(tc.raw)
			require.ErrorContains(t, err, tc.want)
		})
	}
}

func TestParse_UnknownNodeType(t *testing.T) {
	t.Parallel()

	_, err := Parse("root:\n  type: teleport")
	require.ErrorIs(t, err, ErrUnknownNode)
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(patrolScenario), 0o644))
	spec, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "patrol", spec.Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read scenario")
}

func TestBuild_RunsTree(t *testing.T) {
	t.Parallel()

	spec, err := Parse(patrolScenario)
	require.NoError(t, err)

	docked := 0
	reg := NewRegistry()
	reg.Register("dock", func(NodeSpec) (behavior.Task, error) {
		return &behavior.Action{Name: "dock", Start: func(behavior.AgentData) behavior.ExecutionStatus {
			docked++
			return behavior.StatusSuccess
		}}, nil
	})

	tree, err := spec.Build(reg)
	require.NoError(t, err)
	require.Equal(t, "patrol", tree.Name)

	bb := behavior.NewBlackboard()
	spec.Seed(bb)
	agent := behavior.NewAgentState(bb)

	require.Equal(t, behavior.StatusRunning, tree.Update(agent))
	require.Equal(t, "wander", behavior.GetValue(bb, "mode", ""))
	require.Equal(t, []string{"UntilFail", "main", "wander", "Wait"}, behavior.DescribeAll(tree.ActiveTasks(agent)))

	bb.SetValue("alarm", true)
	// the wander branch keeps running until its wait finishes
	require.Equal(t, behavior.StatusRunning, tree.Update(agent))
	require.Equal(t, behavior.StatusRunning, tree.Update(agent))
	require.Equal(t, "wander", behavior.GetValue(bb, "mode", ""))
	require.Equal(t, behavior.StatusRunning, tree.Update(agent))
	require.Equal(t, "respond", behavior.GetValue(bb, "mode", ""))

	bb.SetValue("alarm", false)
	bb.SetValue("battery", 10)
	require.Equal(t, behavior.StatusRunning, tree.Update(agent))
	require.Equal(t, 1, docked)
}

func TestBuild_UnknownAction(t *testing.T) {
	t.Parallel()

	spec, err := Parse("root:\n  type: action\n  name: fly")
	require.NoError(t, err)

	_, err = spec.Build(nil)
	require.ErrorIs(t, err, ErrUnknownNode)
	require.ErrorContains(t, err, `action "fly"`)

	reg := NewRegistry()
	reg.Register("fly", func(NodeSpec) (behavior.Task, error) { return nil, errors.New("no wings") })
	_, err = spec.Build(reg)
	require.ErrorContains(t, err, `build action "fly": no wings`)
}

func TestBuild_NodeKinds(t *testing.T) {
	t.Parallel()

	raw := `
root:
  type: parallel
  policy: one
  children:
    - type: repeat
      limit: 2
      child:
        type: succeeder
        child:
          type: inverter
          child:
            type: has
            key: missing
    - type: selector
      policy: highest
      children:
        - type: decision
          value: 0.3
        - type: decision
          value: 0.6
          name: better
`
	spec, err := Parse(raw)
	require.NoError(t, err)
	tree, err := spec.Build(NewRegistry())
	require.NoError(t, err)

	par, ok := tree.Root().(*behavior.Parallel)
	require.True(t, ok)
	require.Equal(t, behavior.RequireOne, par.Policy)
	sel, ok := par.Children[1].(*behavior.Selector)
	require.True(t, ok)
	require.Equal(t, behavior.SelectHighest, sel.Policy)

	// the selector succeeds on the first frame, which satisfies RequireOne
	require.Equal(t, behavior.StatusSuccess, tree.Update(behavior.NewAgentState(nil)))
}
