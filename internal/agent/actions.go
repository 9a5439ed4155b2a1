package agent

import (
	"fmt"
	"log"

	"example.com/behavior-fleet/internal/agent/behavior"
	"example.com/behavior-fleet/internal/scenario"
)

// Leaf actions available to scenarios as `type: action` nodes.
const (
	ActionLog       = "log"
	ActionIncrement = "increment"
	ActionDrain     = "drain"
	ActionCharge    = "charge"
)

// DefaultScenario is used when the config names no scenario file. Agents
// patrol while their battery lasts and dock to recharge when it runs low.
const DefaultScenario = `
name: patrol
blackboard:
  battery: 100
root:
  type: until_fail
  child:
    type: selector
    name: main
    children:
      - type: sequence
        name: recharge
        children:
          - type: expr
            expr: battery < 20
          - type: action
            name: log
            value: docking
          - type: action
            name: charge
            key: battery
            value: 10
      - type: sequence
        name: patrol
        children:
          - type: action
            name: drain
            key: battery
            value: 5
          - type: action
            name: increment
            key: laps
          - type: wait
            ticks: 3
`

// RegisterActions adds the runner's leaf actions to reg.
func RegisterActions(reg *scenario.Registry) {
	reg.Register(ActionLog, newLogAction)
	reg.Register(ActionIncrement, newIncrementAction)
	reg.Register(ActionDrain, newDrainAction)
	reg.Register(ActionCharge, newChargeAction)
}

// NewRegistry returns a registry with the runner's actions.
func NewRegistry() *scenario.Registry {
	reg := scenario.NewRegistry()
	RegisterActions(reg)
	return reg
}

func newLogAction(node scenario.NodeSpec) (behavior.Task, error) {
	return &behavior.Action{
		Name: "log",
		Start: func(agent behavior.AgentData) behavior.ExecutionStatus {
			id := behavior.GetValue(agent.Blackboard(), KeyAgentID, "")
			log.Printf("[agent %s] %v", id, node.Value)
			return behavior.StatusSuccess
		},
	}, nil
}

func newIncrementAction(node scenario.NodeSpec) (behavior.Task, error) {
	if node.Key == "" {
		return nil, fmt.Errorf("%s needs a key", ActionIncrement)
	}
	return &behavior.Action{
		Name: "increment(" + node.Key + ")",
		Start: func(agent behavior.AgentData) behavior.ExecutionStatus {
			bb := agent.Blackboard()
			n, _ := number(bb, node.Key)
			bb.SetValue(node.Key, n+1)
			return behavior.StatusSuccess
		},
	}, nil
}

// newDrainAction lowers a level by value (default 1), never below zero. It
// fails when the level is already empty.
func newDrainAction(node scenario.NodeSpec) (behavior.Task, error) {
	key, step, err := levelArgs(node, ActionDrain)
	if err != nil {
		return nil, err
	}
	return &behavior.Action{
		Name: "drain(" + key + ")",
		Start: func(agent behavior.AgentData) behavior.ExecutionStatus {
			bb := agent.Blackboard()
			level, _ := number(bb, key)
			if level <= 0 {
				return behavior.StatusFailed
			}
			bb.SetValue(key, max(level-step, 0))
			return behavior.StatusSuccess
		},
	}, nil
}

// newChargeAction raises a level by value each frame until it reaches 100.
func newChargeAction(node scenario.NodeSpec) (behavior.Task, error) {
	key, step, err := levelArgs(node, ActionCharge)
	if err != nil {
		return nil, err
	}
	return &behavior.Action{
		Name: "charge(" + key + ")",
		Tick: func(agent behavior.AgentData) behavior.ExecutionStatus {
			bb := agent.Blackboard()
			level, _ := number(bb, key)
			level = min(level+step, 100)
			bb.SetValue(key, level)
			if level < 100 {
				return behavior.StatusRunning
			}
			return behavior.StatusSuccess
		},
	}, nil
}

func levelArgs(node scenario.NodeSpec, action string) (string, float64, error) {
	key := node.Key
	if key == "" {
		key = "battery"
	}
	step := 1.0
	switch v := node.Value.(type) {
	case nil:
	case int:
		step = float64(v)
	case float64:
		step = v
	default:
		return "", 0, fmt.Errorf("%s value %v is %T, want a number", action, v, v)
	}
	if step <= 0 {
		return "", 0, fmt.Errorf("%s value must be positive", action)
	}
	return key, step, nil
}

// number reads a numeric blackboard value. YAML seeds arrive as int and MQTT
// commands as float64.
func number(bb *behavior.Blackboard, key string) (float64, bool) {
	raw, ok := bb.Lookup(key)
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}
