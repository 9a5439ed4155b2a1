package scenario

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"example.com/behavior-fleet/internal/agent/behavior"
)

// Node types understood by Build.
const (
	TypeSelector  = "selector"
	TypeSequence  = "sequence"
	TypeParallel  = "parallel"
	TypeUntilFail = "until_fail"
	TypeInverter  = "inverter"
	TypeSucceeder = "succeeder"
	TypeRepeat    = "repeat"
	TypeFlag      = "flag"
	TypeHas       = "has"
	TypeExpr      = "expr"
	TypeDecision  = "decision"
	TypeWait      = "wait"
	TypeSet       = "set"
	TypeAction    = "action"
)

// ErrUnknownNode is returned for node types, or action names, that nothing
// knows how to build.
var ErrUnknownNode = errors.New("unknown node")

// ActionFactory builds the leaf for an action node.
type ActionFactory func(node NodeSpec) (behavior.Task, error)

// Registry maps action names to factories. The zero value is ready to use.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]ActionFactory
}

func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]ActionFactory)}
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f ActionFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.actions == nil {
		r.actions = make(map[string]ActionFactory)
	}
	r.actions[name] = f
}

func (r *Registry) lookup(name string) (ActionFactory, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.actions[name]
	return f, ok
}

// Build turns the spec into a tree. Action nodes are resolved through reg,
// which may be nil when the scenario has none.
func (s Spec) Build(reg *Registry, opts ...behavior.TreeOption) (*behavior.Tree, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	root, err := build(s.Root, reg, "root")
	if err != nil {
		return nil, err
	}
	tree := behavior.NewTree(root, opts...)
	tree.Name = s.Name
	return tree, nil
}

func build(n *NodeSpec, reg *Registry, path string) (behavior.Task, error) {
	typ := strings.TrimSpace(n.Type)
	switch typ {
	case TypeSelector:
		children, err := buildChildren(n, reg, path)
		if err != nil {
			return nil, err
		}
		policy, _ := selectionPolicy(n.Policy)
		return &behavior.Selector{Name: n.Name, Policy: policy, Children: children}, nil
	case TypeSequence:
		children, err := buildChildren(n, reg, path)
		if err != nil {
			return nil, err
		}
		return &behavior.Sequence{Name: n.Name, Children: children}, nil
	case TypeParallel:
		children, err := buildChildren(n, reg, path)
		if err != nil {
			return nil, err
		}
		policy, _ := parallelPolicy(n.Policy)
		return &behavior.Parallel{Name: n.Name, Policy: policy, Children: children}, nil
	case TypeUntilFail, TypeInverter, TypeSucceeder, TypeRepeat:
		child, err := build(n.Child, reg, path+".child")
		if err != nil {
			return nil, err
		}
		switch typ {
		case TypeUntilFail:
			return behavior.NewUntilFail(child), nil
		case TypeInverter:
			return behavior.NewInverter(child), nil
		case TypeSucceeder:
			return behavior.NewSucceeder(child), nil
		default:
			return behavior.NewRepeat(child, n.Limit), nil
		}
	case TypeFlag:
		return &behavior.BlackboardFlag{Key: n.Key, Negate: n.Negate}, nil
	case TypeHas:
		return &behavior.BlackboardHas{Key: n.Key}, nil
	case TypeExpr:
		return behavior.NewExprCondition(n.Expr)
	case TypeDecision:
		v, err := decisionValue(n.Value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return &behavior.DecisionCondition{Name: n.Name, Value: v}, nil
	case TypeWait:
		return &behavior.Wait{Name: n.Name, Ticks: n.Ticks}, nil
	case TypeSet:
		return &behavior.SetValue{Key: n.Key, Value: n.Value}, nil
	case TypeAction:
		f, ok := reg.lookup(n.Name)
		if !ok {
			return nil, fmt.Errorf("%s: %w: action %q", path, ErrUnknownNode, n.Name)
		}
		task, err := f(*n)
		if err != nil {
			return nil, fmt.Errorf("%s: build action %q: %w", path, n.Name, err)
		}
		return task, nil
	default:
		return nil, fmt.Errorf("%s: %w: %q", path, ErrUnknownNode, n.Type)
	}
}

func buildChildren(n *NodeSpec, reg *Registry, path string) ([]behavior.Task, error) {
	children := make([]behavior.Task, 0, len(n.Children))
	for i, c := range n.Children {
		task, err := build(c, reg, fmt.Sprintf("%s.children[%d]", path, i))
		if err != nil {
			return nil, err
		}
		children = append(children, task)
	}
	return children, nil
}

func selectionPolicy(s string) (behavior.SelectionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "first":
		return behavior.SelectFirst, nil
	case "highest":
		return behavior.SelectHighest, nil
	default:
		return 0, fmt.Errorf("unknown selector policy %q", s)
	}
}

func parallelPolicy(s string) (behavior.ParallelPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return behavior.RequireAll, nil
	case "one":
		return behavior.RequireOne, nil
	default:
		return 0, fmt.Errorf("unknown parallel policy %q", s)
	}
}

func decisionValue(v any) (float64, error) {
	switch n := v.(type) {
	case nil:
		return 1, nil
	case int:
		return float64(n), nil
	case float64:
		return n, nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("decision value %v is %T, want a number", v, v)
	}
}
