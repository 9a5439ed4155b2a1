package scenario

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"example.com/behavior-fleet/internal/agent/behavior"
	"gopkg.in/yaml.v3"
)

// Spec describes a behavior tree and the blackboard values it starts with,
// stored as YAML.
type Spec struct {
	Name       string         `yaml:"name"`
	Blackboard map[string]any `yaml:"blackboard"`
	Root       *NodeSpec      `yaml:"root"`
}

// NodeSpec is one node of the tree. Which fields apply depends on Type.
type NodeSpec struct {
	Type     string      `yaml:"type"`
	Name     string      `yaml:"name,omitempty"`
	Children []*NodeSpec `yaml:"children,omitempty"`
	Child    *NodeSpec   `yaml:"child,omitempty"`
	Key      string      `yaml:"key,omitempty"`
	Negate   bool        `yaml:"negate,omitempty"`
	Expr     string      `yaml:"expr,omitempty"`
	Value    any         `yaml:"value,omitempty"`
	Ticks    int         `yaml:"ticks,omitempty"`
	Limit    int         `yaml:"limit,omitempty"`
	Policy   string      `yaml:"policy,omitempty"`
}

// Parse converts scenario YAML into a validated Spec.
func Parse(raw string) (Spec, error) {
	var spec Spec
	if strings.TrimSpace(raw) == "" {
		return spec, errors.New("scenario is empty")
	}
	if err := yaml.Unmarshal([]byte(raw), &spec); err != nil {
		return spec, fmt.Errorf("parse scenario: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

// Load reads and parses the scenario file at path.
func Load(path string) (Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, fmt.Errorf("read scenario: %w", err)
	}
	return Parse(string(raw))
}

// Validate checks the shape of the tree without resolving leaf actions.
func (s Spec) Validate() error {
	if s.Root == nil {
		return errors.New("scenario root is required")
	}
	return s.Root.validate("root")
}

func (n *NodeSpec) validate(path string) error {
	if n == nil {
		return fmt.Errorf("%s: node is empty", path)
	}
	typ := strings.TrimSpace(n.Type)
	if typ == "" {
		return fmt.Errorf("%s: type is required", path)
	}
	switch typ {
	case TypeSelector, TypeSequence, TypeParallel:
		if typ == TypeSelector {
			if _, err := selectionPolicy(n.Policy); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
		}
		if typ == TypeParallel {
			if _, err := parallelPolicy(n.Policy); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
		}
		for i, c := range n.Children {
			if err := c.validate(fmt.Sprintf("%s.children[%d]", path, i)); err != nil {
				return err
			}
		}
	case TypeUntilFail, TypeInverter, TypeSucceeder, TypeRepeat:
		if n.Child == nil {
			return fmt.Errorf("%s: %s needs a child", path, typ)
		}
		return n.Child.validate(path + ".child")
	case TypeFlag, TypeHas, TypeSet:
		if strings.TrimSpace(n.Key) == "" {
			return fmt.Errorf("%s: %s needs a key", path, typ)
		}
	case TypeExpr:
		if _, err := behavior.NewExprCondition(n.Expr); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	case TypeWait:
		if n.Ticks < 0 {
			return fmt.Errorf("%s: wait ticks must not be negative", path)
		}
	case TypeDecision:
		if _, err := decisionValue(n.Value); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	case TypeAction:
		if strings.TrimSpace(n.Name) == "" {
			return fmt.Errorf("%s: action needs a name", path)
		}
	default:
		return fmt.Errorf("%s: %w: %q", path, ErrUnknownNode, typ)
	}
	return nil
}

// Seed copies the scenario's initial values onto bb.
func (s Spec) Seed(bb *behavior.Blackboard) {
	for k, v := range s.Blackboard {
		bb.SetValue(k, v)
	}
}
