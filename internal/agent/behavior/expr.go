package behavior

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultExprCacheSize bounds the shared cache of compiled expressions.
const DefaultExprCacheSize = 256

var exprCache = mustExprCache(DefaultExprCacheSize)

func mustExprCache(size int) *lru.Cache[string, *vm.Program] {
	c, err := lru.New[string, *vm.Program](size)
	if err != nil {
		panic(err)
	}
	return c
}

// ExprCondition decides with an expr-lang boolean expression evaluated
// against the agent's flattened blackboard, e.g.
//
//	health < 30 && enemy_visible
//
// Unknown identifiers evaluate to nil. Compile or run errors decide 0 and are
// logged on the agent's logger; Eval returns them.
type ExprCondition struct {
	Condition
	Expression string

	mu      sync.Mutex
	program *vm.Program
}

// NewExprCondition compiles expression eagerly so syntax errors surface when
// the tree is built.
func NewExprCondition(expression string) (*ExprCondition, error) {
	c := &ExprCondition{Expression: expression}
	if _, err := c.compile(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *ExprCondition) Decide(agent AgentData) (float64, DecisionData) {
	ok, err := c.Eval(agent.Blackboard())
	if err != nil {
		if agent.LogEnabled() {
			agent.Logger().Warn("behavior: expression condition failed",
				"expression", c.Expression,
				"error", err)
		}
		return 0, nil
	}
	return boolValue(ok), nil
}

// Eval runs the expression against bb.
func (c *ExprCondition) Eval(bb *Blackboard) (bool, error) {
	program, err := c.compile()
	if err != nil {
		return false, err
	}
	out, err := expr.Run(program, bb.Flatten())
	if err != nil {
		return false, fmt.Errorf("run expression %q: %w", c.Expression, err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q returned %T, want bool", c.Expression, out)
	}
	return b, nil
}

func (c *ExprCondition) compile() (*vm.Program, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.program != nil {
		return c.program, nil
	}
	if program, ok := exprCache.Get(c.Expression); ok {
		c.program = program
		return program, nil
	}
	program, err := expr.Compile(c.Expression,
		expr.AsBool(),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, fmt.Errorf("compile expression %q: %w", c.Expression, err)
	}
	exprCache.Add(c.Expression, program)
	slog.Debug("behavior: compiled expression", "expression", c.Expression)
	c.program = program
	return program, nil
}

func (c *ExprCondition) String() string { return "expr(" + c.Expression + ")" }
