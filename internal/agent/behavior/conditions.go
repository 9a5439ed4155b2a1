package behavior

// Condition is the base of momentary checks: once chosen it succeeds at once.
// Embedders supply Decide.
type Condition struct{}

func (Condition) Activate(AgentData, DecisionData) ExecutionStatus { return StatusSuccess }

func (Condition) Update(AgentData) ExecutionStatus { return StatusSuccess }

func (Condition) Deactivate(AgentData) {}

// BooleanCondition adapts a boolean check to the decision contract: true is
// 1, false is 0.
type BooleanCondition struct {
	Condition
	Name  string
	Check func(agent AgentData) bool
}

var _ Task = (*BooleanCondition)(nil)

func (c *BooleanCondition) Decide(agent AgentData) (float64, DecisionData) {
	if c.Check == nil {
		return 0, nil
	}
	return boolValue(c.Check(agent)), nil
}

func (c *BooleanCondition) String() string { return named(c.Name, "Condition") }

// BlackboardFlag checks a boolean blackboard attribute. A missing key or a
// non-bool value counts as false.
type BlackboardFlag struct {
	Condition
	Key any
	// Negate flips the result.
	Negate bool
}

func (c *BlackboardFlag) Decide(agent AgentData) (float64, DecisionData) {
	v, _ := TryGetValue[bool](agent.Blackboard(), c.Key)
	return boolValue(v != c.Negate), nil
}

func (c *BlackboardFlag) String() string {
	if c.Negate {
		return "!" + keyString(c.Key)
	}
	return keyString(c.Key)
}

// BlackboardHas checks that a key resolves on the blackboard.
type BlackboardHas struct {
	Condition
	Key any
}

func (c *BlackboardHas) Decide(agent AgentData) (float64, DecisionData) {
	return boolValue(agent.Blackboard().Has(c.Key)), nil
}

func (c *BlackboardHas) String() string { return "has(" + keyString(c.Key) + ")" }

// DecisionCondition always decides Value.
type DecisionCondition struct {
	Condition
	Name  string
	Value float64
}

func (c *DecisionCondition) Decide(AgentData) (float64, DecisionData) { return c.Value, nil }

func (c *DecisionCondition) String() string { return named(c.Name, "Decision") }

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
