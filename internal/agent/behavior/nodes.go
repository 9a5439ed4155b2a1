package behavior

// Action is a leaf built from functions, for behaviors that span frames.
// Start runs on activation and Tick on each later frame; a nil Start means
// the action goes straight to Tick, a nil Tick means it finishes on Start's
// status. Stop runs when the action is deactivated.
type Action struct {
	Name    string
	Decider func(agent AgentData) float64
	Start   func(agent AgentData) ExecutionStatus
	Tick    func(agent AgentData) ExecutionStatus
	Stop    func(agent AgentData)
}

type actionData struct{}

func (a *Action) Decide(agent AgentData) (float64, DecisionData) {
	if a.Decider == nil {
		return 1, nil
	}
	return a.Decider(agent), nil
}

func (a *Action) Activate(agent AgentData, _ DecisionData) ExecutionStatus {
	agent.SetTaskData(&actionData{})
	switch {
	case a.Start != nil:
		return a.Start(agent)
	case a.Tick != nil:
		return a.Tick(agent)
	default:
		return StatusSuccess
	}
}

func (a *Action) Update(agent AgentData) ExecutionStatus {
	if a.Tick == nil {
		return StatusSuccess
	}
	return a.Tick(agent)
}

func (a *Action) Deactivate(agent AgentData) {
	if _, ok := lookupTaskData[*actionData](agent); !ok {
		return
	}
	agent.SetTaskData(nil)
	if a.Stop != nil {
		a.Stop(agent)
	}
}

func (a *Action) String() string { return named(a.Name, "Action") }

// Wait keeps running for Ticks updates after activation, then succeeds.
type Wait struct {
	Name  string
	Ticks int
}

type waitData struct {
	remaining int
}

func (w *Wait) Decide(AgentData) (float64, DecisionData) { return 1, nil }

func (w *Wait) Activate(agent AgentData, _ DecisionData) ExecutionStatus {
	if w.Ticks <= 0 {
		return StatusSuccess
	}
	agent.SetTaskData(&waitData{remaining: w.Ticks})
	return StatusRunning
}

func (w *Wait) Update(agent AgentData) ExecutionStatus {
	data := GetTaskData[*waitData](agent)
	data.remaining--
	if data.remaining > 0 {
		return StatusRunning
	}
	return StatusSuccess
}

func (w *Wait) Deactivate(agent AgentData) {
	if _, ok := lookupTaskData[*waitData](agent); ok {
		agent.SetTaskData(nil)
	}
}

func (w *Wait) String() string { return named(w.Name, "Wait") }

// SetValue writes Value under Key on the agent's blackboard and succeeds.
type SetValue struct {
	Key   any
	Value any
}

func (s *SetValue) Decide(AgentData) (float64, DecisionData) { return 1, nil }

func (s *SetValue) Activate(agent AgentData, _ DecisionData) ExecutionStatus {
	agent.Blackboard().SetValue(s.Key, s.Value)
	return StatusSuccess
}

func (s *SetValue) Update(AgentData) ExecutionStatus { return StatusSuccess }

func (s *SetValue) Deactivate(AgentData) {}

func (s *SetValue) String() string { return "set(" + keyString(s.Key) + ")" }
