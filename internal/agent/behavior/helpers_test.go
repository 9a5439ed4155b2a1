package behavior

// scriptedTask returns canned statuses and counts lifecycle calls.
type scriptedTask struct {
	name string
	// value is returned by Decide.
	value float64
	// activations[i] is the status of the i-th Activate; the last entry
	// repeats.
	activations []ExecutionStatus
	// updates works the same way for Update.
	updates []ExecutionStatus

	activated   int
	updated     int
	deactivated int
	released    int
}

type scriptedData struct{ owner *scriptedTask }

func (s *scriptedTask) Decide(AgentData) (float64, DecisionData) { return s.value, nil }

func (s *scriptedTask) Activate(agent AgentData, _ DecisionData) ExecutionStatus {
	status := pick(s.activations, s.activated, StatusSuccess)
	s.activated++
	agent.SetTaskData(&scriptedData{owner: s})
	return status
}

func (s *scriptedTask) Update(agent AgentData) ExecutionStatus {
	GetTaskData[*scriptedData](agent)
	status := pick(s.updates, s.updated, StatusSuccess)
	s.updated++
	return status
}

func (s *scriptedTask) Deactivate(agent AgentData) {
	s.deactivated++
	if data, ok := lookupTaskData[*scriptedData](agent); ok && data.owner == s {
		s.released++
		agent.SetTaskData(nil)
	}
}

func (s *scriptedTask) String() string { return s.name }

func pick(statuses []ExecutionStatus, i int, def ExecutionStatus) ExecutionStatus {
	if len(statuses) == 0 {
		return def
	}
	if i >= len(statuses) {
		i = len(statuses) - 1
	}
	return statuses[i]
}

func always(value bool) *BooleanCondition {
	return &BooleanCondition{Check: func(AgentData) bool { return value }}
}
