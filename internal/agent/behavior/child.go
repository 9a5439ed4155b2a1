package behavior

// Children of a task run one decider level below it. These helpers move the
// level around every child call and keep the deactivation discipline: a child
// that reports a terminal status is deactivated right away.

func decideChild(agent AgentData, child Task) (float64, DecisionData) {
	level := agent.DeciderLevel()
	agent.SetDeciderLevel(level + 1)
	defer agent.SetDeciderLevel(level)
	return child.Decide(agent)
}

func activateChild(agent AgentData, child Task, decision DecisionData) ExecutionStatus {
	level := agent.DeciderLevel()
	agent.SetDeciderLevel(level + 1)
	defer agent.SetDeciderLevel(level)
	status := child.Activate(agent, decision)
	if status != StatusRunning {
		child.Deactivate(agent)
	}
	logTransition(agent, child, "activate", status)
	return status
}

func updateChild(agent AgentData, child Task) ExecutionStatus {
	level := agent.DeciderLevel()
	agent.SetDeciderLevel(level + 1)
	defer agent.SetDeciderLevel(level)
	status := child.Update(agent)
	if status != StatusRunning {
		child.Deactivate(agent)
		logTransition(agent, child, "update", status)
	}
	return status
}

func deactivateChild(agent AgentData, child Task) {
	level := agent.DeciderLevel()
	agent.SetDeciderLevel(level + 1)
	defer agent.SetDeciderLevel(level)
	child.Deactivate(agent)
}

// decideAndActivate runs Decide then Activate on a child. A zero decision
// leaves the child untouched and reports ok=false.
func decideAndActivate(agent AgentData, child Task) (status ExecutionStatus, ok bool) {
	value, decision := decideChild(agent, child)
	if value <= 0 {
		return StatusFailed, false
	}
	return activateChild(agent, child, decision), true
}

func logTransition(agent AgentData, task Task, phase string, status ExecutionStatus) {
	if !agent.LogEnabled() {
		return
	}
	agent.Logger().Debug("behavior: task "+phase,
		"task", Describe(task),
		"level", agent.DeciderLevel(),
		"status", status.String())
}
