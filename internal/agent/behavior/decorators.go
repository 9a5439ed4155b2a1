package behavior

// Decorator wraps exactly one child and decides the way the child does.
// Concrete decorators embed it and define their own Activate, Update and
// Deactivate.
type Decorator struct {
	Child Task
}

func (d *Decorator) Decide(agent AgentData) (float64, DecisionData) {
	if d.Child == nil {
		return 0, nil
	}
	return decideChild(agent, d.Child)
}

// decoratorData records the child's last status for the running decorator.
type decoratorData struct {
	child  ExecutionStatus
	cycles int
}

func (d *decoratorData) childRunning() bool { return d.child == StatusRunning }

func (d *Decorator) activeChild(agent AgentData) Task {
	if data, ok := lookupTaskData[*decoratorData](agent); ok && data.childRunning() {
		return d.Child
	}
	return nil
}

// release deactivates a running child and clears the decorator's slot. It is
// a no-op when the decorator holds no data at this level.
func (d *Decorator) release(agent AgentData) {
	data, ok := lookupTaskData[*decoratorData](agent)
	if !ok {
		return
	}
	if data.childRunning() {
		deactivateChild(agent, d.Child)
	}
	agent.SetTaskData(nil)
}

// UntilFail restarts its child every time it finishes, for as long as the
// decorator's decision stays positive, and only ever ends when the child
// fails. A non-positive decision idles the decorator in Running until the
// next frame.
type UntilFail struct {
	Decorator
	Name string
}

var _ Task = (*UntilFail)(nil)

func NewUntilFail(child Task) *UntilFail {
	return &UntilFail{Decorator: Decorator{Child: child}}
}

func (u *UntilFail) Activate(agent AgentData, decision DecisionData) ExecutionStatus {
	status := activateChild(agent, u.Child, decision)
	if status == StatusFailed {
		return StatusFailed
	}
	agent.SetTaskData(&decoratorData{child: status, cycles: 1})
	return StatusRunning
}

func (u *UntilFail) Update(agent AgentData) ExecutionStatus {
	data := GetTaskData[*decoratorData](agent)
	if data.childRunning() {
		data.child = updateChild(agent, u.Child)
	} else {
		value, decision := u.Decide(agent)
		if value > 0 {
			data.cycles++
			data.child = activateChild(agent, u.Child, decision)
			if data.child == StatusRunning {
				data.child = updateChild(agent, u.Child)
			}
		}
	}
	if data.child == StatusFailed {
		agent.SetTaskData(nil)
		return StatusFailed
	}
	return StatusRunning
}

func (u *UntilFail) Deactivate(agent AgentData) { u.release(agent) }

func (u *UntilFail) ActiveChild(agent AgentData) Task { return u.activeChild(agent) }

func (u *UntilFail) String() string { return named(u.Name, "UntilFail") }

// Inverter swaps Success and Failed of its child.
type Inverter struct {
	Decorator
	Name string
}

func NewInverter(child Task) *Inverter {
	return &Inverter{Decorator: Decorator{Child: child}}
}

func (i *Inverter) Activate(agent AgentData, decision DecisionData) ExecutionStatus {
	return i.follow(agent, activateChild(agent, i.Child, decision))
}

func (i *Inverter) Update(agent AgentData) ExecutionStatus {
	return i.follow(agent, updateChild(agent, i.Child))
}

func (i *Inverter) follow(agent AgentData, status ExecutionStatus) ExecutionStatus {
	switch status {
	case StatusRunning:
		agent.SetTaskData(&decoratorData{child: status})
		return StatusRunning
	case StatusSuccess:
		agent.SetTaskData(nil)
		return StatusFailed
	default:
		agent.SetTaskData(nil)
		return StatusSuccess
	}
}

func (i *Inverter) Deactivate(agent AgentData) { i.release(agent) }

func (i *Inverter) ActiveChild(agent AgentData) Task { return i.activeChild(agent) }

func (i *Inverter) String() string { return named(i.Name, "Inverter") }

// Succeeder reports Success whenever its child finishes.
type Succeeder struct {
	Decorator
	Name string
}

func NewSucceeder(child Task) *Succeeder {
	return &Succeeder{Decorator: Decorator{Child: child}}
}

func (s *Succeeder) Activate(agent AgentData, decision DecisionData) ExecutionStatus {
	return s.follow(agent, activateChild(agent, s.Child, decision))
}

func (s *Succeeder) Update(agent AgentData) ExecutionStatus {
	return s.follow(agent, updateChild(agent, s.Child))
}

func (s *Succeeder) follow(agent AgentData, status ExecutionStatus) ExecutionStatus {
	if status == StatusRunning {
		agent.SetTaskData(&decoratorData{child: status})
		return StatusRunning
	}
	agent.SetTaskData(nil)
	return StatusSuccess
}

func (s *Succeeder) Deactivate(agent AgentData) { s.release(agent) }

func (s *Succeeder) ActiveChild(agent AgentData) Task { return s.activeChild(agent) }

func (s *Succeeder) String() string { return named(s.Name, "Succeeder") }

// Repeat restarts its child after each Success until Limit cycles have
// succeeded, then succeeds. A failing child fails the decorator, and so does
// a zero decision when the next cycle is due. Limit <= 0 repeats forever.
// Unlike UntilFail, a restart happens on the frame after the child finished.
type Repeat struct {
	Decorator
	Name  string
	Limit int
}

func NewRepeat(child Task, limit int) *Repeat {
	return &Repeat{Decorator: Decorator{Child: child}, Limit: limit}
}

func (r *Repeat) Activate(agent AgentData, decision DecisionData) ExecutionStatus {
	data := &decoratorData{}
	agent.SetTaskData(data)
	return r.settle(agent, data, activateChild(agent, r.Child, decision))
}

func (r *Repeat) Update(agent AgentData) ExecutionStatus {
	data := GetTaskData[*decoratorData](agent)
	if data.childRunning() {
		return r.settle(agent, data, updateChild(agent, r.Child))
	}
	value, decision := r.Decide(agent)
	if value <= 0 {
		agent.SetTaskData(nil)
		return StatusFailed
	}
	return r.settle(agent, data, activateChild(agent, r.Child, decision))
}

func (r *Repeat) settle(agent AgentData, data *decoratorData, status ExecutionStatus) ExecutionStatus {
	data.child = status
	switch status {
	case StatusRunning:
		return StatusRunning
	case StatusFailed:
		agent.SetTaskData(nil)
		return StatusFailed
	}
	data.cycles++
	if r.Limit > 0 && data.cycles >= r.Limit {
		agent.SetTaskData(nil)
		return StatusSuccess
	}
	return StatusRunning
}

func (r *Repeat) Deactivate(agent AgentData) { r.release(agent) }

func (r *Repeat) ActiveChild(agent AgentData) Task { return r.activeChild(agent) }

func (r *Repeat) String() string { return named(r.Name, "Repeat") }
