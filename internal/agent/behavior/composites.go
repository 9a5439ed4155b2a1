package behavior

// SelectionPolicy picks the child a Selector runs.
type SelectionPolicy int

const (
	// SelectFirst takes the first child, in list order, whose decision is
	// positive.
	SelectFirst SelectionPolicy = iota
	// SelectHighest takes the child with the largest decision; ties go to the
	// earlier child.
	SelectHighest
)

func (p SelectionPolicy) String() string {
	switch p {
	case SelectFirst:
		return "first"
	case SelectHighest:
		return "highest"
	default:
		return "unknown"
	}
}

// Selector runs one child chosen by decision value and finishes with that
// child's status. It does not re-select while running.
type Selector struct {
	Name     string
	Policy   SelectionPolicy
	Children []Task
}

var _ Task = (*Selector)(nil)

func NewSelector(children ...Task) *Selector {
	return &Selector{Children: children}
}

// selectorDecision carries the choice made in Decide to Activate.
type selectorDecision struct {
	index int
	child DecisionData
}

type selectorData struct {
	active int
}

func (s *Selector) Decide(agent AgentData) (float64, DecisionData) {
	best, bestValue := -1, 0.0
	var bestDecision DecisionData
	for i, child := range s.Children {
		value, decision := decideChild(agent, child)
		if value <= 0 || value <= bestValue {
			continue
		}
		best, bestValue, bestDecision = i, value, decision
		if s.Policy == SelectFirst {
			break
		}
	}
	if best < 0 {
		return 0, nil
	}
	return bestValue, &selectorDecision{index: best, child: bestDecision}
}

func (s *Selector) Activate(agent AgentData, decision DecisionData) ExecutionStatus {
	choice, ok := decision.(*selectorDecision)
	if !ok {
		_, d := s.Decide(agent)
		if choice, ok = d.(*selectorDecision); !ok {
			return StatusFailed
		}
	}
	status := activateChild(agent, s.Children[choice.index], choice.child)
	if status == StatusRunning {
		agent.SetTaskData(&selectorData{active: choice.index})
	}
	return status
}

func (s *Selector) Update(agent AgentData) ExecutionStatus {
	data := GetTaskData[*selectorData](agent)
	status := updateChild(agent, s.Children[data.active])
	if status != StatusRunning {
		agent.SetTaskData(nil)
	}
	return status
}

func (s *Selector) Deactivate(agent AgentData) {
	data, ok := lookupTaskData[*selectorData](agent)
	if !ok {
		return
	}
	deactivateChild(agent, s.Children[data.active])
	agent.SetTaskData(nil)
}

func (s *Selector) ActiveChild(agent AgentData) Task {
	if data, ok := lookupTaskData[*selectorData](agent); ok {
		return s.Children[data.active]
	}
	return nil
}

func (s *Selector) String() string { return named(s.Name, "Selector") }

// Sequence runs its children in order. Every child must be eligible and
// succeed; the first ineligible or failed child fails the sequence and later
// children are never touched.
type Sequence struct {
	Name     string
	Children []Task
}

var _ Task = (*Sequence)(nil)

func NewSequence(children ...Task) *Sequence {
	return &Sequence{Children: children}
}

type sequenceDecision struct {
	child DecisionData
}

type sequenceData struct {
	current int
}

// Decide is the first child's decision; an empty sequence always runs.
func (s *Sequence) Decide(agent AgentData) (float64, DecisionData) {
	if len(s.Children) == 0 {
		return 1, nil
	}
	value, decision := decideChild(agent, s.Children[0])
	return value, &sequenceDecision{child: decision}
}

func (s *Sequence) Activate(agent AgentData, decision DecisionData) ExecutionStatus {
	if len(s.Children) == 0 {
		return StatusSuccess
	}
	var status ExecutionStatus
	if d, ok := decision.(*sequenceDecision); ok {
		status = activateChild(agent, s.Children[0], d.child)
	} else {
		var eligible bool
		if status, eligible = decideAndActivate(agent, s.Children[0]); !eligible {
			return StatusFailed
		}
	}
	return s.advance(agent, 0, status)
}

func (s *Sequence) Update(agent AgentData) ExecutionStatus {
	data := GetTaskData[*sequenceData](agent)
	return s.advance(agent, data.current, updateChild(agent, s.Children[data.current]))
}

// advance continues from child i, whose latest status is given, within the
// same frame.
func (s *Sequence) advance(agent AgentData, i int, status ExecutionStatus) ExecutionStatus {
	for {
		switch status {
		case StatusRunning:
			if data, ok := lookupTaskData[*sequenceData](agent); ok {
				data.current = i
			} else {
				agent.SetTaskData(&sequenceData{current: i})
			}
			return StatusRunning
		case StatusFailed:
			agent.SetTaskData(nil)
			return StatusFailed
		}
		i++
		if i >= len(s.Children) {
			agent.SetTaskData(nil)
			return StatusSuccess
		}
		var eligible bool
		if status, eligible = decideAndActivate(agent, s.Children[i]); !eligible {
			agent.SetTaskData(nil)
			return StatusFailed
		}
	}
}

func (s *Sequence) Deactivate(agent AgentData) {
	data, ok := lookupTaskData[*sequenceData](agent)
	if !ok {
		return
	}
	deactivateChild(agent, s.Children[data.current])
	agent.SetTaskData(nil)
}

func (s *Sequence) ActiveChild(agent AgentData) Task {
	if data, ok := lookupTaskData[*sequenceData](agent); ok {
		return s.Children[data.current]
	}
	return nil
}

func (s *Sequence) String() string { return named(s.Name, "Sequence") }

// ParallelPolicy decides when a Parallel succeeds.
type ParallelPolicy int

const (
	// RequireAll succeeds once every eligible child has succeeded.
	RequireAll ParallelPolicy = iota
	// RequireOne succeeds as soon as one child has succeeded.
	RequireOne
)

// Parallel runs every eligible child side by side. Any failure fails the
// parallel and deactivates the children still running. No eligible child at
// all also fails it.
//
// Children share a decider level, so each one keeps the slots of its subtree
// in a private branch instead of the agent's stack.
type Parallel struct {
	Name     string
	Policy   ParallelPolicy
	Children []Task
}

var _ Task = (*Parallel)(nil)

func NewParallel(children ...Task) *Parallel {
	return &Parallel{Children: children}
}

type parallelData struct {
	statuses []ExecutionStatus
	branches []*branchAgent
}

// Decide is the highest child decision.
func (p *Parallel) Decide(agent AgentData) (float64, DecisionData) {
	if len(p.Children) == 0 {
		return 1, nil
	}
	best := 0.0
	for _, child := range p.Children {
		if value, _ := decideChild(agent, child); value > best {
			best = value
		}
	}
	return best, nil
}

func (p *Parallel) Activate(agent AgentData, _ DecisionData) ExecutionStatus {
	data := &parallelData{
		statuses: make([]ExecutionStatus, len(p.Children)),
		branches: make([]*branchAgent, len(p.Children)),
	}
	agent.SetTaskData(data)
	for i, child := range p.Children {
		data.branches[i] = newBranchAgent(agent)
		status, eligible := decideAndActivate(data.branches[i], child)
		if !eligible {
			status = StatusNone
		}
		data.statuses[i] = status
		if status == StatusFailed {
			return p.fail(agent, data)
		}
	}
	return p.settle(agent, data)
}

func (p *Parallel) Update(agent AgentData) ExecutionStatus {
	data := GetTaskData[*parallelData](agent)
	for i, child := range p.Children {
		if data.statuses[i] != StatusRunning {
			continue
		}
		branch := data.branches[i].rebase(agent)
		data.statuses[i] = updateChild(branch, child)
		if data.statuses[i] == StatusFailed {
			return p.fail(agent, data)
		}
	}
	return p.settle(agent, data)
}

func (p *Parallel) settle(agent AgentData, data *parallelData) ExecutionStatus {
	running, succeeded := 0, 0
	for _, status := range data.statuses {
		switch status {
		case StatusRunning:
			running++
		case StatusSuccess:
			succeeded++
		}
	}
	switch {
	case len(p.Children) > 0 && running == 0 && succeeded == 0:
		agent.SetTaskData(nil)
		return StatusFailed
	case p.Policy == RequireOne && succeeded > 0:
		p.stopRunning(agent, data)
		agent.SetTaskData(nil)
		return StatusSuccess
	case running == 0:
		agent.SetTaskData(nil)
		return StatusSuccess
	}
	return StatusRunning
}

func (p *Parallel) fail(agent AgentData, data *parallelData) ExecutionStatus {
	p.stopRunning(agent, data)
	agent.SetTaskData(nil)
	return StatusFailed
}

func (p *Parallel) stopRunning(agent AgentData, data *parallelData) {
	for i, status := range data.statuses {
		if status == StatusRunning {
			deactivateChild(data.branches[i].rebase(agent), p.Children[i])
			data.statuses[i] = StatusNone
		}
	}
}

func (p *Parallel) Deactivate(agent AgentData) {
	data, ok := lookupTaskData[*parallelData](agent)
	if !ok {
		return
	}
	p.stopRunning(agent, data)
	agent.SetTaskData(nil)
}

// RunningChildren lists the children still running for agent.
func (p *Parallel) RunningChildren(agent AgentData) []Task {
	data, ok := lookupTaskData[*parallelData](agent)
	if !ok {
		return nil
	}
	var out []Task
	for i, status := range data.statuses {
		if status == StatusRunning {
			out = append(out, p.Children[i])
		}
	}
	return out
}

type parallelBranch struct {
	agent AgentData
	task  Task
}

// runningBranches pairs every running child with the branch view it runs
// under. Called at the parallel's own decider level.
func (p *Parallel) runningBranches(agent AgentData) []parallelBranch {
	data, ok := lookupTaskData[*parallelData](agent)
	if !ok {
		return nil
	}
	var out []parallelBranch
	for i, status := range data.statuses {
		if status == StatusRunning {
			out = append(out, parallelBranch{agent: data.branches[i].rebase(agent), task: p.Children[i]})
		}
	}
	return out
}

func (p *Parallel) String() string { return named(p.Name, "Parallel") }

// branchAgent gives one parallel child its own task data slots for every
// level below the parallel. Everything else goes to the wrapped agent.
type branchAgent struct {
	AgentData
	base  int
	slots []TaskData
}

func newBranchAgent(agent AgentData) *branchAgent {
	return &branchAgent{AgentData: agent, base: agent.DeciderLevel()}
}

func (b *branchAgent) rebase(agent AgentData) *branchAgent {
	b.AgentData = agent
	return b
}

func (b *branchAgent) TaskData() TaskData {
	i := b.DeciderLevel() - b.base - 1
	switch {
	case i < 0:
		return b.AgentData.TaskData()
	case i >= len(b.slots):
		return nil
	}
	return b.slots[i]
}

func (b *branchAgent) SetTaskData(data TaskData) {
	i := b.DeciderLevel() - b.base - 1
	if i < 0 {
		b.AgentData.SetTaskData(data)
		return
	}
	if data == nil {
		if i < len(b.slots) {
			b.slots[i] = nil
			n := len(b.slots)
			for n > 0 && b.slots[n-1] == nil {
				n--
			}
			b.slots = b.slots[:n]
		}
		return
	}
	for len(b.slots) <= i {
		b.slots = append(b.slots, nil)
	}
	b.slots[i] = data
}
