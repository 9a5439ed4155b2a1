package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"strings"
	"time"

	"example.com/behavior-fleet/internal/agent/behavior"
	mqttc "example.com/behavior-fleet/internal/mqtt"
	"example.com/behavior-fleet/internal/scenario"
	mqttlib "github.com/eclipse/paho.mqtt.golang"
	bt "github.com/joeycumines/go-behaviortree"
)

// Blackboard keys the runner maintains.
const (
	KeyAgentID = "agent_id"
	KeyFleetID = "fleet_id"
)

// Publisher sends agent updates to the controller. *mqttc.Client satisfies
// it.
type Publisher interface {
	Publish(topic string, payload []byte) error
	PublishRetained(topic string, payload []byte) error
}

// StatusPayload is the retained heartbeat on fleet/status/<agent>.
type StatusPayload struct {
	Agent       string   `json:"agent"`
	Fleet       string   `json:"fleet"`
	Tree        string   `json:"tree,omitempty"`
	Online      bool     `json:"online"`
	Status      string   `json:"status"`
	Frame       uint64   `json:"frame"`
	Active      []string `json:"active"`
	LastCommand *Job     `json:"last_command,omitempty"`
	TS          string   `json:"ts"`
}

// ActivePayload is published on fleet/active/<agent> whenever the agent's
// running chain changes.
type ActivePayload struct {
	Agent  string   `json:"agent"`
	Active []string `json:"active"`
	Status string   `json:"status"`
	Frame  uint64   `json:"frame"`
	TS     string   `json:"ts"`
}

// Engine runs one behavior tree for every configured agent. Each agent is
// ticked by its own go-behaviortree ticker; all tickers share one manager.
type Engine struct {
	Config Config
	Tree   *behavior.Tree
	// Blackboard is the fleet-wide parent of every agent blackboard.
	Blackboard *behavior.Blackboard

	publisher Publisher
	agents    []*Agent
	byID      map[string]*Agent
}

func NewEngine(cfg Config, spec scenario.Spec, reg *scenario.Registry, pub Publisher) (*Engine, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	e := &Engine{
		Config:     cfg,
		Blackboard: behavior.NewBlackboard(),
		publisher:  pub,
		byID:       make(map[string]*Agent, len(cfg.AgentIDs)),
	}
	tree, err := spec.Build(reg, behavior.WithActiveTasksObserver(e.onActiveTasks))
	if err != nil {
		return nil, fmt.Errorf("build tree: %w", err)
	}
	e.Tree = tree

	spec.Seed(e.Blackboard)
	e.Blackboard.SetValue(KeyFleetID, cfg.FleetID)

	for _, id := range cfg.AgentIDs {
		a := newAgent(e, id)
		e.agents = append(e.agents, a)
		e.byID[id] = a
	}
	return e, nil
}

// Agents returns the agents in configuration order.
func (e *Engine) Agents() []*Agent { return e.agents }

func (e *Engine) Agent(id string) (*Agent, bool) {
	a, ok := e.byID[id]
	return a, ok
}

// CommandTopics lists the topics the runner must subscribe to: one per
// agent plus the broadcast topic.
func (e *Engine) CommandTopics() []string {
	topics := make([]string, 0, len(e.agents)+1)
	for _, a := range e.agents {
		topics = append(topics, mqttc.CommandTopic(a.ID))
	}
	return append(topics, mqttc.BroadcastCommandTopic)
}

// Run ticks every agent until ctx is done, then deactivates the trees and
// publishes a final offline status for each agent.
func (e *Engine) Run(ctx context.Context) error {
	manager := bt.NewManager()
	for _, a := range e.agents {
		if err := manager.Add(bt.NewTicker(ctx, e.Config.TickInterval, a.node())); err != nil {
			manager.Stop()
			return fmt.Errorf("start agent %s: %w", a.ID, err)
		}
	}
	log.Printf("fleet %s running %q for %d agent(s) every %s", e.Config.FleetID, e.Tree.Name, len(e.agents), e.Config.TickInterval)

	select {
	case <-ctx.Done():
	case <-manager.Done():
	}
	manager.Stop()
	<-manager.Done()

	for _, a := range e.agents {
		a.shutdown()
	}
	if ctx.Err() != nil {
		return nil
	}
	return manager.Err()
}

// HandleMessage is the MQTT handler for command topics.
func (e *Engine) HandleMessage(_ mqttlib.Client, msg mqttlib.Message) {
	if err := e.Dispatch(msg.Topic(), msg.Payload()); err != nil {
		log.Printf("command on %s rejected: %v", msg.Topic(), err)
	}
}

// Dispatch routes a raw command to the agent named by topic, or to every
// agent for the broadcast topic.
func (e *Engine) Dispatch(topic string, payload []byte) error {
	id, ok := mqttc.AgentFromTopic(topic)
	if !ok || !strings.HasPrefix(topic, mqttc.CommandTopicPrefix) {
		return fmt.Errorf("not a command topic: %s", topic)
	}
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("invalid command JSON: %w", err)
	}
	if err := cmd.Validate(); err != nil {
		return err
	}
	if topic == mqttc.BroadcastCommandTopic {
		return e.Broadcast(cmd)
	}
	a, ok := e.byID[id]
	if !ok {
		return fmt.Errorf("unknown agent %q", id)
	}
	return a.Enqueue(cmd)
}

// Broadcast applies set and delete to the fleet blackboard right away, which
// every agent sees through its parent chain. Other commands are queued on
// each agent.
func (e *Engine) Broadcast(cmd Command) error {
	switch cmd.Type {
	case CommandSet, CommandDelete:
		if err := applyBlackboard(e.Blackboard, cmd); err != nil {
			return err
		}
		log.Printf("fleet %s: applied %s", e.Config.FleetID, cmd.Type)
		return nil
	}
	var errs []error
	for _, a := range e.agents {
		errs = append(errs, a.Enqueue(cmd))
	}
	return errors.Join(errs...)
}

func (e *Engine) onActiveTasks(agent behavior.AgentData, active []behavior.Task) {
	a, ok := agent.(*Agent)
	if !ok {
		return
	}
	payload := ActivePayload{
		Agent:  a.ID,
		Active: behavior.DescribeAll(active),
		Status: a.Status().String(),
		Frame:  a.frame,
		TS:     time.Now().UTC().Format(time.RFC3339Nano),
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		log.Printf("active marshal error: %v", err)
		return
	}
	e.publish(mqttc.ActiveTopic(a.ID), false, buf)
}

func (e *Engine) publish(topic string, retained bool, payload []byte) {
	if e.publisher == nil {
		return
	}
	var err error
	if retained {
		err = e.publisher.PublishRetained(topic, payload)
	} else {
		err = e.publisher.Publish(topic, payload)
	}
	if err != nil {
		log.Printf("publish error: %v", err)
	}
}

// Agent is one simulated agent: the per-agent behavior state plus its command
// queue. It satisfies behavior.AgentData.
type Agent struct {
	*behavior.AgentState
	ID   string
	Jobs *JobManager

	engine        *Engine
	cmdChan       chan Command
	frame         uint64
	lastStatus    behavior.ExecutionStatus
	lastHeartbeat time.Time
}

func newAgent(e *Engine, id string) *Agent {
	state := behavior.NewAgentState(behavior.NewBlackboard(e.Blackboard))
	state.SetLogEnabled(e.Config.LogEnabled)
	state.SetLogger(slog.Default().With("agent", id))
	a := &Agent{
		AgentState: state,
		ID:         id,
		Jobs:       NewJobManager(0),
		engine:     e,
		cmdChan:    make(chan Command, 16),
	}
	a.seed()
	return a
}

func (a *Agent) seed() {
	a.Blackboard().SetValue(KeyAgentID, a.ID)
}

// Frame is the number of completed steps.
func (a *Agent) Frame() uint64 { return a.frame }

// Enqueue hands cmd to the agent's ticker goroutine. It never blocks.
func (a *Agent) Enqueue(cmd Command) error {
	select {
	case a.cmdChan <- cmd:
		return nil
	default:
		return fmt.Errorf("agent %s: command queue full, dropping %s", a.ID, cmd.Type)
	}
}

// Step applies queued commands, updates the tree once and publishes a
// heartbeat when the status changed or the heartbeat interval elapsed.
func (a *Agent) Step(now time.Time) behavior.ExecutionStatus {
	a.applyCommands()
	a.frame++
	status := a.engine.Tree.Update(a)
	if status != a.lastStatus || now.Sub(a.lastHeartbeat) >= a.engine.Config.HeartbeatInterval {
		a.publishStatus(now, true)
	}
	a.lastStatus = status
	return status
}

func (a *Agent) node() bt.Node {
	return bt.New(func([]bt.Node) (status bt.Status, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("agent %s: tree panicked: %v", a.ID, r)
			}
		}()
		return btStatus(a.Step(time.Now())), nil
	})
}

func btStatus(s behavior.ExecutionStatus) bt.Status {
	switch s {
	case behavior.StatusRunning:
		return bt.Running
	case behavior.StatusSuccess:
		return bt.Success
	default:
		return bt.Failure
	}
}

func (a *Agent) applyCommands() {
	for {
		select {
		case cmd := <-a.cmdChan:
			err := a.apply(cmd)
			a.Jobs.Record(cmd, err)
			if err != nil {
				log.Printf("[agent %s] %s failed: %v", a.ID, cmd.Type, err)
			}
		default:
			return
		}
	}
}

func (a *Agent) apply(cmd Command) error {
	switch cmd.Type {
	case CommandSet, CommandDelete:
		return applyBlackboard(a.Blackboard(), cmd)
	case CommandReset:
		a.engine.Tree.Deactivate(a)
		a.Blackboard().Clear()
		a.seed()
		return nil
	case CommandLog:
		var d LogData
		if err := cmd.decode(&d); err != nil {
			return err
		}
		a.SetLogEnabled(d.Enabled)
		return nil
	default:
		return fmt.Errorf("unknown command type: %q", cmd.Type)
	}
}

func applyBlackboard(bb *behavior.Blackboard, cmd Command) error {
	switch cmd.Type {
	case CommandSet:
		var d SetData
		if err := cmd.decode(&d); err != nil {
			return err
		}
		bb.SetValue(d.Key, d.Value)
	case CommandDelete:
		var d DeleteData
		if err := cmd.decode(&d); err != nil {
			return err
		}
		bb.Delete(d.Key)
	default:
		return fmt.Errorf("%s is not a blackboard command", cmd.Type)
	}
	return nil
}

// Snapshot builds the agent's current status payload.
func (a *Agent) Snapshot(now time.Time, online bool) StatusPayload {
	active := a.ActiveTasks()
	return StatusPayload{
		Agent:       a.ID,
		Fleet:       a.engine.Config.FleetID,
		Tree:        a.engine.Tree.Name,
		Online:      online,
		Status:      a.Status().String(),
		Frame:       a.frame,
		Active:      behavior.DescribeAll(active),
		LastCommand: a.Jobs.Last(),
		TS:          now.UTC().Format(time.RFC3339Nano),
	}
}

func (a *Agent) publishStatus(now time.Time, online bool) {
	buf, err := json.Marshal(a.Snapshot(now, online))
	if err != nil {
		log.Printf("status marshal error: %v", err)
		return
	}
	a.engine.publish(mqttc.StatusTopic(a.ID), true, buf)
	a.lastHeartbeat = now
}

func (a *Agent) shutdown() {
	a.engine.Tree.Deactivate(a)
	a.publishStatus(time.Now(), false)
}
