package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"example.com/behavior-fleet/internal/agent"
	"example.com/behavior-fleet/internal/db"
)

// Event kinds pushed to SSE and websocket clients.
const (
	EventStatus     = "status"
	EventTransition = "transition"
)

// Event is one live update about an agent.
type Event struct {
	Kind  string      `json:"kind"`
	Agent string      `json:"agent"`
	Data  interface{} `json:"data"`
}

// IngestStatus stores a heartbeat published on fleet/status/<agent>.
func (c *Controller) IngestStatus(ctx context.Context, agentID string, payload []byte) error {
	var status agent.StatusPayload
	if err := json.Unmarshal(payload, &status); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}
	if status.Agent == "" {
		status.Agent = agentID
	}
	if status.Agent != agentID {
		return fmt.Errorf("status for %q published on topic of %q", status.Agent, agentID)
	}
	row := db.Agent{
		AgentID: status.Agent,
		FleetID: status.Fleet,
		Tree:    status.Tree,
		Status:  status.Status,
		Online:  status.Online,
		Frame:   status.Frame,
		Active:  status.Active,
	}
	if err := c.DB.UpsertAgentStatus(ctx, row); err != nil {
		return fmt.Errorf("upsert agent: %w", err)
	}
	c.emit(Event{Kind: EventStatus, Agent: status.Agent, Data: status})
	return nil
}

// IngestActive records a running chain change published on
// fleet/active/<agent>.
func (c *Controller) IngestActive(ctx context.Context, agentID string, payload []byte) error {
	var active agent.ActivePayload
	if err := json.Unmarshal(payload, &active); err != nil {
		return fmt.Errorf("decode active: %w", err)
	}
	if active.Agent == "" {
		active.Agent = agentID
	}
	if active.Agent != agentID {
		return fmt.Errorf("transition for %q published on topic of %q", active.Agent, agentID)
	}
	t := db.Transition{
		AgentID: active.Agent,
		Active:  active.Active,
		Status:  active.Status,
		Frame:   active.Frame,
	}
	id, err := c.DB.RecordTransition(ctx, t)
	if err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	t.ID = id
	c.emit(Event{Kind: EventTransition, Agent: active.Agent, Data: t})
	return nil
}

func (c *Controller) emit(ev Event) {
	if c.Events == nil {
		return
	}
	buf, err := json.Marshal(ev)
	if err != nil {
		log.Printf("event marshal: %v", err)
		return
	}
	c.Events.Broadcast(string(buf))
}
