package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"example.com/behavior-fleet/internal/agent"
	"example.com/behavior-fleet/internal/db"
	mqttc "example.com/behavior-fleet/internal/mqtt"
)

type commandRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (c *Controller) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := c.DB.ListAgents(r.Context())
	if err != nil {
		log.Printf("list agents: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to list agents")
		return
	}
	respondJSON(w, http.StatusOK, agents)
}

func (c *Controller) GetAgent(w http.ResponseWriter, r *http.Request) {
	id, err := parseAgentPath(r.URL.Path, "")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid agent id")
		return
	}
	a, err := c.DB.GetAgent(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(w, http.StatusNotFound, "agent not found")
			return
		}
		log.Printf("get agent: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to fetch agent")
		return
	}
	respondJSON(w, http.StatusOK, a)
}

func (c *Controller) DeleteAgent(w http.ResponseWriter, r *http.Request) {
	id, err := parseAgentPath(r.URL.Path, "")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid agent id")
		return
	}
	if err := c.DB.DeleteAgent(r.Context(), id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(w, http.StatusNotFound, "agent not found")
			return
		}
		log.Printf("delete agent: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to delete agent")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *Controller) ListTransitions(w http.ResponseWriter, r *http.Request) {
	id, err := parseAgentPath(r.URL.Path, "/transitions")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}
	transitions, err := c.DB.ListTransitions(r.Context(), id, limit)
	if err != nil {
		log.Printf("list transitions: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to list transitions")
		return
	}
	respondJSON(w, http.StatusOK, transitions)
}

func (c *Controller) AgentCommand(w http.ResponseWriter, r *http.Request) {
	id, err := parseAgentPath(r.URL.Path, "/command")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := c.DB.GetAgent(r.Context(), id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(w, http.StatusNotFound, "agent not found")
			return
		}
		log.Printf("fetch agent for command: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to fetch agent")
		return
	}
	cmd, ok := decodeCommand(w, r)
	if !ok {
		return
	}
	record, err := c.sendCommand(r.Context(), id, cmd)
	if err != nil {
		log.Printf("send command: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to send command")
		return
	}
	respondJSON(w, http.StatusCreated, record)
}

func (c *Controller) BroadcastCommand(w http.ResponseWriter, r *http.Request) {
	cmd, ok := decodeCommand(w, r)
	if !ok {
		return
	}
	record, err := c.sendCommand(r.Context(), "all", cmd)
	if err != nil {
		log.Printf("send broadcast: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to send command")
		return
	}
	respondJSON(w, http.StatusCreated, record)
}

func decodeCommand(w http.ResponseWriter, r *http.Request) (agent.Command, bool) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid command payload")
		return agent.Command{}, false
	}
	cmd, err := req.command()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return agent.Command{}, false
	}
	return cmd, true
}

func (req commandRequest) command() (agent.Command, error) {
	if req.Type == "" {
		return agent.Command{}, errors.New("command type required")
	}
	cmd := agent.Command{Type: req.Type, Data: req.Data}
	if err := cmd.Validate(); err != nil {
		return agent.Command{}, err
	}
	return cmd, nil
}

// sendCommand records cmd and publishes it on the target's command topic;
// target "all" is the broadcast topic.
func (c *Controller) sendCommand(ctx context.Context, target string, cmd agent.Command) (db.Command, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return db.Command{}, fmt.Errorf("marshal command: %w", err)
	}
	record := db.Command{
		Type:        cmd.Type,
		Target:      target,
		PayloadJSON: string(payload),
	}
	id, err := c.DB.CreateCommand(ctx, record)
	if err != nil {
		return db.Command{}, fmt.Errorf("create command: %w", err)
	}
	record.ID = id
	topic := mqttc.CommandTopic(target)
	log.Printf("command %s sent to %s", cmd.Type, topic)
	if c.MQTT != nil {
		if err := c.MQTT.Publish(topic, payload); err != nil {
			return db.Command{}, err
		}
	}
	return record, nil
}

func (c *Controller) ListCommands(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("agent")
	commands, err := c.DB.ListCommands(r.Context(), target)
	if err != nil {
		log.Printf("list commands: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to list commands")
		return
	}
	respondJSON(w, http.StatusOK, commands)
}
