package controller

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"example.com/behavior-fleet/internal/db"
)

// Publisher sends commands to agents. *mqttc.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Broker fans live events out to SSE and websocket clients.
type Broker interface {
	Broadcast(msg string)
	Subscribe() chan string
	Unsubscribe(ch chan string)
}

// Controller holds shared dependencies for HTTP handlers.
type Controller struct {
	DB     *db.DB
	MQTT   Publisher
	Events Broker
}

func New(dbConn *db.DB, mqttClient Publisher, events Broker) *Controller {
	return &Controller{DB: dbConn, MQTT: mqttClient, Events: events}
}

func (c *Controller) Health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func parseIDFromPath(path, prefix string) (int64, error) {
	if !strings.HasPrefix(path, prefix) {
		return 0, fmt.Errorf("invalid path")
	}
	tail := strings.TrimPrefix(path, prefix)
	tail = strings.Trim(tail, "/")
	if tail == "" {
		return 0, fmt.Errorf("missing id")
	}
	id, err := strconv.ParseInt(tail, 10, 64)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// parseAgentPath extracts the agent id from /api/agents/<id><suffix>.
func parseAgentPath(path, suffix string) (string, error) {
	const prefix = "/api/agents/"
	trimmed := strings.TrimSuffix(path, "/")
	if !strings.HasPrefix(trimmed, prefix) || !strings.HasSuffix(trimmed, suffix) {
		return "", fmt.Errorf("invalid agent path")
	}
	trimmed = strings.TrimSuffix(trimmed, suffix)
	trimmed = strings.TrimPrefix(trimmed, prefix)
	trimmed = strings.Trim(trimmed, "/")
	if trimmed == "" || strings.Contains(trimmed, "/") {
		return "", fmt.Errorf("missing agent id")
	}
	return trimmed, nil
}
