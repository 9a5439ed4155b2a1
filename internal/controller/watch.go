package controller

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	watchWriteWait  = 10 * time.Second
	watchPongWait   = 60 * time.Second
	watchPingPeriod = watchPongWait * 9 / 10
)

// EventCommand acknowledges a command sent over a watch socket.
const EventCommand = "command"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type watchError struct {
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// WatchAgent streams one agent's live events over a websocket. The first
// frame is the stored agent row, if any. Text frames from the client are
// decoded as commands and sent to the agent.
func (c *Controller) WatchAgent(w http.ResponseWriter, r *http.Request) {
	id, err := parseAgentPath(r.URL.Path, "/watch")
	if err != nil {
		http.Error(w, "invalid agent id", http.StatusBadRequest)
		return
	}
	if c.Events == nil {
		http.Error(w, "live events unavailable", http.StatusServiceUnavailable)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade: %v", err)
		return
	}
	defer ws.Close()

	events := c.Events.Subscribe()
	defer c.Events.Unsubscribe(events)

	if a, err := c.DB.GetAgent(r.Context(), id); err == nil {
		if err := writeJSON(ws, Event{Kind: EventStatus, Agent: id, Data: a}); err != nil {
			return
		}
	}

	replies := make(chan interface{}, 4)
	done := make(chan struct{})
	go c.readWatchCommands(r.Context(), ws, id, replies, done)

	ping := time.NewTicker(watchPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case reply := <-replies:
			if err := writeJSON(ws, reply); err != nil {
				return
			}
		case msg, ok := <-events:
			if !ok {
				return
			}
			if eventAgent(msg) != id {
				continue
			}
			_ = ws.SetWriteDeadline(time.Now().Add(watchWriteWait))
			if err := ws.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(watchWriteWait)); err != nil {
				return
			}
		}
	}
}

func (c *Controller) readWatchCommands(ctx context.Context, ws *websocket.Conn, id string, replies chan<- interface{}, done chan<- struct{}) {
	defer close(done)
	_ = ws.SetReadDeadline(time.Now().Add(watchPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(watchPongWait))
	})
	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var reply interface{}
		var req commandRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			reply = watchError{Kind: "error", Error: "invalid command payload"}
		} else if cmd, err := req.command(); err != nil {
			reply = watchError{Kind: "error", Error: err.Error()}
		} else if record, err := c.sendCommand(ctx, id, cmd); err != nil {
			log.Printf("watch command: %v", err)
			reply = watchError{Kind: "error", Error: "failed to send command"}
		} else {
			reply = Event{Kind: EventCommand, Agent: id, Data: record}
		}
		select {
		case replies <- reply:
		case <-ctx.Done():
			return
		}
	}
}

func writeJSON(ws *websocket.Conn, v interface{}) error {
	_ = ws.SetWriteDeadline(time.Now().Add(watchWriteWait))
	return ws.WriteJSON(v)
}

func eventAgent(msg string) string {
	var ev struct {
		Agent string `json:"agent"`
	}
	if err := json.Unmarshal([]byte(msg), &ev); err != nil {
		return ""
	}
	return ev.Agent
}
