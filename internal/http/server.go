package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"example.com/behavior-fleet/internal/controller"
	"example.com/behavior-fleet/internal/db"
	mqttc "example.com/behavior-fleet/internal/mqtt"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// DefaultAddr is used when HTTP_ADDR is unset.
const DefaultAddr = ":8080"

type Server struct {
	DB         *db.DB
	MQTT       *mqttc.Client
	Events     *SSEBroker
	Controller *controller.Controller
}

// NewServer opens the store and connects to the broker. Status and
// transition subscriptions are made on every (re)connect.
func NewServer(dbPath, broker string) (*Server, error) {
	dbConn, err := db.Open(dbPath)
	if err != nil {
		return nil, err
	}
	s := newServer(dbConn)
	s.MQTT = mqttc.NewClientWithHandler("controller", broker, s.onConnect)
	s.Controller.MQTT = s.MQTT
	return s, nil
}

func newServer(dbConn *db.DB) *Server {
	events := NewSSEBroker()
	return &Server{
		DB:         dbConn,
		Events:     events,
		Controller: controller.New(dbConn, nil, events),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/agents", s.handleListAgents)
	mux.HandleFunc("/api/agents/command/broadcast", s.handleAgentCommandBroadcast)
	mux.HandleFunc("/api/agents/", s.handleAgentSubroutes)
	mux.HandleFunc("/api/scenarios", s.handleScenariosCollection)
	mux.HandleFunc("/api/scenarios/validate", s.handleValidateScenario)
	mux.HandleFunc("/api/scenarios/", s.handleScenarioItem)
	mux.HandleFunc("/api/commands", s.handleListCommands)
	mux.HandleFunc("/api/events", s.handleEvents)
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := DefaultAddr
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		addr = v
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Printf("controller listening on %s", addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	// open event streams would otherwise hold Shutdown until its deadline
	s.Events.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Close() error {
	s.Events.Close()
	s.MQTT.Disconnect()
	return s.DB.Close()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	s.Controller.Health(w, r)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	s.Controller.ListAgents(w, r)
}

func (s *Server) handleAgentSubroutes(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case strings.HasSuffix(trimmed, "/command"):
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.Controller.AgentCommand(w, r)
	case strings.HasSuffix(trimmed, "/transitions"):
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.Controller.ListTransitions(w, r)
	case strings.HasSuffix(trimmed, "/watch"):
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.Controller.WatchAgent(w, r)
	default:
		switch r.Method {
		case http.MethodGet:
			s.Controller.GetAgent(w, r)
		case http.MethodDelete:
			s.Controller.DeleteAgent(w, r)
		default:
			methodNotAllowed(w)
		}
	}
}

func (s *Server) handleAgentCommandBroadcast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	s.Controller.BroadcastCommand(w, r)
}

func (s *Server) handleScenariosCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.Controller.ListScenarios(w, r)
	case http.MethodPost:
		s.Controller.CreateScenario(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleValidateScenario(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	s.Controller.ValidateScenario(w, r)
}

func (s *Server) handleScenarioItem(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.Controller.GetScenario(w, r)
	case http.MethodPut:
		s.Controller.UpdateScenario(w, r)
	case http.MethodDelete:
		s.Controller.DeleteScenario(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	s.Controller.ListCommands(w, r)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	s.Events.ServeHTTP(w, r)
}

func methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}

func (s *Server) onConnect(c mqtt.Client) {
	for _, topic := range []string{mqttc.StatusTopicPrefix + "+", mqttc.ActiveTopicPrefix + "+"} {
		log.Printf("controller subscribing to %s", topic)
		token := c.Subscribe(topic, 0, s.handleMessage)
		token.Wait()
		if err := token.Error(); err != nil {
			log.Printf("MQTT subscribe error: %v", err)
		}
	}
}

func (s *Server) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	if err := s.ingest(context.Background(), msg.Topic(), msg.Payload()); err != nil {
		log.Printf("ingest %s: %v", msg.Topic(), err)
	}
}

func (s *Server) ingest(ctx context.Context, topic string, payload []byte) error {
	agentID, ok := mqttc.AgentFromTopic(topic)
	if !ok {
		return fmt.Errorf("unable to parse agent id from topic %s", topic)
	}
	switch {
	case strings.HasPrefix(topic, mqttc.StatusTopicPrefix):
		return s.Controller.IngestStatus(ctx, agentID, payload)
	case strings.HasPrefix(topic, mqttc.ActiveTopicPrefix):
		return s.Controller.IngestActive(ctx, agentID, payload)
	default:
		return fmt.Errorf("unexpected topic %s", topic)
	}
}
