package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"example.com/behavior-fleet/internal/agent"
	mqttc "example.com/behavior-fleet/internal/mqtt"
	"example.com/behavior-fleet/internal/scenario"
	mqttlib "github.com/eclipse/paho.mqtt.golang"
)

func main() {
	cfgPath := os.Getenv("AGENT_CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = agent.DefaultConfigPath
	}
	cfg, err := agent.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	spec, err := loadScenario(cfg.ScenarioPath)
	if err != nil {
		log.Fatalf("failed to load scenario: %v", err)
	}

	// subscriptions wait for the engine; OnConnect runs on its own goroutine
	ready := make(chan struct{})
	var engine *agent.Engine
	onConnect := func(c mqttlib.Client) {
		<-ready
		for _, topic := range engine.CommandTopics() {
			log.Printf("fleet %s subscribing to %s", engine.Config.FleetID, topic)
			token := c.Subscribe(topic, 0, engine.HandleMessage)
			token.Wait()
			if err := token.Error(); err != nil {
				log.Printf("MQTT subscribe error: %v", err)
			}
		}
	}
	fleetID := cfg.FleetID
	if fleetID == "" {
		fleetID = agent.DefaultFleetID
	}
	client := mqttc.NewClientWithHandler("fleet-"+fleetID, cfg.MQTTBroker, onConnect)
	defer client.Disconnect()

	engine, err = agent.NewEngine(cfg, spec, agent.NewRegistry(), client)
	if err != nil {
		log.Fatalf("failed to start fleet: %v", err)
	}
	close(ready)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := engine.Run(ctx); err != nil {
		log.Printf("fleet stopped: %v", err)
		return
	}
	log.Println("shutting down fleet")
}

func loadScenario(path string) (scenario.Spec, error) {
	if path == "" {
		log.Println("no scenario_path configured, using the built-in patrol scenario")
		return scenario.Parse(agent.DefaultScenario)
	}
	return scenario.Load(path)
}
