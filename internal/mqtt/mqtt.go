package mqttc

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// DefaultBroker is used when neither the caller nor MQTT_BROKER names one.
const DefaultBroker = "tcp://127.0.0.1:1883"

// Topic layout shared by agents and the controller.
const (
	TopicPrefix           = "fleet/"
	StatusTopicPrefix     = TopicPrefix + "status/"
	ActiveTopicPrefix     = TopicPrefix + "active/"
	CommandTopicPrefix    = TopicPrefix + "commands/"
	BroadcastCommandTopic = CommandTopicPrefix + "all"
)

func StatusTopic(agentID string) string { return StatusTopicPrefix + agentID }
func ActiveTopic(agentID string) string { return ActiveTopicPrefix + agentID }
func CommandTopic(agentID string) string { return CommandTopicPrefix + agentID }

// AgentFromTopic returns the trailing agent id of a status, active or command
// topic.
func AgentFromTopic(topic string) (string, bool) {
	for _, prefix := range []string{StatusTopicPrefix, ActiveTopicPrefix, CommandTopicPrefix} {
		if id, ok := strings.CutPrefix(topic, prefix); ok && id != "" && !strings.Contains(id, "/") {
			return id, true
		}
	}
	return "", false
}

type Client struct {
	Client mqtt.Client
}

// NewClient creates a client using environment/default broker.
func NewClient(clientID string) *Client {
	return NewClientWithBroker(clientID, "")
}

// NewClientWithBroker lets callers override the MQTT broker address.
func NewClientWithBroker(clientID, broker string) *Client {
	return NewClientWithHandler(clientID, broker, nil)
}

// NewClientWithHandler lets callers provide an OnConnect handler, which is
// where subscriptions belong so they survive reconnects.
func NewClientWithHandler(clientID, broker string, onConnect mqtt.OnConnectHandler) *Client {
	opts := mqtt.NewClientOptions().
		AddBroker(ResolveBroker(broker)).
		SetClientID(clientID).
		SetConnectTimeout(5 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true)

	if onConnect != nil {
		opts.SetOnConnectHandler(onConnect)
	}

	c := mqtt.NewClient(opts)
	if token := c.Connect(); token.WaitTimeout(10*time.Second) && token.Error() != nil {
		log.Printf("MQTT connect error: %v", token.Error())
	}
	return &Client{Client: c}
}

// ResolveBroker falls back to MQTT_BROKER, then DefaultBroker.
func ResolveBroker(broker string) string {
	if broker != "" {
		return broker
	}
	if env := os.Getenv("MQTT_BROKER"); env != "" {
		return env
	}
	return DefaultBroker
}

func (c *Client) Publish(topic string, payload []byte) error {
	return c.publish(topic, false, payload)
}

// PublishRetained publishes a message the broker keeps for late subscribers.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.publish(topic, true, payload)
}

func (c *Client) publish(topic string, retained bool, payload []byte) error {
	if c == nil || c.Client == nil {
		return nil
	}
	token := c.Client.Publish(topic, 0, retained, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (c *Client) Subscribe(topic string, handler mqtt.MessageHandler) {
	if c == nil || c.Client == nil {
		return
	}
	token := c.Client.Subscribe(topic, 0, handler)
	token.Wait()
	if token.Error() != nil {
		log.Printf("MQTT subscribe error: %v", token.Error())
	}
}

// Disconnect waits up to 250ms for in-flight work.
func (c *Client) Disconnect() {
	if c == nil || c.Client == nil {
		return
	}
	c.Client.Disconnect(250)
}
