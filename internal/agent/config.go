package agent

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath        = "/etc/behavior-fleet/agent.yaml"
	DefaultTickInterval      = 100 * time.Millisecond
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultFleetID           = "default"
)

// Config represents the fleet runner's configuration.
type Config struct {
	FleetID string `yaml:"fleet_id"`
	// AgentIDs names agents explicitly. When Agents is larger, the rest get
	// generated ids.
	AgentIDs          []string      `yaml:"agent_ids"`
	Agents            int           `yaml:"agents"`
	MQTTBroker        string        `yaml:"mqtt_broker"`
	TickInterval      time.Duration `yaml:"tick_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ScenarioPath      string        `yaml:"scenario_path"`
	LogEnabled        bool          `yaml:"log_enabled"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("config file %s not found", path)
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Normalize(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Normalize fills defaults, generates missing agent ids and rejects
// configurations the runner cannot start.
func (c *Config) Normalize() error {
	if strings.TrimSpace(c.FleetID) == "" {
		c.FleetID = DefaultFleetID
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	ids := make([]string, 0, max(len(c.AgentIDs), c.Agents))
	for _, id := range c.AgentIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if id == "all" || strings.Contains(id, "/") {
			return fmt.Errorf("invalid agent id %q", id)
		}
		if slices.Contains(ids, id) {
			return fmt.Errorf("duplicate agent id %q", id)
		}
		ids = append(ids, id)
	}
	for len(ids) < c.Agents {
		ids = append(ids, uuid.NewString())
	}
	if len(ids) == 0 {
		return errors.New("config needs agent_ids or agents > 0")
	}
	c.AgentIDs = ids
	c.Agents = len(ids)
	return nil
}
