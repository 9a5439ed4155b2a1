package agent

import (
	"encoding/json"
	"fmt"
)

// Command types understood by the runner.
const (
	CommandSet    = "set"
	CommandDelete = "delete"
	CommandReset  = "reset"
	CommandLog    = "log"
)

// Command represents a controller-issued instruction handled by an agent.
type Command struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// SetData writes one blackboard value.
type SetData struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// DeleteData removes one blackboard value.
type DeleteData struct {
	Key string `json:"key"`
}

// LogData switches tree tracing.
type LogData struct {
	Enabled bool `json:"enabled"`
}

// NewCommand builds a command with data marshalled into it.
func NewCommand(typ string, data any) (Command, error) {
	cmd := Command{Type: typ}
	if data == nil {
		return cmd, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return cmd, fmt.Errorf("marshal %s data: %w", typ, err)
	}
	cmd.Data = raw
	return cmd, nil
}

// Validate checks that the command type is known and its data decodes.
func (c Command) Validate() error {
	switch c.Type {
	case CommandSet:
		var d SetData
		if err := c.decode(&d); err != nil {
			return err
		}
		if d.Key == "" {
			return fmt.Errorf("%s: key is required", c.Type)
		}
	case CommandDelete:
		var d DeleteData
		if err := c.decode(&d); err != nil {
			return err
		}
		if d.Key == "" {
			return fmt.Errorf("%s: key is required", c.Type)
		}
	case CommandLog:
		var d LogData
		return c.decode(&d)
	case CommandReset:
	default:
		return fmt.Errorf("unknown command type: %q", c.Type)
	}
	return nil
}

func (c Command) decode(v any) error {
	if len(c.Data) == 0 {
		return fmt.Errorf("%s: data is required", c.Type)
	}
	if err := json.Unmarshal(c.Data, v); err != nil {
		return fmt.Errorf("%s payload: %w", c.Type, err)
	}
	return nil
}
