package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// StaleAfter is how long an agent may stay silent before it is reported
// offline.
const StaleAfter = time.Minute

type DB struct {
	SQL  *sql.DB
	Path string
}

// Agent is the last known state of one fleet agent.
type Agent struct {
	ID       int64     `json:"id"`
	AgentID  string    `json:"agent_id"`
	FleetID  string    `json:"fleet_id"`
	Tree     string    `json:"tree"`
	Status   string    `json:"status"`
	Online   bool      `json:"online"`
	Frame    uint64    `json:"frame"`
	Active   []string  `json:"active"`
	LastSeen time.Time `json:"last_seen"`
}

// Transition is one change of an agent's running task chain.
type Transition struct {
	ID        int64     `json:"id"`
	AgentID   string    `json:"agent_id"`
	Active    []string  `json:"active"`
	Status    string    `json:"status"`
	Frame     uint64    `json:"frame"`
	CreatedAt time.Time `json:"created_at"`
}

// Command is a command the controller sent to an agent, or to "all".
type Command struct {
	ID          int64     `json:"id"`
	Type        string    `json:"type"`
	Target      string    `json:"target"`
	PayloadJSON string    `json:"payload_json"`
	CreatedAt   time.Time `json:"created_at"`
}

type Scenario struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ConfigYAML  string `json:"config_yaml"`
}

func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := setup(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &DB{SQL: db, Path: path}, nil
}

func setup(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return err
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return err
	}
	// modernc SQLite creates new connections per goroutine unless capped.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return err
	}
	return migrate(db)
}

func (d *DB) Close() error { return d.SQL.Close() }

func migrate(db *sql.DB) error {
	ctx := context.Background()
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id TEXT NOT NULL UNIQUE,
			fleet_id TEXT,
			tree TEXT,
			status TEXT,
			online INTEGER NOT NULL DEFAULT 0,
			frame INTEGER NOT NULL DEFAULT 0,
			active_json TEXT,
			last_seen TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS transitions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id TEXT NOT NULL,
			active_json TEXT,
			status TEXT,
			frame INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS transitions_agent ON transitions (agent_id, id);`,
		`CREATE TABLE IF NOT EXISTS commands (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type TEXT NOT NULL,
			target TEXT,
			payload_json TEXT,
			created_at TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS scenarios (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			description TEXT,
			config_yaml TEXT
		);`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			log.Printf("migration failed: %v", err)
			return err
		}
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

const agentColumns = `id, agent_id, fleet_id, tree, status, online, frame, active_json, last_seen`

func scanAgent(row scanner, now time.Time) (Agent, error) {
	var a Agent
	var fleet, tree, status, active sql.NullString
	var lastSeen sql.NullTime
	var frame int64
	if err := row.Scan(&a.ID, &a.AgentID, &fleet, &tree, &status, &a.Online, &frame, &active, &lastSeen); err != nil {
		return Agent{}, err
	}
	a.FleetID = fleet.String
	a.Tree = tree.String
	a.Status = status.String
	a.Frame = uint64(frame)
	a.Active = decodeActive(active)
	if lastSeen.Valid {
		a.LastSeen = lastSeen.Time
	}
	if a.LastSeen.IsZero() || now.Sub(a.LastSeen) > StaleAfter {
		a.Online = false
	}
	return a, nil
}

func decodeActive(raw sql.NullString) []string {
	out := []string{}
	if raw.Valid && raw.String != "" {
		if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
			log.Printf("bad active_json %q: %v", raw.String, err)
			return []string{}
		}
	}
	return out
}

func encodeActive(active []string) (string, error) {
	if active == nil {
		active = []string{}
	}
	buf, err := json.Marshal(active)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

// UpsertAgentStatus stores the latest heartbeat of a.AgentID. A zero
// LastSeen is stamped with the current time.
func (d *DB) UpsertAgentStatus(ctx context.Context, a Agent) error {
	if strings.TrimSpace(a.AgentID) == "" {
		return errors.New("agent id required")
	}
	if a.LastSeen.IsZero() {
		a.LastSeen = time.Now().UTC()
	}
	active, err := encodeActive(a.Active)
	if err != nil {
		return err
	}
	_, err = d.SQL.ExecContext(ctx, `INSERT INTO agents (agent_id, fleet_id, tree, status, online, frame, active_json, last_seen) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(agent_id) DO UPDATE SET
	fleet_id=excluded.fleet_id,
	tree=excluded.tree,
	status=excluded.status,
	online=excluded.online,
	frame=excluded.frame,
	active_json=excluded.active_json,
	last_seen=excluded.last_seen`,
		a.AgentID, a.FleetID, a.Tree, a.Status, a.Online, int64(a.Frame), active, a.LastSeen.UTC())
	return err
}

func (d *DB) ListAgents(ctx context.Context) ([]Agent, error) {
	rows, err := d.SQL.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY agent_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	now := time.Now()
	agents := []Agent{}
	for rows.Next() {
		a, err := scanAgent(rows, now)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (d *DB) GetAgent(ctx context.Context, agentID string) (Agent, error) {
	row := d.SQL.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE agent_id = ?`, agentID)
	a, err := scanAgent(row, time.Now())
	if errors.Is(err, sql.ErrNoRows) {
		return Agent{}, fmt.Errorf("agent %s: %w", agentID, ErrNotFound)
	}
	return a, err
}

// DeleteAgent removes the agent and its transitions.
func (d *DB) DeleteAgent(ctx context.Context, agentID string) error {
	tx, err := d.SQL.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `DELETE FROM agents WHERE agent_id = ?`, agentID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("agent %s: %w", agentID, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM transitions WHERE agent_id = ?`, agentID); err != nil {
		return err
	}
	return tx.Commit()
}

// RecordTransition appends t and updates the agent's active chain. A zero
// CreatedAt is stamped with the current time.
func (d *DB) RecordTransition(ctx context.Context, t Transition) (int64, error) {
	if strings.TrimSpace(t.AgentID) == "" {
		return 0, errors.New("agent id required")
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	active, err := encodeActive(t.Active)
	if err != nil {
		return 0, err
	}
	tx, err := d.SQL.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `INSERT INTO transitions (agent_id, active_json, status, frame, created_at) VALUES (?, ?, ?, ?, ?)`,
		t.AgentID, active, t.Status, int64(t.Frame), t.CreatedAt.UTC())
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO agents (agent_id, status, online, frame, active_json, last_seen) VALUES (?, ?, 1, ?, ?, ?)
ON CONFLICT(agent_id) DO UPDATE SET
	status=excluded.status,
	online=1,
	frame=excluded.frame,
	active_json=excluded.active_json,
	last_seen=excluded.last_seen`,
		t.AgentID, t.Status, int64(t.Frame), active, t.CreatedAt.UTC()); err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

// ListTransitions returns the newest transitions of agentID first. limit <= 0
// means 100.
func (d *DB) ListTransitions(ctx context.Context, agentID string, limit int) ([]Transition, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.SQL.QueryContext(ctx, `SELECT id, agent_id, active_json, status, frame, created_at FROM transitions WHERE agent_id = ? ORDER BY id DESC LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	transitions := []Transition{}
	for rows.Next() {
		var t Transition
		var active, status sql.NullString
		var frame int64
		var createdAt sql.NullTime
		if err := rows.Scan(&t.ID, &t.AgentID, &active, &status, &frame, &createdAt); err != nil {
			return nil, err
		}
		t.Active = decodeActive(active)
		t.Status = status.String
		t.Frame = uint64(frame)
		if createdAt.Valid {
			t.CreatedAt = createdAt.Time
		}
		transitions = append(transitions, t)
	}
	return transitions, rows.Err()
}

func (d *DB) CreateCommand(ctx context.Context, c Command) (int64, error) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	res, err := d.SQL.ExecContext(ctx, `INSERT INTO commands (type, target, payload_json, created_at) VALUES (?, ?, ?, ?)`,
		c.Type, c.Target, c.PayloadJSON, c.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListCommands returns commands for target, or all commands when target is
// empty, newest first.
func (d *DB) ListCommands(ctx context.Context, target string) ([]Command, error) {
	query := `SELECT id, type, target, payload_json, created_at FROM commands`
	var args []any
	if target != "" {
		query += ` WHERE target = ?`
		args = append(args, target)
	}
	rows, err := d.SQL.QueryContext(ctx, query+` ORDER BY id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	commands := []Command{}
	for rows.Next() {
		var c Command
		var target, payload sql.NullString
		var createdAt sql.NullTime
		if err := rows.Scan(&c.ID, &c.Type, &target, &payload, &createdAt); err != nil {
			return nil, err
		}
		c.Target = target.String
		c.PayloadJSON = payload.String
		if createdAt.Valid {
			c.CreatedAt = createdAt.Time
		}
		commands = append(commands, c)
	}
	return commands, rows.Err()
}

func (d *DB) ListScenarios(ctx context.Context) ([]Scenario, error) {
	rows, err := d.SQL.QueryContext(ctx, `SELECT id, name, description, config_yaml FROM scenarios ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	scenarios := []Scenario{}
	for rows.Next() {
		var s Scenario
		var desc sql.NullString
		if err := rows.Scan(&s.ID, &s.Name, &desc, &s.ConfigYAML); err != nil {
			return nil, err
		}
		s.Description = desc.String
		scenarios = append(scenarios, s)
	}
	return scenarios, rows.Err()
}

func (d *DB) GetScenario(ctx context.Context, id int64) (Scenario, error) {
	var s Scenario
	var desc sql.NullString
	err := d.SQL.QueryRowContext(ctx, `SELECT id, name, description, config_yaml FROM scenarios WHERE id = ?`, id).
		Scan(&s.ID, &s.Name, &desc, &s.ConfigYAML)
	if errors.Is(err, sql.ErrNoRows) {
		return Scenario{}, fmt.Errorf("scenario %d: %w", id, ErrNotFound)
	}
	s.Description = desc.String
	return s, err
}

func (d *DB) CreateScenario(ctx context.Context, s Scenario) (int64, error) {
	res, err := d.SQL.ExecContext(ctx, `INSERT INTO scenarios (name, description, config_yaml) VALUES (?, ?, ?)`, s.Name, s.Description, s.ConfigYAML)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (d *DB) UpdateScenario(ctx context.Context, s Scenario) error {
	res, err := d.SQL.ExecContext(ctx, `UPDATE scenarios SET name = ?, description = ?, config_yaml = ? WHERE id = ?`, s.Name, s.Description, s.ConfigYAML, s.ID)
	if err != nil {
		return err
	}
	return expectRow(res, fmt.Sprintf("scenario %d", s.ID))
}

func (d *DB) DeleteScenario(ctx context.Context, id int64) error {
	res, err := d.SQL.ExecContext(ctx, `DELETE FROM scenarios WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectRow(res, fmt.Sprintf("scenario %d", id))
}

func expectRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
