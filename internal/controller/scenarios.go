package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"example.com/behavior-fleet/internal/agent"
	"example.com/behavior-fleet/internal/db"
	"example.com/behavior-fleet/internal/scenario"
)

type scenarioRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ConfigYAML  string `json:"config_yaml"`
}

type validateResponse struct {
	Valid bool   `json:"valid"`
	Name  string `json:"name,omitempty"`
	Nodes int    `json:"nodes,omitempty"`
	Error string `json:"error,omitempty"`
}

func (c *Controller) ListScenarios(w http.ResponseWriter, r *http.Request) {
	scenarios, err := c.DB.ListScenarios(r.Context())
	if err != nil {
		log.Printf("list scenarios: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to list scenarios")
		return
	}
	respondJSON(w, http.StatusOK, scenarios)
}

func (c *Controller) GetScenario(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDFromPath(r.URL.Path, "/api/scenarios/")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid scenario id")
		return
	}
	s, err := c.DB.GetScenario(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(w, http.StatusNotFound, "scenario not found")
			return
		}
		log.Printf("get scenario: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to fetch scenario")
		return
	}
	respondJSON(w, http.StatusOK, s)
}

func (c *Controller) CreateScenario(w http.ResponseWriter, r *http.Request) {
	s, ok := decodeScenario(w, r)
	if !ok {
		return
	}
	id, err := c.DB.CreateScenario(r.Context(), s)
	if err != nil {
		log.Printf("create scenario: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to create scenario")
		return
	}
	s.ID = id
	respondJSON(w, http.StatusCreated, s)
}

func (c *Controller) UpdateScenario(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDFromPath(r.URL.Path, "/api/scenarios/")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid scenario id")
		return
	}
	s, ok := decodeScenario(w, r)
	if !ok {
		return
	}
	s.ID = id
	if err := c.DB.UpdateScenario(r.Context(), s); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(w, http.StatusNotFound, "scenario not found")
			return
		}
		log.Printf("update scenario: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to update scenario")
		return
	}
	respondJSON(w, http.StatusOK, s)
}

func (c *Controller) DeleteScenario(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDFromPath(r.URL.Path, "/api/scenarios/")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid scenario id")
		return
	}
	if err := c.DB.DeleteScenario(r.Context(), id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(w, http.StatusNotFound, "scenario not found")
			return
		}
		log.Printf("delete scenario: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to delete scenario")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ValidateScenario parses and builds a scenario against the agent's action
// registry without storing it.
func (c *Controller) ValidateScenario(w http.ResponseWriter, r *http.Request) {
	var req scenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid scenario payload")
		return
	}
	spec, err := compileScenario(req.ConfigYAML)
	if err != nil {
		respondJSON(w, http.StatusOK, validateResponse{Error: err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, validateResponse{
		Valid: true,
		Name:  spec.Name,
		Nodes: countNodes(spec.Root),
	})
}

func decodeScenario(w http.ResponseWriter, r *http.Request) (db.Scenario, bool) {
	var req scenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid scenario payload")
		return db.Scenario{}, false
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "scenario name required")
		return db.Scenario{}, false
	}
	if _, err := compileScenario(req.ConfigYAML); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid scenario config: %v", err))
		return db.Scenario{}, false
	}
	return db.Scenario{Name: req.Name, Description: req.Description, ConfigYAML: req.ConfigYAML}, true
}

func compileScenario(raw string) (scenario.Spec, error) {
	spec, err := scenario.Parse(raw)
	if err != nil {
		return scenario.Spec{}, err
	}
	if _, err := spec.Build(agent.NewRegistry()); err != nil {
		return scenario.Spec{}, err
	}
	return spec, nil
}

func countNodes(n *scenario.NodeSpec) int {
	if n == nil {
		return 0
	}
	total := 1 + countNodes(n.Child)
	for _, child := range n.Children {
		total += countNodes(child)
	}
	return total
}
