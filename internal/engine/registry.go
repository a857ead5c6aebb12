package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ashita-ai/mogi/internal/model"
)

// CreateSimulation registers a new scenario definition.
func (c *Controller) CreateSimulation(ctx context.Context, orgID uuid.UUID, req model.CreateSimulationRequest) (model.Simulation, error) {
	now := c.opts.Clock().UTC()
	sim := model.Simulation{
		ID:          uuid.New(),
		OrgID:       orgID,
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
		Roster:      req.Roster,
		Policy:      req.Policy,
		StepBudget:  req.StepBudget,
		Status:      model.SimulationActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := model.ValidateSimulation(sim); err != nil {
		return model.Simulation{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	audit := []model.AuditEntry{
		c.auditEntry(ctx, orgID, model.AuditSimulationCreated, &sim.ID, nil, map[string]any{
			"name":        sim.Name,
			"roster_size": len(sim.Roster),
			"policy_kind": string(sim.Policy.Kind),
			"step_budget": sim.StepBudget,
		}),
	}
	if err := c.store.CreateSimulation(ctx, sim, audit); err != nil {
		return model.Simulation{}, err
	}

	c.logger.Info("simulation created", "simulation_id", sim.ID, "name", sim.Name, "policy_kind", sim.Policy.Kind)
	return sim, nil
}

// UpdateSimulation modifies a definition that no run references yet. Once a
// run exists the definition is frozen so audit replay of those runs stays
// truthful; the store enforces this atomically.
func (c *Controller) UpdateSimulation(ctx context.Context, orgID, simulationID uuid.UUID, req model.UpdateSimulationRequest) (model.Simulation, error) {
	sim, err := c.store.GetSimulation(ctx, orgID, simulationID)
	if err != nil {
		return model.Simulation{}, err
	}
	if sim.Status == model.SimulationArchived {
		return model.Simulation{}, ErrSimulationArchived
	}

	changed := map[string]any{}
	if req.Name != nil {
		sim.Name = strings.TrimSpace(*req.Name)
		changed["name"] = sim.Name
	}
	if req.Description != nil {
		sim.Description = strings.TrimSpace(*req.Description)
		changed["description"] = true
	}
	if req.Roster != nil {
		sim.Roster = req.Roster
		changed["roster_size"] = len(sim.Roster)
	}
	if req.Policy != nil {
		sim.Policy = *req.Policy
		changed["policy_kind"] = string(sim.Policy.Kind)
	}
	if req.StepBudget != nil {
		sim.StepBudget = *req.StepBudget
		changed["step_budget"] = sim.StepBudget
	}
	if len(changed) == 0 {
		return sim, nil
	}
	if err := model.ValidateSimulation(sim); err != nil {
		return model.Simulation{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	sim.UpdatedAt = c.opts.Clock().UTC()

	audit := []model.AuditEntry{
		c.auditEntry(ctx, orgID, model.AuditSimulationUpdated, &sim.ID, nil, changed),
	}
	if err := c.store.UpdateSimulation(ctx, sim, audit); err != nil {
		return model.Simulation{}, err
	}

	c.logger.Info("simulation updated", "simulation_id", sim.ID)
	return sim, nil
}

// ArchiveSimulation retires a definition. Archived simulations reject new
// runs and definition changes but remain readable, and their existing runs
// are untouched. Archiving is idempotent in effect but repeated calls fail
// with ErrSimulationArchived so callers notice double submissions.
func (c *Controller) ArchiveSimulation(ctx context.Context, orgID, simulationID uuid.UUID, req model.ArchiveSimulationRequest) (model.Simulation, error) {
	reason := strings.TrimSpace(req.Reason)

	audit := []model.AuditEntry{
		c.auditEntry(ctx, orgID, model.AuditSimulationArchived, &simulationID, nil, map[string]any{
			"reason": reason,
		}),
	}
	sim, err := c.store.ArchiveSimulation(ctx, orgID, simulationID, reason, audit)
	if err != nil {
		return model.Simulation{}, err
	}

	c.logger.Info("simulation archived", "simulation_id", simulationID, "reason", reason)
	return sim, nil
}
