package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/mogi/internal/ctxutil"
)

func (s *Server) registerResources() {
	// mogi://simulations: the org's scenario catalog.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"mogi://simulations",
			"Simulations",
			mcplib.WithResourceDescription("The organization's simulation scenario catalog"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleSimulationsResource,
	)

	// mogi://run/{id}/transcript: a run's transcript.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"mogi://run/{id}/transcript",
			"Run Transcript",
			mcplib.WithTemplateDescription("Ordered turns of a specific run"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleTranscriptResource,
	)
}

func (s *Server) handleSimulationsResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	claims := ctxutil.ClaimsFromContext(ctx)
	if claims == nil {
		return nil, fmt.Errorf("mcp: simulations resource: authentication required")
	}

	sims, _, err := s.store.ListSimulations(ctx, claims.OrgID, 50, 0)
	if err != nil {
		return nil, fmt.Errorf("mcp: simulations resource: %w", err)
	}

	items := make([]map[string]any, len(sims))
	for i, sim := range sims {
		items[i] = compactSimulation(sim)
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal simulations: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "mogi://simulations",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleTranscriptResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	claims := ctxutil.ClaimsFromContext(ctx)
	if claims == nil {
		return nil, fmt.Errorf("mcp: transcript resource: authentication required")
	}

	runID, err := runIDFromTranscriptURI(request.Params.URI)
	if err != nil {
		return nil, err
	}

	turns, err := s.store.ListTurns(ctx, claims.OrgID, runID, 0, 200)
	if err != nil {
		return nil, fmt.Errorf("mcp: transcript resource: %w", err)
	}
	s.reviews.Record(claims.ActorID, runID)

	items := make([]map[string]any, len(turns))
	for i, turn := range turns {
		items[i] = compactTurn(turn)
	}
	data, err := json.MarshalIndent(map[string]any{
		"run_id": runID,
		"turns":  items,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal transcript: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// runIDFromTranscriptURI extracts the run ID from mogi://run/{id}/transcript.
func runIDFromTranscriptURI(uri string) (uuid.UUID, error) {
	rest, ok := strings.CutPrefix(uri, "mogi://run/")
	if !ok {
		return uuid.Nil, fmt.Errorf("mcp: invalid transcript URI: %s", uri)
	}
	idStr, ok := strings.CutSuffix(rest, "/transcript")
	if !ok {
		return uuid.Nil, fmt.Errorf("mcp: invalid transcript URI: %s", uri)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("mcp: invalid run ID in URI %s: %w", uri, err)
	}
	return id, nil
}
