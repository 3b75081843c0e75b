package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/CarePipe/internal/graph"
	"github.com/BTreeMap/CarePipe/internal/models"
	"github.com/BTreeMap/CarePipe/internal/util"
)

// Pipeline runs the full-chain topology once per request. It holds no per-request state and is
// safe for concurrent use.
type Pipeline struct {
	graph *graph.Graph
	now   func() time.Time
}

// NewPipeline wraps a compiled pipeline graph.
func NewPipeline(g *graph.Graph) *Pipeline {
	return &Pipeline{graph: g, now: time.Now}
}

// Run traverses the pipeline over an explicit starting state. Callers that carry a call count
// between requests pass it in here.
func (p *Pipeline) Run(ctx context.Context, state models.ConversationState) (models.ConversationState, error) {
	state.RouteTaken = []string{}
	out, err := p.graph.Run(ctx, "", state)
	if err != nil {
		return out, fmt.Errorf("pipeline run %s: %w", state.RunID, err)
	}
	return out, nil
}

// Handle processes one chat message with fresh state: new run id, zero call count, empty route.
func (p *Pipeline) Handle(ctx context.Context, message string) (models.ChatResponse, error) {
	runID := util.GenerateRunID(p.now())
	state := models.NewConversationState(runID)
	state.RunID = runID
	state.CurrentInput = message
	slog.Info("Pipeline.Handle: processing message", "run_id", runID, "len", len(message))

	out, err := p.Run(ctx, state)
	if err != nil {
		slog.Error("Pipeline.Handle: run failed", "run_id", runID, "error", err)
		return models.ChatResponse{}, err
	}
	return ChatResponseFrom(out), nil
}

// ChatResponseFrom projects a finished pipeline state onto the chat endpoint payload.
func ChatResponseFrom(s models.ConversationState) models.ChatResponse {
	intent := s.Intent
	if intent == "" {
		intent = models.IntentUnknown
	}
	status := s.Status
	if status == "" {
		status = models.StatusReady
	}
	return models.ChatResponse{
		Reply:        s.Reply,
		Status:       status,
		HITLRequired: s.Flags.HITL.Raised,
		HITLReason:   s.Flags.HITL.Reason,
		Intent:       intent,
		Route:        append([]string{}, s.RouteTaken...),
		RunID:        s.RunID,
	}
}
