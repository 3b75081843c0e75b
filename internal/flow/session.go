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

// Message roles recorded in the transcript.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TurnResult is what one console turn produced.
type TurnResult struct {
	Reply  string
	Status models.Status
	Intent models.Intent
	Route  []string // stages visited this turn
	Done   bool     // the topic closed and the session was reset
}

// Session is one interactive conversation over the console topology. A Session is not safe for
// concurrent use; turns are strictly sequential.
type Session struct {
	graph *graph.Graph
	state models.ConversationState
}

// NewSession starts a conversation with a fresh session id.
func NewSession(g *graph.Graph) *Session {
	return &Session{graph: g, state: models.NewConversationState(util.GenerateSessionID())}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.state.SessionID
}

// State returns a copy of the persistent state.
func (s *Session) State() models.ConversationState {
	return s.state.Clone()
}

// Turn feeds one input through the graph and merges the result into the session. When the topic
// closes, collected fields, draft, intent and stage are reset; the route trace is kept. A failed
// turn leaves the session unchanged.
func (s *Session) Turn(ctx context.Context, input string) (TurnResult, error) {
	start := len(s.state.RouteTaken)
	pending := s.state.Clone()
	pending.Messages = append(pending.Messages, models.Message{Role: RoleUser, Content: input})
	pending.Apply(models.Patch{
		Input:  models.Ptr(input),
		Reply:  models.Ptr(""),
		Status: models.Ptr(models.Status("")),
		Error:  models.Ptr(""),
	})

	began := time.Now()
	next, err := s.graph.Run(ctx, NodeRouter, pending)
	if err != nil {
		slog.Error("Session.Turn: graph run failed", "session", s.state.SessionID, "error", err)
		return TurnResult{}, fmt.Errorf("session %s: %w", s.state.SessionID, err)
	}
	s.state = next
	if s.state.Reply != "" {
		s.state.Messages = append(s.state.Messages, models.Message{Role: RoleAssistant, Content: s.state.Reply})
	}

	res := TurnResult{
		Reply:  s.state.Reply,
		Status: s.state.Status,
		Intent: s.state.Intent,
		Route:  append([]string(nil), s.state.RouteTaken[start:]...),
		Done:   s.state.Stage == models.StageDone,
	}
	slog.Debug("Session.Turn: turn complete", "session", s.state.SessionID, "stage", s.state.Stage, "route", res.Route, "elapsed", time.Since(began))

	if res.Done {
		s.state.Apply(models.Patch{
			Stage:       models.Ptr(models.StageDetect),
			ResetFields: true,
			Draft:       models.Ptr(""),
			Intent:      models.Ptr(models.Intent("")),
			Approval:    models.Ptr(models.Approval("")),
		})
	}
	return res, nil
}
