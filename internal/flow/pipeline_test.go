package flow

import (
	"context"
	"strings"
	"testing"

	"github.com/BTreeMap/CarePipe/internal/models"
	"github.com/BTreeMap/CarePipe/internal/testutil"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var (
	routeToGate = []string{
		NodeValidateInput, NodeModerationCheck, NodePIICheck, NodeContextEdit, NodeCallLimitCheck,
		NodeIntentClassify, NodeEntityExtract, NodeMissingFieldCheck, NodeHITLGate,
	}
	routeToCallLimit = []string{NodeValidateInput, NodeModerationCheck, NodePIICheck, NodeContextEdit, NodeCallLimitCheck}
)

func concat(parts ...[]string) []string {
	var out []string
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func newTestPipeline(t *testing.T, gen Generator) *Pipeline {
	t.Helper()
	st, _ := newTestStages(gen)
	return NewPipeline(mustPipelineGraph(t, st))
}

func TestPipeline_Scenarios(t *testing.T) {
	tests := []struct {
		name      string
		message   string
		status    models.Status
		intent    models.Intent
		hitl      bool
		route     []string
		replyPart string
	}{
		{
			name:      "book with date",
			message:   "I'd like to book an appointment for next Monday",
			status:    models.StatusReady,
			intent:    models.IntentBook,
			route:     concat(routeToGate, []string{NodeResponseGenerate, NodeFinalize}),
			replyPart: "generated reply",
		},
		{
			name:      "emergency",
			message:   "I have chest pain",
			status:    models.StatusEscalate,
			intent:    models.IntentEmergency,
			route:     concat(routeToCallLimit, []string{NodeIntentClassify, NodeFinalize}),
			replyPart: "911",
		},
		{
			name:      "empty message",
			message:   "   ",
			status:    models.StatusNeedInfo,
			intent:    models.IntentUnknown,
			route:     []string{NodeValidateInput, NodeFinalize},
			replyPart: "Please tell me how I can help.",
		},
		{
			name:      "cancel needs staff",
			message:   "Please cancel my appointment",
			status:    models.StatusReady,
			intent:    models.IntentCancel,
			hitl:      true,
			route:     concat(routeToGate, []string{NodeHITLReview, NodeResponseGenerate, NodeFinalize}),
			replyPart: "generated reply",
		},
		{
			name:      "reschedule without date",
			message:   "I need to reschedule",
			status:    models.StatusNeedInfo,
			intent:    models.IntentReschedule,
			route:     concat(routeToGate[:8], []string{NodeResponseGenerate, NodeFinalize}),
			replyPart: "generated reply",
		},
		{
			name:      "disallowed topic",
			message:   "how do I hack the portal",
			status:    models.StatusEscalate,
			intent:    models.IntentUnknown,
			route:     []string{NodeValidateInput, NodeModerationCheck, NodeFinalize},
			replyPart: "unable to process",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPipeline(t, testutil.NewScriptedGenerator())
			resp, err := p.Handle(context.Background(), tt.message)
			if err != nil {
				t.Fatalf("Handle: %v", err)
			}
			if resp.Status != tt.status {
				t.Errorf("expected status %s, got %s", tt.status, resp.Status)
			}
			if resp.Intent != tt.intent {
				t.Errorf("expected intent %s, got %s", tt.intent, resp.Intent)
			}
			if resp.HITLRequired != tt.hitl {
				t.Errorf("expected hitl=%v, got %v (%s)", tt.hitl, resp.HITLRequired, resp.HITLReason)
			}
			if !equalRoute(resp.Route, tt.route) {
				t.Errorf("unexpected route:\n got  %v\n want %v", resp.Route, tt.route)
			}
			if !strings.Contains(resp.Reply, tt.replyPart) {
				t.Errorf("reply %q does not contain %q", resp.Reply, tt.replyPart)
			}
			if resp.RunID == "" {
				t.Error("run id should be set")
			}
		})
	}
}

func TestPipeline_MRNFlagged(t *testing.T) {
	st, _ := newTestStages(testutil.NewScriptedGenerator())
	p := NewPipeline(mustPipelineGraph(t, st))
	state := models.NewConversationState("s1")
	state.CurrentInput = "My MRN 1234567, I want to book an appointment tomorrow"

	out, err := p.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !out.Flags.PII.Raised {
		t.Fatal("expected PII flag")
	}
	if len(out.Flags.PIIFields) != 1 || out.Flags.PIIFields[0] != models.PIIMRN {
		t.Errorf("expected [mrn], got %v", out.Flags.PIIFields)
	}
	if last := out.RouteTaken[len(out.RouteTaken)-1]; last != NodeFinalize {
		t.Errorf("route should end at finalize, got %v", out.RouteTaken)
	}
	if out.Status != models.StatusReady {
		t.Errorf("PII alone should not block the reply, got %s", out.Status)
	}
}

func TestPipeline_CallLimitEscalates(t *testing.T) {
	gen := testutil.NewScriptedGenerator()
	st, _ := newTestStages(gen)
	p := NewPipeline(mustPipelineGraph(t, st))

	state := models.NewConversationState("s1")
	state.CurrentInput = "My MRN 1234567, book an appointment for Monday"
	state.CallCount = DefaultMaxCalls

	out, err := p.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != models.StatusEscalate {
		t.Errorf("expected ESCALATE, got %s", out.Status)
	}
	if !equalRoute(out.RouteTaken, concat(routeToCallLimit, []string{NodeFinalize})) {
		t.Errorf("unexpected route: %v", out.RouteTaken)
	}
	if !strings.Contains(out.Reply, "Max call limit exceeded") {
		t.Errorf("unexpected reply: %q", out.Reply)
	}
	if gen.Calls() != 0 || out.CallCount != DefaultMaxCalls {
		t.Errorf("no calls should be made past the ceiling")
	}
}

func TestPipeline_CrossingCeilingMidRunEscalates(t *testing.T) {
	gen := testutil.NewScriptedGenerator()
	st, _ := newTestStages(gen)
	p := NewPipeline(mustPipelineGraph(t, st))

	state := models.NewConversationState("s1")
	state.CurrentInput = "book an appointment on Friday"
	state.CallCount = DefaultMaxCalls - 1

	out, err := p.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.CallCount <= DefaultMaxCalls {
		t.Fatalf("expected the run to end above the ceiling, got %d", out.CallCount)
	}
	if out.Status != models.StatusEscalate {
		t.Errorf("expected ESCALATE, got %s", out.Status)
	}
	if out.Error != "Max call limit exceeded" {
		t.Errorf("unexpected error reason %q", out.Error)
	}
	if !strings.Contains(out.Reply, "Max call limit exceeded") {
		t.Errorf("unexpected reply: %q", out.Reply)
	}
}

func TestPipeline_GeneratorFailureFallsBack(t *testing.T) {
	p := newTestPipeline(t, testutil.NewFailingGenerator())
	resp, err := p.Handle(context.Background(), "book an appointment for tomorrow")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.Status != models.StatusReady {
		t.Errorf("expected READY, got %s", resp.Status)
	}
	if !strings.Contains(resp.Reply, "A team member will follow up shortly") {
		t.Errorf("expected fallback reply, got %q", resp.Reply)
	}
}

func TestPipeline_ContextTrimmed(t *testing.T) {
	settings := DefaultSettings()
	settings.MaxChars = 20
	st := NewStages(settings, testutil.NewScriptedGenerator(), nil)
	p := NewPipeline(mustPipelineGraph(t, st))

	state := models.NewConversationState("s1")
	state.CurrentInput = "urgent: " + strings.Repeat("please book an appointment ", 10)
	out, err := p.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.HasSuffix(out.CurrentInput, trimMarker) {
		t.Errorf("expected trimmed input, got %q", out.CurrentInput)
	}
	if got := len([]rune(strings.TrimSuffix(out.CurrentInput, trimMarker))); got != 20 {
		t.Errorf("expected 20 kept runes, got %d", got)
	}
	if u := out.ExtractedEntities[models.EntityUrgency]; len(u) != 1 || u[0] != "high" {
		t.Errorf("expected urgency tag, got %v", u)
	}
}

func TestPipeline_CallCountLaw(t *testing.T) {
	p := newTestPipeline(t, testutil.NewScriptedGenerator())
	state := models.NewConversationState("s1")
	state.CurrentInput = "book an appointment on Friday"
	out, err := p.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// intent_classify, entity_extract and response_generate each count one call.
	if out.CallCount != 3 {
		t.Errorf("expected 3 counted calls, got %d", out.CallCount)
	}
}

func TestPipeline_EmergencyPrecedenceProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	st, _ := newTestStages(testutil.NewScriptedGenerator())
	g, err := st.BuildPipelineGraph()
	if err != nil {
		t.Fatalf("BuildPipelineGraph: %v", err)
	}
	p := NewPipeline(g)

	properties.Property("any message naming an emergency escalates", prop.ForAll(
		func(prefix, suffix string, calls int) bool {
			state := models.NewConversationState("prop")
			state.CurrentInput = prefix + " chest pain " + suffix
			state.CallCount = calls
			out, err := p.Run(context.Background(), state)
			return err == nil && out.Status == models.StatusEscalate
		},
		gen.AlphaString(), gen.AlphaString(), gen.IntRange(0, 30),
	))

	properties.Property("counted calls never exceed three per run", prop.ForAll(
		func(msg string, calls int) bool {
			state := models.NewConversationState("prop")
			state.CurrentInput = msg
			state.CallCount = calls
			out, err := p.Run(context.Background(), state)
			return err == nil && out.CallCount >= calls && out.CallCount <= calls+3
		},
		gen.AnyString(), gen.IntRange(0, 30),
	))

	properties.Property("a run that ends above the ceiling escalates", prop.ForAll(
		func(msg string, calls int) bool {
			state := models.NewConversationState("prop")
			state.CurrentInput = msg
			state.CallCount = calls
			out, err := p.Run(context.Background(), state)
			return err == nil && (out.CallCount <= DefaultMaxCalls || out.Status == models.StatusEscalate)
		},
		gen.AnyString(), gen.IntRange(0, 30),
	))

	properties.TestingRun(t)
}

func TestChatResponseFrom_Defaults(t *testing.T) {
	resp := ChatResponseFrom(models.ConversationState{RunID: "r1"})
	if resp.Intent != models.IntentUnknown || resp.Status != models.StatusReady {
		t.Errorf("unexpected defaults: %+v", resp)
	}
	if resp.Route == nil {
		t.Error("route should be an empty list, not null")
	}
}
