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

func TestMissingEntities(t *testing.T) {
	tests := []struct {
		intent   models.Intent
		entities map[models.EntityKind][]string
		want     []models.EntityKind
	}{
		{models.IntentBook, nil, []models.EntityKind{models.EntityDates}},
		{models.IntentBook, map[models.EntityKind][]string{models.EntityDates: {"Monday"}}, []models.EntityKind{}},
		{models.IntentPrepInstructions, map[models.EntityKind][]string{models.EntityDates: {"Monday"}}, []models.EntityKind{models.EntityProcedures}},
		{models.IntentCancel, nil, []models.EntityKind{}},
		{models.IntentUnknown, nil, []models.EntityKind{}},
	}
	for _, tt := range tests {
		got := MissingEntities(tt.intent, tt.entities)
		if got == nil {
			t.Errorf("%s: result must not be nil", tt.intent)
		}
		if len(got) != len(tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.intent, tt.want, got)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("%s: expected %v, got %v", tt.intent, tt.want, got)
			}
		}
	}
}

func TestMissingEntitiesProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	intents := []interface{}{
		models.IntentBook, models.IntentCancel, models.IntentReschedule,
		models.IntentPrepInstructions, models.IntentEmergency, models.IntentUnknown,
	}

	properties.Property("missing is exactly the required kinds without a mention", prop.ForAll(
		func(intent models.Intent, hasDates, hasProcs bool) bool {
			entities := map[models.EntityKind][]string{}
			if hasDates {
				entities[models.EntityDates] = []string{"Monday"}
			}
			if hasProcs {
				entities[models.EntityProcedures] = []string{"MRI"}
			}
			missing := MissingEntities(intent, entities)
			want := 0
			for _, k := range RequiredEntities(intent) {
				if len(entities[k]) == 0 {
					want++
				}
			}
			if len(missing) != want {
				return false
			}
			for _, k := range missing {
				if len(entities[k]) != 0 {
					return false
				}
			}
			return true
		},
		gen.OneConstOf(intents...), gen.Bool(), gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestHITLGate_Idempotent(t *testing.T) {
	st, _ := newTestStages(nil)
	s := models.NewConversationState("s1")
	s.Intent = models.IntentReschedule

	s.Apply(st.hitlGate(context.Background(), &s))
	if !s.Flags.HITL.Raised || s.Flags.HITL.Reason != "Reschedule requires supervisor approval" {
		t.Fatalf("unexpected flag: %+v", s.Flags.HITL)
	}
	s.Intent = models.IntentBook
	if p := st.hitlGate(context.Background(), &s); !p.IsEmpty() {
		t.Errorf("a checked gate must not change state: %+v", p)
	}
}

func TestFinalize_Precedence(t *testing.T) {
	st, _ := newTestStages(nil)
	tests := []struct {
		name  string
		setup func(s *models.ConversationState)
		want  models.Status
	}{
		{"emergency over need info", func(s *models.ConversationState) {
			s.Intent = models.IntentEmergency
			s.Status = models.StatusNeedInfo
		}, models.StatusEscalate},
		{"moderation", func(s *models.ConversationState) {
			s.Intent = models.IntentBook
			s.Flags.Moderation = models.Flag{Checked: true, Raised: true}
		}, models.StatusEscalate},
		{"escalate status over missing", func(s *models.ConversationState) {
			s.Intent = models.IntentBook
			s.Status = models.StatusEscalate
			s.MissingFields = []models.EntityKind{models.EntityDates}
		}, models.StatusEscalate},
		{"above call ceiling over ready", func(s *models.ConversationState) {
			s.Intent = models.IntentBook
			s.Draft = "Staff will confirm."
			s.CallCount = DefaultMaxCalls + 1
		}, models.StatusEscalate},
		{"above call ceiling over missing", func(s *models.ConversationState) {
			s.Intent = models.IntentBook
			s.MissingFields = []models.EntityKind{models.EntityDates}
			s.CallCount = DefaultMaxCalls + 2
		}, models.StatusEscalate},
		{"at call ceiling is ready", func(s *models.ConversationState) {
			s.Intent = models.IntentBook
			s.Draft = "Staff will confirm."
			s.CallCount = DefaultMaxCalls
		}, models.StatusReady},
		{"missing fields", func(s *models.ConversationState) {
			s.Intent = models.IntentBook
			s.MissingFields = []models.EntityKind{models.EntityDates}
			s.Draft = "When would you like to come in?"
		}, models.StatusNeedInfo},
		{"complete", func(s *models.ConversationState) {
			s.Intent = models.IntentBook
			s.Draft = "Staff will confirm."
		}, models.StatusReady},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := models.NewConversationState("s1")
			tt.setup(&s)
			s.Apply(st.finalize(context.Background(), &s))
			if s.Status != tt.want {
				t.Errorf("expected %s, got %s", tt.want, s.Status)
			}
			if s.Reply == "" {
				t.Error("finalize must always set a reply")
			}
		})
	}
}

func TestResponseRequest_UsesChatParams(t *testing.T) {
	gen := testutil.NewScriptedGenerator("ok")
	st, _ := newTestStages(gen)
	s := models.NewConversationState("s1")
	s.CurrentInput = "reschedule my appointment"
	s.Intent = models.IntentReschedule
	s.MissingFields = []models.EntityKind{models.EntityDates}

	s.Apply(st.responseGenerate(context.Background(), &s))
	if s.Draft != "ok" || s.CallCount != 1 {
		t.Errorf("unexpected state: draft=%q calls=%d", s.Draft, s.CallCount)
	}
	req := gen.Requests[0]
	if req.Temperature != 0.4 || req.MaxTokens != 300 {
		t.Errorf("unexpected sampling params: %+v", req)
	}
	if want := "Missing info needed: date_mentions"; !strings.Contains(req.UserPrompt, want) {
		t.Errorf("prompt %q should contain %q", req.UserPrompt, want)
	}
}
