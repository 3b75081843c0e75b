package flow

import (
	"context"
	"strings"
	"testing"

	"github.com/BTreeMap/CarePipe/internal/models"
	"github.com/BTreeMap/CarePipe/internal/testutil"
)

func TestSubject(t *testing.T) {
	tests := map[models.Intent]string{
		models.IntentBook:       "New Appointment Request — Jane Doe",
		models.IntentCancel:     "Appointment Cancellation Request — Jane Doe",
		models.IntentReschedule: "Appointment Reschedule Request — Jane Doe",
		models.IntentUnknown:    "Appointment Request — Jane Doe",
	}
	for intent, want := range tests {
		if got := Subject(intent, "Jane Doe"); got != want {
			t.Errorf("%s: expected %q, got %q", intent, want, got)
		}
	}
}

func TestEmailDrafter_UsesGeneratedBody(t *testing.T) {
	gen := testutil.NewScriptedGenerator("Hello team,\nPlease cancel.\nJane")
	settings := DefaultSettings()
	d := NewEmailDrafter(gen, settings, settings.Email)

	e := d.Draft(context.Background(), models.EmailRequest{
		Intent: models.IntentCancel, Name: "Jane Doe", Phone: "(902) 555-0123", Day: "Monday", Time: "2pm",
	})
	if e.Subject != "Appointment Cancellation Request — Jane Doe" || e.Body != "Hello team,\nPlease cancel.\nJane" {
		t.Errorf("unexpected draft: %+v", e)
	}
	req := gen.Requests[0]
	if req.Temperature != 0.3 || req.MaxTokens != 300 {
		t.Errorf("unexpected sampling params: %+v", req)
	}
	if !strings.Contains(req.UserPrompt, "Appointment to cancel:") || !strings.Contains(req.UserPrompt, DefaultClinicEmail) {
		t.Errorf("unexpected prompt: %q", req.UserPrompt)
	}
}

func TestEmailDrafter_Fallback(t *testing.T) {
	settings := DefaultSettings()
	d := NewEmailDrafter(testutil.NewFailingGenerator(), settings, settings.Email)

	e := d.Draft(context.Background(), models.EmailRequest{Intent: models.IntentReschedule, Name: "Adam Smith", Phone: "555-0199", Day: "Friday", Time: "noon"})
	for _, part := range []string{"Dear Medical Clinic Team,", "reschedule my appointment", "Phone: 555-0199", "Thank you,\nAdam Smith"} {
		if !strings.Contains(e.Body, part) {
			t.Errorf("fallback body missing %q:\n%s", part, e.Body)
		}
	}
}

func TestFormatSplitDraft(t *testing.T) {
	e := models.EmailDraft{Subject: "New Appointment Request — Jane Doe", Body: "Line one\n\nLine two"}
	subject, body := SplitDraft(FormatDraft(e))
	if subject != e.Subject || body != e.Body {
		t.Errorf("round trip changed draft: %q / %q", subject, body)
	}

	subject, body = SplitDraft("just a body")
	if subject != "" || body != "just a body" {
		t.Errorf("unexpected split of plain text: %q / %q", subject, body)
	}
}
