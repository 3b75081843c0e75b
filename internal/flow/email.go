package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/CarePipe/internal/genai"
	"github.com/BTreeMap/CarePipe/internal/models"
)

const subjectPrefix = "Subject: "

var subjectLabels = map[models.Intent]string{
	models.IntentBook:       "New Appointment Request",
	models.IntentCancel:     "Appointment Cancellation Request",
	models.IntentReschedule: "Appointment Reschedule Request",
}

var emailActions = map[models.Intent]string{
	models.IntentBook:       "book a new appointment",
	models.IntentCancel:     "cancel my appointment",
	models.IntentReschedule: "reschedule my appointment",
}

const emailSystemPrompt = `You are drafting a short, professional email on behalf of a patient to %s.
Return ONLY the email body, with no subject line and no extra commentary.
Sign off with the patient's name.`

// EmailDrafter writes the patient's appointment email. The subject is computed from the intent;
// the body comes from the generation capability with a templated fallback.
type EmailDrafter struct {
	gen         Generator
	clinicName  string
	clinicEmail string
	params      GenerationParams
}

// NewEmailDrafter creates a drafter that samples with params.
func NewEmailDrafter(gen Generator, settings Settings, params GenerationParams) *EmailDrafter {
	return &EmailDrafter{
		gen:         gen,
		clinicName:  settings.ClinicName,
		clinicEmail: settings.ClinicEmail,
		params:      params,
	}
}

// Subject returns the email subject for intent and patient name.
func Subject(intent models.Intent, name string) string {
	label, ok := subjectLabels[intent]
	if !ok {
		label = "Appointment Request"
	}
	return fmt.Sprintf("%s — %s", label, name)
}

func action(intent models.Intent) string {
	if a, ok := emailActions[intent]; ok {
		return a
	}
	return emailActions[models.IntentBook]
}

// Draft returns the subject and body for req. It never fails: a generation error is replaced by
// the templated body.
func (d *EmailDrafter) Draft(ctx context.Context, req models.EmailRequest) models.EmailDraft {
	act := action(req.Intent)

	slot := "Preferred appointment:"
	switch req.Intent {
	case models.IntentCancel:
		slot = "Appointment to cancel:"
	case models.IntentReschedule:
		slot = "Appointment to reschedule:"
	}
	user := fmt.Sprintf("Draft an email to %s to %s.\nPatient name: %s\nPatient phone: %s\n%s\n  Day:  %s\n  Time: %s\nClinic: %s",
		d.clinicEmail, act, req.Name, req.Phone, slot, req.Day, req.Time, d.clinicName)

	fallback := fmt.Sprintf("Dear %s Team,\n\nI would like to %s.\n\nPatient: %s\nPhone: %s\nDay: %s\nTime: %s\n\nPlease contact me to confirm.\n\nThank you,\n%s",
		d.clinicName, act, req.Name, req.Phone, req.Day, req.Time, req.Name)

	body, ok := generate(ctx, d.gen, genai.CompletionRequest{
		SystemPrompt: fmt.Sprintf(emailSystemPrompt, d.clinicName),
		UserPrompt:   user,
		Temperature:  d.params.Temperature,
		MaxTokens:    d.params.MaxTokens,
	}, fallback)
	slog.Debug("EmailDrafter.Draft: drafted", "intent", req.Intent, "primary", ok)

	return models.EmailDraft{Subject: Subject(req.Intent, req.Name), Body: body}
}

// FormatDraft renders a draft as a single text artifact with a leading subject line.
func FormatDraft(e models.EmailDraft) string {
	return subjectPrefix + e.Subject + "\n\n" + e.Body
}

// SplitDraft is the inverse of FormatDraft. Text without a subject line is returned as the body.
func SplitDraft(draft string) (subject, body string) {
	if !strings.HasPrefix(draft, subjectPrefix) {
		return "", draft
	}
	first, rest, _ := strings.Cut(draft, "\n")
	return strings.TrimPrefix(first, subjectPrefix), strings.TrimLeft(rest, "\n")
}
