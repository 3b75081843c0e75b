package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/CarePipe/internal/genai"
	"github.com/BTreeMap/CarePipe/internal/models"
	"github.com/BTreeMap/CarePipe/internal/nlu"
	"github.com/BTreeMap/CarePipe/internal/notify"
	"github.com/BTreeMap/CarePipe/internal/util"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Node names shared by both topologies.
const (
	NodeRouter            = "router"
	NodeDetectIntent      = "detect_intent"
	NodeCollectName       = "collect_name"
	NodeCollectPhone      = "collect_phone"
	NodeCollectDay        = "collect_day"
	NodeCollectTime       = "collect_time"
	NodeHITLReview        = "hitl_review"
	NodeSubmitRequest     = "submit_request"
	NodeValidateInput     = "validate_input"
	NodeModerationCheck   = "moderation_check"
	NodePIICheck          = "pii_check"
	NodeContextEdit       = "context_edit"
	NodeCallLimitCheck    = "call_limit_check"
	NodeIntentClassify    = "intent_classify"
	NodeEntityExtract     = "entity_extract"
	NodeMissingFieldCheck = "missing_field_check"
	NodeHITLGate          = "hitl_gate"
	NodeResponseGenerate  = "response_generate"
	NodeFinalize          = "finalize"
)

const (
	trimMarker         = " [TRIMMED]"
	callLimitReason    = "Max call limit exceeded"
	emptyMessageReason = "Empty message"
	minFieldLength     = 2
)

// requiredEntities lists the entity categories each intent needs before a reply can be READY.
var requiredEntities = map[models.Intent][]models.EntityKind{
	models.IntentBook:             {models.EntityDates},
	models.IntentReschedule:       {models.EntityDates},
	models.IntentPrepInstructions: {models.EntityProcedures},
}

// hitlReasons lists the intents that need staff confirmation.
var hitlReasons = map[models.Intent]string{
	models.IntentCancel:     "Cancellation requires staff confirmation",
	models.IntentReschedule: "Reschedule requires supervisor approval",
}

// RequiredEntities returns the entity categories intent requires.
func RequiredEntities(intent models.Intent) []models.EntityKind {
	return requiredEntities[intent]
}

// MissingEntities returns the required categories of intent with no extracted mention.
// The result is never nil.
func MissingEntities(intent models.Intent, entities map[models.EntityKind][]string) []models.EntityKind {
	missing := []models.EntityKind{}
	for _, kind := range requiredEntities[intent] {
		if len(entities[kind]) == 0 {
			missing = append(missing, kind)
		}
	}
	return missing
}

// Stages is the stage function library. Both topologies are built from the same instance.
type Stages struct {
	settings Settings
	gen      Generator
	notifier Notifier
	drafter  *EmailDrafter
}

// NewStages creates the stage library. gen and notifier may be nil; generating stages then use
// their fallback text and submissions are only logged.
func NewStages(settings Settings, gen Generator, notifier Notifier) *Stages {
	return &Stages{
		settings: settings,
		gen:      gen,
		notifier: notifier,
		drafter:  NewEmailDrafter(gen, settings, settings.Draft),
	}
}

func (st *Stages) emergencyReply() string {
	return "EMERGENCY: Please call 911 immediately!\n\n" +
		"If you are experiencing a medical emergency, call 911 now or go to your nearest emergency room. Do not wait.\n\n" +
		"Once you are safe, come back and I can help you book a follow-up."
}

func (st *Stages) menuReply() string {
	return "I can help you with:\n\n" +
		"  - Book an appointment\n" +
		"  - Reschedule an appointment\n" +
		"  - Cancel an appointment\n" +
		"  - Preparation instructions for a procedure\n\n" +
		"Just type what you need!"
}

// Greeting is the console welcome text.
func (st *Stages) Greeting() string {
	return fmt.Sprintf("Hello! Welcome to %s.\n\n%s", st.settings.ClinicName, st.menuReply())
}

func (st *Stages) fallbackReply() string {
	return fmt.Sprintf("Thank you. A team member will follow up shortly. You can also reach us at %s.", st.settings.ClinicEmail)
}

// router records the turn's entry and leaves routing to its conditional edge.
func (st *Stages) router(context.Context, *models.ConversationState) models.Patch {
	return models.Patch{}
}

// detectIntent classifies a new request in the console flow.
func (st *Stages) detectIntent(ctx context.Context, s *models.ConversationState) models.Patch {
	intent := nlu.ClassifyIntent(s.CurrentInput)
	slog.Debug("Stages.detectIntent: classified", "session", s.SessionID, "intent", intent)

	switch intent {
	case models.IntentEmergency:
		return models.Patch{
			Intent: models.Ptr(intent),
			Stage:  models.Ptr(models.StageDone),
			Status: models.Ptr(models.StatusEscalate),
			Reply:  models.Ptr(st.emergencyReply()),
		}
	case models.IntentUnknown:
		return models.Patch{
			Intent: models.Ptr(intent),
			Stage:  models.Ptr(models.StageDetect),
			Status: models.Ptr(models.StatusNeedInfo),
			Reply:  models.Ptr(st.menuReply()),
		}
	case models.IntentPrepInstructions:
		return st.answerPrep(ctx, s)
	}

	return models.Patch{
		Intent: models.Ptr(intent),
		Stage:  models.Ptr(models.StageCollectName),
		Reply:  models.Ptr(fmt.Sprintf("I can help you %s an appointment. Let's get a few details first.\n\nWhat is your full name?", intent)),
	}
}

// answerPrep answers a preparation question in one step and closes the topic.
func (st *Stages) answerPrep(ctx context.Context, s *models.ConversationState) models.Patch {
	if s.CallCount >= st.settings.MaxCalls {
		return st.callLimitPatch()
	}
	entities := nlu.ExtractEntities(s.CurrentInput)
	req := st.responseRequest(s.CurrentInput, models.IntentPrepInstructions, entities, MissingEntities(models.IntentPrepInstructions, entities))
	text, _ := generate(ctx, st.gen, req, st.fallbackReply())
	return models.Patch{
		Intent:    models.Ptr(models.IntentPrepInstructions),
		Entities:  entities,
		CallCount: models.Ptr(s.CallCount + 1),
		Stage:     models.Ptr(models.StageDone),
		Status:    models.Ptr(models.StatusReady),
		Reply:     models.Ptr(text),
	}
}

func (st *Stages) callLimitPatch() models.Patch {
	return models.Patch{
		Stage:  models.Ptr(models.StageDone),
		Status: models.Ptr(models.StatusEscalate),
		Error:  models.Ptr(callLimitReason),
		Reply:  models.Ptr(fmt.Sprintf("Your request requires staff attention. Please contact us at %s.", st.settings.ClinicEmail)),
	}
}

func (st *Stages) collectName(_ context.Context, s *models.ConversationState) models.Patch {
	name := strings.TrimSpace(s.CurrentInput)
	if len([]rune(name)) < minFieldLength || len(name) > models.MaxNameLength {
		return models.Patch{Stage: models.Ptr(models.StageCollectName), Reply: models.Ptr("Please enter your full name.")}
	}
	name = cases.Title(language.English).String(name)
	return models.Patch{
		Fields: map[models.Field]string{models.FieldName: name},
		Stage:  models.Ptr(models.StageCollectPhone),
		Reply:  models.Ptr(fmt.Sprintf("Thanks, %s! What is your phone number?", name)),
	}
}

func (st *Stages) collectPhone(_ context.Context, s *models.ConversationState) models.Patch {
	phone, ok := util.NormalizePhone(s.CurrentInput)
	if !ok {
		return models.Patch{Stage: models.Ptr(models.StageCollectPhone), Reply: models.Ptr("Please enter a valid phone number (e.g. 902-555-0123).")}
	}
	reply := "Got it! What is your preferred day? (e.g. next Monday, March 5)"
	if s.Intent == models.IntentCancel {
		reply = "Got it! What is the date of the appointment you want to cancel? (e.g. next Monday, March 5)"
	}
	return models.Patch{
		Fields: map[models.Field]string{models.FieldPhone: phone},
		Stage:  models.Ptr(models.StageCollectDay),
		Reply:  models.Ptr(reply),
	}
}

func (st *Stages) collectDay(_ context.Context, s *models.ConversationState) models.Patch {
	day := strings.TrimSpace(s.CurrentInput)
	if len([]rune(day)) < minFieldLength {
		return models.Patch{Stage: models.Ptr(models.StageCollectDay), Reply: models.Ptr("Please enter a preferred day or date.")}
	}
	reply := "And what is your preferred time? (e.g. 10:00 AM, afternoon)"
	if s.Intent == models.IntentCancel {
		reply = "And what time was the appointment? (e.g. 2:00 PM, afternoon)"
	}
	return models.Patch{
		Fields: map[models.Field]string{models.FieldDay: day},
		Stage:  models.Ptr(models.StageCollectTime),
		Reply:  models.Ptr(reply),
	}
}

// collectTime stores the last field and drafts the email for review.
func (st *Stages) collectTime(ctx context.Context, s *models.ConversationState) models.Patch {
	t := strings.TrimSpace(s.CurrentInput)
	if len([]rune(t)) < minFieldLength {
		return models.Patch{Stage: models.Ptr(models.StageCollectTime), Reply: models.Ptr("Please enter a preferred time.")}
	}
	if s.CallCount >= st.settings.MaxCalls {
		p := st.callLimitPatch()
		p.Fields = map[models.Field]string{models.FieldTime: t}
		return p
	}

	email := st.drafter.Draft(ctx, models.EmailRequest{
		Intent: s.Intent,
		Name:   s.Field(models.FieldName),
		Phone:  s.Field(models.FieldPhone),
		Day:    s.Field(models.FieldDay),
		Time:   t,
	})
	draft := FormatDraft(email)

	var b strings.Builder
	b.WriteString("Here is the email draft:\n\n")
	b.WriteString(divider + "\n")
	fmt.Fprintf(&b, "To : %s\n", st.settings.ClinicEmail)
	b.WriteString(divider + "\n")
	b.WriteString(draft + "\n")
	b.WriteString(divider + "\n\n")
	b.WriteString("Does this look correct? (yes to send / no to edit)")

	return models.Patch{
		Fields:    map[models.Field]string{models.FieldTime: t},
		Draft:     models.Ptr(draft),
		CallCount: models.Ptr(s.CallCount + 1),
		Approval:  models.Ptr(models.ApprovalPending),
		Stage:     models.Ptr(models.StageHITLReview),
		Reply:     models.Ptr(b.String()),
	}
}

const divider = "------------------------------------------------------------"

// reviewDraft parses the patient's answer to the draft review.
func (st *Stages) reviewDraft(_ context.Context, s *models.ConversationState) models.Patch {
	switch {
	case nlu.Affirmative.Contains(s.CurrentInput):
		return models.Patch{Approval: models.Ptr(models.ApprovalApproved)}
	case nlu.Negative.Contains(s.CurrentInput):
		return models.Patch{
			Approval:    models.Ptr(models.ApprovalRejected),
			Stage:       models.Ptr(models.StageDetect),
			ResetFields: true,
			Draft:       models.Ptr(""),
			Reply:       models.Ptr("No problem! Let's start over.\n\nWhat would you like to do? (book / reschedule / cancel an appointment)"),
		}
	default:
		return models.Patch{
			Stage: models.Ptr(models.StageHITLReview),
			Reply: models.Ptr("Please reply yes to send the email, or no to start over."),
		}
	}
}

// reviewPending defers the confirmation to the request/response client.
func (st *Stages) reviewPending(_ context.Context, s *models.ConversationState) models.Patch {
	slog.Debug("Stages.reviewPending: flagging for client review", "run_id", s.RunID, "reason", s.Flags.HITL.Reason)
	return models.Patch{Approval: models.Ptr(models.ApprovalPending)}
}

// submitRequest sends the approved draft to clinic staff.
func (st *Stages) submitRequest(ctx context.Context, s *models.ConversationState) models.Patch {
	subject, body := SplitDraft(s.Draft)
	n := notify.Notification{
		SessionID: s.SessionID,
		Intent:    s.Intent,
		To:        st.settings.ClinicEmail,
		Subject:   subject,
		Body:      body,
	}
	if st.notifier != nil {
		if err := st.notifier.Notify(ctx, n); err != nil {
			slog.Error("Stages.submitRequest: notification failed", "session", s.SessionID, "error", err)
			return models.Patch{
				Stage:  models.Ptr(models.StageDone),
				Status: models.Ptr(models.StatusEscalate),
				Error:  models.Ptr(err.Error()),
				Reply:  models.Ptr(fmt.Sprintf("We could not deliver your request right now. Please email %s directly.", st.settings.ClinicEmail)),
			}
		}
	}
	slog.Info("Stages.submitRequest: request submitted", "session", s.SessionID, "intent", s.Intent)
	reply := fmt.Sprintf("Email sent to %s!\n\nYour request has been submitted. A team member will contact %s at %s to confirm.\n\n"+
		"Is there anything else I can help you with? (book / reschedule / cancel)",
		st.settings.ClinicEmail, s.Field(models.FieldName), s.Field(models.FieldPhone))
	return models.Patch{
		Stage:  models.Ptr(models.StageDone),
		Status: models.Ptr(models.StatusReady),
		Reply:  models.Ptr(reply),
	}
}

func (st *Stages) validateInput(_ context.Context, s *models.ConversationState) models.Patch {
	if strings.TrimSpace(s.CurrentInput) == "" {
		return models.Patch{Status: models.Ptr(models.StatusNeedInfo), Error: models.Ptr(emptyMessageReason)}
	}
	return models.Patch{}
}

func (st *Stages) moderationCheck(_ context.Context, s *models.ConversationState) models.Patch {
	if nlu.IsDisallowed(s.CurrentInput) {
		slog.Warn("Stages.moderationCheck: message flagged", "run_id", s.RunID)
		return models.Patch{
			Moderation: &models.Flag{Checked: true, Raised: true, Reason: "disallowed topic"},
			Status:     models.Ptr(models.StatusEscalate),
		}
	}
	return models.Patch{Moderation: &models.Flag{Checked: true}}
}

func (st *Stages) piiCheck(_ context.Context, s *models.ConversationState) models.Patch {
	found := nlu.DetectPII(s.CurrentInput)
	if len(found) == 0 {
		return models.Patch{PII: &models.Flag{Checked: true}, PIIFields: &[]models.PIIField{}}
	}
	tags := make([]string, len(found))
	for i, f := range found {
		tags[i] = string(f)
	}
	slog.Info("Stages.piiCheck: detected field types", "run_id", s.RunID, "fields", tags)
	return models.Patch{
		PII:       &models.Flag{Checked: true, Raised: true, Reason: "detected " + strings.Join(tags, ", ")},
		PIIFields: &found,
	}
}

// contextEdit caps the input length and tags urgency.
func (st *Stages) contextEdit(_ context.Context, s *models.ConversationState) models.Patch {
	var p models.Patch
	text := s.CurrentInput
	if runes := []rune(text); st.settings.MaxChars > 0 && len(runes) > st.settings.MaxChars {
		text = string(runes[:st.settings.MaxChars]) + trimMarker
		p.Input = models.Ptr(text)
	}
	if nlu.IsUrgent(text) {
		p.Entities = map[models.EntityKind][]string{models.EntityUrgency: {"high"}}
	}
	return p
}

func (st *Stages) callLimitCheck(_ context.Context, s *models.ConversationState) models.Patch {
	if s.CallCount >= st.settings.MaxCalls {
		slog.Warn("Stages.callLimitCheck: call ceiling reached", "run_id", s.RunID, "count", s.CallCount, "max", st.settings.MaxCalls)
		return models.Patch{Status: models.Ptr(models.StatusEscalate), Error: models.Ptr(callLimitReason)}
	}
	return models.Patch{}
}

func (st *Stages) intentClassify(_ context.Context, s *models.ConversationState) models.Patch {
	intent := nlu.ClassifyIntent(s.CurrentInput)
	slog.Debug("Stages.intentClassify: classified", "run_id", s.RunID, "intent", intent)
	return models.Patch{Intent: models.Ptr(intent), CallCount: models.Ptr(s.CallCount + 1)}
}

func (st *Stages) entityExtract(_ context.Context, s *models.ConversationState) models.Patch {
	return models.Patch{Entities: nlu.ExtractEntities(s.CurrentInput), CallCount: models.Ptr(s.CallCount + 1)}
}

func (st *Stages) missingFieldCheck(_ context.Context, s *models.ConversationState) models.Patch {
	missing := MissingEntities(s.Intent, s.ExtractedEntities)
	return models.Patch{MissingFields: &missing}
}

func (st *Stages) hitlGate(_ context.Context, s *models.ConversationState) models.Patch {
	if s.Flags.HITL.Checked {
		return models.Patch{}
	}
	reason, required := hitlReasons[s.Intent]
	if required {
		slog.Info("Stages.hitlGate: review required", "run_id", s.RunID, "reason", reason)
	}
	return models.Patch{HITL: &models.Flag{Checked: true, Raised: required, Reason: reason}}
}

const responseSystemPrompt = `You are a warm, professional appointment assistant for %s.
Help patients with bookings, rescheduling, cancellations, and procedure prep instructions.
- Be concise, friendly, reassuring. Under 120 words unless giving prep instructions.
- Never confirm bookings yourself. Say staff will follow up.
- No greetings or sign-offs.`

func (st *Stages) responseRequest(input string, intent models.Intent, entities map[models.EntityKind][]string, missing []models.EntityKind) genai.CompletionRequest {
	parts := []string{"Patient request: " + input, "Intent: " + string(intent)}
	if dates := entities[models.EntityDates]; len(dates) > 0 {
		parts = append(parts, "Date: "+strings.Join(dates, ", "))
	}
	if procs := entities[models.EntityProcedures]; len(procs) > 0 {
		parts = append(parts, "Procedure: "+strings.Join(procs, ", "))
	}
	if len(missing) > 0 {
		names := make([]string, len(missing))
		for i, m := range missing {
			names[i] = string(m)
		}
		parts = append(parts, "Missing info needed: "+strings.Join(names, ", "))
	}
	switch {
	case intent == models.IntentPrepInstructions:
		parts = append(parts, "Give detailed accurate prep instructions.")
	case len(missing) > 0:
		parts = append(parts, "Politely ask for missing info.")
	case intent == models.IntentReschedule || intent == models.IntentCancel:
		parts = append(parts, "Acknowledge and say staff will confirm.")
	default:
		parts = append(parts, "Clarify what they need.")
	}
	return genai.CompletionRequest{
		SystemPrompt: fmt.Sprintf(responseSystemPrompt, st.settings.ClinicName),
		UserPrompt:   strings.Join(parts, "\n"),
		Temperature:  st.settings.Chat.Temperature,
		MaxTokens:    st.settings.Chat.MaxTokens,
	}
}

// responseGenerate drafts the reply. A capability failure is replaced by the templated reply.
func (st *Stages) responseGenerate(ctx context.Context, s *models.ConversationState) models.Patch {
	req := st.responseRequest(s.CurrentInput, s.Intent, s.ExtractedEntities, s.MissingFields)
	text, ok := generate(ctx, st.gen, req, st.fallbackReply())
	slog.Debug("Stages.responseGenerate: draft ready", "run_id", s.RunID, "primary", ok)
	return models.Patch{Draft: models.Ptr(text), CallCount: models.Ptr(s.CallCount + 1)}
}

// finalize sets the terminal status. Emergency and escalation take precedence over NEED_INFO, and
// a run that ended above the call ceiling always escalates.
func (st *Stages) finalize(_ context.Context, s *models.ConversationState) models.Patch {
	var status models.Status
	var reply string
	var reason *string
	switch {
	case s.Intent == models.IntentEmergency:
		status, reply = models.StatusEscalate, st.emergencyReply()
	case s.Flags.Moderation.Raised:
		status, reply = models.StatusEscalate, "We were unable to process your message. Please contact our office directly."
	case st.settings.MaxCalls > 0 && s.CallCount > st.settings.MaxCalls:
		slog.Warn("Stages.finalize: call ceiling exceeded", "run_id", s.RunID, "count", s.CallCount, "max", st.settings.MaxCalls)
		status, reply = models.StatusEscalate, "Your request requires staff attention. "+callLimitReason
		reason = models.Ptr(callLimitReason)
	case s.Status == models.StatusEscalate:
		status, reply = models.StatusEscalate, strings.TrimSpace("Your request requires staff attention. "+s.Error)
	case s.Status == models.StatusNeedInfo || len(s.MissingFields) > 0 || s.Intent == models.IntentUnknown || s.Intent == "":
		status, reply = models.StatusNeedInfo, s.Draft
		if reply == "" {
			reply = "Please tell me how I can help. " + st.menuReply()
		}
	default:
		status, reply = models.StatusReady, s.Draft
	}
	slog.Info("Stages.finalize: turn finalized", "run_id", s.RunID, "status", status)
	return models.Patch{Status: models.Ptr(status), Reply: models.Ptr(reply), Error: reason}
}
