// Package models defines the conversation state threaded through the stage graph.
package models

import "maps"

// Stage is the console conversation position.
type Stage string

// Conversation stage constants.
const (
	StageDetect       Stage = "detect"
	StageCollectName  Stage = "collect_name"
	StageCollectPhone Stage = "collect_phone"
	StageCollectDay   Stage = "collect_day"
	StageCollectTime  Stage = "collect_time"
	StageHITLReview   Stage = "hitl_review"
	StageDone         Stage = "done"
)

// IsValidStage checks if the given stage is a declared conversation position.
func IsValidStage(s Stage) bool {
	switch s {
	case StageDetect, StageCollectName, StageCollectPhone, StageCollectDay, StageCollectTime, StageHITLReview, StageDone:
		return true
	default:
		return false
	}
}

// Intent is the classified purpose of a user message.
type Intent string

// Intent constants.
const (
	IntentBook             Intent = "book"
	IntentCancel           Intent = "cancel"
	IntentReschedule       Intent = "reschedule"
	IntentEmergency        Intent = "emergency"
	IntentPrepInstructions Intent = "prep_instructions"
	IntentUnknown          Intent = "unknown"
)

// Field names a piece of patient information collected by the console flow.
type Field string

// Collected field constants.
const (
	FieldName  Field = "name"
	FieldPhone Field = "phone"
	FieldDay   Field = "day"
	FieldTime  Field = "time"
)

// EntityKind is a category of extracted entity mentions.
type EntityKind string

// Entity categories.
const (
	EntityDates      EntityKind = "date_mentions"
	EntityTimes      EntityKind = "time_mentions"
	EntityProcedures EntityKind = "procedures"
	EntityUrgency    EntityKind = "urgency"
)

// PIIField tags a kind of personally identifying information.
type PIIField string

// PII tags, in detection order.
const (
	PIISSN   PIIField = "ssn"
	PIIDOB   PIIField = "dob"
	PIIPhone PIIField = "phone"
	PIIEmail PIIField = "email"
	PIIMRN   PIIField = "mrn"
)

// Approval is the human-in-the-loop review outcome. The zero value means no review happened.
type Approval string

// Approval constants.
const (
	ApprovalPending  Approval = "pending"
	ApprovalApproved Approval = "approved"
	ApprovalRejected Approval = "rejected"
)

// Status is the outward classification of a turn. The zero value means not yet finalized.
type Status string

// Terminal status constants.
const (
	StatusReady    Status = "READY"
	StatusNeedInfo Status = "NEED_INFO"
	StatusEscalate Status = "ESCALATE"
)

// Flag is a boolean signal raised by a check stage.
type Flag struct {
	Checked bool   `json:"checked"`
	Raised  bool   `json:"raised"`
	Reason  string `json:"reason,omitempty"`
}

// Flags groups the policy signals of a turn.
type Flags struct {
	Moderation Flag       `json:"moderation"`
	PII        Flag       `json:"pii"`
	HITL       Flag       `json:"hitl"`
	PIIFields  []PIIField `json:"pii_fields,omitempty"`
}

// Message is one transcript entry of a console session.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ConversationState is the single record every stage reads. Stages never write it directly;
// they return a Patch which the executor applies.
type ConversationState struct {
	SessionID         string                  `json:"session_id"`
	RunID             string                  `json:"run_id,omitempty"`
	CurrentInput      string                  `json:"current_input"`
	Messages          []Message               `json:"messages,omitempty"`
	Stage             Stage                   `json:"stage"`
	Intent            Intent                  `json:"intent,omitempty"`
	CollectedFields   map[Field]string        `json:"collected_fields"`
	ExtractedEntities map[EntityKind][]string `json:"extracted_entities"`
	MissingFields     []EntityKind            `json:"missing_fields,omitempty"`
	Flags             Flags                   `json:"flags"`
	CallCount         int                     `json:"call_count"`
	RouteTaken        []string                `json:"route_taken"`
	Draft             string                  `json:"draft,omitempty"`
	Approval          Approval                `json:"approval,omitempty"`
	Status            Status                  `json:"status,omitempty"`
	Reply             string                  `json:"reply,omitempty"`
	Error             string                  `json:"error,omitempty"`
}

// NewConversationState returns an empty state positioned at intent detection.
func NewConversationState(sessionID string) ConversationState {
	return ConversationState{
		SessionID:         sessionID,
		Stage:             StageDetect,
		CollectedFields:   make(map[Field]string),
		ExtractedEntities: make(map[EntityKind][]string),
		RouteTaken:        []string{},
	}
}

// Clone returns a deep copy so a traversal never aliases the caller's maps or slices.
func (s ConversationState) Clone() ConversationState {
	c := s
	c.Messages = append([]Message(nil), s.Messages...)
	c.CollectedFields = maps.Clone(s.CollectedFields)
	if c.CollectedFields == nil {
		c.CollectedFields = make(map[Field]string)
	}
	c.ExtractedEntities = make(map[EntityKind][]string, len(s.ExtractedEntities))
	for k, v := range s.ExtractedEntities {
		c.ExtractedEntities[k] = append([]string(nil), v...)
	}
	c.MissingFields = append([]EntityKind(nil), s.MissingFields...)
	c.Flags.PIIFields = append([]PIIField(nil), s.Flags.PIIFields...)
	c.RouteTaken = append([]string{}, s.RouteTaken...)
	return c
}

// Field returns a collected field value, or "" when absent.
func (s *ConversationState) Field(f Field) string {
	return s.CollectedFields[f]
}

// Patch is a sparse update returned by a stage. Nil members are left untouched by Apply.
type Patch struct {
	Input         *string
	Stage         *Stage
	Intent        *Intent
	Fields        map[Field]string
	ResetFields   bool
	Entities      map[EntityKind][]string
	MissingFields *[]EntityKind
	Moderation    *Flag
	PII           *Flag
	PIIFields     *[]PIIField
	HITL          *Flag
	CallCount     *int
	Draft         *string
	Approval      *Approval
	Status        *Status
	Reply         *string
	Error         *string
}

// Ptr returns a pointer to v. Stages use it to build patches inline.
func Ptr[T any](v T) *T {
	return &v
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.Input == nil && p.Stage == nil && p.Intent == nil && len(p.Fields) == 0 && !p.ResetFields &&
		len(p.Entities) == 0 && p.MissingFields == nil && p.Moderation == nil && p.PII == nil &&
		p.PIIFields == nil && p.HITL == nil && p.CallCount == nil && p.Draft == nil &&
		p.Approval == nil && p.Status == nil && p.Reply == nil && p.Error == nil
}

// Apply merges p into s. Scalars are overwritten only when set; Fields and Entities merge per key.
func (s *ConversationState) Apply(p Patch) {
	if p.Input != nil {
		s.CurrentInput = *p.Input
	}
	if p.Stage != nil {
		s.Stage = *p.Stage
	}
	if p.Intent != nil {
		s.Intent = *p.Intent
	}
	if p.ResetFields || s.CollectedFields == nil {
		s.CollectedFields = make(map[Field]string)
	}
	for k, v := range p.Fields {
		s.CollectedFields[k] = v
	}
	if s.ExtractedEntities == nil {
		s.ExtractedEntities = make(map[EntityKind][]string)
	}
	for k, v := range p.Entities {
		s.ExtractedEntities[k] = append([]string(nil), v...)
	}
	if p.MissingFields != nil {
		s.MissingFields = append([]EntityKind(nil), (*p.MissingFields)...)
	}
	if p.Moderation != nil {
		s.Flags.Moderation = *p.Moderation
	}
	if p.PII != nil {
		s.Flags.PII = *p.PII
	}
	if p.PIIFields != nil {
		s.Flags.PIIFields = append([]PIIField(nil), (*p.PIIFields)...)
	}
	if p.HITL != nil {
		s.Flags.HITL = *p.HITL
	}
	if p.CallCount != nil {
		s.CallCount = *p.CallCount
	}
	if p.Draft != nil {
		s.Draft = *p.Draft
	}
	if p.Approval != nil {
		s.Approval = *p.Approval
	}
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.Reply != nil {
		s.Reply = *p.Reply
	}
	if p.Error != nil {
		s.Error = *p.Error
	}
}
