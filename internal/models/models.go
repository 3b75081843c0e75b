// Package models defines the core data structures for CarePipe.
//
// It includes the conversation state, appointment records and the request/response payloads
// shared between the flow, store and api modules.
package models

import (
	"errors"
	"strings"
)

// Validation constants for input validation
const (
	// MaxMessageLength bounds the raw chat message accepted by the API before context trimming.
	MaxMessageLength = 16384
	// MaxNameLength defines the maximum allowed length for a patient name in API payloads
	MaxNameLength = 200
)

// Error variables for better error handling and testability
var (
	ErrMessageTooLong     = errors.New("message exceeds maximum length")
	ErrEmptyName          = errors.New("name is required")
	ErrNameTooLong        = errors.New("name exceeds maximum length")
	ErrEmptyAppointmentID = errors.New("appointment_id is required")
	ErrInvalidIntent      = errors.New("invalid intent")
)

// IsValidIntent checks if the given intent is supported.
func IsValidIntent(i Intent) bool {
	switch i {
	case IntentBook, IntentCancel, IntentReschedule, IntentEmergency, IntentPrepInstructions, IntentUnknown:
		return true
	default:
		return false
	}
}

// ChatRequest is the payload of POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// Validate performs validation on a ChatRequest. Empty messages are valid; the pipeline
// answers them with NEED_INFO.
func (r *ChatRequest) Validate() error {
	if len(r.Message) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}

// ChatResponse is the reply of POST /api/chat.
type ChatResponse struct {
	Reply        string   `json:"reply"`
	Status       Status   `json:"status"`
	HITLRequired bool     `json:"hitl_required"`
	HITLReason   string   `json:"hitl_reason"`
	Intent       Intent   `json:"intent"`
	Route        []string `json:"route"`
	RunID        string   `json:"run_id"`
}

// EmailRequest is the payload of POST /api/email.
type EmailRequest struct {
	Intent Intent `json:"intent"`
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	Day    string `json:"day"`
	Time   string `json:"time"`
}

// Validate defaults the intent to book and rejects unknown intents.
func (r *EmailRequest) Validate() error {
	if r.Intent == "" {
		r.Intent = IntentBook
	}
	if !IsValidIntent(r.Intent) {
		return ErrInvalidIntent
	}
	if len(r.Name) > MaxNameLength {
		return ErrNameTooLong
	}
	return nil
}

// EmailDraft is the reply of POST /api/email.
type EmailDraft struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// AppointmentLookupRequest is the payload of POST /api/appointments.
type AppointmentLookupRequest struct {
	Name string `json:"name"`
}

// Validate trims and checks the patient name.
func (r *AppointmentLookupRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return ErrEmptyName
	}
	if len(r.Name) > MaxNameLength {
		return ErrNameTooLong
	}
	return nil
}

// AppointmentLookupResponse is the reply of POST /api/appointments.
type AppointmentLookupResponse struct {
	Found        bool          `json:"found"`
	Name         string        `json:"name,omitempty"`
	Appointments []Appointment `json:"appointments"`
	Error        string        `json:"error,omitempty"`
}

// AppointmentUpdateRequest is the payload of POST /api/appointments/update.
type AppointmentUpdateRequest struct {
	Name          string `json:"name"`
	AppointmentID string `json:"appointment_id"`
	NewDate       string `json:"new_date"`
	NewTime       string `json:"new_time"`
}

// Validate trims every field and checks the identifying ones.
func (r *AppointmentUpdateRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	r.AppointmentID = strings.TrimSpace(r.AppointmentID)
	r.NewDate = strings.TrimSpace(r.NewDate)
	r.NewTime = strings.TrimSpace(r.NewTime)
	if r.Name == "" {
		return ErrEmptyName
	}
	if r.AppointmentID == "" {
		return ErrEmptyAppointmentID
	}
	return nil
}

// AppointmentUpdateResponse is the reply of POST /api/appointments/update.
type AppointmentUpdateResponse struct {
	Success     bool         `json:"success"`
	Appointment *Appointment `json:"appointment,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// API Response types for consistent JSON responses

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
