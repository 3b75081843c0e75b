// Package testutil provides common test utilities and helpers for CarePipe tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/BTreeMap/CarePipe/internal/appointments"
	"github.com/BTreeMap/CarePipe/internal/genai"
	"github.com/BTreeMap/CarePipe/internal/models"
	"github.com/BTreeMap/CarePipe/internal/notify"
)

// ErrScripted is returned by a ScriptedGenerator configured to fail.
var ErrScripted = errors.New("scripted generation failure")

// ScriptedGenerator is a text generator that replays canned replies and records every request.
// With no replies left it repeats the last one; with Fail set it always errors.
type ScriptedGenerator struct {
	mu       sync.Mutex
	replies  []string
	Fail     bool
	Requests []genai.CompletionRequest
}

// NewScriptedGenerator creates a generator that answers with replies in order.
func NewScriptedGenerator(replies ...string) *ScriptedGenerator {
	return &ScriptedGenerator{replies: replies}
}

// NewFailingGenerator creates a generator whose every call fails.
func NewFailingGenerator() *ScriptedGenerator {
	return &ScriptedGenerator{Fail: true}
}

// Complete implements the generation capability.
func (g *ScriptedGenerator) Complete(_ context.Context, req genai.CompletionRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Requests = append(g.Requests, req)
	if g.Fail {
		return "", ErrScripted
	}
	switch len(g.replies) {
	case 0:
		return "generated reply", nil
	case 1:
		return g.replies[0], nil
	}
	r := g.replies[0]
	g.replies = g.replies[1:]
	return r, nil
}

// Calls returns the number of requests seen so far.
func (g *ScriptedGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Requests)
}

// RecordingNotifier records notifications instead of delivering them.
type RecordingNotifier struct {
	mu   sync.Mutex
	Err  error
	Sent []notify.Notification
}

// Notify records n, or returns Err when set.
func (r *RecordingNotifier) Notify(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Sent = append(r.Sent, n)
	return nil
}

// Count returns the number of recorded notifications.
func (r *RecordingNotifier) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Sent)
}

// SamplePatients returns two patients, the first with an extra field on its first appointment.
func SamplePatients() []models.Patient {
	return []models.Patient{
		{Name: "Jane Doe", Appointments: []models.Appointment{
			{ID: "A1", Date: "2025-03-10", Time: "10:00", Extra: map[string]json.RawMessage{"provider": json.RawMessage(`"Dr. Lee"`)}},
			{ID: "A2", Date: "2025-04-02", Time: "14:30"},
		}},
		{Name: "Adam Smith", Appointments: []models.Appointment{
			{ID: "B1", Date: "2025-03-11", Time: "09:00"},
		}},
	}
}

// NewSeededStore returns an in-memory appointment store holding SamplePatients.
func NewSeededStore() *appointments.MemoryStore {
	return appointments.NewMemoryStore(SamplePatients()...)
}

// Reporter is the subset of testing.TB used by assertion helpers.
type Reporter interface {
	Helper()
	Errorf(format string, args ...interface{})
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t Reporter, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// DecodeJSON decodes the recorded response body into target and fails the test on error.
func DecodeJSON(t *testing.T, rr *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(target); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
}

// AssertJSONResponse decodes an APIResponse envelope and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	DecodeJSON(t, rr, &response)

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}
	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		reqBody = bytes.NewBuffer(MustMarshalJSON(t, body))
	}
	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
