package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestChatResponseJSONTags(t *testing.T) {
	r := ChatResponse{Reply: "hi", Status: StatusReady, HITLRequired: true, RunID: "APPT-1"}
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, key := range []string{`"reply"`, `"status":"READY"`, `"hitl_required":true`, `"hitl_reason"`, `"route"`, `"run_id":"APPT-1"`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("expected %s in %s", key, data)
		}
	}
}

func TestEmailRequestValidateDefaultsIntent(t *testing.T) {
	r := EmailRequest{Name: "Jane Doe"}
	if err := r.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Intent != IntentBook {
		t.Errorf("expected intent %q, got %q", IntentBook, r.Intent)
	}

	bad := EmailRequest{Intent: "teleport"}
	if err := bad.Validate(); err != ErrInvalidIntent {
		t.Errorf("expected ErrInvalidIntent, got %v", err)
	}
}

func TestAppointmentUpdateRequestValidate(t *testing.T) {
	tests := []struct {
		name string
		req  AppointmentUpdateRequest
		want error
	}{
		{"valid", AppointmentUpdateRequest{Name: " Jane Doe ", AppointmentID: "A1"}, nil},
		{"missing name", AppointmentUpdateRequest{AppointmentID: "A1"}, ErrEmptyName},
		{"missing id", AppointmentUpdateRequest{Name: "Jane"}, ErrEmptyAppointmentID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.req.Validate(); err != tt.want {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestAppointmentPreservesExtraFields(t *testing.T) {
	in := `{"id":"A1","date":"2025-03-05","time":"10:00 AM","provider":"Dr. Lee","room":4}`
	var a Appointment
	if err := json.Unmarshal([]byte(in), &a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.ID != "A1" || a.Date != "2025-03-05" || a.Time != "10:00 AM" {
		t.Fatalf("core fields not decoded: %+v", a)
	}
	if len(a.Extra) != 2 {
		t.Fatalf("expected 2 extra fields, got %d", len(a.Extra))
	}

	a.Date = "2025-03-06"
	out, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var back map[string]any
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if back["provider"] != "Dr. Lee" || back["room"] != float64(4) || back["date"] != "2025-03-06" {
		t.Errorf("unexpected round trip: %v", back)
	}
}

func TestAppointmentRejectsNonStringID(t *testing.T) {
	var a Appointment
	if err := json.Unmarshal([]byte(`{"id":7}`), &a); err == nil {
		t.Error("expected error for numeric id")
	}
}
