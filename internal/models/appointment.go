package models

import (
	"encoding/json"
	"fmt"
)

// Appointment is one booked slot for a patient. Fields the clinic adds to a record beyond
// id/date/time are carried in Extra and written back unchanged.
type Appointment struct {
	ID    string                     `json:"id"`
	Date  string                     `json:"date"`
	Time  string                     `json:"time"`
	Extra map[string]json.RawMessage `json:"-"`
}

// Patient is the result of a store lookup: the canonical stored name and its appointments in order.
type Patient struct {
	Name         string        `json:"name"`
	Appointments []Appointment `json:"appointments"`
}

// MarshalJSON writes id/date/time followed by the preserved extra fields.
func (a Appointment) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(a.Extra)+3)
	for k, v := range a.Extra {
		out[k] = v
	}
	for k, v := range map[string]string{"id": a.ID, "date": a.Date, "time": a.Time} {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		out[k] = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads id/date/time and keeps every other key in Extra.
func (a *Appointment) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid appointment record: %w", err)
	}
	*a = Appointment{}
	for _, key := range []string{"id", "date", "time"} {
		v, ok := raw[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return fmt.Errorf("appointment field %q must be a string: %w", key, err)
		}
		switch key {
		case "id":
			a.ID = s
		case "date":
			a.Date = s
		case "time":
			a.Time = s
		}
		delete(raw, key)
	}
	if len(raw) > 0 {
		a.Extra = raw
	}
	return nil
}
