package appointments

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/BTreeMap/CarePipe/internal/models"
)

// MemoryStore is an in-memory store for tests and demos.
type MemoryStore struct {
	mu       sync.RWMutex
	patients map[string]models.Patient // by nameKey
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(patients ...models.Patient) *MemoryStore {
	s := &MemoryStore{patients: make(map[string]models.Patient)}
	_ = s.Seed(context.Background(), patients)
	return s
}

// Seed adds or replaces patients.
func (s *MemoryStore) Seed(_ context.Context, patients []models.Patient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range patients {
		s.patients[nameKey(p.Name)] = clonePatient(p)
	}
	return nil
}

// Lookup returns the patient whose name matches case-insensitively.
func (s *MemoryStore) Lookup(_ context.Context, name string) (models.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[nameKey(name)]
	if !ok {
		return models.Patient{}, ErrPatientNotFound
	}
	return clonePatient(p), nil
}

// UpdateSlot rewrites the date and time of one appointment.
func (s *MemoryStore) UpdateSlot(_ context.Context, name, appointmentID, date, time string) (models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[nameKey(name)]
	if !ok {
		return models.Appointment{}, ErrPatientNotFound
	}
	for i, a := range p.Appointments {
		if a.ID == appointmentID {
			p.Appointments[i] = applySlot(a, date, time)
			return cloneAppointment(p.Appointments[i]), nil
		}
	}
	return models.Appointment{}, ErrAppointmentNotFound
}

// Patients returns every patient sorted by name.
func (s *MemoryStore) Patients() []models.Patient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Patient, 0, len(s.patients))
	for _, p := range s.patients {
		out = append(out, clonePatient(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

func cloneAppointment(a models.Appointment) models.Appointment {
	c := a
	if a.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(a.Extra))
		for k, v := range a.Extra {
			c.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return c
}

func clonePatient(p models.Patient) models.Patient {
	c := models.Patient{Name: p.Name, Appointments: make([]models.Appointment, len(p.Appointments))}
	for i, a := range p.Appointments {
		c.Appointments[i] = cloneAppointment(a)
	}
	return c
}
