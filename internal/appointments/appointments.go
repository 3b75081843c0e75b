// Package appointments provides the patient appointment stores.
//
// Patients are keyed by name and looked up case-insensitively. Each patient has an ordered list
// of appointments; an update rewrites the date and time of one appointment and keeps every other
// field of the record.
package appointments

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/BTreeMap/CarePipe/internal/models"
	"github.com/BTreeMap/CarePipe/internal/util"
)

// Error variables for store lookups.
var (
	ErrPatientNotFound     = errors.New("Patient not found")
	ErrAppointmentNotFound = errors.New("Appointment not found")
	ErrDSNNotSet           = errors.New("database DSN not set")
)

// Store reads and updates patient appointments.
type Store interface {
	Lookup(ctx context.Context, name string) (models.Patient, error)
	UpdateSlot(ctx context.Context, name, appointmentID, date, time string) (models.Appointment, error)
	Close() error
}

// Seeder is implemented by stores that can be bulk loaded, for example from a JSON export.
type Seeder interface {
	Seed(ctx context.Context, patients []models.Patient) error
}

// Opts holds configuration options for a store.
type Opts struct {
	DSN string
}

// Option defines a configuration option for a store.
type Option func(*Opts)

// WithDSN sets the connection string or file path.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// Open picks a backend by DSN type.
func Open(dsn string) (Store, error) {
	kind := util.DetectDSNType(dsn)
	slog.Debug("Appointments.Open: opening store", "type", kind)
	switch kind {
	case util.DSNTypeMemory:
		return NewMemoryStore(), nil
	case util.DSNTypeJSON:
		return NewJSONStore(WithDSN(dsn))
	case util.DSNTypePostgres:
		return NewPostgresStore(WithDSN(dsn))
	default:
		return NewSQLiteStore(WithDSN(dsn))
	}
}

// nameKey is the case-insensitive lookup key for a patient name.
func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// applySlot rewrites date and time on a copy of a.
func applySlot(a models.Appointment, date, time string) models.Appointment {
	a.Date = date
	a.Time = time
	return a
}
