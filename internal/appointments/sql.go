package appointments

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/CarePipe/internal/models"
)

// sqlStore holds the queries shared by the SQLite and Postgres backends. The dialects differ only
// in placeholder syntax.
type sqlStore struct {
	db      *sql.DB
	backend string
	bind    func(n int) string
}

func questionBind(int) string { return "?" }

func dollarBind(n int) string { return fmt.Sprintf("$%d", n) }

// query rewrites each '?' in q with the backend placeholder.
func (s *sqlStore) query(q string) string {
	if s.bind == nil {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString(s.bind(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Lookup returns the patient whose name matches case-insensitively.
func (s *sqlStore) Lookup(ctx context.Context, name string) (models.Patient, error) {
	key := nameKey(name)
	var p models.Patient
	err := s.db.QueryRowContext(ctx, s.query(`SELECT name FROM patients WHERE name_key = ?`), key).Scan(&p.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Patient{}, ErrPatientNotFound
	}
	if err != nil {
		slog.Error(s.backend+".Lookup: patient query failed", "error", err)
		return models.Patient{}, fmt.Errorf("failed to query patient: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, s.query(`SELECT appointment_id, slot_date, slot_time, extra FROM appointments WHERE patient_key = ? ORDER BY position`), key)
	if err != nil {
		slog.Error(s.backend+".Lookup: appointments query failed", "error", err)
		return models.Patient{}, fmt.Errorf("failed to query appointments: %w", err)
	}
	defer rows.Close()

	p.Appointments = []models.Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return models.Patient{}, err
		}
		p.Appointments = append(p.Appointments, a)
	}
	if err := rows.Err(); err != nil {
		return models.Patient{}, fmt.Errorf("failed to iterate appointment rows: %w", err)
	}
	slog.Debug(s.backend+".Lookup: succeeded", "count", len(p.Appointments))
	return p, nil
}

// UpdateSlot rewrites the date and time of one appointment.
func (s *sqlStore) UpdateSlot(ctx context.Context, name, appointmentID, date, time string) (models.Appointment, error) {
	key := nameKey(name)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Appointment{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, s.query(`SELECT COUNT(*) FROM patients WHERE name_key = ?`), key).Scan(&exists)
	if err != nil {
		return models.Appointment{}, fmt.Errorf("failed to query patient: %w", err)
	}
	if exists == 0 {
		return models.Appointment{}, ErrPatientNotFound
	}

	res, err := tx.ExecContext(ctx, s.query(`UPDATE appointments SET slot_date = ?, slot_time = ? WHERE patient_key = ? AND appointment_id = ?`),
		date, time, key, appointmentID)
	if err != nil {
		slog.Error(s.backend+".UpdateSlot: update failed", "appointment_id", appointmentID, "error", err)
		return models.Appointment{}, fmt.Errorf("failed to update appointment %s: %w", appointmentID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.Appointment{}, ErrAppointmentNotFound
	}

	row := tx.QueryRowContext(ctx, s.query(`SELECT appointment_id, slot_date, slot_time, extra FROM appointments WHERE patient_key = ? AND appointment_id = ?`), key, appointmentID)
	a, err := scanAppointment(row)
	if err != nil {
		return models.Appointment{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Appointment{}, fmt.Errorf("failed to commit update: %w", err)
	}
	slog.Info(s.backend+".UpdateSlot: appointment updated", "appointment_id", appointmentID)
	return a, nil
}

// Seed replaces the stored records of each given patient.
func (s *sqlStore) Seed(ctx context.Context, patients []models.Patient) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, p := range patients {
		key := nameKey(p.Name)
		if _, err := tx.ExecContext(ctx, s.query(`DELETE FROM appointments WHERE patient_key = ?`), key); err != nil {
			return fmt.Errorf("failed to clear appointments: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.query(`DELETE FROM patients WHERE name_key = ?`), key); err != nil {
			return fmt.Errorf("failed to clear patient: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.query(`INSERT INTO patients (name_key, name) VALUES (?, ?)`), key, p.Name); err != nil {
			return fmt.Errorf("failed to insert patient: %w", err)
		}
		for i, a := range p.Appointments {
			extra, err := encodeExtra(a.Extra)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, s.query(`INSERT INTO appointments (patient_key, appointment_id, slot_date, slot_time, extra, position) VALUES (?, ?, ?, ?, ?, ?)`),
				key, a.ID, a.Date, a.Time, extra, i)
			if err != nil {
				return fmt.Errorf("failed to insert appointment %s: %w", a.ID, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit seed: %w", err)
	}
	slog.Info(s.backend+".Seed: patients loaded", "count", len(patients))
	return nil
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	slog.Debug(s.backend + ".Close: closing database connection")
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppointment(r rowScanner) (models.Appointment, error) {
	var a models.Appointment
	var extra string
	if err := r.Scan(&a.ID, &a.Date, &a.Time, &extra); err != nil {
		return a, fmt.Errorf("failed to scan appointment row: %w", err)
	}
	if extra != "" && extra != "{}" {
		if err := json.Unmarshal([]byte(extra), &a.Extra); err != nil {
			return a, fmt.Errorf("failed to decode appointment extra fields: %w", err)
		}
	}
	return a, nil
}

func encodeExtra(extra map[string]json.RawMessage) (string, error) {
	if len(extra) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(extra)
	if err != nil {
		return "", fmt.Errorf("failed to encode appointment extra fields: %w", err)
	}
	return string(b), nil
}
