package appointments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BTreeMap/CarePipe/internal/lockfile"
	"github.com/BTreeMap/CarePipe/internal/models"
)

// Constants for the JSON file store.
const (
	// DefaultFilePermissions is the mode of a rewritten appointments file.
	DefaultFilePermissions = 0644
	// jsonIndent matches the indentation the clinic tooling writes.
	jsonIndent = "  "
)

// JSONStore keeps appointments in a single JSON object mapping patient name to appointment list.
// Readers hold a shared lock and writers an exclusive one, so concurrent updates from several
// processes never interleave. Patient order and unknown record fields survive a rewrite.
type JSONStore struct {
	path string
}

// document is the decoded file with its top-level key order.
type document struct {
	names   []string
	records map[string][]models.Appointment
}

// NewJSONStore creates a store over the file named by the DSN. The file is not read until the
// first lookup.
func NewJSONStore(opts ...Option) (*JSONStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("JSONStore.NewJSONStore: creating store", "DSN_set", cfg.DSN != "")
	if cfg.DSN == "" {
		slog.Error("JSONStore.NewJSONStore: DSN not set")
		return nil, ErrDSNNotSet
	}
	return &JSONStore{path: cfg.DSN}, nil
}

// Path returns the backing file path.
func (s *JSONStore) Path() string {
	return s.path
}

// Lookup returns the patient whose name matches case-insensitively.
func (s *JSONStore) Lookup(ctx context.Context, name string) (models.Patient, error) {
	lock, err := lockfile.Acquire(s.path, lockfile.Shared)
	if err != nil {
		return models.Patient{}, err
	}
	defer lock.Release()

	doc, err := s.load()
	if err != nil {
		return models.Patient{}, err
	}
	key, ok := doc.match(name)
	if !ok {
		slog.Debug("JSONStore.Lookup: patient not found")
		return models.Patient{}, ErrPatientNotFound
	}
	return clonePatient(models.Patient{Name: key, Appointments: doc.records[key]}), nil
}

// UpdateSlot rewrites the date and time of one appointment and saves the whole file.
func (s *JSONStore) UpdateSlot(ctx context.Context, name, appointmentID, date, time string) (models.Appointment, error) {
	lock, err := lockfile.Acquire(s.path, lockfile.Exclusive)
	if err != nil {
		return models.Appointment{}, err
	}
	defer lock.Release()

	doc, err := s.load()
	if err != nil {
		return models.Appointment{}, err
	}
	key, ok := doc.match(name)
	if !ok {
		return models.Appointment{}, ErrPatientNotFound
	}
	list := doc.records[key]
	idx := -1
	for i, a := range list {
		if a.ID == appointmentID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return models.Appointment{}, ErrAppointmentNotFound
	}
	list[idx] = applySlot(list[idx], date, time)

	if err := s.save(doc); err != nil {
		return models.Appointment{}, err
	}
	slog.Info("JSONStore.UpdateSlot: appointment updated", "appointment_id", appointmentID)
	return cloneAppointment(list[idx]), nil
}

// Seed writes patients to the file, replacing records with the same name.
func (s *JSONStore) Seed(_ context.Context, patients []models.Patient) error {
	lock, err := lockfile.Acquire(s.path, lockfile.Exclusive)
	if err != nil {
		return err
	}
	defer lock.Release()

	doc, err := s.load()
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		doc = &document{records: make(map[string][]models.Appointment)}
	}
	for _, p := range patients {
		if _, exists := doc.records[p.Name]; !exists {
			doc.names = append(doc.names, p.Name)
		}
		doc.records[p.Name] = append([]models.Appointment(nil), p.Appointments...)
	}
	return s.save(doc)
}

// ReadPatients decodes an appointments file in file order. It takes a shared lock on path.
func ReadPatients(path string) ([]models.Patient, error) {
	lock, err := lockfile.Acquire(path, lockfile.Shared)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	doc, err := (&JSONStore{path: path}).load()
	if err != nil {
		return nil, err
	}
	out := make([]models.Patient, 0, len(doc.names))
	for _, name := range doc.names {
		out = append(out, models.Patient{Name: name, Appointments: doc.records[name]})
	}
	return out, nil
}

// Close is a no-op; the file is opened per operation.
func (s *JSONStore) Close() error {
	return nil
}

func (s *JSONStore) load() (*document, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open appointments file: %w", err)
	}
	defer f.Close()
	doc, err := decodeDocument(f)
	if err != nil {
		slog.Error("JSONStore.load: decode failed", "path", s.path, "error", err)
		return nil, fmt.Errorf("failed to read appointments file %s: %w", s.path, err)
	}
	return doc, nil
}

// save writes to a temporary sibling and renames it over the original.
func (s *JSONStore) save(doc *document) error {
	data, err := doc.encode()
	if err != nil {
		return fmt.Errorf("failed to encode appointments: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write appointments: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, DefaultFilePermissions); err != nil {
		slog.Warn("JSONStore.save: chmod failed", "path", tmpName, "error", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace appointments file: %w", err)
	}
	return nil
}

// match finds the stored key equal to name ignoring case. The first key in file order wins.
func (d *document) match(name string) (string, bool) {
	want := strings.TrimSpace(name)
	for _, k := range d.names {
		if strings.EqualFold(k, want) {
			return k, true
		}
	}
	return "", false
}

func decodeDocument(r io.Reader) (*document, error) {
	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected a JSON object of patients")
	}
	doc := &document{records: make(map[string][]models.Appointment)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		var list []models.Appointment
		if err := dec.Decode(&list); err != nil {
			return nil, fmt.Errorf("patient %d: %w", len(doc.names)+1, err)
		}
		if _, dup := doc.records[name]; !dup {
			doc.names = append(doc.names, name)
		}
		doc.records[name] = list
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return doc, nil
}

func (d *document) encode() ([]byte, error) {
	var buf bytes.Buffer
	if len(d.names) == 0 {
		return []byte("{}\n"), nil
	}
	buf.WriteString("{\n")
	for i, name := range d.names {
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		list := d.records[name]
		if list == nil {
			list = []models.Appointment{}
		}
		val, err := json.MarshalIndent(list, jsonIndent, jsonIndent)
		if err != nil {
			return nil, err
		}
		buf.WriteString(jsonIndent)
		buf.Write(key)
		buf.WriteString(": ")
		buf.Write(val)
		if i < len(d.names)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}
