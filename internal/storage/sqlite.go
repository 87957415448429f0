package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding patients, chats, messages,
// and the conversation context turns.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs
// pending migrations. Pass ":memory:" for an in-memory database
// (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "medra.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// A single connection serializes all read-modify-write cycles,
	// which is the locking model the context store relies on.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// DB exposes the underlying connection for components that share the
// same database file (the context store).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var applied int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&applied); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if applied > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

// AppliedMigrations returns applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Patients ---

func (s *Store) CreatePatient(p Patient) error {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO patients (id, doctor_id, name, mrn, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.DoctorID, p.Name, p.MRN, p.Notes, createdAt.Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetPatient(id, doctorID string) (Patient, error) {
	var p Patient
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, doctor_id, name, mrn, notes, created_at
		FROM patients WHERE id = ? AND doctor_id = ?`, id, doctorID,
	).Scan(&p.ID, &p.DoctorID, &p.Name, &p.MRN, &p.Notes, &createdAt)
	if err == sql.ErrNoRows {
		return Patient{}, ErrNotFound
	}
	if err != nil {
		return Patient{}, err
	}
	p.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Patient{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return p, nil
}

func (s *Store) ListPatients(doctorID string) ([]Patient, error) {
	rows, err := s.db.Query(`
		SELECT id, doctor_id, name, mrn, notes, created_at
		FROM patients WHERE doctor_id = ? ORDER BY created_at DESC`, doctorID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Patient
	for rows.Next() {
		var p Patient
		var createdAt string
		if err := rows.Scan(&p.ID, &p.DoctorID, &p.Name, &p.MRN, &p.Notes, &createdAt); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

func (s *Store) UpdatePatientNotes(id, doctorID, notes string) error {
	res, err := s.db.Exec(`UPDATE patients SET notes = ? WHERE id = ? AND doctor_id = ?`,
		notes, id, doctorID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Chats ---

func (s *Store) CreateChat(c Chat) error {
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	isGeneral := 0
	if c.IsGeneral {
		isGeneral = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO chats (id, doctor_id, patient_id, patient_name, title, is_general, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.DoctorID, c.PatientID, c.PatientName, c.Title, isGeneral,
		createdAt.Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetChat(id, doctorID string) (Chat, error) {
	var c Chat
	var isGeneral int
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, doctor_id, patient_id, patient_name, title, is_general, created_at
		FROM chats WHERE id = ? AND doctor_id = ?`, id, doctorID,
	).Scan(&c.ID, &c.DoctorID, &c.PatientID, &c.PatientName, &c.Title, &isGeneral, &createdAt)
	if err == sql.ErrNoRows {
		return Chat{}, ErrNotFound
	}
	if err != nil {
		return Chat{}, err
	}
	c.IsGeneral = isGeneral != 0
	if c.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Chat{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return c, nil
}

func (s *Store) ListChats(doctorID, patientID string) ([]Chat, error) {
	query := `SELECT id, doctor_id, patient_id, patient_name, title, is_general, created_at
		FROM chats WHERE doctor_id = ?`
	args := []any{doctorID}
	if patientID != "" {
		query += ` AND patient_id = ?`
		args = append(args, patientID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Chat
	for rows.Next() {
		var c Chat
		var isGeneral int
		var createdAt string
		if err := rows.Scan(&c.ID, &c.DoctorID, &c.PatientID, &c.PatientName, &c.Title, &isGeneral, &createdAt); err != nil {
			return nil, err
		}
		c.IsGeneral = isGeneral != 0
		if c.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// --- Messages ---

func (s *Store) SaveMessage(m Message) error {
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO messages (id, chat_id, doctor_id, patient_id, patient_name, role, text, media_url, media_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ChatID, m.DoctorID, m.PatientID, m.PatientName, m.Role, m.Text,
		m.MediaURL, m.MediaType, createdAt.Format(time.RFC3339Nano),
	)
	return err
}

// ListMessages returns every message in a chat in chronological order.
func (s *Store) ListMessages(chatID string) ([]Message, error) {
	return s.queryMessages(`
		SELECT id, chat_id, doctor_id, patient_id, patient_name, role, text, media_url, media_type, created_at
		FROM messages WHERE chat_id = ? ORDER BY created_at ASC, rowid ASC`, chatID)
}

// RecentMessages returns the last limit messages of a chat in
// chronological order. This is the bounded history window the prompt
// composer consumes.
func (s *Store) RecentMessages(chatID string, limit int) ([]Message, error) {
	msgs, err := s.queryMessages(`
		SELECT id, chat_id, doctor_id, patient_id, patient_name, role, text, media_url, media_type, created_at
		FROM messages WHERE chat_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, chatID, limit)
	if err != nil {
		return nil, err
	}
	// Flip newest-first into chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *Store) queryMessages(query string, args ...any) ([]Message, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Message
	for rows.Next() {
		var m Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.ChatID, &m.DoctorID, &m.PatientID, &m.PatientName,
			&m.Role, &m.Text, &m.MediaURL, &m.MediaType, &createdAt); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, m)
	}
	return results, rows.Err()
}
