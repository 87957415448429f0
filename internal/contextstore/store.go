package contextstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/medrahq/medra/internal/keywords"
)

const (
	// DefaultMaxTurns is the per-doctor FIFO cap: appending past it
	// evicts the oldest turns first, regardless of relevance.
	DefaultMaxTurns = 1000

	// maxCitationChars bounds the text carried by a Citation.
	maxCitationChars = 300

	// topK caps how many citations a query returns.
	topK = 3
)

// Store indexes conversation turns per doctor and retrieves the ones
// most relevant to a query by keyword overlap.
type Store interface {
	// Append derives the turn's keywords, assigns it a fresh id when
	// missing, and inserts it, evicting the oldest turns beyond the
	// per-doctor cap. Callers on the generation path treat a failure
	// as non-fatal.
	Append(ctx context.Context, turn Turn) error

	// Query extracts keywords from text and returns up to 3 citations
	// from the doctor's turns, highest overlap score first, ties in
	// insertion order. An empty extracted keyword set short-circuits
	// to an empty result without scanning. When patientID is set,
	// turns belonging to other patients are skipped.
	Query(ctx context.Context, text, doctorID, patientID string) ([]Citation, error)
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore keeps turns in the context_turns table, partitioned by
// doctor_id with a monotonic seq column as the insertion-order marker.
// The shared single-connection database serializes the append's
// insert-then-evict cycle, so concurrent appends cannot lose updates.
type SQLiteStore struct {
	db        *sql.DB
	extractor *keywords.Extractor
	maxTurns  int
}

// NewSQLiteStore wraps an existing *sql.DB for turn storage. The
// context_turns table must already exist (created via migrations).
// maxTurns <= 0 selects DefaultMaxTurns.
func NewSQLiteStore(db *sql.DB, extractor *keywords.Extractor, maxTurns int) *SQLiteStore {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &SQLiteStore{db: db, extractor: extractor, maxTurns: maxTurns}
}

func (s *SQLiteStore) Append(ctx context.Context, turn Turn) error {
	if turn.DoctorID == "" {
		return fmt.Errorf("append: doctor id is required")
	}
	if turn.ID == "" {
		turn.ID = uuid.New().String()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	turn.Keywords = s.extractor.Extract(turn.Text)

	kw, err := json.Marshal(turn.Keywords)
	if err != nil {
		return fmt.Errorf("encoding keywords: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning append transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO context_turns (id, doctor_id, patient_id, patient_name, chat_id, role, text, keywords, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.DoctorID, turn.PatientID, turn.PatientName, turn.ChatID,
		turn.Role, turn.Text, string(kw), turn.CreatedAt.Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("inserting turn %s: %w", turn.ID, err)
	}

	// FIFO eviction: keep only the newest maxTurns for this doctor.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM context_turns
		WHERE doctor_id = ? AND seq NOT IN (
			SELECT seq FROM context_turns WHERE doctor_id = ?
			ORDER BY seq DESC LIMIT ?
		)`, turn.DoctorID, turn.DoctorID, s.maxTurns,
	); err != nil {
		return fmt.Errorf("evicting old turns: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) Query(ctx context.Context, text, doctorID, patientID string) ([]Citation, error) {
	queryKeywords := s.extractor.Extract(text)
	if len(queryKeywords) == 0 {
		return nil, nil
	}

	query := `SELECT patient_id, patient_name, role, text, keywords, created_at
		FROM context_turns WHERE doctor_id = ?`
	args := []any{doctorID}
	if patientID != "" {
		query += ` AND patient_id = ?`
		args = append(args, patientID)
	}
	query += ` ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scanning turns: %w", err)
	}
	defer rows.Close()

	var results []Citation
	for rows.Next() {
		var pid, pname, role, turnText, kwJSON, createdAt string
		if err := rows.Scan(&pid, &pname, &role, &turnText, &kwJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		var turnKeywords []string
		if err := json.Unmarshal([]byte(kwJSON), &turnKeywords); err != nil {
			// A corrupt keyword payload is a no-match, not a failure.
			slog.Warn("skipping turn with unreadable keywords", "doctor_id", doctorID, "error", err)
			continue
		}

		overlap := keywords.Overlap(queryKeywords, turnKeywords)
		if overlap == 0 {
			continue
		}

		ts, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			slog.Warn("skipping turn with unreadable timestamp", "doctor_id", doctorID, "error", err)
			continue
		}

		results = append(results, Citation{
			Text:      truncate(turnText, maxCitationChars),
			Source:    sourceLabel(pname),
			Role:      role,
			Score:     float64(overlap) / float64(len(queryKeywords)),
			Timestamp: ts,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turns: %w", err)
	}

	sortByScore(results)
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// sortByScore orders citations by score descending. Insertion sort
// with a strict comparison is stable, so equal scores keep the
// insertion order they were scanned in.
func sortByScore(results []Citation) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Score > results[j-1].Score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

func sourceLabel(patientName string) string {
	if patientName != "" {
		return "patient " + patientName
	}
	return "general consultation"
}

// truncate keeps s within max runes, ellipsis included.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
