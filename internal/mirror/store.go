package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/launchpointhq/liveboard/internal/model"
)

// Stats counts mirror write activity.
type Stats struct {
	Applied  int64 // change events applied
	Replaced int64 // full-table replacements
	Errors   int64
}

// Store maintains the local Postgres mirror of the dashboard's hot tables.
// Change events apply incrementally; the fallback poller's refetch path
// replaces whole tables.
type Store struct {
	db     *pgxpool.Pool
	logger *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates a mirror store.
func New(db *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:     db,
		logger: logger,
	}
}

// Stats returns current write counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Apply writes one change event to the mirror. Inserts and updates upsert the
// row; deletes remove it. Events for unknown topics are rejected.
func (s *Store) Apply(ctx context.Context, ev model.ChangeEvent) error {
	var err error
	switch ev.Topic {
	case model.TopicApplications:
		err = s.applyApplication(ctx, ev)
	case model.TopicMentors:
		err = s.applyMentor(ctx, ev)
	default:
		err = fmt.Errorf("unknown topic %q", ev.Topic)
	}

	s.mu.Lock()
	if err != nil {
		s.stats.Errors++
	} else {
		s.stats.Applied++
	}
	s.mu.Unlock()

	return err
}

func (s *Store) applyApplication(ctx context.Context, ev model.ChangeEvent) error {
	if ev.Event == model.EventDelete {
		id, err := deletedID(ev)
		if err != nil {
			return err
		}
		_, err = s.db.Exec(ctx, `DELETE FROM applications WHERE id = $1`, id)
		return err
	}

	app, err := DecodeApplication(ev.Record)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO applications (id, applicant_name, email, stage, status, score, submitted_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			applicant_name = EXCLUDED.applicant_name,
			email          = EXCLUDED.email,
			stage          = EXCLUDED.stage,
			status         = EXCLUDED.status,
			score          = EXCLUDED.score,
			submitted_at   = EXCLUDED.submitted_at,
			updated_at     = EXCLUDED.updated_at
	`, app.ID, app.ApplicantName, app.Email, app.Stage, app.Status, app.Score, app.SubmittedAt, app.UpdatedAt)
	return err
}

func (s *Store) applyMentor(ctx context.Context, ev model.ChangeEvent) error {
	if ev.Event == model.EventDelete {
		id, err := deletedID(ev)
		if err != nil {
			return err
		}
		_, err = s.db.Exec(ctx, `DELETE FROM mentors WHERE id = $1`, id)
		return err
	}

	mentor, err := DecodeMentor(ev.Record)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO mentors (id, name, email, expertise, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name       = EXCLUDED.name,
			email      = EXCLUDED.email,
			expertise  = EXCLUDED.expertise,
			active     = EXCLUDED.active,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at
	`, mentor.ID, mentor.Name, mentor.Email, mentor.Expertise, mentor.Active, mentor.CreatedAt, mentor.UpdatedAt)
	return err
}

// ReplaceApplications swaps the applications table contents for the given
// rows in one transaction. Used by the fallback refetch.
func (s *Store) ReplaceApplications(ctx context.Context, rows []model.Application) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO applications (id, applicant_name, email, stage, status, score, submitted_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, r.ID, r.ApplicantName, r.Email, r.Stage, r.Status, r.Score, r.SubmittedAt, r.UpdatedAt)
	}

	err := s.replaceTable(ctx, "applications", len(rows), batch)

	s.mu.Lock()
	if err != nil {
		s.stats.Errors++
	} else {
		s.stats.Replaced++
	}
	s.mu.Unlock()

	return err
}

// ReplaceMentors swaps the mentors table contents for the given rows in one
// transaction. Used by the fallback refetch.
func (s *Store) ReplaceMentors(ctx context.Context, rows []model.Mentor) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO mentors (id, name, email, expertise, active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, r.ID, r.Name, r.Email, r.Expertise, r.Active, r.CreatedAt, r.UpdatedAt)
	}

	err := s.replaceTable(ctx, "mentors", len(rows), batch)

	s.mu.Lock()
	if err != nil {
		s.stats.Errors++
	} else {
		s.stats.Replaced++
	}
	s.mu.Unlock()

	return err
}

// replaceTable deletes and re-inserts a table's rows in a single transaction
// so readers never observe a partially refreshed mirror.
func (s *Store) replaceTable(ctx context.Context, table string, count int, batch *pgx.Batch) error {
	start := time.Now()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace %s: %w", table, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM `+table); err != nil {
		return fmt.Errorf("clear %s: %w", table, err)
	}

	results := tx.SendBatch(ctx, batch)
	for i := 0; i < count; i++ {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("insert into %s: %w", table, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close batch for %s: %w", table, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace %s: %w", table, err)
	}

	s.logger.Debug("table replaced",
		"table", table,
		"rows", count,
		"duration", time.Since(start),
	)
	return nil
}

// DecodeApplication parses an application row from a change event record.
func DecodeApplication(record json.RawMessage) (model.Application, error) {
	var app model.Application
	if err := json.Unmarshal(record, &app); err != nil {
		return model.Application{}, fmt.Errorf("decode application: %w", err)
	}
	if app.ID == uuid.Nil {
		return model.Application{}, fmt.Errorf("decode application: missing id")
	}
	return app, nil
}

// DecodeMentor parses a mentor row from a change event record.
func DecodeMentor(record json.RawMessage) (model.Mentor, error) {
	var mentor model.Mentor
	if err := json.Unmarshal(record, &mentor); err != nil {
		return model.Mentor{}, fmt.Errorf("decode mentor: %w", err)
	}
	if mentor.ID == uuid.Nil {
		return model.Mentor{}, fmt.Errorf("decode mentor: missing id")
	}
	return mentor, nil
}

// deletedID extracts the primary key from a delete event, which carries the
// old row state rather than a new record.
func deletedID(ev model.ChangeEvent) (uuid.UUID, error) {
	record := ev.OldRecord
	if len(record) == 0 {
		record = ev.Record
	}
	if len(record) == 0 {
		return uuid.Nil, fmt.Errorf("delete event for %q has no record", ev.Topic)
	}

	var row struct {
		ID uuid.UUID `json:"id"`
	}
	if err := json.Unmarshal(record, &row); err != nil {
		return uuid.Nil, fmt.Errorf("decode delete event: %w", err)
	}
	if row.ID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("delete event for %q missing id", ev.Topic)
	}
	return row.ID, nil
}
