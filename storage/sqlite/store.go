// Package sqlite persists availability data in a SQLite database using the
// pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cyp0633/staffavail/recurrence"
	"github.com/cyp0633/staffavail/storage"
	"github.com/google/uuid"
	"github.com/samber/mo"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// Timestamps are stored with a fixed-width layout so they sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Store implements storage.Storage on top of database/sql.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ storage.Storage = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used by the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New opens (creating if needed) the database at path and applies the schema.
func New(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{
		db:     db,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}

	if path != MemoryPath {
		_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	}
	_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout = 5000")

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	s.logger.Debug("sqlite store ready", "path", path)
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Establishment operations

func (s *Store) GetEstablishment(ctx context.Context, id string) (*storage.Establishment, error) {
	var e storage.Establishment
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, timezone FROM establishments WHERE id = ?`, id,
	).Scan(&e.ID, &e.Name, &e.Timezone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &storage.Error{Type: storage.ErrNotFound, Message: "establishment not found"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query establishment %s: %w", id, err)
	}
	return &e, nil
}

func (s *Store) CreateEstablishment(ctx context.Context, e *storage.Establishment) error {
	if err := storage.ValidateEstablishment(e); err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO establishments (id, name, timezone) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		e.ID, e.Name, e.Timezone,
	)
	if err != nil {
		return fmt.Errorf("failed to insert establishment: %w", err)
	}
	return insertedOne(res, "establishment already exists")
}

// Availability rule operations

const ruleColumns = `id, membership_id, establishment_id, kind, rule_text, duration_minutes,
	effective_start, effective_end, advisory_conflicts, created_at, updated_at`

func (s *Store) GetRule(ctx context.Context, id string) (*storage.AvailabilityRule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM availability_rules WHERE id = ?`, id)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &storage.Error{Type: storage.ErrNotFound, Message: "rule not found"}
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRules narrows by date in SQL; dates are stored as YYYY-MM-DD so text
// comparison matches calendar order.
func (s *Store) ListRules(ctx context.Context, q storage.RuleQuery) ([]storage.AvailabilityRule, error) {
	from, to := dateArg(q.From), dateArg(q.To)
	exclude := q.ExcludeID.OrEmpty()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM availability_rules
		 WHERE membership_id = ?
		   AND (? = '' OR effective_start <= ?)
		   AND (? = '' OR effective_end IS NULL OR effective_end >= ?)
		   AND (? = '' OR id <> ?)
		 ORDER BY created_at, id`,
		q.MembershipID, to, to, from, from, exclude, exclude,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []storage.AvailabilityRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rules: %w", err)
	}
	s.logger.Debug("listed rules", "membership_id", q.MembershipID, "count", len(rules))
	return rules, nil
}

func (s *Store) CreateRule(ctx context.Context, r *storage.AvailabilityRule) error {
	if err := storage.ValidateRule(r); err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	advisories, err := json.Marshal(nonNil(r.AdvisoryConflicts))
	if err != nil {
		return fmt.Errorf("failed to encode advisory conflicts: %w", err)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO availability_rules (`+ruleColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		r.ID, r.MembershipID, r.EstablishmentID, r.Rule.Kind.String(), r.Rule.Text, r.Rule.DurationMinutes,
		r.Rule.EffectiveStart.String(), optionalDate(r.Rule.EffectiveEnd), string(advisories),
		now.Format(timeLayout), now.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}
	if err := insertedOne(res, "rule already exists"); err != nil {
		return err
	}
	r.CreatedAt, r.UpdatedAt = now, now
	return nil
}

func (s *Store) UpdateRule(ctx context.Context, r *storage.AvailabilityRule) error {
	if err := storage.ValidateRule(r); err != nil {
		return err
	}
	advisories, err := json.Marshal(nonNil(r.AdvisoryConflicts))
	if err != nil {
		return fmt.Errorf("failed to encode advisory conflicts: %w", err)
	}

	now := time.Now().UTC()
	var created string
	err = s.db.QueryRowContext(ctx,
		`UPDATE availability_rules
		 SET membership_id = ?, establishment_id = ?, kind = ?, rule_text = ?, duration_minutes = ?,
		     effective_start = ?, effective_end = ?, advisory_conflicts = ?, updated_at = ?
		 WHERE id = ?
		 RETURNING created_at`,
		r.MembershipID, r.EstablishmentID, r.Rule.Kind.String(), r.Rule.Text, r.Rule.DurationMinutes,
		r.Rule.EffectiveStart.String(), optionalDate(r.Rule.EffectiveEnd), string(advisories),
		now.Format(timeLayout), r.ID,
	).Scan(&created)
	if errors.Is(err, sql.ErrNoRows) {
		return &storage.Error{Type: storage.ErrNotFound, Message: "rule not found"}
	}
	if err != nil {
		return fmt.Errorf("failed to update rule %s: %w", r.ID, err)
	}

	if r.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return fmt.Errorf("bad created_at on rule %s: %w", r.ID, err)
	}
	r.UpdatedAt = now
	return nil
}

func (s *Store) DeleteRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM availability_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule %s: %w", id, err)
	}
	return affectedOne(res, "rule not found")
}

// Time-off operations

func (s *Store) ListTimeOff(ctx context.Context, q storage.TimeOffQuery) ([]storage.TimeOffRequest, error) {
	from, to := dateArg(q.From), dateArg(q.To)
	query := `SELECT id, membership_id, start_date, end_date, status, created_at
		FROM time_off_requests
		WHERE membership_id = ?
		  AND (? = '' OR start_date <= ?)
		  AND (? = '' OR end_date >= ?)`
	args := []any{q.MembershipID, to, to, from, from}
	if len(q.Statuses) > 0 {
		query += ` AND status IN (?` + strings.Repeat(", ?", len(q.Statuses)-1) + `)`
		for _, st := range q.Statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY start_date, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query time-off: %w", err)
	}
	defer rows.Close()

	var reqs []storage.TimeOffRequest
	for rows.Next() {
		var (
			r                      storage.TimeOffRequest
			start, end, st, create string
		)
		if err := rows.Scan(&r.ID, &r.MembershipID, &start, &end, &st, &create); err != nil {
			return nil, fmt.Errorf("failed to scan time-off: %w", err)
		}
		if r.StartDate, err = recurrence.ParseDate(start); err != nil {
			return nil, corrupt("time-off", r.ID, "bad start_date", err)
		}
		if r.EndDate, err = recurrence.ParseDate(end); err != nil {
			return nil, corrupt("time-off", r.ID, "bad end_date", err)
		}
		if r.CreatedAt, err = time.Parse(timeLayout, create); err != nil {
			return nil, corrupt("time-off", r.ID, "bad created_at", err)
		}
		r.Status = storage.TimeOffStatus(st)
		reqs = append(reqs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate time-off: %w", err)
	}
	return reqs, nil
}

func (s *Store) CreateTimeOff(ctx context.Context, r *storage.TimeOffRequest) error {
	if err := storage.ValidateTimeOff(r); err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = storage.StatusPending
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO time_off_requests (id, membership_id, start_date, end_date, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		r.ID, r.MembershipID, r.StartDate.String(), r.EndDate.String(), string(r.Status), now.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to insert time-off: %w", err)
	}
	if err := insertedOne(res, "time-off request already exists"); err != nil {
		return err
	}
	r.CreatedAt = now
	return nil
}

func (s *Store) SetTimeOffStatus(ctx context.Context, id string, status storage.TimeOffStatus) error {
	if !status.Valid() {
		return &storage.Error{Type: storage.ErrInvalidInput, Message: "unknown status " + string(status)}
	}
	res, err := s.db.ExecContext(ctx, `UPDATE time_off_requests SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update time-off %s: %w", id, err)
	}
	return affectedOne(res, "time-off request not found")
}

// Helpers

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(row scanner) (storage.AvailabilityRule, error) {
	var (
		r                       storage.AvailabilityRule
		kind, start, advisories string
		created, updated        string
		end                     sql.NullString
	)
	err := row.Scan(&r.ID, &r.MembershipID, &r.EstablishmentID, &kind, &r.Rule.Text, &r.Rule.DurationMinutes,
		&start, &end, &advisories, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("failed to scan rule: %w", err)
	}

	// Rows written before the kind column existed carry no discriminator.
	if kind == "" {
		r.Rule.Kind = recurrence.InferKind(r.Rule.Text)
	} else if r.Rule.Kind, err = recurrence.ParseKind(kind); err != nil {
		return r, corrupt("rule", r.ID, "bad kind", err)
	}
	if r.Rule.EffectiveStart, err = recurrence.ParseDate(start); err != nil {
		return r, corrupt("rule", r.ID, "bad effective_start", err)
	}
	if end.Valid && end.String != "" {
		d, err := recurrence.ParseDate(end.String)
		if err != nil {
			return r, corrupt("rule", r.ID, "bad effective_end", err)
		}
		r.Rule.EffectiveEnd = mo.Some(d)
	}
	if err := json.Unmarshal([]byte(advisories), &r.AdvisoryConflicts); err != nil {
		return r, corrupt("rule", r.ID, "bad advisory conflicts", err)
	}
	if r.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return r, corrupt("rule", r.ID, "bad created_at", err)
	}
	if r.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		return r, corrupt("rule", r.ID, "bad updated_at", err)
	}
	return r, nil
}

// corrupt reports a stored row that cannot be decoded.
func corrupt(entity, id, msg string, err error) error {
	return &storage.Error{
		Type:     storage.ErrCorrupt,
		Message:  fmt.Sprintf("%s %s: %s", entity, id, msg),
		EntityID: id,
		Err:      err,
	}
}

// affectedOne reports ErrNotFound when res touched no row.
func affectedOne(res sql.Result, msg string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return &storage.Error{Type: storage.ErrNotFound, Message: msg}
	}
	return nil
}

func insertedOne(res sql.Result, msg string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return &storage.Error{Type: storage.ErrAlreadyExists, Message: msg}
	}
	return nil
}

func dateArg(d recurrence.Date) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}

func optionalDate(d mo.Option[recurrence.Date]) sql.NullString {
	if v, ok := d.Get(); ok {
		return sql.NullString{String: v.String(), Valid: true}
	}
	return sql.NullString{}
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
