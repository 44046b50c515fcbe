package db

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/granthub/granthub/internal/models"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLiteStore is the single-file store used for local runs and tests. It keeps
// the same identity semantics as PostgresStore.
type SQLiteStore struct {
	Pool *sql.DB
}

// OpenSQLite opens path (":memory:" works) and creates the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)

	pool, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "db: open sqlite")
	}

	// one writer; also keeps ":memory:" on a single connection
	pool.SetMaxOpenConns(1)
	pool.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := pool.PingContext(pingCtx); err != nil {
		_ = pool.Close()
		return nil, eris.Wrap(err, "db: ping sqlite")
	}

	if _, err := pool.ExecContext(ctx, sqliteSchema); err != nil {
		_ = pool.Close()
		return nil, eris.Wrap(err, "db: create sqlite schema")
	}
	return &SQLiteStore{Pool: pool}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.Pool == nil {
		return nil
	}
	return s.Pool.Close()
}

func (s *SQLiteStore) upsert(ctx context.Context, table string, o *models.Opportunity, extraCols []string, extraArgs []any) (uuid.UUID, bool, error) {
	cols := append(append([]string{}, commonCols...), extraCols...)
	args := append(commonArgs(uuid.New(), o), extraArgs...)
	args[0] = args[0].(uuid.UUID).String()

	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (title, source_url) DO NOTHING RETURNING id",
		table, strings.Join(cols, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))

	var raw string
	err := s.Pool.QueryRowContext(ctx, insert, args...).Scan(&raw)
	created := true
	if errors.Is(err, sql.ErrNoRows) {
		created = false
		err = s.Pool.QueryRowContext(ctx,
			fmt.Sprintf("SELECT id FROM %s WHERE title = ? AND source_url = ?", table),
			o.Title, o.SourceURL).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, false, eris.Wrapf(ErrDuplicateKey, "db: upsert %s %q: conflicting row not visible", table, o.Title)
		}
	}
	if err != nil {
		return uuid.Nil, false, eris.Wrapf(err, "db: upsert %s", table)
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false, eris.Wrapf(err, "db: parse %s id", table)
	}
	o.ID = id
	return id, created, nil
}

func (s *SQLiteStore) UpsertGrant(ctx context.Context, g *models.Grant) (uuid.UUID, bool, error) {
	return s.upsert(ctx, "grants", &g.Opportunity, nil, nil)
}

func (s *SQLiteStore) UpsertScholarship(ctx context.Context, sc *models.Scholarship) (uuid.UUID, bool, error) {
	return s.upsert(ctx, "scholarships", &sc.Opportunity,
		[]string{"level", "deadline_text"},
		[]any{nilIfEmpty(sc.Level), nilIfEmpty(sc.DeadlineText)})
}

func (s *SQLiteStore) UpsertInternship(ctx context.Context, in *models.Internship) (uuid.UUID, bool, error) {
	var paid any
	if in.Paid != nil {
		paid = *in.Paid
	}
	return s.upsert(ctx, "internships", &in.Opportunity,
		[]string{"duration", "paid"},
		[]any{nilIfEmpty(in.Duration), paid})
}

func (s *SQLiteStore) Count(ctx context.Context, kind models.Kind) (int, error) {
	table, ok := tableByKind[kind]
	if !ok {
		return 0, eris.Errorf("db: unknown kind %q", kind)
	}
	var n int
	if err := s.Pool.QueryRowContext(ctx, "SELECT count(*) FROM "+table).Scan(&n); err != nil {
		return 0, eris.Wrapf(err, "db: count %s", table)
	}
	return n, nil
}

const sqliteTimeLayout = time.RFC3339Nano

func (s *SQLiteStore) StartRun(ctx context.Context, sourceID string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.Pool.ExecContext(ctx,
		"INSERT INTO ingest_runs (run_id, source_id, status, started_at) VALUES (?, ?, ?, ?)",
		id.String(), sourceID, RunStatusRunning, time.Now().UTC().Format(sqliteTimeLayout))
	if err != nil {
		return uuid.Nil, eris.Wrapf(err, "db: start run for %s", sourceID)
	}
	return id, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, id uuid.UUID, sum RunSummary) error {
	_, err := s.Pool.ExecContext(ctx, `
		UPDATE ingest_runs
		SET status = ?, items_found = ?, items_saved = ?, errors = ?, completed_at = ?
		WHERE run_id = ?`,
		sum.Status, sum.Found, sum.Saved, sum.Errors, time.Now().UTC().Format(sqliteTimeLayout), id.String())
	if err != nil {
		return eris.Wrapf(err, "db: finish run %s", id)
	}
	return nil
}

func (s *SQLiteStore) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := s.Pool.QueryContext(ctx, `
		SELECT run_id, source_id, status, items_found, items_saved, errors, started_at, completed_at
		FROM ingest_runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "db: query runs")
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var (
			r              RunRecord
			rawID, started string
			completed      sql.NullString
		)
		if err := rows.Scan(&rawID, &r.SourceID, &r.Status, &r.Found, &r.Saved, &r.Errors, &started, &completed); err != nil {
			return nil, eris.Wrap(err, "db: scan run")
		}
		if r.ID, err = uuid.Parse(rawID); err != nil {
			return nil, eris.Wrap(err, "db: parse run id")
		}
		if r.StartedAt, err = time.Parse(sqliteTimeLayout, started); err != nil {
			return nil, eris.Wrap(err, "db: parse started_at")
		}
		if completed.Valid {
			t, err := time.Parse(sqliteTimeLayout, completed.String)
			if err != nil {
				return nil, eris.Wrap(err, "db: parse completed_at")
			}
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "db: iterate runs")
}
