package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/granthub/granthub/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// PostgresStore persists opportunities with insert-or-fetch semantics on the
// (title, source_url) identity key. It never updates an existing row.
type PostgresStore struct {
	q Querier
}

func NewPostgresStore(q Querier) *PostgresStore {
	return &PostgresStore{q: q}
}

// commonCols must keep title at $2 and source_url at $4; upsertSQL relies on it.
var commonCols = []string{
	"id", "title", "description", "source_url", "deadline", "published_at",
	"country", "region", "language", "provider", "image_url",
}

var tableByKind = map[models.Kind]string{
	models.KindGrant:       "grants",
	models.KindScholarship: "scholarships",
	models.KindInternship:  "internships",
}

func commonArgs(id uuid.UUID, o *models.Opportunity) []any {
	return []any{
		id, o.Title, o.Description, o.SourceURL, datePtr(o.Deadline), datePtr(o.PublishedAt),
		nilIfEmpty(o.Country), nilIfEmpty(o.Region), nilIfEmpty(o.Language), o.Provider, nilIfEmpty(o.ImageURL),
	}
}

// upsertSQL inserts a row unless the identity key exists and returns the
// winning id either way. The boolean column is true when this call created it.
func upsertSQL(table string, cols []string) string {
	ph := make([]string, len(cols))
	for i := range cols {
		ph[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf(`WITH ins AS (
	INSERT INTO %[1]s (%[2]s)
	VALUES (%[3]s)
	ON CONFLICT (title, source_url) DO NOTHING
	RETURNING id
)
SELECT id::text, true FROM ins
UNION ALL
SELECT id::text, false FROM %[1]s WHERE title = $2 AND source_url = $4
LIMIT 1`, table, strings.Join(cols, ", "), strings.Join(ph, ", "))
}

func (s *PostgresStore) upsert(ctx context.Context, table string, o *models.Opportunity, extraCols []string, extraArgs []any) (uuid.UUID, bool, error) {
	cols := append(append([]string{}, commonCols...), extraCols...)
	query := upsertSQL(table, cols)
	args := append(commonArgs(uuid.New(), o), extraArgs...)

	// A concurrent writer can win the conflict after this statement's snapshot
	// was taken; its row is visible to a second attempt.
	for attempt := 0; attempt < 2; attempt++ {
		var (
			raw     string
			created bool
		)
		err := s.q.QueryRow(ctx, query, args...).Scan(&raw, &created)
		switch {
		case err == nil:
			id, err := uuid.Parse(raw)
			if err != nil {
				return uuid.Nil, false, eris.Wrapf(err, "db: parse %s id", table)
			}
			o.ID = id
			return id, created, nil
		case errors.Is(err, pgx.ErrNoRows):
			continue
		case isUniqueViolation(err):
			return uuid.Nil, false, eris.Wrapf(ErrDuplicateKey, "db: upsert %s %q", table, o.Title)
		default:
			return uuid.Nil, false, eris.Wrapf(err, "db: upsert %s", table)
		}
	}
	return uuid.Nil, false, eris.Wrapf(ErrDuplicateKey, "db: upsert %s %q: conflicting row not visible", table, o.Title)
}

func (s *PostgresStore) UpsertGrant(ctx context.Context, g *models.Grant) (uuid.UUID, bool, error) {
	return s.upsert(ctx, "grants", &g.Opportunity, nil, nil)
}

func (s *PostgresStore) UpsertScholarship(ctx context.Context, sc *models.Scholarship) (uuid.UUID, bool, error) {
	return s.upsert(ctx, "scholarships", &sc.Opportunity,
		[]string{"level", "deadline_text"},
		[]any{nilIfEmpty(sc.Level), nilIfEmpty(sc.DeadlineText)})
}

func (s *PostgresStore) UpsertInternship(ctx context.Context, in *models.Internship) (uuid.UUID, bool, error) {
	return s.upsert(ctx, "internships", &in.Opportunity,
		[]string{"duration", "paid"},
		[]any{nilIfEmpty(in.Duration), in.Paid})
}

// Count returns the number of stored records of kind.
func (s *PostgresStore) Count(ctx context.Context, kind models.Kind) (int, error) {
	table, ok := tableByKind[kind]
	if !ok {
		return 0, eris.Errorf("db: unknown kind %q", kind)
	}
	var n int
	if err := s.q.QueryRow(ctx, "SELECT count(*) FROM "+table).Scan(&n); err != nil {
		return 0, eris.Wrapf(err, "db: count %s", table)
	}
	return n, nil
}

// nilIfEmpty returns nil for empty strings so NULL is stored in DB.
func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func datePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format("2006-01-02")
}
