// Package storage implements the bill store on Postgres. All lifecycle-flag
// mutations go through the lock-then-check-then-update primitives here; the
// orchestrator is their only caller.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"billwatch/internal/domain"
	"billwatch/internal/ports"
	"billwatch/migrations"
)

// ErrBillNotFound aliases the port-level sentinel so callers on either side
// of the boundary can match it.
var ErrBillNotFound = ports.ErrNotFound

// querier is the query surface shared by the pool and an open transaction.
// Store methods run against it, so a claim can hand out a store whose writes
// stay inside the claim transaction instead of blocking on its row lock.
type querier interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists bills in Postgres via a pgx pool.
type Store struct {
	pool *pgxpool.Pool
	db   querier
}

var _ ports.BillStore = (*Store)(nil)

// New creates the connection pool and verifies connectivity.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool, db: pool}, nil
}

// RunMigrations applies all embedded SQL migrations.
func RunMigrations(connString string) error {
	sourceDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, connString)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// billColumns is the standard column list for bill queries.
const billColumns = `id, bill_type, bill_number, congress, title, full_text,
	status, status_code, sponsor_name, sponsor_party, sponsor_state,
	summary_overview, summary_detailed, summary_short, tags, impact_score,
	published, published_at, problematic, problematic_reason,
	problematic_marked_at, recheck_attempted, introduced_at, created_at, updated_at`

// scanBill scans a row into a Bill struct.
func scanBill(row pgx.Row) (*domain.Bill, error) {
	var (
		bill     domain.Bill
		overview string
		detailed string
		short    string
		tags     []string
		score    float64
	)
	err := row.Scan(
		&bill.ID,
		&bill.Type,
		&bill.Number,
		&bill.Congress,
		&bill.Title,
		&bill.FullText,
		&bill.Status,
		&bill.StatusCode,
		&bill.Sponsor.Name,
		&bill.Sponsor.Party,
		&bill.Sponsor.State,
		&overview,
		&detailed,
		&short,
		&tags,
		&score,
		&bill.Published,
		&bill.PublishedAt,
		&bill.Problematic,
		&bill.ProblematicReason,
		&bill.ProblematicMarkedAt,
		&bill.RecheckAttempted,
		&bill.IntroducedAt,
		&bill.CreatedAt,
		&bill.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBillNotFound
	}
	if err != nil {
		return nil, err
	}
	if short != "" || overview != "" {
		bill.Summary = &domain.Summary{
			Overview:  overview,
			Detailed:  detailed,
			ShortText: short,
			Tags:      tags,
			Score:     score,
		}
	}
	return &bill, nil
}

func scanBills(rows pgx.Rows) ([]domain.Bill, error) {
	defer rows.Close()

	var bills []domain.Bill
	for rows.Next() {
		bill, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		bills = append(bills, *bill)
	}

	return bills, rows.Err()
}

// Exists reports whether a bill row is present.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM bills WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", id, err)
	}
	return exists, nil
}

// GetByID loads one bill or ErrBillNotFound.
func (s *Store) GetByID(ctx context.Context, id string) (*domain.Bill, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+billColumns+` FROM bills WHERE id = $1`, id)
	bill, err := scanBill(row)
	if err != nil {
		if errors.Is(err, ErrBillNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get bill %s: %w", id, err)
	}
	return bill, nil
}

// Insert stores a freshly enriched bill.
func (s *Store) Insert(ctx context.Context, bill *domain.Bill) error {
	var (
		overview, detailed, short string
		tags                      []string
		score                     float64
	)
	if bill.Summary != nil {
		overview = bill.Summary.Overview
		detailed = bill.Summary.Detailed
		short = bill.Summary.ShortText
		tags = bill.Summary.Tags
		score = bill.Summary.Score
	}
	if tags == nil {
		tags = []string{}
	}

	query := `
		INSERT INTO bills (id, bill_type, bill_number, congress, title, full_text,
			status, status_code, sponsor_name, sponsor_party, sponsor_state,
			summary_overview, summary_detailed, summary_short, tags, impact_score,
			problematic, problematic_reason, problematic_marked_at, recheck_attempted,
			introduced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`

	_, err := s.db.Exec(ctx, query,
		bill.ID, bill.Type, bill.Number, bill.Congress, bill.Title, bill.FullText,
		bill.Status, bill.StatusCode,
		bill.Sponsor.Name, bill.Sponsor.Party, bill.Sponsor.State,
		overview, detailed, short, tags, score,
		bill.Problematic, bill.ProblematicReason, bill.ProblematicMarkedAt, bill.RecheckAttempted,
		bill.IntroducedAt,
	)
	if err != nil {
		return fmt.Errorf("insert bill %s: %w", bill.ID, err)
	}
	return nil
}

// UpdateFields applies a dynamic partial update to one bill row.
func (s *Store) UpdateFields(ctx context.Context, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}

	query, args, err := sq.Update("bills").
		SetMap(fields).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update for %s: %w", id, err)
	}

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update bill %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBillNotFound
	}
	return nil
}

// ClaimOneUnpublished locks the oldest unpublished, non-problematic row with
// FOR UPDATE SKIP LOCKED. The lock is held until release is called, so two
// overlapping runs can never claim the same row. The returned store runs on
// the claim transaction; mutations of the claimed row must go through it,
// since any other connection would block on the row lock.
func (s *Store) ClaimOneUnpublished(ctx context.Context) (*domain.Bill, ports.BillStore, ports.ReleaseFunc, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("begin claim tx: %w", err)
	}

	row := tx.QueryRow(ctx, `
		SELECT `+billColumns+`
		FROM bills
		WHERE NOT published AND NOT problematic
		ORDER BY introduced_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`)

	bill, err := scanBill(row)
	if err != nil {
		_ = tx.Rollback(ctx)
		if errors.Is(err, ErrBillNotFound) {
			return nil, nil, nil, nil
		}
		return nil, nil, nil, fmt.Errorf("claim unpublished: %w", err)
	}

	claimed := &Store{pool: s.pool, db: tx}
	release := func() { _ = tx.Commit(ctx) }
	return bill, claimed, release, nil
}

// MarkPublishedIfNot flips the published flag under a row lock. Repeated
// calls are safe: when the flag is already set, nothing is written.
func (s *Store) MarkPublishedIfNot(ctx context.Context, id string, at time.Time) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin publish tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	var published bool
	err = tx.QueryRow(ctx,
		`SELECT published FROM bills WHERE id = $1 FOR UPDATE`, id).Scan(&published)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrBillNotFound
	}
	if err != nil {
		return false, fmt.Errorf("lock bill %s: %w", id, err)
	}

	if published {
		// Idempotent no-op: the marker is monotonic.
		return false, tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx,
		`UPDATE bills SET published = TRUE, published_at = $2, updated_at = NOW() WHERE id = $1`,
		id, at)
	if err != nil {
		return false, fmt.Errorf("mark published %s: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit publish %s: %w", id, err)
	}
	return true, nil
}

// Quarantine flags a bill problematic. The first-quarantine timestamp is
// sticky across repeated failures.
func (s *Store) Quarantine(ctx context.Context, id, reason string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE bills
		SET problematic = TRUE,
		    problematic_reason = $2,
		    problematic_marked_at = COALESCE(problematic_marked_at, $3),
		    updated_at = NOW()
		WHERE id = $1`, id, reason, at)
	if err != nil {
		return fmt.Errorf("quarantine bill %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBillNotFound
	}
	return nil
}

// ClearQuarantine returns a recovered bill to the normal pipeline. The
// recheck-attempted flag is deliberately left alone.
func (s *Store) ClearQuarantine(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE bills
		SET problematic = FALSE,
		    problematic_reason = '',
		    problematic_marked_at = NULL,
		    updated_at = NOW()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("clear quarantine %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBillNotFound
	}
	return nil
}

// MarkRecheckAttempted consumes the single automatic recovery attempt.
func (s *Store) MarkRecheckAttempted(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE bills SET recheck_attempted = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark recheck %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBillNotFound
	}
	return nil
}

// ListQuarantinedEligibleForRecheck returns problematic bills whose recovery
// attempt is unspent and whose quarantine predates the cutoff, oldest first.
func (s *Store) ListQuarantinedEligibleForRecheck(ctx context.Context, olderThan time.Time) ([]domain.Bill, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+billColumns+`
		FROM bills
		WHERE problematic
		  AND NOT recheck_attempted
		  AND problematic_marked_at IS NOT NULL
		  AND problematic_marked_at <= $1
		ORDER BY problematic_marked_at ASC`, olderThan)
	if err != nil {
		return nil, fmt.Errorf("list recheck-eligible: %w", err)
	}
	return scanBills(rows)
}

// ListQuarantined returns every quarantined bill for the manual audit, oldest
// first.
func (s *Store) ListQuarantined(ctx context.Context) ([]domain.Bill, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+billColumns+`
		FROM bills
		WHERE problematic
		ORDER BY problematic_marked_at ASC NULLS LAST`)
	if err != nil {
		return nil, fmt.Errorf("list quarantined: %w", err)
	}
	return scanBills(rows)
}

// AnyPublishedSince reports whether any bill was published after the given
// instant. The evening run uses it as its duplicate-window guard.
func (s *Store) AnyPublishedSince(ctx context.Context, since time.Time) (bool, error) {
	var found bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM bills WHERE published AND published_at >= $1
		)`, since).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("check publish window: %w", err)
	}
	return found, nil
}
