package gig

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the requested gig does not exist.
var ErrNotFound = errors.New("gig: not found")

// Repository provides access to gigs. List-style reads run against the pool;
// the sweep mutations are tx-scoped so callers control atomicity.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const gigColumns = `id, employer_id, title, budget_cents, status, assigned_to, deadline, created_at, updated_at`

func scanGig(row pgx.Row) (Gig, error) {
	var g Gig
	err := row.Scan(
		&g.ID,
		&g.EmployerID,
		&g.Title,
		&g.BudgetCents,
		&g.Status,
		&g.AssignedTo,
		&g.Deadline,
		&g.CreatedAt,
		&g.UpdatedAt,
	)
	return g, err
}

// CreateParams carries the fields needed to post a gig.
type CreateParams struct {
	EmployerID  string
	Title       string
	BudgetCents int64
	Deadline    *time.Time
}

// Create inserts a new open gig.
func (r *Repository) Create(ctx context.Context, params CreateParams) (Gig, error) {
	const query = `
		INSERT INTO gigs (id, employer_id, title, budget_cents, status, deadline)
		VALUES ($1, $2, $3, $4, 'open', $5)
		RETURNING ` + gigColumns

	g, err := scanGig(r.pool.QueryRow(ctx, query,
		uuid.NewString(), params.EmployerID, params.Title, params.BudgetCents, params.Deadline))
	if err != nil {
		return Gig{}, fmt.Errorf("gig: create: %w", err)
	}
	return g, nil
}

// GetByID fetches a gig by its primary key.
func (r *Repository) GetByID(ctx context.Context, id string) (Gig, error) {
	const query = `SELECT ` + gigColumns + ` FROM gigs WHERE id = $1`

	g, err := scanGig(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Gig{}, ErrNotFound
		}
		return Gig{}, fmt.Errorf("gig: query by id: %w", err)
	}
	return g, nil
}

// SweepCandidates lists ids of gigs that may be due for expiry: open gigs
// created before openCutoff, plus open or in-progress gigs whose deadline has
// passed. The per-gig checks re-run under lock, so a stale hit here is
// harmless.
func (r *Repository) SweepCandidates(ctx context.Context, now, openCutoff time.Time, limit int) ([]string, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}

	const query = `
		SELECT id
		FROM gigs
		WHERE (status = 'open' AND created_at < $2)
		   OR (status IN ('open', 'in_progress') AND deadline IS NOT NULL AND deadline < $1)
		ORDER BY created_at ASC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, now, openCutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("gig: sweep candidates: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("gig: scan candidate: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("gig: iterate candidates: %w", err)
	}

	return ids, nil
}

// GetForUpdate locks a gig row for the duration of the transaction.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Gig, error) {
	const query = `SELECT ` + gigColumns + ` FROM gigs WHERE id = $1 FOR UPDATE`

	g, err := scanGig(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Gig{}, ErrNotFound
		}
		return Gig{}, fmt.Errorf("gig: query for update: %w", err)
	}
	return g, nil
}

// HasFundedApplication reports whether any application on the gig holds
// escrowed funds. Expiry must never cancel such a gig.
func (r *Repository) HasFundedApplication(ctx context.Context, tx pgx.Tx, gigID string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM applications
			WHERE gig_id = $1 AND status = 'funded'
		)
	`

	var funded bool
	if err := tx.QueryRow(ctx, query, gigID).Scan(&funded); err != nil {
		return false, fmt.Errorf("gig: funded application check: %w", err)
	}
	return funded, nil
}

// Cancel moves a gig to cancelled if it is still in one of the given
// statuses. Returns false when a concurrent writer moved it first.
func (r *Repository) Cancel(ctx context.Context, tx pgx.Tx, gigID string, from []Status) (bool, error) {
	const query = `
		UPDATE gigs
		SET status = 'cancelled', updated_at = now()
		WHERE id = $1 AND status = ANY($2::gig_status[])
	`

	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}

	tag, err := tx.Exec(ctx, query, gigID, states)
	if err != nil {
		return false, fmt.Errorf("gig: cancel: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
