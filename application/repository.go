package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrNotFound is returned when no application row exists for the id.
	ErrNotFound = errors.New("application: not found")
	// ErrStateChanged signals a conditional write lost to a concurrent
	// transition; callers may re-read and retry.
	ErrStateChanged = errors.New("application: state changed, retry")
	// ErrInvalidTransition rejects a move the transition table forbids.
	ErrInvalidTransition = errors.New("application: invalid transition")
	// ErrAlreadyFunded is the idempotent outcome of funding an application
	// that a concurrent event already funded.
	ErrAlreadyFunded = errors.New("application: already funded")
)

const applicationColumns = `
	id, gig_id, worker_id, employer_id,
	status::text, payment_status::text, rate_status::text,
	proposed_rate_cents, agreed_rate_cents,
	last_rate_amount_cents, last_rate_by, last_rate_at,
	completion_requested_at, completion_requested_by, completion_auto_release_at,
	completion_disputed_at, completion_dispute_reason,
	completion_resolved_at, completion_resolved_by,
	completion_resolution::text, completion_resolution_notes,
	payment_id, created_at, updated_at`

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

func scanApplication(row pgx.Row) (Application, error) {
	var (
		a          Application
		resolution *string
	)
	err := row.Scan(
		&a.ID, &a.GigID, &a.WorkerID, &a.EmployerID,
		&a.Status, &a.PaymentStatus, &a.RateStatus,
		&a.ProposedRateCents, &a.AgreedRateCents,
		&a.LastRateAmountCents, &a.LastRateBy, &a.LastRateAt,
		&a.CompletionRequestedAt, &a.CompletionRequestedBy, &a.CompletionAutoReleaseAt,
		&a.CompletionDisputedAt, &a.CompletionDisputeReason,
		&a.CompletionResolvedAt, &a.CompletionResolvedBy,
		&resolution, &a.CompletionResolutionNotes,
		&a.PaymentID, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Application{}, ErrNotFound
		}
		return Application{}, fmt.Errorf("application: scan: %w", err)
	}
	if resolution != nil {
		r := Resolution(*resolution)
		a.CompletionResolution = &r
	}
	return a, nil
}

// GetForUpdate loads an application and locks its row for the duration of the
// surrounding transaction.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE id = $1 FOR UPDATE`
	return scanApplication(tx.QueryRow(ctx, query, id))
}

// Get loads an application without locking.
func (r *Repository) Get(ctx context.Context, q querier, id string) (Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE id = $1`
	return scanApplication(q.QueryRow(ctx, query, id))
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AppendRate records a proposal or counter in the append-only history and
// mirrors it onto the application's negotiation fields. Any previously agreed
// rate is cleared alongside the status change.
func (r *Repository) AppendRate(ctx context.Context, tx pgx.Tx, id string, amountCents int64, proposedBy string, note *string) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO rate_history (application_id, amount_cents, proposed_by, note)
		VALUES ($1, $2, $3, $4)
	`, id, amountCents, proposedBy, note); err != nil {
		return fmt.Errorf("application: insert rate history: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE applications
		SET rate_status = 'countered',
		    agreed_rate_cents = NULL,
		    last_rate_amount_cents = $2,
		    last_rate_by = $3,
		    last_rate_at = get_tx_timestamp(),
		    updated_at = get_tx_timestamp()
		WHERE id = $1
	`, id, amountCents, proposedBy)
	if err != nil {
		return fmt.Errorf("application: update rate fields: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AgreeRate settles the negotiation at the last proposed amount. The write is
// conditional on the rate not having been agreed or changed concurrently.
func (r *Repository) AgreeRate(ctx context.Context, tx pgx.Tx, id string, amountCents int64) error {
	tag, err := tx.Exec(ctx, `
		UPDATE applications
		SET rate_status = 'agreed',
		    agreed_rate_cents = $2,
		    updated_at = get_tx_timestamp()
		WHERE id = $1
		  AND rate_status <> 'agreed'
		  AND last_rate_amount_cents = $2
	`, id, amountCents)
	if err != nil {
		return fmt.Errorf("application: agree rate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateChanged
	}
	return nil
}

// UpdateStatusIf performs a conditional top-level transition keyed on the
// expected prior status, eliminating the check-then-act race.
func (r *Repository) UpdateStatusIf(ctx context.Context, tx pgx.Tx, id string, from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	tag, err := tx.Exec(ctx, `
		UPDATE applications
		SET status = $3::application_status,
		    updated_at = get_tx_timestamp()
		WHERE id = $1 AND status = $2::application_status
	`, id, from, to)
	if err != nil {
		return fmt.Errorf("application: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateChanged
	}
	return nil
}

// AssignGigWorker records the accepted worker on the gig. Gig status is
// deliberately left untouched: the gig stays open for backup applicants until
// escrow is actually funded.
func (r *Repository) AssignGigWorker(ctx context.Context, tx pgx.Tx, gigID, workerID string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE gigs
		SET assigned_to = $2,
		    updated_at = get_tx_timestamp()
		WHERE id = $1
	`, gigID, workerID)
	if err != nil {
		return fmt.Errorf("application: assign gig worker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("application: gig %s not found", gigID)
	}
	return nil
}

// RejectSiblings transitions every other still-pending application for the
// gig to rejected. Invoked when one application is accepted.
func (r *Repository) RejectSiblings(ctx context.Context, tx pgx.Tx, gigID, exceptID string) (int64, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE applications
		SET status = 'rejected',
		    updated_at = get_tx_timestamp()
		WHERE gig_id = $1 AND id <> $2 AND status = 'pending'
	`, gigID, exceptID)
	if err != nil {
		return 0, fmt.Errorf("application: reject siblings: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkFunded flips an accepted application to funded/in_escrow and mirrors
// the gig to in_progress. Only the escrow reconciliation path calls this, and
// only inside the transaction that records the payment. Repeat calls observe
// the funded status and report ErrAlreadyFunded so the caller can no-op.
func (r *Repository) MarkFunded(ctx context.Context, tx pgx.Tx, id string, paymentID string) error {
	var (
		status Status
		gigID  string
	)
	err := tx.QueryRow(ctx, `SELECT status::text, gig_id FROM applications WHERE id = $1 FOR UPDATE`, id).
		Scan(&status, &gigID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("application: load for funding: %w", err)
	}

	switch status {
	case StatusAccepted:
		// proceed
	case StatusFunded, StatusCompleted:
		return ErrAlreadyFunded
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, status, StatusFunded)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE applications
		SET status = 'funded',
		    payment_status = 'in_escrow',
		    payment_id = $2,
		    updated_at = get_tx_timestamp()
		WHERE id = $1 AND status = 'accepted'
	`, id, paymentID)
	if err != nil {
		return fmt.Errorf("application: mark funded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateChanged
	}

	// The only place gig status ever moves to in_progress.
	if _, err := tx.Exec(ctx, `
		UPDATE gigs
		SET status = 'in_progress',
		    updated_at = get_tx_timestamp()
		WHERE id = $1 AND status = 'open'
	`, gigID); err != nil {
		return fmt.Errorf("application: mark gig in progress: %w", err)
	}

	return nil
}

// SetCompletionRequested opens a completion cycle. A fresh request clears any
// resolution left by a prior employer-favored mediation.
func (r *Repository) SetCompletionRequested(ctx context.Context, tx pgx.Tx, id, requestedBy string, autoReleaseAt time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE applications
		SET completion_requested_at = get_tx_timestamp(),
		    completion_requested_by = $2,
		    completion_auto_release_at = $3,
		    completion_disputed_at = NULL,
		    completion_dispute_reason = NULL,
		    completion_resolved_at = NULL,
		    completion_resolved_by = NULL,
		    completion_resolution = NULL,
		    completion_resolution_notes = NULL,
		    updated_at = get_tx_timestamp()
		WHERE id = $1 AND status = 'funded' AND completion_requested_at IS NULL
	`, id, requestedBy, autoReleaseAt)
	if err != nil {
		return fmt.Errorf("application: set completion requested: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateChanged
	}
	return nil
}

// SetCompletionDisputed freezes auto-release by marking the pending request
// disputed.
func (r *Repository) SetCompletionDisputed(ctx context.Context, tx pgx.Tx, id, reason string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE applications
		SET completion_disputed_at = get_tx_timestamp(),
		    completion_dispute_reason = $2,
		    payment_status = 'disputed',
		    updated_at = get_tx_timestamp()
		WHERE id = $1
		  AND status = 'funded'
		  AND completion_requested_at IS NOT NULL
		  AND completion_disputed_at IS NULL
	`, id, reason)
	if err != nil {
		return fmt.Errorf("application: set completion disputed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateChanged
	}
	return nil
}

// FinalizeCompletion moves a funded application to completed/released and
// mirrors the gig to completed. resolvedBy/notes are set only on the admin
// mediation path.
func (r *Repository) FinalizeCompletion(ctx context.Context, tx pgx.Tx, id string, resolvedBy *string, notes *string) error {
	var resolution *Resolution
	if resolvedBy != nil {
		approved := ResolutionApproved
		resolution = &approved
	}

	tag, err := tx.Exec(ctx, `
		UPDATE applications
		SET status = 'completed',
		    payment_status = 'released',
		    completion_resolved_at = CASE WHEN $2::uuid IS NULL THEN completion_resolved_at ELSE get_tx_timestamp() END,
		    completion_resolved_by = $2,
		    completion_resolution = $3::completion_resolution,
		    completion_resolution_notes = $4,
		    updated_at = get_tx_timestamp()
		WHERE id = $1 AND status = 'funded'
	`, id, resolvedBy, resolution, notes)
	if err != nil {
		return fmt.Errorf("application: finalize completion: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateChanged
	}

	if _, err := tx.Exec(ctx, `
		UPDATE gigs
		SET status = 'completed',
		    updated_at = get_tx_timestamp()
		WHERE id = (SELECT gig_id FROM applications WHERE id = $1)
		  AND status = 'in_progress'
	`, id); err != nil {
		return fmt.Errorf("application: mark gig completed: %w", err)
	}

	return nil
}

// ClearCompletion implements the employer-favored mediation outcome: the
// completion and dispute sub-fields are cleared so the worker can re-request
// after remediation, the resolution trail is recorded, and neither the
// top-level status nor the escrow moves.
func (r *Repository) ClearCompletion(ctx context.Context, tx pgx.Tx, id, resolvedBy string, notes *string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE applications
		SET completion_requested_at = NULL,
		    completion_requested_by = NULL,
		    completion_auto_release_at = NULL,
		    completion_disputed_at = NULL,
		    completion_dispute_reason = NULL,
		    completion_resolved_at = get_tx_timestamp(),
		    completion_resolved_by = $2,
		    completion_resolution = 'rejected',
		    completion_resolution_notes = $3,
		    payment_status = 'in_escrow',
		    updated_at = get_tx_timestamp()
		WHERE id = $1
		  AND status = 'funded'
		  AND completion_disputed_at IS NOT NULL
		  AND completion_resolved_at IS NULL
	`, id, resolvedBy, notes)
	if err != nil {
		return fmt.Errorf("application: clear completion: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateChanged
	}
	return nil
}

// Queryer is the read surface shared by *pgxpool.Pool and pgx.Tx.
type Queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// RateHistory returns the append-only negotiation trail, oldest first.
func (r *Repository) RateHistory(ctx context.Context, q Queryer, applicationID string) ([]RateEntry, error) {
	rows, err := q.Query(ctx, `
		SELECT id, application_id, amount_cents, proposed_by, note, created_at
		FROM rate_history
		WHERE application_id = $1
		ORDER BY id ASC
	`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("application: rate history: %w", err)
	}
	defer rows.Close()

	out := make([]RateEntry, 0, 8)
	for rows.Next() {
		var e RateEntry
		if err := rows.Scan(&e.ID, &e.ApplicationID, &e.AmountCents, &e.ProposedBy, &e.Note, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("application: scan rate entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("application: iterate rate history: %w", err)
	}
	return out, nil
}

// DueForAutoRelease lists ids of funded applications whose completion request
// passed its auto-release deadline without a dispute. The release itself
// re-checks the deadline under lock, so a stale hit is harmless.
func (r *Repository) DueForAutoRelease(ctx context.Context, q Queryer, now time.Time, limit int) ([]string, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}

	rows, err := q.Query(ctx, `
		SELECT id
		FROM applications
		WHERE status = 'funded'
		  AND completion_auto_release_at IS NOT NULL
		  AND completion_auto_release_at <= $1
		  AND completion_disputed_at IS NULL
		ORDER BY completion_auto_release_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("application: due for auto release: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("application: scan due id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("application: iterate due ids: %w", err)
	}
	return ids, nil
}
