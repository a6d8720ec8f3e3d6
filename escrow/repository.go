package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrDuplicateEvent signals this provider event id was already reserved.
	ErrDuplicateEvent = errors.New("escrow: duplicate provider event")
	// ErrPaymentExists signals an escrow record already exists for the
	// application.
	ErrPaymentExists = errors.New("escrow: payment record already exists")
	// ErrNoPayment is returned when no escrow record exists for the
	// application.
	ErrNoPayment = errors.New("escrow: no payment record")
)

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// ReserveEvent claims the (provider, event id) pair inside the active
// transaction. A unique violation means the event was already processed.
func (r *Repository) ReserveEvent(ctx context.Context, tx pgx.Tx, provider, eventID string) error {
	if eventID == "" {
		return fmt.Errorf("escrow: empty event id")
	}
	_, err := tx.Exec(ctx, `INSERT INTO payment_events (provider, event_id) VALUES ($1, $2)`, provider, eventID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("escrow: reserve event: %w", err)
	}
	return nil
}

// InsertPayment creates the escrow record. The unique constraint on
// application_id is the second idempotency guardrail behind the event
// reservation.
func (r *Repository) InsertPayment(ctx context.Context, tx pgx.Tx, p Payment) (Payment, error) {
	err := tx.QueryRow(ctx, `
		INSERT INTO payments (id, application_id, gig_id, provider, provider_txn_id, gross_cents, commission_cents, net_cents, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'in_escrow')
		RETURNING id, created_at, updated_at
	`, p.ID, p.ApplicationID, p.GigID, p.Provider, p.ProviderTxnID, p.GrossCents, p.CommissionCents, p.NetCents).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Payment{}, ErrPaymentExists
		}
		return Payment{}, fmt.Errorf("escrow: insert payment: %w", err)
	}
	p.Status = PaymentInEscrow
	return p, nil
}

// GetPaymentForUpdate loads and locks the escrow record for an application.
func (r *Repository) GetPaymentForUpdate(ctx context.Context, tx pgx.Tx, applicationID string) (Payment, error) {
	var p Payment
	err := tx.QueryRow(ctx, `
		SELECT id, application_id, gig_id, provider, provider_txn_id, gross_cents, commission_cents, net_cents, status::text, created_at, updated_at
		FROM payments
		WHERE application_id = $1
		FOR UPDATE
	`, applicationID).Scan(
		&p.ID, &p.ApplicationID, &p.GigID, &p.Provider, &p.ProviderTxnID,
		&p.GrossCents, &p.CommissionCents, &p.NetCents, &p.Status, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrNoPayment
		}
		return Payment{}, fmt.Errorf("escrow: load payment: %w", err)
	}
	return p, nil
}

// MarkPaymentReleased flips a held payment to released. Returns the number of
// rows moved so callers can distinguish a repeat call.
func (r *Repository) MarkPaymentReleased(ctx context.Context, tx pgx.Tx, paymentID string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE payments
		SET status = 'released',
		    updated_at = get_tx_timestamp()
		WHERE id = $1 AND status IN ('in_escrow', 'disputed')
	`, paymentID)
	if err != nil {
		return false, fmt.Errorf("escrow: mark payment released: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkIntentFailed records a failed funding attempt on the application,
// leaving its top-level status at accepted so funding can be retried.
func (r *Repository) MarkIntentFailed(ctx context.Context, tx pgx.Tx, applicationID string) error {
	if _, err := tx.Exec(ctx, `
		UPDATE applications
		SET payment_status = 'failed',
		    updated_at = get_tx_timestamp()
		WHERE id = $1 AND status = 'accepted'
	`, applicationID); err != nil {
		return fmt.Errorf("escrow: mark intent failed: %w", err)
	}
	return nil
}

// AddLedgerEntry appends a wallet movement. userID nil credits the platform.
func (r *Repository) AddLedgerEntry(ctx context.Context, tx pgx.Tx, userID *string, applicationID, entryType string, amountCents int64) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO wallet_ledger (user_id, application_id, entry_type, amount_cents)
		VALUES ($1, $2, $3, $4)
	`, userID, applicationID, entryType, amountCents); err != nil {
		return fmt.Errorf("escrow: add ledger entry: %w", err)
	}
	return nil
}
