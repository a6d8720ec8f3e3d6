package application

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakePool / fakeTx provide just enough pgx surface for service unit tests.

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}

// fakeRepo holds one application in memory and applies writes to it the way
// the SQL layer would.

type fakeRepo struct {
	app     Application
	getErr  error
	history []RateEntry

	assignedWorker  string
	siblingsCleared bool
	finalized       bool
	cleared         bool
}

func (f *fakeRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Application, error) {
	if f.getErr != nil {
		return Application{}, f.getErr
	}
	if id != f.app.ID {
		return Application{}, ErrNotFound
	}
	return f.app, nil
}

func (f *fakeRepo) AppendRate(ctx context.Context, tx pgx.Tx, id string, amountCents int64, proposedBy string, note *string) error {
	f.history = append(f.history, RateEntry{ApplicationID: id, AmountCents: amountCents, ProposedBy: proposedBy, Note: note})
	f.app.RateStatus = RateCountered
	f.app.AgreedRateCents = nil
	f.app.LastRateAmountCents = amountCents
	f.app.LastRateBy = proposedBy
	return nil
}

func (f *fakeRepo) AgreeRate(ctx context.Context, tx pgx.Tx, id string, amountCents int64) error {
	if f.app.RateStatus == RateAgreed || f.app.LastRateAmountCents != amountCents {
		return ErrStateChanged
	}
	f.app.RateStatus = RateAgreed
	f.app.AgreedRateCents = &amountCents
	return nil
}

func (f *fakeRepo) UpdateStatusIf(ctx context.Context, tx pgx.Tx, id string, from, to Status) error {
	if !CanTransition(from, to) {
		return ErrInvalidTransition
	}
	if f.app.Status != from {
		return ErrStateChanged
	}
	f.app.Status = to
	return nil
}

func (f *fakeRepo) RejectSiblings(ctx context.Context, tx pgx.Tx, gigID, exceptID string) (int64, error) {
	f.siblingsCleared = true
	return 2, nil
}

func (f *fakeRepo) AssignGigWorker(ctx context.Context, tx pgx.Tx, gigID, workerID string) error {
	f.assignedWorker = workerID
	return nil
}

func (f *fakeRepo) SetCompletionRequested(ctx context.Context, tx pgx.Tx, id, requestedBy string, autoReleaseAt time.Time) error {
	if f.app.Status != StatusFunded || f.app.CompletionRequestedAt != nil {
		return ErrStateChanged
	}
	now := time.Now()
	f.app.CompletionRequestedAt = &now
	f.app.CompletionRequestedBy = &requestedBy
	f.app.CompletionAutoReleaseAt = &autoReleaseAt
	return nil
}

func (f *fakeRepo) SetCompletionDisputed(ctx context.Context, tx pgx.Tx, id, reason string) error {
	if !f.app.CompletionPending() || f.app.CompletionDisputedAt != nil {
		return ErrStateChanged
	}
	now := time.Now()
	f.app.CompletionDisputedAt = &now
	f.app.CompletionDisputeReason = &reason
	f.app.PaymentStatus = PaymentDisputed
	return nil
}

func (f *fakeRepo) FinalizeCompletion(ctx context.Context, tx pgx.Tx, id string, resolvedBy *string, notes *string) error {
	if f.app.Status != StatusFunded {
		return ErrStateChanged
	}
	f.app.Status = StatusCompleted
	f.app.PaymentStatus = PaymentReleased
	f.finalized = true
	return nil
}

func (f *fakeRepo) ClearCompletion(ctx context.Context, tx pgx.Tx, id, resolvedBy string, notes *string) error {
	f.app.CompletionRequestedAt = nil
	f.app.CompletionRequestedBy = nil
	f.app.CompletionAutoReleaseAt = nil
	f.app.CompletionDisputedAt = nil
	f.app.CompletionDisputeReason = nil
	f.app.PaymentStatus = PaymentInEscrow
	f.cleared = true
	return nil
}

type fakeReleaser struct {
	released []string
	err      error
}

func (f *fakeReleaser) Release(ctx context.Context, tx pgx.Tx, applicationID string) error {
	if f.err != nil {
		return f.err
	}
	f.released = append(f.released, applicationID)
	return nil
}
