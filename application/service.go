package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"gigflow/config"
)

var (
	// ErrForbidden rejects an actor that is neither the applicant nor the
	// gig's employer (or not the one the operation requires).
	ErrForbidden = errors.New("application: actor not allowed")
	// ErrRateAlreadyAgreed rejects confirmRate once the negotiation settled.
	ErrRateAlreadyAgreed = errors.New("application: rate already agreed")
	// ErrSelfConfirm rejects a party confirming its own offer.
	ErrSelfConfirm = errors.New("application: cannot confirm own rate proposal")
	// ErrRateNotAgreed rejects acceptance while the employer's own counter is
	// still open.
	ErrRateNotAgreed = errors.New("application: rate not agreed")
	// ErrCompletionAlreadyRequested rejects a second completion request while
	// one is pending.
	ErrCompletionAlreadyRequested = errors.New("application: completion already requested")
	// ErrCompletionNotRequested rejects approve/dispute without a pending
	// completion request.
	ErrCompletionNotRequested = errors.New("application: no completion request pending")
	// ErrCompletionDisputed blocks employer approval once a dispute is open;
	// only admin mediation closes it.
	ErrCompletionDisputed = errors.New("application: completion under dispute")
	// ErrRateOutOfRange rejects a proposal outside (0, maxRate].
	ErrRateOutOfRange = errors.New("application: rate out of range")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repo is the data access surface the service drives. Implemented by
// *Repository; faked in unit tests.
type Repo interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Application, error)
	AppendRate(ctx context.Context, tx pgx.Tx, id string, amountCents int64, proposedBy string, note *string) error
	AgreeRate(ctx context.Context, tx pgx.Tx, id string, amountCents int64) error
	UpdateStatusIf(ctx context.Context, tx pgx.Tx, id string, from, to Status) error
	RejectSiblings(ctx context.Context, tx pgx.Tx, gigID, exceptID string) (int64, error)
	AssignGigWorker(ctx context.Context, tx pgx.Tx, gigID, workerID string) error
	SetCompletionRequested(ctx context.Context, tx pgx.Tx, id, requestedBy string, autoReleaseAt time.Time) error
	SetCompletionDisputed(ctx context.Context, tx pgx.Tx, id, reason string) error
	FinalizeCompletion(ctx context.Context, tx pgx.Tx, id string, resolvedBy *string, notes *string) error
	ClearCompletion(ctx context.Context, tx pgx.Tx, id, resolvedBy string, notes *string) error
}

// Releaser moves held escrow to the worker inside the caller's transaction.
// Implemented by the escrow service; nil disables release (tests).
type Releaser interface {
	Release(ctx context.Context, tx pgx.Tx, applicationID string) error
}

// Service owns every user-facing lifecycle transition. Each operation is a
// single transaction: lock the row, re-check preconditions against current
// state, write conditionally.
type Service struct {
	pool     TxBeginner
	repo     Repo
	releaser Releaser
	now      func() time.Time
}

func NewService(pool TxBeginner, repo Repo, releaser Releaser) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	return &Service{
		pool:     pool,
		repo:     repo,
		releaser: releaser,
		now:      time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ProposeRateParams carries a proposal or counter-offer.
type ProposeRateParams struct {
	ApplicationID string
	ActorID       string
	AmountCents   int64
	Note          *string
}

// ProposeRate appends a proposal or counter to the negotiation history.
// Re-submitting one's own standing offer is a no-op rather than a duplicate
// history entry.
func (s *Service) ProposeRate(ctx context.Context, params ProposeRateParams, settings config.Settings) error {
	if params.AmountCents <= 0 {
		return fmt.Errorf("%w: rate must be positive, got %d", ErrRateOutOfRange, params.AmountCents)
	}
	if params.AmountCents > settings.MaxRateCents {
		return fmt.Errorf("%w: rate %d exceeds maximum %d", ErrRateOutOfRange, params.AmountCents, settings.MaxRateCents)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("application: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	app, err := s.repo.GetForUpdate(ctx, tx, params.ApplicationID)
	if err != nil {
		return err
	}
	if params.ActorID != app.WorkerID && params.ActorID != app.EmployerID {
		return ErrForbidden
	}
	if !rateNegotiable(app.Status) {
		return fmt.Errorf("%w: cannot negotiate rate in status %s", ErrInvalidTransition, app.Status)
	}
	if app.LastRateBy == params.ActorID && app.LastRateAmountCents == params.AmountCents && app.RateStatus != RateAgreed {
		return nil
	}

	if err := s.repo.AppendRate(ctx, tx, app.ID, params.AmountCents, params.ActorID, params.Note); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("application: commit rate proposal: %w", err)
	}
	return nil
}

// ConfirmRate settles the negotiation at the counterparty's standing offer.
func (s *Service) ConfirmRate(ctx context.Context, applicationID, actorID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("application: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	app, err := s.repo.GetForUpdate(ctx, tx, applicationID)
	if err != nil {
		return err
	}
	if actorID != app.WorkerID && actorID != app.EmployerID {
		return ErrForbidden
	}
	if app.RateStatus == RateAgreed {
		return ErrRateAlreadyAgreed
	}
	if app.LastRateBy == actorID {
		return ErrSelfConfirm
	}

	if err := s.repo.AgreeRate(ctx, tx, app.ID, app.LastRateAmountCents); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("application: commit rate confirmation: %w", err)
	}
	return nil
}

// Accept moves a pending application to accepted, assigns the worker on the
// gig, and rejects the remaining pending applications. The gig itself stays
// open on purpose: other workers may keep applying as backups until escrow is
// actually funded. If the worker's proposal is still open the employer's
// acceptance confirms it implicitly.
func (s *Service) Accept(ctx context.Context, applicationID, employerID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("application: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	app, err := s.repo.GetForUpdate(ctx, tx, applicationID)
	if err != nil {
		return err
	}
	if app.EmployerID != employerID {
		return ErrForbidden
	}
	if app.Status == StatusAccepted {
		return nil
	}
	if app.Status != StatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, app.Status, StatusAccepted)
	}

	if app.RateStatus != RateAgreed {
		if app.LastRateBy == employerID {
			return ErrRateNotAgreed
		}
		if err := s.repo.AgreeRate(ctx, tx, app.ID, app.LastRateAmountCents); err != nil {
			return err
		}
	}

	if err := s.repo.UpdateStatusIf(ctx, tx, app.ID, StatusPending, StatusAccepted); err != nil {
		return err
	}
	if err := s.repo.AssignGigWorker(ctx, tx, app.GigID, app.WorkerID); err != nil {
		return err
	}
	if _, err := s.repo.RejectSiblings(ctx, tx, app.GigID, app.ID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("application: commit acceptance: %w", err)
	}
	return nil
}

// Reject diverts a pending or accepted-but-unfunded application.
func (s *Service) Reject(ctx context.Context, applicationID, employerID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("application: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	app, err := s.repo.GetForUpdate(ctx, tx, applicationID)
	if err != nil {
		return err
	}
	if app.EmployerID != employerID {
		return ErrForbidden
	}
	if app.Status == StatusRejected {
		return nil
	}
	if err := s.repo.UpdateStatusIf(ctx, tx, app.ID, app.Status, StatusRejected); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("application: commit rejection: %w", err)
	}
	return nil
}

// Withdraw lets the worker pull a still-pending application.
func (s *Service) Withdraw(ctx context.Context, applicationID, workerID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("application: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	app, err := s.repo.GetForUpdate(ctx, tx, applicationID)
	if err != nil {
		return err
	}
	if app.WorkerID != workerID {
		return ErrForbidden
	}
	if app.Status == StatusWithdrawn {
		return nil
	}
	if err := s.repo.UpdateStatusIf(ctx, tx, app.ID, app.Status, StatusWithdrawn); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("application: commit withdrawal: %w", err)
	}
	return nil
}

// RequestCompletion opens the completion workflow on a funded application and
// arms the auto-release deadline.
func (s *Service) RequestCompletion(ctx context.Context, applicationID, requestedBy string, settings config.Settings) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("application: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	app, err := s.repo.GetForUpdate(ctx, tx, applicationID)
	if err != nil {
		return err
	}
	if requestedBy != app.WorkerID && requestedBy != app.EmployerID {
		return ErrForbidden
	}
	if app.Status != StatusFunded {
		return fmt.Errorf("%w: completion requires funded status, have %s", ErrInvalidTransition, app.Status)
	}
	if app.CompletionRequestedAt != nil {
		return ErrCompletionAlreadyRequested
	}

	releaseAt := s.now().Add(settings.AutoReleaseWindow)
	if err := s.repo.SetCompletionRequested(ctx, tx, app.ID, requestedBy, releaseAt); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("application: commit completion request: %w", err)
	}
	return nil
}

// DisputeCompletion freezes a pending completion request until an admin
// mediates.
func (s *Service) DisputeCompletion(ctx context.Context, applicationID, employerID, reason string) error {
	if reason == "" {
		return fmt.Errorf("application: dispute reason required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("application: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	app, err := s.repo.GetForUpdate(ctx, tx, applicationID)
	if err != nil {
		return err
	}
	if app.EmployerID != employerID {
		return ErrForbidden
	}
	if !app.CompletionPending() {
		return ErrCompletionNotRequested
	}
	if app.CompletionDisputedAt != nil {
		return fmt.Errorf("application: completion already disputed")
	}

	if err := s.repo.SetCompletionDisputed(ctx, tx, app.ID, reason); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("application: commit dispute: %w", err)
	}
	return nil
}

// ApproveCompletion finalizes a pending, undisputed completion request and
// releases the held escrow to the worker.
func (s *Service) ApproveCompletion(ctx context.Context, applicationID, employerID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("application: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	app, err := s.repo.GetForUpdate(ctx, tx, applicationID)
	if err != nil {
		return err
	}
	if app.EmployerID != employerID {
		return ErrForbidden
	}
	if !app.CompletionPending() {
		return ErrCompletionNotRequested
	}
	if app.CompletionDisputedAt != nil {
		return ErrCompletionDisputed
	}

	if err := s.finalize(ctx, tx, app.ID, nil, nil); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("application: commit approval: %w", err)
	}
	return nil
}

// AutoRelease finalizes a completion request whose deadline has lapsed with
// no dispute. Invoked by the expiry sweeper; the deadline is re-checked under
// lock so a near-simultaneous dispute wins.
func (s *Service) AutoRelease(ctx context.Context, applicationID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("application: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	app, err := s.repo.GetForUpdate(ctx, tx, applicationID)
	if err != nil {
		return err
	}
	if !app.CompletionPending() {
		return ErrCompletionNotRequested
	}
	if app.CompletionDisputedAt != nil {
		return ErrCompletionDisputed
	}
	if app.CompletionAutoReleaseAt == nil || s.now().Before(*app.CompletionAutoReleaseAt) {
		return ErrStateChanged
	}

	if err := s.finalize(ctx, tx, app.ID, nil, nil); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("application: commit auto release: %w", err)
	}
	return nil
}

// finalize performs the shared completion write plus escrow release inside
// the caller's transaction.
func (s *Service) finalize(ctx context.Context, tx pgx.Tx, applicationID string, resolvedBy *string, notes *string) error {
	if err := s.repo.FinalizeCompletion(ctx, tx, applicationID, resolvedBy, notes); err != nil {
		return err
	}
	if s.releaser != nil {
		if err := s.releaser.Release(ctx, tx, applicationID); err != nil {
			return err
		}
	}
	return nil
}
