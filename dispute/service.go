package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"gigflow/application"
	"gigflow/auth"
	"gigflow/escrow"
)

var (
	// ErrForbidden rejects mediation by a non-admin actor.
	ErrForbidden = errors.New("dispute: admin role required")
	// ErrNoActiveDispute signals the application has no disputed completion
	// request to mediate.
	ErrNoActiveDispute = errors.New("dispute: no active dispute")
	// ErrAlreadyResolved signals the dispute was mediated before.
	ErrAlreadyResolved = errors.New("dispute: already resolved")
)

type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// AppStore is the slice of the application repository mediation needs.
type AppStore interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (application.Application, error)
	FinalizeCompletion(ctx context.Context, tx pgx.Tx, id string, resolvedBy *string, notes *string) error
	ClearCompletion(ctx context.Context, tx pgx.Tx, id, resolvedBy string, notes *string) error
}

// Releaser pays out held escrow inside the caller's transaction.
type Releaser interface {
	Release(ctx context.Context, tx pgx.Tx, applicationID string) error
}

// Directory resolves actor accounts for the admin role check.
type Directory interface {
	GetUserByID(ctx context.Context, userID string) (auth.User, error)
}

// Service mediates disputed completion requests. Both resolutions are
// admin-only and run as a single transaction against the application row.
type Service struct {
	pool     TxBeginner
	apps     AppStore
	users    Directory
	releaser Releaser
	log      zerolog.Logger
}

func NewService(pool TxBeginner, apps AppStore, users Directory, releaser Releaser, log zerolog.Logger) *Service {
	return &Service{pool: pool, apps: apps, users: users, releaser: releaser, log: log}
}

// ResolveInFavorOfWorker finalizes the disputed completion: the application
// and its gig move to completed and held escrow is released to the worker.
// When no payment record exists the state still finalizes without a payout.
func (s *Service) ResolveInFavorOfWorker(ctx context.Context, applicationID, adminID string, notes *string) error {
	if err := s.requireAdmin(ctx, adminID); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("dispute: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	app, err := s.apps.GetForUpdate(ctx, tx, applicationID)
	if err != nil {
		return err
	}
	if err := activeDispute(app); err != nil {
		return err
	}

	if err := s.apps.FinalizeCompletion(ctx, tx, applicationID, &adminID, notes); err != nil {
		return err
	}

	if err := s.releaser.Release(ctx, tx, applicationID); err != nil {
		if !errors.Is(err, escrow.ErrNoPayment) {
			return err
		}
		// Disputed but never funded: finalize the state, nothing to pay out.
		s.log.Warn().
			Str("application_id", applicationID).
			Msg("worker resolution without payment record")
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("dispute: commit: %w", err)
	}

	s.log.Info().
		Str("application_id", applicationID).
		Str("admin_id", adminID).
		Msg("dispute resolved in favor of worker")
	return nil
}

// ResolveInFavorOfEmployer clears the completion request and dispute so the
// worker can re-request after remediation. Top-level status does not move and
// escrow stays held.
func (s *Service) ResolveInFavorOfEmployer(ctx context.Context, applicationID, adminID string, notes *string) error {
	if err := s.requireAdmin(ctx, adminID); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("dispute: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	app, err := s.apps.GetForUpdate(ctx, tx, applicationID)
	if err != nil {
		return err
	}
	if err := activeDispute(app); err != nil {
		return err
	}

	if err := s.apps.ClearCompletion(ctx, tx, applicationID, adminID, notes); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("dispute: commit: %w", err)
	}

	s.log.Info().
		Str("application_id", applicationID).
		Str("admin_id", adminID).
		Msg("dispute resolved in favor of employer")
	return nil
}

func (s *Service) requireAdmin(ctx context.Context, adminID string) error {
	user, err := s.users.GetUserByID(ctx, adminID)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			return ErrForbidden
		}
		return fmt.Errorf("dispute: lookup admin: %w", err)
	}
	if user.Role != auth.RoleAdmin {
		return ErrForbidden
	}
	return nil
}

func activeDispute(app application.Application) error {
	if app.CompletionResolvedAt != nil {
		return ErrAlreadyResolved
	}
	if app.CompletionDisputedAt == nil {
		return ErrNoActiveDispute
	}
	return nil
}
