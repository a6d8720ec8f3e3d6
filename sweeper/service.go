package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"gigflow/application"
	"gigflow/config"
	"gigflow/gig"
	"gigflow/metrics"
)

// Outcome labels for processed sweep items.
const (
	OutcomeCancelledUnfunded = "cancelled_unfunded"
	OutcomeCancelledOverdue  = "cancelled_overdue"
	OutcomeReleased          = "released"
	OutcomeSkipped           = "skipped"
	OutcomeError             = "error"
)

const (
	batchLimit         = 500
	defaultConcurrency = 8
)

// DB is the pool surface the sweeper needs.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// GigStore is the slice of the gig repository the sweeper uses.
type GigStore interface {
	SweepCandidates(ctx context.Context, now, openCutoff time.Time, limit int) ([]string, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (gig.Gig, error)
	HasFundedApplication(ctx context.Context, tx pgx.Tx, gigID string) (bool, error)
	Cancel(ctx context.Context, tx pgx.Tx, gigID string, from []gig.Status) (bool, error)
}

// AppStore lists applications due for auto-release.
type AppStore interface {
	DueForAutoRelease(ctx context.Context, q application.Queryer, now time.Time, limit int) ([]string, error)
}

// AutoReleaser finalizes one overdue completion request.
type AutoReleaser interface {
	AutoRelease(ctx context.Context, applicationID string) error
}

// Result tallies one sweep pass.
type Result struct {
	CancelledUnfunded int
	CancelledOverdue  int
	Released          int
	Skipped           int
	Errors            int
}

// Service evaluates time-based transitions: unfunded gig expiry, overdue gig
// expiry, and escrow auto-release. A failure on one item is logged and
// counted; the batch always continues.
type Service struct {
	db          DB
	gigs        GigStore
	apps        AppStore
	releaser    AutoReleaser
	log         zerolog.Logger
	now         func() time.Time
	concurrency int
}

func NewService(db DB, gigs GigStore, apps AppStore, releaser AutoReleaser, log zerolog.Logger) *Service {
	return &Service{
		db:          db,
		gigs:        gigs,
		apps:        apps,
		releaser:    releaser,
		log:         log,
		now:         time.Now,
		concurrency: defaultConcurrency,
	}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Sweep runs one full pass: expire candidate gigs, then release overdue
// completion requests. Only candidate listing failures abort the pass.
func (s *Service) Sweep(ctx context.Context, settings config.Settings) (Result, error) {
	now := s.now()

	var (
		mu  sync.Mutex
		res Result
	)
	record := func(outcome string) {
		metrics.RecordSweepItem(outcome)
		mu.Lock()
		defer mu.Unlock()
		switch outcome {
		case OutcomeCancelledUnfunded:
			res.CancelledUnfunded++
		case OutcomeCancelledOverdue:
			res.CancelledOverdue++
		case OutcomeReleased:
			res.Released++
		case OutcomeSkipped:
			res.Skipped++
		case OutcomeError:
			res.Errors++
		}
	}

	candidates, err := s.gigs.SweepCandidates(ctx, now, now.Add(-settings.GigExpiryWindow), batchLimit)
	if err != nil {
		return Result{}, fmt.Errorf("sweeper: list candidates: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, gigID := range candidates {
		gigID := gigID
		g.Go(func() error {
			outcome, err := s.SweepGig(gctx, gigID, settings)
			if err != nil {
				s.log.Error().Err(err).Str("gig_id", gigID).Msg("sweep gig failed")
				record(OutcomeError)
				return nil
			}
			record(outcome)
			return nil
		})
	}
	// Workers never return errors; Wait only surfaces context cancellation.
	_ = g.Wait()

	due, err := s.apps.DueForAutoRelease(ctx, s.db, now, batchLimit)
	if err != nil {
		return res, fmt.Errorf("sweeper: list due releases: %w", err)
	}
	for _, appID := range due {
		switch err := s.releaser.AutoRelease(ctx, appID); {
		case err == nil:
			record(OutcomeReleased)
			s.log.Info().Str("application_id", appID).Msg("auto-released escrow")
		case errors.Is(err, application.ErrStateChanged),
			errors.Is(err, application.ErrNotFound),
			errors.Is(err, application.ErrCompletionNotRequested),
			errors.Is(err, application.ErrCompletionDisputed):
			// Raced an employer action or a concurrent sweep.
			record(OutcomeSkipped)
		default:
			s.log.Error().Err(err).Str("application_id", appID).Msg("auto-release failed")
			record(OutcomeError)
		}
	}

	return res, nil
}

// SweepGig evaluates the expiry rules for a single gig, on-demand or as part
// of a batch. A gig holding a funded application is never cancelled,
// regardless of age or deadline.
func (s *Service) SweepGig(ctx context.Context, gigID string, settings config.Settings) (string, error) {
	now := s.now()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("sweeper: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	g, err := s.gigs.GetForUpdate(ctx, tx, gigID)
	if err != nil {
		return "", err
	}
	if g.Status != gig.StatusOpen && g.Status != gig.StatusInProgress {
		return OutcomeSkipped, nil
	}

	overdue := g.Deadline != nil && g.Deadline.Before(now)
	expired := g.Status == gig.StatusOpen && g.CreatedAt.Before(now.Add(-settings.GigExpiryWindow))
	if !overdue && !expired {
		return OutcomeSkipped, nil
	}

	funded, err := s.gigs.HasFundedApplication(ctx, tx, gigID)
	if err != nil {
		return "", err
	}
	if funded {
		return OutcomeSkipped, nil
	}

	moved, err := s.gigs.Cancel(ctx, tx, gigID, []gig.Status{gig.StatusOpen, gig.StatusInProgress})
	if err != nil {
		return "", err
	}
	if !moved {
		return OutcomeSkipped, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("sweeper: commit: %w", err)
	}

	outcome := OutcomeCancelledUnfunded
	if overdue {
		outcome = OutcomeCancelledOverdue
	}
	s.log.Info().Str("gig_id", gigID).Str("outcome", outcome).Msg("expired gig cancelled")
	return outcome, nil
}
