package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"gigflow/application"
	"gigflow/config"
	"gigflow/fees"
	"gigflow/provider"
)

// ErrInvalidCheckout rejects a synchronous verify call whose signature does
// not check out.
var ErrInvalidCheckout = errors.New("escrow: invalid checkout signature")

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repo is the escrow data access surface.
type Repo interface {
	ReserveEvent(ctx context.Context, tx pgx.Tx, provider, eventID string) error
	InsertPayment(ctx context.Context, tx pgx.Tx, p Payment) (Payment, error)
	GetPaymentForUpdate(ctx context.Context, tx pgx.Tx, applicationID string) (Payment, error)
	MarkPaymentReleased(ctx context.Context, tx pgx.Tx, paymentID string) (bool, error)
	MarkIntentFailed(ctx context.Context, tx pgx.Tx, applicationID string) error
	AddLedgerEntry(ctx context.Context, tx pgx.Tx, userID *string, applicationID, entryType string, amountCents int64) error
}

// AppStore is the slice of the application repository the reconciliation
// needs: the locked read and the funded transition, both tx-scoped so every
// write lands in the same atomic unit as the payment record.
type AppStore interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (application.Application, error)
	MarkFunded(ctx context.Context, tx pgx.Tx, id string, paymentID string) error
}

// Service reconciles verified provider events against application state. All
// writes for one event happen in a single transaction; duplicates and races
// resolve to no-ops via the event reservation, the unique payment record, and
// the conditional funded transition.
type Service struct {
	pool     TxBeginner
	repo     Repo
	apps     AppStore
	checkout *provider.CheckoutVerifier
	idGen    func() string
	log      zerolog.Logger
}

func NewService(pool TxBeginner, repo Repo, apps AppStore, checkout *provider.CheckoutVerifier, log zerolog.Logger) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	if apps == nil {
		apps = application.NewRepository()
	}
	return &Service{
		pool:     pool,
		repo:     repo,
		apps:     apps,
		checkout: checkout,
		idGen:    func() string { return uuid.NewString() },
		log:      log,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGen = gen
	return s
}

// HandleEvent applies one verified provider event. Returning a non-funded
// outcome with a nil error means the event was understood and deliberately
// did nothing.
func (s *Service) HandleEvent(ctx context.Context, ev provider.Event, settings config.Settings) (Outcome, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.ReserveEvent(ctx, tx, ev.Provider, ev.EventID); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			s.log.Debug().Str("provider", ev.Provider).Str("event_id", ev.EventID).Msg("duplicate provider event")
			return OutcomeDuplicate, nil
		}
		return "", err
	}

	if ev.Status != provider.StatusComplete {
		return s.handleFailure(ctx, tx, ev)
	}

	app, err := s.apps.GetForUpdate(ctx, tx, ev.ApplicationID)
	if err != nil {
		if errors.Is(err, application.ErrNotFound) {
			// The correlation id matches nothing we issued; reserve the
			// event so retries stay quiet, change nothing else.
			if err := tx.Commit(ctx); err != nil {
				return "", fmt.Errorf("escrow: commit orphan event: %w", err)
			}
			s.log.Warn().Str("provider", ev.Provider).Str("application_id", ev.ApplicationID).Msg("event for unknown application")
			return OutcomeIgnored, nil
		}
		return "", err
	}

	switch app.Status {
	case application.StatusFunded, application.StatusCompleted:
		// Late duplicate via a different event id (e.g. webhook racing the
		// synchronous verify path). The reservation insert rolls back.
		return OutcomeDuplicate, nil
	case application.StatusAccepted:
		// proceed
	default:
		s.log.Warn().
			Str("application_id", app.ID).
			Str("status", string(app.Status)).
			Msg("funding event for application not accepted")
		return OutcomeRejected, nil
	}

	breakdown, err := fees.Calculate(ev.GrossCents, settings.CommissionPercent)
	if err != nil {
		return "", fmt.Errorf("escrow: fee breakdown: %w", err)
	}
	if app.AgreedRateCents != nil && *app.AgreedRateCents != ev.GrossCents {
		s.log.Warn().
			Str("application_id", app.ID).
			Int64("agreed_cents", *app.AgreedRateCents).
			Int64("event_cents", ev.GrossCents).
			Msg("funded amount differs from agreed rate")
	}

	payment := Payment{
		ID:              s.idGen(),
		ApplicationID:   app.ID,
		GigID:           app.GigID,
		Provider:        ev.Provider,
		ProviderTxnID:   ev.PaymentRef,
		GrossCents:      breakdown.GrossCents,
		CommissionCents: breakdown.CommissionCents,
		NetCents:        breakdown.WorkerNetCents,
	}
	payment, err = s.repo.InsertPayment(ctx, tx, payment)
	if err != nil {
		if errors.Is(err, ErrPaymentExists) {
			return OutcomeDuplicate, nil
		}
		return "", err
	}

	if err := s.apps.MarkFunded(ctx, tx, app.ID, payment.ID); err != nil {
		if errors.Is(err, application.ErrAlreadyFunded) {
			return OutcomeDuplicate, nil
		}
		return "", err
	}

	if err := s.repo.AddLedgerEntry(ctx, tx, &app.EmployerID, app.ID, EntryEscrowFund, breakdown.GrossCents); err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("escrow: commit funding: %w", err)
	}

	s.log.Info().
		Str("application_id", app.ID).
		Str("provider", ev.Provider).
		Int64("gross_cents", breakdown.GrossCents).
		Msg("escrow funded")
	return OutcomeFunded, nil
}

func (s *Service) handleFailure(ctx context.Context, tx pgx.Tx, ev provider.Event) (Outcome, error) {
	if err := s.repo.MarkIntentFailed(ctx, tx, ev.ApplicationID); err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("escrow: commit failed intent: %w", err)
	}
	s.log.Info().
		Str("application_id", ev.ApplicationID).
		Str("provider", ev.Provider).
		Str("status", string(ev.Status)).
		Msg("funding attempt failed, application left accepted")
	return OutcomeFailed, nil
}

// Release moves a held payment to released and writes the worker and
// commission ledger entries, inside the caller's transaction. Missing payment
// records surface ErrNoPayment; a payment already released is a no-op.
func (s *Service) Release(ctx context.Context, tx pgx.Tx, applicationID string) error {
	payment, err := s.repo.GetPaymentForUpdate(ctx, tx, applicationID)
	if err != nil {
		return err
	}
	if payment.Status == PaymentReleased {
		return nil
	}

	moved, err := s.repo.MarkPaymentReleased(ctx, tx, payment.ID)
	if err != nil {
		return err
	}
	if !moved {
		return nil
	}

	app, err := s.apps.GetForUpdate(ctx, tx, applicationID)
	if err != nil {
		return err
	}

	if err := s.repo.AddLedgerEntry(ctx, tx, &app.WorkerID, applicationID, EntryEscrowRelease, payment.NetCents); err != nil {
		return err
	}
	if err := s.repo.AddLedgerEntry(ctx, tx, nil, applicationID, EntryCommission, payment.CommissionCents); err != nil {
		return err
	}

	s.log.Info().
		Str("application_id", applicationID).
		Int64("net_cents", payment.NetCents).
		Int64("commission_cents", payment.CommissionCents).
		Msg("escrow released")
	return nil
}

// CheckoutVerification is the client-posted payload of the synchronous
// swiftpay verify path.
type CheckoutVerification struct {
	OrderRef    string
	PaymentID   string
	Signature   string
	AmountCents int64
	FeeCents    int64
}

// VerifyCheckout is the synchronous verify path for the provider whose
// sandbox webhooks are unreliable. It funnels into the same idempotent
// HandleEvent, so racing the real webhook collapses to a duplicate no-op.
func (s *Service) VerifyCheckout(ctx context.Context, req CheckoutVerification, settings config.Settings) (Outcome, error) {
	if s.checkout == nil {
		return "", fmt.Errorf("escrow: checkout verification not configured")
	}
	if !s.checkout.VerifySignature(req.OrderRef, req.PaymentID, req.Signature) {
		return "", ErrInvalidCheckout
	}

	ev, err := s.checkout.CheckoutEvent(req.OrderRef, req.PaymentID, req.AmountCents, req.FeeCents)
	if err != nil {
		return "", fmt.Errorf("escrow: build checkout event: %w", err)
	}
	return s.HandleEvent(ctx, ev, settings)
}
