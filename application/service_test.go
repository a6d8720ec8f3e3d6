package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"gigflow/config"
)

const (
	appID      = "app-1"
	gigID      = "gig-1"
	workerID   = "worker-1"
	employerID = "employer-1"
	strangerID = "stranger-1"
)

func pendingApp() Application {
	return Application{
		ID:                  appID,
		GigID:               gigID,
		WorkerID:            workerID,
		EmployerID:          employerID,
		Status:              StatusPending,
		PaymentStatus:       PaymentUnpaid,
		RateStatus:          RateProposed,
		ProposedRateCents:   100000,
		LastRateAmountCents: 100000,
		LastRateBy:          workerID,
	}
}

func fundedApp() Application {
	app := pendingApp()
	agreed := int64(90000)
	app.Status = StatusFunded
	app.PaymentStatus = PaymentInEscrow
	app.RateStatus = RateAgreed
	app.AgreedRateCents = &agreed
	app.LastRateAmountCents = agreed
	return app
}

func newTestService(app Application) (*Service, *fakePool, *fakeRepo, *fakeReleaser) {
	pool := &fakePool{}
	repo := &fakeRepo{app: app}
	releaser := &fakeReleaser{}
	return NewService(pool, repo, releaser), pool, repo, releaser
}

func TestProposeRateValidation(t *testing.T) {
	svc, _, _, _ := newTestService(pendingApp())
	settings := config.Defaults()

	if err := svc.ProposeRate(context.Background(), ProposeRateParams{ApplicationID: appID, ActorID: employerID, AmountCents: 0}, settings); err == nil {
		t.Error("expected error for zero amount")
	}
	if err := svc.ProposeRate(context.Background(), ProposeRateParams{ApplicationID: appID, ActorID: employerID, AmountCents: settings.MaxRateCents + 1}, settings); err == nil {
		t.Error("expected error for amount above maximum")
	}
	if err := svc.ProposeRate(context.Background(), ProposeRateParams{ApplicationID: appID, ActorID: strangerID, AmountCents: 5000}, settings); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for stranger, got %v", err)
	}
}

func TestProposeRateCounters(t *testing.T) {
	svc, pool, repo, _ := newTestService(pendingApp())

	err := svc.ProposeRate(context.Background(), ProposeRateParams{ApplicationID: appID, ActorID: employerID, AmountCents: 90000}, config.Defaults())
	if err != nil {
		t.Fatalf("counter failed: %v", err)
	}
	if !pool.tx.committed {
		t.Error("expected commit")
	}
	if repo.app.RateStatus != RateCountered {
		t.Errorf("rate status: got %s", repo.app.RateStatus)
	}
	if repo.app.LastRateAmountCents != 90000 || repo.app.LastRateBy != employerID {
		t.Errorf("last rate not recorded: %+v", repo.app)
	}
	if len(repo.history) != 1 {
		t.Errorf("expected one history entry, got %d", len(repo.history))
	}
}

func TestProposeRateOwnStandingOfferIsNoop(t *testing.T) {
	svc, pool, repo, _ := newTestService(pendingApp())

	err := svc.ProposeRate(context.Background(), ProposeRateParams{ApplicationID: appID, ActorID: workerID, AmountCents: 100000}, config.Defaults())
	if err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	if len(repo.history) != 0 {
		t.Errorf("no history entry expected, got %d", len(repo.history))
	}
	if pool.tx.committed {
		t.Error("no-op should not commit")
	}
}

func TestProposeRateRejectedOnceFunded(t *testing.T) {
	svc, _, _, _ := newTestService(fundedApp())

	err := svc.ProposeRate(context.Background(), ProposeRateParams{ApplicationID: appID, ActorID: workerID, AmountCents: 80000}, config.Defaults())
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestConfirmRate(t *testing.T) {
	app := pendingApp()
	app.RateStatus = RateCountered
	app.LastRateAmountCents = 90000
	app.LastRateBy = employerID
	svc, _, repo, _ := newTestService(app)

	if err := svc.ConfirmRate(context.Background(), appID, workerID); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if repo.app.RateStatus != RateAgreed {
		t.Errorf("rate status: got %s", repo.app.RateStatus)
	}
	if repo.app.AgreedRateCents == nil || *repo.app.AgreedRateCents != 90000 {
		t.Errorf("agreed rate: got %v", repo.app.AgreedRateCents)
	}

	// Confirming again fails: already agreed.
	if err := svc.ConfirmRate(context.Background(), appID, employerID); !errors.Is(err, ErrRateAlreadyAgreed) {
		t.Errorf("expected ErrRateAlreadyAgreed, got %v", err)
	}
}

func TestConfirmRateRejectsAuthor(t *testing.T) {
	app := pendingApp()
	app.RateStatus = RateCountered
	app.LastRateBy = employerID
	svc, _, _, _ := newTestService(app)

	if err := svc.ConfirmRate(context.Background(), appID, employerID); !errors.Is(err, ErrSelfConfirm) {
		t.Errorf("expected ErrSelfConfirm, got %v", err)
	}
}

func TestAcceptConfirmsWorkerProposal(t *testing.T) {
	svc, pool, repo, _ := newTestService(pendingApp())

	if err := svc.Accept(context.Background(), appID, employerID); err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if !pool.tx.committed {
		t.Error("expected commit")
	}
	if repo.app.Status != StatusAccepted {
		t.Errorf("status: got %s", repo.app.Status)
	}
	if repo.app.RateStatus != RateAgreed {
		t.Errorf("acceptance should confirm the worker's open proposal, rate status %s", repo.app.RateStatus)
	}
	if repo.assignedWorker != workerID {
		t.Errorf("gig should be assigned to worker, got %q", repo.assignedWorker)
	}
	if !repo.siblingsCleared {
		t.Error("other pending applications should be rejected")
	}
}

func TestAcceptRejectsWhileOwnCounterOpen(t *testing.T) {
	app := pendingApp()
	app.RateStatus = RateCountered
	app.LastRateBy = employerID
	svc, _, _, _ := newTestService(app)

	if err := svc.Accept(context.Background(), appID, employerID); !errors.Is(err, ErrRateNotAgreed) {
		t.Errorf("expected ErrRateNotAgreed, got %v", err)
	}
}

func TestAcceptForbiddenForNonEmployer(t *testing.T) {
	svc, _, _, _ := newTestService(pendingApp())

	if err := svc.Accept(context.Background(), appID, workerID); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestAcceptIdempotent(t *testing.T) {
	app := pendingApp()
	app.Status = StatusAccepted
	svc, _, repo, _ := newTestService(app)

	if err := svc.Accept(context.Background(), appID, employerID); err != nil {
		t.Fatalf("repeat accept should no-op, got %v", err)
	}
	if repo.siblingsCleared {
		t.Error("no-op accept must not touch siblings")
	}
}

func TestWithdraw(t *testing.T) {
	svc, _, repo, _ := newTestService(pendingApp())

	if err := svc.Withdraw(context.Background(), appID, employerID); !errors.Is(err, ErrForbidden) {
		t.Errorf("only the worker may withdraw, got %v", err)
	}
	if err := svc.Withdraw(context.Background(), appID, workerID); err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	if repo.app.Status != StatusWithdrawn {
		t.Errorf("status: got %s", repo.app.Status)
	}
}

func TestRequestCompletion(t *testing.T) {
	svc, _, repo, _ := newTestService(fundedApp())
	settings := config.Defaults()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.WithClock(func() time.Time { return base })

	if err := svc.RequestCompletion(context.Background(), appID, workerID, settings); err != nil {
		t.Fatalf("request completion failed: %v", err)
	}
	if repo.app.CompletionRequestedAt == nil {
		t.Fatal("completion request not recorded")
	}
	want := base.Add(settings.AutoReleaseWindow)
	if !repo.app.CompletionAutoReleaseAt.Equal(want) {
		t.Errorf("auto release at: got %v want %v", repo.app.CompletionAutoReleaseAt, want)
	}

	if err := svc.RequestCompletion(context.Background(), appID, workerID, settings); !errors.Is(err, ErrCompletionAlreadyRequested) {
		t.Errorf("expected ErrCompletionAlreadyRequested, got %v", err)
	}
}

func TestRequestCompletionRequiresFunded(t *testing.T) {
	svc, _, _, _ := newTestService(pendingApp())

	err := svc.RequestCompletion(context.Background(), appID, workerID, config.Defaults())
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestDisputeCompletion(t *testing.T) {
	svc, _, repo, _ := newTestService(fundedApp())
	settings := config.Defaults()

	if err := svc.DisputeCompletion(context.Background(), appID, employerID, "deliverable missing"); !errors.Is(err, ErrCompletionNotRequested) {
		t.Errorf("dispute without request should fail, got %v", err)
	}

	if err := svc.RequestCompletion(context.Background(), appID, workerID, settings); err != nil {
		t.Fatalf("request completion: %v", err)
	}
	if err := svc.DisputeCompletion(context.Background(), appID, employerID, ""); err == nil {
		t.Error("empty reason must be rejected")
	}
	if err := svc.DisputeCompletion(context.Background(), appID, employerID, "deliverable missing"); err != nil {
		t.Fatalf("dispute failed: %v", err)
	}
	if repo.app.CompletionDisputedAt == nil {
		t.Error("dispute not recorded")
	}
	if repo.app.PaymentStatus != PaymentDisputed {
		t.Errorf("payment status: got %s", repo.app.PaymentStatus)
	}
}

func TestApproveCompletionReleasesEscrow(t *testing.T) {
	svc, _, repo, releaser := newTestService(fundedApp())
	settings := config.Defaults()

	if err := svc.RequestCompletion(context.Background(), appID, workerID, settings); err != nil {
		t.Fatalf("request completion: %v", err)
	}
	if err := svc.ApproveCompletion(context.Background(), appID, employerID); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if repo.app.Status != StatusCompleted || repo.app.PaymentStatus != PaymentReleased {
		t.Errorf("unexpected end state: %s/%s", repo.app.Status, repo.app.PaymentStatus)
	}
	if len(releaser.released) != 1 || releaser.released[0] != appID {
		t.Errorf("escrow release not triggered: %v", releaser.released)
	}
}

func TestApproveCompletionBlockedByDispute(t *testing.T) {
	svc, _, _, releaser := newTestService(fundedApp())
	settings := config.Defaults()

	if err := svc.RequestCompletion(context.Background(), appID, workerID, settings); err != nil {
		t.Fatalf("request completion: %v", err)
	}
	if err := svc.DisputeCompletion(context.Background(), appID, employerID, "not done"); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if err := svc.ApproveCompletion(context.Background(), appID, employerID); !errors.Is(err, ErrCompletionDisputed) {
		t.Errorf("expected ErrCompletionDisputed, got %v", err)
	}
	if len(releaser.released) != 0 {
		t.Error("no release while disputed")
	}
}

func TestAutoRelease(t *testing.T) {
	svc, _, repo, releaser := newTestService(fundedApp())
	settings := config.Defaults()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.WithClock(func() time.Time { return base })

	if err := svc.RequestCompletion(context.Background(), appID, workerID, settings); err != nil {
		t.Fatalf("request completion: %v", err)
	}

	// Deadline not reached yet.
	if err := svc.AutoRelease(context.Background(), appID); !errors.Is(err, ErrStateChanged) {
		t.Errorf("expected ErrStateChanged before deadline, got %v", err)
	}

	svc.WithClock(func() time.Time { return base.Add(settings.AutoReleaseWindow + time.Minute) })
	if err := svc.AutoRelease(context.Background(), appID); err != nil {
		t.Fatalf("auto release failed: %v", err)
	}
	if repo.app.Status != StatusCompleted {
		t.Errorf("status: got %s", repo.app.Status)
	}
	if len(releaser.released) != 1 {
		t.Errorf("escrow release not triggered: %v", releaser.released)
	}
}

func TestAutoReleaseBlockedByDispute(t *testing.T) {
	svc, _, _, releaser := newTestService(fundedApp())
	settings := config.Defaults()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.WithClock(func() time.Time { return base })

	if err := svc.RequestCompletion(context.Background(), appID, workerID, settings); err != nil {
		t.Fatalf("request completion: %v", err)
	}
	if err := svc.DisputeCompletion(context.Background(), appID, employerID, "incomplete"); err != nil {
		t.Fatalf("dispute: %v", err)
	}

	svc.WithClock(func() time.Time { return base.Add(settings.AutoReleaseWindow + time.Hour) })
	if err := svc.AutoRelease(context.Background(), appID); !errors.Is(err, ErrCompletionDisputed) {
		t.Errorf("expected ErrCompletionDisputed, got %v", err)
	}
	if len(releaser.released) != 0 {
		t.Error("disputed escrow must remain held")
	}
}
