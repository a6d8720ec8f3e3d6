package actors

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"gigflow/application"
	"gigflow/config"
	"gigflow/dispute"
	"gigflow/escrow"
	"gigflow/provider"
	"gigflow/sweeper"
)

// The actors below hammer one application through its lifecycle from
// different directions at once. Every operational error is swallowed: under
// contention and chaos most calls are expected to lose races or hit
// connections the chaos killer just terminated, and the database oracles are
// the arbiter of correctness, not per-call success.

// Funder redelivers a fixed set of provider events for the application. One
// of them can win; every other delivery must collapse into a duplicate or
// already-funded no-op.
func Funder(ctx context.Context, svc *escrow.Service, settings config.Settings, applicationID string, grossCents int64, stop <-chan struct{}) error {
	events := make([]provider.Event, 0, 3)
	for i := 0; i < 3; i++ {
		events = append(events, provider.Event{
			Provider:      provider.Swiftpay,
			EventID:       fmt.Sprintf("stress-%s-%d", applicationID, i),
			PaymentRef:    fmt.Sprintf("ref-%s-%d", applicationID, i),
			ApplicationID: applicationID,
			GrossCents:    grossCents,
			Status:        provider.StatusComplete,
		})
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		ev := events[rand.Intn(len(events))]
		_, _ = svc.HandleEvent(ctx, ev, settings)
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Requester keeps asking for completion as the worker. Succeeds at most once
// per dispute cycle; everything else is a state-machine rejection.
func Requester(ctx context.Context, svc *application.Service, settings config.Settings, applicationID, workerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_ = svc.RequestCompletion(ctx, applicationID, workerID, settings)
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Approver races the disputer: the employer either approves the pending
// completion, releasing escrow, or loses to a dispute already filed.
func Approver(ctx context.Context, svc *application.Service, applicationID, employerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_ = svc.ApproveCompletion(ctx, applicationID, employerID)
		time.Sleep(time.Duration(30+rand.Intn(50)) * time.Millisecond)
	}
}

// Disputer files completion disputes as the employer.
func Disputer(ctx context.Context, svc *application.Service, applicationID, employerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_ = svc.DisputeCompletion(ctx, applicationID, employerID, "work not as described")
		time.Sleep(time.Duration(40+rand.Intn(60)) * time.Millisecond)
	}
}

// Mediator resolves whatever dispute is open, alternating between the two
// outcomes. Employer-favored resolutions reopen the cycle for the requester.
func Mediator(ctx context.Context, svc *dispute.Service, applicationID, adminID string, stop <-chan struct{}) error {
	favorWorker := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if favorWorker {
			_ = svc.ResolveInFavorOfWorker(ctx, applicationID, adminID, nil)
		} else {
			_ = svc.ResolveInFavorOfEmployer(ctx, applicationID, adminID, nil)
		}
		favorWorker = !favorWorker
		time.Sleep(time.Duration(60+rand.Intn(80)) * time.Millisecond)
	}
}

// Sweep runs maintenance sweeps on a short cadence while everything else is
// in flight. Gigs with funded applications must survive every pass.
func Sweep(ctx context.Context, svc *sweeper.Service, settings config.Settings, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, _ = svc.Sweep(ctx, settings)
		time.Sleep(time.Duration(100+rand.Intn(100)) * time.Millisecond)
	}
}
