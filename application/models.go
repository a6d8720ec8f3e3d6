package application

import "time"

// Status is the top-level lifecycle state of an application.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusFunded    Status = "funded"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
	StatusWithdrawn Status = "withdrawn"
)

// PaymentStatus tracks the escrow side of an application.
type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentInEscrow PaymentStatus = "in_escrow"
	PaymentReleased PaymentStatus = "released"
	PaymentDisputed PaymentStatus = "disputed"
	PaymentFailed   PaymentStatus = "failed"
)

// RateStatus tracks the negotiation sub-state.
type RateStatus string

const (
	RateProposed  RateStatus = "proposed"
	RateCountered RateStatus = "countered"
	RateAgreed    RateStatus = "agreed"
)

// Resolution records how an admin closed a completion dispute.
type Resolution string

const (
	ResolutionApproved Resolution = "approved"
	ResolutionRejected Resolution = "rejected"
)

// Application mirrors the applications table columns touched by the engine.
type Application struct {
	ID            string
	GigID         string
	WorkerID      string
	EmployerID    string
	Status        Status
	PaymentStatus PaymentStatus
	RateStatus    RateStatus

	ProposedRateCents   int64
	AgreedRateCents     *int64
	LastRateAmountCents int64
	LastRateBy          string
	LastRateAt          time.Time

	CompletionRequestedAt     *time.Time
	CompletionRequestedBy     *string
	CompletionAutoReleaseAt   *time.Time
	CompletionDisputedAt      *time.Time
	CompletionDisputeReason   *string
	CompletionResolvedAt      *time.Time
	CompletionResolvedBy      *string
	CompletionResolution      *Resolution
	CompletionResolutionNotes *string

	PaymentID *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RateEntry is one append-only row of the negotiation history.
type RateEntry struct {
	ID            int64
	ApplicationID string
	AmountCents   int64
	ProposedBy    string
	Note          *string
	CreatedAt     time.Time
}

// HasActiveDispute reports whether a completion dispute is open and awaiting
// admin resolution.
func (a Application) HasActiveDispute() bool {
	return a.CompletionDisputedAt != nil && a.CompletionResolvedAt == nil
}

// CompletionPending reports whether a completion request is awaiting employer
// action or auto-release.
func (a Application) CompletionPending() bool {
	return a.Status == StatusFunded && a.CompletionRequestedAt != nil
}
