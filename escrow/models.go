package escrow

import "time"

// PaymentStatus mirrors the application's payment sub-state onto the payment
// record.
type PaymentStatus string

const (
	PaymentInEscrow PaymentStatus = "in_escrow"
	PaymentReleased PaymentStatus = "released"
	PaymentDisputed PaymentStatus = "disputed"
	PaymentFailed   PaymentStatus = "failed"
)

// Ledger entry types. Funding credits the employer's escrow deposit; release
// splits the held amount into the worker's net and the platform commission.
const (
	EntryEscrowFund    = "escrow_fund"
	EntryEscrowRelease = "escrow_release"
	EntryCommission    = "commission"
)

// Payment is the escrow record: exactly one per funded application.
type Payment struct {
	ID              string
	ApplicationID   string
	GigID           string
	Provider        string
	ProviderTxnID   string
	GrossCents      int64
	CommissionCents int64
	NetCents        int64
	Status          PaymentStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// LedgerEntry is one append-only wallet movement. UserID is nil for platform
// commission entries.
type LedgerEntry struct {
	ID            int64
	UserID        *string
	ApplicationID string
	EntryType     string
	AmountCents   int64
	CreatedAt     time.Time
}

// Outcome classifies what a provider event did to the system.
type Outcome string

const (
	// OutcomeFunded: the event escrowed funds and marked the application funded.
	OutcomeFunded Outcome = "funded"
	// OutcomeDuplicate: the event was already processed; nothing changed.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeIgnored: no application matches the correlation id.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeFailed: the provider reported failure; the funding intent was
	// marked failed and the application left accepted for retry.
	OutcomeFailed Outcome = "failed"
	// OutcomeRejected: the application is in a state that cannot accept the
	// event (for example still pending).
	OutcomeRejected Outcome = "rejected"
)
