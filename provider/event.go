package provider

import "fmt"

// EventStatus is the normalized outcome of a provider payment event.
type EventStatus string

const (
	StatusComplete  EventStatus = "complete"
	StatusFailed    EventStatus = "failed"
	StatusCancelled EventStatus = "cancelled"
)

// Provider identifiers as they appear in webhook routes and payment records.
const (
	Payline  = "payline"
	Paygate  = "paygate"
	Swiftpay = "swiftpay"
)

// Event is the single normalized shape every provider payload is mapped to at
// the boundary. Nothing provider-specific travels deeper into the engine.
type Event struct {
	Provider      string
	EventID       string
	PaymentRef    string
	ApplicationID string
	GrossCents    int64
	FeeCents      int64
	NetCents      int64
	Status        EventStatus
	Raw           map[string]string
}

func (e Event) validate() error {
	if e.EventID == "" {
		return fmt.Errorf("provider: event missing id")
	}
	if e.ApplicationID == "" {
		return fmt.Errorf("provider: event missing application correlation id")
	}
	switch e.Status {
	case StatusComplete, StatusFailed, StatusCancelled:
	default:
		return fmt.Errorf("provider: unrecognized status %q", e.Status)
	}
	return nil
}

// normalizeStatus maps a provider status code onto the internal taxonomy,
// rejecting anything unrecognized instead of guessing.
func normalizeStatus(provider, code string) (EventStatus, error) {
	switch provider {
	case Payline:
		switch code {
		case "COMPLETE":
			return StatusComplete, nil
		case "FAILED":
			return StatusFailed, nil
		case "CANCELLED":
			return StatusCancelled, nil
		}
	case Paygate:
		switch code {
		case "charge.success":
			return StatusComplete, nil
		case "charge.failed":
			return StatusFailed, nil
		}
	case Swiftpay:
		switch code {
		case "captured":
			return StatusComplete, nil
		case "failed":
			return StatusFailed, nil
		}
	}
	return "", fmt.Errorf("provider: %s: unrecognized status code %q", provider, code)
}
