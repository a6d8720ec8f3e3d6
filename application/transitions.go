package application

// statusTransitions enumerates every legal top-level move. Status only ever
// advances: pending can divert to rejected/withdrawn, accepted can still be
// rejected before funding, and completed/rejected/withdrawn are terminal. A
// dispute resolved in the employer's favor clears the completion sub-fields
// but never moves the top-level status backward.
var statusTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusAccepted:  true,
		StatusRejected:  true,
		StatusWithdrawn: true,
	},
	StatusAccepted: {
		StatusFunded:   true,
		StatusRejected: true,
	},
	StatusFunded: {
		StatusCompleted: true,
	},
	StatusCompleted: {},
	StatusRejected:  {},
	StatusWithdrawn: {},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	return statusTransitions[from][to]
}

// Terminal reports whether a status admits no further transitions.
func Terminal(s Status) bool {
	return len(statusTransitions[s]) == 0
}

// validPairs pins down which payment statuses may coexist with each top-level
// status so combinations like completed+unpaid are rejected centrally rather
// than slipping through independent flag writes.
var validPairs = map[Status]map[PaymentStatus]bool{
	StatusPending:   {PaymentUnpaid: true},
	StatusAccepted:  {PaymentUnpaid: true, PaymentFailed: true},
	StatusFunded:    {PaymentInEscrow: true, PaymentDisputed: true},
	StatusCompleted: {PaymentReleased: true},
	StatusRejected:  {PaymentUnpaid: true, PaymentFailed: true},
	StatusWithdrawn: {PaymentUnpaid: true},
}

// ValidCombination reports whether a status/paymentStatus pair is
// representable.
func ValidCombination(s Status, p PaymentStatus) bool {
	return validPairs[s][p]
}

// rateNegotiable lists the statuses in which the rate may still change.
func rateNegotiable(s Status) bool {
	switch s {
	case StatusPending, StatusAccepted:
		return true
	default:
		return false
	}
}
