package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// CheckoutConfig holds the swiftpay API secret shared by the webhook and the
// synchronous client-verify path.
type CheckoutConfig struct {
	Secret string
}

// CheckoutVerifier authenticates swiftpay payments. The provider signs
// orderRef|paymentID with HMAC-SHA256; the same signature appears in its
// webhook payload and in the redirect parameters the client posts back for
// synchronous verification.
type CheckoutVerifier struct {
	cfg CheckoutConfig
}

func NewCheckoutVerifier(cfg CheckoutConfig) *CheckoutVerifier {
	return &CheckoutVerifier{cfg: cfg}
}

// Sign computes the checkout signature for an order. Used when building the
// checkout request and when verifying what comes back.
func (v *CheckoutVerifier) Sign(orderRef, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(v.cfg.Secret))
	fmt.Fprintf(mac, "%s|%s", orderRef, paymentID)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a client-supplied checkout signature.
func (v *CheckoutVerifier) VerifySignature(orderRef, paymentID, signature string) bool {
	return equalFold(v.Sign(orderRef, paymentID), signature)
}

type swiftpayPayload struct {
	OrderRef      string `json:"order_ref"`
	PaymentID     string `json:"payment_id"`
	Status        string `json:"status"`
	AmountCents   int64  `json:"amount_cents"`
	FeeCents      int64  `json:"fee_cents"`
	ApplicationID string `json:"application_id"`
	Signature     string `json:"signature"`
}

// Verify authenticates a swiftpay webhook body.
func (v *CheckoutVerifier) Verify(rawBody []byte) (Event, bool, string) {
	var payload swiftpayPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return Event{}, false, fmt.Sprintf("malformed body: %v", err)
	}

	if !v.VerifySignature(payload.OrderRef, payload.PaymentID, payload.Signature) {
		return Event{}, false, "signature mismatch"
	}

	ev, err := v.toEvent(payload)
	if err != nil {
		return Event{}, false, err.Error()
	}
	return ev, true, ""
}

// CheckoutEvent builds the normalized event for the synchronous verify path
// once the signature has been checked. The application id is the order
// reference the funding request was created with.
func (v *CheckoutVerifier) CheckoutEvent(orderRef, paymentID string, amountCents, feeCents int64) (Event, error) {
	return v.toEvent(swiftpayPayload{
		OrderRef:      orderRef,
		PaymentID:     paymentID,
		Status:        "captured",
		AmountCents:   amountCents,
		FeeCents:      feeCents,
		ApplicationID: orderRef,
	})
}

func (v *CheckoutVerifier) toEvent(payload swiftpayPayload) (Event, error) {
	status, err := normalizeStatus(Swiftpay, payload.Status)
	if err != nil {
		return Event{}, err
	}

	applicationID := payload.ApplicationID
	if applicationID == "" {
		applicationID = payload.OrderRef
	}

	ev := Event{
		Provider:      Swiftpay,
		EventID:       payload.PaymentID,
		PaymentRef:    payload.PaymentID,
		ApplicationID: applicationID,
		GrossCents:    payload.AmountCents,
		FeeCents:      payload.FeeCents,
		NetCents:      payload.AmountCents - payload.FeeCents,
		Status:        status,
	}
	if err := ev.validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}
