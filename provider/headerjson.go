package provider

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// SignatureHeader carries the paygate webhook signature.
const SignatureHeader = "X-Paygate-Signature"

// HeaderJSONConfig holds the per-merchant secret used to authenticate paygate
// webhook bodies.
type HeaderJSONConfig struct {
	Secret string
}

// HeaderJSONVerifier authenticates paygate JSON webhooks: HMAC-SHA512 over
// the raw request body, hex-encoded, compared against the signature header.
type HeaderJSONVerifier struct {
	cfg HeaderJSONConfig
}

func NewHeaderJSONVerifier(cfg HeaderJSONConfig) *HeaderJSONVerifier {
	return &HeaderJSONVerifier{cfg: cfg}
}

type paygatePayload struct {
	Event string `json:"event"`
	Data  struct {
		ID        string `json:"id"`
		Reference string `json:"reference"`
		Amount    int64  `json:"amount"`
		Fees      int64  `json:"fees"`
		Metadata  struct {
			ApplicationID string `json:"application_id"`
		} `json:"metadata"`
	} `json:"data"`
}

// Verify checks the body signature and maps the payload to a normalized
// event. Authenticity failures come back as ok=false with a reason.
func (v *HeaderJSONVerifier) Verify(rawBody []byte, headerSignature string) (Event, bool, string) {
	if headerSignature == "" {
		return Event{}, false, "missing signature header"
	}

	mac := hmac.New(sha512.New, []byte(v.cfg.Secret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !equalFold(expected, headerSignature) {
		return Event{}, false, "signature mismatch"
	}

	var payload paygatePayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return Event{}, false, fmt.Sprintf("malformed body: %v", err)
	}

	status, err := normalizeStatus(Paygate, payload.Event)
	if err != nil {
		return Event{}, false, err.Error()
	}

	ev := Event{
		Provider:      Paygate,
		EventID:       payload.Data.ID,
		PaymentRef:    payload.Data.Reference,
		ApplicationID: payload.Data.Metadata.ApplicationID,
		GrossCents:    payload.Data.Amount,
		FeeCents:      payload.Data.Fees,
		NetCents:      payload.Data.Amount - payload.Data.Fees,
		Status:        status,
	}
	if err := ev.validate(); err != nil {
		return Event{}, false, err.Error()
	}
	return ev, true, ""
}
