package provider

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signBody(t *testing.T, secret string, body []byte) string {
	t.Helper()
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestHeaderJSONVerify(t *testing.T) {
	v := NewHeaderJSONVerifier(HeaderJSONConfig{Secret: "merchant-secret"})

	body := []byte(`{
		"event": "charge.success",
		"data": {
			"id": "evt_8839",
			"reference": "txn_55412",
			"amount": 100000,
			"fees": 1500,
			"metadata": {"application_id": "a4c1e9d2-0000-4000-8000-000000000042"}
		}
	}`)

	ev, ok, reason := v.Verify(body, signBody(t, "merchant-secret", body))
	require.True(t, ok, "expected valid event, reason: %s", reason)
	assert.Equal(t, Paygate, ev.Provider)
	assert.Equal(t, "evt_8839", ev.EventID)
	assert.Equal(t, "txn_55412", ev.PaymentRef)
	assert.Equal(t, "a4c1e9d2-0000-4000-8000-000000000042", ev.ApplicationID)
	assert.Equal(t, int64(100000), ev.GrossCents)
	assert.Equal(t, int64(98500), ev.NetCents)
	assert.Equal(t, StatusComplete, ev.Status)
}

func TestHeaderJSONVerifyRejectsBadSignature(t *testing.T) {
	v := NewHeaderJSONVerifier(HeaderJSONConfig{Secret: "merchant-secret"})

	body := []byte(`{"event":"charge.success","data":{"id":"evt_1","reference":"r","amount":1,"metadata":{"application_id":"x"}}}`)

	_, ok, reason := v.Verify(body, signBody(t, "wrong-secret", body))
	assert.False(t, ok)
	assert.Equal(t, "signature mismatch", reason)

	_, ok, reason = v.Verify(body, "")
	assert.False(t, ok)
	assert.Equal(t, "missing signature header", reason)
}

func TestHeaderJSONVerifyRejectsUnknownEvent(t *testing.T) {
	v := NewHeaderJSONVerifier(HeaderJSONConfig{Secret: "s"})

	body := []byte(`{"event":"subscription.create","data":{"id":"evt_2","metadata":{"application_id":"x"}}}`)
	_, ok, reason := v.Verify(body, signBody(t, "s", body))
	assert.False(t, ok)
	assert.Contains(t, reason, "unrecognized status code")
}

func TestCheckoutVerify(t *testing.T) {
	v := NewCheckoutVerifier(CheckoutConfig{Secret: "sp-key"})

	sig := v.Sign("app-77", "pay_991")
	require.True(t, v.VerifySignature("app-77", "pay_991", sig))
	assert.False(t, v.VerifySignature("app-77", "pay_992", sig))

	body := []byte(`{"order_ref":"app-77","payment_id":"pay_991","status":"captured","amount_cents":50000,"fee_cents":900,"application_id":"app-77","signature":"` + sig + `"}`)
	ev, ok, reason := v.Verify(body)
	require.True(t, ok, "reason: %s", reason)
	assert.Equal(t, Swiftpay, ev.Provider)
	assert.Equal(t, "pay_991", ev.EventID)
	assert.Equal(t, "app-77", ev.ApplicationID)
	assert.Equal(t, int64(49100), ev.NetCents)
	assert.Equal(t, StatusComplete, ev.Status)
}

func TestCheckoutEvent(t *testing.T) {
	v := NewCheckoutVerifier(CheckoutConfig{Secret: "sp-key"})

	ev, err := v.CheckoutEvent("app-12", "pay_3", 2500, 100)
	require.NoError(t, err)
	assert.Equal(t, "app-12", ev.ApplicationID)
	assert.Equal(t, StatusComplete, ev.Status)
	assert.Equal(t, int64(2400), ev.NetCents)
}
