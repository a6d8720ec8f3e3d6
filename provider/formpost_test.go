package provider

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"
	"testing"
)

func signTestForm(fields map[string]string, passphrase string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+fields[k])
	}
	base := strings.Join(parts, "&")
	if passphrase != "" {
		base += "&passphrase=" + passphrase
	}
	sum := md5.Sum([]byte(base))
	return hex.EncodeToString(sum[:])
}

func encodeTestForm(fields map[string]string, signature string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		parts = append(parts, k+"="+fields[k])
	}
	parts = append(parts, "signature="+signature)
	return strings.Join(parts, "&")
}

func paylineFields(status string) map[string]string {
	return map[string]string{
		"m_payment_id":   "5c9a9d0e-2f1b-4db5-8f24-1ddexample01",
		"pf_payment_id":  "1089250",
		"payment_status": status,
		"amount_gross":   "1000.00",
		"amount_fee":     "-22.90",
		"amount_net":     "977.10",
		"item_name":      "Gig+escrow+funding",
	}
}

func TestFormPostVerify(t *testing.T) {
	v := NewFormPostVerifier(FormPostConfig{Passphrase: "pf-passphrase", Sandbox: true})

	fields := paylineFields("COMPLETE")
	body := encodeTestForm(fields, signTestForm(fields, "pf-passphrase"))

	ev, ok, reason := v.Verify(body, "203.0.113.7:44120")
	if !ok {
		t.Fatalf("expected valid signature, got reason %q", reason)
	}
	if ev.Provider != Payline {
		t.Errorf("provider: got %q", ev.Provider)
	}
	if ev.ApplicationID != fields["m_payment_id"] {
		t.Errorf("application id: got %q", ev.ApplicationID)
	}
	if ev.EventID != "1089250" {
		t.Errorf("event id: got %q", ev.EventID)
	}
	if ev.GrossCents != 100000 {
		t.Errorf("gross cents: got %d", ev.GrossCents)
	}
	if ev.Status != StatusComplete {
		t.Errorf("status: got %q", ev.Status)
	}
}

func TestFormPostVerifySignatureCaseInsensitive(t *testing.T) {
	v := NewFormPostVerifier(FormPostConfig{Passphrase: "pf-passphrase", Sandbox: true})

	fields := paylineFields("COMPLETE")
	sig := strings.ToUpper(signTestForm(fields, "pf-passphrase"))
	body := encodeTestForm(fields, sig)

	if _, ok, reason := v.Verify(body, "203.0.113.7:1"); !ok {
		t.Fatalf("uppercase signature should verify, got %q", reason)
	}
}

func TestFormPostVerifyTamperedField(t *testing.T) {
	v := NewFormPostVerifier(FormPostConfig{Passphrase: "pf-passphrase", Sandbox: true})

	fields := paylineFields("COMPLETE")
	sig := signTestForm(fields, "pf-passphrase")
	fields["amount_gross"] = "9000.00"
	body := encodeTestForm(fields, sig)

	if _, ok, _ := v.Verify(body, "203.0.113.7:1"); ok {
		t.Fatal("tampered body must not verify")
	}
}

func TestFormPostVerifyWrongPassphrase(t *testing.T) {
	v := NewFormPostVerifier(FormPostConfig{Passphrase: "other", Sandbox: true})

	fields := paylineFields("COMPLETE")
	body := encodeTestForm(fields, signTestForm(fields, "pf-passphrase"))

	if _, ok, _ := v.Verify(body, "203.0.113.7:1"); ok {
		t.Fatal("wrong passphrase must not verify")
	}
}

func TestFormPostVerifySourceAllowList(t *testing.T) {
	v := NewFormPostVerifier(FormPostConfig{Passphrase: "pf-passphrase"})

	fields := paylineFields("COMPLETE")
	body := encodeTestForm(fields, signTestForm(fields, "pf-passphrase"))

	if _, ok, reason := v.Verify(body, "203.0.113.7:44120"); ok {
		t.Fatal("address outside provider ranges must be rejected in live mode")
	} else if !strings.Contains(reason, "source address") {
		t.Errorf("unexpected reason %q", reason)
	}

	if _, ok, reason := v.Verify(body, "197.97.145.145:44120"); !ok {
		t.Fatalf("allow-listed address should pass: %q", reason)
	}
}

func TestFormPostVerifyUnknownStatus(t *testing.T) {
	v := NewFormPostVerifier(FormPostConfig{Passphrase: "pf-passphrase", Sandbox: true})

	fields := paylineFields("PENDING_WEIRD")
	body := encodeTestForm(fields, signTestForm(fields, "pf-passphrase"))

	if _, ok, reason := v.Verify(body, "203.0.113.7:1"); ok {
		t.Fatal("unrecognized status code must be rejected")
	} else if !strings.Contains(reason, "unrecognized status") {
		t.Errorf("unexpected reason %q", reason)
	}
}

func TestParseCents(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"1000.00", 100000},
		{"977.10", 97710},
		{"-22.90", -2290},
		{"1000", 100000},
		{"0.5", 50},
		{"", 0},
	}
	for _, tc := range cases {
		got, err := parseCents(tc.in)
		if err != nil {
			t.Fatalf("parseCents(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("parseCents(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
	if _, err := parseCents("abc"); err == nil {
		t.Error("expected error for non-numeric amount")
	}
}
