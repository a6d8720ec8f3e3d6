package provider

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/netip"
	"sort"
	"strconv"
	"strings"
)

// FormPostConfig configures verification of the payline synchronous
// signed-form-post notifications.
type FormPostConfig struct {
	Passphrase string
	Sandbox    bool
	// AllowedSources are the provider's egress ranges. Ignored in sandbox
	// mode where notifications originate from developer machines.
	AllowedSources []netip.Prefix
}

// DefaultPaylineSources is the provider's published notification egress.
var DefaultPaylineSources = []netip.Prefix{
	netip.MustParsePrefix("197.97.145.144/28"),
	netip.MustParsePrefix("41.74.179.192/27"),
	netip.MustParsePrefix("102.216.36.0/28"),
}

// FormPostVerifier authenticates payline form-post notifications by
// recomputing the MD5 signature over the raw (still url-encoded) fields.
type FormPostVerifier struct {
	cfg FormPostConfig
}

func NewFormPostVerifier(cfg FormPostConfig) *FormPostVerifier {
	if len(cfg.AllowedSources) == 0 {
		cfg.AllowedSources = DefaultPaylineSources
	}
	return &FormPostVerifier{cfg: cfg}
}

// Verify checks the signature and source address of a raw form-post body and
// returns the normalized event. It never returns an error for authenticity
// failures; those come back as ok=false with a reason so the boundary can
// acknowledge receipt and discard.
func (v *FormPostVerifier) Verify(rawBody string, remoteAddr string) (Event, bool, string) {
	fields := parseRawForm(rawBody)

	claimed, hasSig := fields["signature"]
	if !hasSig || claimed == "" {
		return Event{}, false, "missing signature field"
	}

	if !v.cfg.Sandbox {
		if reason := v.checkSource(remoteAddr); reason != "" {
			return Event{}, false, reason
		}
	}

	expected := signFormFields(fields, v.cfg.Passphrase)
	if !equalFold(expected, claimed) {
		return Event{}, false, "signature mismatch"
	}

	ev, err := v.toEvent(fields)
	if err != nil {
		return Event{}, false, err.Error()
	}
	return ev, true, ""
}

func (v *FormPostVerifier) checkSource(remoteAddr string) string {
	host := remoteAddr
	if h, _, ok := strings.Cut(remoteAddr, ":"); ok {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Sprintf("unparseable source address %q", remoteAddr)
	}
	for _, p := range v.cfg.AllowedSources {
		if p.Contains(addr) {
			return ""
		}
	}
	return fmt.Sprintf("source address %s outside provider ranges", addr)
}

func (v *FormPostVerifier) toEvent(fields map[string]string) (Event, error) {
	status, err := normalizeStatus(Payline, fields["payment_status"])
	if err != nil {
		return Event{}, err
	}

	gross, err := parseCents(fields["amount_gross"])
	if err != nil {
		return Event{}, fmt.Errorf("provider: payline gross amount: %w", err)
	}
	fee, _ := parseCents(fields["amount_fee"])
	net, _ := parseCents(fields["amount_net"])

	ev := Event{
		Provider:      Payline,
		EventID:       fields["pf_payment_id"],
		PaymentRef:    fields["pf_payment_id"],
		ApplicationID: fields["m_payment_id"],
		GrossCents:    gross,
		FeeCents:      fee,
		NetCents:      net,
		Status:        status,
		Raw:           fields,
	}
	if err := ev.validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// parseRawForm splits a form body into trimmed key/value pairs without
// url-decoding the values. The signature is computed over the encoded
// representation.
func parseRawForm(raw string) map[string]string {
	fields := make(map[string]string)
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		fields[key] = strings.TrimSpace(value)
	}
	return fields
}

// signFormFields recomputes the provider signature: non-signature fields in
// sorted key order, concatenated as key=value pairs, passphrase appended.
func signFormFields(fields map[string]string, passphrase string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(fields[k])
	}
	if passphrase != "" {
		b.WriteString("&passphrase=")
		b.WriteString(passphrase)
	}

	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// equalFold compares two hex signatures case-insensitively in constant time.
func equalFold(a, b string) bool {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	if len(la) != len(lb) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(la), []byte(lb)) == 1
}

// parseCents accepts either integer cents or a decimal currency string.
func parseCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if whole, frac, ok := strings.Cut(s, "."); ok {
		w, err := strconv.ParseInt(whole, 10, 64)
		if err != nil {
			return 0, err
		}
		for len(frac) < 2 {
			frac += "0"
		}
		f, err := strconv.ParseInt(frac[:2], 10, 64)
		if err != nil {
			return 0, err
		}
		if w < 0 {
			return w*100 - f, nil
		}
		return w*100 + f, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return n * 100, nil
}
