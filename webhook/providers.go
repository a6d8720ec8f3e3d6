package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"gigflow/escrow"
	"gigflow/metrics"
	"gigflow/provider"
)

// maxBodyBytes caps provider callback bodies.
const maxBodyBytes = 1 << 20

// reconcileTimeout bounds the detached processing of an acknowledged event.
const reconcileTimeout = 30 * time.Second

// handlePayline ingests the form-post callback. The provider retries
// aggressively on anything but a fast 200, so the handler acknowledges first
// and verification plus reconciliation continue after the response.
func (s *Server) handlePayline(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		// Still acknowledge: a retry would fail the same way.
		s.log.Warn().Err(err).Msg("payline: read body")
		w.WriteHeader(http.StatusOK)
		return
	}
	remote := remoteHost(r)

	w.WriteHeader(http.StatusOK)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
		defer cancel()
		s.processPayline(ctx, string(body), remote)
	}()
}

func (s *Server) processPayline(ctx context.Context, body, remoteAddr string) {
	ev, ok, reason := s.payline.Verify(body, remoteAddr)
	if !ok {
		metrics.RecordWebhookEvent(provider.Payline, "invalid")
		s.log.Warn().Str("reason", reason).Str("remote", remoteAddr).Msg("payline: event discarded")
		return
	}
	s.reconcile(ctx, ev)
}

// handlePaygate ingests the header-signed JSON webhook under the same
// always-acknowledge contract.
func (s *Server) handlePaygate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.log.Warn().Err(err).Msg("paygate: read body")
		w.WriteHeader(http.StatusOK)
		return
	}
	signature := r.Header.Get(provider.SignatureHeader)

	w.WriteHeader(http.StatusOK)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
		defer cancel()
		s.processPaygate(ctx, body, signature)
	}()
}

func (s *Server) processPaygate(ctx context.Context, body []byte, signature string) {
	ev, ok, reason := s.paygate.Verify(body, signature)
	if !ok {
		metrics.RecordWebhookEvent(provider.Paygate, "invalid")
		s.log.Warn().Str("reason", reason).Msg("paygate: event discarded")
		return
	}
	s.reconcile(ctx, ev)
}

func (s *Server) reconcile(ctx context.Context, ev provider.Event) {
	start := time.Now()
	outcome, err := s.escrow.HandleEvent(ctx, ev, s.settings.Load(ctx))
	metrics.RecordReconciliation(ev.Provider, time.Since(start))
	if err != nil {
		metrics.RecordWebhookEvent(ev.Provider, "error")
		s.log.Error().Err(err).
			Str("provider", ev.Provider).
			Str("event_id", ev.EventID).
			Msg("reconciliation failed")
		return
	}
	metrics.RecordWebhookEvent(ev.Provider, string(outcome))
	s.log.Info().
		Str("provider", ev.Provider).
		Str("event_id", ev.EventID).
		Str("application_id", ev.ApplicationID).
		Str("outcome", string(outcome)).
		Msg("provider event reconciled")
}

type swiftpayVerifyRequest struct {
	OrderRef    string `json:"order_ref"`
	PaymentID   string `json:"payment_id"`
	Signature   string `json:"signature"`
	AmountCents int64  `json:"amount_cents"`
	FeeCents    int64  `json:"fee_cents"`
}

// handleSwiftpayVerify is the synchronous client verify path, used when
// webhook delivery is unreliable. It returns the reconciliation outcome so
// the client can react immediately, and is safe to race the webhook.
func (s *Server) handleSwiftpayVerify(w http.ResponseWriter, r *http.Request) {
	var req swiftpayVerifyRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}

	start := time.Now()
	outcome, err := s.escrow.VerifyCheckout(r.Context(), escrow.CheckoutVerification{
		OrderRef:    req.OrderRef,
		PaymentID:   req.PaymentID,
		Signature:   req.Signature,
		AmountCents: req.AmountCents,
		FeeCents:    req.FeeCents,
	}, s.settings.Load(r.Context()))
	metrics.RecordReconciliation(provider.Swiftpay, time.Since(start))

	if err != nil {
		if errors.Is(err, escrow.ErrInvalidCheckout) {
			metrics.RecordWebhookEvent(provider.Swiftpay, "invalid")
			writeError(w, http.StatusBadRequest, "invalid signature")
			return
		}
		metrics.RecordWebhookEvent(provider.Swiftpay, "error")
		s.log.Error().Err(err).Str("order_ref", req.OrderRef).Msg("swiftpay verify failed")
		writeError(w, http.StatusInternalServerError, "verification failed")
		return
	}

	metrics.RecordWebhookEvent(provider.Swiftpay, string(outcome))
	writeJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
