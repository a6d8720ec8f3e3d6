package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"gigflow/application"
	"gigflow/auth"
	"gigflow/dispute"
	"gigflow/gig"
)

type rateRequest struct {
	AmountCents int64   `json:"amount_cents"`
	Note        *string `json:"note,omitempty"`
}

func (s *Server) handleProposeRate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}

	err := s.apps.ProposeRate(r.Context(), application.ProposeRateParams{
		ApplicationID: mux.Vars(r)["id"],
		ActorID:       actorID(r.Context()),
		AmountCents:   req.AmountCents,
		Note:          req.Note,
	}, s.settings.Load(r.Context()))
	s.respond(w, err)
}

func (s *Server) handleConfirmRate(w http.ResponseWriter, r *http.Request) {
	err := s.apps.ConfirmRate(r.Context(), mux.Vars(r)["id"], actorID(r.Context()))
	s.respond(w, err)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	err := s.apps.Accept(r.Context(), mux.Vars(r)["id"], actorID(r.Context()))
	s.respond(w, err)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	err := s.apps.Reject(r.Context(), mux.Vars(r)["id"], actorID(r.Context()))
	s.respond(w, err)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	err := s.apps.Withdraw(r.Context(), mux.Vars(r)["id"], actorID(r.Context()))
	s.respond(w, err)
}

func (s *Server) handleRequestCompletion(w http.ResponseWriter, r *http.Request) {
	err := s.apps.RequestCompletion(r.Context(), mux.Vars(r)["id"], actorID(r.Context()), s.settings.Load(r.Context()))
	s.respond(w, err)
}

type disputeRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleDisputeCompletion(w http.ResponseWriter, r *http.Request) {
	var req disputeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "dispute reason required")
		return
	}
	err := s.apps.DisputeCompletion(r.Context(), mux.Vars(r)["id"], actorID(r.Context()), req.Reason)
	s.respond(w, err)
}

func (s *Server) handleApproveCompletion(w http.ResponseWriter, r *http.Request) {
	err := s.apps.ApproveCompletion(r.Context(), mux.Vars(r)["id"], actorID(r.Context()))
	s.respond(w, err)
}

type resolveRequest struct {
	InFavorOf string  `json:"in_favor_of"`
	Notes     *string `json:"notes,omitempty"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	if actorRole(r.Context()) != auth.RoleAdmin {
		writeError(w, http.StatusForbidden, "admin role required")
		return
	}

	var req resolveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}

	id := mux.Vars(r)["id"]
	admin := actorID(r.Context())

	var err error
	switch req.InFavorOf {
	case "worker":
		err = s.mediation.ResolveInFavorOfWorker(r.Context(), id, admin, req.Notes)
	case "employer":
		err = s.mediation.ResolveInFavorOfEmployer(r.Context(), id, admin, req.Notes)
	default:
		writeError(w, http.StatusBadRequest, "in_favor_of must be worker or employer")
		return
	}
	s.respond(w, err)
}

func (s *Server) handleSweepGig(w http.ResponseWriter, r *http.Request) {
	if actorRole(r.Context()) != auth.RoleAdmin {
		writeError(w, http.StatusForbidden, "admin role required")
		return
	}

	outcome, err := s.sweeper.SweepGig(r.Context(), mux.Vars(r)["id"], s.settings.Load(r.Context()))
	if err != nil {
		if errors.Is(err, gig.ErrNotFound) {
			writeError(w, http.StatusNotFound, "gig not found")
			return
		}
		s.log.Error().Err(err).Msg("sweep gig failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"outcome": outcome})
}

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
}

// respond maps domain errors onto HTTP statuses. Success is a bare 200 with
// a JSON ok body; idempotent no-ops look identical to first-time success.
func (s *Server) respond(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, application.ErrNotFound):
		writeError(w, http.StatusNotFound, "application not found")
	case errors.Is(err, application.ErrForbidden), errors.Is(err, dispute.ErrForbidden):
		writeError(w, http.StatusForbidden, "not allowed")
	case errors.Is(err, application.ErrRateOutOfRange):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, application.ErrInvalidTransition),
		errors.Is(err, application.ErrStateChanged),
		errors.Is(err, application.ErrRateAlreadyAgreed),
		errors.Is(err, application.ErrSelfConfirm),
		errors.Is(err, application.ErrRateNotAgreed),
		errors.Is(err, application.ErrCompletionAlreadyRequested),
		errors.Is(err, application.ErrCompletionNotRequested),
		errors.Is(err, application.ErrCompletionDisputed),
		errors.Is(err, dispute.ErrNoActiveDispute),
		errors.Is(err, dispute.ErrAlreadyResolved):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.log.Error().Err(err).Msg("lifecycle operation failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
