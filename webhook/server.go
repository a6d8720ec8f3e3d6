package webhook

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"gigflow/application"
	"gigflow/auth"
	"gigflow/config"
	"gigflow/escrow"
	"gigflow/metrics"
	"gigflow/provider"
)

// EscrowService reconciles verified provider events.
type EscrowService interface {
	HandleEvent(ctx context.Context, ev provider.Event, settings config.Settings) (escrow.Outcome, error)
	VerifyCheckout(ctx context.Context, v escrow.CheckoutVerification, settings config.Settings) (escrow.Outcome, error)
}

// LifecycleService is the application state machine's mutation surface.
type LifecycleService interface {
	ProposeRate(ctx context.Context, params application.ProposeRateParams, settings config.Settings) error
	ConfirmRate(ctx context.Context, applicationID, actorID string) error
	Accept(ctx context.Context, applicationID, employerID string) error
	Reject(ctx context.Context, applicationID, employerID string) error
	Withdraw(ctx context.Context, applicationID, workerID string) error
	RequestCompletion(ctx context.Context, applicationID, requestedBy string, settings config.Settings) error
	DisputeCompletion(ctx context.Context, applicationID, employerID, reason string) error
	ApproveCompletion(ctx context.Context, applicationID, employerID string) error
}

// MediationService resolves disputed completions.
type MediationService interface {
	ResolveInFavorOfWorker(ctx context.Context, applicationID, adminID string, notes *string) error
	ResolveInFavorOfEmployer(ctx context.Context, applicationID, adminID string, notes *string) error
}

// SweepService runs on-demand expiry checks.
type SweepService interface {
	SweepGig(ctx context.Context, gigID string, settings config.Settings) (string, error)
}

// TokenVerifier validates bearer tokens for the lifecycle endpoints.
type TokenVerifier interface {
	VerifyToken(token string) (string, auth.Role, error)
}

// SettingsLoader sources platform settings once per request.
type SettingsLoader interface {
	Load(ctx context.Context) config.Settings
}

// Server is the HTTP boundary: provider callbacks plus the authenticated
// lifecycle API.
type Server struct {
	payline   *provider.FormPostVerifier
	paygate   *provider.HeaderJSONVerifier
	swiftpay  *provider.CheckoutVerifier
	escrow    EscrowService
	apps      LifecycleService
	mediation MediationService
	sweeper   SweepService
	tokens    TokenVerifier
	settings  SettingsLoader
	log       zerolog.Logger
}

// Config bundles the server's collaborators.
type Config struct {
	Payline   *provider.FormPostVerifier
	Paygate   *provider.HeaderJSONVerifier
	Swiftpay  *provider.CheckoutVerifier
	Escrow    EscrowService
	Apps      LifecycleService
	Mediation MediationService
	Sweeper   SweepService
	Tokens    TokenVerifier
	Settings  SettingsLoader
	Log       zerolog.Logger
}

func NewServer(cfg Config) *Server {
	return &Server{
		payline:   cfg.Payline,
		paygate:   cfg.Paygate,
		swiftpay:  cfg.Swiftpay,
		escrow:    cfg.Escrow,
		apps:      cfg.Apps,
		mediation: cfg.Mediation,
		sweeper:   cfg.Sweeper,
		tokens:    cfg.Tokens,
		settings:  cfg.Settings,
		log:       cfg.Log,
	}
}

// Router builds the route table. Provider callbacks are unauthenticated by
// design; everything under /applications and /gigs requires a bearer token.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/webhooks/payline", s.handlePayline).Methods(http.MethodPost)
	r.HandleFunc("/webhooks/paygate", s.handlePaygate).Methods(http.MethodPost)
	r.HandleFunc("/payments/swiftpay/verify", s.handleSwiftpayVerify).Methods(http.MethodPost)

	apps := r.PathPrefix("/applications").Subrouter()
	apps.Use(s.requireAuth)
	apps.HandleFunc("/{id}/rate", s.handleProposeRate).Methods(http.MethodPost)
	apps.HandleFunc("/{id}/rate/confirm", s.handleConfirmRate).Methods(http.MethodPost)
	apps.HandleFunc("/{id}/accept", s.handleAccept).Methods(http.MethodPost)
	apps.HandleFunc("/{id}/reject", s.handleReject).Methods(http.MethodPost)
	apps.HandleFunc("/{id}/withdraw", s.handleWithdraw).Methods(http.MethodPost)
	apps.HandleFunc("/{id}/completion/request", s.handleRequestCompletion).Methods(http.MethodPost)
	apps.HandleFunc("/{id}/completion/dispute", s.handleDisputeCompletion).Methods(http.MethodPost)
	apps.HandleFunc("/{id}/completion/approve", s.handleApproveCompletion).Methods(http.MethodPost)
	apps.HandleFunc("/{id}/resolve", s.handleResolve).Methods(http.MethodPost)

	gigs := r.PathPrefix("/gigs").Subrouter()
	gigs.Use(s.requireAuth)
	gigs.HandleFunc("/{id}/sweep", s.handleSweepGig).Methods(http.MethodPost)

	return r
}

// Handler wraps the router with request logging and HTTP metrics.
func (s *Server) Handler() http.Handler {
	return metrics.InstrumentHandler(s.logRequests(s.Router()))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
