package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/meridian-bank/meridian/internal/application"
	"github.com/meridian-bank/meridian/internal/approval"
	"github.com/meridian-bank/meridian/internal/auth"
	"github.com/meridian-bank/meridian/internal/identity"
	"github.com/meridian-bank/meridian/internal/ledger"
	"github.com/meridian-bank/meridian/internal/observability"
	"github.com/meridian-bank/meridian/internal/shared"
	"github.com/meridian-bank/meridian/internal/stepup"
	"github.com/meridian-bank/meridian/internal/transfer"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	Identity       identity.Middleware

	AuthHandler        *auth.Handler
	StepUpHandler      *stepup.Handler
	AccountsHandler    *ledger.Handler
	TransferHandler    *transfer.Handler
	ApplicationHandler *application.Handler
	ApprovalHandler    *approval.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with Meridian defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/auth", params.AuthHandler.MountRoutes)

	customerOnly := params.Identity.Require(identity.RoleCustomer)
	// Step-up serves both surfaces: customers re-verify before committing a
	// transfer, administrators before recording a decision.
	r.Route("/stepup", func(r chi.Router) {
		r.Use(params.Identity.Require(identity.RoleCustomer, identity.RoleAdministrator))
		params.StepUpHandler.MountRoutes(r)
	})
	r.Route("/accounts", func(r chi.Router) {
		r.Use(customerOnly)
		params.AccountsHandler.MountRoutes(r)
	})
	r.Route("/transfers", func(r chi.Router) {
		r.Use(customerOnly)
		params.TransferHandler.MountRoutes(r)
	})
	r.Route("/applications", func(r chi.Router) {
		r.Use(customerOnly)
		params.ApplicationHandler.MountRoutes(r)
	})

	r.Route("/approvals", func(r chi.Router) {
		r.Use(params.Identity.Require(identity.RoleAdministrator))
		params.ApprovalHandler.MountRoutes(r)
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
