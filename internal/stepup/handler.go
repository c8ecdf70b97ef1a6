package stepup

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-bank/meridian/internal/identity"
	"github.com/meridian-bank/meridian/internal/observability"
	"github.com/meridian-bank/meridian/internal/platform/httpx"
	"github.com/meridian-bank/meridian/internal/shared"
)

// Known gated actions.
const (
	ActionTransferCommit = "transfer.commit"
	ActionApprovalDecide = "approval.decide"
)

// Handler exposes the verification endpoint.
type Handler struct {
	logger        *slog.Logger
	authenticator *Authenticator
	validate      *validator.Validate
	metrics       *observability.Metrics
}

// NewHandler constructs the step-up handler.
func NewHandler(logger *slog.Logger, authenticator *Authenticator, metrics *observability.Metrics) *Handler {
	return &Handler{logger: logger, authenticator: authenticator, validate: validator.New(), metrics: metrics}
}

// MountRoutes registers step-up routes. Verification attempts are rate
// limited per session, which bounds credential guessing in place of a
// persistent lockout counter.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(httprate.Limit(10, time.Minute, httprate.WithKeyFuncs(sessionKey, httprate.KeyByIP)))
		r.Post("/verify", h.Verify)
	})
}

func sessionKey(r *http.Request) (string, error) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		return sess.ID, nil
	}
	return "", nil
}

type verifyRequest struct {
	Credential string `json:"credential"`
	Action     string `json:"action" validate:"required"`
}

type verifyResponse struct {
	Token     string    `json:"token"`
	Action    string    `json:"action"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Verify re-validates the caller's credential and returns a single-use token.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}

	var req verifyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	token, err := h.authenticator.Verify(r.Context(), id.UserID, req.Credential, req.Action)
	if err != nil {
		switch {
		case errors.Is(err, ErrEmptyCredential):
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		case errors.Is(err, ErrInvalidCredential):
			h.metrics.StepUpFailure()
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
		default:
			h.logger.Error("step-up verify", slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		}
		return
	}

	httpx.JSON(w, http.StatusOK, verifyResponse{Token: token.ID, Action: token.Action, ExpiresAt: token.ExpiresAt})
}
