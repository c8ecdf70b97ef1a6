package approval

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridian-bank/meridian/internal/identity"
	"github.com/meridian-bank/meridian/internal/platform/httpx"
	"github.com/meridian-bank/meridian/internal/shared"
	"github.com/meridian-bank/meridian/internal/stepup"
)

// Handler exposes the administrator approval endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the approval handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers approval routes. The caller mounts them behind the
// administrator-role middleware.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/pending", h.ListPending)
	r.Post("/applications/{id}", h.DecideApplication)
	r.Post("/transfers/{id}", h.DecideTransfer)
	r.Get("/{subject}/{id}", h.ShowDecision)
}

// ListPending returns the combined review queue, oldest first.
func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListPending(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

// DecideApplication records an application decision.
func (h *Handler) DecideApplication(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity.FromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	id, req, ok := h.decodeDecision(w, r)
	if !ok {
		return
	}
	decision, err := h.service.DecideApplication(r.Context(), caller, id, req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, decision)
}

// DecideTransfer records a flagged-transfer decision.
func (h *Handler) DecideTransfer(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity.FromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	id, req, ok := h.decodeDecision(w, r)
	if !ok {
		return
	}
	decision, err := h.service.DecideTransfer(r.Context(), caller, id, req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, decision)
}

// ShowDecision returns the recorded decision for a subject.
func (h *Handler) ShowDecision(w http.ResponseWriter, r *http.Request) {
	subject := Subject(chi.URLParam(r, "subject"))
	if subject != SubjectApplication && subject != SubjectTransfer {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "unknown decision subject")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid record id")
		return
	}
	decision, err := h.service.DecisionFor(r.Context(), subject, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, decision)
}

func (h *Handler) decodeDecision(w http.ResponseWriter, r *http.Request) (uuid.UUID, DecideRequest, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid record id")
		return uuid.Nil, DecideRequest{}, false
	}
	var req DecideRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return uuid.Nil, DecideRequest{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return uuid.Nil, DecideRequest{}, false
	}
	return id, req, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidOutcome):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "record not found")
	case errors.Is(err, ErrAlreadyDecided):
		httpx.Problem(w, http.StatusConflict, "Already Decided", "record already decided, please refresh")
	case errors.Is(err, stepup.ErrStaleToken):
		httpx.Problem(w, http.StatusConflict, "Stale Step-Up Token", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "State Changed", "state changed, please refresh")
	case errors.Is(err, ErrFollowOnFailed):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Approval Not Applied", err.Error())
	default:
		h.logger.Error("approval request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
