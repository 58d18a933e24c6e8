package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ms-pickup/internal/auth"
	"ms-pickup/internal/feed"
	"ms-pickup/internal/interact"
	"ms-pickup/internal/lifecycle"
	"ms-pickup/internal/logger"
	"ms-pickup/internal/models"
	"ms-pickup/internal/qr"
	"ms-pickup/internal/sse"
	"ms-pickup/internal/store"
	"ms-pickup/internal/utils"
)

type Handler struct {
	Engine   *lifecycle.Engine
	Interact *interact.Controller
	Store    *store.DB
	Boards   *feed.Manager
	Emitter  *sse.BoardEmitter
	Logger   *logger.Logger
}

// Routes mounts every ticket-board endpoint. Identity is established by the
// auth middleware; capability checks live in the engine and in the
// admin-only handlers.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/tickets", func(r chi.Router) {
		r.Post("/", h.CreateTicket)
		r.Get("/", h.ListActive)
		r.Get("/history", h.ListHistory)
		r.Post("/{ticketID}/acknowledge", h.AcknowledgeTicket)
		r.Delete("/{ticketID}", h.DeleteTicket)
		r.Post("/{ticketID}/restore", h.RestoreTicket)
		r.Get("/{ticketID}/qr", h.TicketQR)
	})
	r.Route("/board", func(r chi.Router) {
		r.Post("/tap", h.Tap)
		r.Get("/stream", h.Stream)
	})
	r.Route("/settings/{restaurantID}", func(r chi.Router) {
		r.Get("/", h.GetSettings)
		r.Put("/", h.PutSettings)
	})
	r.Route("/users", func(r chi.Router) {
		r.Get("/", h.ListUsers)
		r.Patch("/{userID}", h.UpdateUser)
	})
}

func (h *Handler) CreateTicket(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no session")
		return
	}

	var body struct {
		Code         string `json:"code"`
		RestaurantID string `json:"restaurant_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	ticket, err := h.Engine.Create(r.Context(), body.Code, body.RestaurantID, actor)
	if err != nil {
		h.writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, utils.SuccessResponse("ticket created", ticket))
}

func (h *Handler) AcknowledgeTicket(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no session")
		return
	}
	ticket, err := h.Engine.Acknowledge(r.Context(), chi.URLParam(r, "ticketID"), actor)
	if err != nil {
		h.writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("ticket acknowledged", ticket))
}

func (h *Handler) DeleteTicket(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no session")
		return
	}
	ticket, err := h.Engine.SoftDelete(r.Context(), chi.URLParam(r, "ticketID"), actor)
	if err != nil {
		h.writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("ticket removed", ticket))
}

func (h *Handler) RestoreTicket(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no session")
		return
	}
	ticket, err := h.Engine.Restore(r.Context(), chi.URLParam(r, "ticketID"), actor)
	if err != nil {
		h.writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("ticket restored", ticket))
}

// Tap is the board click endpoint: the interaction controller decides
// whether the click acknowledges, arms, or deletes.
func (h *Handler) Tap(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no session")
		return
	}

	var body struct {
		TicketID string `json:"ticket_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.TicketID == "" {
		writeError(w, http.StatusBadRequest, "ticket_id is required")
		return
	}

	ticket, err := h.Store.GetTicketByID(r.Context(), body.TicketID)
	if err != nil {
		h.writeLifecycleError(w, err)
		return
	}

	result, err := h.Interact.Tap(r.Context(), *ticket, actor)
	if err != nil {
		h.writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("tap handled", result))
}

// ListActive serves the windowed active view: full scoped query, visibility
// predicate, board ordering. Recomputed per request since visibility is
// time-dependent.
func (h *Handler) ListActive(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no session")
		return
	}
	scope, err := h.resolveScope(r, actor)
	if err != nil {
		h.writeLifecycleError(w, err)
		return
	}

	tickets, err := h.Store.ListTickets(r.Context(), scope)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "ticket list unavailable: "+err.Error())
		return
	}
	now := h.Engine.Now()
	visible := lifecycle.FilterVisible(tickets, now, h.Engine.Window)
	lifecycle.SortActive(visible)
	writeJSON(w, http.StatusOK, utils.SuccessResponse("active tickets", visible))
}

// ListHistory serves soft-deleted tickets unconditionally.
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no session")
		return
	}
	scope, err := h.resolveScope(r, actor)
	if err != nil {
		h.writeLifecycleError(w, err)
		return
	}

	tickets, err := h.Store.ListHistory(r.Context(), scope)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "history unavailable: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("deleted tickets", tickets))
}

func (h *Handler) TicketQR(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no session")
		return
	}
	ticket, err := h.Store.GetTicketByID(r.Context(), chi.URLParam(r, "ticketID"))
	if err != nil {
		h.writeLifecycleError(w, err)
		return
	}
	if !actor.InScope(ticket.RestaurantID) {
		writeError(w, http.StatusForbidden, lifecycle.ErrForbidden.Error())
		return
	}

	png, err := qr.CodePNG(ticket.Code, 256)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no session")
		return
	}
	restaurantID := chi.URLParam(r, "restaurantID")
	if !actor.InScope(restaurantID) {
		writeError(w, http.StatusForbidden, lifecycle.ErrForbidden.Error())
		return
	}

	settings, err := h.Store.GetSettings(r.Context(), restaurantID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if settings == nil {
		settings = &models.RestaurantSettings{
			RestaurantID: restaurantID,
			PendingLimit: models.DefaultPendingLimit,
		}
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("settings", settings))
}

func (h *Handler) PutSettings(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no session")
		return
	}
	restaurantID := chi.URLParam(r, "restaurantID")
	if !actor.InScope(restaurantID) {
		writeError(w, http.StatusForbidden, lifecycle.ErrForbidden.Error())
		return
	}

	var body struct {
		PendingLimitEnabled bool `json:"pending_limit_enabled"`
		PendingLimit        int  `json:"pending_limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.PendingLimit <= 0 {
		body.PendingLimit = models.DefaultPendingLimit
	}

	settings := models.RestaurantSettings{
		RestaurantID:        restaurantID,
		PendingLimitEnabled: body.PendingLimitEnabled,
		PendingLimit:        body.PendingLimit,
	}
	if err := h.Store.UpsertSettings(r.Context(), settings); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("settings saved", settings))
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no session")
		return
	}
	if !lifecycle.ResolveCapabilities(actor).ManageUsers {
		writeError(w, http.StatusForbidden, lifecycle.ErrForbidden.Error())
		return
	}

	users, err := h.Store.ListUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("users", users))
}

// UpdateUser is the admin passthrough for role, approval status and
// restaurant assignment.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no session")
		return
	}
	if !lifecycle.ResolveCapabilities(actor).ManageUsers {
		writeError(w, http.StatusForbidden, lifecycle.ErrForbidden.Error())
		return
	}

	user, err := h.Store.GetUserByID(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeLifecycleError(w, err)
		return
	}

	var body struct {
		Role         *string `json:"role"`
		Status       *string `json:"status"`
		RestaurantID *string `json:"restaurant_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.Role != nil {
		user.Role = *body.Role
	}
	if body.Status != nil {
		user.Status = *body.Status
	}
	if body.RestaurantID != nil {
		user.RestaurantID = *body.RestaurantID
	}

	if err := h.Store.UpdateUser(r.Context(), *user); err != nil {
		h.writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("user updated", user))
}

// resolveScope picks the restaurant filter for list views: admins may ask
// for any restaurant or all of them, everyone else is pinned to their own.
func (h *Handler) resolveScope(r *http.Request, actor lifecycle.Actor) (string, error) {
	requested := r.URL.Query().Get("restaurant_id")
	if lifecycle.ResolveCapabilities(actor).AllRestaurants {
		return requested, nil
	}
	if actor.RestaurantID == "" {
		return "", lifecycle.ErrUnassigned
	}
	if requested != "" && requested != actor.RestaurantID {
		return "", lifecycle.ErrForbidden
	}
	return actor.RestaurantID, nil
}

func (h *Handler) writeLifecycleError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, lifecycle.ErrInvalidCode),
		errors.Is(err, lifecycle.ErrUnassigned):
		status = http.StatusBadRequest
	case errors.Is(err, lifecycle.ErrDuplicateCode),
		errors.Is(err, lifecycle.ErrAlreadyDeleted),
		errors.Is(err, lifecycle.ErrNotDeleted),
		errors.Is(err, interact.ErrMutationInFlight),
		errors.Is(err, interact.ErrNotActionable):
		status = http.StatusConflict
	case errors.Is(err, lifecycle.ErrRateLimited),
		errors.Is(err, lifecycle.ErrPendingLimitReached):
		status = http.StatusTooManyRequests
	case errors.Is(err, lifecycle.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, lifecycle.ErrForbidden):
		status = http.StatusForbidden
	}
	if h.Logger != nil && status == http.StatusInternalServerError {
		h.Logger.Error("API", err.Error())
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, body utils.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, utils.ErrorResponse(http.StatusText(status), message))
}

// RequestLogger is the access-log middleware.
func RequestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			if log != nil {
				log.LogAPI(r.Method, r.URL.Path, "done", time.Since(start).String())
			}
		})
	}
}
