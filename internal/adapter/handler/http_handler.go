package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/rl1809/vouch-desk/internal/config"
	"github.com/rl1809/vouch-desk/internal/core/domain"
	"github.com/rl1809/vouch-desk/internal/core/service"
	"github.com/rl1809/vouch-desk/internal/port"
)

const healthTimeout = 2 * time.Second

// SignalPublisher accepts signals pushed over HTTP by the gateway.
type SignalPublisher interface {
	Publish(sig domain.Signal) bool
}

type HTTPHandler struct {
	engine    *service.Engine
	inventory port.InventoryStore
	settings  *config.SettingsStore
	bus       SignalPublisher
	auth      *Authenticator
	hub       *Hub
	checks    map[string]port.HealthChecker
	log       zerolog.Logger
}

type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type StockRequest struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// StockPatch renames an item and/or sets its quantity.
type StockPatch struct {
	Name     string `json:"name,omitempty"`
	Quantity *int   `json:"quantity,omitempty"`
}

type ResolveRequest struct {
	State domain.TransactionState `json:"state"`
}

type SignalResponse struct {
	Matched bool `json:"matched"`
}

// SettingsView renders durations as strings, e.g. "24h0m0s".
type SettingsView struct {
	ProofWindow    string `json:"proofWindow"`
	InboundChannel string `json:"inboundChannel"`
	ReviewChannel  string `json:"reviewChannel"`
	SupervisorRole string `json:"supervisorRole"`
	TicketCategory string `json:"ticketCategory"`
}

type SettingsPatch struct {
	ProofWindow    *string `json:"proofWindow,omitempty"`
	InboundChannel *string `json:"inboundChannel,omitempty"`
	ReviewChannel  *string `json:"reviewChannel,omitempty"`
	SupervisorRole *string `json:"supervisorRole,omitempty"`
	TicketCategory *string `json:"ticketCategory,omitempty"`
}

func NewHTTPHandler(
	engine *service.Engine,
	inventory port.InventoryStore,
	settings *config.SettingsStore,
	bus SignalPublisher,
	auth *Authenticator,
	hub *Hub,
	checks map[string]port.HealthChecker,
	log zerolog.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		engine:    engine,
		inventory: inventory,
		settings:  settings,
		bus:       bus,
		auth:      auth,
		hub:       hub,
		checks:    checks,
		log:       log.With().Str("component", "http").Logger(),
	}
}

// Register mounts every route on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HealthCheck)

	mux.HandleFunc("GET /api/stocks", h.auth.RequireAuth(h.ListStocks))
	mux.HandleFunc("POST /api/stocks", h.auth.RequireSupervisor(h.UpsertStock))
	mux.HandleFunc("PATCH /api/stocks/{name}", h.auth.RequireSupervisor(h.ModifyStock))
	mux.HandleFunc("DELETE /api/stocks/{name}", h.auth.RequireSupervisor(h.RemoveStock))

	mux.HandleFunc("POST /api/warranties", h.auth.RequireSupervisor(h.StartWarranty))
	mux.HandleFunc("GET /api/warranties", h.auth.RequireAuth(h.ListWarranties))
	mux.HandleFunc("GET /api/warranties/{ref}", h.auth.RequireAuth(h.GetWarranty))
	mux.HandleFunc("POST /api/warranties/{ref}/retry", h.auth.RequireSupervisor(h.RetryWarranty))
	mux.HandleFunc("POST /api/warranties/{ref}/resolve", h.auth.RequireSupervisor(h.ResolveWarranty))

	mux.HandleFunc("POST /api/tickets", h.auth.RequireAuth(h.OpenTicket))
	mux.HandleFunc("GET /api/tickets/{id}", h.auth.RequireAuth(h.GetTicket))

	mux.HandleFunc("POST /api/signals", h.auth.RequireGateway(h.PublishSignal))

	mux.HandleFunc("GET /api/settings", h.auth.RequireAuth(h.GetSettings))
	mux.HandleFunc("PUT /api/settings", h.auth.RequireSupervisor(h.UpdateSettings))

	mux.HandleFunc("GET /ws/transactions", h.auth.RequireAuth(h.hub.ServeWS))
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	failures := make(map[string]string)
	for name, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			failures[name] = err.Error()
		}
	}

	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "degraded", "failures": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) ListStocks(w http.ResponseWriter, r *http.Request) {
	items, err := h.inventory.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: items})
}

func (h *HTTPHandler) UpsertStock(w http.ResponseWriter, r *http.Request) {
	var req StockRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Message: "name is required"})
		return
	}

	if err := h.inventory.Upsert(r.Context(), req.Name, req.Quantity); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "item saved", Data: domain.Item{Name: req.Name, Quantity: req.Quantity}})
}

// ModifyStock renames an item and/or sets its quantity. The store has no
// combined operation, so a quantity write that fails after a rename undoes
// the rename.
func (h *HTTPHandler) ModifyStock(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req StockPatch
	if !decode(w, r, &req) {
		return
	}
	if req.Quantity != nil && *req.Quantity < 0 {
		h.writeError(w, port.ErrInvalidQuantity)
		return
	}

	renamedFrom := ""
	if req.Name != "" && req.Name != name {
		if err := h.inventory.Rename(r.Context(), name, req.Name); err != nil {
			h.writeError(w, err)
			return
		}
		renamedFrom, name = name, req.Name
	}
	if req.Quantity != nil {
		if err := h.inventory.Upsert(r.Context(), name, *req.Quantity); err != nil {
			if renamedFrom != "" {
				if rerr := h.inventory.Rename(r.Context(), name, renamedFrom); rerr != nil {
					h.log.Error().Err(rerr).Str("item", name).Str("restore", renamedFrom).Msg("failed to undo rename")
				}
			}
			h.writeError(w, err)
			return
		}
	}

	item, err := h.inventory.Get(r.Context(), name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "item updated", Data: item})
}

func (h *HTTPHandler) RemoveStock(w http.ResponseWriter, r *http.Request) {
	if err := h.inventory.Remove(r.Context(), r.PathValue("name")); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "item deleted"})
}

func (h *HTTPHandler) StartWarranty(w http.ResponseWriter, r *http.Request) {
	var req service.WarrantyRequest
	if !decode(w, r, &req) {
		return
	}
	op, _ := OperatorFrom(r.Context())
	req.Initiator = op.ID

	txn, err := h.engine.StartWarranty(r.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrDeliveryRejected) && txn.ReferenceCode != "" {
			writeJSON(w, http.StatusAccepted, Response{Success: false, Message: err.Error(), Data: txn})
			return
		}
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, Response{Success: true, Message: "warranty activation sent", Data: txn})
}

func (h *HTTPHandler) ListWarranties(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: h.engine.Transactions()})
}

func (h *HTTPHandler) GetWarranty(w http.ResponseWriter, r *http.Request) {
	txn, err := h.engine.Transaction(r.PathValue("ref"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: txn})
}

func (h *HTTPHandler) RetryWarranty(w http.ResponseWriter, r *http.Request) {
	txn, err := h.engine.Retry(r.Context(), r.PathValue("ref"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "transaction resumed", Data: txn})
}

func (h *HTTPHandler) ResolveWarranty(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if !decode(w, r, &req) {
		return
	}
	op, _ := OperatorFrom(r.Context())

	txn, err := h.engine.Resolve(r.Context(), r.PathValue("ref"), req.State, op.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "transaction resolved", Data: txn})
}

func (h *HTTPHandler) OpenTicket(w http.ResponseWriter, r *http.Request) {
	var req service.TicketRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Initiator == "" {
		op, _ := OperatorFrom(r.Context())
		req.Initiator = op.ID
	}

	ticket, err := h.engine.OpenTicket(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, Response{Success: true, Message: "ticket created", Data: ticket})
}

func (h *HTTPHandler) GetTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.engine.Ticket(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: ticket})
}

func (h *HTTPHandler) PublishSignal(w http.ResponseWriter, r *http.Request) {
	var sig domain.Signal
	if !decode(w, r, &sig) {
		return
	}
	if sig.Kind != domain.SignalMessage && sig.Kind != domain.SignalReaction {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Message: "unknown signal kind"})
		return
	}
	if sig.Timestamp.IsZero() {
		sig.Timestamp = time.Now()
	}

	writeJSON(w, http.StatusOK, Response{Success: true, Data: SignalResponse{Matched: h.bus.Publish(sig)}})
}

func (h *HTTPHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: settingsView(h.settings.Current())})
}

func (h *HTTPHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsPatch
	if !decode(w, r, &req) {
		return
	}

	var window time.Duration
	if req.ProofWindow != nil {
		d, err := time.ParseDuration(*req.ProofWindow)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, Response{Success: false, Message: "proofWindow: " + err.Error()})
			return
		}
		window = d
	}

	updated, err := h.settings.Update(func(s *config.Settings) {
		if req.ProofWindow != nil {
			s.ProofWindow = window
		}
		if req.InboundChannel != nil {
			s.InboundChannel = *req.InboundChannel
		}
		if req.ReviewChannel != nil {
			s.ReviewChannel = *req.ReviewChannel
		}
		if req.SupervisorRole != nil {
			s.SupervisorRole = *req.SupervisorRole
		}
		if req.TicketCategory != nil {
			s.TicketCategory = *req.TicketCategory
		}
	})
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Message: err.Error()})
		return
	}

	op, _ := OperatorFrom(r.Context())
	h.log.Info().Str("operator", op.ID).Interface("settings", updated).Msg("settings updated")
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "settings updated", Data: settingsView(updated)})
}

func settingsView(s config.Settings) SettingsView {
	return SettingsView{
		ProofWindow:    s.ProofWindow.String(),
		InboundChannel: s.InboundChannel,
		ReviewChannel:  s.ReviewChannel,
		SupervisorRole: s.SupervisorRole,
		TicketCategory: s.TicketCategory,
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case errors.Is(err, service.ErrValidation), errors.Is(err, port.ErrInvalidQuantity):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, port.ErrItemNotFound),
		errors.Is(err, service.ErrTransactionNotFound),
		errors.Is(err, service.ErrTicketNotFound):
		status, message = http.StatusNotFound, err.Error()
	case errors.Is(err, port.ErrInsufficientStock), errors.Is(err, service.ErrOutOfStock):
		status, message = http.StatusGone, "sold out"
	case errors.Is(err, port.ErrNameCollision),
		errors.Is(err, service.ErrNotStalled),
		errors.Is(err, domain.ErrInvalidTransition):
		status, message = http.StatusConflict, err.Error()
	case errors.Is(err, service.ErrDeliveryRejected):
		status, message = http.StatusBadGateway, err.Error()
	default:
		h.log.Error().Err(err).Msg("request failed")
	}

	writeJSON(w, status, Response{Success: false, Message: message})
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Message: "invalid request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
