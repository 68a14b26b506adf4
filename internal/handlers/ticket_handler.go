package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"tickethub/internal/purchase"
	"tickethub/internal/status"
	"tickethub/models"
)

type TicketHandler struct {
	app        *pocketbase.PocketBase
	service    *purchase.Service
	reconciler *purchase.Reconciler
	store      *purchase.Store
}

func NewTicketHandler(app *pocketbase.PocketBase, service *purchase.Service, reconciler *purchase.Reconciler, store *purchase.Store) *TicketHandler {
	return &TicketHandler{
		app:        app,
		service:    service,
		reconciler: reconciler,
		store:      store,
	}
}

// Purchase - validate the cart, reserve inventory and start the payment
func (h *TicketHandler) Purchase(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req models.PurchaseRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request body", err)
	}

	buyer := purchase.Buyer{
		ID:    e.Auth.Id,
		Name:  e.Auth.GetString("name"),
		Email: e.Auth.Email(),
	}

	result, err := h.service.Purchase(e.Request.Context(), buyer, &req)
	if err != nil {
		return purchaseError(err)
	}

	if result.PaymentURL != "" {
		return e.JSON(http.StatusOK, map[string]any{"paymentUrl": result.PaymentURL})
	}
	return e.JSON(http.StatusOK, map[string]any{"freeTickets": result.FreeTickets})
}

// PaymentCallback - gateway-initiated, carries only the charge id
func (h *TicketHandler) PaymentCallback(e *core.RequestEvent) error {
	chargeID := e.Request.URL.Query().Get("tap_id")
	if chargeID == "" {
		return e.JSON(http.StatusBadRequest, map[string]any{
			"status":  "failed",
			"message": "missing tap_id",
		})
	}

	tickets, err := h.reconciler.Reconcile(e.Request.Context(), chargeID)
	if err != nil {
		switch {
		case errors.Is(err, status.ErrChargeNotCaptured):
			return e.JSON(http.StatusBadRequest, map[string]any{
				"status":  "failed",
				"message": "payment not completed",
			})
		case errors.Is(err, status.ErrMissingMetadata):
			return e.JSON(http.StatusBadRequest, map[string]any{
				"status":  "failed",
				"message": "charge metadata missing or malformed",
			})
		default:
			slog.Error("callback: reconciliation failed", "charge_id", chargeID, "error", err)
			return apis.NewApiError(http.StatusInternalServerError, "Unable to verify payment", nil)
		}
	}

	return e.JSON(http.StatusOK, map[string]any{
		"status":  "success",
		"tickets": tickets,
	})
}

// UseTicket - one-way redemption by ticket id
func (h *TicketHandler) UseTicket(e *core.RequestEvent) error {
	ticketID := e.Request.PathValue("id")

	ticket, err := h.store.MarkTicketUsed(e.Request.Context(), ticketID)
	if err != nil {
		switch {
		case errors.Is(err, status.ErrTicketNotFound):
			return apis.NewNotFoundError("Ticket not found", nil)
		case errors.Is(err, status.ErrTicketUsed):
			return apis.NewBadRequestError("Ticket already used", nil)
		default:
			return apis.NewApiError(http.StatusInternalServerError, "Unable to redeem ticket", nil)
		}
	}

	return e.JSON(http.StatusOK, map[string]any{
		"id":      ticket.ID,
		"used":    ticket.Used,
		"used_at": ticket.UsedAt,
	})
}

// ValidateTicket - scanner lookup by QR payload, marks ticket and purchase used
func (h *TicketHandler) ValidateTicket(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req struct {
		QRCodeData string `json:"qrCodeData"`
		EventID    string `json:"eventId"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request body", err)
	}
	if req.QRCodeData == "" || req.EventID == "" {
		return apis.NewBadRequestError("qrCodeData and eventId are required", nil)
	}

	ctx := e.Request.Context()

	ticket, err := h.store.FindTicketByQR(ctx, req.QRCodeData, req.EventID)
	if err != nil {
		if errors.Is(err, status.ErrTicketNotFound) {
			return apis.NewNotFoundError("No matching ticket", nil)
		}
		return apis.NewApiError(http.StatusInternalServerError, "Unable to validate ticket", nil)
	}
	if ticket.Used {
		return apis.NewBadRequestError("Ticket already used", nil)
	}

	ticket, err = h.store.MarkTicketUsed(ctx, ticket.ID)
	if err != nil {
		if errors.Is(err, status.ErrTicketUsed) {
			return apis.NewBadRequestError("Ticket already used", nil)
		}
		return apis.NewApiError(http.StatusInternalServerError, "Unable to validate ticket", nil)
	}

	if err := h.store.MarkPurchaseUsed(ctx, ticket.PurchaseID); err != nil {
		slog.Warn("validate: flagging purchase failed", "purchase_id", ticket.PurchaseID, "error", err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"status": "valid",
		"ticket": ticket,
	})
}

// PurchaseHistory - the authenticated buyer's purchases
func (h *TicketHandler) PurchaseHistory(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	purchases, err := h.store.ListPurchasesByBuyer(e.Request.Context(), e.Auth.Id)
	if err != nil {
		return apis.NewApiError(http.StatusInternalServerError, "Unable to load purchases", nil)
	}

	return e.JSON(http.StatusOK, map[string]any{"purchases": purchases})
}

// purchaseError maps workflow failures to HTTP errors without leaking
// gateway internals to the buyer.
func purchaseError(err error) error {
	switch {
	case errors.Is(err, status.ErrInvalidRequest):
		return apis.NewBadRequestError(err.Error(), nil)
	case errors.Is(err, status.ErrSalesClosed):
		return apis.NewBadRequestError("Ticket sales are closed for this event", nil)
	case errors.Is(err, status.ErrInsufficientInventory):
		return apis.NewBadRequestError("Not enough tickets remaining", nil)
	case errors.Is(err, status.ErrEventNotFound):
		return apis.NewNotFoundError("Event not found", nil)
	case errors.Is(err, status.ErrUnknownTicketType):
		return apis.NewNotFoundError("Ticket class not found", nil)
	case errors.Is(err, status.ErrRateUnavailable):
		return apis.NewApiError(http.StatusInternalServerError, "Currency conversion unavailable, please retry", nil)
	default:
		slog.Error("purchase: failed", "error", err)
		return apis.NewApiError(http.StatusInternalServerError, "Unable to complete purchase", nil)
	}
}
