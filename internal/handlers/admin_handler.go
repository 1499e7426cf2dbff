package handlers

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"

	"raffle-system/internal/services"
	"raffle-system/models"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

// AdminHandler serves the operator dashboard. Routes are expected behind
// apis.RequireSuperuserAuth.
type AdminHandler struct {
	admin   *services.AdminService
	catalog *services.CatalogService
}

func NewAdminHandler(admin *services.AdminService, catalog *services.CatalogService) *AdminHandler {
	return &AdminHandler{
		admin:   admin,
		catalog: catalog,
	}
}

type verifyRequest struct {
	TicketIDs []string `json:"ticket_ids"`
}

// VerifyOrder - mark an order paid and hand back the WhatsApp confirmation link
func (h *AdminHandler) VerifyOrder(e *core.RequestEvent) error {
	var req verifyRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if len(req.TicketIDs) == 0 {
		return apis.NewBadRequestError("ticket_ids required", nil)
	}

	result, err := h.admin.VerifyOrder(e.Request.Context(), req.TicketIDs)
	if err != nil {
		return apiError(err)
	}

	slog.Info("order verified", "tickets", len(result.Tickets))
	return e.JSON(http.StatusOK, result)
}

// Orders - ?status=reserved|paid, grouped by client
func (h *AdminHandler) Orders(e *core.RequestEvent) error {
	filter := models.TicketStatus(e.Request.URL.Query().Get("status"))
	if filter != "" && !filter.Valid() {
		return apis.NewBadRequestError("Invalid status filter", nil)
	}

	orders, err := h.admin.Orders(e.Request.Context(), e.Request.PathValue("raffleId"), filter)
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, map[string]any{
		"orders": orders,
		"total":  len(orders),
	})
}

func (h *AdminHandler) ExportCSV(e *core.RequestEvent) error {
	ctx := e.Request.Context()

	raffle, err := h.catalog.Raffle(ctx, e.Request.PathValue("raffleId"))
	if err != nil {
		return apiError(err)
	}

	var buf bytes.Buffer
	if err := h.admin.ExportCSV(ctx, raffle.ID, &buf); err != nil {
		return apiError(err)
	}

	e.Response.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, services.CSVFilename(*raffle)))
	return e.Blob(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func (h *AdminHandler) DrawWinner(e *core.RequestEvent) error {
	winner, err := h.admin.DrawWinner(e.Request.Context(), e.Request.PathValue("raffleId"))
	if err != nil {
		return apiError(err)
	}

	slog.Info("winner drawn", "raffleID", winner.RaffleID, "ticket", winner.Number)
	return e.JSON(http.StatusOK, map[string]any{"winner": winner})
}
