package handlers

import (
	"log/slog"
	"net/http"

	"raffle-system/internal/services"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

// FileServer streams a stored upload.
type FileServer interface {
	Serve(res http.ResponseWriter, req *http.Request, bucket, key string) error
}

type CatalogHandler struct {
	catalog *services.CatalogService
	files   FileServer
}

func NewCatalogHandler(catalog *services.CatalogService, files FileServer) *CatalogHandler {
	return &CatalogHandler{
		catalog: catalog,
		files:   files,
	}
}

// ListRaffles - on-sale raffles with their sold counts
func (h *CatalogHandler) ListRaffles(e *core.RequestEvent) error {
	raffles, err := h.catalog.ListOnSale(e.Request.Context())
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, map[string]any{
		"raffles": raffles,
		"total":   len(raffles),
	})
}

func (h *CatalogHandler) Slides(e *core.RequestEvent) error {
	slides, err := h.catalog.Slides(e.Request.Context(), e.Request.PathValue("section"))
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, map[string]any{"slides": slides})
}

// LookupTickets - "my tickets" by phone number or email
func (h *CatalogHandler) LookupTickets(e *core.RequestEvent) error {
	tickets, err := h.catalog.LookupTickets(e.Request.Context(), e.Request.URL.Query().Get("q"))
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, map[string]any{
		"tickets": tickets,
		"total":   len(tickets),
	})
}

func (h *CatalogHandler) ServeFile(e *core.RequestEvent) error {
	bucket, key := e.Request.PathValue("bucket"), e.Request.PathValue("path")
	if err := h.files.Serve(e.Response, e.Request, bucket, key); err != nil {
		slog.Warn("file not served", "bucket", bucket, "key", key, "error", err)
		return apis.NewNotFoundError("File not found", nil)
	}
	return nil
}
