package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"raffle-system/internal/services"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type CheckoutHandler struct {
	checkout   *services.CheckoutService
	maxReceipt int64
}

func NewCheckoutHandler(checkout *services.CheckoutService, maxReceipt int64) *CheckoutHandler {
	if maxReceipt <= 0 {
		maxReceipt = 10 << 20
	}
	return &CheckoutHandler{
		checkout:   checkout,
		maxReceipt: maxReceipt,
	}
}

type numberRequest struct {
	Number int `json:"number"`
}

type burstRequest struct {
	Count int `json:"count"`
}

type slotRequest struct {
	Slot int `json:"slot"`
}

func (h *CheckoutHandler) session(e *core.RequestEvent) (*services.CheckoutSession, error) {
	sess, err := h.checkout.Get(e.Request.PathValue("sessionId"))
	if err != nil {
		return nil, apiError(err)
	}
	return sess, nil
}

func respond(e *core.RequestEvent, sess *services.CheckoutSession, extra map[string]any) error {
	body := map[string]any{"session": sess.View()}
	for k, v := range extra {
		body[k] = v
	}
	return e.JSON(http.StatusOK, body)
}

// Open starts a checkout session on a raffle
func (h *CheckoutHandler) Open(e *core.RequestEvent) error {
	raffleID := e.Request.PathValue("raffleId")
	sess, err := h.checkout.Open(e.Request.Context(), raffleID)
	if err != nil {
		return upstreamError(err, "Availability could not be loaded, please retry")
	}
	return e.JSON(http.StatusCreated, sess.View())
}

func (h *CheckoutHandler) View(e *core.RequestEvent) error {
	sess, err := h.session(e)
	if err != nil {
		return err
	}
	return e.JSON(http.StatusOK, sess.View())
}

func (h *CheckoutHandler) Close(e *core.RequestEvent) error {
	if err := h.checkout.Close(e.Request.PathValue("sessionId")); err != nil {
		return apiError(err)
	}
	return e.NoContent(http.StatusNoContent)
}

// Grid returns one page of the number board; ?search= jumps to a number
func (h *CheckoutHandler) Grid(e *core.RequestEvent) error {
	sess, err := h.session(e)
	if err != nil {
		return err
	}

	query := e.Request.URL.Query()
	page, err := sess.Grid(queryInt(query.Get("page"), 0), query.Get("search"))
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, page)
}

func (h *CheckoutHandler) Toggle(e *core.RequestEvent) error {
	sess, err := h.session(e)
	if err != nil {
		return err
	}

	var req numberRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if err := sess.Toggle(req.Number); err != nil {
		return apiError(err)
	}
	return respond(e, sess, nil)
}

func (h *CheckoutHandler) Remove(e *core.RequestEvent) error {
	sess, err := h.session(e)
	if err != nil {
		return err
	}

	var req numberRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if err := sess.Remove(req.Number); err != nil {
		return apiError(err)
	}
	return respond(e, sess, nil)
}

func (h *CheckoutHandler) Clear(e *core.RequestEvent) error {
	sess, err := h.session(e)
	if err != nil {
		return err
	}
	if err := sess.Clear(); err != nil {
		return apiError(err)
	}
	return respond(e, sess, nil)
}

func (h *CheckoutHandler) Spin(e *core.RequestEvent) error {
	sess, err := h.session(e)
	if err != nil {
		return err
	}
	preview, err := sess.Spin()
	if err != nil {
		return apiError(err)
	}
	return respond(e, sess, map[string]any{"spin": preview})
}

func (h *CheckoutHandler) RerollSpin(e *core.RequestEvent) error {
	sess, err := h.session(e)
	if err != nil {
		return err
	}
	preview, err := sess.RerollSpin()
	if err != nil {
		return apiError(err)
	}
	return respond(e, sess, map[string]any{"spin": preview})
}

func (h *CheckoutHandler) AcceptSpin(e *core.RequestEvent) error {
	sess, err := h.session(e)
	if err != nil {
		return err
	}
	number, err := sess.AcceptSpin()
	if err != nil {
		return apiError(err)
	}
	return respond(e, sess, map[string]any{"added": number})
}

func (h *CheckoutHandler) CancelSpin(e *core.RequestEvent) error {
	sess, err := h.session(e)
	if err != nil {
		return err
	}
	sess.CancelSpin()
	return respond(e, sess, nil)
}

func (h *CheckoutHandler) Burst(e *core.RequestEvent) error {
	sess, err := h.session(e)
	if err != nil {
		return err
	}

	var req burstRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	preview, err := sess.Burst(req.Count)
	if err != nil {
		return apiError(err)
	}
	return respond(e, sess, map[string]any{"burst": preview})
}

func (h *CheckoutHandler) RerollBurst(e *core.RequestEvent) error {
	sess, err := h.session(e)
	if err != nil {
		return err
	}

	var req slotRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	preview, err := sess.RerollBurstSlot(req.Slot)
	if err != nil {
		return apiError(err)
	}
	return respond(e, sess, map[string]any{"burst": preview})
}

func (h *CheckoutHandler) AcceptBurst(e *core.RequestEvent) error {
	sess, err := h.session(e)
	if err != nil {
		return err
	}
	added, skipped, err := sess.AcceptBurst()
	if err != nil {
		return apiError(err)
	}
	return respond(e, sess, map[string]any{"added": added, "skipped": skipped})
}

func (h *CheckoutHandler) CancelBurst(e *core.RequestEvent) error {
	sess, err := h.session(e)
	if err != nil {
		return err
	}
	sess.CancelBurst()
	return respond(e, sess, nil)
}

// OpenForm freezes the cart and returns its quote
func (h *CheckoutHandler) OpenForm(e *core.RequestEvent) error {
	sess, err := h.session(e)
	if err != nil {
		return err
	}
	quote, err := sess.OpenCheckout()
	if err != nil {
		return apiError(err)
	}
	return respond(e, sess, map[string]any{"quote": quote})
}

func (h *CheckoutHandler) CancelForm(e *core.RequestEvent) error {
	sess, err := h.session(e)
	if err != nil {
		return err
	}
	if err := sess.CancelCheckout(); err != nil {
		return apiError(err)
	}
	return respond(e, sess, nil)
}

// Submit takes the buyer form as multipart with an optional "receipt" file
func (h *CheckoutHandler) Submit(e *core.RequestEvent) error {
	sess, err := h.session(e)
	if err != nil {
		return err
	}

	e.Request.Body = http.MaxBytesReader(e.Response, e.Request.Body, h.maxReceipt+1<<20)
	receipt, err := readReceipt(e.Request, h.maxReceipt)
	if err != nil {
		return apis.NewBadRequestError(err.Error(), nil)
	}

	buyer := services.Buyer{
		Name:          e.Request.FormValue("name"),
		Phone:         e.Request.FormValue("phone"),
		Email:         e.Request.FormValue("email"),
		IDNumber:      e.Request.FormValue("id_number"),
		PaymentMethod: e.Request.FormValue("payment_method"),
	}

	result, err := sess.Submit(e.Request.Context(), buyer, receipt)
	if err != nil {
		return upstreamError(err, err.Error())
	}
	return e.JSON(http.StatusCreated, result)
}

// Document serves the PDF of a ticket bought in this session
func (h *CheckoutHandler) Document(e *core.RequestEvent) error {
	sess, err := h.session(e)
	if err != nil {
		return err
	}

	number, err := strconv.Atoi(e.Request.PathValue("number"))
	if err != nil {
		return apis.NewBadRequestError("Invalid ticket number", nil)
	}
	data, err := sess.Document(number)
	if err != nil {
		return apiError(err)
	}

	e.Response.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="ticket_%d.pdf"`, number))
	return e.Blob(http.StatusOK, "application/pdf", data)
}

// readReceipt returns nil when the form carries no receipt.
func readReceipt(r *http.Request, maxSize int64) (*services.Receipt, error) {
	file, header, err := r.FormFile("receipt")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, nil
		}
		return nil, fmt.Errorf("invalid form: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read receipt: %w", err)
	}
	if int64(len(data)) > maxSize {
		return nil, fmt.Errorf("receipt exceeds %d bytes", maxSize)
	}
	if len(data) == 0 {
		return nil, nil
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mimetype.Detect(data).String()
	}
	return &services.Receipt{
		Filename:    header.Filename,
		ContentType: contentType,
		Data:        data,
	}, nil
}
