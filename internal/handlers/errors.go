package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"raffle-system/internal/services"
	"raffle-system/internal/status"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pocketbase/pocketbase/apis"
)

var (
	notFound = []error{
		status.ErrNotFound,
		status.ErrSessionNotFound,
		status.ErrArtifactMissing,
		status.ErrNoPaidTickets,
	}
	conflict = []error{
		status.ErrTicketTaken,
		status.ErrNumberOccupied,
		status.ErrCheckoutInProgress,
		status.ErrFormNotOpen,
		status.ErrSubmitInProgress,
		status.ErrInvalidTransition,
	}
	badRequest = []error{
		status.ErrNearlySoldOut,
		status.ErrInvalidNumber,
		status.ErrBurstCount,
		status.ErrSingleTicket,
		status.ErrNoPreview,
		status.ErrInvalidSlot,
		status.ErrEmptySelection,
		status.ErrRaffleNotOnSale,
		services.ErrLookupQuery,
	}
)

// apiError translates service errors into PocketBase API errors.
func apiError(err error) error {
	if err == nil {
		return nil
	}

	var verrs validation.Errors
	if errors.As(err, &verrs) {
		return apis.NewBadRequestError("Invalid data", verrs)
	}

	switch {
	case matches(err, notFound):
		return apis.NewNotFoundError(err.Error(), nil)
	case matches(err, conflict):
		return apis.NewApiError(http.StatusConflict, err.Error(), nil)
	case matches(err, badRequest):
		return apis.NewBadRequestError(err.Error(), nil)
	}

	slog.Error("request failed", "error", err)
	return apis.NewInternalServerError("Something went wrong, please try again", nil)
}

// upstreamError reports a failure of the backing store as 502 with message.
// Errors the services know about keep their usual status.
func upstreamError(err error, message string) error {
	if err == nil || known(err) {
		return apiError(err)
	}
	slog.Error("store request failed", "error", err)
	return apis.NewApiError(http.StatusBadGateway, message, nil)
}

func known(err error) bool {
	var verrs validation.Errors
	return errors.As(err, &verrs) || matches(err, notFound) || matches(err, conflict) || matches(err, badRequest)
}

func matches(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func queryInt(raw string, fallback int) int {
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	return fallback
}
