package status

import "errors"

var (
	ErrNotFound          = errors.New("store: record not found")
	ErrUniqueViolation   = errors.New("store: unique constraint violated")
	ErrInvalidTransition = errors.New("ticket: status cannot move backward")

	ErrTicketTaken    = errors.New("ticket: number already taken, please retry")
	ErrNearlySoldOut  = errors.New("draw: numbers nearly sold out")
	ErrInvalidNumber  = errors.New("ticket: number out of range")
	ErrNumberOccupied = errors.New("ticket: number is not available")
	ErrBurstCount     = errors.New("draw: burst count must be between 1 and 10")
	ErrSingleTicket   = errors.New("draw: raffle allows a single ticket per purchase")
	ErrNoPreview      = errors.New("draw: no pending draw")
	ErrInvalidSlot    = errors.New("draw: slot out of range")

	ErrEmptySelection     = errors.New("checkout: no numbers selected")
	ErrCheckoutInProgress = errors.New("checkout: form is open")
	ErrFormNotOpen        = errors.New("checkout: form is not open")
	ErrSubmitInProgress   = errors.New("checkout: submission already in progress")
	ErrRaffleNotOnSale    = errors.New("checkout: raffle is not on sale")

	ErrSessionNotFound = errors.New("session: session not found")
	ErrArtifactMissing = errors.New("session: ticket document not available")

	ErrNoPaidTickets = errors.New("winner: raffle has no paid tickets")
)
