package store

import (
	"context"

	"raffle-system/models"
)

// Driver names a TicketStore backend.
type Driver string

const (
	DriverPocketBase Driver = "pocketbase"
	DriverPostgres   Driver = "postgres"
)

// TicketStore is the backend holding raffles, tickets and their reference data.
// InsertTickets is all-or-nothing and reports a clash on (raffle, number)
// with an error wrapping status.ErrUniqueViolation.
type TicketStore interface {
	// FetchRaffle returns status.ErrNotFound for an unknown id
	FetchRaffle(ctx context.Context, id string) (*models.Raffle, error)

	ListRaffles(ctx context.Context, state models.RaffleStatus) ([]models.Raffle, error)

	// FetchOccupied returns every taken number of a raffle with its status
	FetchOccupied(ctx context.Context, raffleID string) ([]models.OccupiedTicket, error)

	FetchPaymentMethods(ctx context.Context, raffleID string) ([]models.PaymentMethod, error)

	FetchPrices(ctx context.Context, raffleID string) ([]models.RafflePrice, error)

	FetchCurrencies(ctx context.Context) ([]models.CurrencyRate, error)

	FetchSlides(ctx context.Context, section models.ContentSection) ([]models.ContentSlide, error)

	InsertTickets(ctx context.Context, drafts []models.TicketDraft) ([]models.Ticket, error)

	// UpdateTicketsStatus moves tickets forward; a backward move fails with status.ErrInvalidTransition
	UpdateTicketsStatus(ctx context.Context, ids []string, next models.TicketStatus) ([]models.Ticket, error)

	ListTickets(ctx context.Context, raffleID string) ([]models.Ticket, error)

	// FindTicketsByContact matches a phone number or a lower-cased email, newest first
	FindTicketsByContact(ctx context.Context, contact string) ([]models.Ticket, error)

	CountOccupied(ctx context.Context, raffleID string) (int, error)
}

// FileStore keeps uploaded receipts and generated ticket documents.
type FileStore interface {
	// Upload stores data under bucket/key and returns its public URL
	Upload(ctx context.Context, bucket, key string, data []byte) (string, error)
}
