package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"raffle-system/internal/services/store"
	"raffle-system/internal/status"
	"raffle-system/models"
)

type RaffleSummary struct {
	models.Raffle
	Sold      int  `json:"sold"`
	Available int  `json:"available"`
	IsVideo   bool `json:"is_video"`
}

type OwnedTicket struct {
	models.Ticket
	Label       string `json:"label"`
	RaffleTitle string `json:"raffle_title"`
}

var ErrLookupQuery = errors.New("lookup: enter a phone number or email")

// CatalogService serves the public read-only pages.
type CatalogService struct {
	store store.TicketStore
}

func NewCatalogService(st store.TicketStore) *CatalogService {
	return &CatalogService{store: st}
}

// ListOnSale returns on-sale raffles with their sold counts. A raffle whose
// count can not be read is listed as having none sold.
func (c *CatalogService) ListOnSale(ctx context.Context) ([]RaffleSummary, error) {
	raffles, err := c.store.ListRaffles(ctx, models.RaffleOnSale)
	if err != nil {
		return nil, fmt.Errorf("list raffles: %w", err)
	}

	out := make([]RaffleSummary, 0, len(raffles))
	for _, r := range raffles {
		sold, err := c.store.CountOccupied(ctx, r.ID)
		if err != nil {
			slog.Warn("sold count unavailable", "raffleID", r.ID, "error", err)
			sold = 0
		}
		out = append(out, RaffleSummary{
			Raffle:    r,
			Sold:      sold,
			Available: max(r.TotalTickets-sold, 0),
			IsVideo:   r.IsVideo(),
		})
	}
	return out, nil
}

func (c *CatalogService) Raffle(ctx context.Context, id string) (*models.Raffle, error) {
	return c.store.FetchRaffle(ctx, id)
}

func (c *CatalogService) Slides(ctx context.Context, section string) ([]models.ContentSlide, error) {
	s := models.ContentSection(section)
	if s != models.SectionCarousel && s != models.SectionWinner {
		return nil, status.ErrNotFound
	}
	return c.store.FetchSlides(ctx, s)
}

// LookupTickets finds a buyer's tickets by phone number or email.
func (c *CatalogService) LookupTickets(ctx context.Context, query string) ([]OwnedTicket, error) {
	query = strings.TrimSpace(query)
	if len(query) < 4 {
		return nil, ErrLookupQuery
	}
	if strings.Contains(query, "@") {
		query = strings.ToLower(query)
	}

	tickets, err := c.store.FindTicketsByContact(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("find tickets: %w", err)
	}

	raffles := make(map[string]*models.Raffle)
	out := make([]OwnedTicket, 0, len(tickets))
	for _, t := range tickets {
		r, ok := raffles[t.RaffleID]
		if !ok {
			r, err = c.store.FetchRaffle(ctx, t.RaffleID)
			if err != nil {
				slog.Warn("ticket references unknown raffle", "ticketID", t.ID, "raffleID", t.RaffleID, "error", err)
				r = nil
			}
			raffles[t.RaffleID] = r
		}

		owned := OwnedTicket{Ticket: t, Label: models.Label(t.Number, 4)}
		if r != nil {
			owned.Label = models.Label(t.Number, r.NumberWidth())
			owned.RaffleTitle = r.Title
		}
		out = append(out, owned)
	}
	return out, nil
}
