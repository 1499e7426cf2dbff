package pbstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"raffle-system/internal/services/store"
	"raffle-system/internal/status"
	"raffle-system/models"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
)

// Store implements store.TicketStore on the embedded PocketBase database.
// The unique index on tickets(raffle_id, ticket_number) arbitrates
// concurrent purchases.
type Store struct {
	app core.App
}

var _ store.TicketStore = (*Store)(nil)

func New(app core.App) *Store {
	return &Store{app: app}
}

func (s *Store) FetchRaffle(_ context.Context, id string) (*models.Raffle, error) {
	rec, err := s.app.FindRecordById(CollectionRaffles, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, status.ErrNotFound
		}
		return nil, fmt.Errorf("fetch raffle %s: %w", id, err)
	}

	r, err := raffleFromRecord(rec)
	if err != nil {
		return nil, fmt.Errorf("raffle %s is malformed: %w", id, err)
	}
	return &r, nil
}

func (s *Store) ListRaffles(_ context.Context, state models.RaffleStatus) ([]models.Raffle, error) {
	filter, params := "id != ''", dbx.Params{}
	if state != "" {
		filter = "status = {:status}"
		params["status"] = string(state)
	}

	records, err := s.app.FindRecordsByFilter(CollectionRaffles, filter, "-created", 0, 0, params)
	if err != nil {
		return nil, fmt.Errorf("list raffles: %w", err)
	}

	out := make([]models.Raffle, 0, len(records))
	for _, rec := range records {
		r, err := raffleFromRecord(rec)
		if err != nil {
			slog.Warn("skipping malformed raffle", "raffleID", rec.Id, "error", err)
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

type occupiedRow struct {
	Number int    `db:"ticket_number"`
	Status string `db:"status"`
}

func (s *Store) FetchOccupied(ctx context.Context, raffleID string) ([]models.OccupiedTicket, error) {
	var rows []occupiedRow
	err := s.app.DB().
		Select("ticket_number", "status").
		From(CollectionTickets).
		Where(dbx.HashExp{"raffle_id": raffleID}).
		WithContext(ctx).
		All(&rows)
	if err != nil {
		return nil, fmt.Errorf("fetch occupied tickets: %w", err)
	}

	out := make([]models.OccupiedTicket, 0, len(rows))
	for _, row := range rows {
		st := models.TicketStatus(row.Status)
		if !st.Valid() || row.Number < 0 {
			slog.Warn("skipping malformed ticket row", "raffleID", raffleID, "ticket", row.Number, "status", row.Status)
			continue
		}
		out = append(out, models.OccupiedTicket{Number: row.Number, Status: st})
	}
	return out, nil
}

func (s *Store) FetchPaymentMethods(_ context.Context, raffleID string) ([]models.PaymentMethod, error) {
	records, err := s.app.FindRecordsByFilter(CollectionMethods,
		"raffle_id = {:raffle} || raffle_id = ''", "bank_name", 0, 0, dbx.Params{"raffle": raffleID})
	if err != nil {
		return nil, fmt.Errorf("fetch payment methods: %w", err)
	}

	out := make([]models.PaymentMethod, 0, len(records))
	for _, rec := range records {
		m := methodFromRecord(rec)
		if err := m.Validate(); err != nil {
			slog.Warn("skipping malformed payment method", "id", rec.Id, "error", err)
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) FetchPrices(_ context.Context, raffleID string) ([]models.RafflePrice, error) {
	records, err := s.app.FindRecordsByFilter(CollectionPrices,
		"raffle_id = {:raffle}", "-is_primary", 0, 0, dbx.Params{"raffle": raffleID})
	if err != nil {
		return nil, fmt.Errorf("fetch raffle prices: %w", err)
	}

	out := make([]models.RafflePrice, 0, len(records))
	for _, rec := range records {
		p := priceFromRecord(rec)
		if err := p.Validate(); err != nil {
			slog.Warn("skipping malformed raffle price", "id", rec.Id, "error", err)
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) FetchCurrencies(_ context.Context) ([]models.CurrencyRate, error) {
	records, err := s.app.FindRecordsByFilter(CollectionCurrencies, "is_active = true", "code", 0, 0)
	if err != nil {
		return nil, fmt.Errorf("fetch currencies: %w", err)
	}

	out := make([]models.CurrencyRate, 0, len(records))
	for _, rec := range records {
		c := currencyFromRecord(rec)
		if err := c.Validate(); err != nil {
			slog.Warn("skipping malformed currency", "id", rec.Id, "error", err)
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) FetchSlides(_ context.Context, section models.ContentSection) ([]models.ContentSlide, error) {
	records, err := s.app.FindRecordsByFilter(CollectionContent,
		"section = {:section}", "-created", 0, 0, dbx.Params{"section": string(section)})
	if err != nil {
		return nil, fmt.Errorf("fetch %s slides: %w", section, err)
	}

	out := make([]models.ContentSlide, 0, len(records))
	for _, rec := range records {
		out = append(out, slideFromRecord(rec))
	}
	return out, nil
}

// InsertTickets saves every draft in one transaction; the first clash on
// (raffle, number) rolls the whole batch back.
func (s *Store) InsertTickets(_ context.Context, drafts []models.TicketDraft) ([]models.Ticket, error) {
	var out []models.Ticket

	err := s.app.RunInTransaction(func(txApp core.App) error {
		collection, err := txApp.FindCollectionByNameOrId(CollectionTickets)
		if err != nil {
			return err
		}

		out = make([]models.Ticket, 0, len(drafts))
		for _, d := range drafts {
			if err := d.Validate(); err != nil {
				return fmt.Errorf("ticket %d: %w", d.Number, err)
			}

			rec := core.NewRecord(collection)
			setDraft(rec, d)
			if err := txApp.Save(rec); err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("ticket %d: %w", d.Number, status.ErrUniqueViolation)
				}
				return err
			}
			out = append(out, ticketFromRecord(rec))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) UpdateTicketsStatus(_ context.Context, ids []string, next models.TicketStatus) ([]models.Ticket, error) {
	var out []models.Ticket

	err := s.app.RunInTransaction(func(txApp core.App) error {
		out = make([]models.Ticket, 0, len(ids))
		for _, id := range ids {
			rec, err := txApp.FindRecordById(CollectionTickets, id)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					continue
				}
				return err
			}

			cur := models.TicketStatus(rec.GetString("status"))
			if cur != next {
				if !cur.CanTransition(next) {
					return fmt.Errorf("ticket %s %s -> %s: %w", id, cur, next, status.ErrInvalidTransition)
				}
				rec.Set("status", string(next))
				if err := txApp.Save(rec); err != nil {
					return err
				}
			}
			out = append(out, ticketFromRecord(rec))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListTickets(_ context.Context, raffleID string) ([]models.Ticket, error) {
	records, err := s.app.FindRecordsByFilter(CollectionTickets,
		"raffle_id = {:raffle}", "-created", 0, 0, dbx.Params{"raffle": raffleID})
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	return ticketsFromRecords(records), nil
}

func (s *Store) FindTicketsByContact(_ context.Context, contact string) ([]models.Ticket, error) {
	records, err := s.app.FindRecordsByFilter(CollectionTickets,
		"client_phone = {:contact} || client_email = {:contact}", "-created", 200, 0, dbx.Params{"contact": contact})
	if err != nil {
		return nil, fmt.Errorf("find tickets by contact: %w", err)
	}
	return ticketsFromRecords(records), nil
}

func (s *Store) CountOccupied(_ context.Context, raffleID string) (int, error) {
	n, err := s.app.CountRecords(CollectionTickets, dbx.HashExp{"raffle_id": raffleID})
	if err != nil {
		return 0, fmt.Errorf("count tickets: %w", err)
	}
	return int(n), nil
}

func ticketsFromRecords(records []*core.Record) []models.Ticket {
	out := make([]models.Ticket, 0, len(records))
	for _, rec := range records {
		t := ticketFromRecord(rec)
		if !t.Status.Valid() {
			slog.Warn("skipping malformed ticket", "ticketID", rec.Id, "status", t.Status)
			continue
		}
		out = append(out, t)
	}
	return out
}
