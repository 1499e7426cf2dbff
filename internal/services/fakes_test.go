package services

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"raffle-system/internal/services/realtime"
	"raffle-system/internal/services/store"
	"raffle-system/internal/status"
	"raffle-system/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// memStore is an in-memory TicketStore with a unique (raffle, number)
// constraint. Committed changes are published to the hub after the lock is
// released, the way the database hooks do.
type memStore struct {
	mu         sync.Mutex
	hub        *realtime.Hub
	raffles    map[string]models.Raffle
	tickets    []models.Ticket
	methods    []models.PaymentMethod
	prices     []models.RafflePrice
	currencies []models.CurrencyRate
	seq        int

	insertErr    error
	beforeInsert func()
	occupiedErr  error
	fetches      int
}

func newMemStore(hub *realtime.Hub, raffles ...models.Raffle) *memStore {
	s := &memStore{hub: hub, raffles: make(map[string]models.Raffle)}
	for _, r := range raffles {
		r.Normalize()
		s.raffles[r.ID] = r
	}
	return s
}

func (s *memStore) FetchRaffle(_ context.Context, id string) (*models.Raffle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.raffles[id]
	if !ok {
		return nil, status.ErrNotFound
	}
	return &r, nil
}

func (s *memStore) ListRaffles(_ context.Context, state models.RaffleStatus) ([]models.Raffle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Raffle
	for _, r := range s.raffles {
		if state == "" || r.Status == state {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) FetchOccupied(_ context.Context, raffleID string) ([]models.OccupiedTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if s.occupiedErr != nil {
		return nil, s.occupiedErr
	}
	var out []models.OccupiedTicket
	for _, t := range s.tickets {
		if t.RaffleID == raffleID {
			out = append(out, models.OccupiedTicket{Number: t.Number, Status: t.Status})
		}
	}
	return out, nil
}

func (s *memStore) FetchPaymentMethods(context.Context, string) ([]models.PaymentMethod, error) {
	return s.methods, nil
}

func (s *memStore) FetchPrices(context.Context, string) ([]models.RafflePrice, error) {
	return s.prices, nil
}

func (s *memStore) FetchCurrencies(context.Context) ([]models.CurrencyRate, error) {
	return s.currencies, nil
}

func (s *memStore) FetchSlides(_ context.Context, section models.ContentSection) ([]models.ContentSlide, error) {
	return []models.ContentSlide{{ID: "s1", Section: section, Title: "Banner"}}, nil
}

func (s *memStore) InsertTickets(_ context.Context, drafts []models.TicketDraft) ([]models.Ticket, error) {
	if s.beforeInsert != nil {
		s.beforeInsert()
	}

	s.mu.Lock()
	if s.insertErr != nil {
		s.mu.Unlock()
		return nil, s.insertErr
	}
	for _, d := range drafts {
		for _, t := range s.tickets {
			if t.RaffleID == d.RaffleID && t.Number == d.Number {
				s.mu.Unlock()
				return nil, fmt.Errorf("insert tickets: %w", status.ErrUniqueViolation)
			}
		}
	}
	out := make([]models.Ticket, 0, len(drafts))
	for _, d := range drafts {
		s.seq++
		t := models.Ticket{
			ID:             fmt.Sprintf("t%03d", s.seq),
			RaffleID:       d.RaffleID,
			Number:         d.Number,
			Status:         d.Status,
			ClientName:     d.ClientName,
			ClientPhone:    d.ClientPhone,
			ClientEmail:    d.ClientEmail,
			ClientIDNumber: d.ClientIDNumber,
			PricePaid:      d.PricePaid,
			PaymentMethod:  d.PaymentMethod,
			ReceiptURL:     d.ReceiptURL,
			CreatedAt:      time.Date(2026, 1, 2, 15, 4, 0, 0, time.UTC).Add(time.Duration(s.seq) * time.Minute),
		}
		s.tickets = append(s.tickets, t)
		out = append(out, t)
	}
	s.mu.Unlock()

	for _, t := range out {
		s.publish(models.TicketEvent{Kind: models.TicketInserted, RaffleID: t.RaffleID, Number: t.Number, Status: t.Status, Keyed: true})
	}
	return out, nil
}

func (s *memStore) UpdateTicketsStatus(_ context.Context, ids []string, next models.TicketStatus) ([]models.Ticket, error) {
	s.mu.Lock()
	var out []models.Ticket
	for i := range s.tickets {
		t := &s.tickets[i]
		for _, id := range ids {
			if t.ID != id {
				continue
			}
			if !t.Status.CanTransition(next) {
				s.mu.Unlock()
				return nil, status.ErrInvalidTransition
			}
			t.Status = next
			out = append(out, *t)
		}
	}
	s.mu.Unlock()

	for _, t := range out {
		s.publish(models.TicketEvent{Kind: models.TicketUpdated, RaffleID: t.RaffleID, Number: t.Number, Status: t.Status, Keyed: true})
	}
	return out, nil
}

func (s *memStore) ListTickets(_ context.Context, raffleID string) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Ticket
	for _, t := range s.tickets {
		if t.RaffleID == raffleID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memStore) FindTicketsByContact(_ context.Context, contact string) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Ticket
	for _, t := range s.tickets {
		if t.ClientPhone == contact || strings.ToLower(t.ClientEmail) == contact {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) CountOccupied(ctx context.Context, raffleID string) (int, error) {
	occupied, err := s.FetchOccupied(ctx, raffleID)
	return len(occupied), err
}

// seed stores tickets without publishing.
func (s *memStore) seed(raffleID string, st models.TicketStatus, numbers ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range numbers {
		s.seq++
		s.tickets = append(s.tickets, models.Ticket{
			ID:          fmt.Sprintf("t%03d", s.seq),
			RaffleID:    raffleID,
			Number:      n,
			Status:      st,
			ClientName:  "Seed",
			ClientPhone: "04140000000",
			PricePaid:   decimal.NewFromInt(5),
		})
	}
}

// remove deletes a ticket and publishes an unkeyed delete.
func (s *memStore) remove(raffleID string, number int) {
	s.mu.Lock()
	for i, t := range s.tickets {
		if t.RaffleID == raffleID && t.Number == number {
			s.tickets = append(s.tickets[:i], s.tickets[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	s.publish(models.TicketEvent{Kind: models.TicketDeleted, RaffleID: raffleID})
}

func (s *memStore) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

func (s *memStore) publish(evt models.TicketEvent) {
	if s.hub != nil {
		s.hub.Dispatch(evt)
	}
}

type mockFiles struct {
	mock.Mock
}

func (m *mockFiles) Upload(ctx context.Context, bucket, key string, data []byte) (string, error) {
	args := m.Called(ctx, bucket, key, data)
	return args.String(0), args.Error(1)
}

// okFiles accepts every upload.
type okFiles struct {
	mu   sync.Mutex
	keys []string
}

func (f *okFiles) Upload(_ context.Context, bucket, key string, _ []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, bucket+"/"+key)
	return "https://files.test/" + bucket + "/" + key, nil
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) SendTickets(ctx context.Context, notice TicketNotice) error {
	return m.Called(ctx, notice).Error(0)
}

func seededRand() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

func testRaffle(id string, multi bool) models.Raffle {
	return models.Raffle{
		ID:               id,
		Title:            "Moto 0km",
		Price:            decimal.NewFromInt(5),
		TotalTickets:     10000,
		AllowMultiTicket: multi,
		Status:           models.RaffleOnSale,
	}
}

func testBuyer() Buyer {
	return Buyer{
		Name:          "Ana Pérez",
		Phone:         "+58 414 1234567",
		Email:         "Ana@Example.com",
		PaymentMethod: "Pago Móvil",
	}
}

func newTestService(st *memStore, hub *realtime.Hub, files store.FileStore, notifier Notifier) *CheckoutService {
	return NewCheckoutService(st, hub, files, notifier, nil, CheckoutConfig{
		Brand:         "RIFAS FENIX",
		RequireEmail:  true,
		SubmitTimeout: 5 * time.Second,
	}, WithRandSource(seededRand))
}
