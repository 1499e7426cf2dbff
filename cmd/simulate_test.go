package cmd

import (
	"context"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"raffle-system/internal/services/store"
	"raffle-system/internal/status"
	"raffle-system/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type simStore struct {
	store.TicketStore
	raffles  []models.Raffle
	occupied map[int]bool
	clashes  int
	inserted []models.TicketDraft
}

func (s *simStore) ListRaffles(context.Context, models.RaffleStatus) ([]models.Raffle, error) {
	return s.raffles, nil
}

func (s *simStore) FetchOccupied(context.Context, string) ([]models.OccupiedTicket, error) {
	var out []models.OccupiedTicket
	for n := range s.occupied {
		out = append(out, models.OccupiedTicket{Number: n, Status: models.TicketPaid})
	}
	return out, nil
}

func (s *simStore) InsertTickets(_ context.Context, drafts []models.TicketDraft) ([]models.Ticket, error) {
	if s.clashes > 0 {
		s.clashes--
		return nil, fmt.Errorf("insert tickets: %w", status.ErrUniqueViolation)
	}
	d := drafts[0]
	s.occupied[d.Number] = true
	s.inserted = append(s.inserted, d)
	return []models.Ticket{{RaffleID: d.RaffleID, Number: d.Number, Status: d.Status, ClientName: d.ClientName, PaymentMethod: d.PaymentMethod}}, nil
}

func newSimulator(st *simStore) *simulator {
	return &simulator{store: st, rng: rand.New(rand.NewPCG(1, 2))}
}

func TestSimulator_SellsDistinctNumbers(t *testing.T) {
	st := &simStore{
		raffles:  []models.Raffle{{ID: "r1", Title: "Moto", Price: decimal.NewFromInt(5), TotalTickets: 50}},
		occupied: map[int]bool{},
		clashes:  1,
	}

	err := newSimulator(st).run(context.Background(), "", time.Millisecond, 5)
	require.NoError(t, err)

	require.Len(t, st.inserted, 5)
	seen := map[int]bool{}
	for _, d := range st.inserted {
		assert.False(t, seen[d.Number], "number %d sold twice", d.Number)
		seen[d.Number] = true
		assert.Equal(t, models.TicketPaid, d.Status)
		assert.True(t, d.PricePaid.Equal(decimal.NewFromInt(5)))
		assert.NotEmpty(t, d.ClientName)
	}
}

func TestSimulator_StopsWhenSoldOut(t *testing.T) {
	st := &simStore{
		raffles:  []models.Raffle{{ID: "r1", Title: "Moto", TotalTickets: 2}},
		occupied: map[int]bool{0: true, 1: true},
	}

	err := newSimulator(st).run(context.Background(), "", time.Millisecond, 3)
	assert.NoError(t, err)
	assert.Empty(t, st.inserted)
}

func TestSimulator_NoRaffleOnSale(t *testing.T) {
	err := newSimulator(&simStore{}).run(context.Background(), "", time.Millisecond, 1)
	assert.Error(t, err)
}
