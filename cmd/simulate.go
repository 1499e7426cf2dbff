package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"raffle-system/internal/services"
	"raffle-system/internal/services/store"
	"raffle-system/internal/status"
	"raffle-system/models"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	simFirstNames = []string{"Juan", "Maria", "Carlos", "Ana", "Pedro", "Luisa", "Jose", "Elena"}
	simLastNames  = []string{"Perez", "Gomez", "Rodriguez", "Lopez", "Martinez", "Garcia", "Fernandez"}
	simMethods    = []string{"Pago Móvil", "Zelle", "Transferencia", "Efectivo", "Binance"}
)

// newSimulateCommand registers "simulate", which sells random numbers of an
// on-sale raffle at a fixed pace so live boards can be watched updating.
func newSimulateCommand(openStore func() (store.TicketStore, error)) *cobra.Command {
	var (
		raffleID string
		interval time.Duration
		count    int
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Insert simulated paid tickets to exercise realtime updates",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sim := &simulator{store: st, rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
			return sim.run(ctx, raffleID, interval, count)
		},
	}

	cmd.Flags().StringVar(&raffleID, "raffle", "", "raffle id (defaults to the newest on-sale raffle)")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "pause between simulated sales")
	cmd.Flags().IntVar(&count, "count", 20, "number of sales to simulate")
	return cmd
}

type simulator struct {
	store store.TicketStore
	rng   *rand.Rand
}

func (s *simulator) run(ctx context.Context, raffleID string, interval time.Duration, count int) error {
	raffle, err := s.pickRaffle(ctx, raffleID)
	if err != nil {
		return err
	}
	log.Printf("Simulating %d sales on raffle %s (%s)", count, raffle.ID, raffle.Title)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for sold := 0; sold < count; {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		ticket, err := s.sell(ctx, raffle)
		switch {
		case errors.Is(err, status.ErrUniqueViolation):
			slog.Info("simulated number taken meanwhile, retrying")
			continue
		case errors.Is(err, status.ErrNearlySoldOut):
			log.Println("Raffle sold out, simulation finished")
			return nil
		case err != nil:
			return err
		}

		sold++
		slog.Info("simulated sale", "n", sold, "client", ticket.ClientName, "method", ticket.PaymentMethod, "ticket", ticket.Number)
	}

	log.Printf("Simulation finished (%d sales)", count)
	return nil
}

func (s *simulator) pickRaffle(ctx context.Context, raffleID string) (*models.Raffle, error) {
	if raffleID != "" {
		return s.store.FetchRaffle(ctx, raffleID)
	}

	raffles, err := s.store.ListRaffles(ctx, models.RaffleOnSale)
	if err != nil {
		return nil, err
	}
	if len(raffles) == 0 {
		return nil, fmt.Errorf("no on-sale raffle to simulate on")
	}
	return &raffles[0], nil
}

func (s *simulator) sell(ctx context.Context, raffle *models.Raffle) (models.Ticket, error) {
	occupied, err := s.store.FetchOccupied(ctx, raffle.ID)
	if err != nil {
		return models.Ticket{}, err
	}
	index := services.NewOccupiedIndex(occupied)

	number, err := services.DrawOne(s.rng, raffle.TotalTickets, index.Has)
	if err != nil {
		return models.Ticket{}, err
	}

	name := simFirstNames[s.rng.IntN(len(simFirstNames))] + " " + simLastNames[s.rng.IntN(len(simLastNames))]
	tickets, err := s.store.InsertTickets(ctx, []models.TicketDraft{{
		RaffleID:       raffle.ID,
		Number:         number,
		Status:         models.TicketPaid,
		ClientName:     name,
		ClientPhone:    fmt.Sprintf("555-%d", 1000+s.rng.IntN(9000)),
		ClientEmail:    "demo." + uuid.NewString()[:8] + "@test.com",
		ClientIDNumber: fmt.Sprintf("%d", s.rng.IntN(30000000)),
		PricePaid:      raffle.Price,
		PaymentMethod:  simMethods[s.rng.IntN(len(simMethods))],
	}})
	if err != nil {
		return models.Ticket{}, err
	}
	return tickets[0], nil
}
