package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"raffle-system/models"

	"github.com/lib/pq"
)

// NotifyChannel is the channel the tickets trigger notifies on.
const NotifyChannel = "ticket_changes"

// Sink receives decoded ticket changes. Raffles lists the raffles that
// need a resync after the connection was lost.
type Sink interface {
	Dispatch(evt models.TicketEvent)
	Raffles() []string
}

// Listen relays LISTEN/NOTIFY ticket changes into sink until ctx is done.
func Listen(ctx context.Context, dsn string, sink Sink) error {
	listener := pq.NewListener(dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			slog.Warn("ticket listener connection event", "event", ev, "error", err)
		}
	})
	defer listener.Close()

	if err := listener.Listen(NotifyChannel); err != nil {
		return fmt.Errorf("listen %s: %w", NotifyChannel, err)
	}

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case n := <-listener.Notify:
			if n == nil {
				// reconnected; anything sent meanwhile is lost
				resyncAll(sink)
				continue
			}
			evt, err := decodeNotification(n.Extra)
			if err != nil {
				slog.Warn("dropping malformed ticket notification", "payload", n.Extra, "error", err)
				continue
			}
			sink.Dispatch(evt)

		case <-ping.C:
			go func() {
				if err := listener.Ping(); err != nil {
					slog.Warn("ticket listener ping failed", "error", err)
				}
			}()
		}
	}
}

func resyncAll(sink Sink) {
	for _, raffleID := range sink.Raffles() {
		sink.Dispatch(models.TicketEvent{Kind: models.TicketUpdated, RaffleID: raffleID})
	}
}

type notification struct {
	Kind     models.TicketEventKind `json:"kind"`
	RaffleID string                 `json:"raffle_id"`
	Number   *int                   `json:"ticket_number"`
	Status   models.TicketStatus    `json:"status"`
}

func decodeNotification(payload string) (models.TicketEvent, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return models.TicketEvent{}, err
	}
	if n.RaffleID == "" {
		return models.TicketEvent{}, fmt.Errorf("notification without raffle_id")
	}

	switch n.Kind {
	case models.TicketInserted, models.TicketUpdated, models.TicketDeleted:
	default:
		return models.TicketEvent{}, fmt.Errorf("unknown change kind %q", n.Kind)
	}

	evt := models.TicketEvent{Kind: n.Kind, RaffleID: n.RaffleID}
	if n.Kind == models.TicketDeleted || n.Number == nil || !n.Status.Valid() {
		return evt, nil
	}
	evt.Number = *n.Number
	evt.Status = n.Status
	evt.Keyed = true
	return evt, nil
}
