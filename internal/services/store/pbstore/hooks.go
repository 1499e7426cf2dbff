package pbstore

import (
	"context"
	"log/slog"

	"raffle-system/models"

	"github.com/pocketbase/pocketbase/core"
)

// Publisher receives committed ticket changes.
type Publisher func(ctx context.Context, evt models.TicketEvent) error

// BindTicketHooks forwards committed changes of the tickets collection.
// Inside a transaction the success hooks fire after commit, so subscribers
// never observe a rolled back insert.
func BindTicketHooks(app core.App, publish Publisher) {
	app.OnRecordAfterCreateSuccess(CollectionTickets).BindFunc(func(e *core.RecordEvent) error {
		forward(publish, eventFromRecord(models.TicketInserted, e.Record))
		return e.Next()
	})

	app.OnRecordAfterUpdateSuccess(CollectionTickets).BindFunc(func(e *core.RecordEvent) error {
		forward(publish, eventFromRecord(models.TicketUpdated, e.Record))
		return e.Next()
	})

	app.OnRecordAfterDeleteSuccess(CollectionTickets).BindFunc(func(e *core.RecordEvent) error {
		forward(publish, eventFromRecord(models.TicketDeleted, e.Record))
		return e.Next()
	})
}

func eventFromRecord(kind models.TicketEventKind, rec *core.Record) models.TicketEvent {
	evt := models.TicketEvent{
		Kind:     kind,
		RaffleID: rec.GetString("raffle_id"),
	}
	if kind == models.TicketDeleted {
		return evt
	}

	evt.Number = rec.GetInt("ticket_number")
	evt.Status = models.TicketStatus(rec.GetString("status"))
	evt.Keyed = evt.Status.Valid()
	return evt
}

func forward(publish Publisher, evt models.TicketEvent) {
	if err := publish(context.Background(), evt); err != nil {
		slog.Warn("ticket change not published", "kind", evt.Kind, "raffleID", evt.RaffleID, "ticket", evt.Number, "error", err)
	}
}
