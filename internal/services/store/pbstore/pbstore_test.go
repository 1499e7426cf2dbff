package pbstore

import (
	"errors"
	"fmt"
	"testing"

	"raffle-system/models"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ticketsCollection() *core.Collection {
	c := core.NewBaseCollection(CollectionTickets)
	c.Fields.Add(
		&core.TextField{Name: "raffle_id"},
		&core.NumberField{Name: "ticket_number", OnlyInt: true},
		&core.SelectField{Name: "status", Values: []string{"reserved", "paid"}, MaxSelect: 1},
		&core.TextField{Name: "client_name"},
		&core.TextField{Name: "client_phone"},
		&core.TextField{Name: "client_email"},
		&core.TextField{Name: "client_id_number"},
		&core.NumberField{Name: "price_paid"},
		&core.TextField{Name: "payment_method"},
		&core.TextField{Name: "payment_receipt_url"},
		&core.AutodateField{Name: "created", OnCreate: true},
	)
	return c
}

func rafflesCollection() *core.Collection {
	c := core.NewBaseCollection(CollectionRaffles)
	c.Fields.Add(
		&core.TextField{Name: "title"},
		&core.NumberField{Name: "price"},
		&core.NumberField{Name: "total_tickets", OnlyInt: true},
		&core.BoolField{Name: "allow_multi_ticket"},
		&core.TextField{Name: "status"},
		&core.TextField{Name: "image_url"},
	)
	return c
}

func TestTicketRecordMapping(t *testing.T) {
	rec := core.NewRecord(ticketsCollection())
	rec.Id = "abc123"
	setDraft(rec, models.TicketDraft{
		RaffleID:      "r1",
		Number:        42,
		Status:        models.TicketReserved,
		ClientName:    "Ana",
		ClientPhone:   "0414",
		ClientEmail:   "ana@example.com",
		PricePaid:     decimal.RequireFromString("2.5"),
		PaymentMethod: "Zelle",
		ReceiptURL:    "https://files.test/receipts/x.png",
	})

	ticket := ticketFromRecord(rec)
	assert.Equal(t, "abc123", ticket.ID)
	assert.Equal(t, "r1", ticket.RaffleID)
	assert.Equal(t, 42, ticket.Number)
	assert.Equal(t, models.TicketReserved, ticket.Status)
	assert.True(t, ticket.PricePaid.Equal(decimal.RequireFromString("2.5")))
	assert.Equal(t, "https://files.test/receipts/x.png", ticket.ReceiptURL)
}

func TestRaffleFromRecord_Defaults(t *testing.T) {
	rec := core.NewRecord(rafflesCollection())
	rec.Id = "r1"
	rec.Set("title", "Moto")
	rec.Set("price", 5)
	rec.Set("allow_multi_ticket", true)

	r, err := raffleFromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultTotalTickets, r.TotalTickets)
	assert.Equal(t, models.RaffleOnSale, r.Status)
	assert.True(t, r.AllowMultiTicket)

	rec.Set("title", "")
	_, err = raffleFromRecord(rec)
	assert.Error(t, err)
}

func TestEventFromRecord(t *testing.T) {
	rec := core.NewRecord(ticketsCollection())
	rec.Set("raffle_id", "r1")
	rec.Set("ticket_number", 7)
	rec.Set("status", "paid")

	evt := eventFromRecord(models.TicketUpdated, rec)
	assert.Equal(t, models.TicketEvent{Kind: models.TicketUpdated, RaffleID: "r1", Number: 7, Status: models.TicketPaid, Keyed: true}, evt)

	evt = eventFromRecord(models.TicketDeleted, rec)
	assert.Equal(t, models.TicketEvent{Kind: models.TicketDeleted, RaffleID: "r1"}, evt)

	rec.Set("status", "")
	evt = eventFromRecord(models.TicketInserted, rec)
	assert.False(t, evt.Keyed)
}

func TestIsUniqueViolation(t *testing.T) {
	validatorErr := validation.Errors{
		"ticket_number": validation.NewError("validation_not_unique", "Value must be unique."),
	}
	assert.True(t, isUniqueViolation(validatorErr))
	assert.True(t, isUniqueViolation(fmt.Errorf("save: %w", validatorErr)))
	assert.True(t, isUniqueViolation(errors.New("constraint failed: UNIQUE constraint failed: tickets.raffle_id, tickets.ticket_number (2067)")))

	assert.False(t, isUniqueViolation(nil))
	assert.False(t, isUniqueViolation(errors.New("database is locked")))
	assert.False(t, isUniqueViolation(validation.Errors{
		"client_name": validation.NewError("validation_required", "Cannot be blank."),
	}))
}

func TestFiles_KeyValidation(t *testing.T) {
	files := NewFiles(nil, "https://rifas.test/", "receipts", "tickets")

	key, err := files.fileKey("receipts", "123_abc.png")
	require.NoError(t, err)
	assert.Equal(t, "receipts/123_abc.png", key)

	for _, bad := range [][2]string{
		{"other", "x.png"},
		{"receipts", ""},
		{"receipts", "../secret"},
		{"receipts", "/etc/passwd"},
	} {
		_, err := files.fileKey(bad[0], bad[1])
		assert.ErrorIs(t, err, ErrInvalidFileKey, bad)
	}

	assert.Equal(t, "https://rifas.test/api/v1/files/tickets/r1/t1_0042.pdf", files.URL("tickets", "r1/t1_0042.pdf"))
}
