package models

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
)

type TicketStatus string

const (
	TicketReserved TicketStatus = "reserved"
	TicketPaid     TicketStatus = "paid"
)

func (s TicketStatus) Valid() bool {
	return s == TicketReserved || s == TicketPaid
}

// CanTransition reports whether a ticket may move from s to next.
// Tickets only move forward: reserved -> paid.
func (s TicketStatus) CanTransition(next TicketStatus) bool {
	if !next.Valid() {
		return false
	}
	return s == next || (s == TicketReserved && next == TicketPaid)
}

type Ticket struct {
	ID             string          `json:"id"`
	RaffleID       string          `json:"raffle_id"`
	Number         int             `json:"ticket_number"`
	Status         TicketStatus    `json:"status"`
	ClientName     string          `json:"client_name"`
	ClientPhone    string          `json:"client_phone"`
	ClientEmail    string          `json:"client_email"`
	ClientIDNumber string          `json:"client_id_number,omitempty"`
	PricePaid      decimal.Decimal `json:"price_paid"`
	PaymentMethod  string          `json:"payment_method"`
	ReceiptURL     string          `json:"payment_receipt_url"`
	CreatedAt      time.Time       `json:"created_at"`
}

// TicketDraft is the shape inserted by a checkout submission.
type TicketDraft struct {
	RaffleID       string
	Number         int
	Status         TicketStatus
	ClientName     string
	ClientPhone    string
	ClientEmail    string
	ClientIDNumber string
	PricePaid      decimal.Decimal
	PaymentMethod  string
	ReceiptURL     string
}

func (d TicketDraft) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.RaffleID, validation.Required),
		validation.Field(&d.Number, validation.Min(0)),
		validation.Field(&d.Status, validation.Required, validation.In(TicketReserved, TicketPaid)),
		validation.Field(&d.ClientName, validation.Required),
		validation.Field(&d.ClientPhone, validation.Required),
	)
}

// Label renders the ticket number zero padded to width digits.
func Label(number, width int) string {
	return fmt.Sprintf("%0*d", width, number)
}

// OccupiedTicket is the minimal projection the availability view needs.
type OccupiedTicket struct {
	Number int          `json:"ticket_number"`
	Status TicketStatus `json:"status"`
}

type TicketEventKind string

const (
	TicketInserted TicketEventKind = "insert"
	TicketUpdated  TicketEventKind = "update"
	TicketDeleted  TicketEventKind = "delete"
)

// TicketEvent is one change on the tickets table as delivered by a realtime feed.
// Keyed is false when the event does not reliably identify the ticket.
type TicketEvent struct {
	Kind     TicketEventKind `json:"kind"`
	RaffleID string          `json:"raffle_id"`
	Number   int             `json:"ticket_number"`
	Status   TicketStatus    `json:"status"`
	Keyed    bool            `json:"keyed"`
}
