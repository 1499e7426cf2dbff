package services

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"raffle-system/internal/services/store"
	"raffle-system/internal/status"
	"raffle-system/models"

	"github.com/shopspring/decimal"
)

// Order groups the tickets one client reserved in a raffle.
type Order struct {
	ClientName     string          `json:"client_name"`
	ClientPhone    string          `json:"client_phone"`
	ClientEmail    string          `json:"client_email"`
	ClientIDNumber string          `json:"client_id_number,omitempty"`
	PaymentMethod  string          `json:"payment_method"`
	ReceiptURL     string          `json:"payment_receipt_url,omitempty"`
	Status         string          `json:"status"`
	TicketIDs      []string        `json:"ticket_ids"`
	Numbers        []string        `json:"numbers"`
	Total          decimal.Decimal `json:"total"`
}

type VerifyResult struct {
	Tickets      []models.Ticket `json:"tickets"`
	WhatsAppLink string          `json:"whatsapp_link"`
	Message      string          `json:"message"`
}

// AdminService backs the operator dashboard.
type AdminService struct {
	store     store.TicketStore
	publicURL string
	newRand   func() *rand.Rand
}

func NewAdminService(st store.TicketStore, publicURL string) *AdminService {
	return &AdminService{
		store:     st,
		publicURL: strings.TrimRight(publicURL, "/"),
		newRand:   newRand,
	}
}

// VerifyOrder marks tickets as paid and prepares the message for the client.
func (a *AdminService) VerifyOrder(ctx context.Context, ticketIDs []string) (*VerifyResult, error) {
	if len(ticketIDs) == 0 {
		return nil, status.ErrNotFound
	}

	tickets, err := a.store.UpdateTicketsStatus(ctx, ticketIDs, models.TicketPaid)
	if err != nil {
		return nil, fmt.Errorf("verify order: %w", err)
	}
	if len(tickets) == 0 {
		return nil, status.ErrNotFound
	}

	first := tickets[0]
	raffle, err := a.store.FetchRaffle(ctx, first.RaffleID)
	if err != nil {
		return nil, fmt.Errorf("verify order: %w", err)
	}

	labels := make([]string, 0, len(tickets))
	for _, t := range tickets {
		labels = append(labels, models.Label(t.Number, raffle.NumberWidth()))
	}
	sort.Strings(labels)

	lookup := a.publicURL + "/mis-tickets?q=" + url.QueryEscape(first.ClientPhone)
	msg := VerificationMessage(first.ClientName, raffle.Title, labels, lookup)

	slog.Info("order verified", "raffleID", raffle.ID, "client", first.ClientName, "tickets", labels)
	return &VerifyResult{
		Tickets:      tickets,
		WhatsAppLink: WhatsAppLink(first.ClientPhone, msg),
		Message:      msg,
	}, nil
}

// Orders groups a raffle's tickets by client and status, newest first.
func (a *AdminService) Orders(ctx context.Context, raffleID string, filter models.TicketStatus) ([]Order, error) {
	raffle, err := a.store.FetchRaffle(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	tickets, err := a.store.ListTickets(ctx, raffleID)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}

	var (
		orders []*Order
		index  = make(map[string]*Order)
	)
	for _, t := range tickets {
		if filter != "" && t.Status != filter {
			continue
		}
		key := t.ClientPhone + "|" + t.ClientName + "|" + string(t.Status)
		o, ok := index[key]
		if !ok {
			o = &Order{
				ClientName:     t.ClientName,
				ClientPhone:    t.ClientPhone,
				ClientEmail:    t.ClientEmail,
				ClientIDNumber: t.ClientIDNumber,
				PaymentMethod:  t.PaymentMethod,
				ReceiptURL:     t.ReceiptURL,
				Status:         string(t.Status),
			}
			index[key] = o
			orders = append(orders, o)
		}
		if o.ReceiptURL == "" {
			o.ReceiptURL = t.ReceiptURL
		}
		o.TicketIDs = append(o.TicketIDs, t.ID)
		o.Numbers = append(o.Numbers, models.Label(t.Number, raffle.NumberWidth()))
		o.Total = o.Total.Add(t.PricePaid)
	}

	out := make([]Order, 0, len(orders))
	for _, o := range orders {
		sort.Strings(o.Numbers)
		out = append(out, *o)
	}
	return out, nil
}

var csvHeader = []string{"Ticket Number", "Status", "Client Name", "Client Phone", "Client ID", "Client Email", "Price Paid", "Payment Method", "Date"}

// ExportCSV writes every ticket of a raffle to w.
func (a *AdminService) ExportCSV(ctx context.Context, raffleID string, w io.Writer) error {
	raffle, err := a.store.FetchRaffle(ctx, raffleID)
	if err != nil {
		return err
	}
	tickets, err := a.store.ListTickets(ctx, raffleID)
	if err != nil {
		return fmt.Errorf("list tickets: %w", err)
	}
	sort.Slice(tickets, func(i, j int) bool { return tickets[i].Number < tickets[j].Number })

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, t := range tickets {
		row := []string{
			models.Label(t.Number, raffle.NumberWidth()),
			string(t.Status),
			t.ClientName,
			t.ClientPhone,
			t.ClientIDNumber,
			t.ClientEmail,
			t.PricePaid.StringFixed(2),
			t.PaymentMethod,
			t.CreatedAt.Format("2006-01-02 15:04"),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func CSVFilename(raffle models.Raffle) string {
	title := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		}
		return '_'
	}, raffle.Title)
	return "rifa_" + title + "_" + strconv.Itoa(raffle.TotalTickets) + ".csv"
}

// DrawWinner picks one paid ticket uniformly at random.
func (a *AdminService) DrawWinner(ctx context.Context, raffleID string) (*models.Ticket, error) {
	tickets, err := a.store.ListTickets(ctx, raffleID)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}

	var paid []models.Ticket
	for _, t := range tickets {
		if t.Status == models.TicketPaid {
			paid = append(paid, t)
		}
	}
	if len(paid) == 0 {
		return nil, status.ErrNoPaidTickets
	}

	winner := paid[a.newRand().IntN(len(paid))]
	slog.Info("winner drawn", "raffleID", raffleID, "ticket", winner.Number, "client", winner.ClientName)
	return &winner, nil
}
