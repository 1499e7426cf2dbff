package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"net/url"
	"sort"
	"strings"

	"raffle-system/models"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/mailer"
	"github.com/pocketbase/pocketbase/tools/template"
)

// TicketNotice is sent to a buyer after a successful reservation.
type TicketNotice struct {
	Brand   string
	Raffle  models.Raffle
	Buyer   Buyer
	Tickets []models.Ticket
	Links   map[int]string
}

type Notifier interface {
	SendTickets(ctx context.Context, notice TicketNotice) error
}

const ticketMailTemplate = `<h1>Hola {{.Name}}</h1>
<p>Recibimos tu reserva para <strong>{{.Raffle}}</strong>. Estos son tus tickets:</p>
<ul>
{{range .Items}}<li>Ticket #{{.Label}}{{if .Link}} - <a href="{{.Link}}">descargar</a>{{end}}</li>
{{end}}</ul>
<p>Tu pago será verificado a la brevedad.</p>
<p>{{.Brand}}</p>`

// MailNotifier delivers tickets with the PocketBase mail client (SMTP or sendmail).
type MailNotifier struct {
	app       core.App
	from      mail.Address
	templates *template.Registry
}

func NewMailNotifier(app core.App, fromAddress, fromName string) *MailNotifier {
	return &MailNotifier{
		app:       app,
		from:      mail.Address{Name: fromName, Address: fromAddress},
		templates: template.NewRegistry(),
	}
}

func (n *MailNotifier) SendTickets(_ context.Context, notice TicketNotice) error {
	if notice.Buyer.Email == "" {
		return nil
	}

	html, err := n.templates.LoadString(ticketMailTemplate).Render(mailData(notice))
	if err != nil {
		return fmt.Errorf("render ticket mail: %w", err)
	}

	msg := &mailer.Message{
		From:    n.from,
		To:      []mail.Address{{Name: notice.Buyer.Name, Address: notice.Buyer.Email}},
		Subject: fmt.Sprintf("¡Tus Tickets Reservados! - %s", notice.Brand),
		HTML:    html,
	}
	if err := n.app.NewMailClient().Send(msg); err != nil {
		return fmt.Errorf("send ticket mail to %s: %w", notice.Buyer.Email, err)
	}
	return nil
}

// LogNotifier only logs; used when no mail transport is configured.
type LogNotifier struct{}

func (LogNotifier) SendTickets(_ context.Context, notice TicketNotice) error {
	numbers := make([]int, 0, len(notice.Tickets))
	for _, t := range notice.Tickets {
		numbers = append(numbers, t.Number)
	}
	slog.Info("ticket notification",
		"email", notice.Buyer.Email,
		"client", notice.Buyer.Name,
		"raffleID", notice.Raffle.ID,
		"tickets", numbers,
		"links", len(notice.Links),
	)
	return nil
}

type mailItem struct {
	Label string
	Link  string
}

func mailData(notice TicketNotice) map[string]any {
	items := make([]mailItem, 0, len(notice.Tickets))
	for _, t := range notice.Tickets {
		items = append(items, mailItem{
			Label: models.Label(t.Number, notice.Raffle.NumberWidth()),
			Link:  notice.Links[t.Number],
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Label < items[j].Label })

	return map[string]any{
		"Name":   notice.Buyer.Name,
		"Raffle": notice.Raffle.Title,
		"Brand":  notice.Brand,
		"Items":  items,
	}
}

// WhatsAppLink builds a wa.me deep link; the phone keeps digits only.
func WhatsAppLink(phone, message string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	return "https://wa.me/" + digits + "?text=" + strings.ReplaceAll(url.QueryEscape(message), "+", "%20")
}

// VerificationMessage is the text an operator sends once an order is paid.
func VerificationMessage(clientName, raffleTitle string, labels []string, lookupURL string) string {
	return fmt.Sprintf("Hola %s, pago verificado ✅.\nTus tickets: *#%s*\nPara la rifa: *%s*\n\nVer tickets aquí: %s\n\n¡Mucha suerte! 🍀",
		clientName, strings.Join(labels, ", #"), raffleTitle, lookupURL)
}
