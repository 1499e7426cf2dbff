package models

import (
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
)

const (
	DefaultTotalTickets = 10000
	MaxTotalTickets     = 10000
)

type RaffleStatus string

const (
	RaffleOnSale   RaffleStatus = "on_sale"
	RaffleClosed   RaffleStatus = "closed"
	RaffleFinished RaffleStatus = "finished"
)

type Raffle struct {
	ID               string          `json:"id"`
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	Price            decimal.Decimal `json:"price"`
	TotalTickets     int             `json:"total_tickets"`
	ImageURL         string          `json:"image_url"`
	AllowMultiTicket bool            `json:"allow_multi_ticket"`
	Status           RaffleStatus    `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Normalize fills in defaults for fields older rows may lack.
func (r *Raffle) Normalize() {
	if r.TotalTickets <= 0 {
		r.TotalTickets = DefaultTotalTickets
	}
	if r.Status == "" {
		r.Status = RaffleOnSale
	}
}

func (r Raffle) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ID, validation.Required),
		validation.Field(&r.Title, validation.Required),
		validation.Field(&r.TotalTickets, validation.Required, validation.Min(1), validation.Max(MaxTotalTickets)),
		validation.Field(&r.Status, validation.In(RaffleOnSale, RaffleClosed, RaffleFinished)),
		validation.Field(&r.Price, validation.By(nonNegative)),
	)
}

func (r Raffle) OnSale() bool {
	return r.Status == RaffleOnSale
}

// IsVideo reports whether the cover media should be rendered as a video.
func (r Raffle) IsVideo() bool {
	u := strings.ToLower(r.ImageURL)
	for _, ext := range []string{".mp4", ".webm", ".ogg"} {
		if strings.Contains(u, ext) {
			return true
		}
	}
	return strings.Contains(u, "video")
}

// NumberWidth is the digit count used to render ticket numbers, "0042" for 10000 tickets.
func (r Raffle) NumberWidth() int {
	width := 1
	for n := r.TotalTickets - 1; n >= 10; n /= 10 {
		width++
	}
	return width
}

func nonNegative(value interface{}) error {
	d, ok := value.(decimal.Decimal)
	if !ok {
		return validation.NewError("validation_invalid_decimal", "must be a decimal")
	}
	if d.IsNegative() {
		return validation.NewError("validation_negative", "must not be negative")
	}
	return nil
}
