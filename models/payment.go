package models

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
)

// PaymentMethod is display-only bank transfer information.
type PaymentMethod struct {
	ID            string `json:"id"`
	RaffleID      string `json:"raffle_id,omitempty"`
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	AccountType   string `json:"account_type"`
	AccountOwner  string `json:"account_owner"`
	ImageURL      string `json:"image_url,omitempty"`
}

func (p PaymentMethod) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.ID, validation.Required),
		validation.Field(&p.BankName, validation.Required),
	)
}

type CurrencyRate struct {
	ID       string          `json:"id"`
	Code     string          `json:"code"`
	Symbol   string          `json:"symbol"`
	Rate     decimal.Decimal `json:"rate"`
	IsActive bool            `json:"is_active"`
}

func (c CurrencyRate) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Code, validation.Required, validation.Length(3, 3)),
		validation.Field(&c.Rate, validation.By(positive)),
	)
}

// RafflePrice is a manually configured price of one ticket in a given currency.
type RafflePrice struct {
	ID           string          `json:"id"`
	RaffleID     string          `json:"raffle_id"`
	CurrencyCode string          `json:"currency_code"`
	Price        decimal.Decimal `json:"price"`
	IsPrimary    bool            `json:"is_primary"`
}

func (p RafflePrice) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.CurrencyCode, validation.Required),
		validation.Field(&p.Price, validation.By(nonNegative)),
	)
}

type ContentSection string

const (
	SectionCarousel ContentSection = "carousel"
	SectionWinner   ContentSection = "winner"
)

type ContentSlide struct {
	ID        string         `json:"id"`
	Section   ContentSection `json:"section"`
	Title     string         `json:"title"`
	Subtitle  string         `json:"subtitle,omitempty"`
	ImageURL  string         `json:"image_url"`
	LinkURL   string         `json:"link_url,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func positive(value interface{}) error {
	d, ok := value.(decimal.Decimal)
	if !ok {
		return validation.NewError("validation_invalid_decimal", "must be a decimal")
	}
	if !d.IsPositive() {
		return validation.NewError("validation_not_positive", "must be positive")
	}
	return nil
}
