package pbstore

import (
	"errors"
	"strings"

	"raffle-system/models"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"
)

const (
	CollectionRaffles    = "raffles"
	CollectionTickets    = "tickets"
	CollectionMethods    = "payment_methods"
	CollectionPrices     = "raffle_prices"
	CollectionCurrencies = "currencies"
	CollectionContent    = "site_content"
)

func raffleFromRecord(rec *core.Record) (models.Raffle, error) {
	r := models.Raffle{
		ID:               rec.Id,
		Title:            rec.GetString("title"),
		Description:      rec.GetString("description"),
		Price:            decimal.NewFromFloat(rec.GetFloat("price")),
		TotalTickets:     rec.GetInt("total_tickets"),
		ImageURL:         rec.GetString("image_url"),
		AllowMultiTicket: rec.GetBool("allow_multi_ticket"),
		Status:           models.RaffleStatus(rec.GetString("status")),
		CreatedAt:        rec.GetDateTime("created").Time(),
	}
	r.Normalize()
	return r, r.Validate()
}

func ticketFromRecord(rec *core.Record) models.Ticket {
	return models.Ticket{
		ID:             rec.Id,
		RaffleID:       rec.GetString("raffle_id"),
		Number:         rec.GetInt("ticket_number"),
		Status:         models.TicketStatus(rec.GetString("status")),
		ClientName:     rec.GetString("client_name"),
		ClientPhone:    rec.GetString("client_phone"),
		ClientEmail:    rec.GetString("client_email"),
		ClientIDNumber: rec.GetString("client_id_number"),
		PricePaid:      decimal.NewFromFloat(rec.GetFloat("price_paid")),
		PaymentMethod:  rec.GetString("payment_method"),
		ReceiptURL:     rec.GetString("payment_receipt_url"),
		CreatedAt:      rec.GetDateTime("created").Time(),
	}
}

func setDraft(rec *core.Record, d models.TicketDraft) {
	rec.Set("raffle_id", d.RaffleID)
	rec.Set("ticket_number", d.Number)
	rec.Set("status", string(d.Status))
	rec.Set("client_name", d.ClientName)
	rec.Set("client_phone", d.ClientPhone)
	rec.Set("client_email", d.ClientEmail)
	rec.Set("client_id_number", d.ClientIDNumber)
	rec.Set("price_paid", d.PricePaid.InexactFloat64())
	rec.Set("payment_method", d.PaymentMethod)
	rec.Set("payment_receipt_url", d.ReceiptURL)
}

func methodFromRecord(rec *core.Record) models.PaymentMethod {
	return models.PaymentMethod{
		ID:            rec.Id,
		RaffleID:      rec.GetString("raffle_id"),
		BankName:      rec.GetString("bank_name"),
		AccountNumber: rec.GetString("account_number"),
		AccountType:   rec.GetString("account_type"),
		AccountOwner:  rec.GetString("account_owner"),
		ImageURL:      rec.GetString("image_url"),
	}
}

func priceFromRecord(rec *core.Record) models.RafflePrice {
	return models.RafflePrice{
		ID:           rec.Id,
		RaffleID:     rec.GetString("raffle_id"),
		CurrencyCode: strings.ToUpper(rec.GetString("currency_code")),
		Price:        decimal.NewFromFloat(rec.GetFloat("price")),
		IsPrimary:    rec.GetBool("is_primary"),
	}
}

func currencyFromRecord(rec *core.Record) models.CurrencyRate {
	return models.CurrencyRate{
		ID:       rec.Id,
		Code:     strings.ToUpper(rec.GetString("code")),
		Symbol:   rec.GetString("symbol"),
		Rate:     decimal.NewFromFloat(rec.GetFloat("rate")),
		IsActive: rec.GetBool("is_active"),
	}
}

func slideFromRecord(rec *core.Record) models.ContentSlide {
	return models.ContentSlide{
		ID:        rec.Id,
		Section:   models.ContentSection(rec.GetString("section")),
		Title:     rec.GetString("title"),
		Subtitle:  rec.GetString("subtitle"),
		ImageURL:  rec.GetString("image_url"),
		LinkURL:   rec.GetString("link_url"),
		CreatedAt: rec.GetDateTime("created").Time(),
	}
}

// isUniqueViolation recognises both the record validator's unique index
// check and the SQLite constraint error raised when two inserts race.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for _, fieldErr := range verrs {
			var ve validation.Error
			if errors.As(fieldErr, &ve) && ve.Code() == "validation_not_unique" {
				return true
			}
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
