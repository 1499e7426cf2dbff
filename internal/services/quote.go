package services

import (
	"sort"
	"strings"

	"raffle-system/models"

	"github.com/shopspring/decimal"
)

type CurrencyAmount struct {
	Code    string          `json:"code"`
	Symbol  string          `json:"symbol,omitempty"`
	Amount  decimal.Decimal `json:"amount"`
	Primary bool            `json:"primary"`
}

// Quote is the price of a checkout snapshot.
type Quote struct {
	Count      int              `json:"count"`
	UnitPrice  decimal.Decimal  `json:"unit_price"`
	Total      decimal.Decimal  `json:"total"`
	Currencies []CurrencyAmount `json:"currencies,omitempty"`
}

// BuildQuote prices count tickets. Manually configured per-currency prices
// win; without them the total is converted with the active exchange rates.
func BuildQuote(count int, unit decimal.Decimal, prices []models.RafflePrice, rates []models.CurrencyRate) Quote {
	n := decimal.NewFromInt(int64(count))
	q := Quote{
		Count:     count,
		UnitPrice: unit,
		Total:     unit.Mul(n),
	}

	symbols := make(map[string]string, len(rates))
	for _, r := range rates {
		symbols[strings.ToUpper(r.Code)] = r.Symbol
	}

	if len(prices) > 0 {
		for _, p := range prices {
			code := strings.ToUpper(p.CurrencyCode)
			q.Currencies = append(q.Currencies, CurrencyAmount{
				Code:    code,
				Symbol:  symbols[code],
				Amount:  p.Price.Mul(n),
				Primary: p.IsPrimary,
			})
		}
	} else {
		for _, r := range rates {
			if !r.IsActive || !r.Rate.IsPositive() {
				continue
			}
			q.Currencies = append(q.Currencies, CurrencyAmount{
				Code:   strings.ToUpper(r.Code),
				Symbol: r.Symbol,
				Amount: q.Total.Mul(r.Rate).Round(2),
			})
		}
	}

	sort.SliceStable(q.Currencies, func(i, j int) bool {
		return q.Currencies[i].Primary && !q.Currencies[j].Primary
	})
	return q
}
