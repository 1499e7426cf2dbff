package services

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"raffle-system/internal/status"
	"raffle-system/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertOrder(t *testing.T, st *memStore, raffleID, name, phone string, numbers ...int) []models.Ticket {
	t.Helper()
	drafts := make([]models.TicketDraft, 0, len(numbers))
	for _, n := range numbers {
		drafts = append(drafts, models.TicketDraft{
			RaffleID:      raffleID,
			Number:        n,
			Status:        models.TicketReserved,
			ClientName:    name,
			ClientPhone:   phone,
			ClientEmail:   strings.ToLower(name) + "@example.com",
			PricePaid:     decimal.NewFromInt(5),
			PaymentMethod: "Zelle",
		})
	}
	tickets, err := st.InsertTickets(context.Background(), drafts)
	require.NoError(t, err)
	return tickets
}

func TestAdmin_VerifyOrder(t *testing.T) {
	st := newMemStore(nil, testRaffle("r1", true))
	tickets := insertOrder(t, st, "r1", "Ana", "+58 414-1234567", 4, 3)
	admin := NewAdminService(st, "https://rifas.test/")

	res, err := admin.VerifyOrder(context.Background(), []string{tickets[0].ID, tickets[1].ID})
	require.NoError(t, err)
	require.Len(t, res.Tickets, 2)
	for _, ticket := range res.Tickets {
		assert.Equal(t, models.TicketPaid, ticket.Status)
	}

	assert.Contains(t, res.Message, "Hola Ana")
	assert.Contains(t, res.Message, "*#0003, #0004*")
	assert.Contains(t, res.Message, "https://rifas.test/mis-tickets?q=%2B58+414-1234567")
	assert.True(t, strings.HasPrefix(res.WhatsAppLink, "https://wa.me/584141234567?text=Hola%20Ana"))

	_, err = admin.VerifyOrder(context.Background(), nil)
	assert.ErrorIs(t, err, status.ErrNotFound)
	_, err = admin.VerifyOrder(context.Background(), []string{"missing"})
	assert.ErrorIs(t, err, status.ErrNotFound)
}

func TestAdmin_OrdersGroupByClient(t *testing.T) {
	st := newMemStore(nil, testRaffle("r1", true))
	ana := insertOrder(t, st, "r1", "Ana", "0414", 10, 2)
	insertOrder(t, st, "r1", "Luis", "0412", 7)
	admin := NewAdminService(st, "https://rifas.test")

	orders, err := admin.Orders(context.Background(), "r1", "")
	require.NoError(t, err)
	require.Len(t, orders, 2)

	assert.Equal(t, "Ana", orders[0].ClientName)
	assert.Equal(t, []string{"0002", "0010"}, orders[0].Numbers)
	assert.Equal(t, []string{ana[0].ID, ana[1].ID}, orders[0].TicketIDs)
	assert.True(t, orders[0].Total.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, "reserved", orders[0].Status)

	_, err = admin.VerifyOrder(context.Background(), []string{ana[0].ID, ana[1].ID})
	require.NoError(t, err)

	paid, err := admin.Orders(context.Background(), "r1", models.TicketPaid)
	require.NoError(t, err)
	require.Len(t, paid, 1)
	assert.Equal(t, "Ana", paid[0].ClientName)

	_, err = admin.Orders(context.Background(), "nope", "")
	assert.ErrorIs(t, err, status.ErrNotFound)
}

func TestAdmin_ExportCSV(t *testing.T) {
	st := newMemStore(nil, testRaffle("r1", true))
	st.seed("r1", models.TicketReserved, 9, 3)
	admin := NewAdminService(st, "")

	var buf bytes.Buffer
	require.NoError(t, admin.ExportCSV(context.Background(), "r1", &buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Ticket Number,Status,Client Name,Client Phone,Client ID,Client Email,Price Paid,Payment Method,Date", lines[0])
	assert.Equal(t, "0003,reserved,Seed,04140000000,,,5.00,,0001-01-01 00:00", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "0009,"))
}

func TestCSVFilename(t *testing.T) {
	r := testRaffle("r1", true)
	r.Title = "Moto 0km!"
	assert.Equal(t, "rifa_Moto_0km__10000.csv", CSVFilename(r))
}

func TestAdmin_DrawWinner(t *testing.T) {
	st := newMemStore(nil, testRaffle("r1", true))
	st.seed("r1", models.TicketReserved, 1, 2)
	admin := NewAdminService(st, "")

	_, err := admin.DrawWinner(context.Background(), "r1")
	assert.ErrorIs(t, err, status.ErrNoPaidTickets)

	st.seed("r1", models.TicketPaid, 77)
	for i := 0; i < 5; i++ {
		winner, err := admin.DrawWinner(context.Background(), "r1")
		require.NoError(t, err)
		assert.Equal(t, 77, winner.Number)
	}
}

func TestCatalog_ListOnSale(t *testing.T) {
	closed := testRaffle("r2", true)
	closed.Status = models.RaffleClosed
	video := testRaffle("r1", true)
	video.ImageURL = "https://cdn.test/promo.MP4"
	st := newMemStore(nil, video, closed)
	st.seed("r1", models.TicketReserved, 1, 2)
	st.seed("r2", models.TicketReserved, 1)

	summaries, err := NewCatalogService(st).ListOnSale(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "r1", summaries[0].ID)
	assert.Equal(t, 2, summaries[0].Sold)
	assert.Equal(t, 9998, summaries[0].Available)
	assert.True(t, summaries[0].IsVideo)
}

func TestCatalog_LookupTickets(t *testing.T) {
	st := newMemStore(nil, testRaffle("r1", true))
	insertOrder(t, st, "r1", "Ana", "04141234567", 5)
	insertOrder(t, st, "r1", "Ana", "04141234567", 6)
	catalog := NewCatalogService(st)

	_, err := catalog.LookupTickets(context.Background(), " 12 ")
	assert.ErrorIs(t, err, ErrLookupQuery)

	byPhone, err := catalog.LookupTickets(context.Background(), "04141234567")
	require.NoError(t, err)
	require.Len(t, byPhone, 2)
	assert.Equal(t, "0006", byPhone[0].Label, "newest first")
	assert.Equal(t, "Moto 0km", byPhone[0].RaffleTitle)

	byEmail, err := catalog.LookupTickets(context.Background(), "ANA@Example.com")
	require.NoError(t, err)
	assert.Len(t, byEmail, 2)
}

func TestCatalog_Slides(t *testing.T) {
	catalog := NewCatalogService(newMemStore(nil))

	slides, err := catalog.Slides(context.Background(), "winner")
	require.NoError(t, err)
	require.Len(t, slides, 1)
	assert.Equal(t, models.SectionWinner, slides[0].Section)

	_, err = catalog.Slides(context.Background(), "footer")
	assert.ErrorIs(t, err, status.ErrNotFound)
}
