package services

import (
	"bytes"
	"fmt"
	"time"

	"raffle-system/models"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"
)

const (
	ticketPageWidth  = 400.0
	ticketPageHeight = 200.0
)

// TicketDocument is the data printed on one downloadable ticket.
type TicketDocument struct {
	Brand       string
	RaffleTitle string
	Number      int
	Width       int
	Price       decimal.Decimal
	IssuedAt    time.Time
}

// RenderTicketPDF lays out a 400x200pt ticket. The page size is given
// width-first, so the orientation stays "P". Core fonts only cover cp1252,
// text goes through the font's translator.
func RenderTicketPDF(doc TicketDocument) ([]byte, error) {
	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           fpdf.SizeType{Wd: ticketPageWidth, Ht: ticketPageHeight},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFillColor(253, 251, 247)
	pdf.Rect(0, 0, ticketPageWidth, ticketPageHeight, "F")

	pdf.SetDrawColor(253, 164, 175)
	pdf.SetLineWidth(4)
	pdf.Rect(10, 10, ticketPageWidth-20, ticketPageHeight-20, "D")

	pdf.SetAlpha(0.1, "Normal")
	pdf.SetFillColor(253, 164, 175)
	pdf.Circle(ticketPageWidth-60, ticketPageHeight/2, 45, "F")
	pdf.SetAlpha(1, "Normal")

	pdf.SetFont("Helvetica", "B", 20)
	pdf.SetTextColor(136, 19, 55)
	pdf.Text(30, 50, tr(doc.Brand))

	pdf.SetFont("Helvetica", "B", 35)
	pdf.SetTextColor(51, 65, 85)
	pdf.Text(30, 95, "Ticket #"+models.Label(doc.Number, doc.Width))

	pdf.SetFont("Helvetica", "", 14)
	pdf.SetTextColor(102, 115, 140)
	pdf.Text(30, 125, tr(truncate(doc.RaffleTitle, 40)))

	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(153, 153, 153)
	pdf.Text(30, ticketPageHeight-40, fmt.Sprintf("Precio: $%s - Fecha: %s", doc.Price.StringFixed(2), doc.IssuedAt.Format("02/01/2006")))

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render ticket %d: %w", doc.Number, err)
	}
	return buf.Bytes(), nil
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
