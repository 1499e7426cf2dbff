package pgstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"strings"
	"time"

	"raffle-system/internal/services/store"
	"raffle-system/internal/status"
	"raffle-system/models"

	"github.com/lib/pq"
)

//go:embed schema.sql
var schema string

const ticketColumns = `id, raffle_id, ticket_number, status, client_name, client_phone, client_email,
	client_id_number, price_paid, payment_method, payment_receipt_url, created_at`

// Store implements store.TicketStore on a plain Postgres database
// (self-hosted or a hosted Supabase project).
type Store struct {
	db *sql.DB
}

var _ store.TicketStore = (*Store)(nil)

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to dsn, retrying while the database is still starting.
func Open(ctx context.Context, dsn string) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)
	const maxRetries = 10

	for i := 1; i <= maxRetries; i++ {
		db, err = sql.Open("postgres", dsn)
		if err == nil {
			err = db.PingContext(ctx)
		}
		if err == nil {
			log.Println("Postgres connected")
			return New(db), nil
		}
		if db != nil {
			db.Close()
		}

		log.Printf("Postgres not ready (attempt %d/%d): %v", i, maxRetries, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return nil, fmt.Errorf("connect postgres: %w", err)
}

// Migrate creates the tables, the unique index and the change trigger.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRaffle(row scanner) (models.Raffle, error) {
	var r models.Raffle
	var st string
	err := row.Scan(&r.ID, &r.Title, &r.Description, &r.Price, &r.TotalTickets,
		&r.ImageURL, &r.AllowMultiTicket, &st, &r.CreatedAt)
	r.Status = models.RaffleStatus(st)
	return r, err
}

func scanTicket(row scanner) (models.Ticket, error) {
	var t models.Ticket
	var st string
	err := row.Scan(&t.ID, &t.RaffleID, &t.Number, &st, &t.ClientName, &t.ClientPhone, &t.ClientEmail,
		&t.ClientIDNumber, &t.PricePaid, &t.PaymentMethod, &t.ReceiptURL, &t.CreatedAt)
	t.Status = models.TicketStatus(st)
	return t, err
}

const raffleColumns = `id, title, description, price, total_tickets, image_url, allow_multi_ticket, status, created_at`

func (s *Store) FetchRaffle(ctx context.Context, id string) (*models.Raffle, error) {
	r, err := scanRaffle(s.db.QueryRowContext(ctx,
		`SELECT `+raffleColumns+` FROM raffles WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, status.ErrNotFound
		}
		return nil, fmt.Errorf("fetch raffle %s: %w", id, err)
	}

	r.Normalize()
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("raffle %s is malformed: %w", id, err)
	}
	return &r, nil
}

func (s *Store) ListRaffles(ctx context.Context, state models.RaffleStatus) ([]models.Raffle, error) {
	query := `SELECT ` + raffleColumns + ` FROM raffles`
	var args []any
	if state != "" {
		query += ` WHERE status = $1`
		args = append(args, string(state))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list raffles: %w", err)
	}
	defer rows.Close()

	var out []models.Raffle
	for rows.Next() {
		r, err := scanRaffle(rows)
		if err != nil {
			return nil, err
		}
		r.Normalize()
		if err := r.Validate(); err != nil {
			slog.Warn("skipping malformed raffle", "raffleID", r.ID, "error", err)
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) FetchOccupied(ctx context.Context, raffleID string) ([]models.OccupiedTicket, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ticket_number, status FROM tickets WHERE raffle_id = $1`, raffleID)
	if err != nil {
		return nil, fmt.Errorf("fetch occupied tickets: %w", err)
	}
	defer rows.Close()

	var out []models.OccupiedTicket
	for rows.Next() {
		var (
			number int
			st     string
		)
		if err := rows.Scan(&number, &st); err != nil {
			return nil, err
		}
		out = append(out, models.OccupiedTicket{Number: number, Status: models.TicketStatus(st)})
	}
	return out, rows.Err()
}

func (s *Store) FetchPaymentMethods(ctx context.Context, raffleID string) ([]models.PaymentMethod, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, raffle_id, bank_name, account_number, account_type, account_owner, image_url
		FROM payment_methods
		WHERE raffle_id = $1 OR raffle_id = ''
		ORDER BY bank_name`, raffleID)
	if err != nil {
		return nil, fmt.Errorf("fetch payment methods: %w", err)
	}
	defer rows.Close()

	var out []models.PaymentMethod
	for rows.Next() {
		var m models.PaymentMethod
		if err := rows.Scan(&m.ID, &m.RaffleID, &m.BankName, &m.AccountNumber, &m.AccountType, &m.AccountOwner, &m.ImageURL); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) FetchPrices(ctx context.Context, raffleID string) ([]models.RafflePrice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, raffle_id, upper(currency_code), price, is_primary
		FROM raffle_prices
		WHERE raffle_id = $1
		ORDER BY is_primary DESC`, raffleID)
	if err != nil {
		return nil, fmt.Errorf("fetch raffle prices: %w", err)
	}
	defer rows.Close()

	var out []models.RafflePrice
	for rows.Next() {
		var p models.RafflePrice
		if err := rows.Scan(&p.ID, &p.RaffleID, &p.CurrencyCode, &p.Price, &p.IsPrimary); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) FetchCurrencies(ctx context.Context) ([]models.CurrencyRate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, upper(code), symbol, rate, is_active
		FROM currencies
		WHERE is_active
		ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("fetch currencies: %w", err)
	}
	defer rows.Close()

	var out []models.CurrencyRate
	for rows.Next() {
		var c models.CurrencyRate
		if err := rows.Scan(&c.ID, &c.Code, &c.Symbol, &c.Rate, &c.IsActive); err != nil {
			return nil, err
		}
		if err := c.Validate(); err != nil {
			slog.Warn("skipping malformed currency", "id", c.ID, "error", err)
			continue
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) FetchSlides(ctx context.Context, section models.ContentSection) ([]models.ContentSlide, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, section, title, subtitle, image_url, link_url, created_at
		FROM site_content
		WHERE section = $1
		ORDER BY created_at DESC`, string(section))
	if err != nil {
		return nil, fmt.Errorf("fetch %s slides: %w", section, err)
	}
	defer rows.Close()

	var out []models.ContentSlide
	for rows.Next() {
		var c models.ContentSlide
		var sec string
		if err := rows.Scan(&c.ID, &sec, &c.Title, &c.Subtitle, &c.ImageURL, &c.LinkURL, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Section = models.ContentSection(sec)
		out = append(out, c)
	}
	return out, rows.Err()
}

// InsertTickets writes the whole batch as one multi-row INSERT, so a clash
// on (raffle_id, ticket_number) rejects every row.
func (s *Store) InsertTickets(ctx context.Context, drafts []models.TicketDraft) ([]models.Ticket, error) {
	if len(drafts) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(drafts)*insertColumns)
	for _, d := range drafts {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("ticket %d: %w", d.Number, err)
		}
		args = append(args, d.RaffleID, d.Number, string(d.Status), d.ClientName, d.ClientPhone,
			d.ClientEmail, d.ClientIDNumber, d.PricePaid, d.PaymentMethod, d.ReceiptURL)
	}

	rows, err := s.db.QueryContext(ctx, insertTicketsQuery(len(drafts)), args...)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("insert tickets: %w", status.ErrUniqueViolation)
		}
		return nil, fmt.Errorf("insert tickets: %w", err)
	}
	defer rows.Close()

	out := make([]models.Ticket, 0, len(drafts))
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("insert tickets: %w", status.ErrUniqueViolation)
		}
		return nil, err
	}
	return out, nil
}

const insertColumns = 10

// insertTicketsQuery builds "INSERT ... VALUES ($1..$10), ($11..$20) ... RETURNING".
func insertTicketsQuery(n int) string {
	var b strings.Builder
	b.WriteString(`INSERT INTO tickets (raffle_id, ticket_number, status, client_name, client_phone,
	client_email, client_id_number, price_paid, payment_method, payment_receipt_url) VALUES `)

	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := 1; j <= insertColumns; j++ {
			if j > 1 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", i*insertColumns+j)
		}
		b.WriteByte(')')
	}
	b.WriteString(` RETURNING ` + ticketColumns)
	return b.String()
}

func (s *Store) UpdateTicketsStatus(ctx context.Context, ids []string, next models.TicketStatus) ([]models.Ticket, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, status FROM tickets WHERE id = ANY($1) FOR UPDATE`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("lock tickets: %w", err)
	}
	for rows.Next() {
		var id, cur string
		if err := rows.Scan(&id, &cur); err != nil {
			rows.Close()
			return nil, err
		}
		if !models.TicketStatus(cur).CanTransition(next) {
			rows.Close()
			return nil, fmt.Errorf("ticket %s %s -> %s: %w", id, cur, next, status.ErrInvalidTransition)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = tx.QueryContext(ctx,
		`UPDATE tickets SET status = $1 WHERE id = ANY($2) RETURNING `+ticketColumns, string(next), pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("update tickets: %w", err)
	}
	var out []models.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit status update: %w", err)
	}
	return out, nil
}

func (s *Store) ListTickets(ctx context.Context, raffleID string) ([]models.Ticket, error) {
	return s.queryTickets(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE raffle_id = $1 ORDER BY created_at DESC`, raffleID)
}

func (s *Store) FindTicketsByContact(ctx context.Context, contact string) ([]models.Ticket, error) {
	return s.queryTickets(ctx,
		`SELECT `+ticketColumns+` FROM tickets
		WHERE client_phone = $1 OR client_email = $1
		ORDER BY created_at DESC
		LIMIT 200`, contact)
}

func (s *Store) CountOccupied(ctx context.Context, raffleID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM tickets WHERE raffle_id = $1`, raffleID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count tickets: %w", err)
	}
	return n, nil
}

func (s *Store) queryTickets(ctx context.Context, query string, args ...any) ([]models.Ticket, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tickets: %w", err)
	}
	defer rows.Close()

	var out []models.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// isUniqueViolation matches SQLSTATE 23505.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
