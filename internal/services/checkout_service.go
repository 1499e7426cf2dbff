package services

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"raffle-system/internal/services/realtime"
	"raffle-system/internal/services/store"
	"raffle-system/internal/status"
	"raffle-system/models"
	"raffle-system/monitoring"
	"raffle-system/utils"
)

type CheckoutConfig struct {
	Brand            string
	SessionTTL       time.Duration
	SpinRevealDelay  time.Duration
	BurstRevealDelay time.Duration
	PageSize         int
	RequireEmail     bool
	SubmitTimeout    time.Duration
	ReceiptsBucket   string
	FallbackBucket   string
	TicketsBucket    string
}

func (c *CheckoutConfig) setDefaults() {
	if c.SessionTTL <= 0 {
		c.SessionTTL = 30 * time.Minute
	}
	if c.SpinRevealDelay <= 0 {
		c.SpinRevealDelay = 2500 * time.Millisecond
	}
	if c.BurstRevealDelay <= 0 {
		c.BurstRevealDelay = 1500 * time.Millisecond
	}
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = time.Minute
	}
	if c.ReceiptsBucket == "" {
		c.ReceiptsBucket = "receipts"
	}
	if c.FallbackBucket == "" {
		c.FallbackBucket = "public"
	}
	if c.TicketsBucket == "" {
		c.TicketsBucket = "tickets"
	}
}

type CheckoutOption func(*CheckoutService)

// WithRandSource replaces the generator factory used for new sessions.
func WithRandSource(fn func() *rand.Rand) CheckoutOption {
	return func(c *CheckoutService) { c.newRand = fn }
}

// CheckoutService owns the live checkout sessions.
type CheckoutService struct {
	store    store.TicketStore
	feed     realtime.Feed
	files    store.FileStore
	receipts *ReceiptUploader
	notifier Notifier
	monitor  *monitoring.Monitor
	cfg      CheckoutConfig
	newRand  func() *rand.Rand

	mu         sync.Mutex
	sessions   map[string]*CheckoutSession
	deliveries sync.WaitGroup
}

func NewCheckoutService(
	st store.TicketStore,
	feed realtime.Feed,
	files store.FileStore,
	notifier Notifier,
	monitor *monitoring.Monitor,
	cfg CheckoutConfig,
	opts ...CheckoutOption,
) *CheckoutService {
	cfg.setDefaults()
	if notifier == nil {
		notifier = LogNotifier{}
	}
	c := &CheckoutService{
		store:    st,
		feed:     feed,
		files:    files,
		receipts: NewReceiptUploader(files, cfg.ReceiptsBucket, cfg.FallbackBucket, monitor),
		notifier: notifier,
		monitor:  monitor,
		cfg:      cfg,
		newRand:  newRand,
		sessions: make(map[string]*CheckoutSession),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CheckoutService) Config() CheckoutConfig {
	return c.cfg
}

// Open loads a raffle's availability and starts a session on it. The feed
// subscription is taken before the occupied set is fetched; events landing
// in between are replayed on top of the fetched set.
func (c *CheckoutService) Open(ctx context.Context, raffleID string) (*CheckoutSession, error) {
	raffle, err := c.store.FetchRaffle(ctx, raffleID)
	if err != nil {
		return nil, err
	}

	sess := newCheckoutSession(utils.GenerateSessionID(), c, *raffle, c.newRand())
	sess.unsubscribe = c.feed.Subscribe(raffle.ID, sess.apply)

	occupied, err := c.store.FetchOccupied(ctx, raffle.ID)
	if err != nil {
		sess.close()
		return nil, fmt.Errorf("load occupied tickets: %w", err)
	}
	methods, err := c.store.FetchPaymentMethods(ctx, raffle.ID)
	if err != nil {
		sess.close()
		return nil, fmt.Errorf("load payment methods: %w", err)
	}

	prices, err := c.store.FetchPrices(ctx, raffle.ID)
	if err != nil {
		slog.Warn("raffle prices unavailable, quoting base price only", "raffleID", raffle.ID, "error", err)
	}
	currencies, err := c.store.FetchCurrencies(ctx)
	if err != nil {
		slog.Warn("currency rates unavailable", "raffleID", raffle.ID, "error", err)
	}

	sess.load(occupied, methods, prices, currencies)

	c.mu.Lock()
	c.sessions[sess.ID] = sess
	active := len(c.sessions)
	c.mu.Unlock()
	c.monitor.SetActiveSessions(active)

	slog.Info("checkout session opened", "session", sess.ID, "raffleID", raffle.ID, "occupied", len(occupied))
	return sess, nil
}

func (c *CheckoutService) Get(id string) (*CheckoutSession, error) {
	if !utils.IsValidSessionID(id) {
		return nil, status.ErrSessionNotFound
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[id]
	if !ok {
		return nil, status.ErrSessionNotFound
	}
	return sess, nil
}

func (c *CheckoutService) Close(id string) error {
	c.mu.Lock()
	sess, ok := c.sessions[id]
	delete(c.sessions, id)
	active := len(c.sessions)
	c.mu.Unlock()

	if !ok {
		return status.ErrSessionNotFound
	}
	sess.close()
	c.monitor.SetActiveSessions(active)
	return nil
}

// ExpireIdle closes sessions untouched for longer than the session TTL.
// Sessions with a submission in flight are kept.
func (c *CheckoutService) ExpireIdle(now time.Time) int {
	var expired []*CheckoutSession

	c.mu.Lock()
	for id, sess := range c.sessions {
		last, submitting := sess.idleSince()
		if submitting || now.Sub(last) < c.cfg.SessionTTL {
			continue
		}
		expired = append(expired, sess)
		delete(c.sessions, id)
	}
	active := len(c.sessions)
	c.mu.Unlock()

	for _, sess := range expired {
		sess.close()
	}
	if len(expired) > 0 {
		c.monitor.SetActiveSessions(active)
		slog.Info("expired idle checkout sessions", "count", len(expired), "active", active)
	}
	return len(expired)
}

func (c *CheckoutService) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.ExpireIdle(now)
		}
	}
}

// Shutdown closes every session and waits for pending ticket deliveries.
func (c *CheckoutService) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	sessions := make([]*CheckoutSession, 0, len(c.sessions))
	for _, sess := range c.sessions {
		sessions = append(sessions, sess)
	}
	c.sessions = make(map[string]*CheckoutSession)
	c.mu.Unlock()

	for _, sess := range sessions {
		sess.close()
	}
	c.monitor.SetActiveSessions(0)

	done := make(chan struct{})
	go func() {
		c.deliveries.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for ticket deliveries: %w", ctx.Err())
	}
}

// Wait blocks until background ticket deliveries have finished.
func (c *CheckoutService) Wait() {
	c.deliveries.Wait()
}

func (c *CheckoutService) renderDocuments(raffle models.Raffle, tickets []models.Ticket) map[int][]byte {
	docs := make(map[int][]byte, len(tickets))
	for _, t := range tickets {
		data, err := RenderTicketPDF(TicketDocument{
			Brand:       c.cfg.Brand,
			RaffleTitle: raffle.Title,
			Number:      t.Number,
			Width:       raffle.NumberWidth(),
			Price:       t.PricePaid,
			IssuedAt:    t.CreatedAt,
		})
		if err != nil {
			slog.Error("ticket pdf render failed", "raffleID", raffle.ID, "ticket", t.Number, "error", err)
			continue
		}
		docs[t.Number] = data
	}
	return docs
}

// deliver uploads the ticket documents and notifies the buyer in the
// background. Failures are logged and never reach the purchase outcome.
func (c *CheckoutService) deliver(raffle models.Raffle, buyer Buyer, tickets []models.Ticket, docs map[int][]byte) {
	c.deliveries.Add(1)
	go func() {
		defer c.deliveries.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		links := make(map[int]string, len(docs))
		for _, t := range tickets {
			data, ok := docs[t.Number]
			if !ok {
				continue
			}
			key := fmt.Sprintf("%s/%s_%s.pdf", raffle.ID, t.ID, models.Label(t.Number, raffle.NumberWidth()))
			url, err := c.files.Upload(ctx, c.cfg.TicketsBucket, key, data)
			if err != nil {
				slog.Warn("ticket document upload failed", "raffleID", raffle.ID, "ticket", t.Number, "error", err)
				continue
			}
			links[t.Number] = url
		}

		notice := TicketNotice{
			Brand:   c.cfg.Brand,
			Raffle:  raffle,
			Buyer:   buyer,
			Tickets: tickets,
			Links:   links,
		}
		if err := c.notifier.SendTickets(ctx, notice); err != nil {
			slog.Error("ticket notification failed", "raffleID", raffle.ID, "email", buyer.Email, "error", err)
		}
	}()
}
