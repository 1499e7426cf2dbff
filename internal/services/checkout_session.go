package services

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"raffle-system/internal/status"
	"raffle-system/models"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

type CheckoutState string

const (
	StateIdle       CheckoutState = "idle"
	StateFormOpen   CheckoutState = "form_open"
	StateSubmitting CheckoutState = "submitting"
	StateSucceeded  CheckoutState = "succeeded"
	StateFailed     CheckoutState = "failed"
)

// FormOpen reports whether the cart is frozen behind an open checkout form.
func (s CheckoutState) FormOpen() bool {
	return s == StateFormOpen || s == StateSubmitting || s == StateFailed
}

type Buyer struct {
	Name          string `json:"name"`
	Phone         string `json:"phone"`
	Email         string `json:"email"`
	IDNumber      string `json:"id_number"`
	PaymentMethod string `json:"payment_method"`
}

func (b Buyer) Normalize() Buyer {
	b.Name = strings.TrimSpace(b.Name)
	b.Phone = strings.TrimSpace(b.Phone)
	b.Email = strings.ToLower(strings.TrimSpace(b.Email))
	b.IDNumber = strings.TrimSpace(b.IDNumber)
	b.PaymentMethod = strings.TrimSpace(b.PaymentMethod)
	return b
}

func (b Buyer) Validate(requireEmail bool) error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.Name, validation.Required, validation.Length(2, 120)),
		validation.Field(&b.Phone, validation.Required, validation.Length(6, 32)),
		validation.Field(&b.Email, validation.When(requireEmail, validation.Required), is.EmailFormat),
		validation.Field(&b.IDNumber, validation.Length(0, 32)),
	)
}

type SpinPreview struct {
	Number        int    `json:"number"`
	Label         string `json:"label"`
	RevealAfterMs int64  `json:"reveal_after_ms"`
}

type BurstPreview struct {
	Requested     int      `json:"requested"`
	Numbers       []int    `json:"numbers"`
	Labels        []string `json:"labels"`
	Partial       bool     `json:"partial"`
	RevealAfterMs int64    `json:"reveal_after_ms"`
}

type SubmitResult struct {
	Tickets    []models.Ticket `json:"tickets"`
	Quote      Quote           `json:"quote"`
	ReceiptURL string          `json:"receipt_url"`
}

// SessionView is everything a client needs to render the checkout page.
type SessionView struct {
	SessionID      string                 `json:"session_id"`
	Raffle         models.Raffle          `json:"raffle"`
	State          CheckoutState          `json:"state"`
	Selection      []int                  `json:"selection"`
	Conflicts      []int                  `json:"conflicts,omitempty"`
	Evicted        []int                  `json:"evicted,omitempty"`
	Reserved       int                    `json:"reserved"`
	Paid           int                    `json:"paid"`
	Available      int                    `json:"available"`
	PaymentMethods []models.PaymentMethod `json:"payment_methods"`
	Quote          *Quote                 `json:"quote,omitempty"`
	Spin           *SpinPreview           `json:"spin,omitempty"`
	Burst          *BurstPreview          `json:"burst,omitempty"`
	LastError      string                 `json:"last_error,omitempty"`
	Purchased      []models.Ticket        `json:"purchased,omitempty"`
	Revision       uint64                 `json:"revision"`
}

// CheckoutSession is one visitor's view of one raffle: the occupied index
// kept live by the ticket feed, the cart, pending draws and the checkout
// form. Every method is safe for concurrent use; no store I/O happens while
// mu is held.
type CheckoutSession struct {
	ID string

	svc    *CheckoutService
	raffle models.Raffle

	mu         sync.Mutex
	methods    []models.PaymentMethod
	prices     []models.RafflePrice
	currencies []models.CurrencyRate
	engine     *SelectionEngine
	rng        *rand.Rand

	state      CheckoutState
	submitting bool
	snapshot   []int
	quote      *Quote
	lastError  string
	evicted    []int
	purchased  []models.Ticket
	documents  map[int][]byte

	spin  *int
	burst *BurstPreview

	revision   uint64
	lastActive time.Time

	loading       bool
	pending       []models.TicketEvent
	resyncing     bool
	resyncPending bool
	closed        bool
	unsubscribe   func()
	wg            sync.WaitGroup
}

func newCheckoutSession(id string, svc *CheckoutService, raffle models.Raffle, rng *rand.Rand) *CheckoutSession {
	return &CheckoutSession{
		ID:         id,
		svc:        svc,
		raffle:     raffle,
		engine:     NewSelectionEngine(NewOccupiedIndex(nil), raffle.TotalTickets, raffle.AllowMultiTicket),
		rng:        rng,
		state:      StateIdle,
		loading:    true,
		lastActive: time.Now(),
	}
}

func (s *CheckoutSession) RaffleID() string {
	return s.raffle.ID
}

// load installs the initial occupied set and replays events that arrived
// while it was being fetched.
func (s *CheckoutSession) load(tickets []models.OccupiedTicket, methods []models.PaymentMethod, prices []models.RafflePrice, currencies []models.CurrencyRate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.engine.occupied.Replace(tickets)
	s.methods = methods
	s.prices = prices
	s.currencies = currencies
	s.loading = false

	unkeyed := false
	for _, evt := range s.pending {
		if evt.Keyed && evt.Kind != models.TicketDeleted {
			s.engine.occupied.Mark(evt.Number, evt.Status)
		} else {
			unkeyed = true
		}
	}
	s.pending = nil
	s.revision++

	if unkeyed {
		s.startResyncLocked()
	}
}

func (s *CheckoutSession) touch() {
	s.lastActive = time.Now()
}

func (s *CheckoutSession) idleSince() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive, s.submitting
}

func (s *CheckoutSession) View() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *CheckoutSession) viewLocked() SessionView {
	reserved, paid := s.engine.occupied.Counts()
	v := SessionView{
		SessionID:      s.ID,
		Raffle:         s.raffle,
		State:          s.state,
		Selection:      s.engine.selection.Numbers(),
		Evicted:        slices.Clone(s.evicted),
		Reserved:       reserved,
		Paid:           paid,
		Available:      s.engine.Available(),
		PaymentMethods: s.methods,
		LastError:      s.lastError,
		Purchased:      s.purchased,
		Revision:       s.revision,
	}
	if s.state.FormOpen() {
		v.Conflicts = s.engine.Conflicts()
	}
	if s.quote != nil {
		q := *s.quote
		v.Quote = &q
	}
	if s.spin != nil {
		v.Spin = &SpinPreview{
			Number:        *s.spin,
			Label:         s.label(*s.spin),
			RevealAfterMs: s.svc.cfg.SpinRevealDelay.Milliseconds(),
		}
	}
	if s.burst != nil {
		v.Burst = s.burstViewLocked()
	}
	return v
}

func (s *CheckoutSession) label(n int) string {
	return models.Label(n, s.raffle.NumberWidth())
}

func (s *CheckoutSession) burstViewLocked() *BurstPreview {
	b := *s.burst
	b.Numbers = slices.Clone(s.burst.Numbers)
	b.Labels = make([]string, len(b.Numbers))
	for i, n := range b.Numbers {
		b.Labels[i] = s.label(n)
	}
	b.Partial = len(b.Numbers) < b.Requested
	b.RevealAfterMs = s.svc.cfg.BurstRevealDelay.Milliseconds()
	return &b
}

func (s *CheckoutSession) ensureEditable() error {
	if s.state.FormOpen() {
		return status.ErrCheckoutInProgress
	}
	return nil
}

// userMutation resets per-action feedback before a cart change.
func (s *CheckoutSession) userMutation() {
	s.touch()
	s.evicted = nil
	if s.state == StateSucceeded {
		s.state = StateIdle
		s.purchased = nil
	}
}

func (s *CheckoutSession) Toggle(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureEditable(); err != nil {
		return err
	}
	s.userMutation()
	changed, err := s.engine.Toggle(n)
	if err != nil {
		return err
	}
	if changed {
		s.revision++
	}
	return nil
}

func (s *CheckoutSession) Remove(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureEditable(); err != nil {
		return err
	}
	s.userMutation()
	if s.engine.Remove(n) {
		s.revision++
	}
	return nil
}

func (s *CheckoutSession) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureEditable(); err != nil {
		return err
	}
	s.userMutation()
	s.engine.Clear()
	s.revision++
	return nil
}

// Spin draws one candidate number. The preview is not part of the cart
// until AcceptSpin; a failed draw leaves everything untouched.
func (s *CheckoutSession) Spin() (SpinPreview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureEditable(); err != nil {
		return SpinPreview{}, err
	}
	s.touch()

	n, err := DrawOne(s.rng, s.raffle.TotalTickets, s.engine.Excluded)
	if err != nil {
		s.svc.monitor.TrackDraw("spin", "sold_out")
		return SpinPreview{}, err
	}
	s.svc.monitor.TrackDraw("spin", "ok")

	s.spin = &n
	s.burst = nil
	s.revision++
	return SpinPreview{Number: n, Label: s.label(n), RevealAfterMs: s.svc.cfg.SpinRevealDelay.Milliseconds()}, nil
}

// RerollSpin discards the pending candidate and draws another one.
func (s *CheckoutSession) RerollSpin() (SpinPreview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureEditable(); err != nil {
		return SpinPreview{}, err
	}
	if s.spin == nil {
		return SpinPreview{}, status.ErrNoPreview
	}
	s.touch()

	current := *s.spin
	n, err := DrawOne(s.rng, s.raffle.TotalTickets, func(n int) bool {
		return n == current || s.engine.Excluded(n)
	})
	if err != nil {
		s.svc.monitor.TrackDraw("reroll", "sold_out")
		return SpinPreview{}, err
	}
	s.svc.monitor.TrackDraw("reroll", "ok")

	s.spin = &n
	s.revision++
	return SpinPreview{Number: n, Label: s.label(n), RevealAfterMs: s.svc.cfg.SpinRevealDelay.Milliseconds()}, nil
}

func (s *CheckoutSession) AcceptSpin() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureEditable(); err != nil {
		return 0, err
	}
	if s.spin == nil {
		return 0, status.ErrNoPreview
	}
	s.userMutation()

	n := *s.spin
	s.spin = nil
	s.revision++
	if !s.engine.Add(n) {
		return n, status.ErrNumberOccupied
	}
	return n, nil
}

func (s *CheckoutSession) CancelSpin() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touch()
	if s.spin != nil {
		s.spin = nil
		s.revision++
	}
}

// Burst draws up to count candidates at once.
func (s *CheckoutSession) Burst(count int) (BurstPreview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureEditable(); err != nil {
		return BurstPreview{}, err
	}
	if count > 1 && !s.raffle.AllowMultiTicket {
		return BurstPreview{}, status.ErrSingleTicket
	}
	s.touch()

	numbers, err := DrawBurst(s.rng, s.raffle.TotalTickets, count, s.engine.Excluded)
	if err != nil {
		if errors.Is(err, status.ErrNearlySoldOut) {
			s.svc.monitor.TrackDraw("burst", "sold_out")
		}
		return BurstPreview{}, err
	}

	outcome := "ok"
	if len(numbers) < count {
		outcome = "partial"
	}
	s.svc.monitor.TrackDraw("burst", outcome)

	s.burst = &BurstPreview{Requested: count, Numbers: numbers}
	s.spin = nil
	s.revision++
	return *s.burstViewLocked(), nil
}

// RerollBurstSlot replaces a single pending candidate.
func (s *CheckoutSession) RerollBurstSlot(slot int) (BurstPreview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureEditable(); err != nil {
		return BurstPreview{}, err
	}
	if s.burst == nil {
		return BurstPreview{}, status.ErrNoPreview
	}
	s.touch()

	n, err := RerollSlot(s.rng, s.raffle.TotalTickets, s.burst.Numbers, slot, s.engine.Excluded)
	if err != nil {
		return BurstPreview{}, err
	}
	s.svc.monitor.TrackDraw("reroll", "ok")

	s.burst.Numbers[slot] = n
	s.revision++
	return *s.burstViewLocked(), nil
}

// AcceptBurst moves the pending candidates into the cart. Candidates taken
// in the meantime are skipped and returned.
func (s *CheckoutSession) AcceptBurst() (added, skipped []int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureEditable(); err != nil {
		return nil, nil, err
	}
	if s.burst == nil {
		return nil, nil, status.ErrNoPreview
	}
	s.userMutation()

	for _, n := range s.burst.Numbers {
		if s.engine.Add(n) {
			added = append(added, n)
		} else {
			skipped = append(skipped, n)
		}
	}
	s.burst = nil
	s.revision++
	return added, skipped, nil
}

func (s *CheckoutSession) CancelBurst() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touch()
	if s.burst != nil {
		s.burst = nil
		s.revision++
	}
}

// OpenCheckout freezes the cart into a snapshot and prices it.
func (s *CheckoutSession) OpenCheckout() (Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureEditable(); err != nil {
		return Quote{}, err
	}
	if !s.raffle.OnSale() {
		return Quote{}, status.ErrRaffleNotOnSale
	}
	if s.engine.selection.Len() == 0 {
		return Quote{}, status.ErrEmptySelection
	}
	s.touch()

	s.snapshot = s.engine.selection.Numbers()
	q := BuildQuote(len(s.snapshot), s.raffle.Price, s.prices, s.currencies)
	s.quote = &q
	s.state = StateFormOpen
	s.lastError = ""
	s.purchased = nil
	s.spin = nil
	s.burst = nil
	s.revision++
	return q, nil
}

// CancelCheckout closes the form and applies evictions deferred while it was open.
func (s *CheckoutSession) CancelCheckout() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.submitting {
		return status.ErrSubmitInProgress
	}
	if !s.state.FormOpen() {
		return status.ErrFormNotOpen
	}
	s.touch()

	s.state = StateIdle
	s.snapshot = nil
	s.quote = nil
	s.lastError = ""
	s.reconcileSelectionLocked()
	s.revision++
	return nil
}

// Submit reserves the snapshot for buyer. The store's uniqueness constraint
// is the only arbiter between concurrent buyers; losing it leaves the cart
// as it was and the form open. The work runs detached from ctx's
// cancellation so a dropped request can not abandon a half-done purchase.
func (s *CheckoutSession) Submit(ctx context.Context, buyer Buyer, receipt *Receipt) (*SubmitResult, error) {
	buyer = buyer.Normalize()

	s.mu.Lock()
	if s.submitting {
		s.mu.Unlock()
		return nil, status.ErrSubmitInProgress
	}
	if s.state != StateFormOpen && s.state != StateFailed {
		s.mu.Unlock()
		return nil, status.ErrFormNotOpen
	}
	if err := buyer.Validate(s.svc.cfg.RequireEmail); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.submitting = true
	s.state = StateSubmitting
	s.lastError = ""
	s.touch()
	s.revision++
	numbers := slices.Clone(s.snapshot)
	quote := *s.quote
	raffle := s.raffle
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.svc.cfg.SubmitTimeout)
	defer cancel()
	started := time.Now()

	receiptURL := ""
	if receipt != nil {
		receiptURL = s.svc.receipts.Upload(ctx, *receipt)
	}

	drafts := make([]models.TicketDraft, 0, len(numbers))
	for _, n := range numbers {
		drafts = append(drafts, models.TicketDraft{
			RaffleID:       raffle.ID,
			Number:         n,
			Status:         models.TicketReserved,
			ClientName:     buyer.Name,
			ClientPhone:    buyer.Phone,
			ClientEmail:    buyer.Email,
			ClientIDNumber: buyer.IDNumber,
			PricePaid:      raffle.Price,
			PaymentMethod:  buyer.PaymentMethod,
			ReceiptURL:     receiptURL,
		})
	}

	tickets, err := s.svc.store.InsertTickets(ctx, drafts)
	if err != nil {
		return nil, s.submitFailed(err, started)
	}

	documents := s.svc.renderDocuments(raffle, tickets)

	s.mu.Lock()
	s.submitting = false
	for _, t := range tickets {
		s.engine.occupied.Mark(t.Number, t.Status)
	}
	s.engine.Clear()
	s.snapshot = nil
	s.quote = nil
	s.state = StateSucceeded
	s.purchased = tickets
	s.documents = documents
	s.revision++
	s.mu.Unlock()

	s.svc.monitor.TrackSubmission(raffle.ID, "ok", time.Since(started))
	slog.Info("tickets reserved", "session", s.ID, "raffleID", raffle.ID, "numbers", numbers, "receipt", receiptURL != "")

	s.svc.deliver(raffle, buyer, tickets, documents)

	return &SubmitResult{Tickets: tickets, Quote: quote, ReceiptURL: receiptURL}, nil
}

func (s *CheckoutSession) submitFailed(err error, started time.Time) error {
	outcome := "error"
	if errors.Is(err, status.ErrUniqueViolation) {
		outcome = "taken"
		err = status.ErrTicketTaken
	}

	s.mu.Lock()
	s.submitting = false
	s.state = StateFailed
	s.lastError = err.Error()
	s.revision++
	s.mu.Unlock()

	s.svc.monitor.TrackSubmission(s.raffle.ID, outcome, time.Since(started))
	slog.Warn("checkout submission failed", "session", s.ID, "raffleID", s.raffle.ID, "error", err)
	return err
}

// Document returns the PDF of a ticket bought in this session.
func (s *CheckoutSession) Document(number int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[number]
	if !ok {
		return nil, status.ErrArtifactMissing
	}
	return doc, nil
}

type CellState string

const (
	CellAvailable CellState = "available"
	CellReserved  CellState = "reserved"
	CellPaid      CellState = "paid"
	CellSelected  CellState = "selected"
	CellPreview   CellState = "preview"
)

type GridCell struct {
	Number int       `json:"number"`
	Label  string    `json:"label"`
	State  CellState `json:"state"`
}

type GridPage struct {
	Page      int        `json:"page"`
	Pages     int        `json:"pages"`
	PageSize  int        `json:"page_size"`
	Highlight *int       `json:"highlight,omitempty"`
	Cells     []GridCell `json:"cells"`
	Revision  uint64     `json:"revision"`
}

// Grid renders one page of the number board. A numeric search jumps to the
// page holding that number.
func (s *CheckoutSession) Grid(page int, search string) (GridPage, error) {
	size := s.svc.cfg.PageSize
	total := s.raffle.TotalTickets
	pages := (total + size - 1) / size

	var highlight *int
	if search = strings.TrimSpace(search); search != "" {
		n, err := strconv.Atoi(search)
		if err != nil || n < 0 || n >= total {
			return GridPage{}, status.ErrInvalidNumber
		}
		page = n / size
		highlight = &n
	}
	page = max(0, min(page, pages-1))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	previews := make(map[int]bool)
	if s.spin != nil {
		previews[*s.spin] = true
	}
	if s.burst != nil {
		for _, n := range s.burst.Numbers {
			previews[n] = true
		}
	}

	start := page * size
	end := min(start+size, total)
	cells := make([]GridCell, 0, end-start)
	for n := start; n < end; n++ {
		cell := GridCell{Number: n, Label: s.label(n), State: CellAvailable}
		switch st, taken := s.engine.occupied.Status(n); {
		case taken && st == models.TicketPaid:
			cell.State = CellPaid
		case taken:
			cell.State = CellReserved
		case s.engine.selection.Contains(n):
			cell.State = CellSelected
		case previews[n]:
			cell.State = CellPreview
		}
		cells = append(cells, cell)
	}

	return GridPage{
		Page:      page,
		Pages:     pages,
		PageSize:  size,
		Highlight: highlight,
		Cells:     cells,
		Revision:  s.revision,
	}, nil
}

// apply is the feed handler. Keyed inserts and updates merge into the index;
// anything else triggers a full refetch.
func (s *CheckoutSession) apply(evt models.TicketEvent) {
	if evt.RaffleID != s.raffle.ID {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if s.loading {
		s.pending = append(s.pending, evt)
		return
	}
	if !evt.Keyed || evt.Kind == models.TicketDeleted {
		s.startResyncLocked()
		return
	}
	if !s.engine.InRange(evt.Number) {
		slog.Warn("ignoring out of range ticket event", "raffleID", evt.RaffleID, "ticket", evt.Number)
		return
	}
	if s.engine.occupied.Mark(evt.Number, evt.Status) {
		s.dropPreviewLocked(evt.Number)
		s.reconcileSelectionLocked()
		s.revision++
	}
}

func (s *CheckoutSession) dropPreviewLocked(n int) {
	if s.spin != nil && *s.spin == n {
		s.spin = nil
	}
	if s.burst != nil {
		if i := slices.Index(s.burst.Numbers, n); i >= 0 {
			s.burst.Numbers = slices.Delete(s.burst.Numbers, i, i+1)
		}
	}
}

// reconcileSelectionLocked evicts taken numbers from the cart unless it is
// frozen behind an open form.
func (s *CheckoutSession) reconcileSelectionLocked() {
	if s.state.FormOpen() {
		return
	}
	if evicted := s.engine.Evict(); len(evicted) > 0 {
		s.evicted = append(s.evicted, evicted...)
		slog.Info("evicted taken numbers from cart", "session", s.ID, "numbers", evicted)
	}
}

func (s *CheckoutSession) startResyncLocked() {
	if s.closed {
		return
	}
	if s.resyncing {
		s.resyncPending = true
		return
	}
	s.resyncing = true
	s.wg.Add(1)
	go s.resync()
}

// resync refetches the occupied set, coalescing requests that arrive meanwhile.
func (s *CheckoutSession) resync() {
	defer s.wg.Done()

	for {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		tickets, err := s.svc.store.FetchOccupied(ctx, s.raffle.ID)
		cancel()

		s.mu.Lock()
		if err != nil {
			slog.Error("occupied resync failed", "session", s.ID, "raffleID", s.raffle.ID, "error", err)
		} else {
			s.engine.occupied.Replace(tickets)
			if s.spin != nil && s.engine.occupied.Has(*s.spin) {
				s.spin = nil
			}
			if s.burst != nil {
				s.burst.Numbers = slices.DeleteFunc(s.burst.Numbers, s.engine.occupied.Has)
			}
			s.reconcileSelectionLocked()
			s.revision++
		}
		if !s.resyncPending || s.closed {
			s.resyncing = false
			s.mu.Unlock()
			return
		}
		s.resyncPending = false
		s.mu.Unlock()
	}
}

// close drops the feed subscription and waits for background refetches.
func (s *CheckoutSession) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubscribe := s.unsubscribe
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	s.wg.Wait()
}
