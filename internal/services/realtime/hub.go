package realtime

import (
	"context"
	"sync"

	"raffle-system/models"
)

type Handler func(models.TicketEvent)

// Feed delivers ticket changes per raffle. Handlers run on the publishing
// goroutine and must not block.
type Feed interface {
	Subscribe(raffleID string, fn Handler) (unsubscribe func())
	Publish(ctx context.Context, evt models.TicketEvent) error
}

// Hub is the in-process fan-out every other feed ends in.
type Hub struct {
	mu       sync.RWMutex
	nextID   uint64
	byRaffle map[string]map[uint64]Handler
	all      map[uint64]Handler
	observe  func(models.TicketEvent)
}

type HubOption func(*Hub)

// WithObserver registers a callback that sees every dispatched event, e.g. for metrics.
func WithObserver(fn func(models.TicketEvent)) HubOption {
	return func(h *Hub) { h.observe = fn }
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		byRaffle: make(map[string]map[uint64]Handler),
		all:      make(map[uint64]Handler),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) Subscribe(raffleID string, fn Handler) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	subs, ok := h.byRaffle[raffleID]
	if !ok {
		subs = make(map[uint64]Handler)
		h.byRaffle[raffleID] = subs
	}
	subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.byRaffle[raffleID], id)
			if len(h.byRaffle[raffleID]) == 0 {
				delete(h.byRaffle, raffleID)
			}
		})
	}
}

// SubscribeAll receives the events of every raffle.
func (h *Hub) SubscribeAll(fn Handler) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	h.all[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.all, id)
		})
	}
}

func (h *Hub) Publish(_ context.Context, evt models.TicketEvent) error {
	h.Dispatch(evt)
	return nil
}

func (h *Hub) Dispatch(evt models.TicketEvent) {
	h.mu.RLock()
	handlers := make([]Handler, 0, len(h.byRaffle[evt.RaffleID])+len(h.all))
	for _, fn := range h.all {
		handlers = append(handlers, fn)
	}
	for _, fn := range h.byRaffle[evt.RaffleID] {
		handlers = append(handlers, fn)
	}
	h.mu.RUnlock()

	if h.observe != nil {
		h.observe(evt)
	}
	for _, fn := range handlers {
		fn(evt)
	}
}

func (h *Hub) Subscribers(raffleID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byRaffle[raffleID])
}

// Raffles lists the raffles that currently have subscribers.
func (h *Hub) Raffles() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.byRaffle))
	for id := range h.byRaffle {
		ids = append(ids, id)
	}
	return ids
}
