package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"raffle-system/models"
	"raffle-system/utils"

	"github.com/redis/go-redis/v9"
)

const (
	occupiedKeyPrefix   = "raffle:occupied:"
	generationKeyPrefix = "raffle:occupied-gen:"
	completeField       = "_complete"
)

var errCacheRaced = errors.New("occupied set changed during warm-up")

func OccupiedKey(raffleID string) string {
	return occupiedKeyPrefix + raffleID
}

// GenerationKey counts the feed events applied to a raffle. A warm-up only
// commits when the counter did not move since its snapshot was read.
func GenerationKey(raffleID string) string {
	return generationKeyPrefix + raffleID
}

// CachedStore serves FetchOccupied from a Redis hash per raffle
// (field = ticket number, value = status). The hash only counts as a hit
// when it carries the completeness marker written by a full warm-up;
// incremental writes to a missing hash therefore never fake a full set.
type CachedStore struct {
	TicketStore
	redis   redis.UniversalClient
	breaker *utils.CircuitBreaker
	ttl     time.Duration
}

func NewCachedStore(inner TicketStore, rdb redis.UniversalClient, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedStore{
		TicketStore: inner,
		redis:       rdb,
		breaker:     utils.NewCircuitBreaker("redis-occupied", utils.WithMaxRequests(20), utils.WithTimeout(30*time.Second)),
		ttl:         ttl,
	}
}

func (c *CachedStore) FetchOccupied(ctx context.Context, raffleID string) ([]models.OccupiedTicket, error) {
	if tickets, ok := c.readCache(ctx, raffleID); ok {
		return tickets, nil
	}

	generation, err := c.redis.Get(ctx, GenerationKey(raffleID)).Result()
	cacheable := err == nil || errors.Is(err, redis.Nil)

	tickets, err := c.TicketStore.FetchOccupied(ctx, raffleID)
	if err != nil {
		return nil, err
	}

	if cacheable {
		c.warm(ctx, raffleID, generation, tickets)
	}
	return tickets, nil
}

func (c *CachedStore) CountOccupied(ctx context.Context, raffleID string) (int, error) {
	if tickets, ok := c.readCache(ctx, raffleID); ok {
		return len(tickets), nil
	}
	return c.TicketStore.CountOccupied(ctx, raffleID)
}

func (c *CachedStore) InsertTickets(ctx context.Context, drafts []models.TicketDraft) ([]models.Ticket, error) {
	tickets, err := c.TicketStore.InsertTickets(ctx, drafts)
	if err != nil {
		return nil, err
	}
	c.writeThrough(ctx, tickets)
	return tickets, nil
}

func (c *CachedStore) UpdateTicketsStatus(ctx context.Context, ids []string, next models.TicketStatus) ([]models.Ticket, error) {
	tickets, err := c.TicketStore.UpdateTicketsStatus(ctx, ids, next)
	if err != nil {
		return nil, err
	}
	c.writeThrough(ctx, tickets)
	return tickets, nil
}

// Apply folds one realtime change into the cache. Events that do not
// identify a ticket drop the whole hash so the next read refetches. Every
// event bumps the generation so an in-flight warm-up cannot commit a
// snapshot that predates it.
func (c *CachedStore) Apply(ctx context.Context, evt models.TicketEvent) {
	key := OccupiedKey(evt.RaffleID)

	err := c.redis.Incr(ctx, GenerationKey(evt.RaffleID)).Err()
	if err != nil {
		slog.Warn("occupied cache generation bump failed", "raffleID", evt.RaffleID, "error", err)
	}
	if !evt.Keyed || evt.Kind == models.TicketDeleted {
		err = c.redis.Del(ctx, key).Err()
	} else {
		err = c.setIfCached(ctx, key, strconv.Itoa(evt.Number), string(evt.Status))
	}
	if err != nil {
		slog.Warn("occupied cache update failed", "raffleID", evt.RaffleID, "error", err)
	}
}

func (c *CachedStore) readCache(ctx context.Context, raffleID string) ([]models.OccupiedTicket, bool) {
	res, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		return c.redis.HGetAll(ctx, OccupiedKey(raffleID)).Result()
	})
	if err != nil {
		slog.Warn("occupied cache read failed", "raffleID", raffleID, "error", err)
		return nil, false
	}

	fields := res.(map[string]string)
	if _, ok := fields[completeField]; !ok {
		return nil, false
	}

	tickets := make([]models.OccupiedTicket, 0, len(fields)-1)
	for field, value := range fields {
		if field == completeField {
			continue
		}
		n, err := strconv.Atoi(field)
		st := models.TicketStatus(value)
		if err != nil || !st.Valid() {
			slog.Warn("skipping malformed cache entry", "raffleID", raffleID, "field", field, "value", value)
			continue
		}
		tickets = append(tickets, models.OccupiedTicket{Number: n, Status: st})
	}
	sort.Slice(tickets, func(i, j int) bool { return tickets[i].Number < tickets[j].Number })
	return tickets, true
}

// warm stores a full snapshot unless a feed event was applied after
// generation was read, in which case the snapshot may miss that change and
// is dropped.
func (c *CachedStore) warm(ctx context.Context, raffleID, generation string, tickets []models.OccupiedTicket) {
	key := OccupiedKey(raffleID)
	genKey := GenerationKey(raffleID)

	args := make([]interface{}, 0, 2*len(tickets)+2)
	for _, t := range tickets {
		args = append(args, strconv.Itoa(t.Number), string(t.Status))
	}
	args = append(args, completeField, "1")

	err := c.redis.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != generation {
			return errCacheRaced
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.HSet(ctx, key, args...)
			pipe.Expire(ctx, key, c.ttl)
			return nil
		})
		return err
	}, genKey)

	switch {
	case errors.Is(err, errCacheRaced), errors.Is(err, redis.TxFailedErr):
		slog.Debug("occupied cache warm-up skipped, feed moved on", "raffleID", raffleID)
	case err != nil:
		slog.Warn("occupied cache warm-up failed", "raffleID", raffleID, "error", err)
	}
}

func (c *CachedStore) writeThrough(ctx context.Context, tickets []models.Ticket) {
	for _, t := range tickets {
		if err := c.setIfCached(ctx, OccupiedKey(t.RaffleID), strconv.Itoa(t.Number), string(t.Status)); err != nil {
			slog.Warn("occupied cache write failed", "raffleID", t.RaffleID, "ticket", t.Number, "error", err)
		}
	}
}

// setIfCached only touches hashes that already hold a complete set.
func (c *CachedStore) setIfCached(ctx context.Context, key, field, value string) error {
	exists, err := c.redis.HExists(ctx, key, completeField).Result()
	if err != nil {
		return fmt.Errorf("check %s: %w", key, err)
	}
	if !exists {
		return nil
	}
	return c.redis.HSet(ctx, key, field, value).Err()
}
