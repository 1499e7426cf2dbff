package pgstore

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"raffle-system/models"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertTicketsQuery_Placeholders(t *testing.T) {
	q := insertTicketsQuery(2)

	assert.Contains(t, q, "($1, $2, $3, $4, $5, $6, $7, $8, $9, $10), ($11, $12, $13, $14, $15, $16, $17, $18, $19, $20)")
	assert.NotContains(t, q, "$21")
	assert.True(t, strings.HasSuffix(q, "created_at"))
	assert.Contains(t, q, "RETURNING id, raffle_id")
}

func TestIsUniqueViolation(t *testing.T) {
	dup := &pq.Error{Code: "23505", Message: `duplicate key value violates unique constraint "idx_tickets_raffle_number"`}

	assert.True(t, isUniqueViolation(dup))
	assert.True(t, isUniqueViolation(fmt.Errorf("insert tickets: %w", dup)))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("duplicate key")))
	assert.False(t, isUniqueViolation(nil))
}

func TestDecodeNotification(t *testing.T) {
	evt, err := decodeNotification(`{"kind":"insert","raffle_id":"r1","ticket_number":42,"status":"reserved"}`)
	require.NoError(t, err)
	assert.Equal(t, models.TicketEvent{Kind: models.TicketInserted, RaffleID: "r1", Number: 42, Status: models.TicketReserved, Keyed: true}, evt)

	evt, err = decodeNotification(`{"kind":"update","raffle_id":"r1","ticket_number":0,"status":"paid"}`)
	require.NoError(t, err)
	assert.True(t, evt.Keyed)
	assert.Equal(t, 0, evt.Number)

	evt, err = decodeNotification(`{"kind":"delete","raffle_id":"r1"}`)
	require.NoError(t, err)
	assert.False(t, evt.Keyed)

	evt, err = decodeNotification(`{"kind":"update","raffle_id":"r1","status":"paid"}`)
	require.NoError(t, err)
	assert.False(t, evt.Keyed, "missing number")

	for _, bad := range []string{`not json`, `{"kind":"insert"}`, `{"kind":"truncate","raffle_id":"r1"}`} {
		_, err := decodeNotification(bad)
		assert.Error(t, err, bad)
	}
}

type recordingSink struct {
	raffles []string
	got     []models.TicketEvent
}

func (s *recordingSink) Dispatch(evt models.TicketEvent) { s.got = append(s.got, evt) }
func (s *recordingSink) Raffles() []string { return s.raffles }

func TestResyncAll_SendsUnkeyedEventPerRaffle(t *testing.T) {
	sink := &recordingSink{raffles: []string{"r1", "r2"}}
	resyncAll(sink)

	require.Len(t, sink.got, 2)
	for i, evt := range sink.got {
		assert.Equal(t, sink.raffles[i], evt.RaffleID)
		assert.False(t, evt.Keyed)
	}
}

func TestSchema_DeclaresUniqueIndexAndTrigger(t *testing.T) {
	assert.Contains(t, schema, "CREATE UNIQUE INDEX IF NOT EXISTS idx_tickets_raffle_number ON tickets (raffle_id, ticket_number)")
	assert.Contains(t, schema, "pg_notify('ticket_changes'")
}
