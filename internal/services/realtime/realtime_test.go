package realtime

import (
	"context"
	"sync"
	"testing"

	"raffle-system/models"

	pubnub "github.com/pubnub/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_DeliversOnlyToRaffleSubscribers(t *testing.T) {
	hub := NewHub()

	var got []int
	unsubscribe := hub.Subscribe("r1", func(evt models.TicketEvent) {
		got = append(got, evt.Number)
	})
	defer unsubscribe()

	require.NoError(t, hub.Publish(context.Background(), models.TicketEvent{Kind: models.TicketInserted, RaffleID: "r1", Number: 12, Keyed: true}))
	require.NoError(t, hub.Publish(context.Background(), models.TicketEvent{Kind: models.TicketInserted, RaffleID: "r2", Number: 99, Keyed: true}))

	assert.Equal(t, []int{12}, got)
}

func TestHub_UnsubscribeIsIdempotent(t *testing.T) {
	hub := NewHub()
	calls := 0
	unsubscribe := hub.Subscribe("r1", func(models.TicketEvent) { calls++ })

	assert.Equal(t, 1, hub.Subscribers("r1"))
	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, hub.Subscribers("r1"))

	hub.Dispatch(models.TicketEvent{RaffleID: "r1"})
	assert.Equal(t, 0, calls)
}

func TestHub_SubscribeAllAndObserver(t *testing.T) {
	var observed, seen int
	hub := NewHub(WithObserver(func(models.TicketEvent) { observed++ }))
	defer hub.SubscribeAll(func(models.TicketEvent) { seen++ })()

	hub.Dispatch(models.TicketEvent{RaffleID: "a"})
	hub.Dispatch(models.TicketEvent{RaffleID: "b"})

	assert.Equal(t, 2, observed)
	assert.Equal(t, 2, seen)
}

func TestHub_HandlerMayUnsubscribeDuringDispatch(t *testing.T) {
	hub := NewHub()
	var unsubscribe func()
	calls := 0
	unsubscribe = hub.Subscribe("r1", func(models.TicketEvent) {
		calls++
		unsubscribe()
	})

	hub.Dispatch(models.TicketEvent{RaffleID: "r1"})
	hub.Dispatch(models.TicketEvent{RaffleID: "r1"})

	assert.Equal(t, 1, calls)
}

func TestHub_ConcurrentSubscribeAndDispatch(t *testing.T) {
	hub := NewHub()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unsubscribe := hub.Subscribe("r1", func(models.TicketEvent) {})
			unsubscribe()
		}()
		go func(n int) {
			defer wg.Done()
			hub.Dispatch(models.TicketEvent{RaffleID: "r1", Number: n})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, hub.Subscribers("r1"))
}

func TestDecodeMessage_FromPubNubMap(t *testing.T) {
	// PubNub hands JSON objects back as generic maps with float64 numbers
	payload := map[string]interface{}{
		"type":          "ticket_event",
		"kind":          "update",
		"raffle_id":     "r1",
		"ticket_number": float64(42),
		"status":        "paid",
		"keyed":         true,
	}

	evt, err := decodeMessage(payload)
	require.NoError(t, err)
	assert.Equal(t, models.TicketEvent{Kind: models.TicketUpdated, RaffleID: "r1", Number: 42, Status: models.TicketPaid, Keyed: true}, evt)
}

func TestDecodeMessage_FromString(t *testing.T) {
	evt, err := decodeMessage(`{"type":"ticket_event","kind":"insert","raffle_id":"r1","ticket_number":7,"status":"reserved","keyed":true}`)
	require.NoError(t, err)
	assert.Equal(t, 7, evt.Number)
	assert.True(t, evt.Keyed)
}

func TestDecodeMessage_DeleteIsNeverKeyed(t *testing.T) {
	evt, err := decodeMessage(encodeMessage(models.TicketEvent{Kind: models.TicketDeleted, RaffleID: "r1", Number: 3, Keyed: true}))
	require.NoError(t, err)
	assert.False(t, evt.Keyed)
}

func TestDecodeMessage_InvalidStatusDowngradesToUnkeyed(t *testing.T) {
	evt, err := decodeMessage(`{"type":"ticket_event","kind":"insert","raffle_id":"r1","ticket_number":7,"status":"cancelled","keyed":true}`)
	require.NoError(t, err)
	assert.False(t, evt.Keyed)
}

func TestDecodeMessage_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		message interface{}
	}{
		{"foreign type", `{"type":"queue_status","raffle_id":"r1","kind":"insert"}`},
		{"missing raffle", `{"type":"ticket_event","kind":"insert"}`},
		{"unknown kind", `{"type":"ticket_event","kind":"truncate","raffle_id":"r1"}`},
		{"not json", "hello"},
		{"unexpected payload", 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeMessage(tt.message)
			assert.Error(t, err)
		})
	}
}

func TestHub_Raffles(t *testing.T) {
	hub := NewHub()
	un1 := hub.Subscribe("r1", func(models.TicketEvent) {})
	un2 := hub.Subscribe("r2", func(models.TicketEvent) {})
	defer un2()

	assert.ElementsMatch(t, []string{"r1", "r2"}, hub.Raffles())
	un1()
	assert.Equal(t, []string{"r2"}, hub.Raffles())
}

func TestDisconnectedCategories(t *testing.T) {
	assert.True(t, disconnected(pubnub.PNDisconnectedCategory))
	assert.True(t, disconnected(pubnub.PNTimeoutCategory))
	assert.True(t, disconnected(pubnub.PNReconnectionAttemptsExhausted))

	assert.False(t, disconnected(pubnub.PNConnectedCategory))
	assert.False(t, disconnected(pubnub.PNReconnectedCategory))
	assert.False(t, disconnected(pubnub.PNAcknowledgmentCategory))
}
