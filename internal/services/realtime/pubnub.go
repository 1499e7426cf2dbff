package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"time"

	"raffle-system/models"
	"raffle-system/utils"

	pubnub "github.com/pubnub/go"
)

const messageType = "ticket_event"

type PubNubConfig struct {
	PublishKey   string
	SubscribeKey string
	SecretKey    string
	Channel      string
	UUID         string
}

// PubNubBridge fans ticket changes out to every instance through one PubNub
// channel. Subscribers are always local; received messages land in the hub.
type PubNubBridge struct {
	pn       *pubnub.PubNub
	hub      *Hub
	channel  string
	breaker  *utils.CircuitBreaker
	listener *pubnub.Listener
}

func NewPubNubBridge(cfg PubNubConfig, hub *Hub) *PubNubBridge {
	pnConfig := pubnub.NewConfig()
	pnConfig.PublishKey = cfg.PublishKey
	pnConfig.SubscribeKey = cfg.SubscribeKey
	pnConfig.SecretKey = cfg.SecretKey
	if cfg.UUID != "" {
		pnConfig.UUID = cfg.UUID
	}

	return &PubNubBridge{
		pn:       pubnub.NewPubNub(pnConfig),
		hub:      hub,
		channel:  cfg.Channel,
		breaker:  utils.NewCircuitBreaker("pubnub-publish", utils.WithMaxRequests(20), utils.WithTimeout(30*time.Second)),
		listener: pubnub.NewListener(),
	}
}

func (b *PubNubBridge) Subscribe(raffleID string, fn Handler) func() {
	return b.hub.Subscribe(raffleID, fn)
}

// Publish sends evt to PubNub. When PubNub is unreachable the event is
// dispatched locally so this instance stays consistent.
func (b *PubNubBridge) Publish(ctx context.Context, evt models.TicketEvent) error {
	_, err := b.breaker.Execute(ctx, func() (interface{}, error) {
		_, st, err := b.pn.Publish().
			Channel(b.channel).
			Message(encodeMessage(evt)).
			Execute()
		if err != nil {
			return nil, err
		}
		if st.Error != nil {
			return nil, st.Error
		}
		return nil, nil
	})
	if err != nil {
		slog.Warn("pubnub publish failed, dispatching locally", "raffleID", evt.RaffleID, "error", err)
		b.hub.Dispatch(evt)
		return fmt.Errorf("publish ticket event: %w", err)
	}
	return nil
}

// Run subscribes to the channel and feeds the hub until ctx is done.
func (b *PubNubBridge) Run(ctx context.Context) {
	b.pn.AddListener(b.listener)
	b.pn.Subscribe().
		Channels([]string{b.channel}).
		Execute()

	defer func() {
		b.pn.Unsubscribe().
			Channels([]string{b.channel}).
			Execute()
		b.pn.RemoveListener(b.listener)
	}()

	for {
		select {
		case st := <-b.listener.Status:
			switch st.Category {
			case pubnub.PNConnectedCategory:
				log.Println("connected to pubnub channel", b.channel)
			case pubnub.PNReconnectedCategory:
				log.Println("reconnected to pubnub channel", b.channel)
			case pubnub.PNAccessDeniedCategory:
				slog.Error("pubnub access denied", "channel", b.channel)
			default:
				if disconnected(st.Category) {
					slog.Warn("pubnub disconnected", "channel", b.channel, "category", st.Category.String())
				}
			}

		case msg := <-b.listener.Message:
			evt, err := decodeMessage(msg.Message)
			if err != nil {
				slog.Warn("dropping pubnub message", "channel", msg.Channel, "error", err)
				continue
			}
			b.hub.Dispatch(evt)

		case <-ctx.Done():
			return
		}
	}
}

type wireEvent struct {
	Type string `json:"type"`
	models.TicketEvent
}

func encodeMessage(evt models.TicketEvent) map[string]interface{} {
	return map[string]interface{}{
		"type":          messageType,
		"kind":          string(evt.Kind),
		"raffle_id":     evt.RaffleID,
		"ticket_number": evt.Number,
		"status":        string(evt.Status),
		"keyed":         evt.Keyed,
	}
}

func decodeMessage(message interface{}) (models.TicketEvent, error) {
	var raw []byte
	switch m := message.(type) {
	case string:
		raw = []byte(m)
	case map[string]interface{}:
		data, err := json.Marshal(m)
		if err != nil {
			return models.TicketEvent{}, err
		}
		raw = data
	default:
		return models.TicketEvent{}, fmt.Errorf("unexpected payload type %T", message)
	}

	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return models.TicketEvent{}, err
	}
	if w.Type != messageType {
		return models.TicketEvent{}, fmt.Errorf("unexpected message type %q", w.Type)
	}
	if w.RaffleID == "" {
		return models.TicketEvent{}, fmt.Errorf("message without raffle id")
	}
	switch w.Kind {
	case models.TicketInserted, models.TicketUpdated:
		if w.Keyed && (w.Number < 0 || !w.Status.Valid()) {
			w.Keyed = false
		}
	case models.TicketDeleted:
		w.Keyed = false
	default:
		return models.TicketEvent{}, fmt.Errorf("unknown event kind %q", w.Kind)
	}
	return w.TicketEvent, nil
}

func disconnected(category pubnub.StatusCategory) bool {
	switch category {
	case pubnub.PNDisconnectedCategory, pubnub.PNTimeoutCategory, pubnub.PNReconnectionAttemptsExhausted:
		return true
	}
	return false
}
