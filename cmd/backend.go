package cmd

import (
	"context"
	"fmt"
	"log"

	"raffle-system/config"
	"raffle-system/internal/services/realtime"
	"raffle-system/internal/services/store"
	"raffle-system/internal/services/store/pbstore"
	"raffle-system/internal/services/store/pgstore"

	"github.com/pocketbase/pocketbase/core"
)

// backend is the ticket store plus the feed that carries its changes.
type backend struct {
	store store.TicketStore
	feed  realtime.Feed
	run   func(ctx context.Context)
	close func()
}

// openBackend builds the store selected by STORE_DRIVER. Committed ticket
// changes end up in hub either through the record hooks (PocketBase, fanned
// out over PubNub when configured) or through LISTEN/NOTIFY (Postgres).
func openBackend(ctx context.Context, app core.App, cfg *config.Config, hub *realtime.Hub) (*backend, error) {
	switch store.Driver(cfg.StoreDriver) {
	case store.DriverPocketBase:
		b := &backend{
			store: pbstore.New(app),
			feed:  hub,
			run:   func(context.Context) {},
			close: func() {},
		}
		if cfg.PubNubEnabled() {
			bridge := realtime.NewPubNubBridge(realtime.PubNubConfig{
				PublishKey:   cfg.PubNubPublishKey,
				SubscribeKey: cfg.PubNubSubscribeKey,
				SecretKey:    cfg.PubNubSecretKey,
				Channel:      cfg.PubNubChannel,
			}, hub)
			b.feed = bridge
			b.run = bridge.Run
			log.Printf("PubNub fan-out enabled on channel %s", cfg.PubNubChannel)
		}
		pbstore.BindTicketHooks(app, b.feed.Publish)
		return b, nil

	case store.DriverPostgres:
		pg, err := pgstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return &backend{
			store: pg,
			feed:  hub,
			run: func(ctx context.Context) {
				if err := pgstore.Listen(ctx, cfg.DatabaseURL, hub); err != nil {
					log.Printf("Ticket listener stopped: %v", err)
				}
			},
			close: func() { pg.Close() },
		}, nil

	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.StoreDriver)
	}
}
