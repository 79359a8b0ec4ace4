package cron

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/puttlab-backend/internal/billing"
	"github.com/angelmondragon/puttlab-backend/internal/events"
	"github.com/angelmondragon/puttlab-backend/internal/giftcodes"
	"github.com/angelmondragon/puttlab-backend/internal/players"
	"github.com/angelmondragon/puttlab-backend/internal/webhookevents"
	"github.com/angelmondragon/puttlab-backend/pkg/db"
	"github.com/angelmondragon/puttlab-backend/pkg/db/dbtest"
	"github.com/angelmondragon/puttlab-backend/pkg/db/models"
)

type captureSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *captureSink) Emit(_ context.Context, evt events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *captureSink) named(name string) []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []events.Event
	for _, evt := range c.events {
		if evt.Name == name {
			out = append(out, evt)
		}
	}
	return out
}

type store struct {
	client  *db.Client
	players players.Repository
	billing billing.Repository
	events  webhookevents.Repository
	gifts   giftcodes.Repository
	sink    *captureSink
}

func newStore(t *testing.T) *store {
	t.Helper()
	client := dbtest.Open(t)
	return &store{
		client:  client,
		players: players.NewRepository(client.DB()),
		billing: billing.NewRepository(client.DB()),
		events:  webhookevents.NewRepository(client.DB()),
		gifts:   giftcodes.NewRepository(client.DB()),
		sink:    &captureSink{},
	}
}

func (s *store) seed(t *testing.T, mutate func(p *models.Player)) *models.Player {
	t.Helper()
	player := &models.Player{Email: uuid.NewString() + "@example.com"}
	if mutate != nil {
		mutate(player)
	}
	if err := s.players.Create(context.Background(), player); err != nil {
		t.Fatalf("seed player: %v", err)
	}
	return player
}

func (s *store) reload(t *testing.T, id uuid.UUID) *models.Player {
	t.Helper()
	player, err := s.players.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("reload player: %v", err)
	}
	return player
}

func ptr[T any](v T) *T { return &v }
