package subscriptions

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/puttlab-backend/pkg/db"
	"github.com/angelmondragon/puttlab-backend/pkg/db/models"
)

// ErrPlayerUnresolved means no extractor matched a stored player.
var ErrPlayerUnresolved = errors.New("could not resolve player for event")

// PlayerLookup is the read side of the account store used for resolution.
type PlayerLookup interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Player, error)
	FindByEmail(ctx context.Context, email string) (*models.Player, error)
	FindByProviderCustomerID(ctx context.Context, customerID string) (*models.Player, error)
}

// Extractor tries one way of identifying the player behind an event. It
// returns (nil, nil) when its key is absent or matches nobody.
type Extractor struct {
	Name string
	Find func(ctx context.Context, lookup PlayerLookup, evt NormalizedEvent) (*models.Player, error)
}

// DefaultExtractors is the resolution order: explicit metadata id, legacy
// metadata id, customer id used as a player id, stored provider customer id,
// then email.
func DefaultExtractors() []Extractor {
	return []Extractor{
		{Name: "metadata.player_id", Find: byIDString(func(evt NormalizedEvent) string { return evt.Data.MetadataString("player_id") })},
		{Name: "metadata.user_id", Find: byIDString(func(evt NormalizedEvent) string { return evt.Data.MetadataString("user_id") })},
		{Name: "customer_id.player", Find: byIDString(func(evt NormalizedEvent) string { return evt.Data.CustomerID })},
		{Name: "customer_id.provider", Find: byProviderCustomer},
		{Name: "email", Find: byEmail},
	}
}

// Resolver walks its extractors in order and returns the first match.
type Resolver struct {
	lookup     PlayerLookup
	extractors []Extractor
}

func NewResolver(lookup PlayerLookup, extractors ...Extractor) *Resolver {
	if len(extractors) == 0 {
		extractors = DefaultExtractors()
	}
	return &Resolver{lookup: lookup, extractors: extractors}
}

// Resolve returns the player and the name of the extractor that found it.
func (r *Resolver) Resolve(ctx context.Context, evt NormalizedEvent) (*models.Player, string, error) {
	for _, extractor := range r.extractors {
		player, err := extractor.Find(ctx, r.lookup, evt)
		if err != nil {
			return nil, extractor.Name, err
		}
		if player != nil {
			return player, extractor.Name, nil
		}
	}
	return nil, "", ErrPlayerUnresolved
}

func byIDString(value func(NormalizedEvent) string) func(context.Context, PlayerLookup, NormalizedEvent) (*models.Player, error) {
	return func(ctx context.Context, lookup PlayerLookup, evt NormalizedEvent) (*models.Player, error) {
		raw := strings.TrimSpace(value(evt))
		if raw == "" {
			return nil, nil
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, nil
		}
		return notFoundAsNil(lookup.FindByID(ctx, id))
	}
}

func byProviderCustomer(ctx context.Context, lookup PlayerLookup, evt NormalizedEvent) (*models.Player, error) {
	customerID := strings.TrimSpace(evt.Data.CustomerID)
	if customerID == "" {
		return nil, nil
	}
	return notFoundAsNil(lookup.FindByProviderCustomerID(ctx, customerID))
}

func byEmail(ctx context.Context, lookup PlayerLookup, evt NormalizedEvent) (*models.Player, error) {
	email := strings.TrimSpace(evt.Data.CustomerEmail)
	if email == "" {
		email = evt.Data.MetadataString("email")
	}
	if email == "" {
		return nil, nil
	}
	return notFoundAsNil(lookup.FindByEmail(ctx, email))
}

func notFoundAsNil(player *models.Player, err error) (*models.Player, error) {
	if db.IsNotFound(err) {
		return nil, nil
	}
	return player, err
}
