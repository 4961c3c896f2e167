package broker

import (
	"context"

	"github.com/coregx/broker/model"
)

// The repositories below persist broker configuration: who may do what,
// which topics and subscriptions exist and how clients are rate limited.
// Queued messages are not persisted.
//
// Implementations must be safe for concurrent use. Lookups of a missing
// record return ErrNoData.

// ClientRepository persists clients and their permissions.
type ClientRepository interface {
	// List returns every client ordered by client id.
	List(ctx context.Context) ([]model.Client, error)

	// Save creates the client or replaces the permissions of an existing one
	// with the same ClientID.
	Save(ctx context.Context, client model.Client) (model.Client, error)

	// Delete removes a client.
	// Returns ErrNoData if not found.
	Delete(ctx context.Context, clientID string) error
}

// TopicRepository persists topics.
type TopicRepository interface {
	// List returns every topic ordered by name.
	List(ctx context.Context) ([]model.Topic, error)

	// Save creates the topic or updates the one with the same name.
	Save(ctx context.Context, topic model.Topic) (model.Topic, error)

	// Delete removes a topic by name.
	// Returns ErrNoData if not found.
	Delete(ctx context.Context, name string) error
}

// SubscriptionRepository persists subscriptions, including their patterns.
type SubscriptionRepository interface {
	// List returns every subscription ordered by sub key.
	List(ctx context.Context) ([]model.Subscription, error)

	// Save creates the subscription or updates the one with the same SubKey.
	Save(ctx context.Context, sub model.Subscription) (model.Subscription, error)

	// Delete removes a subscription by sub key.
	// Returns ErrNoData if not found.
	Delete(ctx context.Context, subKey string) error
}

// RateLimitRepository persists rate limit definitions.
type RateLimitRepository interface {
	// List returns every definition.
	List(ctx context.Context) ([]model.RateLimitDefinition, error)

	// Save creates the definition or replaces the rules of the one with the
	// same object type and id.
	Save(ctx context.Context, def model.RateLimitDefinition) (model.RateLimitDefinition, error)

	// Delete removes a definition.
	// Returns ErrNoData if not found.
	Delete(ctx context.Context, objectType, objectID string) error
}

// DeadLetterRepository defines the persistence interface for dead letters,
// the pushed messages that failed delivery after all retry attempts.
type DeadLetterRepository interface {
	// Load retrieves a dead letter by ID.
	// Returns ErrNoData if not found.
	Load(ctx context.Context, id int64) (model.DeadLetter, error)

	// Save creates a new dead letter (if ID=0) or updates an existing one.
	// Returns the saved dead letter with populated ID.
	Save(ctx context.Context, dl model.DeadLetter) (model.DeadLetter, error)

	// FindUnresolved retrieves unresolved dead letters, oldest first.
	FindUnresolved(ctx context.Context, limit int) ([]model.DeadLetter, error)

	// FindBySubKey retrieves dead letters of one subscription, newest first.
	FindBySubKey(ctx context.Context, subKey string, limit int) ([]model.DeadLetter, error)

	// GetStats returns dead letter counts.
	GetStats(ctx context.Context) (model.DeadLetterStats, error)
}

// Store groups the repositories backing a Broker. Any field may be nil;
// the matching configuration is then kept in memory only.
type Store struct {
	Clients       ClientRepository
	Topics        TopicRepository
	Subscriptions SubscriptionRepository
	RateLimits    RateLimitRepository
	DeadLetters   DeadLetterRepository
}
