// Package memory provides in-process implementations of the broker
// repositories. They keep nothing across restarts and suit tests and
// single-node deployments without a database.
package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/coregx/broker"
	"github.com/coregx/broker/model"
)

// NewStore returns a broker.Store with every repository held in memory.
func NewStore() broker.Store {
	return broker.Store{
		Clients:       NewClientRepository(),
		Topics:        NewTopicRepository(),
		Subscriptions: NewSubscriptionRepository(),
		RateLimits:    NewRateLimitRepository(),
		DeadLetters:   NewDeadLetterRepository(),
	}
}

// table is a keyed record set with sequential ids.
type table[T any] struct {
	mu     sync.RWMutex
	rows   map[string]T
	nextID int64
}

func newTable[T any]() *table[T] {
	return &table[T]{rows: make(map[string]T)}
}

func (t *table[T]) list() []T {
	t.mu.RLock()
	defer t.mu.RUnlock()

	keys := make([]string, 0, len(t.rows))
	for k := range t.rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, t.rows[k])
	}
	return out
}

// save stores row under key. assignID receives the existing id, or a new
// one when the key is unknown, and returns the row to store.
func (t *table[T]) save(key string, existingID func(T) int64, assignID func(int64) T) T {
	t.mu.Lock()
	defer t.mu.Unlock()

	var id int64
	if old, ok := t.rows[key]; ok {
		id = existingID(old)
	} else {
		t.nextID++
		id = t.nextID
	}
	row := assignID(id)
	t.rows[key] = row
	return row
}

func (t *table[T]) delete(key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.rows[key]; !ok {
		return broker.ErrNoData
	}
	delete(t.rows, key)
	return nil
}

// ClientRepository implements broker.ClientRepository.
type ClientRepository struct {
	t *table[model.Client]
}

// NewClientRepository creates an empty ClientRepository.
func NewClientRepository() *ClientRepository {
	return &ClientRepository{t: newTable[model.Client]()}
}

// List returns every client ordered by client id.
func (r *ClientRepository) List(_ context.Context) ([]model.Client, error) {
	clients := r.t.list()
	for i := range clients {
		clients[i].Permissions = slices.Clone(clients[i].Permissions)
	}
	return clients, nil
}

// Save creates the client or replaces its permissions.
func (r *ClientRepository) Save(_ context.Context, c model.Client) (model.Client, error) {
	c.Permissions = slices.Clone(c.Permissions)
	return r.t.save(c.ClientID,
		func(old model.Client) int64 { c.CreatedAt = old.CreatedAt; return old.ID },
		func(id int64) model.Client { c.ID = id; return c },
	), nil
}

// Delete removes a client.
func (r *ClientRepository) Delete(_ context.Context, clientID string) error {
	return r.t.delete(clientID)
}

// TopicRepository implements broker.TopicRepository. Names are matched
// case-insensitively.
type TopicRepository struct {
	t *table[model.Topic]
}

// NewTopicRepository creates an empty TopicRepository.
func NewTopicRepository() *TopicRepository {
	return &TopicRepository{t: newTable[model.Topic]()}
}

// List returns every topic ordered by name.
func (r *TopicRepository) List(_ context.Context) ([]model.Topic, error) {
	return r.t.list(), nil
}

// Save creates or updates a topic.
func (r *TopicRepository) Save(_ context.Context, topic model.Topic) (model.Topic, error) {
	return r.t.save(strings.ToLower(topic.Name),
		func(old model.Topic) int64 { return old.ID },
		func(id int64) model.Topic { topic.ID = id; return topic },
	), nil
}

// Delete removes a topic by name.
func (r *TopicRepository) Delete(_ context.Context, name string) error {
	return r.t.delete(strings.ToLower(name))
}

// SubscriptionRepository implements broker.SubscriptionRepository.
type SubscriptionRepository struct {
	t *table[model.Subscription]
}

// NewSubscriptionRepository creates an empty SubscriptionRepository.
func NewSubscriptionRepository() *SubscriptionRepository {
	return &SubscriptionRepository{t: newTable[model.Subscription]()}
}

// List returns every subscription ordered by sub key.
func (r *SubscriptionRepository) List(_ context.Context) ([]model.Subscription, error) {
	subs := r.t.list()
	for i := range subs {
		subs[i] = subs[i].Clone()
	}
	return subs, nil
}

// Save creates or updates a subscription.
func (r *SubscriptionRepository) Save(_ context.Context, sub model.Subscription) (model.Subscription, error) {
	sub = sub.Clone()
	return r.t.save(sub.SubKey,
		func(old model.Subscription) int64 { return old.ID },
		func(id int64) model.Subscription { sub.ID = id; return sub },
	), nil
}

// Delete removes a subscription by sub key.
func (r *SubscriptionRepository) Delete(_ context.Context, subKey string) error {
	return r.t.delete(subKey)
}

// RateLimitRepository implements broker.RateLimitRepository.
type RateLimitRepository struct {
	t *table[model.RateLimitDefinition]
}

// NewRateLimitRepository creates an empty RateLimitRepository.
func NewRateLimitRepository() *RateLimitRepository {
	return &RateLimitRepository{t: newTable[model.RateLimitDefinition]()}
}

func rateLimitKey(objectType, objectID string) string {
	return objectType + "\x00" + objectID
}

// List returns every definition ordered by object type and id.
func (r *RateLimitRepository) List(_ context.Context) ([]model.RateLimitDefinition, error) {
	defs := r.t.list()
	for i := range defs {
		defs[i].Rules = slices.Clone(defs[i].Rules)
	}
	return defs, nil
}

// Save creates the definition or replaces its rules.
func (r *RateLimitRepository) Save(_ context.Context, def model.RateLimitDefinition) (model.RateLimitDefinition, error) {
	def.Rules = slices.Clone(def.Rules)
	return r.t.save(rateLimitKey(def.ObjectType, def.ObjectID),
		func(old model.RateLimitDefinition) int64 { return old.ID },
		func(id int64) model.RateLimitDefinition { def.ID = id; return def },
	), nil
}

// Delete removes a definition.
func (r *RateLimitRepository) Delete(_ context.Context, objectType, objectID string) error {
	return r.t.delete(rateLimitKey(objectType, objectID))
}
