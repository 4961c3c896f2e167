package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/coregx/broker/cache"
	"github.com/coregx/broker/clock"
	"github.com/coregx/broker/model"
)

// Broker wires the matcher, rate limiter, registry and delivery engine
// together and keeps an optional Store in step with them.
//
// Configuration changes are written through to the store. Additions are
// applied in memory first and undone when the store rejects them; removals
// hit the store first and change nothing when it fails.
type Broker struct {
	matcher  *PatternMatcher
	limiter  *RateLimiter
	registry *TopicRegistry
	engine   *DeliveryEngine

	store         Store
	notifications NotificationService
	clock         clock.Clock
	ids           IDGenerator
	logger        Logger

	cacheSize         int
	cachePolicy       cache.PolicyKind
	defaultMaxDepth   int
	defaultExpiration time.Duration
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker) error

// WithStore sets the configuration store. Default is memory only.
func WithStore(store Store) BrokerOption {
	return func(b *Broker) error {
		b.store = store
		return nil
	}
}

// WithBrokerLogger sets the logger passed to every component.
func WithBrokerLogger(logger Logger) BrokerOption {
	return func(b *Broker) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		b.logger = logger
		return nil
	}
}

// WithBrokerClock sets the time source passed to every component.
func WithBrokerClock(c clock.Clock) BrokerOption {
	return func(b *Broker) error {
		if c == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		b.clock = c
		return nil
	}
}

// WithBrokerIDGenerator sets the message id and sub key generator.
func WithBrokerIDGenerator(ids IDGenerator) BrokerOption {
	return func(b *Broker) error {
		if ids == nil {
			return fmt.Errorf("id generator cannot be nil")
		}
		b.ids = ids
		return nil
	}
}

// WithBrokerNotifications sets the service told about subscription changes.
func WithBrokerNotifications(service NotificationService) BrokerOption {
	return func(b *Broker) error {
		if service == nil {
			return fmt.Errorf("notification service cannot be nil")
		}
		b.notifications = service
		return nil
	}
}

// WithCache sizes the subscription lookup cache and the rate limit
// counter cache and selects their eviction policy.
func WithCache(size int, policy cache.PolicyKind) BrokerOption {
	return func(b *Broker) error {
		if size <= 0 {
			return fmt.Errorf("cache size must be > 0, got %d", size)
		}
		b.cacheSize = size
		b.cachePolicy = policy
		return nil
	}
}

// WithQueueDefaults sets the engine-wide queue depth limit and message
// lifetime. A zero expiration means messages never expire.
func WithQueueDefaults(maxDepth int, expiration time.Duration) BrokerOption {
	return func(b *Broker) error {
		if maxDepth <= 0 {
			return fmt.Errorf("default max depth must be > 0, got %d", maxDepth)
		}
		if expiration < 0 {
			return fmt.Errorf("default expiration must be >= 0, got %v", expiration)
		}
		b.defaultMaxDepth = maxDepth
		b.defaultExpiration = expiration
		return nil
	}
}

// New creates a Broker. Call Load before serving requests when a store
// is configured.
func New(opts ...BrokerOption) (*Broker, error) {
	b := &Broker{
		notifications:   &NoOpNotificationService{},
		clock:           clock.Real(),
		ids:             UUIDGenerator{},
		logger:          &NoopLogger{},
		cacheSize:       cache.DefaultMaxSize,
		cachePolicy:     cache.PolicyFIFO,
		defaultMaxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply broker option", err)
		}
	}

	var err error
	if b.matcher, err = NewPatternMatcher(WithMatcherLogger(b.logger)); err != nil {
		return nil, err
	}

	counters, err := cache.New[RateLimitKey, model.RateLimitState](
		cache.WithMaxSize(b.cacheSize), cache.WithPolicy(b.cachePolicy))
	if err != nil {
		return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to create rate limit cache", err)
	}
	b.limiter, err = NewRateLimiter(
		WithRateLimitCache(counters),
		WithRateLimitClock(b.clock),
		WithRateLimitLogger(b.logger),
	)
	if err != nil {
		return nil, err
	}

	b.registry, err = NewTopicRegistry(
		WithRegistryMatcher(b.matcher),
		WithRegistryClock(b.clock),
		WithRegistryIDGenerator(b.ids),
		WithRegistryLogger(b.logger),
		WithLookupCacheSize(b.cacheSize),
	)
	if err != nil {
		return nil, err
	}

	engineOpts := []EngineOption{
		WithEngineRegistry(b.registry),
		WithEngineMatcher(b.matcher),
		WithEngineRateLimiter(b.limiter),
		WithEngineClock(b.clock),
		WithEngineIDGenerator(b.ids),
		WithEngineLogger(b.logger),
		WithDefaultMaxDepth(b.defaultMaxDepth),
	}
	if b.defaultExpiration > 0 {
		engineOpts = append(engineOpts, WithDefaultExpiration(b.defaultExpiration))
	}
	if b.engine, err = NewDeliveryEngine(engineOpts...); err != nil {
		return nil, err
	}

	return b, nil
}

// Matcher returns the permission matcher.
func (b *Broker) Matcher() *PatternMatcher { return b.matcher }

// RateLimiter returns the rate limiter.
func (b *Broker) RateLimiter() *RateLimiter { return b.limiter }

// Registry returns the topic registry.
func (b *Broker) Registry() *TopicRegistry { return b.registry }

// Engine returns the delivery engine.
func (b *Broker) Engine() *DeliveryEngine { return b.engine }

// Load fills the broker from its store: clients, topics, subscriptions
// and rate limits, in that order.
func (b *Broker) Load(ctx context.Context) error {
	var clients, topics, subs, limits int

	if repo := b.store.Clients; repo != nil {
		list, err := repo.List(ctx)
		if err != nil && !IsNoData(err) {
			return NewErrorWithCause(ErrCodeDatabase, "failed to load clients", err)
		}
		for _, c := range list {
			if err := b.matcher.AddClient(c.ClientID, c.Permissions); err != nil {
				return fmt.Errorf("client %s: %w", c.ClientID, err)
			}
		}
		clients = len(list)
	}

	if repo := b.store.Topics; repo != nil {
		list, err := repo.List(ctx)
		if err != nil && !IsNoData(err) {
			return NewErrorWithCause(ErrCodeDatabase, "failed to load topics", err)
		}
		for _, t := range list {
			if err := b.registry.RestoreTopic(t); err != nil {
				return fmt.Errorf("topic %s: %w", t.Name, err)
			}
		}
		topics = len(list)
	}

	if repo := b.store.Subscriptions; repo != nil {
		list, err := repo.List(ctx)
		if err != nil && !IsNoData(err) {
			return NewErrorWithCause(ErrCodeDatabase, "failed to load subscriptions", err)
		}
		for _, s := range list {
			if err := b.registry.RestoreSubscription(s); err != nil {
				return fmt.Errorf("subscription %s: %w", s.SubKey, err)
			}
		}
		subs = len(list)
	}

	if repo := b.store.RateLimits; repo != nil {
		list, err := repo.List(ctx)
		if err != nil && !IsNoData(err) {
			return NewErrorWithCause(ErrCodeDatabase, "failed to load rate limits", err)
		}
		for _, def := range list {
			if err := b.limiter.SetDefinition(def); err != nil {
				return fmt.Errorf("rate limit %s/%s: %w", def.ObjectType, def.ObjectID, err)
			}
		}
		limits = len(list)
	}

	b.logger.Infof("Loaded %d clients, %d topics, %d subscriptions, %d rate limits",
		clients, topics, subs, limits)
	return nil
}

// AddClient registers a client or replaces its permissions.
func (b *Broker) AddClient(ctx context.Context, cid, clientID string, perms []model.Permission) error {
	prev, existed := b.matcher.Permissions(clientID)
	if err := b.matcher.AddClient(clientID, perms); err != nil {
		return err
	}

	if repo := b.store.Clients; repo != nil {
		if _, err := repo.Save(ctx, model.NewClient(clientID, perms, b.clock.Now())); err != nil {
			if existed {
				_ = b.matcher.AddClient(clientID, prev)
			} else {
				b.matcher.RemoveClient(clientID)
			}
			return NewErrorWithCause(ErrCodeDatabase, "failed to save client", err)
		}
	}

	b.logger.Infof("[%s] Client %s saved with %d permissions", cid, clientID, len(perms))
	return nil
}

// RemoveClient forgets a client together with its subscriptions.
func (b *Broker) RemoveClient(ctx context.Context, cid, clientID string) error {
	if !b.matcher.HasClient(clientID) {
		return NewError(ErrCodeNotFound, fmt.Sprintf("client %s not found", clientID))
	}
	if repo := b.store.Clients; repo != nil {
		if err := repo.Delete(ctx, clientID); err != nil && !IsNoData(err) {
			return NewErrorWithCause(ErrCodeDatabase, "failed to delete client", err)
		}
	}
	b.matcher.RemoveClient(clientID)

	for _, sub := range b.registry.ListSubscriptions(clientID) {
		if err := b.Unsubscribe(ctx, cid, sub.SubKey); err != nil && !HasCode(err, ErrCodeNotFound) {
			b.logger.Errorf("[%s] Failed to remove subscription %s of client %s: %v", cid, sub.SubKey, clientID, err)
		}
	}

	b.logger.Infof("[%s] Client %s removed", cid, clientID)
	return nil
}

// Evaluate checks whether clientID may perform action on topic.
func (b *Broker) Evaluate(clientID, topic string, action model.Action) EvaluationResult {
	return b.matcher.Evaluate(clientID, topic, action)
}

// CreateTopic creates a topic.
func (b *Broker) CreateTopic(ctx context.Context, cid, creator, name string, opts ...TopicOption) (model.Topic, error) {
	topic, err := b.registry.CreateTopic(cid, creator, name, opts...)
	if err != nil {
		return model.Topic{}, err
	}

	if repo := b.store.Topics; repo != nil {
		saved, err := repo.Save(ctx, topic)
		if err != nil {
			b.registry.forgetTopic(name)
			return model.Topic{}, NewErrorWithCause(ErrCodeDatabase, "failed to save topic", err)
		}
		topic.ID = saved.ID
	}
	return topic, nil
}

// GetTopic returns a topic by name.
func (b *Broker) GetTopic(name string) (model.Topic, error) {
	return b.registry.GetTopic(name)
}

// ListTopics returns all topics sorted by name.
func (b *Broker) ListTopics() []model.Topic {
	return b.registry.ListTopics()
}

// DeleteTopic deletes a topic, drops exact references to it from
// subscriptions and client permissions and purges its queued messages.
func (b *Broker) DeleteTopic(ctx context.Context, cid, name string) error {
	topic, err := b.registry.GetTopic(name)
	if err != nil {
		return err
	}
	affected := b.subscriptionsReferencing(topic.Name)

	if repo := b.store.Topics; repo != nil {
		if err := repo.Delete(ctx, topic.Name); err != nil && !IsNoData(err) {
			return NewErrorWithCause(ErrCodeDatabase, "failed to delete topic", err)
		}
	}
	if err := b.engine.DeleteTopic(cid, topic.Name); err != nil {
		return err
	}

	b.persistSubscriptions(ctx, cid, affected)
	for _, clientID := range b.matcher.Clients() {
		n, err := b.matcher.DeleteTopic(clientID, topic.Name)
		if err != nil || n == 0 {
			continue
		}
		b.persistClient(ctx, cid, clientID)
	}
	return nil
}

// RenameTopic renames a topic. Exact references in subscriptions and
// client permissions follow the new name.
func (b *Broker) RenameTopic(ctx context.Context, cid, oldName, newName string) (model.Topic, error) {
	topic, err := b.registry.GetTopic(oldName)
	if err != nil {
		return model.Topic{}, err
	}
	affected := b.subscriptionsReferencing(topic.Name)

	renamed, err := b.registry.RenameTopic(cid, topic.Name, newName)
	if err != nil {
		return model.Topic{}, err
	}

	if repo := b.store.Topics; repo != nil {
		if err := repo.Delete(ctx, topic.Name); err != nil && !IsNoData(err) {
			b.logger.Errorf("[%s] Failed to delete old topic row %s: %v", cid, topic.Name, err)
		}
		if _, err := repo.Save(ctx, renamed); err != nil {
			b.logger.Errorf("[%s] Failed to save renamed topic %s: %v", cid, renamed.Name, err)
		}
	}

	b.persistSubscriptions(ctx, cid, affected)
	for _, clientID := range b.matcher.Clients() {
		n, err := b.matcher.RenameTopic(clientID, topic.Name, renamed.Name)
		if err != nil || n == 0 {
			continue
		}
		b.persistClient(ctx, cid, clientID)
	}
	return renamed, nil
}

// SetTopicActive activates or deactivates a topic.
func (b *Broker) SetTopicActive(ctx context.Context, cid, name string, active bool) (model.Topic, error) {
	topic, err := b.registry.SetTopicActive(cid, name, active)
	if err != nil {
		return model.Topic{}, err
	}
	if repo := b.store.Topics; repo != nil {
		if _, err := repo.Save(ctx, topic); err != nil {
			_, _ = b.registry.SetTopicActive(cid, name, !active)
			return model.Topic{}, NewErrorWithCause(ErrCodeDatabase, "failed to save topic", err)
		}
	}
	return topic, nil
}

// SetRateLimit installs or replaces a rate limit definition.
func (b *Broker) SetRateLimit(ctx context.Context, cid string, def model.RateLimitDefinition) error {
	prev, existed := b.limiter.Definition(def.ObjectType, def.ObjectID)
	if err := b.limiter.SetDefinition(def); err != nil {
		return err
	}

	if repo := b.store.RateLimits; repo != nil {
		if _, err := repo.Save(ctx, def); err != nil {
			if existed {
				_ = b.limiter.SetDefinition(prev)
			} else {
				b.limiter.RemoveDefinition(def.ObjectType, def.ObjectID)
			}
			return NewErrorWithCause(ErrCodeDatabase, "failed to save rate limit", err)
		}
	}

	b.logger.Infof("[%s] Rate limit for %s %s set (%d rules)", cid, def.ObjectType, def.ObjectID, len(def.Rules))
	return nil
}

// RemoveRateLimit drops a rate limit definition.
func (b *Broker) RemoveRateLimit(ctx context.Context, cid, objectType, objectID string) error {
	if _, ok := b.limiter.Definition(objectType, objectID); !ok {
		return NewError(ErrCodeNotFound, fmt.Sprintf("rate limit for %s %s not found", objectType, objectID))
	}
	if repo := b.store.RateLimits; repo != nil {
		if err := repo.Delete(ctx, objectType, objectID); err != nil && !IsNoData(err) {
			return NewErrorWithCause(ErrCodeDatabase, "failed to delete rate limit", err)
		}
	}
	b.limiter.RemoveDefinition(objectType, objectID)
	b.logger.Infof("[%s] Rate limit for %s %s removed", cid, objectType, objectID)
	return nil
}

// Stats returns a snapshot of broker sizes.
func (b *Broker) Stats() Stats {
	return Stats{
		Clients:       b.matcher.ClientCount(),
		Topics:        len(b.registry.ListTopics()),
		Subscriptions: b.registry.SubscriptionCount(),
		RateCounters:  b.limiter.Len(),
		Engine:        b.engine.Stats(),
	}
}

// Stats is a snapshot of broker sizes.
type Stats struct {
	Clients       int         `json:"clients"`
	Topics        int         `json:"topics"`
	Subscriptions int         `json:"subscriptions"`
	RateCounters  int         `json:"rate_counters"`
	Engine        EngineStats `json:"engine"`
}

func (b *Broker) persistClient(ctx context.Context, cid, clientID string) {
	repo := b.store.Clients
	if repo == nil {
		return
	}
	perms, ok := b.matcher.Permissions(clientID)
	if !ok {
		return
	}
	if _, err := repo.Save(ctx, model.NewClient(clientID, perms, b.clock.Now())); err != nil {
		b.logger.Errorf("[%s] Failed to save client %s: %v", cid, clientID, err)
	}
}
