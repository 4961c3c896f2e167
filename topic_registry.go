package broker

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/coregx/broker/cache"
	"github.com/coregx/broker/clock"
	"github.com/coregx/broker/model"
)

// SubscriptionListener is told about registry changes that affect queues.
//
// The Subscription callbacks run while the registry holds its subscription
// lock, in the order the changes happen, and must not call back into the
// registry. TopicDeleted runs after all registry locks are released.
type SubscriptionListener interface {
	// SubscriptionAdded is called when a subscription is registered.
	SubscriptionAdded(sub *model.Subscription)

	// SubscriptionUpdated is called when a stored subscription is replaced
	// by a modified copy under the same sub key.
	SubscriptionUpdated(sub *model.Subscription)

	// SubscriptionRemoved is called when a subscription is removed.
	SubscriptionRemoved(sub *model.Subscription)

	// TopicDeleted is called after a topic is deleted.
	TopicDeleted(topic string)
}

// SubscriptionRequest describes a subscription to register.
type SubscriptionRequest struct {
	// EndpointID is the client the subscription belongs to. Its subscribe
	// permissions must cover every pattern.
	EndpointID string

	// TopicPatterns are the patterns to subscribe to. At least one.
	TopicPatterns []string

	// SubKey is optional; one is generated when empty.
	SubKey string

	// DeliveryMethod defaults to pull. Notify requires PushURL.
	DeliveryMethod model.DeliveryMethod

	PushURL  string
	MaxDepth int
}

// TopicOption customizes a topic created by CreateTopic.
type TopicOption func(*model.Topic)

// WithTopicDescription sets the topic description.
func WithTopicDescription(description string) TopicOption {
	return func(t *model.Topic) { t.Description = description }
}

// WithTopicMaxDepth sets the per-queue depth limit for the topic's messages.
func WithTopicMaxDepth(depth int) TopicOption {
	return func(t *model.Topic) { t.MaxDepth = depth }
}

// WithTopicInactive creates the topic in the inactive state.
func WithTopicInactive() TopicOption {
	return func(t *model.Topic) { t.IsActive = false }
}

// TopicRegistry owns topics and subscriptions.
//
// Topics and subscriptions are guarded by separate locks. Stored
// subscriptions are never modified in place; changes replace the pointer,
// so pointers handed out stay valid snapshots.
type TopicRegistry struct {
	topicsMu sync.RWMutex
	topics   map[string]*model.Topic

	subsMu sync.RWMutex
	subs   map[string]*model.Subscription

	// lookup caches topic name to matching subscriptions. Filled and
	// cleared only while subsMu is held.
	lookup *cache.Cache[string, []*model.Subscription]

	listenersMu sync.RWMutex
	listeners   []SubscriptionListener

	matcher *PatternMatcher
	clock   clock.Clock
	ids     IDGenerator
	logger  Logger
}

// RegistryOption configures a TopicRegistry.
type RegistryOption func(*TopicRegistry) error

// WithRegistryMatcher sets the permission matcher. Required.
func WithRegistryMatcher(m *PatternMatcher) RegistryOption {
	return func(r *TopicRegistry) error {
		if m == nil {
			return fmt.Errorf("matcher cannot be nil")
		}
		r.matcher = m
		return nil
	}
}

// WithRegistryClock sets the time source. Default is clock.Real().
func WithRegistryClock(c clock.Clock) RegistryOption {
	return func(r *TopicRegistry) error {
		if c == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		r.clock = c
		return nil
	}
}

// WithRegistryIDGenerator sets the sub key generator. Default is UUIDGenerator.
func WithRegistryIDGenerator(ids IDGenerator) RegistryOption {
	return func(r *TopicRegistry) error {
		if ids == nil {
			return fmt.Errorf("id generator cannot be nil")
		}
		r.ids = ids
		return nil
	}
}

// WithRegistryLogger sets the logger. Default is NoopLogger.
func WithRegistryLogger(logger Logger) RegistryOption {
	return func(r *TopicRegistry) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		r.logger = logger
		return nil
	}
}

// WithLookupCacheSize bounds the topic to subscriptions lookup cache.
// Default is cache.DefaultMaxSize.
func WithLookupCacheSize(size int) RegistryOption {
	return func(r *TopicRegistry) error {
		c, err := cache.New[string, []*model.Subscription](cache.WithMaxSize(size))
		if err != nil {
			return err
		}
		r.lookup = c
		return nil
	}
}

// NewTopicRegistry creates an empty registry.
//
// Required options:
//   - WithRegistryMatcher
func NewTopicRegistry(opts ...RegistryOption) (*TopicRegistry, error) {
	r := &TopicRegistry{
		topics: make(map[string]*model.Topic),
		subs:   make(map[string]*model.Subscription),
		clock:  clock.Real(),
		ids:    UUIDGenerator{},
		logger: &NoopLogger{},
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply registry option", err)
		}
	}

	if r.matcher == nil {
		return nil, NewError(ErrCodeConfiguration, "PatternMatcher is required (use WithRegistryMatcher)")
	}
	if r.lookup == nil {
		c, err := cache.New[string, []*model.Subscription]()
		if err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to create lookup cache", err)
		}
		r.lookup = c
	}
	return r, nil
}

// AddListener registers l for subscription and topic changes.
func (r *TopicRegistry) AddListener(l SubscriptionListener) {
	r.listenersMu.Lock()
	r.listeners = append(r.listeners, l)
	r.listenersMu.Unlock()
}

// CreateTopic creates an active topic named name.
func (r *TopicRegistry) CreateTopic(cid, creator, name string, opts ...TopicOption) (model.Topic, error) {
	if err := model.ValidateTopicName(name); err != nil {
		return model.Topic{}, NewErrorWithCause(ErrCodeValidation, fmt.Sprintf("invalid topic name %q", name), err)
	}

	topic := model.NewTopic(name, creator, r.clock.Now())
	for _, opt := range opts {
		opt(&topic)
	}
	if topic.MaxDepth < 0 {
		return model.Topic{}, NewError(ErrCodeValidation, "max depth must be >= 0")
	}

	if err := r.putTopic(&topic); err != nil {
		return model.Topic{}, err
	}

	r.logger.Infof("[%s] Topic %s created by %s", cid, name, creator)
	return topic, nil
}

// RestoreTopic inserts a previously persisted topic.
func (r *TopicRegistry) RestoreTopic(topic model.Topic) error {
	if err := model.ValidateTopicName(topic.Name); err != nil {
		return NewErrorWithCause(ErrCodeValidation, fmt.Sprintf("invalid topic name %q", topic.Name), err)
	}
	return r.putTopic(&topic)
}

func (r *TopicRegistry) putTopic(topic *model.Topic) error {
	key := topicKey(topic.Name)

	r.topicsMu.Lock()
	defer r.topicsMu.Unlock()

	if _, ok := r.topics[key]; ok {
		return NewError(ErrCodeDuplicateTopic, fmt.Sprintf("topic %s already exists", topic.Name))
	}
	r.topics[key] = topic
	return nil
}

// GetTopic returns the topic named name.
func (r *TopicRegistry) GetTopic(name string) (model.Topic, error) {
	r.topicsMu.RLock()
	defer r.topicsMu.RUnlock()

	topic, ok := r.topics[topicKey(name)]
	if !ok {
		return model.Topic{}, topicNotFound(name)
	}
	return *topic, nil
}

// ListTopics returns all topics sorted by name.
func (r *TopicRegistry) ListTopics() []model.Topic {
	r.topicsMu.RLock()
	topics := make([]model.Topic, 0, len(r.topics))
	for _, t := range r.topics {
		topics = append(topics, *t)
	}
	r.topicsMu.RUnlock()

	slices.SortFunc(topics, func(a, b model.Topic) int { return strings.Compare(a.Name, b.Name) })
	return topics
}

// SetTopicActive activates or deactivates a topic. Inactive topics reject
// publishes; queued messages are kept.
func (r *TopicRegistry) SetTopicActive(cid, name string, active bool) (model.Topic, error) {
	key := topicKey(name)

	r.topicsMu.Lock()
	topic, ok := r.topics[key]
	if !ok {
		r.topicsMu.Unlock()
		return model.Topic{}, topicNotFound(name)
	}
	updated := *topic
	updated.IsActive = active
	r.topics[key] = &updated
	r.topicsMu.Unlock()

	r.logger.Infof("[%s] Topic %s active=%t", cid, name, active)
	return updated, nil
}

// DeleteTopic removes a topic. Subscriptions naming it with an exact
// pattern lose that pattern; those left without patterns are removed.
// Listeners purge the affected queues.
func (r *TopicRegistry) DeleteTopic(cid, name string) error {
	key := topicKey(name)

	r.topicsMu.Lock()
	topic, ok := r.topics[key]
	if ok {
		delete(r.topics, key)
	}
	r.topicsMu.Unlock()
	if !ok {
		return topicNotFound(name)
	}

	listeners := r.snapshotListeners()
	removed := 0

	r.subsMu.Lock()
	for subKey, sub := range r.subs {
		if !sub.ReferencesExactly(topic.Name) {
			continue
		}
		updated := sub.Clone()
		if updated.DropExact(topic.Name) == 0 {
			delete(r.subs, subKey)
			removed++
			for _, l := range listeners {
				l.SubscriptionRemoved(sub)
			}
			continue
		}
		r.subs[subKey] = &updated
		for _, l := range listeners {
			l.SubscriptionUpdated(&updated)
		}
	}
	r.lookup.Clear()
	r.subsMu.Unlock()

	for _, l := range listeners {
		l.TopicDeleted(topic.Name)
	}

	r.logger.Infof("[%s] Topic %s deleted (%d subscriptions removed)", cid, topic.Name, removed)
	return nil
}

// RenameTopic renames a topic. Subscriptions naming it with an exact
// pattern follow the new name. Messages already queued keep the name they
// were published under.
func (r *TopicRegistry) RenameTopic(cid, oldName, newName string) (model.Topic, error) {
	if err := model.ValidateTopicName(newName); err != nil {
		return model.Topic{}, NewErrorWithCause(ErrCodeValidation, fmt.Sprintf("invalid topic name %q", newName), err)
	}
	newPattern, err := model.ParsePattern(newName)
	if err != nil {
		return model.Topic{}, NewErrorWithCause(ErrCodeValidation, fmt.Sprintf("invalid topic name %q", newName), err)
	}
	oldKey, newKey := topicKey(oldName), topicKey(newName)

	r.topicsMu.Lock()
	topic, ok := r.topics[oldKey]
	if !ok {
		r.topicsMu.Unlock()
		return model.Topic{}, topicNotFound(oldName)
	}
	if _, taken := r.topics[newKey]; taken && newKey != oldKey {
		r.topicsMu.Unlock()
		return model.Topic{}, NewError(ErrCodeDuplicateTopic, fmt.Sprintf("topic %s already exists", newName))
	}
	renamed := *topic
	renamed.Name = newName
	delete(r.topics, oldKey)
	r.topics[newKey] = &renamed
	r.topicsMu.Unlock()

	listeners := r.snapshotListeners()

	r.subsMu.Lock()
	for subKey, sub := range r.subs {
		if !sub.ReferencesExactly(topic.Name) {
			continue
		}
		updated := sub.Clone()
		updated.RenameExact(topic.Name, newPattern)
		r.subs[subKey] = &updated
		for _, l := range listeners {
			l.SubscriptionUpdated(&updated)
		}
	}
	r.lookup.Clear()
	r.subsMu.Unlock()

	r.logger.Infof("[%s] Topic %s renamed to %s", cid, topic.Name, newName)
	return renamed, nil
}

// forgetTopic drops a topic without touching subscriptions or queues.
// Used to undo a CreateTopic whose persistence failed.
func (r *TopicRegistry) forgetTopic(name string) {
	r.topicsMu.Lock()
	delete(r.topics, topicKey(name))
	r.topicsMu.Unlock()
}

// RegisterSubscription validates req, checks that the endpoint may
// subscribe to every pattern and registers the subscription together
// with an empty queue.
func (r *TopicRegistry) RegisterSubscription(cid string, req SubscriptionRequest) (model.Subscription, error) {
	if req.EndpointID == "" {
		return model.Subscription{}, NewError(ErrCodeValidation, "endpoint id is required")
	}
	if len(req.TopicPatterns) == 0 {
		return model.Subscription{}, NewError(ErrCodeValidation, "at least one topic pattern is required")
	}

	patterns := make([]model.Pattern, 0, len(req.TopicPatterns))
	for _, raw := range req.TopicPatterns {
		p, err := model.ParsePattern(raw)
		if err != nil {
			return model.Subscription{}, NewErrorWithCause(ErrCodeInvalidPattern, fmt.Sprintf("invalid pattern %q", raw), err)
		}
		patterns = append(patterns, p)
	}

	for _, p := range patterns {
		if result := r.matcher.Covers(req.EndpointID, p, model.ActionSubscribe); !result.IsOK {
			r.logger.Infof("[%s] Subscription by %s to %s denied: %s", cid, req.EndpointID, p, result.Reason)
			return model.Subscription{}, NewError(ErrCodePermissionDenied,
				fmt.Sprintf("cannot subscribe to %s: %s", p, result.Reason))
		}
	}

	method := req.DeliveryMethod
	if method == "" {
		method = model.DeliveryPull
	}
	if method != model.DeliveryPull && method != model.DeliveryNotify {
		return model.Subscription{}, NewError(ErrCodeValidation, fmt.Sprintf("unknown delivery method %q", method))
	}
	if method == model.DeliveryNotify && req.PushURL == "" {
		return model.Subscription{}, NewError(ErrCodeValidation, "push url is required for notify delivery")
	}
	if req.MaxDepth < 0 {
		return model.Subscription{}, NewError(ErrCodeValidation, "max depth must be >= 0")
	}

	subKey := req.SubKey
	if subKey == "" {
		subKey = r.ids.SubKey(req.EndpointID)
	}

	sub := &model.Subscription{
		SubKey:         subKey,
		EndpointID:     req.EndpointID,
		Patterns:       patterns,
		DeliveryMethod: method,
		PushURL:        req.PushURL,
		MaxDepth:       req.MaxDepth,
		CreatedAt:      r.clock.Now(),
	}
	if err := r.putSubscription(sub); err != nil {
		return model.Subscription{}, err
	}

	r.logger.Infof("[%s] Subscription %s registered for %s (%s)",
		cid, subKey, req.EndpointID, strings.Join(req.TopicPatterns, ", "))
	return sub.Clone(), nil
}

// RestoreSubscription inserts a previously persisted subscription without
// permission checks.
func (r *TopicRegistry) RestoreSubscription(sub model.Subscription) error {
	if sub.SubKey == "" || len(sub.Patterns) == 0 {
		return NewError(ErrCodeValidation, "sub key and topic patterns are required")
	}
	restored := sub.Clone()
	return r.putSubscription(&restored)
}

func (r *TopicRegistry) putSubscription(sub *model.Subscription) error {
	listeners := r.snapshotListeners()

	r.subsMu.Lock()
	defer r.subsMu.Unlock()

	if _, ok := r.subs[sub.SubKey]; ok {
		return NewError(ErrCodeDuplicateSubscription, fmt.Sprintf("subscription %s already exists", sub.SubKey))
	}
	r.subs[sub.SubKey] = sub
	r.lookup.Clear()
	for _, l := range listeners {
		l.SubscriptionAdded(sub)
	}
	return nil
}

// Unsubscribe removes the subscription and, through listeners, its queue.
// Unknown keys return NOT_FOUND and change nothing.
func (r *TopicRegistry) Unsubscribe(cid, subKey string) error {
	listeners := r.snapshotListeners()

	r.subsMu.Lock()
	sub, ok := r.subs[subKey]
	if !ok {
		r.subsMu.Unlock()
		return NewError(ErrCodeNotFound, fmt.Sprintf("subscription %s not found", subKey))
	}
	delete(r.subs, subKey)
	r.lookup.Clear()
	for _, l := range listeners {
		l.SubscriptionRemoved(sub)
	}
	r.subsMu.Unlock()

	r.logger.Infof("[%s] Subscription %s removed", cid, subKey)
	return nil
}

// GetSubscription returns the subscription stored under subKey.
func (r *TopicRegistry) GetSubscription(subKey string) (model.Subscription, error) {
	sub, ok := r.subscription(subKey)
	if !ok {
		return model.Subscription{}, NewError(ErrCodeNotFound, fmt.Sprintf("subscription %s not found", subKey))
	}
	return sub.Clone(), nil
}

// ListSubscriptions returns the subscriptions of endpointID, or all of
// them when endpointID is empty, sorted by sub key.
func (r *TopicRegistry) ListSubscriptions(endpointID string) []model.Subscription {
	r.subsMu.RLock()
	out := make([]model.Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		if endpointID == "" || sub.EndpointID == endpointID {
			out = append(out, sub.Clone())
		}
	}
	r.subsMu.RUnlock()

	slices.SortFunc(out, func(a, b model.Subscription) int { return strings.Compare(a.SubKey, b.SubKey) })
	return out
}

// SubscriptionCount returns the number of subscriptions.
func (r *TopicRegistry) SubscriptionCount() int {
	r.subsMu.RLock()
	defer r.subsMu.RUnlock()
	return len(r.subs)
}

// MatchingSubscriptions returns the subscriptions with a pattern matching
// topic, sorted by sub key. The returned pointers must not be modified.
func (r *TopicRegistry) MatchingSubscriptions(topic string) []*model.Subscription {
	key := topicKey(topic)

	r.subsMu.RLock()
	defer r.subsMu.RUnlock()

	if cached, ok := r.lookup.Get(key); ok {
		return cached
	}

	var matched []*model.Subscription
	for _, sub := range r.subs {
		if sub.Matches(topic) {
			matched = append(matched, sub)
		}
	}
	slices.SortFunc(matched, func(a, b *model.Subscription) int { return strings.Compare(a.SubKey, b.SubKey) })

	r.lookup.Set(key, matched)
	return matched
}

func (r *TopicRegistry) subscription(subKey string) (*model.Subscription, bool) {
	r.subsMu.RLock()
	defer r.subsMu.RUnlock()
	sub, ok := r.subs[subKey]
	return sub, ok
}

func (r *TopicRegistry) snapshotListeners() []SubscriptionListener {
	r.listenersMu.RLock()
	defer r.listenersMu.RUnlock()
	return slices.Clone(r.listeners)
}

func topicKey(name string) string {
	return strings.ToLower(name)
}

func topicNotFound(name string) *Error {
	return NewError(ErrCodeTopicNotFound, fmt.Sprintf("topic %s not found", name))
}
