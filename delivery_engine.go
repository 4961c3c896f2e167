package broker

import (
	"cmp"
	"fmt"
	"hash/fnv"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coregx/broker/clock"
	"github.com/coregx/broker/model"
)

// DefaultMaxDepth is the queue depth limit used when neither the
// subscription nor the topic sets one.
const DefaultMaxDepth = 10000

const topicLockStripes = 64

// PublishRequest describes a message to publish.
type PublishRequest struct {
	// Publisher is the client publishing the message.
	Publisher string

	// From is the publisher's network address, used for rate limiting.
	From string

	TopicName string
	Payload   []byte

	// Priority is 0 (lowest, default) to 9 (highest).
	Priority int

	// Expiration is the message lifetime. Zero uses the engine default,
	// which is no expiration unless WithDefaultExpiration is set.
	Expiration time.Duration

	CorrelID    string
	InReplyTo   string
	ExtClientID string
}

// PublishResult is returned by a successful publish.
type PublishResult struct {
	MsgID          string    `json:"msg_id"`
	SubKeys        []string  `json:"-"`
	Recipients     int       `json:"recipients"`
	ExpirationTime time.Time `json:"expiration_time,omitzero"`
}

// Delivery is a queued message due for a push.
type Delivery struct {
	Subscription *model.Subscription
	Entry        model.EnqueuedMessage
}

// EngineStats is a snapshot of queue sizes.
type EngineStats struct {
	Queues    int `json:"queues"`
	Pending   int `json:"pending"`
	Delivered int `json:"delivered"`
}

// subscriptionQueue holds the entries of one subscription. Once closed
// it accepts nothing; publishers that raced with its removal skip it.
type subscriptionQueue struct {
	key string

	mu      sync.Mutex
	sub     *model.Subscription // guarded by mu
	entries map[string]*model.EnqueuedMessage
	closed  bool
}

func newSubscriptionQueue(sub *model.Subscription) *subscriptionQueue {
	return &subscriptionQueue{key: sub.SubKey, sub: sub, entries: make(map[string]*model.EnqueuedMessage)}
}

func (q *subscriptionQueue) pendingCount(now time.Time) int {
	n := 0
	for _, e := range q.entries {
		if e.IsPendingAt(now) {
			n++
		}
	}
	return n
}

func (q *subscriptionQueue) close() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.entries)
	q.entries = nil
	q.closed = true
	return n
}

// deliveryOrder sorts by priority descending, then enqueue time
// ascending, then message id.
func deliveryOrder(a, b *model.EnqueuedMessage) int {
	if c := cmp.Compare(b.Message.Priority, a.Message.Priority); c != 0 {
		return c
	}
	if c := a.EnqueueTime.Compare(b.EnqueueTime); c != 0 {
		return c
	}
	return strings.Compare(a.Message.MsgID, b.Message.MsgID)
}

// DeliveryEngine accepts publishes, fans messages out to the queues of
// matching subscriptions and serves them to subscribers.
//
// Every subscription queue has its own lock. Publishing to a topic holds a
// striped per-topic read lock, so deleting a topic waits for in-flight
// publishes to it without blocking other topics.
type DeliveryEngine struct {
	queuesMu sync.RWMutex
	queues   map[string]*subscriptionQueue

	topicLocks [topicLockStripes]sync.RWMutex

	registry *TopicRegistry
	matcher  *PatternMatcher
	limiter  *RateLimiter

	clock             clock.Clock
	ids               IDGenerator
	logger            Logger
	defaultMaxDepth   int
	defaultExpiration time.Duration
}

// EngineOption configures a DeliveryEngine.
type EngineOption func(*DeliveryEngine) error

// WithEngineRegistry sets the topic registry. Required.
func WithEngineRegistry(r *TopicRegistry) EngineOption {
	return func(e *DeliveryEngine) error {
		if r == nil {
			return fmt.Errorf("registry cannot be nil")
		}
		e.registry = r
		return nil
	}
}

// WithEngineMatcher sets the permission matcher. Required.
func WithEngineMatcher(m *PatternMatcher) EngineOption {
	return func(e *DeliveryEngine) error {
		if m == nil {
			return fmt.Errorf("matcher cannot be nil")
		}
		e.matcher = m
		return nil
	}
}

// WithEngineRateLimiter enables rate limiting of publishes. Optional.
func WithEngineRateLimiter(l *RateLimiter) EngineOption {
	return func(e *DeliveryEngine) error {
		if l == nil {
			return fmt.Errorf("rate limiter cannot be nil")
		}
		e.limiter = l
		return nil
	}
}

// WithEngineClock sets the time source. Default is clock.Real().
func WithEngineClock(c clock.Clock) EngineOption {
	return func(e *DeliveryEngine) error {
		if c == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		e.clock = c
		return nil
	}
}

// WithEngineIDGenerator sets the message id generator. Default is UUIDGenerator.
func WithEngineIDGenerator(ids IDGenerator) EngineOption {
	return func(e *DeliveryEngine) error {
		if ids == nil {
			return fmt.Errorf("id generator cannot be nil")
		}
		e.ids = ids
		return nil
	}
}

// WithEngineLogger sets the logger. Default is NoopLogger.
func WithEngineLogger(logger Logger) EngineOption {
	return func(e *DeliveryEngine) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		e.logger = logger
		return nil
	}
}

// WithDefaultMaxDepth sets the queue depth limit used when neither the
// subscription nor the topic sets one. Must be > 0.
func WithDefaultMaxDepth(depth int) EngineOption {
	return func(e *DeliveryEngine) error {
		if depth <= 0 {
			return fmt.Errorf("default max depth must be > 0, got %d", depth)
		}
		e.defaultMaxDepth = depth
		return nil
	}
}

// WithDefaultExpiration sets the lifetime of messages published without
// one. Zero (the default) means such messages never expire.
func WithDefaultExpiration(d time.Duration) EngineOption {
	return func(e *DeliveryEngine) error {
		if d < 0 {
			return fmt.Errorf("default expiration must be >= 0, got %v", d)
		}
		e.defaultExpiration = d
		return nil
	}
}

// NewDeliveryEngine creates an engine and attaches it to the registry,
// creating queues for subscriptions the registry already holds.
//
// Required options:
//   - WithEngineRegistry
//   - WithEngineMatcher
func NewDeliveryEngine(opts ...EngineOption) (*DeliveryEngine, error) {
	e := &DeliveryEngine{
		queues:          make(map[string]*subscriptionQueue),
		clock:           clock.Real(),
		ids:             UUIDGenerator{},
		logger:          &NoopLogger{},
		defaultMaxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply engine option", err)
		}
	}

	if e.registry == nil {
		return nil, NewError(ErrCodeConfiguration, "TopicRegistry is required (use WithEngineRegistry)")
	}
	if e.matcher == nil {
		return nil, NewError(ErrCodeConfiguration, "PatternMatcher is required (use WithEngineMatcher)")
	}

	e.registry.AddListener(e)
	for _, sub := range e.registry.ListSubscriptions("") {
		if s, ok := e.registry.subscription(sub.SubKey); ok {
			e.SubscriptionAdded(s)
		}
	}
	return e, nil
}

// Publish runs, in order: the rate limit check, the publish permission
// check, the topic existence check, and the depth check on every matching
// subscription. Only when all pass is the message enqueued, to all
// matching subscriptions at once.
func (e *DeliveryEngine) Publish(cid string, req PublishRequest) (PublishResult, error) {
	if req.Priority < model.MinPriority || req.Priority > model.MaxPriority {
		return PublishResult{}, NewError(ErrCodeValidation,
			fmt.Sprintf("priority must be between %d and %d", model.MinPriority, model.MaxPriority))
	}
	if req.Expiration < 0 {
		return PublishResult{}, NewError(ErrCodeValidation, "expiration must be >= 0")
	}

	if e.limiter != nil {
		if err := e.limiter.Check(cid, RateLimitObjectClient, req.Publisher, req.From); err != nil {
			return PublishResult{}, err
		}
	}

	if result := e.matcher.Evaluate(req.Publisher, req.TopicName, model.ActionPublish); !result.IsOK {
		e.logger.Infof("[%s] Publish by %s to %s denied: %s", cid, req.Publisher, req.TopicName, result.Reason)
		return PublishResult{}, result.Err()
	}

	lock := e.topicLock(req.TopicName)
	lock.RLock()
	defer lock.RUnlock()

	topic, err := e.registry.GetTopic(req.TopicName)
	if err != nil {
		return PublishResult{}, err
	}
	if !topic.IsActive {
		return PublishResult{}, NewError(ErrCodeTopicNotFound, fmt.Sprintf("topic %s is not active", topic.Name))
	}

	now := e.clock.Now()
	msg := &model.Message{
		MsgID:       e.ids.MessageID(),
		TopicName:   topic.Name,
		Payload:     req.Payload,
		Priority:    req.Priority,
		Publisher:   req.Publisher,
		PubTime:     now,
		CorrelID:    req.CorrelID,
		InReplyTo:   req.InReplyTo,
		ExtClientID: req.ExtClientID,
	}
	expiration := req.Expiration
	if expiration == 0 {
		expiration = e.defaultExpiration
	}
	if expiration > 0 {
		msg.ExpirationTime = now.Add(expiration)
	}

	queues := e.lockQueues(e.entitledSubscriptions(cid, topic.Name))
	defer unlockQueues(queues)

	for _, q := range queues {
		limit := e.effectiveMaxDepth(q.sub, &topic)
		if q.pendingCount(now) >= limit {
			e.logger.Warnf("[%s] Publish to %s rejected: queue %s full (%d)", cid, topic.Name, q.key, limit)
			return PublishResult{}, NewError(ErrCodeQueueDepthExceeded,
				fmt.Sprintf("subscriber queue is full (max depth %d)", limit))
		}
	}

	result := PublishResult{MsgID: msg.MsgID, ExpirationTime: msg.ExpirationTime}
	for _, q := range queues {
		q.entries[msg.MsgID] = model.NewEnqueuedMessage(msg, q.key, now)
		result.SubKeys = append(result.SubKeys, q.key)
	}
	result.Recipients = len(result.SubKeys)

	e.logger.Debugf("[%s] Message %s published to %s by %s (%d recipients)",
		cid, msg.MsgID, topic.Name, req.Publisher, result.Recipients)
	return result, nil
}

// GetMessages returns up to maxItems pending, unexpired messages of the
// subscription in delivery order and marks them delivered.
func (e *DeliveryEngine) GetMessages(subKey string, maxItems int) ([]model.Message, error) {
	if maxItems <= 0 {
		return nil, NewError(ErrCodeValidation, "max items must be > 0")
	}
	q, err := e.openQueue(subKey)
	if err != nil {
		return nil, err
	}
	defer q.mu.Unlock()

	now := e.clock.Now()
	due := make([]*model.EnqueuedMessage, 0, len(q.entries))
	for _, entry := range q.entries {
		if entry.IsPendingAt(now) {
			due = append(due, entry)
		}
	}
	slices.SortFunc(due, deliveryOrder)
	if len(due) > maxItems {
		due = due[:maxItems]
	}

	out := make([]model.Message, 0, len(due))
	for _, entry := range due {
		entry.MarkDelivered(now)
		out = append(out, *entry.Message)
	}
	return out, nil
}

// Acknowledge removes delivered entries of the subscription with the given
// message ids and returns how many were removed.
func (e *DeliveryEngine) Acknowledge(subKey string, msgIDs []string) (int, error) {
	q, err := e.openQueue(subKey)
	if err != nil {
		return 0, err
	}
	defer q.mu.Unlock()

	removed := 0
	for _, id := range msgIDs {
		if entry, ok := q.entries[id]; ok && entry.Status == model.StatusDelivered {
			delete(q.entries, id)
			removed++
		}
	}
	return removed, nil
}

// Lookup returns a copy of one queued entry. Entries past their expiration
// are reported with StatusExpired until a sweep removes them.
func (e *DeliveryEngine) Lookup(subKey, msgID string) (model.EnqueuedMessage, error) {
	q, err := e.openQueue(subKey)
	if err != nil {
		return model.EnqueuedMessage{}, err
	}
	defer q.mu.Unlock()

	entry, ok := q.entries[msgID]
	if !ok {
		return model.EnqueuedMessage{}, NewError(ErrCodeNotFound, fmt.Sprintf("message %s not found", msgID))
	}
	out := *entry
	if out.Status == model.StatusPending && out.Message.IsExpired(e.clock.Now()) {
		out.Status = model.StatusExpired
	}
	return out, nil
}

// QueueDepth returns the number of pending, unexpired entries.
func (e *DeliveryEngine) QueueDepth(subKey string) (int, error) {
	q, err := e.openQueue(subKey)
	if err != nil {
		return 0, err
	}
	defer q.mu.Unlock()
	return q.pendingCount(e.clock.Now()), nil
}

// DeleteExpired removes entries whose message expired at or before now
// from every queue and returns how many were removed. Calling it again
// with the same now removes nothing.
func (e *DeliveryEngine) DeleteExpired(cid string, now time.Time) int {
	removed := e.sweep(func(entry *model.EnqueuedMessage) bool {
		return entry.Message.IsExpired(now)
	})
	if removed > 0 {
		e.logger.Infof("[%s] Deleted %d expired messages", cid, removed)
	}
	return removed
}

// DeleteDelivered removes delivered entries from every queue and returns
// how many were removed.
func (e *DeliveryEngine) DeleteDelivered(cid string) int {
	removed := e.sweep(func(entry *model.EnqueuedMessage) bool {
		return entry.Status == model.StatusDelivered
	})
	if removed > 0 {
		e.logger.Debugf("[%s] Deleted %d delivered messages", cid, removed)
	}
	return removed
}

// Unsubscribe removes the subscription and purges its queue.
func (e *DeliveryEngine) Unsubscribe(cid, subKey string) error {
	return e.registry.Unsubscribe(cid, subKey)
}

// DeleteTopic removes the topic, the subscriptions bound only to it and
// every queued message of the topic. The topic's stripe is write-locked
// from the registry removal until the purge ends, so a same-named topic
// created meanwhile cannot accept messages that the purge would drop.
func (e *DeliveryEngine) DeleteTopic(cid, name string) error {
	lock := e.topicLock(name)
	lock.Lock()
	defer lock.Unlock()
	return e.registry.DeleteTopic(cid, name)
}

// PendingNotifications returns up to limit entries of notify
// subscriptions that are due for a push at now.
func (e *DeliveryEngine) PendingNotifications(now time.Time, limit int) []Delivery {
	var out []Delivery
	for _, q := range e.snapshotQueues() {
		q.mu.Lock()
		if q.closed || !q.sub.IsPush() {
			q.mu.Unlock()
			continue
		}
		var due []*model.EnqueuedMessage
		for _, entry := range q.entries {
			if entry.IsPendingAt(now) && !now.Before(entry.NextAttemptAt) {
				due = append(due, entry)
			}
		}
		slices.SortFunc(due, deliveryOrder)
		for _, entry := range due {
			if len(out) >= limit {
				break
			}
			out = append(out, Delivery{Subscription: q.sub, Entry: *entry})
		}
		q.mu.Unlock()

		if len(out) >= limit {
			break
		}
	}
	return out
}

// ConfirmDelivery marks a pushed entry delivered.
func (e *DeliveryEngine) ConfirmDelivery(subKey, msgID string) error {
	return e.withEntry(subKey, msgID, func(entry *model.EnqueuedMessage) {
		entry.MarkDelivered(e.clock.Now())
	})
}

// RecordFailure records a failed push and schedules the next attempt
// after retryAfter. It returns the updated entry.
func (e *DeliveryEngine) RecordFailure(subKey, msgID string, cause error, retryAfter time.Duration) (model.EnqueuedMessage, error) {
	var out model.EnqueuedMessage
	err := e.withEntry(subKey, msgID, func(entry *model.EnqueuedMessage) {
		entry.MarkFailed(cause, retryAfter, e.clock.Now())
		out = *entry
	})
	return out, err
}

// Remove deletes one entry regardless of its state.
func (e *DeliveryEngine) Remove(subKey, msgID string) bool {
	q, err := e.openQueue(subKey)
	if err != nil {
		return false
	}
	defer q.mu.Unlock()
	_, ok := q.entries[msgID]
	delete(q.entries, msgID)
	return ok
}

// Stats returns queue counters at the engine's current time.
func (e *DeliveryEngine) Stats() EngineStats {
	now := e.clock.Now()
	var stats EngineStats
	for _, q := range e.snapshotQueues() {
		q.mu.Lock()
		if !q.closed {
			stats.Queues++
			for _, entry := range q.entries {
				switch {
				case entry.Status == model.StatusDelivered:
					stats.Delivered++
				case entry.IsPendingAt(now):
					stats.Pending++
				}
			}
		}
		q.mu.Unlock()
	}
	return stats
}

// SubscriptionAdded implements SubscriptionListener.
func (e *DeliveryEngine) SubscriptionAdded(sub *model.Subscription) {
	e.queuesMu.Lock()
	old, ok := e.queues[sub.SubKey]
	e.queues[sub.SubKey] = newSubscriptionQueue(sub)
	e.queuesMu.Unlock()

	if ok {
		old.close()
	}
}

// SubscriptionUpdated implements SubscriptionListener.
func (e *DeliveryEngine) SubscriptionUpdated(sub *model.Subscription) {
	e.queuesMu.RLock()
	q, ok := e.queues[sub.SubKey]
	e.queuesMu.RUnlock()
	if !ok {
		return
	}
	q.mu.Lock()
	q.sub = sub
	q.mu.Unlock()
}

// SubscriptionRemoved implements SubscriptionListener.
func (e *DeliveryEngine) SubscriptionRemoved(sub *model.Subscription) {
	e.queuesMu.Lock()
	q, ok := e.queues[sub.SubKey]
	delete(e.queues, sub.SubKey)
	e.queuesMu.Unlock()
	if !ok {
		return
	}

	if n := q.close(); n > 0 {
		e.logger.Debugf("Purged %d queued messages of subscription %s", n, sub.SubKey)
	}
}

// TopicDeleted implements SubscriptionListener. It purges the topic's
// messages everywhere. When reached through DeleteTopic the caller holds
// the topic's stripe write lock.
func (e *DeliveryEngine) TopicDeleted(topic string) {
	purged := e.sweep(func(entry *model.EnqueuedMessage) bool {
		return strings.EqualFold(entry.Message.TopicName, topic)
	})
	if purged > 0 {
		e.logger.Infof("Purged %d queued messages of deleted topic %s", purged, topic)
	}
}

// entitledSubscriptions returns the subscriptions matching topic whose
// endpoint may currently subscribe to it. A pattern accepted at
// registration can be wider than the endpoint's grants, and grants can
// be revoked after subscribing.
func (e *DeliveryEngine) entitledSubscriptions(cid, topic string) []*model.Subscription {
	subs := e.registry.MatchingSubscriptions(topic)
	out := make([]*model.Subscription, 0, len(subs))
	for _, sub := range subs {
		if result := e.matcher.Evaluate(sub.EndpointID, topic, model.ActionSubscribe); !result.IsOK {
			e.logger.Debugf("[%s] Skipping subscription %s on %s: %s", cid, sub.SubKey, topic, result.Reason)
			continue
		}
		out = append(out, sub)
	}
	return out
}

func (e *DeliveryEngine) effectiveMaxDepth(sub *model.Subscription, topic *model.Topic) int {
	if sub.MaxDepth > 0 {
		return sub.MaxDepth
	}
	if topic.MaxDepth > 0 {
		return topic.MaxDepth
	}
	return e.defaultMaxDepth
}

// lockQueues locks the open queues of subs in sub key order, so that
// concurrent publishes acquire overlapping queues in the same order.
func (e *DeliveryEngine) lockQueues(subs []*model.Subscription) []*subscriptionQueue {
	e.queuesMu.RLock()
	queues := make([]*subscriptionQueue, 0, len(subs))
	for _, sub := range subs {
		if q, ok := e.queues[sub.SubKey]; ok {
			queues = append(queues, q)
		}
	}
	e.queuesMu.RUnlock()

	slices.SortFunc(queues, func(a, b *subscriptionQueue) int { return strings.Compare(a.key, b.key) })

	open := queues[:0]
	for _, q := range queues {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			continue
		}
		open = append(open, q)
	}
	return open
}

func unlockQueues(queues []*subscriptionQueue) {
	for _, q := range queues {
		q.mu.Unlock()
	}
}

// openQueue returns the subscription's queue locked. The caller unlocks.
func (e *DeliveryEngine) openQueue(subKey string) (*subscriptionQueue, error) {
	e.queuesMu.RLock()
	q, ok := e.queues[subKey]
	e.queuesMu.RUnlock()
	if !ok {
		return nil, NewError(ErrCodeNotFound, fmt.Sprintf("subscription %s not found", subKey))
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, NewError(ErrCodeNotFound, fmt.Sprintf("subscription %s not found", subKey))
	}
	return q, nil
}

func (e *DeliveryEngine) withEntry(subKey, msgID string, fn func(*model.EnqueuedMessage)) error {
	q, err := e.openQueue(subKey)
	if err != nil {
		return err
	}
	defer q.mu.Unlock()

	entry, ok := q.entries[msgID]
	if !ok {
		return NewError(ErrCodeNotFound, fmt.Sprintf("message %s not found", msgID))
	}
	fn(entry)
	return nil
}

func (e *DeliveryEngine) sweep(match func(*model.EnqueuedMessage) bool) int {
	removed := 0
	for _, q := range e.snapshotQueues() {
		q.mu.Lock()
		for id, entry := range q.entries {
			if match(entry) {
				delete(q.entries, id)
				removed++
			}
		}
		q.mu.Unlock()
	}
	return removed
}

func (e *DeliveryEngine) snapshotQueues() []*subscriptionQueue {
	e.queuesMu.RLock()
	defer e.queuesMu.RUnlock()
	queues := make([]*subscriptionQueue, 0, len(e.queues))
	for _, q := range e.queues {
		queues = append(queues, q)
	}
	return queues
}

func (e *DeliveryEngine) topicLock(name string) *sync.RWMutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(name)))
	return &e.topicLocks[h.Sum32()%topicLockStripes]
}
