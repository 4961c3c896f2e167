package broker

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/broker/clock"
	"github.com/coregx/broker/model"
)

// seqIDs hands out predictable, increasing ids.
type seqIDs struct {
	n atomic.Int64
}

func (s *seqIDs) MessageID() string {
	return fmt.Sprintf("msg-%06d", s.n.Add(1))
}

func (s *seqIDs) SubKey(endpointID string) string {
	return fmt.Sprintf("sk.%s.%06d", endpointID, s.n.Add(1))
}

// recordingListener records registry callbacks.
type recordingListener struct {
	mu     sync.Mutex
	events []string
}

func (l *recordingListener) record(format string, args ...any) {
	l.mu.Lock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func (l *recordingListener) SubscriptionAdded(sub *model.Subscription) {
	l.record("added %s", sub.SubKey)
}

func (l *recordingListener) SubscriptionUpdated(sub *model.Subscription) {
	l.record("updated %s %v", sub.SubKey, sub.PatternStrings())
}

func (l *recordingListener) SubscriptionRemoved(sub *model.Subscription) {
	l.record("removed %s", sub.SubKey)
}

func (l *recordingListener) TopicDeleted(topic string) {
	l.record("topic deleted %s", topic)
}

func (l *recordingListener) Events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func newRegistry(t *testing.T, m *PatternMatcher) *TopicRegistry {
	t.Helper()
	r, err := NewTopicRegistry(
		WithRegistryMatcher(m),
		WithRegistryClock(clock.NewFake(testEpoch)),
		WithRegistryIDGenerator(&seqIDs{}),
	)
	require.NoError(t, err)
	return r
}

func TestNewTopicRegistry_RequiresMatcher(t *testing.T) {
	_, err := NewTopicRegistry()
	assert.True(t, HasCode(err, ErrCodeConfiguration))

	_, err = NewTopicRegistry(WithRegistryMatcher(nil))
	assert.True(t, HasCode(err, ErrCodeConfiguration))

	_, err = NewTopicRegistry(WithRegistryMatcher(newMatcher(t)), WithLookupCacheSize(0))
	assert.True(t, HasCode(err, ErrCodeConfiguration))
}

func TestTopicRegistry_CreateTopic(t *testing.T) {
	r := newRegistry(t, newMatcher(t))

	topic, err := r.CreateTopic("cid", "admin", "orders.created",
		WithTopicDescription("new orders"), WithTopicMaxDepth(5))
	require.NoError(t, err)
	assert.Equal(t, "orders.created", topic.Name)
	assert.Equal(t, "new orders", topic.Description)
	assert.Equal(t, 5, topic.MaxDepth)
	assert.True(t, topic.IsActive)
	assert.Equal(t, testEpoch, topic.CreatedAt)

	_, err = r.CreateTopic("cid", "admin", "ORDERS.created")
	assert.True(t, HasCode(err, ErrCodeDuplicateTopic))

	_, err = r.CreateTopic("cid", "admin", "orders.*")
	assert.True(t, HasCode(err, ErrCodeValidation))

	_, err = r.CreateTopic("cid", "admin", "")
	assert.True(t, HasCode(err, ErrCodeValidation))

	_, err = r.CreateTopic("cid", "admin", "bad.depth", WithTopicMaxDepth(-1))
	assert.True(t, HasCode(err, ErrCodeValidation))

	got, err := r.GetTopic("Orders.Created")
	require.NoError(t, err)
	assert.Equal(t, topic, got)

	_, err = r.GetTopic("missing")
	assert.True(t, HasCode(err, ErrCodeTopicNotFound))
}

func TestTopicRegistry_ListAndActivate(t *testing.T) {
	r := newRegistry(t, newMatcher(t))
	for _, name := range []string{"b", "c", "a"} {
		_, err := r.CreateTopic("cid", "admin", name)
		require.NoError(t, err)
	}
	_, err := r.CreateTopic("cid", "admin", "d", WithTopicInactive())
	require.NoError(t, err)

	topics := r.ListTopics()
	require.Len(t, topics, 4)
	assert.Equal(t, "a", topics[0].Name)
	assert.False(t, topics[3].IsActive)

	updated, err := r.SetTopicActive("cid", "d", true)
	require.NoError(t, err)
	assert.True(t, updated.IsActive)

	_, err = r.SetTopicActive("cid", "zzz", true)
	assert.True(t, HasCode(err, ErrCodeTopicNotFound))
}

func TestTopicRegistry_RegisterSubscription(t *testing.T) {
	m := newMatcher(t)
	require.NoError(t, m.AddClient("ep1", []model.Permission{perm("orders.**", model.AccessSubscriber)}))
	r := newRegistry(t, m)

	sub, err := r.RegisterSubscription("cid", SubscriptionRequest{
		EndpointID:    "ep1",
		TopicPatterns: []string{"orders.*", "orders.eu.**"},
	})
	require.NoError(t, err)
	assert.Equal(t, "sk.ep1.000001", sub.SubKey)
	assert.Equal(t, model.DeliveryPull, sub.DeliveryMethod)
	assert.Equal(t, []string{"orders.*", "orders.eu.**"}, sub.PatternStrings())
	assert.Equal(t, 1, r.SubscriptionCount())

	got, err := r.GetSubscription(sub.SubKey)
	require.NoError(t, err)
	assert.Equal(t, sub, got)
}

func TestTopicRegistry_RegisterSubscriptionErrors(t *testing.T) {
	m := newMatcher(t)
	require.NoError(t, m.AddClient("ep1", []model.Permission{
		perm("orders.**", model.AccessSubscriber),
		perm("billing.*", model.AccessPublisher),
	}))
	r := newRegistry(t, m)

	_, err := r.RegisterSubscription("cid", SubscriptionRequest{EndpointID: "ep1", TopicPatterns: []string{"orders.a"}, SubKey: "taken"})
	require.NoError(t, err)

	tests := []struct {
		name string
		req  SubscriptionRequest
		code string
	}{
		{"No endpoint", SubscriptionRequest{TopicPatterns: []string{"orders.a"}}, ErrCodeValidation},
		{"No patterns", SubscriptionRequest{EndpointID: "ep1"}, ErrCodeValidation},
		{"Invalid pattern", SubscriptionRequest{EndpointID: "ep1", TopicPatterns: []string{"orders.**.**"}}, ErrCodeInvalidPattern},
		{"Not covered", SubscriptionRequest{EndpointID: "ep1", TopicPatterns: []string{"orders.a", "billing.*"}}, ErrCodePermissionDenied},
		{"Unknown endpoint", SubscriptionRequest{EndpointID: "ghost", TopicPatterns: []string{"orders.a"}}, ErrCodePermissionDenied},
		{"Unknown method", SubscriptionRequest{EndpointID: "ep1", TopicPatterns: []string{"orders.a"}, DeliveryMethod: "carrier-pigeon"}, ErrCodeValidation},
		{"Notify without url", SubscriptionRequest{EndpointID: "ep1", TopicPatterns: []string{"orders.a"}, DeliveryMethod: model.DeliveryNotify}, ErrCodeValidation},
		{"Negative depth", SubscriptionRequest{EndpointID: "ep1", TopicPatterns: []string{"orders.a"}, MaxDepth: -1}, ErrCodeValidation},
		{"Duplicate key", SubscriptionRequest{EndpointID: "ep1", TopicPatterns: []string{"orders.a"}, SubKey: "taken"}, ErrCodeDuplicateSubscription},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.RegisterSubscription("cid", tt.req)
			assert.Equal(t, tt.code, Code(err))
		})
	}
	assert.Equal(t, 1, r.SubscriptionCount())
}

func TestTopicRegistry_DeniedSubscriptionLeavesNothing(t *testing.T) {
	m := newMatcher(t)
	require.NoError(t, m.AddClient("ep1", []model.Permission{perm("billing.*", model.AccessSubscriber)}))
	r := newRegistry(t, m)

	_, err := r.RegisterSubscription("cid", SubscriptionRequest{
		EndpointID:    "ep1",
		TopicPatterns: []string{"orders.*"},
		SubKey:        "sk.ep1.x",
	})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	err = r.Unsubscribe("cid", "sk.ep1.x")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, r.ListSubscriptions(""))
}

func TestTopicRegistry_Unsubscribe(t *testing.T) {
	m := newMatcher(t)
	require.NoError(t, m.AddClient("ep1", []model.Permission{perm("**", model.AccessSubscriber)}))
	r := newRegistry(t, m)
	l := &recordingListener{}
	r.AddListener(l)

	sub, err := r.RegisterSubscription("cid", SubscriptionRequest{EndpointID: "ep1", TopicPatterns: []string{"a"}})
	require.NoError(t, err)

	require.NoError(t, r.Unsubscribe("cid", sub.SubKey))
	assert.True(t, HasCode(r.Unsubscribe("cid", sub.SubKey), ErrCodeNotFound))
	assert.Equal(t, []string{"added " + sub.SubKey, "removed " + sub.SubKey}, l.Events())

	_, err = r.GetSubscription(sub.SubKey)
	assert.True(t, HasCode(err, ErrCodeNotFound))
}

func TestTopicRegistry_MatchingSubscriptions(t *testing.T) {
	m := newMatcher(t)
	require.NoError(t, m.AddClient("ep1", []model.Permission{perm("**", model.AccessSubscriber)}))
	require.NoError(t, m.AddClient("ep2", []model.Permission{perm("**", model.AccessSubscriber)}))
	r := newRegistry(t, m)

	s1, err := r.RegisterSubscription("cid", SubscriptionRequest{EndpointID: "ep1", TopicPatterns: []string{"orders.*"}})
	require.NoError(t, err)
	s2, err := r.RegisterSubscription("cid", SubscriptionRequest{EndpointID: "ep2", TopicPatterns: []string{"**.created"}})
	require.NoError(t, err)
	_, err = r.RegisterSubscription("cid", SubscriptionRequest{EndpointID: "ep2", TopicPatterns: []string{"billing.*"}})
	require.NoError(t, err)

	keys := func(subs []*model.Subscription) []string {
		out := make([]string, 0, len(subs))
		for _, s := range subs {
			out = append(out, s.SubKey)
		}
		return out
	}

	assert.Equal(t, []string{s1.SubKey, s2.SubKey}, keys(r.MatchingSubscriptions("orders.created")))
	assert.Equal(t, []string{s1.SubKey}, keys(r.MatchingSubscriptions("orders.deleted")))
	// Second lookup is served from the cache and must agree.
	assert.Equal(t, []string{s1.SubKey, s2.SubKey}, keys(r.MatchingSubscriptions("orders.created")))

	// Changes invalidate the cache.
	require.NoError(t, r.Unsubscribe("cid", s1.SubKey))
	assert.Equal(t, []string{s2.SubKey}, keys(r.MatchingSubscriptions("orders.created")))
	assert.Len(t, r.ListSubscriptions("ep2"), 2)
}

func TestTopicRegistry_DeleteTopic(t *testing.T) {
	m := newMatcher(t)
	require.NoError(t, m.AddClient("ep1", []model.Permission{perm("**", model.AccessSubscriber)}))
	r := newRegistry(t, m)
	l := &recordingListener{}
	r.AddListener(l)

	_, err := r.CreateTopic("cid", "admin", "orders.created")
	require.NoError(t, err)

	only, err := r.RegisterSubscription("cid", SubscriptionRequest{EndpointID: "ep1", TopicPatterns: []string{"orders.created"}})
	require.NoError(t, err)
	mixed, err := r.RegisterSubscription("cid", SubscriptionRequest{EndpointID: "ep1", TopicPatterns: []string{"ORDERS.CREATED", "billing.*"}})
	require.NoError(t, err)
	wild, err := r.RegisterSubscription("cid", SubscriptionRequest{EndpointID: "ep1", TopicPatterns: []string{"orders.*"}})
	require.NoError(t, err)

	require.NoError(t, r.DeleteTopic("cid", "orders.created"))

	_, err = r.GetTopic("orders.created")
	assert.True(t, HasCode(err, ErrCodeTopicNotFound))
	assert.True(t, HasCode(r.DeleteTopic("cid", "orders.created"), ErrCodeTopicNotFound))

	_, err = r.GetSubscription(only.SubKey)
	assert.True(t, HasCode(err, ErrCodeNotFound))

	got, err := r.GetSubscription(mixed.SubKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"billing.*"}, got.PatternStrings())

	got, err = r.GetSubscription(wild.SubKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders.*"}, got.PatternStrings())

	events := l.Events()
	assert.Contains(t, events, "removed "+only.SubKey)
	assert.Contains(t, events, fmt.Sprintf("updated %s [billing.*]", mixed.SubKey))
	assert.Equal(t, "topic deleted orders.created", events[len(events)-1])
}

func TestTopicRegistry_Restore(t *testing.T) {
	r := newRegistry(t, newMatcher(t))

	require.NoError(t, r.RestoreTopic(model.Topic{Name: "orders", IsActive: true}))
	assert.True(t, HasCode(r.RestoreTopic(model.Topic{Name: "orders"}), ErrCodeDuplicateTopic))

	// Restored subscriptions skip permission checks.
	sub := model.Subscription{
		SubKey:     "sk.ep.1",
		EndpointID: "ep",
		Patterns:   []model.Pattern{model.MustParsePattern("orders")},
	}
	require.NoError(t, r.RestoreSubscription(sub))
	assert.True(t, HasCode(r.RestoreSubscription(sub), ErrCodeDuplicateSubscription))
	assert.True(t, HasCode(r.RestoreSubscription(model.Subscription{SubKey: "x"}), ErrCodeValidation))
	assert.Len(t, r.MatchingSubscriptions("orders"), 1)
}

func TestTopicRegistry_RenameTopic(t *testing.T) {
	m := newMatcher(t)
	require.NoError(t, m.AddClient("ep1", []model.Permission{perm("**", model.AccessSubscriber)}))
	r := newRegistry(t, m)
	l := &recordingListener{}
	r.AddListener(l)

	_, err := r.CreateTopic("cid", "admin", "orders.created", WithTopicMaxDepth(7))
	require.NoError(t, err)
	_, err = r.CreateTopic("cid", "admin", "orders.placed")
	require.NoError(t, err)
	exact, err := r.RegisterSubscription("cid", SubscriptionRequest{EndpointID: "ep1", TopicPatterns: []string{"orders.created"}})
	require.NoError(t, err)
	wild, err := r.RegisterSubscription("cid", SubscriptionRequest{EndpointID: "ep1", TopicPatterns: []string{"orders.*"}})
	require.NoError(t, err)

	_, err = r.RenameTopic("cid", "orders.created", "orders.placed")
	assert.True(t, HasCode(err, ErrCodeDuplicateTopic))
	_, err = r.RenameTopic("cid", "orders.created", "orders.*")
	assert.True(t, HasCode(err, ErrCodeValidation))
	_, err = r.RenameTopic("cid", "missing", "x")
	assert.True(t, HasCode(err, ErrCodeTopicNotFound))

	renamed, err := r.RenameTopic("cid", "orders.created", "orders.new")
	require.NoError(t, err)
	assert.Equal(t, "orders.new", renamed.Name)
	assert.Equal(t, 7, renamed.MaxDepth)

	_, err = r.GetTopic("orders.created")
	assert.True(t, HasCode(err, ErrCodeTopicNotFound))

	got, err := r.GetSubscription(exact.SubKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders.new"}, got.PatternStrings())
	got, err = r.GetSubscription(wild.SubKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders.*"}, got.PatternStrings())

	assert.Contains(t, l.Events(), fmt.Sprintf("updated %s [orders.new]", exact.SubKey))
	assert.Len(t, r.MatchingSubscriptions("orders.new"), 2)

	// Changing only the case is allowed.
	_, err = r.RenameTopic("cid", "orders.new", "Orders.New")
	assert.NoError(t, err)
}
