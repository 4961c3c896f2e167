package broker

import (
	"fmt"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/broker/model"
)

func newMatcher(t *testing.T) *PatternMatcher {
	t.Helper()
	m, err := NewPatternMatcher()
	require.NoError(t, err)
	return m
}

func perm(pattern string, access model.AccessType) model.Permission {
	return model.Permission{Pattern: pattern, AccessType: access}
}

func TestPatternMatcher_PublisherOnly(t *testing.T) {
	m := newMatcher(t)
	require.NoError(t, m.AddClient("c1", []model.Permission{perm("admin.*.secret", model.AccessPublisher)}))

	result := m.Evaluate("c1", "admin..secret", model.ActionPublish)
	assert.True(t, result.IsOK)
	assert.Equal(t, "admin.*.secret", result.MatchedPattern)
	assert.Equal(t, "matched pattern admin.*.secret", result.Reason)

	result = m.Evaluate("c1", "admin..secret", model.ActionSubscribe)
	assert.False(t, result.IsOK)
	assert.Equal(t, ReasonNoMatch, result.Reason)
	assert.Empty(t, result.MatchedPattern)
}

func TestPatternMatcher_Evaluate(t *testing.T) {
	m := newMatcher(t)
	require.NoError(t, m.AddClient("c1", []model.Permission{
		perm("orders.**", model.AccessSubscriber),
		perm("orders.eu.created", model.AccessPublisherSubscriber),
		perm("billing.*", model.AccessPublisher),
	}))

	tests := []struct {
		name    string
		client  string
		topic   string
		action  model.Action
		ok      bool
		reason  string
		pattern string
	}{
		{"Exact pattern wins", "c1", "orders.eu.created", model.ActionSubscribe, true, "", "orders.eu.created"},
		{"Multi wildcard", "c1", "orders.us.created", model.ActionSubscribe, true, "", "orders.**"},
		{"Publish exact", "c1", "orders.eu.created", model.ActionPublish, true, "", "orders.eu.created"},
		{"Publish denied on subscriber pattern", "c1", "orders.us.created", model.ActionPublish, false, ReasonNoMatch, ""},
		{"Single wildcard", "c1", "billing.invoice", model.ActionPublish, true, "", "billing.*"},
		{"Single wildcard does not span", "c1", "billing.invoice.paid", model.ActionPublish, false, ReasonNoMatch, ""},
		{"Case insensitive", "c1", "ORDERS.EU.CREATED", model.ActionPublish, true, "", "orders.eu.created"},
		{"Unknown client", "nobody", "orders.eu.created", model.ActionPublish, false, ReasonUnknownClient, ""},
		{"Invalid action", "c1", "orders.eu.created", model.Action("delete"), false, ReasonInvalidAction, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := m.Evaluate(tt.client, tt.topic, tt.action)
			assert.Equal(t, tt.ok, result.IsOK)
			assert.Equal(t, tt.pattern, result.MatchedPattern)
			if tt.reason != "" {
				assert.Equal(t, tt.reason, result.Reason)
			}
			if !tt.ok {
				assert.True(t, HasCode(result.Err(), ErrCodePermissionDenied))
			} else {
				assert.NoError(t, result.Err())
			}
		})
	}
}

func TestPatternMatcher_WildcardsInAlphabeticalOrder(t *testing.T) {
	m := newMatcher(t)
	require.NoError(t, m.AddClient("c1", []model.Permission{
		perm("z.**", model.AccessPublisher),
		perm("**", model.AccessPublisher),
		perm("a.*", model.AccessPublisher),
	}))

	assert.Equal(t, "**", m.Evaluate("c1", "z.x", model.ActionPublish).MatchedPattern)
	assert.Equal(t, "**", m.Evaluate("c1", "a.x", model.ActionPublish).MatchedPattern)
}

func TestPatternMatcher_AddClientRejectsInvalid(t *testing.T) {
	m := newMatcher(t)
	require.NoError(t, m.AddClient("c1", []model.Permission{perm("a.b", model.AccessPublisher)}))

	err := m.AddClient("c1", []model.Permission{
		perm("a.c", model.AccessPublisher),
		perm("a.*x", model.AccessPublisher),
	})
	assert.True(t, HasCode(err, ErrCodeInvalidPattern))

	err = m.AddClient("c1", []model.Permission{perm("a.c", model.AccessType("admin"))})
	assert.True(t, HasCode(err, ErrCodeValidation))

	err = m.AddClient("", nil)
	assert.True(t, HasCode(err, ErrCodeValidation))

	// Failed replacements leave the previous list in place.
	perms, ok := m.Permissions("c1")
	require.True(t, ok)
	assert.Equal(t, []model.Permission{perm("a.b", model.AccessPublisher)}, perms)
}

func TestPatternMatcher_ReplaceAndRemove(t *testing.T) {
	m := newMatcher(t)
	require.NoError(t, m.AddClient("c2", []model.Permission{perm("a", model.AccessPublisher)}))
	require.NoError(t, m.AddClient("c1", []model.Permission{perm("a", model.AccessPublisher)}))
	require.NoError(t, m.AddClient("c1", []model.Permission{perm("b", model.AccessPublisher)}))

	assert.False(t, m.Evaluate("c1", "a", model.ActionPublish).IsOK)
	assert.True(t, m.Evaluate("c1", "b", model.ActionPublish).IsOK)
	assert.Equal(t, 2, m.ClientCount())
	assert.Equal(t, []string{"c1", "c2"}, m.Clients())

	assert.True(t, m.RemoveClient("c1"))
	assert.False(t, m.RemoveClient("c1"))
	assert.False(t, m.HasClient("c1"))
	assert.Equal(t, ReasonUnknownClient, m.Evaluate("c1", "b", model.ActionPublish).Reason)
}

func TestPatternMatcher_Covers(t *testing.T) {
	m := newMatcher(t)
	require.NoError(t, m.AddClient("c1", []model.Permission{
		perm("orders.eu.*", model.AccessSubscriber),
		perm("billing.**", model.AccessPublisher),
	}))

	tests := []struct {
		pattern string
		action  model.Action
		ok      bool
	}{
		{"orders.eu.created", model.ActionSubscribe, true},
		{"orders.*.created", model.ActionSubscribe, true},
		{"orders.**", model.ActionSubscribe, true},
		{"orders.us.*", model.ActionSubscribe, false},
		{"billing.*", model.ActionSubscribe, false},
		{"billing.*", model.ActionPublish, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.pattern, tt.action), func(t *testing.T) {
			result := m.Covers("c1", model.MustParsePattern(tt.pattern), tt.action)
			assert.Equal(t, tt.ok, result.IsOK)
		})
	}
}

func TestPatternMatcher_RenameAndDeleteTopic(t *testing.T) {
	m := newMatcher(t)
	require.NoError(t, m.AddClient("c1", []model.Permission{
		perm("orders.created", model.AccessPublisher),
		perm("orders.*", model.AccessSubscriber),
		perm("ORDERS.CREATED", model.AccessSubscriber),
	}))

	n, err := m.RenameTopic("c1", "orders.created", "orders.placed")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, m.Evaluate("c1", "orders.placed", model.ActionPublish).IsOK)
	assert.False(t, m.Evaluate("c1", "orders.created", model.ActionPublish).IsOK)

	n, err = m.DeleteTopic("c1", "orders.placed")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	perms, _ := m.Permissions("c1")
	assert.Equal(t, []model.Permission{perm("orders.*", model.AccessSubscriber)}, perms)

	_, err = m.DeleteTopic("ghost", "orders.placed")
	assert.True(t, HasCode(err, ErrCodeNotFound))

	_, err = m.RenameTopic("c1", "orders.x", "bad.*y")
	assert.True(t, HasCode(err, ErrCodeInvalidPattern))
}

func TestPatternMatcher_ConcurrentReplace(t *testing.T) {
	m := newMatcher(t)
	listA := []model.Permission{perm("a.*", model.AccessPublisher), perm("a.x", model.AccessPublisher)}
	listB := []model.Permission{perm("b.*", model.AccessPublisher), perm("b.x", model.AccessPublisher)}
	require.NoError(t, m.AddClient("c1", listA))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			if i%2 == 0 {
				_ = m.AddClient("c1", listB)
			} else {
				_ = m.AddClient("c1", listA)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			perms, ok := m.Permissions("c1")
			if !assert.True(t, ok) {
				return
			}
			// Never a mix of the two lists.
			assert.Equal(t, perms[0].Pattern[0], perms[1].Pattern[0])
		}
	}()
	wg.Wait()
}

func TestPatternMatcher_ConcurrentAddAndRemove(t *testing.T) {
	m := newMatcher(t)
	list := []model.Permission{perm("a.*", model.AccessSubscriber)}
	require.NoError(t, m.AddClient("c1", list))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			assert.NoError(t, m.AddClient("c1", list))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			m.RemoveClient("c1")
			assert.NoError(t, m.AddClient("c1", list))
		}
	}()
	wg.Wait()

	require.NoError(t, m.AddClient("c1", []model.Permission{perm("b.*", model.AccessSubscriber)}))
	assert.Equal(t, 1, m.ClientCount())
	assert.True(t, m.Evaluate("c1", "b.x", model.ActionSubscribe).IsOK)
	assert.False(t, m.Evaluate("c1", "a.x", model.ActionSubscribe).IsOK)
}

func TestPatternMatcher_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	segment := gen.OneConstOf("a", "b", "c")
	topicGen := gen.SliceOfN(3, segment).Map(func(s []string) string {
		return s[0] + "." + s[1] + "." + s[2]
	})

	properties.Property("permissions of one client never authorize another", prop.ForAll(
		func(topic string) bool {
			m, _ := NewPatternMatcher()
			_ = m.AddClient("owner", []model.Permission{perm(topic, model.AccessPublisherSubscriber)})
			_ = m.AddClient("other", []model.Permission{perm("zzz", model.AccessPublisherSubscriber)})
			return m.Evaluate("owner", topic, model.ActionPublish).IsOK &&
				!m.Evaluate("other", topic, model.ActionPublish).IsOK
		},
		topicGen,
	))

	properties.Property("an exact permission is chosen over a wildcard one", prop.ForAll(
		func(topic string) bool {
			m, _ := NewPatternMatcher()
			_ = m.AddClient("c", []model.Permission{
				perm("**", model.AccessPublisher),
				perm("*.*.*", model.AccessPublisher),
				perm(topic, model.AccessPublisher),
			})
			return m.Evaluate("c", topic, model.ActionPublish).MatchedPattern == topic
		},
		topicGen,
	))

	properties.TestingRun(t)
}
