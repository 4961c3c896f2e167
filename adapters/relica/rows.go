package relica

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/coregx/broker/model"
)

// Rows mirror the model types whose list fields are stored as JSON text.

type clientRow struct {
	ID          int64     `db:"id"`
	ClientID    string    `db:"client_id"`
	Permissions string    `db:"permissions"`
	CreatedAt   time.Time `db:"created_at"`
}

func newClientRow(c model.Client) (clientRow, error) {
	perms := c.Permissions
	if perms == nil {
		perms = []model.Permission{}
	}
	data, err := json.Marshal(perms)
	if err != nil {
		return clientRow{}, err
	}
	return clientRow{ID: c.ID, ClientID: c.ClientID, Permissions: string(data), CreatedAt: c.CreatedAt}, nil
}

func (r clientRow) toModel() (model.Client, error) {
	var perms []model.Permission
	if err := json.Unmarshal([]byte(r.Permissions), &perms); err != nil {
		return model.Client{}, fmt.Errorf("client %s: malformed permissions: %w", r.ClientID, err)
	}
	return model.Client{ID: r.ID, ClientID: r.ClientID, Permissions: perms, CreatedAt: r.CreatedAt}, nil
}

type subscriptionRow struct {
	ID             int64     `db:"id"`
	SubKey         string    `db:"sub_key"`
	EndpointID     string    `db:"endpoint_id"`
	TopicPatterns  string    `db:"topic_patterns"`
	DeliveryMethod string    `db:"delivery_method"`
	PushURL        string    `db:"push_url"`
	MaxDepth       int       `db:"max_depth"`
	CreatedAt      time.Time `db:"created_at"`
}

func newSubscriptionRow(s model.Subscription) (subscriptionRow, error) {
	data, err := json.Marshal(s.PatternStrings())
	if err != nil {
		return subscriptionRow{}, err
	}
	return subscriptionRow{
		ID:             s.ID,
		SubKey:         s.SubKey,
		EndpointID:     s.EndpointID,
		TopicPatterns:  string(data),
		DeliveryMethod: string(s.DeliveryMethod),
		PushURL:        s.PushURL,
		MaxDepth:       s.MaxDepth,
		CreatedAt:      s.CreatedAt,
	}, nil
}

func (r subscriptionRow) toModel() (model.Subscription, error) {
	var raw []string
	if err := json.Unmarshal([]byte(r.TopicPatterns), &raw); err != nil {
		return model.Subscription{}, fmt.Errorf("subscription %s: malformed patterns: %w", r.SubKey, err)
	}
	patterns := make([]model.Pattern, 0, len(raw))
	for _, s := range raw {
		p, err := model.ParsePattern(s)
		if err != nil {
			return model.Subscription{}, fmt.Errorf("subscription %s: %w", r.SubKey, err)
		}
		patterns = append(patterns, p)
	}
	method, err := model.ParseDeliveryMethod(r.DeliveryMethod)
	if err != nil {
		return model.Subscription{}, fmt.Errorf("subscription %s: %w", r.SubKey, err)
	}
	return model.Subscription{
		ID:             r.ID,
		SubKey:         r.SubKey,
		EndpointID:     r.EndpointID,
		Patterns:       patterns,
		DeliveryMethod: method,
		PushURL:        r.PushURL,
		MaxDepth:       r.MaxDepth,
		CreatedAt:      r.CreatedAt,
	}, nil
}

type rateLimitRow struct {
	ID         int64  `db:"id"`
	ObjectType string `db:"object_type"`
	ObjectID   string `db:"object_id"`
	Rules      string `db:"rules"`
}

func newRateLimitRow(d model.RateLimitDefinition) (rateLimitRow, error) {
	rules := d.Rules
	if rules == nil {
		rules = []model.RateLimitRule{}
	}
	data, err := json.Marshal(rules)
	if err != nil {
		return rateLimitRow{}, err
	}
	return rateLimitRow{ID: d.ID, ObjectType: d.ObjectType, ObjectID: d.ObjectID, Rules: string(data)}, nil
}

func (r rateLimitRow) toModel() (model.RateLimitDefinition, error) {
	var rules []model.RateLimitRule
	if err := json.Unmarshal([]byte(r.Rules), &rules); err != nil {
		return model.RateLimitDefinition{}, fmt.Errorf("rate limit %s/%s: malformed rules: %w", r.ObjectType, r.ObjectID, err)
	}
	return model.RateLimitDefinition{ID: r.ID, ObjectType: r.ObjectType, ObjectID: r.ObjectID, Rules: rules}, nil
}
