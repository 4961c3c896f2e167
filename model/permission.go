package model

import (
	"strings"
	"time"
)

// AccessType is the kind of access a permission grants.
type AccessType string

const (
	// AccessPublisher allows publishing only.
	AccessPublisher AccessType = "publisher"

	// AccessSubscriber allows subscribing only.
	AccessSubscriber AccessType = "subscriber"

	// AccessPublisherSubscriber allows both.
	AccessPublisherSubscriber AccessType = "publisher-subscriber"
)

// Action is the operation a client attempts on a topic.
type Action string

const (
	// ActionPublish publishes a message to a topic.
	ActionPublish Action = "publish"

	// ActionSubscribe subscribes to topics.
	ActionSubscribe Action = "subscribe"
)

// ErrUnknownAccessType is returned for access types outside the three known values.
var ErrUnknownAccessType = DomainError{Code: "UNKNOWN_ACCESS_TYPE", Message: "unknown access type"}

// ParseAccessType converts a case-insensitive string into an AccessType.
// "pub", "sub" and "pubsub" are accepted as short forms.
func ParseAccessType(s string) (AccessType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "publisher", "pub":
		return AccessPublisher, nil
	case "subscriber", "sub":
		return AccessSubscriber, nil
	case "publisher-subscriber", "publisher_subscriber", "pubsub":
		return AccessPublisherSubscriber, nil
	}
	return "", ErrUnknownAccessType
}

// Valid reports whether a is one of the known access types.
func (a AccessType) Valid() bool {
	switch a {
	case AccessPublisher, AccessSubscriber, AccessPublisherSubscriber:
		return true
	}
	return false
}

// Allows reports whether the access type authorizes action.
func (a AccessType) Allows(action Action) bool {
	switch action {
	case ActionPublish:
		return a == AccessPublisher || a == AccessPublisherSubscriber
	case ActionSubscribe:
		return a == AccessSubscriber || a == AccessPublisherSubscriber
	}
	return false
}

// Valid reports whether action is publish or subscribe.
func (a Action) Valid() bool {
	return a == ActionPublish || a == ActionSubscribe
}

// Permission grants an access type over topics matching a pattern.
type Permission struct {
	Pattern    string     `json:"pattern" yaml:"pattern"`
	AccessType AccessType `json:"access_type" yaml:"access_type"`
}

// Client is a registered identity with its ordered permission list.
type Client struct {
	ID          int64        `json:"-" db:"id"`
	ClientID    string       `json:"client_id" db:"client_id"`
	Permissions []Permission `json:"permissions" db:"-"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
}

// TableName returns the database table name for Client.
func (c Client) TableName() string {
	return tablePrefix + "client"
}

// NewClient creates a client with the given permissions.
func NewClient(clientID string, permissions []Permission, now time.Time) Client {
	return Client{
		ClientID:    clientID,
		Permissions: append([]Permission(nil), permissions...),
		CreatedAt:   now,
	}
}
