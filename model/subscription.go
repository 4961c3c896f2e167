package model

import (
	"strings"
	"time"
)

// DeliveryMethod selects how queued messages reach the subscriber.
type DeliveryMethod string

const (
	// DeliveryPull leaves messages queued until the subscriber fetches them.
	DeliveryPull DeliveryMethod = "pull"

	// DeliveryNotify pushes messages to the subscription's PushURL.
	DeliveryNotify DeliveryMethod = "notify"
)

// ErrUnknownDeliveryMethod is returned for delivery methods other than pull and notify.
var ErrUnknownDeliveryMethod = DomainError{Code: "UNKNOWN_DELIVERY_METHOD", Message: "unknown delivery method"}

// ParseDeliveryMethod converts a string into a DeliveryMethod. Empty means pull.
func ParseDeliveryMethod(s string) (DeliveryMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "pull":
		return DeliveryPull, nil
	case "notify", "push":
		return DeliveryNotify, nil
	}
	return "", ErrUnknownDeliveryMethod
}

// Subscription binds an endpoint to one or more topic patterns.
// It owns a queue of EnqueuedMessages held by the delivery engine.
type Subscription struct {
	ID             int64          `json:"-" db:"id"`
	SubKey         string         `json:"sub_key" db:"sub_key"`
	EndpointID     string         `json:"endpoint_id" db:"endpoint_id"`
	Patterns       []Pattern      `json:"topic_patterns" db:"-"`
	DeliveryMethod DeliveryMethod `json:"delivery_method" db:"delivery_method"`
	PushURL        string         `json:"push_url,omitempty" db:"push_url"`
	MaxDepth       int            `json:"max_depth" db:"max_depth"` // 0 means topic or engine default
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
}

// TableName returns the database table name for Subscription.
func (s Subscription) TableName() string {
	return tablePrefix + "subscription"
}

// Matches reports whether any of the subscription's patterns matches topic.
func (s *Subscription) Matches(topic string) bool {
	for _, p := range s.Patterns {
		if p.Matches(topic) {
			return true
		}
	}
	return false
}

// PatternStrings returns the patterns in registration form.
func (s *Subscription) PatternStrings() []string {
	out := make([]string, len(s.Patterns))
	for i, p := range s.Patterns {
		out[i] = p.String()
	}
	return out
}

// ReferencesExactly reports whether a wildcard-free pattern names topic.
func (s *Subscription) ReferencesExactly(topic string) bool {
	for _, p := range s.Patterns {
		if !p.HasWildcards() && strings.EqualFold(p.String(), topic) {
			return true
		}
	}
	return false
}

// DropExact removes wildcard-free patterns naming topic and returns the
// number of patterns left.
func (s *Subscription) DropExact(topic string) int {
	kept := s.Patterns[:0:0]
	for _, p := range s.Patterns {
		if !p.HasWildcards() && strings.EqualFold(p.String(), topic) {
			continue
		}
		kept = append(kept, p)
	}
	s.Patterns = kept
	return len(kept)
}

// RenameExact rewrites wildcard-free patterns naming oldName to newName
// and returns how many were rewritten.
func (s *Subscription) RenameExact(oldName string, newName Pattern) int {
	n := 0
	for i, p := range s.Patterns {
		if !p.HasWildcards() && strings.EqualFold(p.String(), oldName) {
			s.Patterns[i] = newName
			n++
		}
	}
	return n
}

// Clone returns a copy that shares no slices with s.
func (s Subscription) Clone() Subscription {
	s.Patterns = append([]Pattern(nil), s.Patterns...)
	return s
}

// IsPush reports whether messages are pushed to PushURL.
func (s *Subscription) IsPush() bool {
	return s.DeliveryMethod == DeliveryNotify
}
