package model

import "time"

const (
	// MinPriority is the lowest message priority.
	MinPriority = 0

	// MaxPriority is the highest message priority.
	MaxPriority = 9
)

// Message is a published payload. It is immutable once published and is
// shared by every EnqueuedMessage created for it.
type Message struct {
	MsgID          string    `json:"msg_id"`
	TopicName      string    `json:"topic_name"`
	Payload        []byte    `json:"data"`
	Priority       int       `json:"priority"`
	Publisher      string    `json:"publisher"`
	PubTime        time.Time `json:"pub_time"`
	ExpirationTime time.Time `json:"expiration_time,omitzero"` // zero means never
	CorrelID       string    `json:"correl_id,omitempty"`
	InReplyTo      string    `json:"in_reply_to,omitempty"`
	ExtClientID    string    `json:"ext_client_id,omitempty"`
}

// Expires reports whether the message carries an expiration time.
func (m *Message) Expires() bool {
	return !m.ExpirationTime.IsZero()
}

// IsExpired reports whether the message expired at or before now.
func (m *Message) IsExpired(now time.Time) bool {
	return m.Expires() && !m.ExpirationTime.After(now)
}

// Size returns the payload size in bytes.
func (m *Message) Size() int {
	return len(m.Payload)
}

// DeliveryStatus is the lifecycle state of an EnqueuedMessage.
type DeliveryStatus string

const (
	// StatusPending awaits delivery (fetch or push).
	StatusPending DeliveryStatus = "pending"

	// StatusDelivered was handed to the subscriber.
	StatusDelivered DeliveryStatus = "delivered"

	// StatusExpired passed its expiration time before delivery.
	StatusExpired DeliveryStatus = "expired"
)

// EnqueuedMessage is the per-subscription view of a Message.
//
// Lifecycle:
//  1. Created pending at publish time
//  2. Delivered on fetch, or on a successful push
//  3. Failed pushes stay pending with a later NextAttemptAt
//  4. Removed by sweeps, acknowledgement or dead-lettering
type EnqueuedMessage struct {
	Message       *Message       `json:"message"`
	SubKey        string         `json:"sub_key"`
	Status        DeliveryStatus `json:"status"`
	EnqueueTime   time.Time      `json:"enqueue_time"`
	DeliveredAt   time.Time      `json:"delivered_at,omitzero"`
	AttemptCount  int            `json:"attempt_count"`
	LastAttemptAt time.Time      `json:"last_attempt_at,omitzero"`
	NextAttemptAt time.Time      `json:"next_attempt_at,omitzero"`
	LastError     string         `json:"last_error,omitempty"`
}

// NewEnqueuedMessage creates a pending entry ready for immediate delivery.
func NewEnqueuedMessage(msg *Message, subKey string, now time.Time) *EnqueuedMessage {
	return &EnqueuedMessage{
		Message:       msg,
		SubKey:        subKey,
		Status:        StatusPending,
		EnqueueTime:   now,
		NextAttemptAt: now,
	}
}

// MsgID returns the id of the underlying message.
func (e *EnqueuedMessage) MsgID() string {
	return e.Message.MsgID
}

// IsExpired reports whether the underlying message has expired at now.
func (e *EnqueuedMessage) IsExpired(now time.Time) bool {
	return e.Status == StatusExpired || e.Message.IsExpired(now)
}

// IsPendingAt reports whether the entry still awaits delivery at now.
func (e *EnqueuedMessage) IsPendingAt(now time.Time) bool {
	return e.Status == StatusPending && !e.Message.IsExpired(now)
}

// MarkDelivered records a successful delivery.
func (e *EnqueuedMessage) MarkDelivered(now time.Time) {
	e.Status = StatusDelivered
	e.DeliveredAt = now
	e.LastAttemptAt = now
	e.AttemptCount++
}

// MarkFailed records a failed push attempt and schedules the next one.
func (e *EnqueuedMessage) MarkFailed(err error, retryAfter time.Duration, now time.Time) {
	e.AttemptCount++
	e.LastAttemptAt = now
	e.NextAttemptAt = now.Add(retryAfter)
	if err != nil {
		e.LastError = err.Error()
	}
}

// CanAttemptDelivery checks whether a push may be attempted at now.
func (e *EnqueuedMessage) CanAttemptDelivery(maxAttempts int, now time.Time) error {
	if e.IsExpired(now) {
		return ErrEntryExpired
	}
	if e.Status == StatusDelivered {
		return ErrEntryAlreadyDelivered
	}
	if e.AttemptCount >= maxAttempts {
		return ErrMaxAttemptsExceeded
	}
	if now.Before(e.NextAttemptAt) {
		return ErrNotReadyForRetry
	}
	return nil
}

// ShouldDeadLetter reports whether failed attempts reached threshold.
func (e *EnqueuedMessage) ShouldDeadLetter(threshold int) bool {
	return e.Status == StatusPending && e.AttemptCount >= threshold
}

// Entry errors.
var (
	ErrEntryExpired          = DomainError{Code: "ENTRY_EXPIRED", Message: "queued message has expired"}
	ErrEntryAlreadyDelivered = DomainError{Code: "ALREADY_DELIVERED", Message: "queued message already delivered"}
	ErrMaxAttemptsExceeded   = DomainError{Code: "MAX_ATTEMPTS", Message: "maximum delivery attempts exceeded"}
	ErrNotReadyForRetry      = DomainError{Code: "NOT_READY", Message: "not ready for retry yet"}
)
