package model

import "time"

// DeadLetter is a pushed message that exhausted its delivery attempts.
// Message data and target URL are denormalized so the entry stands alone
// after the subscription or message is gone.
type DeadLetter struct {
	ID        int64  `json:"id" db:"id"`
	SubKey    string `json:"sub_key" db:"sub_key"`
	MsgID     string `json:"msg_id" db:"msg_id"`
	TopicName string `json:"topic_name" db:"topic_name"`

	AttemptCount  int    `json:"attempt_count" db:"attempt_count"`
	LastError     string `json:"last_error" db:"last_error"`
	FailureReason string `json:"failure_reason" db:"failure_reason"`

	FirstAttemptAt time.Time `json:"first_attempt_at" db:"first_attempt_at"`
	LastAttemptAt  time.Time `json:"last_attempt_at" db:"last_attempt_at"`
	MovedAt        time.Time `json:"moved_at" db:"moved_at"`

	Payload []byte `json:"payload" db:"payload"`
	PushURL string `json:"push_url" db:"push_url"`

	IsResolved     bool       `json:"is_resolved" db:"is_resolved"`
	ResolvedAt     *time.Time `json:"resolved_at" db:"resolved_at"`
	ResolvedBy     string     `json:"resolved_by" db:"resolved_by"`
	ResolutionNote string     `json:"resolution_note" db:"resolution_note"`
}

// TableName returns the database table name for DeadLetter.
func (d DeadLetter) TableName() string {
	return tablePrefix + "dead_letter"
}

// NewDeadLetter builds a dead letter from a queued entry.
func NewDeadLetter(entry *EnqueuedMessage, pushURL, failureReason string, now time.Time) DeadLetter {
	return DeadLetter{
		SubKey:         entry.SubKey,
		MsgID:          entry.Message.MsgID,
		TopicName:      entry.Message.TopicName,
		AttemptCount:   entry.AttemptCount,
		LastError:      entry.LastError,
		FailureReason:  failureReason,
		FirstAttemptAt: entry.EnqueueTime,
		LastAttemptAt:  entry.LastAttemptAt,
		MovedAt:        now,
		Payload:        append([]byte(nil), entry.Message.Payload...),
		PushURL:        pushURL,
	}
}

// Resolve marks the entry as handled by an operator.
func (d *DeadLetter) Resolve(resolvedBy, note string, now time.Time) {
	d.IsResolved = true
	d.ResolvedAt = &now
	d.ResolvedBy = resolvedBy
	d.ResolutionNote = note
}

// Age returns how long the entry has been dead-lettered.
func (d *DeadLetter) Age(now time.Time) time.Duration {
	return now.Sub(d.MovedAt)
}

// IsOld reports whether the entry is older than threshold.
func (d *DeadLetter) IsOld(threshold time.Duration, now time.Time) bool {
	return d.Age(now) > threshold
}

// DeadLetterStats aggregates dead-letter counts.
type DeadLetterStats struct {
	TotalItems      int       `json:"total_items"`
	UnresolvedItems int       `json:"unresolved_items"`
	ResolvedItems   int       `json:"resolved_items"`
	LastUpdated     time.Time `json:"last_updated"`
}
