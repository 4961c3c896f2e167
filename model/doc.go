// Package model contains the domain types of the broker: patterns and
// permissions, topics, subscriptions, messages and their per-subscription
// queue entries, rate-limit state and dead letters.
//
// Types that are persisted carry `db` tags and a TableName method. The
// default table prefix is "broker_"; adapters may override it.
package model

const tablePrefix = "broker_"

// DomainError represents a domain-level business rule violation.
type DomainError struct {
	Code    string // Error code for programmatic handling
	Message string // Human-readable error message
}

func (e DomainError) Error() string {
	return e.Message
}
