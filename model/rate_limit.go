package model

import (
	"strings"
	"time"
)

// PeriodUnit is the width of a rate-limit window.
type PeriodUnit string

const (
	PeriodMinute PeriodUnit = "minute"
	PeriodHour   PeriodUnit = "hour"
	PeriodDay    PeriodUnit = "day"
)

// ErrUnknownPeriodUnit is returned for units other than minute, hour and day.
var ErrUnknownPeriodUnit = DomainError{Code: "UNKNOWN_PERIOD_UNIT", Message: "unknown rate limit period unit"}

// ParsePeriodUnit converts "m", "minute", "h", "hour", "d" or "day".
func ParsePeriodUnit(s string) (PeriodUnit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "m", "min", "minute":
		return PeriodMinute, nil
	case "h", "hour":
		return PeriodHour, nil
	case "d", "day":
		return PeriodDay, nil
	}
	return "", ErrUnknownPeriodUnit
}

// PeriodKey returns the key of the window containing t (UTC), e.g.
// "m.2024-01-01T10:05", "h.2024-01-01T10" or "d.2024-01-01".
func (u PeriodUnit) PeriodKey(t time.Time) string {
	t = t.UTC()
	switch u {
	case PeriodHour:
		return "h." + t.Format("2006-01-02T15")
	case PeriodDay:
		return "d." + t.Format("2006-01-02")
	default:
		return "m." + t.Format("2006-01-02T15:04")
	}
}

// Truncate returns the start of the window containing t.
func (u PeriodUnit) Truncate(t time.Time) time.Time {
	t = t.UTC()
	switch u {
	case PeriodHour:
		return t.Truncate(time.Hour)
	case PeriodDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	default:
		return t.Truncate(time.Minute)
	}
}

// RateLimitRule limits requests coming from a network.
// From is "*", a CIDR block or a single address. Rate 0 means unlimited.
type RateLimitRule struct {
	From string     `json:"from" yaml:"from"`
	Rate int        `json:"rate" yaml:"rate"`
	Unit PeriodUnit `json:"unit" yaml:"unit"`
}

// RateLimitDefinition is the ordered rule list of one limited object.
type RateLimitDefinition struct {
	ID         int64           `json:"-" db:"id"`
	ObjectType string          `json:"object_type" yaml:"object_type" db:"object_type"`
	ObjectID   string          `json:"object_id" yaml:"object_id" db:"object_id"`
	Rules      []RateLimitRule `json:"rules" yaml:"rules" db:"-"`
}

// TableName returns the database table name for RateLimitDefinition.
func (d RateLimitDefinition) TableName() string {
	return tablePrefix + "rate_limit"
}

// RateLimitState is the counter of one (object, period, network) window.
type RateLimitState struct {
	ObjectType      string    `json:"object_type"`
	ObjectID        string    `json:"object_id"`
	Period          string    `json:"period"`
	Network         string    `json:"network"`
	Requests        int       `json:"requests"`
	LastCID         string    `json:"last_cid"`
	LastFrom        string    `json:"last_from"`
	LastRequestTime time.Time `json:"last_request_time"`
}
