package model

import "time"

// Topic is a named channel messages are published to.
//
// Names are hierarchical using dot notation (e.g., "orders.eu.created").
// Only active topics accept new messages.
type Topic struct {
	ID          int64     `json:"-" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	MaxDepth    int       `json:"max_depth" db:"max_depth"` // 0 means the engine default
	CreatedBy   string    `json:"created_by" db:"created_by"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// TableName returns the database table name for Topic.
func (t Topic) TableName() string {
	return tablePrefix + "topic"
}

// NewTopic creates a new active topic.
func NewTopic(name, createdBy string, now time.Time) Topic {
	return Topic{
		Name:      name,
		IsActive:  true,
		CreatedBy: createdBy,
		CreatedAt: now,
	}
}
