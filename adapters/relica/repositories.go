package relica

import (
	"database/sql"

	"github.com/coregx/broker"
)

// DefaultTablePrefix is the prefix of every table created by broker.Migrate.
const DefaultTablePrefix = "broker_"

// NewStore creates a broker.Store with every repository backed by Relica.
//
// The db parameter should be an *sql.DB connected to MySQL, PostgreSQL, or SQLite.
// The driverName should be "mysql", "postgres", or "sqlite3".
func NewStore(db *sql.DB, driverName string) broker.Store {
	return NewStoreWithPrefix(db, driverName, DefaultTablePrefix)
}

// NewStoreWithPrefix creates a broker.Store with a custom table prefix.
func NewStoreWithPrefix(db *sql.DB, driverName, prefix string) broker.Store {
	return broker.Store{
		Clients:       NewClientRepositoryWithPrefix(db, driverName, prefix),
		Topics:        NewTopicRepositoryWithPrefix(db, driverName, prefix),
		Subscriptions: NewSubscriptionRepositoryWithPrefix(db, driverName, prefix),
		RateLimits:    NewRateLimitRepositoryWithPrefix(db, driverName, prefix),
		DeadLetters:   NewDeadLetterRepositoryWithPrefix(db, driverName, prefix),
	}
}
