// Package relica provides Relica ORM implementations for broker repositories.
//
//nolint:dupl // Repository pattern requires similar implementations for different types
package relica

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/coregx/broker"
	"github.com/coregx/broker/model"
	"github.com/coregx/relica"
)

// TopicRepository implements broker.TopicRepository using Relica ORM.
// Topic names are matched case-insensitively.
type TopicRepository struct {
	db          *relica.DB
	tablePrefix string
}

// NewTopicRepository creates a new TopicRepository with default table prefix.
func NewTopicRepository(sqlDB *sql.DB, driverName string) *TopicRepository {
	return &TopicRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: DefaultTablePrefix}
}

// NewTopicRepositoryWithPrefix creates a new TopicRepository with custom table prefix.
func NewTopicRepositoryWithPrefix(sqlDB *sql.DB, driverName, prefix string) *TopicRepository {
	return &TopicRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: prefix}
}

func (r *TopicRepository) tableName() string {
	return r.tablePrefix + "topic"
}

// List returns every topic ordered by name.
func (r *TopicRepository) List(ctx context.Context) ([]model.Topic, error) {
	var topics []model.Topic
	err := r.db.WithContext(ctx).Select("*").From(r.tableName()).OrderBy("name ASC").All(&topics)
	if err != nil {
		return nil, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to list topics", err)
	}
	return topics, nil
}

// Save creates or updates a topic.
func (r *TopicRepository) Save(ctx context.Context, m model.Topic) (model.Topic, error) {
	existing, err := r.find(ctx, m.Name)
	switch {
	case err == nil:
		m.ID = existing.ID
		// Update using Model() API
		if err := r.db.WithContext(ctx).Model(&m).Table(r.tableName()).Update(); err != nil {
			return m, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to update topic", err)
		}
		return m, nil
	case broker.IsNoData(err):
		m.ID = 0
		// Insert using Model() API
		if err := r.db.WithContext(ctx).Model(&m).Table(r.tableName()).Insert(); err != nil {
			return m, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to insert topic", err)
		}
		return m, nil
	default:
		return m, err
	}
}

// Delete removes a topic by name.
func (r *TopicRepository) Delete(ctx context.Context, name string) error {
	topic, err := r.find(ctx, name)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Model(&topic).Table(r.tableName()).Delete(); err != nil {
		return broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to delete topic", err)
	}
	return nil
}

func (r *TopicRepository) find(ctx context.Context, name string) (model.Topic, error) {
	var topic model.Topic
	err := r.db.WithContext(ctx).Select("*").From(r.tableName()).
		Where("LOWER(name) = ?", strings.ToLower(name)).
		One(&topic)
	if errors.Is(err, sql.ErrNoRows) {
		return topic, broker.ErrNoData
	}
	if err != nil {
		return topic, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to load topic", err)
	}
	return topic, nil
}
