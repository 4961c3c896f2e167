package relica

import (
	"context"
	"database/sql"
	"errors"

	"github.com/coregx/broker"
	"github.com/coregx/broker/model"
	"github.com/coregx/relica"
)

// RateLimitRepository implements broker.RateLimitRepository using Relica ORM.
type RateLimitRepository struct {
	db          *relica.DB
	tablePrefix string
}

// NewRateLimitRepository creates a new RateLimitRepository with default table prefix.
func NewRateLimitRepository(sqlDB *sql.DB, driverName string) *RateLimitRepository {
	return &RateLimitRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: DefaultTablePrefix}
}

// NewRateLimitRepositoryWithPrefix creates a new RateLimitRepository with custom table prefix.
func NewRateLimitRepositoryWithPrefix(sqlDB *sql.DB, driverName, prefix string) *RateLimitRepository {
	return &RateLimitRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: prefix}
}

func (r *RateLimitRepository) tableName() string {
	return r.tablePrefix + "rate_limit"
}

// List returns every definition.
func (r *RateLimitRepository) List(ctx context.Context) ([]model.RateLimitDefinition, error) {
	var rows []rateLimitRow
	err := r.db.WithContext(ctx).Select("*").From(r.tableName()).
		OrderBy("object_type ASC, object_id ASC").
		All(&rows)
	if err != nil {
		return nil, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to list rate limits", err)
	}

	defs := make([]model.RateLimitDefinition, 0, len(rows))
	for _, row := range rows {
		def, err := row.toModel()
		if err != nil {
			return nil, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to decode rate limit", err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// Save creates the definition or replaces its rules.
func (r *RateLimitRepository) Save(ctx context.Context, def model.RateLimitDefinition) (model.RateLimitDefinition, error) {
	row, err := newRateLimitRow(def)
	if err != nil {
		return def, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to encode rate limit", err)
	}

	existing, err := r.find(ctx, def.ObjectType, def.ObjectID)
	switch {
	case err == nil:
		row.ID = existing.ID
		if err := r.db.WithContext(ctx).Model(&row).Table(r.tableName()).Update(); err != nil {
			return def, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to update rate limit", err)
		}
	case broker.IsNoData(err):
		row.ID = 0
		if err := r.db.WithContext(ctx).Model(&row).Table(r.tableName()).Insert(); err != nil {
			return def, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to insert rate limit", err)
		}
	default:
		return def, err
	}

	def.ID = row.ID
	return def, nil
}

// Delete removes a definition.
func (r *RateLimitRepository) Delete(ctx context.Context, objectType, objectID string) error {
	row, err := r.find(ctx, objectType, objectID)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Model(&row).Table(r.tableName()).Delete(); err != nil {
		return broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to delete rate limit", err)
	}
	return nil
}

func (r *RateLimitRepository) find(ctx context.Context, objectType, objectID string) (rateLimitRow, error) {
	var row rateLimitRow
	err := r.db.WithContext(ctx).Select("*").From(r.tableName()).
		Where("object_type = ?", objectType).
		Where("object_id = ?", objectID).
		One(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return row, broker.ErrNoData
	}
	if err != nil {
		return row, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to load rate limit", err)
	}
	return row, nil
}
