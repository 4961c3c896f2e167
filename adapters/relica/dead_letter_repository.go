package relica

import (
	"context"
	"database/sql"
	"errors"

	"github.com/coregx/broker"
	"github.com/coregx/broker/model"
	"github.com/coregx/relica"
)

// DeadLetterRepository implements broker.DeadLetterRepository using Relica ORM.
type DeadLetterRepository struct {
	db          *relica.DB
	tablePrefix string
}

// NewDeadLetterRepository creates a new DeadLetterRepository with default table prefix.
func NewDeadLetterRepository(sqlDB *sql.DB, driverName string) *DeadLetterRepository {
	return &DeadLetterRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: DefaultTablePrefix}
}

// NewDeadLetterRepositoryWithPrefix creates a new DeadLetterRepository with custom table prefix.
func NewDeadLetterRepositoryWithPrefix(sqlDB *sql.DB, driverName, prefix string) *DeadLetterRepository {
	return &DeadLetterRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: prefix}
}

func (r *DeadLetterRepository) tableName() string {
	return r.tablePrefix + "dead_letter"
}

// Load retrieves a dead letter by ID.
func (r *DeadLetterRepository) Load(ctx context.Context, id int64) (model.DeadLetter, error) {
	var dl model.DeadLetter
	err := r.db.WithContext(ctx).Select("*").From(r.tableName()).Where("id = ?", id).One(&dl)
	if errors.Is(err, sql.ErrNoRows) {
		return dl, broker.ErrNoData
	}
	if err != nil {
		return dl, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to load dead letter", err)
	}
	return dl, nil
}

// Save creates or updates a dead letter.
func (r *DeadLetterRepository) Save(ctx context.Context, m model.DeadLetter) (model.DeadLetter, error) {
	if m.ID == 0 {
		// Insert using Model() API
		err := r.db.WithContext(ctx).Model(&m).Table(r.tableName()).Insert()
		if err != nil {
			return m, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to insert dead letter", err)
		}
		return m, nil
	}

	// Update using Model() API
	err := r.db.WithContext(ctx).Model(&m).Table(r.tableName()).Update()
	if err != nil {
		return m, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to update dead letter", err)
	}
	return m, nil
}

// FindUnresolved retrieves unresolved dead letters, oldest first.
func (r *DeadLetterRepository) FindUnresolved(ctx context.Context, limit int) ([]model.DeadLetter, error) {
	var dls []model.DeadLetter
	err := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		Where("is_resolved = ?", false).
		OrderBy("moved_at ASC").
		Limit(int64(limit)).
		All(&dls)
	if err != nil {
		return nil, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to find unresolved dead letters", err)
	}
	if len(dls) == 0 {
		return nil, broker.ErrNoData
	}
	return dls, nil
}

// FindBySubKey retrieves dead letters of one subscription, newest first.
func (r *DeadLetterRepository) FindBySubKey(ctx context.Context, subKey string, limit int) ([]model.DeadLetter, error) {
	var dls []model.DeadLetter
	err := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		Where("sub_key = ?", subKey).
		OrderBy("moved_at DESC").
		Limit(int64(limit)).
		All(&dls)
	if err != nil {
		return nil, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to find dead letters by subscription", err)
	}
	if len(dls) == 0 {
		return nil, broker.ErrNoData
	}
	return dls, nil
}

// GetStats retrieves dead letter statistics.
func (r *DeadLetterRepository) GetStats(ctx context.Context) (model.DeadLetterStats, error) {
	var stats model.DeadLetterStats
	var totalCount, unresolvedCount int64

	err := r.db.WithContext(ctx).Select("COUNT(*)").From(r.tableName()).One(&totalCount)
	if err != nil {
		return stats, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to count dead letters", err)
	}
	stats.TotalItems = int(totalCount)

	err = r.db.WithContext(ctx).Select("COUNT(*)").From(r.tableName()).Where("is_resolved = ?", false).One(&unresolvedCount)
	if err != nil {
		return stats, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to count unresolved dead letters", err)
	}
	stats.UnresolvedItems = int(unresolvedCount)
	stats.ResolvedItems = stats.TotalItems - stats.UnresolvedItems
	return stats, nil
}
