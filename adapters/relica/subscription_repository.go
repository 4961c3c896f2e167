package relica

import (
	"context"
	"database/sql"
	"errors"

	"github.com/coregx/broker"
	"github.com/coregx/broker/model"
	"github.com/coregx/relica"
)

// SubscriptionRepository implements broker.SubscriptionRepository using Relica ORM.
type SubscriptionRepository struct {
	db          *relica.DB
	tablePrefix string
}

// NewSubscriptionRepository creates a new SubscriptionRepository with default table prefix.
func NewSubscriptionRepository(sqlDB *sql.DB, driverName string) *SubscriptionRepository {
	return &SubscriptionRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: DefaultTablePrefix}
}

// NewSubscriptionRepositoryWithPrefix creates a new SubscriptionRepository with custom table prefix.
func NewSubscriptionRepositoryWithPrefix(sqlDB *sql.DB, driverName, prefix string) *SubscriptionRepository {
	return &SubscriptionRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: prefix}
}

func (r *SubscriptionRepository) tableName() string {
	return r.tablePrefix + "subscription"
}

// List returns every subscription ordered by sub key.
func (r *SubscriptionRepository) List(ctx context.Context) ([]model.Subscription, error) {
	var rows []subscriptionRow
	err := r.db.WithContext(ctx).Select("*").From(r.tableName()).OrderBy("sub_key ASC").All(&rows)
	if err != nil {
		return nil, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to list subscriptions", err)
	}

	subs := make([]model.Subscription, 0, len(rows))
	for _, row := range rows {
		sub, err := row.toModel()
		if err != nil {
			return nil, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to decode subscription", err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// Save creates or updates a subscription.
func (r *SubscriptionRepository) Save(ctx context.Context, m model.Subscription) (model.Subscription, error) {
	row, err := newSubscriptionRow(m)
	if err != nil {
		return m, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to encode subscription", err)
	}

	existing, err := r.find(ctx, m.SubKey)
	switch {
	case err == nil:
		row.ID = existing.ID
		if err := r.db.WithContext(ctx).Model(&row).Table(r.tableName()).Update(); err != nil {
			return m, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to update subscription", err)
		}
	case broker.IsNoData(err):
		row.ID = 0
		if err := r.db.WithContext(ctx).Model(&row).Table(r.tableName()).Insert(); err != nil {
			return m, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to insert subscription", err)
		}
	default:
		return m, err
	}

	m.ID = row.ID
	return m, nil
}

// Delete removes a subscription by sub key.
func (r *SubscriptionRepository) Delete(ctx context.Context, subKey string) error {
	row, err := r.find(ctx, subKey)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Model(&row).Table(r.tableName()).Delete(); err != nil {
		return broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to delete subscription", err)
	}
	return nil
}

func (r *SubscriptionRepository) find(ctx context.Context, subKey string) (subscriptionRow, error) {
	var row subscriptionRow
	err := r.db.WithContext(ctx).Select("*").From(r.tableName()).Where("sub_key = ?", subKey).One(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return row, broker.ErrNoData
	}
	if err != nil {
		return row, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to load subscription", err)
	}
	return row, nil
}
