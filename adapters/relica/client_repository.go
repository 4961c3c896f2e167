package relica

import (
	"context"
	"database/sql"
	"errors"

	"github.com/coregx/broker"
	"github.com/coregx/broker/model"
	"github.com/coregx/relica"
)

// ClientRepository implements broker.ClientRepository using Relica ORM.
type ClientRepository struct {
	db          *relica.DB
	tablePrefix string
}

// NewClientRepository creates a new ClientRepository with default table prefix.
func NewClientRepository(sqlDB *sql.DB, driverName string) *ClientRepository {
	return &ClientRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: DefaultTablePrefix}
}

// NewClientRepositoryWithPrefix creates a new ClientRepository with custom table prefix.
func NewClientRepositoryWithPrefix(sqlDB *sql.DB, driverName, prefix string) *ClientRepository {
	return &ClientRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: prefix}
}

func (r *ClientRepository) tableName() string {
	return r.tablePrefix + "client"
}

// List returns every client ordered by client id.
func (r *ClientRepository) List(ctx context.Context) ([]model.Client, error) {
	var rows []clientRow
	err := r.db.WithContext(ctx).Select("*").From(r.tableName()).OrderBy("client_id ASC").All(&rows)
	if err != nil {
		return nil, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to list clients", err)
	}

	clients := make([]model.Client, 0, len(rows))
	for _, row := range rows {
		c, err := row.toModel()
		if err != nil {
			return nil, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to decode client", err)
		}
		clients = append(clients, c)
	}
	return clients, nil
}

// Save creates the client or replaces its permissions.
func (r *ClientRepository) Save(ctx context.Context, c model.Client) (model.Client, error) {
	row, err := newClientRow(c)
	if err != nil {
		return c, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to encode client", err)
	}

	existing, err := r.find(ctx, c.ClientID)
	switch {
	case err == nil:
		row.ID = existing.ID
		row.CreatedAt = existing.CreatedAt
		if err := r.db.WithContext(ctx).Model(&row).Table(r.tableName()).Update(); err != nil {
			return c, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to update client", err)
		}
	case broker.IsNoData(err):
		if err := r.db.WithContext(ctx).Model(&row).Table(r.tableName()).Insert(); err != nil {
			return c, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to insert client", err)
		}
	default:
		return c, err
	}

	c.ID = row.ID
	c.CreatedAt = row.CreatedAt
	return c, nil
}

// Delete removes a client.
func (r *ClientRepository) Delete(ctx context.Context, clientID string) error {
	row, err := r.find(ctx, clientID)
	if err != nil {
		return err
	}
	// Delete using Model() API - auto WHERE id = ?
	if err := r.db.WithContext(ctx).Model(&row).Table(r.tableName()).Delete(); err != nil {
		return broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to delete client", err)
	}
	return nil
}

func (r *ClientRepository) find(ctx context.Context, clientID string) (clientRow, error) {
	var row clientRow
	err := r.db.WithContext(ctx).Select("*").From(r.tableName()).Where("client_id = ?", clientID).One(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return row, broker.ErrNoData
	}
	if err != nil {
		return row, broker.NewErrorWithCause(broker.ErrCodeDatabase, "failed to load client", err)
	}
	return row, nil
}
