package broker

import (
	"context"
	"crypto/sha256"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/qustavo/dotsql"
)

// MigrationFiles contains the schema of the relica adapter, one directory
// per dialect (sqlite, postgres, mysql), plus the named bookkeeping
// queries in migrations/queries.sql.
//
// Migrate applies them directly. Users preferring an external tool can
// point it at the dialect directory:
//
//	source, err := iofs.New(broker.MigrationFiles, "migrations/postgres")
//
//go:embed migrations
var MigrationFiles embed.FS

// MigrationStatus represents the state of a single migration.
type MigrationStatus struct {
	ID          string
	Checksum    string
	Applied     bool
	AppliedAt   string
	ExecutionMs int64
}

type migration struct {
	ID       string
	Checksum string
	SQL      string
}

type appliedMigration struct {
	ID          string `db:"migration_id"`
	Checksum    string `db:"checksum"`
	AppliedAt   string `db:"applied_at"`
	ExecutionMs int64  `db:"execution_ms"`
}

// Migrate applies pending migrations for the driver of db in file order.
// Applied migrations are verified against their recorded checksum.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	q, migrations, err := prepareMigrations(ctx, db)
	if err != nil {
		return err
	}

	applied, err := q.applied(ctx)
	if err != nil {
		return err
	}
	if err := validateChecksums(applied, migrations); err != nil {
		return err
	}

	for _, m := range migrations {
		if _, ok := applied[m.ID]; ok {
			continue
		}
		if err := q.apply(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// Migrations returns the status of every migration for the driver of db.
func Migrations(ctx context.Context, db *sqlx.DB) ([]MigrationStatus, error) {
	q, migrations, err := prepareMigrations(ctx, db)
	if err != nil {
		return nil, err
	}
	applied, err := q.applied(ctx)
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(migrations))
	for _, m := range migrations {
		status := MigrationStatus{ID: m.ID, Checksum: m.Checksum}
		if a, ok := applied[m.ID]; ok {
			status.Applied = true
			status.Checksum = a.Checksum
			status.AppliedAt = a.AppliedAt
			status.ExecutionMs = a.ExecutionMs
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

type migrationQueries struct {
	dot *dotsql.DotSql
	db  *sqlx.DB
}

func prepareMigrations(ctx context.Context, db *sqlx.DB) (*migrationQueries, []migration, error) {
	dir, err := migrationDir(db.DriverName())
	if err != nil {
		return nil, nil, err
	}

	content, err := MigrationFiles.ReadFile("migrations/queries.sql")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read migration queries: %w", err)
	}
	dot, err := dotsql.LoadFromString(string(content))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse migration queries: %w", err)
	}
	q := &migrationQueries{dot: dot, db: db}

	if err := q.exec(ctx, db, "create-migrations-table"); err != nil {
		return nil, nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	migrations, err := parseMigrationFiles(MigrationFiles, dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse migrations: %w", err)
	}
	return q, migrations, nil
}

func migrationDir(driverName string) (string, error) {
	switch driverName {
	case "sqlite3":
		return "migrations/sqlite", nil
	case "postgres":
		return "migrations/postgres", nil
	case "mysql":
		return "migrations/mysql", nil
	}
	return "", NewError(ErrCodeConfiguration, fmt.Sprintf("unsupported database driver: %s", driverName))
}

func parseMigrationFiles(fsys fs.FS, dir string) ([]migration, error) {
	var migrations []migration
	err := fs.WalkDir(fsys, dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path.Ext(p) != ".sql" {
			return nil
		}
		content, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", p, err)
		}
		migrations = append(migrations, migration{
			ID:       path.Base(p),
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
			SQL:      string(content),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].ID < migrations[j].ID
	})
	return migrations, nil
}

func validateChecksums(applied map[string]appliedMigration, migrations []migration) error {
	known := make(map[string]string, len(migrations))
	for _, m := range migrations {
		known[m.ID] = m.Checksum
	}
	for id, a := range applied {
		expected, ok := known[id]
		if !ok {
			return fmt.Errorf("migration %s exists in database but not in embedded files", id)
		}
		if a.Checksum != expected {
			return fmt.Errorf("checksum mismatch for migration %s: expected %s, got %s", id, expected, a.Checksum)
		}
	}
	return nil
}

func (q *migrationQueries) applied(ctx context.Context) (map[string]appliedMigration, error) {
	query, err := q.dot.Raw("list-applied-migrations")
	if err != nil {
		return nil, err
	}
	var rows []appliedMigration
	if err := q.db.SelectContext(ctx, &rows, q.db.Rebind(query)); err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	applied := make(map[string]appliedMigration, len(rows))
	for _, r := range rows {
		applied[r.ID] = r
	}
	return applied, nil
}

// apply runs one migration and records it in a single transaction.
// Statements are split on semicolons and executed one at a time; MySQL
// rejects multi-statement Exec unless multiStatements is set on the DSN.
func (q *migrationQueries) apply(ctx context.Context, m migration) error {
	start := time.Now()

	tx, err := q.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for migration %s: %w", m.ID, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range splitStatements(m.SQL) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", m.ID, err)
		}
	}

	appliedAt := time.Now().UTC().Format(time.RFC3339)
	if err := q.exec(ctx, tx, "record-migration", m.ID, m.Checksum, appliedAt, time.Since(start).Milliseconds()); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", m.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", m.ID, err)
	}
	return nil
}

func (q *migrationQueries) exec(ctx context.Context, ext sqlx.ExtContext, name string, args ...interface{}) error {
	query, err := q.dot.Raw(name)
	if err != nil {
		return fmt.Errorf("query not found: %s", name)
	}
	_, err = ext.ExecContext(ctx, ext.Rebind(query), args...)
	return err
}

// splitStatements drops "--" comment lines and splits on semicolons.
func splitStatements(sql string) []string {
	var b strings.Builder
	for _, line := range strings.Split(sql, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}

	var stmts []string
	for _, stmt := range strings.Split(b.String(), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}
