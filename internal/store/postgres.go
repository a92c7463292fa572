package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	*sqlStore
}

// NewPostgres creates a new PostgreSQL store and runs migrations.
func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &PostgresStore{sqlStore: &sqlStore{
		db: db,
		d: dialect{
			name:     "postgres",
			rebind:   rebindDollar,
			classify: classifyPostgres,
		},
	}}
	if err := runMigrations(db, postgresMigrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// SQLSTATE codes from the integrity_constraint_violation class.
const (
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
)

func classifyPostgres(err error) constraintKind {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return constraintNone
	}
	switch pgErr.Code {
	case pgUniqueViolation:
		return constraintUnique
	case pgForeignKeyViolation:
		return constraintForeignKey
	}
	return constraintNone
}

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		external_id TEXT UNIQUE,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'user',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS currencies (
		id TEXT PRIMARY KEY,
		name VARCHAR(50) NOT NULL,
		symbol VARCHAR(5) NOT NULL,
		code VARCHAR(5) UNIQUE NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS categories (
		id TEXT PRIMARY KEY,
		name VARCHAR(50) NOT NULL,
		emoji TEXT,
		icon TEXT,
		background_color VARCHAR(7),
		parent_id TEXT REFERENCES categories(id) ON DELETE SET NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS expense_groups (
		id TEXT PRIMARY KEY,
		title VARCHAR(255) NOT NULL,
		title_key TEXT NOT NULL,
		description TEXT,
		currency_id TEXT NOT NULL REFERENCES currencies(id) ON DELETE RESTRICT,
		image TEXT,
		created_by TEXT REFERENCES users(id) ON DELETE SET NULL,
		updated_by TEXT REFERENCES users(id) ON DELETE SET NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_groups_title_creator ON expense_groups(title_key, created_by)`,
	`CREATE TABLE IF NOT EXISTS group_categories (
		group_id TEXT NOT NULL REFERENCES expense_groups(id) ON DELETE CASCADE,
		category_id TEXT NOT NULL REFERENCES categories(id) ON DELETE CASCADE,
		PRIMARY KEY (group_id, category_id)
	)`,
	`CREATE TABLE IF NOT EXISTS memberships (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		group_id TEXT NOT NULL REFERENCES expense_groups(id) ON DELETE CASCADE,
		role VARCHAR(50) NOT NULL DEFAULT 'member' CHECK (role IN ('owner', 'admin', 'member')),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE(user_id, group_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_memberships_group ON memberships(group_id)`,
	`CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		group_id TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_events(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_group ON audit_events(group_id)`,
}
