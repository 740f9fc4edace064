package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const defaultTokenTable = "scanclient_tokens"

// PostgresStoreConfig captures configuration required to initialize a Postgres-backed store.
type PostgresStoreConfig struct {
	DSN     string
	Schema  string
	Table   string
	Profile string
}

// PostgresStore keeps the token pair in a PostgreSQL table, one row per profile.
// Every read goes to the database so processes sharing a profile see each other's refreshes.
type PostgresStore struct {
	records
	db  *sql.DB
	cfg PostgresStoreConfig
}

// NewPostgresStore connects to PostgreSQL and creates the token table when missing.
func NewPostgresStore(ctx context.Context, cfg PostgresStoreConfig) (*PostgresStore, error) {
	cfg.DSN = strings.TrimSpace(cfg.DSN)
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres token store: DSN is required")
	}
	if strings.TrimSpace(cfg.Table) == "" {
		cfg.Table = defaultTokenTable
	}
	cfg.Profile = normalizeProfile(cfg.Profile)

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres token store: open database connection: %w", err)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres token store: ping database: %w", err)
	}

	s := &PostgresStore{db: db, cfg: cfg}
	s.records = records{name: "postgres token store", backend: s}
	if err = s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database connection.
func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// EnsureSchema creates the token table (and schema when provided).
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if schema := strings.TrimSpace(s.cfg.Schema); schema != "" {
		query := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", quoteIdentifier(schema))
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("postgres token store: create schema: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			profile TEXT PRIMARY KEY,
			content JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, s.fullTableName())); err != nil {
		return fmt.Errorf("postgres token store: create token table: %w", err)
	}
	return nil
}

func (s *PostgresStore) load(ctx context.Context) ([]byte, error) {
	query := fmt.Sprintf("SELECT content FROM %s WHERE profile = $1", s.fullTableName())
	var content string
	err := s.db.QueryRowContext(ctx, query, s.cfg.Profile).Scan(&content)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, err
	}
	return []byte(content), nil
}

func (s *PostgresStore) save(ctx context.Context, data []byte) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (profile, content, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (profile)
		DO UPDATE SET content = EXCLUDED.content, updated_at = NOW()
	`, s.fullTableName())
	_, err := s.db.ExecContext(ctx, query, s.cfg.Profile, json.RawMessage(data))
	return err
}

func (s *PostgresStore) remove(ctx context.Context) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE profile = $1", s.fullTableName())
	_, err := s.db.ExecContext(ctx, query, s.cfg.Profile)
	return err
}

func (s *PostgresStore) fullTableName() string {
	return qualifiedTableName(s.cfg.Schema, s.cfg.Table)
}

func qualifiedTableName(schema, table string) string {
	if strings.TrimSpace(schema) == "" {
		return quoteIdentifier(table)
	}
	return quoteIdentifier(schema) + "." + quoteIdentifier(table)
}

func quoteIdentifier(identifier string) string {
	replaced := strings.ReplaceAll(identifier, "\"", "\"\"")
	return "\"" + replaced + "\""
}
