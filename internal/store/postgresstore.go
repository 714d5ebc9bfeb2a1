package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/router-for-me/codexgate/internal/auth/codex"
	log "github.com/sirupsen/logrus"
)

const (
	defaultCredentialTable = "credential_store"
	credentialRecordID     = "codex"
)

// PostgresStoreConfig captures configuration required to initialize a Postgres-backed store.
type PostgresStoreConfig struct {
	DSN    string
	Schema string
	Table  string
}

// PostgresStore persists the credential as a single JSONB row.
type PostgresStore struct {
	db  *sql.DB
	cfg PostgresStoreConfig
}

// NewPostgresStore establishes a connection to PostgreSQL.
func NewPostgresStore(ctx context.Context, cfg PostgresStoreConfig) (*PostgresStore, error) {
	trimmedDSN := strings.TrimSpace(cfg.DSN)
	if trimmedDSN == "" {
		return nil, fmt.Errorf("postgres store: DSN is required")
	}
	cfg.DSN = trimmedDSN
	if strings.TrimSpace(cfg.Table) == "" {
		cfg.Table = defaultCredentialTable
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres store: open database connection: %w", err)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres store: ping database: %w", err)
	}
	return newPostgresStoreWithDB(db, cfg), nil
}

func newPostgresStoreWithDB(db *sql.DB, cfg PostgresStoreConfig) *PostgresStore {
	if strings.TrimSpace(cfg.Table) == "" {
		cfg.Table = defaultCredentialTable
	}
	return &PostgresStore{db: db, cfg: cfg}
}

// Close releases the underlying database connection.
func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// EnsureSchema creates the credential table (and schema when provided).
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store: not initialized")
	}
	if schema := strings.TrimSpace(s.cfg.Schema); schema != "" {
		query := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", quoteIdentifier(schema))
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("postgres store: create schema: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, s.createTableQuery()); err != nil {
		return fmt.Errorf("postgres store: create credential table: %w", err)
	}
	return nil
}

// Load reads the credential row. A missing row or an unrecognized document yields (nil, nil).
func (s *PostgresStore) Load(ctx context.Context) (*codex.Credential, error) {
	var content string
	err := s.db.QueryRowContext(ctx, s.selectQuery(), credentialRecordID).Scan(&content)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("postgres store: load credential: %w", err)
	}
	cred, err := codex.ParseCredential([]byte(content))
	if err != nil {
		return nil, err
	}
	if cred == nil {
		log.Warn("postgres store: ignoring unrecognized credential document")
	}
	return cred, nil
}

// Save upserts the credential row.
func (s *PostgresStore) Save(ctx context.Context, cred *codex.Credential) error {
	if cred == nil {
		return fmt.Errorf("postgres store: credential is nil")
	}
	raw, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("postgres store: marshal credential: %w", err)
	}
	if _, err = s.db.ExecContext(ctx, s.upsertQuery(), credentialRecordID, json.RawMessage(raw)); err != nil {
		return fmt.Errorf("postgres store: upsert credential: %w", err)
	}
	return nil
}

// Delete removes the credential row.
func (s *PostgresStore) Delete(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.deleteQuery(), credentialRecordID); err != nil {
		return fmt.Errorf("postgres store: delete credential: %w", err)
	}
	return nil
}

func (s *PostgresStore) createTableQuery() string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, s.fullTableName())
}

func (s *PostgresStore) selectQuery() string {
	return fmt.Sprintf("SELECT content::text FROM %s WHERE id = $1", s.fullTableName())
}

func (s *PostgresStore) upsertQuery() string {
	return fmt.Sprintf(`
		INSERT INTO %s (id, content, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (id)
		DO UPDATE SET content = EXCLUDED.content, updated_at = NOW()
	`, s.fullTableName())
}

func (s *PostgresStore) deleteQuery() string {
	return fmt.Sprintf("DELETE FROM %s WHERE id = $1", s.fullTableName())
}

func (s *PostgresStore) fullTableName() string {
	if strings.TrimSpace(s.cfg.Schema) == "" {
		return quoteIdentifier(s.cfg.Table)
	}
	return quoteIdentifier(s.cfg.Schema) + "." + quoteIdentifier(s.cfg.Table)
}

func quoteIdentifier(identifier string) string {
	replaced := strings.ReplaceAll(identifier, "\"", "\"\"")
	return "\"" + replaced + "\""
}
