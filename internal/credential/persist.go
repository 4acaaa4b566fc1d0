package credential

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/naka-gawa/year-review/internal/domain"
)

// Persister is the storage medium behind a Store.
type Persister interface {
	Load(ctx context.Context, provider domain.Provider) (domain.Credential, bool, error)
	Save(ctx context.Context, provider domain.Provider, cred domain.Credential) error
	Delete(ctx context.Context, provider domain.Provider) error
	Close() error
}

// Backend names a persistence medium.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// NewPersister opens the persister for backend. dsn is a file path for
// SQLite and a connection URL for PostgreSQL.
func NewPersister(ctx context.Context, backend Backend, dsn string) (Persister, error) {
	switch backend {
	case BackendMemory, "":
		return NewMemoryPersister(), nil
	case BackendSQLite, BackendPostgres:
		return NewSQLPersister(ctx, backend, dsn)
	default:
		return nil, fmt.Errorf("unsupported credential backend: %s. Must be memory, sqlite or postgres", backend)
	}
}

// MemoryPersister keeps credentials for the lifetime of the process.
type MemoryPersister struct {
	mu    sync.Mutex
	creds map[domain.Provider]domain.Credential
}

// NewMemoryPersister returns an empty MemoryPersister.
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{creds: make(map[domain.Provider]domain.Credential)}
}

func (m *MemoryPersister) Load(_ context.Context, provider domain.Provider) (domain.Credential, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.creds[provider]
	return cred, ok, nil
}

func (m *MemoryPersister) Save(_ context.Context, provider domain.Provider, cred domain.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[provider] = cred
	return nil
}

func (m *MemoryPersister) Delete(_ context.Context, provider domain.Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, provider)
	return nil
}

func (m *MemoryPersister) Close() error { return nil }

// SQLPersister stores credentials in a provider_credentials table.
type SQLPersister struct {
	db      *sql.DB
	backend Backend
}

var _ Persister = &SQLPersister{}

// NewSQLPersister opens the database and creates the table if needed.
func NewSQLPersister(ctx context.Context, backend Backend, dsn string) (*SQLPersister, error) {
	var driverName string
	switch backend {
	case BackendSQLite:
		driverName = "sqlite3"
	case BackendPostgres:
		driverName = "postgres"
	default:
		return nil, fmt.Errorf("unsupported sql backend: %s", backend)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s credential store: %w", backend, err)
	}
	if backend == BackendSQLite {
		// Avoid "database is locked" under concurrent provider runs.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s credential store: %w", backend, err)
	}

	p := &SQLPersister{db: db, backend: backend}
	if _, err := db.ExecContext(ctx, p.createTableQuery()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create credential table: %w", err)
	}
	return p, nil
}

func (p *SQLPersister) createTableQuery() string {
	if p.backend == BackendPostgres {
		return `
			CREATE TABLE IF NOT EXISTS provider_credentials (
				provider TEXT PRIMARY KEY,
				access_token TEXT NOT NULL,
				refresh_token TEXT NOT NULL DEFAULT '',
				expires_at BIGINT,
				updated_at BIGINT NOT NULL
			);`
	}
	return `
		CREATE TABLE IF NOT EXISTS provider_credentials (
			provider TEXT PRIMARY KEY,
			access_token TEXT NOT NULL,
			refresh_token TEXT NOT NULL DEFAULT '',
			expires_at INTEGER,
			updated_at INTEGER NOT NULL
		);`
}

// placeholder returns the n-th bind parameter for the backend.
func (p *SQLPersister) placeholder(n int) string {
	if p.backend == BackendPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (p *SQLPersister) Load(ctx context.Context, provider domain.Provider) (domain.Credential, bool, error) {
	query := fmt.Sprintf(`SELECT access_token, refresh_token, expires_at FROM provider_credentials WHERE provider = %s`, p.placeholder(1))

	var cred domain.Credential
	var expiresAt sql.NullInt64
	err := p.db.QueryRowContext(ctx, query, string(provider)).Scan(&cred.AccessToken, &cred.RefreshToken, &expiresAt)
	if err == sql.ErrNoRows {
		return domain.Credential{}, false, nil
	}
	if err != nil {
		return domain.Credential{}, false, fmt.Errorf("failed to query credential: %w", err)
	}
	if expiresAt.Valid {
		t := time.Unix(expiresAt.Int64, 0).UTC()
		cred.ExpiresAt = &t
	}
	return cred, true, nil
}

func (p *SQLPersister) Save(ctx context.Context, provider domain.Provider, cred domain.Credential) error {
	query := fmt.Sprintf(`
		INSERT INTO provider_credentials (provider, access_token, refresh_token, expires_at, updated_at)
		VALUES (%s, %s, %s, %s, %s)
		ON CONFLICT (provider) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		p.placeholder(1), p.placeholder(2), p.placeholder(3), p.placeholder(4), p.placeholder(5))

	var expiresAt sql.NullInt64
	if cred.ExpiresAt != nil {
		expiresAt = sql.NullInt64{Int64: cred.ExpiresAt.Unix(), Valid: true}
	}
	if _, err := p.db.ExecContext(ctx, query, string(provider), cred.AccessToken, cred.RefreshToken, expiresAt, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

func (p *SQLPersister) Delete(ctx context.Context, provider domain.Provider) error {
	query := fmt.Sprintf(`DELETE FROM provider_credentials WHERE provider = %s`, p.placeholder(1))
	if _, err := p.db.ExecContext(ctx, query, string(provider)); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (p *SQLPersister) Close() error {
	return p.db.Close()
}
