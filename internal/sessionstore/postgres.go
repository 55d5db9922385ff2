package sessionstore

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/gotd/td/session"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ session.Storage = (*Postgres)(nil)

// Postgres implements session.Storage on a telegram_sessions table, one row
// per session name.
type Postgres struct {
	pool *pgxpool.Pool
	name string
}

func NewPostgres(pool *pgxpool.Pool, name string) *Postgres {
	return &Postgres{pool: pool, name: name}
}

// Migrate creates the sessions table if it does not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS telegram_sessions (
			name       text PRIMARY KEY,
			data       bytea NOT NULL,
			updated_at timestamptz NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return errors.Wrap(err, "migrate telegram_sessions")
	}
	return nil
}

// LoadSession returns session.ErrNotFound when no row exists yet.
func (p *Postgres) LoadSession(ctx context.Context) ([]byte, error) {
	var data []byte
	err := p.pool.QueryRow(ctx, `
		SELECT data FROM telegram_sessions WHERE name = $1
	`, p.name).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "load session")
	}
	return data, nil
}

func (p *Postgres) StoreSession(ctx context.Context, data []byte) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO telegram_sessions (name, data, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
	`, p.name, data)
	if err != nil {
		return errors.Wrap(err, "store session")
	}
	return nil
}

// Delete removes the stored session.
func (p *Postgres) Delete(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM telegram_sessions WHERE name = $1`, p.name)
	if err != nil {
		return errors.Wrap(err, "delete session")
	}
	return nil
}
