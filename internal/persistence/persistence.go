// Package persistence implements the optional core.Persistence mirror
// over PostgreSQL via pgx, grounded on the teacher's internal/database
// package (pgx.BeginTxFunc transactions, one file per concern). Per
// spec.md §3/§7: in-memory state is authoritative during a lobby's
// lifetime; this mirror exists for observability only, and its failures
// never roll back in-memory state.
package persistence

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/duomatch/lobby-coordinator/internal/core"
)

// Postgres mirrors lobby snapshots into `lobbies` / `lobby_members` rows.
type Postgres struct {
	pool *pgxpool.Pool
	log  *logrus.Logger
}

// NewPostgres constructs a Postgres persistence mirror.
func NewPostgres(pool *pgxpool.Pool, logger *logrus.Logger) *Postgres {
	return &Postgres{pool: pool, log: logger}
}

// Connect opens a pool against dsn and verifies connectivity, the way
// the teacher's internal/database/db.go ConnectDB does.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func (p *Postgres) MirrorLobby(ctx context.Context, lobby core.Lobby) {
	err := pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO lobbies (id, code, status, max_players, current_players, countdown_start_time, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
				code = EXCLUDED.code,
				status = EXCLUDED.status,
				max_players = EXCLUDED.max_players,
				current_players = EXCLUDED.current_players,
				countdown_start_time = EXCLUDED.countdown_start_time,
				updated_at = EXCLUDED.updated_at
		`, lobby.ID, lobby.Code, lobby.Status, lobby.MaxPlayers, lobby.CurrentPlayers,
			lobby.CountdownStartTime, lobby.CreatedAt, lobby.UpdatedAt)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM lobby_members WHERE lobby_id = $1`, lobby.ID); err != nil {
			return err
		}
		for _, m := range lobby.Members {
			if _, err := tx.Exec(ctx, `
				INSERT INTO lobby_members (lobby_id, device_id, user_name, is_ready, joined_at)
				VALUES ($1, $2, $3, $4, $5)
			`, lobby.ID, m.DeviceID, m.UserName, m.IsReady, m.JoinedAt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		p.log.WithError(err).WithField("lobby_id", lobby.ID).Warn("persistence: mirror lobby failed")
	}
}

func (p *Postgres) MirrorLobbyDeleted(ctx context.Context, lobbyID string) {
	err := pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM lobby_members WHERE lobby_id = $1`, lobbyID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM lobbies WHERE id = $1`, lobbyID)
		return err
	})
	if err != nil {
		p.log.WithError(err).WithField("lobby_id", lobbyID).Warn("persistence: mirror lobby deletion failed")
	}
}

var _ core.Persistence = (*Postgres)(nil)

// Noop is the zero-config Persistence used when no Postgres DSN is
// configured, per spec.md §3 ("if Persistence is absent the core is
// fully in-memory").
type Noop struct{}

func (Noop) MirrorLobby(ctx context.Context, lobby core.Lobby) {}
func (Noop) MirrorLobbyDeleted(ctx context.Context, lobbyID string) {}

var _ core.Persistence = Noop{}
