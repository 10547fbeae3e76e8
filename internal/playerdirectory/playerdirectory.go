// Package playerdirectory implements core.PlayerDirectory, resolving a
// device id to a display name. Per spec.md §3 this is an out-of-scope
// external collaborator; the core only depends on the interface.
package playerdirectory

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duomatch/lobby-coordinator/internal/core"
)

// Postgres resolves device ids against a `device_profiles` table, the
// way the teacher's internal/database/user.go resolves users by id with
// a single pgx query.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres constructs a Postgres-backed directory.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) ResolveName(ctx context.Context, deviceID string) (string, error) {
	var name string
	err := p.pool.QueryRow(ctx,
		`SELECT display_name FROM device_profiles WHERE device_id = $1`,
		deviceID,
	).Scan(&name)
	if err != nil {
		return "", fmt.Errorf("resolve device %s: %w", deviceID, err)
	}
	return name, nil
}

var _ core.PlayerDirectory = (*Postgres)(nil)

// Fallback wraps another PlayerDirectory and substitutes a generated
// name ("Player_xxxx", mirroring the teacher's AddConnection fallback in
// internal/lobby/lobby.go) whenever the lookup fails, so a missing or
// unreachable directory backend never blocks a lobby operation.
type Fallback struct {
	Inner core.PlayerDirectory
}

func (f *Fallback) ResolveName(ctx context.Context, deviceID string) (string, error) {
	if f.Inner != nil {
		if name, err := f.Inner.ResolveName(ctx, deviceID); err == nil && name != "" {
			return name, nil
		}
	}
	suffix := deviceID
	if len(suffix) > 4 {
		suffix = suffix[:4]
	}
	return fmt.Sprintf("Player_%s", suffix), nil
}

var _ core.PlayerDirectory = (*Fallback)(nil)
