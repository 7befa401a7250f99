package configstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mbd888/duelyard/internal/world"
)

// PostgresStore persists arenas and stats in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the tables if they do not exist. The goose migrations in
// migrations/ create the same schema.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS duel_arenas (
	name        TEXT PRIMARY KEY,
	group_name  TEXT NOT NULL,
	position    INTEGER NOT NULL,
	world       TEXT NOT NULL,
	min_x       INTEGER NOT NULL,
	min_y       INTEGER NOT NULL,
	min_z       INTEGER NOT NULL,
	max_x       INTEGER NOT NULL,
	max_y       INTEGER NOT NULL,
	max_z       INTEGER NOT NULL,
	spawn1      JSONB,
	spawn2      JSONB,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_duel_arenas_group ON duel_arenas(group_name, position);

CREATE TABLE IF NOT EXISTS duel_player_stats (
	player_id    TEXT PRIMARY KEY,
	wins         INTEGER NOT NULL DEFAULT 0,
	losses       INTEGER NOT NULL DEFAULT 0,
	total_duels  INTEGER NOT NULL DEFAULT 0,
	last_duel_at TIMESTAMPTZ,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_duel_player_stats_wins ON duel_player_stats(wins DESC);
`

// Ping checks connectivity.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresStore) LoadArenaDefinitions(ctx context.Context) (map[string][]ArenaDef, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT name, group_name, world, min_x, min_y, min_z, max_x, max_y, max_z, spawn1, spawn2
		FROM duel_arenas
		ORDER BY group_name, position`)
	if err != nil {
		return nil, fmt.Errorf("query arenas: %w", err)
	}
	defer func() { _ = rows.Close() }()

	groups := make(map[string][]ArenaDef)
	for rows.Next() {
		var (
			def            ArenaDef
			group          string
			spawn1, spawn2 []byte
		)
		b := &def.Bounds
		if err := rows.Scan(&def.Name, &group, &b.World,
			&b.Min.X, &b.Min.Y, &b.Min.Z, &b.Max.X, &b.Max.Y, &b.Max.Z,
			&spawn1, &spawn2); err != nil {
			return nil, fmt.Errorf("scan arena: %w", err)
		}
		if def.Spawn1, err = decodeLocation(spawn1); err != nil {
			return nil, fmt.Errorf("arena %s spawn1: %w", def.Name, err)
		}
		if def.Spawn2, err = decodeLocation(spawn2); err != nil {
			return nil, fmt.Errorf("arena %s spawn2: %w", def.Name, err)
		}
		groups[group] = append(groups[group], def)
	}
	return groups, rows.Err()
}

func (p *PostgresStore) SaveArenaDefinitions(ctx context.Context, groups map[string][]ArenaDef) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM duel_arenas`); err != nil {
		return fmt.Errorf("clear arenas: %w", err)
	}
	now := time.Now()
	for _, group := range sortedGroups(groups) {
		for pos, def := range groups[group] {
			b := def.Bounds
			_, err := tx.ExecContext(ctx, `
				INSERT INTO duel_arenas (
					name, group_name, position, world,
					min_x, min_y, min_z, max_x, max_y, max_z,
					spawn1, spawn2, updated_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
				def.Name, group, pos, b.World,
				b.Min.X, b.Min.Y, b.Min.Z, b.Max.X, b.Max.Y, b.Max.Z,
				encodeLocation(def.Spawn1), encodeLocation(def.Spawn2), now,
			)
			if err != nil {
				return fmt.Errorf("insert arena %s: %w", def.Name, err)
			}
		}
	}
	return tx.Commit()
}

func (p *PostgresStore) LoadStats(ctx context.Context) (map[world.PlayerID]StatsRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT player_id, wins, losses, total_duels, last_duel_at
		FROM duel_player_stats`)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[world.PlayerID]StatsRecord)
	for rows.Next() {
		var (
			id   string
			rec  StatsRecord
			last sql.NullTime
		)
		if err := rows.Scan(&id, &rec.Wins, &rec.Losses, &rec.TotalDuels, &last); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		if last.Valid {
			rec.LastDuelAt = last.Time
		}
		out[world.PlayerID(id)] = rec
	}
	return out, rows.Err()
}

func (p *PostgresStore) SaveStats(ctx context.Context, stats map[world.PlayerID]StatsRecord) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM duel_player_stats`); err != nil {
		return fmt.Errorf("clear stats: %w", err)
	}
	now := time.Now()
	for id, rec := range stats {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO duel_player_stats (player_id, wins, losses, total_duels, last_duel_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			string(id), rec.Wins, rec.Losses, rec.TotalDuels, nullTime(rec.LastDuelAt), now,
		)
		if err != nil {
			return fmt.Errorf("insert stats %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func encodeLocation(loc *world.Location) any {
	if loc == nil {
		return nil
	}
	raw, _ := json.Marshal(loc)
	return raw
}

func decodeLocation(raw []byte) (*world.Location, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var loc world.Location
	if err := json.Unmarshal(raw, &loc); err != nil {
		return nil, err
	}
	return &loc, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
