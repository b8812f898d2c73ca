// Package config provides persistence for per-guild moderation policies.
// Policies are stored as json blobs keyed by guild id, a guild without a saved
// policy gets the defaults.
package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/HoboStank/discord-scammer-defense/app/storage/engine"
	"github.com/HoboStank/discord-scammer-defense/lib/detect"
)

// Store provides access to guild policies stored in database
type Store struct {
	*engine.SQL
	engine.RWLocker
}

// all policy queries
const (
	CmdCreatePoliciesTable engine.DBCmd = iota + 1000
	CmdCreatePoliciesIndexes
	CmdUpsertPolicy
	CmdSelectPolicy
	CmdDeletePolicy
	CmdSelectPolicyUpdatedAt
)

var policyQueries = engine.NewQueryMap().
	Add(CmdCreatePoliciesTable, engine.Query{
		engine.Sqlite: `CREATE TABLE IF NOT EXISTS policies (
			id INTEGER PRIMARY KEY,
			guild_id TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(guild_id)
		)`,
		engine.Postgres: `CREATE TABLE IF NOT EXISTS policies (
			id SERIAL PRIMARY KEY,
			guild_id TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(guild_id)
		)`,
	}).
	AddSame(CmdCreatePoliciesIndexes, `CREATE INDEX IF NOT EXISTS idx_policies_guild ON policies(guild_id)`).
	Add(CmdUpsertPolicy, engine.Query{
		engine.Sqlite: `INSERT INTO policies (guild_id, data, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT (guild_id) DO UPDATE
			SET data = excluded.data, updated_at = excluded.updated_at`,
		engine.Postgres: `INSERT INTO policies (guild_id, data, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (guild_id) DO UPDATE
			SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
	}).
	AddSame(CmdSelectPolicy, `SELECT data FROM policies WHERE guild_id = ?`).
	AddSame(CmdDeletePolicy, `DELETE FROM policies WHERE guild_id = ?`).
	AddSame(CmdSelectPolicyUpdatedAt, `SELECT updated_at FROM policies WHERE guild_id = ?`)

// NewStore creates a new policy store
func NewStore(ctx context.Context, db *engine.SQL) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("no db provided")
	}

	cfg := engine.TableConfig{
		Name:          "policies",
		CreateTable:   CmdCreatePoliciesTable,
		CreateIndexes: CmdCreatePoliciesIndexes,
		QueriesMap:    policyQueries,
	}
	if err := engine.InitTable(ctx, db, cfg); err != nil {
		return nil, fmt.Errorf("failed to init policies table: %w", err)
	}

	return &Store{SQL: db, RWLocker: db.MakeLock()}, nil
}

// Load retrieves the policy for a guild, defaults if nothing saved yet
func (s *Store) Load(ctx context.Context, guildID string) (detect.ServerPolicy, error) {
	s.RLock()
	defer s.RUnlock()

	query, err := policyQueries.Pick(s.Type(), CmdSelectPolicy)
	if err != nil {
		return detect.ServerPolicy{}, fmt.Errorf("failed to get select query: %w", err)
	}

	var record struct {
		Data string `db:"data"`
	}
	if err := s.GetContext(ctx, &record, s.Adopt(query), guildID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return detect.DefaultPolicy(), nil
		}
		return detect.ServerPolicy{}, fmt.Errorf("failed to get policy: %w", err)
	}

	var policy detect.ServerPolicy
	if err := json.Unmarshal([]byte(record.Data), &policy); err != nil {
		return detect.ServerPolicy{}, fmt.Errorf("failed to unmarshal policy: %w", err)
	}
	return policy, nil
}

// Save validates and stores the policy for a guild
func (s *Store) Save(ctx context.Context, guildID string, policy detect.ServerPolicy) error {
	if guildID == "" {
		return fmt.Errorf("guild id is required")
	}
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}

	s.Lock()
	defer s.Unlock()

	data, err := json.Marshal(&policy)
	if err != nil {
		return fmt.Errorf("failed to marshal policy: %w", err)
	}

	query, err := policyQueries.Pick(s.Type(), CmdUpsertPolicy)
	if err != nil {
		return fmt.Errorf("failed to get upsert query: %w", err)
	}
	if _, err := s.ExecContext(ctx, s.Adopt(query), guildID, string(data), time.Now()); err != nil {
		return fmt.Errorf("failed to save policy: %w", err)
	}
	return nil
}

// Delete removes the saved policy for a guild, reverting it to defaults
func (s *Store) Delete(ctx context.Context, guildID string) error {
	s.Lock()
	defer s.Unlock()

	query, err := policyQueries.Pick(s.Type(), CmdDeletePolicy)
	if err != nil {
		return fmt.Errorf("failed to get delete query: %w", err)
	}
	if _, err := s.ExecContext(ctx, s.Adopt(query), guildID); err != nil {
		return fmt.Errorf("failed to delete policy: %w", err)
	}
	return nil
}

// LastUpdated returns the last update time of the guild policy
func (s *Store) LastUpdated(ctx context.Context, guildID string) (time.Time, error) {
	s.RLock()
	defer s.RUnlock()

	query, err := policyQueries.Pick(s.Type(), CmdSelectPolicyUpdatedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get updated_at query: %w", err)
	}

	var record struct {
		UpdatedAt time.Time `db:"updated_at"`
	}
	if err := s.GetContext(ctx, &record, s.Adopt(query), guildID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, fmt.Errorf("no policy found for guild %s", guildID)
		}
		return time.Time{}, fmt.Errorf("failed to get policy update time: %w", err)
	}
	return record.UpdatedAt, nil
}
