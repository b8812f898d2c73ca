package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/HoboStank/discord-scammer-defense/app/storage/engine"
)

// ModLog is a storage for moderation actions taken by the bot or by moderators,
// automatic enforcement and manual overrides both land here.
type ModLog struct {
	*engine.SQL
	engine.RWLocker
}

// ModLogRecord represents a single moderation action
type ModLogRecord struct {
	ID          int64     `db:"id" json:"id"`
	GuildID     string    `db:"guild_id" json:"guild_id"`
	ModeratorID string    `db:"moderator_id" json:"moderator_id,omitempty"` // empty for automatic actions
	TargetID    string    `db:"target_id" json:"target_id"`
	Action      string    `db:"action" json:"action"`
	Reason      string    `db:"reason" json:"reason"`
	Timestamp   time.Time `db:"timestamp" json:"timestamp"`
}

// all modlog queries
const (
	CmdCreateModLogTable engine.DBCmd = iota + 300
	CmdCreateModLogIndexes
	CmdInsertModLog
	CmdSelectModLog
	CmdSelectModLogForTarget
)

var modLogQueries = engine.NewQueryMap().
	Add(CmdCreateModLogTable, engine.Query{
		engine.Sqlite: `CREATE TABLE IF NOT EXISTS mod_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id TEXT NOT NULL,
			moderator_id TEXT DEFAULT '',
			target_id TEXT NOT NULL,
			action TEXT NOT NULL,
			reason TEXT DEFAULT '',
			timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		engine.Postgres: `CREATE TABLE IF NOT EXISTS mod_log (
			id SERIAL PRIMARY KEY,
			guild_id TEXT NOT NULL,
			moderator_id TEXT DEFAULT '',
			target_id TEXT NOT NULL,
			action TEXT NOT NULL,
			reason TEXT DEFAULT '',
			timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	}).
	AddSame(CmdCreateModLogIndexes, `CREATE INDEX IF NOT EXISTS idx_mod_log_guild ON mod_log(guild_id);
		CREATE INDEX IF NOT EXISTS idx_mod_log_target ON mod_log(guild_id, target_id)`).
	AddSame(CmdInsertModLog, `INSERT INTO mod_log (guild_id, moderator_id, target_id, action, reason, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`).
	AddSame(CmdSelectModLog, `SELECT id, guild_id, moderator_id, target_id, action, reason, timestamp
		FROM mod_log WHERE guild_id = ? ORDER BY timestamp DESC LIMIT ?`).
	AddSame(CmdSelectModLogForTarget, `SELECT id, guild_id, moderator_id, target_id, action, reason, timestamp
		FROM mod_log WHERE guild_id = ? AND target_id = ? ORDER BY timestamp DESC`)

// NewModLog creates mod log storage and initializes the table
func NewModLog(ctx context.Context, db *engine.SQL) (*ModLog, error) {
	if db == nil {
		return nil, fmt.Errorf("db connection is nil")
	}
	cfg := engine.TableConfig{
		Name:          "mod_log",
		CreateTable:   CmdCreateModLogTable,
		CreateIndexes: CmdCreateModLogIndexes,
		QueriesMap:    modLogQueries,
	}
	if err := engine.InitTable(ctx, db, cfg); err != nil {
		return nil, fmt.Errorf("failed to init mod_log table: %w", err)
	}
	return &ModLog{SQL: db, RWLocker: db.MakeLock()}, nil
}

// Add records a moderation action
func (m *ModLog) Add(ctx context.Context, rec ModLogRecord) error {
	if rec.Action == "" {
		return fmt.Errorf("action cannot be empty")
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	m.Lock()
	defer m.Unlock()

	query, err := modLogQueries.Pick(m.Type(), CmdInsertModLog)
	if err != nil {
		return fmt.Errorf("failed to get insert query: %w", err)
	}
	if _, err := m.ExecContext(ctx, m.Adopt(query), rec.GuildID, rec.ModeratorID, rec.TargetID,
		rec.Action, rec.Reason, rec.Timestamp); err != nil {
		return fmt.Errorf("failed to insert mod log entry: %w", err)
	}
	return nil
}

// List returns recent moderation actions for a guild, newest first
func (m *ModLog) List(ctx context.Context, guildID string, limit int) ([]ModLogRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	m.RLock()
	defer m.RUnlock()

	query, err := modLogQueries.Pick(m.Type(), CmdSelectModLog)
	if err != nil {
		return nil, fmt.Errorf("failed to get select query: %w", err)
	}
	var recs []ModLogRecord
	if err := m.SelectContext(ctx, &recs, m.Adopt(query), guildID, limit); err != nil {
		return nil, fmt.Errorf("failed to list mod log: %w", err)
	}
	return recs, nil
}

// ForTarget returns all moderation actions against a member, newest first
func (m *ModLog) ForTarget(ctx context.Context, guildID, targetID string) ([]ModLogRecord, error) {
	m.RLock()
	defer m.RUnlock()

	query, err := modLogQueries.Pick(m.Type(), CmdSelectModLogForTarget)
	if err != nil {
		return nil, fmt.Errorf("failed to get select query: %w", err)
	}
	var recs []ModLogRecord
	if err := m.SelectContext(ctx, &recs, m.Adopt(query), guildID, targetID); err != nil {
		return nil, fmt.Errorf("failed to list mod log for target: %w", err)
	}
	return recs, nil
}
