// Package storage provides sql-backed stores for the bot and the dashboard.
// Each table is represented by a struct with business-logic methods for its data type,
// all built on the shared engine wrapper to support both sqlite and postgres.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-pkgz/lgr"

	"github.com/HoboStank/discord-scammer-defense/app/storage/engine"
)

// Detections is a storage for detection events, i.e. every time a member was assessed
// with a non-zero risk the event lands here.
type Detections struct {
	*engine.SQL
	engine.RWLocker
}

// DetectionRecord represents a single detection event
type DetectionRecord struct {
	ID          int64     `db:"id" json:"id"`
	GuildID     string    `db:"guild_id" json:"guild_id"`
	MemberID    string    `db:"member_id" json:"member_id"`
	Username    string    `db:"username" json:"username"`
	Score       float64   `db:"score" json:"score"`
	FactorsJSON string    `db:"factors" json:"-"`
	Factors     []string  `db:"-" json:"factors"`
	Action      string    `db:"action" json:"action"`
	Timestamp   time.Time `db:"timestamp" json:"timestamp"`
}

// all detections queries
const (
	CmdCreateDetectionsTable engine.DBCmd = iota + 100
	CmdCreateDetectionsIndexes
	CmdInsertDetection
	CmdSelectDetections
	CmdSelectDetectionByID
	CmdCountDetections
	CmdCountDetectionsSince
)

var detectionsQueries = engine.NewQueryMap().
	Add(CmdCreateDetectionsTable, engine.Query{
		engine.Sqlite: `CREATE TABLE IF NOT EXISTS detections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id TEXT NOT NULL,
			member_id TEXT NOT NULL,
			username TEXT DEFAULT '',
			score REAL NOT NULL,
			factors TEXT DEFAULT '[]',
			action TEXT DEFAULT '',
			timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		engine.Postgres: `CREATE TABLE IF NOT EXISTS detections (
			id SERIAL PRIMARY KEY,
			guild_id TEXT NOT NULL,
			member_id TEXT NOT NULL,
			username TEXT DEFAULT '',
			score DOUBLE PRECISION NOT NULL,
			factors TEXT DEFAULT '[]',
			action TEXT DEFAULT '',
			timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	}).
	AddSame(CmdCreateDetectionsIndexes, `CREATE INDEX IF NOT EXISTS idx_detections_guild ON detections(guild_id);
		CREATE INDEX IF NOT EXISTS idx_detections_member ON detections(guild_id, member_id);
		CREATE INDEX IF NOT EXISTS idx_detections_timestamp ON detections(timestamp)`).
	AddSame(CmdInsertDetection, `INSERT INTO detections (guild_id, member_id, username, score, factors, action, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`).
	AddSame(CmdSelectDetections, `SELECT id, guild_id, member_id, username, score, factors, action, timestamp
		FROM detections WHERE guild_id = ? ORDER BY timestamp DESC LIMIT ?`).
	AddSame(CmdSelectDetectionByID, `SELECT id, guild_id, member_id, username, score, factors, action, timestamp
		FROM detections WHERE id = ?`).
	AddSame(CmdCountDetections, `SELECT COUNT(*) FROM detections WHERE guild_id = ?`).
	AddSame(CmdCountDetectionsSince, `SELECT COUNT(*) FROM detections WHERE guild_id = ? AND timestamp >= ?`)

// NewDetections creates detections storage and initializes the table
func NewDetections(ctx context.Context, db *engine.SQL) (*Detections, error) {
	if db == nil {
		return nil, fmt.Errorf("db connection is nil")
	}
	cfg := engine.TableConfig{
		Name:          "detections",
		CreateTable:   CmdCreateDetectionsTable,
		CreateIndexes: CmdCreateDetectionsIndexes,
		QueriesMap:    detectionsQueries,
	}
	if err := engine.InitTable(ctx, db, cfg); err != nil {
		return nil, fmt.Errorf("failed to init detections table: %w", err)
	}
	return &Detections{SQL: db, RWLocker: db.MakeLock()}, nil
}

// Write adds a new detection record
func (d *Detections) Write(ctx context.Context, rec DetectionRecord) error {
	factors, err := json.Marshal(rec.Factors)
	if err != nil {
		return fmt.Errorf("failed to marshal factors: %w", err)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	d.Lock()
	defer d.Unlock()

	query, err := detectionsQueries.Pick(d.Type(), CmdInsertDetection)
	if err != nil {
		return fmt.Errorf("failed to get insert query: %w", err)
	}
	if _, err := d.ExecContext(ctx, d.Adopt(query), rec.GuildID, rec.MemberID, rec.Username,
		rec.Score, string(factors), rec.Action, rec.Timestamp); err != nil {
		return fmt.Errorf("failed to insert detection: %w", err)
	}

	lgr.Printf("[INFO] detection recorded for member:%s in guild:%s, score:%.2f, action:%q",
		rec.MemberID, rec.GuildID, rec.Score, rec.Action)
	return nil
}

// Read returns the most recent detection records for a guild, newest first
func (d *Detections) Read(ctx context.Context, guildID string, limit int) ([]DetectionRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	d.RLock()
	defer d.RUnlock()

	query, err := detectionsQueries.Pick(d.Type(), CmdSelectDetections)
	if err != nil {
		return nil, fmt.Errorf("failed to get select query: %w", err)
	}

	var recs []DetectionRecord
	if err := d.SelectContext(ctx, &recs, d.Adopt(query), guildID, limit); err != nil {
		return nil, fmt.Errorf("failed to get detections: %w", err)
	}
	for i := range recs {
		if err := json.Unmarshal([]byte(recs[i].FactorsJSON), &recs[i].Factors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal factors for detection %d: %w", recs[i].ID, err)
		}
	}
	return recs, nil
}

// Get returns a single detection record by id
func (d *Detections) Get(ctx context.Context, id int64) (DetectionRecord, error) {
	d.RLock()
	defer d.RUnlock()

	query, err := detectionsQueries.Pick(d.Type(), CmdSelectDetectionByID)
	if err != nil {
		return DetectionRecord{}, fmt.Errorf("failed to get select query: %w", err)
	}

	var rec DetectionRecord
	if err := d.GetContext(ctx, &rec, d.Adopt(query), id); err != nil {
		return DetectionRecord{}, fmt.Errorf("failed to get detection %d: %w", id, err)
	}
	if err := json.Unmarshal([]byte(rec.FactorsJSON), &rec.Factors); err != nil {
		return DetectionRecord{}, fmt.Errorf("failed to unmarshal factors: %w", err)
	}
	return rec, nil
}

// Count returns the total number of detections for a guild
func (d *Detections) Count(ctx context.Context, guildID string) (int, error) {
	d.RLock()
	defer d.RUnlock()

	query, err := detectionsQueries.Pick(d.Type(), CmdCountDetections)
	if err != nil {
		return 0, fmt.Errorf("failed to get count query: %w", err)
	}
	var count int
	if err := d.GetContext(ctx, &count, d.Adopt(query), guildID); err != nil {
		return 0, fmt.Errorf("failed to count detections: %w", err)
	}
	return count, nil
}

// CountSince returns the number of detections for a guild since the given time
func (d *Detections) CountSince(ctx context.Context, guildID string, since time.Time) (int, error) {
	d.RLock()
	defer d.RUnlock()

	query, err := detectionsQueries.Pick(d.Type(), CmdCountDetectionsSince)
	if err != nil {
		return 0, fmt.Errorf("failed to get count query: %w", err)
	}
	var count int
	if err := d.GetContext(ctx, &count, d.Adopt(query), guildID, since); err != nil {
		return 0, fmt.Errorf("failed to count detections: %w", err)
	}
	return count, nil
}
