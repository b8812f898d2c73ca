package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/HoboStank/discord-scammer-defense/app/storage/engine"
)

// AppealStatus represents the state of an appeal
type AppealStatus string

// enum of appeal states
const (
	AppealPending  AppealStatus = "pending"
	AppealApproved AppealStatus = "approved"
	AppealRejected AppealStatus = "rejected"
)

// Validate checks the status is one of the known values
func (s AppealStatus) Validate() error {
	switch s {
	case AppealPending, AppealApproved, AppealRejected:
		return nil
	}
	return fmt.Errorf("invalid appeal status %q", s)
}

// Appeals is a storage for member appeals against detections. An appeal starts pending
// and can be resolved once, to approved or rejected.
type Appeals struct {
	*engine.SQL
	engine.RWLocker
}

// AppealRecord represents a single appeal
type AppealRecord struct {
	ID          int64        `db:"id" json:"id"`
	GuildID     string       `db:"guild_id" json:"guild_id"`
	MemberID    string       `db:"member_id" json:"member_id"`
	DetectionID int64        `db:"detection_id" json:"detection_id,omitempty"`
	Reason      string       `db:"reason" json:"reason"`
	Status      AppealStatus `db:"status" json:"status"`
	ResolvedBy  string       `db:"resolved_by" json:"resolved_by,omitempty"`
	Note        string       `db:"note" json:"note,omitempty"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at" json:"updated_at"`
}

// all appeals queries
const (
	CmdCreateAppealsTable engine.DBCmd = iota + 400
	CmdCreateAppealsIndexes
	CmdInsertAppeal
	CmdSelectAppealByID
	CmdSelectAppeals
	CmdSelectAppealsByStatus
	CmdResolveAppeal
)

var appealsQueries = engine.NewQueryMap().
	Add(CmdCreateAppealsTable, engine.Query{
		engine.Sqlite: `CREATE TABLE IF NOT EXISTS appeals (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id TEXT NOT NULL,
			member_id TEXT NOT NULL,
			detection_id INTEGER DEFAULT 0,
			reason TEXT DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'approved', 'rejected')),
			resolved_by TEXT DEFAULT '',
			note TEXT DEFAULT '',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		engine.Postgres: `CREATE TABLE IF NOT EXISTS appeals (
			id SERIAL PRIMARY KEY,
			guild_id TEXT NOT NULL,
			member_id TEXT NOT NULL,
			detection_id BIGINT DEFAULT 0,
			reason TEXT DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'approved', 'rejected')),
			resolved_by TEXT DEFAULT '',
			note TEXT DEFAULT '',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	}).
	AddSame(CmdCreateAppealsIndexes, `CREATE INDEX IF NOT EXISTS idx_appeals_guild ON appeals(guild_id);
		CREATE INDEX IF NOT EXISTS idx_appeals_status ON appeals(guild_id, status)`).
	AddSame(CmdInsertAppeal, `INSERT INTO appeals (guild_id, member_id, detection_id, reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`).
	AddSame(CmdSelectAppealByID, `SELECT id, guild_id, member_id, detection_id, reason, status, resolved_by, note, created_at, updated_at
		FROM appeals WHERE id = ?`).
	AddSame(CmdSelectAppeals, `SELECT id, guild_id, member_id, detection_id, reason, status, resolved_by, note, created_at, updated_at
		FROM appeals WHERE guild_id = ? ORDER BY created_at DESC LIMIT ?`).
	AddSame(CmdSelectAppealsByStatus, `SELECT id, guild_id, member_id, detection_id, reason, status, resolved_by, note, created_at, updated_at
		FROM appeals WHERE guild_id = ? AND status = ? ORDER BY created_at DESC LIMIT ?`).
	AddSame(CmdResolveAppeal, `UPDATE appeals SET status = ?, resolved_by = ?, note = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`)

// NewAppeals creates appeals storage and initializes the table
func NewAppeals(ctx context.Context, db *engine.SQL) (*Appeals, error) {
	if db == nil {
		return nil, fmt.Errorf("db connection is nil")
	}
	cfg := engine.TableConfig{
		Name:          "appeals",
		CreateTable:   CmdCreateAppealsTable,
		CreateIndexes: CmdCreateAppealsIndexes,
		QueriesMap:    appealsQueries,
	}
	if err := engine.InitTable(ctx, db, cfg); err != nil {
		return nil, fmt.Errorf("failed to init appeals table: %w", err)
	}
	return &Appeals{SQL: db, RWLocker: db.MakeLock()}, nil
}

// Create files a new appeal in pending state, returns the assigned id
func (a *Appeals) Create(ctx context.Context, rec AppealRecord) (int64, error) {
	if rec.GuildID == "" || rec.MemberID == "" {
		return 0, fmt.Errorf("guild_id and member_id are required")
	}
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}

	a.Lock()
	defer a.Unlock()

	query, err := appealsQueries.Pick(a.Type(), CmdInsertAppeal)
	if err != nil {
		return 0, fmt.Errorf("failed to get insert query: %w", err)
	}

	if a.Type() == engine.Postgres {
		var id int64
		err := a.GetContext(ctx, &id, a.Adopt(query)+" RETURNING id",
			rec.GuildID, rec.MemberID, rec.DetectionID, rec.Reason, rec.CreatedAt, rec.CreatedAt)
		if err != nil {
			return 0, fmt.Errorf("failed to insert appeal: %w", err)
		}
		return id, nil
	}

	res, err := a.ExecContext(ctx, a.Adopt(query),
		rec.GuildID, rec.MemberID, rec.DetectionID, rec.Reason, rec.CreatedAt, rec.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert appeal: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get appeal id: %w", err)
	}
	return id, nil
}

// Get returns an appeal by id, ErrNotFound if missing
func (a *Appeals) Get(ctx context.Context, id int64) (AppealRecord, error) {
	a.RLock()
	defer a.RUnlock()

	query, err := appealsQueries.Pick(a.Type(), CmdSelectAppealByID)
	if err != nil {
		return AppealRecord{}, fmt.Errorf("failed to get select query: %w", err)
	}
	var rec AppealRecord
	if err := a.GetContext(ctx, &rec, a.Adopt(query), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AppealRecord{}, ErrNotFound
		}
		return AppealRecord{}, fmt.Errorf("failed to get appeal %d: %w", id, err)
	}
	return rec, nil
}

// List returns appeals for a guild, optionally filtered by status, newest first
func (a *Appeals) List(ctx context.Context, guildID string, status AppealStatus, limit int) ([]AppealRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	if status != "" {
		if err := status.Validate(); err != nil {
			return nil, err
		}
	}

	a.RLock()
	defer a.RUnlock()

	var recs []AppealRecord
	if status == "" {
		query, err := appealsQueries.Pick(a.Type(), CmdSelectAppeals)
		if err != nil {
			return nil, fmt.Errorf("failed to get select query: %w", err)
		}
		if err := a.SelectContext(ctx, &recs, a.Adopt(query), guildID, limit); err != nil {
			return nil, fmt.Errorf("failed to list appeals: %w", err)
		}
		return recs, nil
	}

	query, err := appealsQueries.Pick(a.Type(), CmdSelectAppealsByStatus)
	if err != nil {
		return nil, fmt.Errorf("failed to get select query: %w", err)
	}
	if err := a.SelectContext(ctx, &recs, a.Adopt(query), guildID, status, limit); err != nil {
		return nil, fmt.Errorf("failed to list appeals: %w", err)
	}
	return recs, nil
}

// Resolve moves a pending appeal to approved or rejected. Resolving an already
// resolved or missing appeal fails.
func (a *Appeals) Resolve(ctx context.Context, id int64, status AppealStatus, moderatorID, note string) error {
	if status != AppealApproved && status != AppealRejected {
		return fmt.Errorf("appeal can only be resolved to approved or rejected, got %q", status)
	}

	a.Lock()
	defer a.Unlock()

	query, err := appealsQueries.Pick(a.Type(), CmdResolveAppeal)
	if err != nil {
		return fmt.Errorf("failed to get resolve query: %w", err)
	}
	res, err := a.ExecContext(ctx, a.Adopt(query), status, moderatorID, note, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to resolve appeal %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("appeal %d is not pending or doesn't exist", id)
	}
	return nil
}
