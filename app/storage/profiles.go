package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/HoboStank/discord-scammer-defense/app/storage/engine"
)

// ErrNotFound returned by stores when the requested record doesn't exist
var ErrNotFound = errors.New("record not found")

// Profiles is a storage for known scammer profiles. A profile is kept per guild and member
// and updated every time the member trips the detector, so repeat offenders accumulate history.
type Profiles struct {
	*engine.SQL
	engine.RWLocker
}

// ProfileRecord represents a tracked scammer profile
type ProfileRecord struct {
	ID          int64     `db:"id" json:"id"`
	GuildID     string    `db:"guild_id" json:"guild_id"`
	MemberID    string    `db:"member_id" json:"member_id"`
	Username    string    `db:"username" json:"username"`
	Nickname    string    `db:"nickname" json:"nickname,omitempty"`
	AvatarURL   string    `db:"avatar_url" json:"avatar_url,omitempty"`
	RiskLevel   float64   `db:"risk_level" json:"risk_level"`
	FactorsJSON string    `db:"factors" json:"-"`
	Factors     []string  `db:"-" json:"factors"`
	Detections  int       `db:"detections" json:"detections"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// all profiles queries
const (
	CmdCreateProfilesTable engine.DBCmd = iota + 200
	CmdCreateProfilesIndexes
	CmdUpsertProfile
	CmdSelectProfile
	CmdSelectProfiles
	CmdDeleteProfile
)

var profilesQueries = engine.NewQueryMap().
	Add(CmdCreateProfilesTable, engine.Query{
		engine.Sqlite: `CREATE TABLE IF NOT EXISTS profiles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id TEXT NOT NULL,
			member_id TEXT NOT NULL,
			username TEXT DEFAULT '',
			nickname TEXT DEFAULT '',
			avatar_url TEXT DEFAULT '',
			risk_level REAL NOT NULL,
			factors TEXT DEFAULT '[]',
			detections INTEGER DEFAULT 1,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(guild_id, member_id)
		)`,
		engine.Postgres: `CREATE TABLE IF NOT EXISTS profiles (
			id SERIAL PRIMARY KEY,
			guild_id TEXT NOT NULL,
			member_id TEXT NOT NULL,
			username TEXT DEFAULT '',
			nickname TEXT DEFAULT '',
			avatar_url TEXT DEFAULT '',
			risk_level DOUBLE PRECISION NOT NULL,
			factors TEXT DEFAULT '[]',
			detections INTEGER DEFAULT 1,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(guild_id, member_id)
		)`,
	}).
	AddSame(CmdCreateProfilesIndexes, `CREATE INDEX IF NOT EXISTS idx_profiles_guild ON profiles(guild_id);
		CREATE INDEX IF NOT EXISTS idx_profiles_risk ON profiles(guild_id, risk_level)`).
	AddSame(CmdUpsertProfile, `INSERT INTO profiles (guild_id, member_id, username, nickname, avatar_url, risk_level, factors, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (guild_id, member_id) DO UPDATE
		SET username = excluded.username, nickname = excluded.nickname, avatar_url = excluded.avatar_url,
			risk_level = excluded.risk_level, factors = excluded.factors,
			detections = profiles.detections + 1, updated_at = excluded.updated_at`).
	AddSame(CmdSelectProfile, `SELECT id, guild_id, member_id, username, nickname, avatar_url, risk_level, factors, detections, updated_at
		FROM profiles WHERE guild_id = ? AND member_id = ?`).
	AddSame(CmdSelectProfiles, `SELECT id, guild_id, member_id, username, nickname, avatar_url, risk_level, factors, detections, updated_at
		FROM profiles WHERE guild_id = ? ORDER BY risk_level DESC, updated_at DESC LIMIT ?`).
	AddSame(CmdDeleteProfile, `DELETE FROM profiles WHERE guild_id = ? AND member_id = ?`)

// NewProfiles creates profiles storage and initializes the table
func NewProfiles(ctx context.Context, db *engine.SQL) (*Profiles, error) {
	if db == nil {
		return nil, fmt.Errorf("db connection is nil")
	}
	cfg := engine.TableConfig{
		Name:          "profiles",
		CreateTable:   CmdCreateProfilesTable,
		CreateIndexes: CmdCreateProfilesIndexes,
		QueriesMap:    profilesQueries,
	}
	if err := engine.InitTable(ctx, db, cfg); err != nil {
		return nil, fmt.Errorf("failed to init profiles table: %w", err)
	}
	return &Profiles{SQL: db, RWLocker: db.MakeLock()}, nil
}

// Upsert inserts a new profile or updates the existing one, bumping the detections counter
func (p *Profiles) Upsert(ctx context.Context, rec ProfileRecord) error {
	factors, err := json.Marshal(rec.Factors)
	if err != nil {
		return fmt.Errorf("failed to marshal factors: %w", err)
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}

	p.Lock()
	defer p.Unlock()

	query, err := profilesQueries.Pick(p.Type(), CmdUpsertProfile)
	if err != nil {
		return fmt.Errorf("failed to get upsert query: %w", err)
	}
	if _, err := p.ExecContext(ctx, p.Adopt(query), rec.GuildID, rec.MemberID, rec.Username, rec.Nickname,
		rec.AvatarURL, rec.RiskLevel, string(factors), rec.UpdatedAt); err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

// Get returns the profile for a guild member, ErrNotFound if not tracked
func (p *Profiles) Get(ctx context.Context, guildID, memberID string) (ProfileRecord, error) {
	p.RLock()
	defer p.RUnlock()

	query, err := profilesQueries.Pick(p.Type(), CmdSelectProfile)
	if err != nil {
		return ProfileRecord{}, fmt.Errorf("failed to get select query: %w", err)
	}

	var rec ProfileRecord
	if err := p.GetContext(ctx, &rec, p.Adopt(query), guildID, memberID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ProfileRecord{}, ErrNotFound
		}
		return ProfileRecord{}, fmt.Errorf("failed to get profile: %w", err)
	}
	if err := json.Unmarshal([]byte(rec.FactorsJSON), &rec.Factors); err != nil {
		return ProfileRecord{}, fmt.Errorf("failed to unmarshal factors: %w", err)
	}
	return rec, nil
}

// List returns tracked profiles for a guild, riskiest first
func (p *Profiles) List(ctx context.Context, guildID string, limit int) ([]ProfileRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	p.RLock()
	defer p.RUnlock()

	query, err := profilesQueries.Pick(p.Type(), CmdSelectProfiles)
	if err != nil {
		return nil, fmt.Errorf("failed to get select query: %w", err)
	}

	var recs []ProfileRecord
	if err := p.SelectContext(ctx, &recs, p.Adopt(query), guildID, limit); err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	for i := range recs {
		if err := json.Unmarshal([]byte(recs[i].FactorsJSON), &recs[i].Factors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal factors for profile %d: %w", recs[i].ID, err)
		}
	}
	return recs, nil
}

// Delete removes a tracked profile, i.e. after a successful appeal
func (p *Profiles) Delete(ctx context.Context, guildID, memberID string) error {
	p.Lock()
	defer p.Unlock()

	query, err := profilesQueries.Pick(p.Type(), CmdDeleteProfile)
	if err != nil {
		return fmt.Errorf("failed to get delete query: %w", err)
	}
	res, err := p.ExecContext(ctx, p.Adopt(query), guildID, memberID)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
