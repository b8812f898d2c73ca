package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HoboStank/discord-scammer-defense/app/storage/engine"
)

func newTestDB(t *testing.T) *engine.SQL {
	t.Helper()
	db, err := engine.NewSqlite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDetections(t *testing.T) {
	t.Run("creates table", func(t *testing.T) {
		db := newTestDB(t)
		_, err := NewDetections(context.Background(), db)
		require.NoError(t, err)

		var exists bool
		err = db.Get(&exists, "SELECT COUNT(*) > 0 FROM sqlite_master WHERE type='table' AND name='detections'")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("nil db", func(t *testing.T) {
		_, err := NewDetections(context.Background(), nil)
		assert.Error(t, err)
	})
}

func TestDetections_WriteRead(t *testing.T) {
	ctx := context.Background()
	d, err := NewDetections(ctx, newTestDB(t))
	require.NoError(t, err)

	rec := DetectionRecord{
		GuildID:  "guild1",
		MemberID: "member1",
		Username: "admin",
		Score:    7,
		Factors:  []string{"username similar to admin (1.00)", "account created 2 days ago"},
		Action:   "kick",
	}
	require.NoError(t, d.Write(ctx, rec))

	recs, err := d.Read(ctx, "guild1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "member1", recs[0].MemberID)
	assert.Equal(t, "admin", recs[0].Username)
	assert.InDelta(t, 7, recs[0].Score, 0.001)
	assert.Equal(t, rec.Factors, recs[0].Factors)
	assert.Equal(t, "kick", recs[0].Action)
	assert.False(t, recs[0].Timestamp.IsZero())
}

func TestDetections_ReadOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	d, err := NewDetections(ctx, newTestDB(t))
	require.NoError(t, err)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		rec := DetectionRecord{
			GuildID:   "guild1",
			MemberID:  "member1",
			Score:     float64(i),
			Factors:   []string{},
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, d.Write(ctx, rec))
	}

	recs, err := d.Read(ctx, "guild1", 3)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.InDelta(t, 4, recs[0].Score, 0.001, "newest first")
	assert.InDelta(t, 2, recs[2].Score, 0.001)
}

func TestDetections_GuildIsolation(t *testing.T) {
	ctx := context.Background()
	d, err := NewDetections(ctx, newTestDB(t))
	require.NoError(t, err)

	require.NoError(t, d.Write(ctx, DetectionRecord{GuildID: "guild1", MemberID: "m1", Score: 1, Factors: []string{}}))
	require.NoError(t, d.Write(ctx, DetectionRecord{GuildID: "guild2", MemberID: "m2", Score: 2, Factors: []string{}}))

	recs, err := d.Read(ctx, "guild1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "m1", recs[0].MemberID)

	count, err := d.Count(ctx, "guild2")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDetections_Get(t *testing.T) {
	ctx := context.Background()
	d, err := NewDetections(ctx, newTestDB(t))
	require.NoError(t, err)

	require.NoError(t, d.Write(ctx, DetectionRecord{GuildID: "g1", MemberID: "m1", Score: 3, Factors: []string{"name match"}}))
	recs, err := d.Read(ctx, "g1", 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	rec, err := d.Get(ctx, recs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "m1", rec.MemberID)
	assert.Equal(t, []string{"name match"}, rec.Factors)

	_, err = d.Get(ctx, 12345)
	assert.Error(t, err)
}

func TestDetections_CountSince(t *testing.T) {
	ctx := context.Background()
	d, err := NewDetections(ctx, newTestDB(t))
	require.NoError(t, err)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		rec := DetectionRecord{GuildID: "g1", MemberID: "m1", Factors: []string{},
			Timestamp: base.Add(time.Duration(i) * time.Hour)}
		require.NoError(t, d.Write(ctx, rec))
	}

	count, err := d.CountSince(ctx, "g1", base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
