package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfiles_UpsertGet(t *testing.T) {
	ctx := context.Background()
	p, err := NewProfiles(ctx, newTestDB(t))
	require.NoError(t, err)

	rec := ProfileRecord{
		GuildID:   "guild1",
		MemberID:  "member1",
		Username:  "аdmin",
		Nickname:  "Admin",
		AvatarURL: "https://cdn.example.com/avatars/member1.png",
		RiskLevel: 8,
		Factors:   []string{"username similar to admin (1.00)"},
	}
	require.NoError(t, p.Upsert(ctx, rec))

	got, err := p.Get(ctx, "guild1", "member1")
	require.NoError(t, err)
	assert.Equal(t, "аdmin", got.Username)
	assert.InDelta(t, 8, got.RiskLevel, 0.001)
	assert.Equal(t, 1, got.Detections)
	assert.Equal(t, rec.Factors, got.Factors)
}

func TestProfiles_UpsertBumpsDetections(t *testing.T) {
	ctx := context.Background()
	p, err := NewProfiles(ctx, newTestDB(t))
	require.NoError(t, err)

	rec := ProfileRecord{GuildID: "g1", MemberID: "m1", Username: "scam", RiskLevel: 5, Factors: []string{}}
	require.NoError(t, p.Upsert(ctx, rec))

	rec.Username = "scam2"
	rec.RiskLevel = 7
	require.NoError(t, p.Upsert(ctx, rec))

	got, err := p.Get(ctx, "g1", "m1")
	require.NoError(t, err)
	assert.Equal(t, "scam2", got.Username, "latest snapshot wins")
	assert.InDelta(t, 7, got.RiskLevel, 0.001)
	assert.Equal(t, 2, got.Detections, "repeat detection counted")
}

func TestProfiles_GetNotFound(t *testing.T) {
	ctx := context.Background()
	p, err := NewProfiles(ctx, newTestDB(t))
	require.NoError(t, err)

	_, err = p.Get(ctx, "g1", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProfiles_ListOrderedByRisk(t *testing.T) {
	ctx := context.Background()
	p, err := NewProfiles(ctx, newTestDB(t))
	require.NoError(t, err)

	require.NoError(t, p.Upsert(ctx, ProfileRecord{GuildID: "g1", MemberID: "low", RiskLevel: 2, Factors: []string{}}))
	require.NoError(t, p.Upsert(ctx, ProfileRecord{GuildID: "g1", MemberID: "high", RiskLevel: 9, Factors: []string{}}))
	require.NoError(t, p.Upsert(ctx, ProfileRecord{GuildID: "g2", MemberID: "other", RiskLevel: 5, Factors: []string{}}))

	recs, err := p.List(ctx, "g1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "high", recs[0].MemberID)
	assert.Equal(t, "low", recs[1].MemberID)
}

func TestProfiles_Delete(t *testing.T) {
	ctx := context.Background()
	p, err := NewProfiles(ctx, newTestDB(t))
	require.NoError(t, err)

	require.NoError(t, p.Upsert(ctx, ProfileRecord{GuildID: "g1", MemberID: "m1", RiskLevel: 5, Factors: []string{}}))
	require.NoError(t, p.Delete(ctx, "g1", "m1"))

	_, err = p.Get(ctx, "g1", "m1")
	assert.ErrorIs(t, err, ErrNotFound)

	err = p.Delete(ctx, "g1", "m1")
	assert.ErrorIs(t, err, ErrNotFound)
}
