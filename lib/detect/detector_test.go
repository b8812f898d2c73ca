package detect

import (
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HoboStank/discord-scammer-defense/lib/identity"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testDetector() *Detector {
	return NewDetector(Config{Clock: func() time.Time { return testNow }})
}

func owner() identity.Identity {
	return identity.Identity{
		ID:        "100",
		Name:      "ServerOwner",
		Fragments: []string{"official support", "admin team"},
		CreatedAt: testNow.Add(-365 * 24 * time.Hour),
	}
}

func TestDetector_AssessSelf(t *testing.T) {
	d := testDetector()
	ref := owner()

	// the reference identity never flags itself, even with maximal signals
	res := d.Assess(ref, ref)
	assert.Empty(t, res.Factors)
	assert.Zero(t, res.RiskLevel)
}

func TestDetector_AssessAccountAge(t *testing.T) {
	d := testDetector()

	tbl := []struct {
		name string
		age  time.Duration
		risk float64
	}{
		{"6 days old", 6 * 24 * time.Hour, 2},
		{"exactly 7 days", 7 * 24 * time.Hour, 1},
		{"29 days old", 29 * 24 * time.Hour, 1},
		{"exactly 30 days", 30 * 24 * time.Hour, 0},
		{"a year old", 365 * 24 * time.Hour, 0},
	}

	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			member := identity.Identity{ID: "200", Name: "zzz", CreatedAt: testNow.Add(-tt.age)}
			res := d.Assess(member, owner())
			assert.Equal(t, tt.risk, res.RiskLevel)
			if tt.risk > 0 {
				require.Len(t, res.Factors, 1)
				assert.Contains(t, res.Factors[0], "account created")
			} else {
				assert.Empty(t, res.Factors)
			}
		})
	}
}

func TestDetector_AssessUsername(t *testing.T) {
	d := testDetector()

	t.Run("similar primary name", func(t *testing.T) {
		member := identity.Identity{ID: "200", Name: "Server0wner", CreatedAt: testNow.Add(-100 * 24 * time.Hour)}
		res := d.Assess(member, owner())
		assert.Equal(t, float64(3), res.RiskLevel)
		require.Len(t, res.Factors, 1)
		assert.Contains(t, res.Factors[0], "username")
		assert.Contains(t, res.Factors[0], "%")
	})

	t.Run("similar nickname weighs less", func(t *testing.T) {
		member := identity.Identity{
			ID: "200", Name: "random_user", Nick: "ServerOwner",
			CreatedAt: testNow.Add(-100 * 24 * time.Hour),
		}
		res := d.Assess(member, owner())
		assert.Equal(t, float64(2), res.RiskLevel)
		require.Len(t, res.Factors, 1)
		assert.Contains(t, res.Factors[0], "nickname")
	})

	t.Run("both name and nickname", func(t *testing.T) {
		member := identity.Identity{
			ID: "200", Name: "ServerOwner", Nick: "Server0wner",
			CreatedAt: testNow.Add(-100 * 24 * time.Hour),
		}
		res := d.Assess(member, owner())
		assert.Equal(t, float64(5), res.RiskLevel)
		assert.Len(t, res.Factors, 2)
	})

	t.Run("unrelated name", func(t *testing.T) {
		member := identity.Identity{ID: "200", Name: "peaceful_gamer", CreatedAt: testNow.Add(-100 * 24 * time.Hour)}
		res := d.Assess(member, owner())
		assert.Zero(t, res.RiskLevel)
	})
}

func TestDetector_AssessAvatar(t *testing.T) {
	d := testDetector()
	red := color.RGBA{R: 220, G: 30, B: 30, A: 255}
	green := color.RGBA{R: 30, G: 200, B: 60, A: 255}
	blue := color.RGBA{R: 20, G: 40, B: 220, A: 255}

	t.Run("matching avatars add per sub-signal", func(t *testing.T) {
		ref := owner()
		ref.Avatar = bandImage(66, 66, red, green, blue)
		member := identity.Identity{
			ID: "200", Name: "zzz",
			Avatar:    bandImage(66, 66, red, green, blue),
			CreatedAt: testNow.Add(-100 * 24 * time.Hour),
		}
		res := d.Assess(member, ref)
		require.Len(t, res.Factors, 1)
		assert.Contains(t, res.Factors[0], "avatar")
		assert.Equal(t, float64(4), res.RiskLevel, "all four image sub-signals should fire")
	})

	t.Run("missing avatar skipped silently", func(t *testing.T) {
		ref := owner()
		ref.Avatar = bandImage(66, 66, red, green, blue)
		member := identity.Identity{ID: "200", Name: "zzz", CreatedAt: testNow.Add(-100 * 24 * time.Hour)}
		res := d.Assess(member, ref)
		assert.Empty(t, res.Factors)
		assert.Zero(t, res.RiskLevel)
	})
}

func TestDetector_AssessProfileText(t *testing.T) {
	d := testDetector()

	member := identity.Identity{
		ID: "200", Name: "zzz",
		Fragments: []string{"official support"},
		CreatedAt: testNow.Add(-100 * 24 * time.Hour),
	}
	res := d.Assess(member, owner())
	require.Len(t, res.Factors, 1)
	assert.Contains(t, res.Factors[0], "profile text")
	assert.Contains(t, res.Factors[0], "official support")
	assert.Equal(t, float64(2), res.RiskLevel)
}

func TestDetector_AssessPatterns(t *testing.T) {
	d := testDetector()

	member := identity.Identity{
		ID: "200", Name: "free nitro bot",
		Fragments: []string{"join my giveaway, claim your gift"},
		CreatedAt: testNow.Add(-100 * 24 * time.Hour),
	}
	res := d.Assess(member, owner())
	require.Len(t, res.Factors, 2)
	assert.Contains(t, res.Factors[0], "suspicious patterns in username")
	assert.Contains(t, res.Factors[0], "free nitro")
	assert.Contains(t, res.Factors[1], "suspicious patterns in profile text #1")
	// one pattern in the name, two in the fragment
	assert.Equal(t, float64(3), res.RiskLevel)
}

func TestDetector_AssessCombinationBonus(t *testing.T) {
	d := testDetector()

	// two factors: new account + similar username
	twoFactors := identity.Identity{
		ID: "200", Name: "Server0wner",
		CreatedAt: testNow.Add(-10 * 24 * time.Hour),
	}
	resTwo := d.Assess(twoFactors, owner())
	require.Len(t, resTwo.Factors, 2)
	assert.Equal(t, float64(1+3), resTwo.RiskLevel)

	// same case plus a matching profile fragment: third factor triggers the bonus
	threeFactors := twoFactors
	threeFactors.Fragments = []string{"official support"}
	resThree := d.Assess(threeFactors, owner())
	require.Len(t, resThree.Factors, 3)
	assert.Equal(t, resTwo.RiskLevel+2+2, resThree.RiskLevel, "third factor adds its own weight plus the flat bonus")
}

func TestDetector_AssessConcurrent(t *testing.T) {
	d := testDetector()
	ref := owner()

	done := make(chan struct{})
	for i := 0; i < 16; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			member := identity.Identity{ID: "200", Name: "Server0wner", CreatedAt: testNow.Add(-time.Hour)}
			res := d.Assess(member, ref)
			assert.NotEmpty(t, res.Factors)
		}()
	}
	for i := 0; i < 16; i++ {
		<-done
	}
}
