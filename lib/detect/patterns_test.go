package detect

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetector_FindPatterns(t *testing.T) {
	d := NewDetector(Config{})

	tbl := []struct {
		name string
		text string
		want []string
	}{
		{"free nitro giveaway", "Free nitro giveaway!", []string{"free nitro", "giveaway"}},
		{"clean text", "hello world", []string{}},
		{"single match", "click to claim your prize", []string{"claim your"}},
		{"case insensitive", "I am DISCORD STAFF", []string{"discord staff"}},
		{"empty text", "", []string{}},
		{"configured order kept", "giveaway of free nitro", []string{"free nitro", "giveaway"}},
	}

	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.FindPatterns(tt.text))
		})
	}
}

func TestDetector_UpdatePatterns(t *testing.T) {
	d := NewDetector(Config{Patterns: []string{"Custom Phrase", "  ", "another one"}})
	assert.Equal(t, []string{"custom phrase", "another one"}, d.Patterns())
	assert.Equal(t, []string{"custom phrase"}, d.FindPatterns("this has a cUsToM pHrAsE inside"))

	// empty update falls back to defaults
	d.UpdatePatterns(nil)
	assert.Equal(t, DefaultPatterns, d.Patterns())
}

func TestDetector_LoadPatterns(t *testing.T) {
	d := NewDetector(Config{})
	count, err := d.LoadPatterns(strings.NewReader("free robux\n\nverify your account\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, []string{"free robux", "verify your account"}, d.Patterns())
}

func TestCompareText(t *testing.T) {
	tbl := []struct {
		name   string
		t1, t2 string
		min    float64
		max    float64
	}{
		{"identical", "dm me for prizes", "dm me for prizes", 1.0, 1.0},
		{"case insensitive", "DM me", "dm me", 1.0, 1.0},
		{"close", "dm me for prizes", "dm me for prises", 0.9, 0.99},
		{"unrelated", "hello there", "completely other text", 0, 0.5},
		{"first empty", "", "something", 0, 0},
		{"second empty", "something", "", 0, 0},
	}
	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			score := CompareText(tt.t1, tt.t2)
			assert.GreaterOrEqual(t, score, tt.min)
			assert.LessOrEqual(t, score, tt.max)
		})
	}
}
