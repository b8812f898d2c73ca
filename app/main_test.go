package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/HoboStank/discord-scammer-defense/app/bot"
	"github.com/HoboStank/discord-scammer-defense/lib/detect"
	"github.com/HoboStank/discord-scammer-defense/lib/identity"
)

func TestMakeReportLogWriter(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		opts := options{}
		opts.Logger.Enabled = false
		wr, err := makeReportLogWriter(opts)
		require.NoError(t, err)
		assert.IsType(t, nopWriteCloser{}, wr)
		_, err = wr.Write([]byte("something"))
		assert.NoError(t, err)
		assert.NoError(t, wr.Close())
	})

	t.Run("enabled", func(t *testing.T) {
		opts := options{}
		opts.Logger.Enabled = true
		opts.Logger.FileName = filepath.Join(t.TempDir(), "detections.log")
		opts.Logger.MaxSize = "1M"
		opts.Logger.MaxBackups = 5
		wr, err := makeReportLogWriter(opts)
		require.NoError(t, err)
		jl, ok := wr.(*lumberjack.Logger)
		require.True(t, ok)
		assert.Equal(t, opts.Logger.FileName, jl.Filename)
		assert.Equal(t, 1, jl.MaxSize)
		assert.Equal(t, 5, jl.MaxBackups)
		assert.NoError(t, wr.Close())
	})

	t.Run("sizes", func(t *testing.T) {
		tbl := []struct {
			size    string
			max     int
			failure bool
		}{
			{"1000000", 0, false},
			{"10M", 10, false},
			{"10m", 10, false},
			{"1G", 1024, false},
			{"123aa", 0, true},
			{"", 0, true},
		}
		for _, tt := range tbl {
			t.Run(tt.size, func(t *testing.T) {
				opts := options{}
				opts.Logger.Enabled = true
				opts.Logger.FileName = filepath.Join(t.TempDir(), "detections.log")
				opts.Logger.MaxSize = tt.size
				wr, err := makeReportLogWriter(opts)
				if tt.failure {
					assert.Error(t, err)
					return
				}
				require.NoError(t, err)
				assert.Equal(t, tt.max, wr.(*lumberjack.Logger).MaxSize)
			})
		}
	})
}

func TestMakeReportLogger(t *testing.T) {
	buf := bytes.Buffer{}
	logger := makeReportLogger(&buf)

	logger.Save(bot.Report{
		Member:    bot.Profile{GuildID: "g1", MemberID: "m1", Username: "scammer"},
		MatchedID: "mod1",
		Score:     0.9,
		Action:    detect.ActionKick,
		Assessment: identity.RiskAssessment{
			RiskLevel: 9,
			Factors:   []string{"username similar to admin (1.00)"},
		},
	})

	var rec struct {
		TS       string   `json:"ts"`
		GuildID  string   `json:"guild_id"`
		MemberID string   `json:"member_id"`
		Username string   `json:"username"`
		Matched  string   `json:"matched_id"`
		Score    float64  `json:"score"`
		Action   string   `json:"action"`
		Factors  []string `json:"factors"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "g1", rec.GuildID)
	assert.Equal(t, "m1", rec.MemberID)
	assert.Equal(t, "mod1", rec.Matched)
	assert.Equal(t, "kick", rec.Action)
	assert.InDelta(t, 0.9, rec.Score, 0.001)
	require.Len(t, rec.Factors, 1)
	assert.NotEmpty(t, rec.TS)
}

func TestMakeDB(t *testing.T) {
	opts := options{}
	opts.DB.Sqlite = filepath.Join(t.TempDir(), "test.db")
	db, err := makeDB(context.Background(), opts)
	require.NoError(t, err)
	defer db.Close()
	assert.NoError(t, db.Ping())
}

func TestMakeScanner(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	t.Run("with patterns file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "patterns.txt")
		require.NoError(t, os.WriteFile(file, []byte("crypto pump\nverify your wallet\n"), 0o600))

		opts := options{MaxRiskScale: 10}
		opts.Files.PatternsFile = file
		opts.Avatar.Timeout = time.Second
		opts.Avatar.Retries = 1

		scanner, err := makeScanner(ctx, opts)
		require.NoError(t, err)
		assert.NotNil(t, scanner)
	})

	t.Run("missing patterns file falls back to defaults", func(t *testing.T) {
		opts := options{MaxRiskScale: 10}
		opts.Files.PatternsFile = filepath.Join(t.TempDir(), "no-such-file.txt")

		scanner, err := makeScanner(ctx, opts)
		require.NoError(t, err)
		assert.NotNil(t, scanner)
	})
}

func TestExecute_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(300 * time.Millisecond)
		cancel()
	}()

	opts := options{MaxRiskScale: 10, PolicyCacheTTL: time.Minute}
	opts.Relay.URL = "http://127.0.0.1:12345"
	opts.Relay.Token = "test-token"
	opts.Server.ListenAddr = "127.0.0.1:0"
	opts.DB.Sqlite = filepath.Join(t.TempDir(), "test.db")

	err := execute(ctx, opts)
	assert.NoError(t, err, "cancel should stop cleanly")
}
