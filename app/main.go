package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-pkgz/fileutils"
	"github.com/go-pkgz/lgr"
	flags "github.com/jessevdk/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/HoboStank/discord-scammer-defense/app/bot"
	"github.com/HoboStank/discord-scammer-defense/app/config"
	"github.com/HoboStank/discord-scammer-defense/app/events"
	"github.com/HoboStank/discord-scammer-defense/app/internal/avatar"
	"github.com/HoboStank/discord-scammer-defense/app/storage"
	"github.com/HoboStank/discord-scammer-defense/app/storage/engine"
	"github.com/HoboStank/discord-scammer-defense/app/webapi"
	"github.com/HoboStank/discord-scammer-defense/lib/detect"
)

type options struct {
	Relay struct {
		URL     string        `long:"url" env:"URL" description:"discord relay base url" required:"true"`
		Token   string        `long:"token" env:"TOKEN" description:"relay auth token" required:"true"`
		Timeout time.Duration `long:"timeout" env:"TIMEOUT" default:"10s" description:"http client timeout for relay calls"`
	} `group:"relay" namespace:"relay" env-namespace:"RELAY"`

	Server struct {
		ListenAddr string `long:"listen" env:"LISTEN" default:":8080" description:"listen address"`
		AuthPasswd string `long:"auth" env:"AUTH" description:"basic auth password for the dashboard api, disabled if empty"`
	} `group:"server" namespace:"server" env-namespace:"SERVER"`

	DB struct {
		Sqlite   string `long:"sqlite" env:"SQLITE" default:"dsd.db" description:"sqlite file"`
		Postgres string `long:"postgres" env:"POSTGRES" description:"postgres connection url, sqlite is used if empty"`
	} `group:"db" namespace:"db" env-namespace:"DB"`

	Files struct {
		PatternsFile string `long:"patterns" env:"PATTERNS" default:"data/scam-patterns.txt" description:"scam patterns file, one phrase per line"`
	} `group:"files" namespace:"files" env-namespace:"FILES"`

	Avatar struct {
		Timeout time.Duration `long:"timeout" env:"TIMEOUT" default:"5s" description:"avatar download timeout"`
		Retries int           `long:"retries" env:"RETRIES" default:"3" description:"avatar download retries"`
	} `group:"avatar" namespace:"avatar" env-namespace:"AVATAR"`

	Logger struct {
		Enabled    bool   `long:"enabled" env:"ENABLED" description:"enable rotated detection reports log"`
		FileName   string `long:"file" env:"FILE" default:"dsd-detections.log" description:"location of detection reports log"`
		MaxSize    string `long:"max-size" env:"MAX_SIZE" default:"100M" description:"maximum size before it gets rotated"`
		MaxBackups int    `long:"max-backups" env:"MAX_BACKUPS" default:"10" description:"maximum number of old log files to retain"`
	} `group:"logger" namespace:"logger" env-namespace:"LOGGER"`

	MaxRiskScale   float64       `long:"max-risk-scale" env:"MAX_RISK_SCALE" default:"10" description:"risk level mapped to score 1.0"`
	PolicyCacheTTL time.Duration `long:"policy-cache-ttl" env:"POLICY_CACHE_TTL" default:"5m" description:"per-guild policy cache ttl"`

	Training bool `long:"training" env:"TRAINING" description:"training mode, passive detection only"`
	Dry      bool `long:"dry" env:"DRY" description:"dry mode, no enforcement"`
	Dbg      bool `long:"dbg" env:"DEBUG" description:"debug mode"`
}

var revision = "local"

func main() {
	fmt.Printf("discord-scammer-defense %s\n", revision)
	var opts options
	p := flags.NewParser(&opts, flags.PrintErrors|flags.PassDoubleDash|flags.HelpFlag)
	p.SubcommandsOptional = true
	if _, err := p.Parse(); err != nil {
		if err.(*flags.Error).Type != flags.ErrHelp {
			log.Printf("[ERROR] cli error: %v", err)
		}
		os.Exit(2)
	}

	setupLog(opts.Dbg, opts.Relay.Token, opts.Server.AuthPasswd)
	log.Printf("[DEBUG] options: %+v", opts)

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		// catch signal and invoke graceful termination
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		log.Printf("[WARN] interrupt signal")
		cancel()
	}()

	if err := execute(ctx, opts); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}

func execute(ctx context.Context, opts options) error {
	if opts.Dry {
		log.Print("[WARN] dry mode, no actual enforcement")
	}

	db, err := makeDB(ctx, opts)
	if err != nil {
		return fmt.Errorf("can't make db engine, %w", err)
	}
	defer db.Close()

	detections, err := storage.NewDetections(ctx, db)
	if err != nil {
		return fmt.Errorf("can't make detections store, %w", err)
	}
	profiles, err := storage.NewProfiles(ctx, db)
	if err != nil {
		return fmt.Errorf("can't make profiles store, %w", err)
	}
	modLog, err := storage.NewModLog(ctx, db)
	if err != nil {
		return fmt.Errorf("can't make mod log store, %w", err)
	}
	appeals, err := storage.NewAppeals(ctx, db)
	if err != nil {
		return fmt.Errorf("can't make appeals store, %w", err)
	}
	policyStore, err := config.NewStore(ctx, db)
	if err != nil {
		return fmt.Errorf("can't make policy store, %w", err)
	}
	policies := config.NewCachedStore(policyStore, opts.PolicyCacheTTL, 1000)

	scanner, err := makeScanner(ctx, opts)
	if err != nil {
		return fmt.Errorf("can't make scanner, %w", err)
	}

	gateway := events.NewWebhookGateway(opts.Relay.URL, opts.Relay.Token, nil)

	reportsWr, err := makeReportLogWriter(opts)
	if err != nil {
		return fmt.Errorf("can't make detection report writer, %w", err)
	}
	defer reportsWr.Close()

	listener := events.Listener{
		Gateway:      gateway,
		Scanner:      scanner,
		Policies:     policies,
		Detections:   detections,
		Profiles:     profiles,
		ModLog:       modLog,
		Reports:      makeReportLogger(reportsWr),
		TrainingMode: opts.Training,
		Dry:          opts.Dry,
	}

	srv := webapi.NewServer(webapi.Config{
		Version:        revision,
		ListenAddr:     opts.Server.ListenAddr,
		Scanner:        scanner,
		Policies:       policies,
		Detections:     detections,
		Profiles:       profiles,
		ModLog:         modLog,
		Appeals:        appeals,
		Gateway:        gateway,
		WebhookHandler: gateway.Handler(),
		AuthPasswd:     opts.Server.AuthPasswd,
	})
	go func() {
		if err := srv.Run(ctx); err != nil {
			log.Printf("[ERROR] webapi server failed, %v", err)
		}
	}()

	// run member events processing loop
	if err := listener.Do(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("events listener failed, %w", err)
	}
	return nil
}

func makeDB(ctx context.Context, opts options) (*engine.SQL, error) {
	if opts.DB.Postgres != "" {
		log.Printf("[INFO] using postgres db")
		return engine.NewPostgres(ctx, opts.DB.Postgres)
	}
	log.Printf("[INFO] using sqlite db %s", opts.DB.Sqlite)
	return engine.NewSqlite(opts.DB.Sqlite)
}

func makeScanner(ctx context.Context, opts options) (*bot.Scanner, error) {
	detector := detect.NewDetector(detect.Config{})

	scanner := bot.NewScanner(detector, bot.Params{
		Avatars:      avatar.NewFetcher(nil, opts.Avatar.Timeout, opts.Avatar.Retries),
		MaxRiskScale: opts.MaxRiskScale,
	})

	if opts.Files.PatternsFile != "" && fileutils.IsFile(opts.Files.PatternsFile) {
		fh, err := os.Open(opts.Files.PatternsFile) // nolint gosec // path from the operator
		if err != nil {
			return nil, fmt.Errorf("can't open patterns file %s, %w", opts.Files.PatternsFile, err)
		}
		count, err := detector.LoadPatterns(fh)
		_ = fh.Close()
		if err != nil {
			return nil, fmt.Errorf("can't load patterns from %s, %w", opts.Files.PatternsFile, err)
		}
		log.Printf("[DEBUG] patterns file: %s, loaded: %d", opts.Files.PatternsFile, count)

		go func() {
			if err := scanner.WatchPatterns(ctx, opts.Files.PatternsFile); err != nil {
				log.Printf("[WARN] patterns watcher terminated, %v", err)
			}
		}()
	} else if opts.Files.PatternsFile != "" {
		log.Printf("[WARN] patterns file %s not found, using built-in patterns", opts.Files.PatternsFile)
	}

	return scanner, nil
}

// makeReportLogger creates a logger to keep records of detection reports,
// it writes json lines to the provided writer
func makeReportLogger(wr io.Writer) events.ReportLogger {
	return events.ReportLoggerFunc(func(report bot.Report) {
		m := struct {
			TimeStamp string   `json:"ts"`
			GuildID   string   `json:"guild_id"`
			MemberID  string   `json:"member_id"`
			Username  string   `json:"username"`
			MatchedID string   `json:"matched_id"`
			Score     float64  `json:"score"`
			Action    string   `json:"action"`
			Factors   []string `json:"factors"`
		}{
			TimeStamp: time.Now().In(time.Local).Format(time.RFC3339),
			GuildID:   report.Member.GuildID,
			MemberID:  report.Member.MemberID,
			Username:  report.Member.Username,
			MatchedID: report.MatchedID,
			Score:     report.Score,
			Action:    report.Action.String(),
			Factors:   report.Assessment.Factors,
		}
		line, err := json.Marshal(&m)
		if err != nil {
			log.Printf("[WARN] can't marshal json, %v", err)
			return
		}
		if _, err := wr.Write(append(line, '\n')); err != nil {
			log.Printf("[WARN] can't write to log, %v", err)
		}
	})
}

// makeReportLogWriter creates a writer for detection reports,
// it parses options and makes lumberjack logger with rotation
func makeReportLogWriter(opts options) (accessLog io.WriteCloser, err error) {
	if !opts.Logger.Enabled {
		return nopWriteCloser{io.Discard}, nil
	}

	sizeParse := func(inp string) (uint64, error) {
		if inp == "" {
			return 0, errors.New("empty value")
		}
		for i, sfx := range []string{"k", "m", "g", "t"} {
			if strings.HasSuffix(inp, strings.ToUpper(sfx)) || strings.HasSuffix(inp, strings.ToLower(sfx)) {
				val, err := strconv.Atoi(inp[:len(inp)-1])
				if err != nil {
					return 0, fmt.Errorf("can't parse %s: %w", inp, err)
				}
				return uint64(float64(val) * math.Pow(float64(1024), float64(i+1))), nil
			}
		}
		return strconv.ParseUint(inp, 10, 64)
	}

	maxSize, perr := sizeParse(opts.Logger.MaxSize)
	if perr != nil {
		return nil, fmt.Errorf("can't parse logger MaxSize: %w", perr)
	}

	maxSize /= 1048576

	log.Printf("[INFO] detection report logger enabled for %s, max size %dM", opts.Logger.FileName, maxSize)
	return &lumberjack.Logger{
		Filename:   opts.Logger.FileName,
		MaxSize:    int(maxSize), // in MB
		MaxBackups: opts.Logger.MaxBackups,
		Compress:   true,
		LocalTime:  true,
	}, nil
}

type nopWriteCloser struct{ io.Writer }

func (n nopWriteCloser) Close() error { return nil }

func setupLog(dbg bool, secrets ...string) {
	logOpts := []lgr.Option{lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.CallerFile, lgr.CallerFunc, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))

	nonEmpty := []string{}
	for _, s := range secrets {
		if s != "" {
			nonEmpty = append(nonEmpty, s)
		}
	}
	if len(nonEmpty) > 0 {
		logOpts = append(logOpts, lgr.Secret(nonEmpty...))
	}
	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
