package events

import (
	"context"
	"fmt"

	"github.com/go-pkgz/lgr"
	"github.com/hashicorp/go-multierror"

	"github.com/HoboStank/discord-scammer-defense/app/bot"
	"github.com/HoboStank/discord-scammer-defense/app/storage"
	"github.com/HoboStank/discord-scammer-defense/lib/detect"
)

// Scanner checks a member against protected profiles
type Scanner interface {
	Scan(ctx context.Context, member bot.Profile, protected []bot.Profile, policy detect.ServerPolicy) (bot.Report, error)
}

// PolicyLoader returns the moderation policy for a guild
type PolicyLoader interface {
	Load(ctx context.Context, guildID string) (detect.ServerPolicy, error)
}

// DetectionsStore records detection events
type DetectionsStore interface {
	Write(ctx context.Context, rec storage.DetectionRecord) error
}

// ProfilesStore tracks scammer profiles
type ProfilesStore interface {
	Upsert(ctx context.Context, rec storage.ProfileRecord) error
}

// ModLogStore records moderation actions
type ModLogStore interface {
	Add(ctx context.Context, rec storage.ModLogRecord) error
}

// ReportLogger keeps a permanent record of detection reports
type ReportLogger interface {
	Save(report bot.Report)
}

// ReportLoggerFunc is a function adapter for ReportLogger
type ReportLoggerFunc func(report bot.Report)

// Save calls f(report)
func (f ReportLoggerFunc) Save(report bot.Report) { f(report) }

// Listener processes member events from the gateway, blocked call.
// Not thread safe.
type Listener struct {
	Gateway    Gateway
	Scanner    Scanner
	Policies   PolicyLoader
	Detections DetectionsStore
	Profiles   ProfilesStore
	ModLog     ModLogStore
	Reports    ReportLogger // optional, keeps detection reports in a rotated log

	TrainingMode bool // detect and record but never enforce
	Dry          bool // like training but also marks alerts as dry
}

// Do processes all events until the context is canceled or the gateway closes
func (l *Listener) Do(ctx context.Context) error {
	lgr.Printf("[INFO] start member events listener")
	if l.TrainingMode {
		lgr.Printf("[WARN] training mode, no enforcement")
	}
	if l.Dry {
		lgr.Printf("[WARN] dry mode, no enforcement")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-l.Gateway.Events():
			if !ok {
				return fmt.Errorf("gateway events chan closed")
			}
			if err := l.procEvent(ctx, event); err != nil {
				lgr.Printf("[WARN] failed to process %s for %s: %v", event.Type, event.Member.DisplayName(), err)
			}
		}
	}
}

// procEvent scans a single member event and handles the verdict
func (l *Listener) procEvent(ctx context.Context, event MemberEvent) error {
	policy, err := l.Policies.Load(ctx, event.Member.GuildID)
	if err != nil {
		return fmt.Errorf("failed to load policy for guild %s: %w", event.Member.GuildID, err)
	}

	report, err := l.Scanner.Scan(ctx, event.Member, event.Protected, policy)
	if err != nil {
		return fmt.Errorf("failed to scan member: %w", err)
	}

	if !report.Assessment.Suspicious() || report.Score < policy.MinDetectionScore {
		lgr.Printf("[DEBUG] %s clean: %s", event.Member.DisplayName(), report.String())
		return nil
	}

	lgr.Printf("[INFO] suspicious %s: %s", event.Type, report.String())
	if l.Reports != nil {
		l.Reports.Save(report)
	}

	errs := new(multierror.Error)
	errs = multierror.Append(errs, l.record(ctx, report))
	errs = multierror.Append(errs, l.enforce(ctx, report))
	return errs.ErrorOrNil()
}

// record persists the detection and the scammer profile
func (l *Listener) record(ctx context.Context, report bot.Report) error {
	errs := new(multierror.Error)

	err := l.Detections.Write(ctx, storage.DetectionRecord{
		GuildID:  report.Member.GuildID,
		MemberID: report.Member.MemberID,
		Username: report.Member.Username,
		Score:    report.Score,
		Factors:  report.Assessment.Factors,
		Action:   l.effectiveAction(report).String(),
	})
	if err != nil {
		errs = multierror.Append(errs, fmt.Errorf("failed to record detection: %w", err))
	}

	err = l.Profiles.Upsert(ctx, storage.ProfileRecord{
		GuildID:   report.Member.GuildID,
		MemberID:  report.Member.MemberID,
		Username:  report.Member.Username,
		Nickname:  report.Member.Nickname,
		AvatarURL: report.Member.AvatarURL,
		RiskLevel: report.Assessment.RiskLevel,
		Factors:   report.Assessment.Factors,
	})
	if err != nil {
		errs = multierror.Append(errs, fmt.Errorf("failed to track profile: %w", err))
	}

	return errs.ErrorOrNil()
}

// enforce applies the action through the gateway and logs it, skipped in training and dry modes
func (l *Listener) enforce(ctx context.Context, report bot.Report) error {
	guildID, memberID := report.Member.GuildID, report.Member.MemberID
	reason := fmt.Sprintf("impersonation risk %.2f: %s", report.Score, report.Assessment.String())

	alert := fmt.Sprintf("suspicious member %s (%s), matched protected member %s, score %.2f, action %q",
		report.Member.DisplayName(), memberID, report.MatchedID, report.Score, l.effectiveAction(report))
	if l.Dry {
		alert = "[dry] " + alert
	}
	if err := l.Gateway.SendAlert(ctx, guildID, alert); err != nil {
		lgr.Printf("[WARN] failed to send alert for guild %s: %v", guildID, err)
	}

	if l.TrainingMode || l.Dry || report.Action == detect.ActionNone {
		return nil
	}

	var err error
	switch report.Action {
	case detect.ActionWarn:
		err = l.Gateway.Warn(ctx, guildID, memberID, reason)
	case detect.ActionKick:
		err = l.Gateway.Kick(ctx, guildID, memberID, reason)
	case detect.ActionBan:
		err = l.Gateway.Ban(ctx, guildID, memberID, reason)
	default:
		return fmt.Errorf("unknown action %q", report.Action)
	}
	if err != nil {
		return fmt.Errorf("failed to %s member %s: %w", report.Action, memberID, err)
	}

	if err := l.ModLog.Add(ctx, storage.ModLogRecord{
		GuildID:  guildID,
		TargetID: memberID,
		Action:   report.Action.String(),
		Reason:   reason,
	}); err != nil {
		return fmt.Errorf("failed to log moderation action: %w", err)
	}
	return nil
}

// effectiveAction is what actually happens to the member, none in training and dry modes
func (l *Listener) effectiveAction(report bot.Report) detect.Action {
	if l.TrainingMode || l.Dry {
		return detect.ActionNone
	}
	return report.Action
}
