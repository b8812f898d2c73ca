// Package bot provides the scanning glue between gateway events and the detection engine.
// It builds identity snapshots from member profiles, fetches avatars, runs the detector
// against every protected profile and maps the risk to a moderation action.
package bot

import (
	"context"
	"fmt"
	"image"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-pkgz/lgr"

	"github.com/HoboStank/discord-scammer-defense/lib/detect"
	"github.com/HoboStank/discord-scammer-defense/lib/identity"
)

// Profile is a snapshot of a guild member as seen by the gateway
type Profile struct {
	GuildID   string    `json:"guild_id"`
	MemberID  string    `json:"member_id"`
	Username  string    `json:"username"`
	Nickname  string    `json:"nickname,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	Bio       string    `json:"bio,omitempty"`
	Status    string    `json:"status,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Roles     []string  `json:"roles,omitempty"`
}

// DisplayName returns the member's nickname, username or id, whichever is set first
func (p Profile) DisplayName() string {
	if p.Nickname != "" {
		return strings.TrimSpace(p.Nickname)
	}
	if p.Username != "" {
		return strings.TrimSpace(p.Username)
	}
	return p.MemberID
}

// Report is the outcome of scanning a member against the protected profiles
type Report struct {
	Member     Profile                 `json:"member"`
	MatchedID  string                  `json:"matched_id,omitempty"` // protected member the best assessment was against
	Assessment identity.RiskAssessment `json:"assessment"`
	Score      float64                 `json:"score"` // normalized to [0, 1]
	Action     detect.Action           `json:"action"`
}

// String returns a log-friendly report summary
func (r Report) String() string {
	return fmt.Sprintf("member:%s score:%.2f action:%q %s", r.Member.DisplayName(), r.Score, r.Action, r.Assessment.String())
}

// AvatarFetcher fetches and decodes an avatar image by url
type AvatarFetcher interface {
	Fetch(ctx context.Context, url string) (image.Image, error)
}

// Scanner checks member profiles against protected profiles using the detection engine
type Scanner struct {
	Params
	detector *detect.Detector

	scanned atomic.Int64
	flagged atomic.Int64
}

// Params defines scanner parameters
type Params struct {
	Avatars      AvatarFetcher // nil disables avatar comparison
	MaxRiskScale float64       // risk level mapping to score 1.0, default 10
}

// NewScanner creates a scanner with the given detector
func NewScanner(detector *detect.Detector, params Params) *Scanner {
	if params.MaxRiskScale <= 0 {
		params.MaxRiskScale = 10
	}
	return &Scanner{Params: params, detector: detector}
}

// Scan assesses a member against each protected profile and returns the report for the riskiest
// match, with the action the policy dictates. Disabled policy checks strip the corresponding
// signals before assessment.
func (s *Scanner) Scan(ctx context.Context, member Profile, protected []Profile, policy detect.ServerPolicy) (Report, error) {
	report := Report{Member: member, Action: detect.ActionNone}
	s.scanned.Add(1)

	if policy.IsImmune(member.Roles) {
		lgr.Printf("[DEBUG] member %s has immune role, skipping scan", member.DisplayName())
		return report, nil
	}

	memberIdent := s.makeIdentity(ctx, member, policy)

	for _, prot := range protected {
		if prot.MemberID == member.MemberID {
			continue
		}
		res := s.detector.Assess(memberIdent, s.makeIdentity(ctx, prot, policy))
		if res.RiskLevel > report.Assessment.RiskLevel || report.MatchedID == "" {
			report.Assessment = res
			report.MatchedID = prot.MemberID
		}
	}

	report.Score = report.Assessment.RiskLevel / s.MaxRiskScale
	if report.Score > 1 {
		report.Score = 1
	}

	if report.Score >= policy.MinDetectionScore {
		s.flagged.Add(1)
		report.Action = policy.Decide(report.Score)
		if report.Action != detect.ActionNone && policy.IsTrusted(member.Roles) {
			lgr.Printf("[INFO] member %s has trusted role, downgrading %s to warn", member.DisplayName(), report.Action)
			report.Action = detect.ActionWarn
		}
	}

	return report, nil
}

// Stats returns the number of members scanned and flagged since start
func (s *Scanner) Stats() (scanned, flagged int64) {
	return s.scanned.Load(), s.flagged.Load()
}

// UpdatePatterns replaces the detector's scam pattern list
func (s *Scanner) UpdatePatterns(patterns []string) {
	s.detector.UpdatePatterns(patterns)
}

// makeIdentity converts a gateway profile to a detector identity, honoring the policy's
// enabled checks. Avatar fetch failures degrade to no avatar rather than failing the scan.
func (s *Scanner) makeIdentity(ctx context.Context, p Profile, policy detect.ServerPolicy) identity.Identity {
	ident := identity.Identity{
		ID:        p.MemberID,
		CreatedAt: p.CreatedAt,
		Roles:     p.Roles,
	}

	if policy.CheckEnabled(detect.CheckUsername) {
		ident.Name = p.Username
		ident.Nick = p.Nickname
	}

	if policy.CheckEnabled(detect.CheckProfile) {
		for _, frag := range []string{p.Bio, p.Status, strings.Join(p.Roles, " ")} {
			if strings.TrimSpace(frag) != "" {
				ident.Fragments = append(ident.Fragments, frag)
			}
		}
	}

	if policy.CheckEnabled(detect.CheckAvatar) && s.Avatars != nil && p.AvatarURL != "" {
		img, err := s.Avatars.Fetch(ctx, p.AvatarURL)
		if err != nil {
			lgr.Printf("[WARN] failed to fetch avatar for %s: %v", p.DisplayName(), err)
		} else {
			ident.Avatar = img
		}
	}

	return ident
}
