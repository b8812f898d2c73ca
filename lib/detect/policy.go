package detect

import (
	"fmt"
	"slices"
)

// Action is a recommended moderation action.
type Action string

// moderation actions ordered by severity
const (
	ActionNone Action = ""
	ActionWarn Action = "warn"
	ActionKick Action = "kick"
	ActionBan  Action = "ban"
)

// detection checks a guild can enable
const (
	CheckUsername = "username"
	CheckAvatar   = "avatar"
	CheckProfile  = "profile"
)

var knownChecks = []string{CheckUsername, CheckAvatar, CheckProfile}

// String returns the action name
func (a Action) String() string { return string(a) }

// ValidationError indicates a policy that can't be saved, e.g. thresholds out
// of range or out of order. Raised at config-write time, never at scoring time.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid policy field %s: %s", e.Field, e.Reason)
}

// UnsupportedCheckError indicates an unknown check name in the enabled set.
type UnsupportedCheckError struct {
	Check string
}

func (e *UnsupportedCheckError) Error() string {
	return fmt.Sprintf("unsupported check %q", e.Check)
}

// Thresholds maps a normalized risk score to actions, each in [0, 1] and
// monotonically increasing warn <= kick <= ban.
type Thresholds struct {
	Warn float64 `json:"warn"`
	Kick float64 `json:"kick"`
	Ban  float64 `json:"ban"`
}

// ServerPolicy is the per-guild detection configuration. Created with
// defaults on first access, mutated by admin commands, persisted externally.
type ServerPolicy struct {
	MinDetectionScore float64    `json:"min_detection_score"`
	EnabledChecks     []string   `json:"enabled_checks"`
	AutoActions       Thresholds `json:"auto_actions"`
	ImmuneRoles       []string   `json:"immune_roles"`
	TrustedRoles      []string   `json:"trusted_roles"`
}

// DefaultPolicy returns the policy applied to a guild before any admin
// touched it. The thresholds are calibrated against the aggregator's weight
// scale, see the aggregation constants.
func DefaultPolicy() ServerPolicy {
	return ServerPolicy{
		MinDetectionScore: 0.7,
		EnabledChecks:     []string{CheckUsername, CheckAvatar, CheckProfile},
		AutoActions:       Thresholds{Warn: 0.7, Kick: 0.85, Ban: 0.95},
		ImmuneRoles:       []string{},
		TrustedRoles:      []string{},
	}
}

// Validate checks the policy before it is written. Scoring never validates,
// the ban->kick->warn comparison order keeps even a misconfigured policy
// well-defined, ties resolving toward the more severe action.
func (p *ServerPolicy) Validate() error {
	inRange := func(v float64) bool { return v >= 0 && v <= 1 }

	if !inRange(p.MinDetectionScore) {
		return &ValidationError{Field: "min_detection_score", Reason: "must be in [0, 1]"}
	}
	for _, f := range []struct {
		name string
		val  float64
	}{{"warn", p.AutoActions.Warn}, {"kick", p.AutoActions.Kick}, {"ban", p.AutoActions.Ban}} {
		if !inRange(f.val) {
			return &ValidationError{Field: f.name, Reason: "must be in [0, 1]"}
		}
	}
	if p.AutoActions.Warn > p.AutoActions.Kick {
		return &ValidationError{Field: "warn", Reason: "warn threshold above kick threshold"}
	}
	if p.AutoActions.Kick > p.AutoActions.Ban {
		return &ValidationError{Field: "kick", Reason: "kick threshold above ban threshold"}
	}

	for _, check := range p.EnabledChecks {
		if !slices.Contains(knownChecks, check) {
			return &UnsupportedCheckError{Check: check}
		}
	}
	return nil
}

// CheckEnabled reports whether the given detection check is on for the guild.
func (p *ServerPolicy) CheckEnabled(check string) bool {
	return slices.Contains(p.EnabledChecks, check)
}

// Decide maps a normalized risk score to the recommended action, comparing
// thresholds from most severe to least.
func (p *ServerPolicy) Decide(score float64) Action {
	switch {
	case score >= p.AutoActions.Ban:
		return ActionBan
	case score >= p.AutoActions.Kick:
		return ActionKick
	case score >= p.AutoActions.Warn:
		return ActionWarn
	}
	return ActionNone
}

// IsImmune reports whether a member holding the given roles is excluded from
// automatic action regardless of score. Immune members may still be reported.
func (p *ServerPolicy) IsImmune(roles []string) bool {
	return rolesIntersect(p.ImmuneRoles, roles)
}

// IsTrusted reports whether the member gains elevated command privileges.
// Orthogonal to detection scoring.
func (p *ServerPolicy) IsTrusted(roles []string) bool {
	return rolesIntersect(p.TrustedRoles, roles)
}

func rolesIntersect(policyRoles, memberRoles []string) bool {
	for _, r := range memberRoles {
		if slices.Contains(policyRoles, r) {
			return true
		}
	}
	return false
}
