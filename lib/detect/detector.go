// Package detect implements the impersonation-risk scoring engine: pairwise
// comparators for usernames, avatars and profile text, a substring scanner
// for known scam phrases, and the aggregator combining them into a single
// risk level with human-readable factors. Pure computation over already
// fetched inputs, no network, file or database calls happen here.
package detect

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/HoboStank/discord-scammer-defense/lib/identity"
)

// aggregation constants. The weights are tuned empirically as a set together
// with the default action thresholds, keep them in sync with DefaultPolicy.
const (
	nameTrigger    = 0.7 // minimum comparator score for a username factor
	avatarTrigger  = 0.7 // minimum comparator score for an avatar factor
	profileTrigger = 0.6 // minimum text similarity for a profile factor

	riskVeryNewAccount = 2 // account younger than 7 days
	riskNewAccount     = 1 // account younger than 30 days
	riskNameMatch      = 3 // primary name similar to the reference
	riskNickMatch      = 2 // nickname similar to the reference, lower weight
	riskProfileMatch   = 2 // per matching profile-text fragment pair
	riskComboBonus     = 2 // three or more independent factors fired

	veryNewAccountAge = 7 * 24 * time.Hour
	newAccountAge     = 30 * 24 * time.Hour

	comboFactorCount = 3
)

// Detector is the impersonation scoring engine, safe for concurrent use.
// Each Assess call is independent and stateless given its inputs; the only
// shared state is the configured scam-phrase list guarded by the lock.
type Detector struct {
	Config
	patterns []string

	lock sync.RWMutex
}

// Config is a set of parameters for Detector.
type Config struct {
	Patterns []string         // scam phrases, DefaultPatterns if empty
	Clock    func() time.Time // timestamp source for account age, time.Now if nil
}

// NewDetector makes a new Detector with the given config.
func NewDetector(cfg Config) *Detector {
	d := &Detector{Config: cfg}
	d.UpdatePatterns(cfg.Patterns)
	if d.Clock == nil {
		d.Clock = time.Now
	}
	return d
}

// Assess evaluates one member against the reference identity and returns the
// triggered factors with the accumulated risk level. The reference identity
// itself always scores clean. Factors appear in evaluation order: account
// age, username, nickname, avatar, profile text, scam phrases.
func (d *Detector) Assess(member, reference identity.Identity) identity.RiskAssessment {
	now := d.Clock()
	res := identity.RiskAssessment{Factors: []string{}, Timestamp: now}

	if member.ID != "" && member.ID == reference.ID {
		return res
	}

	// account age signal
	if age := member.Age(now); !member.CreatedAt.IsZero() {
		switch {
		case age < veryNewAccountAge:
			res.Factors = append(res.Factors, fmt.Sprintf("account created %d days ago", int(age.Hours()/24)))
			res.RiskLevel += riskVeryNewAccount
		case age < newAccountAge:
			res.Factors = append(res.Factors, fmt.Sprintf("account created %d days ago", int(age.Hours()/24)))
			res.RiskLevel += riskNewAccount
		}
	}

	// username signal, primary name first, then the nickname with lower weight
	if nameRes := CompareNames(member.Name, reference.Name); nameRes.Score > nameTrigger {
		res.Factors = append(res.Factors, similarityFactor("username", member.Name, nameRes))
		res.RiskLevel += riskNameMatch
	}
	if member.Nick != "" {
		if nickRes := CompareNames(member.Nick, reference.Name); nickRes.Score > nameTrigger {
			res.Factors = append(res.Factors, similarityFactor("nickname", member.Nick, nickRes))
			res.RiskLevel += riskNickMatch
		}
	}

	// avatar signal, skipped silently when either image is unavailable.
	// risk grows with the number of corroborating image sub-signals.
	if member.Avatar != nil && reference.Avatar != nil {
		if imgRes := CompareImages(member.Avatar, reference.Avatar); imgRes.Score > avatarTrigger {
			res.Factors = append(res.Factors, similarityFactor("avatar", "", imgRes))
			res.RiskLevel += float64(len(imgRes.Reasons))
		}
	}

	// profile text signal, pairwise across all fragment combinations.
	// can add multiple factors when several pairs match.
	for _, mf := range member.Fragments {
		for _, rf := range reference.Fragments {
			if score := CompareText(mf, rf); score > profileTrigger {
				res.Factors = append(res.Factors,
					fmt.Sprintf("profile text %q similar to %q (%.0f%%)", mf, rf, score*100))
				res.RiskLevel += riskProfileMatch
			}
		}
	}

	// scam phrase signal over every text field
	for _, field := range textFields(member) {
		if matches := d.FindPatterns(field.text); len(matches) > 0 {
			res.Factors = append(res.Factors,
				fmt.Sprintf("suspicious patterns in %s: %s", field.name, strings.Join(matches, ", ")))
			res.RiskLevel += float64(len(matches))
		}
	}

	// flat bonus for corroborating evidence across independent signal types
	if len(res.Factors) >= comboFactorCount {
		res.RiskLevel += riskComboBonus
	}

	return res
}

type textField struct{ name, text string }

func textFields(id identity.Identity) []textField {
	fields := []textField{{"username", id.Name}}
	if id.Nick != "" {
		fields = append(fields, textField{"nickname", id.Nick})
	}
	for i, f := range id.Fragments {
		fields = append(fields, textField{fmt.Sprintf("profile text #%d", i+1), f})
	}
	return fields
}

// similarityFactor renders one comparator hit as a factor string with the
// similarity percentage and the comparator's own reasons embedded.
func similarityFactor(signal, value string, res identity.Result) string {
	subject := signal
	if value != "" {
		subject = fmt.Sprintf("%s %q", signal, value)
	}
	if len(res.Reasons) == 0 {
		return fmt.Sprintf("%s similar to server owner (%.0f%%)", subject, res.Score*100)
	}
	return fmt.Sprintf("%s similar to server owner (%.0f%%): %s", subject, res.Score*100, strings.Join(res.Reasons, ", "))
}
