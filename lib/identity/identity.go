// Package identity defines the data passed in and out of the detection engine:
// the account snapshot used as a comparison subject, the result of a single
// comparator, and the aggregated risk assessment.
package identity

import (
	"fmt"
	"image"
	"strings"
	"time"
)

// Identity is an immutable snapshot of one account taken at evaluation time.
// The gateway layer builds it; the detection core never fetches anything itself.
type Identity struct {
	ID        string      `json:"id"`                  // account id
	Name      string      `json:"name"`                // display name
	Nick      string      `json:"nick,omitempty"`      // per-guild nickname, optional
	Avatar    image.Image `json:"-"`                   // decoded avatar, nil if unavailable
	Fragments []string    `json:"fragments,omitempty"` // free-text fragments: custom status, role names
	CreatedAt time.Time   `json:"created_at"`          // account creation time
	Roles     []string    `json:"roles,omitempty"`     // role ids held in the guild
}

func (i *Identity) String() string {
	name := i.Name
	if i.Nick != "" {
		name = fmt.Sprintf("%s (%s)", i.Name, i.Nick)
	}
	return fmt.Sprintf("%q, id:%s", name, i.ID)
}

// Age returns how long the account existed at the given moment.
func (i *Identity) Age(now time.Time) time.Duration {
	if i.CreatedAt.IsZero() {
		return 0
	}
	return now.Sub(i.CreatedAt)
}

// Result is the outcome of a single comparator: a similarity score in [0, 1]
// and the reasons explaining why the score is high. Score 1.0 means exact or
// canonical match; 0.0 means either input was empty or unusable. Reasons may
// be empty for low-similarity results, the two are independent signals.
type Result struct {
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons,omitempty"`
}

func (r *Result) String() string {
	if len(r.Reasons) == 0 {
		return fmt.Sprintf("%0.2f", r.Score)
	}
	return fmt.Sprintf("%0.2f [%s]", r.Score, strings.Join(r.Reasons, ", "))
}

// RiskAssessment is the aggregator's verdict for one member: the ordered list
// of triggered factors and the accumulated risk level. Created fresh per
// evaluation and never mutated after return.
type RiskAssessment struct {
	Factors   []string  `json:"factors"`
	RiskLevel float64   `json:"risk_level"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

func (a *RiskAssessment) String() string {
	return fmt.Sprintf("risk:%0.0f, factors:[%s]", a.RiskLevel, strings.Join(a.Factors, "; "))
}

// Suspicious reports whether anything triggered at all.
func (a *RiskAssessment) Suspicious() bool { return len(a.Factors) > 0 }
