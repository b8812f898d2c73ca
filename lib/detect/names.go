package detect

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"github.com/forPelevin/gomoji"

	"github.com/HoboStank/discord-scammer-defense/lib/identity"
)

// leetspeak substitution table, applied to already-cleaned names.
// static lookup data, built once at process start.
var leetTable = map[rune]rune{
	'o': '0', 'l': '1', 'i': '1', 'e': '3', 'a': '4', 's': '5', 't': '7', 'b': '8', 'g': '9',
}

// namePair carries the intermediate forms of both names through the rule
// chain, plus reasons accumulated by earlier rules.
type namePair struct {
	norm1, norm2   string // normalized forms
	clean1, clean2 string // normalized with non-alphanumerics removed
	reasons        []string
}

// nameRule checks one heuristic. It returns a final result and true when the
// rule decides the comparison, or false to fall through to the next rule.
type nameRule func(p *namePair) (identity.Result, bool)

// nameRules is the ordered chain evaluated by CompareNames, first match wins.
// Each rule is independent; the final ratio rule always decides.
var nameRules = []nameRule{
	lookAlikeRule,
	emptyCleanRule,
	exactCleanRule,
	leetRule,
	collapseRule,
	ratioRule,
}

// CompareNames scores two names for similarity in [0, 1] with the reasons for
// a high score. Case-insensitive. Empty reason lists are valid for
// low-similarity results.
func CompareNames(name1, name2 string) identity.Result {
	p := &namePair{norm1: Normalize(name1), norm2: Normalize(name2)}
	if p.norm1 != strings.ToLower(name1) || p.norm2 != strings.ToLower(name2) {
		p.reasons = append(p.reasons, "used special look-alike characters")
	}
	p.clean1, p.clean2 = cleanName(p.norm1), cleanName(p.norm2)

	for _, rule := range nameRules {
		if res, ok := rule(p); ok {
			return res
		}
	}
	// never reached, ratioRule always decides
	return identity.Result{}
}

// lookAlikeRule fires when the names are identical once confusable characters
// are canonicalized, i.e. the only difference was the evasion itself.
func lookAlikeRule(p *namePair) (identity.Result, bool) {
	if len(p.reasons) > 0 && p.norm1 == p.norm2 {
		return identity.Result{Score: 1.0, Reasons: p.reasons}, true
	}
	return identity.Result{}, false
}

// emptyCleanRule terminates the chain when either name has nothing left after
// removing special characters, there is nothing meaningful to compare.
func emptyCleanRule(p *namePair) (identity.Result, bool) {
	if p.clean1 == "" || p.clean2 == "" {
		return identity.Result{Score: 0, Reasons: p.reasons}, true
	}
	return identity.Result{}, false
}

func exactCleanRule(p *namePair) (identity.Result, bool) {
	if p.clean1 == p.clean2 {
		return identity.Result{Score: 1.0, Reasons: append(p.reasons, "identical after removing special characters")}, true
	}
	return identity.Result{}, false
}

func leetRule(p *namePair) (identity.Result, bool) {
	if leetFold(p.clean1) == leetFold(p.clean2) {
		return identity.Result{Score: 0.95, Reasons: append(p.reasons, "identical after number/letter substitution check")}, true
	}
	return identity.Result{}, false
}

func collapseRule(p *namePair) (identity.Result, bool) {
	if collapseRepeats(p.clean1) == collapseRepeats(p.clean2) {
		return identity.Result{Score: 0.90, Reasons: append(p.reasons, "identical after removing repeated characters")}, true
	}
	return identity.Result{}, false
}

// ratioRule is the fallback: normalized edit-distance similarity on the clean
// forms, with a floor of 0.80 when one name contains the other.
func ratioRule(p *namePair) (identity.Result, bool) {
	ratio := editRatio(p.clean1, p.clean2)

	if strings.Contains(p.clean1, p.clean2) || strings.Contains(p.clean2, p.clean1) {
		if ratio < 0.80 {
			ratio = 0.80
		}
		return identity.Result{Score: ratio, Reasons: append(p.reasons, "one name contains the other")}, true
	}

	reasons := p.reasons
	if ratio > 0.7 {
		reasons = append(reasons, "general text similarity")
	}
	return identity.Result{Score: ratio, Reasons: reasons}, true
}

// cleanName strips everything but letters and digits from a normalized name,
// emojis included.
func cleanName(s string) string {
	s = gomoji.RemoveEmojis(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func leetFold(s string) string {
	return strings.Map(func(r rune) rune {
		if sub, ok := leetTable[r]; ok {
			return sub
		}
		return r
	}, s)
}

// collapseRepeats squashes runs of the same character to a single one,
// "aabbc" -> "abc".
func collapseRepeats(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var prev rune = -1
	for _, r := range s {
		if r == prev {
			continue
		}
		b.WriteRune(r)
		prev = r
	}
	return b.String()
}

// editRatio is the Levenshtein-based similarity in [0, 1], 1.0 for identical
// strings, 0.0 when either is empty.
func editRatio(s1, s2 string) float64 {
	if s1 == "" || s2 == "" {
		return 0
	}
	maxLen := len([]rune(s1))
	if l2 := len([]rune(s2)); l2 > maxLen {
		maxLen = l2
	}
	dist := levenshtein.ComputeDistance(s1, s2)
	return 1.0 - float64(dist)/float64(maxLen)
}
