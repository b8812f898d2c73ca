package detect

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// DefaultPatterns is the built-in list of known scam phrases, checked as
// case-insensitive substrings. Used when no patterns file is loaded.
var DefaultPatterns = []string{
	"free nitro",
	"steam gift",
	"giveaway",
	"claim your",
	"discord staff",
	"moderator application",
}

// FindPatterns returns every configured scam phrase that occurs in the text,
// in configuration order. The list has no duplicates by construction.
func (d *Detector) FindPatterns(text string) []string {
	d.lock.RLock()
	defer d.lock.RUnlock()

	if text == "" {
		return []string{}
	}
	lower := strings.ToLower(text)
	res := []string{}
	for _, p := range d.patterns {
		if strings.Contains(lower, p) {
			res = append(res, p)
		}
	}
	return res
}

// Patterns returns a copy of the currently configured phrase list.
func (d *Detector) Patterns() []string {
	d.lock.RLock()
	defer d.lock.RUnlock()
	res := make([]string, len(d.patterns))
	copy(res, d.patterns)
	return res
}

// UpdatePatterns replaces the phrase list. Entries are lowercased and blank
// lines dropped; empty input falls back to DefaultPatterns.
func (d *Detector) UpdatePatterns(patterns []string) {
	cleaned := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		cleaned = append(cleaned, p)
	}
	if len(cleaned) == 0 {
		cleaned = append(cleaned, DefaultPatterns...)
	}

	d.lock.Lock()
	defer d.lock.Unlock()
	d.patterns = cleaned
}

// LoadPatterns reads a phrase list from a reader, one phrase per line.
// Returns the number of phrases loaded.
func (d *Detector) LoadPatterns(r io.Reader) (int, error) {
	patterns := []string{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("failed to read patterns: %w", err)
	}
	d.UpdatePatterns(patterns)
	return len(d.Patterns()), nil
}
