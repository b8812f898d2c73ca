package detect

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// confusables maps Unicode glyphs visually similar to Latin letters to their
// plain-ASCII equivalent. Covers the Cyrillic and Greek look-alikes commonly
// used to evade exact-match name filters. Mathematical, fullwidth and other
// compatibility variants are handled by NFKD decomposition and don't need
// entries here. The table is built once and never mutated.
var confusables = map[rune]rune{
	// cyrillic lowercase
	'а': 'a', 'в': 'b', 'с': 'c', 'ԁ': 'd', 'е': 'e', 'ё': 'e', 'ғ': 'f',
	'һ': 'h', 'і': 'i', 'ј': 'j', 'к': 'k', 'м': 'm', 'н': 'h', 'о': 'o',
	'р': 'p', 'ѕ': 's', 'т': 't', 'у': 'y', 'х': 'x', 'ц': 'u', 'ѡ': 'w',
	'ы': 'b', 'ь': 'b', 'э': 'e', 'ԛ': 'q', 'ԝ': 'w', 'ℓ': 'l',
	// greek lowercase
	'α': 'a', 'β': 'b', 'γ': 'y', 'ε': 'e', 'ι': 'i', 'κ': 'k', 'ν': 'v',
	'ο': 'o', 'ρ': 'p', 'τ': 't', 'υ': 'u', 'χ': 'x', 'ω': 'w', 'σ': 'o',
	'η': 'n', 'μ': 'u',
	// misc look-alikes
	'ı': 'i', 'ł': 'l', 'ø': 'o', 'đ': 'd', 'ð': 'd', 'þ': 'p',
}

// zero-width and BOM characters stripped by Normalize
func isZeroWidth(r rune) bool {
	return (r >= 0x200B && r <= 0x200D) || r == 0xFEFF
}

// Normalize converts text to its canonical ASCII-lowercase form: lower-cases,
// decomposes compatibility variants (mathematical/script/fraktur letters),
// drops combining diacritical marks and zero-width characters, and maps
// confusable glyphs to their Latin equivalent. Pure and deterministic,
// unmapped characters pass through unchanged. Idempotent: normalizing an
// already-normalized string is a fixed point.
func Normalize(text string) string {
	decomposed := norm.NFKD.String(strings.ToLower(text))

	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if isZeroWidth(r) || unicode.Is(unicode.Mn, r) {
			continue
		}
		if mapped, ok := confusables[r]; ok {
			r = mapped
		}
		b.WriteRune(r)
	}
	// NFKD may expose upper-case forms hidden inside compatibility characters,
	// e.g. the mathematical bold capital letters
	return strings.ToLower(b.String())
}
