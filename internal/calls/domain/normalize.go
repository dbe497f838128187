package calls

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var decorativePrefix = regexp.MustCompile(`^[^\p{L}\p{N}]+-`)

// NormalizeForCompare folds text into its comparison form: diacritics
// removed, upper-cased, whitespace collapsed and trimmed.
// The result is never stored.
func NormalizeForCompare(text string) string {
	folded := stripDiacritics(text)
	return strings.Join(strings.Fields(strings.ToUpper(folded)), " ")
}

// Slugify returns an ID-safe form of text made only of [A-Z0-9_].
func Slugify(text string) string {
	normalized := NormalizeForCompare(text)
	if normalized == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(normalized))
	for _, r := range normalized {
		switch {
		case r == ' ':
			b.WriteByte('_')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}

func stripDiacritics(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, text)
	if err != nil {
		return text
	}
	return out
}

// Annotations describes UI decoration that carries no meaning for a call.
type Annotations struct {
	// Markers are removed wherever they appear.
	Markers []string
	// Trailing tokens are removed from the end of the text, repeatedly.
	Trailing []string
}

// DefaultAnnotations returns the decoration used by the reception panel.
func DefaultAnnotations() Annotations {
	return Annotations{
		Markers:  []string{"*"},
		Trailing: []string{"ASSINAR", "ASSINA", "✅"},
	}
}

// Strip removes decoration from text and trims it.
func (a Annotations) Strip(text string) string {
	out := text
	for _, marker := range a.Markers {
		if marker == "" {
			continue
		}
		out = strings.ReplaceAll(out, marker, "")
	}
	out = strings.TrimSpace(out)
	for {
		trimmed := a.trimTrailing(out)
		if trimmed == out {
			break
		}
		out = trimmed
	}
	out = decorativePrefix.ReplaceAllString(out, "")
	return strings.TrimSpace(out)
}

func (a Annotations) trimTrailing(text string) string {
	for _, token := range a.Trailing {
		if token == "" || !strings.HasSuffix(text, token) {
			continue
		}
		rest := strings.TrimSuffix(text, token)
		if !tokenBoundary(rest, token) {
			continue
		}
		return strings.TrimSpace(rest)
	}
	return text
}

// tokenBoundary reports whether a word token starts a new word after rest.
// Symbol tokens such as check marks may be glued to the text.
func tokenBoundary(rest, token string) bool {
	if rest == "" {
		return true
	}
	first := []rune(token)[0]
	if !unicode.IsLetter(first) && !unicode.IsDigit(first) {
		return true
	}
	last := []rune(rest)
	return unicode.IsSpace(last[len(last)-1])
}
