// Package classify decides whether a retrieved comment is a genuine use of
// a term or noise that should not be counted.
package classify

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/qepting91/termfreq/internal/domain"
)

// Detector flags a comment as noise regardless of how it uses the term
type Detector interface {
	Reject(c domain.Comment, term string) bool
}

// Classifier runs its detectors in order, rejecting on the first hit, then
// requires at least one clean occurrence of the term in the body.
type Classifier struct {
	detectors []Detector
}

func New(detectors ...Detector) *Classifier {
	return &Classifier{detectors: detectors}
}

// Default blocks r/copypasta and two copy-pasta swear lists that otherwise
// inflate counts for rare terms.
func Default() *Classifier {
	return New(
		ForumBlocklist{"copypasta"},
		// "Every single swear word" list. Variants swap r and l for w, so
		// the fingerprint avoids tokens containing those letters.
		AllSubstrings{"homodumbshit", "cocknugget", "doochbag"},
		// "All of Google's blocked words" and similar chat blacklists
		Substring("2 girls 1 cup, 2g1c"),
	)
}

// Valid reports whether c should count as an occurrence of term
func (cl *Classifier) Valid(c domain.Comment, term string) bool {
	for _, d := range cl.detectors {
		if d.Reject(c, term) {
			return false
		}
	}
	for _, tok := range TokensHavingTerm(c.Body, term) {
		if !LooksURLish(tok) {
			return true
		}
	}
	return false
}

// ForumBlocklist rejects comments from forums with too much noise
type ForumBlocklist []string

func (b ForumBlocklist) Reject(c domain.Comment, _ string) bool {
	for _, f := range b {
		if strings.EqualFold(c.Subreddit, f) {
			return true
		}
	}
	return false
}

// AllSubstrings rejects a body containing every one of its strings
type AllSubstrings []string

func (a AllSubstrings) Reject(c domain.Comment, _ string) bool {
	if len(a) == 0 {
		return false
	}
	for _, s := range a {
		if !strings.Contains(c.Body, s) {
			return false
		}
	}
	return true
}

// Substring rejects a body containing it verbatim
type Substring string

func (s Substring) Reject(c domain.Comment, _ string) bool {
	return strings.Contains(c.Body, string(s))
}

// TokensHavingTerm splits text on whitespace and square brackets, so
// markdown link text stays apart from its URL, and returns the tokens that
// contain term, case-insensitively.
func TokensHavingTerm(text, term string) []string {
	term = strings.ToLower(term)
	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || r == '[' || r == ']'
	})
	var out []string
	for _, tok := range tokens {
		if strings.Contains(strings.ToLower(tok), term) {
			out = append(out, tok)
		}
	}
	return out
}

var entityRefPattern = regexp.MustCompile(`^/?[rRuU]/`)

// LooksURLish is true for tokens that look like a URL or a reference to a
// forum or user, e.g. example.com/slimeball, /r/slimeball, u/slimeball.
func LooksURLish(token string) bool {
	if strings.Contains(token, ".") && strings.Contains(token, "/") {
		return true
	}
	return entityRefPattern.MatchString(token)
}
