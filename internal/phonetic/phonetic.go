// Package phonetic ranks transcribed utterances against a fixed list of
// command phrases using Double Metaphone phonetic encoding combined with
// Jaro-Winkler string similarity.
//
// The algorithm proceeds in two stages for each phrase:
//
//  1. Window alignment: the utterance is split into tokens and every window
//     of the phrase's token count is aligned position by position with the
//     phrase tokens. The window score is the mean Jaro-Winkler similarity of
//     the aligned pairs, so "volume down" never scores well against
//     "volume up" just because one word is shared.
//
//  2. Phonetic gating: a window whose every aligned pair shares a Double
//     Metaphone code is a phonetic candidate and is accepted above the
//     phonetic threshold (default 0.70). Other windows must clear the
//     stricter fuzzy threshold (default 0.85).
//
// Ties are broken in favour of the phrase with more tokens, so "cancel
// session" outranks "cancel" for the utterance "cancel session".
package phonetic

import (
	"cmp"
	"slices"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum score required for a phonetically
// aligned window to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum score required for a window without a
// full phonetic alignment. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Phrase is one recognisable command phrase.
type Phrase struct {
	ID   int
	Text string
}

// Candidate is a phrase accepted for an utterance.
type Candidate struct {
	Phrase   Phrase
	Score    float64
	Phonetic bool

	tokens int
}

// Matcher ranks utterances against phrases. It is read-only after
// construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a new [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Rank returns every phrase accepted for utterance, best first. It returns
// nil when nothing clears the thresholds.
func (m *Matcher) Rank(utterance string, phrases []Phrase) []Candidate {
	words := Tokens(utterance)
	if len(words) == 0 || len(phrases) == 0 {
		return nil
	}

	var out []Candidate
	for _, p := range phrases {
		pt := Tokens(p.Text)
		if len(pt) == 0 || len(pt) > len(words) {
			continue
		}

		best := Candidate{Phrase: p, tokens: len(pt)}
		accepted := false
		for start := 0; start+len(pt) <= len(words); start++ {
			score, phonetic := m.scoreWindow(words[start:start+len(pt)], pt)
			ok := score >= m.fuzzyThreshold || (phonetic && score >= m.phoneticThreshold)
			if ok && score > best.Score {
				best.Score = score
				best.Phonetic = phonetic
				accepted = true
			}
		}
		if accepted {
			out = append(out, best)
		}
	}

	slices.SortStableFunc(out, func(a, b Candidate) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(b.tokens, a.tokens)
	})
	return out
}

// Best returns the top-ranked candidate for utterance.
func (m *Matcher) Best(utterance string, phrases []Phrase) (Candidate, bool) {
	ranked := m.Rank(utterance, phrases)
	if len(ranked) == 0 {
		return Candidate{}, false
	}
	return ranked[0], true
}

// scoreWindow aligns window with phrase token by token.
func (m *Matcher) scoreWindow(window, phrase []string) (float64, bool) {
	var sum float64
	phonetic := true
	for i := range phrase {
		sum += matchr.JaroWinkler(window[i], phrase[i], false)
		if !codesOverlap(codesFor(window[i]), codesFor(phrase[i])) {
			phonetic = false
		}
	}
	return sum / float64(len(phrase)), phonetic
}

// Tokens lower-cases s and splits it on anything that is not a letter or a
// digit, dropping punctuation emitted by transcribers.
func Tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// codesFor returns the Double Metaphone codes of a token. Empty codes
// (produced when the word contains no consonants) are excluded.
func codesFor(token string) map[string]struct{} {
	codes := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(token)
	if p != "" {
		codes[p] = struct{}{}
	}
	if s != "" {
		codes[s] = struct{}{}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
// Two empty sets (vowel-only tokens) are considered overlapping.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
