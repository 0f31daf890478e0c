// Package transcript implements deterministic cleanup and classification of
// streamed telephony transcripts: rewriting of common mishearings,
// alphanumeric joining for house numbers, phantom-utterance filtering, and
// the intent classifiers the session engine uses to bind user answers to
// booking questions.
//
// Everything in this package is pure and precompiled: the rewrite map and all
// pattern tables are built once at init, and no function mutates shared
// state, so the package is safe for concurrent use across calls.
package transcript

import (
	"regexp"
	"sort"
	"strings"
)

// corrections maps frequent speech-to-text mishearings (lower-case, full
// words) to their intended telephony form. Applied case-insensitively on word
// boundaries with longest-match precedence.
var corrections = map[string]string{
	"as soon as possible": "ASAP",
	"a sap":               "ASAP",
	"a s a p":             "ASAP",
	"right now":           "now",
	"straight away":       "now",
	"tree":                "three",
	"free":                "three",
	"fife":                "five",
	"strait":              "street",
	"steet":               "street",
	"stree":               "street",
	"rode":                "road",
	"roade":               "road",
	"avanue":              "avenue",
	"avenu":               "avenue",
	"lain":                "lane",
	"cresent":             "crescent",
	"passangers":          "passengers",
	"passanger":           "passenger",
}

// correctionPattern matches any correction key on word boundaries. Keys are
// sorted longest-first so multi-word phrases win over their sub-words.
var correctionPattern = compileCorrections()

func compileCorrections() *regexp.Regexp {
	keys := make([]string, 0, len(corrections))
	for k := range corrections {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	for i, k := range keys {
		keys[i] = regexp.QuoteMeta(k)
	}
	return regexp.MustCompile(`(?i)\b(` + strings.Join(keys, "|") + `)\b`)
}

// Correct applies the static mishearing rewrite map to text. The rewrite is
// idempotent: no replacement value is itself a rewrite key.
func Correct(text string) string {
	return correctionPattern.ReplaceAllStringFunc(text, func(m string) string {
		if repl, ok := corrections[strings.ToLower(m)]; ok {
			return repl
		}
		return m
	})
}

// phoneticLetters maps spoken letter names to the letter they stand for, so
// "7 bee" joins to "7B" the same way "52 a" joins to "52A".
var phoneticLetters = map[string]string{
	"ay": "A", "bee": "B", "be": "B", "sea": "C", "see": "C",
	"dee": "D", "gee": "G", "jay": "J", "kay": "K", "em": "M",
	"en": "N", "pee": "P", "are": "R", "tee": "T", "you": "U",
}

var (
	// "52 A" / "52 b," — a digit run followed by one orphan letter.
	alphaNumPattern = regexp.MustCompile(`\b(\d+)\s+([A-Za-z])\b`)
	// "7 bee" — a digit run followed by a spoken letter name.
	phoneticJoinPattern = compilePhoneticJoin()
)

func compilePhoneticJoin() *regexp.Regexp {
	names := make([]string, 0, len(phoneticLetters))
	for n := range phoneticLetters {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })
	return regexp.MustCompile(`(?i)\b(\d+)\s+(` + strings.Join(names, "|") + `)\b`)
}

// JoinAlphaNumeric rewrites split house-number suffixes ("52 A" → "52A",
// "7 bee" → "7B") into single tokens. Spoken letter names are joined first so
// "7 bee" is not left behind by the single-letter pass.
func JoinAlphaNumeric(text string) string {
	text = phoneticJoinPattern.ReplaceAllStringFunc(text, func(m string) string {
		sub := phoneticJoinPattern.FindStringSubmatch(m)
		letter, ok := phoneticLetters[strings.ToLower(sub[2])]
		if !ok {
			return m
		}
		return sub[1] + letter
	})
	return alphaNumPattern.ReplaceAllStringFunc(text, func(m string) string {
		sub := alphaNumPattern.FindStringSubmatch(m)
		// A single "a" after a number is almost always an article
		// ("2 a taxi"), so only join upper-case or non-article letters.
		if strings.EqualFold(sub[2], "a") && sub[2] != "A" {
			return m
		}
		return sub[1] + strings.ToUpper(sub[2])
	})
}

// Normalize runs the full cleanup chain the engine applies to every completed
// user transcript: alphanumeric joining followed by mishearing correction.
func Normalize(text string) string {
	return Correct(JoinAlphaNumeric(strings.TrimSpace(text)))
}
