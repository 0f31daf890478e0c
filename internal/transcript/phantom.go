package transcript

import (
	"regexp"
	"strings"
	"unicode"
)

// hallucinationSubstrings are artefacts the upstream transcription model is
// known to emit on silence or line noise — mostly video-caption boilerplate
// from its training data. Matched case-insensitively as substrings.
var hallucinationSubstrings = []string{
	"thank you for watching",
	"thanks for watching",
	"please subscribe",
	"like and subscribe",
	"subtitles by",
	"transcription by",
	"amara.org",
	"copyright ©",
	"all rights reserved",
	"mbc 뉴스",
	"字幕",
}

// urlPattern flags URL-shaped transcripts, another silence artefact.
var urlPattern = regexp.MustCompile(`(?i)(https?://|www\.|\.com\b|\.org\b|\.net\b|\.co\.uk\b)`)

// gibberishPatterns match known nonsense shapes: vowel-free letter runs.
var gibberishPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^[bcdfghjklmnpqrstvwxz]{4,}[.!?]?$`),
}

// hasLongCharRun reports whether s contains the same character repeated six
// or more times in a row. Go's RE2 regexp engine has no backreferences, so
// the `(.)\1{5,}` shape cannot be expressed as a pattern and is checked
// directly instead.
func hasLongCharRun(s string) bool {
	var prev rune
	run := 0
	for _, r := range s {
		if r == prev {
			run++
			if run >= 6 {
				return true
			}
		} else {
			prev, run = r, 1
		}
	}
	return false
}

// allCapsAllow are short all-caps tokens that are legitimate answers, not
// shouting artefacts.
var allCapsAllow = map[string]struct{}{
	"ASAP": {}, "NOW": {}, "YES": {}, "NO": {}, "OK": {},
}

// domainTokens are words expected in genuine booking speech. Long transcripts
// containing almost none of these are treated as hallucinated.
var domainTokens = regexp.MustCompile(`(?i)\b(street|road|avenue|lane|drive|close|court|place|way|crescent|terrace|station|airport|hospital|hotel|pub|taxi|cab|pick|drop|passengers?|people|persons?|minutes?|o'?clock|morning|afternoon|evening|tonight|now|asap|yes|no|book|fare|driver|number|\d+)\b`)

// IsPhantom reports whether a completed user transcript should be discarded
// as a transcription artefact rather than treated as caller speech. The
// checks mirror the observed failure modes of server-side transcription on a
// telephony line: too short, caption boilerplate, URLs, wrong-script content,
// shouty noise tokens, long off-domain rambles, and plain gibberish.
func IsPhantom(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 2 {
		return true
	}

	lower := strings.ToLower(trimmed)
	for _, s := range hallucinationSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}

	if urlPattern.MatchString(trimmed) {
		return true
	}

	if nonLatinRatio(trimmed) > 0.5 {
		return true
	}

	// Short all-caps tokens outside the allowlist are line-noise artefacts.
	if len(trimmed) <= 6 && trimmed == strings.ToUpper(trimmed) && strings.ContainsFunc(trimmed, unicode.IsLetter) {
		if _, ok := allCapsAllow[strings.TrimRight(trimmed, ".!?")]; !ok {
			return true
		}
	}

	// Long text with almost no booking vocabulary is not caller speech.
	if len(trimmed) > 100 {
		words := len(strings.Fields(trimmed))
		hits := len(domainTokens.FindAllString(trimmed, -1))
		if words > 0 && float64(hits)/float64(words) < 0.05 {
			return true
		}
	}

	for _, p := range gibberishPatterns {
		if p.MatchString(trimmed) {
			return true
		}
	}
	if hasLongCharRun(trimmed) {
		return true
	}

	return false
}

// nonLatinRatio returns the fraction of letters that are neither ASCII nor
// Latin-accented. Digits, punctuation and spaces are ignored.
func nonLatinRatio(s string) float64 {
	var letters, foreign int
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if r > unicode.MaxASCII && !unicode.Is(unicode.Latin, r) {
			foreign++
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(foreign) / float64(letters)
}

// pricePatterns match the assistant quoting a fare.
var pricePatterns = []*regexp.Regexp{
	regexp.MustCompile(`£\s*\d`),
	regexp.MustCompile(`(?i)\b\d+(\.\d+)?\s*(pounds?|quid|dollars?|euros?)\b`),
	regexp.MustCompile(`(?i)\bfare\s+(is|will be|would be|comes to)\b`),
	regexp.MustCompile(`(?i)\b(costs?|price)\s+(is|will be|of)?\s*£?\d`),
}

// etaPatterns match the assistant quoting an arrival time.
var etaPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b\d+\s*(minutes?|mins?)\b`),
	regexp.MustCompile(`(?i)\barrive\s+in\b.*\d`),
	regexp.MustCompile(`(?i)\b(eta|arrival time)\b.*\d`),
	regexp.MustCompile(`(?i)\bdriver\s+(is|will be)\b.*\b\d+\b`),
}

// IsPriceOrEtaHallucination reports whether text states a fare or arrival
// time while no real quote has been delivered. Once a quote exists the
// assistant is reciting real numbers and the guard stands down.
func IsPriceOrEtaHallucination(text string, haveRealQuote bool) bool {
	if haveRealQuote {
		return false
	}
	for _, p := range pricePatterns {
		if p.MatchString(text) {
			return true
		}
	}
	for _, p := range etaPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
