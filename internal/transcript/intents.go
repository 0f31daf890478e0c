package transcript

import (
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"
)

// Question identifies which booking slot an assistant utterance asked for.
type Question string

const (
	QuestionNone         Question = ""
	QuestionPickup       Question = "pickup"
	QuestionDestination  Question = "destination"
	QuestionPassengers   Question = "passengers"
	QuestionTime         Question = "time"
	QuestionConfirmation Question = "confirmation"
)

// questionPatterns map assistant phrasings to the slot being asked for.
// Ordered: more specific slots are tested before the catch-all destination
// patterns ("where are you going" vs "where are you").
var questionPatterns = []struct {
	q Question
	p *regexp.Regexp
}{
	{QuestionPassengers, regexp.MustCompile(`(?i)\bhow many\s+(passengers|people|of you|travellers|travelers)\b`)},
	{QuestionTime, regexp.MustCompile(`(?i)\b(what time|when)\s+(would you like|do you need|should|will)\b`)},
	{QuestionTime, regexp.MustCompile(`(?i)\bfor when\b`)},
	{QuestionConfirmation, regexp.MustCompile(`(?i)\b(shall i book|would you like me to (book|confirm)|can i (book|confirm)|is (that|everything) correct|confirm (the|your|this) booking)\b`)},
	{QuestionDestination, regexp.MustCompile(`(?i)\b(where\s+(are you (going|heading|travelling|traveling)|to\b)|destination|drop[- ]?off|going to today)\b`)},
	{QuestionPickup, regexp.MustCompile(`(?i)\b(where\s+(shall|should|can|do)\s+(we|i)\s+(pick|collect)|pick[- ]?up (address|location|point)|picking you up|where are you now|collect you( from)?)\b`)},
	{QuestionPickup, regexp.MustCompile(`(?i)\bwhere are you\b`)},
}

// DetectQuestion classifies an assistant transcript as a question about a
// booking slot. Returns QuestionNone when no pattern matches.
func DetectQuestion(text string) Question {
	for _, qp := range questionPatterns {
		if qp.p.MatchString(text) {
			return qp.q
		}
	}
	return QuestionNone
}

// holdPattern matches "one moment" style phrases the assistant uses right
// before the engine fetches a quote; hearing one puts the engine in silence
// mode.
var holdPattern = regexp.MustCompile(`(?i)\b(one (moment|second)|just a (moment|second|sec)|checking (that|the fare)|let me check|bear with me|hold on)\b`)

// IsHoldPhrase reports whether an assistant utterance announces a wait.
func IsHoldPhrase(text string) bool {
	return holdPattern.MatchString(text)
}

// confirmationPhrases match the assistant declaring a booking confirmed —
// in any supported language, including prompt-template leaks like
// "[use actual fare]". An assistant utterance matching these while no
// book_taxi call succeeded this turn is a hallucinated confirmation.
var confirmationPhrases = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(your (taxi|cab|booking) (is|has been) (booked|confirmed)|booking (is )?confirmed|i'?ve booked (your|the))\b`),
	regexp.MustCompile(`(?i)\b(the driver is on (his|her|the|their) way|a driver (is|has been) (assigned|dispatched))\b`),
	regexp.MustCompile(`(?i)\b(su (taxi|reserva) est[aá] confirmad|votre (taxi|r[eé]servation) est confirm|ihre buchung ist best[aä]tigt)`),
	regexp.MustCompile(`\[(use actual|actual fare|fare here|insert)`),
}

// IsConfirmationPhrase reports whether an assistant transcript (possibly
// still streaming) has begun to state that the booking is confirmed.
func IsConfirmationPhrase(text string) bool {
	for _, p := range confirmationPhrases {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// correctionPatterns capture "actually it's X" style corrections, with the
// corrected value in the first submatch.
var correctionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bactually,?\s+(?:it'?s\s+)?(.+)$`),
	regexp.MustCompile(`(?i)\bno,?\s+it'?s\s+(.+)$`),
	regexp.MustCompile(`(?i)^sorry,?\s+(?:i meant\s+)?(.+)$`),
	regexp.MustCompile(`(?i)\bi said\s+(.+)$`),
	regexp.MustCompile(`(?i)\bchange (?:it|that) to\s+(.+)$`),
}

// DetectCorrection reports whether a user utterance corrects an earlier
// answer, returning the replacement value.
func DetectCorrection(text string) (value string, ok bool) {
	for _, p := range correctionPatterns {
		if m := p.FindStringSubmatch(text); m != nil {
			v := strings.TrimRight(strings.TrimSpace(m[1]), ".!?,")
			if v != "" {
				return v, true
			}
		}
	}
	return "", false
}

// addressPattern marks text that is shaped like a street address.
var addressPattern = regexp.MustCompile(`(?i)\b(street|st\.|road|rd\.|avenue|ave\.?|lane|drive|close|court|place|way|crescent|terrace|row|hill|park|gardens?)\b|^\d+\s+\p{L}`)

// LooksLikeAddress reports whether text is shaped like an address rather
// than a count, a time, or an intent. Used to keep addresses out of the
// passenger slot and to veto cancel intents triggered by address corrections.
func LooksLikeAddress(text string) bool {
	return addressPattern.MatchString(text) || len(strings.TrimSpace(text)) > 30
}

// cancelPattern matches explicit cancellation vocabulary.
var cancelPattern = regexp.MustCompile(`(?i)\b(cancel|never\s?mind|forget (it|the taxi|the booking)|don'?t (book|bother|need (it|a taxi|the taxi))|no taxi|stop the booking)\b`)

// HasCancelIntent reports whether a user utterance is an explicit request to
// cancel. Address-shaped utterances never count: "7 Russell Street" during
// fare confirmation is a correction, not a cancellation.
func HasCancelIntent(text string) bool {
	if LooksLikeAddress(text) {
		return false
	}
	return cancelPattern.MatchString(text)
}

// Confirmation is the engine's reading of a user reply to the fare summary.
type Confirmation int

const (
	ConfirmUnclear Confirmation = iota
	ConfirmYes
	ConfirmNo
)

// yesWords and noWords are exact-match confirmation vocabularies, including
// the multilingual equivalents the upstream transcriber produces for
// non-English callers.
var yesWords = []string{
	"yes", "yeah", "yep", "yup", "ya", "aye", "sure", "correct", "right",
	"ok", "okay", "confirm", "confirmed", "please", "go ahead", "that's right",
	"that is right", "sounds good", "perfect", "si", "sí", "oui", "ja", "haan",
}

var noWords = []string{
	"no", "nope", "nah", "wrong", "incorrect", "not right", "that's wrong",
	"non", "nein", "nahin",
}

// maxConfirmDistance is the Damerau-Levenshtein budget for matching typo
// variants of short confirmation words ("yess", "yed", "mo" stays unclear
// because distance is measured against whole words only of similar length).
const maxConfirmDistance = 1

// ClassifyConfirmation reads a user reply in the confirmation step. It is
// deliberately tolerant: transcriber typos within one edit of a known word
// still classify, but address-shaped replies are always Unclear so a caller
// correcting a street name is never treated as a decline.
func ClassifyConfirmation(text string) Confirmation {
	if LooksLikeAddress(text) {
		return ConfirmUnclear
	}

	cleaned := strings.ToLower(strings.TrimSpace(text))
	cleaned = strings.TrimRight(cleaned, ".!?,")
	if cleaned == "" {
		return ConfirmUnclear
	}

	// Negative vocabulary is checked first: "no that's wrong" contains
	// "right" as a substring of nothing, but "not right" must not match the
	// yes-word "right".
	for _, w := range noWords {
		if cleaned == w || strings.HasPrefix(cleaned, w+" ") || strings.HasPrefix(cleaned, w+",") {
			return ConfirmNo
		}
	}
	for _, w := range yesWords {
		if cleaned == w || strings.HasPrefix(cleaned, w+" ") || strings.HasPrefix(cleaned, w+",") {
			return ConfirmYes
		}
	}

	// Typo tolerance on the first token only, and only for words of at
	// least three characters — fuzzy-matching "no" would swallow half the
	// dictionary.
	first := strings.Fields(cleaned)[0]
	if len(first) >= 3 {
		for _, w := range yesWords {
			if len(w) >= 3 && matchr.DamerauLevenshtein(first, w) <= maxConfirmDistance {
				return ConfirmYes
			}
		}
		for _, w := range noWords {
			if len(w) >= 3 && matchr.DamerauLevenshtein(first, w) <= maxConfirmDistance {
				return ConfirmNo
			}
		}
	}

	return ConfirmUnclear
}
