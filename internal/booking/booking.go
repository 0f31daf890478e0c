// Package booking holds the per-call booking record: the four slots a taxi
// booking needs (pickup, destination, passenger count, pickup time), the
// provenance rules that keep caller-stated values from being overwritten by
// weaker sources, and the state machine that decides which question the
// assistant asks next.
//
// A Store is owned exclusively by one session engine goroutine; the
// single-writer discipline makes internal locking unnecessary.
package booking

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/adacab/voicegate/internal/transcript"
)

// Field names a booking slot.
type Field string

const (
	FieldPickup      Field = "pickup"
	FieldDestination Field = "destination"
	FieldPassengers  Field = "passengers"
	FieldTime        Field = "time"
)

// Fields lists all slots in question order.
var Fields = []Field{FieldPickup, FieldDestination, FieldPassengers, FieldTime}

// IsValid reports whether f names a known slot.
func (f Field) IsValid() bool {
	switch f {
	case FieldPickup, FieldDestination, FieldPassengers, FieldTime:
		return true
	}
	return false
}

// Source ranks where a slot value came from. Higher sources overwrite lower
// ones; a lower source never silently replaces a higher one.
type Source int

const (
	// SourceNone marks an empty slot.
	SourceNone Source = iota

	// SourceHeuristic is a value inferred from assistant-transcript analysis.
	SourceHeuristic

	// SourceToolArg is a value the model passed in a tool call.
	SourceToolArg

	// SourceUserTruth is a value captured directly from the caller's
	// corrected transcript while the matching question was active.
	SourceUserTruth
)

// String returns the source name used in logs and tool outputs.
func (s Source) String() string {
	switch s {
	case SourceHeuristic:
		return "heuristic"
	case SourceToolArg:
		return "tool_arg"
	case SourceUserTruth:
		return "user_truth"
	default:
		return "none"
	}
}

// TimeASAP is the sentinel pickup-time for "as soon as possible".
const TimeASAP = "ASAP"

const (
	minPassengers = 1
	maxPassengers = 20
)

// slot is one booking field plus the provenance of its current value.
type slot struct {
	value  string
	source Source
}

// Store is the per-call booking record. It tracks each slot's value and
// source, whether the booking has been confirmed, and the parsed passenger
// count.
type Store struct {
	slots      map[Field]*slot
	passengers int
	confirmed  bool
}

// NewStore returns an empty booking record.
func NewStore() *Store {
	s := &Store{slots: make(map[Field]*slot, len(Fields))}
	for _, f := range Fields {
		s.slots[f] = &slot{}
	}
	return s
}

// Set writes value into field if source outranks (or equals) the source that
// last wrote it, or the field is empty. It reports whether the write was
// applied and, when rejected for a reason other than precedence, why.
//
// Passenger values are parsed and validated: counts outside [1, 20] and
// address-shaped text are rejected so a street name misrouted by the model
// can never land in the passenger slot. Time values are normalised to the
// ASAP sentinel where they mean "now".
func (s *Store) Set(field Field, value string, source Source) (applied bool, reason string) {
	sl, ok := s.slots[field]
	if !ok {
		return false, fmt.Sprintf("unknown field %q", field)
	}

	value = strings.TrimSpace(value)
	if value == "" {
		return false, "empty value"
	}

	if sl.source > source {
		return false, ""
	}

	switch field {
	case FieldPassengers:
		n, err := ParsePassengers(value)
		if err != nil {
			return false, err.Error()
		}
		s.passengers = n
		sl.value = strconv.Itoa(n)
	case FieldTime:
		sl.value = NormalizeTime(value)
	default:
		sl.value = value
	}
	sl.source = source
	return true, ""
}

// Get returns the current value of field ("" when unset).
func (s *Store) Get(field Field) string {
	if sl, ok := s.slots[field]; ok {
		return sl.value
	}
	return ""
}

// SourceOf returns the provenance of field's current value.
func (s *Store) SourceOf(field Field) Source {
	if sl, ok := s.slots[field]; ok {
		return sl.source
	}
	return SourceNone
}

// Passengers returns the parsed passenger count (0 when unset).
func (s *Store) Passengers() int { return s.passengers }

// Confirmed reports whether the booking has been confirmed.
func (s *Store) Confirmed() bool { return s.confirmed }

// Confirm marks the booking confirmed. The transition is one-way.
func (s *Store) Confirm() { s.confirmed = true }

// MissingRequired lists the required slots (pickup, destination, passengers)
// that are still unset. Time is optional: an unset time means ASAP.
func (s *Store) MissingRequired() []Field {
	var missing []Field
	if s.Get(FieldPickup) == "" {
		missing = append(missing, FieldPickup)
	}
	if s.Get(FieldDestination) == "" {
		missing = append(missing, FieldDestination)
	}
	if s.passengers < minPassengers {
		missing = append(missing, FieldPassengers)
	}
	return missing
}

// Snapshot is a read-only copy of the booking fields for persistence and
// webhook payloads.
type Snapshot struct {
	Pickup      string
	Destination string
	Passengers  int
	PickupTime  string
	Confirmed   bool
}

// Snapshot returns a copy of the current booking values.
func (s *Store) Snapshot() Snapshot {
	return Snapshot{
		Pickup:      s.Get(FieldPickup),
		Destination: s.Get(FieldDestination),
		Passengers:  s.passengers,
		PickupTime:  s.Get(FieldTime),
		Confirmed:   s.confirmed,
	}
}

// passengerWords maps spoken counts to integers for the range the fleet
// accepts. Ordered so that phrase scanning is deterministic when a caller
// says something like "three or four".
var passengerWords = []struct {
	word string
	n    int
}{
	{"one", 1}, {"just me", 1}, {"me", 1}, {"solo", 1},
	{"two", 2}, {"a couple", 2}, {"couple", 2}, {"both", 2},
	{"three", 3}, {"four", 4}, {"five", 5}, {"six", 6}, {"seven", 7},
	{"eight", 8}, {"nine", 9}, {"ten", 10}, {"eleven", 11}, {"twelve", 12},
}

// ParsePassengers extracts a passenger count from caller text. It rejects
// address-shaped text outright, then tries a digit, then the spoken-number
// table, then a digit embedded in a phrase ("there are 3 of us").
func ParsePassengers(text string) (int, error) {
	trimmed := strings.TrimSpace(text)

	if transcript.LooksLikeAddress(trimmed) {
		return 0, fmt.Errorf("booking: %q looks like an address, not a passenger count", trimmed)
	}

	lower := strings.ToLower(strings.TrimRight(trimmed, ".!?,"))

	if n, err := strconv.Atoi(lower); err == nil {
		return validatePassengers(n)
	}
	for _, pw := range passengerWords {
		if lower == pw.word {
			return validatePassengers(pw.n)
		}
	}
	for _, pw := range passengerWords {
		if pw.word == "me" {
			continue
		}
		if containsWord(lower, pw.word) {
			return validatePassengers(pw.n)
		}
	}
	for _, f := range strings.Fields(lower) {
		if n, err := strconv.Atoi(strings.Trim(f, ".,!?")); err == nil {
			return validatePassengers(n)
		}
	}
	return 0, fmt.Errorf("booking: cannot parse passenger count from %q", trimmed)
}

func validatePassengers(n int) (int, error) {
	if n < minPassengers || n > maxPassengers {
		return 0, fmt.Errorf("booking: passenger count %d out of range [%d, %d]", n, minPassengers, maxPassengers)
	}
	return n, nil
}

// containsWord reports whether lower contains word as a whitespace-separated
// token.
func containsWord(lower, word string) bool {
	for _, f := range strings.Fields(lower) {
		if strings.Trim(f, ".,!?") == word {
			return true
		}
	}
	return false
}

// asapPhrases are caller phrasings that mean the ASAP sentinel.
var asapPhrases = map[string]struct{}{
	"asap": {}, "now": {}, "right now": {}, "immediately": {},
	"as soon as possible": {}, "straight away": {}, "right away": {},
	"whenever": {}, "soon as you can": {},
}

// NormalizeTime maps "now"-style answers to the ASAP sentinel and leaves
// explicit times untouched.
func NormalizeTime(text string) string {
	lower := strings.ToLower(strings.TrimRight(strings.TrimSpace(text), ".!?,"))
	if _, ok := asapPhrases[lower]; ok {
		return TimeASAP
	}
	return strings.TrimSpace(text)
}
