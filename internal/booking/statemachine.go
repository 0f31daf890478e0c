package booking

// Step is the dialog position within a booking: which question is (or should
// be) on the table. Steps are ordered; the comparison operators on stepOrder
// give the monotonicity checks their meaning.
type Step string

const (
	StepNone         Step = "none"
	StepPickup       Step = "pickup"
	StepDestination  Step = "destination"
	StepPassengers   Step = "passengers"
	StepTime         Step = "time"
	StepConfirmation Step = "confirmation"
	StepConfirmed    Step = "confirmed"
)

// stepOrder ranks steps for monotonicity comparisons.
var stepOrder = map[Step]int{
	StepNone:         0,
	StepPickup:       1,
	StepDestination:  2,
	StepPassengers:   3,
	StepTime:         4,
	StepConfirmation: 5,
	StepConfirmed:    6,
}

// Before reports whether s comes before other in the booking flow.
func (s Step) Before(other Step) bool {
	return stepOrder[s] < stepOrder[other]
}

// FieldFor returns the booking slot a step collects, or "" for the
// confirmation and terminal steps.
func (s Step) FieldFor() Field {
	switch s {
	case StepPickup:
		return FieldPickup
	case StepDestination:
		return FieldDestination
	case StepPassengers:
		return FieldPassengers
	case StepTime:
		return FieldTime
	}
	return ""
}

// NextStep returns the first unfilled slot in question order, or the
// confirmation step once all slots are filled, or the terminal step once the
// booking is confirmed. The step can never skip forward over an unset field;
// clearing a field (a correction) legitimately moves it backward.
func (s *Store) NextStep() Step {
	if s.confirmed {
		return StepConfirmed
	}
	if s.Get(FieldPickup) == "" {
		return StepPickup
	}
	if s.Get(FieldDestination) == "" {
		return StepDestination
	}
	if s.passengers < minPassengers {
		return StepPassengers
	}
	if s.Get(FieldTime) == "" {
		return StepTime
	}
	return StepConfirmation
}

// instructions are the canonical prompts the engine injects to make the
// assistant ask exactly the next question and nothing else.
var instructions = map[Step]string{
	StepPickup:       "Ask the caller for their pickup address. Ask only this one question.",
	StepDestination:  "Ask the caller where they are going. Ask only this one question.",
	StepPassengers:   "Ask the caller how many passengers will be travelling. Ask only this one question.",
	StepTime:         "Ask the caller what time they need the taxi, or whether they need it now. Ask only this one question.",
	StepConfirmation: "Summarise the booking (pickup, destination, passengers, time) and ask the caller to confirm. Do not state any fare or arrival time.",
	StepConfirmed:    "The booking is complete. Thank the caller and say goodbye briefly.",
}

// Instruction returns the canonical prompt for step. Unknown steps map to
// the pickup prompt so the dialog always has somewhere to go.
func Instruction(step Step) string {
	if ins, ok := instructions[step]; ok {
		return ins
	}
	return instructions[StepPickup]
}
