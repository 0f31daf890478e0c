package transcript

import "testing"

func TestDetectQuestion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want Question
	}{
		{"Where shall we pick you up?", QuestionPickup},
		{"What's the pickup address?", QuestionPickup},
		{"Where are you going today?", QuestionDestination},
		{"And what's your destination?", QuestionDestination},
		{"How many passengers will there be?", QuestionPassengers},
		{"How many people are travelling?", QuestionPassengers},
		{"What time would you like the taxi?", QuestionTime},
		{"And for when do you need it?", QuestionTime},
		{"Shall I book that for you?", QuestionConfirmation},
		{"Is that correct?", QuestionConfirmation},
		{"Lovely weather today.", QuestionNone},
	}

	for _, tc := range tests {
		if got := DetectQuestion(tc.text); got != tc.want {
			t.Errorf("DetectQuestion(%q): want %q, got %q", tc.text, tc.want, got)
		}
	}
}

func TestIsHoldPhrase(t *testing.T) {
	t.Parallel()

	if !IsHoldPhrase("One moment while I check the fare for you") {
		t.Error("hold phrase not detected")
	}
	if IsHoldPhrase("Your taxi will arrive shortly") {
		t.Error("false positive hold phrase")
	}
}

func TestIsConfirmationPhrase(t *testing.T) {
	t.Parallel()

	confirmed := []string{
		"Your taxi is booked",
		"Great news — your booking has been confirmed!",
		"I've booked your cab",
		"The fare is [use actual fare] and your taxi",
	}
	for _, in := range confirmed {
		if !IsConfirmationPhrase(in) {
			t.Errorf("IsConfirmationPhrase(%q): want true", in)
		}
	}

	if IsConfirmationPhrase("Shall I book that for you?") {
		t.Error("a booking question is not a confirmation")
	}
}

func TestDetectCorrection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text  string
		value string
		ok    bool
	}{
		{"Actually it's 18 Exmoor Road", "18 Exmoor Road", true},
		{"no, it's 7 Russell Street", "7 Russell Street", true},
		{"Sorry, I meant four", "four", true},
		{"I said 52A David Road.", "52A David Road", true},
		{"change that to tomorrow morning", "tomorrow morning", true},
		{"7 Russell Street", "", false},
		{"yes", "", false},
	}

	for _, tc := range tests {
		value, ok := DetectCorrection(tc.text)
		if ok != tc.ok || value != tc.value {
			t.Errorf("DetectCorrection(%q): want (%q, %v), got (%q, %v)",
				tc.text, tc.value, tc.ok, value, ok)
		}
	}
}

func TestLooksLikeAddress(t *testing.T) {
	t.Parallel()

	addresses := []string{
		"7 Russell Street",
		"52A David Road",
		"the old vicarage on Mill Lane",
		"18 Exmoor",
	}
	for _, in := range addresses {
		if !LooksLikeAddress(in) {
			t.Errorf("LooksLikeAddress(%q): want true", in)
		}
	}

	notAddresses := []string{"three", "yes", "cancel it", "now please"}
	for _, in := range notAddresses {
		if LooksLikeAddress(in) {
			t.Errorf("LooksLikeAddress(%q): want false", in)
		}
	}
}

func TestHasCancelIntent(t *testing.T) {
	t.Parallel()

	if !HasCancelIntent("cancel the booking please") {
		t.Error("explicit cancel not detected")
	}
	if !HasCancelIntent("never mind, forget it") {
		t.Error("never mind not detected")
	}
	// An address during confirmation is a correction, never a cancel —
	// even if the model thinks otherwise.
	if HasCancelIntent("7 Russell Street") {
		t.Error("address must not register as cancel intent")
	}
}

func TestClassifyConfirmation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want Confirmation
	}{
		{"yes", ConfirmYes},
		{"Yes please!", ConfirmYes},
		{"yeah go ahead", ConfirmYes},
		{"yess", ConfirmYes}, // one-edit typo
		{"sí", ConfirmYes},
		{"oui", ConfirmYes},
		{"okay", ConfirmYes},
		{"no", ConfirmNo},
		{"nope", ConfirmNo},
		{"that's wrong", ConfirmNo},
		{"now", ConfirmUnclear}, // time answer, not a near-miss of "no"
		{"7 Russell Street", ConfirmUnclear},
		{"", ConfirmUnclear},
		{"maybe later", ConfirmUnclear},
	}

	for _, tc := range tests {
		if got := ClassifyConfirmation(tc.text); got != tc.want {
			t.Errorf("ClassifyConfirmation(%q): want %v, got %v", tc.text, tc.want, got)
		}
	}
}
