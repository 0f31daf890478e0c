package transcript

import "testing"

func TestCorrect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"as soon as possible please", "ASAP please"},
		{"I need it right now", "I need it now"},
		{"tree passengers", "three passengers"},
		{"52 David rode", "52 David road"},
		{"Russell strait", "Russell street"},
		{"no mishearings here", "no mishearings here"},
	}

	for _, tc := range tests {
		if got := Correct(tc.in); got != tc.want {
			t.Errorf("Correct(%q): want %q, got %q", tc.in, tc.want, got)
		}
	}
}

func TestCorrect_Idempotent(t *testing.T) {
	t.Parallel()

	in := "tree people as soon as possible at Russell strait"
	once := Correct(in)
	if twice := Correct(once); twice != once {
		t.Errorf("not idempotent: first %q, second %q", once, twice)
	}
}

func TestJoinAlphaNumeric(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"52 A David Road", "52A David Road"},
		{"flat 7 bee", "flat 7B"},
		{"number 12 C please", "number 12C please"},
		{"I need 2 a taxi", "I need 2 a taxi"}, // article, not a suffix
		{"52A already joined", "52A already joined"},
	}

	for _, tc := range tests {
		if got := JoinAlphaNumeric(tc.in); got != tc.want {
			t.Errorf("JoinAlphaNumeric(%q): want %q, got %q", tc.in, tc.want, got)
		}
	}
}

func TestNormalize_ChainsBothStages(t *testing.T) {
	t.Parallel()

	got := Normalize("  52 A David rode ")
	if got != "52A David road" {
		t.Errorf("want %q, got %q", "52A David road", got)
	}
}

func TestIsPhantom(t *testing.T) {
	t.Parallel()

	phantom := []string{
		"",
		"a",
		"Thanks for watching!",
		"Subtitles by the Amara.org community",
		"visit www.example.com",
		"ありがとうございました、ご視聴ありがとうございました",
		"BRRR",
		"xkcdqz",
		"aaaaaaaaaa",
	}
	for _, in := range phantom {
		if !IsPhantom(in) {
			t.Errorf("IsPhantom(%q): want true", in)
		}
	}

	genuine := []string{
		"52A David Road",
		"three",
		"ASAP",
		"NOW",
		"yes",
		"I'd like a taxi from the station to the airport for two people",
	}
	for _, in := range genuine {
		if IsPhantom(in) {
			t.Errorf("IsPhantom(%q): want false", in)
		}
	}
}

func TestIsPhantom_LongOffDomainText(t *testing.T) {
	t.Parallel()

	long := "the quick brown fox jumped over the lazy dog and kept on " +
		"jumping through fields of golden wheat while birds sang overhead " +
		"in the warm summer air without end"
	if !IsPhantom(long) {
		t.Error("long off-domain text should be phantom")
	}

	longBooking := "I would like to book a taxi from 52 David Road to the " +
		"airport for three passengers leaving at about ten o'clock this " +
		"evening if a driver is available near the station please"
	if IsPhantom(longBooking) {
		t.Error("long on-domain booking text should not be phantom")
	}
}

func TestIsPriceOrEtaHallucination(t *testing.T) {
	t.Parallel()

	flagged := []string{
		"The fare is £12.50",
		"that will be 12 pounds",
		"your driver will arrive in 6 minutes",
		"the ETA is 10",
		"it costs £9",
	}
	for _, in := range flagged {
		if !IsPriceOrEtaHallucination(in, false) {
			t.Errorf("want hallucination for %q with no quote", in)
		}
		if IsPriceOrEtaHallucination(in, true) {
			t.Errorf("want pass-through for %q once a real quote exists", in)
		}
	}

	clean := []string{
		"Where shall we pick you up?",
		"I'm just checking that for you now",
		"How many passengers?",
	}
	for _, in := range clean {
		if IsPriceOrEtaHallucination(in, false) {
			t.Errorf("false positive for %q", in)
		}
	}
}
