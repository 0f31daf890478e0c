package audio

import (
	"math"
	"testing"
)

// pcmFromSamples builds a little-endian PCM16 byte slice from int16 samples.
func pcmFromSamples(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// samplesFromPCM decodes a little-endian PCM16 byte slice into int16 samples.
func samplesFromPCM(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return out
}

func TestDecodeMuLaw_SilenceAndExtremes(t *testing.T) {
	t.Parallel()

	// 0xFF is µ-law digital silence (linear 0). 0x7F is the most negative
	// quantisation step near zero on the negative side.
	got := samplesFromPCM(DecodeMuLaw([]byte{0xFF, 0x7F}))
	if got[0] != 0 {
		t.Errorf("µ-law 0xFF: want 0, got %d", got[0])
	}
	if got[1] != 0 {
		t.Errorf("µ-law 0x7F: want 0, got %d", got[1])
	}

	// 0x00 decodes to the largest negative value (-32124 per G.711 expansion).
	neg := samplesFromPCM(DecodeMuLaw([]byte{0x00}))[0]
	if neg != -32124 {
		t.Errorf("µ-law 0x00: want -32124, got %d", neg)
	}
	// 0x80 is its positive mirror.
	pos := samplesFromPCM(DecodeMuLaw([]byte{0x80}))[0]
	if pos != 32124 {
		t.Errorf("µ-law 0x80: want 32124, got %d", pos)
	}
}

func TestDecodeMuLaw_Empty(t *testing.T) {
	t.Parallel()
	if got := DecodeMuLaw(nil); len(got) != 0 {
		t.Fatalf("want empty output, got %d bytes", len(got))
	}
}

func TestResample8kTo24k_TriplesLengthAndInterpolates(t *testing.T) {
	t.Parallel()

	in := pcmFromSamples(0, 300)
	out := samplesFromPCM(Resample8kTo24k(in))

	if len(out) != 6 {
		t.Fatalf("want 6 samples, got %d", len(out))
	}
	want := []int16{0, 100, 200, 300, 300, 300}
	for i, w := range want {
		if out[i] != w {
			t.Errorf("sample %d: want %d, got %d (full: %v)", i, w, out[i], out)
		}
	}
}

func TestResample8kTo24k_SingleSampleReplicates(t *testing.T) {
	t.Parallel()

	out := samplesFromPCM(Resample8kTo24k(pcmFromSamples(123)))
	if len(out) != 3 {
		t.Fatalf("want 3 samples, got %d", len(out))
	}
	for i, s := range out {
		if s != 123 {
			t.Errorf("sample %d: want 123, got %d", i, s)
		}
	}
}

func TestResample16kTo24k_ThreeForTwo(t *testing.T) {
	t.Parallel()

	in := pcmFromSamples(0, 200, 400, 600)
	out := samplesFromPCM(Resample16kTo24k(in))

	want := []int16{0, 100, 200, 400, 500, 600}
	if len(out) != len(want) {
		t.Fatalf("want %d samples, got %d (%v)", len(want), len(out), out)
	}
	for i, w := range want {
		if out[i] != w {
			t.Errorf("sample %d: want %d, got %d", i, w, out[i])
		}
	}
}

func TestResample16kTo24k_OddTailReplicates(t *testing.T) {
	t.Parallel()

	out := samplesFromPCM(Resample16kTo24k(pcmFromSamples(0, 200, 400)))
	// Pairs: (0,200) → 0,100,200; tail 400 paired with itself → 400,400,400.
	want := []int16{0, 100, 200, 400, 400, 400}
	if len(out) != len(want) {
		t.Fatalf("want %d samples, got %d (%v)", len(want), len(out), out)
	}
	for i, w := range want {
		if out[i] != w {
			t.Errorf("sample %d: want %d, got %d", i, w, out[i])
		}
	}
}

func TestResample24kTo8k_AveragesGroups(t *testing.T) {
	t.Parallel()

	out := samplesFromPCM(Resample24kTo8k(pcmFromSamples(0, 300, 600, 100, 100, 100, 7)))
	want := []int16{300, 100}
	if len(out) != len(want) {
		t.Fatalf("want %d samples, got %d", len(want), len(out))
	}
	for i, w := range want {
		if out[i] != w {
			t.Errorf("sample %d: want %d, got %d", i, w, out[i])
		}
	}
}

func TestRMS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		samples []int16
		want    float64
	}{
		{"empty", nil, 0},
		{"silence", []int16{0, 0, 0, 0}, 0},
		{"constant", []int16{100, 100, 100, 100}, 100},
		{"mixed sign", []int16{300, -400}, math.Sqrt((300*300 + 400*400) / 2)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := RMS(pcmFromSamples(tc.samples...))
			if math.Abs(got-tc.want) > 0.5 {
				t.Errorf("RMS: want %.2f, got %.2f", tc.want, got)
			}
		})
	}
}

func TestAutoGain_QuietFrameBoosted(t *testing.T) {
	t.Parallel()

	in := pcmFromSamples(50, -50, 50, -50) // RMS 50, below the trigger
	out := samplesFromPCM(AutoGain(in))

	gained := RMS(AutoGain(in))
	if gained < 200 || gained > 300 {
		t.Errorf("gained RMS: want ≈250, got %.1f", gained)
	}
	if out[0] <= 50 {
		t.Errorf("want first sample amplified above 50, got %d", out[0])
	}
}

func TestAutoGain_LoudFrameUntouched(t *testing.T) {
	t.Parallel()

	in := pcmFromSamples(1000, -1000, 1000, -1000)
	out := AutoGain(in)
	if &out[0] != &in[0] {
		t.Error("loud frame should be returned unchanged without copying")
	}
}

func TestAutoGain_GainCapped(t *testing.T) {
	t.Parallel()

	// RMS 2: uncapped gain would be 125×; cap is 15×.
	in := pcmFromSamples(2, 2, 2, 2)
	out := samplesFromPCM(AutoGain(in))
	if out[0] != 30 {
		t.Errorf("want capped gain 15× → 30, got %d", out[0])
	}
}

func TestPreEmphasis(t *testing.T) {
	t.Parallel()

	in := pcmFromSamples(100, 100, 200)
	out := samplesFromPCM(PreEmphasis(in))

	// First sample passes through; y[1] = 100 − 97 = 3; y[2] = 200 − 97 = 103.
	want := []int16{100, 3, 103}
	for i, w := range want {
		if out[i] != w {
			t.Errorf("sample %d: want %d, got %d", i, w, out[i])
		}
	}
}

func TestPreEmphasis_Saturates(t *testing.T) {
	t.Parallel()

	in := pcmFromSamples(-32768, 32767)
	out := samplesFromPCM(PreEmphasis(in))
	// y[1] = 32767 − 0.97·(−32768) → far above int16 max → clamped.
	if out[1] != 32767 {
		t.Errorf("want saturation at 32767, got %d", out[1])
	}
}

func TestValidPCM16(t *testing.T) {
	t.Parallel()

	if !ValidPCM16(make([]byte, 320)) {
		t.Error("even length should be valid")
	}
	if ValidPCM16(make([]byte, 321)) {
		t.Error("odd length should be invalid")
	}
}
