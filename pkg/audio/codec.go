// Package audio provides the stateless audio transforms used by the voice
// gateway: G.711 µ-law decoding, narrow-band to wide-band resampling, frame
// energy measurement, automatic gain, and pre-emphasis.
//
// All functions operate on little-endian int16 PCM byte slices, never panic,
// and allocate only their output buffer. Telephony input arrives as µ-law at
// 8 kHz or PCM16 at 8/16/24 kHz; the upstream model consumes PCM16 at 24 kHz.
package audio

import "math"

// Sample rates handled by the gateway.
const (
	TelephonyRate = 8000
	WideBandRate  = 16000
	UpstreamRate  = 24000
)

// muLawToPCM maps each µ-law byte to its linear int16 value. Built once at
// init from the G.711 expansion formula.
var muLawToPCM [256]int16

func init() {
	for i := range muLawToPCM {
		u := ^uint8(i)
		sign := u & 0x80
		exponent := (u >> 4) & 0x07
		mantissa := u & 0x0F
		sample := (int32(mantissa)<<3 + 0x84) << exponent
		sample -= 0x84
		if sign != 0 {
			sample = -sample
		}
		muLawToPCM[i] = int16(sample)
	}
}

// DecodeMuLaw expands a G.711 µ-law byte stream into little-endian int16 PCM
// at the same sample rate. An empty input yields an empty output.
func DecodeMuLaw(mulaw []byte) []byte {
	out := make([]byte, len(mulaw)*2)
	for i, b := range mulaw {
		s := muLawToPCM[b]
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// ValidPCM16 reports whether pcm has an even byte count. Frames failing this
// check are malformed and must be dropped by the caller.
func ValidPCM16(pcm []byte) bool {
	return len(pcm)%2 == 0
}

// Resample8kTo24k upsamples 8 kHz mono PCM16 to 24 kHz by 3× linear
// interpolation. The last input sample is padded by replication so the output
// always contains exactly 3 samples per input sample.
func Resample8kTo24k(pcm []byte) []byte {
	n := len(pcm) / 2
	if n == 0 {
		return nil
	}
	out := make([]byte, n*3*2)
	for i := range n {
		s0 := sampleAt(pcm, i)
		s1 := s0
		if i+1 < n {
			s1 = sampleAt(pcm, i+1)
		}
		putSample(out, i*3, s0)
		putSample(out, i*3+1, lerp(s0, s1, 1.0/3.0))
		putSample(out, i*3+2, lerp(s0, s1, 2.0/3.0))
	}
	return out
}

// Resample16kTo24k upsamples 16 kHz mono PCM16 to 24 kHz by 3:2 rational
// interpolation: every input pair produces three output samples. A trailing
// unpaired sample is padded by replication.
func Resample16kTo24k(pcm []byte) []byte {
	n := len(pcm) / 2
	if n == 0 {
		return nil
	}
	outSamples := (n * 3) / 2
	if n%2 != 0 {
		outSamples = ((n + 1) * 3) / 2
	}
	out := make([]byte, outSamples*2)
	o := 0
	for i := 0; i < n; i += 2 {
		s0 := sampleAt(pcm, i)
		s1 := s0
		if i+1 < n {
			s1 = sampleAt(pcm, i+1)
		}
		putSample(out, o, s0)
		putSample(out, o+1, lerp(s0, s1, 0.5))
		putSample(out, o+2, s1)
		o += 3
	}
	return out[:o*2]
}

// Resample24kTo8k decimates 24 kHz mono PCM16 to 8 kHz by averaging each
// group of three samples. Used for the throttled monitoring tap, where
// fidelity matters less than row size. Trailing partial groups are dropped.
func Resample24kTo8k(pcm []byte) []byte {
	n := len(pcm) / 2
	groups := n / 3
	if groups == 0 {
		return nil
	}
	out := make([]byte, groups*2)
	for i := range groups {
		sum := int32(sampleAt(pcm, i*3)) + int32(sampleAt(pcm, i*3+1)) + int32(sampleAt(pcm, i*3+2))
		putSample(out, i, clamp16(sum/3))
	}
	return out
}

// RMS returns the root-mean-square amplitude of a PCM16 frame. Returns 0 for
// frames shorter than one sample. Uses int64 accumulation so arbitrarily long
// frames cannot overflow.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum int64
	for i := range n {
		s := int64(sampleAt(pcm, i))
		sum += s * s
	}
	return math.Sqrt(float64(sum) / float64(n))
}

const (
	// autoGainTrigger is the frame RMS below which gain is applied.
	autoGainTrigger = 120
	// autoGainTarget is the RMS the gained frame is scaled toward.
	autoGainTarget = 250
	// autoGainMax caps amplification of near-silent frames.
	autoGainMax = 15.0
)

// AutoGain boosts quiet telephony frames toward a fixed target RMS. Frames at
// or above the trigger level are returned unchanged (no allocation). Gained
// samples are clamped to the int16 range.
func AutoGain(pcm []byte) []byte {
	rms := RMS(pcm)
	if rms == 0 || rms >= autoGainTrigger {
		return pcm
	}
	gain := autoGainTarget / rms
	if gain > autoGainMax {
		gain = autoGainMax
	}
	n := len(pcm) / 2
	out := make([]byte, n*2)
	for i := range n {
		scaled := int32(math.Round(float64(sampleAt(pcm, i)) * gain))
		putSample(out, i, clamp16(scaled))
	}
	return out
}

// preEmphasisCoeff is the standard speech pre-emphasis coefficient.
const preEmphasisCoeff = 0.97

// PreEmphasis applies the high-pass filter y[n] = x[n] − 0.97·x[n−1] with
// int16 saturation. The first sample passes through unchanged.
func PreEmphasis(pcm []byte) []byte {
	n := len(pcm) / 2
	if n == 0 {
		return nil
	}
	out := make([]byte, n*2)
	prev := int32(0)
	for i := range n {
		s := int32(sampleAt(pcm, i))
		if i == 0 {
			putSample(out, 0, int16(s))
		} else {
			putSample(out, i, clamp16(s-int32(math.Round(preEmphasisCoeff*float64(prev)))))
		}
		prev = s
	}
	return out
}

// sampleAt reads the i-th little-endian int16 sample.
func sampleAt(pcm []byte, i int) int16 {
	return int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
}

// putSample writes s as the i-th little-endian int16 sample.
func putSample(pcm []byte, i int, s int16) {
	pcm[i*2] = byte(s)
	pcm[i*2+1] = byte(s >> 8)
}

// lerp linearly interpolates between two samples at fraction frac ∈ [0, 1].
func lerp(s0, s1 int16, frac float64) int16 {
	return int16(float64(s0)*(1-frac) + float64(s1)*frac)
}

// clamp16 saturates a 32-bit intermediate value to the int16 range.
func clamp16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
