package audio

import (
	"fmt"
	"math"
)

// Decimate downsamples 16-bit mono PCM by keeping every Nth sample, where
// N = fromRate/toRate. The ratio must be an exact integer: this is a
// deliberate simplicity trade-off (no anti-aliasing filter is applied), not
// a general-purpose resampler. Non-integer ratios fail fast rather than
// silently distort the audio.
func Decimate(samples []int16, fromRate, toRate int) ([]int16, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates: %d -> %d", fromRate, toRate)
	}
	if fromRate == toRate {
		return samples, nil
	}
	if fromRate < toRate || fromRate%toRate != 0 {
		return nil, fmt.Errorf("sample rate ratio %d/%d is not an integer", fromRate, toRate)
	}

	ratio := fromRate / toRate
	// Output length is ceil(len/ratio): index 0 is always kept.
	out := make([]int16, 0, (len(samples)+ratio-1)/ratio)
	for i := 0; i < len(samples); i += ratio {
		out = append(out, samples[i])
	}
	return out, nil
}

// BytesToInt16 converts little-endian 16-bit PCM bytes to samples
func BytesToInt16(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples)")
	}

	samples := make([]int16, len(data)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples, nil
}

// Int16ToBytes converts samples to little-endian 16-bit PCM bytes
func Int16ToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, sample := range samples {
		data[i*2] = byte(sample)
		data[i*2+1] = byte(sample >> 8)
	}
	return data
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
// Useful for detecting audio levels and silence
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}
