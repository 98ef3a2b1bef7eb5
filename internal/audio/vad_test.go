package audio

import (
	"testing"
)

func loudFrame(n int) []int16 {
	frame := make([]int16, n)
	for i := range frame {
		frame[i] = 2000
	}
	return frame
}

func TestVAD_SpeechStart(t *testing.T) {
	vad := NewVADDetector(nil)

	if vad.ProcessFrame(make([]int16, 160)) {
		t.Error("Silence should not start speech")
	}

	if !vad.ProcessFrame(loudFrame(160)) {
		t.Error("Loud frame should start speech")
	}
	if !vad.IsSpeaking() {
		t.Error("Expected speaking state after loud frame")
	}
}

func TestVAD_SpeechEndAfterSilence(t *testing.T) {
	config := &VADConfig{EnergyThreshold: 500.0, SilenceFrames: 3}
	vad := NewVADDetector(config)

	vad.ProcessFrame(loudFrame(160))

	// Speech persists through short silences
	if !vad.ProcessFrame(make([]int16, 160)) {
		t.Error("Speech should persist through 1 silence frame")
	}
	if !vad.ProcessFrame(make([]int16, 160)) {
		t.Error("Speech should persist through 2 silence frames")
	}

	// Third consecutive silence frame ends speech
	if vad.ProcessFrame(make([]int16, 160)) {
		t.Error("Speech should end after SilenceFrames silence frames")
	}
}

func TestVAD_SilenceCounterResets(t *testing.T) {
	config := &VADConfig{EnergyThreshold: 500.0, SilenceFrames: 3}
	vad := NewVADDetector(config)

	vad.ProcessFrame(loudFrame(160))
	vad.ProcessFrame(make([]int16, 160))
	vad.ProcessFrame(make([]int16, 160))
	vad.ProcessFrame(loudFrame(160)) // resets the counter

	if !vad.ProcessFrame(make([]int16, 160)) {
		t.Error("Speech should persist after counter reset")
	}
}

func TestVAD_Reset(t *testing.T) {
	vad := NewVADDetector(nil)
	vad.ProcessFrame(loudFrame(160))
	vad.Reset()

	if vad.IsSpeaking() {
		t.Error("Expected not speaking after Reset")
	}
}
