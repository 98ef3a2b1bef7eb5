package audio

// VADConfig holds configuration for Voice Activity Detection
type VADConfig struct {
	EnergyThreshold float64 // RMS energy threshold for speech detection
	SilenceFrames   int     // Number of consecutive silence frames to mark as end of speech
}

// DefaultVADConfig returns a default VAD configuration
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   10, // 200ms at 20ms frames
	}
}

// VADDetector performs energy-based Voice Activity Detection. It never
// gates audio in this service: every frame is still forwarded while the
// speaker stream is connected, VAD output only feeds speech-activity
// observability.
type VADDetector struct {
	config         *VADConfig
	silenceCounter int
	isSpeaking     bool
}

// NewVADDetector creates a new VAD detector
func NewVADDetector(config *VADConfig) *VADDetector {
	if config == nil {
		config = DefaultVADConfig()
	}
	return &VADDetector{config: config}
}

// ProcessFrame processes an audio frame and returns whether speech is
// currently detected.
func (v *VADDetector) ProcessFrame(samples []int16) bool {
	rms := CalculateRMS(samples)
	frameHasSpeech := rms > v.config.EnergyThreshold

	if frameHasSpeech {
		v.silenceCounter = 0
		v.isSpeaking = true
	} else if v.isSpeaking {
		v.silenceCounter++
		if v.silenceCounter >= v.config.SilenceFrames {
			v.isSpeaking = false
			v.silenceCounter = 0
		}
	}

	return v.isSpeaking
}

// IsSpeaking returns the current speaking state
func (v *VADDetector) IsSpeaking() bool {
	return v.isSpeaking
}

// Reset resets the detector state
func (v *VADDetector) Reset() {
	v.silenceCounter = 0
	v.isSpeaking = false
}
