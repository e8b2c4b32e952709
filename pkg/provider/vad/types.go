package vad

// VADEvent represents a voice activity detection result for a single audio frame.
type VADEvent struct {
	// Type is the detection result.
	Type VADEventType

	// Probability is an informational activity score (0.0–1.0). Gating
	// decisions use Type, never Probability.
	Probability float64

	// Level is the measured signal level in the engine's native scale, e.g.
	// RMS for energy engines.
	Level float64
}

// Active reports whether the event marks the frame as containing activity.
func (e VADEvent) Active() bool {
	return e.Type == VADSpeechStart || e.Type == VADSpeechContinue
}

// VADEventType enumerates VAD detection states.
type VADEventType int

const (
	// VADSpeechStart indicates speech has just begun.
	VADSpeechStart VADEventType = iota

	// VADSpeechContinue indicates ongoing speech.
	VADSpeechContinue

	// VADSpeechEnd indicates speech has just ended.
	VADSpeechEnd

	// VADSilence indicates no speech detected.
	VADSilence
)

// String returns the human-readable name of the event type.
func (t VADEventType) String() string {
	switch t {
	case VADSpeechStart:
		return "SPEECH_START"
	case VADSpeechContinue:
		return "SPEECH_CONTINUE"
	case VADSpeechEnd:
		return "SPEECH_END"
	case VADSilence:
		return "SILENCE"
	default:
		return "UNKNOWN"
	}
}

// Transition derives the event type for a frame from the previous and current
// activity states.
func Transition(wasActive, active bool) VADEventType {
	switch {
	case active && !wasActive:
		return VADSpeechStart
	case active:
		return VADSpeechContinue
	case wasActive:
		return VADSpeechEnd
	default:
		return VADSilence
	}
}
