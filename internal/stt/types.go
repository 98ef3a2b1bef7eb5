package stt

import "context"

// EventKind identifies the variant carried by an Event.
type EventKind int

const (
	// EventOpened signals the provider accepted the streaming session.
	EventOpened EventKind = iota
	// EventTranscript carries a transcription result.
	EventTranscript
	// EventError carries a provider or transport failure.
	EventError
	// EventClosed signals the stream has terminated.
	EventClosed
	// EventUtteranceEnd signals the provider detected end of speech.
	EventUtteranceEnd
)

// Event is the tagged variant delivered on a Stream's event channel. Only
// the fields relevant to the Kind are populated.
type Event struct {
	Kind       EventKind
	Text       string  // EventTranscript
	IsFinal    bool    // EventTranscript
	Confidence float64 // EventTranscript
	Err        error   // EventError
}

// Stream is one live transcription session with the provider. Implementations
// deliver all inbound activity as Events on a single channel; consumers are
// ordinary message loops, not registered callbacks.
type Stream interface {
	// Connect opens the streaming session. The caller bounds it with a
	// context timeout; failing to connect within it is a connection failure.
	Connect(ctx context.Context) error

	// Send forwards already-resampled, already-encoded audio to the provider.
	Send(audio []byte) error

	// Events returns the inbound event channel. It is closed when the
	// stream terminates for good.
	Events() <-chan Event

	// Close requests graceful stream termination. Safe to call from any
	// state, including repeatedly.
	Close() error
}
