package conference

import (
	"context"
	"errors"
)

// ErrTrackEnded is returned by NextFrame when a track has no more audio.
var ErrTrackEnded = errors.New("track ended")

// Frame is one chunk of 16-bit mono PCM from a participant, at the
// conferencing platform's native sample rate.
type Frame struct {
	Samples    []int16
	SampleRate int
}

// Track is one participant's live audio feed.
type Track interface {
	// NextFrame blocks until the next frame arrives, the context is
	// cancelled, or the track ends (ErrTrackEnded).
	NextFrame(ctx context.Context) (Frame, error)
}

// EventKind identifies the variant carried by an Event.
type EventKind int

const (
	// EventParticipantJoined signals a new remote participant.
	EventParticipantJoined EventKind = iota
	// EventTrackSubscribed signals a participant's audio track is available.
	EventTrackSubscribed
	// EventParticipantLeft signals a participant disconnected.
	EventParticipantLeft
	// EventDisconnected signals the room connection is gone.
	EventDisconnected
)

// Event is the tagged variant delivered on a Room's event channel.
type Event struct {
	Kind            EventKind
	ParticipantID   string
	ParticipantName string
	Track           Track // EventTrackSubscribed only
}

// Room is one live conference room membership.
type Room interface {
	// Events returns the inbound event channel. It is closed after an
	// EventDisconnected or a Disconnect call.
	Events() <-chan Event

	// Disconnect leaves the room. Idempotent.
	Disconnect() error
}

// Dialer joins conference rooms. The caller bounds Dial with a context
// timeout; failing to connect within it is a connection failure.
type Dialer interface {
	Dial(ctx context.Context, room string) (Room, error)
}
