package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/boomhq/meeting-scribe/internal/conference"
	"github.com/boomhq/meeting-scribe/internal/config"
	"github.com/boomhq/meeting-scribe/internal/stt"
)

func testConfig() *config.Config {
	return &config.Config{
		SourceSampleRate:      48000,
		STTSampleRate:         16000,
		MaxTranscriptEntries:  100,
		ConnectTimeoutSeconds: 1,
		ReconnectMaxAttempts:  3,
		ReconnectBackoff:      1,
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// fakeStream is an in-memory stt.Stream that records sends and lets tests
// inject events and connect failures.
type fakeStream struct {
	mu          sync.Mutex
	connectErrs []error // consumed in order; nil-or-empty means success
	connects    int
	sent        [][]byte
	sendErr     error
	closed      int
	events      chan stt.Event
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan stt.Event, 32)}
}

func (f *fakeStream) Connect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		return err
	}
	return nil
}

func (f *fakeStream) Send(audio []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	buf := make([]byte, len(audio))
	copy(buf, audio)
	f.sent = append(f.sent, buf)
	return nil
}

func (f *fakeStream) Events() <-chan stt.Event { return f.events }

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeStream) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeStream) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeStream) failConnects(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < n; i++ {
		f.connectErrs = append(f.connectErrs, errors.New("connect refused"))
	}
}

// fakeTrack delivers frames from a channel.
type fakeTrack struct {
	frames chan conference.Frame
	once   sync.Once
}

func newFakeTrack() *fakeTrack {
	return &fakeTrack{frames: make(chan conference.Frame, 32)}
}

func (f *fakeTrack) NextFrame(ctx context.Context) (conference.Frame, error) {
	select {
	case <-ctx.Done():
		return conference.Frame{}, ctx.Err()
	case frame, ok := <-f.frames:
		if !ok {
			return conference.Frame{}, conference.ErrTrackEnded
		}
		return frame, nil
	}
}

func (f *fakeTrack) push(samples []int16, rate int) {
	f.frames <- conference.Frame{Samples: samples, SampleRate: rate}
}

func (f *fakeTrack) end() {
	f.once.Do(func() { close(f.frames) })
}

// fakeRoom delivers scripted conference events.
type fakeRoom struct {
	events chan conference.Event

	mu           sync.Mutex
	disconnects  int
	disconnected bool
}

func newFakeRoom() *fakeRoom {
	return &fakeRoom{events: make(chan conference.Event, 32)}
}

func (f *fakeRoom) Events() <-chan conference.Event { return f.events }

func (f *fakeRoom) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	if !f.disconnected {
		f.disconnected = true
		close(f.events)
	}
	return nil
}

func (f *fakeRoom) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

func (f *fakeRoom) emitTrack(id, name string, track conference.Track) {
	f.events <- conference.Event{
		Kind:            conference.EventTrackSubscribed,
		ParticipantID:   id,
		ParticipantName: name,
		Track:           track,
	}
}

func (f *fakeRoom) emitLeft(id, name string) {
	f.events <- conference.Event{
		Kind:            conference.EventParticipantLeft,
		ParticipantID:   id,
		ParticipantName: name,
	}
}

// fakeDialer hands out fakeRooms and counts dials.
type fakeDialer struct {
	mu      sync.Mutex
	dials   int
	dialErr error
	rooms   map[string]*fakeRoom
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{rooms: make(map[string]*fakeRoom)}
}

func (f *fakeDialer) Dial(_ context.Context, room string) (conference.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	if f.dialErr != nil {
		return nil, f.dialErr
	}
	r := newFakeRoom()
	f.rooms[room] = r
	return r, nil
}

func (f *fakeDialer) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func (f *fakeDialer) roomFor(name string) *fakeRoom {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rooms[name]
}
