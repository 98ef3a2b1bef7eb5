package conference

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/boomhq/meeting-scribe/internal/audio"
	"github.com/boomhq/meeting-scribe/internal/config"
	"github.com/boomhq/meeting-scribe/internal/observability"
)

const (
	// 20ms of 16-bit mono PCM at 48kHz
	frameSamples = 960
	frameBytes   = frameSamples * 2

	trackBufferBytes = 64 * 1024
	frameQueueSize   = 100
)

// roomMessage is the JSON envelope the conferencing platform sends over the
// media WebSocket.
type roomMessage struct {
	Event       string           `json:"event"`
	Room        string           `json:"room,omitempty"`
	Participant *participantInfo `json:"participant,omitempty"`
	Media       *mediaPayload    `json:"media,omitempty"`
}

type participantInfo struct {
	Identity string `json:"identity"`
	Name     string `json:"name,omitempty"`
}

// mediaPayload carries one base64-encoded chunk of 16-bit LE PCM.
type mediaPayload struct {
	Participant string `json:"participant"`
	Payload     string `json:"payload"`
	SampleRate  int    `json:"sample_rate,omitempty"`
}

// wsTrack assembles media payloads of arbitrary size into fixed 20ms
// frames. Frames are dropped, never queued unboundedly, when the consumer
// falls behind.
type wsTrack struct {
	participantID string
	sampleRate    int
	buf           *audio.RingBuffer
	frames        chan Frame
	closeOnce     sync.Once
	logger        zerolog.Logger
}

func newWSTrack(participantID string, sampleRate int, logger zerolog.Logger) *wsTrack {
	return &wsTrack{
		participantID: participantID,
		sampleRate:    sampleRate,
		buf:           audio.NewRingBuffer(trackBufferBytes),
		frames:        make(chan Frame, frameQueueSize),
		logger:        logger,
	}
}

// setRate adopts the source rate announced with a media chunk so emitted
// frames carry it. Only the read loop calls this.
func (t *wsTrack) setRate(rate int) {
	if rate != t.sampleRate {
		t.logger.Info().Int("sample_rate", rate).Msg("Track sample rate changed")
		t.sampleRate = rate
	}
}

// push ingests a decoded media chunk and emits any complete frames.
func (t *wsTrack) push(data []byte) {
	if written := t.buf.Write(data); written < len(data) {
		t.logger.Warn().Int("dropped", len(data)-written).Msg("Track buffer overflow, dropping audio")
	}

	for t.buf.Available() >= frameBytes {
		raw := make([]byte, frameBytes)
		t.buf.Read(raw)

		samples, err := audio.BytesToInt16(raw)
		if err != nil {
			// Unreachable with an even frame size; guard anyway.
			t.logger.Error().Err(err).Msg("Failed to decode PCM frame")
			return
		}

		select {
		case t.frames <- Frame{Samples: samples, SampleRate: t.sampleRate}:
		default:
			t.logger.Warn().Msg("Frame queue full, dropping frame")
		}
	}
}

func (t *wsTrack) end() {
	t.closeOnce.Do(func() { close(t.frames) })
}

// NextFrame returns the next assembled frame.
func (t *wsTrack) NextFrame(ctx context.Context) (Frame, error) {
	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case frame, ok := <-t.frames:
		if !ok {
			return Frame{}, ErrTrackEnded
		}
		return frame, nil
	}
}

// wsRoom is a Room implementation speaking the platform's JSON media-stream
// protocol over a WebSocket.
type wsRoom struct {
	name   string
	conn   *websocket.Conn
	events chan Event
	logger zerolog.Logger

	mu     sync.Mutex
	tracks map[string]*wsTrack
	closed bool

	sampleRate     int
	disconnectOnce sync.Once
}

// Events returns the room event channel.
func (r *wsRoom) Events() <-chan Event {
	return r.events
}

// Disconnect leaves the room and tears down all tracks.
func (r *wsRoom) Disconnect() error {
	r.disconnectOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		tracks := make([]*wsTrack, 0, len(r.tracks))
		for _, t := range r.tracks {
			tracks = append(tracks, t)
		}
		r.mu.Unlock()

		// Best-effort goodbye; the read loop handles the actual close.
		msg := roomMessage{Event: "leave", Room: r.name}
		if data, err := json.Marshal(msg); err == nil {
			_ = r.conn.WriteMessage(websocket.TextMessage, data)
		}
		_ = r.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = r.conn.Close()

		for _, t := range tracks {
			t.end()
		}

		r.logger.Info().Msg("Disconnected from conference room")
	})
	return nil
}

// readLoop consumes WebSocket messages until the connection drops.
func (r *wsRoom) readLoop() {
	defer func() {
		r.mu.Lock()
		alreadyClosed := r.closed
		r.closed = true
		tracks := make([]*wsTrack, 0, len(r.tracks))
		for _, t := range r.tracks {
			tracks = append(tracks, t)
		}
		r.tracks = make(map[string]*wsTrack)
		r.mu.Unlock()

		for _, t := range tracks {
			t.end()
		}
		if !alreadyClosed {
			r.emit(Event{Kind: EventDisconnected})
		}
		close(r.events)
	}()

	for {
		_, message, err := r.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				r.logger.Warn().Err(err).Msg("Conference WebSocket read error")
			}
			return
		}

		var msg roomMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			r.logger.Error().Err(err).Msg("Failed to parse conference message")
			continue
		}

		switch msg.Event {
		case "joined":
			r.logger.Info().Str("room", msg.Room).Msg("Conference room confirmed join")

		case "participant_joined":
			if msg.Participant == nil {
				continue
			}
			r.handleParticipantJoined(msg.Participant)

		case "participant_left":
			if msg.Participant == nil {
				continue
			}
			r.handleParticipantLeft(msg.Participant.Identity)

		case "media":
			if msg.Media != nil {
				r.handleMedia(msg.Media)
			}

		case "bye":
			r.logger.Info().Msg("Conference room closed by server")
			return

		default:
			r.logger.Debug().Str("event", msg.Event).Msg("Unknown conference event")
		}
	}
}

func (r *wsRoom) handleParticipantJoined(p *participantInfo) {
	name := p.Name
	if name == "" {
		name = p.Identity
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	track, exists := r.tracks[p.Identity]
	if !exists {
		track = newWSTrack(p.Identity, r.sampleRate,
			r.logger.With().Str("participant", p.Identity).Logger())
		r.tracks[p.Identity] = track
	}
	r.mu.Unlock()

	if exists {
		return
	}

	r.logger.Info().Str("participant", p.Identity).Str("name", name).Msg("Participant joined")
	r.emit(Event{Kind: EventParticipantJoined, ParticipantID: p.Identity, ParticipantName: name})
	r.emit(Event{Kind: EventTrackSubscribed, ParticipantID: p.Identity, ParticipantName: name, Track: track})
}

func (r *wsRoom) handleParticipantLeft(identity string) {
	r.mu.Lock()
	track := r.tracks[identity]
	delete(r.tracks, identity)
	r.mu.Unlock()

	if track != nil {
		track.end()
	}

	r.logger.Info().Str("participant", identity).Msg("Participant left")
	r.emit(Event{Kind: EventParticipantLeft, ParticipantID: identity})
}

func (r *wsRoom) handleMedia(media *mediaPayload) {
	if media.Payload == "" {
		return
	}

	data, err := base64.StdEncoding.DecodeString(media.Payload)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to decode base64 audio")
		return
	}

	r.mu.Lock()
	track := r.tracks[media.Participant]
	r.mu.Unlock()

	if track == nil {
		// Media for an unannounced participant; the platform should have
		// sent participant_joined first.
		r.logger.Debug().Str("participant", media.Participant).Msg("Media for unknown participant")
		return
	}

	if media.SampleRate > 0 {
		track.setRate(media.SampleRate)
	}
	track.push(data)
}

// emit pushes a room event without blocking the read loop.
func (r *wsRoom) emit(ev Event) {
	select {
	case r.events <- ev:
	default:
		r.logger.Warn().Int("kind", int(ev.Kind)).Msg("Room event channel full, dropping event")
	}
}

// WSDialer joins conference rooms over the platform's media WebSocket.
type WSDialer struct {
	cfg *config.Config
}

// NewWSDialer creates a dialer from service configuration.
func NewWSDialer(cfg *config.Config) *WSDialer {
	return &WSDialer{cfg: cfg}
}

// Dial connects to a room as a subscribe-only participant.
func (d *WSDialer) Dial(ctx context.Context, room string) (Room, error) {
	endpoint := strings.TrimRight(d.cfg.ConferenceURL, "/")
	u := fmt.Sprintf("%s/rooms/%s?identity=%s", endpoint, url.PathEscape(room),
		url.QueryEscape("scribe-"+room))

	header := http.Header{}
	header.Set("X-API-Key", d.cfg.ConferenceAPIKey)
	header.Set("X-API-Secret", d.cfg.ConferenceAPISecret)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to join room %s: %s: %w", room, resp.Status, err)
		}
		return nil, fmt.Errorf("failed to join room %s: %w", room, err)
	}

	r := &wsRoom{
		name:       room,
		conn:       conn,
		events:     make(chan Event, 32),
		tracks:     make(map[string]*wsTrack),
		sampleRate: d.cfg.SourceSampleRate,
		logger:     observability.RoomLogger(room),
	}

	// Announce ourselves as a non-publishing participant.
	join := roomMessage{Event: "join", Room: room}
	if data, err := json.Marshal(join); err == nil {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to send join message: %w", err)
		}
	}

	go r.readLoop()

	return r, nil
}
