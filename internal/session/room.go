package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/boomhq/meeting-scribe/internal/audio"
	"github.com/boomhq/meeting-scribe/internal/conference"
	"github.com/boomhq/meeting-scribe/internal/config"
	"github.com/boomhq/meeting-scribe/internal/observability"
	"github.com/boomhq/meeting-scribe/internal/stt"
	"github.com/boomhq/meeting-scribe/internal/transcript"
)

// BroadcastEvent is a live transcript update delivered to interested
// consumers as each segment arrives.
type BroadcastEvent struct {
	RoomName  string `json:"room_name"`
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
	IsFinal   bool   `json:"is_final"`
	Timestamp string `json:"timestamp"`
}

// BroadcastFunc delivers a live transcript update. Implementations run on
// the caller's goroutine and must not block; failures are theirs to log.
type BroadcastFunc func(ev BroadcastEvent)

// StreamFactory builds a transcription stream for one speaker in a room.
type StreamFactory func(room, participantID, displayName string) stt.Stream

// RoomSession owns one room: the conference connection, one SpeakerSession
// per active speaker, and the forwarding goroutines that pump audio from
// conference tracks into those sessions.
type RoomSession struct {
	name string

	cfg       *config.Config
	dialer    conference.Dialer
	newStream StreamFactory
	store     *transcript.Store
	broadcast BroadcastFunc
	logger    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu             sync.Mutex
	room           conference.Room
	speakers       map[string]*SpeakerSession
	forwardCancels map[string]context.CancelFunc
	left           bool
	startedAt      time.Time
}

// NewRoomSession creates a session for the named room. Connect must be
// called before the session does anything.
func NewRoomSession(
	cfg *config.Config,
	name string,
	dialer conference.Dialer,
	newStream StreamFactory,
	store *transcript.Store,
	broadcast BroadcastFunc,
) *RoomSession {
	ctx, cancel := context.WithCancel(context.Background())

	return &RoomSession{
		name:           name,
		cfg:            cfg,
		dialer:         dialer,
		newStream:      newStream,
		store:          store,
		broadcast:      broadcast,
		logger:         observability.RoomLogger(name),
		ctx:            ctx,
		cancel:         cancel,
		speakers:       make(map[string]*SpeakerSession),
		forwardCancels: make(map[string]context.CancelFunc),
	}
}

// Connect joins the conference room and starts consuming its events.
func (s *RoomSession) Connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout())
	defer cancel()

	room, err := s.dialer.Dial(dialCtx, s.name)
	if err != nil {
		return err
	}

	s.store.Register(s.name)

	s.mu.Lock()
	s.room = room
	s.startedAt = time.Now()
	s.mu.Unlock()

	observability.RecordRoomJoined()
	s.logger.Info().Msg("Joined conference room")

	s.wg.Add(1)
	go s.eventLoop(room)

	return nil
}

// Leave tears the room down: stops forwarding, closes every speaker
// session, disconnects from the conference, and returns the formatted
// final transcript. The transcript is consumed exactly once; the second
// Leave on the same session reports it absent.
func (s *RoomSession) Leave() (string, bool) {
	s.mu.Lock()
	if s.left {
		s.mu.Unlock()
		return "", false
	}
	s.left = true
	room := s.room
	speakers := s.speakers
	cancels := s.forwardCancels
	s.speakers = make(map[string]*SpeakerSession)
	s.forwardCancels = make(map[string]context.CancelFunc)
	startedAt := s.startedAt
	s.mu.Unlock()

	s.cancel()

	for _, cancelForward := range cancels {
		cancelForward()
	}
	for _, speaker := range speakers {
		speaker.Close()
		observability.RecordSpeakerSessionEnd()
	}

	if room != nil {
		if err := room.Disconnect(); err != nil {
			s.logger.Warn().Err(err).Msg("Error disconnecting from conference room")
		}
	}

	s.wg.Wait()

	text, ok := s.store.FormattedTranscript(s.name)
	count, _ := s.store.ClearRoom(s.name)

	observability.RecordRoomLeft(time.Since(startedAt).Seconds())
	s.logger.Info().
		Int("entries_cleared", count).
		Bool("transcript_captured", ok && text != "").
		Msg("Left conference room")

	return text, ok
}

// SpeakerCount returns the number of active speaker sessions.
func (s *RoomSession) SpeakerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.speakers)
}

// eventLoop consumes conference room events until the room terminates.
func (s *RoomSession) eventLoop(room conference.Room) {
	defer s.wg.Done()

	for ev := range room.Events() {
		switch ev.Kind {
		case conference.EventParticipantJoined:
			s.logger.Info().
				Str("participant", ev.ParticipantName).
				Msg("Participant joined")

		case conference.EventTrackSubscribed:
			s.addSpeaker(ev.ParticipantID, ev.ParticipantName, ev.Track)

		case conference.EventParticipantLeft:
			s.logger.Info().
				Str("participant", ev.ParticipantName).
				Msg("Participant left")
			s.removeSpeaker(ev.ParticipantID)

		case conference.EventDisconnected:
			s.logger.Warn().Msg("Disconnected from conference room")
		}
	}
}

// addSpeaker creates a speaker session for a newly subscribed audio track
// and starts the forwarding loop. The initial provider connect happens
// asynchronously; frames arriving before it completes are dropped by the
// speaker session, never queued.
func (s *RoomSession) addSpeaker(participantID, displayName string, track conference.Track) {
	s.mu.Lock()
	if s.left {
		s.mu.Unlock()
		return
	}
	if _, exists := s.speakers[participantID]; exists {
		s.mu.Unlock()
		return
	}

	stream := s.newStream(s.name, participantID, displayName)
	speaker := NewSpeakerSession(s.cfg, stream, s.name, participantID, displayName,
		s.handleTranscript, s.handleSpeakerExhausted)

	forwardCtx, cancelForward := context.WithCancel(s.ctx)
	s.speakers[participantID] = speaker
	s.forwardCancels[participantID] = cancelForward
	s.mu.Unlock()

	observability.RecordSpeakerSessionStart()
	s.logger.Info().
		Str("participant", displayName).
		Msg("Starting speaker transcription")

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		connectCtx, cancel := context.WithTimeout(s.ctx, s.cfg.ConnectTimeout())
		defer cancel()
		if err := speaker.Connect(connectCtx); err != nil {
			s.logger.Warn().
				Err(err).
				Str("participant", displayName).
				Msg("Initial transcription connect failed, entering reconnect")
			speaker.reconnect()
		}
	}()
	go s.forwardAudio(forwardCtx, speaker, track)
}

// removeSpeaker tears down one speaker's session and forwarding loop.
func (s *RoomSession) removeSpeaker(participantID string) {
	s.mu.Lock()
	speaker, ok := s.speakers[participantID]
	cancelForward := s.forwardCancels[participantID]
	delete(s.speakers, participantID)
	delete(s.forwardCancels, participantID)
	s.mu.Unlock()

	if !ok {
		return
	}
	if cancelForward != nil {
		cancelForward()
	}
	speaker.Close()
	observability.RecordSpeakerSessionEnd()
}

// forwardAudio pumps one track's frames into the speaker session:
// decimate to the provider rate, then hand off. Cancellation is observed
// before every send so a leaving room stops forwarding promptly.
func (s *RoomSession) forwardAudio(ctx context.Context, speaker *SpeakerSession, track conference.Track) {
	defer s.wg.Done()

	vad := audio.NewVADDetector(nil)

	for {
		frame, err := track.NextFrame(ctx)
		if err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}

		resampled, err := audio.Decimate(frame.Samples, frame.SampleRate, s.cfg.STTSampleRate)
		if err != nil {
			s.logger.Warn().
				Err(err).
				Str("participant", speaker.DisplayName()).
				Msg("Dropping frame with unsupported sample rate")
			continue
		}

		observability.RecordSpeechActivity(vad.ProcessFrame(resampled))
		speaker.Send(audio.Int16ToBytes(resampled))
	}
}

// handleTranscript records a segment and broadcasts it live. Both interim
// and final segments are broadcast; only finals survive into the formatted
// transcript.
func (s *RoomSession) handleTranscript(speaker, text string, isFinal bool) {
	entry := s.store.AddEntry(s.name, speaker, text, isFinal)

	if s.broadcast != nil {
		go s.broadcast(BroadcastEvent{
			RoomName:  s.name,
			Speaker:   speaker,
			Text:      text,
			IsFinal:   isFinal,
			Timestamp: entry.Timestamp.Format("15:04:05"),
		})
	}
}

// handleSpeakerExhausted drops a speaker whose reconnect budget ran out.
// Already-captured transcript entries for the speaker are retained.
func (s *RoomSession) handleSpeakerExhausted(participantID string) {
	s.logger.Warn().
		Str("participant_id", participantID).
		Msg("Removing speaker after repeated transcription failures")
	s.removeSpeaker(participantID)
}
