package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/boomhq/meeting-scribe/internal/config"
	"github.com/boomhq/meeting-scribe/internal/observability"
	"github.com/boomhq/meeting-scribe/internal/resilience"
	"github.com/boomhq/meeting-scribe/internal/stt"
)

// State is the lifecycle state of a speaker's transcription stream.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// TranscriptFunc receives trimmed, non-empty transcript text for a speaker.
type TranscriptFunc func(speaker, text string, isFinal bool)

// ExhaustedFunc is invoked when a speaker's reconnect budget runs out; the
// owning room removes the speaker session in response.
type ExhaustedFunc func(participantID string)

// SpeakerSession owns one speaker's live connection to the transcription
// provider. While Connected, every frame accepted by Send is forwarded in
// submission order; frames arriving in any other state are dropped, never
// queued.
type SpeakerSession struct {
	room          string
	participantID string
	displayName   string

	stream       stt.Stream
	onTranscript TranscriptFunc
	onExhausted  ExhaustedFunc

	cfg    *config.Config
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	loopOnce sync.Once
	wg       sync.WaitGroup

	mu           sync.RWMutex
	state        State
	attempts     int // reconnect attempts since last successful connect
	reconnecting bool
}

// NewSpeakerSession creates a session for one (room, participant) pair.
func NewSpeakerSession(
	cfg *config.Config,
	stream stt.Stream,
	room, participantID, displayName string,
	onTranscript TranscriptFunc,
	onExhausted ExhaustedFunc,
) *SpeakerSession {
	ctx, cancel := context.WithCancel(context.Background())

	return &SpeakerSession{
		room:          room,
		participantID: participantID,
		displayName:   displayName,
		stream:        stream,
		onTranscript:  onTranscript,
		onExhausted:   onExhausted,
		cfg:           cfg,
		logger:        observability.SpeakerLogger(room, displayName),
		ctx:           ctx,
		cancel:        cancel,
		state:         StateDisconnected,
	}
}

// Connect opens the provider stream. A successful connect resets the
// reconnect counter; a failure leaves the session Disconnected and the
// caller (or the error path) drives the reconnect policy.
func (s *SpeakerSession) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateClosing || s.state == StateClosed {
		s.mu.Unlock()
		return context.Canceled
	}
	s.state = StateConnecting
	s.mu.Unlock()

	err := s.stream.Connect(ctx)

	s.mu.Lock()
	if s.state == StateClosing || s.state == StateClosed {
		s.mu.Unlock()
		return context.Canceled
	}
	if err != nil {
		s.state = StateDisconnected
		s.mu.Unlock()
		return err
	}
	s.state = StateConnected
	s.attempts = 0
	s.mu.Unlock()

	s.loopOnce.Do(func() {
		s.wg.Add(1)
		go s.eventLoop()
	})

	return nil
}

// Send forwards already-resampled audio. It returns false when the frame
// was dropped; callers treat that as backpressure, not as fatal.
func (s *SpeakerSession) Send(audio []byte) bool {
	s.mu.RLock()
	connected := s.state == StateConnected
	s.mu.RUnlock()

	if !connected {
		observability.RecordFrameDropped()
		return false
	}

	if err := s.stream.Send(audio); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to send audio, dropping frame")
		go s.reconnect()
		return false
	}

	observability.RecordAudioForwarded(len(audio))
	return true
}

// Close requests stream termination. It is safe to call from any state,
// including repeatedly and during cancellation.
func (s *SpeakerSession) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosing
	s.mu.Unlock()

	s.cancel()

	if err := s.stream.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Error closing transcription stream")
	}

	s.wg.Wait()

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()

	s.logger.Debug().Msg("Speaker session closed")
}

// State returns the current lifecycle state.
func (s *SpeakerSession) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Attempts reports how many reconnect attempts have been made since the
// last successful connect.
func (s *SpeakerSession) Attempts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attempts
}

// DisplayName returns the attribution label used for this speaker.
func (s *SpeakerSession) DisplayName() string {
	return s.displayName
}

// eventLoop consumes provider events until the stream terminates.
func (s *SpeakerSession) eventLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-s.stream.Events():
			if !ok {
				return
			}
			s.handleEvent(ev)
		}
	}
}

func (s *SpeakerSession) handleEvent(ev stt.Event) {
	switch ev.Kind {
	case stt.EventOpened:
		s.logger.Debug().Msg("Transcription stream opened")

	case stt.EventTranscript:
		text := strings.TrimSpace(ev.Text)
		if text == "" {
			return
		}
		if s.onTranscript != nil {
			s.onTranscript(s.displayName, text, ev.IsFinal)
		}

	case stt.EventUtteranceEnd:
		s.logger.Debug().Msg("Utterance end detected")

	case stt.EventError:
		s.logger.Warn().Err(ev.Err).Msg("Transcription stream error")
		go s.reconnect()

	case stt.EventClosed:
		s.mu.RLock()
		state := s.state
		s.mu.RUnlock()
		if state == StateConnected || state == StateConnecting {
			// Provider closed the stream underneath us.
			go s.reconnect()
		}
	}
}

// reconnect drives the bounded reconnect policy: re-enter Connecting with
// exponential backoff up to the configured attempt limit. Exhausting the
// budget leaves the session permanently Disconnected and notifies the
// owning room to drop the speaker.
func (s *SpeakerSession) reconnect() {
	s.mu.Lock()
	if s.reconnecting || s.state == StateClosing || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	s.state = StateDisconnected
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.reconnecting = false
		s.mu.Unlock()
	}()

	reconnectCfg := &resilience.ReconnectConfig{
		MaxAttempts: s.cfg.ReconnectMaxAttempts,
		Backoff:     time.Duration(s.cfg.ReconnectBackoff) * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	}

	err := resilience.Reconnect(s.ctx, func() error {
		s.mu.Lock()
		s.attempts++
		s.mu.Unlock()

		connectCtx, cancel := context.WithTimeout(s.ctx, s.cfg.ConnectTimeout())
		defer cancel()
		return s.Connect(connectCtx)
	}, reconnectCfg)

	if err != nil {
		if s.ctx.Err() != nil {
			// Session was closed while reconnecting; not an exhaustion.
			return
		}
		s.logger.Error().
			Err(err).
			Int("attempts", s.Attempts()).
			Int("max_attempts", s.cfg.ReconnectMaxAttempts).
			Msg("Reconnect budget exhausted, dropping speaker")
		observability.RecordSTTReconnect("exhausted")
		if s.onExhausted != nil {
			s.onExhausted(s.participantID)
		}
		return
	}

	observability.RecordSTTReconnect("success")
	s.logger.Info().Msg("Transcription stream reconnected")
}
