package stt

import (
	"context"
	"fmt"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/boomhq/meeting-scribe/internal/config"
	"github.com/boomhq/meeting-scribe/internal/observability"
	"github.com/boomhq/meeting-scribe/internal/resilience"
)

// messageCallbackHandler implements the LiveMessageCallback interface.
// It embeds the default handler and overrides only the methods we need.
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	onMessage func(*msginterfaces.MessageResponse)
	onError   func(*msginterfaces.ErrorResponse)
}

func (m *messageCallbackHandler) Message(message *msginterfaces.MessageResponse) error {
	m.onMessage(message)
	return nil
}

func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	m.onError(errorResponse)
	return nil
}

// DeepgramStream implements Stream on Deepgram's live transcription API.
// One stream exists per speaker; the owning session drives the reconnect
// policy by calling Connect again after an error event.
type DeepgramStream struct {
	cfg     *config.Config
	events  chan Event
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger

	// lifetime of the underlying SDK client, independent of the
	// caller-supplied connect timeout
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	client    *listenClient.WSCallback
	connected bool
	closed    bool

	// guards the events channel against emits racing its close; SDK
	// callbacks can still fire briefly after Finish returns
	evMu     sync.RWMutex
	evClosed bool
}

// NewDeepgramStream creates a transcription stream for one speaker.
func NewDeepgramStream(cfg *config.Config, room, speaker string) *DeepgramStream {
	ctx, cancel := context.WithCancel(context.Background())

	return &DeepgramStream{
		cfg:    cfg,
		events: make(chan Event, 100),
		breaker: resilience.NewCircuitBreaker(
			"deepgram",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
		logger: observability.SpeakerLogger(room, speaker),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Connect opens a live transcription session with fixed model options.
func (d *DeepgramStream) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return fmt.Errorf("deepgram stream is closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// A previous client may linger after a transport error; finish it
	// before opening a fresh session.
	if d.client != nil {
		d.client.Finish()
		d.client = nil
	}

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.cfg.DeepgramModel,
		Language:       d.cfg.DeepgramLanguage,
		Punctuate:      true,
		SmartFormat:    true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		VadEvents:      true,
		Encoding:       "linear16",
		Channels:       1,
		SampleRate:     d.cfg.STTSampleRate,
	}

	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		onMessage:              d.handleMessage,
		onError:                d.handleError,
	}

	client, err := listenClient.NewWSUsingCallback(
		d.ctx,
		d.cfg.DeepgramAPIKey,
		nil, // ClientOptions - nil uses defaults
		tOptions,
		callback,
	)
	if err != nil {
		return fmt.Errorf("failed to create deepgram client: %w", err)
	}

	d.client = client
	d.connected = true
	d.breaker.Reset()
	observability.UpdateCircuitBreakerState("deepgram", int(d.breaker.GetState()))

	d.logger.Info().
		Str("model", d.cfg.DeepgramModel).
		Str("language", d.cfg.DeepgramLanguage).
		Msg("Deepgram stream connected")

	d.emit(Event{Kind: EventOpened})
	return nil
}

// Send forwards an audio chunk to Deepgram.
func (d *DeepgramStream) Send(audio []byte) error {
	err := d.breaker.Call(func() error {
		d.mu.RLock()
		connected := d.connected
		client := d.client
		d.mu.RUnlock()

		if !connected || client == nil {
			return fmt.Errorf("deepgram stream is not connected")
		}

		if _, err := client.Write(audio); err != nil {
			return fmt.Errorf("failed to send audio to deepgram: %w", err)
		}
		return nil
	})

	observability.UpdateCircuitBreakerState("deepgram", int(d.breaker.GetState()))
	return err
}

// Events returns the inbound event channel.
func (d *DeepgramStream) Events() <-chan Event {
	return d.events
}

// Close terminates the stream. Always succeeds: a failing provider
// finish call is logged, never propagated.
func (d *DeepgramStream) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.connected = false
	client := d.client
	d.client = nil
	d.mu.Unlock()

	d.cancel()

	if client != nil {
		client.Finish()
	}

	d.emit(Event{Kind: EventClosed})

	// Close the event channel after a short delay so pending reads can
	// drain and the consuming loop exits.
	go func() {
		time.Sleep(100 * time.Millisecond)
		d.evMu.Lock()
		d.evClosed = true
		close(d.events)
		d.evMu.Unlock()
	}()

	d.logger.Info().Msg("Deepgram stream closed")
	return nil
}

// handleMessage processes messages from Deepgram.
func (d *DeepgramStream) handleMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil {
		return
	}

	switch msg.Type {
	case "Metadata":
		d.logger.Debug().Msg("Deepgram metadata received")

	case "SpeechStarted":
		d.logger.Debug().Msg("Deepgram: speech started")
		observability.RecordSTTEvent("speech_started")

	case "UtteranceEnd":
		observability.RecordSTTEvent("utterance_end")
		d.emit(Event{Kind: EventUtteranceEnd})

	case "Results", "Message":
		if len(msg.Channel.Alternatives) == 0 {
			return
		}

		// Best alternative is first
		alt := msg.Channel.Alternatives[0]
		if alt.Transcript == "" {
			return
		}

		observability.RecordSTTEvent("transcript")
		d.emit(Event{
			Kind:       EventTranscript,
			Text:       alt.Transcript,
			IsFinal:    msg.IsFinal,
			Confidence: alt.Confidence,
		})

	default:
		d.logger.Debug().Str("type", msg.Type).Msg("Deepgram: unknown message type")
	}
}

// handleError processes error callbacks from Deepgram.
func (d *DeepgramStream) handleError(errorResponse *msginterfaces.ErrorResponse) {
	d.logger.Error().Str("response", fmt.Sprintf("%+v", errorResponse)).Msg("Deepgram error")

	observability.RecordSTTEvent("error")

	d.mu.Lock()
	d.connected = false
	d.mu.Unlock()

	d.breaker.RecordResult(false)
	observability.UpdateCircuitBreakerState("deepgram", int(d.breaker.GetState()))

	d.emit(Event{
		Kind: EventError,
		Err:  fmt.Errorf("deepgram error: %+v", errorResponse),
	})
}

// emit pushes an event without blocking; consumers falling behind lose
// events rather than stalling the provider callback. Events arriving
// after the channel is closed are dropped.
func (d *DeepgramStream) emit(ev Event) {
	d.evMu.RLock()
	defer d.evMu.RUnlock()
	if d.evClosed {
		return
	}

	select {
	case d.events <- ev:
	default:
		d.logger.Warn().Int("kind", int(ev.Kind)).Msg("Event channel full, dropping event")
	}
}
