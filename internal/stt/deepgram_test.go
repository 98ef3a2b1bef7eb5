package stt

import (
	"testing"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"

	"github.com/boomhq/meeting-scribe/internal/config"
)

func testStream() *DeepgramStream {
	return NewDeepgramStream(&config.Config{
		DeepgramAPIKey:             "test-key",
		DeepgramModel:              "nova-2",
		DeepgramLanguage:           "en",
		STTSampleRate:              16000,
		CircuitBreakerMaxFailures:  3,
		CircuitBreakerResetTimeout: 1,
	}, "standup", "p1")
}

func TestClose_EmitsClosedEventThenShutsChannel(t *testing.T) {
	s := testStream()

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	ev, ok := <-s.Events()
	if !ok || ev.Kind != EventClosed {
		t.Fatalf("first event after Close = %+v (open=%v), want EventClosed", ev, ok)
	}

	select {
	case _, ok := <-s.Events():
		if ok {
			t.Error("unexpected event after EventClosed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event channel never closed")
	}
}

func TestLateCallbackAfterCloseIsDropped(t *testing.T) {
	s := testStream()

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	for range s.Events() {
	}

	// Provider callbacks can land after Finish; they must be discarded
	// without panicking on the closed channel.
	s.handleMessage(&msginterfaces.MessageResponse{Type: "UtteranceEnd"})
	s.emit(Event{Kind: EventTranscript, Text: "late"})
}

func TestCloseIsIdempotent(t *testing.T) {
	s := testStream()

	if err := s.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	s := testStream()
	s.Close()

	if err := s.Send([]byte{0, 0}); err == nil {
		t.Error("Send after Close succeeded, want error")
	}
}
