package batch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/boomhq/meeting-scribe/internal/notes"
	"github.com/boomhq/meeting-scribe/internal/stt"
)

type fakeTranscriber struct {
	mu       sync.Mutex
	segments []stt.Segment
	err      error
	gotAudio []byte
	block    chan struct{} // when set, Transcribe waits for it to close
}

func (f *fakeTranscriber) Transcribe(_ context.Context, audio []byte, _ string) ([]stt.Segment, error) {
	f.mu.Lock()
	f.gotAudio = audio
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.segments, nil
}

type fakeGenerator struct {
	mu     sync.Mutex
	result *notes.Result
	err    error
	gotIn  string
}

func (f *fakeGenerator) Generate(_ context.Context, transcript string) (*notes.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotIn = transcript
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeGenerator) input() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gotIn
}

type fakeSaver struct {
	mu    sync.Mutex
	saved map[string]*notes.Result
}

func newFakeSaver() *fakeSaver {
	return &fakeSaver{saved: make(map[string]*notes.Result)}
}

func (f *fakeSaver) SaveNotes(room string, result *notes.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved[room] = result
}

func (f *fakeSaver) get(room string) *notes.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saved[room]
}

// waitDone polls until the processor has no in-flight jobs.
func waitDone(t *testing.T, p *Processor) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.Active() == 0 {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("pipeline did not finish in time")
}

func audioServer(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
}

func TestProcess_SavesNotesOnCompletion(t *testing.T) {
	server := audioServer(t, []byte("ogg-bytes"))
	defer server.Close()

	transcriber := &fakeTranscriber{segments: []stt.Segment{
		{Speaker: "Speaker 0", Text: "Hello there.", Timestamp: "00:00:00"},
		{Speaker: "Speaker 1", Text: "Hi back.", Timestamp: "00:00:02"},
	}}
	generator := &fakeGenerator{result: &notes.Result{Markdown: "# Meeting Notes", Model: "claude-sonnet-4-20250514"}}
	saver := newFakeSaver()
	p := NewProcessor(transcriber, generator, saver)

	if !p.Start("standup", server.URL, "eg-1") {
		t.Fatal("Start returned false")
	}
	waitDone(t, p)

	transcriber.mu.Lock()
	gotAudio := string(transcriber.gotAudio)
	transcriber.mu.Unlock()
	if gotAudio != "ogg-bytes" {
		t.Errorf("transcriber received %q", gotAudio)
	}
	if want := "[00:00:00] Speaker 0: Hello there.\n[00:00:02] Speaker 1: Hi back."; generator.input() != want {
		t.Errorf("generator received %q, want %q", generator.input(), want)
	}
	if saved := saver.get("standup"); saved == nil || saved.Markdown != "# Meeting Notes" {
		t.Errorf("saved = %+v", saver.get("standup"))
	}
}

func TestStart_RejectsInFlightEgress(t *testing.T) {
	server := audioServer(t, []byte("ogg-bytes"))
	defer server.Close()

	transcriber := &fakeTranscriber{block: make(chan struct{})}
	saver := newFakeSaver()
	p := NewProcessor(transcriber, &fakeGenerator{result: &notes.Result{}}, saver)

	if !p.Start("standup", server.URL, "eg-1") {
		t.Fatal("first Start returned false")
	}

	// Wait until the job reaches transcription so the stage is observable.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if stage, _ := p.Status("eg-1"); stage == StageTranscribing {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if stage, found := p.Status("eg-1"); !found || stage != StageTranscribing {
		t.Fatalf("stage = %q, found = %v, want transcribing", stage, found)
	}

	if p.Start("standup", server.URL, "eg-1") {
		t.Error("duplicate Start returned true while job in flight")
	}
	if p.Active() != 1 {
		t.Errorf("Active = %d, want 1", p.Active())
	}

	close(transcriber.block)
	waitDone(t, p)

	// Finished egress IDs are forgotten and may be resubmitted.
	if _, found := p.Status("eg-1"); found {
		t.Error("finished job still reported by Status")
	}
	if !p.Start("standup", server.URL, "eg-1") {
		t.Error("Start after completion returned false")
	}
	waitDone(t, p)
}

func TestProcess_DownloadFailureSavesNothing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	saver := newFakeSaver()
	p := NewProcessor(&fakeTranscriber{}, &fakeGenerator{result: &notes.Result{}}, saver)

	if !p.Start("standup", server.URL, "eg-1") {
		t.Fatal("Start returned false")
	}
	waitDone(t, p)

	if saver.get("standup") != nil {
		t.Error("notes saved despite download failure")
	}
}

func TestProcess_TranscriptionFailureSavesNothing(t *testing.T) {
	server := audioServer(t, []byte("ogg-bytes"))
	defer server.Close()

	transcriber := &fakeTranscriber{err: errors.New("unsupported audio format")}
	saver := newFakeSaver()
	p := NewProcessor(transcriber, &fakeGenerator{result: &notes.Result{}}, saver)

	if !p.Start("standup", server.URL, "eg-1") {
		t.Fatal("Start returned false")
	}
	waitDone(t, p)

	if saver.get("standup") != nil {
		t.Error("notes saved despite transcription failure")
	}
}

func TestProcess_NotesFailureSavesNothing(t *testing.T) {
	server := audioServer(t, []byte("ogg-bytes"))
	defer server.Close()

	transcriber := &fakeTranscriber{segments: []stt.Segment{{Speaker: "Speaker 0", Text: "Hello.", Timestamp: "00:00:00"}}}
	generator := &fakeGenerator{err: errors.New("model unavailable")}
	saver := newFakeSaver()
	p := NewProcessor(transcriber, generator, saver)

	if !p.Start("standup", server.URL, "eg-1") {
		t.Fatal("Start returned false")
	}
	waitDone(t, p)

	if saver.get("standup") != nil {
		t.Error("notes saved despite notes generation failure")
	}
}
