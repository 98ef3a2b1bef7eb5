package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/boomhq/meeting-scribe/internal/notes"
	"github.com/boomhq/meeting-scribe/internal/transcript"
)

type fakeManager struct {
	mu      sync.Mutex
	active  map[string]string // room -> transcript
	joinErr error
	joined  []string
}

func newFakeManager() *fakeManager {
	return &fakeManager{active: make(map[string]string)}
}

func (f *fakeManager) Join(_ context.Context, room string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joinErr != nil {
		return false, f.joinErr
	}
	if _, ok := f.active[room]; ok {
		return true, nil
	}
	f.active[room] = ""
	f.joined = append(f.joined, room)
	return false, nil
}

func (f *fakeManager) Leave(room string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	text, ok := f.active[room]
	delete(f.active, room)
	return text, ok
}

func (f *fakeManager) ActiveRooms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	rooms := make([]string, 0, len(f.active))
	for room := range f.active {
		rooms = append(rooms, room)
	}
	return rooms
}

type fakeGenerator struct {
	result *notes.Result
	err    error
	gotIn  string
}

func (f *fakeGenerator) Generate(_ context.Context, transcript string) (*notes.Result, error) {
	f.gotIn = transcript
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
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

type fakeProcessor struct {
	mu      sync.Mutex
	stages  map[string]string
	started []string
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{stages: make(map[string]string)}
}

func (f *fakeProcessor) Start(room, audioURL, egressID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.stages[egressID]; ok {
		return false
	}
	f.stages[egressID] = "downloading"
	f.started = append(f.started, egressID)
	return true
}

func (f *fakeProcessor) Status(egressID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stage, ok := f.stages[egressID]
	return stage, ok
}

func (f *fakeProcessor) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stages)
}

func newTestServer(manager *fakeManager, generator *fakeGenerator, saver *fakeSaver) *httptest.Server {
	store := transcript.NewStore(100)
	srv := NewServer(manager, generator, saver, newFakeProcessor(), store)
	mux := http.NewServeMux()
	srv.Register(mux)
	return httptest.NewServer(mux)
}

func newTestServerWithProcessor(processor *fakeProcessor) *httptest.Server {
	store := transcript.NewStore(100)
	srv := NewServer(newFakeManager(), &fakeGenerator{}, newFakeSaver(), processor, store)
	mux := http.NewServeMux()
	srv.Register(mux)
	return httptest.NewServer(mux)
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("response from %s is not JSON: %v", url, err)
	}
	return resp, payload
}

func TestJoin(t *testing.T) {
	manager := newFakeManager()
	ts := newTestServer(manager, &fakeGenerator{}, nil)
	defer ts.Close()

	resp, payload := postJSON(t, ts.URL+"/join", `{"room_name": "standup"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if payload["status"] != "joined" {
		t.Errorf(`status = %v, want "joined"`, payload["status"])
	}

	_, payload = postJSON(t, ts.URL+"/join", `{"room_name": "standup"}`)
	if payload["status"] != "already_joined" {
		t.Errorf(`repeat status = %v, want "already_joined"`, payload["status"])
	}
}

func TestJoin_Failure(t *testing.T) {
	manager := newFakeManager()
	manager.joinErr = errors.New("conference unreachable")
	ts := newTestServer(manager, &fakeGenerator{}, nil)
	defer ts.Close()

	resp, payload := postJSON(t, ts.URL+"/join", `{"room_name": "standup"}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
	if payload["error"] == "" {
		t.Error("error payload missing")
	}
}

func TestJoin_BadRequest(t *testing.T) {
	ts := newTestServer(newFakeManager(), &fakeGenerator{}, nil)
	defer ts.Close()

	for _, body := range []string{`{}`, `not json`} {
		resp, _ := postJSON(t, ts.URL+"/join", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Join(%q) status = %d, want 400", body, resp.StatusCode)
		}
	}
}

func TestLeave_GeneratesAndSavesNotes(t *testing.T) {
	manager := newFakeManager()
	manager.active["standup"] = "[10:00:01] Alice: hello"
	generator := &fakeGenerator{result: &notes.Result{
		Markdown: "# Meeting Notes\n\n- greeted",
		Model:    "claude-sonnet-4-20250514",
		Usage:    notes.Usage{InputTokens: 50, OutputTokens: 20},
	}}
	saver := newFakeSaver()
	ts := newTestServer(manager, generator, saver)
	defer ts.Close()

	resp, payload := postJSON(t, ts.URL+"/leave", `{"room_name": "standup"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if payload["status"] != "completed" {
		t.Errorf(`status = %v, want "completed"`, payload["status"])
	}
	if payload["markdown"] != "# Meeting Notes\n\n- greeted" {
		t.Errorf("markdown = %v", payload["markdown"])
	}
	if generator.gotIn != "[10:00:01] Alice: hello" {
		t.Errorf("generator received %q", generator.gotIn)
	}

	usage, _ := payload["usage"].(map[string]any)
	if usage["inputTokens"] != float64(50) || usage["outputTokens"] != float64(20) {
		t.Errorf("usage = %v", usage)
	}

	// Backend save happens off the request path.
	deadline := time.Now().Add(2 * time.Second)
	for saver.get("standup") == nil && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if saved := saver.get("standup"); saved == nil || saved.Markdown == "" {
		t.Error("notes were not saved to backend")
	}
}

func TestLeave_NotFound(t *testing.T) {
	ts := newTestServer(newFakeManager(), &fakeGenerator{}, nil)
	defer ts.Close()

	resp, payload := postJSON(t, ts.URL+"/leave", `{"room_name": "ghost"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	if payload["error"] == "" {
		t.Error("error payload missing")
	}
}

func TestLeave_NotesFailureStillReturnsTranscript(t *testing.T) {
	manager := newFakeManager()
	manager.active["standup"] = "[10:00:01] Alice: hello"
	generator := &fakeGenerator{err: errors.New("model unavailable")}
	ts := newTestServer(manager, generator, nil)
	defer ts.Close()

	resp, payload := postJSON(t, ts.URL+"/leave", `{"room_name": "standup"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if payload["status"] != "completed" {
		t.Errorf(`status = %v, want "completed"`, payload["status"])
	}
	if payload["markdown"] != "[10:00:01] Alice: hello" {
		t.Errorf("markdown = %v, want the raw transcript", payload["markdown"])
	}
	if payload["error"] == nil {
		t.Error("error field missing from degraded response")
	}
}

func TestRoomsAndHealth(t *testing.T) {
	manager := newFakeManager()
	manager.active["standup"] = ""
	manager.active["retro"] = ""
	ts := newTestServer(manager, &fakeGenerator{}, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/rooms")
	if err != nil {
		t.Fatalf("GET /rooms failed: %v", err)
	}
	var roomsPayload map[string]any
	json.NewDecoder(resp.Body).Decode(&roomsPayload)
	resp.Body.Close()
	if roomsPayload["count"] != float64(2) {
		t.Errorf("count = %v, want 2", roomsPayload["count"])
	}

	resp, err = http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	var healthPayload map[string]any
	json.NewDecoder(resp.Body).Decode(&healthPayload)
	resp.Body.Close()
	if healthPayload["status"] != "healthy" {
		t.Errorf("health status = %v", healthPayload["status"])
	}
	if healthPayload["active_rooms"] != float64(2) {
		t.Errorf("active_rooms = %v, want 2", healthPayload["active_rooms"])
	}
}

func TestTranscribeRecording(t *testing.T) {
	processor := newFakeProcessor()
	ts := newTestServerWithProcessor(processor)
	defer ts.Close()

	body := `{"room_name": "standup", "audio_url": "https://cdn.example.com/rec.ogg", "egress_id": "eg-1"}`
	resp, payload := postJSON(t, ts.URL+"/transcribe-recording", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if payload["status"] != "processing" {
		t.Errorf(`status = %v, want "processing"`, payload["status"])
	}
	if payload["egress_id"] != "eg-1" {
		t.Errorf("egress_id = %v, want eg-1", payload["egress_id"])
	}
	if len(processor.started) != 1 || processor.started[0] != "eg-1" {
		t.Errorf("processor started %v, want [eg-1]", processor.started)
	}

	// A second request for the same egress does not start another job.
	_, payload = postJSON(t, ts.URL+"/transcribe-recording", body)
	if payload["status"] != "already_processing" {
		t.Errorf(`repeat status = %v, want "already_processing"`, payload["status"])
	}
	if len(processor.started) != 1 {
		t.Errorf("processor started %d jobs, want 1", len(processor.started))
	}
}

func TestTranscribeRecording_BadRequest(t *testing.T) {
	ts := newTestServerWithProcessor(newFakeProcessor())
	defer ts.Close()

	for _, body := range []string{
		`not json`,
		`{"room_name": "standup"}`,
		`{"room_name": "standup", "audio_url": "https://cdn.example.com/rec.ogg"}`,
		`{"audio_url": "https://cdn.example.com/rec.ogg", "egress_id": "eg-1"}`,
	} {
		resp, _ := postJSON(t, ts.URL+"/transcribe-recording", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("TranscribeRecording(%q) status = %d, want 400", body, resp.StatusCode)
		}
	}
}

func TestStatus(t *testing.T) {
	processor := newFakeProcessor()
	processor.stages["eg-1"] = "transcribing"
	ts := newTestServerWithProcessor(processor)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status?egress_id=eg-1")
	if err != nil {
		t.Fatalf("GET /status failed: %v", err)
	}
	var payload map[string]any
	json.NewDecoder(resp.Body).Decode(&payload)
	resp.Body.Close()
	if payload["status"] != "processing" || payload["stage"] != "transcribing" {
		t.Errorf("payload = %v", payload)
	}

	resp, err = http.Get(ts.URL + "/status?egress_id=unknown")
	if err != nil {
		t.Fatalf("GET /status failed: %v", err)
	}
	payload = map[string]any{}
	json.NewDecoder(resp.Body).Decode(&payload)
	resp.Body.Close()
	if payload["status"] != "not_found" {
		t.Errorf(`status = %v, want "not_found"`, payload["status"])
	}
}

func TestGenerateNotes(t *testing.T) {
	generator := &fakeGenerator{result: &notes.Result{
		Markdown: "# Meeting Notes\n\n- shipped",
		Model:    "claude-sonnet-4-20250514",
		Usage:    notes.Usage{InputTokens: 12, OutputTokens: 8},
	}}
	ts := newTestServer(newFakeManager(), generator, nil)
	defer ts.Close()

	resp, payload := postJSON(t, ts.URL+"/generate-notes", `{"transcript": "[10:00:01] Alice: we shipped"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if payload["markdown"] != "# Meeting Notes\n\n- shipped" {
		t.Errorf("markdown = %v", payload["markdown"])
	}
	if generator.gotIn != "[10:00:01] Alice: we shipped" {
		t.Errorf("generator received %q", generator.gotIn)
	}

	usage, _ := payload["usage"].(map[string]any)
	if usage["inputTokens"] != float64(12) || usage["outputTokens"] != float64(8) {
		t.Errorf("usage = %v", usage)
	}
}

func TestGenerateNotes_Failure(t *testing.T) {
	generator := &fakeGenerator{err: errors.New("model unavailable")}
	ts := newTestServer(newFakeManager(), generator, nil)
	defer ts.Close()

	resp, payload := postJSON(t, ts.URL+"/generate-notes", `{"transcript": "hello"}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
	if payload["error"] == "" {
		t.Error("error payload missing")
	}
}

func TestHealthReportsProcessingJobs(t *testing.T) {
	processor := newFakeProcessor()
	processor.stages["eg-1"] = "downloading"
	processor.stages["eg-2"] = "saving"
	ts := newTestServerWithProcessor(processor)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	var payload map[string]any
	json.NewDecoder(resp.Body).Decode(&payload)
	resp.Body.Close()
	if payload["processing"] != float64(2) {
		t.Errorf("processing = %v, want 2", payload["processing"])
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(newFakeManager(), &fakeGenerator{}, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/join")
	if err != nil {
		t.Fatalf("GET /join failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET /join status = %d, want 405", resp.StatusCode)
	}
}
