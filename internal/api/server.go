package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/boomhq/meeting-scribe/internal/notes"
	"github.com/boomhq/meeting-scribe/internal/observability"
	"github.com/boomhq/meeting-scribe/internal/transcript"
)

const notesDeadline = 90 * time.Second

// SessionManager is the slice of the room session manager the HTTP
// surface needs.
type SessionManager interface {
	Join(ctx context.Context, room string) (alreadyActive bool, err error)
	Leave(room string) (text string, found bool)
	ActiveRooms() []string
}

// NotesGenerator produces meeting notes from a formatted transcript.
type NotesGenerator interface {
	Generate(ctx context.Context, formattedTranscript string) (*notes.Result, error)
}

// NotesSaver persists finished notes to the backend, best effort.
type NotesSaver interface {
	SaveNotes(room string, result *notes.Result)
}

// RecordingProcessor runs the background pipeline for finished meeting
// recordings.
type RecordingProcessor interface {
	Start(room, audioURL, egressID string) (started bool)
	Status(egressID string) (stage string, found bool)
	Active() int
}

// Server exposes the scribe's HTTP control surface.
type Server struct {
	manager   SessionManager
	generator NotesGenerator
	saver     NotesSaver
	processor RecordingProcessor
	store     *transcript.Store
	logger    zerolog.Logger
}

// NewServer wires the control surface to its collaborators. saver and
// processor may be nil when backend persistence or batch processing is
// disabled.
func NewServer(manager SessionManager, generator NotesGenerator, saver NotesSaver, processor RecordingProcessor, store *transcript.Store) *Server {
	return &Server{
		manager:   manager,
		generator: generator,
		saver:     saver,
		processor: processor,
		store:     store,
		logger:    observability.GetLogger().With().Str("component", "api").Logger(),
	}
}

// Register attaches all routes to the mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/join", s.handleJoin)
	mux.HandleFunc("/leave", s.handleLeave)
	mux.HandleFunc("/rooms", s.handleRooms)
	mux.HandleFunc("/generate-notes", s.handleGenerateNotes)
	if s.processor != nil {
		mux.HandleFunc("/transcribe-recording", s.handleTranscribeRecording)
		mux.HandleFunc("/status", s.handleStatus)
	}
}

type roomRequest struct {
	RoomName string `json:"room_name"`
}

type leaveResponse struct {
	Status   string      `json:"status"`
	RoomName string      `json:"room_name"`
	Markdown string      `json:"markdown"`
	Usage    notes.Usage `json:"usage"`
	Error    string      `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	rooms := s.manager.ActiveRooms()
	stats := make(map[string]transcript.RoomStats, len(rooms))
	for _, room := range rooms {
		if st, ok := s.store.Stats(room); ok {
			stats[room] = st
		}
	}

	processing := 0
	if s.processor != nil {
		processing = s.processor.Active()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "healthy",
		"service":      "meeting-scribe",
		"active_rooms": len(rooms),
		"rooms":        stats,
		"processing":   processing,
	})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRoomRequest(w, r)
	if !ok {
		return
	}

	logger := s.logger.With().
		Str("room", req.RoomName).
		Str("correlation_id", observability.NewCorrelationID()).
		Logger()

	already, err := s.manager.Join(r.Context(), req.RoomName)
	if err != nil {
		logger.Error().Err(err).Msg("Join failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	logger.Info().Bool("already_active", already).Msg("Join handled")

	status := "joined"
	if already {
		status = "already_joined"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    status,
		"room_name": req.RoomName,
	})
}

// handleLeave tears the room down and runs the completion pipeline:
// transcript out of the store, notes from the model, notes to the
// backend. Each later stage is best effort; its failure never discards
// what the earlier stages produced.
func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRoomRequest(w, r)
	if !ok {
		return
	}

	text, found := s.manager.Leave(req.RoomName)
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "room not active: " + req.RoomName})
		return
	}

	resp := leaveResponse{Status: "completed", RoomName: req.RoomName}

	notesCtx, cancel := context.WithTimeout(context.Background(), notesDeadline)
	defer cancel()

	result, err := s.generator.Generate(notesCtx, text)
	if err != nil {
		s.logger.Error().Err(err).Str("room", req.RoomName).Msg("Notes generation failed")
		// Hand the raw transcript back so the captured meeting is not lost.
		resp.Markdown = text
		resp.Error = "notes generation failed: " + err.Error()
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.Markdown = result.Markdown
	resp.Usage = result.Usage

	if s.saver != nil {
		go s.saver.SaveNotes(req.RoomName, result)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	rooms := s.manager.ActiveRooms()
	writeJSON(w, http.StatusOK, map[string]any{
		"rooms": rooms,
		"count": len(rooms),
	})
}

type transcribeRecordingRequest struct {
	RoomName string `json:"room_name"`
	AudioURL string `json:"audio_url"`
	EgressID string `json:"egress_id"`
}

// handleTranscribeRecording kicks off the background pipeline for a
// finished recording and returns immediately; progress is visible via
// GET /status.
func (s *Server) handleTranscribeRecording(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req transcribeRecordingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.RoomName == "" || req.AudioURL == "" || req.EgressID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "room_name, audio_url and egress_id are required"})
		return
	}

	if !s.processor.Start(req.RoomName, req.AudioURL, req.EgressID) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "already_processing"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "processing",
		"room_name": req.RoomName,
		"egress_id": req.EgressID,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	stage, found := s.processor.Status(r.URL.Query().Get("egress_id"))
	if !found {
		writeJSON(w, http.StatusOK, map[string]string{"status": "not_found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "processing",
		"stage":  stage,
	})
}

type generateNotesRequest struct {
	Transcript string `json:"transcript"`
}

// handleGenerateNotes produces notes for a caller-supplied transcript
// without touching any room state.
func (s *Server) handleGenerateNotes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req generateNotesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	notesCtx, cancel := context.WithTimeout(r.Context(), notesDeadline)
	defer cancel()

	result, err := s.generator.Generate(notesCtx, req.Transcript)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"markdown": result.Markdown,
		"model":    result.Model,
		"usage":    result.Usage,
	})
}

func (s *Server) decodeRoomRequest(w http.ResponseWriter, r *http.Request) (roomRequest, bool) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return roomRequest{}, false
	}

	var req roomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return roomRequest{}, false
	}
	if req.RoomName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "room_name is required"})
		return roomRequest{}, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}
