package transcript

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/boomhq/meeting-scribe/internal/observability"
)

// Entry is a single transcript line from one speaker. Immutable once
// created; the timestamp is assigned at store-insertion time and defines
// ordering.
type Entry struct {
	ID        string    `json:"id"`
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	IsFinal   bool      `json:"is_final"`
}

// RoomStats summarizes a room's transcript for health reporting.
type RoomStats struct {
	RoomName     string    `json:"room_name"`
	EntryCount   int       `json:"entry_count"`
	FinalEntries int       `json:"final_entries"`
	StartedAt    time.Time `json:"started_at"`
}

// roomTranscript holds the insertion-ordered entries for one room.
type roomTranscript struct {
	name      string
	entries   []Entry
	startedAt time.Time
}

// Store is the process-wide transcript buffer, keyed by room name. It is
// constructed explicitly and injected into every component that needs it,
// and is safe for concurrent use by many speaker sessions across rooms.
type Store struct {
	mu         sync.Mutex
	rooms      map[string]*roomTranscript
	maxEntries int
}

// NewStore creates a transcript store with a per-room entry cap. When the
// cap is reached, the oldest 10% of entries are evicted in one batch before
// the next append.
func NewStore(maxEntries int) *Store {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &Store{
		rooms:      make(map[string]*roomTranscript),
		maxEntries: maxEntries,
	}
}

// Register creates an empty transcript for a room if one does not exist.
func (s *Store) Register(room string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrCreate(room)
}

// AddEntry appends an entry with a store-assigned id and timestamp and
// returns it.
func (s *Store) AddEntry(room, speaker, text string, isFinal bool) Entry {
	entry := Entry{
		ID:        uuid.New().String(),
		Speaker:   speaker,
		Text:      text,
		Timestamp: time.Now().UTC(),
		IsFinal:   isFinal,
	}

	s.mu.Lock()
	rt := s.getOrCreate(room)

	if len(rt.entries) >= s.maxEntries {
		evict := s.maxEntries / 10
		if evict == 0 {
			evict = 1
		}
		rt.entries = rt.entries[evict:]
		observability.RecordTranscriptEviction(evict)
	}
	rt.entries = append(rt.entries, entry)
	s.mu.Unlock()

	observability.RecordTranscriptEntry(isFinal)
	return entry
}

// getOrCreate must be called with the lock held.
func (s *Store) getOrCreate(room string) *roomTranscript {
	rt, ok := s.rooms[room]
	if !ok {
		rt = &roomTranscript{name: room, startedAt: time.Now().UTC()}
		s.rooms[room] = rt
	}
	return rt
}

// FormattedTranscript renders the room's final entries as ordered
// "[HH:MM:SS] speaker: text" lines. The second return is false when the
// room has no transcript.
func (s *Store) FormattedTranscript(room string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rt, ok := s.rooms[room]
	if !ok {
		return "", false
	}

	var lines []string
	for _, e := range rt.entries {
		if !e.IsFinal {
			continue
		}
		lines = append(lines, "["+e.Timestamp.Format("15:04:05")+"] "+e.Speaker+": "+e.Text)
	}
	return strings.Join(lines, "\n"), true
}

// Entries returns a copy of all entries for a room.
func (s *Store) Entries(room string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	rt, ok := s.rooms[room]
	if !ok {
		return nil
	}
	out := make([]Entry, len(rt.entries))
	copy(out, rt.entries)
	return out
}

// ClearRoom removes a room's transcript, returning how many entries it
// held and whether it existed. Each room's transcript is consumed exactly
// once, at session end.
func (s *Store) ClearRoom(room string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rt, ok := s.rooms[room]
	if !ok {
		return 0, false
	}
	delete(s.rooms, room)
	return len(rt.entries), true
}

// ActiveRooms lists rooms with a transcript in the store.
func (s *Store) ActiveRooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	rooms := make([]string, 0, len(s.rooms))
	for name := range s.rooms {
		rooms = append(rooms, name)
	}
	return rooms
}

// Stats returns entry counts for a room, or false if it has no transcript.
func (s *Store) Stats(room string) (RoomStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rt, ok := s.rooms[room]
	if !ok {
		return RoomStats{}, false
	}

	finals := 0
	for _, e := range rt.entries {
		if e.IsFinal {
			finals++
		}
	}
	return RoomStats{
		RoomName:     room,
		EntryCount:   len(rt.entries),
		FinalEntries: finals,
		StartedAt:    rt.startedAt,
	}, true
}
