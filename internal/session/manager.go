package session

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/boomhq/meeting-scribe/internal/conference"
	"github.com/boomhq/meeting-scribe/internal/config"
	"github.com/boomhq/meeting-scribe/internal/observability"
	"github.com/boomhq/meeting-scribe/internal/transcript"
)

// Manager is the registry of live room sessions. At most one session
// exists per room name; concurrent joins of the same room collapse to a
// single connect.
//
// The registry lock is never held across conference or provider I/O: a
// room being connected is tracked in a separate joining set, so a slow
// dial never blocks unrelated joins or leaves.
type Manager struct {
	cfg       *config.Config
	dialer    conference.Dialer
	newStream StreamFactory
	store     *transcript.Store
	broadcast BroadcastFunc
	logger    zerolog.Logger

	mu      sync.Mutex
	rooms   map[string]*RoomSession
	joining map[string]struct{}
}

// NewManager creates a session manager with injected collaborators.
func NewManager(
	cfg *config.Config,
	dialer conference.Dialer,
	newStream StreamFactory,
	store *transcript.Store,
	broadcast BroadcastFunc,
) *Manager {
	return &Manager{
		cfg:       cfg,
		dialer:    dialer,
		newStream: newStream,
		store:     store,
		broadcast: broadcast,
		logger:    observability.GetLogger().With().Str("component", "session-manager").Logger(),
		rooms:     make(map[string]*RoomSession),
		joining:   make(map[string]struct{}),
	}
}

// Join connects a scribe to the named room. It reports alreadyActive when
// the room is live or a join for it is in flight; in that case no new
// connection is attempted.
func (m *Manager) Join(ctx context.Context, room string) (alreadyActive bool, err error) {
	m.mu.Lock()
	if _, ok := m.rooms[room]; ok {
		m.mu.Unlock()
		return true, nil
	}
	if _, ok := m.joining[room]; ok {
		m.mu.Unlock()
		return true, nil
	}
	m.joining[room] = struct{}{}
	m.mu.Unlock()

	session := NewRoomSession(m.cfg, room, m.dialer, m.newStream, m.store, m.broadcast)
	connectErr := session.Connect(ctx)

	m.mu.Lock()
	delete(m.joining, room)
	if connectErr != nil {
		m.mu.Unlock()
		m.logger.Error().Err(connectErr).Str("room", room).Msg("Failed to join room")
		return false, connectErr
	}
	m.rooms[room] = session
	m.mu.Unlock()

	return false, nil
}

// Leave tears down the named room and returns its formatted transcript.
// found is false when no session exists for the room.
func (m *Manager) Leave(room string) (text string, found bool) {
	m.mu.Lock()
	session, ok := m.rooms[room]
	delete(m.rooms, room)
	m.mu.Unlock()

	if !ok {
		return "", false
	}

	text, _ = session.Leave()
	return text, true
}

// IsActive reports whether a live session exists for the room.
func (m *Manager) IsActive(room string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rooms[room]
	return ok
}

// ActiveRooms returns the names of all live rooms, sorted for stable
// output.
func (m *Manager) ActiveRooms() []string {
	m.mu.Lock()
	names := make([]string, 0, len(m.rooms))
	for name := range m.rooms {
		names = append(names, name)
	}
	m.mu.Unlock()

	sort.Strings(names)
	return names
}

// Shutdown force-leaves every active room. Transcripts are discarded; the
// service is going down and has nowhere to deliver them.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*RoomSession, 0, len(m.rooms))
	for _, session := range m.rooms {
		sessions = append(sessions, session)
	}
	m.rooms = make(map[string]*RoomSession)
	m.mu.Unlock()

	for _, session := range sessions {
		session.Leave()
	}

	m.logger.Info().Int("rooms_closed", len(sessions)).Msg("Session manager shut down")
}
