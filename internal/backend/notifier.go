package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/boomhq/meeting-scribe/internal/config"
	"github.com/boomhq/meeting-scribe/internal/notes"
	"github.com/boomhq/meeting-scribe/internal/observability"
	"github.com/boomhq/meeting-scribe/internal/session"
)

const notifyTimeout = 10 * time.Second

// notesPayload is what the backend expects at the notes persistence
// endpoint.
type notesPayload struct {
	Markdown     string `json:"markdown"`
	Model        string `json:"model"`
	InputTokens  int    `json:"inputTokens"`
	OutputTokens int    `json:"outputTokens"`
}

// Notifier delivers transcript updates and finished notes to the backend
// API. Deliveries are best effort: failures are logged and counted, never
// retried, and never propagate to the session that triggered them.
type Notifier struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewNotifier creates a notifier targeting the configured backend.
func NewNotifier(cfg *config.Config) *Notifier {
	return &Notifier{
		baseURL:    strings.TrimRight(cfg.BackendAPIURL, "/"),
		httpClient: &http.Client{Timeout: notifyTimeout},
		logger:     observability.GetLogger().With().Str("component", "backend-notifier").Logger(),
	}
}

// BroadcastTranscript pushes one live transcript segment to the backend,
// which fans it out to connected meeting viewers.
func (n *Notifier) BroadcastTranscript(ev session.BroadcastEvent) {
	n.post("/api/internal/transcript", "transcript", ev)
}

// SaveNotes persists generated meeting notes for a room.
func (n *Notifier) SaveNotes(room string, result *notes.Result) {
	n.post(fmt.Sprintf("/api/meetings/%s/notes", room), "notes", notesPayload{
		Markdown:     result.Markdown,
		Model:        result.Model,
		InputTokens:  result.Usage.InputTokens,
		OutputTokens: result.Usage.OutputTokens,
	})
}

func (n *Notifier) post(path, endpoint string, payload any) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error().Err(err).Str("endpoint", endpoint).Msg("Failed to marshal backend payload")
		observability.RecordBackendNotification(endpoint, false)
		return
	}

	resp, err := n.httpClient.Post(n.baseURL+path, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		n.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Backend notification failed")
		observability.RecordBackendNotification(endpoint, false)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		n.logger.Warn().
			Int("status", resp.StatusCode).
			Str("endpoint", endpoint).
			Msg("Backend rejected notification")
		observability.RecordBackendNotification(endpoint, false)
		return
	}

	observability.RecordBackendNotification(endpoint, true)
}
