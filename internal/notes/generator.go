package notes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/boomhq/meeting-scribe/internal/config"
	"github.com/boomhq/meeting-scribe/internal/observability"
	"github.com/boomhq/meeting-scribe/internal/resilience"
)

const (
	defaultAPIURL     = "https://api.anthropic.com/v1/messages"
	anthropicVersion  = "2023-06-01"
	emptyNotes        = "# Meeting Notes\n\nNo transcript available for this meeting."
	requestTimeout    = 60 * time.Second
	transcriptPreface = "Generate meeting notes from this transcript:\n\n"
)

const systemPrompt = `You are a meeting notes assistant. Given a meeting transcript, generate clear, well-organized notes in Markdown format.

Structure your notes with:
1. **Meeting Summary** - 2-3 sentence overview of what was discussed
2. **Key Discussion Points** - Main topics covered with brief details
3. **Decisions Made** - Any decisions or conclusions reached
4. **Action Items** - Tasks assigned with owners if mentioned (use checkboxes: - [ ])
5. **Follow-ups** - Items that need future attention or discussion

Guidelines:
- Be concise but comprehensive
- Use bullet points for readability
- Include speaker names when attributing specific statements or decisions
- Highlight important items with **bold**
- If no action items or decisions were made, you can omit those sections
- Format timestamps as readable times if they add context
- Group related topics together logically`

// Usage is the token accounting reported by the model API.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Result is a generated set of meeting notes.
type Result struct {
	Markdown string `json:"markdown"`
	Model    string `json:"model"`
	Usage    Usage  `json:"usage"`
}

// messagesRequest is the Anthropic Messages API request payload.
type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// messagesResponse is the subset of the Messages API response we consume.
type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generator turns a formatted meeting transcript into structured markdown
// notes via the Anthropic Messages API.
type Generator struct {
	cfg        *config.Config
	apiURL     string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewGenerator creates a notes generator from service configuration.
func NewGenerator(cfg *config.Config) *Generator {
	return &Generator{
		cfg:        cfg,
		apiURL:     defaultAPIURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     observability.GetLogger().With().Str("component", "notes-generator").Logger(),
	}
}

// Generate produces meeting notes for a pre-formatted transcript. An empty
// or whitespace-only transcript yields placeholder notes without calling
// the model at all; that is not an error and costs no tokens.
func (g *Generator) Generate(ctx context.Context, formattedTranscript string) (*Result, error) {
	if strings.TrimSpace(formattedTranscript) == "" {
		observability.RecordNotesRequest("empty")
		return &Result{
			Markdown: emptyNotes,
			Model:    g.cfg.NotesModel,
		}, nil
	}

	g.logger.Info().
		Int("transcript_chars", len(formattedTranscript)).
		Str("model", g.cfg.NotesModel).
		Msg("Generating meeting notes")

	var result *Result
	retryCfg := &resilience.RetryConfig{
		MaxAttempts:       g.cfg.RetryMaxAttempts,
		InitialBackoff:    time.Duration(g.cfg.RetryInitialBackoff) * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
	}

	err := resilience.Retry(func() error {
		var callErr error
		result, callErr = g.call(ctx, formattedTranscript)
		return callErr
	}, retryCfg, resilience.IsRetryableNetworkError)

	if err != nil {
		observability.RecordNotesRequest("error")
		return nil, err
	}

	observability.RecordNotesRequest("success")
	observability.RecordNotesUsage(result.Usage.InputTokens, result.Usage.OutputTokens)
	g.logger.Info().
		Int("input_tokens", result.Usage.InputTokens).
		Int("output_tokens", result.Usage.OutputTokens).
		Msg("Meeting notes generated")

	return result, nil
}

// call performs one Messages API round trip.
func (g *Generator) call(ctx context.Context, formattedTranscript string) (*Result, error) {
	reqBody := messagesRequest{
		Model:     g.cfg.NotesModel,
		MaxTokens: g.cfg.NotesMaxTokens,
		System:    systemPrompt,
		Messages: []message{
			{Role: "user", Content: transcriptPreface + formattedTranscript},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", g.cfg.AnthropicAPIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call model API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read model response: %w", err)
	}

	var parsed messagesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse model response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			// Surface the API's own error type so the retry predicate can
			// recognize overload and rate limit responses.
			return nil, fmt.Errorf("model API returned status %d: %s: %s",
				resp.StatusCode, parsed.Error.Type, parsed.Error.Message)
		}
		return nil, fmt.Errorf("model API returned status %d", resp.StatusCode)
	}

	markdown := ""
	for _, block := range parsed.Content {
		if block.Type == "text" {
			markdown = block.Text
			break
		}
	}
	if markdown == "" {
		return nil, fmt.Errorf("model response contained no text content")
	}

	return &Result{
		Markdown: markdown,
		Model:    g.cfg.NotesModel,
		Usage: Usage{
			InputTokens:  parsed.Usage.InputTokens,
			OutputTokens: parsed.Usage.OutputTokens,
		},
	}, nil
}
