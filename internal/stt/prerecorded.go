package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/boomhq/meeting-scribe/internal/config"
	"github.com/boomhq/meeting-scribe/internal/observability"
	"github.com/boomhq/meeting-scribe/internal/resilience"
)

const (
	defaultListenURL = "https://api.deepgram.com/v1/listen"
	defaultMimeType  = "audio/ogg"
	batchTimeout     = 5 * time.Minute
)

// Segment is one diarized slice of a batch transcription: contiguous
// speech attributed to a single speaker.
type Segment struct {
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// listenResponse is the subset of Deepgram's prerecorded response we
// consume: one channel, best alternative, word-level diarization with
// paragraph and plain-transcript fallbacks.
type listenResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
				Words      []struct {
					Word           string  `json:"word"`
					PunctuatedWord string  `json:"punctuated_word"`
					Start          float64 `json:"start"`
					Speaker        *int    `json:"speaker"`
				} `json:"words"`
				Paragraphs struct {
					Paragraphs []struct {
						Speaker   *int `json:"speaker"`
						Sentences []struct {
							Text  string  `json:"text"`
							Start float64 `json:"start"`
						} `json:"sentences"`
					} `json:"paragraphs"`
				} `json:"paragraphs"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
	ErrMsg string `json:"err_msg"`
}

// BatchTranscriber transcribes whole recordings through Deepgram's
// prerecorded API with speaker diarization enabled.
type BatchTranscriber struct {
	cfg        *config.Config
	apiURL     string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewBatchTranscriber creates a batch transcriber from service
// configuration.
func NewBatchTranscriber(cfg *config.Config) *BatchTranscriber {
	return &BatchTranscriber{
		cfg:        cfg,
		apiURL:     defaultListenURL,
		httpClient: &http.Client{Timeout: batchTimeout},
		logger:     observability.GetLogger().With().Str("component", "batch-transcriber").Logger(),
	}
}

// Transcribe sends a complete recording for transcription and returns
// diarized segments in utterance order. mimeType defaults to audio/ogg,
// the container the recording pipeline produces.
func (t *BatchTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) ([]Segment, error) {
	if len(audio) == 0 {
		return nil, fmt.Errorf("no audio data to transcribe")
	}
	if mimeType == "" {
		mimeType = defaultMimeType
	}

	t.logger.Info().Int("audio_bytes", len(audio)).Msg("Transcribing recording")

	retryCfg := &resilience.RetryConfig{
		MaxAttempts:       t.cfg.RetryMaxAttempts,
		InitialBackoff:    time.Duration(t.cfg.RetryInitialBackoff) * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
	}

	var segments []Segment
	err := resilience.Retry(func() error {
		var callErr error
		segments, callErr = t.call(ctx, audio, mimeType)
		return callErr
	}, retryCfg, resilience.IsRetryableNetworkError)
	if err != nil {
		return nil, err
	}

	t.logger.Info().Int("segments", len(segments)).Msg("Recording transcribed")
	return segments, nil
}

func (t *BatchTranscriber) call(ctx context.Context, audio []byte, mimeType string) ([]Segment, error) {
	query := url.Values{}
	query.Set("model", t.cfg.DeepgramModel)
	query.Set("language", t.cfg.DeepgramLanguage)
	query.Set("smart_format", "true")
	query.Set("diarize", "true")
	query.Set("punctuate", "true")
	query.Set("paragraphs", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiURL+"?"+query.Encode(), bytes.NewReader(audio))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+t.cfg.DeepgramAPIKey)
	req.Header.Set("Content-Type", mimeType)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call transcription API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcription response: %w", err)
	}

	var parsed listenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse transcription response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		if parsed.ErrMsg != "" {
			return nil, fmt.Errorf("transcription API returned status %d: %s", resp.StatusCode, parsed.ErrMsg)
		}
		return nil, fmt.Errorf("transcription API returned status %d", resp.StatusCode)
	}

	return segmentize(&parsed), nil
}

// segmentize groups word-level results into per-speaker segments,
// falling back to paragraph granularity and then the raw transcript when
// diarized words are absent.
func segmentize(parsed *listenResponse) []Segment {
	if len(parsed.Results.Channels) == 0 || len(parsed.Results.Channels[0].Alternatives) == 0 {
		return nil
	}
	alt := parsed.Results.Channels[0].Alternatives[0]

	if len(alt.Words) > 0 {
		var segments []Segment
		currentSpeaker := ""
		var currentText []string
		currentStart := 0.0

		flush := func() {
			if len(currentText) > 0 {
				segments = append(segments, Segment{
					Speaker:   currentSpeaker,
					Text:      strings.Join(currentText, " "),
					Timestamp: formatOffset(currentStart),
				})
			}
		}

		for _, word := range alt.Words {
			speaker := speakerLabel(word.Speaker)
			text := word.PunctuatedWord
			if text == "" {
				text = word.Word
			}

			if speaker != currentSpeaker {
				flush()
				currentSpeaker = speaker
				currentText = []string{text}
				currentStart = word.Start
			} else {
				currentText = append(currentText, text)
			}
		}
		flush()
		return segments
	}

	if len(alt.Paragraphs.Paragraphs) > 0 {
		var segments []Segment
		for _, para := range alt.Paragraphs.Paragraphs {
			speaker := speakerLabel(para.Speaker)
			for _, sentence := range para.Sentences {
				segments = append(segments, Segment{
					Speaker:   speaker,
					Text:      sentence.Text,
					Timestamp: formatOffset(sentence.Start),
				})
			}
		}
		return segments
	}

	if alt.Transcript != "" {
		return []Segment{{
			Speaker:   "Speaker",
			Text:      alt.Transcript,
			Timestamp: formatOffset(0),
		}}
	}

	return nil
}

// FormatSegments renders batch segments in the same line format the live
// transcript store produces, ready for notes generation.
func FormatSegments(segments []Segment) string {
	lines := make([]string, 0, len(segments))
	for _, seg := range segments {
		lines = append(lines, "["+seg.Timestamp+"] "+seg.Speaker+": "+seg.Text)
	}
	return strings.Join(lines, "\n")
}

func speakerLabel(speaker *int) string {
	if speaker == nil {
		return "Speaker"
	}
	return fmt.Sprintf("Speaker %d", *speaker)
}

// formatOffset renders a recording offset in seconds as HH:MM:SS.
func formatOffset(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, total%3600/60, total%60)
}
