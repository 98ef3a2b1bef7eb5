package batch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/boomhq/meeting-scribe/internal/notes"
	"github.com/boomhq/meeting-scribe/internal/observability"
	"github.com/boomhq/meeting-scribe/internal/stt"
)

// Pipeline stages, reported by Status while a recording is in flight.
const (
	StageDownloading     = "downloading"
	StageTranscribing    = "transcribing"
	StageGeneratingNotes = "generating_notes"
	StageSaving          = "saving"
)

const (
	downloadTimeout = 5 * time.Minute
	pipelineTimeout = 15 * time.Minute
)

// Transcriber transcribes a complete recording into diarized segments.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) ([]stt.Segment, error)
}

// NotesGenerator produces meeting notes from a formatted transcript.
type NotesGenerator interface {
	Generate(ctx context.Context, formattedTranscript string) (*notes.Result, error)
}

// NotesSaver persists finished notes to the backend.
type NotesSaver interface {
	SaveNotes(room string, result *notes.Result)
}

// Processor runs the recording pipeline: download the egress audio,
// transcribe it with speaker diarization, generate notes, persist them.
// One pipeline runs per egress ID; re-submitting an in-flight egress is
// reported, not restarted. Failures are logged and the job is dropped —
// the recording itself stays wherever the egress stored it.
type Processor struct {
	transcriber Transcriber
	generator   NotesGenerator
	saver       NotesSaver
	httpClient  *http.Client
	logger      zerolog.Logger

	mu     sync.Mutex
	stages map[string]string // egress ID -> current stage
}

// NewProcessor creates a batch processor with injected collaborators.
func NewProcessor(transcriber Transcriber, generator NotesGenerator, saver NotesSaver) *Processor {
	return &Processor{
		transcriber: transcriber,
		generator:   generator,
		saver:       saver,
		httpClient:  &http.Client{Timeout: downloadTimeout},
		logger:      observability.GetLogger().With().Str("component", "batch-processor").Logger(),
		stages:      make(map[string]string),
	}
}

// Start begins processing a recording in the background. It reports
// started=false when a pipeline for the egress ID is already running.
func (p *Processor) Start(room, audioURL, egressID string) (started bool) {
	p.mu.Lock()
	if _, inFlight := p.stages[egressID]; inFlight {
		p.mu.Unlock()
		return false
	}
	p.stages[egressID] = StageDownloading
	p.mu.Unlock()

	observability.RecordBatchJobStart()
	go p.process(room, audioURL, egressID)
	return true
}

// Status reports the current stage of an in-flight pipeline.
func (p *Processor) Status(egressID string) (stage string, found bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	stage, found = p.stages[egressID]
	return stage, found
}

// Active returns the number of in-flight pipelines.
func (p *Processor) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.stages)
}

func (p *Processor) process(room, audioURL, egressID string) {
	logger := p.logger.With().Str("room", room).Str("egress_id", egressID).Logger()

	status := "failed"
	defer func() {
		p.mu.Lock()
		delete(p.stages, egressID)
		p.mu.Unlock()
		observability.RecordBatchJobEnd(status)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), pipelineTimeout)
	defer cancel()

	audio, err := p.download(ctx, audioURL)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to download recording")
		return
	}

	p.setStage(egressID, StageTranscribing)
	segments, err := p.transcriber.Transcribe(ctx, audio, "")
	if err != nil {
		logger.Error().Err(err).Msg("Failed to transcribe recording")
		return
	}

	p.setStage(egressID, StageGeneratingNotes)
	logger.Info().Int("segments", len(segments)).Msg("Generating notes from recording")
	result, err := p.generator.Generate(ctx, stt.FormatSegments(segments))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to generate notes from recording")
		return
	}

	p.setStage(egressID, StageSaving)
	p.saver.SaveNotes(room, result)

	status = "completed"
	logger.Info().Msg("Recording processed")
}

func (p *Processor) download(ctx context.Context, audioURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download audio: status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

func (p *Processor) setStage(egressID, stage string) {
	p.mu.Lock()
	if _, ok := p.stages[egressID]; ok {
		p.stages[egressID] = stage
	}
	p.mu.Unlock()
}
