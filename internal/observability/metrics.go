package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Room metrics
	activeRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meeting_scribe_active_rooms",
		Help: "Number of rooms with an active transcription session",
	})

	roomsJoined = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meeting_scribe_rooms_joined_total",
		Help: "Total number of rooms joined",
	})

	roomDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "meeting_scribe_room_duration_seconds",
		Help:    "Duration of room sessions in seconds",
		Buckets: []float64{30, 60, 300, 600, 1800, 3600, 7200},
	})

	// Speaker session metrics
	activeSpeakerSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meeting_scribe_active_speaker_sessions",
		Help: "Number of live per-speaker transcription streams",
	})

	sttReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meeting_scribe_stt_reconnects_total",
		Help: "Total STT stream reconnection attempts",
	}, []string{"outcome"}) // outcome: "success" or "exhausted"

	sttEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meeting_scribe_stt_events_total",
		Help: "Total events received from the STT provider",
	}, []string{"kind"})

	// Audio metrics
	audioBytesForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meeting_scribe_audio_bytes_forwarded_total",
		Help: "Total audio bytes forwarded to the STT provider",
	})

	audioFramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meeting_scribe_audio_frames_dropped_total",
		Help: "Audio frames dropped while a speaker stream was not connected",
	})

	speechFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meeting_scribe_speech_frames_total",
		Help: "Forwarded frames classified by voice activity",
	}, []string{"activity"}) // activity: "speech" or "silence"

	// Transcript metrics
	transcriptEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meeting_scribe_transcript_entries_total",
		Help: "Transcript entries stored",
	}, []string{"kind"}) // kind: "final" or "interim"

	transcriptEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meeting_scribe_transcript_evictions_total",
		Help: "Transcript entries evicted by the capacity bound",
	})

	// Notes generation metrics
	notesRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meeting_scribe_notes_requests_total",
		Help: "Notes generation requests",
	}, []string{"status"}) // status: "success", "error", "empty"

	notesTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meeting_scribe_notes_tokens_total",
		Help: "Token usage reported by the notes model",
	}, []string{"direction"}) // direction: "input" or "output"

	// Backend notification metrics
	backendNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meeting_scribe_backend_notifications_total",
		Help: "Outbound backend notifications",
	}, []string{"endpoint", "status"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "meeting_scribe_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	// Batch recording pipeline metrics
	batchJobsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meeting_scribe_batch_jobs_active",
		Help: "Recording transcription pipelines currently in flight",
	})

	batchJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meeting_scribe_batch_jobs_total",
		Help: "Recording transcription pipelines finished",
	}, []string{"status"}) // status: "completed" or "failed"
)

// RecordRoomJoined records a room session start
func RecordRoomJoined() {
	activeRooms.Inc()
	roomsJoined.Inc()
}

// RecordRoomLeft records a room session end with its duration in seconds
func RecordRoomLeft(durationSeconds float64) {
	activeRooms.Dec()
	roomDuration.Observe(durationSeconds)
}

// RecordSpeakerSessionStart records a new per-speaker stream
func RecordSpeakerSessionStart() {
	activeSpeakerSessions.Inc()
}

// RecordSpeakerSessionEnd records a per-speaker stream teardown
func RecordSpeakerSessionEnd() {
	activeSpeakerSessions.Dec()
}

// RecordSTTReconnect records a reconnection outcome
func RecordSTTReconnect(outcome string) {
	sttReconnects.WithLabelValues(outcome).Inc()
}

// RecordSTTEvent records an event received from the STT provider
func RecordSTTEvent(kind string) {
	sttEvents.WithLabelValues(kind).Inc()
}

// RecordAudioForwarded records audio bytes sent to the STT provider
func RecordAudioForwarded(bytes int) {
	audioBytesForwarded.Add(float64(bytes))
}

// RecordFrameDropped records a frame dropped while not connected
func RecordFrameDropped() {
	audioFramesDropped.Inc()
}

// RecordSpeechActivity records VAD classification of a forwarded frame
func RecordSpeechActivity(speaking bool) {
	if speaking {
		speechFrames.WithLabelValues("speech").Inc()
	} else {
		speechFrames.WithLabelValues("silence").Inc()
	}
}

// RecordTranscriptEntry records a stored transcript entry
func RecordTranscriptEntry(isFinal bool) {
	if isFinal {
		transcriptEntries.WithLabelValues("final").Inc()
	} else {
		transcriptEntries.WithLabelValues("interim").Inc()
	}
}

// RecordTranscriptEviction records entries removed by the capacity bound
func RecordTranscriptEviction(count int) {
	transcriptEvictions.Add(float64(count))
}

// RecordNotesRequest records a notes generation attempt
func RecordNotesRequest(status string) {
	notesRequests.WithLabelValues(status).Inc()
}

// RecordNotesUsage records token usage from a notes generation call
func RecordNotesUsage(inputTokens, outputTokens int) {
	notesTokens.WithLabelValues("input").Add(float64(inputTokens))
	notesTokens.WithLabelValues("output").Add(float64(outputTokens))
}

// RecordBackendNotification records an outbound backend call result
func RecordBackendNotification(endpoint string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	backendNotifications.WithLabelValues(endpoint, status).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// RecordBatchJobStart records a recording pipeline entering flight
func RecordBatchJobStart() {
	batchJobsActive.Inc()
}

// RecordBatchJobEnd records a recording pipeline finishing
func RecordBatchJobEnd(status string) {
	batchJobsActive.Dec()
	batchJobs.WithLabelValues(status).Inc()
}
