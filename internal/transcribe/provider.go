// Package transcribe orchestrates speech-to-text providers. Two clients
// implement the Provider interface: WhisperClient wraps a single blocking
// OpenAI-compatible call, AssemblyAIClient drives an upload/submit/poll job
// with speaker diarization. Both normalize into the same Result shape.
package transcribe

import "context"

// Provider is the interface for speech-to-text backends.
type Provider interface {
	Transcribe(ctx context.Context, audio []byte, opts Options) (*Result, error)
	Name() string     // "whisper", "assemblyai"
	Configured() bool // credential present
}

// Options are per-request transcription options. Zero-value fields are
// omitted from provider requests; presence vs absence matters (an absent
// language triggers provider-side auto-detection).
type Options struct {
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"content_type,omitempty"`

	Language         string  `json:"language,omitempty"`          // ISO-639-1 hint
	Prompt           string  `json:"prompt,omitempty"`            // style/vocabulary prompt (whisper only)
	ResponseFormat   string  `json:"response_format,omitempty"`   // text|json|srt|vtt|verbose_json (whisper only)
	Temperature      float64 `json:"temperature,omitempty"`       // sampling temperature, 0 = server default
	SpeakersExpected int     `json:"speakers_expected,omitempty"` // 1-10, diarized path only
}

// Segment is a timestamped slice of the transcript. Only structured
// response formats carry segments.
type Segment struct {
	Start float64 `json:"start"` // seconds
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Utterance is one continuous speech segment attributed to a single
// speaker. Times are milliseconds. The Speaker symbol is provider-assigned
// ("A", "B", ...); Label is the resolved display name, filled in at job
// completion and overridden by ApplyLabels. Utterances are treated as
// immutable once returned; relabeling produces new values.
type Utterance struct {
	Speaker    string  `json:"speaker"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Label      string  `json:"label,omitempty"`
}

// SpeakerInfo pairs a provider speaker symbol with its display label.
type SpeakerInfo struct {
	Symbol string `json:"symbol"`
	Label  string `json:"label"`
}

// Result is the normalized transcription output, identical in shape for
// every provider.
type Result struct {
	Text       string        `json:"text"`
	Segments   []Segment     `json:"segments,omitempty"`
	Utterances []Utterance   `json:"utterances,omitempty"`
	Speakers   []SpeakerInfo `json:"speakers,omitempty"`
	Language   string        `json:"language,omitempty"`

	// Duration is the audio length in seconds, always populated:
	// provider-reported when available, word-count estimate otherwise.
	Duration float64 `json:"duration"`

	Cost         float64 `json:"cost"`
	ProcessingMs int64   `json:"processing_ms"`
	Provider     string  `json:"provider"`
	Options      Options `json:"options"`
}
