package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/scribe-engine/internal/retry"
)

const (
	defaultWhisperURL = "https://api.openai.com/v1/audio/transcriptions"
	whisperModel      = "whisper-1"
)

// whisperLimits: 25 MB ceiling, OpenAI's documented format set.
var whisperLimits = limits{
	MaxBytes: 25 << 20,
	Formats: map[string]bool{
		"flac": true, "m4a": true, "mp3": true, "mp4": true,
		"mpeg": true, "mpga": true, "oga": true, "ogg": true,
		"wav": true, "webm": true,
	},
}

// structuredFormats are the response formats that carry segment-level
// detail; the rest return a raw string body.
var structuredFormats = map[string]bool{"json": true, "verbose_json": true}

// WhisperClient calls an OpenAI-compatible /v1/audio/transcriptions
// endpoint. One blocking HTTP call per request, retried with backoff and a
// per-attempt timeout.
type WhisperClient struct {
	apiKey         string
	url            string
	model          string
	attemptTimeout time.Duration
	client         *http.Client
	policy         retry.Policy
	log            zerolog.Logger
}

// whisperResponse is the parsed JSON body for structured response formats.
type whisperResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// NewWhisperClient creates a Whisper HTTP client. An empty url selects the
// OpenAI endpoint. An empty apiKey is allowed at construction; Transcribe
// fails fast with a ConfigError when it is used.
func NewWhisperClient(apiKey, url string, attemptTimeout time.Duration, log zerolog.Logger) *WhisperClient {
	if url == "" {
		url = defaultWhisperURL
	}
	if attemptTimeout <= 0 {
		attemptTimeout = 2 * time.Minute
	}
	return &WhisperClient{
		apiKey:         apiKey,
		url:            url,
		model:          whisperModel,
		attemptTimeout: attemptTimeout,
		// The per-attempt timeout is enforced via context; no client-level
		// timeout so retried attempts get a fresh budget each.
		client: &http.Client{},
		policy: apiCallPolicy("whisper", log),
		log:    log,
	}
}

// Name returns the provider name.
func (wc *WhisperClient) Name() string { return "whisper" }

// Configured reports whether an API key is set.
func (wc *WhisperClient) Configured() bool { return wc.apiKey != "" }

// Transcribe validates the audio, posts it to the Whisper API under the
// retry policy, and normalizes the response. Optional fields are omitted
// from the form rather than sent as defaults; the API treats an absent
// language as "auto-detect".
func (wc *WhisperClient) Transcribe(ctx context.Context, audio []byte, opts Options) (*Result, error) {
	if wc.apiKey == "" {
		return nil, &ConfigError{Provider: "whisper", Missing: "OPENAI_API_KEY"}
	}

	info, err := validateAudio(audio, opts.Filename, opts.ContentType, whisperLimits)
	if err != nil {
		return nil, err
	}

	format := opts.ResponseFormat
	if format == "" {
		format = "text"
	}

	body, contentType, err := wc.buildForm(audio, info, opts, format)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	raw, err := retry.DoWithTimeout(ctx, wc.policy, wc.attemptTimeout, func(ctx context.Context) ([]byte, error) {
		return wc.doRequest(ctx, body, contentType, opts.Filename)
	})
	if err != nil {
		if retry.IsTimeout(err) {
			return nil, &TimeoutError{Provider: "whisper", After: wc.attemptTimeout}
		}
		return nil, err
	}

	res := &Result{
		Provider:     "whisper",
		Options:      opts,
		ProcessingMs: time.Since(start).Milliseconds(),
	}

	if structuredFormats[format] {
		var parsed whisperResponse
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, &APIError{
				Provider: "whisper",
				Code:     "bad_response",
				Message:  fmt.Sprintf("decode response: %v", err),
				Filename: opts.Filename,
			}
		}
		res.Text = strings.TrimSpace(parsed.Text)
		res.Language = parsed.Language
		res.Duration = parsed.Duration
		for _, s := range parsed.Segments {
			res.Segments = append(res.Segments, Segment{Start: s.Start, End: s.End, Text: strings.TrimSpace(s.Text)})
		}
	} else {
		// text, srt, and vtt come back as a raw string body with no
		// segment data.
		res.Text = strings.TrimSpace(string(raw))
	}

	if res.Duration <= 0 {
		res.Duration = estimateDurationFromWordCount(len(strings.Fields(res.Text)))
	}
	res.Cost = roundCost(res.Duration / 60 * whisperRatePerMinute)

	wc.log.Debug().
		Str("filename", opts.Filename).
		Float64("duration", res.Duration).
		Float64("cost", res.Cost).
		Int64("processing_ms", res.ProcessingMs).
		Msg("whisper transcription complete")

	return res, nil
}

// buildForm assembles the multipart body once; retried attempts reuse the
// same bytes with a fresh reader.
func (wc *WhisperClient) buildForm(audio []byte, info fileInfo, opts Options, format string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	filename := opts.Filename
	if filename == "" && info.Ext != "" {
		filename = "audio." + info.Ext
	}
	if filename == "" {
		filename = "audio"
	}

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", fmt.Errorf("write audio data: %w", err)
	}

	w.WriteField("model", wc.model)
	w.WriteField("response_format", format)

	if opts.Language != "" {
		w.WriteField("language", opts.Language)
	}
	if opts.Prompt != "" {
		w.WriteField("prompt", opts.Prompt)
	}
	if opts.Temperature > 0 {
		w.WriteField("temperature", strconv.FormatFloat(opts.Temperature, 'f', 2, 64))
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func (wc *WhisperClient) doRequest(ctx context.Context, body []byte, contentType, filename string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wc.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+wc.apiKey)

	resp, err := wc.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisper request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyAPIError("whisper", resp.StatusCode, apiMessage(raw), filename)
	}
	return raw, nil
}

// apiMessage extracts a human-readable message from an error body,
// handling both the OpenAI {"error":{"message":...}} envelope and plain
// text.
func apiMessage(raw []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 300 {
		msg = msg[:300]
	}
	return msg
}
