package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/scribe-engine/internal/retry"
)

const (
	defaultAssemblyAIBaseURL = "https://api.assemblyai.com/v2"

	// defaultPollInterval is a fixed cadence, deliberately not backed off:
	// the provider is doing minutes of work, not recovering from a flaky
	// millisecond call.
	defaultPollInterval = 3 * time.Second

	// defaultPollCeiling bounds the whole orchestration, measured from
	// start, not from the last poll.
	defaultPollCeiling = 10 * time.Minute
)

// assemblyAILimits: the async path takes much larger files than whisper.
var assemblyAILimits = limits{
	MaxBytes: 500 << 20,
	Formats: map[string]bool{
		"3ga": true, "8svx": true, "aac": true, "ac3": true, "aif": true,
		"aiff": true, "alac": true, "amr": true, "ape": true, "au": true,
		"dss": true, "flac": true, "m4a": true, "m4b": true, "m4p": true,
		"m4r": true, "mp3": true, "mpga": true, "ogg": true, "oga": true,
		"mogg": true, "opus": true, "wav": true, "wma": true, "wv": true,
		"webm": true, "mts": true, "m2ts": true, "ts": true, "mov": true,
		"mp2": true, "mp4": true, "mpeg": true, "mxf": true,
	},
}

// AudioStore is the optional object store the orchestrator can use instead
// of the provider's upload endpoint: bytes are saved to the bucket and a
// presigned URL is handed to the job submit as audio_url.
type AudioStore interface {
	Save(ctx context.Context, key string, data []byte, contentType string) error
	URL(ctx context.Context, key string) (string, error)
}

// AssemblyAIClient drives the three-phase AssemblyAI job protocol:
// upload bytes, start a transcript job, poll until terminal. Diarization
// is always on for this adapter.
type AssemblyAIClient struct {
	apiKey  string
	baseURL string
	store   AudioStore // nil = use the provider upload endpoint

	attemptTimeout time.Duration
	pollInterval   time.Duration
	pollCeiling    time.Duration

	client        *http.Client
	policy        retry.Policy
	storagePolicy retry.Policy
	log           zerolog.Logger
}

// aaiJob is the transcript resource as returned by submit and poll calls.
type aaiJob struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"` // queued, processing, completed, error
	Text          string         `json:"text"`
	Utterances    []aaiUtterance `json:"utterances"`
	AudioDuration float64        `json:"audio_duration"` // seconds
	LanguageCode  string         `json:"language_code"`
	Error         string         `json:"error"`
}

// aaiUtterance is a diarized speech segment. Times are milliseconds;
// Speaker is a short symbol like "A".
type aaiUtterance struct {
	Speaker    string  `json:"speaker"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// NewAssemblyAIClient creates an AssemblyAI client. store may be nil; an
// empty baseURL selects the public API. An empty apiKey is allowed at
// construction and rejected with a ConfigError on use.
func NewAssemblyAIClient(apiKey, baseURL string, store AudioStore, log zerolog.Logger) *AssemblyAIClient {
	if baseURL == "" {
		baseURL = defaultAssemblyAIBaseURL
	}
	return &AssemblyAIClient{
		apiKey:         apiKey,
		baseURL:        strings.TrimRight(baseURL, "/"),
		store:          store,
		attemptTimeout: 2 * time.Minute,
		pollInterval:   defaultPollInterval,
		pollCeiling:    defaultPollCeiling,
		client:         &http.Client{},
		policy:         apiCallPolicy("assemblyai", log),
		storagePolicy:  retry.StoragePolicy(),
		log:            log,
	}
}

// SetPollCadence overrides the poll interval and overall ceiling. Used by
// config wiring; zero values keep the defaults.
func (ac *AssemblyAIClient) SetPollCadence(interval, ceiling time.Duration) {
	if interval > 0 {
		ac.pollInterval = interval
	}
	if ceiling > 0 {
		ac.pollCeiling = ceiling
	}
}

// Name returns the provider name.
func (ac *AssemblyAIClient) Name() string { return "assemblyai" }

// Configured reports whether an API key is set.
func (ac *AssemblyAIClient) Configured() bool { return ac.apiKey != "" }

// Transcribe runs the full job: validate, upload, submit, poll. Upload and
// submit are retried under the API-call policy. Individual polls are not
// retried (the loop's next iteration is the retry) and the loop stops at
// the wall-clock ceiling with a TimeoutError, abandoning the remote job.
func (ac *AssemblyAIClient) Transcribe(ctx context.Context, audio []byte, opts Options) (*Result, error) {
	if ac.apiKey == "" {
		return nil, &ConfigError{Provider: "assemblyai", Missing: "ASSEMBLYAI_API_KEY"}
	}

	if _, err := validateAudio(audio, opts.Filename, opts.ContentType, assemblyAILimits); err != nil {
		return nil, err
	}
	if opts.SpeakersExpected < 0 || opts.SpeakersExpected > 10 {
		return nil, &ValidationError{Reason: fmt.Sprintf("speakers_expected must be between 1 and 10, got %d", opts.SpeakersExpected)}
	}

	start := time.Now()
	deadline := start.Add(ac.pollCeiling)

	audioURL, err := ac.uploadAudio(ctx, audio, opts)
	if err != nil {
		return nil, err
	}

	jobID, err := ac.submitJob(ctx, audioURL, opts)
	if err != nil {
		return nil, err
	}

	job, err := ac.pollJob(ctx, jobID, deadline)
	if err != nil {
		return nil, err
	}

	res := normalizeJob(job, opts)
	res.ProcessingMs = time.Since(start).Milliseconds()

	ac.log.Debug().
		Str("job_id", job.ID).
		Str("filename", opts.Filename).
		Float64("duration", res.Duration).
		Int("utterances", len(res.Utterances)).
		Int("speakers", len(res.Speakers)).
		Float64("cost", res.Cost).
		Int64("processing_ms", res.ProcessingMs).
		Msg("assemblyai transcription complete")

	return res, nil
}

// uploadAudio makes the raw bytes reachable for the job submit: through
// the configured object store when present, otherwise via the provider's
// upload endpoint.
func (ac *AssemblyAIClient) uploadAudio(ctx context.Context, audio []byte, opts Options) (string, error) {
	if ac.store != nil {
		key := fmt.Sprintf("uploads/%d-%s", time.Now().UnixNano(), sanitizeKey(opts.Filename))
		_, err := retry.Do(ctx, ac.storagePolicy, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, ac.store.Save(ctx, key, audio, opts.ContentType)
		})
		if err != nil {
			return "", fmt.Errorf("store audio: %w", err)
		}
		url, err := retry.Do(ctx, ac.storagePolicy, func(ctx context.Context) (string, error) {
			return ac.store.URL(ctx, key)
		})
		if err != nil {
			return "", fmt.Errorf("presign audio url: %w", err)
		}
		return url, nil
	}

	return retry.DoWithTimeout(ctx, ac.policy, ac.attemptTimeout, func(ctx context.Context) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, ac.baseURL+"/upload", bytes.NewReader(audio))
		if err != nil {
			return "", fmt.Errorf("create upload request: %w", err)
		}
		req.Header.Set("Authorization", ac.apiKey)
		req.Header.Set("Content-Type", "application/octet-stream")

		var parsed struct {
			UploadURL string `json:"upload_url"`
		}
		if err := ac.doJSON(req, &parsed, opts.Filename); err != nil {
			return "", err
		}
		if parsed.UploadURL == "" {
			// A 200 with no upload_url is a malformed success, not
			// something to accept silently.
			return "", &APIError{
				Provider: "assemblyai",
				Code:     "bad_response",
				Message:  "upload response missing upload_url",
				Filename: opts.Filename,
			}
		}
		return parsed.UploadURL, nil
	})
}

// submitJob starts the transcript job. Language code and auto-detection
// are mutually exclusive: an explicit hint sets language_code, otherwise
// language_detection is enabled, never both.
func (ac *AssemblyAIClient) submitJob(ctx context.Context, audioURL string, opts Options) (string, error) {
	params := map[string]any{
		"audio_url":      audioURL,
		"speaker_labels": true,
	}
	if opts.Language != "" {
		params["language_code"] = opts.Language
	} else {
		params["language_detection"] = true
	}
	if opts.SpeakersExpected > 0 {
		params["speakers_expected"] = opts.SpeakersExpected
	}

	body, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("marshal job params: %w", err)
	}

	return retry.DoWithTimeout(ctx, ac.policy, ac.attemptTimeout, func(ctx context.Context) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, ac.baseURL+"/transcript", bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("create submit request: %w", err)
		}
		req.Header.Set("Authorization", ac.apiKey)
		req.Header.Set("Content-Type", "application/json")

		var job aaiJob
		if err := ac.doJSON(req, &job, opts.Filename); err != nil {
			return "", err
		}
		if job.ID == "" {
			return "", &APIError{
				Provider: "assemblyai",
				Code:     "bad_response",
				Message:  "transcript response missing job id",
				Filename: opts.Filename,
			}
		}
		return job.ID, nil
	})
}

// pollJob polls at a fixed cadence until the job reaches a terminal
// status or the ceiling passes. Poll calls are single-shot: a failed poll
// raises immediately rather than stacking a second retry layer onto a
// loop that already runs for minutes.
func (ac *AssemblyAIClient) pollJob(ctx context.Context, jobID string, deadline time.Time) (*aaiJob, error) {
	for {
		if time.Now().After(deadline) {
			ac.log.Warn().Str("job_id", jobID).Msg("abandoning transcription job at poll ceiling")
			return nil, &TimeoutError{Provider: "assemblyai", After: ac.pollCeiling}
		}

		job, err := ac.getJob(ctx, jobID)
		if err != nil {
			return nil, err
		}

		switch job.Status {
		case "completed":
			return job, nil
		case "error":
			// Provider-reported failure is terminal, not retryable.
			return nil, &APIError{
				Provider: "assemblyai",
				Code:     "provider_error",
				Message:  job.Error,
			}
		}

		if time.Now().Add(ac.pollInterval).After(deadline) {
			ac.log.Warn().Str("job_id", jobID).Str("status", job.Status).Msg("abandoning transcription job at poll ceiling")
			return nil, &TimeoutError{Provider: "assemblyai", After: ac.pollCeiling}
		}

		timer := time.NewTimer(ac.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (ac *AssemblyAIClient) getJob(ctx context.Context, jobID string) (*aaiJob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ac.baseURL+"/transcript/"+jobID, nil)
	if err != nil {
		return nil, fmt.Errorf("create poll request: %w", err)
	}
	req.Header.Set("Authorization", ac.apiKey)

	var job aaiJob
	if err := ac.doJSON(req, &job, ""); err != nil {
		return nil, err
	}
	return &job, nil
}

// doJSON executes the request, classifies non-200 statuses, and decodes
// the body into out.
func (ac *AssemblyAIClient) doJSON(req *http.Request, out any, filename string) error {
	resp, err := ac.client.Do(req)
	if err != nil {
		return fmt.Errorf("assemblyai request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return classifyAPIError("assemblyai", resp.StatusCode, apiMessage(raw), filename)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &APIError{
			Provider: "assemblyai",
			Code:     "bad_response",
			Message:  fmt.Sprintf("decode response: %v", err),
			Filename: filename,
		}
	}
	return nil
}

// normalizeJob maps a completed job into the common Result: utterances in
// provider (chronological) order, unique speaker symbols sorted and given
// default labels, per-second billing.
func normalizeJob(job *aaiJob, opts Options) *Result {
	res := &Result{
		Provider: "assemblyai",
		Options:  opts,
		Text:     strings.TrimSpace(job.Text),
		Language: job.LanguageCode,
		Duration: job.AudioDuration,
	}

	seen := make(map[string]bool)
	for _, u := range job.Utterances {
		res.Utterances = append(res.Utterances, Utterance{
			Speaker:    u.Speaker,
			Start:      u.Start,
			End:        u.End,
			Text:       strings.TrimSpace(u.Text),
			Confidence: u.Confidence,
			Label:      DefaultSpeakerLabel(u.Speaker),
		})
		seen[u.Speaker] = true
	}

	symbols := make([]string, 0, len(seen))
	for s := range seen {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	for _, s := range symbols {
		res.Speakers = append(res.Speakers, SpeakerInfo{Symbol: s, Label: DefaultSpeakerLabel(s)})
	}

	if res.Text == "" && len(res.Utterances) > 0 {
		// Reconstruct the transcript from utterances when the top-level
		// text is absent.
		parts := make([]string, 0, len(res.Utterances))
		for _, u := range res.Utterances {
			if u.Text != "" {
				parts = append(parts, u.Text)
			}
		}
		res.Text = strings.Join(parts, " ")
	}

	if res.Duration <= 0 {
		res.Duration = estimateDurationFromWordCount(len(strings.Fields(res.Text)))
	}
	res.Cost = roundCost(res.Duration * assemblyAIRatePerSecond)

	return res
}

// sanitizeKey makes a filename safe for use inside an object key.
func sanitizeKey(name string) string {
	if name == "" {
		return "audio"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, name)
}
