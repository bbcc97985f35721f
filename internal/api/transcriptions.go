package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/snarg/scribe-engine/internal/database"
	"github.com/snarg/scribe-engine/internal/metrics"
	"github.com/snarg/scribe-engine/internal/transcribe"
)

// maxUploadBytes bounds the multipart form; the per-provider ceilings are
// enforced by the orchestration core itself.
const maxUploadBytes = 512 << 20

// TranscriptionHandler serves the transcription endpoints.
type TranscriptionHandler struct {
	providers map[string]transcribe.Provider
	db        *database.DB // nil = usage log disabled
	log       zerolog.Logger
}

// NewTranscriptionHandler creates the handler. db may be nil.
func NewTranscriptionHandler(providers map[string]transcribe.Provider, db *database.DB, log zerolog.Logger) *TranscriptionHandler {
	return &TranscriptionHandler{
		providers: providers,
		db:        db,
		log:       log.With().Str("handler", "transcriptions").Logger(),
	}
}

// Routes registers the transcription endpoints.
func (h *TranscriptionHandler) Routes(r chi.Router) {
	r.Post("/transcriptions", h.Create)
	r.Post("/transcriptions/estimate", h.Estimate)
	r.Post("/transcriptions/labels", h.ApplyLabels)
}

// Create handles POST /api/v1/transcriptions. Multipart form: a "file"
// part plus option fields (provider, language, prompt, response_format,
// temperature, speakers_expected).
func (h *TranscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read audio file")
		return
	}

	providerName := r.FormValue("provider")
	if providerName == "" {
		providerName = "whisper"
	}
	provider, ok := h.providers[providerName]
	if !ok {
		WriteError(w, http.StatusBadRequest, "unknown provider "+strconv.Quote(providerName))
		return
	}

	opts := transcribe.Options{
		Filename:       header.Filename,
		ContentType:    header.Header.Get("Content-Type"),
		Language:       r.FormValue("language"),
		Prompt:         r.FormValue("prompt"),
		ResponseFormat: r.FormValue("response_format"),
	}
	if v := r.FormValue("temperature"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			WriteError(w, http.StatusBadRequest, "temperature must be a number between 0 and 1")
			return
		}
		opts.Temperature = f
	}
	if v := r.FormValue("speakers_expected"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 10 {
			WriteError(w, http.StatusBadRequest, "speakers_expected must be an integer between 1 and 10")
			return
		}
		opts.SpeakersExpected = n
	}

	res, err := provider.Transcribe(r.Context(), audio, opts)
	status := "completed"
	if err != nil {
		status = errorStatus(err)
	}

	h.recordUsage(r, providerName, opts.Filename, status, res)
	metrics.ObserveTranscription(providerName, status, resultSeconds(res), resultCost(res), resultProcessing(res))

	if err != nil {
		h.writeTranscribeError(w, r, providerName, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// Estimate handles POST /api/v1/transcriptions/estimate: an up-front
// duration/cost prediction from file size, before anything is uploaded.
func (h *TranscriptionHandler) Estimate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SizeBytes   int64 `json:"size_bytes"`
		BitrateKbps int   `json:"bitrate_kbps"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.SizeBytes <= 0 {
		WriteError(w, http.StatusBadRequest, "size_bytes must be positive")
		return
	}
	WriteJSON(w, http.StatusOK, transcribe.EstimateCost(body.SizeBytes, body.BitrateKbps))
}

// ApplyLabels handles POST /api/v1/transcriptions/labels: relabels
// previously returned diarized output. Pure transform, no network.
func (h *TranscriptionHandler) ApplyLabels(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Utterances []transcribe.Utterance   `json:"utterances"`
		Speakers   []transcribe.SpeakerInfo `json:"speakers"`
		LabelMap   map[string]string        `json:"label_map"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(body.Utterances) == 0 {
		WriteError(w, http.StatusBadRequest, "utterances must not be empty")
		return
	}
	WriteJSON(w, http.StatusOK, transcribe.ApplyLabels(body.Utterances, body.Speakers, body.LabelMap))
}

// writeTranscribeError maps the error taxonomy onto HTTP statuses. The
// response body carries the user-safe message; provider detail goes to the
// log only.
func (h *TranscriptionHandler) writeTranscribeError(w http.ResponseWriter, r *http.Request, providerName string, err error) {
	var ve *transcribe.ValidationError
	var ce *transcribe.ConfigError
	var apiErr *transcribe.APIError
	var te *transcribe.TimeoutError

	switch {
	case errors.As(err, &ve):
		WriteError(w, http.StatusBadRequest, ve.Reason)
	case errors.As(err, &ce):
		h.log.Error().Err(err).Str("provider", providerName).Msg("provider not configured")
		WriteError(w, http.StatusServiceUnavailable, transcribe.UserMessage(err))
	case errors.As(err, &te):
		h.log.Warn().Err(err).Str("provider", providerName).Msg("transcription timed out")
		WriteError(w, http.StatusGatewayTimeout, transcribe.UserMessage(err))
	case errors.As(err, &apiErr):
		h.log.Error().
			Str("provider", apiErr.Provider).
			Int("status", apiErr.Status).
			Str("code", apiErr.Code).
			Str("filename", apiErr.Filename).
			Str("message", apiErr.Message).
			Msg("provider API error")
		WriteError(w, http.StatusBadGateway, transcribe.UserMessage(err))
	default:
		h.log.Error().Err(err).Str("provider", providerName).Msg("transcription failed")
		WriteError(w, http.StatusBadGateway, transcribe.UserMessage(err))
	}
}

// recordUsage appends to the usage log when configured. Best-effort: a
// failed insert is logged and discarded, never surfaced to the caller.
func (h *TranscriptionHandler) recordUsage(r *http.Request, provider, filename, status string, res *transcribe.Result) {
	if h.db == nil {
		return
	}
	row := &database.UsageRow{
		Provider:     provider,
		Filename:     filename,
		Status:       status,
		AudioSeconds: resultSeconds(res),
		Cost:         resultCost(res),
		ProcessingMs: int64(resultProcessing(res) / time.Millisecond),
	}
	if _, err := h.db.InsertUsage(r.Context(), row); err != nil {
		h.log.Warn().Err(err).Msg("usage log insert failed")
	}
}

func errorStatus(err error) string {
	var ve *transcribe.ValidationError
	var ce *transcribe.ConfigError
	var te *transcribe.TimeoutError
	switch {
	case errors.As(err, &ve):
		return "validation_error"
	case errors.As(err, &ce):
		return "config_error"
	case errors.As(err, &te):
		return "timeout"
	default:
		return "api_error"
	}
}

func resultSeconds(res *transcribe.Result) float64 {
	if res == nil {
		return 0
	}
	return res.Duration
}

func resultCost(res *transcribe.Result) float64 {
	if res == nil {
		return 0
	}
	return res.Cost
}

func resultProcessing(res *transcribe.Result) time.Duration {
	if res == nil {
		return 0
	}
	return time.Duration(res.ProcessingMs) * time.Millisecond
}
