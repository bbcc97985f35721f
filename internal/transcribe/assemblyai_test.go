package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeAssemblyAI is an httptest backend implementing the three-phase job
// protocol. Poll responses are served from the statuses queue, sticking on
// the last entry.
type fakeAssemblyAI struct {
	mu         sync.Mutex
	statuses   []aaiJob
	pollCount  int
	uploads    int
	submitBody map[string]any
}

func (f *fakeAssemblyAI) polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pollCount
}

func (f *fakeAssemblyAI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/upload":
			f.uploads++
			json.NewEncoder(w).Encode(map[string]string{"upload_url": "https://cdn.example/upload/abc"})
		case r.Method == http.MethodPost && r.URL.Path == "/transcript":
			if err := json.NewDecoder(r.Body).Decode(&f.submitBody); err != nil {
				t.Errorf("decode submit body: %v", err)
			}
			json.NewEncoder(w).Encode(map[string]string{"id": "job-1", "status": "queued"})
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/transcript/"):
			idx := f.pollCount
			if idx >= len(f.statuses) {
				idx = len(f.statuses) - 1
			}
			f.pollCount++
			json.NewEncoder(w).Encode(f.statuses[idx])
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func newTestAssemblyAI(t *testing.T, fake *fakeAssemblyAI) *AssemblyAIClient {
	t.Helper()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)
	ac := NewAssemblyAIClient("test-key", srv.URL, nil, zerolog.Nop())
	ac.SetPollCadence(2*time.Millisecond, time.Second)
	p := apiCallPolicy("assemblyai", zerolog.Nop())
	p.InitialDelay = time.Millisecond
	p.MaxDelay = 2 * time.Millisecond
	ac.policy = p
	return ac
}

func completedJob() aaiJob {
	return aaiJob{
		ID:     "job-1",
		Status: "completed",
		Text:   "Hello there. General Kenobi.",
		Utterances: []aaiUtterance{
			{Speaker: "A", Start: 0, End: 1500, Text: "Hello there.", Confidence: 0.99},
			{Speaker: "B", Start: 2000, End: 4000, Text: "General Kenobi.", Confidence: 0.97},
		},
		AudioDuration: 240,
		LanguageCode:  "en_us",
	}
}

func TestAssemblyAI_MissingKeyFailsFast(t *testing.T) {
	fake := &fakeAssemblyAI{}
	ac := newTestAssemblyAI(t, fake)
	ac.apiKey = ""

	_, err := ac.Transcribe(context.Background(), audioBytes(2000), Options{Filename: "a.mp3"})
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *ConfigError", err)
	}
	if fake.uploads != 0 {
		t.Error("upload was attempted despite missing credential")
	}
}

func TestAssemblyAI_FullJobLifecycle(t *testing.T) {
	fake := &fakeAssemblyAI{statuses: []aaiJob{
		{ID: "job-1", Status: "queued"},
		{ID: "job-1", Status: "processing"},
		{ID: "job-1", Status: "processing"},
		completedJob(),
	}}
	ac := newTestAssemblyAI(t, fake)

	res, err := ac.Transcribe(context.Background(), audioBytes(2000), Options{
		Filename:         "interview.mp3",
		SpeakersExpected: 2,
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if fake.uploads != 1 {
		t.Errorf("uploads = %d, want 1", fake.uploads)
	}
	if fake.polls() != 4 {
		t.Errorf("polls = %d, want 4 (queued, processing x2, completed)", fake.polls())
	}

	if res.Text != "Hello there. General Kenobi." {
		t.Errorf("Text = %q", res.Text)
	}
	if res.Duration != 240 {
		t.Errorf("Duration = %v, want 240", res.Duration)
	}
	// 240s at $0.00025/s.
	if res.Cost != 0.06 {
		t.Errorf("Cost = %v, want 0.06", res.Cost)
	}
	if res.Language != "en_us" {
		t.Errorf("Language = %q", res.Language)
	}
	if len(res.Utterances) != 2 {
		t.Fatalf("Utterances = %d, want 2", len(res.Utterances))
	}
	if res.Utterances[0].Label != "Speaker A" {
		t.Errorf("Label = %q, want Speaker A", res.Utterances[0].Label)
	}
	if len(res.Speakers) != 2 || res.Speakers[0].Symbol != "A" || res.Speakers[1].Symbol != "B" {
		t.Errorf("Speakers = %+v, want sorted A, B", res.Speakers)
	}

	// Submit body: diarization always on, speakers passed through, and
	// auto-detect since no language hint was given.
	if fake.submitBody["speaker_labels"] != true {
		t.Error("speaker_labels not set on submit")
	}
	if fake.submitBody["audio_url"] != "https://cdn.example/upload/abc" {
		t.Errorf("audio_url = %v", fake.submitBody["audio_url"])
	}
	if fake.submitBody["speakers_expected"] != float64(2) {
		t.Errorf("speakers_expected = %v", fake.submitBody["speakers_expected"])
	}
	if fake.submitBody["language_detection"] != true {
		t.Error("language_detection not enabled without a hint")
	}
	if _, ok := fake.submitBody["language_code"]; ok {
		t.Error("language_code and language_detection are mutually exclusive")
	}
}

func TestAssemblyAI_LanguageHintDisablesDetection(t *testing.T) {
	fake := &fakeAssemblyAI{statuses: []aaiJob{completedJob()}}
	ac := newTestAssemblyAI(t, fake)

	_, err := ac.Transcribe(context.Background(), audioBytes(2000), Options{Filename: "a.mp3", Language: "es"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if fake.submitBody["language_code"] != "es" {
		t.Errorf("language_code = %v, want es", fake.submitBody["language_code"])
	}
	if _, ok := fake.submitBody["language_detection"]; ok {
		t.Error("language_detection sent alongside an explicit language_code")
	}
}

func TestAssemblyAI_SpeakersExpectedOutOfRange(t *testing.T) {
	fake := &fakeAssemblyAI{}
	ac := newTestAssemblyAI(t, fake)

	_, err := ac.Transcribe(context.Background(), audioBytes(2000), Options{Filename: "a.mp3", SpeakersExpected: 11})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	if fake.uploads != 0 {
		t.Error("network reached despite invalid option")
	}
}

func TestAssemblyAI_MissingUploadURLIsMalformedSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{}) // 200 but no upload_url
	}))
	t.Cleanup(srv.Close)
	ac := NewAssemblyAIClient("test-key", srv.URL, nil, zerolog.Nop())

	_, err := ac.Transcribe(context.Background(), audioBytes(2000), Options{Filename: "a.mp3"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Code != "bad_response" {
		t.Errorf("Code = %q, want bad_response", apiErr.Code)
	}
}

func TestAssemblyAI_MissingJobIDIsHardFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/upload" {
			json.NewEncoder(w).Encode(map[string]string{"upload_url": "https://cdn.example/u"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "queued"}) // no id
	}))
	t.Cleanup(srv.Close)
	ac := NewAssemblyAIClient("test-key", srv.URL, nil, zerolog.Nop())

	_, err := ac.Transcribe(context.Background(), audioBytes(2000), Options{Filename: "a.mp3"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Code != "bad_response" || !strings.Contains(apiErr.Message, "job id") {
		t.Errorf("got %v, want bad_response about the missing job id", apiErr)
	}
}

func TestAssemblyAI_ProviderErrorStatusIsTerminal(t *testing.T) {
	fake := &fakeAssemblyAI{statuses: []aaiJob{
		{ID: "job-1", Status: "queued"},
		{ID: "job-1", Status: "error", Error: "audio file could not be decoded"},
	}}
	ac := newTestAssemblyAI(t, fake)

	_, err := ac.Transcribe(context.Background(), audioBytes(2000), Options{Filename: "a.mp3"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Message != "audio file could not be decoded" {
		t.Errorf("Message = %q", apiErr.Message)
	}
	if fake.polls() != 2 {
		t.Errorf("polls = %d, want 2 (error status stops the loop)", fake.polls())
	}
}

func TestAssemblyAI_PollCeilingRaisesTimeout(t *testing.T) {
	fake := &fakeAssemblyAI{statuses: []aaiJob{{ID: "job-1", Status: "processing"}}}
	ac := newTestAssemblyAI(t, fake)
	ac.SetPollCadence(5*time.Millisecond, 30*time.Millisecond)

	_, err := ac.Transcribe(context.Background(), audioBytes(2000), Options{Filename: "a.mp3"})
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TimeoutError", err)
	}
	if te.Provider != "assemblyai" {
		t.Errorf("Provider = %q", te.Provider)
	}

	// No further polls once the ceiling fired.
	polls := fake.polls()
	time.Sleep(30 * time.Millisecond)
	if fake.polls() != polls {
		t.Errorf("polling continued after timeout: %d -> %d", polls, fake.polls())
	}
}

func TestAssemblyAI_TextReconstructedFromUtterances(t *testing.T) {
	job := completedJob()
	job.Text = ""
	fake := &fakeAssemblyAI{statuses: []aaiJob{job}}
	ac := newTestAssemblyAI(t, fake)

	res, err := ac.Transcribe(context.Background(), audioBytes(2000), Options{Filename: "a.mp3"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "Hello there. General Kenobi." {
		t.Errorf("Text = %q, want concatenated utterances", res.Text)
	}
}

// memStore is an in-memory AudioStore for testing the object-store path.
type memStore struct {
	mu    sync.Mutex
	saved map[string][]byte
}

func (m *memStore) Save(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = make(map[string][]byte)
	}
	m.saved[key] = data
	return nil
}

func (m *memStore) URL(_ context.Context, key string) (string, error) {
	return fmt.Sprintf("https://bucket.example/%s?signed", key), nil
}

func TestAssemblyAI_ObjectStoreSkipsProviderUpload(t *testing.T) {
	fake := &fakeAssemblyAI{statuses: []aaiJob{completedJob()}}
	store := &memStore{}

	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)
	ac := NewAssemblyAIClient("test-key", srv.URL, store, zerolog.Nop())
	ac.SetPollCadence(2*time.Millisecond, time.Second)

	_, err := ac.Transcribe(context.Background(), audioBytes(2000), Options{Filename: "ep 01.mp3"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if fake.uploads != 0 {
		t.Errorf("provider upload called %d times, want 0 with a store configured", fake.uploads)
	}
	if len(store.saved) != 1 {
		t.Fatalf("store.saved = %d entries, want 1", len(store.saved))
	}
	url, _ := fake.submitBody["audio_url"].(string)
	if !strings.HasPrefix(url, "https://bucket.example/uploads/") || !strings.Contains(url, "ep-01.mp3") {
		t.Errorf("audio_url = %q, want presigned store URL with sanitized key", url)
	}
}
