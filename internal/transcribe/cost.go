package transcribe

import "math"

// Billing rates, per provider pricing. The units differ on purpose
// (whisper bills per minute, AssemblyAI per second) and must stay distinct
// to avoid rounding-driven cost drift.
const (
	whisperRatePerMinute    = 0.006
	assemblyAIRatePerSecond = 0.00025
)

// wordsPerMinute is the speaking-rate constant used to estimate audio
// duration when a provider doesn't report one.
const wordsPerMinute = 150

// defaultBitrateKbps is the bitrate assumed by the pre-flight estimate
// when the caller doesn't supply one.
const defaultBitrateKbps = 128

// CostEstimate is an up-front duration/cost estimate derived from file
// size alone. It is independent of the actual post-transcription cost
// computed from provider-reported duration.
type CostEstimate struct {
	DurationSeconds float64 `json:"duration_seconds"`
	DurationMinutes float64 `json:"duration_minutes"`
	Cost            float64 `json:"cost"`
}

// EstimateCost predicts duration and cost from the file size assuming a
// constant bitrate. bitrateKbps <= 0 selects the 128 kbps default.
func EstimateCost(sizeBytes int64, bitrateKbps int) CostEstimate {
	if bitrateKbps <= 0 {
		bitrateKbps = defaultBitrateKbps
	}
	seconds := float64(sizeBytes) * 8 / (float64(bitrateKbps) * 1000)
	minutes := seconds / 60
	return CostEstimate{
		DurationSeconds: math.Round(seconds*10) / 10,
		DurationMinutes: math.Round(minutes*100) / 100,
		Cost:            roundCost(minutes * whisperRatePerMinute),
	}
}

// estimateDurationFromWordCount converts a transcript word count to
// seconds at the fixed speaking rate, rounded up with a floor of 1 second.
func estimateDurationFromWordCount(words int) float64 {
	seconds := math.Ceil(float64(words) / wordsPerMinute * 60)
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

// roundCost rounds to 4 decimal places for display. Intermediate math
// keeps full precision.
func roundCost(c float64) float64 {
	return math.Round(c*10000) / 10000
}
