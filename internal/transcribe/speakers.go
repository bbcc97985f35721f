package transcribe

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultSpeakerLabel is the display label for an unmapped provider
// speaker symbol.
func DefaultSpeakerLabel(symbol string) string {
	return "Speaker " + symbol
}

// LabeledTranscript is the output of ApplyLabels: fresh utterance and
// speaker slices with labels resolved, plus the rendered transcript.
type LabeledTranscript struct {
	Utterances []Utterance       `json:"utterances"`
	Speakers   []SpeakerInfo     `json:"speakers"`
	Transcript string            `json:"transcript"`
	LabelMap   map[string]string `json:"label_map"`
}

// FormatTranscript renders speaker-tagged utterances as a human-readable
// transcript: one "[MM:SS] Label: text" line per utterance, blank-line
// separated. labels overrides the default "Speaker X" display names; it
// may be nil. An empty utterance list renders as an empty string.
func FormatTranscript(utterances []Utterance, labels map[string]string) string {
	if len(utterances) == 0 {
		return ""
	}
	lines := make([]string, 0, len(utterances))
	for _, u := range utterances {
		lines = append(lines, fmt.Sprintf("%s %s: %s", formatTimestamp(u.Start), resolveLabel(u.Speaker, labels), u.Text))
	}
	return strings.Join(lines, "\n\n")
}

// ApplyLabels overlays a caller-chosen label map onto diarized output.
// It is a pure transform: the input slices are never mutated; new slices
// are returned with the resolved label attached alongside the original
// speaker symbol, and the transcript re-rendered with the new labels.
func ApplyLabels(utterances []Utterance, speakers []SpeakerInfo, labels map[string]string) LabeledTranscript {
	out := LabeledTranscript{
		Utterances: make([]Utterance, len(utterances)),
		LabelMap:   labels,
	}

	for i, u := range utterances {
		u.Label = resolveLabel(u.Speaker, labels)
		out.Utterances[i] = u
	}

	if len(speakers) == 0 {
		// Derive the speaker set from the utterances themselves.
		seen := make(map[string]bool)
		for _, u := range utterances {
			if !seen[u.Speaker] {
				seen[u.Speaker] = true
				speakers = append(speakers, SpeakerInfo{Symbol: u.Speaker})
			}
		}
		sort.Slice(speakers, func(i, j int) bool { return speakers[i].Symbol < speakers[j].Symbol })
	}

	out.Speakers = make([]SpeakerInfo, len(speakers))
	for i, s := range speakers {
		s.Label = resolveLabel(s.Symbol, labels)
		out.Speakers[i] = s
	}

	out.Transcript = FormatTranscript(out.Utterances, labels)
	return out
}

func resolveLabel(symbol string, labels map[string]string) string {
	if name, ok := labels[symbol]; ok && name != "" {
		return name
	}
	return DefaultSpeakerLabel(symbol)
}

// formatTimestamp renders milliseconds as [MM:SS], growing to [HH:MM:SS]
// once the hour component is non-zero. Fields are zero-padded to 2 digits.
func formatTimestamp(ms int) string {
	total := ms / 1000
	h := total / 3600
	m := total % 3600 / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("[%02d:%02d:%02d]", h, m, s)
	}
	return fmt.Sprintf("[%02d:%02d]", m, s)
}
