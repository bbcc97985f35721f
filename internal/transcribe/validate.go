package transcribe

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// minAudioBytes is the floor below which an upload is treated as corrupt
// or empty rather than real audio.
const minAudioBytes = 1000

// limits holds a provider's size ceiling and supported-format set.
type limits struct {
	MaxBytes int64
	Formats  map[string]bool
}

// contentTypeExt maps declared MIME types to extensions, used when the
// filename carries no usable suffix.
var contentTypeExt = map[string]string{
	"audio/mpeg":   "mp3",
	"audio/mp3":    "mp3",
	"audio/mp4":    "m4a",
	"audio/x-m4a":  "m4a",
	"audio/m4a":    "m4a",
	"audio/wav":    "wav",
	"audio/x-wav":  "wav",
	"audio/wave":   "wav",
	"audio/webm":   "webm",
	"video/webm":   "webm",
	"audio/ogg":    "ogg",
	"audio/flac":   "flac",
	"audio/x-flac": "flac",
	"audio/aac":    "aac",
	"video/mp4":    "mp4",
	"video/mpeg":   "mpeg",
}

// fileInfo is the outcome of a successful validation.
type fileInfo struct {
	Ext  string // may be empty when nothing could be inferred
	Size int64
}

// validateAudio checks size bounds and format before any network call.
// The extension comes from the filename suffix, falling back to the
// declared content type. When neither yields anything, validation passes:
// the provider itself is the authority on whether it can decode the bytes,
// and rejecting typeless-but-valid audio here would be a false negative.
func validateAudio(data []byte, filename, contentType string, lim limits) (fileInfo, error) {
	if len(data) == 0 {
		return fileInfo{}, &ValidationError{Reason: "no audio data provided"}
	}
	size := int64(len(data))
	if size < minAudioBytes {
		return fileInfo{}, &ValidationError{
			Reason: fmt.Sprintf("audio file is too small (%d bytes), it may be empty or corrupt", size),
		}
	}
	if size > lim.MaxBytes {
		return fileInfo{}, &ValidationError{
			Reason: fmt.Sprintf("audio file is too large (%d bytes, limit %d)", size, lim.MaxBytes),
		}
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if ext == "" {
		// Strip any ";charset=..." parameter before the lookup.
		ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
		ext = contentTypeExt[ct]
	}

	if ext != "" && !lim.Formats[ext] {
		return fileInfo{}, &ValidationError{
			Reason: fmt.Sprintf("unsupported audio format %q (supported: %s)", ext, formatList(lim.Formats)),
		}
	}

	return fileInfo{Ext: ext, Size: size}, nil
}

func formatList(formats map[string]bool) string {
	list := make([]string, 0, len(formats))
	for f := range formats {
		list = append(list, f)
	}
	sort.Strings(list)
	return strings.Join(list, ", ")
}
