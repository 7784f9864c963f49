// Package audio holds small helpers for working with audio payloads.
package audio

import "strings"

// ExtensionForMIME maps a Content-Type hint to a file extension for temp
// artifacts handed to external engines. Unrecognized types fall back to a
// generic binary extension.
func ExtensionForMIME(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/ogg", "application/ogg":
		return ".ogg"
	case "audio/aac":
		return ".aac"
	default:
		return ".bin"
	}
}

// IsAudio reports whether the Content-Type names an audio payload. An empty
// type and application/octet-stream are accepted since raw uploads often
// omit a precise type.
func IsAudio(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ct == "" || ct == "application/octet-stream" || ct == "application/ogg" {
		return true
	}
	return strings.HasPrefix(ct, "audio/")
}
