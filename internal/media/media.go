// Package media decides what an uploaded attachment is: whether it is
// accepted at all, which message kind it becomes, and for voice notes how
// long it plays.
package media

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/shinyyama/rental-backend/internal/model"
)

const (
	MaxAttachmentBytes = 10 << 20

	// VoiceNoteName is the base name recording clients give to voice notes.
	VoiceNoteName = "voice-message"

	genericMIME = "application/octet-stream"
)

var acceptedExtensions = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true, "webp": true,
	"pdf": true, "txt": true, "doc": true, "docx": true,
	"mp3": true, "wav": true, "ogg": true, "webm": true, "mp4": true, "aac": true, "m4a": true, "flac": true,
}

var acceptedMIMEs = map[string]bool{
	"image/jpeg": true, "image/png": true, "image/gif": true, "image/webp": true,
	"application/pdf": true, "text/plain": true, "application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"audio/mpeg": true, "audio/mp3": true, "audio/wav": true, "audio/x-wav": true, "audio/wave": true,
	"audio/ogg": true, "application/ogg": true, "audio/opus": true, "audio/webm": true, "video/webm": true, "audio/mp4": true, "video/mp4": true,
	"audio/aac": true, "audio/x-m4a": true, "audio/m4a": true, "audio/flac": true, "audio/x-flac": true,
}

var voiceExtensions = map[string]bool{
	"mp3": true, "wav": true, "ogg": true, "webm": true, "m4a": true, "aac": true, "flac": true,
}

// Extension returns the lower-case extension of filename without the dot.
func Extension(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// DetectMIME returns the type sniffed from the content. The declared type is
// only used when the content matches nothing more specific than raw bytes.
func DetectMIME(declared string, data []byte) string {
	sniffed := normalizeMIME(mimetype.Detect(data).String())
	if sniffed != genericMIME {
		return sniffed
	}
	if d := normalizeMIME(declared); d != "" {
		return d
	}
	return genericMIME
}

func normalizeMIME(s string) string {
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// Accepts reports whether an upload may be attached. mime should come from
// DetectMIME; a recognised type must be on the allow-list, and only content
// with no recognisable type falls back to the file extension.
func Accepts(filename, mime string) bool {
	mime = normalizeMIME(mime)
	if mime == "" || mime == genericMIME {
		return acceptedExtensions[Extension(filename)]
	}
	return acceptedMIMEs[mime]
}

// Classify picks the kind of an attachment. Precedence matters: recorders
// often label audio as video/webm, and those must still become voice notes.
func Classify(mime, filename string) model.MessageKind {
	mime = normalizeMIME(mime)
	switch {
	case strings.HasPrefix(mime, "image/"):
		return model.KindImage
	case strings.HasPrefix(mime, "audio/"),
		mime == "video/webm",
		voiceExtensions[Extension(filename)],
		isVoiceNoteName(filename):
		return model.KindVoice
	default:
		return model.KindFile
	}
}

func isVoiceNoteName(filename string) bool {
	base := filepath.Base(filename)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return strings.EqualFold(base, VoiceNoteName)
}
