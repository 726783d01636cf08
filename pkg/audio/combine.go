package audio

import (
	"errors"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultExtension is used when the MIME type is not in the lookup table.
const DefaultExtension = "audio"

// ErrNoAudio is returned when every part is absent or empty.
var ErrNoAudio = errors.New("no audio parts provided")

var extensions = map[string]string{
	"audio/mpeg":  "mp3",
	"audio/mp3":   "mp3",
	"audio/wav":   "wav",
	"audio/wave":  "wav",
	"audio/x-wav": "wav",
	"audio/webm":  "webm",
	"audio/ogg":   "ogg",
	"audio/mp4":   "m4a",
	"audio/x-m4a": "m4a",
	"audio/aac":   "aac",
	"audio/flac":  "flac",
}

// Part is one recorded answer. A nil part or empty Data marks the part as absent.
type Part struct {
	Data     []byte
	MimeType string
	Name     string
}

// Combined is the concatenated recording.
type Combined struct {
	Data      []byte
	MimeType  string
	Extension string
}

// Combine concatenates present parts byte-wise in order. The MIME type comes from the first present
// part. No re-encoding happens, so all parts are expected to share a container.
func Combine(parts []*Part) (Combined, error) {
	size := 0
	var first *Part
	for _, part := range parts {
		if !present(part) {
			continue
		}
		if first == nil {
			first = part
		}
		size += len(part.Data)
	}
	if first == nil {
		return Combined{}, ErrNoAudio
	}

	data := make([]byte, 0, size)
	for _, part := range parts {
		if present(part) {
			data = append(data, part.Data...)
		}
	}

	mime := DetectMIME(first.Data, first.MimeType)
	return Combined{
		Data:      data,
		MimeType:  mime,
		Extension: ExtensionForMIME(mime),
	}, nil
}

// ExtensionForMIME maps an audio MIME type to a file extension.
func ExtensionForMIME(mime string) string {
	if ext, ok := extensions[baseType(mime)]; ok {
		return ext
	}
	return DefaultExtension
}

// DetectMIME returns the declared type when set, otherwise the type sniffed from the payload.
func DetectMIME(data []byte, declared string) string {
	if base := baseType(declared); base != "" {
		return base
	}
	return baseType(mimetype.Detect(data).String())
}

// IsAudio reports whether the payload sniffs as audio. WebM and MP4 containers are accepted
// since browsers record audio into them.
func IsAudio(data []byte) bool {
	detected := mimetype.Detect(data)
	for mt := detected; mt != nil; mt = mt.Parent() {
		if strings.HasPrefix(mt.String(), "audio/") {
			return true
		}
	}
	return detected.Is("video/webm") || detected.Is("video/mp4")
}

func baseType(mime string) string {
	if idx := strings.Index(mime, ";"); idx >= 0 {
		mime = mime[:idx]
	}
	return strings.ToLower(strings.TrimSpace(mime))
}

func present(part *Part) bool {
	return part != nil && len(part.Data) > 0
}
