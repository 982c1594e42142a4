// Package format implements the FormatDetector component: mapping a
// MIME type and/or URL to a canonical format tag that drives the
// PipelineBuilder's passthrough decision (spec.md §4.4).
package format

import (
	"path"
	"strings"
)

type Format string

const (
	Opus    Format = "Opus"
	Ogg     Format = "Ogg"
	WebM    Format = "WebM"
	Mp3     Format = "Mp3"
	Aac     Format = "Aac"
	Flac    Format = "Flac"
	Wav     Format = "Wav"
	Unknown Format = "Unknown"
)

var mimeExact = map[string]Format{
	"audio/opus":        Opus,
	"audio/ogg":         Ogg,
	"application/ogg":   Ogg,
	"audio/webm":        WebM,
	"video/webm":        WebM,
	"audio/mpeg":        Mp3,
	"audio/mp3":         Mp3,
	"audio/aac":         Aac,
	"audio/flac":        Flac,
	"audio/x-flac":      Flac,
	"audio/wav":         Wav,
	"audio/x-wav":       Wav,
	"audio/wave":        Wav,
}

var mimePrefix = []struct {
	prefix string
	format Format
}{
	{"audio/ogg", Ogg},
	{"audio/opus", Opus},
	{"audio/webm", WebM},
	{"video/webm", WebM},
}

var extMap = map[string]Format{
	".opus": Opus,
	".ogg":  Ogg,
	".webm": WebM,
	".mp3":  Mp3,
	".aac":  Aac,
	".flac": Flac,
	".wav":  Wav,
}

// Detect classifies a stream by MIME type first (exact, then prefix),
// falling back to the URL's file extension when the MIME type is
// ambiguous or absent.
func Detect(mime *string, url string) Format {
	if mime != nil {
		m := strings.ToLower(strings.TrimSpace(*mime))
		// Strip parameters, e.g. "audio/ogg; codecs=opus".
		if idx := strings.Index(m, ";"); idx >= 0 {
			m = strings.TrimSpace(m[:idx])
		}
		if f, ok := mimeExact[m]; ok {
			return f
		}
		for _, p := range mimePrefix {
			if strings.HasPrefix(m, p.prefix) {
				return p.format
			}
		}
	}

	ext := strings.ToLower(path.Ext(stripQuery(url)))
	if f, ok := extMap[ext]; ok {
		return f
	}
	return Unknown
}

func stripQuery(url string) string {
	if idx := strings.IndexAny(url, "?#"); idx >= 0 {
		return url[:idx]
	}
	return url
}

// IsOggBitstream reports whether format represents a bitstream carried
// in an OGG container (spec.md §4.4: "Opus and Ogg are treated as
// 'bitstream in an OGG container'").
func IsOggBitstream(f Format) bool { return f == Opus || f == Ogg }

// IsOpusInWebM reports whether format represents Opus-in-WebM.
func IsOpusInWebM(f Format) bool { return f == WebM }
