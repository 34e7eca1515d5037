// Package media handles the temporary photo and voice files the bot
// downloads from Telegram: naming, download, cleanup and MIME detection.
package media

import (
	"net/http"
	"path/filepath"
	"strings"
)

// Size limits for downloaded media.
const (
	MaxImageBytes = 10 * 1024 * 1024 // 10MB
	MaxAudioBytes = 20 * 1024 * 1024 // 20MB, the Bot API download ceiling
)

// Kind represents the type of media.
type Kind string

const (
	KindImage   Kind = "image"
	KindAudio   Kind = "audio"
	KindUnknown Kind = "unknown"
)

var extensionToMIME = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",

	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".opus": "audio/ogg",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".wav":  "audio/wav",
	".flac": "audio/flac",
}

// KindFromMIME returns the media kind based on MIME type.
func KindFromMIME(mime string) Kind {
	mime = strings.ToLower(mime)
	switch {
	case strings.HasPrefix(mime, "image/"):
		return KindImage
	case strings.HasPrefix(mime, "audio/"), mime == "application/ogg":
		return KindAudio
	default:
		return KindUnknown
	}
}

// MaxBytesForKind returns the download limit for a media kind.
func MaxBytesForKind(kind Kind) int64 {
	if kind == KindImage {
		return MaxImageBytes
	}
	return MaxAudioBytes
}

// MIMEFromExtension returns the MIME type for a file extension.
func MIMEFromExtension(ext string) string {
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return extensionToMIME[ext]
}

// DetectMIME picks a MIME type for data. A MIME type reported by Telegram
// wins, then the file extension, then content sniffing.
func DetectMIME(data []byte, filename, reported string) string {
	if reported = normalizeMIME(reported); reported != "" && reported != "application/octet-stream" {
		return reported
	}
	if mime := MIMEFromExtension(filepath.Ext(filename)); mime != "" {
		return mime
	}
	if len(data) > 0 {
		return normalizeMIME(http.DetectContentType(data))
	}
	return ""
}

func normalizeMIME(mime string) string {
	mime = strings.TrimSpace(mime)
	if idx := strings.Index(mime, ";"); idx != -1 {
		mime = strings.TrimSpace(mime[:idx])
	}
	return strings.ToLower(mime)
}
