package processor

import (
	"path"
	"path/filepath"
	"strings"
)

const defaultOutputName = "video.mp4"

var videoExts = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".gif":  "image/gif",
}

// OutputKey is the storage key of a job's video.
func OutputKey(jobID, name string) string {
	return path.Join("renders", jobID, name)
}

// OutputName normalizes the requested file name: sanitized, with a known
// video extension (".mp4" is appended otherwise).
func OutputName(name string) string {
	name = SanitizeFilename(strings.TrimSpace(name))
	if name == "input" || name == "" {
		return defaultOutputName
	}
	if _, ok := videoExts[strings.ToLower(filepath.Ext(name))]; !ok {
		name += ".mp4"
	}
	return name
}

// ContentTypeForName returns the MIME type of a video file name.
func ContentTypeForName(name string) string {
	if ct, ok := videoExts[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// SanitizeFilename strips path separators and traversal from a file name.
func SanitizeFilename(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "..", "")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	if s == "" {
		return "input"
	}
	return s
}

// ExtFromMime returns the file extension for an image or video MIME type.
func ExtFromMime(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	switch mime {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/svg+xml":
		return ".svg"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	case "video/quicktime":
		return ".mov"
	default:
		return ""
	}
}
