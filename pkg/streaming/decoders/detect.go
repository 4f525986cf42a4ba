package decoders

import (
	"strings"
)

// DetectFromContentType detects the stream format from an HTTP
// Content-Type header.
func DetectFromContentType(contentType string) StreamFormat {
	// Normalize content type (lowercase and remove parameters)
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = strings.TrimSpace(contentType[:idx])
	}

	switch {
	case contentType == "text/event-stream":
		return StreamFormatSSE
	case strings.Contains(contentType, "event-stream"):
		return StreamFormatSSE
	default:
		return StreamFormatUnknown
	}
}

// DetectFromBytes guesses the format from the first bytes of a stream.
// It is used for captured files, which carry no headers.
func DetectFromBytes(content []byte) StreamFormat {
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, fieldEvent) ||
			strings.HasPrefix(line, fieldData) ||
			strings.HasPrefix(line, "id:") ||
			strings.HasPrefix(line, "retry:") ||
			strings.HasPrefix(line, ":") {
			return StreamFormatSSE
		}
		return StreamFormatUnknown
	}
	return StreamFormatUnknown
}
