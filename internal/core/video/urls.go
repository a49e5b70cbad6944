package video

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ValidationError reports an input URL the service refuses to touch.
// It is a distinct type so the web layer can answer with a 400 instead
// of blaming the upstream.
type ValidationError struct {
	Input  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid video url %q: %s", e.Input, e.Reason)
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// ExtractID pulls the 11-character video id out of any accepted URL
// shape: watch, youtu.be, shorts, embed and the legacy /v/ path, with
// or without www. or m. host prefixes.
func ExtractID(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", &ValidationError{Input: raw, Reason: "empty input"}
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", &ValidationError{Input: raw, Reason: "unparsable"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", &ValidationError{Input: raw, Reason: "scheme must be http or https"}
	}
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimPrefix(host, "m.")

	var id string
	switch host {
	case "youtu.be":
		id = firstSegment(u.Path)
	case "youtube.com", "music.youtube.com":
		switch {
		case u.Path == "/watch":
			id = u.Query().Get("v")
		case strings.HasPrefix(u.Path, "/shorts/"):
			id = firstSegment(strings.TrimPrefix(u.Path, "/shorts"))
		case strings.HasPrefix(u.Path, "/embed/"):
			id = firstSegment(strings.TrimPrefix(u.Path, "/embed"))
		case strings.HasPrefix(u.Path, "/v/"):
			id = firstSegment(strings.TrimPrefix(u.Path, "/v"))
		default:
			return "", &ValidationError{Input: raw, Reason: "unsupported video path"}
		}
	default:
		return "", &ValidationError{Input: raw, Reason: "not a recognized video host"}
	}

	if !idPattern.MatchString(id) {
		return "", &ValidationError{Input: raw, Reason: "video id malformed"}
	}
	return id, nil
}

func firstSegment(path string) string {
	return strings.SplitN(strings.TrimPrefix(path, "/"), "/", 2)[0]
}

// Normalize converts any accepted URL shape into the canonical watch
// form. The canonical form doubles as the cache key, so equivalent
// shapes share one entry.
func Normalize(raw string) (string, error) {
	id, err := ExtractID(raw)
	if err != nil {
		return "", err
	}
	return "https://www.youtube.com/watch?v=" + id, nil
}
