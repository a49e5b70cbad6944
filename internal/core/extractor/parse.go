package extractor

import (
	"encoding/json"
	"strings"
)

// VideoInfo is the subset of the tool's --dump-single-json output the
// rest of the system consumes.
type VideoInfo struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Duration   float64  `json:"duration"`
	Thumbnail  string   `json:"thumbnail"`
	Uploader   string   `json:"uploader"`
	UploaderID string   `json:"uploader_id"`
	WebpageURL string   `json:"webpage_url"`
	Formats    []Format `json:"formats"`
}

// Format describes one downloadable rendition.
type Format struct {
	FormatID       string  `json:"format_id"`
	Ext            string  `json:"ext"`
	Height         int     `json:"height"`
	Width          int     `json:"width"`
	FPS            float64 `json:"fps"`
	FilesizeBytes  int64   `json:"filesize"`
	FilesizeApprox int64   `json:"filesize_approx"`
	VCodec         string  `json:"vcodec"`
	ACodec         string  `json:"acodec"`
	FormatNote     string  `json:"format_note"`
}

// Size returns the exact filesize when the tool reported one, falling
// back to its estimate.
func (f *Format) Size() int64 {
	if f.FilesizeBytes > 0 {
		return f.FilesizeBytes
	}
	return f.FilesizeApprox
}

// ParseInfo decodes the metadata JSON from tool stdout. The tool may
// emit progress noise before the payload, so only the last non-blank
// line is considered.
func ParseInfo(stdout []byte) (*VideoInfo, error) {
	lines := strings.Split(string(stdout), "\n")
	var payload string
	for i := len(lines) - 1; i >= 0; i-- {
		if s := strings.TrimSpace(lines[i]); s != "" {
			payload = s
			break
		}
	}
	if payload == "" {
		return nil, &Error{Kind: KindStrategyFailed, Detail: "tool produced no output"}
	}

	var info VideoInfo
	if err := json.Unmarshal([]byte(payload), &info); err != nil {
		return nil, &Error{Kind: KindStrategyFailed, Detail: "unparsable tool output: " + err.Error()}
	}
	if info.ID == "" {
		return nil, &Error{Kind: KindStrategyFailed, Detail: "tool output missing video id"}
	}
	return &info, nil
}
