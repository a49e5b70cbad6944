package video

import (
	"fmt"
	"sort"

	"cliprelay/internal/core/extractor"
)

// FormatOption is one row of the quality menu offered to a caller.
type FormatOption struct {
	Quality       string  `json:"quality"`
	Container     string  `json:"container"`
	FilesizeBytes int64   `json:"filesize_bytes,omitempty"`
	FormatID      string  `json:"format_id"`
	FPS           float64 `json:"fps,omitempty"`
}

// TopFormats distills the tool's exhaustive format list into at most
// limit video renditions, best first. Audio-only entries and
// storyboard pseudo-formats are skipped, and each quality label
// appears once.
func TopFormats(info *extractor.VideoInfo, limit int) []FormatOption {
	if limit <= 0 {
		limit = 3
	}

	usable := make([]extractor.Format, 0, len(info.Formats))
	for _, f := range info.Formats {
		if f.Height <= 0 || f.VCodec == "" || f.VCodec == "none" {
			continue
		}
		usable = append(usable, f)
	}
	sort.SliceStable(usable, func(i, j int) bool {
		if usable[i].Height != usable[j].Height {
			return usable[i].Height > usable[j].Height
		}
		return usable[i].FPS > usable[j].FPS
	})

	seen := make(map[string]bool)
	out := make([]FormatOption, 0, limit)
	for _, f := range usable {
		quality := qualityLabel(f)
		if seen[quality] {
			continue
		}
		seen[quality] = true
		out = append(out, FormatOption{
			Quality:       quality,
			Container:     f.Ext,
			FilesizeBytes: f.Size(),
			FormatID:      f.FormatID,
			FPS:           f.FPS,
		})
		if len(out) == limit {
			break
		}
	}
	return out
}

// qualityLabel renders 720p, 1080p60 and the like. High frame rates
// join the label so the 30 and 60 fps renditions of one height stay
// distinct choices.
func qualityLabel(f extractor.Format) string {
	if f.FPS >= 50 {
		return fmt.Sprintf("%dp%.0f", f.Height, f.FPS)
	}
	return fmt.Sprintf("%dp", f.Height)
}
