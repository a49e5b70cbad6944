package video

import (
	"context"
	"strings"

	"cliprelay/internal/core/cache"
	"cliprelay/internal/core/extractor"
	"cliprelay/internal/core/queue"
)

// Extractor is the slice of the invoker the service consumes.
type Extractor interface {
	Extract(ctx context.Context, url string) (*extractor.VideoInfo, error)
	OpenStream(ctx context.Context, url, formatID string) (*extractor.Stream, error)
}

var _ Extractor = (*extractor.Invoker)(nil)

// Service is the front door for video lookups. It normalizes the URL,
// consults the cache, and funnels misses through the request queue so
// every real extraction obeys the global pacing.
type Service struct {
	cache   *cache.Cache
	queue   *queue.Serializer
	invoker Extractor
}

func NewService(c *cache.Cache, q *queue.Serializer, inv Extractor) *Service {
	return &Service{cache: c, queue: q, invoker: inv}
}

// GetVideoInfo returns metadata for any accepted URL shape. The caller
// ctx governs only the wait: once queued, the extraction runs to
// completion and lands in the cache even if this caller gives up.
func (s *Service) GetVideoInfo(ctx context.Context, rawURL string) (*extractor.VideoInfo, error) {
	canonical, err := Normalize(rawURL)
	if err != nil {
		return nil, err
	}
	if info := s.cache.Get(canonical); info != nil {
		return info, nil
	}

	outcome := s.queue.Add("extract "+canonical, func() (any, error) {
		// A twin request may have filled the cache while this one
		// waited its turn.
		if info := s.cache.Get(canonical); info != nil {
			return info, nil
		}
		info, err := s.invoker.Extract(context.Background(), canonical)
		if err != nil {
			return nil, err
		}
		s.cache.Put(canonical, info)
		return info, nil
	})

	select {
	case out := <-outcome:
		if out.Err != nil {
			return nil, out.Err
		}
		return out.Value.(*extractor.VideoInfo), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetFormats returns the quality menu for a video, at most three
// renditions.
func (s *Service) GetFormats(ctx context.Context, rawURL string) ([]FormatOption, error) {
	info, err := s.GetVideoInfo(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return TopFormats(info, 3), nil
}

// OpenDownload starts a byte stream for the requested rendition and
// suggests a filename for it. Downloads bypass the queue: the pacing
// exists for the metadata endpoints, while a stream is one long
// transfer whose cost is bandwidth, not request rate.
func (s *Service) OpenDownload(ctx context.Context, rawURL, formatID string) (*extractor.Stream, string, error) {
	canonical, err := Normalize(rawURL)
	if err != nil {
		return nil, "", err
	}
	stream, err := s.invoker.OpenStream(ctx, canonical, formatID)
	if err != nil {
		return nil, "", err
	}
	return stream, s.suggestFilename(canonical, formatID), nil
}

// suggestFilename builds a download name from cached metadata when
// available, else from the video id. The extension follows the chosen
// format's container.
func (s *Service) suggestFilename(canonical, formatID string) string {
	name := ""
	ext := "mp4"
	if info := s.cache.Get(canonical); info != nil {
		name = SanitizeFilename(info.Title)
		for _, f := range info.Formats {
			if f.FormatID == formatID && f.Ext != "" {
				ext = f.Ext
				break
			}
		}
	}
	if name == "" {
		if id, err := ExtractID(canonical); err == nil {
			name = id
		} else {
			name = "video"
		}
	}
	return name + "." + ext
}

// SanitizeFilename makes a video title safe to offer as a download
// name: path and shell-hostile characters become underscores, control
// characters vanish, length is capped.
func SanitizeFilename(title string) string {
	var sb strings.Builder
	for _, r := range title {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r):
			sb.WriteRune('_')
		case r < 0x20 || r == 0x7f:
		default:
			sb.WriteRune(r)
		}
	}
	out := strings.TrimSpace(sb.String())
	if runes := []rune(out); len(runes) > 120 {
		out = string(runes[:120])
	}
	return out
}
