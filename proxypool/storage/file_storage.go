package storage

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"cliprelay/internal/shared/logger"
	"cliprelay/proxypool/model"
)

const (
	delimiter = "|"
	numFields = 12 // scheme|host|port|username|password|source|country|active|failures|successes|latency_ms|added_at
)

// Store persists the proxy pool between runs.
type Store interface {
	Load() ([]*model.Endpoint, error)
	Save(endpoints []*model.Endpoint) error
}

// FileStore implements Store with a plain text file, one endpoint per
// line. Credentials are stored verbatim; the file lives next to the
// config and inherits its filesystem permissions story.
type FileStore struct {
	filePath string
	mu       sync.Mutex
}

// NewFileStore creates a store backed by the given path.
func NewFileStore(filePath string) *FileStore {
	return &FileStore{
		filePath: filePath,
	}
}

// Load reads the persisted pool. A missing file yields an empty slice.
func (fs *FileStore) Load() ([]*model.Endpoint, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	l := logger.WithComponent("ProxyPool/Storage")

	file, err := os.Open(fs.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			l.Info().Str("path", fs.filePath).Msg("Proxy data file not found, starting with an empty pool.")
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var endpoints []*model.Endpoint
	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if line == "" {
			continue
		}

		fields := strings.Split(line, delimiter)
		if len(fields) != numFields {
			l.Warn().Int("line", lineNum).Int("expected", numFields).Int("got", len(fields)).Msg("Skipping malformed line in proxy file.")
			continue
		}

		ep, err := parseEndpoint(fields)
		if err != nil {
			l.Warn().Int("line", lineNum).Err(err).Msg("Failed to parse endpoint from line, skipping.")
			continue
		}
		endpoints = append(endpoints, ep)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	l.Info().Int("count", len(endpoints)).Msg("Successfully loaded proxies from file.")
	return endpoints, nil
}

// Save writes the pool snapshot atomically via a temp file rename.
func (fs *FileStore) Save(endpoints []*model.Endpoint) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	l := logger.WithComponent("ProxyPool/Storage")

	sorted := make([]*model.Endpoint, len(endpoints))
	copy(sorted, endpoints)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Key() < sorted[j].Key()
	})

	var sb strings.Builder
	for _, ep := range sorted {
		sb.WriteString(formatEndpoint(ep))
		sb.WriteString("\n")
	}

	dir := filepath.Dir(fs.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create proxy file directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".proxies-*")
	if err != nil {
		return fmt.Errorf("failed to create temp proxy file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(sb.String()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write proxy file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close proxy file: %w", err)
	}
	if err := os.Rename(tmpName, fs.filePath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace proxy file: %w", err)
	}

	l.Info().Int("count", len(sorted)).Msg("Successfully saved proxies to file.")
	return nil
}

func formatEndpoint(ep *model.Endpoint) string {
	return strings.Join([]string{
		ep.Scheme,
		ep.Host,
		strconv.Itoa(ep.Port),
		ep.Username,
		ep.Password,
		ep.Source,
		strings.ReplaceAll(ep.Country, delimiter, " "),
		strconv.FormatBool(ep.Active),
		strconv.Itoa(ep.FailureCount),
		strconv.Itoa(ep.SuccessCount),
		strconv.FormatInt(ep.LatencyMs, 10),
		strconv.FormatInt(ep.AddedAt.Unix(), 10),
	}, delimiter)
}

func parseEndpoint(fields []string) (*model.Endpoint, error) {
	port, err := strconv.Atoi(fields[2])
	if err != nil {
		return nil, fmt.Errorf("invalid port: %w", err)
	}

	active, err := strconv.ParseBool(fields[7])
	if err != nil {
		return nil, fmt.Errorf("invalid active flag: %w", err)
	}

	failureCount, err := strconv.Atoi(fields[8])
	if err != nil {
		return nil, fmt.Errorf("invalid failure_count: %w", err)
	}

	successCount, err := strconv.Atoi(fields[9])
	if err != nil {
		return nil, fmt.Errorf("invalid success_count: %w", err)
	}

	latencyMs, err := strconv.ParseInt(fields[10], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid latency: %w", err)
	}

	addedAtUnix, err := strconv.ParseInt(fields[11], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid added_at: %w", err)
	}

	ep := &model.Endpoint{
		Scheme:       fields[0],
		Host:         fields[1],
		Port:         port,
		Username:     fields[3],
		Password:     fields[4],
		Source:       fields[5],
		Country:      fields[6],
		Active:       active,
		FailureCount: failureCount,
		SuccessCount: successCount,
		LatencyMs:    latencyMs,
	}
	if addedAtUnix > 0 {
		ep.AddedAt = time.Unix(addedAtUnix, 0)
	}
	if err := ep.Validate(); err != nil {
		return nil, err
	}
	return ep, nil
}
