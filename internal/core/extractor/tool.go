package extractor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/lrstanley/go-ytdlp"

	"cliprelay/internal/shared/logger"
	"cliprelay/internal/shared/types"
)

const toolName = "yt-dlp"

// Tool resolves the extraction tool's executable. Resolution order:
// explicit config path, the fixed candidate locations, the ambient
// search path, and finally a one-time runtime download when
// auto_install is on. A successful resolution is cached; failures are
// retried on the next call so a transient download problem does not
// poison the process.
type Tool struct {
	cfg types.ExtractorConf

	mu       sync.Mutex
	resolved string
}

func NewTool(cfg types.ExtractorConf) *Tool {
	return &Tool{cfg: cfg}
}

func candidatePaths() []string {
	paths := []string{
		"/usr/local/bin/" + toolName,
		"/usr/bin/" + toolName,
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".local", "bin", toolName))
	}
	return paths
}

// Resolve returns the executable path, probing and installing as
// needed. An explicitly configured path that does not exist is an
// error, not a fallthrough: silently substituting another binary for
// the one the operator named would be worse than failing.
func (t *Tool) Resolve(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.resolved != "" {
		return t.resolved, nil
	}
	l := logger.WithComponent("Extractor")

	if t.cfg.ToolPath != "" {
		if _, err := os.Stat(t.cfg.ToolPath); err != nil {
			return "", fmtToolMissing("configured tool_path %q is not usable: %v", t.cfg.ToolPath, err)
		}
		t.resolved = t.cfg.ToolPath
		l.Info().Str("path", t.resolved).Msg("Extraction tool resolved from config.")
		return t.resolved, nil
	}

	for _, candidate := range candidatePaths() {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			t.resolved = candidate
			l.Info().Str("path", t.resolved).Msg("Extraction tool found at candidate location.")
			return t.resolved, nil
		}
	}

	if path, err := exec.LookPath(toolName); err == nil {
		t.resolved = path
		l.Info().Str("path", t.resolved).Msg("Extraction tool found on search path.")
		return t.resolved, nil
	}

	if !t.cfg.AutoInstall {
		return "", fmtToolMissing("%s not found and auto_install is disabled", toolName)
	}

	l.Warn().Msg("Extraction tool not found, attempting runtime install...")
	installed, err := ytdlp.Install(ctx, nil)
	if err != nil {
		return "", fmtToolMissing("runtime install of %s failed: %v", toolName, err)
	}
	t.resolved = installed.Executable
	l.Info().Str("path", t.resolved).Str("version", installed.Version).Msg("Extraction tool installed.")
	return t.resolved, nil
}
