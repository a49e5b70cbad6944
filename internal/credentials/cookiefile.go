package credentials

import (
	"os"
	"sync"

	"cliprelay/internal/shared/logger"
	"cliprelay/internal/shared/securecrypt"
	"cliprelay/internal/shared/types"
)

// CookieFile supplies the extraction tool with an authenticated cookie
// jar. The jar sits encrypted at rest and is materialized to a private
// temp file on first use; a plaintext jar passes through directly for
// development setups.
type CookieFile struct {
	cfg types.ExtractorConf

	mu           sync.Mutex
	materialized string
	failed       bool
}

func New(cfg types.ExtractorConf) *CookieFile {
	return &CookieFile{cfg: cfg}
}

// Path returns the on-disk jar path, or false when no usable jar
// exists. A jar that cannot be read or decrypted is reported once and
// then treated as absent: extraction proceeds anonymously rather than
// failing every request over an optional credential.
func (c *CookieFile) Path() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfg.CookiesFile == "" || c.failed {
		return "", false
	}
	if c.materialized != "" {
		return c.materialized, true
	}
	l := logger.WithComponent("Credentials")

	if c.cfg.CookiesPlaintext {
		if _, err := os.Stat(c.cfg.CookiesFile); err != nil {
			l.Warn().Err(err).Str("file", c.cfg.CookiesFile).
				Msg("Plaintext cookie jar unusable, continuing without cookies.")
			c.failed = true
			return "", false
		}
		c.materialized = c.cfg.CookiesFile
		return c.materialized, true
	}

	payload, err := os.ReadFile(c.cfg.CookiesFile)
	if err != nil {
		l.Warn().Err(err).Str("file", c.cfg.CookiesFile).
			Msg("Cookie jar unreadable, continuing without cookies.")
		c.failed = true
		return "", false
	}
	cipher, err := securecrypt.NewCipher(c.cfg.CookiesKey)
	if err != nil {
		l.Warn().Err(err).Msg("Cookie cipher setup failed, continuing without cookies.")
		c.failed = true
		return "", false
	}
	plain, err := cipher.Decrypt(payload)
	if err != nil {
		l.Warn().Err(err).Str("file", c.cfg.CookiesFile).
			Msg("Cookie jar decryption failed, continuing without cookies.")
		c.failed = true
		return "", false
	}

	tmp, err := os.CreateTemp("", "cookies-*.txt")
	if err != nil {
		l.Warn().Err(err).Msg("Cookie jar temp file creation failed, continuing without cookies.")
		c.failed = true
		return "", false
	}
	if _, err := tmp.Write(plain); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		l.Warn().Err(err).Msg("Writing cookie jar failed, continuing without cookies.")
		c.failed = true
		return "", false
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		c.failed = true
		return "", false
	}

	c.materialized = tmp.Name()
	l.Info().Str("file", c.cfg.CookiesFile).Msg("Cookie jar decrypted and materialized.")
	return c.materialized, true
}

// Cleanup removes the materialized temp file. A passthrough plaintext
// jar is the operator's file and stays put.
func (c *CookieFile) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.materialized == "" || c.cfg.CookiesPlaintext {
		return
	}
	if err := os.Remove(c.materialized); err != nil && !os.IsNotExist(err) {
		l := logger.WithComponent("Credentials")
		l.Warn().Err(err).
			Msg("Failed to remove materialized cookie jar.")
	}
	c.materialized = ""
}
