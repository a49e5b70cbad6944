package types

import "time"

// CommonConf holds settings shared by every subsystem.
type CommonConf struct {
	AppName string `ini:"app_name"`
}

// LogConf contains logging specific configuration
type LogConf struct {
	Level string `ini:"level"`
}

// PoolConf configures the egress proxy pool.
type PoolConf struct {
	Rotation               string `ini:"rotation"` // round-robin, random, least-used
	MaxFailures            int    `ini:"max_failures"`
	FailureCooldownMin     int    `ini:"failure_cooldown_min"`
	HealthCheckIntervalMin int    `ini:"health_check_interval_min"`
	BindMetadata           bool   `ini:"bind_metadata"`
	BindDownload           bool   `ini:"bind_download"`
}

func (c PoolConf) FailureCooldown() time.Duration {
	return time.Duration(c.FailureCooldownMin) * time.Minute
}

func (c PoolConf) HealthCheckInterval() time.Duration {
	return time.Duration(c.HealthCheckIntervalMin) * time.Minute
}

// SupplierConf configures the periodic proxy replenishment cycle.
type SupplierConf struct {
	Enabled            bool `ini:"enabled"`
	RefreshIntervalMin int  `ini:"refresh_interval_min"`
	MinProxies         int  `ini:"min_proxies"`
	MaxProxies         int  `ini:"max_proxies"`
	SourceTimeoutSec   int  `ini:"source_timeout_sec"`
}

func (c SupplierConf) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalMin) * time.Minute
}

func (c SupplierConf) SourceTimeout() time.Duration {
	return time.Duration(c.SourceTimeoutSec) * time.Second
}

// ExtractorConf configures the external extraction tool invocation.
type ExtractorConf struct {
	ToolPath         string `ini:"tool_path"`
	AutoInstall      bool   `ini:"auto_install"`
	TimeoutSec       int    `ini:"timeout_sec"`
	CookiesFile      string `ini:"cookies_file"`
	CookiesKey       int    `ini:"cookies_key"`
	CookiesPlaintext bool   `ini:"cookies_plaintext"`
}

func (c ExtractorConf) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// QueueConf configures the single-flight request queue.
type QueueConf struct {
	ItemDelaySec      int `ini:"item_delay_sec"`
	BaseRetryDelaySec int `ini:"base_retry_delay_sec"`
	MaxRetries        int `ini:"max_retries"`
}

func (c QueueConf) ItemDelay() time.Duration {
	return time.Duration(c.ItemDelaySec) * time.Second
}

func (c QueueConf) BaseRetryDelay() time.Duration {
	return time.Duration(c.BaseRetryDelaySec) * time.Second
}

// CacheConf configures the extraction result cache.
type CacheConf struct {
	TTLMin int `ini:"ttl_min"`
}

func (c CacheConf) TTL() time.Duration {
	return time.Duration(c.TTLMin) * time.Minute
}

// WebConf configures the admin HTTP server.
type WebConf struct {
	Enabled  bool   `ini:"enabled"`
	Port     int    `ini:"port"`
	User     string `ini:"user"`
	Password string `ini:"password"`
}

// StorageConf configures pool persistence.
type StorageConf struct {
	ProxyFile string `ini:"proxy_file"`
}

// Config is the unified configuration for the cliprelay process.
type Config struct {
	CommonConf    `ini:"common"`
	LogConf       `ini:"log"`
	PoolConf      `ini:"pool"`
	SupplierConf  `ini:"supplier"`
	ExtractorConf `ini:"extractor"`
	QueueConf     `ini:"queue"`
	CacheConf     `ini:"cache"`
	WebConf       `ini:"web"`
	StorageConf   `ini:"storage"`
}

// Defaults returns a Config populated with the stock values. LoadIni
// starts from this so a sparse ini file still yields a runnable setup.
func Defaults() *Config {
	return &Config{
		CommonConf: CommonConf{AppName: "cliprelay"},
		LogConf:    LogConf{Level: "info"},
		PoolConf: PoolConf{
			Rotation:               "round-robin",
			MaxFailures:            3,
			FailureCooldownMin:     5,
			HealthCheckIntervalMin: 10,
			BindMetadata:           true,
			BindDownload:           false,
		},
		SupplierConf: SupplierConf{
			Enabled:            true,
			RefreshIntervalMin: 5,
			MinProxies:         5,
			MaxProxies:         15,
			SourceTimeoutSec:   10,
		},
		ExtractorConf: ExtractorConf{
			AutoInstall: true,
			TimeoutSec:  45,
		},
		QueueConf: QueueConf{
			ItemDelaySec:      2,
			BaseRetryDelaySec: 2,
			MaxRetries:        3,
		},
		CacheConf: CacheConf{TTLMin: 60},
		WebConf:   WebConf{Enabled: true, Port: 8961},
		StorageConf: StorageConf{
			ProxyFile: "configs/proxies.txt",
		},
	}
}
