package config

import (
	"os"
	"strconv"

	"gopkg.in/ini.v1"

	"cliprelay/internal/shared/types"
)

// LoadIni loads the behavior configuration file on top of the built-in
// defaults, then applies environment overrides. A missing file is not
// an error; the defaults run as-is.
func LoadIni(cfg *types.Config, fileName string) error {
	*cfg = *types.Defaults()

	iniFile, err := ini.Load(fileName)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return nil
		}
		return err
	}
	if err := iniFile.MapTo(cfg); err != nil {
		return err
	}
	applyEnvOverrides(cfg)
	return nil
}

func applyEnvOverrides(cfg *types.Config) {
	overrideFromEnvInt(&cfg.WebConf.Port, "CLIPRELAY_WEB_PORT")
	overrideFromEnvInt(&cfg.QueueConf.ItemDelaySec, "CLIPRELAY_QUEUE_DELAY_SEC")
	overrideFromEnvInt(&cfg.PoolConf.MaxFailures, "CLIPRELAY_POOL_MAX_FAILURES")
	overrideFromEnvInt(&cfg.ExtractorConf.CookiesKey, "CLIPRELAY_COOKIES_KEY")
	overrideFromEnvStr(&cfg.ExtractorConf.ToolPath, "CLIPRELAY_TOOL_PATH")
	overrideFromEnvStr(&cfg.ExtractorConf.CookiesFile, "CLIPRELAY_COOKIES_FILE")
	overrideFromEnvStr(&cfg.WebConf.User, "CLIPRELAY_WEB_USER")
	overrideFromEnvStr(&cfg.WebConf.Password, "CLIPRELAY_WEB_PASSWORD")
}

func overrideFromEnvInt(target *int, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			*target = intValue
		}
	}
}

func overrideFromEnvStr(target *string, envName string) {
	if envValue := os.Getenv(envName); envValue != "" {
		*target = envValue
	}
}
