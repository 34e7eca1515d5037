package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// LoadDotEnv loads KEY=VALUE pairs from path (".env" when empty) into the
// process environment. Variables already set are not overridden and a
// missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays well-known environment variables onto cfg.
func ApplyEnv(cfg *Config, lookup LookupFunc) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	str("TELEGRAM_TOKEN", &cfg.Telegram.Token)
	str("GEMINI_API_KEY", &cfg.Gemini.APIKey)
	str("HF_TOKEN", &cfg.HuggingFace.Token)
	str("OWNER_USERNAME", &cfg.Telegram.OwnerUsername)
	str("LOG_LEVEL", &cfg.Logging.Level)
	str("PROPHET_TEMP_DIR", &cfg.Media.TempDir)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Tracing.Endpoint)

	if v, ok := lookup("PORT"); ok {
		if port, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.Server.Port = port
		}
	}
}
