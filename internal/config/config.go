// Package config loads the bot configuration from an optional YAML/JSON5
// file, a .env file, and the process environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the main configuration structure.
type Config struct {
	Telegram    TelegramConfig    `yaml:"telegram"`
	Gemini      GeminiConfig      `yaml:"gemini"`
	HuggingFace HuggingFaceConfig `yaml:"huggingface"`
	Prompt      PromptConfig      `yaml:"prompt"`
	Server      ServerConfig      `yaml:"server"`
	Media       MediaConfig       `yaml:"media"`
	State       StateConfig       `yaml:"state"`
	Network     NetworkConfig     `yaml:"network"`
	Search      SearchConfig      `yaml:"search"`
	Engine      EngineConfig      `yaml:"engine"`
	Logging     LoggingConfig     `yaml:"logging"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

// TelegramConfig configures the bot connection and owner-only features.
type TelegramConfig struct {
	Token              string        `yaml:"token"`
	OwnerUsername      string        `yaml:"owner_username"`
	AdminCommand       string        `yaml:"admin_command"`
	MiniAppURL         string        `yaml:"mini_app_url"`
	DropPendingUpdates *bool         `yaml:"drop_pending_updates"`
	PollTimeout        time.Duration `yaml:"poll_timeout"`
	Workers            int           `yaml:"workers"`
	RateLimit          float64       `yaml:"rate_limit"`
	RateBurst          int           `yaml:"rate_burst"`
	MaxDownloadBytes   int64         `yaml:"max_download_bytes"`
}

// GeminiConfig configures the primary provider tier.
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	// Models is the ordered fallback list; the first entry is tried first.
	Models []string `yaml:"models"`
	// Temperature is a pointer so an explicit 0 survives defaults.
	Temperature *float32 `yaml:"temperature"`
}

// HuggingFaceConfig configures the secondary provider tier.
type HuggingFaceConfig struct {
	Token string `yaml:"token"`
	// InferenceURL is the base for raw task endpoints; the model id is appended.
	InferenceURL string `yaml:"inference_url"`
	// ChatURL is the OpenAI-compatible router base used for text chat.
	ChatURL      string            `yaml:"chat_url"`
	Tasks        map[string]string `yaml:"tasks"`
	Timeout      time.Duration     `yaml:"timeout"`
	MaxNewTokens int               `yaml:"max_new_tokens"`
}

// PromptConfig holds the system prompt shared by all providers.
type PromptConfig struct {
	System string `yaml:"system"`
}

// ServerConfig configures the health-check HTTP server.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// AllowedOrigins may call the status endpoints from a browser.
	AllowedOrigins []string `yaml:"allowed_origins"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// MediaConfig configures temporary media storage.
type MediaConfig struct {
	TempDir       string        `yaml:"temp_dir"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	MaxAge        time.Duration `yaml:"max_age"`
}

// StateConfig selects the per-chat state backend.
type StateConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// NetworkConfig configures the api.telegram.org DNS pin.
type NetworkConfig struct {
	// DNSPatch is "auto", "on" or "off".
	DNSPatch    string        `yaml:"dns_patch"`
	Nameservers []string      `yaml:"nameservers"`
	PinHost     string        `yaml:"pin_host"`
	DNSTimeout  time.Duration `yaml:"dns_timeout"`
	Attempts    int           `yaml:"attempts"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
}

// SearchConfig configures the web search tool.
type SearchConfig struct {
	Endpoint   string `yaml:"endpoint"`
	MaxResults int    `yaml:"max_results"`
}

// EngineConfig tunes the provider fallback loop.
type EngineConfig struct {
	QuotaCooldown  time.Duration `yaml:"quota_cooldown"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig configures the OTLP exporter.
type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// HF task names.
const (
	TaskText      = "text"
	TaskVision    = "vision"
	TaskAudio     = "audio"
	TaskReasoning = "reasoning"
)

// DefaultSystemPrompt is the AI Prophet persona.
const DefaultSystemPrompt = "Ты — AI Prophet (ИИ Пророк). Твой разум опирается на мощь Gemini 2.5 и Llama 4.\n" +
	"Стиль: мудрый, технологичный, лаконичный. Ты видишь суть вещей через код и образы.\n" +
	"ВАЖНО: Если ты предлагаешь действия или следующие шаги, ВСЕГДА пиши их в формате:\n" +
	"ШАГ: [Краткое название для кнопки]\n" +
	"Это необходимо для магического интерфейса."

// DefaultModels is the Gemini fallback order.
func DefaultModels() []string {
	return []string{
		"gemini-2.5-flash-lite",
		"gemini-2.5-flash",
		"gemini-1.5-flash",
		"gemini-1.5-pro",
	}
}

// DefaultTasks maps HF task names to model ids.
func DefaultTasks() map[string]string {
	return map[string]string{
		TaskText:      "meta-llama/Llama-3.2-3B-Instruct",
		TaskVision:    "Salesforce/blip-image-captioning-large",
		TaskAudio:     "openai/whisper-tiny",
		TaskReasoning: "deepseek-ai/DeepSeek-R1-Distill-Qwen-7B",
	}
}

// ApplyDefaults fills unset fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Telegram.OwnerUsername == "" {
		cfg.Telegram.OwnerUsername = "dizel0110"
	}
	if cfg.Telegram.AdminCommand == "" {
		cfg.Telegram.AdminCommand = cfg.Telegram.OwnerUsername
	}
	if cfg.Telegram.MiniAppURL == "" {
		cfg.Telegram.MiniAppURL = "https://dizel0110.github.io/ai_prophet/"
	}
	if cfg.Telegram.DropPendingUpdates == nil {
		drop := true
		cfg.Telegram.DropPendingUpdates = &drop
	}
	if cfg.Telegram.PollTimeout == 0 {
		cfg.Telegram.PollTimeout = time.Minute
	}
	if cfg.Telegram.RateLimit == 0 {
		cfg.Telegram.RateLimit = 30
	}
	if cfg.Telegram.RateBurst == 0 {
		cfg.Telegram.RateBurst = 20
	}
	if cfg.Telegram.MaxDownloadBytes == 0 {
		cfg.Telegram.MaxDownloadBytes = 20 << 20
	}

	if len(cfg.Gemini.Models) == 0 {
		cfg.Gemini.Models = DefaultModels()
	}
	if cfg.Gemini.Temperature == nil {
		temperature := float32(0.7)
		cfg.Gemini.Temperature = &temperature
	}

	if cfg.HuggingFace.InferenceURL == "" {
		cfg.HuggingFace.InferenceURL = "https://router.huggingface.co/hf-inference/models/"
	}
	if cfg.HuggingFace.ChatURL == "" {
		cfg.HuggingFace.ChatURL = "https://router.huggingface.co/v1"
	}
	tasks := DefaultTasks()
	for name, model := range cfg.HuggingFace.Tasks {
		if strings.TrimSpace(model) != "" {
			tasks[name] = model
		}
	}
	cfg.HuggingFace.Tasks = tasks
	if cfg.HuggingFace.Timeout == 0 {
		cfg.HuggingFace.Timeout = 60 * time.Second
	}
	if cfg.HuggingFace.MaxNewTokens == 0 {
		cfg.HuggingFace.MaxNewTokens = 500
	}

	if strings.TrimSpace(cfg.Prompt.System) == "" {
		cfg.Prompt.System = DefaultSystemPrompt
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 7860
	}
	if cfg.Server.AllowedOrigins == nil {
		cfg.Server.AllowedOrigins = []string{"https://dizel0110.github.io"}
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	if cfg.Media.TempDir == "" {
		cfg.Media.TempDir = "temp"
	}
	if cfg.Media.SweepInterval == 0 {
		cfg.Media.SweepInterval = 10 * time.Minute
	}
	if cfg.Media.MaxAge == 0 {
		cfg.Media.MaxAge = time.Hour
	}

	if cfg.State.Driver == "" {
		cfg.State.Driver = "memory"
	}
	if cfg.State.Driver == "sqlite" && cfg.State.Path == "" {
		cfg.State.Path = "prophet.db"
	}

	if cfg.Network.DNSPatch == "" {
		cfg.Network.DNSPatch = "auto"
	}
	if len(cfg.Network.Nameservers) == 0 {
		cfg.Network.Nameservers = []string{"8.8.8.8", "1.1.1.1"}
	}
	if cfg.Network.PinHost == "" {
		cfg.Network.PinHost = "api.telegram.org"
	}
	if cfg.Network.DNSTimeout == 0 {
		cfg.Network.DNSTimeout = 5 * time.Second
	}
	if cfg.Network.Attempts == 0 {
		cfg.Network.Attempts = 3
	}
	if cfg.Network.RetryDelay == 0 {
		cfg.Network.RetryDelay = 2 * time.Second
	}

	if cfg.Search.Endpoint == "" {
		cfg.Search.Endpoint = "https://api.duckduckgo.com/"
	}
	if cfg.Search.MaxResults == 0 {
		cfg.Search.MaxResults = 5
	}

	if cfg.Engine.QuotaCooldown == 0 {
		cfg.Engine.QuotaCooldown = time.Minute
	}
	if cfg.Engine.RequestTimeout == 0 {
		cfg.Engine.RequestTimeout = 90 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks the configuration after defaults are applied. The bot
// token is checked separately by RequireTelegram because one-shot CLI
// commands run without it.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Gemini.Models) == 0 {
		errs = append(errs, errors.New("gemini.models must list at least one model"))
	}
	for i, model := range c.Gemini.Models {
		if strings.TrimSpace(model) == "" {
			errs = append(errs, fmt.Errorf("gemini.models[%d] is empty", i))
		}
	}
	if t := c.Gemini.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("gemini.temperature %.2f out of range [0,2]", *t))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.State.Driver {
	case "memory", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("state.driver %q must be memory or sqlite", c.State.Driver))
	}
	switch c.Network.DNSPatch {
	case "auto", "on", "off":
	default:
		errs = append(errs, fmt.Errorf("network.dns_patch %q must be auto, on or off", c.Network.DNSPatch))
	}
	if c.Media.MaxAge < 0 || c.Media.SweepInterval < 0 {
		errs = append(errs, errors.New("media durations must not be negative"))
	}

	return errors.Join(errs...)
}

// RequireTelegram reports whether the bot can be started.
func (c *Config) RequireTelegram() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required (set TELEGRAM_TOKEN)")
	}
	return nil
}

// GeminiTemperature returns the sampling temperature, 0.7 when unset.
func (c *Config) GeminiTemperature() float32 {
	if c.Gemini.Temperature == nil {
		return 0.7
	}
	return *c.Gemini.Temperature
}

// GeminiEnabled reports whether the Gemini tier is configured.
func (c *Config) GeminiEnabled() bool {
	return strings.TrimSpace(c.Gemini.APIKey) != ""
}

// HuggingFaceEnabled reports whether the HF tier is configured.
func (c *Config) HuggingFaceEnabled() bool {
	return strings.TrimSpace(c.HuggingFace.Token) != ""
}

// Addr returns the health server listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
