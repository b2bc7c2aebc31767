package config

import "time"

// Config is the root configuration structure for clacktrack.
// Serialised to ~/.clacktrack/config.json.
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"       json:"database"`
	AI            AIConfig            `mapstructure:"ai"             json:"ai"`
	Display       DisplayConfig       `mapstructure:"display"        json:"display"`
	HomeAssistant HomeAssistantConfig `mapstructure:"home_assistant" json:"home_assistant"`
	Circuits      CircuitsConfig      `mapstructure:"circuits"       json:"circuits"`
	Triggers      TriggersConfig      `mapstructure:"triggers"       json:"triggers"`
	Server        ServerConfig        `mapstructure:"server"         json:"server"`
	Notify        NotifyConfig        `mapstructure:"notify"         json:"notify"`
}

// DatabaseConfig controls the storage backend.
type DatabaseConfig struct {
	// Driver is "sqlite" (default) or "mysql".
	Driver string `mapstructure:"driver" json:"driver"`
	// Path is the SQLite file path (expanded at runtime).
	Path string `mapstructure:"path"   json:"path"`
	// DSN is the MySQL data source name (used when Driver == "mysql").
	DSN string `mapstructure:"dsn"    json:"dsn"`
}

// AIConfig controls the AI providers used for frame text generation.
type AIConfig struct {
	// Provider is the primary provider: "openai", "anthropic", or "ollama".
	Provider string `mapstructure:"provider" json:"provider"`
	// Fallback providers are tried in order when the primary is gated or fails.
	Fallback     []string `mapstructure:"fallback"          json:"fallback"`
	OpenAIKey    string   `mapstructure:"openai_api_key"    json:"openai_api_key"`
	AnthropicKey string   `mapstructure:"anthropic_api_key" json:"anthropic_api_key"`
	Model        string   `mapstructure:"model"             json:"model"`
	// BaseURL overrides the OpenAI API endpoint (useful for proxies).
	BaseURL string `mapstructure:"base_url"   json:"base_url"`
	// OllamaURL is used when a provider entry is "ollama".
	OllamaURL string `mapstructure:"ollama_url" json:"ollama_url"`
	// RequestTimeout bounds a single provider call.
	RequestTimeout time.Duration `mapstructure:"request_timeout" json:"request_timeout"`
	// MaxAttempts caps retries of a single provider call for retryable errors.
	MaxAttempts int `mapstructure:"max_attempts" json:"max_attempts"`
}

// DisplayConfig points at the split-flap display device.
type DisplayConfig struct {
	// URL is the device base URL (e.g. http://splitflap.local:8080).
	URL string `mapstructure:"url" json:"url"`
	// RequestTimeout bounds a single push to the device.
	RequestTimeout time.Duration `mapstructure:"request_timeout" json:"request_timeout"`
	// MaxAttempts caps retries of a frame push for retryable errors.
	MaxAttempts int `mapstructure:"max_attempts" json:"max_attempts"`
}

// HomeAssistantConfig controls the websocket event subscription.
type HomeAssistantConfig struct {
	// URL is the websocket API endpoint (e.g. ws://homeassistant.local:8123/api/websocket).
	URL   string `mapstructure:"url"   json:"url"`
	Token string `mapstructure:"token" json:"token"`
	// RefreshEvent is the custom event type that forces a major regeneration.
	RefreshEvent string `mapstructure:"refresh_event" json:"refresh_event"`
}

// CircuitsConfig tunes the circuit breaker engine. Reset timeout and recovery
// threshold are engine configuration, not persisted circuit state.
type CircuitsConfig struct {
	// FailureThreshold is the consecutive-failure count that trips a provider
	// circuit from on to off.
	FailureThreshold int `mapstructure:"failure_threshold" json:"failure_threshold"`
	// ResetTimeout is how long an off provider circuit waits before the next
	// gate check is allowed through as a half_open trial.
	ResetTimeout time.Duration `mapstructure:"reset_timeout" json:"reset_timeout"`
	// RecoveryThreshold is the successes required in half_open to close.
	RecoveryThreshold int `mapstructure:"recovery_threshold" json:"recovery_threshold"`
	// FailOpenOnStoreError, when true, lets provider gate checks through if
	// the circuit store itself is failing. Default false: a degraded store
	// blocks provider calls rather than risking a retry storm against a
	// provider nobody can see the state of. Manual circuits always fail
	// safe (blocked) regardless of this setting.
	FailOpenOnStoreError bool `mapstructure:"fail_open_on_store_error" json:"fail_open_on_store_error"`
}

// TriggersConfig locates the automation trigger rules.
type TriggersConfig struct {
	// Path is the triggers.yaml rule file (expanded at runtime). Empty
	// disables state-change triggering entirely.
	Path string `mapstructure:"path" json:"path"`
	// Watch enables hot-reload of the rule file.
	Watch bool `mapstructure:"watch" json:"watch"`
}

// ServerConfig controls the local REST + SSE API.
type ServerConfig struct {
	// Port is the localhost HTTP port the server listens on (default: 6022).
	Port int `mapstructure:"port" json:"port"`
}

// NotifyConfig holds operational notification channels.
type NotifyConfig struct {
	// Events filters which event types are sent (empty = defaults).
	Events   []string       `mapstructure:"events"   json:"events"`
	Slack    SlackConfig    `mapstructure:"slack"    json:"slack"`
	Telegram TelegramConfig `mapstructure:"telegram" json:"telegram"`
	Webhook  WebhookConfig  `mapstructure:"webhook"  json:"webhook"`
}

// SlackConfig holds an incoming-webhook URL.
type SlackConfig struct {
	WebhookURL string `mapstructure:"webhook_url" json:"webhook_url"`
}

// TelegramConfig holds bot credentials.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token" json:"bot_token"`
	ChatID   string `mapstructure:"chat_id"   json:"chat_id"`
}

// WebhookConfig holds a generic JSON webhook target. Secret, when set,
// enables HMAC-SHA256 payload signing.
type WebhookConfig struct {
	URL    string `mapstructure:"url"    json:"url"`
	Secret string `mapstructure:"secret" json:"secret"`
}
