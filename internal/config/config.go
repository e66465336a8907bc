package config

import "github.com/kelseyhightower/envconfig"

// Config holds application configuration loaded from environment variables.
type Config struct {
	BotToken  string `envconfig:"BOT_TOKEN" required:"true"`
	OwnerID   int64  `envconfig:"OWNER_CHAT_ID" required:"true"`
	DBPath    string `envconfig:"DB_PATH" default:"./data/aide.db"`
	DefaultTZ string `envconfig:"DEFAULT_TZ" default:"UTC"`

	// OpenAI-compatible chat completions endpoint used for command
	// classification and general conversation.
	LLMEndpoint string `envconfig:"LLM_ENDPOINT" default:"https://api.openai.com/v1/chat/completions"`
	LLMAPIKey   string `envconfig:"LLM_API_KEY" required:"true"`
	LLMModel    string `envconfig:"LLM_MODEL" default:"gpt-4o-mini"`

	TickSeconds int    `envconfig:"TICK_SECONDS" default:"60"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"` // debug|info|warn|error
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`
}

// Load reads environment variables into Config.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
