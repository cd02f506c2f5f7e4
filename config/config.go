package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AIPersona describes one AI seat the lobby can fill.
type AIPersona struct {
	Model  string `mapstructure:"model"`
	Name   string `mapstructure:"name"`
	Avatar string `mapstructure:"avatar"`
}

// Config is the whole process configuration.
type Config struct {
	Server struct {
		Port string `mapstructure:"port"`
	} `mapstructure:"server"`

	OpenAI struct {
		APIKey          string `mapstructure:"api_key"`
		BaseURL         string `mapstructure:"base_url"`
		ClassifierModel string `mapstructure:"classifier_model"`
		MaxTokens       int64  `mapstructure:"max_tokens"`
	} `mapstructure:"openai"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`

	Game GameConfig `mapstructure:"game"`

	AIPlayers []AIPersona `mapstructure:"ai_players"`
}

// GameConfig tunes a single game run.
type GameConfig struct {
	MinPlayers           int           `mapstructure:"min_players"`
	FillWithAI           bool          `mapstructure:"fill_with_ai"`
	DiscussionTurns      int           `mapstructure:"discussion_turns"`
	MafiaDiscussionTurns int           `mapstructure:"mafia_discussion_turns"`
	VoteTimeout          time.Duration `mapstructure:"vote_timeout"`
	NightTimeout         time.Duration `mapstructure:"night_timeout"`
	VotePollInterval     time.Duration `mapstructure:"vote_poll_interval"`
	ContextLimit         int           `mapstructure:"context_limit"`
}

// DefaultPersonas are the AI seats used when the config file lists none.
var DefaultPersonas = []AIPersona{
	{Model: "gpt-4o", Name: "4o"},
	{Model: "qwen-3-next-80b-a3b", Name: "qwen"},
	{Model: "deepseek-3.2", Name: "Winnie the Pooh"},
	{Model: "noromaid-7b-v0.2", Name: "noromaid"},
	{Model: "mistral-large-3", Name: "mistral"},
	{Model: "llama-4-maverick", Name: "llama"},
	{Model: "gemini-3-flash", Name: "flash"},
}

// Load reads mafia.yaml (optional) and MAFIA_* environment overrides.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("mafia")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("MAFIA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("openai.api_key", "MAFIA_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("openai.base_url", "MAFIA_OPENAI_BASE_URL", "OPENAI_BASE_URL")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if len(cfg.AIPlayers) == 0 {
		cfg.AIPlayers = append([]AIPersona(nil), DefaultPersonas...)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("openai.classifier_model", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 300)
	v.SetDefault("game.min_players", 5)
	v.SetDefault("game.fill_with_ai", true)
	v.SetDefault("game.discussion_turns", 8)
	v.SetDefault("game.mafia_discussion_turns", 2)
	v.SetDefault("game.vote_timeout", 60*time.Second)
	v.SetDefault("game.night_timeout", 90*time.Second)
	v.SetDefault("game.vote_poll_interval", 500*time.Millisecond)
	v.SetDefault("game.context_limit", 60)
}
