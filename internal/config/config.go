package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"prompt-tester/internal/llm"
	"prompt-tester/internal/logger"
	"prompt-tester/internal/tester"
)

type Config struct {
	LLM     LLMConfig     `mapstructure:"llm"`
	Server  ServerConfig  `mapstructure:"server"`
	Log     logger.Config `mapstructure:"log"`
	Tester  TesterConfig  `mapstructure:"tester"`
	Session SessionConfig `mapstructure:"session"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type LLMConfig struct {
	URL       string        `mapstructure:"url"`
	Model     string        `mapstructure:"model"`
	Token     string        `mapstructure:"token"`
	Type      string        `mapstructure:"type"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"`
	RateBurst int           `mapstructure:"rate_burst"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	RunTimeout   time.Duration `mapstructure:"run_timeout"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
}

type TesterConfig struct {
	Model       string  `mapstructure:"model"`
	Repetitions int     `mapstructure:"repetitions"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type SessionConfig struct {
	TTL        time.Duration `mapstructure:"ttl"`
	CookieName string        `mapstructure:"cookie_name"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("llm.type", llm.TypeOpenAI)
	v.SetDefault("llm.timeout", 5*time.Minute)
	v.SetDefault("llm.rate_limit", 0)
	v.SetDefault("llm.rate_burst", 2)

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8501)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 0)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.run_timeout", 10*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", logger.FormatConsole)
	v.SetDefault("log.output", "stderr")
	v.SetDefault("log.timestamp", true)

	v.SetDefault("tester.model", tester.DefaultModel)
	v.SetDefault("tester.repetitions", tester.DefaultRepetitions)
	v.SetDefault("tester.temperature", tester.DefaultTemperature)
	v.SetDefault("tester.max_tokens", tester.DefaultMaxTokens)

	v.SetDefault("session.ttl", 12*time.Hour)
	v.SetDefault("session.cookie_name", "prompt_tester_session")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// BindEnv maps the plain BASE_URL / API_KEY / MODEL_NAME variables of a
// .env file onto the llm section, after the prefixed names.
func BindEnv(v *viper.Viper, prefix string) error {
	bindings := map[string][]string{
		"llm.url":      {prefix + "_LLM_URL", "BASE_URL"},
		"llm.token":    {prefix + "_LLM_TOKEN", "API_KEY"},
		"tester.model": {prefix + "_TESTER_MODEL", "MODEL_NAME"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// LoadDotEnv loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load decodes the global viper instance.
func Load() (Config, error) {
	return LoadFrom(viper.GetViper())
}

func LoadFrom(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.LLM.Type {
	case "", llm.TypeOpenAI, llm.TypeAnthropic, "anthropics", llm.TypeGemini:
	default:
		return fmt.Errorf("invalid llm.type: %s", c.LLM.Type)
	}
	if c.LLM.RateLimit < 0 {
		return fmt.Errorf("llm.rate_limit must be non-negative (got: %v)", c.LLM.RateLimit)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535 (got: %d)", c.Server.Port)
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with / (got: %q)", c.Metrics.Path)
	}
	if c.Log.Level != "" || c.Log.Format != "" {
		logCfg := c.Log
		logCfg.ApplyDefaults()
		if err := logCfg.Validate(); err != nil {
			return err
		}
	}
	if err := c.DefaultSettings().Validate(); err != nil {
		return fmt.Errorf("tester: %w", err)
	}
	return nil
}

// DefaultSettings returns the run settings the dashboard starts with.
func (c Config) DefaultSettings() tester.Settings {
	s := tester.Settings{
		Model:       c.Tester.Model,
		Repetitions: c.Tester.Repetitions,
		Temperature: c.Tester.Temperature,
		MaxTokens:   c.Tester.MaxTokens,
	}
	s.ApplyDefaults()
	return s
}

// ClientConfig converts the llm section for llm.New. The tester model is
// used when llm.model is unset.
func (c Config) ClientConfig() llm.Config {
	model := c.LLM.Model
	if model == "" {
		model = c.DefaultSettings().Model
	}
	return llm.Config{
		Type:    c.LLM.Type,
		URL:     c.LLM.URL,
		Token:   c.LLM.Token,
		Model:   model,
		Timeout: c.LLM.Timeout,
	}
}
