package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

const DefaultFile = "config.yaml"

// Settings is resolved once at startup and passed by value afterwards.
type Settings struct {
	ModelName     string   `yaml:"model_name" env:"MODEL_NAME"`
	ModelProvider string   `yaml:"model_provider" env:"MODEL_PROVIDER"`
	BaseURL       string   `yaml:"base_url" env:"OLLAMA_BASE_URL"`
	KeepAlive     string   `yaml:"keep_alive"`
	Streaming     BoolLike `yaml:"streaming" env:"STREAMING"`
	HistoryTurns  int      `yaml:"history_turns" env:"HISTORY_TURNS"`
	Timeout       int      `yaml:"timeout"`
	SystemPrompt  string   `yaml:"system_prompt" env:"SYSTEM_PROMPT"`
	Temperature   float64  `yaml:"temperature" env:"TEMPERATURE"`
	MaxTokens     int      `yaml:"max_tokens"`

	DBPath      string   `yaml:"db_path" env:"DB_PATH"`
	HTTPAddr    string   `yaml:"http_addr" env:"HTTP_ADDR"`
	CORSOrigins []string `yaml:"cors_origins"`
	LogLevel    string   `yaml:"log_level" env:"LOG_LEVEL"`
}

func Defaults() Settings {
	return Settings{
		ModelName:     "gemma:2b",
		ModelProvider: "ollama",
		BaseURL:       "http://localhost:11434",
		KeepAlive:     "-1",
		Streaming:     true,
		HistoryTurns:  4,
		Timeout:       30,
		SystemPrompt:  "You are a helpful assistant. Reply to user queries in a clear and informative manner.",
		Temperature:   0.7,
		MaxTokens:     1024,
		DBPath:        "chat_history.db",
		HTTPAddr:      ":8000",
		CORSOrigins:   []string{"http://localhost:3000"},
		LogLevel:      "info",
	}
}

// RequestTimeout is the model request timeout as a duration.
func (s Settings) RequestTimeout() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// Warning is a non-fatal problem found while loading the config file.
type Warning struct {
	Path string
	Err  error
}

func (w Warning) Error() string {
	return fmt.Sprintf("could not load %s: %v", w.Path, w.Err)
}

func (w Warning) Unwrap() error { return w.Err }

// Load resolves settings from defaults, the optional YAML file at path and
// environment overrides, in that order. Problems with the file are returned
// as warnings and leave the defaults in place; malformed environment values
// are errors.
func Load(path string) (Settings, []Warning, error) {
	cfg := Defaults()
	var warnings []Warning

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			warnings = append(warnings, Warning{Path: path, Err: err})
			cfg = Defaults()
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Settings{}, warnings, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Settings{}, warnings, err
	}
	return cfg, warnings, nil
}

func loadFile(path string, cfg *Settings) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	fileCfg := *cfg
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return err
	}
	*cfg = fileCfg
	return nil
}

func (s Settings) Validate() error {
	if s.HistoryTurns < 0 {
		return fmt.Errorf("history_turns must be >= 0, got %d", s.HistoryTurns)
	}
	if s.Timeout < 0 {
		return fmt.Errorf("timeout must be >= 0, got %d", s.Timeout)
	}
	if strings.TrimSpace(s.ModelName) == "" {
		return errors.New("model_name is required")
	}
	switch s.ModelProvider {
	case "ollama", "openai":
	default:
		return fmt.Errorf("unsupported model_provider %q", s.ModelProvider)
	}
	return nil
}

// BoolLike accepts true/1/yes/on (any case) as true and anything else as
// false.
type BoolLike bool

func (b *BoolLike) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "true", "1", "yes", "on":
		*b = true
	default:
		*b = false
	}
	return nil
}

func (b *BoolLike) UnmarshalYAML(node *yaml.Node) error {
	return b.UnmarshalText([]byte(node.Value))
}

// KeepAliveDuration normalises keep_alive for the model server. Bare
// integers are seconds; negative values keep the model loaded indefinitely.
func (s Settings) KeepAliveDuration() string {
	v := strings.TrimSpace(s.KeepAlive)
	if v == "" {
		return ""
	}
	if n, err := strconv.Atoi(v); err == nil {
		return strconv.Itoa(n) + "s"
	}
	return v
}
