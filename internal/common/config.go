package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Refresh     RefreshConfig   `toml:"refresh"`
	Gemini      GeminiConfig    `toml:"gemini"`
	Claude      ClaudeConfig    `toml:"claude"`
	LLM         LLMConfig       `toml:"llm"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Logging     LoggingConfig   `toml:"logging"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"min=1,max=65535"`
	Host string `toml:"host" validate:"required"`
}

// StorageConfig locates the flat-file research library.
type StorageConfig struct {
	ResearchDir string `toml:"research_dir" validate:"required"` // Directory of per-ticker research JSON files
	IndexFile   string `toml:"index_file"`                       // Shared summary index filename inside ResearchDir
}

// RefreshConfig tunes the refresh pipeline and its concurrency budgets.
type RefreshConfig struct {
	GatherConcurrency int `toml:"gather_concurrency" validate:"min=1"` // Max tickers gathering data simultaneously
	LLMConcurrency    int `toml:"llm_concurrency" validate:"min=1"`    // Max tickers holding LLM calls in flight
	AnnouncementDays  int `toml:"announcement_days" validate:"min=1"`  // Lookback window for exchange announcements
	NewsResults       int `toml:"news_results" validate:"min=1"`       // Target result count for general news search
	EarningsResults   int `toml:"earnings_results" validate:"min=1"`   // Target result count for earnings search
}

// GeminiConfig contains Google Gemini API configuration for the specialist pass.
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`     // Google Gemini API key
	Model       string  `toml:"model"`       // Model for specialist analysis (default: "gemini-2.5-flash")
	MaxTokens   int     `toml:"max_tokens"`  // Maximum tokens in response (default: 4096)
	Timeout     string  `toml:"timeout"`     // Request timeout as duration string (default: "2m")
	Temperature float32 `toml:"temperature"` // Completion temperature (default: 0.3)
	MaxRetries  int     `toml:"max_retries"` // Retry attempts on transient errors (default: 2)
}

// ClaudeConfig contains Anthropic Claude API configuration for the synthesis pass.
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`     // Anthropic API key
	Model       string  `toml:"model"`       // Model for hypothesis synthesis (default: "claude-sonnet-4-20250514")
	MaxTokens   int     `toml:"max_tokens"`  // Maximum tokens in response (default: 4096)
	Timeout     string  `toml:"timeout"`     // Request timeout as duration string (default: "3m")
	Temperature float32 `toml:"temperature"` // Completion temperature (default: 0)
	MaxRetries  int     `toml:"max_retries"` // Retry attempts on transient errors (default: 2)
}

// LLMProvider represents the AI provider type
type LLMProvider string

const (
	// LLMProviderGemini uses Google Gemini API
	LLMProviderGemini LLMProvider = "gemini"
	// LLMProviderClaude uses Anthropic Claude API
	LLMProviderClaude LLMProvider = "claude"
)

// LLMConfig selects the provider order for the synthesis stage.
type LLMConfig struct {
	SynthesisProvider LLMProvider `toml:"synthesis_provider" validate:"oneof=gemini claude"` // Primary provider for synthesis (default: "claude")
}

// SchedulerConfig controls the optional whole-library scheduled refresh.
type SchedulerConfig struct {
	Enabled  bool   `toml:"enabled"`  // Disabled by default - user must explicitly opt-in
	Schedule string `toml:"schedule"` // Cron schedule (default: "0 6 * * 1-5" - weekday mornings)
}

type LoggingConfig struct {
	Level  string   `toml:"level" validate:"oneof=debug info warn error"` // Log level
	Output []string `toml:"output"`                                      // "stdout", "file"
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in continuum.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			ResearchDir: "./data/research",
			IndexFile:   "_index.json",
		},
		Refresh: RefreshConfig{
			GatherConcurrency: 3, // Bounds outbound fan-out and gathered-payload memory
			LLMConcurrency:    2, // Bounds cost-sensitive provider concurrency
			AnnouncementDays:  30,
			NewsResults:       10,
			EarningsResults:   5,
		},
		Gemini: GeminiConfig{
			APIKey:      "", // User must provide API key (GEMINI_API_KEY or config)
			Model:       "gemini-2.5-flash",
			MaxTokens:   4096,
			Timeout:     "2m",
			Temperature: 0.3,
			MaxRetries:  2,
		},
		Claude: ClaudeConfig{
			APIKey:      "", // User must provide API key (ANTHROPIC_API_KEY or config)
			Model:       "claude-sonnet-4-20250514",
			MaxTokens:   4096,
			Timeout:     "3m",
			Temperature: 0,
			MaxRetries:  2,
		},
		LLM: LLMConfig{
			SynthesisProvider: LLMProviderClaude, // Claude for judgment-heavy synthesis, Gemini fallback
		},
		Scheduler: SchedulerConfig{
			Enabled:  false,
			Schedule: "0 6 * * 1-5",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks structural constraints on the merged configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("CONTINUUM_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("CONTINUUM_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("CONTINUUM_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if dir := os.Getenv("CONTINUUM_RESEARCH_DIR"); dir != "" {
		config.Storage.ResearchDir = dir
	}

	// API keys: service-specific variables win over the generic ones
	if key := os.Getenv("CONTINUUM_GEMINI_API_KEY"); key != "" {
		config.Gemini.APIKey = strings.TrimSpace(key)
	} else if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		config.Gemini.APIKey = strings.TrimSpace(key)
	}
	if key := os.Getenv("CONTINUUM_CLAUDE_API_KEY"); key != "" {
		config.Claude.APIKey = strings.TrimSpace(key)
	} else if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		config.Claude.APIKey = strings.TrimSpace(key)
	}

	if model := os.Getenv("CONTINUUM_GEMINI_MODEL"); model != "" {
		config.Gemini.Model = model
	}
	if model := os.Getenv("CONTINUUM_CLAUDE_MODEL"); model != "" {
		config.Claude.Model = model
	}

	// Logging configuration
	if level := os.Getenv("CONTINUUM_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}
