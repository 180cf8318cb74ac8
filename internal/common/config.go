package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string         `toml:"environment"` // "development" or "production"
	Queue       QueueConfig    `toml:"queue"`
	Storage     StorageConfig  `toml:"storage"`
	Logging     LoggingConfig  `toml:"logging"`
	Engine      EngineConfig   `toml:"engine"`
	Recovery    RecoveryConfig `toml:"recovery"`
	Flows       FlowsConfig    `toml:"flows"`
	Fetch       FetchConfig    `toml:"fetch"`
	Publish     PublishConfig  `toml:"publish"`
	Gemini      GeminiConfig   `toml:"gemini"`
	Claude      ClaudeConfig   `toml:"claude"`
	LLM         LLMConfig      `toml:"llm"`
}

type QueueConfig struct {
	PollInterval      string `toml:"poll_interval"`      // e.g., "1s" - how often workers poll for messages
	Concurrency       int    `toml:"concurrency"`        // Number of concurrent workers
	VisibilityTimeout string `toml:"visibility_timeout"` // e.g., "5m" - message visibility timeout for redelivery
	MaxReceive        int    `toml:"max_receive"`        // Max times a message can be received before it is dropped
	QueueName         string `toml:"queue_name"`         // Queue name prefix in Badger
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05")
}

// EngineConfig controls step chaining and job finalization
type EngineConfig struct {
	StepDelay             string   `toml:"step_delay"`               // Delay between a step and its successor (default: "0s")
	PurgePacketsOnFailure bool     `toml:"purge_packets_on_failure"` // Remove staged packets when a job fails
	ExtraTerminalStatuses []string `toml:"extra_terminal_statuses"`  // Extension status tokens that end a job
	DefaultMaxTurns       int      `toml:"default_max_turns"`        // Conversation turn limit when a step sets none
	StepTimeout           string   `toml:"step_timeout"`             // Upper bound for a single step execution
}

// RecoveryConfig controls the stuck-job reconciliation passes
type RecoveryConfig struct {
	Enabled      bool    `toml:"enabled"`
	TimeoutHours float64 `toml:"timeout_hours"` // Processing jobs older than this are failed (default: 2)
	Interval     string  `toml:"interval"`      // Named interval or cron expression (default: "hourly")
}

// FlowsConfig contains configuration for flow definition files
type FlowsConfig struct {
	DefinitionsDir string `toml:"definitions_dir"` // Directory containing flow definition files (TOML/YAML)
}

// FetchConfig configures the built-in web fetch handler and tool
type FetchConfig struct {
	UserAgent      string `toml:"user_agent"`
	RequestTimeout string `toml:"request_timeout"` // Duration string (default: "30s")
	MaxBodySize    int64  `toml:"max_body_size"`
}

// PublishConfig configures the built-in markdown publish handler
type PublishConfig struct {
	OutputDir  string `toml:"output_dir"`
	RenderHTML bool   `toml:"render_html"` // Write a rendered .html next to each .md
}

// GeminiConfig contains Google Gemini API configuration
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`     // Google Gemini API key
	Model       string  `toml:"model"`       // Default model (default: "gemini-2.5-flash")
	Timeout     string  `toml:"timeout"`     // Operation timeout as duration string (default: "5m")
	RateLimit   string  `toml:"rate_limit"`  // Minimum interval between requests (default: "4s" for 15 RPM)
	Temperature float32 `toml:"temperature"` // Completion temperature (default: 0.7)
}

// ClaudeConfig contains Anthropic Claude API configuration
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`     // Anthropic API key
	Model       string  `toml:"model"`       // Default model (default: "claude-haiku-4-5")
	MaxTokens   int     `toml:"max_tokens"`  // Maximum tokens in response (default: 8192)
	Timeout     string  `toml:"timeout"`     // Operation timeout as duration string (default: "5m")
	RateLimit   string  `toml:"rate_limit"`  // Minimum interval between requests (default: "1s")
	Temperature float32 `toml:"temperature"` // Completion temperature (default: 0.7)
}

// LLMProvider represents the AI provider type
type LLMProvider string

const (
	// LLMProviderGemini uses Google Gemini API
	LLMProviderGemini LLMProvider = "gemini"
	// LLMProviderClaude uses Anthropic Claude API
	LLMProviderClaude LLMProvider = "claude"
)

// LLMConfig contains unified configuration for all AI providers
type LLMConfig struct {
	DefaultProvider LLMProvider `toml:"default_provider"` // Default provider: "gemini" or "claude"
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Queue: QueueConfig{
			PollInterval:      "1s",
			Concurrency:       4,
			VisibilityTimeout: "15m", // Must exceed engine.step_timeout
			MaxReceive:        3,
			QueueName:         "datamachine_actions",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
		},
		Engine: EngineConfig{
			StepDelay:             "0s",
			PurgePacketsOnFailure: true,
			DefaultMaxTurns:       12,
			StepTimeout:           "10m",
		},
		Recovery: RecoveryConfig{
			Enabled:      true,
			TimeoutHours: 2,
			Interval:     "hourly",
		},
		Flows: FlowsConfig{
			DefinitionsDir: "./flows",
		},
		Fetch: FetchConfig{
			UserAgent:      "Mozilla/5.0 (compatible; DataMachine/1.0)",
			RequestTimeout: "30s",
			MaxBodySize:    10 * 1024 * 1024, // 10MB
		},
		Publish: PublishConfig{
			OutputDir:  "./output",
			RenderHTML: true,
		},
		Gemini: GeminiConfig{
			Model:       "gemini-2.5-flash",
			Timeout:     "5m",
			RateLimit:   "4s",
			Temperature: 0.7,
		},
		Claude: ClaudeConfig{
			Model:       "claude-haiku-4-5",
			MaxTokens:   8192,
			Timeout:     "5m",
			RateLimit:   "1s",
			Temperature: 0.7,
		},
		LLM: LLMConfig{
			DefaultProvider: LLMProviderClaude,
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env -> CLI
// Later files override earlier files.
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

		// Unmarshal into config (merges with existing values, later values override)
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

// Validate checks settings that only make sense together
func (c *Config) Validate() error {
	visibility, err := time.ParseDuration(c.Queue.VisibilityTimeout)
	if err != nil || visibility <= 0 {
		return fmt.Errorf("invalid queue.visibility_timeout %q", c.Queue.VisibilityTimeout)
	}
	if c.Engine.StepTimeout == "" {
		return nil
	}
	stepTimeout, err := time.ParseDuration(c.Engine.StepTimeout)
	if err != nil {
		return fmt.Errorf("invalid engine.step_timeout %q: %w", c.Engine.StepTimeout, err)
	}
	// A message must stay hidden for the whole step, or a second worker picks it up
	if stepTimeout > 0 && visibility <= stepTimeout {
		return fmt.Errorf("queue.visibility_timeout (%s) must be longer than engine.step_timeout (%s)", visibility, stepTimeout)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("DATAMACHINE_ENV"); env != "" {
		config.Environment = env
	}

	// Queue configuration
	if pollInterval := os.Getenv("DATAMACHINE_QUEUE_POLL_INTERVAL"); pollInterval != "" {
		config.Queue.PollInterval = pollInterval
	}
	if concurrency := os.Getenv("DATAMACHINE_QUEUE_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Queue.Concurrency = c
		}
	}
	if visibilityTimeout := os.Getenv("DATAMACHINE_QUEUE_VISIBILITY_TIMEOUT"); visibilityTimeout != "" {
		config.Queue.VisibilityTimeout = visibilityTimeout
	}

	// Storage configuration
	if badgerPath := os.Getenv("DATAMACHINE_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Logging configuration
	if level := os.Getenv("DATAMACHINE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("DATAMACHINE_LOG_OUTPUT"); output != "" {
		var outputs []string
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Recovery configuration
	if timeout := os.Getenv("DATAMACHINE_RECOVERY_TIMEOUT_HOURS"); timeout != "" {
		if h, err := strconv.ParseFloat(timeout, 64); err == nil && h > 0 {
			config.Recovery.TimeoutHours = h
		}
	}

	// Flows configuration
	if flowsDir := os.Getenv("DATAMACHINE_FLOWS_DIR"); flowsDir != "" {
		config.Flows.DefinitionsDir = flowsDir
	}

	// LLM configuration
	if provider := os.Getenv("DATAMACHINE_LLM_PROVIDER"); provider != "" {
		config.LLM.DefaultProvider = LLMProvider(strings.ToLower(provider))
	}
	if model := os.Getenv("DATAMACHINE_GEMINI_MODEL"); model != "" {
		config.Gemini.Model = model
	}
	if model := os.Getenv("DATAMACHINE_CLAUDE_MODEL"); model != "" {
		config.Claude.Model = model
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, badgerPath string, flowsDir string, logLevel string) {
	if badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if flowsDir != "" {
		config.Flows.DefinitionsDir = flowsDir
	}
	if logLevel != "" {
		config.Logging.Level = logLevel
	}
}

// ResolveAPIKey resolves an API key by name with environment variable priority
// Resolution order: environment variables → config fallback → error
func ResolveAPIKey(name string, configFallback string) (string, error) {
	keyToEnvMapping := map[string][]string{
		"gemini_api_key":    {"DATAMACHINE_GEMINI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"},
		"anthropic_api_key": {"DATAMACHINE_CLAUDE_API_KEY", "ANTHROPIC_API_KEY"},
	}

	if envVarNames, ok := keyToEnvMapping[name]; ok {
		for _, envVarName := range envVarNames {
			if envValue := os.Getenv(envVarName); envValue != "" {
				return envValue, nil
			}
		}
	}

	if configFallback != "" {
		return configFallback, nil
	}

	return "", fmt.Errorf("API key '%s' not found in environment or config", name)
}

// ParseDuration parses a duration string, returning fallback when empty or invalid
func ParseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// namedIntervals maps recurring interval names to cron specs
var namedIntervals = map[string]string{
	"every_5_minutes":  "@every 5m",
	"every_15_minutes": "@every 15m",
	"every_30_minutes": "@every 30m",
	"hourly":           "@hourly",
	"every_2_hours":    "@every 2h",
	"every_4_hours":    "@every 4h",
	"qtrdaily":         "@every 6h",
	"twicedaily":       "@every 12h",
	"daily":            "@daily",
	"weekly":           "@weekly",
}

// NamedIntervals returns the recognized recurring interval names
func NamedIntervals() []string {
	names := make([]string, 0, len(namedIntervals))
	for name := range namedIntervals {
		names = append(names, name)
	}
	return names
}

// ResolveCronSpec converts a named interval or cron expression into a cron spec
func ResolveCronSpec(interval string) (string, error) {
	interval = strings.TrimSpace(interval)
	if interval == "" {
		return "", fmt.Errorf("interval is required")
	}
	if spec, ok := namedIntervals[strings.ToLower(interval)]; ok {
		return spec, nil
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(interval); err != nil {
		return "", fmt.Errorf("invalid interval %q: %w", interval, err)
	}
	return interval, nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
