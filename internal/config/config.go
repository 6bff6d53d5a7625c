// Package config provides configuration loading and validation for Murmur
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var (
	// Global configuration instance
	globalConfig *Config
	configMutex  sync.RWMutex
)

// Get returns the global configuration instance
// If the configuration has not been initialized, it will return an error
func Get() (*Config, error) {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if globalConfig == nil {
		return nil, fmt.Errorf("configuration not initialized")
	}

	return globalConfig, nil
}

// Set sets the global configuration instance
func Set(cfg *Config) {
	configMutex.Lock()
	defer configMutex.Unlock()

	globalConfig = cfg
}

// Config represents the complete application configuration
type Config struct {
	LLM      LLMConfig
	Memory   MemoryConfig
	Sync     SyncConfig
	Server   ServerConfig
	Database DatabaseConfig
	Logging  LoggingConfig

	configDir string // Internal: directory the config was loaded from
}

// LLMConfig holds configuration for the streaming chat-completion client
type LLMConfig struct {
	// Connection settings
	Endpoint string // Chat completion API endpoint URL
	APIKey   string // API key for the completion endpoint
	Model    string // Default model to use

	// Request settings
	Timeout    time.Duration // Non-streaming request timeout
	MaxRetries int           // Maximum number of retries on failure

	// Streaming deadlines
	StreamChunkIdle time.Duration // Max idle time between streamed chunks
	StreamTotal     time.Duration // Max total duration of one streamed response

	// Generation parameters
	MaxTokens   int     // Max tokens to generate for responses
	Temperature float64 // Default temperature for generation

	// Rate limiting
	RequestsPerMinute int
	BurstLimit        int
}

// MemoryConfig holds retrieval-augmented memory configuration
type MemoryConfig struct {
	NSimilarFragments int           // Number of similar fragments to retrieve for context
	MinSimilarity     float64       // Minimum cosine similarity threshold (0.0-1.0)
	FetchDeadline     time.Duration // Deadline for context retrieval, fallback is empty context
	EmbeddingModel    string        // Embedding model name
	EmbeddingEndpoint string        // Embedding API endpoint URL
}

// SyncConfig holds configuration for the sync & delivery reliability layer
type SyncConfig struct {
	RetryCeiling  int           // Total attempts per pending write before terminal failure
	BackoffBase   time.Duration // Base delay for the retry schedule, doubling per attempt
	SettleWindow  time.Duration // Connectivity must be stable this long before reconcile triggers
	JournalLimit  int           // Max pending writes loaded per group per reconciliation run; zero means no cap
	SubscribeWait time.Duration // Max wait for a subscription to report a status
}

// ServerConfig holds configuration for the remote entity store
type ServerConfig struct {
	Enabled    bool          // Whether remote sync is enabled
	URL        string        // Server base URL
	Token      string        // Authentication token
	Timeout    time.Duration // Request timeout
	DeviceName string        // Device name for identification
}

// DatabaseConfig represents local SQLite configuration
type DatabaseConfig struct {
	Path            string        // Path to the SQLite database file
	JournalMode     string        // Journal mode (WAL recommended)
	SynchronousMode string        // Synchronous mode
	BusyTimeout     int           // Busy timeout in milliseconds
	CacheSize       int           // Cache size in KiB
	ForeignKeys     bool          // Whether to enforce foreign key constraints
	ConnMaxLife     time.Duration // Maximum connection lifetime
	QueryTimeout    time.Duration // Query timeout
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string // debug, info, warn, error
	Format     string // text or json
	Output     string // stdout, stderr, or file path
	AddSource  bool   // Include source code position in logs
	TimeFormat string // Time format for logs (empty uses RFC3339)
}

// New returns a new empty Config
func New() *Config {
	return &Config{}
}

// ConfigDir returns the directory the configuration was loaded from
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.validateLLM(); err != nil {
		return fmt.Errorf("LLM config: %w", err)
	}

	if err := c.validateMemory(); err != nil {
		return fmt.Errorf("memory config: %w", err)
	}

	if err := c.validateSync(); err != nil {
		return fmt.Errorf("sync config: %w", err)
	}

	if err := c.validateDatabase(); err != nil {
		return fmt.Errorf("database config: %w", err)
	}

	if err := c.validateLogging(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// ParseLogLevel parses a log level string to a slog.Level
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "none":
		// Set to a very high level that won't be triggered
		return slog.Level(9999)
	default:
		return slog.LevelInfo
	}
}

func (c *Config) validateLLM() error {
	if c.LLM.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	if c.LLM.MaxRetries <= 0 {
		return fmt.Errorf("max_retries must be positive")
	}

	if c.LLM.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if c.LLM.StreamChunkIdle <= 0 {
		return fmt.Errorf("stream_chunk_idle must be positive")
	}

	if c.LLM.StreamTotal <= c.LLM.StreamChunkIdle {
		return fmt.Errorf("stream_total must exceed stream_chunk_idle")
	}

	return nil
}

func (c *Config) validateMemory() error {
	if c.Memory.NSimilarFragments <= 0 {
		return fmt.Errorf("number of similar fragments must be positive")
	}

	if c.Memory.MinSimilarity < 0 || c.Memory.MinSimilarity > 1 {
		return fmt.Errorf("min similarity must be in [0, 1]")
	}

	if c.Memory.FetchDeadline <= 0 {
		return fmt.Errorf("fetch deadline must be positive")
	}

	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.RetryCeiling <= 0 {
		return fmt.Errorf("retry ceiling must be positive")
	}

	if c.Sync.BackoffBase <= 0 {
		return fmt.Errorf("backoff base must be positive")
	}

	if c.Sync.SettleWindow < 0 {
		return fmt.Errorf("settle window cannot be negative")
	}

	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	// Create the directory if it doesn't exist
	dir := filepath.Dir(c.Database.Path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory for database: %w", err)
		}
	}

	if c.Database.BusyTimeout < 0 {
		return fmt.Errorf("busy timeout cannot be negative")
	}

	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error", "none", "":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "text", "json", "":
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}
