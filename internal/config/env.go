package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// LoadFromEnv loads configuration from environment variables
// Parameters:
// - configDir: Directory containing config files (or empty for default)
// - configFilePath: Path to .env file (or empty for default)
func LoadFromEnv(configDir string, configFilePath string) (*Config, error) {
	cfg := New()

	// If configDir is empty, use the default
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".murmur")

		if err := os.MkdirAll(configDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	cfg.configDir = configDir

	// Default database and log paths live in the config directory
	defaultDBPath := filepath.Join(configDir, "murmur.db")
	defaultLogPath := filepath.Join(configDir, "murmur.log")

	// Use provided config file path or default
	if configFilePath == "" {
		configFilePath = filepath.Join(configDir, ".env")
	}

	// Check if ENV_FILE_PATH is set to load from a custom .env file
	envFilePath := getEnvString("ENV_FILE_PATH", "")
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			return nil, fmt.Errorf("failed to load env file from %s: %w", envFilePath, err)
		}
	} else {
		// Try the config directory first, then the current directory
		if err := godotenv.Load(configFilePath); err != nil {
			_ = godotenv.Load() // Ignore errors if file doesn't exist
		}
	}

	cfg.LLM = LLMConfig{
		Endpoint:          getEnvString("MURMUR_LLM_ENDPOINT", "http://localhost:11434"),
		APIKey:            getEnvString("MURMUR_LLM_API_KEY", ""),
		Model:             getEnvString("MURMUR_LLM_MODEL", "gemma3"),
		Timeout:           getEnvDuration("MURMUR_LLM_TIMEOUT", 60*time.Second),
		MaxRetries:        getEnvInt("MURMUR_LLM_MAX_RETRIES", 3),
		StreamChunkIdle:   getEnvDuration("MURMUR_LLM_STREAM_CHUNK_IDLE", 30*time.Second),
		StreamTotal:       getEnvDuration("MURMUR_LLM_STREAM_TOTAL", 300*time.Second),
		MaxTokens:         getEnvInt("MURMUR_LLM_MAX_TOKENS", 2048),
		Temperature:       getEnvFloat("MURMUR_LLM_TEMPERATURE", 0.7),
		RequestsPerMinute: getEnvInt("MURMUR_LLM_REQUESTS_PER_MINUTE", 30),
		BurstLimit:        getEnvInt("MURMUR_LLM_BURST_LIMIT", 5),
	}

	cfg.Memory = MemoryConfig{
		NSimilarFragments: getEnvInt("MURMUR_MEMORY_N_SIMILAR_FRAGMENTS", 5),
		MinSimilarity:     getEnvFloat("MURMUR_MEMORY_MIN_SIMILARITY", 0.0),
		FetchDeadline:     getEnvDuration("MURMUR_MEMORY_FETCH_DEADLINE", 10*time.Second),
		EmbeddingModel:    getEnvString("MURMUR_MEMORY_EMBEDDING_MODEL", "nomic-embed-text"),
		EmbeddingEndpoint: getEnvString("MURMUR_MEMORY_EMBEDDING_ENDPOINT", "http://localhost:11434"),
	}

	cfg.Sync = SyncConfig{
		RetryCeiling:  getEnvInt("MURMUR_SYNC_RETRY_CEILING", 3),
		BackoffBase:   getEnvDuration("MURMUR_SYNC_BACKOFF_BASE", time.Second),
		SettleWindow:  getEnvDuration("MURMUR_SYNC_SETTLE_WINDOW", 2*time.Second),
		JournalLimit:  getEnvInt("MURMUR_SYNC_JOURNAL_LIMIT", 100),
		SubscribeWait: getEnvDuration("MURMUR_SYNC_SUBSCRIBE_WAIT", 10*time.Second),
	}

	cfg.Server = ServerConfig{
		Enabled:    getEnvBool("MURMUR_SERVER_ENABLED", false),
		URL:        getEnvString("MURMUR_SERVER_URL", ""),
		Token:      getEnvString("MURMUR_SERVER_TOKEN", ""),
		Timeout:    getEnvDuration("MURMUR_SERVER_TIMEOUT", 30*time.Second),
		DeviceName: getEnvString("MURMUR_SERVER_DEVICE_NAME", defaultDeviceName()),
	}

	cfg.Database = DatabaseConfig{
		Path:            getEnvString("MURMUR_DB_PATH", defaultDBPath),
		JournalMode:     getEnvString("MURMUR_DB_JOURNAL_MODE", "WAL"),
		SynchronousMode: getEnvString("MURMUR_DB_SYNCHRONOUS_MODE", "NORMAL"),
		BusyTimeout:     getEnvInt("MURMUR_DB_BUSY_TIMEOUT", 5000),
		CacheSize:       getEnvInt("MURMUR_DB_CACHE_SIZE", -64000),
		ForeignKeys:     getEnvBool("MURMUR_DB_FOREIGN_KEYS", true),
		ConnMaxLife:     getEnvDuration("MURMUR_DB_CONN_MAX_LIFE", time.Hour),
		QueryTimeout:    getEnvDuration("MURMUR_DB_QUERY_TIMEOUT", 30*time.Second),
	}

	cfg.Logging = LoggingConfig{
		Level:      getEnvString("MURMUR_LOG_LEVEL", "info"),
		Format:     getEnvString("MURMUR_LOG_FORMAT", "text"),
		Output:     getEnvString("MURMUR_LOG_OUTPUT", defaultLogPath),
		AddSource:  getEnvBool("MURMUR_LOG_ADD_SOURCE", false),
		TimeFormat: getEnvString("MURMUR_LOG_TIME_FORMAT", time.RFC3339),
	}

	return cfg, nil
}

func defaultDeviceName() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown-device"
	}
	return hostname
}

// getEnvString retrieves a string environment variable or returns the default
func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns the default
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns the default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns the default
func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable or returns the default
// Accepts Go duration strings ("30s") or a bare number of seconds
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
