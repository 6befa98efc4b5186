// Package config provides configuration management and environment variable handling for the application
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/signage-publisher/utils"
)

// ProductionConfig holds all configuration for production environment
type ProductionConfig struct {
	Database   DatabaseConfig   `json:"database"`
	Server     ServerConfig     `json:"server"`
	Security   SecurityConfig   `json:"security"`
	Logging    LoggingConfig    `json:"logging"`
	Metrics    MetricsConfig    `json:"metrics"`
	Cache      CacheConfig      `json:"cache"`
	Deployment DeploymentConfig `json:"deployment"`
	Signage    SignageConfig    `json:"signage"`
	Storage    StorageConfig    `json:"storage"`
	Transcoder TranscoderConfig `json:"transcoder"`
	Upload     UploadConfig     `json:"upload"`
	Queue      QueueConfig      `json:"queue"`
	Publish    PublishConfig    `json:"publish"`
	Worker     WorkerConfig     `json:"worker"`
}

type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	SlowQueryLog    bool          `json:"slow_query_log"`
	SlowQueryTime   time.Duration `json:"slow_query_time"`
	AutoMigrate     bool          `json:"auto_migrate"`
}

type ServerConfig struct {
	Host              string        `json:"host"`
	Port              int           `json:"port"`
	ReadTimeout       time.Duration `json:"read_timeout"`
	WriteTimeout      time.Duration `json:"write_timeout"`
	IdleTimeout       time.Duration `json:"idle_timeout"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout"`
	RequestTimeout    time.Duration `json:"request_timeout"`
	BodyLimit         int           `json:"body_limit"`
	TrustedProxies    []string      `json:"trusted_proxies"`
	ProxyHeader       string        `json:"proxy_header"`
	EnableCompression bool          `json:"enable_compression"`
	CompressionLevel  int           `json:"compression_level"`
}

type SecurityConfig struct {
	// CORS
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	CORSMaxAge       int      `json:"cors_max_age"`

	// Rate Limiting
	GlobalRateLimit int           `json:"global_rate_limit"` // requests per window
	RateLimitWindow time.Duration `json:"rate_limit_window"`

	// Content Security
	XFrameOptions       string `json:"x_frame_options"`
	XContentTypeOptions string `json:"x_content_type_options"`
	ReferrerPolicy      string `json:"referrer_policy"`
}

type LoggingConfig struct {
	Level      string `json:"level"`  // debug, info, warn, error
	Output     string `json:"output"` // stdout, file, both
	FilePath   string `json:"file_path"`
	MaxSize    int    `json:"max_size"` // MB
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"` // days
	Compress   bool   `json:"compress"`

	EnableAccessLog bool `json:"enable_access_log"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type CacheConfig struct {
	Enabled     bool          `json:"enabled"`
	Provider    string        `json:"provider"` // redis, memory
	RedisURL    string        `json:"redis_url"`
	RedisDB     int           `json:"redis_db"`
	RedisPrefix string        `json:"redis_prefix"`
	DialTimeout time.Duration `json:"dial_timeout"`
}

type DeploymentConfig struct {
	Environment string `json:"environment"`
	Version     string `json:"version"`
	CommitHash  string `json:"commit_hash"`
	BuildTime   string `json:"build_time"`
}

// SignageConfig configures the external device-management API.
type SignageConfig struct {
	Provider   string        `json:"provider"` // http, mock
	BaseURL    string        `json:"base_url"`
	APIToken   string        `json:"api_token"`
	Timeout    time.Duration `json:"timeout"`
	MaxRawBody int           `json:"max_raw_body"`
	// UploadTimeout bounds a whole byte transfer; zero leaves it to the caller's context.
	UploadTimeout time.Duration `json:"upload_timeout"`
}

type StorageConfig struct {
	RootDir string `json:"root_dir"`
}

type TranscoderConfig struct {
	Enabled     bool          `json:"enabled"`
	FFmpegPath  string        `json:"ffmpeg_path"`
	FFprobePath string        `json:"ffprobe_path"`
	Timeout     time.Duration `json:"timeout"`
	// Codecs and pixel formats that play on devices without normalization.
	AcceptedCodecs       []string `json:"accepted_codecs"`
	AcceptedPixelFormats []string `json:"accepted_pixel_formats"`
}

type UploadConfig struct {
	StalenessWindow        time.Duration `json:"staleness_window"`
	PollInitialDelay       time.Duration `json:"poll_initial_delay"`
	PollMaxDelay           time.Duration `json:"poll_max_delay"`
	PollBackoffFactor      float64       `json:"poll_backoff_factor"`
	PollTimeout            time.Duration `json:"poll_timeout"`
	MaxPolls               int           `json:"max_polls"`
	StuckInitializingPolls int           `json:"stuck_initializing_polls"`
	FinalizeRetries        int           `json:"finalize_retries"`
	FinalizeRetryDelay     time.Duration `json:"finalize_retry_delay"`
	ConfirmAttempts        int           `json:"confirm_attempts"`
	ConfirmDelay           time.Duration `json:"confirm_delay"`
}

type QueueConfig struct {
	BaseDelay        time.Duration `json:"base_delay"`
	Multiplier       float64       `json:"multiplier"`
	MaxDelay         time.Duration `json:"max_delay"`
	MaxRetries       int           `json:"max_retries"`
	DefaultPriority  int           `json:"default_priority"`
	StaleProcessing  time.Duration `json:"stale_processing"`
	WaitStatsWindow  time.Duration `json:"wait_stats_window"`
	WaitStatsSamples int           `json:"wait_stats_samples"`
}

type PublishConfig struct {
	SettleDelay          time.Duration `json:"settle_delay"`
	PlaylistItemDuration int           `json:"playlist_item_duration"` // seconds
	PlaylistNamePattern  string        `json:"playlist_name_pattern"`
	BaselineNamePrefixes []string      `json:"baseline_name_prefixes"`
	SelfAdMediaID        int64         `json:"self_ad_media_id"`
	FallbackTag          string        `json:"fallback_tag"`
}

type WorkerConfig struct {
	Enabled             bool          `json:"enabled"`
	PollInterval        time.Duration `json:"poll_interval"`
	BatchSize           int           `json:"batch_size"`
	Concurrency         int           `json:"concurrency"`
	ItemTimeout         time.Duration `json:"item_timeout"`
	LockKey             string        `json:"lock_key"`
	LockTTL             time.Duration `json:"lock_ttl"`
	ErrorThreshold      int           `json:"error_threshold"`
	Cooldown            time.Duration `json:"cooldown"`
	HealthAuditEnabled  bool          `json:"health_audit_enabled"`
	HealthAuditInterval time.Duration `json:"health_audit_interval"`
	HealthAuditLockKey  string        `json:"health_audit_lock_key"`
	HealthRepairLimit   int           `json:"health_repair_limit"`
	LogFile             string        `json:"log_file"`
}

// LoadProductionConfig loads and validates configuration from environment variables
func LoadProductionConfig() (*ProductionConfig, error) {
	// Load environment variables from .env file
	if err := loadEnvFile(); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &ProductionConfig{
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "signage"),
			User:            getEnvString("DB_USER", "postgres"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "require"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 50),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 15*time.Minute),
			SlowQueryLog:    getEnvBool("DB_SLOW_QUERY_LOG", true),
			SlowQueryTime:   getEnvDuration("DB_SLOW_QUERY_TIME", 1*time.Second),
			AutoMigrate:     getEnvBool("DB_AUTO_MIGRATE", true),
		},
		Server: ServerConfig{
			Host:              getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:              getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:       getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:      getEnvDuration("SERVER_WRITE_TIMEOUT", 10*time.Minute),
			IdleTimeout:       getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout:   getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			RequestTimeout:    getEnvDuration("SERVER_REQUEST_TIMEOUT", 9*time.Minute),
			BodyLimit:         getEnvInt("SERVER_BODY_LIMIT", 4*1024*1024), // 4MB
			TrustedProxies:    getEnvStringSlice("SERVER_TRUSTED_PROXIES", []string{"127.0.0.1"}),
			ProxyHeader:       getEnvString("SERVER_PROXY_HEADER", "X-Real-IP"),
			EnableCompression: getEnvBool("SERVER_ENABLE_COMPRESSION", true),
			CompressionLevel:  getEnvInt("SERVER_COMPRESSION_LEVEL", 1),
		},
		Security: SecurityConfig{
			AllowedOrigins:      getEnvStringSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			AllowedMethods:      getEnvStringSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders:      getEnvStringSlice("CORS_ALLOWED_HEADERS", []string{"Origin", "Content-Type", "Accept", "X-Request-ID", "X-Correlation-ID"}),
			AllowCredentials:    getEnvBool("CORS_ALLOW_CREDENTIALS", false),
			CORSMaxAge:          getEnvInt("CORS_MAX_AGE", utils.CORSMaxAge),
			GlobalRateLimit:     getEnvInt("GLOBAL_RATE_LIMIT", 600),
			RateLimitWindow:     getEnvDuration("RATE_LIMIT_WINDOW", 1*time.Minute),
			XFrameOptions:       getEnvString("X_FRAME_OPTIONS", "DENY"),
			XContentTypeOptions: getEnvString("X_CONTENT_TYPE_OPTIONS", "nosniff"),
			ReferrerPolicy:      getEnvString("REFERRER_POLICY", "strict-origin-when-cross-origin"),
		},
		Logging: LoggingConfig{
			Level:           getEnvString("LOG_LEVEL", "info"),
			Output:          getEnvString("LOG_OUTPUT", "both"),
			FilePath:        getEnvString("LOG_FILE_PATH", "logs/app.log"),
			MaxSize:         getEnvInt("LOG_MAX_SIZE", 100),
			MaxBackups:      getEnvInt("LOG_MAX_BACKUPS", 10),
			MaxAge:          getEnvInt("LOG_MAX_AGE", 30),
			Compress:        getEnvBool("LOG_COMPRESS", true),
			EnableAccessLog: getEnvBool("LOG_ENABLE_ACCESS", true),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnvString("METRICS_PATH", "/metrics"),
		},
		Cache: CacheConfig{
			Enabled:     getEnvBool("CACHE_ENABLED", true),
			Provider:    getEnvString("CACHE_PROVIDER", "redis"),
			RedisURL:    getEnvString("CACHE_REDIS_URL", "redis://localhost:6379"),
			RedisDB:     getEnvInt("CACHE_REDIS_DB", 0),
			RedisPrefix: getEnvString("CACHE_REDIS_PREFIX", "signage:"),
			DialTimeout: getEnvDuration("CACHE_DIAL_TIMEOUT", 5*time.Second),
		},
		Deployment: DeploymentConfig{
			Environment: getEnvString("APP_ENV", "production"),
			Version:     getEnvString("VERSION", "1.0.0"),
			CommitHash:  getEnvString("COMMIT_HASH", "unknown"),
			BuildTime:   getEnvString("BUILD_TIME", "unknown"),
		},
		Signage: SignageConfig{
			Provider:      getEnvString("SIGNAGE_PROVIDER", "http"),
			BaseURL:       getEnvString("SIGNAGE_BASE_URL", "https://app.yodeck.com/api/v2"),
			APIToken:      getEnvString("SIGNAGE_API_TOKEN", ""),
			Timeout:       getEnvDuration("SIGNAGE_TIMEOUT", 30*time.Second),
			MaxRawBody:    getEnvInt("SIGNAGE_MAX_RAW_BODY", 2048),
			UploadTimeout: getEnvDuration("SIGNAGE_UPLOAD_TIMEOUT", 30*time.Minute),
		},
		Storage: StorageConfig{
			RootDir: getEnvString("STORAGE_ROOT_DIR", "data/assets"),
		},
		Transcoder: TranscoderConfig{
			Enabled:              getEnvBool("TRANSCODER_ENABLED", true),
			FFmpegPath:           getEnvString("TRANSCODER_FFMPEG_PATH", "ffmpeg"),
			FFprobePath:          getEnvString("TRANSCODER_FFPROBE_PATH", "ffprobe"),
			Timeout:              getEnvDuration("TRANSCODER_TIMEOUT", 10*time.Minute),
			AcceptedCodecs:       getEnvStringSlice("TRANSCODER_ACCEPTED_CODECS", []string{"h264"}),
			AcceptedPixelFormats: getEnvStringSlice("TRANSCODER_ACCEPTED_PIXEL_FORMATS", []string{"yuv420p"}),
		},
		Upload: UploadConfig{
			StalenessWindow:        getEnvDuration("UPLOAD_STALENESS_WINDOW", utils.DefaultUploadStaleness),
			PollInitialDelay:       getEnvDuration("UPLOAD_POLL_INITIAL_DELAY", utils.DefaultPollInitialDelay),
			PollMaxDelay:           getEnvDuration("UPLOAD_POLL_MAX_DELAY", utils.DefaultPollMaxDelay),
			PollBackoffFactor:      getEnvFloat("UPLOAD_POLL_BACKOFF_FACTOR", 1.5),
			PollTimeout:            getEnvDuration("UPLOAD_POLL_TIMEOUT", utils.DefaultPollTimeout),
			MaxPolls:               getEnvInt("UPLOAD_MAX_POLLS", 60),
			StuckInitializingPolls: getEnvInt("UPLOAD_STUCK_INITIALIZING_POLLS", 10),
			FinalizeRetries:        getEnvInt("UPLOAD_FINALIZE_RETRIES", 3),
			FinalizeRetryDelay:     getEnvDuration("UPLOAD_FINALIZE_RETRY_DELAY", 2*time.Second),
			ConfirmAttempts:        getEnvInt("UPLOAD_CONFIRM_ATTEMPTS", 5),
			ConfirmDelay:           getEnvDuration("UPLOAD_CONFIRM_DELAY", 3*time.Second),
		},
		Queue: QueueConfig{
			BaseDelay:        getEnvDuration("QUEUE_BASE_DELAY", utils.DefaultQueueBaseDelay),
			Multiplier:       getEnvFloat("QUEUE_MULTIPLIER", utils.DefaultQueueMultiplier),
			MaxDelay:         getEnvDuration("QUEUE_MAX_DELAY", utils.DefaultQueueMaxDelay),
			MaxRetries:       getEnvInt("QUEUE_MAX_RETRIES", utils.DefaultQueueMaxRetries),
			DefaultPriority:  getEnvInt("QUEUE_DEFAULT_PRIORITY", 100),
			StaleProcessing:  getEnvDuration("QUEUE_STALE_PROCESSING", 30*time.Minute),
			WaitStatsWindow:  getEnvDuration("QUEUE_WAIT_STATS_WINDOW", 24*time.Hour),
			WaitStatsSamples: getEnvInt("QUEUE_WAIT_STATS_SAMPLES", 500),
		},
		Publish: PublishConfig{
			SettleDelay:          getEnvDuration("PUBLISH_SETTLE_DELAY", utils.DefaultSettleDelay),
			PlaylistItemDuration: getEnvInt("PUBLISH_PLAYLIST_ITEM_DURATION", utils.DefaultPlaylistItemSecs),
			PlaylistNamePattern:  getEnvString("PUBLISH_PLAYLIST_NAME_PATTERN", "loc-%d-canonical"),
			BaselineNamePrefixes: getEnvStringSlice("PUBLISH_BASELINE_NAME_PREFIXES", []string{"baseline", "house", "self-ad"}),
			SelfAdMediaID:        getEnvInt64("PUBLISH_SELF_AD_MEDIA_ID", 0),
			FallbackTag:          getEnvString("PUBLISH_FALLBACK_TAG", "fallback"),
		},
		Worker: WorkerConfig{
			Enabled:             getEnvBool("WORKER_ENABLED", true),
			PollInterval:        getEnvDuration("WORKER_POLL_INTERVAL", utils.DefaultWorkerPollInterval),
			BatchSize:           getEnvInt("WORKER_BATCH_SIZE", 4),
			Concurrency:         getEnvInt("WORKER_CONCURRENCY", 2),
			ItemTimeout:         getEnvDuration("WORKER_ITEM_TIMEOUT", 15*time.Minute),
			LockKey:             getEnvString("WORKER_LOCK_KEY", utils.DefaultWorkerLockKey),
			LockTTL:             getEnvDuration("WORKER_LOCK_TTL", 20*time.Minute),
			ErrorThreshold:      getEnvInt("WORKER_ERROR_THRESHOLD", 5),
			Cooldown:            getEnvDuration("WORKER_COOLDOWN", 5*time.Minute),
			HealthAuditEnabled:  getEnvBool("WORKER_HEALTH_AUDIT_ENABLED", true),
			HealthAuditInterval: getEnvDuration("WORKER_HEALTH_AUDIT_INTERVAL", 15*time.Minute),
			HealthAuditLockKey:  getEnvString("WORKER_HEALTH_AUDIT_LOCK_KEY", utils.DefaultHealthAuditLock),
			HealthRepairLimit:   getEnvInt("WORKER_HEALTH_REPAIR_LIMIT", 10),
			LogFile:             getEnvString("WORKER_LOG_FILE", "logs/worker.log"),
		},
	}

	// Validate the loaded configuration
	if err := ValidateProductionConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadEnvFile loads environment variables from .env file if it exists
func loadEnvFile() error {
	envFile := ".env"

	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		return nil
	}

	file, err := os.Open(envFile)
	if err != nil {
		return fmt.Errorf("failed to open .env file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		// Remove quotes if present
		if len(value) >= 2 && ((strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`)) ||
			(strings.HasPrefix(value, `'`) && strings.HasSuffix(value, `'`))) {
			value = value[1 : len(value)-1]
		}

		// Set environment variable if not already set
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading .env file: %w", err)
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, item := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

// ValidateProductionConfig validates the production configuration
func ValidateProductionConfig(cfg *ProductionConfig) error {
	var errors []string

	// Validate database configuration
	if cfg.Database.Host == "" {
		errors = append(errors, "DB_HOST is required")
	}
	if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
		errors = append(errors, "DB_PORT must be between 1 and 65535")
	}
	if cfg.Database.Name == "" {
		errors = append(errors, "DB_NAME is required")
	}
	if cfg.Database.User == "" {
		errors = append(errors, "DB_USER is required")
	}
	if cfg.Database.Password == "" {
		errors = append(errors, "DB_PASSWORD is required")
	}

	// Validate server configuration
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errors = append(errors, "SERVER_PORT must be between 1 and 65535")
	}
	if cfg.Server.ReadTimeout <= 0 {
		errors = append(errors, "SERVER_READ_TIMEOUT must be positive")
	}
	if cfg.Server.WriteTimeout <= 0 {
		errors = append(errors, "SERVER_WRITE_TIMEOUT must be positive")
	}
	if cfg.Server.RequestTimeout <= 0 {
		errors = append(errors, "SERVER_REQUEST_TIMEOUT must be positive")
	}

	// Validate logging configuration
	if cfg.Logging.Level != "" {
		validLevels := []string{"debug", "info", "warn", "error"}
		valid := false
		for _, level := range validLevels {
			if cfg.Logging.Level == level {
				valid = true
				break
			}
		}
		if !valid {
			errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %v", validLevels))
		}
	}

	// Validate cache configuration if enabled
	if cfg.Cache.Enabled {
		if cfg.Cache.Provider == "redis" && cfg.Cache.RedisURL == "" {
			errors = append(errors, "CACHE_REDIS_URL is required when cache is enabled with redis provider")
		}
	}

	// Validate signage API configuration
	switch cfg.Signage.Provider {
	case "mock":
	case "http":
		if cfg.Signage.BaseURL == "" {
			errors = append(errors, "SIGNAGE_BASE_URL is required for http provider")
		}
		if cfg.Signage.APIToken == "" {
			errors = append(errors, "SIGNAGE_API_TOKEN is required for http provider")
		}
	default:
		errors = append(errors, "SIGNAGE_PROVIDER must be one of: http, mock")
	}
	if cfg.Signage.Timeout <= 0 {
		errors = append(errors, "SIGNAGE_TIMEOUT must be positive")
	}
	if cfg.Signage.UploadTimeout < 0 {
		errors = append(errors, "SIGNAGE_UPLOAD_TIMEOUT must not be negative")
	}

	if cfg.Storage.RootDir == "" {
		errors = append(errors, "STORAGE_ROOT_DIR is required")
	}

	// Validate upload protocol tunables
	if cfg.Upload.PollInitialDelay <= 0 || cfg.Upload.PollMaxDelay < cfg.Upload.PollInitialDelay {
		errors = append(errors, "UPLOAD_POLL_MAX_DELAY must be >= UPLOAD_POLL_INITIAL_DELAY > 0")
	}
	if cfg.Upload.PollBackoffFactor < 1 {
		errors = append(errors, "UPLOAD_POLL_BACKOFF_FACTOR must be >= 1")
	}
	if cfg.Upload.PollTimeout <= 0 || cfg.Upload.MaxPolls <= 0 {
		errors = append(errors, "UPLOAD_POLL_TIMEOUT and UPLOAD_MAX_POLLS must be positive")
	}
	if cfg.Upload.StalenessWindow <= 0 {
		errors = append(errors, "UPLOAD_STALENESS_WINDOW must be positive")
	}

	// Validate queue backoff
	if cfg.Queue.BaseDelay <= 0 || cfg.Queue.MaxDelay < cfg.Queue.BaseDelay {
		errors = append(errors, "QUEUE_MAX_DELAY must be >= QUEUE_BASE_DELAY > 0")
	}
	if cfg.Queue.Multiplier < 1 {
		errors = append(errors, "QUEUE_MULTIPLIER must be >= 1")
	}
	if cfg.Queue.MaxRetries < 0 {
		errors = append(errors, "QUEUE_MAX_RETRIES must not be negative")
	}

	if !strings.Contains(cfg.Publish.PlaylistNamePattern, "%d") {
		errors = append(errors, "PUBLISH_PLAYLIST_NAME_PATTERN must contain %d for the location id")
	}

	// Validate worker configuration if enabled
	if cfg.Worker.Enabled {
		if cfg.Worker.PollInterval <= 0 {
			errors = append(errors, "WORKER_POLL_INTERVAL must be positive")
		}
		if cfg.Worker.Concurrency <= 0 || cfg.Worker.BatchSize <= 0 {
			errors = append(errors, "WORKER_CONCURRENCY and WORKER_BATCH_SIZE must be positive")
		}
		if cfg.Worker.LockTTL <= cfg.Worker.ItemTimeout {
			errors = append(errors, "WORKER_LOCK_TTL must exceed WORKER_ITEM_TIMEOUT")
		}
		if cfg.Worker.ErrorThreshold <= 0 || cfg.Worker.Cooldown <= 0 {
			errors = append(errors, "WORKER_ERROR_THRESHOLD and WORKER_COOLDOWN must be positive")
		}
	}

	// Return validation errors if any
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}
