package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Supported values of QueueDriver.
const (
	QueueDriverNATS  = "nats"
	QueueDriverRedis = "redis"
)

// Config holds runtime configuration values shared by the API and the grading worker.
type Config struct {
	AppName     string
	AppEnv      string
	AppPort     string
	DatabaseURL string
	RedisURL    string
	NATSURL     string
	JWTSecret   string

	DatabaseMaxOpenConns    int
	DatabaseMaxIdleConns    int
	DatabaseConnMaxLifetime time.Duration

	AllowOrigins      string
	WorkerMetricsAddr string

	QueueDriver      string
	QueueName        string
	QueueMaxAttempts int
	QueueAckWait     time.Duration
	QueueFetchWait   time.Duration
	QueueRetryDelay  time.Duration

	OracleTimeout            time.Duration
	OpenAIAPIKey             string
	OpenAIModel              string
	OpenAITranscriptionModel string
	OpenAIBaseURL            string

	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryUploadFolder string

	AssignmentCacheTTL   time.Duration
	ProgressCacheTTL     time.Duration
	MaxAudioBytes        int64
	AudioBlobTTL         time.Duration
	SubmissionRateLimit  int
	SubmissionRateWindow time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("IDEST")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Idest Grading API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("worker.metrics_addr", ":9091")
	v.SetDefault("queue.driver", QueueDriverNATS)
	v.SetDefault("queue.name", "grading_jobs")
	v.SetDefault("queue.max_attempts", 5)
	v.SetDefault("queue.ack_wait", "5m")
	v.SetDefault("queue.fetch_wait", "5s")
	v.SetDefault("queue.retry_backoff", "5s")
	v.SetDefault("oracle.timeout", "90s")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.transcription_model", "whisper-1")
	v.SetDefault("cloudinary.folder", "idest/speaking")
	v.SetDefault("assignment.cache_ttl", "10m")
	v.SetDefault("progress.cache_ttl", "1m")
	v.SetDefault("upload.max_audio_mb", 25)
	v.SetDefault("upload.audio_ttl", "24h")
	v.SetDefault("rate_limit.submissions", 30)
	v.SetDefault("rate_limit.window", "1m")

	durations := map[string]time.Duration{}
	for _, key := range []string{"database.conn_max_lifetime", "queue.ack_wait", "queue.fetch_wait", "queue.retry_backoff", "oracle.timeout", "upload.audio_ttl", "assignment.cache_ttl", "progress.cache_ttl", "rate_limit.window"} {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		durations[key] = parsed
	}

	cfg := Config{
		AppName:     v.GetString("app.name"),
		AppEnv:      v.GetString("app.env"),
		AppPort:     v.GetString("app.port"),
		DatabaseURL: v.GetString("database.url"),
		RedisURL:    v.GetString("redis.url"),
		NATSURL:     v.GetString("nats.url"),
		JWTSecret:   v.GetString("jwt.secret"),

		DatabaseMaxOpenConns:    v.GetInt("database.max_open_conns"),
		DatabaseMaxIdleConns:    v.GetInt("database.max_idle_conns"),
		DatabaseConnMaxLifetime: durations["database.conn_max_lifetime"],

		AllowOrigins:      v.GetString("http.allow_origins"),
		WorkerMetricsAddr: v.GetString("worker.metrics_addr"),

		QueueDriver:      strings.ToLower(strings.TrimSpace(v.GetString("queue.driver"))),
		QueueName:        v.GetString("queue.name"),
		QueueMaxAttempts: v.GetInt("queue.max_attempts"),
		QueueAckWait:     durations["queue.ack_wait"],
		QueueFetchWait:   durations["queue.fetch_wait"],
		QueueRetryDelay:  durations["queue.retry_backoff"],

		OracleTimeout:            durations["oracle.timeout"],
		OpenAIAPIKey:             v.GetString("openai_api_key"),
		OpenAIModel:              v.GetString("openai.model"),
		OpenAITranscriptionModel: v.GetString("openai.transcription_model"),
		OpenAIBaseURL:            v.GetString("openai.base_url"),

		CloudinaryCloudName:    v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:       v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:    v.GetString("cloudinary.api_secret"),
		CloudinaryUploadFolder: v.GetString("cloudinary.folder"),

		AssignmentCacheTTL:   durations["assignment.cache_ttl"],
		ProgressCacheTTL:     durations["progress.cache_ttl"],
		MaxAudioBytes:        v.GetInt64("upload.max_audio_mb") << 20,
		AudioBlobTTL:         durations["upload.audio_ttl"],
		SubmissionRateLimit:  v.GetInt("rate_limit.submissions"),
		SubmissionRateWindow: durations["rate_limit.window"],
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt secret must be provided")
	}

	switch c.QueueDriver {
	case QueueDriverNATS:
		if c.NATSURL == "" {
			return fmt.Errorf("nats url must be provided for the nats queue driver")
		}
	case QueueDriverRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("redis url must be provided for the redis queue driver")
		}
	default:
		return fmt.Errorf("unsupported queue driver %q", c.QueueDriver)
	}

	if c.QueueMaxAttempts <= 0 {
		return fmt.Errorf("queue max attempts must be positive")
	}
	if c.QueueAckWait <= 0 || c.QueueRetryDelay <= 0 {
		return fmt.Errorf("queue.ack_wait and queue.retry_backoff must be positive")
	}

	return nil
}

// CloudinaryEnabled reports whether recordings should be uploaded.
func (c Config) CloudinaryEnabled() bool {
	return c.CloudinaryCloudName != "" && c.CloudinaryAPIKey != "" && c.CloudinaryAPISecret != ""
}
