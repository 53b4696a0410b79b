package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	Storage    StorageConfig
	Separator  SeparatorConfig
	Worker     WorkerConfig
	RateLimit  RateLimitConfig
	DeadLetter DeadLetterConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	BodyLimit int // MB
}

type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	JobQueue      string
	LogChannel    string
	EventsChannel string
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
	Bucket    string
}

type SeparatorConfig struct {
	Command string
	Args    []string
	Model   string
	WorkDir string
	Timeout time.Duration // 0 waits forever
}

type WorkerConfig struct {
	Concurrency int
	PopTimeout  time.Duration
	Embedded    bool   // run coordinators inside the API process
	Reliable    bool   // claim-check delivery instead of unconditional pop
	ConsumerID  string // names this process's in-flight list, unique per process
}

type RateLimitConfig struct {
	SubmitPerHour int
}

type DeadLetterConfig struct {
	Enabled   bool
	Queue     string
	Retention time.Duration
}

// Load reads configuration from defaults, an optional config.yaml and the environment.
func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("S3_ACCESS_KEY")
	readSecret("S3_SECRET_KEY")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables
	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("redis.job_queue", "REDIS_JOB_QUEUE")
	_ = v.BindEnv("redis.log_channel", "REDIS_LOG_CHANNEL")
	_ = v.BindEnv("storage.endpoint", "S3_ENDPOINT")
	_ = v.BindEnv("storage.access_key", "S3_ACCESS_KEY")
	_ = v.BindEnv("storage.secret_key", "S3_SECRET_KEY")
	_ = v.BindEnv("storage.use_ssl", "S3_USE_SSL")
	_ = v.BindEnv("storage.bucket", "S3_BUCKET")
	_ = v.BindEnv("separator.command", "SEPARATOR_COMMAND")
	_ = v.BindEnv("separator.model", "SEPARATOR_MODEL")
	_ = v.BindEnv("separator.work_dir", "SEPARATOR_WORK_DIR")
	_ = v.BindEnv("separator.timeout", "SEPARATOR_TIMEOUT")
	_ = v.BindEnv("worker.concurrency", "WORKER_CONCURRENCY")
	_ = v.BindEnv("worker.embedded", "WORKER_EMBEDDED")
	_ = v.BindEnv("worker.reliable", "WORKER_RELIABLE")
	_ = v.BindEnv("worker.consumer_id", "WORKER_CONSUMER_ID")

	// Defaults
	v.SetDefault("server.port", "5000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.body_limit_mb", 100)
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.job_queue", "toWorkers")
	v.SetDefault("redis.log_channel", "logging")
	v.SetDefault("redis.events_channel", "jobs:events")

	// Object storage defaults (MinIO)
	v.SetDefault("storage.endpoint", "minio:9000")
	v.SetDefault("storage.access_key", "rootuser")
	v.SetDefault("storage.secret_key", "rootpass123")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.bucket", "audio-tracks")

	// Separator defaults (demucs)
	v.SetDefault("separator.command", "python")
	v.SetDefault("separator.args", []string{"-m", "demucs.separate", "-n", "{model}", "--out", "{output}", "--mp3", "{input}"})
	v.SetDefault("separator.model", "mdx_extra_q")
	v.SetDefault("separator.work_dir", os.TempDir())
	v.SetDefault("separator.timeout", "0s")

	v.SetDefault("worker.concurrency", 1)
	v.SetDefault("worker.pop_timeout", "5s")
	v.SetDefault("worker.embedded", false)
	v.SetDefault("worker.reliable", false)
	hostname, _ := os.Hostname()
	v.SetDefault("worker.consumer_id", hostname)

	v.SetDefault("ratelimit.submit_per_hour", 60)

	v.SetDefault("deadletter.enabled", true)
	v.SetDefault("deadletter.queue", "deadletter")
	v.SetDefault("deadletter.retention", "168h")

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      v.GetString("server.port"),
			Env:       v.GetString("server.env"),
			LogLevel:  v.GetString("server.log_level"),
			BodyLimit: v.GetInt("server.body_limit_mb"),
		},
		Redis: RedisConfig{
			Addr:          v.GetString("redis.addr"),
			Password:      v.GetString("redis.password"),
			DB:            v.GetInt("redis.db"),
			JobQueue:      v.GetString("redis.job_queue"),
			LogChannel:    v.GetString("redis.log_channel"),
			EventsChannel: v.GetString("redis.events_channel"),
		},
		Storage: StorageConfig{
			Endpoint:  v.GetString("storage.endpoint"),
			AccessKey: v.GetString("storage.access_key"),
			SecretKey: v.GetString("storage.secret_key"),
			UseSSL:    v.GetBool("storage.use_ssl"),
			Region:    v.GetString("storage.region"),
			Bucket:    v.GetString("storage.bucket"),
		},
		Separator: SeparatorConfig{
			Command: v.GetString("separator.command"),
			Args:    v.GetStringSlice("separator.args"),
			Model:   v.GetString("separator.model"),
			WorkDir: v.GetString("separator.work_dir"),
			Timeout: v.GetDuration("separator.timeout"),
		},
		Worker: WorkerConfig{
			Concurrency: v.GetInt("worker.concurrency"),
			PopTimeout:  v.GetDuration("worker.pop_timeout"),
			Embedded:    v.GetBool("worker.embedded"),
			Reliable:    v.GetBool("worker.reliable"),
			ConsumerID:  v.GetString("worker.consumer_id"),
		},
		RateLimit: RateLimitConfig{
			SubmitPerHour: v.GetInt("ratelimit.submit_per_hour"),
		},
		DeadLetter: DeadLetterConfig{
			Enabled:   v.GetBool("deadletter.enabled"),
			Queue:     v.GetString("deadletter.queue"),
			Retention: v.GetDuration("deadletter.retention"),
		},
	}

	if cfg.Worker.Concurrency < 1 {
		cfg.Worker.Concurrency = 1
	}

	return cfg, nil
}
