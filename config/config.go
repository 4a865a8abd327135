package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" default:"localhost"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"root"`
	DBPassword string `envconfig:"DB_PASSWORD" default:"changeit"`
	DBName     string `envconfig:"DB_NAME" default:"staging"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`

	HTTPPort     string `envconfig:"HTTP_PORT" default:"4242"`
	APISecretKey string `envconfig:"API_SECRET_KEY"`

	// Mindestens so viele Tokens bleiben pro Credential als Reserve stehen.
	ReservedTokenFloor int64 `envconfig:"RESERVED_TOKEN_FLOOR" default:"30000"`
	ExtractBatchSize   int   `envconfig:"EXTRACT_BATCH_SIZE" default:"5"`
	// Leer = kein geplanter Lauf
	CronSchedule string `envconfig:"CRON_SCHEDULE"`

	// DashScope (Qwen) als Extraktions-Backend
	LLMBaseURL    string        `envconfig:"LLM_BASE_URL" default:"https://dashscope.aliyuncs.com/api/v1"`
	LLMModel      string        `envconfig:"LLM_MODEL" default:"qwen-plus"`
	LLMAPIKeyName string        `envconfig:"LLM_API_KEY_NAME" default:"DASHSCOPE_API_KEY"`
	LLMTimeout    time.Duration `envconfig:"LLM_TIMEOUT" default:"180s"`
	LLMRateLimit  float64       `envconfig:"LLM_RATE_LIMIT" default:"1"`

	IngestDir string `envconfig:"INGEST_DIR" default:"../thecvf"`

	// Optionaler S3-Speicher für Exporte
	S3URL    string `envconfig:"S3_URL"`
	S3Key    string `envconfig:"S3_KEY"`
	S3Secret string `envconfig:"S3_SECRET"`
	S3Region string `envconfig:"S3_REGION" default:"us-east-1"`
	S3Bucket string `envconfig:"S3_BUCKET"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode)
}

// S3Enabled meldet, ob alle Angaben für den S3-Upload vorhanden sind.
func (c *Config) S3Enabled() bool {
	return c.S3URL != "" && c.S3Key != "" && c.S3Secret != "" && c.S3Bucket != ""
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	if c.ReservedTokenFloor < 0 {
		return nil, fmt.Errorf("RESERVED_TOKEN_FLOOR must not be negative, got %d", c.ReservedTokenFloor)
	}
	return &c, nil
}
