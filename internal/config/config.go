package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	App        App        `yaml:"app"`
	HTTP       HTTP       `yaml:"http"`
	Log        Log        `yaml:"log"`
	Postgres   Postgres   `yaml:"postgres"`
	Redis      Redis      `yaml:"redis"`
	Kafka      Kafka      `yaml:"kafka"`
	Inbox      Inbox      `yaml:"inbox"`
	Aggregator Aggregator `yaml:"aggregator"`
	Publisher  Publisher  `yaml:"publisher"`
}

type App struct {
	Name    string `yaml:"name" env:"APP_NAME" env-default:"eventrelay"`
	Version string `yaml:"version" env:"APP_VERSION" env-default:"1.0.0"`
}

type HTTP struct {
	Port string `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
}

type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

type Postgres struct {
	Host     string `yaml:"host" env:"POSTGRES_HOST" env-default:"localhost"`
	Port     string `yaml:"port" env:"POSTGRES_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"POSTGRES_USER" env-default:"user"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD" env-default:"password"`
	DBName   string `yaml:"dbname" env:"POSTGRES_DB" env-default:"eventrelay_db"`
}

type Redis struct {
	Addr string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	Topic   string   `yaml:"topic" env:"KAFKA_TOPIC" env-default:"agent-events"`
	GroupID string   `yaml:"group_id" env:"KAFKA_GROUP_ID" env-default:"aggregator-group-1"`
}

// DLQTopic is where unprocessable messages land.
func (k Kafka) DLQTopic() string {
	return k.Topic + ".dlq"
}

type Inbox struct {
	// DedupWindow bounds how long a dispatch batch's dedup key suppresses
	// redelivery of the same batch.
	DedupWindow time.Duration `yaml:"dedup_window" env:"INBOX_DEDUP_WINDOW" env-default:"5m"`
}

type Aggregator struct {
	BatchSize  int           `yaml:"batch_size" env:"AGGREGATOR_BATCH_SIZE" env-default:"100"`
	BatchWait  time.Duration `yaml:"batch_wait" env:"AGGREGATOR_BATCH_WAIT" env-default:"500ms"`
	MaxRetries int           `yaml:"max_retries" env:"AGGREGATOR_MAX_RETRIES" env-default:"5"`
}

type Publisher struct {
	PollInterval time.Duration `yaml:"poll_interval" env:"PUBLISHER_POLL_INTERVAL" env-default:"2s"`
	BatchSize    int           `yaml:"batch_size" env:"PUBLISHER_BATCH_SIZE" env-default:"100"`
}

func New() (*Config, error) {
	cfg := &Config{}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		// fallback to env vars if file not found
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	} else {
		// Allow env vars to override config file
		cleanenv.ReadEnv(cfg)
	}

	return cfg, nil
}
