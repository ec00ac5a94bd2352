// Package appctx is the application-context collaborator described in
// SPEC_FULL.md section 4.9: it hosts an *eventhub.EventHub, drives its
// lifecycle, wires whichever broker port adapters its own configuration
// names, and translates *eventhub.Error into the ambient pkg/errors
// taxonomy at its boundary. It is the only layer in this module that reads
// environment variables or process-boundary configuration; pkg/eventhub
// itself never does.
package appctx

import (
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	apperrors "github.com/chris-alexander-pop/go-eventhub/pkg/errors"
	"github.com/chris-alexander-pop/go-eventhub/pkg/eventhub"
	"github.com/chris-alexander-pop/go-eventhub/pkg/logger"
	"github.com/chris-alexander-pop/go-eventhub/pkg/validator"
)

// BrokerDriver names a broker port adapter NewWithConfig can wire up.
type BrokerDriver string

const (
	BrokerNone        BrokerDriver = "none"
	BrokerMemory      BrokerDriver = "memory"
	BrokerKafka       BrokerDriver = "kafka"
	BrokerRedisStream BrokerDriver = "redisstream"
	BrokerKinesis     BrokerDriver = "kinesis"
)

// Config is appctx's own process-boundary configuration, loaded via
// cleanenv following the teacher's env-tagged struct pattern
// (messaging.Config, streaming.Config, logger.Config).
type Config struct {
	HubName          string        `env:"EVENTHUB_NAME" env-default:"app" validate:"required,hubname"`
	ShutdownDeadline time.Duration `env:"EVENTHUB_SHUTDOWN_DEADLINE" env-default:"30s"`

	LogLevel  string `env:"LOG_LEVEL" env-default:"INFO"`
	LogFormat string `env:"LOG_FORMAT" env-default:"JSON"`

	BrokerDriver BrokerDriver `env:"EVENTHUB_BROKER_DRIVER" env-default:"none"`
	BrokerName   string        `env:"EVENTHUB_BROKER_NAME" env-default:"default"`

	KafkaBrokers []string `env:"EVENTHUB_KAFKA_BROKERS" env-separator:","`
	KafkaTopic   string   `env:"EVENTHUB_KAFKA_TOPIC"`
	KafkaGroupID string   `env:"EVENTHUB_KAFKA_GROUP_ID"`

	RedisAddr     string `env:"EVENTHUB_REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword string `env:"EVENTHUB_REDIS_PASSWORD"`
	RedisDB       int    `env:"EVENTHUB_REDIS_DB" env-default:"0"`
	RedisStream   string `env:"EVENTHUB_REDIS_STREAM"`
	RedisGroup    string `env:"EVENTHUB_REDIS_GROUP"`

	KinesisStreamName string `env:"EVENTHUB_KINESIS_STREAM"`
}

// LoadConfig reads Config from environment variables (falling back to an
// optional .env file), matching pkg/config.Load's two-step shape from the
// teacher without depending on the deleted pkg/config package, then
// validates it via pkg/validator's shared instance (reusing the same
// "hubname" tag pkg/eventhub/config.go registers).
func LoadConfig(envFile string) (Config, error) {
	var cfg Config

	var err error
	if envFile != "" {
		err = cleanenv.ReadConfig(envFile, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return Config{}, apperrors.Wrap(err, "failed to load appctx configuration")
	}

	v := validator.New()
	if rerr := eventhub.RegisterHubNameTag(v); rerr != nil {
		return Config{}, apperrors.Internal("failed to prepare appctx validator", rerr)
	}
	if verr := v.ValidateStruct(cfg); verr != nil {
		return Config{}, apperrors.InvalidArgument("appctx configuration failed validation", verr)
	}

	return cfg, nil
}

// initLogger calls pkg/logger.Init for every Context NewWithConfig builds;
// pkg/logger keeps the first logger it builds as L().
func initLogger(cfg Config) {
	logger.Init(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
}
