package events

import (
	"fmt"
	"time"
)

const (
	DriverNone  = "none"
	DriverRedis = "redis"
	DriverKafka = "kafka"
)

type Config struct {
	Driver  string      `mapstructure:"driver"`
	Channel string      `mapstructure:"channel"`
	Buffer  int         `mapstructure:"buffer"`
	Redis   RedisConfig `mapstructure:"redis"`
	Kafka   KafkaConfig `mapstructure:"kafka"`
}

type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

// NewPublisher builds the configured backend. Unknown drivers are an error
// rather than a silent fallback.
func NewPublisher(cfg Config) (Publisher, error) {
	switch cfg.Driver {
	case "", DriverNone:
		return Nop{}, nil
	case DriverRedis:
		return NewRedisPublisher(cfg.Redis, cfg.Channel)
	case DriverKafka:
		return NewKafkaPublisher(cfg.Kafka)
	default:
		return nil, fmt.Errorf("unknown events driver %q", cfg.Driver)
	}
}
