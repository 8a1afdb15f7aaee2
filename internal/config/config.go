package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/dkeye/Huddle/internal/events"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string          `mapstructure:"mode"`
	Port       int             `mapstructure:"port"`
	StaticPath string          `mapstructure:"static_path"`
	Secret     string          `mapstructure:"secret"`
	Log        LogConfig       `mapstructure:"log"`
	Signal     SignalConfig    `mapstructure:"signal"`
	Authority  AuthorityConfig `mapstructure:"authority"`
	Meeting    MeetingConfig   `mapstructure:"meeting"`
	Events     events.Config   `mapstructure:"events"`
	Peer       PeerConfig      `mapstructure:"peer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type SignalConfig struct {
	ReadLimit     int64         `mapstructure:"read_limit"`
	PingPeriod    time.Duration `mapstructure:"ping_period"`
	PongWait      time.Duration `mapstructure:"pong_wait"`
	WriteWait     time.Duration `mapstructure:"write_wait"`
	SendBuffer    int           `mapstructure:"send_buffer"`
	LoopBuffer    int           `mapstructure:"loop_buffer"`
	RateLimit     int           `mapstructure:"rate_limit"`
	RateInterval  time.Duration `mapstructure:"rate_interval"`
	RejectNotices bool          `mapstructure:"reject_notices"`
}

type AuthorityConfig struct {
	PromoteCohostOnVacancy bool `mapstructure:"promote_cohost_on_vacancy"`
	PersistBans            bool `mapstructure:"persist_bans"`
}

type MeetingConfig struct {
	MaxBreakoutRooms int `mapstructure:"max_breakout_rooms"`
	MaxChatLength    int `mapstructure:"max_chat_length"`
}

type PeerConfig struct {
	ServerURL  string   `mapstructure:"server_url"`
	Room       string   `mapstructure:"room"`
	Name       string   `mapstructure:"name"`
	UserID     string   `mapstructure:"user_id"`
	ICEServers []string `mapstructure:"ice_servers"`
}

// Load reads config/config.<CONFIG_ENV>.yaml on top of the defaults. Every
// key can be overridden from the environment, e.g. SIGNAL_READ_LIMIT.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", fileName, err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("events", cfg.Events.Driver).Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("secret", "huddle-dev-secret")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)

	v.SetDefault("signal.read_limit", 65536)
	v.SetDefault("signal.ping_period", "54s")
	v.SetDefault("signal.pong_wait", "60s")
	v.SetDefault("signal.write_wait", "5s")
	v.SetDefault("signal.send_buffer", 64)
	v.SetDefault("signal.loop_buffer", 1024)
	v.SetDefault("signal.rate_limit", 50)
	v.SetDefault("signal.rate_interval", "1s")
	v.SetDefault("signal.reject_notices", false)

	v.SetDefault("authority.promote_cohost_on_vacancy", false)
	v.SetDefault("authority.persist_bans", false)

	v.SetDefault("meeting.max_breakout_rooms", 50)
	v.SetDefault("meeting.max_chat_length", 2000)

	v.SetDefault("events.driver", events.DriverNone)
	v.SetDefault("events.channel", "huddle")
	v.SetDefault("events.buffer", 256)
	v.SetDefault("events.redis.address", "localhost:6379")
	v.SetDefault("events.redis.pool_size", 10)
	v.SetDefault("events.redis.write_timeout", "3s")
	v.SetDefault("events.kafka.brokers", "localhost:9092")
	v.SetDefault("events.kafka.topic", "huddle-meeting-events")

	v.SetDefault("peer.server_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("peer.room", "lobby")
	v.SetDefault("peer.name", "huddle-bot")
	v.SetDefault("peer.ice_servers", []string{"stun:stun.l.google.com:19302"})
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Signal.PingPeriod >= c.Signal.PongWait {
		return fmt.Errorf("signal.ping_period (%s) must be shorter than signal.pong_wait (%s)",
			c.Signal.PingPeriod, c.Signal.PongWait)
	}
	if c.Meeting.MaxBreakoutRooms <= 0 {
		c.Meeting.MaxBreakoutRooms = 50
	}
	return nil
}
