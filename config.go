package main

import (
	"regexp"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Config is the bootstrap configuration, read from the environment and an
// optional .env file. Command-line flags override it.
type Config struct {
	Addr           string        `env:"ADDR" envDefault:":10052"`
	Transport      string        `env:"TRANSPORT" envDefault:"blocking"`
	MaxConnections int           `env:"MAX_CONNECTIONS" envDefault:"0"`
	ReadTimeout    time.Duration `env:"READ_TIMEOUT" envDefault:"0s"`
	PipelineWait   time.Duration `env:"PIPELINE_WAIT" envDefault:"0s"`
	EventLoops     int           `env:"EVENT_LOOPS" envDefault:"0"`

	// Protocol seeds the zabbix.protocol property; a properties file or a
	// runtime override takes precedence.
	Protocol   string `env:"PROTOCOL"`
	Properties string `env:"PROPERTIES"`

	AdminAddr string        `env:"ADMIN_ADDR"`
	RedisAddr string        `env:"REDIS_ADDR"`
	RedisTTL  time.Duration `env:"REDIS_TTL" envDefault:"0s"`
	LogLevel  string        `env:"LOG_LEVEL" envDefault:"info"`

	TrapperServer string `env:"TRAPPER_SERVER"`
	TrapperPort   int    `env:"TRAPPER_PORT" envDefault:"10051"`
	TrapperHost   string `env:"TRAPPER_HOST"`
}

const envPrefix = "ZAPCAT_"

// LoadConfig loads .env if present and parses ZAPCAT_* variables.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()
	var config Config
	if err := env.Parse(&config, env.Options{Prefix: envPrefix}); err != nil {
		return config, errors.Wrap(err, "parsing environment")
	}
	return config, nil
}

var addrRe = regexp.MustCompile(`^[^\s:]*:\d+$`)

func (c *Config) Valid() error {
	if !addrRe.MatchString(c.Addr) {
		return errors.Errorf("invalid listen address %q", c.Addr)
	}
	if c.AdminAddr != "" && !addrRe.MatchString(c.AdminAddr) {
		return errors.Errorf("invalid admin address %q", c.AdminAddr)
	}
	switch c.Transport {
	case "blocking", "evented":
	default:
		return errors.Errorf("unknown transport %q", c.Transport)
	}
	if c.MaxConnections < 0 || c.EventLoops < 0 {
		return errors.New("connection and loop counts must not be negative")
	}
	if c.ReadTimeout < 0 || c.PipelineWait < 0 {
		return errors.New("timeouts must not be negative")
	}
	return nil
}
