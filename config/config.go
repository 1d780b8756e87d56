package config

import (
	"errors"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

const (
	ProviderStatic = "static"
	ProviderDocker = "docker"
)

const (
	SelectionRandom     = "random"
	SelectionRoundRobin = "round-robin"
)

const (
	DefaultRootMessage   = "Blackjack Cloudflare Container Worker"
	DefaultForwardPrefix = "/game"
	DefaultPoolName      = "backend"
	DefaultPoolSize      = 3
	DefaultContainerPort = 8080
	DefaultSleepAfter    = "2h"
)

type ServerConfig struct {
	Address     string `mapstructure:"address"`
	Environment string `mapstructure:"environment"`
}

type AdminConfig struct {
	Address string `mapstructure:"address"`
}

type RoutingConfig struct {
	RootMessage   string `mapstructure:"root_message"`
	ForwardPrefix string `mapstructure:"forward_prefix"`
}

type InstanceConfig struct {
	URL string `mapstructure:"url"`
}

// ContainerConfig describes how the docker provider starts pool instances.
type ContainerConfig struct {
	Image          string   `mapstructure:"image"`
	Port           int      `mapstructure:"port"`
	SleepAfter     string   `mapstructure:"sleep_after"`
	SweepInterval  string   `mapstructure:"sweep_interval"`
	StartupTimeout string   `mapstructure:"startup_timeout"`
	Network        string   `mapstructure:"network"`
	HostIP         string   `mapstructure:"host_ip"`
	Env            []string `mapstructure:"env"`
}

type PoolConfig struct {
	Name      string           `mapstructure:"name"`
	Size      int              `mapstructure:"size"`
	Selection string           `mapstructure:"selection"`
	Provider  string           `mapstructure:"provider"`
	Instances []InstanceConfig `mapstructure:"instances"`
	Container ContainerConfig  `mapstructure:"container"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Admin   AdminConfig   `mapstructure:"admin"`
	Routing RoutingConfig `mapstructure:"routing"`
	Pool    PoolConfig    `mapstructure:"pool"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// Load reads configuration from path, or from config.yaml in ./config or
// the working directory when path is empty. ROUTER_* environment variables
// override file values.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("admin.address", ":9090")
	v.SetDefault("routing.root_message", DefaultRootMessage)
	v.SetDefault("routing.forward_prefix", DefaultForwardPrefix)
	v.SetDefault("pool.name", DefaultPoolName)
	v.SetDefault("pool.size", DefaultPoolSize)
	v.SetDefault("pool.selection", SelectionRandom)
	v.SetDefault("pool.provider", ProviderStatic)
	v.SetDefault("pool.container.port", DefaultContainerPort)
	v.SetDefault("pool.container.sleep_after", DefaultSleepAfter)
	v.SetDefault("pool.container.sweep_interval", "1m")
	v.SetDefault("pool.container.startup_timeout", "30s")
	v.SetDefault("pool.container.host_ip", "127.0.0.1")
	v.SetDefault("logging.level", LogLevelInfo)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("router")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Warn("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.Address,
						validation.Required,
						validation.By(ValidateHostPort),
					),
				)
			}),
		),
		validation.Field(&c.Admin,
			validation.By(func(value interface{}) error {
				ac, ok := value.(AdminConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be an AdminConfig")
				}
				return validation.ValidateStruct(&ac,
					validation.Field(&ac.Address, validation.By(ValidateHostPort)),
				)
			}),
		),
		validation.Field(&c.Routing,
			validation.Required,
			validation.By(func(value interface{}) error {
				rc, ok := value.(RoutingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a RoutingConfig")
				}
				return validation.ValidateStruct(&rc,
					validation.Field(&rc.RootMessage, validation.Required),
					validation.Field(&rc.ForwardPrefix,
						validation.Required,
						validation.By(validatePrefix),
					),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.Pool,
			validation.Required,
			validation.By(validatePool),
		),
	)
}

func validatePool(value interface{}) error {
	pc, ok := value.(PoolConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a PoolConfig")
	}

	static := pc.Provider == ProviderStatic
	docker := pc.Provider == ProviderDocker

	return validation.ValidateStruct(&pc,
		validation.Field(&pc.Name,
			validation.Required,
			is.DNSName,
		),
		validation.Field(&pc.Size,
			validation.Required,
			validation.Min(1),
		),
		validation.Field(&pc.Selection,
			validation.Required,
			validation.In(SelectionRandom, SelectionRoundRobin),
		),
		validation.Field(&pc.Provider,
			validation.Required,
			validation.In(ProviderStatic, ProviderDocker),
		),
		validation.Field(&pc.Instances,
			validation.When(static,
				validation.Required,
				validation.Length(pc.Size, 0).Error("must list at least one instance per pool slot"),
				validation.Each(validation.By(validateInstanceConfig)),
			),
		),
		validation.Field(&pc.Container,
			validation.When(docker, validation.By(validateContainerConfig)),
		),
	)
}

func validateContainerConfig(value interface{}) error {
	cc, ok := value.(ContainerConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a ContainerConfig")
	}

	return validation.ValidateStruct(&cc,
		validation.Field(&cc.Image, validation.Required),
		validation.Field(&cc.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&cc.SleepAfter, validation.Required, validation.By(validateDuration)),
		validation.Field(&cc.SweepInterval, validation.Required, validation.By(validateDuration)),
		validation.Field(&cc.StartupTimeout, validation.By(validateDuration)),
		validation.Field(&cc.HostIP, is.IP),
	)
}

// ValidateHostPort checks a listen address of the form host:port or :port.
// Empty values pass; combine with validation.Required where needed.
func ValidateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	if addr == "" {
		return nil
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	if durationStr == "" {
		return nil
	}

	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 2h)")
	}
	if d < 0 {
		return validation.NewError("validation_negative_duration", "must not be negative")
	}

	return nil
}

func validatePrefix(value interface{}) error {
	prefix, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if !strings.HasPrefix(prefix, "/") || prefix == "/" {
		return validation.NewError("validation_invalid_prefix", "must start with / and not be the root path")
	}

	return nil
}

func validateInstanceConfig(value interface{}) error {
	instance, ok := value.(InstanceConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be an InstanceConfig")
	}

	if instance.URL == "" {
		return validation.NewError("validation_empty_url", "instance URL cannot be empty")
	}

	parsedURL, err := url.Parse(instance.URL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	return nil
}

// Durations holds the parsed container timings.
type Durations struct {
	SleepAfter     time.Duration
	SweepInterval  time.Duration
	StartupTimeout time.Duration
}

// Durations parses the container timing strings. Validate has already
// rejected malformed values, but callers building a Config by hand get the
// error here.
func (c ContainerConfig) Durations() (Durations, error) {
	var d Durations
	var err error

	if d.SleepAfter, err = time.ParseDuration(c.SleepAfter); err != nil {
		return Durations{}, err
	}
	if d.SweepInterval, err = time.ParseDuration(c.SweepInterval); err != nil {
		return Durations{}, err
	}
	if c.StartupTimeout != "" {
		if d.StartupTimeout, err = time.ParseDuration(c.StartupTimeout); err != nil {
			return Durations{}, err
		}
	}

	return d, nil
}
