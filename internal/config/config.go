package config

import (
	"os"
	"time"

	neterrors "github.com/star371/netsession/pkg/errors"
	"gopkg.in/yaml.v2"
)

const (
	CodecProto = "proto"
	CodecJson  = "json"
	CodecRest  = "rest"
)

type Config struct {
	// TickMillis is how often the registry is pumped.
	TickMillis int             `yaml:"tick_ms"`
	Logging    LoggingConfig   `yaml:"logging"`
	Services   []ServiceConfig `yaml:"services"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error
	Development bool   `yaml:"development"` // console output instead of JSON
}

type ServiceConfig struct {
	Name  string `yaml:"name"`
	Id    int    `yaml:"id"`
	Url   string `yaml:"url"`
	Codec string `yaml:"codec"` // proto, json or rest

	TimeoutMillis int   `yaml:"timeout_ms"`
	AutoManaged   *bool `yaml:"auto_managed"`

	Headers   map[string]string `yaml:"headers"`
	Keepalive *KeepaliveConfig  `yaml:"keepalive"`
}

// KeepaliveConfig schedules one command type to be sent periodically.
type KeepaliveConfig struct {
	IntervalMillis int    `yaml:"interval_ms"`
	Type           int32  `yaml:"type"`
	Path           string `yaml:"path"`
}

func (c *Config) Tick() time.Duration {
	return time.Duration(c.TickMillis) * time.Millisecond
}

func (s *ServiceConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMillis) * time.Millisecond
}

func (k *KeepaliveConfig) Interval() time.Duration {
	return time.Duration(k.IntervalMillis) * time.Millisecond
}

func LoadConfig(file string) (*Config, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func ApplyDefaults(cfg *Config) {
	if cfg.TickMillis == 0 {
		cfg.TickMillis = 50
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	for i := range cfg.Services {
		svc := &cfg.Services[i]
		if svc.Codec == "" {
			svc.Codec = CodecProto
		}
		if svc.TimeoutMillis == 0 {
			svc.TimeoutMillis = 5000
		}
		if svc.Keepalive != nil && svc.Keepalive.IntervalMillis == 0 {
			svc.Keepalive.IntervalMillis = 30000
		}
	}
}

func Validate(cfg *Config) error {
	for i := range cfg.Services {
		svc := &cfg.Services[i]
		if svc.Name == "" {
			return &neterrors.MissingFieldError{MessageName: "ServiceConfig", FieldName: "name"}
		}
		if svc.Url == "" {
			return &neterrors.MissingFieldError{MessageName: "ServiceConfig " + svc.Name, FieldName: "url"}
		}
		switch svc.Codec {
		case CodecProto, CodecJson, CodecRest:
		default:
			return &neterrors.InvalidEnumValue{EnumName: "codec", Value: svc.Codec}
		}
		if svc.Keepalive != nil && svc.Codec == CodecRest && svc.Keepalive.Path == "" {
			return &neterrors.MissingFieldError{MessageName: "KeepaliveConfig " + svc.Name, FieldName: "path"}
		}
	}
	return nil
}
