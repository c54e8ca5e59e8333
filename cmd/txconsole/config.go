package main

import (
	"flag"
	"time"

	"github.com/nikmy/remotetx/internal/api"
	"github.com/nikmy/remotetx/internal/conn"
	"github.com/nikmy/remotetx/internal/engine/memory"
	"github.com/nikmy/remotetx/internal/engine/mongo"
	"github.com/nikmy/remotetx/pkg/builder"
	"github.com/nikmy/remotetx/pkg/config"
	"github.com/nikmy/remotetx/pkg/environment"
	"github.com/nikmy/remotetx/pkg/errors"
	"github.com/nikmy/remotetx/pkg/logger"
)

const (
	engineMemory = "memory"
	engineMongo  = "mongo"
)

type Config struct {
	Environment environment.Env `yaml:"Environment"`
	Logger      logger.Config   `yaml:"Logger"`
	Conn        conn.Config     `yaml:"Conn"`
	API         api.Config      `yaml:"API"`

	Engine struct {
		Kind   string        `yaml:"kind"`
		Memory memory.Config `yaml:"memory"`
		Mongo  mongo.Config  `yaml:"mongo"`
	} `yaml:"Engine"`
}

type flags struct {
	env    string
	config string
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.env, "env", "", "environment (dev, prod)")
	flag.StringVar(&f.config, "config", "config.yaml", "path to yaml config")
	flag.Parse()
	return f
}

func loadConfig(f flags) (*Config, error) {
	return builder.New[Config]().
		Use(setDefaults).
		MaybeUse(func(cfg *Config) error { return config.Load(f.config, cfg) }).
		Use(func(cfg *Config) {
			if f.env != "" {
				cfg.Environment = environment.FromString(f.env)
			}
		}).
		MaybeUse(validate).
		Get()
}

func setDefaults(cfg *Config) {
	cfg.Environment = environment.Development
	cfg.Conn = conn.DefaultConfig()
	cfg.Engine.Kind = engineMemory
	cfg.API.HTTP.Addr = ":8080"
	cfg.API.KeepAliveInterval = time.Minute
}

func validate(cfg *Config) error {
	if cfg.Environment == environment.Unknown {
		return errors.Error("unknown environment")
	}

	switch cfg.Engine.Kind {
	case engineMemory, engineMongo:
	default:
		return errors.Errorf("unknown engine %q", cfg.Engine.Kind)
	}

	if !cfg.Conn.Isolation.Valid() {
		return errors.Errorf("unsupported isolation level %s", cfg.Conn.Isolation)
	}

	if cfg.Conn.KeepAliveTimeout <= 0 {
		return errors.Errorf("keep-alive timeout must be positive, got %s", cfg.Conn.KeepAliveTimeout)
	}
	return nil
}
