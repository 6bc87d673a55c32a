package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const envPrefix = "SHELLCACHE_"

type Config struct {
	Port        int    `yaml:"port" env:"PORT" validate:"min=1,max=65535"`
	Origin      string `yaml:"origin" env:"ORIGIN" validate:"required,url"`
	OriginHost  string `yaml:"originHost" env:"ORIGIN_HOST" validate:"omitempty,hostname"`
	Provider    string `yaml:"provider" env:"PROVIDER" validate:"oneof=memory sqlite leveldb redis s3"`
	LogFile     string `yaml:"logFile" env:"LOG_FILE"`
	Trace       bool   `yaml:"trace" env:"TRACE"`
	CacheStatus bool   `yaml:"cacheStatus" env:"CACHE_STATUS"`

	SQLite  SQLiteConfig  `yaml:"sqlite" envPrefix:"SQLITE_"`
	LevelDB LevelDBConfig `yaml:"leveldb" envPrefix:"LEVELDB_"`
	Redis   RedisConfig   `yaml:"redis" envPrefix:"REDIS_"`
	S3      S3Config      `yaml:"s3" envPrefix:"S3_"`
}

type SQLiteConfig struct {
	// Use "memory" for an in-memory db
	File string `yaml:"file" env:"FILE"`
}

type LevelDBConfig struct {
	Dir string `yaml:"dir" env:"DIR"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR" validate:"omitempty,hostname_port"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB" validate:"min=0"`
	Prefix   string `yaml:"prefix" env:"PREFIX"`
}

type S3Config struct {
	Bucket    string `yaml:"bucket" env:"BUCKET"`
	Prefix    string `yaml:"prefix" env:"PREFIX"`
	Region    string `yaml:"region" env:"REGION"`
	Endpoint  string `yaml:"endpoint" env:"ENDPOINT" validate:"omitempty,url"`
	AccessKey string `yaml:"accessKey" env:"ACCESS_KEY"`
	SecretKey string `yaml:"secretKey" env:"SECRET_KEY"`
}

func defaultConfig() Config {
	return Config{
		Port:     8080,
		Provider: "sqlite",
		SQLite:   SQLiteConfig{File: "cache.db"},
		Redis:    RedisConfig{Prefix: "shellcache:"},
		S3:       S3Config{Prefix: "shellcache/", Region: "us-east-1"},
	}
}

// loadConfig builds the configuration from, in increasing priority,
// the defaults, the config file, the environment and the command line.
func loadConfig(args []string, environ map[string]string) (Config, error) {
	cfg := defaultConfig()

	fs := flag.NewFlagSet("shellcache", flag.ContinueOnError)
	var (
		configFilename string
		addr           string
		port           int
		origin         string
		host           string
		provider       string
		db             string
		logFile        string
		trace          bool
		cacheStatus    bool
	)
	fs.StringVar(&configFilename, "config", "", "Path to config file")
	fs.StringVar(&origin, "origin", "", "Origin URL to proxy to (overrides addr and host)")
	fs.StringVar(&addr, "addr", "", "Origin IP address to proxy to")
	fs.StringVar(&host, "host", "", "Hostname of origin")
	fs.IntVar(&port, "port", cfg.Port, "Port to listen on")
	fs.StringVar(&provider, "provider", cfg.Provider, "Cache provider to use (memory, sqlite, leveldb, redis, s3)")
	fs.StringVar(&db, "db", cfg.SQLite.File, "Cache DB file name for sqlite (use 'memory' for in-memory db)")
	fs.StringVar(&logFile, "log-file", "", "Log file to use (in addition to stdout)")
	fs.BoolVar(&trace, "vv", false, "Verbosity: trace logging")
	fs.BoolVar(&cacheStatus, "cache-status", false, "Add a Cache-Status header to responses")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if configFilename != "" {
		configBytes, err := os.ReadFile(configFilename)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(configBytes, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	opts := env.Options{Prefix: envPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	// only flags given on the command line override
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "origin":
			cfg.Origin = origin
		case "addr":
			if origin == "" {
				cfg.Origin = "https://" + addr
			}
		case "host":
			cfg.OriginHost = host
		case "port":
			cfg.Port = port
		case "provider":
			cfg.Provider = provider
		case "db":
			cfg.SQLite.File = db
		case "log-file":
			cfg.LogFile = logFile
		case "vv":
			cfg.Trace = trace
		case "cache-status":
			cfg.CacheStatus = cacheStatus
		}
	})

	return cfg, cfg.validate()
}

func (cfg Config) validate() error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	switch cfg.Provider {
	case "sqlite":
		if cfg.SQLite.File == "" {
			return errors.New("invalid config: sqlite provider needs a file")
		}
	case "leveldb":
		if cfg.LevelDB.Dir == "" {
			return errors.New("invalid config: leveldb provider needs a directory")
		}
	case "redis":
		if cfg.Redis.Addr == "" {
			return errors.New("invalid config: redis provider needs an address")
		}
	case "s3":
		if cfg.S3.Bucket == "" {
			return errors.New("invalid config: s3 provider needs a bucket")
		}
	}
	return nil
}
