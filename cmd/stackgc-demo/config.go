package main

import (
	"github.com/cockroachdb/errors"
	"github.com/kelseyhightower/envconfig"
	"github.com/vkngwrapper/stackgc/gc"
	"golang.org/x/exp/slog"
)

const envVarPrefix = "STACKGC"

type Config struct {
	ChunkSize     int    `envconfig:"STACKGC_CHUNK_SIZE"      default:"1048576"`
	MinChunkCount int    `envconfig:"STACKGC_MIN_CHUNK_COUNT" default:"0"`
	MaxHeapBytes  int    `envconfig:"STACKGC_MAX_HEAP_BYTES"  default:"0"`
	RootStackSize int    `envconfig:"STACKGC_ROOT_STACK_SIZE" default:"65536"`
	ZeroMemory    bool   `envconfig:"STACKGC_ZERO_MEMORY"     default:"false"`
	LogLevel      string `envconfig:"STACKGC_LOG_LEVEL"       default:"warn"`
}

func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process(envVarPrefix, &c); err != nil {
		return nil, errors.Wrap(err, "loading configuration from the environment")
	}
	return &c, nil
}

func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return level, errors.Wrapf(err, "parsing %s_LOG_LEVEL", envVarPrefix)
	}
	return level, nil
}

func (c *Config) CreateOptions() gc.CreateOptions {
	options := gc.CreateOptions{
		ChunkSize:     c.ChunkSize,
		MinChunkCount: c.MinChunkCount,
		MaxHeapBytes:  c.MaxHeapBytes,
		RootStackSize: c.RootStackSize,
	}
	if c.ZeroMemory {
		options.Flags |= gc.CreateZeroMemory
	}
	return options
}
