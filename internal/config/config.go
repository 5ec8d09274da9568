package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

type Config struct {
	Environment string      `yaml:"environment" validate:"required,oneof=production development"`
	Engine      EngineCfg   `yaml:"engine"      validate:"required"`
	KVStore     KVStoreCfg  `yaml:"kvstore"     validate:"required"`
	NATS        NATSCfg     `yaml:"nats"`
	Worker      WorkerCfg   `yaml:"worker"`
	Paytable    PaytableCfg `yaml:"paytable"`
}

type EngineCfg struct {
	PoolSize int    `yaml:"pool_size" validate:"required,min=1"`
	DrawSize int    `yaml:"draw_size" validate:"required,min=1"`
	MaxSpots int    `yaml:"max_spots" validate:"required,min=1,max=10"`
	MinWager string `yaml:"min_wager" validate:"required"`
	MaxWager string `yaml:"max_wager" validate:"required"`
}

type KVStoreCfg struct {
	Directory string `yaml:"directory" validate:"required"`
	Prefix    string `yaml:"prefix"`
}

type NATSCfg struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type WorkerCfg struct {
	RoundInterval  time.Duration `yaml:"round_interval"`
	RotateInterval time.Duration `yaml:"rotate_interval"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	StaleAfter     time.Duration `yaml:"stale_after"`
}

type PaytableCfg struct {
	Path string `yaml:"path"`
}

func Load(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}

	cfg.applyDefaults()

	if err := validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	if cfg.Engine.DrawSize > cfg.Engine.PoolSize {
		return cfg, fmt.Errorf("draw_size %d exceeds pool_size %d", cfg.Engine.DrawSize, cfg.Engine.PoolSize)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Worker.RoundInterval == 0 {
		c.Worker.RoundInterval = time.Minute
	}
	if c.Worker.RotateInterval == 0 {
		c.Worker.RotateInterval = 24 * time.Hour
	}
	if c.Worker.SweepInterval == 0 {
		c.Worker.SweepInterval = 30 * time.Second
	}
	if c.Worker.StaleAfter == 0 {
		c.Worker.StaleAfter = 10 * time.Minute
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "draw.rounds"
	}
}
