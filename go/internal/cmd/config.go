package main

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/google/uuid"
	"github.com/mcdev12/questhunt/go/internal/hunt/progression"
	"github.com/mcdev12/questhunt/go/internal/hunt/timer"
	"github.com/mcdev12/questhunt/go/internal/models"
	"gopkg.in/yaml.v3"
)

// Config holds runtime configuration loaded from environment variables.
type Config struct {
	Port     int    `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     int    `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"postgres"`
	DBPassword string `env:"DB_PASSWORD" envDefault:"postgres"`
	DBName     string `env:"DB_NAME" envDefault:"questhunt"`
	DBSSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`

	NATSURL string `env:"NATS_URL" envDefault:"nats://localhost:4222"`

	SchedulerWorkers     int           `env:"SCHEDULER_WORKERS" envDefault:"10"`
	OutboxPollInterval   time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"1s"`
	OutboxRetention      time.Duration `env:"OUTBOX_RETENTION" envDefault:"24h"`
	SchedulerResyncEvery time.Duration `env:"SCHEDULER_RESYNC_EVERY" envDefault:"1m"`

	GameConfigPath string `env:"GAME_CONFIG_PATH" envDefault:"config/game.yaml"`
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT: %d (must be 1-65535)", c.Port)
	}
	if c.SchedulerWorkers < 1 {
		return fmt.Errorf("invalid SCHEDULER_WORKERS: %d", c.SchedulerWorkers)
	}
	return nil
}

func loadEnvConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GameConfig holds game tuning loaded from the YAML config file.
type GameConfig struct {
	Timer struct {
		ExtensionLengthSec   int   `yaml:"extension_length_sec"`
		ExtensionCostDivisor int   `yaml:"extension_cost_divisor"`
		WarningMilestonesSec []int `yaml:"warning_milestones_sec"`
	} `yaml:"timer"`
	Progression struct {
		CompletionCooldownSec int `yaml:"completion_cooldown_sec"`
	} `yaml:"progression"`
	Rewards []struct {
		Name           string `yaml:"name"`
		Description    string `yaml:"description"`
		ScoreThreshold int    `yaml:"score_threshold"`
	} `yaml:"rewards"`
}

// loadGameConfig reads the game YAML. A missing file is not fatal: defaults
// apply and no rewards are configured.
func loadGameConfig(path string) (*GameConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &GameConfig{}, nil
		}
		return nil, fmt.Errorf("failed to read game config file: %w", err)
	}

	var config GameConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse game config: %w", err)
	}

	return &config, nil
}

// TimerConfig merges the YAML tuning over engine defaults.
func (gc *GameConfig) TimerConfig() timer.Config {
	cfg := timer.DefaultConfig()
	if gc.Timer.ExtensionLengthSec > 0 {
		cfg.ExtensionLength = time.Duration(gc.Timer.ExtensionLengthSec) * time.Second
	}
	if gc.Timer.ExtensionCostDivisor > 0 {
		cfg.ExtensionCostDivisor = gc.Timer.ExtensionCostDivisor
	}
	if len(gc.Timer.WarningMilestonesSec) > 0 {
		cfg.WarningMilestones = gc.Timer.WarningMilestonesSec
	}
	return cfg
}

// ProgressionConfig merges the YAML tuning over progression defaults.
func (gc *GameConfig) ProgressionConfig() progression.Config {
	cfg := progression.DefaultConfig()
	if gc.Progression.CompletionCooldownSec > 0 {
		cfg.CompletionCooldown = time.Duration(gc.Progression.CompletionCooldownSec) * time.Second
	}
	return cfg
}

// RewardTable materializes the configured rewards.
func (gc *GameConfig) RewardTable() []models.Reward {
	rewards := make([]models.Reward, 0, len(gc.Rewards))
	for _, r := range gc.Rewards {
		rewards = append(rewards, models.Reward{
			ID:             uuid.New(),
			Name:           r.Name,
			Description:    r.Description,
			ScoreThreshold: r.ScoreThreshold,
		})
	}
	return rewards
}
