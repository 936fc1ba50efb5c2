package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env string `yaml:"env" env:"APP_ENV" env-default:"local"`
	// empty keeps the engine state in memory only
	StoragePath string `yaml:"storage_path" env:"STORAGE_PATH"`
	// empty falls back to in-process locks and no event forwarding
	RedisAddr  string `yaml:"redis_addr" env:"REDIS_ADDR"`
	HTTPServer `yaml:"http_server"`
	Engine     `yaml:"engine"`
}

type HTTPServer struct {
	Address         string        `yaml:"address" env:"HTTP_ADDRESS" env-default:"localhost:8080"`
	Timeout         time.Duration `yaml:"timeout" env-default:"4s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env-default:"15s"`
}

type Engine struct {
	RequestTTL          time.Duration `yaml:"request_ttl" env:"REQUEST_TTL" env-default:"48h"`
	SweepSchedule       string        `yaml:"sweep_schedule" env:"SWEEP_SCHEDULE" env-default:"@every 5m"`
	SweepTimeout        time.Duration `yaml:"sweep_timeout" env-default:"1m"`
	LockTTL             time.Duration `yaml:"lock_ttl" env-default:"5s"`
	LockRetries         uint64        `yaml:"lock_retries" env-default:"5"`
	LockBackoff         time.Duration `yaml:"lock_backoff" env-default:"10ms"`
	LockMaxBackoff      time.Duration `yaml:"lock_max_backoff" env-default:"250ms"`
	SubmitRatePerMinute int           `yaml:"submit_rate_per_minute" env-default:"30"`
	EventsChannel       string        `yaml:"events_channel" env:"EVENTS_CHANNEL" env-default:"bidding:events"`
	Defaults            Defaults      `yaml:"defaults"`
}

// Defaults is the scheduling config an instructor starts with.
type Defaults struct {
	BufferTimeMinutes    int  `yaml:"buffer_time_minutes" env-default:"15"`
	MaxSessionsPerDay    int  `yaml:"max_sessions_per_day" env-default:"6"`
	MaxGroupSize         int  `yaml:"max_group_size" env-default:"8"`
	AutoConfirmBookings  bool `yaml:"auto_confirm_bookings" env-default:"false"`
	AllowUnderbid        bool `yaml:"allow_underbid" env-default:"false"`
	UnderbidFloorPercent int  `yaml:"underbid_floor_percent" env-default:"0"`
}

func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/local.yaml"
	}

	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("Failed to read config file: %v", err)
	}

	return cfg
}

func Load(configPath string) (*Config, error) {
	var cfg Config

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, err
	}

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
