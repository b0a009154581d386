package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"

	eventsConfig "github.com/iurnickita/unitecon/internal/events/config"
	handlerConfig "github.com/iurnickita/unitecon/internal/handler/config"
	loggerConfig "github.com/iurnickita/unitecon/internal/logger/config"
	serviceConfig "github.com/iurnickita/unitecon/internal/service/config"
	storeConfig "github.com/iurnickita/unitecon/internal/store/config"
)

type Config struct {
	Handler handlerConfig.Config `yaml:"handler"`
	Service serviceConfig.Config `yaml:"service"`
	Store   storeConfig.Config   `yaml:"store"`
	Logger  loggerConfig.Config  `yaml:"logger"`
	Events  eventsConfig.Config  `yaml:"events"`
}

// GetConfig читает YAML из CONFIG_PATH, если он задан, затем переменные окружения.
// Переменные окружения важнее файла.
func GetConfig() (Config, error) {
	var cfg Config

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		return cfg, nil
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to read config from env: %w", err)
	}
	return cfg, nil
}
