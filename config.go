package main

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	qhttp "traindelay/http"
	"traindelay/logging"
)

type Config struct {
	HTTP    qhttp.ServerConfig `yaml:"http"`
	Log     logging.Config     `yaml:"log"`
	Models  ModelsConfig       `yaml:"models"`
	Catalog struct {
		Path string `yaml:"path"`
	} `yaml:"catalog"`
}

type ModelsConfig struct {
	Dir         string `yaml:"dir"`
	Default     string `yaml:"default"`
	CacheSize   int    `yaml:"cache_size"`
	Watch       bool   `yaml:"watch"`
	ONNXLibrary string `yaml:"onnx_library"`
}

func defaultConfig() Config {
	var cfg Config
	cfg.HTTP = qhttp.DefaultServerConfig()
	cfg.Log = logging.DefaultConfig()
	cfg.Models = ModelsConfig{
		Dir:       "models",
		Default:   "baseline",
		CacheSize: 4,
		Watch:     true,
	}
	return cfg
}

// loadConfig overlays the YAML file at path on the defaults. A missing file
// is only an error when required is set.
func loadConfig(path string, required bool) (Config, error) {
	cfg := defaultConfig()
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return cfg, nil
		}
		return cfg, err
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config %s: %w", path, err)
	}
	if cfg.Models.Dir == "" {
		return cfg, fmt.Errorf("config %s: models.dir must be set", path)
	}
	return cfg, nil
}
