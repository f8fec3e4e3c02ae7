// Package config loads, defaults and validates the process configuration.
package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads the YAML file at path, applies defaults for anything the file
// leaves unset and validates the result.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	set := make(keySet)
	flattenKeys("", v.AllSettings(), set)
	cfg.applyDefaults(set)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// keySet records which config keys the file set explicitly, so a deliberate
// zero (e.g. daily_loss_latched: false) is not clobbered by a default.
type keySet map[string]struct{}

func (k keySet) isSet(path string) bool {
	_, ok := k[strings.ToLower(path)]
	return ok
}

func flattenKeys(prefix string, node any, dest keySet) {
	m, ok := node.(map[string]any)
	if !ok {
		if prefix != "" {
			dest[strings.ToLower(prefix)] = struct{}{}
		}
		return
	}
	for key, val := range m {
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		flattenKeys(key, val, dest)
	}
}
