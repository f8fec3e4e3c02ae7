package config

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"mystocks/internal/logger"
)

// Watcher re-reads the strategy section whenever the config file changes on
// disk and hands the validated result to the registered callback. Sections
// other than strategy are fixed at startup and ignored on reload.
type Watcher struct {
	v  *viper.Viper
	mu sync.Mutex
	fn func(StrategyConfig)
}

// Watch starts watching path. The callback runs on the fsnotify goroutine;
// it must hand off to the engine rather than block.
func Watch(path string, onChange func(StrategyConfig)) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("config watch requires a callback")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	w := &Watcher{v: v, fn: onChange}
	v.OnConfigChange(func(evt fsnotify.Event) {
		w.reload(evt.Name)
	})
	v.WatchConfig()
	return w, nil
}

func (w *Watcher) reload(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.v.ReadInConfig(); err != nil {
		logger.Errorf("config reload failed (%s): %v", name, err)
		return
	}
	var section struct {
		Strategy StrategyConfig `toml:"strategy"`
	}
	if err := w.v.Unmarshal(&section, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		logger.Errorf("config reload parse failed (%s): %v", name, err)
		return
	}
	set := make(keySet)
	flattenKeys("", w.v.AllSettings(), set)
	section.Strategy.applyDefaults(set)
	if err := section.Strategy.Validate(); err != nil {
		logger.Errorf("config reload rejected (%s): %v", name, err)
		return
	}
	logger.Infof("config reloaded from %s, applying strategy parameters", name)
	w.fn(section.Strategy)
}
