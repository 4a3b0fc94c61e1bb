package tunables

import (
	"fmt"
	"log/slog"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// configKey is the section of the config file holding tunables.
const configKey = "tunables"

// FromViper decodes the tunables section over the defaults.
// Keys missing from the file keep their default value.
func FromViper(v *viper.Viper) (Tunables, error) {
	t := Default()
	if !v.IsSet(configKey) {
		return t, nil
	}
	if err := v.UnmarshalKey(configKey, &t); err != nil {
		return t, fmt.Errorf("decode %s: %w", configKey, err)
	}
	return t, nil
}

// Load reads path and returns a store with its tunables. An empty path
// yields the defaults and no watcher.
func Load(path string) (*Store, *viper.Viper, error) {
	if path == "" {
		return NewStore(Default()), nil, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("read config %s: %w", path, err)
	}

	t, err := FromViper(v)
	if err != nil {
		return nil, nil, err
	}
	if err := t.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid tunables in %s: %w", path, err)
	}
	return NewStore(t), v, nil
}

// Watch reloads s whenever the viper config file changes. Invalid files
// are logged and ignored.
func Watch(v *viper.Viper, s *Store) {
	if v == nil {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		t, err := FromViper(v)
		if err != nil {
			slog.Warn("failed to decode tunables, keeping previous", "file", e.Name, "error", err)
			return
		}
		if err := s.Swap(t); err != nil {
			slog.Warn("rejected tunables reload, keeping previous", "file", e.Name, "error", err)
		}
	})
	v.WatchConfig()
}
