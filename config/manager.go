package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// ConfigManager interface for configuration management
type ConfigManager interface {
	LoadConfig(configName string, config Config) error
	GetConfig(configName string) (Config, error)
	RegisterValidator(configName string, validator ValidatorFunc)
	RegisterHook(configName string, hook HookFunc)
	AddChangeListener(listener ConfigChangeListener)
	RemoveChangeListener(listener ConfigChangeListener)
	NotifyConfigChanged(configName string, newConfig, oldConfig Config)
	SetBasePath(path string)
	SetEnvironment(env string)
	Close() error
}

// ValidatorFunc configuration validation function
type ValidatorFunc func(Config) error

// HookFunc configuration change hook function
type HookFunc func(oldVal, newVal Config) error

// configManager implementation of ConfigManager interface
type configManager struct {
	mu         sync.RWMutex
	configs    map[string]Config
	watchers   map[string]*fsnotify.Watcher
	validators map[string]ValidatorFunc
	hooks      map[string][]HookFunc
	basePath   string
	env        string

	listenerMu sync.RWMutex
	listeners  []ConfigChangeListener
}

// NewConfigManager creates a new configuration manager
func NewConfigManager() ConfigManager {
	return &configManager{
		configs:    make(map[string]Config),
		watchers:   make(map[string]*fsnotify.Watcher),
		validators: make(map[string]ValidatorFunc),
		hooks:      make(map[string][]HookFunc),
		basePath:   "./configs",
		env:        "development",
	}
}

// decodeHook lets yaml strings such as "1s" or "info" fill time.Duration and
// encoding.TextUnmarshaler fields.
func decodeHook() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
}

// newViper prepares a viper instance for configName. Environment variables
// named <CONFIGNAME>_<KEY> override file values.
func (cm *configManager) newViper(configName string) *viper.Viper {
	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(cm.basePath, cm.env))
	v.AddConfigPath(cm.basePath)

	v.AutomaticEnv()
	v.SetEnvPrefix(strings.ToUpper(configName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}

// read fills config from the file, then runs Validate and the registered validator.
// Keys missing from the file keep their defaults.
func (cm *configManager) read(v *viper.Viper, configName string, config Config) error {
	if d, ok := config.(Defaulter); ok {
		d.SetDefaults()
	}
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config failed: %w", err)
	}
	if err := v.Unmarshal(config, decodeHook()); err != nil {
		return fmt.Errorf("unmarshal config failed: %w", err)
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("validate config failed: %w", err)
	}
	if validator, exists := cm.validators[configName]; exists {
		if err := validator(config); err != nil {
			return fmt.Errorf("validate config failed: %w", err)
		}
	}
	return nil
}

// LoadConfig loads configuration from file
func (cm *configManager) LoadConfig(configName string, config Config) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	v := cm.newViper(configName)
	if err := cm.read(v, configName, config); err != nil {
		return err
	}

	cm.configs[configName] = config

	if _, watching := cm.watchers[configName]; watching {
		return nil
	}
	if err := cm.watchConfigFile(configName, v.ConfigFileUsed()); err != nil {
		return fmt.Errorf("watch config file failed: %w", err)
	}
	return nil
}

// GetConfig returns the last successfully loaded configuration.
func (cm *configManager) GetConfig(configName string) (Config, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	config, exists := cm.configs[configName]
	if !exists {
		return nil, fmt.Errorf("config %s not found", configName)
	}
	return config, nil
}

// RegisterValidator registers configuration validator
func (cm *configManager) RegisterValidator(configName string, validator ValidatorFunc) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.validators[configName] = validator
}

// RegisterHook registers configuration change hook
func (cm *configManager) RegisterHook(configName string, hook HookFunc) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.hooks[configName] = append(cm.hooks[configName], hook)
}

// AddChangeListener registers a listener for every reload.
func (cm *configManager) AddChangeListener(listener ConfigChangeListener) {
	if listener == nil {
		return
	}
	cm.listenerMu.Lock()
	defer cm.listenerMu.Unlock()
	cm.listeners = append(cm.listeners, listener)
}

// RemoveChangeListener unregisters a listener added with AddChangeListener.
func (cm *configManager) RemoveChangeListener(listener ConfigChangeListener) {
	cm.listenerMu.Lock()
	defer cm.listenerMu.Unlock()
	for i, l := range cm.listeners {
		if l == listener {
			cm.listeners = append(cm.listeners[:i], cm.listeners[i+1:]...)
			return
		}
	}
}

// NotifyConfigChanged calls every listener. A failing listener does not stop the others.
func (cm *configManager) NotifyConfigChanged(configName string, newConfig, oldConfig Config) {
	cm.listenerMu.RLock()
	listeners := make([]ConfigChangeListener, len(cm.listeners))
	copy(listeners, cm.listeners)
	cm.listenerMu.RUnlock()

	for _, l := range listeners {
		if err := l.OnConfigChanged(configName, newConfig, oldConfig); err != nil {
			fmt.Fprintf(os.Stderr, "config listener failed for %s: %v\n", configName, err)
		}
	}
}

// SetBasePath sets base path for configuration files
func (cm *configManager) SetBasePath(path string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.basePath = path
}

// SetEnvironment sets environment for configuration
func (cm *configManager) SetEnvironment(env string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.env = env
}

// watchConfigFile watches the directory of the configuration file, so that
// editors which replace the file by rename are noticed too.
func (cm *configManager) watchConfigFile(configName, configFile string) error {
	if configFile == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(configFile)); err != nil {
		_ = watcher.Close()
		return err
	}
	cm.watchers[configName] = watcher

	target := filepath.Clean(configFile)
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					cm.reloadConfig(configName)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				fmt.Fprintf(os.Stderr, "config watcher error: %v\n", err)
			}
		}
	}()
	return nil
}

// reloadConfig re-reads configName. On any failure the old value is kept.
func (cm *configManager) reloadConfig(configName string) {
	cm.mu.Lock()
	oldConfig, exists := cm.configs[configName]
	if !exists {
		cm.mu.Unlock()
		return
	}

	// preserve the concrete type of the loaded config
	newConfig := reflect.New(reflect.TypeOf(oldConfig).Elem()).Interface().(Config)

	if err := cm.read(cm.newViper(configName), configName, newConfig); err != nil {
		cm.mu.Unlock()
		fmt.Fprintf(os.Stderr, "reloadConfig: %s: %v\n", configName, err)
		return
	}

	for _, hook := range cm.hooks[configName] {
		if err := hook(oldConfig, newConfig); err != nil {
			cm.mu.Unlock()
			fmt.Fprintf(os.Stderr, "reloadConfig: hook failed for config %s: %v\n", configName, err)
			return
		}
	}

	cm.configs[configName] = newConfig
	cm.mu.Unlock()

	// listeners may call back into the manager
	cm.NotifyConfigChanged(configName, newConfig, oldConfig)
}

// Close stops every file watcher.
func (cm *configManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	var firstErr error
	for name, watcher := range cm.watchers {
		if err := watcher.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(cm.watchers, name)
	}
	return firstErr
}
