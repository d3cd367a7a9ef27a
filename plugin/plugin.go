// Package plugin keeps named instances of pluggable components, built by
// registered factories from the "plugin" configuration and rebuilt when that
// configuration changes.
package plugin

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/lcx/tcpio/config"
	"github.com/lcx/tcpio/log"
)

// Type represents the plugin type supported by the system.
type Type string

const (
	// Resolver peer address resolvers.
	Resolver Type = "resolver"
)

const (
	DefaultInsName = "default" // DefaultInsName is the default instance name when not specified in config.
)

// PluginConfig represents the plugin configuration structure.
// Structure: map[plugin_type][factory_name_suffix] = config_items
// Example YAML:
//
//	resolver:
//	  consul_main:
//	    addr: 127.0.0.1:8500
//	    service: sim-server
//	    tag: main  # Instance name (optional, defaults to "default")
type PluginConfig map[string]map[string]map[string]any

// GetName implements the config.Config interface.
func (c *PluginConfig) GetName() string {
	return "plugin"
}

// Validate implements the config.Config interface.
func (c *PluginConfig) Validate() error {
	if c == nil || len(*c) == 0 {
		return fmt.Errorf("plugin config is empty")
	}
	for pluginType, factories := range *c {
		if len(factories) == 0 {
			return fmt.Errorf("plugin type %s has no factory config", pluginType)
		}
	}
	return nil
}

// Plugin represents the plugin instance interface.
type Plugin interface { //nolint:revive
	FactoryName() string
}

type insKey struct {
	ft, fn, pn string
}

func (k insKey) String() string {
	return k.ft + "/" + k.fn + "/" + k.pn
}

type pluginMgr struct {
	// applyMu serializes InitPlugins, hot reloads and DestroyPlugins.
	applyMu sync.Mutex

	mu  sync.RWMutex
	ins map[insKey]Plugin
}

var (
	_factoryMu  sync.RWMutex
	_factoryMap = make(map[string]Factory)

	_pluginMgr = &pluginMgr{ins: make(map[insKey]Plugin)}
)

// RegisterPlugin registers a plugin factory, usually from an init function.
// A later registration with the same type and name wins.
func RegisterPlugin(f Factory) {
	_factoryMu.Lock()
	defer _factoryMu.Unlock()
	_factoryMap[factoryKey(string(f.Type()), f.Name())] = f
}

// InitPlugins loads the "plugin" config, sets up every configured instance and
// registers for hot reloads. On any failure the instances created so far are
// destroyed and the previous set stays in place. A nil cm uses the singleton.
func InitPlugins(cm config.ConfigManager) error {
	if cm == nil {
		cm = config.GetInstance()
	}

	var cfg PluginConfig
	if err := cm.LoadConfig("plugin", &cfg); err != nil {
		return fmt.Errorf("load plugin config failed: %w", err)
	}
	if err := _pluginMgr.apply(cfg); err != nil {
		return err
	}

	cm.AddChangeListener(_pluginMgr)
	log.Info().Msg("plugin manager registered as config change listener")
	return nil
}

// OnConfigChanged implements the config.ConfigChangeListener interface.
//
// Hot reload strategy:
//  1. Safety check: every current instance must pass CanDelete
//  2. Instances whose key survives are updated with Reload
//  3. Instances whose Reload fails, and new keys, are set up from scratch
//  4. The new set is swapped in, then the instances left over are destroyed
//
// Any failure before the swap destroys what was created and keeps the old set.
func (pm *pluginMgr) OnConfigChanged(configName string, newConfig, _ config.Config) error {
	if configName != "plugin" {
		return nil
	}
	cfg, ok := newConfig.(*PluginConfig)
	if !ok || cfg == nil {
		return fmt.Errorf("invalid config type: expected *PluginConfig, got %T", newConfig)
	}
	log.Info().Str("config", configName).Msg("plugin config changed, performing safe hot reload...")
	return pm.apply(*cfg)
}

func (pm *pluginMgr) apply(cfg PluginConfig) error {
	pm.applyMu.Lock()
	defer pm.applyMu.Unlock()

	pm.mu.RLock()
	leftover := maps.Clone(pm.ins)
	pm.mu.RUnlock()

	for k, ins := range leftover {
		if f := getPluginFactory(k.ft, k.fn); f != nil && !f.CanDelete(ins) {
			return fmt.Errorf("plugin [%s] cannot be deleted: has active tasks", k)
		}
	}

	next := make(map[insKey]Plugin)
	var created []insKey
	rollback := func() {
		rollbackPlugins(created, next)
	}

	reloaded := 0
	for ft, factories := range cfg {
		haveDefault := false
		for k, c := range factories {
			fn := getFactoryName(k)
			pn := getPluginNameFromCfg(c)
			key := insKey{ft, fn, pn}

			f := getPluginFactory(ft, fn)
			if f == nil {
				rollback()
				return fmt.Errorf("plugin factory [%s/%s] not found, available factories: %v",
					ft, fn, listAvailableFactories(ft))
			}
			if pn == DefaultInsName {
				if haveDefault {
					rollback()
					return fmt.Errorf("plugin type [%s] default instance already exists", ft)
				}
				haveDefault = true
			}
			if _, dup := next[key]; dup {
				rollback()
				return fmt.Errorf("plugin instance [%s] configured twice", key)
			}

			if ins, ok := leftover[key]; ok {
				err := f.Reload(ins, c)
				if err == nil {
					next[key] = ins
					delete(leftover, key)
					reloaded++
					log.Info().Str("plugin", key.String()).Msg("hot reload success (lightweight)")
					continue
				}
				log.Warn().Err(err).Str("plugin", key.String()).Msg("hot reload failed, will recreate plugin")
			}

			ins, err := f.Setup(c)
			if err != nil {
				rollback()
				return fmt.Errorf("plugin [%s/%s] setup failed: %w", ft, fn, err)
			}
			next[key] = ins
			created = append(created, key)
			log.Info().Str("plugin", key.String()).Msg("plugin setup success")
		}
	}

	pm.mu.Lock()
	pm.ins = next
	pm.mu.Unlock()

	for k, ins := range leftover {
		destroy(k, ins)
	}
	log.Info().Int("reloaded", reloaded).Int("created", len(created)).
		Int("destroyed", len(leftover)).Msg("plugins applied")
	return nil
}

// DestroyPlugins destroys every instance. Used on shutdown.
func DestroyPlugins() {
	pm := _pluginMgr
	pm.applyMu.Lock()
	defer pm.applyMu.Unlock()

	pm.mu.Lock()
	old := pm.ins
	pm.ins = make(map[insKey]Plugin)
	pm.mu.Unlock()

	for k, ins := range old {
		destroy(k, ins)
	}
}

func destroy(k insKey, ins Plugin) {
	f := getPluginFactory(k.ft, k.fn)
	if f == nil {
		return
	}
	if err := f.Destroy(ins, nil); err != nil {
		log.Error().Err(err).Str("plugin", k.String()).Msg("destroy plugin failed")
	}
}

// rollbackPlugins destroys the instances created by a failed apply, newest first.
func rollbackPlugins(created []insKey, ins map[insKey]Plugin) {
	if len(created) == 0 {
		return
	}
	log.Warn().Int("count", len(created)).Msg("rolling back initialized plugins...")
	for i := len(created) - 1; i >= 0; i-- {
		destroy(created[i], ins[created[i]])
	}
}

// getPluginFactory retrieves plugin factory by type and name (must check for nil).
func getPluginFactory(ft string, fn string) Factory {
	_factoryMu.RLock()
	defer _factoryMu.RUnlock()
	return _factoryMap[factoryKey(ft, fn)]
}

// getPluginNameFromCfg extracts the instance name from the "tag" key.
func getPluginNameFromCfg(c map[string]any) string {
	tag, ok := c["tag"].(string)
	if !ok || tag == "" {
		return DefaultInsName
	}
	return tag
}

func getFactoryName(fn string) string {
	return strings.Split(fn, "_")[0]
}

// GetPlugin retrieves plugin instance.
// ft: plugin type (e.g., "resolver")
// fn: factory name (e.g., "consul")
// pn: instance name (e.g., "default")
func GetPlugin(ft, fn, pn string) (Plugin, error) {
	_pluginMgr.mu.RLock()
	defer _pluginMgr.mu.RUnlock()

	ins, ok := _pluginMgr.ins[insKey{ft, fn, pn}]
	if !ok {
		return nil, fmt.Errorf("plugin instance [%s/%s/%s] not found", ft, fn, pn)
	}
	return ins, nil
}

// GetDefaultPlugin retrieves the default instance.
func GetDefaultPlugin(ft, fn string) (Plugin, error) {
	return GetPlugin(ft, fn, DefaultInsName)
}

// ListPlugins lists all instances. Return format: map["resolver/consul"] = ["default", "backup"].
func ListPlugins() map[string][]string {
	_pluginMgr.mu.RLock()
	defer _pluginMgr.mu.RUnlock()

	result := make(map[string][]string)
	for k := range _pluginMgr.ins {
		key := k.ft + "/" + k.fn
		result[key] = append(result[key], k.pn)
	}
	for _, names := range result {
		slices.Sort(names)
	}
	return result
}

// listAvailableFactories lists available factories (for error messages).
func listAvailableFactories(ft string) []string {
	_factoryMu.RLock()
	defer _factoryMu.RUnlock()

	var factories []string
	for key := range _factoryMap {
		if strings.HasPrefix(key, ft+"_") {
			factories = append(factories, strings.TrimPrefix(key, ft+"_"))
		}
	}
	slices.Sort(factories)
	return factories
}
