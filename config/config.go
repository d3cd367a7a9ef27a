// Package config loads named yaml configurations through viper, overlays
// environment variables and hot-reloads them when the file changes.
package config

// Config interface defines the basic configuration contract
type Config interface {
	GetName() string
	Validate() error
}

// ConfigChangeListener is notified after a configuration has been reloaded.
// Listeners must ignore names they do not own.
type ConfigChangeListener interface {
	OnConfigChanged(configName string, newConfig, oldConfig Config) error
}

// Defaulter is implemented by configs that fill defaults before decoding.
type Defaulter interface {
	SetDefaults()
}
