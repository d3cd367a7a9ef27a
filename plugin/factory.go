package plugin

// Factory creates and manages plugin instances of one kind.
//
// Lifecycle methods:
//   - Setup: build an instance from its config section
//   - Destroy: release the resources of an instance
//   - Reload: apply a changed config section in place, or fail to request a rebuild
//   - CanDelete: report whether an instance may be destroyed now
//
// Implementations must be safe for concurrent use.
type Factory interface {
	// Type returns the plugin type, e.g. "resolver".
	Type() Type

	// Name returns the factory name, e.g. "consul".
	Name() string

	// Setup initializes a new plugin instance with the given configuration.
	Setup(v map[string]any) (Plugin, error)

	// Destroy cleans up the instance. The second parameter is reserved.
	Destroy(Plugin, any) error

	// Reload hot reloads the instance with new configuration.
	// An error makes the caller destroy and set up the instance again.
	Reload(Plugin, map[string]any) error

	// CanDelete reports false while the instance is doing work that must not be interrupted.
	CanDelete(Plugin) bool
}

// factoryKey formats the registry key "<type>_<name>".
func factoryKey(ft, fn string) string {
	return ft + "_" + fn
}
