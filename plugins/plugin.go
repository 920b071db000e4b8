package plugins

import (
	"github.com/gofiber/fiber/v2"
	"gopkg.in/yaml.v3"
)

// Plugin interface that all plugins must implement
type Plugin interface {
	// Name returns the plugin identifier
	Name() string

	// RegisterRoutes adds the plugin's HTTP routes to the app
	RegisterRoutes(app *fiber.App)

	// Shutdown performs cleanup when the plugin is stopped
	Shutdown() error
}

// PluginFactory creates a new plugin instance from its section of the
// service config. config is nil when the section is absent.
type PluginFactory func(config *yaml.Node) (Plugin, error)

var registry = make(map[string]PluginFactory)

// Register adds a plugin factory to the registry
func Register(name string, factory PluginFactory) {
	registry[name] = factory
}

// Get retrieves a plugin factory by name
func Get(name string) (PluginFactory, bool) {
	factory, exists := registry[name]
	return factory, exists
}

// decodeConfig fills cfg from a plugin config node, leaving cfg untouched
// when there is no node.
func decodeConfig(node *yaml.Node, cfg interface{}) error {
	if node == nil || node.Kind == 0 {
		return nil
	}
	return node.Decode(cfg)
}
