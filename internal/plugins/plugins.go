// Package plugins defines the chain-of-responsibility contract that
// the surrounding server drives for each incoming query: a fixed
// ordered list of Plugins, each given a chance to answer before the
// next runs.
package plugins

import (
	"log"

	"github.com/miekg/dns"
)

// PluginContext carries per-query state through the chain.
type PluginContext struct {
	ResponseWriter dns.ResponseWriter

	// Stop tells the manager to halt the chain: a plugin set it after
	// writing (or deciding not to write) a final reply.
	Stop bool

	data map[string]interface{}
}

// NewPluginContext creates a new PluginContext.
func NewPluginContext() *PluginContext {
	return &PluginContext{
		data: make(map[string]interface{}),
	}
}

// Set stores a value in the context.
func (c *PluginContext) Set(key string, value interface{}) {
	c.data[key] = value
}

// Get retrieves a value from the context.
func (c *PluginContext) Get(key string) (interface{}, bool) {
	val, ok := c.data[key]
	return val, ok
}

// Plugin is the interface every chain participant implements.
type Plugin interface {
	Name() string
	Execute(ctx *PluginContext, msg *dns.Msg) error
}

// PluginManager runs the chain in registration order.
type PluginManager struct {
	plugins []Plugin
}

// NewPluginManager creates a new PluginManager.
func NewPluginManager() *PluginManager {
	return &PluginManager{
		plugins: make([]Plugin, 0),
	}
}

// Register adds a new plugin to the manager.
func (pm *PluginManager) Register(p Plugin) {
	log.Printf("Registering plugin: %s", p.Name())
	pm.plugins = append(pm.plugins, p)
}

// ExecutePlugins runs all registered plugins until one sets ctx.Stop.
func (pm *PluginManager) ExecutePlugins(ctx *PluginContext, msg *dns.Msg) {
	for _, p := range pm.plugins {
		if err := p.Execute(ctx, msg); err != nil {
			log.Printf("Error executing plugin %s: %v", p.Name(), err)
		}
		if ctx.Stop {
			return
		}
	}
}
