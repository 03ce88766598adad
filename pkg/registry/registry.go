// Package registry maps handler names to factories. Built-in handlers are
// registered here, and plugin units refer to handlers by these names.
//
// The factory table is fixed once package initialization is over;
// Register is only meant to be called from init functions.
package registry

import (
	"fmt"
	"slices"

	"github.com/albertocavalcante/forge/pkg/config"
	"github.com/albertocavalcante/forge/pkg/handler"
	"github.com/albertocavalcante/forge/pkg/util"
)

// HandlerFactory is a function that creates a new handler.
type HandlerFactory func() handler.Handler

// factories maps handler names to their factory functions.
var factories = map[string]HandlerFactory{
	"javascript": handler.NewJavaScript,
	"css":        handler.NewCSS,
	"html":       handler.NewHTML,
	"asset":      handler.NewAsset,
}

// handlerOrder defines the order in which default handlers are added to
// an active set.
var handlerOrder = []string{
	"javascript",
	"css",
	"html",
}

// LoadHandlers returns the default handlers enabled in the configuration,
// in a consistent order.
func LoadHandlers(cfg *config.Config) []handler.Handler {
	enabled := cfg.GetEnabledHandlers()

	var handlers []handler.Handler
	for _, name := range handlerOrder {
		if !slices.Contains(enabled, name) {
			continue
		}
		handlers = append(handlers, factories[name]())
	}
	// Enabled names outside the built-in order come last, in config order.
	for _, name := range enabled {
		if slices.Contains(handlerOrder, name) {
			continue
		}
		if factory, ok := factories[name]; ok {
			handlers = append(handlers, factory())
		}
	}
	return handlers
}

// New creates the handler registered under name.
func New(name string) (handler.Handler, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown handler %q (available: %v)", name, AvailableHandlers())
	}
	return factory(), nil
}

// AvailableHandlers returns the sorted list of registered handler names.
func AvailableHandlers() []string {
	return util.SortedKeys(factories)
}

// IsHandlerAvailable checks if a handler factory is registered.
func IsHandlerAvailable(name string) bool {
	_, ok := factories[name]
	return ok
}

// RegisterHandler registers a handler factory. It must only be called
// from an init function.
func RegisterHandler(name string, factory HandlerFactory) {
	factories[name] = factory
}
