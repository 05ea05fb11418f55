package route

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gin-gonic/gin"
)

// RouterLoader initializes routes on the gin engine.
type RouterLoader func(r *gin.Engine) error

// Plugin represents a route plugin with an order for deterministic mount
// sequence. Plugins carry routes that need no store: health, readiness and
// metrics. Routes with dependencies are mounted by the serve command.
type Plugin struct {
	Order  int
	Loader RouterLoader
}

var (
	plugins  []Plugin
	sortOnce sync.Once
)

// Register adds a route plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

func sorted() []Plugin {
	sortOnce.Do(func() {
		sort.SliceStable(plugins, func(i, j int) bool { return plugins[i].Order < plugins[j].Order })
	})
	return plugins
}

// Loaders returns the registered loaders, sorted by order.
func Loaders() []RouterLoader {
	var loaders []RouterLoader
	for _, p := range sorted() {
		loaders = append(loaders, p.Loader)
	}
	return loaders
}

// Mount runs every registered loader against r.
func Mount(r *gin.Engine) error {
	for _, load := range Loaders() {
		if err := load(r); err != nil {
			return fmt.Errorf("route: mount: %w", err)
		}
	}
	return nil
}
