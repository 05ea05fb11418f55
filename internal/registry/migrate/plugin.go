package migrate

import (
	"context"
	"fmt"
	"sort"

	"github.com/charmbracelet/log"
)

// Migrator runs schema migrations for a single plugin.
type Migrator interface {
	Name() string
	Migrate(ctx context.Context) error
}

// Plugin represents a migrator with an order for deterministic execution sequence.
type Plugin struct {
	Order    int
	Migrator Migrator
}

var plugins []Plugin

// Register adds a migration plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns the registered migrator names in execution order.
func Names() []string {
	sorted := ordered()
	names := make([]string, len(sorted))
	for i, p := range sorted {
		names[i] = p.Migrator.Name()
	}
	return names
}

// RunAll executes all registered migrators sorted by Order.
func RunAll(ctx context.Context) error {
	for _, p := range ordered() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("migration aborted: %w", err)
		}
		log.Info("Running migration", "name", p.Migrator.Name())
		if err := p.Migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("migration %s failed: %w", p.Migrator.Name(), err)
		}
	}
	return nil
}

func ordered() []Plugin {
	sorted := make([]Plugin, len(plugins))
	copy(sorted, plugins)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })
	return sorted
}
