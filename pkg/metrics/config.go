package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Config selects where datatide metrics are registered and how they are
// named.
type Config struct {
	// Enabled turns collection on. New returns nil when it is false.
	Enabled bool

	// Registry receives the collectors. Nil means prometheus.DefaultRegisterer.
	Registry prometheus.Registerer

	// Namespace prefixes every metric name. Empty means DefaultNamespace.
	Namespace string

	// Labels are attached to every series, e.g. {"env": "prod"}.
	Labels prometheus.Labels
}

// DefaultConfig enables metrics on the default registerer.
func DefaultConfig() Config {
	return Config{Enabled: true, Registry: prometheus.DefaultRegisterer, Namespace: DefaultNamespace}
}

// New builds a Registry from config, or returns nil when metrics are off.
// A nil *Registry is valid and records nothing.
func New(config Config) *Registry {
	if !config.Enabled {
		return nil
	}
	if config.Registry == nil {
		config.Registry = prometheus.DefaultRegisterer
	}
	if config.Namespace == "" {
		config.Namespace = DefaultNamespace
	}
	return newRegistry(config)
}
