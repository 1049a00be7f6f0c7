package internal

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/starford/paperlens/internal/paperservice"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config    *Config
	logger    *slog.Logger
	notifier  paperservice.Notifier
	navigator paperservice.Navigator
	registry  *prometheus.Registry
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithLogger replaces the default JSON stdout logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *application) {
		a.logger = l
	}
}

// WithNotifier sets where user-facing messages go.
func WithNotifier(n paperservice.Notifier) Option {
	return func(a *application) {
		a.notifier = n
	}
}

// WithNavigator sets the target of session-expiry redirects.
func WithNavigator(n paperservice.Navigator) Option {
	return func(a *application) {
		a.navigator = n
	}
}

// WithRegistry collects metrics into reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(a *application) {
		a.registry = reg
	}
}
