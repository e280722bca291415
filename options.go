package trustinfra

import (
	"log/slog"
	"net/http"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port        int
	databaseURL string
	serviceKey  string
	logger      *slog.Logger
	version     string
	extraRoutes func(mux *http.ServeMux)
	middlewares []func(http.Handler) http.Handler
}

// WithPort overrides the TCP port from config (PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the database connection string from config
// (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithServiceKey overrides the administrative service key from config
// (SERVICE_API_KEY env var).
func WithServiceKey(key string) Option {
	return func(o *resolvedOptions) { o.serviceKey = key }
}

// WithLogger sets the structured logger for the App.
// If not set, a JSON slog logger at the configured level is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and
// logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithExtraRoutes registers additional routes on the server mux before the
// middleware chain is applied.
func WithExtraRoutes(fn func(mux *http.ServeMux)) Option {
	return func(o *resolvedOptions) { o.extraRoutes = fn }
}

// WithMiddleware appends middleware between the built-in chain and the
// mux. Middlewares run in registration order.
func WithMiddleware(mw func(http.Handler) http.Handler) Option {
	return func(o *resolvedOptions) { o.middlewares = append(o.middlewares, mw) }
}
