// Package chi provides loom integration for the Chi router.
//
// ScopeMiddleware is a standard func(http.Handler) http.Handler
// middleware, so it plugs straight into chi's Use. It activates a
// fresh request context per request and attaches it, together with
// the container, to the request's context.Context. Handle resolves
// controllers from that context.
//
// Example usage:
//
//	container, _ := loom.New(loom.WithArchives(archive))
//	_ = container.Deploy(context.Background())
//
//	r := chi.NewRouter()
//	r.Use(loomchi.ScopeMiddleware(container))
//
//	r.Post("/login", loomchi.Handle((*AuthController).Login))
//	r.Get("/users/{id}", loomchi.Handle((*UserController).GetByID))
package chi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/loom-di/loom"
)

// Config holds the configuration for the scope middleware.
type Config struct {
	// ErrorHandler is called when a registered middleware fails.
	// If nil, a default handler returning 500 Internal Server Error is used.
	ErrorHandler func(http.ResponseWriter, *http.Request, error)

	// DestroyErrorHandler is called when destroying the request context
	// fails. If nil, errors are logged using slog.
	DestroyErrorHandler func(error)

	// Middlewares are functions that run after the request context is
	// active. The context carries the container, so they can resolve
	// request-scoped components before the handler runs.
	Middlewares []func(context.Context, *http.Request) error
}

// Option configures the scope middleware.
type Option func(*Config)

// WithErrorHandler sets the error handler for middleware failures.
func WithErrorHandler(h func(http.ResponseWriter, *http.Request, error)) Option {
	return func(c *Config) {
		c.ErrorHandler = h
	}
}

// WithDestroyErrorHandler sets the error handler for request context
// destruction failures.
func WithDestroyErrorHandler(h func(error)) Option {
	return func(c *Config) {
		c.DestroyErrorHandler = h
	}
}

// WithMiddleware adds a middleware function that runs after the request
// context is active. Multiple middlewares are executed in the order
// they are added.
func WithMiddleware(mw func(context.Context, *http.Request) error) Option {
	return func(c *Config) {
		c.Middlewares = append(c.Middlewares, mw)
	}
}

func defaultConfig() *Config {
	return &Config{
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			slog.Error("request middleware failed", "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		},
		DestroyErrorHandler: func(err error) {
			slog.Error("failed to destroy request context", "error", err)
		},
		Middlewares: nil,
	}
}

// ScopeMiddleware creates a chi-compatible middleware that activates a
// request-scoped context for each request. The context and the
// container are attached to the request's context.Context and can be
// reached through loom.FromContext.
//
// The request context is destroyed when the request completes, which
// disposes every request-scoped instance it created.
//
// Example:
//
//	r := chi.NewRouter()
//	r.Use(loomchi.ScopeMiddleware(container))
func ScopeMiddleware(container *loom.Container, opts ...Option) func(http.Handler) http.Handler {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc := loom.NewLocalContext(loom.RequestScoped)

			defer func() {
				if err := rc.Destroy(); err != nil {
					cfg.DestroyErrorHandler(err)
				}
			}()

			// Attach the active context and the container to the request
			ctx := loom.WithActive(r.Context(), rc)
			ctx = loom.WithContainer(ctx, container)
			r = r.WithContext(ctx)

			// Run middlewares
			for _, mw := range cfg.Middlewares {
				if err := mw(ctx, r); err != nil {
					cfg.ErrorHandler(w, r, err)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// HandlerConfig holds configuration for the Handle wrapper.
type HandlerConfig struct {
	// PanicRecovery enables panic recovery in the handler.
	// If true, panics are caught and handled by PanicHandler.
	PanicRecovery bool

	// PanicHandler is called when a panic occurs (if PanicRecovery is true).
	// If nil, a default handler returning 500 Internal Server Error is used.
	PanicHandler func(http.ResponseWriter, *http.Request, any)

	// ContainerErrorHandler is called when no container is attached to
	// the request context.
	// If nil, a default handler returning 500 Internal Server Error is used.
	ContainerErrorHandler func(http.ResponseWriter, *http.Request, error)

	// ResolutionErrorHandler is called when controller resolution fails.
	// If nil, a default handler returning 500 Internal Server Error is used.
	ResolutionErrorHandler func(http.ResponseWriter, *http.Request, error)
}

// HandlerOption configures the Handle wrapper.
type HandlerOption func(*HandlerConfig)

// WithPanicRecovery enables or disables panic recovery in the handler.
func WithPanicRecovery(enabled bool) HandlerOption {
	return func(c *HandlerConfig) {
		c.PanicRecovery = enabled
	}
}

// WithPanicHandler sets the handler for panics (requires WithPanicRecovery(true)).
func WithPanicHandler(h func(http.ResponseWriter, *http.Request, any)) HandlerOption {
	return func(c *HandlerConfig) {
		c.PanicHandler = h
	}
}

// WithContainerErrorHandler sets the error handler for a missing container.
func WithContainerErrorHandler(h func(http.ResponseWriter, *http.Request, error)) HandlerOption {
	return func(c *HandlerConfig) {
		c.ContainerErrorHandler = h
	}
}

// WithResolutionErrorHandler sets the error handler for controller resolution failures.
func WithResolutionErrorHandler(h func(http.ResponseWriter, *http.Request, error)) HandlerOption {
	return func(c *HandlerConfig) {
		c.ResolutionErrorHandler = h
	}
}

func defaultHandlerConfig() *HandlerConfig {
	return &HandlerConfig{
		PanicRecovery: false,
		PanicHandler: func(w http.ResponseWriter, r *http.Request, v any) {
			slog.Error("panic in handler", "panic", v)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		},
		ContainerErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			slog.Error("no container on request context", "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		},
		ResolutionErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			slog.Error("failed to resolve controller", "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		},
	}
}

// Handle wraps a controller method for type-safe resolution from the
// request context. The controller type T is resolved through the
// container attached to the request, so request-scoped controllers get
// one instance per request.
//
// The method signature should be: func(T, http.ResponseWriter, *http.Request)
//
// Example:
//
//	r.Get("/users/{id}", loomchi.Handle((*UserController).GetByID))
func Handle[T any](method func(T, http.ResponseWriter, *http.Request), opts ...HandlerOption) http.HandlerFunc {
	cfg := defaultHandlerConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.PanicRecovery {
			defer func() {
				if v := recover(); v != nil {
					cfg.PanicHandler(w, r, v)
				}
			}()
		}

		container, err := loom.FromContext(r.Context())
		if err != nil {
			cfg.ContainerErrorHandler(w, r, err)
			return
		}

		controller, err := loom.Instance[T](r.Context(), container)
		if err != nil {
			cfg.ResolutionErrorHandler(w, r, err)
			return
		}

		method(controller, w, r)
	}
}
