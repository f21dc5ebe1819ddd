// Package echo provides loom integration for the Echo web framework.
//
// ScopeMiddleware activates a fresh request context per request and
// attaches it, together with the container, to the underlying
// http.Request's context. Handle resolves controllers from that
// context so echo handlers never touch the container directly.
//
// Example usage:
//
//	container, _ := loom.New(loom.WithArchives(archive))
//	_ = container.Deploy(context.Background())
//
//	e := echo.New()
//	e.Use(loomecho.ScopeMiddleware(container))
//
//	e.POST("/login", loomecho.Handle((*AuthController).Login))
//	e.GET("/users/:id", loomecho.Handle((*UserController).GetByID))
package echo

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/loom-di/loom"
)

// Config holds the configuration for the scope middleware.
type Config struct {
	// ErrorHandler is called when a registered middleware fails.
	// If nil, a default handler returning 500 Internal Server Error is used.
	ErrorHandler func(echo.Context, error) error

	// DestroyErrorHandler is called when destroying the request context
	// fails. If nil, errors are logged using slog.
	DestroyErrorHandler func(error)

	// Middlewares are functions that run after the request context is
	// active. The context carries the container, so they can resolve
	// request-scoped components before the handler runs.
	Middlewares []func(context.Context, echo.Context) error
}

// Option configures the scope middleware.
type Option func(*Config)

// WithErrorHandler sets the error handler for middleware failures.
func WithErrorHandler(h func(echo.Context, error) error) Option {
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
func WithMiddleware(mw func(context.Context, echo.Context) error) Option {
	return func(c *Config) {
		c.Middlewares = append(c.Middlewares, mw)
	}
}

func defaultConfig() *Config {
	return &Config{
		ErrorHandler: func(c echo.Context, err error) error {
			slog.Error("request middleware failed", "error", err)
			return echo.NewHTTPError(http.StatusInternalServerError, "Internal Server Error")
		},
		DestroyErrorHandler: func(err error) {
			slog.Error("failed to destroy request context", "error", err)
		},
		Middlewares: nil,
	}
}

// ScopeMiddleware creates an Echo middleware that activates a
// request-scoped context for each request. The context and the
// container are attached to the request's context.Context and can be
// reached through loom.FromContext.
//
// The request context is destroyed when the request completes, which
// disposes every request-scoped instance it created.
//
// Example:
//
//	e := echo.New()
//	e.Use(loomecho.ScopeMiddleware(container))
func ScopeMiddleware(container *loom.Container, opts ...Option) echo.MiddlewareFunc {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rc := loom.NewLocalContext(loom.RequestScoped)

			defer func() {
				if err := rc.Destroy(); err != nil {
					cfg.DestroyErrorHandler(err)
				}
			}()

			// Attach the active context and the container to the request
			ctx := loom.WithActive(c.Request().Context(), rc)
			ctx = loom.WithContainer(ctx, container)
			c.SetRequest(c.Request().WithContext(ctx))

			// Run middlewares
			for _, mw := range cfg.Middlewares {
				if err := mw(ctx, c); err != nil {
					return cfg.ErrorHandler(c, err)
				}
			}

			return next(c)
		}
	}
}

// HandlerConfig holds configuration for the Handle wrapper.
type HandlerConfig struct {
	// PanicRecovery enables panic recovery in the handler.
	PanicRecovery bool

	// PanicHandler is called when a panic occurs (if PanicRecovery is true).
	PanicHandler func(echo.Context, any) error

	// ContainerErrorHandler is called when no container is attached to
	// the request context.
	ContainerErrorHandler func(echo.Context, error) error

	// ResolutionErrorHandler is called when controller resolution fails.
	ResolutionErrorHandler func(echo.Context, error) error
}

// HandlerOption configures the Handle wrapper.
type HandlerOption func(*HandlerConfig)

// WithPanicRecovery enables or disables panic recovery in the handler.
func WithPanicRecovery(enabled bool) HandlerOption {
	return func(c *HandlerConfig) {
		c.PanicRecovery = enabled
	}
}

// WithPanicHandler sets the handler for panics.
func WithPanicHandler(h func(echo.Context, any) error) HandlerOption {
	return func(c *HandlerConfig) {
		c.PanicHandler = h
	}
}

// WithContainerErrorHandler sets the error handler for a missing container.
func WithContainerErrorHandler(h func(echo.Context, error) error) HandlerOption {
	return func(c *HandlerConfig) {
		c.ContainerErrorHandler = h
	}
}

// WithResolutionErrorHandler sets the error handler for controller resolution failures.
func WithResolutionErrorHandler(h func(echo.Context, error) error) HandlerOption {
	return func(c *HandlerConfig) {
		c.ResolutionErrorHandler = h
	}
}

func defaultHandlerConfig() *HandlerConfig {
	return &HandlerConfig{
		PanicRecovery: false,
		PanicHandler: func(c echo.Context, v any) error {
			slog.Error("panic in handler", "panic", v)
			return echo.NewHTTPError(http.StatusInternalServerError, "Internal Server Error")
		},
		ContainerErrorHandler: func(c echo.Context, err error) error {
			slog.Error("no container on request context", "error", err)
			return echo.NewHTTPError(http.StatusInternalServerError, "Internal Server Error")
		},
		ResolutionErrorHandler: func(c echo.Context, err error) error {
			slog.Error("failed to resolve controller", "error", err)
			return echo.NewHTTPError(http.StatusInternalServerError, "Internal Server Error")
		},
	}
}

// Handle wraps a controller method for type-safe resolution from the
// request context. The controller type T is resolved through the
// container attached to the request, so request-scoped controllers get
// one instance per request.
//
// The method signature should be: func(T, echo.Context) error
//
// Example:
//
//	e.GET("/users/:id", loomecho.Handle((*UserController).GetByID))
func Handle[T any](method func(T, echo.Context) error, opts ...HandlerOption) echo.HandlerFunc {
	cfg := defaultHandlerConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	return func(c echo.Context) (err error) {
		if cfg.PanicRecovery {
			defer func() {
				if v := recover(); v != nil {
					err = cfg.PanicHandler(c, v)
				}
			}()
		}

		container, containerErr := loom.FromContext(c.Request().Context())
		if containerErr != nil {
			return cfg.ContainerErrorHandler(c, containerErr)
		}

		controller, resolveErr := loom.Instance[T](c.Request().Context(), container)
		if resolveErr != nil {
			return cfg.ResolutionErrorHandler(c, resolveErr)
		}

		return method(controller, c)
	}
}
