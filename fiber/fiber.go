// Package fiber provides loom integration for the Fiber web framework.
//
// ScopeMiddleware activates a fresh request context per request,
// stores it in fiber.Ctx.Locals and attaches it, together with the
// container, to the UserContext. Handle resolves controllers from the
// UserContext so fiber handlers never touch the container directly.
//
// Example usage:
//
//	container, _ := loom.New(loom.WithArchives(archive))
//	_ = container.Deploy(context.Background())
//
//	app := fiber.New()
//	app.Use(loomfiber.ScopeMiddleware(container))
//
//	app.Post("/login", loomfiber.Handle((*AuthController).Login))
//	app.Get("/users/:id", loomfiber.Handle((*UserController).GetByID))
package fiber

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/loom-di/loom"
)

// contextKey is the key used to store the request context in
// fiber.Ctx.Locals.
const contextKey = "loom_request_context"

// Config holds the configuration for the scope middleware.
type Config struct {
	// ErrorHandler is called when a registered middleware fails.
	// If nil, a default handler returning 500 Internal Server Error is used.
	ErrorHandler func(*fiber.Ctx, error) error

	// DestroyErrorHandler is called when destroying the request context
	// fails. If nil, errors are logged using slog.
	DestroyErrorHandler func(error)

	// Middlewares are functions that run after the request context is
	// active. The context carries the container, so they can resolve
	// request-scoped components before the handler runs.
	Middlewares []func(context.Context, *fiber.Ctx) error
}

// Option configures the scope middleware.
type Option func(*Config)

// WithErrorHandler sets the error handler for middleware failures.
func WithErrorHandler(h func(*fiber.Ctx, error) error) Option {
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
func WithMiddleware(mw func(context.Context, *fiber.Ctx) error) Option {
	return func(c *Config) {
		c.Middlewares = append(c.Middlewares, mw)
	}
}

func defaultConfig() *Config {
	return &Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			slog.Error("request middleware failed", "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Internal Server Error",
			})
		},
		DestroyErrorHandler: func(err error) {
			slog.Error("failed to destroy request context", "error", err)
		},
		Middlewares: nil,
	}
}

// ScopeMiddleware creates a Fiber middleware that activates a
// request-scoped context for each request. The context is stored in
// fiber.Ctx.Locals and attached, together with the container, to the
// UserContext, where loom.FromContext can reach it.
//
// The request context is destroyed when the request completes, which
// disposes every request-scoped instance it created. Fiber recycles
// its ctx objects, so destruction happens explicitly after Next
// instead of in a defer.
//
// Example:
//
//	app := fiber.New()
//	app.Use(loomfiber.ScopeMiddleware(container))
func ScopeMiddleware(container *loom.Container, opts ...Option) fiber.Handler {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	return func(c *fiber.Ctx) error {
		rc := loom.NewLocalContext(loom.RequestScoped)

		// Attach the active context and the container to the request
		ctx := loom.WithActive(c.UserContext(), rc)
		ctx = loom.WithContainer(ctx, container)
		c.SetUserContext(ctx)
		c.Locals(contextKey, rc)

		// Run middlewares
		for _, mw := range cfg.Middlewares {
			if err := mw(ctx, c); err != nil {
				if derr := rc.Destroy(); derr != nil {
					cfg.DestroyErrorHandler(derr)
				}
				return cfg.ErrorHandler(c, err)
			}
		}

		// Execute handler chain
		err := c.Next()

		// Destroy the request context after the request completes
		if derr := rc.Destroy(); derr != nil {
			cfg.DestroyErrorHandler(derr)
		}

		return err
	}
}

// RequestContext returns the request-scoped context stored by
// ScopeMiddleware, or nil when the middleware is not installed. It
// gives handlers direct access to the context's lifecycle, for
// example to deactivate it mid-request.
func RequestContext(c *fiber.Ctx) *loom.LocalContext {
	rc, _ := c.Locals(contextKey).(*loom.LocalContext)
	return rc
}

// HandlerConfig holds configuration for the Handle wrapper.
type HandlerConfig struct {
	// PanicRecovery enables panic recovery in the handler.
	PanicRecovery bool

	// PanicHandler is called when a panic occurs (if PanicRecovery is true).
	PanicHandler func(*fiber.Ctx, any) error

	// ContainerErrorHandler is called when no container is attached to
	// the UserContext.
	ContainerErrorHandler func(*fiber.Ctx, error) error

	// ResolutionErrorHandler is called when controller resolution fails.
	ResolutionErrorHandler func(*fiber.Ctx, error) error
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
func WithPanicHandler(h func(*fiber.Ctx, any) error) HandlerOption {
	return func(c *HandlerConfig) {
		c.PanicHandler = h
	}
}

// WithContainerErrorHandler sets the error handler for a missing container.
func WithContainerErrorHandler(h func(*fiber.Ctx, error) error) HandlerOption {
	return func(c *HandlerConfig) {
		c.ContainerErrorHandler = h
	}
}

// WithResolutionErrorHandler sets the error handler for controller resolution failures.
func WithResolutionErrorHandler(h func(*fiber.Ctx, error) error) HandlerOption {
	return func(c *HandlerConfig) {
		c.ResolutionErrorHandler = h
	}
}

func defaultHandlerConfig() *HandlerConfig {
	return &HandlerConfig{
		PanicRecovery: false,
		PanicHandler: func(c *fiber.Ctx, v any) error {
			slog.Error("panic in handler", "panic", v)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Internal Server Error",
			})
		},
		ContainerErrorHandler: func(c *fiber.Ctx, err error) error {
			slog.Error("no container on request context", "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Internal Server Error",
			})
		},
		ResolutionErrorHandler: func(c *fiber.Ctx, err error) error {
			slog.Error("failed to resolve controller", "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Internal Server Error",
			})
		},
	}
}

// Handle wraps a controller method for type-safe resolution from the
// request context. The controller type T is resolved through the
// container attached to the UserContext, so request-scoped controllers
// get one instance per request.
//
// The method signature should be: func(T, *fiber.Ctx) error
//
// Example:
//
//	app.Get("/users/:id", loomfiber.Handle((*UserController).GetByID))
func Handle[T any](method func(T, *fiber.Ctx) error, opts ...HandlerOption) fiber.Handler {
	cfg := defaultHandlerConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	return func(c *fiber.Ctx) (err error) {
		if cfg.PanicRecovery {
			defer func() {
				if v := recover(); v != nil {
					err = cfg.PanicHandler(c, v)
				}
			}()
		}

		container, containerErr := loom.FromContext(c.UserContext())
		if containerErr != nil {
			return cfg.ContainerErrorHandler(c, containerErr)
		}

		controller, resolveErr := loom.Instance[T](c.UserContext(), container)
		if resolveErr != nil {
			return cfg.ResolutionErrorHandler(c, resolveErr)
		}

		return method(controller, c)
	}
}
