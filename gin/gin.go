// Package gin provides loom integration for the Gin web framework.
//
// ScopeMiddleware activates a fresh request context per request and
// attaches it, together with the container, to the underlying
// http.Request's context. Handle resolves controllers from that
// context so gin handlers never touch the container directly.
//
// Example usage:
//
//	container, _ := loom.New(loom.WithArchives(archive))
//	_ = container.Deploy(context.Background())
//
//	g := gin.New()
//	g.Use(loomgin.ScopeMiddleware(container))
//
//	g.POST("/login", loomgin.Handle((*AuthController).Login))
//	g.GET("/users/:id", loomgin.Handle((*UserController).GetByID))
package gin

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/loom-di/loom"
)

// Config holds the configuration for the scope middleware.
type Config struct {
	// ErrorHandler is called when a registered middleware fails.
	// If nil, a default handler returning 500 Internal Server Error is used.
	ErrorHandler func(*gin.Context, error)

	// DestroyErrorHandler is called when destroying the request context
	// fails. If nil, errors are logged using slog.
	DestroyErrorHandler func(error)

	// Middlewares are functions that run after the request context is
	// active. The context carries the container, so they can resolve
	// request-scoped components before the handler runs.
	Middlewares []func(context.Context, *gin.Context) error
}

// Option configures the scope middleware.
type Option func(*Config)

// WithErrorHandler sets the error handler for middleware failures.
func WithErrorHandler(h func(*gin.Context, error)) Option {
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
//
// Example:
//
//	loomgin.ScopeMiddleware(container,
//	    loomgin.WithMiddleware(func(ctx context.Context, c *gin.Context) error {
//	        session, err := loom.Instance[*Session](ctx, container)
//	        if err != nil {
//	            return err
//	        }
//	        session.BindUser(c.GetHeader("Authorization"))
//	        return nil
//	    }),
//	)
func WithMiddleware(mw func(context.Context, *gin.Context) error) Option {
	return func(c *Config) {
		c.Middlewares = append(c.Middlewares, mw)
	}
}

func defaultConfig() *Config {
	return &Config{
		ErrorHandler: func(c *gin.Context, err error) {
			slog.Error("request middleware failed", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Internal Server Error",
			})
		},
		DestroyErrorHandler: func(err error) {
			slog.Error("failed to destroy request context", "error", err)
		},
		Middlewares: nil,
	}
}

// ScopeMiddleware creates a Gin middleware that activates a
// request-scoped context for each request. The context and the
// container are attached to the request's context.Context and can be
// reached through loom.FromContext.
//
// The request context is destroyed when the request completes, which
// disposes every request-scoped instance it created.
//
// Example:
//
//	g := gin.New()
//	g.Use(loomgin.ScopeMiddleware(container))
func ScopeMiddleware(container *loom.Container, opts ...Option) gin.HandlerFunc {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	return func(c *gin.Context) {
		rc := loom.NewLocalContext(loom.RequestScoped)

		defer func() {
			if err := rc.Destroy(); err != nil {
				cfg.DestroyErrorHandler(err)
			}
		}()

		// Attach the active context and the container to the request
		ctx := loom.WithActive(c.Request.Context(), rc)
		ctx = loom.WithContainer(ctx, container)
		c.Request = c.Request.WithContext(ctx)

		// Run middlewares
		for _, mw := range cfg.Middlewares {
			if err := mw(ctx, c); err != nil {
				cfg.ErrorHandler(c, err)
				return
			}
		}

		c.Next()
	}
}

// HandlerConfig holds configuration for the Handle wrapper.
type HandlerConfig struct {
	// PanicRecovery enables panic recovery in the handler.
	// If true, panics are caught and handled by PanicHandler.
	PanicRecovery bool

	// PanicHandler is called when a panic occurs (if PanicRecovery is true).
	// If nil, a default handler returning 500 Internal Server Error is used.
	PanicHandler func(*gin.Context, any)

	// ContainerErrorHandler is called when no container is attached to
	// the request context.
	// If nil, a default handler returning 500 Internal Server Error is used.
	ContainerErrorHandler func(*gin.Context, error)

	// ResolutionErrorHandler is called when controller resolution fails.
	// If nil, a default handler returning 500 Internal Server Error is used.
	ResolutionErrorHandler func(*gin.Context, error)
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
func WithPanicHandler(h func(*gin.Context, any)) HandlerOption {
	return func(c *HandlerConfig) {
		c.PanicHandler = h
	}
}

// WithContainerErrorHandler sets the error handler for a missing container.
func WithContainerErrorHandler(h func(*gin.Context, error)) HandlerOption {
	return func(c *HandlerConfig) {
		c.ContainerErrorHandler = h
	}
}

// WithResolutionErrorHandler sets the error handler for controller resolution failures.
func WithResolutionErrorHandler(h func(*gin.Context, error)) HandlerOption {
	return func(c *HandlerConfig) {
		c.ResolutionErrorHandler = h
	}
}

func defaultHandlerConfig() *HandlerConfig {
	return &HandlerConfig{
		PanicRecovery: false,
		PanicHandler: func(c *gin.Context, v any) {
			slog.Error("panic in handler", "panic", v)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Internal Server Error",
			})
		},
		ContainerErrorHandler: func(c *gin.Context, err error) {
			slog.Error("no container on request context", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Internal Server Error",
			})
		},
		ResolutionErrorHandler: func(c *gin.Context, err error) {
			slog.Error("failed to resolve controller", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Internal Server Error",
			})
		},
	}
}

// Handle wraps a controller method for type-safe resolution from the
// request context. The controller type T is resolved through the
// container attached to the request, so request-scoped controllers get
// one instance per request.
//
// The method signature should be: func(T, *gin.Context)
//
// Example:
//
//	g.GET("/users/:id", loomgin.Handle((*UserController).GetByID))
func Handle[T any](method func(T, *gin.Context), opts ...HandlerOption) gin.HandlerFunc {
	cfg := defaultHandlerConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	return func(c *gin.Context) {
		if cfg.PanicRecovery {
			defer func() {
				if v := recover(); v != nil {
					cfg.PanicHandler(c, v)
				}
			}()
		}

		container, err := loom.FromContext(c.Request.Context())
		if err != nil {
			cfg.ContainerErrorHandler(c, err)
			return
		}

		controller, err := loom.Instance[T](c.Request.Context(), container)
		if err != nil {
			cfg.ResolutionErrorHandler(c, err)
			return
		}

		method(controller, c)
	}
}
