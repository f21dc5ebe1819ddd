package loom

import (
	"context"
	"reflect"
)

// TypeOf returns the reflect.Type for T, including interface types.
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Instance resolves and returns an instance assignable to T.
//
// Example:
//
//	gateway, err := loom.Instance[PaymentGateway](ctx, container)
//	if err != nil {
//		return err
//	}
//	gateway.Charge(order)
func Instance[T any](ctx context.Context, c *Container, quals ...Qualifier) (T, error) {
	var zero T

	if c == nil {
		return zero, ErrNoContainer
	}

	contract := TypeOf[T]()
	instance, err := c.Instance(ctx, contract, quals...)
	if err != nil {
		return zero, err
	}

	result, ok := instance.(T)
	if !ok {
		return zero, TypeMismatchError{
			Expected: contract,
			Actual:   reflect.TypeOf(instance),
		}
	}
	return result, nil
}

// MustInstance is Instance that panics on error. Useful during
// application startup where a missing component is fatal.
func MustInstance[T any](ctx context.Context, c *Container, quals ...Qualifier) T {
	instance, err := Instance[T](ctx, c, quals...)
	if err != nil {
		panic(err)
	}
	return instance
}

// InstanceNamed resolves a component by name and returns its instance
// as T.
func InstanceNamed[T any](ctx context.Context, c *Container, name string) (T, error) {
	var zero T

	if c == nil {
		return zero, ErrNoContainer
	}

	instance, err := c.InstanceByName(ctx, name)
	if err != nil {
		return zero, err
	}

	result, ok := instance.(T)
	if !ok {
		return zero, TypeMismatchError{
			Expected: TypeOf[T](),
			Actual:   reflect.TypeOf(instance),
		}
	}
	return result, nil
}

// ResolveComponent returns the component that Instance[T] would use,
// without creating an instance.
func ResolveComponent[T any](c *Container, quals ...Qualifier) (*Component, error) {
	if c == nil {
		return nil, ErrNoContainer
	}
	return c.Resolve(TypeOf[T](), quals...)
}
