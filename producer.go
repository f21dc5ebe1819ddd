package loom

import (
	"context"
	"fmt"
	"reflect"
)

// InjectionTarget is the instantiation strategy of one component: how raw
// instances are produced, how their injection points are filled, and how
// lifecycle callbacks run. The definition engine builds a default target
// for every component it defines; a process-injection-target observer may
// install a custom one, which then takes precedence.
type InjectionTarget interface {
	// Produce allocates an uninjected instance.
	Produce(ctx context.Context, src InstanceSource) (any, error)

	// Inject fills the instance's injection points. Delegate fields are
	// left alone; the decorator chain wires them at creation.
	Inject(ctx context.Context, src InstanceSource, instance any) error

	// PostConstruct runs after every injection point is filled.
	PostConstruct(instance any) error

	// PreDestroy runs when the owning context destroys the instance.
	PreDestroy(instance any) error
}

// InstanceSource supplies dependency instances while an injection target
// fills injection points. The container implements it; custom targets
// should resolve every dependency through it so dependent-scoped
// dependencies stay tied to their owner's disposal.
type InstanceSource interface {
	// InstanceFor resolves and instantiates the dependency of one
	// injection point. Optional injection points that resolve to nothing
	// yield (nil, nil).
	InstanceFor(ctx context.Context, ip InjectionPoint) (any, error)
}

// managedTarget is the default injection target for managed components,
// decorators, interceptors and enterprise components: allocate the
// declaring struct, fill tagged fields, run the capability callbacks.
type managedTarget struct {
	component *Component
}

func newManagedTarget(c *Component) *managedTarget {
	return &managedTarget{component: c}
}

func (t *managedTarget) Produce(ctx context.Context, _ InstanceSource) (any, error) {
	return reflect.New(t.component.Type).Interface(), nil
}

func (t *managedTarget) Inject(ctx context.Context, src InstanceSource, instance any) error {
	v := reflect.ValueOf(instance)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return ConfigurationError{
			Component: t.component,
			Reason:    fmt.Sprintf("injection target expects a struct pointer, got %T", instance),
		}
	}
	elem := v.Elem()

	for _, ip := range t.component.InjectionPoints {
		if ip.Delegate {
			continue
		}

		dep, err := src.InstanceFor(ctx, ip)
		if err != nil {
			return fmt.Errorf("injection point %s: %w", ip, err)
		}
		if dep == nil {
			// Optional and unsatisfied: the field stays zero.
			continue
		}

		field := elem.FieldByIndex(ip.FieldIndex)
		dv := reflect.ValueOf(dep)
		switch {
		case dv.Type().AssignableTo(field.Type()):
			field.Set(dv)
		case dv.Kind() == reflect.Pointer && dv.Type().Elem().AssignableTo(field.Type()):
			// Value-typed field fed from a pointer instance receives a
			// copy, not a shared reference.
			field.Set(dv.Elem())
		default:
			return ConfigurationError{
				Component: t.component,
				Reason:    fmt.Sprintf("injection point %s: %s is not assignable to %s", ip, dv.Type(), field.Type()),
			}
		}
	}
	return nil
}

func (t *managedTarget) PostConstruct(instance any) error {
	init, ok := instance.(Initializer)
	if !ok {
		return nil
	}
	if err := init.Init(); err != nil {
		return fmt.Errorf("init %s: %w", formatType(t.component.Type), err)
	}
	return nil
}

func (t *managedTarget) PreDestroy(instance any) error {
	if closer, ok := instance.(Disposable); ok {
		return closer.Close()
	}
	return nil
}

// factoryTarget instantiates producer components backed by a factory
// function. Factory parameters behave like injection points: they are
// resolved through the InstanceSource in declaration order.
type factoryTarget struct {
	component *Component
	fn        reflect.Value
	hasError  bool
}

func (t *factoryTarget) Produce(ctx context.Context, src InstanceSource) (any, error) {
	args := make([]reflect.Value, 0, len(t.component.InjectionPoints))
	for _, ip := range t.component.InjectionPoints {
		dep, err := src.InstanceFor(ctx, ip)
		if err != nil {
			return nil, fmt.Errorf("factory argument %s: %w", formatType(ip.Type), err)
		}
		if dep == nil {
			args = append(args, reflect.Zero(ip.Type))
			continue
		}
		dv := reflect.ValueOf(dep)
		if !dv.Type().AssignableTo(ip.Type) {
			if dv.Kind() == reflect.Pointer && dv.Type().Elem().AssignableTo(ip.Type) {
				dv = dv.Elem()
			} else {
				return nil, ConfigurationError{
					Component: t.component,
					Reason:    fmt.Sprintf("factory argument %s: %s is not assignable", formatType(ip.Type), dv.Type()),
				}
			}
		}
		args = append(args, dv)
	}

	out := t.fn.Call(args)
	if t.hasError {
		if err, _ := out[1].Interface().(error); err != nil {
			return nil, fmt.Errorf("factory for %s: %w", formatType(t.component.Type), err)
		}
	}

	produced := out[0]
	if isNilValue(produced) {
		return nil, ConfigurationError{
			Component: t.component,
			Reason:    "factory produced nil",
			Cause:     ErrInstanceNil,
		}
	}
	return produced.Interface(), nil
}

// Inject is a no-op: factories wire their own dependencies as arguments.
func (t *factoryTarget) Inject(context.Context, InstanceSource, any) error {
	return nil
}

// PostConstruct is a no-op: factories return ready instances.
func (t *factoryTarget) PostConstruct(any) error {
	return nil
}

func (t *factoryTarget) PreDestroy(instance any) error {
	if closer, ok := instance.(Disposable); ok {
		return closer.Close()
	}
	return nil
}

// instanceTarget wraps a pre-built instance registered by the
// application. The container never created it, so it runs no lifecycle
// callbacks: the instance may be shared beyond the container.
type instanceTarget struct {
	value any
}

func (t *instanceTarget) Produce(context.Context, InstanceSource) (any, error) {
	return t.value, nil
}

func (t *instanceTarget) Inject(context.Context, InstanceSource, any) error {
	return nil
}

func (t *instanceTarget) PostConstruct(any) error {
	return nil
}

func (t *instanceTarget) PreDestroy(any) error {
	return nil
}

// isNilValue reports whether a produced reflect.Value holds nil for the
// kinds that can.
func isNilValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
		return v.IsNil()
	default:
		return false
	}
}
