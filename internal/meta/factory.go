package meta

import (
	"fmt"
	"reflect"
)

// FactoryInfo is the analyzed shape of a producer factory function.
type FactoryInfo struct {
	Func     reflect.Value
	Type     reflect.Type
	Produces reflect.Type
	Params   []reflect.Type
	HasError bool
}

// AnalyzeFactory validates and analyzes a factory function. Factories
// take zero or more dependency parameters and return the produced value,
// optionally followed by an error.
func AnalyzeFactory(fn any) (*FactoryInfo, error) {
	if fn == nil {
		return nil, fmt.Errorf("factory function cannot be nil")
	}

	v := reflect.ValueOf(fn)
	t := v.Type()
	if t.Kind() != reflect.Func {
		return nil, fmt.Errorf("factory must be a function, got %s", t.Kind())
	}
	if t.IsVariadic() {
		return nil, fmt.Errorf("factory cannot be variadic")
	}

	switch t.NumOut() {
	case 1:
		if t.Out(0) == errorType {
			return nil, fmt.Errorf("factory must produce a value, not just an error")
		}
	case 2:
		if t.Out(1) != errorType {
			return nil, fmt.Errorf("factory's second return value must be error, got %s", t.Out(1))
		}
	default:
		return nil, fmt.Errorf("factory must return (T) or (T, error), got %d values", t.NumOut())
	}

	info := &FactoryInfo{
		Func:     v,
		Type:     t,
		Produces: t.Out(0),
		HasError: t.NumOut() == 2,
	}
	for i := 0; i < t.NumIn(); i++ {
		info.Params = append(info.Params, t.In(i))
	}
	return info, nil
}
