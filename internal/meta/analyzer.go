package meta

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// NotStructError indicates a candidate type is not a struct.
type NotStructError struct {
	Type reflect.Type
}

func (e NotStructError) Error() string {
	return fmt.Sprintf("candidate %s is not a struct type", TypeName(e.Type))
}

// MultipleMarkersError indicates a type embeds more than one marker.
type MultipleMarkersError struct {
	Type reflect.Type
}

func (e MultipleMarkersError) Error() string {
	return fmt.Sprintf("%s declares more than one component marker", TypeName(e.Type))
}

// TagError indicates an unparseable or contradictory struct tag.
type TagError struct {
	Type   reflect.Type
	Field  string
	Reason string
}

func (e TagError) Error() string {
	return fmt.Sprintf("%s.%s: %s", TypeName(e.Type), e.Field, e.Reason)
}

// Analyzer extracts TypeMeta from struct types. Analysis results are
// cached; callers that mutate a result must Clone it first.
type Analyzer struct {
	mu    sync.RWMutex
	cache map[reflect.Type]*TypeMeta
}

// NewAnalyzer creates an analyzer with an empty cache.
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		cache: make(map[reflect.Type]*TypeMeta),
	}
}

// Analyze extracts metadata for t. Pointer types are normalized to their
// element; anything that is not a struct fails with NotStructError.
func (a *Analyzer) Analyze(t reflect.Type) (*TypeMeta, error) {
	if t == nil {
		return nil, NotStructError{Type: nil}
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, NotStructError{Type: t}
	}

	a.mu.RLock()
	cached, ok := a.cache[t]
	a.mu.RUnlock()
	if ok {
		return cached, nil
	}

	m, err := analyzeStruct(t)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.cache[t] = m
	a.mu.Unlock()

	return m, nil
}

func analyzeStruct(t reflect.Type) (*TypeMeta, error) {
	m := &TypeMeta{Type: t, Kind: KindNone}

	delegates := 0
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		switch {
		case isMarkerField(field):
			kind := markerKind(field.Type)
			if m.Kind != KindNone {
				return nil, MultipleMarkersError{Type: t}
			}
			m.Kind = kind
			if err := parseMarkerTag(t, field, m); err != nil {
				return nil, err
			}

		case isContractField(field):
			ct, err := contractType(field.Type)
			if err != nil {
				return nil, TagError{Type: t, Field: field.Name, Reason: err.Error()}
			}
			m.Contracts = append(m.Contracts, ct)

		case field.Anonymous && isEmbeddedStruct(field.Type):
			super := embeddedElem(field.Type)
			if m.SuperType == nil {
				m.SuperType = super
			}
			m.SuperChain = appendChain(m.SuperChain, super)
			if field.PkgPath == "" && field.Type.Kind() == reflect.Struct {
				if err := hoistInherited(field.Type, field.Index, m); err != nil {
					return nil, err
				}
			}

		default:
			fm, inject, err := parseFieldTag(t, field)
			if err != nil {
				return nil, err
			}
			if !inject {
				continue
			}
			if fm.Delegate {
				delegates++
				if delegates > 1 {
					return nil, TagError{Type: t, Field: field.Name, Reason: "more than one delegate field"}
				}
			}
			m.Fields = append(m.Fields, fm)
		}
	}

	return m, nil
}

func isMarkerField(f reflect.StructField) bool {
	return f.Anonymous && markerKind(f.Type) != KindNone
}

func markerKind(t reflect.Type) Kind {
	switch t {
	case managedType:
		return KindManaged
	case decoratorType:
		return KindDecorator
	case interceptorType:
		return KindInterceptor
	default:
		return KindNone
	}
}

func isContractField(f reflect.StructField) bool {
	t := f.Type
	return t.PkgPath() == metaPkgPath && strings.HasPrefix(t.Name(), "As[")
}

// contractType calls ContractType on the zero value of an As[T] field
// type to recover T.
func contractType(t reflect.Type) (reflect.Type, error) {
	method := reflect.New(t).Elem().MethodByName("ContractType")
	if !method.IsValid() {
		return nil, fmt.Errorf("malformed contract marker %s", t)
	}
	out := method.Call(nil)
	rt, ok := out[0].Interface().(reflect.Type)
	if !ok || rt == nil {
		return nil, fmt.Errorf("contract marker %s produced no type", t)
	}
	return rt, nil
}

func isEmbeddedStruct(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct
}

func embeddedElem(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Pointer {
		return t.Elem()
	}
	return t
}

// hoistInherited promotes the inject-tagged fields of an embedded
// ancestor so inherited injection points fill through the embedding
// type. Delegates are not inherited: a decorator declares its own.
// Pointer embeds are excluded; their fields cannot be set before the
// pointer is allocated.
func hoistInherited(super reflect.Type, prefix []int, m *TypeMeta) error {
	for i := 0; i < super.NumField(); i++ {
		field := super.Field(i)
		switch {
		case isMarkerField(field) || isContractField(field):
			continue

		case field.Anonymous && field.PkgPath == "" && field.Type.Kind() == reflect.Struct:
			nested := make([]int, 0, len(prefix)+1)
			nested = append(append(nested, prefix...), i)
			if err := hoistInherited(field.Type, nested, m); err != nil {
				return err
			}

		default:
			fm, inject, err := parseFieldTag(super, field)
			if err != nil {
				return err
			}
			if !inject || fm.Delegate {
				continue
			}
			fm.Index = make([]int, 0, len(prefix)+1)
			fm.Index = append(append(fm.Index, prefix...), i)
			m.Fields = append(m.Fields, fm)
		}
	}
	return nil
}

// appendChain adds super and its own embedded ancestors, nearest first,
// skipping duplicates from diamond embedding.
func appendChain(chain []reflect.Type, super reflect.Type) []reflect.Type {
	for _, seen := range chain {
		if seen == super {
			return chain
		}
	}
	chain = append(chain, super)
	for i := 0; i < super.NumField(); i++ {
		field := super.Field(i)
		if field.Anonymous && !isMarkerField(field) && !isContractField(field) && isEmbeddedStruct(field.Type) {
			chain = appendChain(chain, embeddedElem(field.Type))
		}
	}
	return chain
}

func parseMarkerTag(t reflect.Type, field reflect.StructField, m *TypeMeta) error {
	tag := field.Tag

	m.ScopeName = tag.Get("scope")
	m.Name = tag.Get("name")

	quals, err := ParseQualifiers(tag.Get("qualifiers"))
	if err != nil {
		return TagError{Type: t, Field: field.Name, Reason: err.Error()}
	}
	m.Quals = quals

	m.Stereotypes = parseList(tag.Get("stereotypes"))
	m.Bindings = parseList(tag.Get("bindings"))

	if m.Alternative, err = parseBool(tag, "alternative"); err != nil {
		return TagError{Type: t, Field: field.Name, Reason: err.Error()}
	}
	if m.Specializes, err = parseBool(tag, "specializes"); err != nil {
		return TagError{Type: t, Field: field.Name, Reason: err.Error()}
	}

	return nil
}

func parseFieldTag(t reflect.Type, field reflect.StructField) (FieldMeta, bool, error) {
	_, hasInject := field.Tag.Lookup("inject")
	_, hasDelegate := field.Tag.Lookup("delegate")
	if !hasInject && !hasDelegate {
		return FieldMeta{}, false, nil
	}
	if hasInject && hasDelegate {
		return FieldMeta{}, false, TagError{Type: t, Field: field.Name, Reason: `field carries both inject and delegate tags`}
	}
	if field.PkgPath != "" {
		return FieldMeta{}, false, TagError{Type: t, Field: field.Name, Reason: "injection fields must be exported"}
	}

	quals, err := ParseQualifiers(field.Tag.Get("qualifiers"))
	if err != nil {
		return FieldMeta{}, false, TagError{Type: t, Field: field.Name, Reason: err.Error()}
	}

	optional, err := parseBool(field.Tag, "optional")
	if err != nil {
		return FieldMeta{}, false, TagError{Type: t, Field: field.Name, Reason: err.Error()}
	}
	if hasDelegate && optional {
		return FieldMeta{}, false, TagError{Type: t, Field: field.Name, Reason: "delegate fields cannot be optional"}
	}

	return FieldMeta{
		Name:     field.Name,
		Index:    field.Index,
		Type:     field.Type,
		Quals:    quals,
		Optional: optional,
		Delegate: hasDelegate,
	}, true, nil
}

// ParseQualifiers parses a comma-separated qualifier list, "name" or
// "name=value" per entry. Exported because the declarative configuration
// reader shares the syntax.
func ParseQualifiers(s string) ([]Qual, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	quals := make([]Qual, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("empty qualifier entry in %q", s)
		}
		name, value, _ := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		if name == "" {
			return nil, fmt.Errorf("qualifier %q has no name", part)
		}
		quals = append(quals, Qual{Name: name, Value: value})
	}
	return quals, nil
}

func parseList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBool(tag reflect.StructTag, key string) (bool, error) {
	v, ok := tag.Lookup(key)
	if !ok {
		return false, nil
	}
	switch v {
	case "true":
		return true, nil
	case "false", "":
		return false, nil
	default:
		return false, fmt.Errorf("%s tag must be %q or %q, got %q", key, "true", "false", v)
	}
}
