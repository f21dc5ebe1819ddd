package loom

import (
	"sort"
	"strings"
)

// Qualifier distinguishes components that share a contract type.
// A qualifier is a small value: a name and an optional member value,
// so "reliable" and "tier=gold" are both valid qualifiers.
type Qualifier struct {
	Name  string
	Value string
}

// Builtin qualifiers.
//
// Any is carried implicitly by every component. Default is carried by
// components that declare no qualifiers of their own, and is what an
// empty request resolves against.
var (
	Default = Qualifier{Name: "default"}
	Any     = Qualifier{Name: "any"}
)

// Qual returns a member-less qualifier with the given name.
func Qual(name string) Qualifier {
	return Qualifier{Name: name}
}

// QualValue returns a qualifier with a member value, as in "tier=gold".
func QualValue(name, value string) Qualifier {
	return Qualifier{Name: name, Value: value}
}

// String returns "name" or "name=value".
func (q Qualifier) String() string {
	if q.Value == "" {
		return q.Name
	}
	return q.Name + "=" + q.Value
}

// qualifierSet is the working representation for superset matching.
type qualifierSet map[Qualifier]struct{}

func newQualifierSet(quals []Qualifier) qualifierSet {
	set := make(qualifierSet, len(quals))
	for _, q := range quals {
		set[q] = struct{}{}
	}
	return set
}

// hasExplicitQualifier reports whether the list declares any qualifier
// besides the implicit Any.
func hasExplicitQualifier(quals []Qualifier) bool {
	for _, q := range quals {
		if q != Any {
			return true
		}
	}
	return false
}

// effectiveQualifiers returns the declared qualifiers plus the implicit
// ones: Any always, Default only when nothing besides Any was declared.
func effectiveQualifiers(declared []Qualifier) qualifierSet {
	set := make(qualifierSet, len(declared)+2)
	for _, q := range declared {
		set[q] = struct{}{}
	}
	set[Any] = struct{}{}
	if !hasExplicitQualifier(declared) {
		set[Default] = struct{}{}
	}
	return set
}

// matchesQualifiers reports whether a component's effective qualifier set
// satisfies the requested qualifiers. An empty request means Default.
func matchesQualifiers(effective qualifierSet, requested []Qualifier) bool {
	if len(requested) == 0 {
		_, ok := effective[Default]
		return ok
	}
	for _, q := range requested {
		if _, ok := effective[q]; !ok {
			return false
		}
	}
	return true
}

// containsAllQualifiers reports whether every qualifier in want appears in
// the effective set. Unlike matchesQualifiers, an empty want always matches;
// decorator delegates use this form.
func containsAllQualifiers(effective qualifierSet, want []Qualifier) bool {
	for _, q := range want {
		if _, ok := effective[q]; !ok {
			return false
		}
	}
	return true
}

// mergeQualifiers returns dst with every qualifier from src that dst does
// not already carry, preserving dst's declared order.
func mergeQualifiers(dst, src []Qualifier) []Qualifier {
	seen := newQualifierSet(dst)
	for _, q := range src {
		if _, ok := seen[q]; !ok {
			dst = append(dst, q)
			seen[q] = struct{}{}
		}
	}
	return dst
}

// formatQualifiers renders a deterministic, human-readable qualifier list
// for error messages.
func formatQualifiers(quals []Qualifier) string {
	if len(quals) == 0 {
		return "[default]"
	}
	names := make([]string, len(quals))
	for i, q := range quals {
		names[i] = q.String()
	}
	sort.Strings(names)
	return "[" + strings.Join(names, ", ") + "]"
}

// qualifierCacheKey renders a canonical key fragment for resolver
// memoization. Order-insensitive so Resolve(t, a, b) and Resolve(t, b, a)
// share an entry.
func qualifierCacheKey(quals []Qualifier) string {
	if len(quals) == 0 {
		return ""
	}
	names := make([]string, len(quals))
	for i, q := range quals {
		names[i] = q.String()
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}
