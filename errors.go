package loom

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// ========================================
// Core Error Values (Sentinel Errors)
// ========================================
// These are base errors that should be wrapped in typed errors when returned.
// Never return these directly to users - always wrap them with context.

var (
	// Lookup and resolution errors.
	ErrComponentNil = errors.New("component cannot be nil")
	ErrTypeNil      = errors.New("component type cannot be nil")
	ErrNameEmpty    = errors.New("component name cannot be empty")

	// Container lifecycle errors.
	ErrNotDeployed     = errors.New("container has not been deployed")
	ErrContainerClosed = errors.New("container has been closed")
	ErrRegistrySealed  = errors.New("registry is sealed after deployment")

	// Definition errors.
	ErrFactoryNil  = errors.New("factory function cannot be nil")
	ErrInstanceNil = errors.New("instance cannot be nil")

	// Context propagation errors.
	ErrNoContainer     = errors.New("no container attached to context")
	ErrScopeContextNil = errors.New("scope context cannot be nil")
)

var (
	_ error = DefinitionError{}
	_ error = ConfigurationError{}
	_ error = DeploymentError{}
	_ error = UnsatisfiedResolutionError{}
	_ error = AmbiguousResolutionError{}
	_ error = NameNotFoundError{}
	_ error = NameConflictError{}
	_ error = NameShadowingError{}
	_ error = SpecializationError{}
	_ error = InconsistentSpecializationError{}
	_ error = ContextNotActiveError{}
	_ error = MultipleContextsError{}
	_ error = ExtensionError{}
	_ error = ConfigSourceError{}
	_ error = ArchiveError{}
	_ error = CycleError{}
	_ error = DisposalError{}
	_ error = TypeMismatchError{}
)

// ========================================
// Typed Errors for Rich Context
// ========================================
// Always use these typed errors instead of fmt.Errorf() or errors.New()
// for domain-specific errors. Wrap sentinel errors with these types.

// DefinitionError indicates a candidate type could not be turned into a
// component descriptor.
type DefinitionError struct {
	Type   reflect.Type
	Reason string
	Cause  error
}

func (e DefinitionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("cannot define %s: %s: %v", formatType(e.Type), e.Reason, e.Cause)
	}
	return fmt.Sprintf("cannot define %s: %s", formatType(e.Type), e.Reason)
}

func (e DefinitionError) Unwrap() error {
	return e.Cause
}

// ConfigurationError indicates an invalid component configuration found
// during validation. Configuration errors fail deployment.
type ConfigurationError struct {
	Component *Component
	Reason    string
	Cause     error
}

func (e ConfigurationError) Error() string {
	subject := "<nil>"
	if e.Component != nil {
		subject = e.Component.String()
	}
	if e.Cause != nil {
		return fmt.Sprintf("invalid configuration for %s: %s: %v", subject, e.Reason, e.Cause)
	}
	return fmt.Sprintf("invalid configuration for %s: %s", subject, e.Reason)
}

func (e ConfigurationError) Unwrap() error {
	return e.Cause
}

// DeploymentError wraps a failure of one deployment pipeline phase. The
// deployed flag stays false and Phase reports where the pipeline stopped.
type DeploymentError struct {
	Phase Phase
	Cause error
}

func (e DeploymentError) Error() string {
	return fmt.Sprintf("deployment failed during %s: %v", e.Phase, e.Cause)
}

func (e DeploymentError) Unwrap() error {
	return e.Cause
}

// UnsatisfiedResolutionError indicates no enabled component matched the
// requested contract type and qualifiers.
type UnsatisfiedResolutionError struct {
	Type       reflect.Type
	Qualifiers []Qualifier
	Available  []reflect.Type // contract types that ARE registered (optional, for suggestions)
}

func (e UnsatisfiedResolutionError) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("unsatisfied dependency: no component matches %s with qualifiers %s",
		formatType(e.Type), formatQualifiers(e.Qualifiers)))

	if len(e.Available) > 0 {
		similar := findSimilarTypes(e.Type, e.Available)
		if len(similar) > 0 {
			b.WriteString("\n\nDid you mean one of these?\n")
			for _, t := range similar {
				b.WriteString(fmt.Sprintf("  • %s\n", formatType(t)))
			}
		}
	}

	b.WriteString("\nMake sure the component is discovered and its qualifiers match the request.")

	return b.String()
}

// AmbiguousResolutionError indicates more than one component survived
// resolution tie-breaking.
type AmbiguousResolutionError struct {
	Type       reflect.Type
	Qualifiers []Qualifier
	Candidates []*Component
}

func (e AmbiguousResolutionError) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("ambiguous dependency: %d components match %s with qualifiers %s:\n",
		len(e.Candidates), formatType(e.Type), formatQualifiers(e.Qualifiers)))
	for _, c := range e.Candidates {
		b.WriteString(fmt.Sprintf("  • %s\n", c))
	}

	b.WriteString("\nTo resolve this:\n")
	b.WriteString("  • Add a distinguishing qualifier to the injection point or lookup\n")
	b.WriteString("  • Enable exactly one of the candidates as an alternative\n")
	b.WriteString("  • Make one candidate specialize the other")

	return b.String()
}

// NameNotFoundError indicates a name-based lookup matched nothing.
type NameNotFoundError struct {
	Name string
}

func (e NameNotFoundError) Error() string {
	return fmt.Sprintf("no component named %q", e.Name)
}

// NameConflictError indicates two or more components share a name and the
// resolution tie-breaks could not pick a single winner.
type NameConflictError struct {
	Name       string
	Candidates []*Component
}

func (e NameConflictError) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("duplicate component name %q held by %d components:\n", e.Name, len(e.Candidates)))
	for _, c := range e.Candidates {
		b.WriteString(fmt.Sprintf("  • %s\n", c))
	}
	b.WriteString("\nRename one of them, or enable exactly one as an alternative.")
	return b.String()
}

// NameShadowingError indicates a component name is a dot-prefix of another
// component's name, which would shadow it in hierarchical lookups.
type NameShadowingError struct {
	Name    string // the longer name, e.g. "payments.gateway"
	Shadows string // the prefix it shadows, e.g. "payments"
}

func (e NameShadowingError) Error() string {
	return fmt.Sprintf("component name %q shadows component named %q", e.Name, e.Shadows)
}

// SpecializationError indicates an invalid specialization declaration.
type SpecializationError struct {
	Type   reflect.Type
	Reason string
}

func (e SpecializationError) Error() string {
	return fmt.Sprintf("invalid specialization on %s: %s", formatType(e.Type), e.Reason)
}

// InconsistentSpecializationError indicates two components specialize the
// same ancestor.
type InconsistentSpecializationError struct {
	Ancestor     reflect.Type
	Specializers []reflect.Type
}

func (e InconsistentSpecializationError) Error() string {
	names := make([]string, len(e.Specializers))
	for i, t := range e.Specializers {
		names[i] = formatType(t)
	}
	return fmt.Sprintf("inconsistent specialization: %s is specialized by more than one component: %s",
		formatType(e.Ancestor), strings.Join(names, ", "))
}

// ContextNotActiveError indicates no context is active for a scope.
type ContextNotActiveError struct {
	Scope Scope
}

func (e ContextNotActiveError) Error() string {
	return fmt.Sprintf("no active context for scope %q", e.Scope.Name)
}

// MultipleContextsError indicates more than one context is active for a
// scope within the same execution unit.
type MultipleContextsError struct {
	Scope Scope
	Count int
}

func (e MultipleContextsError) Error() string {
	return fmt.Sprintf("%d active contexts for scope %q, expected exactly one", e.Count, e.Scope.Name)
}

// ExtensionError aggregates errors reported by extension observers during
// one firing round.
type ExtensionError struct {
	Event string
	Cause error
}

func (e ExtensionError) Error() string {
	return fmt.Sprintf("extension observers reported errors during %s: %v", e.Event, e.Cause)
}

func (e ExtensionError) Unwrap() error {
	return e.Cause
}

// ConfigSourceError wraps a failure to read or parse a declarative
// configuration source.
type ConfigSourceError struct {
	Source string
	Cause  error
}

func (e ConfigSourceError) Error() string {
	return fmt.Sprintf("configuration source %q: %v", e.Source, e.Cause)
}

func (e ConfigSourceError) Unwrap() error {
	return e.Cause
}

// ArchiveError wraps errors from archive construction.
type ArchiveError struct {
	Archive string
	Cause   error
}

func (e ArchiveError) Error() string {
	return fmt.Sprintf("archive %q: %v", e.Archive, e.Cause)
}

func (e ArchiveError) Unwrap() error {
	return e.Cause
}

// CycleError indicates a cycle of dependent-scoped components. Such a
// cycle has no normal-scoped member whose client reference could break it,
// so instance creation would never terminate.
type CycleError struct {
	Path []string
}

func (e CycleError) Error() string {
	var b strings.Builder
	b.WriteString("dependent component cycle: ")
	b.WriteString(strings.Join(e.Path, " -> "))
	b.WriteString("\n\nGive one component in the cycle a normal scope so a client reference can break it.")
	return b.String()
}

// TypeMismatchError indicates a resolved instance does not satisfy the
// requested Go type. The usual causes: requesting a struct value type
// where the contextual instance is a pointer, or requesting the concrete
// type of a decorated component whose client reference is the outermost
// decorator.
type TypeMismatchError struct {
	Expected reflect.Type
	Actual   reflect.Type
}

func (e TypeMismatchError) Error() string {
	return fmt.Sprintf("resolved instance has type %s, not %s; request the pointer or a declared interface contract",
		formatType(e.Actual), formatType(e.Expected))
}

// DisposalError aggregates errors from destroying contextual instances.
type DisposalError struct {
	Context string // "application", "request", "container", ...
	Errors  []error
}

func (e DisposalError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("%s context disposal failed: %v", e.Context, e.Errors[0])
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s context disposal failed with %d errors:", e.Context, len(e.Errors)))
	for i, err := range e.Errors {
		b.WriteString(fmt.Sprintf("\n  %d. %v", i+1, err))
	}
	return b.String()
}

func (e DisposalError) Unwrap() error {
	return errors.Join(e.Errors...)
}

// findSimilarTypes finds types with similar names using a simple substring/prefix match
func findSimilarTypes(target reflect.Type, available []reflect.Type) []reflect.Type {
	if target == nil || len(available) == 0 {
		return nil
	}

	targetName := target.String()
	targetShortName := target.Name()
	if targetShortName == "" {
		targetShortName = targetName
	}

	var similar []reflect.Type
	for _, t := range available {
		if t == nil || t == target {
			continue
		}

		typeName := t.String()
		typeShortName := t.Name()
		if typeShortName == "" {
			typeShortName = typeName
		}

		if targetShortName == typeShortName ||
			strings.Contains(strings.ToLower(typeName), strings.ToLower(targetShortName)) ||
			strings.Contains(strings.ToLower(targetName), strings.ToLower(typeShortName)) {
			similar = append(similar, t)
		}

		if len(similar) >= 5 {
			break
		}
	}

	return similar
}

// formatType formats a reflect.Type for error messages.
func formatType(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}

	switch t.Kind() {
	case reflect.Pointer:
		elem := t.Elem()
		if elem.PkgPath() != "" && elem.Name() != "" {
			return "*" + elem.Name()
		}
		return t.String()
	case reflect.Slice:
		elem := t.Elem()
		if elem.PkgPath() != "" && elem.Name() != "" {
			return "[]" + elem.Name()
		}
		return t.String()
	case reflect.Interface, reflect.Struct:
		if t.Name() != "" {
			return t.Name()
		}
		return t.String()
	case reflect.Func:
		return t.String()
	default:
		if t.Name() != "" {
			return t.Name()
		}
		return t.String()
	}
}
