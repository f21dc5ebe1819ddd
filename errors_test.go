package loom

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Similarity Fixtures
// ============================================================================

type tPayService struct{}
type tPayServiceV2 struct{}
type tUnrelatedThing struct{}

// ============================================================================
// Message Formats
// ============================================================================

func TestErrorMessages(t *testing.T) {
	boom := errors.New("boom")

	t.Run("definition", func(t *testing.T) {
		err := DefinitionError{Type: TypeOf[TSqlGateway](), Reason: "bad tag"}
		assert.Equal(t, "cannot define TSqlGateway: bad tag", err.Error())

		err.Cause = boom
		assert.Equal(t, "cannot define TSqlGateway: bad tag: boom", err.Error())
	})

	t.Run("configuration", func(t *testing.T) {
		err := ConfigurationError{Reason: "unowned delegate"}
		assert.Equal(t, "invalid configuration for <nil>: unowned delegate", err.Error())

		comp := &Component{Kind: KindManaged, Type: TypeOf[TSqlGateway](), Name: "sqlGateway"}
		err = ConfigurationError{Component: comp, Reason: "unowned delegate", Cause: boom}
		assert.Equal(t,
			`invalid configuration for Managed TSqlGateway "sqlGateway": unowned delegate: boom`,
			err.Error())
	})

	t.Run("deployment", func(t *testing.T) {
		err := DeploymentError{Phase: PhaseValidated, Cause: boom}
		assert.Equal(t, "deployment failed during Validated: boom", err.Error())
	})

	t.Run("unsatisfied resolution", func(t *testing.T) {
		err := UnsatisfiedResolutionError{Type: TypeOf[TGateway]()}
		assert.Contains(t, err.Error(),
			"unsatisfied dependency: no component matches TGateway with qualifiers [default]")
		assert.Contains(t, err.Error(), "Make sure the component is discovered")
		assert.NotContains(t, err.Error(), "Did you mean")

		err.Qualifiers = []Qualifier{QualValue("tier", "gold"), Qual("sql")}
		assert.Contains(t, err.Error(), "with qualifiers [sql, tier=gold]")
	})

	t.Run("unsatisfied resolution suggests similar types", func(t *testing.T) {
		err := UnsatisfiedResolutionError{
			Type:      TypeOf[tPayService](),
			Available: []reflect.Type{TypeOf[tPayServiceV2](), TypeOf[tUnrelatedThing]()},
		}
		assert.Contains(t, err.Error(), "Did you mean one of these?")
		assert.Contains(t, err.Error(), "tPayServiceV2")
		assert.NotContains(t, err.Error(), "tUnrelatedThing")
	})

	t.Run("ambiguous resolution", func(t *testing.T) {
		err := AmbiguousResolutionError{
			Type: TypeOf[TGateway](),
			Candidates: []*Component{
				{Kind: KindManaged, Type: TypeOf[TSqlGateway](), Name: "sqlGateway"},
				{Kind: KindManaged, Type: TypeOf[TMockGateway]()},
			},
		}
		msg := err.Error()
		assert.Contains(t, msg, "ambiguous dependency: 2 components match TGateway with qualifiers [default]")
		assert.Contains(t, msg, `Managed TSqlGateway "sqlGateway"`)
		assert.Contains(t, msg, "Managed TMockGateway")
		assert.Contains(t, msg, "Add a distinguishing qualifier")
	})

	t.Run("names", func(t *testing.T) {
		assert.Equal(t, `no component named "missing"`, NameNotFoundError{Name: "missing"}.Error())

		conflict := NameConflictError{
			Name: "dup",
			Candidates: []*Component{
				{Kind: KindManaged, Type: TypeOf[TSqlGateway]()},
				{Kind: KindManaged, Type: TypeOf[TMockGateway]()},
			},
		}
		assert.Contains(t, conflict.Error(), `duplicate component name "dup" held by 2 components`)

		shadow := NameShadowingError{Name: "billing.gateway", Shadows: "billing"}
		assert.Equal(t,
			`component name "billing.gateway" shadows component named "billing"`,
			shadow.Error())
	})

	t.Run("specialization", func(t *testing.T) {
		err := SpecializationError{Type: TypeOf[TCachedRepo](), Reason: "ancestor is not a component"}
		assert.Equal(t, "invalid specialization on TCachedRepo: ancestor is not a component", err.Error())

		inconsistent := InconsistentSpecializationError{
			Ancestor:     TypeOf[TBaseRepo](),
			Specializers: []reflect.Type{TypeOf[TCachedRepo](), TypeOf[tPayServiceV2]()},
		}
		assert.Equal(t,
			"inconsistent specialization: TBaseRepo is specialized by more than one component: TCachedRepo, tPayServiceV2",
			inconsistent.Error())
	})

	t.Run("contexts", func(t *testing.T) {
		assert.Equal(t,
			`no active context for scope "request"`,
			ContextNotActiveError{Scope: RequestScoped}.Error())

		assert.Equal(t,
			`2 active contexts for scope "session", expected exactly one`,
			MultipleContextsError{Scope: SessionScoped, Count: 2}.Error())
	})

	t.Run("extension", func(t *testing.T) {
		err := ExtensionError{Event: "BeforeDiscovery", Cause: boom}
		assert.Equal(t, "extension observers reported errors during BeforeDiscovery: boom", err.Error())
	})

	t.Run("sources", func(t *testing.T) {
		assert.Equal(t,
			`configuration source "loom.yaml": boom`,
			ConfigSourceError{Source: "loom.yaml", Cause: boom}.Error())

		assert.Equal(t,
			`archive "app": boom`,
			ArchiveError{Archive: "app", Cause: boom}.Error())
	})

	t.Run("cycle", func(t *testing.T) {
		err := CycleError{Path: []string{"A", "B", "A"}}
		assert.Contains(t, err.Error(), "dependent component cycle: A -> B -> A")
		assert.Contains(t, err.Error(), "normal scope")
	})

	t.Run("type mismatch", func(t *testing.T) {
		err := TypeMismatchError{Expected: TypeOf[*TSqlGateway](), Actual: TypeOf[*TAuditGateway]()}
		assert.Equal(t,
			"resolved instance has type *TAuditGateway, not *TSqlGateway; request the pointer or a declared interface contract",
			err.Error())
	})

	t.Run("disposal", func(t *testing.T) {
		single := DisposalError{Context: "application", Errors: []error{boom}}
		assert.Equal(t, "application context disposal failed: boom", single.Error())

		multi := DisposalError{Context: "request", Errors: []error{boom, errors.New("again")}}
		msg := multi.Error()
		assert.Contains(t, msg, "request context disposal failed with 2 errors:")
		assert.Contains(t, msg, "1. boom")
		assert.Contains(t, msg, "2. again")
	})
}

// ============================================================================
// Unwrap Chains
// ============================================================================

func TestErrorUnwrapping(t *testing.T) {
	boom := errors.New("boom")

	t.Run("deployment chains to the phase cause", func(t *testing.T) {
		err := error(DeploymentError{
			Phase: PhaseValidated,
			Cause: ConfigurationError{Reason: "dangling reference", Cause: boom},
		})

		var deployErr DeploymentError
		require.ErrorAs(t, err, &deployErr)
		assert.Equal(t, PhaseValidated, deployErr.Phase)

		var confErr ConfigurationError
		require.ErrorAs(t, err, &confErr)
		assert.Equal(t, "dangling reference", confErr.Reason)

		assert.ErrorIs(t, err, boom)
	})

	t.Run("nil causes unwrap to nothing", func(t *testing.T) {
		assert.NoError(t, errors.Unwrap(DefinitionError{Type: TypeOf[TGateway](), Reason: "x"}))
		assert.NoError(t, errors.Unwrap(ConfigurationError{Reason: "x"}))
	})

	t.Run("wrapper types expose their cause", func(t *testing.T) {
		assert.ErrorIs(t, ConfigSourceError{Source: "a.yaml", Cause: boom}, boom)
		assert.ErrorIs(t, ArchiveError{Archive: "app", Cause: boom}, boom)
		assert.ErrorIs(t, ExtensionError{Event: "ProcessType", Cause: boom}, boom)
		assert.ErrorIs(t, DefinitionError{Type: TypeOf[TGateway](), Reason: "x", Cause: boom}, boom)
	})

	t.Run("disposal joins every member", func(t *testing.T) {
		second := errors.New("second failure")
		err := error(DisposalError{Context: "container", Errors: []error{boom, second}})

		assert.ErrorIs(t, err, boom)
		assert.ErrorIs(t, err, second)

		var nested DisposalError
		require.ErrorAs(t, DisposalError{
			Context: "container",
			Errors:  []error{DisposalError{Context: "application", Errors: []error{boom}}},
		}.Unwrap(), &nested)
		assert.Equal(t, "application", nested.Context)
	})
}

// ============================================================================
// Type Formatting
// ============================================================================

func TestFormatType(t *testing.T) {
	tests := []struct {
		name string
		typ  reflect.Type
		want string
	}{
		{"nil", nil, "<nil>"},
		{"interface", TypeOf[TGateway](), "TGateway"},
		{"struct", TypeOf[TSqlGateway](), "TSqlGateway"},
		{"pointer to named struct", TypeOf[*TSqlGateway](), "*TSqlGateway"},
		{"pointer to builtin", TypeOf[*int](), "*int"},
		{"slice of named struct", TypeOf[[]TSqlGateway](), "[]TSqlGateway"},
		{"slice of builtin", TypeOf[[]int](), "[]int"},
		{"builtin", TypeOf[int](), "int"},
		{"func", TypeOf[func(string) error](), "func(string) error"},
		{"map", TypeOf[map[string]int](), "map[string]int"},
		{"anonymous struct", TypeOf[struct{ X int }](), "struct { X int }"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatType(tt.typ))
		})
	}
}

// ============================================================================
// Suggestion Matching
// ============================================================================

func TestFindSimilarTypes(t *testing.T) {
	t.Run("substring matches survive, unrelated types do not", func(t *testing.T) {
		got := findSimilarTypes(TypeOf[tPayService](), []reflect.Type{
			TypeOf[tPayService](), // the target itself is never a suggestion
			TypeOf[tPayServiceV2](),
			TypeOf[tUnrelatedThing](),
		})
		assert.Equal(t, []reflect.Type{TypeOf[tPayServiceV2]()}, got)
	})

	t.Run("empty inputs", func(t *testing.T) {
		assert.Nil(t, findSimilarTypes(nil, []reflect.Type{TypeOf[tPayServiceV2]()}))
		assert.Nil(t, findSimilarTypes(TypeOf[tPayService](), nil))
	})

	t.Run("suggestions cap at five", func(t *testing.T) {
		available := make([]reflect.Type, 0, 8)
		for i := 0; i < 8; i++ {
			available = append(available, TypeOf[tPayServiceV2]())
		}
		assert.Len(t, findSimilarTypes(TypeOf[tPayService](), available), 5)
	})
}

// ============================================================================
// Descriptor Formatting
// ============================================================================

func TestComponentString(t *testing.T) {
	named := &Component{Kind: KindManaged, Type: TypeOf[TSqlGateway](), Name: "sqlGateway"}
	assert.Equal(t, `Managed TSqlGateway "sqlGateway"`, named.String())

	unnamed := &Component{Kind: KindDecorator, Type: TypeOf[TAuditGateway]()}
	assert.Equal(t, "Decorator TAuditGateway", unnamed.String())

	var nilComp *Component
	assert.Equal(t, "<nil>", nilComp.String())

	assert.Equal(t, "Unknown(42)", ComponentKind(42).String())
	assert.Equal(t, "Unknown(99)", Phase(99).String())
}
