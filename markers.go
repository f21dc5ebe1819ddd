package loom

import (
	"github.com/loom-di/loom/internal/meta"
)

// Managed declares the enclosing struct as a managed component. Embed it
// anonymously; component-level metadata goes in the struct tag of the
// embedded field:
//
//	type PaymentService struct {
//	    loom.Managed `scope:"request" name:"payments" qualifiers:"reliable"`
//
//	    Gateway Gateway   `inject:""`
//	    Audit   *AuditLog `inject:"" optional:"true"`
//	}
//
// Supported marker tags:
//   - `scope:"request"` - lifecycle scope by name; default is dependent
//   - `name:"payments"` - component name for name-based lookup
//   - `qualifiers:"reliable,tier=gold"` - declared qualifiers
//   - `stereotypes:"model"` - stereotypes to apply
//   - `bindings:"tx"` - interceptor bindings
//   - `alternative:"true"` - only resolves when enabled for the deployment
//   - `specializes:"true"` - specializes the embedded ancestor type
//
// Supported field tags on injection points:
//   - `inject:""` - marks the field for injection
//   - `qualifiers:"oltp"` - qualifiers the dependency must carry
//   - `optional:"true"` - unsatisfied resolution leaves the field zero
type Managed = meta.Managed

// Decorator declares the enclosing struct as a decorator. Exactly one
// field must carry the delegate tag; its type is the contract the
// decorator wraps:
//
//	type AuditingGateway struct {
//	    loom.Decorator
//
//	    Delegate Gateway `delegate:"" qualifiers:"oltp"`
//	}
//
// The decorator type must itself satisfy the delegate contract. At
// instance creation the delegate field receives the next inner instance
// of the chain.
type Decorator = meta.Decorator

// Interceptor declares the enclosing struct as an interceptor. Its
// bindings come from the marker tag:
//
//	type TxInterceptor struct {
//	    loom.Interceptor `bindings:"tx"`
//	}
//
// Components whose bindings include all of an interceptor's bindings get
// the interceptor in their cached stack. Applying the stack to calls is
// the proxy factory's concern.
type Interceptor = meta.Interceptor

// As declares an additional contract type for the enclosing component,
// normally an interface the component should be resolvable by:
//
//	type SqlGateway struct {
//	    loom.Managed `scope:"application"`
//	    _ loom.As[Gateway]
//	}
//
// The definition engine verifies the component actually satisfies every
// declared contract.
type As[T any] = meta.As[T]
