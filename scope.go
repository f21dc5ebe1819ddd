package loom

// Scope describes a component lifecycle. A normal scope hands out client
// references backed by the active context; a pseudo-scope (Normal false)
// hands out the contextual instance directly. Passivating scopes may
// serialize their contents between requests, which constrains what they
// can hold.
type Scope struct {
	Name        string
	Normal      bool
	Passivating bool
}

// Builtin scopes.
//
// Dependent is the default: a fresh instance per injection point or
// lookup, destroyed with its owner. The others are contextual scopes
// whose instances live in an active ScopeContext.
var (
	Dependent          = Scope{Name: "dependent"}
	RequestScoped      = Scope{Name: "request", Normal: true}
	SessionScoped      = Scope{Name: "session", Normal: true, Passivating: true}
	ApplicationScoped  = Scope{Name: "application", Normal: true}
	ConversationScoped = Scope{Name: "conversation", Normal: true, Passivating: true}
)

// String returns the scope name.
func (s Scope) String() string {
	return s.Name
}

// IsZero reports whether the scope is the zero value, meaning "not
// declared". The zero scope is distinct from Dependent: metadata with no
// scope declaration defaults to Dependent only after stereotypes have had
// their say.
func (s Scope) IsZero() bool {
	return s == Scope{}
}

// builtinScopes is the closed set the metadata reader knows without
// registration.
func builtinScopes() map[string]Scope {
	return map[string]Scope{
		Dependent.Name:          Dependent,
		RequestScoped.Name:      RequestScoped,
		SessionScoped.Name:      SessionScoped,
		ApplicationScoped.Name:  ApplicationScoped,
		ConversationScoped.Name: ConversationScoped,
	}
}
