package exec

// Role is an actor's capability tier. Higher values include the capabilities
// of lower ones.
type Role int

const (
	RoleViewer Role = iota
	RoleEditor
	RoleOwner
)

func (r Role) String() string {
	switch r {
	case RoleViewer:
		return "viewer"
	case RoleEditor:
		return "editor"
	case RoleOwner:
		return "owner"
	default:
		return "unknown"
	}
}

// Action is the class of work a statement performs against a table.
type Action int

const (
	ActionView Action = iota
	ActionEdit
)

func (a Action) String() string {
	if a == ActionEdit {
		return "edit"
	}
	return "view"
}

// requiredRole maps an action to the minimum role that may skip row checks.
func (a Action) requiredRole() Role {
	if a == ActionEdit {
		return RoleEditor
	}
	return RoleViewer
}

// Auth describes the authenticated actor. An actor is scoped to the whole
// server (root), to one namespace, or to one database within a namespace.
type Auth struct {
	ID        string
	Role      Role
	Namespace string // empty for root-level actors
	Database  string // empty for root- and namespace-level actors
	Anonymous bool
	Claims    map[string]interface{}
}

// AnonymousAuth is the actor used when a statement carries no credentials.
func AnonymousAuth() *Auth {
	return &Auth{ID: "anonymous", Role: RoleViewer, Anonymous: true}
}

// IsRoot reports whether the actor is scoped to the whole server.
func (a *Auth) IsRoot() bool { return a.Namespace == "" && a.Database == "" }

// Subsumes reports whether the actor's authorization level covers the target
// namespace and database. A root actor covers everything, a namespace actor
// covers every database of its namespace, and a database actor covers only
// its own database.
func (a *Auth) Subsumes(ns, db string) bool {
	if a.IsRoot() {
		return true
	}
	if a.Namespace != ns {
		return false
	}
	return a.Database == "" || a.Database == db
}

// ClaimsMap returns the actor's claims for expression binding, always
// including id and role.
func (a *Auth) ClaimsMap() map[string]interface{} {
	m := make(map[string]interface{}, len(a.Claims)+3)
	for k, v := range a.Claims {
		m[k] = v
	}
	m["id"] = a.ID
	m["role"] = a.Role.String()
	m["anonymous"] = a.Anonymous
	return m
}
