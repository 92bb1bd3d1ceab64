// ABOUTME: Principal type resolved from a successful validation
// ABOUTME: Scope-set helpers and role-based default scopes

package auth

// Principal is the resolved identity of an authenticated request.
// Lifetime is one request; it is attached to the request context on allow.
type Principal struct {
	UserID         string
	Username       string
	Email          string
	Role           string
	Scopes         []string
	OrganizationID string
	AuthMethod     string // "api_key" or "bearer"
}

// HasScope returns true if the principal holds the given scope.
func (p *Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// HasScopes returns true if the principal holds every required scope.
// An empty requirement is always satisfied.
func (p *Principal) HasScopes(required []string) bool {
	for _, s := range required {
		if !p.HasScope(s) {
			return false
		}
	}
	return true
}

// IsAdmin returns true if the principal has an administrative role.
func (p *Principal) IsAdmin() bool {
	return p.Role == "admin" || p.Role == "super_admin"
}

// defaultScopesForRole returns the scope set granted to a role when the
// credential record carries no explicit scopes.
func defaultScopesForRole(role string) []string {
	switch role {
	case "super_admin":
		return []string{"read", "write", "admin", "delete"}
	case "admin":
		return []string{"read", "write", "admin"}
	case "developer":
		return []string{"read", "write"}
	case "viewer", "authenticated":
		return []string{"read"}
	default:
		return []string{"read"}
	}
}
