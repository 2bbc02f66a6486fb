package auth

// Principal is the resolved identity behind a bearer credential, whether it
// arrived as a JWT access token or a static API key.
type Principal struct {
	UserID   string
	AppID    string
	Role     string
	Scopes   []string
	APIKeyID *string
}

func (p Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
