package auth

// Permission is a capability a principal must hold before an endpoint
// touches the ledger or the token store. Every protected route consults
// Check through one middleware rather than re-deriving role logic inline.
type Permission int

const (
	PermLLMInvoke Permission = iota
	PermBalanceRead
	PermPayoutClaim
	PermKeyManage
	PermMarkupManage
	PermReferralManage
	PermUserInfoRead
)

// Scopes grantable to delegated (third-party app) tokens.
const (
	ScopeLLMInvoke     = "llm:invoke"
	ScopeOfflineAccess = "offline_access"
	ScopeProfile       = "profile"
	ScopeEmail         = "email"
)

var scopePermissions = map[string][]Permission{
	ScopeLLMInvoke: {PermLLMInvoke, PermBalanceRead},
	ScopeProfile:   {PermUserInfoRead},
	ScopeEmail:     {PermUserInfoRead},
}

var rolePermissions = map[string][]Permission{
	"user": {
		PermLLMInvoke, PermBalanceRead, PermPayoutClaim,
		PermKeyManage, PermMarkupManage, PermReferralManage, PermUserInfoRead,
	},
	"admin": {
		PermLLMInvoke, PermBalanceRead, PermPayoutClaim,
		PermKeyManage, PermMarkupManage, PermReferralManage, PermUserInfoRead,
	},
}

// KnownScope reports whether a requested scope is one the platform grants.
func KnownScope(scope string) bool {
	switch scope {
	case ScopeLLMInvoke, ScopeOfflineAccess, ScopeProfile, ScopeEmail:
		return true
	}
	return false
}

// Check resolves a principal's permissions from its scopes and, for
// first-party sessions (no app binding), its role.
func Check(p Principal, perm Permission) bool {
	for _, scope := range p.Scopes {
		for _, granted := range scopePermissions[scope] {
			if granted == perm {
				return true
			}
		}
	}
	// Delegated tokens carry an app binding and are limited to their scopes.
	if p.AppID != "" {
		return false
	}
	for _, granted := range rolePermissions[p.Role] {
		if granted == perm {
			return true
		}
	}
	return false
}
