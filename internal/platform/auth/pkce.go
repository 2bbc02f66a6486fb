package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

const MethodS256 = "S256"

// RFC 7636 bounds for both verifier and challenge.
const (
	pkceMinLen = 43
	pkceMaxLen = 128
)

// ValidCodeChallenge reports whether a challenge is within RFC 7636 length
// bounds and uses only unreserved characters.
func ValidCodeChallenge(challenge string) bool {
	return validPKCEString(challenge)
}

func ValidCodeVerifier(verifier string) bool {
	return validPKCEString(verifier)
}

func validPKCEString(s string) bool {
	if len(s) < pkceMinLen || len(s) > pkceMaxLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '.' || c == '_' || c == '~':
		default:
			return false
		}
	}
	return true
}

// VerifierMatches recomputes BASE64URL(SHA256(verifier)) and compares it to
// the stored challenge in constant time.
func VerifierMatches(verifier, challenge string) bool {
	sum := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
