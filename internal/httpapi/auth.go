package httpapi

import (
	"crypto/hmac"
	"strings"
)

type authError struct {
	status  int
	code    string
	message string
}

func (e *authError) Error() string {
	return e.message
}

// authorizeBearer guards mutating routes with a static token. An empty
// configured token disables auth, which is the normal setup for a daemon
// bound to loopback.
func authorizeBearer(authHeader, expectedToken string) *authError {
	if strings.TrimSpace(expectedToken) == "" {
		return nil
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return &authError{
			status:  401,
			code:    "unauthorized",
			message: "missing or invalid bearer token",
		}
	}
	presented := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if !hmac.Equal([]byte(presented), []byte(expectedToken)) {
		return &authError{
			status:  401,
			code:    "unauthorized",
			message: "bearer token mismatch",
		}
	}
	return nil
}
