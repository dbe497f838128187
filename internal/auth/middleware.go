package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// TokenQueryParam carries the token on websocket upgrades, where browsers
// cannot set headers.
const TokenQueryParam = "access_token"

// Middleware validates JWTs and enforces roles.
type Middleware struct {
	Secret []byte
	Policy Policy
}

// NewMiddleware constructs an auth middleware.
func NewMiddleware(secret []byte, policy Policy) *Middleware {
	return &Middleware{Secret: secret, Policy: policy}
}

// Handle is the echo middleware. Without a secret every guarded request
// is rejected.
func (m *Middleware) Handle(next echo.HandlerFunc) echo.HandlerFunc {
	if m == nil {
		return next
	}
	return func(c echo.Context) error {
		r := c.Request()
		if m.Policy.IsExempt(r) {
			return next(c)
		}
		required, ok := m.Policy.RequiredRole(r)
		if !ok {
			return next(c)
		}

		claims, err := ParseJWT(extractToken(r), m.Secret)
		if err != nil {
			return c.String(http.StatusUnauthorized, "unauthorized")
		}
		role, _ := NormalizeRole(claims.Role)
		if !RoleAtLeast(role, required) {
			return c.String(http.StatusForbidden, "forbidden")
		}
		c.SetRequest(r.WithContext(WithIdentity(r.Context(), role, claims.Subject)))
		return next(c)
	}
}

func extractToken(r *http.Request) string {
	if r == nil {
		return ""
	}
	if token := extractBearer(r); token != "" {
		return token
	}
	if r.URL.Path == "/ws" {
		return r.URL.Query().Get(TokenQueryParam)
	}
	return ""
}

func extractBearer(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
