package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dukkan-app/dukkan/internal/server"
)

// Role is a back-office permission level.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleStats Role = "stats"
)

const issuer = "dukkan"

type ctxKey string

const claimsCtxKey ctxKey = "admin_claims"

// Claims are the JWT claims of a back-office session.
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator issues and verifies HS256 back-office tokens.
type Authenticator struct {
	secret        []byte
	adminPassword string
	statsPassword string
	ttl           time.Duration
	now           func() time.Time
}

// NewAuthenticator creates an Authenticator. An empty statsPassword
// disables the stats role.
func NewAuthenticator(secret, adminPassword, statsPassword string, ttl time.Duration) *Authenticator {
	return &Authenticator{
		secret:        []byte(secret),
		adminPassword: adminPassword,
		statsPassword: statsPassword,
		ttl:           ttl,
		now:           time.Now,
	}
}

// RoleFor returns the role a password grants.
func (a *Authenticator) RoleFor(password string) (Role, bool) {
	if password == "" {
		return "", false
	}
	if a.adminPassword != "" && subtle.ConstantTimeCompare([]byte(password), []byte(a.adminPassword)) == 1 {
		return RoleAdmin, true
	}
	if a.statsPassword != "" && subtle.ConstantTimeCompare([]byte(password), []byte(a.statsPassword)) == 1 {
		return RoleStats, true
	}
	return "", false
}

// Issue signs a token for role.
func (a *Authenticator) Issue(role Role) (string, time.Time, error) {
	now := a.now()
	exp := now.Add(a.ttl)
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   string(role),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, exp, nil
}

// Verify parses and validates a signed token.
func (a *Authenticator) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if claims.Role != RoleAdmin && claims.Role != RoleStats {
		return nil, fmt.Errorf("unknown role %q", claims.Role)
	}
	return claims, nil
}

// Require rejects requests without a valid bearer token for one of roles.
func (a *Authenticator) Require(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				server.Error(w, http.StatusUnauthorized, "missing authorization header")
				return
			}
			token, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || token == "" {
				server.Error(w, http.StatusUnauthorized, "invalid authorization format")
				return
			}

			claims, err := a.Verify(token)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, jwt.ErrTokenExpired) {
					msg = "token expired"
				}
				server.Error(w, http.StatusUnauthorized, msg)
				return
			}
			if !slices.Contains(roles, claims.Role) {
				server.Error(w, http.StatusForbidden, fmt.Sprintf("role %s may not access this resource", claims.Role))
				return
			}

			ctx := context.WithValue(r.Context(), claimsCtxKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFrom returns the verified claims stored by Require.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsCtxKey).(*Claims)
	return c, ok
}

// actor names the role behind a back-office request for audit logging.
func actor(r *http.Request) string {
	if c, ok := ClaimsFrom(r.Context()); ok {
		return string(c.Role)
	}
	return "anonymous"
}

// Login handles POST /api/v1/admin/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := server.DecodeJSON(w, r, &req); err != nil {
		server.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	role, ok := h.auth.RoleFor(req.Password)
	if !ok {
		h.logger.Warn("failed back-office login", "remote", r.RemoteAddr)
		server.Error(w, http.StatusUnauthorized, "invalid password")
		return
	}

	token, exp, err := h.auth.Issue(role)
	if err != nil {
		h.logger.Error("issuing token", "error", err)
		server.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.logger.Info("back-office login", "role", role)
	server.JSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"role":       role,
		"expires_at": exp.UTC().Format(time.RFC3339),
	})
}
