package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrUnauthenticated = errors.New("auth: missing or invalid token")
	ErrForbidden       = errors.New("auth: supervising role required")
	ErrGatewayOnly     = errors.New("auth: gateway role required")
)

// localOperator is used for every request when no secret is configured.
const localOperator = "local"

// Operator is the authenticated caller of the operator API.
type Operator struct {
	ID    string
	Roles []string
}

func (o Operator) HasRole(role string) bool {
	return role != "" && slices.Contains(o.Roles, role)
}

type operatorKey struct{}

func OperatorFrom(ctx context.Context) (Operator, bool) {
	op, ok := ctx.Value(operatorKey{}).(Operator)
	return op, ok
}

// Authenticator verifies HS256 bearer tokens carrying the operator id in
// "sub" and its roles in "roles".
type Authenticator struct {
	secret         []byte
	adminRole      string
	gatewayRole    string
	supervisorRole func() string
}

// NewAuthenticator returns an authenticator. An empty secret disables
// authentication; every caller then acts as an admin and as the gateway.
func NewAuthenticator(secret, adminRole, gatewayRole string, supervisorRole func() string) *Authenticator {
	return &Authenticator{
		secret:         []byte(secret),
		adminRole:      adminRole,
		gatewayRole:    gatewayRole,
		supervisorRole: supervisorRole,
	}
}

func (a *Authenticator) Enabled() bool {
	return len(a.secret) > 0
}

// IssueToken signs a token for id with the given roles.
func (a *Authenticator) IssueToken(id string, roles []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   id,
		"roles": roles,
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) Verify(tokenString string) (Operator, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return Operator{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Operator{}, ErrUnauthenticated
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Operator{}, fmt.Errorf("%w: invalid subject", ErrUnauthenticated)
	}

	op := Operator{ID: sub}
	if raw, ok := claims["roles"].([]interface{}); ok {
		for _, r := range raw {
			if role, ok := r.(string); ok {
				op.Roles = append(op.Roles, role)
			}
		}
	}
	return op, nil
}

// IsSupervisor mirrors the bot's permission check: admins and holders of the
// configured supervising role.
func (a *Authenticator) IsSupervisor(op Operator) bool {
	if op.HasRole(a.adminRole) {
		return true
	}
	return a.supervisorRole != nil && op.HasRole(a.supervisorRole())
}

func (a *Authenticator) authenticate(r *http.Request) (Operator, error) {
	if !a.Enabled() {
		return Operator{ID: localOperator, Roles: []string{a.adminRole, a.gatewayRole}}, nil
	}

	header := r.Header.Get("Authorization")
	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || tokenString == "" {
		return Operator{}, ErrUnauthenticated
	}
	return a.Verify(tokenString)
}

// RequireAuth admits any caller with a valid token.
func (a *Authenticator) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		op, err := a.authenticate(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, Response{Success: false, Message: err.Error()})
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), operatorKey{}, op)))
	}
}

// RequireSupervisor admits admins and supervisors only.
func (a *Authenticator) RequireSupervisor(next http.HandlerFunc) http.HandlerFunc {
	return a.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		op, _ := OperatorFrom(r.Context())
		if !a.IsSupervisor(op) {
			writeJSON(w, http.StatusForbidden, Response{Success: false, Message: ErrForbidden.Error()})
			return
		}
		next(w, r)
	})
}

// RequireGateway admits only the chat gateway. Signals carry actor ids and
// roles that the engine trusts, so operators cannot post them, admins included.
func (a *Authenticator) RequireGateway(next http.HandlerFunc) http.HandlerFunc {
	return a.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		op, _ := OperatorFrom(r.Context())
		if !op.HasRole(a.gatewayRole) {
			writeJSON(w, http.StatusForbidden, Response{Success: false, Message: ErrGatewayOnly.Error()})
			return
		}
		next(w, r)
	})
}
