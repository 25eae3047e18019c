package consent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoToken is returned by a TokenSource when the visitor is anonymous.
var ErrNoToken = errors.New("no access token")

// TokenSource yields the visitor's bearer token.
type TokenSource func(ctx context.Context) (string, error)

// JWTPrivilegeChecker treats visitors whose token carries a privileged role as
// privileged. Anonymous visitors are not privileged.
type JWTPrivilegeChecker struct {
	source    TokenSource
	secret    []byte
	roleClaim string
	roles     map[string]struct{}
}

func NewJWTPrivilegeChecker(source TokenSource, secret string, privilegedRoles []string) *JWTPrivilegeChecker {
	roles := make(map[string]struct{}, len(privilegedRoles))
	for _, role := range privilegedRoles {
		roles[strings.ToLower(role)] = struct{}{}
	}
	return &JWTPrivilegeChecker{
		source:    source,
		secret:    []byte(secret),
		roleClaim: "role",
		roles:     roles,
	}
}

func (c *JWTPrivilegeChecker) IsPrivileged(ctx context.Context) (bool, error) {
	raw, err := c.source(ctx)
	if errors.Is(err, ErrNoToken) || (err == nil && raw == "") {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read access token: %w", err)
	}

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return false, fmt.Errorf("parse access token: %w", err)
	}

	for _, role := range claimRoles(claims[c.roleClaim]) {
		if _, ok := c.roles[strings.ToLower(role)]; ok {
			return true, nil
		}
	}
	return false, nil
}

// claimRoles accepts a single role string or a list of them.
func claimRoles(claim any) []string {
	switch v := claim.(type) {
	case string:
		return []string{v}
	case []any:
		roles := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				roles = append(roles, s)
			}
		}
		return roles
	default:
		return nil
	}
}
