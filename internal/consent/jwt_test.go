package consent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func tokenSource(token string, err error) TokenSource {
	return func(context.Context) (string, error) { return token, err }
}

func TestJWTPrivilegeChecker(t *testing.T) {
	future := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name       string
		source     TokenSource
		privileged bool
		wantErr    bool
	}{
		{"anonymous", tokenSource("", ErrNoToken), false, false},
		{"empty token", tokenSource("", nil), false, false},
		{"admin role", tokenSource(signToken(t, jwt.MapClaims{"sub": "u1", "role": "Admin", "exp": future}), nil), true, false},
		{"role list", tokenSource(signToken(t, jwt.MapClaims{"sub": "u1", "role": []any{"customer", "owner"}}), nil), true, false},
		{"customer", tokenSource(signToken(t, jwt.MapClaims{"sub": "u1", "role": "customer"}), nil), false, false},
		{"expired", tokenSource(signToken(t, jwt.MapClaims{"role": "admin", "exp": time.Now().Add(-time.Hour).Unix()}), nil), false, true},
		{"garbage", tokenSource("not-a-jwt", nil), false, true},
		{"source failure", tokenSource("", errors.New("storage locked")), false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewJWTPrivilegeChecker(tt.source, testSecret, []string{"admin", "owner"})

			privileged, err := checker.IsPrivileged(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.privileged, privileged)
		})
	}
}

func TestJWTPrivilegeChecker_WrongSecret(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"role": "admin"}).
		SignedString([]byte("other-secret"))
	require.NoError(t, err)

	checker := NewJWTPrivilegeChecker(tokenSource(token, nil), testSecret, []string{"admin"})
	_, err = checker.IsPrivileged(context.Background())
	require.Error(t, err)
}
