package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func signToken(t *testing.T, key string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return token
}

func validClaims(role string) jwt.MapClaims {
	return jwt.MapClaims{
		"user_id": "user-1",
		"email":   "ops@example.org",
		"role":    role,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}
}

func TestParseToken(t *testing.T) {
	claims, err := ParseToken(signToken(t, secret, validClaims(RoleAdmin)), secret)
	require.NoError(t, err)
	assert.Equal(t, UserClaims{UserID: "user-1", Email: "ops@example.org", Role: RoleAdmin}, claims)

	_, err = ParseToken(signToken(t, "other", validClaims(RoleAdmin)), secret)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := validClaims(RoleAdmin)
	expired["exp"] = time.Now().Add(-time.Minute).Unix()
	_, err = ParseToken(signToken(t, secret, expired), secret)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noRole := validClaims("")
	_, err = ParseToken(signToken(t, secret, noRole), secret)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthAndRequireRole(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, found := GetUserFromContext(r)
		require.True(t, found)
		assert.Equal(t, "user-1", user.UserID)
		w.WriteHeader(http.StatusNoContent)
	})
	handler := Auth(secret, logger)(RequireRole(RoleAdmin, RoleSweeper)(ok))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"admin", "Bearer " + signToken(t, secret, validClaims(RoleAdmin)), http.StatusNoContent},
		{"sweeper", "Bearer " + signToken(t, secret, validClaims(RoleSweeper)), http.StatusNoContent},
		{"citizen forbidden", "Bearer " + signToken(t, secret, validClaims(RoleCitizen)), http.StatusForbidden},
		{"no header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"bad signature", "Bearer " + signToken(t, "nope", validClaims(RoleAdmin)), http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/reports/groups", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
