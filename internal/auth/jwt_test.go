package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidate(t *testing.T) {
	tokens := NewTokens("test-secret-key", 0)

	token, err := tokens.Issue(1, "ana@example.com")
	require.NoError(t, err)

	claims, err := tokens.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, int64(1), claims.UserID)
	assert.Equal(t, "1", claims.Subject)
	assert.Equal(t, "ana@example.com", claims.Email)
	assert.Equal(t, DefaultTTL, claims.ExpiresAt.Sub(claims.IssuedAt.Time))
}

func TestTokensHaveUniqueIDs(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)
	a, err := tokens.Issue(1, "ana@example.com")
	require.NoError(t, err)
	b, err := tokens.Issue(1, "ana@example.com")
	require.NoError(t, err)

	ca, err := tokens.Validate(a)
	require.NoError(t, err)
	cb, err := tokens.Validate(b)
	require.NoError(t, err)
	assert.NotEmpty(t, ca.ID)
	assert.NotEqual(t, ca.ID, cb.ID)
}

func TestValidateRejects(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)
	good, err := tokens.Issue(1, "ana@example.com")
	require.NoError(t, err)

	sign := func(method jwt.SigningMethod, key any, claims Claims) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	base := func() Claims {
		return Claims{
			UserID: 1,
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        "x",
				Issuer:    issuer,
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
	}

	expired := base()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	foreign := base()
	foreign.Issuer = "someone-else"
	noExpiry := base()
	noExpiry.ExpiresAt = nil
	noID := base()
	noID.ID = ""

	cases := map[string]string{
		"garbage":       "not-a-token",
		"wrong secret":  func() string { s, _ := NewTokens("other", time.Hour).Issue(1, "a@b.c"); return s }(),
		"expired":       sign(jwt.SigningMethodHS256, []byte("secret"), expired),
		"foreign":       sign(jwt.SigningMethodHS256, []byte("secret"), foreign),
		"no expiry":     sign(jwt.SigningMethodHS256, []byte("secret"), noExpiry),
		"no token id":   sign(jwt.SigningMethodHS256, []byte("secret"), noID),
		"other hmac":    sign(jwt.SigningMethodHS512, []byte("secret"), base()),
		"alg none":      sign(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, base()),
		"tampered tail": good[:len(good)-2] + "xx",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := tokens.Validate(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestValidateUsesClock(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)
	start := time.Now()
	tokens.now = func() time.Time { return start }
	token, err := tokens.Issue(1, "ana@example.com")
	require.NoError(t, err)

	tokens.now = func() time.Time { return start.Add(2 * time.Hour) }
	_, err = tokens.Validate(token)
	assert.Error(t, err, "token should be expired two hours later")
}
