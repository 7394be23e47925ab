package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/svezina/internal/db"
)

func TestTokenRevocation(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	revoked, err := IsTokenRevoked(ctx, database, "jti-a")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, RevokeToken(ctx, database, "jti-a", exp))
	// Logging out twice with the same token is harmless.
	require.NoError(t, RevokeToken(ctx, database, "jti-a", exp))

	revoked, err = IsTokenRevoked(ctx, database, "jti-a")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = IsTokenRevoked(ctx, database, "jti-b")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRevokeTokenRequiresID(t *testing.T) {
	database := db.NewTestDB(t)
	assert.Error(t, RevokeToken(context.Background(), database, "", time.Now().Add(time.Hour)))
}

func TestPurgeRevokedTokens(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, RevokeToken(ctx, database, "live", now.Add(time.Hour)))
	// Insert an already-expired revocation directly; RevokeToken would purge it.
	_, err := database.ExecContext(ctx,
		`INSERT INTO revoked_tokens (jti, expires_at) VALUES ('stale', ?)`, now.Add(-time.Hour).Unix())
	require.NoError(t, err)

	n, err := PurgeRevokedTokens(ctx, database, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	revoked, err := IsTokenRevoked(ctx, database, "live")
	require.NoError(t, err)
	assert.True(t, revoked, "live revocation was purged")
}
