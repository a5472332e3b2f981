package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestIssuer_IssueAndValidate(t *testing.T) {
	iss, err := NewIssuer(testSecret, "luma-backend", time.Hour, nil)
	require.NoError(t, err)

	tok, err := iss.Issue("alice")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.ExpiresAt, 5*time.Second)

	claims, err := iss.Validate(context.Background(), tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID)
	assert.Equal(t, tok.TokenID, claims.ID)
}

func TestIssuer_Rejects(t *testing.T) {
	iss, err := NewIssuer(testSecret, "luma-backend", time.Hour, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = NewIssuer("short", "luma-backend", time.Hour, nil)
	assert.Error(t, err)

	expired, err := iss.IssueWithTTL("alice", -time.Minute)
	require.NoError(t, err)
	_, err = iss.Validate(ctx, expired.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewIssuer(testSecret, "someone-else", time.Hour, nil)
	require.NoError(t, err)
	foreign, err := other.Issue("alice")
	require.NoError(t, err)
	_, err = iss.Validate(ctx, foreign.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongKey, err := NewIssuer("ffffffffffffffffffffffffffffffff", "luma-backend", time.Hour, nil)
	require.NoError(t, err)
	forged, err := wrongKey.Issue("alice")
	require.NoError(t, err)
	_, err = iss.Validate(ctx, forged.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "alice"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = iss.Validate(ctx, unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = iss.Issue(" ")
	assert.Error(t, err)
}

func TestIssuer_Revoke(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	iss, err := NewIssuer(testSecret, "luma-backend", time.Hour, rdb)
	require.NoError(t, err)
	ctx := context.Background()

	tok, err := iss.Issue("alice")
	require.NoError(t, err)
	claims, err := iss.Validate(ctx, tok.AccessToken)
	require.NoError(t, err)

	require.NoError(t, iss.Revoke(ctx, claims))
	_, err = iss.Validate(ctx, tok.AccessToken)
	assert.ErrorIs(t, err, ErrRevokedToken)
	assert.True(t, mr.TTL(revokedPrefix+claims.ID) > 0)
}

func TestExtractBearer(t *testing.T) {
	assert.Equal(t, "abc", ExtractBearer("Bearer abc"))
	assert.Equal(t, "abc", ExtractBearer("bearer  abc "))
	assert.Equal(t, "", ExtractBearer("Basic abc"))
	assert.Equal(t, "", ExtractBearer("abc"))
}
