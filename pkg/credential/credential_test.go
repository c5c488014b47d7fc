package credential

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/sitesync/pkg/cache"
)

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	return token
}

func TestStaticAndEnv(t *testing.T) {
	ctx := context.Background()

	token, err := Static("abc").Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	t.Setenv("SITESYNC_TEST_TOKEN", "  from-env \n")
	token, err = Env("SITESYNC_TEST_TOKEN").Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "from-env", token)

	token, err = Env("SITESYNC_TEST_UNSET").Token(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	boom := stderrors.New("keychain locked")
	failing := Func(func(context.Context) (string, error) { return "", boom })

	token, err := Chain(Static(""), failing, Static("fallback")).Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fallback", token)

	token, err = Chain(Static(""), failing).Token(ctx)
	assert.Empty(t, token)
	assert.ErrorIs(t, err, boom)

	token, err = Chain(Static("")).Token(ctx)
	assert.NoError(t, err)
	assert.Empty(t, token)
}

func TestExpired(t *testing.T) {
	assert.True(t, Expired(signed(t, time.Now().Add(-time.Minute)), 0))
	assert.False(t, Expired(signed(t, time.Now().Add(time.Hour)), 0))
	assert.True(t, Expired(signed(t, time.Now().Add(10*time.Second)), time.Minute))
	assert.False(t, Expired("opaque-token", 0))
}

func TestNotExpired(t *testing.T) {
	ctx := context.Background()

	token, err := NotExpired(Static(signed(t, time.Now().Add(-time.Minute))), 0).Token(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)

	fresh := signed(t, time.Now().Add(time.Hour))
	token, err = NotExpired(Static(fresh), 0).Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, fresh, token)
}

func TestCached(t *testing.T) {
	ctx := context.Background()
	c, err := cache.NewWithOptions(cache.WithMemory(cache.DefaultMemoryConfig()))
	require.NoError(t, err)
	defer c.Close()

	var calls atomic.Int32
	fresh := signed(t, time.Now().Add(time.Hour))
	src := Cached(c, "token:u1", time.Minute, Func(func(context.Context) (string, error) {
		calls.Add(1)
		return fresh, nil
	}))

	for i := 0; i < 3; i++ {
		token, err := src.Token(ctx)
		require.NoError(t, err)
		assert.Equal(t, fresh, token)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestCached_RefreshesExpired(t *testing.T) {
	ctx := context.Background()
	c, err := cache.NewWithOptions(cache.WithMemory(cache.DefaultMemoryConfig()))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "token:u1", signed(t, time.Now().Add(-time.Minute)), time.Hour))

	fresh := signed(t, time.Now().Add(time.Hour))
	token, err := Cached(c, "token:u1", time.Minute, Static(fresh)).Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, fresh, token)
}

func TestCached_EmptyNotCached(t *testing.T) {
	ctx := context.Background()
	c, err := cache.NewWithOptions(cache.WithMemory(cache.DefaultMemoryConfig()))
	require.NoError(t, err)
	defer c.Close()

	var current atomic.Value
	current.Store("")
	src := Cached(c, "token:u1", time.Minute, Func(func(context.Context) (string, error) {
		return current.Load().(string), nil
	}))

	token, err := src.Token(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)

	current.Store("now-signed-in")
	token, err = src.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "now-signed-in", token)
}
