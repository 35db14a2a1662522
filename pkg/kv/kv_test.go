package kv

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "kv_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": newTestSQLite(t),
	}
}

func TestSetAndGet(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, ok, err := s.GetString(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.SetString(ctx, "a", "1"))
			require.NoError(t, s.SetString(ctx, "a", "2"))

			v, ok, err := s.GetString(ctx, "a")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "2", v)
		})
	}
}

func TestRangeLenDeleteClear(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.SetString(ctx, "b", "2"))
			require.NoError(t, s.SetString(ctx, "a", "1"))
			require.NoError(t, s.SetString(ctx, "c", "3"))

			n, err := s.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(3), n)

			var seen []string
			require.NoError(t, s.Range(ctx, func(k, v string) bool {
				seen = append(seen, k+"="+v)
				return len(seen) < 2
			}))
			assert.Equal(t, []string{"a=1", "b=2"}, seen)

			require.NoError(t, s.Delete(ctx, "a"))
			require.NoError(t, s.Delete(ctx, "never-set"))
			n, _ = s.Len(ctx)
			assert.Equal(t, int64(2), n)

			require.NoError(t, s.Clear(ctx))
			n, _ = s.Len(ctx)
			assert.Equal(t, int64(0), n)
		})
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv_reopen.db")
	ctx := context.Background()

	s, err := NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.SetString(ctx, "k", "v"))
	require.NoError(t, s.Close())

	s, err = NewSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	v, ok, err := s.GetString(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestRedisInvalidURL(t *testing.T) {
	_, err := NewRedis("not a url")
	assert.Error(t, err)
}

func TestRedisUnreachableReportsError(t *testing.T) {
	r, err := NewRedis("redis://127.0.0.1:1/0")
	require.NoError(t, err)
	defer r.Close()

	_, _, err = r.GetString(context.Background(), "k")
	assert.Error(t, err)
	assert.Error(t, r.SetString(context.Background(), "k", "v"))
}

func TestRedisExpiring(t *testing.T) {
	var s Store
	r, err := NewRedis("redis://127.0.0.1:1/0")
	require.NoError(t, err)
	defer r.Close()
	s = r

	exp, ok := s.(Expiring)
	require.True(t, ok, "redis store sets values with a TTL")
	assert.Error(t, exp.SetStringTTL(context.Background(), "k", "v", time.Minute))

	_, ok = Store(NewMemory()).(Expiring)
	assert.False(t, ok)
}
