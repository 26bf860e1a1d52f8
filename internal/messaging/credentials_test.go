package messaging

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, store CredentialStore) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, ErrNoCredentials)

	require.NoError(t, store.Save(ctx, []byte(`{"noise":"a"}`)))
	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"noise":"a"}`, string(got))

	require.NoError(t, store.Save(ctx, []byte(`{"noise":"b"}`)))
	got, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"noise":"b"}`, string(got))

	require.NoError(t, store.Clear(ctx))
	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, ErrNoCredentials)

	require.NoError(t, store.Clear(ctx), "clearing twice is fine")
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	exerciseStore(t, NewFileStore(path))
}

func TestFileStoreWritesPrivateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	store := NewFileStore(path)
	require.NoError(t, store.Save(context.Background(), []byte("secret")))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFileStoreEmptyFileMeansNoCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	_, err := NewFileStore(path).Load(context.Background())
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	exerciseStore(t, NewRedisStore(rdb, "messaging:session:credentials"))
}
