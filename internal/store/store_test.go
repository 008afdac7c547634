package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]KV {
	t.Helper()
	ctx := context.Background()

	file, err := NewFile(filepath.Join(t.TempDir(), "kv"))
	require.NoError(t, err)

	lite, err := NewSQLite(ctx, filepath.Join(t.TempDir(), "db", "overlay.db"))
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	red, err := NewRedis(ctx, mr.Addr())
	require.NoError(t, err)

	kvs := map[string]KV{"file": file, "sqlite": lite, "redis": red}
	t.Cleanup(func() {
		for _, kv := range kvs {
			_ = kv.Close()
		}
	})
	return kvs
}

func TestBackendsRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := kv.Get(ctx, "www.nseindia.com_option-chain.history")
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, kv.Put(ctx, "www.nseindia.com_option-chain.history", []byte(`{"v":1}`)))
			require.NoError(t, kv.Put(ctx, "www.nseindia.com_option-chain.history", []byte(`{"v":2}`)))

			got, err := kv.Get(ctx, "www.nseindia.com_option-chain.history")
			require.NoError(t, err)
			require.JSONEq(t, `{"v":2}`, string(got), "Put must replace the whole value")

			require.NoError(t, kv.Delete(ctx, "www.nseindia.com_option-chain.history"))
			_, err = kv.Get(ctx, "www.nseindia.com_option-chain.history")
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, kv.Delete(ctx, "missing"), "deleting a missing key is not an error")
		})
	}
}

func TestBackendsRejectInvalidKeys(t *testing.T) {
	ctx := context.Background()
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{"", "../escape", "a/b", ".hidden"} {
				require.Error(t, kv.Put(ctx, key, []byte("x")), "key %q", key)
				_, err := kv.Get(ctx, key)
				require.Error(t, err, "key %q", key)
			}
		})
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "overlay.db")

	first, err := NewSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, first.Put(ctx, "window", []byte("[1,2,3]")))
	require.NoError(t, first.Close())

	second, err := NewSQLite(ctx, path)
	require.NoError(t, err)
	defer second.Close()

	got, err := second.Get(ctx, "window")
	require.NoError(t, err)
	require.Equal(t, "[1,2,3]", string(got))
}

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()

	kv, err := Open(ctx, Config{Backend: "file", Dir: t.TempDir()})
	require.NoError(t, err)
	require.IsType(t, &File{}, kv)

	kv, err = Open(ctx, Config{Backend: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "o.db")})
	require.NoError(t, err)
	require.IsType(t, &SQLite{}, kv)
	require.NoError(t, kv.Close())

	_, err = Open(ctx, Config{Backend: "etcd"})
	require.Error(t, err)
}
