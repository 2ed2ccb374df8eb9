package storage

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStores(t *testing.T) map[string]*BucketStore {
	t.Helper()

	local, err := OpenLocal(t.TempDir(), "sp/")
	require.NoError(t, err)

	stores := map[string]*BucketStore{
		"local": local,
		"mem":   OpenMemory("sp/"),
	}
	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

func TestStoreReadWriteDelete(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Read(ctx, "resume/missing.json")
			require.ErrorIs(t, err, ErrNotFound)

			_, err = store.Head(ctx, "resume/a.json")
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, store.Write(ctx, "resume/a.json", []byte(`{"a":1}`)))
			require.NoError(t, store.Write(ctx, "resume/a.json", []byte(`{"a":2}`)))

			data, err := store.Read(ctx, "resume/a.json")
			require.NoError(t, err)
			assert.Equal(t, `{"a":2}`, string(data))

			info, err := store.Head(ctx, "resume/a.json")
			require.NoError(t, err)
			assert.Equal(t, int64(7), info.Size)
			assert.Equal(t, "resume/a.json", info.Key)

			require.NoError(t, store.Delete(ctx, "resume/a.json"))
			require.NoError(t, store.Delete(ctx, "resume/a.json"))

			_, err = store.Head(ctx, "resume/a.json")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreList(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"reports/r1/results.parquet", "reports/r1/results.json.zst", "resume/x.json"} {
				require.NoError(t, store.Write(ctx, k, []byte("x")))
			}

			keys, err := store.List(ctx, "reports/")
			require.NoError(t, err)
			sort.Strings(keys)
			assert.Equal(t, []string{"reports/r1/results.json.zst", "reports/r1/results.parquet"}, keys)
		})
	}
}

func TestLocalStoreLayoutAndURI(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenLocal(dir, "sp/")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Write(context.Background(), "resume/a.json", []byte("{}")))

	_, err = os.Stat(filepath.Join(dir, "sp", "resume", "a.json"))
	assert.NoError(t, err)

	uri := store.URI("resume/a.json")
	assert.True(t, strings.HasPrefix(uri, "file://"))
	assert.True(t, strings.HasSuffix(uri, "/sp/resume/a.json"))
}

func TestNewStoreValidation(t *testing.T) {
	ctx := context.Background()

	_, err := NewStore(ctx, Config{Backend: "local"})
	assert.Error(t, err)
	_, err = NewStore(ctx, Config{Backend: "gcs"})
	assert.Error(t, err)
	_, err = NewStore(ctx, Config{Backend: "ftp"})
	assert.Error(t, err)

	s, err := NewStore(ctx, Config{Backend: "mem", Prefix: "p/"})
	require.NoError(t, err)
	assert.Equal(t, "mem://p/k", s.URI("k"))
	require.NoError(t, s.Close())
}
