package blobstore

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryStorePutGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	etag, err := s.Put(ctx, "docs/a.txt", strings.NewReader("hello"), PutOptions{ContentType: "text/plain"})
	require.NoError(t, err)
	require.NotEmpty(t, etag)

	r, attrs, err := s.Get(ctx, "docs/a.txt")
	require.NoError(t, err)
	defer r.Close()
	require.Equal(t, int64(5), attrs.Size)

	ok, err := s.Exists(ctx, "docs/a.txt")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.Delete(ctx, "docs/a.txt"))
	_, _, err = s.Get(ctx, "docs/a.txt")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreHeadMissing(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Head(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}
