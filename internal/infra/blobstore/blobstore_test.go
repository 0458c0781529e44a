package blobstore

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	data := []byte("body text")
	require.NoError(t, store.Put(ctx, "emails/a.txt", data))
	data[0] = 'X'

	reader, err := store.Open(ctx, "emails/a.txt")
	require.NoError(t, err)
	defer reader.Close()
	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.Equal(t, "body text", string(got))

	_, err = store.Open(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSanitizeEndpoint(t *testing.T) {
	cases := map[string]string{
		"https://acct.r2.cloudflarestorage.com/bucket": "acct.r2.cloudflarestorage.com",
		"http://localhost:9000":                        "localhost:9000",
		" minio:9000 ":                                 "minio:9000",
	}
	for in, want := range cases {
		require.Equal(t, want, sanitizeEndpoint(in), in)
	}
}
