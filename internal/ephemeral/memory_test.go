package ephemeral

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreSetExAndExists(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.SetEx(ctx, "user:online:alice", "1", time.Minute))

	ok, err := s.Exists(ctx, "user:online:alice")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(ctx, "user:online:bob")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreExpiry(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	base := time.Now()
	s.now = func() time.Time { return base }

	require.NoError(t, s.SetEx(ctx, "k", "v", 5*time.Second))

	ok, err := s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	// Advance past the lease; the key must be gone without any Del call.
	s.now = func() time.Time { return base.Add(6 * time.Second) }

	ok, err = s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreRenewal(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	base := time.Now()
	s.now = func() time.Time { return base }
	require.NoError(t, s.SetEx(ctx, "k", "v", 5*time.Second))

	// Renew at t+4s, check at t+8s: still within the renewed lease.
	s.now = func() time.Time { return base.Add(4 * time.Second) }
	require.NoError(t, s.SetEx(ctx, "k", "v", 5*time.Second))

	s.now = func() time.Time { return base.Add(8 * time.Second) }
	ok, err := s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStoreDel(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.SetEx(ctx, "k", "v", time.Minute))
	require.NoError(t, s.Del(ctx, "k"))

	ok, err := s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting an absent key is a no-op.
	require.NoError(t, s.Del(ctx, "k"))
}

func TestMemoryStoreScanPrefix(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	base := time.Now()
	s.now = func() time.Time { return base }

	require.NoError(t, s.SetEx(ctx, "typing:c1:alice", "1", 5*time.Second))
	require.NoError(t, s.SetEx(ctx, "typing:c1:bob", "1", time.Minute))
	require.NoError(t, s.SetEx(ctx, "typing:c2:carol", "1", time.Minute))

	keys, err := s.ScanPrefix(ctx, "typing:c1:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"typing:c1:alice", "typing:c1:bob"}, keys)

	// Expired keys drop out of the scan.
	s.now = func() time.Time { return base.Add(10 * time.Second) }
	keys, err = s.ScanPrefix(ctx, "typing:c1:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"typing:c1:bob"}, keys)
}
