package pagemanager

import (
	"path/filepath"
	"testing"

	assertion "github.com/stretchr/testify/assert"

	"github.com/embedkv/sidb/blob"
	"github.com/embedkv/sidb/device"
)

func newTestManager(t *testing.T) (*Simple, *device.Device) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pages.db")
	dev := device.New(device.Options{PageSizeBytes: 4096})
	if err := dev.Create(path, 0o644); err != nil {
		t.Fatalf("create: %v", err)
	}
	t.Cleanup(func() { dev.Close() })
	return New(dev), dev
}

func TestFetchCachesPage(t *testing.T) {
	assert := assertion.New(t)

	s, dev := newTestManager(t)
	addr, err := dev.Alloc(4096)
	assert.NoError(err)

	ctx := &blob.Context{}
	p1, err := s.Fetch(ctx, addr, 0)
	assert.NoError(err)
	p2, err := s.Fetch(ctx, addr, 0)
	assert.NoError(err)
	assert.Same(p1, p2)
}

func TestAllocMultipleBlobPagesCachesEachPageSeparately(t *testing.T) {
	assert := assertion.New(t)

	s, _ := newTestManager(t)
	ctx := &blob.Context{}

	first, err := s.AllocMultipleBlobPages(ctx, 3)
	assert.NoError(err)
	assert.Equal(uint64(0), first.Address())
	assert.False(first.WithoutHeader())

	second, err := s.Fetch(ctx, 4096, blob.NoHeader)
	assert.NoError(err)
	assert.Equal(uint64(4096), second.Address())
	assert.True(second.WithoutHeader())

	third, err := s.Fetch(ctx, 8192, blob.NoHeader)
	assert.NoError(err)
	assert.Equal(uint64(8192), third.Address())
}

func TestDelRemovesAllPagesOfARun(t *testing.T) {
	assert := assertion.New(t)

	s, _ := newTestManager(t)
	ctx := &blob.Context{}

	first, err := s.AllocMultipleBlobPages(ctx, 2)
	assert.NoError(err)
	s.SetLastBlobPage(first)

	assert.NoError(s.Del(ctx, first, 2))
	assert.Nil(s.GetLastBlobPage(ctx))

	// both pages were evicted from the cache: fetching page 0 again reads
	// straight from the (still-allocated, zeroed) device storage rather
	// than returning the stale in-memory buffer.
	refetched, err := s.Fetch(ctx, first.Address(), 0)
	assert.NoError(err)
	assert.NotSame(first, refetched)
}

func TestLastBlobPageRoundTrip(t *testing.T) {
	assert := assertion.New(t)

	s, _ := newTestManager(t)
	ctx := &blob.Context{}
	assert.Nil(s.GetLastBlobPage(ctx))

	p, err := s.AllocMultipleBlobPages(ctx, 1)
	assert.NoError(err)
	s.SetLastBlobPage(p)
	assert.Same(p, s.GetLastBlobPage(ctx))

	s.SetLastBlobPage(nil)
	assert.Nil(s.GetLastBlobPage(ctx))
}
