package device

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	assertion "github.com/stretchr/testify/assert"

	"github.com/embedkv/sidb/page"
)

func newTestDevice(t *testing.T, opts Options) (*Device, string) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	if opts.PageSizeBytes == 0 {
		opts.PageSizeBytes = 4096
	}
	d := New(opts)
	if err := d.Create(path, 0o644); err != nil {
		t.Fatalf("create: %v", err)
	}
	return d, path
}

func TestCreateAndClose(t *testing.T) {
	assert := assertion.New(t)

	d, _ := newTestDevice(t, Options{})
	assert.NoError(d.Close())
}

func TestAllocBumpsFileSize(t *testing.T) {
	assert := assertion.New(t)

	d, _ := newTestDevice(t, Options{})
	defer d.Close()

	addr1, err := d.Alloc(4096)
	assert.NoError(err)
	assert.Equal(uint64(0), addr1)

	addr2, err := d.Alloc(4096)
	assert.NoError(err)
	assert.NotEqual(addr1, addr2)
}

func TestAllocReservesExcessAtEndPastThreshold(t *testing.T) {
	assert := assertion.New(t)

	d, _ := newTestDevice(t, Options{})
	defer d.Close()

	size := uint64(4096)
	var lastAddr uint64
	for i := 0; i < 120; i++ {
		addr, err := d.Alloc(size)
		assert.NoError(err)
		lastAddr = addr
	}
	_ = lastAddr
	// 120 pages were handed out; anything beyond that is reserved excess.
	assert.Greater(d.FileSize(), size*120)
}

func TestTruncateRespectsFileSizeLimit(t *testing.T) {
	assert := assertion.New(t)

	d, _ := newTestDevice(t, Options{FileSizeLimitBytes: 8192})
	defer d.Close()

	assert.NoError(d.Truncate(8192))
	assert.Error(d.Truncate(16384))
}

func TestWriteReadRoundTrip(t *testing.T) {
	assert := assertion.New(t)

	d, _ := newTestDevice(t, Options{})
	defer d.Close()

	addr, err := d.Alloc(4096)
	assert.NoError(err)

	payload := []byte("hello, device")
	buf := make([]byte, 4096)
	copy(buf, payload)
	assert.NoError(d.Write(addr, buf))

	out := make([]byte, 4096)
	assert.NoError(d.Read(addr, out))
	assert.Equal(buf, out)
}

func TestAllocPageAndReadPage(t *testing.T) {
	assert := assertion.New(t)

	d, _ := newTestDevice(t, Options{})
	defer d.Close()

	p := page.New()
	assert.NoError(d.AllocPage(p))
	assert.False(p.IsBorrowed())

	copy(p.Data(), []byte("page contents"))
	assert.NoError(d.Write(p.Address(), p.Data()))

	p2 := page.New()
	assert.NoError(d.ReadPage(p2, p.Address()))
	assert.Equal(p.Data(), p2.Data())
}

func TestReadPageBorrowsFromMmapWhenMapped(t *testing.T) {
	assert := assertion.New(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "mapped.db")

	d := New(Options{PageSizeBytes: 4096})
	assert.NoError(d.Create(path, 0o644))
	assert.NoError(d.Truncate(uint64(mmapGranularity())))
	assert.NoError(d.Close())

	d2 := New(Options{PageSizeBytes: 4096})
	assert.NoError(d2.Open(path, false))
	defer d2.Close()

	p := page.New()
	assert.NoError(d2.ReadPage(p, 0))
	if d2.IsMapped(0, 4096) {
		assert.True(p.IsBorrowed())
	}
}

func TestEncryptedWriteRequiresPageAlignment(t *testing.T) {
	assert := assertion.New(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "enc.db")
	key := make([]byte, 32)
	d := New(Options{PageSizeBytes: 4096, EncryptionKey: key})
	assert.NoError(d.Create(path, 0o644))
	defer d.Close()

	_, err := d.Alloc(4096)
	assert.NoError(err)
	addr2, err := d.Alloc(4096)
	assert.NoError(err)

	// addr2 (4096) is not a multiple of a 100-byte buffer's own length,
	// so the alignment check rejects it.
	buf := make([]byte, 100)
	assert.Error(d.Write(addr2, buf))

	full := make([]byte, 4096)
	copy(full, []byte("encrypted payload"))
	assert.NoError(d.Write(addr2, full))

	out := make([]byte, 4096)
	assert.NoError(d.Read(addr2, out))
	assert.Equal(full, out)
}

func TestReclaimSpaceTruncatesExcess(t *testing.T) {
	assert := assertion.New(t)

	d, _ := newTestDevice(t, Options{})
	defer d.Close()

	size := uint64(4096)
	for i := 0; i < 120; i++ {
		_, err := d.Alloc(size)
		assert.NoError(err)
	}
	before := d.FileSize()
	assert.NoError(d.ReclaimSpace())
	assert.Less(d.FileSize(), before)
}

func TestOpenNonexistentFileFails(t *testing.T) {
	assert := assertion.New(t)

	d := New(Options{PageSizeBytes: 4096})
	err := d.Open("/nonexistent/path/to/file.db", false)
	assert.Error(err)
	assert.True(os.IsNotExist(errors.Cause(err)))
}
