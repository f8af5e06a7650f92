package sidb_test

import (
	"os"
	"path/filepath"
	"testing"

	assertion "github.com/stretchr/testify/assert"

	"github.com/embedkv/sidb"
	"github.com/embedkv/sidb/blob"
	"github.com/embedkv/sidb/compressor"
)

func TestCreateAllocateReadErase(t *testing.T) {
	assert := assertion.New(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "env.db")

	env, err := sidb.Create(path, 0o644, sidb.Options{PageSizeBytes: 4096, EnableCRC32: true})
	assert.NoError(err)
	defer env.Close()

	payload := []byte("environment-level round trip")
	id, err := env.Allocate(payload, 0)
	assert.NoError(err)

	data, err := env.Read(id, 0, 0, 0)
	assert.NoError(err)
	assert.Equal(payload, data)

	assert.NoError(env.Erase(id))
}

func TestOpenExistingEnvironment(t *testing.T) {
	assert := assertion.New(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "env.db")

	opts := sidb.Options{PageSizeBytes: 4096}
	env, err := sidb.Create(path, 0o644, opts)
	assert.NoError(err)

	id, err := env.Allocate([]byte("persisted"), 0)
	assert.NoError(err)
	assert.NoError(env.Close())

	reopened, err := sidb.Open(path, opts)
	assert.NoError(err)
	defer reopened.Close()

	data, err := reopened.Read(id, 0, 0, 0)
	assert.NoError(err)
	assert.Equal([]byte("persisted"), data)
}

func TestEnvironmentWithCompressionReportsMetrics(t *testing.T) {
	assert := assertion.New(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "env.db")

	env, err := sidb.Create(path, 0o644, sidb.Options{
		PageSizeBytes: 4096,
		Compression:   compressor.AlgorithmLZ4,
	})
	assert.NoError(err)
	defer env.Close()

	data := make([]byte, 4000)
	for i := range data {
		data[i] = 'z'
	}
	id, err := env.Allocate(data, 0)
	assert.NoError(err)

	out, err := env.Read(id, 0, 0, 0)
	assert.NoError(err)
	assert.Equal(data, out)

	before, after := env.CompressionMetrics()
	assert.Greater(before, uint64(0))
	assert.LessOrEqual(after, before)
}

func TestEnvironmentOverwriteAndPartialRead(t *testing.T) {
	assert := assertion.New(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "env.db")

	env, err := sidb.Create(path, 0o644, sidb.Options{PageSizeBytes: 4096})
	assert.NoError(err)
	defer env.Close()

	id, err := env.Allocate([]byte("0123456789"), 0)
	assert.NoError(err)

	newID, err := env.Overwrite(id, []byte("abcde"), 0)
	assert.NoError(err)

	out, err := env.Read(newID, 0, 0, 0)
	assert.NoError(err)
	assert.Equal([]byte("abcde"), out)

	partial, err := env.Read(newID, blob.Partial, 1, 3)
	assert.NoError(err)
	assert.Equal([]byte("bcd"), partial)
}

func TestReclaimSpaceShrinksFile(t *testing.T) {
	assert := assertion.New(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "env.db")

	env, err := sidb.Create(path, 0o644, sidb.Options{PageSizeBytes: 4096})
	assert.NoError(err)
	defer env.Close()

	// Each 3000-byte record needs a page of its own, so 120 of them grow
	// the file past 100 pages, where the device starts reserving excess.
	payload := make([]byte, 3000)
	for i := 0; i < 120; i++ {
		_, err := env.Allocate(payload, 0)
		assert.NoError(err)
	}

	before, err := os.Stat(path)
	assert.NoError(err)
	assert.NoError(env.ReclaimSpace())
	after, err := os.Stat(path)
	assert.NoError(err)
	assert.Less(after.Size(), before.Size())
}
