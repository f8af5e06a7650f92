// Command sidb-blob is a small demonstration driver for the blob-storage
// subsystem, in the spirit of the teacher project's cli/main.go: a scratch
// entry point for exercising the library directly rather than a polished
// user-facing tool.
package main

import (
	"flag"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/embedkv/sidb"
	"github.com/embedkv/sidb/blob"
	"github.com/embedkv/sidb/compressor"
)

func main() {
	path := flag.String("file", "sidb-blob.db", "path to the database file")
	pageSize := flag.Uint("page-size", 4096, "page size in bytes")
	compress := flag.String("compress", "none", "compression algorithm: none, snappy, lz4")
	flag.Parse()

	opts := sidb.Options{
		PageSizeBytes: uint32(*pageSize),
		EnableCRC32:   true,
	}
	switch *compress {
	case "snappy":
		opts.Compression = compressor.AlgorithmSnappy
	case "lz4":
		opts.Compression = compressor.AlgorithmLZ4
	}

	if _, err := os.Stat(*path); os.IsNotExist(err) {
		env, err := sidb.Create(*path, 0o644, opts)
		if err != nil {
			log.WithError(err).Fatal("sidb-blob: create")
		}
		run(env)
		return
	}

	env, err := sidb.Open(*path, opts)
	if err != nil {
		log.WithError(err).Fatal("sidb-blob: open")
	}
	run(env)
}

func run(env *sidb.Environment) {
	defer func() {
		if err := env.Close(); err != nil {
			log.WithError(err).Error("sidb-blob: close")
		}
	}()

	payload := []byte("the quick brown fox jumps over the lazy dog")
	id, err := env.Allocate(payload, 0)
	if err != nil {
		log.WithError(err).Fatal("sidb-blob: allocate")
	}
	fmt.Printf("allocated blob %d (%d bytes)\n", id, len(payload))

	data, err := env.Read(id, 0, 0, 0)
	if err != nil {
		log.WithError(err).Fatal("sidb-blob: read")
	}
	fmt.Printf("read blob %d: %q\n", id, data)

	newID, err := env.Overwrite(id, []byte("the quick brown fox"), blob.Flags(0))
	if err != nil {
		log.WithError(err).Fatal("sidb-blob: overwrite")
	}
	fmt.Printf("overwrote blob %d -> %d\n", id, newID)

	if err := env.Erase(newID); err != nil {
		log.WithError(err).Fatal("sidb-blob: erase")
	}
	fmt.Printf("erased blob %d\n", newID)

	before, after := env.CompressionMetrics()
	fmt.Printf("compression metrics: %d bytes in, %d bytes out\n", before, after)
}
