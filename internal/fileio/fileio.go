// Package fileio implements the server's source-file lookup: locate a
// requested name as a direct, non-recursive entry of a root directory,
// report its size, and read a bounded slice from an absolute offset.
// Grounded on the original protocol's retrieve_file/get_file_size/
// get_file_chunk helpers.
package fileio

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by Locate when name is not a direct entry of
// root.
var ErrNotFound = errors.New("fileio: file not found in working directory")

// Locate opens name for reading if and only if it appears as a direct
// (non-recursive) entry of root. The requested name is compared
// byte-for-byte against directory entries; it is never interpreted as
// a path.
func Locate(root, name string) (*os.File, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrap(err, "fileio: read directory")
	}

	found := false
	for _, e := range entries {
		if e.Name() == name {
			found = true
			break
		}
	}
	if !found {
		return nil, ErrNotFound
	}

	f, err := os.Open(filepath.Join(root, name))
	if err != nil {
		return nil, errors.Wrap(err, "fileio: open")
	}
	return f, nil
}

// Size reports the current size in bytes of an open file.
func Size(f *os.File) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, errors.Wrap(err, "fileio: stat")
	}
	return info.Size(), nil
}

// ReadChunk reads up to len(buf) bytes from f at absolute offset off,
// returning the number of bytes actually read. A short read at
// end-of-file is not an error — it mirrors the original protocol's
// read(2)-until-it-stops-growing loop, which the server-side session
// uses to fill the final, possibly partial, DATA packet.
func ReadChunk(f *os.File, off int64, buf []byte) (int, error) {
	n, err := f.ReadAt(buf, off)
	if err != nil && err != io.EOF && n == 0 {
		return 0, errors.Wrap(err, "fileio: read at offset")
	}
	return n, nil
}
