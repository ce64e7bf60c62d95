// Package fileref resolves the upload target on disk into the stable
// identity a Session is pinned against: path, exact size and a
// stringifiable last-modified timestamp.
package fileref

import (
	"os"
	"time"

	"github.com/pkg/errors"
)

// File describes the upload target. It is immutable for the duration of an
// upload session: resuming validates the current file against the values
// recorded when the session was created.
type File struct {
	Path         string
	Size         int64
	LastModified string // RFC-3339, stable across re-stat calls on an untouched file
}

// Stat resolves path into a File, rejecting anything that isn't a regular
// file.
func Stat(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, errors.Wrap(err, "fileref: stat")
	}

	if !info.Mode().IsRegular() {
		return File{}, errors.Errorf("fileref: %q is not a regular file", path)
	}

	return File{
		Path:         path,
		Size:         info.Size(),
		LastModified: info.ModTime().UTC().Format(time.RFC3339Nano),
	}, nil
}
