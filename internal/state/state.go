// Package state implements the State Store (C1): a durable key→bytes
// mapping over a working directory exclusive to one upload, plus the
// session document namespace layered on top of it.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const (
	sessionKey   = "session"
	lockFileName = ".lock"
	fileMode     = 0o600
)

// Session is the resumable handle persisted once per upload (§3). It is
// never rewritten after creation.
type Session struct {
	UploadID        string `json:"uploadId"`
	FilePath        string `json:"filePath"`
	FileLastChanged string `json:"fileLastChanged"`
	PartSize        int64  `json:"partSize"`
	PartsNeeded     int    `json:"partsNeeded"`
}

// Store is a filesystem-backed key→bytes mapping rooted at a working
// directory. The directory is assumed exclusive to one upload: Open takes an
// advisory lock for the lifetime of the Store to catch the common mistake of
// running two instances against the same directory.
type Store struct {
	dir      string
	lockFile *os.File
}

// Open acquires the working directory for exclusive use. dir must already
// exist and be a directory.
func Open(dir string) (*Store, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, errors.WithStack(newError("", ErrorCodeOpeningFile, err))
	}
	if !info.IsDir() {
		return nil, errors.WithStack(newError("", ErrorCodeOpeningFile, fmt.Errorf("%q is not a directory", dir)))
	}

	lockPath := filepath.Join(dir, lockFileName)
	lockFile, err := os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE, fileMode)
	if err != nil {
		return nil, errors.WithStack(newError(lockFileName, ErrorCodeOpeningFile, err))
	}

	if err := lockExclusive(lockFile); err != nil {
		lockFile.Close()
		return nil, errors.WithStack(newError(lockFileName, ErrorCodeLocked, err))
	}

	return &Store{dir: dir, lockFile: lockFile}, nil
}

// Close releases the working directory lock. It does not delete any data.
func (s *Store) Close() error {
	if s.lockFile == nil {
		return nil
	}
	unlock(s.lockFile)
	return s.lockFile.Close()
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key)
}

// Read returns the bytes stored under key, or ok=false if the key has never
// been written. Any other I/O error is returned as err.
func (s *Store) Read(key string) (data []byte, ok bool, err error) {
	data, err = os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, errors.WithStack(newError(key, ErrorCodeOpeningFile, err))
	}
	return data, true, nil
}

// Write durably overwrites the bytes stored under key, via a write-then-
// rename so a crash mid-write never leaves a partially written file behind.
func (s *Store) Write(key string, data []byte) error {
	final := s.path(key)
	tmp := final + ".tmp"

	if err := os.WriteFile(tmp, data, fileMode); err != nil {
		return errors.WithStack(newError(key, ErrorCodeWritingFile, err))
	}

	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return errors.WithStack(newError(key, ErrorCodeWritingFile, err))
	}

	return nil
}

// ReadSession loads the session document, or ok=false if one has never been
// written. A malformed document (present but undecodable) is a distinct
// error from absence.
func (s *Store) ReadSession() (sess Session, ok bool, err error) {
	data, ok, err := s.Read(sessionKey)
	if err != nil || !ok {
		return Session{}, ok, err
	}

	if err := json.Unmarshal(data, &sess); err != nil {
		return Session{}, false, errors.WithStack(newError(sessionKey, ErrorCodeDecodingSession, err))
	}

	return sess, true, nil
}

// WriteSession persists the session document. It is written exactly once
// per upload by the Session Manager; callers must not call it again for an
// existing session.
func (s *Store) WriteSession(sess Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return errors.WithStack(newError(sessionKey, ErrorCodeWritingFile, err))
	}
	return s.Write(sessionKey, data)
}

// PartHashKey is the on-disk key for a part's persisted hash.
func PartHashKey(index int) string {
	return fmt.Sprintf("state_%d.parthash", index)
}

// ReadPartHash returns the stored hash for a part, or ok=false if the part
// hasn't completed yet.
func (s *Store) ReadPartHash(index int) (hash []byte, ok bool, err error) {
	return s.Read(PartHashKey(index))
}

// WritePartHash persists the hash backend confirmed for a part. This is the
// durability point: a stored hash means the part's bytes are durable on the
// service (§3).
func (s *Store) WritePartHash(index int, hash []byte) error {
	return s.Write(PartHashKey(index), hash)
}
