// Package session implements the Session Manager (C7): creating a new
// upload session or resuming an existing one, validating file identity on
// resume, and loading the in-memory hash vector the orchestrator needs for
// finalisation.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/wilsonzlin/ltsu/internal/backend"
	"github.com/wilsonzlin/ltsu/internal/fileref"
	"github.com/wilsonzlin/ltsu/internal/state"
)

// ErrFileChanged is returned on resume when the file's identity no longer
// matches what the session recorded, and force was not requested.
var ErrFileChanged = errors.New("session: file has changed since this session was created")

// ErrFileTooSmall/ErrFileTooBig are returned when the computed part count
// falls outside the backend's limits (§4.7).
var (
	ErrFileTooSmall = errors.New("session: file too small for this backend's part limits")
	ErrFileTooBig   = errors.New("session: file too big for this backend's part limits")
)

// Handle is a resumed or freshly created session together with the
// in-memory hash vector loaded from the State Store. A nil entry marks a
// part still pending. Workers call RecordPartHash concurrently (one per
// completed part upload), so mutation of Hashes/PartsCompleted is guarded
// by mu; Session and the initially-loaded Hashes/PartsCompleted may be read
// freely before any worker starts.
type Handle struct {
	Session state.Session
	Hashes  [][]byte

	mu             sync.Mutex
	PartsCompleted int
}

// Open reads or creates the session document for f, validating identity on
// resume. force bypasses the file-identity check (§4.7 step 2, §9).
func Open(ctx context.Context, store *state.Store, b backend.Backend, f fileref.File, force bool) (*Handle, error) {
	sess, ok, err := store.ReadSession()
	if err != nil {
		return nil, err
	}

	if !ok {
		sess, err = create(ctx, store, b, f)
		if err != nil {
			return nil, err
		}
	} else if err := validate(sess, f, force); err != nil {
		return nil, err
	}

	hashes, completed, err := loadHashes(store, sess.PartsNeeded)
	if err != nil {
		return nil, err
	}

	return &Handle{Session: sess, Hashes: hashes, PartsCompleted: completed}, nil
}

func create(ctx context.Context, store *state.Store, b backend.Backend, f fileref.File) (state.Session, error) {
	limits := b.Limits()

	ideal, err := b.IdealPartSize(ctx, f.Size)
	if err != nil {
		return state.Session{}, errors.WithStack(err)
	}

	partSize := clamp(ideal, limits.MinPartSize, limits.MaxPartSize)
	partsNeeded := ceilDiv(f.Size, partSize)

	if partsNeeded < limits.MinParts {
		return state.Session{}, errors.WithStack(ErrFileTooSmall)
	}
	if partsNeeded > limits.MaxParts {
		return state.Session{}, errors.WithStack(ErrFileTooBig)
	}

	uploadID, err := b.Initiate(ctx, f.Path, partSize)
	if err != nil {
		return state.Session{}, errors.WithStack(err)
	}

	sess := state.Session{
		UploadID:        uploadID,
		FilePath:        f.Path,
		FileLastChanged: f.LastModified,
		PartSize:        partSize,
		PartsNeeded:     partsNeeded,
	}

	if err := store.WriteSession(sess); err != nil {
		return state.Session{}, err
	}

	return sess, nil
}

func validate(sess state.Session, f fileref.File, force bool) error {
	if force {
		return nil
	}
	if sess.FilePath != f.Path || sess.FileLastChanged != f.LastModified {
		return errors.WithStack(ErrFileChanged)
	}
	return nil
}

func loadHashes(store *state.Store, partsNeeded int) ([][]byte, int, error) {
	hashes := make([][]byte, partsNeeded)
	completed := 0
	for i := 0; i < partsNeeded; i++ {
		hash, ok, err := store.ReadPartHash(i)
		if err != nil {
			return nil, 0, err
		}
		if ok {
			hashes[i] = hash
			completed++
		}
	}
	return hashes, completed, nil
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func ceilDiv(a, b int64) int {
	if b <= 0 {
		return 0
	}
	n := a / b
	if a%b != 0 {
		n++
	}
	return int(n)
}

// MissingParts returns the indices in h.Hashes that are still nil.
func (h *Handle) MissingParts() []int {
	var missing []int
	for i, hash := range h.Hashes {
		if hash == nil {
			missing = append(missing, i)
		}
	}
	return missing
}

// RecordPartHash persists a part's hash both to the store and the in-memory
// vector, and returns the completed-part count after recording it. Called
// only after the backend confirms durability (§4.7). Safe for concurrent
// use by multiple scheduler workers, each recording a distinct part index.
func (h *Handle) RecordPartHash(store *state.Store, index int, hash []byte) (int, error) {
	if err := store.WritePartHash(index, hash); err != nil {
		return 0, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.Hashes[index] = hash
	h.PartsCompleted++
	return h.PartsCompleted, nil
}

// CompletedCount returns the current number of recorded part hashes.
func (h *Handle) CompletedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.PartsCompleted
}

// Ready reports whether every part has a recorded hash, the precondition
// for finalisation.
func (h *Handle) Ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, hash := range h.Hashes {
		if hash == nil {
			return false
		}
	}
	return true
}

func (h *Handle) String() string {
	return fmt.Sprintf("session{upload=%s parts=%d/%d}", h.Session.UploadID, h.CompletedCount(), h.Session.PartsNeeded)
}
