// Package orchestrator drives the upload lifecycle (C8): resume-or-new,
// enumerate missing parts, upload them through the scheduler, finalise, and
// report progress along the way.
package orchestrator

import (
	"context"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/wilsonzlin/ltsu/internal/backend"
	"github.com/wilsonzlin/ltsu/internal/fileref"
	"github.com/wilsonzlin/ltsu/internal/log"
	"github.com/wilsonzlin/ltsu/internal/part"
	"github.com/wilsonzlin/ltsu/internal/progress"
	"github.com/wilsonzlin/ltsu/internal/scheduler"
	"github.com/wilsonzlin/ltsu/internal/session"
	"github.com/wilsonzlin/ltsu/internal/state"
)

// State names the orchestrator's lifecycle stages (§4.8). They only ever
// advance forward; any error aborts the run.
type State int

const (
	StateInit State = iota
	StateResumeOrNew
	StateEnumerate
	StateUpload
	StateFinalise
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateResumeOrNew:
		return "resume_or_new"
	case StateEnumerate:
		return "enumerate"
	case StateUpload:
		return "upload"
	case StateFinalise:
		return "finalise"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// ChecksumMismatchClassifier lets a backend-specific error be recognised as
// a checksum mismatch without the scheduler depending on any backend
// package.
type ChecksumMismatchClassifier func(err error) bool

// Options configures a single upload run.
type Options struct {
	FilePath    string
	Concurrency int
	Force       bool

	IsChecksumMismatch ChecksumMismatchClassifier
}

// mismatchDetector adapts a ChecksumMismatchClassifier to
// scheduler.MismatchDetector.
type mismatchDetector struct {
	classify ChecksumMismatchClassifier
}

func (d mismatchDetector) IsChecksumMismatch(err error) bool {
	if d.classify == nil {
		return false
	}
	return d.classify(err)
}

// Orchestrator runs one upload to completion against a given backend and
// working directory.
type Orchestrator struct {
	logger   log.Logger
	store    *state.Store
	backend  backend.Backend
	reporter *progress.Reporter
	opts     Options

	state State
}

// New builds an Orchestrator. store and backend must already be open/
// authenticated.
func New(logger log.Logger, store *state.Store, b backend.Backend, reporter *progress.Reporter, opts Options) *Orchestrator {
	if opts.Concurrency < 1 {
		opts.Concurrency = 3
	}
	return &Orchestrator{logger: logger, store: store, backend: b, reporter: reporter, opts: opts}
}

// State returns the lifecycle stage the orchestrator last entered.
func (o *Orchestrator) State() State {
	return o.state
}

func (o *Orchestrator) enter(s State) {
	o.state = s
	o.logger.Debugf("orchestrator: entering state %s", s)
}

// Run drives the full lifecycle to completion or returns the first fatal
// error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.enter(StateInit)
	o.logger.Infof("orchestrator: starting upload of %s", o.opts.FilePath)

	f, err := fileref.Stat(o.opts.FilePath)
	if err != nil {
		return errors.WithStack(err)
	}

	o.enter(StateResumeOrNew)
	handle, err := session.Open(ctx, o.store, o.backend, f, o.opts.Force)
	if err != nil {
		return err
	}
	o.logger.Infof("orchestrator: %s", handle)

	o.enter(StateEnumerate)
	missing := handle.MissingParts()
	plan := part.Plan(f.Size, handle.Session.PartSize)

	o.reporter.Update(progress.Snapshot{Percent: 0, PartsDone: handle.CompletedCount(), PartsTotal: handle.Session.PartsNeeded})

	o.enter(StateUpload)
	if len(missing) > 0 {
		file, err := os.Open(o.opts.FilePath)
		if err != nil {
			return errors.WithStack(err)
		}
		defer file.Close()

		if err := o.upload(ctx, handle, plan, missing, file); err != nil {
			return err
		}
	}

	o.enter(StateFinalise)
	o.reporter.Update(progress.Snapshot{Percent: 0.99, PartsDone: handle.CompletedCount(), PartsTotal: handle.Session.PartsNeeded})

	if err := o.backend.Complete(ctx, handle.Session.UploadID, f.Size, handle.Hashes); err != nil {
		return err
	}

	o.enter(StateDone)
	o.logger.Infof("orchestrator: upload complete, upload id %s", handle.Session.UploadID)
	return nil
}

func (o *Orchestrator) upload(ctx context.Context, handle *session.Handle, plan []part.Part, missing []int, file *os.File) error {
	sched := scheduler.New(o.logger, o.opts.Concurrency, mismatchDetector{classify: o.opts.IsChecksumMismatch})

	tasks := make([]scheduler.Task, len(missing))
	for i, idx := range missing {
		p := plan[idx]
		tasks[i] = scheduler.Task{
			PartIndex: idx,
			Run: func(ctx context.Context) error {
				factory := sectionFactory(file, p)
				hash, err := o.backend.UploadPart(ctx, handle.Session.UploadID, p, factory)
				if err != nil {
					return err
				}
				completed, err := handle.RecordPartHash(o.store, p.Index, hash)
				if err != nil {
					return err
				}
				o.reporter.Update(progress.Snapshot{
					Percent:    minFloat(0.99, float64(completed)/float64(handle.Session.PartsNeeded)),
					PartsDone:  completed,
					PartsTotal: handle.Session.PartsNeeded,
				})
				return nil
			},
		}
	}

	return sched.Run(ctx, tasks)
}

func sectionFactory(file *os.File, p part.Part) backend.StreamFactory {
	return func() (io.ReadSeeker, error) {
		return io.NewSectionReader(file, p.Start, p.Size()), nil
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
