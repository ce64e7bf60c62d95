// Package progress implements the Progress Reporter (C9): a throttled,
// single-line textual progress display built on cheggaaa/pb. Log writes
// plain lines to stderr; it does not clear or redraw the bar. Non-TTY
// streams and --quiet disable
// rendering entirely; the orchestrator's terminal success/error lines are
// unaffected either way.
package progress

import (
	"fmt"
	"os"
	"sync"

	"github.com/cheggaaa/pb/v3"
	"github.com/mattn/go-isatty"
)

// Snapshot is the set of values the bar's template can reference.
type Snapshot struct {
	Percent    float64
	PartsDone  int
	PartsTotal int
}

// Reporter renders Snapshots to a TTY, suppressing redraws when nothing
// changed since the last Update.
type Reporter struct {
	mu      sync.Mutex
	bar     *pb.ProgressBar
	last    Snapshot
	started bool
	enabled bool
}

const tmpl = `{{ "Uploading" }} {{counters . }} parts {{bar . }} {{percent . }}`

// New builds a Reporter. It renders only when out is a terminal and quiet
// is false; callers should still call Update/Log unconditionally, since a
// disabled Reporter's methods are no-ops.
func New(out *os.File, quiet bool) *Reporter {
	enabled := !quiet && isTerminal(out)
	return &Reporter{enabled: enabled}
}

func isTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Update redraws the bar if the snapshot differs from the last one shown.
func (r *Reporter) Update(s Snapshot) {
	if !r.enabled {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started && s == r.last {
		return
	}
	r.last = s

	if !r.started {
		r.bar = pb.New64(int64(s.PartsTotal))
		r.bar.SetTemplateString(tmpl)
		r.bar.Start()
		r.started = true
	}

	r.bar.SetTotal(int64(s.PartsTotal))
	r.bar.SetCurrent(int64(s.PartsDone))
}

// Log writes msg as one line to stderr. It does not clear the bar's line
// before writing or redraw the bar afterwards; the bar is next drawn on the
// bar library's own refresh.
func (r *Reporter) Log(msg string) {
	fmt.Fprintln(os.Stderr, msg)
}

// Finish stops the bar, if one was ever started, leaving the final state on
// screen.
func (r *Reporter) Finish() {
	if !r.enabled {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		r.bar.Finish()
	}
}
