// Package checkpoint persists training state in a directory of .born files.
//
// Every save goes to a temp file that is synced and renamed into place, and
// only then is the LATEST pointer replaced the same way. A reader that goes
// through LATEST therefore never sees a partial checkpoint, and a failed
// save leaves the previous checkpoint current.
//
// Layout:
//
//	<dir>/step-00000040-1f0c9a2e.born
//	<dir>/step-00000050-77d1b3c4.born
//	<dir>/LATEST                      (contains "step-00000050-77d1b3c4.born")
package checkpoint

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/born-ml/zymctrl/internal/tensor"
)

// ErrCheckpointUnavailable is returned for a checkpoint that is missing or
// cannot be trusted.
var ErrCheckpointUnavailable = errors.New("checkpoint unavailable")

// Tensor namespaces inside a checkpoint file.
const (
	weightsPrefix   = "model."
	optimizerPrefix = "optim."
)

// LatestFile names the pointer file.
const LatestFile = "LATEST"

// Meta describes a checkpoint.
type Meta struct {
	CreatedAt         time.Time
	HeldOutPerplexity float64
	RunID             string
	Epoch             int
	OptimizerType     string
	OptimizerConfig   map[string]float64
	// Extra is stored as header metadata (e.g. the vocabulary).
	Extra map[string]string
}

// Checkpoint is a complete training state snapshot.
type Checkpoint struct {
	Step      int64
	Weights   tensor.StateDict
	Optimizer tensor.StateDict
	Meta      Meta
}

// Handle names a saved checkpoint within its directory.
type Handle string

// Step parses the step number out of the handle.
func (h Handle) Step() (int64, bool) {
	rest, ok := strings.CutPrefix(string(h), "step-")
	if !ok {
		return 0, false
	}
	num, _, ok := strings.Cut(rest, "-")
	if !ok {
		return 0, false
	}
	step, err := strconv.ParseInt(num, 10, 64)
	return step, err == nil
}

func (h Handle) valid() bool {
	s := string(h)
	if !strings.HasSuffix(s, ".born") || strings.ContainsAny(s, `/\`) || strings.HasPrefix(s, ".") {
		return false
	}
	_, ok := h.Step()
	return ok
}

func handleFor(step int64, id string) Handle {
	return Handle(fmt.Sprintf("step-%08d-%s.born", step, id))
}

// Info is a directory entry returned by List.
type Info struct {
	Handle  Handle
	Step    int64
	Size    int64
	ModTime time.Time
	Latest  bool
}
