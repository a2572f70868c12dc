package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/born-ml/zymctrl/internal/fsutil"
	"github.com/born-ml/zymctrl/internal/metrics"
	"github.com/born-ml/zymctrl/internal/serialization"
	"github.com/born-ml/zymctrl/internal/tensor"
)

// SaveInfo describes a committed checkpoint.
type SaveInfo struct {
	Handle            Handle
	Step              int64
	HeldOutPerplexity float64
	Pruned            []Handle
}

// Manager owns one checkpoint directory. Methods are safe for concurrent use.
type Manager struct {
	dir    string
	keep   int
	logger zerolog.Logger
	onSave func(context.Context, SaveInfo)

	// beforeCommit runs after the data is written and before the rename.
	beforeCommit func(path string) error

	mu sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithKeep retains only the newest n checkpoints. 0 keeps all.
func WithKeep(n int) Option {
	return func(m *Manager) { m.keep = n }
}

// WithLogger sets the manager logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithSaveHook registers a callback run after each committed save.
func WithSaveHook(fn func(context.Context, SaveInfo)) Option {
	return func(m *Manager) { m.onSave = fn }
}

// Open prepares dir, creating it if needed, and removes temp files left
// behind by interrupted saves.
func Open(dir string, opts ...Option) (*Manager, error) {
	dir, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("checkpoint dir %s: %w", dir, err)
	}
	m := &Manager{dir: dir, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(m)
	}
	if m.keep < 0 {
		return nil, fmt.Errorf("checkpoint keep must be >= 0, got %d", m.keep)
	}

	stale, _ := filepath.Glob(filepath.Join(dir, ".*.tmp-*"))
	for _, p := range stale {
		_ = os.Remove(p)
	}
	return m, nil
}

// Dir returns the managed directory.
func (m *Manager) Dir() string { return m.dir }

// Path returns the file path of h.
func (m *Manager) Path(h Handle) string { return filepath.Join(m.dir, string(h)) }

// Save writes c and makes it the latest checkpoint.
func (m *Manager) Save(ctx context.Context, c *Checkpoint) (h Handle, err error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.Step < 0 {
		return "", fmt.Errorf("checkpoint step must be >= 0, got %d", c.Step)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	defer func() { metrics.ObserveCheckpointSave(err) }()

	sd, header, err := encode(c)
	if err != nil {
		return "", err
	}

	h = handleFor(c.Step, uuid.NewString()[:8])
	path := m.Path(h)
	err = fsutil.WriteFileAtomic(path, func(f *os.File) error {
		if err := serialization.Write(f, sd, header); err != nil {
			return err
		}
		if m.beforeCommit != nil {
			return m.beforeCommit(f.Name())
		}
		return nil
	})
	if err != nil {
		m.logger.Error().Err(err).Int64("step", c.Step).Msg("checkpoint save failed")
		return "", fmt.Errorf("save checkpoint step %d: %w", c.Step, err)
	}

	if err = m.setLatest(h); err != nil {
		_ = os.Remove(path)
		m.logger.Error().Err(err).Int64("step", c.Step).Msg("checkpoint pointer update failed")
		return "", err
	}

	pruned := m.prune(h)
	m.logger.Info().
		Str("handle", string(h)).
		Int64("step", c.Step).
		Float64("held_out_ppl", c.Meta.HeldOutPerplexity).
		Int("pruned", len(pruned)).
		Msg("checkpoint saved")
	if m.onSave != nil {
		m.onSave(ctx, SaveInfo{Handle: h, Step: c.Step, HeldOutPerplexity: c.Meta.HeldOutPerplexity, Pruned: pruned})
	}
	return h, nil
}

func encode(c *Checkpoint) (tensor.StateDict, serialization.Header, error) {
	sd := make(tensor.StateDict, len(c.Weights)+len(c.Optimizer))
	for name, t := range c.Weights {
		sd[weightsPrefix+name] = t
	}
	for name, t := range c.Optimizer {
		sd[optimizerPrefix+name] = t
	}
	if len(c.Weights) == 0 {
		return nil, serialization.Header{}, errors.New("checkpoint has no weights")
	}

	created := c.Meta.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return sd, serialization.Header{
		Kind:      serialization.KindCheckpoint,
		CreatedAt: created,
		Metadata:  c.Meta.Extra,
		Checkpoint: &serialization.CheckpointMeta{
			RunID:             c.Meta.RunID,
			Epoch:             c.Meta.Epoch,
			Step:              c.Step,
			HeldOutPerplexity: c.Meta.HeldOutPerplexity,
			OptimizerType:     c.Meta.OptimizerType,
			OptimizerConfig:   c.Meta.OptimizerConfig,
		},
	}, nil
}

func (m *Manager) setLatest(h Handle) error {
	err := fsutil.WriteFileAtomic(filepath.Join(m.dir, LatestFile), func(f *os.File) error {
		_, err := f.WriteString(string(h) + "\n")
		return err
	})
	if err != nil {
		return fmt.Errorf("update %s: %w", LatestFile, err)
	}
	return nil
}

// Load reads the checkpoint named by h.
func (m *Manager) Load(h Handle) (*Checkpoint, error) {
	if !h.valid() {
		return nil, fmt.Errorf("%w: invalid handle %q", ErrCheckpointUnavailable, h)
	}
	sd, header, err := serialization.ReadFile(m.Path(h))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCheckpointUnavailable, h, err)
	}
	if header.Kind != serialization.KindCheckpoint || header.Checkpoint == nil {
		return nil, fmt.Errorf("%w: %s is a %q file", ErrCheckpointUnavailable, h, header.Kind)
	}

	c := &Checkpoint{
		Step:      header.Checkpoint.Step,
		Weights:   make(tensor.StateDict),
		Optimizer: make(tensor.StateDict),
		Meta: Meta{
			CreatedAt:         header.CreatedAt,
			HeldOutPerplexity: header.Checkpoint.HeldOutPerplexity,
			RunID:             header.Checkpoint.RunID,
			Epoch:             header.Checkpoint.Epoch,
			OptimizerType:     header.Checkpoint.OptimizerType,
			OptimizerConfig:   header.Checkpoint.OptimizerConfig,
			Extra:             header.Metadata,
		},
	}
	for name, t := range sd {
		switch {
		case strings.HasPrefix(name, weightsPrefix):
			c.Weights[strings.TrimPrefix(name, weightsPrefix)] = t
		case strings.HasPrefix(name, optimizerPrefix):
			c.Optimizer[strings.TrimPrefix(name, optimizerPrefix)] = t
		default:
			return nil, fmt.Errorf("%w: %s: unexpected tensor %q", ErrCheckpointUnavailable, h, name)
		}
	}
	return c, nil
}

// Latest returns the handle LATEST points to. ok is false when no
// checkpoint has been committed yet.
func (m *Manager) Latest() (Handle, bool, error) {
	b, err := os.ReadFile(filepath.Join(m.dir, LatestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", LatestFile, err)
	}
	h := Handle(strings.TrimSpace(string(b)))
	if !h.valid() {
		return "", false, fmt.Errorf("%w: %s holds %q", ErrCheckpointUnavailable, LatestFile, h)
	}
	return h, true, nil
}

// LoadLatest loads the checkpoint LATEST points to.
func (m *Manager) LoadLatest() (*Checkpoint, Handle, error) {
	h, ok, err := m.Latest()
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", fmt.Errorf("%w: no checkpoint in %s", ErrCheckpointUnavailable, m.dir)
	}
	c, err := m.Load(h)
	return c, h, err
}

// List returns the checkpoints in the directory, oldest step first.
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", m.dir, err)
	}
	latest, _, _ := m.Latest()

	var out []Info
	for _, e := range entries {
		h := Handle(e.Name())
		if e.IsDir() || !h.valid() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		step, _ := h.Step()
		out = append(out, Info{Handle: h, Step: step, Size: fi.Size(), ModTime: fi.ModTime(), Latest: h == latest})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Step != out[j].Step {
			return out[i].Step < out[j].Step
		}
		return out[i].ModTime.Before(out[j].ModTime)
	})
	return out, nil
}

// prune deletes all but the newest keep checkpoints. current is never
// deleted. Caller holds m.mu.
func (m *Manager) prune(current Handle) []Handle {
	if m.keep == 0 {
		return nil
	}
	infos, err := m.List()
	if err != nil || len(infos) <= m.keep {
		return nil
	}

	var pruned []Handle
	for _, info := range infos[:len(infos)-m.keep] {
		if info.Handle == current || info.Latest {
			continue
		}
		if err := os.Remove(m.Path(info.Handle)); err != nil {
			m.logger.Warn().Err(err).Str("handle", string(info.Handle)).Msg("checkpoint prune failed")
			continue
		}
		pruned = append(pruned, info.Handle)
	}
	return pruned
}
