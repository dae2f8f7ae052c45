package chunker

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jonesrussell/north-cloud/reader/internal/apperrors"
	"github.com/jonesrussell/north-cloud/reader/internal/cleanup"
	"github.com/jonesrussell/north-cloud/reader/internal/logger"
)

const (
	defaultBatchSize    = 1
	defaultTickInterval = 16 * time.Millisecond
)

// Config controls partitioning and pacing.
type Config struct {
	ChunkSize    int           `json:"chunk_size"    yaml:"chunk_size"`
	ShowProgress bool          `json:"show_progress" yaml:"show_progress"`
	BatchSize    int           `json:"batch_size"    yaml:"batch_size"`
	TickInterval time.Duration `json:"tick_interval" yaml:"tick_interval"`
}

// Validate checks the chunk size and fills pacing defaults.
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		return apperrors.NewConfigurationError("chunker", "chunk_size", "must be > 0, got %d", c.ChunkSize)
	}
	if c.BatchSize < 0 {
		return apperrors.NewConfigurationError("chunker", "batch_size", "must be >= 0, got %d", c.BatchSize)
	}
	if c.BatchSize == 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.TickInterval <= 0 {
		c.TickInterval = defaultTickInterval
	}
	return nil
}

// State is the chunk state of one piece of content.
type State struct {
	ContentID string   `json:"content_id"`
	Segments  []string `json:"-"`
	Revealed  int      `json:"revealed"`
	Total     int      `json:"total"`
}

// Progress is Revealed/Total; empty content counts as fully revealed.
func (s State) Progress() float64 {
	if s.Total == 0 {
		return 1
	}
	return float64(s.Revealed) / float64(s.Total)
}

// Done reports whether every segment has been revealed.
func (s State) Done() bool {
	return s.Revealed >= s.Total
}

// Reveal is one tick's worth of newly revealed segments.
type Reveal struct {
	ContentID  string   `json:"content_id"`
	Segments   []string `json:"segments"`
	FirstIndex int      `json:"first_index"`
	Revealed   int      `json:"revealed"`
	Total      int      `json:"total"`
	Progress   float64  `json:"progress"`
	Done       bool     `json:"done"`
}

// Revealer hands out the segments of one content at a time, a bounded
// batch per tick. Loading different content restarts from segment zero.
//
// Cancel is registered with the owning view's cleanup registry. Once it
// returns, no segment is revealed and no Run callback is invoked again.
// Callbacks passed to Run must not call Cancel themselves.
type Revealer struct {
	cfg     Config
	log     logger.Logger
	limiter *rate.Limiter

	// cbMu is held across each Run callback so Cancel can wait it out.
	cbMu sync.Mutex

	mu         sync.Mutex
	state      State
	generation uint64
	cancelled  bool
}

// NewRevealer validates cfg and registers the revealer's teardown with reg.
func NewRevealer(cfg Config, reg *cleanup.Registry, log logger.Logger) (*Revealer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Revealer{
		cfg:     cfg,
		log:     logger.OrNop(log).With(logger.Component("chunker")),
		limiter: rate.NewLimiter(rate.Every(cfg.TickInterval), 1),
	}
	if reg != nil {
		reg.Register(r.Cancel)
	}
	return r, nil
}

// Config returns the validated configuration.
func (r *Revealer) Config() Config {
	return r.cfg
}

// Load prepares content for revelation. Loading the content that is
// already loaded keeps its progress; anything else resets to zero. It
// reports whether the state was reset.
func (r *Revealer) Load(contentID, content string, format Format) (bool, error) {
	r.mu.Lock()
	if r.cancelled {
		r.mu.Unlock()
		return false, ErrCancelled
	}
	if r.state.ContentID == contentID && r.state.Segments != nil {
		r.mu.Unlock()
		return false, nil
	}
	r.mu.Unlock()

	segments, err := Partition(content, r.cfg.ChunkSize, format, r.log)
	if err != nil {
		return false, err
	}
	if segments == nil {
		segments = []string{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelled {
		return false, ErrCancelled
	}
	r.generation++
	r.state = State{ContentID: contentID, Segments: segments, Total: len(segments)}
	r.log.Debug("Content loaded",
		logger.String("content_id", contentID),
		logger.Int("segments", len(segments)),
		logger.Int("bytes", len(content)),
	)
	return true, nil
}

// Next reveals up to one batch of segments. It returns false when there is
// nothing left to reveal or the revealer was cancelled.
func (r *Revealer) Next() (Reveal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextLocked()
}

func (r *Revealer) nextLocked() (Reveal, bool) {
	if r.cancelled || r.state.Segments == nil || r.state.Revealed >= r.state.Total {
		return Reveal{}, false
	}
	first := r.state.Revealed
	last := min(first+r.cfg.BatchSize, r.state.Total)
	r.state.Revealed = last

	return Reveal{
		ContentID:  r.state.ContentID,
		Segments:   r.state.Segments[first:last:last],
		FirstIndex: first,
		Revealed:   last,
		Total:      r.state.Total,
		Progress:   r.state.Progress(),
		Done:       r.state.Done(),
	}, true
}

// Run reveals the loaded content on a paced schedule, calling onReveal
// once per tick, until everything is revealed (nil), ctx ends (ctx.Err()),
// the revealer is cancelled (ErrCancelled), or other content is loaded
// (ErrSuperseded). Content that is already fully revealed returns nil
// without invoking onReveal.
func (r *Revealer) Run(ctx context.Context, onReveal func(Reveal)) error {
	r.mu.Lock()
	gen := r.generation
	r.mu.Unlock()

	for {
		if err := r.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}

		r.cbMu.Lock()
		r.mu.Lock()
		switch {
		case r.cancelled:
			r.mu.Unlock()
			r.cbMu.Unlock()
			return ErrCancelled
		case r.generation != gen:
			r.mu.Unlock()
			r.cbMu.Unlock()
			return ErrSuperseded
		}
		rev, ok := r.nextLocked()
		r.mu.Unlock()
		if !ok {
			r.cbMu.Unlock()
			return nil
		}
		onReveal(rev)
		r.cbMu.Unlock()

		if rev.Done {
			return nil
		}
	}
}

// Cancel stops revelation for good. It waits for a callback that is
// already running and is safe to call any number of times.
func (r *Revealer) Cancel() {
	r.cbMu.Lock()
	defer r.cbMu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelled {
		return
	}
	r.cancelled = true
	r.log.Debug("Revealer cancelled",
		logger.String("content_id", r.state.ContentID),
		logger.Int("revealed", r.state.Revealed),
		logger.Int("total", r.state.Total),
	)
}

// Cancelled reports whether Cancel has run.
func (r *Revealer) Cancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

// State returns a snapshot of the current chunk state.
func (r *Revealer) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Revealed returns the segments revealed so far.
func (r *Revealer) Revealed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Segments[:r.state.Revealed:r.state.Revealed]
}

// Progress is the revealed fraction of the current content.
func (r *Revealer) Progress() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Progress()
}
