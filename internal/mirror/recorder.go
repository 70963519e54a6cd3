package mirror

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/hublink/internal/hub/wire"
)

const (
	defaultRecorderQueue = 512
	recordTimeout        = 5 * time.Second
	pruneInterval        = time.Hour
)

// RecorderStats holds recorder counters.
type RecorderStats struct {
	Queued   int    `json:"queued"`
	Recorded uint64 `json:"recorded"`
	Dropped  uint64 `json:"dropped"`
	Failed   uint64 `json:"failed"`
	Pruned   uint64 `json:"pruned"`
}

// Recorder writes mirror changes to a HistoryStore from its own goroutine
// so a slow disk never stalls event dispatch. When the queue is full new
// changes are dropped and counted.
type Recorder struct {
	store     *HistoryStore
	retention time.Duration
	queue     chan wire.State

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex

	recorded atomic.Uint64
	dropped  atomic.Uint64
	failed   atomic.Uint64
	pruned   atomic.Uint64
}

// NewRecorder creates a recorder. retention > 0 prunes older rows hourly.
func NewRecorder(store *HistoryStore, queueSize int, retention time.Duration) *Recorder {
	if queueSize <= 0 {
		queueSize = defaultRecorderQueue
	}
	return &Recorder{
		store:     store,
		retention: retention,
		queue:     make(chan wire.State, queueSize),
		done:      make(chan struct{}),
	}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	r.logger = logger
	r.loggerMu.Unlock()
}

// Start launches the writer and, with a retention set, the pruner.
func (r *Recorder) Start() {
	r.startOnce.Do(func() {
		r.wg.Add(1)
		go r.run()
		if r.retention > 0 {
			r.wg.Add(1)
			go r.pruneLoop()
		}
	})
}

// Close writes what is queued and stops.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
}

// Handle queues a change. Removals are not recorded. Pass it to
// Mirror.OnChange.
func (r *Recorder) Handle(c Change) {
	if c.New == nil {
		return
	}
	select {
	case <-r.done:
		return
	default:
	}

	select {
	case r.queue <- *c.New:
	default:
		if r.dropped.Add(1) == 1 {
			r.logWarn("history queue full, dropping state changes", "entity_id", c.EntityID)
		}
	}
}

// Stats returns current counters.
func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Queued:   len(r.queue),
		Recorded: r.recorded.Load(),
		Dropped:  r.dropped.Load(),
		Failed:   r.failed.Load(),
		Pruned:   r.pruned.Load(),
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for {
		select {
		case s := <-r.queue:
			r.record(s)
		case <-r.done:
			for {
				select {
				case s := <-r.queue:
					r.record(s)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) record(s wire.State) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := r.store.Record(ctx, s); err != nil {
		r.failed.Add(1)
		r.logWarn("recording state history failed", "entity_id", s.EntityID, "error", err)
		return
	}
	r.recorded.Add(1)
}

func (r *Recorder) pruneLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	r.prune()
	for {
		select {
		case <-ticker.C:
			r.prune()
		case <-r.done:
			return
		}
	}
}

func (r *Recorder) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := r.store.Prune(ctx, r.retention)
	if err != nil {
		r.logWarn("pruning state history failed", "error", err)
		return
	}
	if n > 0 {
		r.pruned.Add(uint64(n)) // #nosec G115 -- RowsAffected is never negative
		r.logDebug("pruned state history", "rows", n)
	}
}

func (r *Recorder) getLogger() Logger {
	r.loggerMu.RLock()
	defer r.loggerMu.RUnlock()
	return r.logger
}

func (r *Recorder) logDebug(msg string, args ...any) {
	if logger := r.getLogger(); logger != nil {
		logger.Debug(msg, args...)
	}
}

func (r *Recorder) logWarn(msg string, args ...any) {
	if logger := r.getLogger(); logger != nil {
		logger.Warn(msg, args...)
	}
}
