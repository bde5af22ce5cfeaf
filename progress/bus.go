// Package progress decouples the import orchestrator from its status
// observers. A Bus holds the latest reported state per job key so polling
// clients never miss the current snapshot, and fans events out to any number
// of push subscribers. One Bus is constructed per process and injected into
// the orchestrator and the HTTP layer.
package progress

import (
	"sync"
	"time"
)

// Stage is one discrete phase of the import pipeline.
type Stage string

const (
	StageInitializing     Stage = "initializing"
	StageResolvingArtist  Stage = "resolving-artist"
	StageFetchingCatalog  Stage = "fetching-catalog"
	StageFetchingSongs    Stage = "fetching-songs"
	StageFetchingShows    Stage = "fetching-shows"
	StageFetchingSetlists Stage = "fetching-setlists"
	StagePersisting       Stage = "persisting"
	StageCompleted        Stage = "completed"
	StageFailed           Stage = "failed"
)

var stageOrder = map[Stage]int{
	StageInitializing:     0,
	StageResolvingArtist:  1,
	StageFetchingCatalog:  2,
	StageFetchingSongs:    3,
	StageFetchingShows:    4,
	StageFetchingSetlists: 5,
	StagePersisting:       6,
	StageCompleted:        7,
	StageFailed:           7,
}

// Order returns the stage's position in the pipeline. Both terminal stages
// share the highest position.
func (s Stage) Order() int {
	return stageOrder[s]
}

// Terminal reports whether the stage ends a job.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// Update is one progress report for a job. Error is empty except on failure
// reports.
type Update struct {
	JobKey    string    `json:"job_key"`
	Stage     Stage     `json:"stage"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// subscriber channels are buffered; when a slow consumer fills its buffer the
// oldest pending update is dropped so the producer never blocks. Stage order
// is non-decreasing, so dropped intermediates never violate monotonicity.
const subscriberBuffer = 16

type entry struct {
	last Update
	subs map[int]chan Update
}

type Bus struct {
	mu     sync.Mutex
	jobs   map[string]*entry
	nextID int
	grace  time.Duration
	now    func() time.Time
}

// NewBus creates a Bus that keeps terminal job state around for grace before
// eviction.
func NewBus(grace time.Duration) *Bus {
	return &Bus{
		jobs:  make(map[string]*entry),
		grace: grace,
		now:   time.Now,
	}
}

// Begin atomically claims a job key. It returns false when a non-terminal
// entry already exists, which gives the orchestrator single-flight semantics
// per artist. On success the initializing state is recorded and published.
func (b *Bus) Begin(jobKey string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evictLocked()

	subs := make(map[int]chan Update)
	if e, ok := b.jobs[jobKey]; ok {
		if e.last.Stage != "" && !e.last.Stage.Terminal() {
			return false
		}
		// Carry subscribers of an earlier run over to the new one.
		subs = e.subs
	}

	u := Update{
		JobKey:    jobKey,
		Stage:     StageInitializing,
		Message:   "import queued",
		UpdatedAt: b.now(),
	}
	b.jobs[jobKey] = &entry{last: u, subs: subs}
	for _, ch := range subs {
		select {
		case ch <- u:
		default:
		}
	}
	return true
}

// Report records the latest state for jobKey and publishes it to current
// subscribers. Safe with no subscribers. Reports after a terminal stage are
// dropped, so each job emits exactly one terminal event.
func (b *Bus) Report(jobKey string, stage Stage, pct int, message, errDetail string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.jobs[jobKey]
	if !ok {
		e = &entry{subs: make(map[int]chan Update)}
		b.jobs[jobKey] = e
	}
	if e.last.Stage != "" && e.last.Stage.Terminal() {
		return
	}

	u := Update{
		JobKey:    jobKey,
		Stage:     stage,
		Progress:  pct,
		Message:   message,
		Error:     errDetail,
		UpdatedAt: b.now(),
	}
	e.last = u

	for _, ch := range e.subs {
		select {
		case ch <- u:
		default:
			// Buffer full: drop the oldest pending update, then deliver.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- u:
			default:
			}
		}
	}
}

// Subscribe attaches a push listener for jobKey. The returned cancel function
// detaches it; cancel is idempotent. The current snapshot is not replayed on
// the channel; callers pair Subscribe with GetStatus, in that order, so the
// snapshot they read is never older than what the subscription delivers.
func (b *Bus) Subscribe(jobKey string) (<-chan Update, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.jobs[jobKey]
	if !ok {
		e = &entry{subs: make(map[int]chan Update)}
		b.jobs[jobKey] = e
	}

	id := b.nextID
	b.nextID++
	ch := make(chan Update, subscriberBuffer)
	e.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if e, ok := b.jobs[jobKey]; ok {
			delete(e.subs, id)
		}
	}
	return ch, cancel
}

// GetStatus returns a copy of the most recent report for jobKey, or nil when
// the key is unknown or already evicted.
func (b *Bus) GetStatus(jobKey string) *Update {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evictLocked()

	e, ok := b.jobs[jobKey]
	if !ok || e.last.Stage == "" {
		return nil
	}
	u := e.last
	return &u
}

// InFlight reports whether jobKey has a non-terminal entry.
func (b *Bus) InFlight(jobKey string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.jobs[jobKey]
	return ok && e.last.Stage != "" && !e.last.Stage.Terminal()
}

// evictLocked removes entries whose terminal report is older than the grace
// period. Caller holds b.mu.
func (b *Bus) evictLocked() {
	cutoff := b.now().Add(-b.grace)
	for key, e := range b.jobs {
		if e.last.Stage != "" && e.last.Stage.Terminal() && e.last.UpdatedAt.Before(cutoff) {
			for _, ch := range e.subs {
				close(ch)
			}
			delete(b.jobs, key)
		}
	}
}
