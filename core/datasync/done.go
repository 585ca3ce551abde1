package datasync

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/edmm/core"
	"github.com/trezcool/edmm/core/cache"
)

var afterFunc = func(d time.Duration, f func()) stopper { return time.AfterFunc(d, f) } // mockable

type stopper interface {
	Stop() bool
}

// DoneTracker keeps the homework items each user ticked as done.
// The flags live in the auxiliary state of the homework cache entry and are never sent upstream.
// Writes are debounced: a burst of changes produces one write holding the final state.
type DoneTracker struct {
	store  *cache.Store
	logger core.Logger
	delay  time.Duration

	mu      sync.Mutex
	flags   map[string]map[string]bool // user -> item -> done
	pending map[string]stopper

	writeMu sync.Mutex
}

func NewDoneTracker(store *cache.Store, logger core.Logger, delay time.Duration) *DoneTracker {
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	return &DoneTracker{
		store:   store,
		logger:  logger,
		delay:   delay,
		flags:   make(map[string]map[string]bool),
		pending: make(map[string]stopper),
	}
}

func doneKey(userID string) cache.Key {
	return cache.Key{UserID: userID, Domain: cache.DomainHomework}
}

// Load returns a copy of the flags of userID.
func (t *DoneTracker) Load(ctx context.Context, userID string) map[string]bool {
	flags := t.lockFlags(ctx, userID)
	defer t.mu.Unlock()
	return copyFlags(flags)
}

// lockFlags returns the flags of userID with t.mu held, reading them from the store on first use.
// The store is read without the lock.
func (t *DoneTracker) lockFlags(ctx context.Context, userID string) map[string]bool {
	t.mu.Lock()
	if flags, ok := t.flags[userID]; ok {
		return flags
	}
	t.mu.Unlock()

	stored := t.read(ctx, userID)

	t.mu.Lock()
	if flags, ok := t.flags[userID]; ok { // read concurrently
		return flags
	}
	t.flags[userID] = stored
	return stored
}

func (t *DoneTracker) read(ctx context.Context, userID string) map[string]bool {
	flags := make(map[string]bool)
	if entry, ok := t.store.Load(ctx, doneKey(userID)); ok && len(entry.Auxiliary) > 0 {
		if err := json.Unmarshal(entry.Auxiliary, &flags); err != nil {
			t.logger.Warn("discarding unreadable done flags", errors.Wrap(err, userID))
			flags = make(map[string]bool)
		}
	}
	return flags
}

// Set marks itemKey of userID done or not, and schedules the write. It returns the new flags.
func (t *DoneTracker) Set(ctx context.Context, userID, itemKey string, done bool) map[string]bool {
	flags := t.lockFlags(ctx, userID)
	defer t.mu.Unlock()

	if done {
		flags[itemKey] = true
	} else {
		delete(flags, itemKey)
	}

	if timer, ok := t.pending[userID]; ok {
		timer.Stop()
	}
	t.pending[userID] = afterFunc(t.delay, func() { t.write(context.Background(), userID) })
	return copyFlags(flags)
}

// Flush writes the pending changes now.
func (t *DoneTracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	users := make([]string, 0, len(t.pending))
	for userID, timer := range t.pending {
		timer.Stop()
		users = append(users, userID)
	}
	t.mu.Unlock()

	var errs []error
	for _, userID := range users {
		if err := t.write(ctx, userID); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Wrapf(errs[0], "flushing done flags (%d failed)", len(errs))
	}
	return nil
}

// write saves the current flags of userID, if a write is still pending.
func (t *DoneTracker) write(ctx context.Context, userID string) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.Lock()
	if _, ok := t.pending[userID]; !ok { // flushed already
		t.mu.Unlock()
		return nil
	}
	delete(t.pending, userID)
	snapshot := copyFlags(t.flags[userID])
	t.mu.Unlock()

	aux, err := json.Marshal(snapshot)
	if err == nil {
		err = t.store.SaveAuxiliary(ctx, doneKey(userID), aux)
	}
	if err != nil {
		t.logger.Error("saving done flags", err, core.Person{Username: userID})
		return err
	}
	return nil
}

func copyFlags(flags map[string]bool) map[string]bool {
	out := make(map[string]bool, len(flags))
	for k, v := range flags {
		out[k] = v
	}
	return out
}
