package datasync

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/edmm/core"
	"github.com/trezcool/edmm/core/cache"
	"github.com/trezcool/edmm/core/recovery"
	"github.com/trezcool/edmm/core/session"
	"github.com/trezcool/edmm/core/upstream"
)

var nowFunc = time.Now // mockable

// Delivery sources.
const (
	SourceCache    = "cache"
	SourceUpstream = "upstream"
)

// Sync outcomes.
const (
	OutcomeUpdated   = "updated"
	OutcomeUnchanged = "unchanged"
	OutcomeStale     = "stale"
	OutcomeOffline   = "offline"
	OutcomeFailed    = "failed"
)

type (
	// Delivery is one payload handed to the UI.
	Delivery struct {
		Domain    string          `json:"domain"`
		SubKey    string          `json:"subKey,omitempty"`
		Source    string          `json:"source"`
		Data      json.RawMessage `json:"data"`
		Done      map[string]bool `json:"done,omitempty"`
		UpdatedAt time.Time       `json:"updatedAt"`
	}

	// Deliver receives the deliveries of a sync, in order: the cached payload first, if any.
	Deliver func(Delivery)

	// Caller runs an upstream call on behalf of a session. Satisfied by *recovery.Guard.
	Caller interface {
		Call(ctx context.Context, sess session.Session, req upstream.Request) (*upstream.Response, error)
	}

	// Observer is notified of the outcome of every sync.
	Observer func(domain, outcome string)
)

// Engine serves every domain cache first, then from the upstream when the payload changed.
type Engine struct {
	guard   Caller
	cache   *cache.Store
	done    *DoneTracker
	logger  core.Logger
	observe Observer

	mu     sync.Mutex
	latest map[string]string // device|domain -> query of the last sync requested
}

func NewEngine(guard Caller, store *cache.Store, done *DoneTracker, logger core.Logger, observe Observer) *Engine {
	return &Engine{
		guard:   guard,
		cache:   store,
		done:    done,
		logger:  logger,
		observe: observe,
		latest:  make(map[string]string),
	}
}

// Sync delivers the cached payload of q, if any, then fetches it from the upstream and delivers it
// again only when it changed. A fresh payload is not delivered when a newer query of the same domain
// was requested meanwhile by the device, but it is still cached.
// Failures are only returned when nothing was delivered, except ErrReauthRequired.
func (e *Engine) Sync(ctx context.Context, sess session.Session, q Query, deliver Deliver) error {
	q, err := q.Normalize(nowFunc())
	if err != nil {
		return err
	}
	key := q.CacheKey(sess.UserID)
	tag := q.String()
	e.setLatest(sess.DeviceID, q.Domain, tag)

	var (
		delivered bool
		cached    int32
	)
	if entry, ok := e.cache.Load(ctx, key); ok && entry.Payload != nil {
		cached = Hash(entry.Payload)
		deliver(e.delivery(ctx, sess.UserID, q, SourceCache, entry.Payload, entry.UpdatedAt))
		delivered = true
	}

	resp, err := e.guard.Call(ctx, sess, q.request(sess.UserID))
	if err == nil && !resp.OK() {
		err = upstream.Reject(resp.Envelope)
	}
	if err != nil {
		if delivered && errors.Cause(err) != recovery.ErrReauthRequired {
			e.notify(q.Domain, OutcomeOffline)
			e.logger.Warn("sync failed, serving cache", errors.Wrap(err, tag), person(sess))
			return nil
		}
		e.notify(q.Domain, OutcomeFailed)
		return errors.Wrapf(err, "syncing %s", tag)
	}

	payload := resp.Data
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	if delivered && Hash(payload) == cached {
		e.cache.Touch(key)
		e.notify(q.Domain, OutcomeUnchanged)
		return nil
	}

	e.cache.SavePayload(key, payload)
	if !e.isLatest(sess.DeviceID, q.Domain, tag) {
		e.notify(q.Domain, OutcomeStale)
		e.logger.Debug("dropping stale sync", map[string]interface{}{"device": sess.DeviceID, "query": tag})
		return nil
	}
	deliver(e.delivery(ctx, sess.UserID, q, SourceUpstream, payload, nowFunc().UTC()))
	e.notify(q.Domain, OutcomeUpdated)
	return nil
}

// LoadCache returns the cached delivery of q for userID, without calling the upstream.
func (e *Engine) LoadCache(ctx context.Context, userID string, q Query) (Delivery, bool, error) {
	q, err := q.Normalize(nowFunc())
	if err != nil {
		return Delivery{}, false, err
	}
	entry, ok := e.cache.Load(ctx, q.CacheKey(userID))
	if !ok || entry.Payload == nil {
		return Delivery{}, false, nil
	}
	return e.delivery(ctx, userID, q, SourceCache, entry.Payload, entry.UpdatedAt), true, nil
}

// ReadMessage fetches one message of the mailbox of sess. Messages are not cached.
func (e *Engine) ReadMessage(ctx context.Context, sess session.Session, messageID, mode string) (json.RawMessage, error) {
	if mode == "" {
		mode = ModeRecipient
	}
	if mode != ModeRecipient && mode != ModeSender {
		return nil, errors.Errorf("unknown message mode %q", mode)
	}

	resp, err := e.guard.Call(ctx, sess, messageRequest(sess.UserID, messageID, mode))
	if err != nil {
		return nil, errors.Wrapf(err, "reading message %s", messageID)
	}
	if !resp.OK() {
		return nil, upstream.Reject(resp.Envelope)
	}
	return resp.Data, nil
}

func (e *Engine) delivery(ctx context.Context, userID string, q Query, source string, payload json.RawMessage, at time.Time) Delivery {
	d := Delivery{
		Domain:    q.Domain,
		SubKey:    q.SubKey(),
		Source:    source,
		Data:      payload,
		UpdatedAt: at,
	}
	if q.Domain == cache.DomainHomework && e.done != nil {
		d.Done = e.done.Load(ctx, userID)
	}
	return d
}

func tagKey(deviceID, domain string) string {
	return deviceID + "|" + domain
}

func (e *Engine) setLatest(deviceID, domain, tag string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.latest[tagKey(deviceID, domain)] = tag
}

func (e *Engine) isLatest(deviceID, domain, tag string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latest[tagKey(deviceID, domain)] == tag
}

func (e *Engine) notify(domain, outcome string) {
	if e.observe != nil {
		e.observe(domain, outcome)
	}
}

func person(sess session.Session) core.Person {
	return core.Person{ID: sess.DeviceID, Username: sess.UserID}
}
