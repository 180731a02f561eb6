// Package leader implements a Redis-backed renewable lease for the single-
// writer guarantee: exactly one instance holds the lease and is authorized
// to run the Signal Processor at a time. Grounded on the pack's Redis
// lock-key idiom (set-if-not-exists plus TTL, renewed on a steady
// heartbeat), adapted into a promote/demote callback API for the Brain.
package leader

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const lockKeyPrefix = "brain:leader:"

// Callbacks are invoked on leadership transitions.
type Callbacks struct {
	OnPromoted func(ctx context.Context)
	OnDemoted  func(ctx context.Context)
}

// Elector owns the renewable leader lease for a named election.
type Elector struct {
	mu         sync.RWMutex
	client     *redis.Client
	logger     *zap.Logger
	election   string
	instanceID string
	ttl        time.Duration
	callbacks  Callbacks

	isLeader bool
	stopCh   chan struct{}
}

// New constructs an Elector. A nil client runs in single-instance mode:
// IsLeader is always true and no Redis round-trips occur, for local/dev runs
// without a Redis dependency.
func New(logger *zap.Logger, client *redis.Client, election, instanceID string, ttl time.Duration, callbacks Callbacks) *Elector {
	return &Elector{
		client:     client,
		logger:     logger,
		election:   election,
		instanceID: instanceID,
		ttl:        ttl,
		callbacks:  callbacks,
	}
}

// IsLeader reports whether this instance currently holds the lease.
func (e *Elector) IsLeader() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.client == nil {
		return true
	}
	return e.isLeader
}

// Run starts the acquire/renew loop, checking roughly 3 times per TTL, until
// ctx is cancelled or Stop is called. In single-instance mode it calls
// OnPromoted once and returns without looping.
func (e *Elector) Run(ctx context.Context) {
	if e.client == nil {
		if e.callbacks.OnPromoted != nil {
			e.callbacks.OnPromoted(ctx)
		}
		return
	}

	e.stopCh = make(chan struct{})
	interval := e.ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.tick(ctx)
	for {
		select {
		case <-ticker.C:
			e.tick(ctx)
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop halts the acquire/renew loop and releases the lease if held.
func (e *Elector) Stop(ctx context.Context) {
	if e.stopCh != nil {
		close(e.stopCh)
	}
	if e.client == nil {
		return
	}

	e.mu.Lock()
	wasLeader := e.isLeader
	e.isLeader = false
	e.mu.Unlock()

	if wasLeader {
		key := lockKeyPrefix + e.election
		e.releaseIfOwned(ctx, key)
		if e.callbacks.OnDemoted != nil {
			e.callbacks.OnDemoted(ctx)
		}
	}
}

func (e *Elector) tick(ctx context.Context) {
	key := lockKeyPrefix + e.election

	e.mu.RLock()
	wasLeader := e.isLeader
	e.mu.RUnlock()

	var acquired bool
	var err error
	if wasLeader {
		acquired, err = e.renew(ctx, key)
	} else {
		acquired, err = e.client.SetNX(ctx, key, e.instanceID, e.ttl).Result()
	}

	if err != nil {
		if e.logger != nil {
			e.logger.Error("leader election redis error", zap.Error(err))
		}
		acquired = false
	}

	e.mu.Lock()
	changed := acquired != e.isLeader
	e.isLeader = acquired
	e.mu.Unlock()

	if !changed {
		return
	}
	if acquired {
		if e.logger != nil {
			e.logger.Info("leadership acquired", zap.String("instanceId", e.instanceID))
		}
		if e.callbacks.OnPromoted != nil {
			e.callbacks.OnPromoted(ctx)
		}
	} else {
		if e.logger != nil {
			e.logger.Warn("leadership lost", zap.String("instanceId", e.instanceID))
		}
		if e.callbacks.OnDemoted != nil {
			e.callbacks.OnDemoted(ctx)
		}
	}
}

const renewScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`

func (e *Elector) renew(ctx context.Context, key string) (bool, error) {
	result, err := e.client.Eval(ctx, renewScript, []string{key}, e.instanceID, e.ttl.Milliseconds()).Result()
	if err != nil {
		return false, err
	}
	n, ok := result.(int64)
	return ok && n == 1, nil
}

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

func (e *Elector) releaseIfOwned(ctx context.Context, key string) {
	if err := e.client.Eval(ctx, releaseScript, []string{key}, e.instanceID).Err(); err != nil && e.logger != nil {
		e.logger.Error("releasing leader lease", zap.Error(err))
	}
}
