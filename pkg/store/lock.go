package store

import (
	"context"
	"sync"
	"time"

	"github.com/ridgeline-cloud/controlplane/pkg/errkind"
	"github.com/ridgeline-cloud/controlplane/pkg/metrics"
)

// lockKind distinguishes the independent lock families named in §4.1/§5
// so the mandatory ordering rule (application → unallocated;
// routing-policies independent) can be asserted at acquisition time.
type lockKind int

const (
	lockKindApplication lockKind = iota
	lockKindUnallocated
	lockKindRoutingPolicies
	lockKindDeployer
)

// LockHolder tracks the locks a single caller currently holds, so the
// lock-order rule can be asserted without relying on goroutine-local
// state. Reconciliation passes construct one LockHolder per pass and
// thread it through every lock acquisition they make.
type LockHolder struct {
	mu       sync.Mutex
	heldKinds map[lockKind]bool
}

// NewLockHolder returns an empty holder for one reconciliation pass.
func NewLockHolder() *LockHolder {
	return &LockHolder{heldKinds: make(map[lockKind]bool)}
}

func (h *LockHolder) mark(k lockKind) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.heldKinds[k] = true
}

func (h *LockHolder) unmark(k lockKind) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.heldKinds, k)
}

func (h *LockHolder) holds(k lockKind) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.heldKinds[k]
}

// Unlocker releases a held named lock.
type Unlocker interface {
	Unlock()
}

// lockEntry is one named mutex in the registry, re-entrant only within
// a single holder: metaMu guards holder/depth independently of mu (the
// actual blocking lock) so a re-entrant acquire can be detected and
// granted without taking mu a second time.
type lockEntry struct {
	mu     sync.Mutex
	metaMu sync.Mutex
	holder *LockHolder
	depth  int
}

// lockRegistry is the coordination store's named, re-entrant mutex set.
// It is scoped to the leader replica: only the leader accepts writes,
// so only the leader needs to serialize them.
type lockRegistry struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{entries: make(map[string]*lockEntry)}
}

func (r *lockRegistry) entry(name string) *lockEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		e = &lockEntry{}
		r.entries[name] = e
	}
	return e
}

type heldLock struct {
	registry *lockRegistry
	name     string
	kind     lockKind
	holder   *LockHolder
}

func (l *heldLock) Unlock() {
	e := l.registry.entry(l.name)
	e.metaMu.Lock()
	e.depth--
	stillHeld := e.depth > 0
	if !stillHeld {
		e.holder = nil
	}
	e.metaMu.Unlock()

	if stillHeld {
		return
	}
	l.holder.unmark(l.kind)
	e.mu.Unlock()
}

// acquire takes the named lock, asserting the mandatory lock-order rule
// before blocking: application before unallocated, and routing-policies
// never nested inside an application lock. A violation is an
// InvariantViolation — a programmer error that must be asserted, per §5.
// A holder that already holds this exact name re-enters without
// blocking on mu a second time — otherwise the same goroutine would
// deadlock against itself.
func (r *lockRegistry) acquire(ctx context.Context, holder *LockHolder, name string, kind lockKind, timeout time.Duration) (Unlocker, error) {
	if err := assertLockOrder(holder, kind); err != nil {
		return nil, err
	}

	e := r.entry(name)

	e.metaMu.Lock()
	if e.holder == holder {
		e.depth++
		e.metaMu.Unlock()
		holder.mark(kind)
		return &heldLock{registry: r, name: name, kind: kind, holder: holder}, nil
	}
	e.metaMu.Unlock()

	timer := metrics.NewTimer()

	acquired := make(chan struct{})
	go func() {
		e.mu.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
		timer.ObserveDurationVec(metrics.LockWaitDuration, name)
		e.metaMu.Lock()
		e.holder = holder
		e.depth = 1
		e.metaMu.Unlock()
		holder.mark(kind)
		return &heldLock{registry: r, name: name, kind: kind, holder: holder}, nil
	case <-time.After(timeout):
		return nil, errkind.Transientf(nil, "timed out acquiring lock %q", name)
	case <-ctx.Done():
		return nil, errkind.Transientf(ctx.Err(), "context cancelled acquiring lock %q", name)
	}
}

// tryAcquire is the non-blocking probe lock: it grants read-only access
// good enough for speculative computation that will be re-validated
// under a real lock before committing.
func (r *lockRegistry) tryAcquire(name string) (Unlocker, bool) {
	e := r.entry(name)
	if !e.mu.TryLock() {
		return nil, false
	}
	return probeUnlocker{mu: &e.mu}, true
}

type probeUnlocker struct{ mu *sync.Mutex }

func (p probeUnlocker) Unlock() { p.mu.Unlock() }

// assertLockOrder enforces: application must be acquired before
// unallocated (so acquiring unallocated while already holding
// application is fine; acquiring application while already holding
// unallocated is the violation), and routing-policies must never be
// requested while an application lock is held.
func assertLockOrder(holder *LockHolder, requesting lockKind) error {
	switch requesting {
	case lockKindApplication:
		if holder.holds(lockKindUnallocated) {
			return errkind.Invariantf("lock order violation: cannot acquire application lock while holding unallocated lock")
		}
	case lockKindRoutingPolicies:
		if holder.holds(lockKindApplication) || holder.holds(lockKindUnallocated) {
			return errkind.Invariantf("lock order violation: routing-policies lock must not be nested inside application or unallocated")
		}
	}
	return nil
}

const defaultLockTimeout = 30 * time.Second

// applicationLockName / unallocatedLockName / routingPoliciesLockName /
// deployerLockName compute the named-lock key for each lock family.
func applicationLockName(application string) string { return "application:" + application }
func unallocatedLockName() string                   { return "unallocated" }
func routingPoliciesLockName() string               { return "routing-policies" }
func deployerLockName(application string) string    { return "deployer:" + application }
