// Package nodes is the Node Lifecycle Manager (§4.2): it owns the node
// state machine, host/child relationships, allocation, retirement,
// rebuild and deprovision, and enforces the mandatory locking
// discipline documented in §5.
package nodes

import (
	"context"
	"sort"
	"time"

	"github.com/ridgeline-cloud/controlplane/pkg/errkind"
	"github.com/ridgeline-cloud/controlplane/pkg/log"
	"github.com/ridgeline-cloud/controlplane/pkg/metrics"
	"github.com/ridgeline-cloud/controlplane/pkg/store"
	"github.com/ridgeline-cloud/controlplane/pkg/types"
)

// Environment distinguishes production from continuous-delivery zones,
// which changes how deactivate splits stateful vs stateless nodes.
type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentCD         Environment = "cd"
)

// HostStatusOracle reports whether a host is currently considered
// down, backing the isWorking() cluster-health heuristic and the
// orchestrator's suspension check. Orchestrator unreachability must be
// treated as "not suspended"/"not down" by the caller's implementation.
type HostStatusOracle interface {
	IsDown(hostname string) bool
}

// Config configures one Manager instance.
type Config struct {
	Environment              Environment
	CloudDynamicProvisioning bool // hosts are deleted rather than deprovisioned when this is true
	HostStatus               HostStatusOracle
	MaxLockAndGetRetries     int // defaults to 4, per §4.2
}

// Manager is the Node Lifecycle Manager.
type Manager struct {
	store      *store.Store
	env        Environment
	dynamic    bool
	hostStatus HostStatusOracle
	maxRetries int
}

// New constructs a Manager bound to s.
func New(s *store.Store, cfg Config) *Manager {
	maxRetries := cfg.MaxLockAndGetRetries
	if maxRetries <= 0 {
		maxRetries = 4
	}
	return &Manager{
		store:      s,
		env:        cfg.Environment,
		dynamic:    cfg.CloudDynamicProvisioning,
		hostStatus: cfg.HostStatus,
		maxRetries: maxRetries,
	}
}

var stateHistoryEvent = map[types.State]types.HistoryEventType{
	types.StateProvisioned:   types.HistoryProvisioned,
	types.StateReady:         types.HistoryReady,
	types.StateReserved:      types.HistoryReserved,
	types.StateActive:        types.HistoryActivated,
	types.StateInactive:      types.HistoryDeactivated,
	types.StateDirty:         types.HistoryDirtied,
	types.StateFailed:        types.HistoryFailed,
	types.StateParked:        types.HistoryParked,
	types.StateDeprovisioned: types.HistoryDeprovisioned,
	types.StateBreakfixed:    types.HistoryBreakfixed,
}

// lockForNode acquires the application lock for an allocated node, or
// the unallocated lock for a node with no allocation — the dispatch
// rule named throughout §4.2's concurrency discipline.
func (m *Manager) lockForNode(ctx context.Context, holder *store.LockHolder, n *types.Node) (store.Unlocker, error) {
	if n.Allocation != nil {
		return m.store.Lock(ctx, holder, n.Allocation.OwnerApplication)
	}
	return m.store.LockUnallocated(ctx, holder)
}

// lockAndGet re-reads hostname under its lock and retries up to
// maxRetries times if the node's owning application changed between
// the initial read and the lock acquisition, per §4.2.
func (m *Manager) lockAndGet(ctx context.Context, holder *store.LockHolder, hostname string) (*types.Node, store.Unlocker, error) {
	var lastOwner string
	for attempt := 0; attempt < m.maxRetries; attempt++ {
		n, err := m.store.ReadNode(hostname)
		if err != nil {
			return nil, nil, err
		}
		owner := ownerOf(n)
		lock, err := m.lockForNode(ctx, holder, n)
		if err != nil {
			return nil, nil, err
		}

		// Re-read under the lock: the owner may have changed between
		// the unlocked read above and lock acquisition.
		fresh, err := m.store.ReadNode(hostname)
		if err != nil {
			lock.Unlock()
			return nil, nil, err
		}
		if ownerOf(fresh) != owner {
			lock.Unlock()
			lastOwner = owner
			continue
		}
		_ = lastOwner
		return fresh, lock, nil
	}
	return nil, nil, errkind.Conflictf("lockAndGet: owner of %q kept changing after %d attempts", hostname, m.maxRetries)
}

func ownerOf(n *types.Node) string {
	if n.Allocation == nil {
		return ""
	}
	return n.Allocation.OwnerApplication
}

func (m *Manager) transition(n *types.Node, to types.State, agent string, when time.Time) error {
	if !canTransition(n.State, to) {
		return errkind.Invariantf("illegal node transition %s -> %s for %q", n.State, to, n.Hostname)
	}

	from := n.State
	n.State = to

	if !to.AllocationAllowed() {
		n.Allocation = nil
	}
	if to.AllocationRequired() && n.Allocation == nil {
		return errkind.Invariantf("node %q entering state %s requires an allocation", n.Hostname, to)
	}
	if to == types.StateDeprovisioned {
		n.IPConfig = nil
	}

	if evt, ok := stateHistoryEvent[to]; ok {
		n.AppendHistory(evt, agent, when)
	}
	metrics.NodeTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	return nil
}

// AddReservedNodes persists a batch of already-allocated child nodes.
// Every entry must be a child (ParentHostname set) with a populated
// allocation; a duplicate hostname within the existing store fails.
func (m *Manager) AddReservedNodes(ctx context.Context, holder *store.LockHolder, list []*types.Node) error {
	unlock, err := m.store.LockUnallocated(ctx, holder)
	if err != nil {
		return err
	}
	defer unlock.Unlock()

	for _, n := range list {
		if !n.IsChild() {
			return errkind.Invariantf("addReservedNodes: %q is not a child node", n.Hostname)
		}
		if n.Allocation == nil {
			return errkind.Invariantf("addReservedNodes: %q has no allocation", n.Hostname)
		}
		if _, err := m.store.ReadNode(n.Hostname); err == nil {
			return errkind.Invariantf("addReservedNodes: duplicate hostname %q", n.Hostname)
		} else if errkind.KindOf(err) != errkind.NotFound {
			return err
		}
		n.State = types.StateReserved
		if err := m.store.WriteNode(n); err != nil {
			return err
		}
	}
	return nil
}

// AddNodes persists a batch of newly discovered nodes, deduplicating
// within the batch and merging history/reports/failCount/
// firmwareVerifiedAt when a hostname already exists deprovisioned.
func (m *Manager) AddNodes(ctx context.Context, holder *store.LockHolder, list []*types.Node, agent string) error {
	unlock, err := m.store.LockUnallocated(ctx, holder)
	if err != nil {
		return err
	}
	defer unlock.Unlock()

	seen := make(map[string]bool, len(list))
	for _, n := range list {
		if seen[n.Hostname] {
			continue
		}
		seen[n.Hostname] = true

		existing, err := m.store.ReadNode(n.Hostname)
		if err != nil && errkind.KindOf(err) != errkind.NotFound {
			return err
		}

		if existing != nil && existing.State == types.StateDeprovisioned {
			n.History = append(append([]types.HistoryEvent{}, existing.History...), n.History...)
			n.Reports = append(append([]types.Report{}, existing.Reports...), n.Reports...)
			n.Status.FailCount = existing.Status.FailCount
			n.Status.FirmwareVerifiedAt = existing.Status.FirmwareVerifiedAt
			if existing.Status.WantToRebuild {
				n.Status.WantToRetire = existing.Status.WantToRetire
				n.Status.WantToRebuild = existing.Status.WantToRebuild
			}
		}

		if existing == nil {
			n.State = types.StateProvisioned
			n.AppendHistory(types.HistoryProvisioned, agent, time.Now())
		} else {
			n.State = existing.State
			if err := m.transition(n, types.StateProvisioned, agent, time.Now()); err != nil {
				return err
			}
		}
		if err := m.store.WriteNode(n); err != nil {
			return err
		}
	}
	return nil
}

// SetReady moves each listed hostname from provisioned or dirty to
// ready, clearing the want-to-retire/rebuild/deprovision flags. A
// provisioned node passes through dirty on the way, since the state
// machine has no direct provisioned → ready edge.
func (m *Manager) SetReady(ctx context.Context, holder *store.LockHolder, hostnames []string) error {
	for _, hostname := range hostnames {
		n, unlock, err := m.lockAndGet(ctx, holder, hostname)
		if err != nil {
			return err
		}
		if n.State != types.StateProvisioned && n.State != types.StateDirty {
			unlock.Unlock()
			return errkind.Invariantf("setReady: %q is in state %s, expected provisioned or dirty", hostname, n.State)
		}
		if n.State == types.StateProvisioned {
			if err := m.transition(n, types.StateDirty, "system", time.Now()); err != nil {
				unlock.Unlock()
				return err
			}
		}
		if err := m.transition(n, types.StateReady, "system", time.Now()); err != nil {
			unlock.Unlock()
			return err
		}
		n.Status.WantToRetire = false
		n.Status.WantToRebuild = false
		n.Status.WantToDeprovision = false
		err = m.store.WriteNode(n)
		unlock.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// Reserve moves hostname from ready to reserved.
func (m *Manager) Reserve(ctx context.Context, holder *store.LockHolder, hostname, agent string) error {
	return m.simpleTransition(ctx, holder, hostname, types.StateReserved, agent)
}

// Activate moves hostname from reserved to active.
func (m *Manager) Activate(ctx context.Context, holder *store.LockHolder, hostname, agent string) error {
	return m.simpleTransition(ctx, holder, hostname, types.StateActive, agent)
}

// Fail moves hostname to failed from any state.
func (m *Manager) Fail(ctx context.Context, holder *store.LockHolder, hostname, agent string) error {
	return m.simpleTransition(ctx, holder, hostname, types.StateFailed, agent)
}

// Deactivate moves an active node toward its eventual return to the
// pool. In production, stateful nodes land in inactive (preserving
// allocation for a future reactivation) while stateless nodes go
// straight to dirty; outside production every node goes to dirty.
func (m *Manager) Deactivate(ctx context.Context, holder *store.LockHolder, hostname string, stateful bool, agent string) error {
	target := types.StateDirty
	if m.env == EnvironmentProduction && stateful {
		target = types.StateInactive
	}
	return m.simpleTransition(ctx, holder, hostname, target, agent)
}

func (m *Manager) simpleTransition(ctx context.Context, holder *store.LockHolder, hostname string, to types.State, agent string) error {
	n, unlock, err := m.lockAndGet(ctx, holder, hostname)
	if err != nil {
		return err
	}
	defer unlock.Unlock()

	if err := m.transition(n, to, agent, time.Now()); err != nil {
		return err
	}
	return m.store.WriteNode(n)
}

// Deallocate is the central "return to pool" operation. It parks the
// node instead of dirtying it when the node's own wantToDeprovision,
// wantToRebuild or wantToRetire flag is set and agent is not the
// operator; otherwise it moves to dirty. Only the node's own flags are
// consulted: for a non-host, its host's flags and state play no part.
func (m *Manager) Deallocate(ctx context.Context, holder *store.LockHolder, hostname, agent, reason string) error {
	n, unlock, err := m.lockAndGet(ctx, holder, hostname)
	if err != nil {
		return err
	}
	defer unlock.Unlock()

	park := agent != operatorAgent &&
		(n.Status.WantToDeprovision || n.Status.WantToRebuild || n.Status.WantToRetire)

	target := types.StateDirty
	if park {
		target = types.StateParked
	}
	if err := m.transition(n, target, agent, time.Now()); err != nil {
		return err
	}
	log.WithHostname(hostname).Info().Str("agent", agent).Str("reason", reason).Str("target", string(target)).Msg("node deallocated")
	return m.store.WriteNode(n)
}

const operatorAgent = "operator"

// childrenOf returns every node whose ParentHostname is host.
func (m *Manager) childrenOf(host string) ([]*types.Node, error) {
	all, err := m.store.ReadNodes()
	if err != nil {
		return nil, err
	}
	var children []*types.Node
	for _, n := range all {
		if n.ParentHostname == host {
			children = append(children, n)
		}
	}
	return children, nil
}

// FailOrMarkRecursively marks each active child wantToFail without
// changing its state, moves each non-active child to failed, and then
// either fails the host (if no child is active) or marks it
// wantToFail.
func (m *Manager) FailOrMarkRecursively(ctx context.Context, holder *store.LockHolder, host string) error {
	children, err := m.childrenOf(host)
	if err != nil {
		return err
	}

	anyActive := false
	for _, child := range children {
		fresh, unlock, err := m.lockAndGet(ctx, holder, child.Hostname)
		if err != nil {
			return err
		}
		if fresh.State == types.StateActive {
			anyActive = true
			fresh.Status.WantToFail = true
		} else if err := m.transition(fresh, types.StateFailed, "system", time.Now()); err != nil {
			unlock.Unlock()
			return err
		}
		err = m.store.WriteNode(fresh)
		unlock.Unlock()
		if err != nil {
			return err
		}
	}

	hostNode, unlock, err := m.lockAndGet(ctx, holder, host)
	if err != nil {
		return err
	}
	defer unlock.Unlock()

	if anyActive {
		hostNode.Status.WantToFail = true
	} else if err := m.transition(hostNode, types.StateFailed, "system", time.Now()); err != nil {
		return err
	}
	return m.store.WriteNode(hostNode)
}

// markHostAndChildren marks host and every child wantToRetire plus the
// given additional flag setter. The whole batch is updated under one
// combined acquisition of every application lock any host/child
// currently carries, plus the unallocated lock — held for the entire
// read-modify-write batch, not released between nodes — so no
// concurrent allocator can interleave a new child onto the host while
// this runs (§4.2).
func (m *Manager) markHostAndChildren(ctx context.Context, holder *store.LockHolder, host string, setFlag func(*types.Status)) error {
	children, err := m.childrenOf(host)
	if err != nil {
		return err
	}
	hostnames := append([]string{host}, hostnamesOf(children)...)

	nodes := make([]*types.Node, len(hostnames))
	for i, hostname := range hostnames {
		n, err := m.store.ReadNode(hostname)
		if err != nil {
			return err
		}
		nodes[i] = n
	}

	unlockAll, err := m.lockBatch(ctx, holder, nodes)
	if err != nil {
		return err
	}
	defer unlockAll()

	for _, hostname := range hostnames {
		fresh, err := m.store.ReadNode(hostname)
		if err != nil {
			return err
		}
		fresh.Status.WantToRetire = true
		setFlag(&fresh.Status)
		if err := m.store.WriteNode(fresh); err != nil {
			return err
		}
	}
	return nil
}

// lockBatch acquires every distinct application lock named by nodes'
// current allocations, in deterministic order, followed by the
// unallocated lock — honoring the application-before-unallocated
// ordering rule — and returns a single function that releases all of
// them. The unallocated lock is always taken since host is typically
// unallocated itself and an allocator choosing a new child for it only
// ever holds the unallocated lock.
func (m *Manager) lockBatch(ctx context.Context, holder *store.LockHolder, nodes []*types.Node) (func(), error) {
	seen := make(map[string]bool)
	var apps []string
	for _, n := range nodes {
		if n.Allocation == nil {
			continue
		}
		app := n.Allocation.OwnerApplication
		if !seen[app] {
			seen[app] = true
			apps = append(apps, app)
		}
	}
	sort.Strings(apps)

	var unlockers []store.Unlocker
	release := func() {
		for i := len(unlockers) - 1; i >= 0; i-- {
			unlockers[i].Unlock()
		}
	}

	for _, app := range apps {
		u, err := m.store.Lock(ctx, holder, app)
		if err != nil {
			release()
			return nil, err
		}
		unlockers = append(unlockers, u)
	}

	u, err := m.store.LockUnallocated(ctx, holder)
	if err != nil {
		release()
		return nil, err
	}
	unlockers = append(unlockers, u)

	return release, nil
}

func hostnamesOf(nodes []*types.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Hostname
	}
	return out
}

// Deprovision marks host and all its children wantToRetire and
// wantToDeprovision.
func (m *Manager) Deprovision(ctx context.Context, holder *store.LockHolder, host string) error {
	return m.markHostAndChildren(ctx, holder, host, func(s *types.Status) { s.WantToDeprovision = true })
}

// Rebuild marks host and all its children wantToRetire and
// wantToRebuild.
func (m *Manager) Rebuild(ctx context.Context, holder *store.LockHolder, host string) error {
	return m.markHostAndChildren(ctx, holder, host, func(s *types.Status) { s.WantToRebuild = true })
}

// BreakfixRecursively removes all children of host and moves host to
// breakfixed. Only legal when the cloud does not do dynamic
// provisioning, host is a tenant host, and host is failed or parked.
func (m *Manager) BreakfixRecursively(ctx context.Context, holder *store.LockHolder, host string) error {
	if m.dynamic {
		return errkind.Invariantf("breakfixRecursively: not permitted under dynamic provisioning")
	}

	hostNode, unlock, err := m.lockAndGet(ctx, holder, host)
	if err != nil {
		return err
	}
	if hostNode.Type != types.NodeTypeHost {
		unlock.Unlock()
		return errkind.Invariantf("breakfixRecursively: %q is not a tenant host", host)
	}
	if hostNode.State != types.StateFailed && hostNode.State != types.StateParked {
		unlock.Unlock()
		return errkind.Invariantf("breakfixRecursively: %q must be failed or parked, is %s", host, hostNode.State)
	}

	children, err := m.childrenOf(host)
	if err != nil {
		unlock.Unlock()
		return err
	}
	for _, child := range children {
		if err := m.store.RemoveNode(child.Hostname); err != nil {
			unlock.Unlock()
			return err
		}
	}

	err = m.transition(hostNode, types.StateBreakfixed, "system", time.Now())
	if err != nil {
		unlock.Unlock()
		return err
	}
	err = m.store.WriteNode(hostNode)
	unlock.Unlock()
	return err
}

// RemoveRecursively removes host (and, if recursive, its children)
// from the allowed states. In a dynamic-provisioning cloud the record
// is deleted outright; otherwise it moves to deprovisioned.
func (m *Manager) RemoveRecursively(ctx context.Context, holder *store.LockHolder, hostname string, recursive bool) error {
	n, unlock, err := m.lockAndGet(ctx, holder, hostname)
	if err != nil {
		return err
	}
	defer unlock.Unlock()

	allowed := hostRemovalStates
	if n.IsChild() {
		allowed = childRemovalStates(recursive)
	}
	if !allowed[n.State] {
		return errkind.Invariantf("removeRecursively: %q in state %s is not removable", hostname, n.State)
	}

	if recursive && !n.IsChild() {
		children, err := m.childrenOf(hostname)
		if err != nil {
			return err
		}
		for _, child := range children {
			if err := m.removeOrDeprovisionOne(child.Hostname); err != nil {
				return err
			}
		}
	}

	return m.removeOrDeprovisionOne(hostname)
}

var hostRemovalStates = map[types.State]bool{
	types.StateProvisioned: true, types.StateFailed: true, types.StateParked: true,
}

func childRemovalStates(recursive bool) map[types.State]bool {
	if !recursive {
		return map[types.State]bool{types.StateReady: true}
	}
	return map[types.State]bool{
		types.StateProvisioned: true, types.StateFailed: true, types.StateParked: true,
		types.StateDirty: true, types.StateReady: true,
	}
}

func (m *Manager) removeOrDeprovisionOne(hostname string) error {
	if m.dynamic {
		return m.store.RemoveNode(hostname)
	}
	n, err := m.store.ReadNode(hostname)
	if err != nil {
		return err
	}
	if err := m.transition(n, types.StateDeprovisioned, "system", time.Now()); err != nil {
		return err
	}
	return m.store.WriteNode(n)
}

// Forget removes a node's record outright. Permitted only when the
// node is deprovisioned and not marked wantToRebuild.
func (m *Manager) Forget(ctx context.Context, holder *store.LockHolder, hostname string) error {
	n, unlock, err := m.lockAndGet(ctx, holder, hostname)
	if err != nil {
		return err
	}
	defer unlock.Unlock()

	if n.State != types.StateDeprovisioned {
		return errkind.Invariantf("forget: %q is not deprovisioned", hostname)
	}
	if n.Status.WantToRebuild {
		return errkind.Invariantf("forget: %q is marked wantToRebuild", hostname)
	}
	return m.store.RemoveNode(hostname)
}

// MarkAvailableForNewAllocation returns a node to the allocatable
// pool. Container-type nodes (tenant/proxy/confighost) are removed
// from the repository outright rather than readied; for hosts it
// refuses if the host still carries a hard failure reason.
func (m *Manager) MarkAvailableForNewAllocation(ctx context.Context, holder *store.LockHolder, hostname string) error {
	n, unlock, err := m.lockAndGet(ctx, holder, hostname)
	if err != nil {
		return err
	}
	defer unlock.Unlock()

	if n.Type != types.NodeTypeHost {
		return m.store.RemoveNode(hostname)
	}
	if n.Status.FailCount > 0 {
		return errkind.Invariantf("markAvailableForNewAllocation: host %q still has hard failure reasons", hostname)
	}
	if err := m.transition(n, types.StateReady, "system", time.Now()); err != nil {
		return err
	}
	return m.store.WriteNode(n)
}

// Reactivate returns a previously deactivated (inactive) node to
// reserved, the first step back toward active for a node whose
// allocation was preserved across deactivation.
func (m *Manager) Reactivate(ctx context.Context, holder *store.LockHolder, hostname, agent string) error {
	return m.simpleTransition(ctx, holder, hostname, types.StateReserved, agent)
}

// IsWorking reports the cluster-health heuristic: false iff more than
// 20% of at least 6 active nodes are down per the host-status oracle.
func (m *Manager) IsWorking(activeNodes []*types.Node) bool {
	if len(activeNodes) < 6 {
		return true
	}
	down := 0
	for _, n := range activeNodes {
		if m.hostStatus != nil && m.hostStatus.IsDown(n.Hostname) {
			down++
		}
	}
	return float64(down)/float64(len(activeNodes)) <= 0.2
}
