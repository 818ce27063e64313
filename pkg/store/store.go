// Package store is the Coordination Store Client (§4.1): a Raft-replicated,
// durably persisted source of truth for nodes, routing policies, zone
// routing overrides, and pipeline runs, exposing named re-entrant locks
// and a non-blocking probe lock over the top.
package store

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/ridgeline-cloud/controlplane/pkg/errkind"
	"github.com/ridgeline-cloud/controlplane/pkg/events"
	"github.com/ridgeline-cloud/controlplane/pkg/metrics"
	"github.com/ridgeline-cloud/controlplane/pkg/types"
)

// Config configures one Store replica.
type Config struct {
	NodeID      string
	DataDir     string
	BindAddr    string
	Bootstrap   bool // true only for the first node of a brand-new cluster
}

// Store is the public Coordination Store Client. Reads go straight to
// the local bolt view; every write goes through Raft so it is only
// visible once a quorum has durably persisted it.
type Store struct {
	cfg      Config
	raft     *raft.Raft
	fsm      *fsm
	view     *boltView
	broker   *events.Broker
	locks    *lockRegistry
	logStore *raftboltdb.BoltStore
	transport *raft.NetworkTransport
}

// Open starts (or rejoins) a replica. When cfg.Bootstrap is set, Open
// bootstraps a new single-server cluster with this replica as its only
// member; set it on exactly one node, the first time a cluster is
// created.
func Open(cfg Config) (*Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("store: failed to create data dir: %w", err)
	}

	broker := events.NewBroker()
	broker.Start()

	view, err := newBoltView(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	f := newFSM(view, broker)

	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(cfg.NodeID)
	raftConfig.LogOutput = os.Stderr

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("store: invalid bind address %q: %w", cfg.BindAddr, err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("store: failed to create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("store: failed to create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("store: failed to create log store: %w", err)
	}

	r, err := raft.NewRaft(raftConfig, f, logStore, logStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("store: failed to start raft: %w", err)
	}

	if cfg.Bootstrap {
		configuration := raft.Configuration{
			Servers: []raft.Server{{ID: raftConfig.LocalID, Address: transport.LocalAddr()}},
		}
		r.BootstrapCluster(configuration)
	}

	s := &Store{
		cfg:       cfg,
		raft:      r,
		fsm:       f,
		view:      view,
		broker:    broker,
		locks:     newLockRegistry(),
		logStore:  logStore,
		transport: transport,
	}
	go s.reportRaftMetrics()
	return s, nil
}

// Close releases the replica's durable resources.
func (s *Store) Close() error {
	s.broker.Stop()
	if err := s.raft.Shutdown().Error(); err != nil {
		return err
	}
	if err := s.logStore.Close(); err != nil {
		return err
	}
	return s.view.Close()
}

// Subscribe returns a Subscriber that receives every committed change,
// letting a reconciliation loop wake sooner than its next tick.
func (s *Store) Subscribe() events.Subscriber { return s.broker.Subscribe() }

// Unsubscribe releases a Subscriber obtained from Subscribe.
func (s *Store) Unsubscribe(sub events.Subscriber) { s.broker.Unsubscribe(sub) }

func (s *Store) reportRaftMetrics() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		if s.raft.State() == raft.Leader {
			metrics.RaftLeader.Set(1)
		} else {
			metrics.RaftLeader.Set(0)
		}
		metrics.RaftPeers.Set(float64(len(s.raft.GetConfiguration().Configuration().Servers)))
	}
}

// apply submits cmd to Raft and blocks until it is committed (or times
// out). Only the leader may call this; a follower gets a Transient
// error so callers retry against the leader.
func (s *Store) apply(cmd Command) error {
	if s.raft.State() != raft.Leader {
		return errkind.Transientf(nil, "not the leader")
	}
	data, err := marshalCommand(cmd)
	if err != nil {
		return err
	}

	timer := metrics.NewTimer()
	future := s.raft.Apply(data, 10*time.Second)
	timer.ObserveDuration(metrics.RaftApplyDuration)

	if err := future.Error(); err != nil {
		return errkind.Transientf(err, "raft apply failed")
	}
	if respErr, ok := future.Response().(error); ok && respErr != nil {
		return respErr
	}
	return nil
}

// Txn applies every command atomically within one Raft log entry, the
// Coordination Store Client's transaction primitive (§4.1).
func (s *Store) Txn(cmds ...Command) error {
	data, err := marshalCommands(cmds)
	if err != nil {
		return err
	}
	return s.apply(Command{Op: opTxn, Data: data})
}

// ReadNode returns a single node by hostname, or a NotFound error.
func (s *Store) ReadNode(hostname string) (*types.Node, error) {
	return s.view.readNode(hostname)
}

// ReadNodes returns every node whose state is in states, or every node
// if states is empty.
func (s *Store) ReadNodes(states ...types.State) ([]*types.Node, error) {
	return s.view.readNodes(states)
}

// WriteNode durably persists n, replacing any prior record for the
// same hostname.
func (s *Store) WriteNode(n *types.Node) error {
	data, err := marshalValue(n)
	if err != nil {
		return err
	}
	return s.apply(Command{Op: opWriteNode, Data: data})
}

// RemoveNode durably deletes a node's record.
func (s *Store) RemoveNode(hostname string) error {
	data, err := marshalValue(hostname)
	if err != nil {
		return err
	}
	return s.apply(Command{Op: opRemoveNode, Data: data})
}

// ReadRoutingPolicies returns every routing policy, optionally filtered
// to one owning application.
func (s *Store) ReadRoutingPolicies(owner string) ([]*types.RoutingPolicy, error) {
	return s.view.readRoutingPolicies(owner)
}

// WriteRoutingPolicy durably persists p.
func (s *Store) WriteRoutingPolicy(p *types.RoutingPolicy) error {
	data, err := marshalValue(p)
	if err != nil {
		return err
	}
	return s.apply(Command{Op: opWriteRoutingPolicy, Data: data})
}

// RemoveRoutingPolicy durably deletes a policy once its contributing
// endpoints have all been removed.
func (s *Store) RemoveRoutingPolicy(id types.PolicyID) error {
	data, err := marshalValue(id)
	if err != nil {
		return err
	}
	return s.apply(Command{Op: opRemoveRoutingPolicy, Data: data})
}

// ReadZoneRoutingPolicy returns the operator override for zone, or a
// zero-value ("in") override if none has been set.
func (s *Store) ReadZoneRoutingPolicy(zone string) (*types.ZoneRoutingPolicy, error) {
	return s.view.readZoneRoutingPolicy(zone)
}

// WriteZoneRoutingPolicy durably persists an operator-level zone
// override.
func (s *Store) WriteZoneRoutingPolicy(p *types.ZoneRoutingPolicy) error {
	data, err := marshalValue(p)
	if err != nil {
		return err
	}
	return s.apply(Command{Op: opWriteZoneRoutingPolicy, Data: data})
}

// ReadRuns returns every run recorded for (application, jobType),
// ordered by run number.
func (s *Store) ReadRuns(application, jobType string) ([]*types.Run, error) {
	return s.view.readRuns(application, jobType)
}

// WriteRun durably persists r.
func (s *Store) WriteRun(r *types.Run) error {
	data, err := marshalValue(r)
	if err != nil {
		return err
	}
	return s.apply(Command{Op: opWriteRun, Data: data})
}

// Lock acquires the named application lock, blocking up to the default
// timeout.
func (s *Store) Lock(ctx context.Context, holder *LockHolder, application string) (Unlocker, error) {
	return s.locks.acquire(ctx, holder, applicationLockName(application), lockKindApplication, defaultLockTimeout)
}

// LockWithTimeout is Lock with an explicit timeout, used by callers that
// need to fail fast rather than wait the default 30s.
func (s *Store) LockWithTimeout(ctx context.Context, holder *LockHolder, application string, timeout time.Duration) (Unlocker, error) {
	return s.locks.acquire(ctx, holder, applicationLockName(application), lockKindApplication, timeout)
}

// LockUnallocated acquires the lock guarding the unallocated-node pool.
// It may be taken while an application lock is held; no application
// lock may be taken while it is held.
func (s *Store) LockUnallocated(ctx context.Context, holder *LockHolder) (Unlocker, error) {
	return s.locks.acquire(ctx, holder, unallocatedLockName(), lockKindUnallocated, defaultLockTimeout)
}

// LockRoutingPolicies acquires the routing-policies lock, independent
// of the application/unallocated lock family.
func (s *Store) LockRoutingPolicies(ctx context.Context, holder *LockHolder) (Unlocker, error) {
	return s.locks.acquire(ctx, holder, routingPoliciesLockName(), lockKindRoutingPolicies, defaultLockTimeout)
}

// LockDeployer acquires the per-application deployer lock, serializing
// concurrent pipeline runs for the same application.
func (s *Store) LockDeployer(ctx context.Context, holder *LockHolder, application string) (Unlocker, error) {
	return s.locks.acquire(ctx, holder, deployerLockName(application), lockKindDeployer, defaultLockTimeout)
}

// TryLockApplication is the non-blocking probe lock used by speculative
// computations that re-validate under a real lock before committing.
func (s *Store) TryLockApplication(application string) (Unlocker, bool) {
	return s.locks.tryAcquire(applicationLockName(application))
}
