package store

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	bolt "go.etcd.io/bbolt"

	"github.com/ridgeline-cloud/controlplane/pkg/codec"
	"github.com/ridgeline-cloud/controlplane/pkg/errkind"
	"github.com/ridgeline-cloud/controlplane/pkg/types"
)

var (
	bucketNodes              = []byte("nodes")
	bucketRoutingPolicies    = []byte("routingPolicies")
	bucketZoneRoutingPolicies = []byte("zoneRoutingPolicies")
	bucketRuns               = []byte("runs")
)

// boltView is the per-replica local state backing the Coordination
// Store Client, laid out to mirror the hierarchical paths of §6:
// /nodes/{state}/{hostname}, /routingPolicies/{instance},
// /zoneRoutingPolicies/{zone}, /runs/{application}/{jobType}/{runNumber}.
// Reads bypass Raft and hit this view directly; only writes are applied
// through the FSM, matching the teacher's manager/store split.
type boltView struct {
	db *bolt.DB
}

func newBoltView(dataDir string) (*boltView, error) {
	dbPath := filepath.Join(dataDir, "controlplane.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketNodes, bucketRoutingPolicies, bucketZoneRoutingPolicies, bucketRuns} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &boltView{db: db}, nil
}

func (v *boltView) Close() error { return v.db.Close() }

// Node keys are stored flat under bucketNodes as "{state}/{hostname}".
// readNodes still decodes every entry and filters on the decoded State.
func nodeKey(state types.State, hostname string) []byte {
	return []byte(string(state) + "/" + hostname)
}

func (v *boltView) writeNode(n *types.Node) error {
	return v.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		c := b.Cursor()
		// remove any existing entry for this hostname under a different state key
		suffix := []byte("/" + n.Hostname)
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if strings.HasSuffix(string(k), string(suffix)) {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
		}
		data, err := codec.Encode(n)
		if err != nil {
			return err
		}
		return b.Put(nodeKey(n.State, n.Hostname), data)
	})
}

func (v *boltView) removeNode(hostname string) error {
	return v.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		c := b.Cursor()
		suffix := []byte("/" + hostname)
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if strings.HasSuffix(string(k), string(suffix)) {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (v *boltView) readNode(hostname string) (*types.Node, error) {
	var found *types.Node
	err := v.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		c := b.Cursor()
		suffix := []byte("/" + hostname)
		for k, val := c.First(); k != nil; k, val = c.Next() {
			if strings.HasSuffix(string(k), string(suffix)) {
				var n types.Node
				if err := codec.Decode(val, &n); err != nil {
					return err
				}
				found = &n
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, errkind.NotFoundf("node %q not found", hostname)
	}
	return found, nil
}

func (v *boltView) readNodes(states []types.State) ([]*types.Node, error) {
	var out []*types.Node
	allowed := make(map[types.State]bool, len(states))
	for _, s := range states {
		allowed[s] = true
	}
	err := v.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		return b.ForEach(func(k, val []byte) error {
			var n types.Node
			if err := codec.Decode(val, &n); err != nil {
				return err
			}
			if len(allowed) == 0 || allowed[n.State] {
				out = append(out, &n)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hostname < out[j].Hostname })
	return out, nil
}

func routingPolicyKey(id types.PolicyID) []byte {
	return []byte(id.Owner + "/" + id.Cluster + "/" + id.Zone)
}

func (v *boltView) writeRoutingPolicy(p *types.RoutingPolicy) error {
	return v.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRoutingPolicies)
		data, err := codec.Encode(p)
		if err != nil {
			return err
		}
		return b.Put(routingPolicyKey(p.ID), data)
	})
}

func (v *boltView) removeRoutingPolicy(id types.PolicyID) error {
	return v.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRoutingPolicies).Delete(routingPolicyKey(id))
	})
}

func (v *boltView) readRoutingPolicies(owner string) ([]*types.RoutingPolicy, error) {
	var out []*types.RoutingPolicy
	err := v.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRoutingPolicies)
		return b.ForEach(func(k, val []byte) error {
			var p types.RoutingPolicy
			if err := codec.Decode(val, &p); err != nil {
				return err
			}
			if owner == "" || p.ID.Owner == owner {
				out = append(out, &p)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (v *boltView) readZoneRoutingPolicy(zone string) (*types.ZoneRoutingPolicy, error) {
	var found *types.ZoneRoutingPolicy
	err := v.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketZoneRoutingPolicies)
		val := b.Get([]byte(zone))
		if val == nil {
			return nil
		}
		var p types.ZoneRoutingPolicy
		if err := codec.Decode(val, &p); err != nil {
			return err
		}
		found = &p
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		// absence is not an error: callers treat a zone with no override as IN.
		return &types.ZoneRoutingPolicy{Zone: zone}, nil
	}
	return found, nil
}

func (v *boltView) writeZoneRoutingPolicy(p *types.ZoneRoutingPolicy) error {
	return v.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketZoneRoutingPolicies)
		data, err := codec.Encode(p)
		if err != nil {
			return err
		}
		return b.Put([]byte(p.Zone), data)
	})
}

func runsSubBucketName(application, jobType string) []byte {
	return []byte(application + "/" + jobType)
}

func runKey(number int) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(number))
	return k
}

func (v *boltView) writeRun(r *types.Run) error {
	return v.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketRuns)
		sub, err := root.CreateBucketIfNotExists(runsSubBucketName(r.ID.Application, r.ID.JobType))
		if err != nil {
			return err
		}
		data, err := codec.Encode(r)
		if err != nil {
			return err
		}
		return sub.Put(runKey(r.ID.Number), data)
	})
}

func (v *boltView) readRuns(application, jobType string) ([]*types.Run, error) {
	var out []*types.Run
	err := v.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketRuns)
		sub := root.Bucket(runsSubBucketName(application, jobType))
		if sub == nil {
			return nil
		}
		return sub.ForEach(func(k, val []byte) error {
			var r types.Run
			if err := codec.Decode(val, &r); err != nil {
				return err
			}
			out = append(out, &r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Number < out[j].ID.Number })
	return out, nil
}

// allRuns and allZoneRoutingPolicies back Snapshot, alongside
// readNodes(nil) and readRoutingPolicies("").
func (v *boltView) allRuns() ([]*types.Run, error) {
	var out []*types.Run
	err := v.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketRuns)
		return root.ForEach(func(name, val []byte) error {
			if val != nil {
				// not a nested bucket; runs are never stored at this level
				return nil
			}
			sub := root.Bucket(name)
			return sub.ForEach(func(k, val []byte) error {
				var r types.Run
				if err := codec.Decode(val, &r); err != nil {
					return err
				}
				out = append(out, &r)
				return nil
			})
		})
	})
	return out, err
}

func (v *boltView) allZoneRoutingPolicies() ([]*types.ZoneRoutingPolicy, error) {
	var out []*types.ZoneRoutingPolicy
	err := v.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketZoneRoutingPolicies)
		return b.ForEach(func(k, val []byte) error {
			var p types.ZoneRoutingPolicy
			if err := codec.Decode(val, &p); err != nil {
				return err
			}
			out = append(out, &p)
			return nil
		})
	})
	return out, err
}
