// Package forwarder is the Name-Service Forwarder substrate: a durable,
// deduplicating, priority-ordered queue of DNS change requests. The
// Routing Policy Reconciler submits requests here instead of talking
// to the name service directly, so a
// reconciler may be invoked as often as it likes — the forwarder
// absorbs duplicate requests and reorders by priority rather than
// strict arrival order.
package forwarder

import (
	"container/heap"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/miekg/dns"

	"github.com/ridgeline-cloud/controlplane/pkg/log"
	"github.com/ridgeline-cloud/controlplane/pkg/metrics"
)

// Op identifies the kind of name-service change requested (§6).
type Op string

const (
	OpCreateCNAME    Op = "createCname"
	OpCreateAlias    Op = "createAlias"
	OpRemoveRecords  Op = "removeRecords"
)

// Request is one idempotent name-service change request.
type Request struct {
	Op         Op
	Name       string
	Data       string   // CNAME target, for OpCreateCNAME
	Targets    []string // alias target set, for OpCreateAlias
	RecordType uint16   // dns.TypeCNAME/dns.TypeA/…, for OpRemoveRecords
	Priority   int      // lower value dispatches first
}

// dedupeKey identifies requests that are the same idempotent operation
// — submitting it twice must collapse to one queued entry (§6, §4.3
// idempotence note).
func (r Request) dedupeKey() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%v|%d", r.Op, r.Name, r.Data, r.Targets, r.RecordType)
	return hex.EncodeToString(h.Sum(nil))
}

// queuedRequest is the durable, heap-ordered record of one pending
// request.
type queuedRequest struct {
	Request
	key       string
	enqueued  time.Time
	attempts  int
	heapIndex int
}

// requestHeap orders by Priority ascending, then by enqueue time (FIFO
// within a priority band) — the standard container/heap priority-queue
// idiom.
type requestHeap []*queuedRequest

func (h requestHeap) Len() int { return len(h) }
func (h requestHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].enqueued.Before(h[j].enqueued)
}
func (h requestHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}
func (h *requestHeap) Push(x any) {
	qr := x.(*queuedRequest)
	qr.heapIndex = len(*h)
	*h = append(*h, qr)
}
func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.heapIndex = -1
	*h = old[:n-1]
	return item
}

// Client is the external name-service collaborator the forwarder
// dispatches dequeued requests to — kept as an interface so tests can
// substitute a fake without a live DNS backend.
type Client interface {
	Submit(ctx context.Context, req Request) error
}

// Forwarder is the queue itself: a bolt-persisted set of pending
// requests plus an in-memory priority heap mirroring it, drained by
// a background dispatch loop.
type Forwarder struct {
	store    *boltQueue
	heap     requestHeap
	byKey    map[string]*queuedRequest
	client   Client
	requests chan struct{}
	stopCh   chan struct{}
}

// New opens (or creates) the durable queue at dataDir and wires it to
// client, the name-service collaborator dequeued requests are
// dispatched to.
func New(dataDir string, client Client) (*Forwarder, error) {
	store, err := newBoltQueue(dataDir)
	if err != nil {
		return nil, err
	}

	f := &Forwarder{
		store:    store,
		byKey:    make(map[string]*queuedRequest),
		client:   client,
		requests: make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}

	pending, err := store.loadAll()
	if err != nil {
		return nil, err
	}
	for _, qr := range pending {
		f.byKey[qr.key] = qr
		heap.Push(&f.heap, qr)
	}
	metrics.ForwarderQueueDepth.Set(float64(len(f.heap)))

	return f, nil
}

// Close stops the dispatch loop (if running) and the underlying store.
func (f *Forwarder) Close() error {
	close(f.stopCh)
	return f.store.close()
}

// enqueue is the shared implementation backing CreateCNAME/CreateAlias/
// RemoveRecords: a duplicate of an already-queued request is absorbed
// without persisting a second entry.
func (f *Forwarder) enqueue(req Request) error {
	key := req.dedupeKey()
	if _, exists := f.byKey[key]; exists {
		metrics.ForwarderDuplicatesDropped.Inc()
		log.WithComponent("forwarder").Debug().Str("op", string(req.Op)).Str("name", req.Name).Msg("absorbed duplicate request")
		return nil
	}

	qr := &queuedRequest{Request: req, key: key, enqueued: time.Now()}
	if err := f.store.put(qr); err != nil {
		return err
	}

	f.byKey[key] = qr
	heap.Push(&f.heap, qr)
	metrics.ForwarderQueueDepth.Set(float64(len(f.heap)))

	select {
	case f.requests <- struct{}{}:
	default:
	}
	return nil
}

// CreateCNAME queues a CNAME record creation: name → data.
func (f *Forwarder) CreateCNAME(name, data string, priority int) error {
	if name == "" {
		return fmt.Errorf("forwarder: invalid CNAME request: empty name")
	}
	if _, err := dns.NewRR(fmt.Sprintf("%s CNAME %s", dns.Fqdn(name), dns.Fqdn(data))); err != nil {
		return fmt.Errorf("forwarder: invalid CNAME request: %w", err)
	}
	return f.enqueue(Request{Op: OpCreateCNAME, Name: name, Data: data, Priority: priority})
}

// CreateAlias queues a weighted-alias record group creation.
func (f *Forwarder) CreateAlias(name string, targets []string, priority int) error {
	if len(targets) == 0 {
		return fmt.Errorf("forwarder: alias request for %q has no targets", name)
	}
	return f.enqueue(Request{Op: OpCreateAlias, Name: name, Targets: targets, Priority: priority})
}

// RemoveRecords queues removal of records of recordType at name,
// optionally scoped to a specific data value (e.g. one CNAME target
// among several).
func (f *Forwarder) RemoveRecords(recordType uint16, name, data string, priority int) error {
	return f.enqueue(Request{Op: OpRemoveRecords, Name: name, Data: data, RecordType: recordType, Priority: priority})
}

// Run drains the queue by priority until ctx is cancelled, dispatching
// each request to the configured Client and removing it from the
// durable queue only once the client accepts it — a crash mid-dispatch
// simply redelivers the request, which is safe because every request
// is idempotent.
func (f *Forwarder) Run(ctx context.Context) {
	for {
		qr := f.next()
		if qr == nil {
			select {
			case <-ctx.Done():
				return
			case <-f.stopCh:
				return
			case <-f.requests:
				continue
			case <-time.After(time.Second):
				continue
			}
		}

		if err := f.client.Submit(ctx, qr.Request); err != nil {
			qr.attempts++
			log.WithComponent("forwarder").Warn().Str("op", string(qr.Op)).Str("name", qr.Name).Int("attempts", qr.attempts).Err(err).Msg("dispatch failed, will retry")
			f.requeue(qr)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff(qr.attempts)):
			}
			continue
		}

		f.complete(qr)
	}
}

func backoff(attempts int) time.Duration {
	d := time.Duration(attempts) * 2 * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

func (f *Forwarder) next() *queuedRequest {
	if len(f.heap) == 0 {
		return nil
	}
	return heap.Pop(&f.heap).(*queuedRequest)
}

func (f *Forwarder) requeue(qr *queuedRequest) {
	heap.Push(&f.heap, qr)
}

func (f *Forwarder) complete(qr *queuedRequest) {
	delete(f.byKey, qr.key)
	if err := f.store.remove(qr.key); err != nil {
		log.WithComponent("forwarder").Error().Err(err).Msg("failed to remove completed request from durable queue")
	}
	metrics.ForwarderQueueDepth.Set(float64(len(f.heap)))
}

// queuedRequestJSON is the durable on-disk shape; queuedRequest itself
// carries the heap index, which must never be persisted.
type queuedRequestJSON struct {
	Request
	Key      string    `json:"key"`
	Enqueued time.Time `json:"enqueued"`
	Attempts int       `json:"attempts"`
}

func (qr *queuedRequest) toJSON() queuedRequestJSON {
	return queuedRequestJSON{Request: qr.Request, Key: qr.key, Enqueued: qr.enqueued, Attempts: qr.attempts}
}

func (qr queuedRequestJSON) toQueued() *queuedRequest {
	return &queuedRequest{Request: qr.Request, key: qr.Key, enqueued: qr.Enqueued, attempts: qr.Attempts}
}

func marshalQueued(qr *queuedRequest) ([]byte, error) {
	return json.Marshal(qr.toJSON())
}

func unmarshalQueued(data []byte) (*queuedRequest, error) {
	var j queuedRequestJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	return j.toQueued(), nil
}
