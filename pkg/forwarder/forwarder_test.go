package forwarder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu       sync.Mutex
	received []Request
	fail     map[string]int // request name -> remaining failures before success
}

func newFakeClient() *fakeClient {
	return &fakeClient{fail: make(map[string]int)}
}

func (c *fakeClient) Submit(_ context.Context, req Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := c.fail[req.Name]; n > 0 {
		c.fail[req.Name] = n - 1
		return assert.AnError
	}
	c.received = append(c.received, req)
	return nil
}

func (c *fakeClient) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.received)
}

func newTestForwarder(t *testing.T, client Client) *Forwarder {
	t.Helper()
	f, err := New(t.TempDir(), client)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestForwarder_CreateCNAME_Enqueues(t *testing.T) {
	client := newFakeClient()
	f := newTestForwarder(t, client)

	require.NoError(t, f.CreateCNAME("a.example.", "b.example.", 5))
	assert.Len(t, f.heap, 1)
}

func TestForwarder_CreateCNAME_RejectsInvalidName(t *testing.T) {
	client := newFakeClient()
	f := newTestForwarder(t, client)

	err := f.CreateCNAME("", "b.example.", 5)
	assert.Error(t, err)
}

func TestForwarder_CreateAlias_RequiresTargets(t *testing.T) {
	client := newFakeClient()
	f := newTestForwarder(t, client)

	err := f.CreateAlias("a.example.", nil, 1)
	assert.Error(t, err)
}

func TestForwarder_DuplicateRequestAbsorbed(t *testing.T) {
	client := newFakeClient()
	f := newTestForwarder(t, client)

	require.NoError(t, f.CreateCNAME("a.example.", "b.example.", 5))
	require.NoError(t, f.CreateCNAME("a.example.", "b.example.", 5))

	assert.Len(t, f.heap, 1, "an identical request must collapse into the already-queued entry")
}

func TestForwarder_DifferentDataIsNotADuplicate(t *testing.T) {
	client := newFakeClient()
	f := newTestForwarder(t, client)

	require.NoError(t, f.CreateCNAME("a.example.", "b.example.", 5))
	require.NoError(t, f.CreateCNAME("a.example.", "c.example.", 5))

	assert.Len(t, f.heap, 2)
}

func TestForwarder_DispatchOrderRespectsPriority(t *testing.T) {
	client := newFakeClient()
	f := newTestForwarder(t, client)

	require.NoError(t, f.CreateCNAME("low.example.", "target.example.", 10))
	require.NoError(t, f.CreateCNAME("high.example.", "target.example.", 1))

	first := f.next()
	require.NotNil(t, first)
	assert.Equal(t, "high.example.", first.Name)
}

func TestForwarder_Run_DispatchesAndPersistsRemoval(t *testing.T) {
	client := newFakeClient()
	f := newTestForwarder(t, client)

	require.NoError(t, f.CreateCNAME("a.example.", "b.example.", 1))

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() { f.Run(ctx); close(done) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	assert.Equal(t, 1, client.count())

	remaining, err := f.store.loadAll()
	require.NoError(t, err)
	assert.Empty(t, remaining, "dispatched request must be removed from the durable queue")
}

func TestForwarder_RestoresPendingRequestsOnReopen(t *testing.T) {
	dir := t.TempDir()
	client := newFakeClient()

	f1, err := New(dir, client)
	require.NoError(t, err)
	require.NoError(t, f1.CreateCNAME("a.example.", "b.example.", 3))
	require.NoError(t, f1.Close())

	f2, err := New(dir, client)
	require.NoError(t, err)
	defer f2.Close()

	assert.Len(t, f2.heap, 1)
}

func TestRequestDedupeKey_StableAcrossEquivalentRequests(t *testing.T) {
	a := Request{Op: OpRemoveRecords, Name: "x.example.", RecordType: dns.TypeCNAME}
	b := Request{Op: OpRemoveRecords, Name: "x.example.", RecordType: dns.TypeCNAME}
	assert.Equal(t, a.dedupeKey(), b.dedupeKey())
}
