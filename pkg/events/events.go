// Package events provides the in-process change-notification broker the
// Coordination Store Client publishes to after every committed write.
// Store.Subscribe hands out subscribers; neither the Node Lifecycle
// Manager nor the Routing Policy Reconciler subscribes to it.
package events

import (
	"sync"
	"time"
)

// Type identifies the kind of durable-state change a Change event reports.
type Type string

const (
	TypeNodeWritten           Type = "node.written"
	TypeNodeRemoved           Type = "node.removed"
	TypeRoutingPolicyWritten  Type = "routing_policy.written"
	TypeZoneRoutingPolicySet  Type = "zone_routing_policy.written"
	TypeRunWritten            Type = "run.written"
	TypeLoadBalancerObserved  Type = "load_balancer.observed"
)

// Change is a single notification of a committed write.
type Change struct {
	Type      Type
	Key       string // the entity's store path, e.g. a hostname or (application,jobType,number)
	Agent     string
	Timestamp time.Time
}

// Subscriber is a channel that receives Change notifications.
type Subscriber chan *Change

// Broker fans committed-write notifications out to any number of
// reconciliation loops. It never blocks a writer: Publish is
// non-blocking and a full subscriber buffer simply drops the
// notification, since every subscriber also falls back to its own
// ticker.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	changeCh    chan *Change
	stopCh      chan struct{}
}

// NewBroker creates a new, unstarted Broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		changeCh:    make(chan *Change, 256),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker. Safe to call at most once.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe registers a new subscription.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 32)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish queues a change notification for broadcast. Non-blocking.
func (b *Broker) Publish(change *Change) {
	if change.Timestamp.IsZero() {
		change.Timestamp = time.Now()
	}

	select {
	case b.changeCh <- change:
	case <-b.stopCh:
	default:
		// broker backlog full; reconcilers still converge on their own ticker.
	}
}

func (b *Broker) run() {
	for {
		select {
		case change := <-b.changeCh:
			b.broadcast(change)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(change *Change) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- change:
		default:
		}
	}
}

// SubscriberCount reports the number of active subscriptions.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
