// Package types holds the durable entities the coordination store owns:
// Node, LoadBalancer, RoutingPolicy, ZoneRoutingPolicy, Endpoint, Run and
// Step. Node/parent relationships are hostname references resolved
// through the store — never pointer cycles — and children are
// discovered by query, not a back-reference held on the host.
package types

import "time"

// NodeType classifies a node and constrains what it may host as children.
type NodeType string

const (
	NodeTypeTenant     NodeType = "tenant"
	NodeTypeHost       NodeType = "host"
	NodeTypeProxy      NodeType = "proxy"
	NodeTypeConfigHost NodeType = "confighost"
	NodeTypeController NodeType = "controller"
)

// CanHostChildOfType reports whether this node type's capability
// predicate allows hosting a child of the given type. Only host-like
// types may parent children at all.
func (t NodeType) CanHostChildOfType(child NodeType) bool {
	switch t {
	case NodeTypeHost:
		return child == NodeTypeTenant || child == NodeTypeProxy || child == NodeTypeConfigHost
	default:
		return false
	}
}

// State is the Node Lifecycle Manager's state machine, per §4.2.
type State string

const (
	StateProvisioned  State = "provisioned"
	StateReady        State = "ready"
	StateReserved     State = "reserved"
	StateActive       State = "active"
	StateInactive     State = "inactive"
	StateDirty        State = "dirty"
	StateFailed       State = "failed"
	StateParked       State = "parked"
	StateDeprovisioned State = "deprovisioned"
	StateBreakfixed   State = "breakfixed"
)

// AllocationAllowed reports whether an allocation may be present in
// this state — invariant (i) of §3: present iff reserved/active/inactive,
// optional in dirty, forbidden otherwise.
func (s State) AllocationAllowed() bool {
	switch s {
	case StateReserved, StateActive, StateInactive, StateDirty:
		return true
	default:
		return false
	}
}

// AllocationRequired reports whether an allocation must be present.
func (s State) AllocationRequired() bool {
	switch s {
	case StateReserved, StateActive, StateInactive:
		return true
	default:
		return false
	}
}

// Allocation binds a node to an application's cluster membership.
type Allocation struct {
	OwnerApplication  string
	Cluster           string
	MembershipIndex   int
	Removable         bool
	RestartGeneration int
	Retired           bool
}

// Status carries the operator/controller-set flags and OS/firmware
// tracking fields named in §3.
type Status struct {
	WantToRetire       bool
	WantToDeprovision  bool
	WantToRebuild      bool
	WantToFail         bool
	OSVersionWanted    string
	OSVersionCurrent   string
	FirmwareVerifiedAt time.Time
	FailCount          int
	RebootGeneration   int
}

// IPConfig is never mutated in place; it is replaced wholesale or
// cleared on entry to deprovisioned (§3, §5).
type IPConfig struct {
	PrimaryIPv4 string
	PrimaryIPv6 string
	PoolIPs     []string
}

// HistoryEventType names the kind of lifecycle event recorded on a node.
type HistoryEventType string

const (
	HistoryProvisioned  HistoryEventType = "provisioned"
	HistoryReady        HistoryEventType = "ready"
	HistoryReserved     HistoryEventType = "reserved"
	HistoryActivated    HistoryEventType = "activated"
	HistoryDeactivated  HistoryEventType = "deactivated"
	HistoryDirtied      HistoryEventType = "dirtied"
	HistoryFailed       HistoryEventType = "failed"
	HistoryParked       HistoryEventType = "parked"
	HistoryDeprovisioned HistoryEventType = "deprovisioned"
	HistoryBreakfixed   HistoryEventType = "breakfixed"
)

// HistoryEvent is one append-only entry in a node's event log.
type HistoryEvent struct {
	EventType HistoryEventType
	Agent     string
	Instant   time.Time
}

// maxHistoryEvents bounds the serialized size of a node's history log;
// the oldest entries are dropped once the bound is exceeded.
const maxHistoryEvents = 500

// Report is an arbitrary agent-supplied observation about a node
// (capacity, health probe results, inventory data).
type Report struct {
	Name      string
	Payload   string
	UpdatedAt time.Time
}

// Node is the central entity of the Node Lifecycle Manager.
type Node struct {
	Hostname       string // unique, immutable
	ParentHostname string // optional — set for child nodes on a host
	Type           NodeType
	State          State
	Allocation     *Allocation // nil unless allowed by State.AllocationAllowed()
	Status         Status
	IPConfig       *IPConfig
	History        []HistoryEvent
	Reports        []Report
}

// AppendHistory records an event, trimming the oldest entries once the
// log exceeds maxHistoryEvents.
func (n *Node) AppendHistory(eventType HistoryEventType, agent string, instant time.Time) {
	n.History = append(n.History, HistoryEvent{EventType: eventType, Agent: agent, Instant: instant})
	if len(n.History) > maxHistoryEvents {
		n.History = n.History[len(n.History)-maxHistoryEvents:]
	}
}

// IsChild reports whether this node has a parent host.
func (n *Node) IsChild() bool {
	return n.ParentHostname != ""
}
