package nodes

import "github.com/ridgeline-cloud/controlplane/pkg/types"

// legalTransitions is the node state machine of §4.2, excluding the
// two transitions available from every state (any → failed, any →
// parked), which canTransition checks separately.
var legalTransitions = map[types.State]map[types.State]bool{
	types.StateDeprovisioned: {types.StateProvisioned: true},
	types.StateProvisioned:   {types.StateDirty: true},
	types.StateDirty:         {types.StateReady: true},
	types.StateReady:         {types.StateReserved: true},
	types.StateReserved:      {types.StateActive: true, types.StateDirty: true},
	types.StateActive:        {types.StateInactive: true, types.StateDirty: true},
	types.StateInactive:      {types.StateDirty: true, types.StateReserved: true, types.StateParked: true},
	types.StateFailed:        {types.StateDirty: true, types.StateActive: true, types.StateDeprovisioned: true, types.StateBreakfixed: true},
	types.StateParked:        {types.StateDirty: true, types.StateActive: true, types.StateDeprovisioned: true, types.StateBreakfixed: true},
	types.StateBreakfixed:    {types.StateDirty: true},
}

// canTransition reports whether from → to is a legal state transition.
func canTransition(from, to types.State) bool {
	if to == types.StateFailed || to == types.StateParked {
		return true
	}
	return legalTransitions[from][to]
}
