package batch

// State is a step of the per-transaction audit lifecycle.
type State string

const (
	StateReceived            State = "received"
	StateCompletenessChecked State = "completeness_checked"
	StateRejectedIncomplete  State = "rejected_incomplete"
	StateMaterialsDispatched State = "materials_dispatched"
	StateMaterialResolved    State = "per_material_resolved"
	StateResponseAssembled   State = "response_assembled"
	StateReturned            State = "returned"
)

// StateHook observes state transitions. material is empty except for
// StateMaterialResolved. Hooks are called from worker goroutines and must be
// safe for concurrent use.
type StateHook func(transactionID int64, state State, material string)
