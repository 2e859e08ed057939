package orchestrator

import "github.com/contentops/promoflow/pkg/api"

// statusRank orders the non-terminal happy path. FAILED and CANCELLED
// are reachable from any non-terminal state and have no rank.
var statusRank = map[api.Status]int{
	api.StatusPending:         0,
	api.StatusInProgress:      1,
	api.StatusWaitingApproval: 2,
	api.StatusApproved:        3,
	api.StatusCompleted:       4,
}

// allowedTransition reports whether the strict guard accepts moving a
// session from one status to another. Re-announcing the current status
// is always fine; terminal states accept nothing else.
func allowedTransition(from, to api.Status) bool {
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	if to == api.StatusFailed || to == api.StatusCancelled {
		return true
	}
	fromRank, okFrom := statusRank[from]
	toRank, okTo := statusRank[to]
	if !okFrom || !okTo {
		return false
	}
	return toRank > fromRank
}
