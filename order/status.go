package order

// Status is the closed set of escrow order states. Transitions move forward
// only, along the edges declared below.
type Status string

const (
	StatusWaitingPayment Status = "WAITING_PAYMENT"
	StatusPaid           Status = "PAID"
	StatusShipped        Status = "SHIPPED"
	StatusDispute        Status = "DISPUTE"
	StatusCompleted      Status = "COMPLETED"
	StatusRefunded       Status = "REFUNDED"
)

// Action names the events that may move an order between states.
type Action string

const (
	ActionConfirmPayment Action = "confirm_payment"
	ActionShip           Action = "ship"
	ActionAccept         Action = "accept"
	ActionRaiseDispute   Action = "raise_dispute"
	ActionResolveDispute Action = "resolve_dispute"
	ActionOverride       Action = "arbiter_override"
)

// edges maps each action to its valid source states and the states it may
// produce. An action absent for a source state is an invalid transition.
var edges = map[Action]map[Status][]Status{
	ActionConfirmPayment: {
		StatusWaitingPayment: {StatusPaid},
	},
	ActionShip: {
		StatusPaid: {StatusShipped},
	},
	ActionAccept: {
		StatusShipped: {StatusCompleted},
	},
	ActionRaiseDispute: {
		StatusShipped: {StatusDispute},
	},
	ActionResolveDispute: {
		StatusDispute: {StatusCompleted, StatusRefunded},
	},
	ActionOverride: {
		StatusPaid:    {StatusCompleted, StatusRefunded},
		StatusShipped: {StatusCompleted, StatusRefunded},
	},
}

// CanTransition reports whether action may move an order from one status to
// another.
func CanTransition(from Status, action Action, to Status) bool {
	for _, next := range edges[action][from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStates returns the states reachable from the given status via action.
func NextStates(from Status, action Action) []Status {
	return edges[action][from]
}

// AllowedNext returns every state reachable from the given status across all
// actions, for reporting on rejected transitions.
func AllowedNext(from Status) []Status {
	seen := map[Status]bool{}
	out := []Status{}
	for _, sources := range edges {
		for _, next := range sources[from] {
			if !seen[next] {
				seen[next] = true
				out = append(out, next)
			}
		}
	}
	return out
}

// Terminal reports whether no action can leave the given status.
func Terminal(s Status) bool {
	return len(AllowedNext(s)) == 0
}

// ValidStatus reports whether s is a member of the closed state set.
func ValidStatus(s Status) bool {
	switch s {
	case StatusWaitingPayment, StatusPaid, StatusShipped, StatusDispute, StatusCompleted, StatusRefunded:
		return true
	default:
		return false
	}
}
