package order

import "testing"

func TestCanTransition_ValidEdges(t *testing.T) {
	valid := []struct {
		from   Status
		action Action
		to     Status
	}{
		{StatusWaitingPayment, ActionConfirmPayment, StatusPaid},
		{StatusPaid, ActionShip, StatusShipped},
		{StatusShipped, ActionAccept, StatusCompleted},
		{StatusShipped, ActionRaiseDispute, StatusDispute},
		{StatusDispute, ActionResolveDispute, StatusCompleted},
		{StatusDispute, ActionResolveDispute, StatusRefunded},
		{StatusPaid, ActionOverride, StatusCompleted},
		{StatusPaid, ActionOverride, StatusRefunded},
		{StatusShipped, ActionOverride, StatusCompleted},
		{StatusShipped, ActionOverride, StatusRefunded},
	}

	for _, tc := range valid {
		if !CanTransition(tc.from, tc.action, tc.to) {
			t.Errorf("expected %s --%s--> %s to be valid", tc.from, tc.action, tc.to)
		}
	}
}

func TestCanTransition_RejectsEverythingElse(t *testing.T) {
	invalid := []struct {
		from   Status
		action Action
		to     Status
	}{
		{StatusWaitingPayment, ActionShip, StatusShipped},
		{StatusWaitingPayment, ActionAccept, StatusCompleted},
		{StatusPaid, ActionConfirmPayment, StatusPaid},
		{StatusPaid, ActionAccept, StatusCompleted},
		{StatusPaid, ActionRaiseDispute, StatusDispute},
		{StatusShipped, ActionShip, StatusShipped},
		{StatusDispute, ActionAccept, StatusCompleted},
		{StatusDispute, ActionRaiseDispute, StatusDispute},
		{StatusDispute, ActionOverride, StatusCompleted},
		{StatusCompleted, ActionOverride, StatusRefunded},
		{StatusCompleted, ActionResolveDispute, StatusRefunded},
		{StatusRefunded, ActionAccept, StatusCompleted},
		{StatusRefunded, ActionConfirmPayment, StatusPaid},
	}

	for _, tc := range invalid {
		if CanTransition(tc.from, tc.action, tc.to) {
			t.Errorf("expected %s --%s--> %s to be rejected", tc.from, tc.action, tc.to)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusRefunded} {
		if !Terminal(s) {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range []Status{StatusWaitingPayment, StatusPaid, StatusShipped, StatusDispute} {
		if Terminal(s) {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}

func TestAllowedNext(t *testing.T) {
	next := AllowedNext(StatusShipped)
	want := map[Status]bool{StatusCompleted: true, StatusDispute: true, StatusRefunded: true}
	if len(next) != len(want) {
		t.Fatalf("expected %d next states from SHIPPED, got %v", len(want), next)
	}
	for _, s := range next {
		if !want[s] {
			t.Errorf("unexpected next state %s from SHIPPED", s)
		}
	}
}

func TestValidStatus(t *testing.T) {
	if !ValidStatus(StatusDispute) {
		t.Error("expected DISPUTE to be a valid status")
	}
	if ValidStatus("CANCELLED") {
		t.Error("expected unknown status to be invalid")
	}
}
