package workflow

import (
	"errors"
	"testing"
)

func TestTransferTable(t *testing.T) {
	cases := []struct {
		from, action, to string
		lock             *bool
		assign           Assignment
		reassign         bool
	}{
		{StatusDraft, ActionSubmit, StatusPendingSupReview, locked(true), AssignSupervisor, false},
		{StatusCorrectionNeeded, ActionSubmit, StatusPendingSupReview, locked(true), AssignSupervisor, false},
		{StatusPendingSupReview, ActionReturn, StatusCorrectionNeeded, locked(false), AssignCreator, false},
		{StatusPendingSupReview, ActionApprove, StatusPendingReceivingSup, nil, AssignUnchanged, false},
		{StatusPendingReceivingSup, ActionApprove, StatusPendingNewOfficer, nil, AssignUnchanged, false},
		{StatusPendingNewOfficer, ActionAccept, StatusCompleted, nil, AssignUnchanged, true},
		{StatusPendingNewOfficer, ActionDeny, StatusDenied, locked(true), AssignUnchanged, false},
		{StatusDraft, ActionDeny, StatusDenied, locked(true), AssignUnchanged, false},
	}
	for _, tc := range cases {
		step, err := Resolve(KindTransfer, tc.from, tc.action)
		if err != nil {
			t.Fatalf("%s/%s: %v", tc.from, tc.action, err)
		}
		if step.To != tc.to {
			t.Fatalf("%s/%s -> %s want %s", tc.from, tc.action, step.To, tc.to)
		}
		if (step.Lock == nil) != (tc.lock == nil) || (step.Lock != nil && *step.Lock != *tc.lock) {
			t.Fatalf("%s/%s lock mismatch", tc.from, tc.action)
		}
		if step.Assign != tc.assign || step.ReassignEpisode != tc.reassign {
			t.Fatalf("%s/%s side effects mismatch: %+v", tc.from, tc.action, step)
		}
		if step.From != tc.from {
			t.Fatalf("step.From=%s", step.From)
		}
	}
}

func TestTransferTableIsTotal(t *testing.T) {
	statuses := []string{StatusDraft, StatusCorrectionNeeded, StatusPendingSupReview, StatusPendingReceivingSup, StatusPendingNewOfficer, StatusCompleted, StatusDenied, "Bogus"}
	actions := []string{ActionSubmit, ActionReturn, ActionApprove, ActionAccept, ActionDeny, "Shred"}
	valid := map[[2]string]bool{
		{StatusDraft, ActionSubmit}:                true,
		{StatusCorrectionNeeded, ActionSubmit}:     true,
		{StatusPendingSupReview, ActionReturn}:     true,
		{StatusPendingSupReview, ActionApprove}:    true,
		{StatusPendingReceivingSup, ActionApprove}: true,
		{StatusPendingNewOfficer, ActionAccept}:    true,
	}
	for _, s := range statuses {
		for _, a := range actions {
			_, err := Resolve(KindTransfer, s, a)
			want := valid[[2]string{s, a}] || (a == ActionDeny && s != StatusCompleted && s != StatusDenied)
			if want && err != nil {
				t.Fatalf("%s/%s unexpectedly invalid: %v", s, a, err)
			}
			if !want {
				var ite *InvalidTransitionError
				if !errors.As(err, &ite) || !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("%s/%s: expected InvalidTransitionError, got %v", s, a, err)
				}
				if ite.Status != s || ite.Action != a || ite.Kind != KindTransfer {
					t.Fatalf("error fields %+v", ite)
				}
			}
		}
	}
}

func TestGenericTable(t *testing.T) {
	step, err := Resolve(KindGeneric, StatusDraft, ActionSubmit)
	if err != nil || step.To != StatusSubmitted || step.Lock == nil || !*step.Lock {
		t.Fatalf("submit: %+v %v", step, err)
	}
	step, err = Resolve(KindGeneric, StatusSubmitted, ActionReturn)
	if err != nil || step.To != StatusReturned || step.Assign != AssignCreator || *step.Lock {
		t.Fatalf("return: %+v %v", step, err)
	}
	step, err = Resolve(KindGeneric, StatusReturned, ActionSubmit)
	if err != nil || step.To != StatusSubmitted {
		t.Fatalf("resubmit: %+v %v", step, err)
	}
	step, err = Resolve(KindGeneric, StatusSubmitted, ActionApprove)
	if err != nil || step.To != StatusApproved {
		t.Fatalf("approve: %+v %v", step, err)
	}
	if _, err := Resolve(KindGeneric, StatusApproved, ActionDeny); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("deny after approve should be invalid: %v", err)
	}
	if _, err := Resolve(KindGeneric, StatusDraft, ActionAccept); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("accept on generic should be invalid: %v", err)
	}
	if _, err := Resolve("", StatusDraft, ActionSubmit); err != nil {
		t.Fatalf("empty kind should use generic table: %v", err)
	}
}

func TestKindFor(t *testing.T) {
	if KindFor("", "Transfer Request") != KindTransfer {
		t.Fatalf("name fallback")
	}
	if KindFor("generic", "Transfer Request") != KindGeneric {
		t.Fatalf("explicit kind wins")
	}
	if KindFor("", "Home Visit Form") != KindGeneric {
		t.Fatalf("default generic")
	}
}
