package workflow

import (
	"errors"
	"fmt"
	"strings"
)

const (
	KindTransfer = "transfer_request"
	KindGeneric  = "generic"
)

const (
	ActionSubmit  = "Submit"
	ActionReturn  = "Return"
	ActionApprove = "Approve"
	ActionAccept  = "Accept"
	ActionDeny    = "Deny"
)

// Statuses shared by both tables.
const (
	StatusDraft  = "Draft"
	StatusDenied = "Denied"
)

// Transfer request statuses.
const (
	StatusCorrectionNeeded    = "Correction_Needed"
	StatusPendingSupReview    = "Pending_Sup_Review"
	StatusPendingReceivingSup = "Pending_Receiving_Sup"
	StatusPendingNewOfficer   = "Pending_New_Officer"
	StatusCompleted           = "Completed"
)

// Generic document statuses.
const (
	StatusSubmitted = "Submitted"
	StatusReturned  = "Returned"
	StatusApproved  = "Approved"
)

// Assignment says who a document goes to after a step.
type Assignment int

const (
	AssignUnchanged Assignment = iota
	AssignSupervisor
	AssignCreator
)

// Step is the resolved outcome of one (status, action) pair.
type Step struct {
	From   string
	To     string
	Label  string
	Lock   *bool
	Assign Assignment
	// ReassignEpisode moves the subject's active episode to the acting officer.
	ReassignEpisode bool
}

var ErrInvalidTransition = errors.New("invalid workflow transition")

// InvalidTransitionError names the rejected pair.
type InvalidTransitionError struct {
	Kind   string
	Status string
	Action string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition: %s from %s", e.Kind, e.Action, e.Status)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// KindFor picks the table for a template. Templates without an explicit
// kind fall back to their name.
func KindFor(templateKind, templateName string) string {
	switch templateKind {
	case KindTransfer, KindGeneric:
		return templateKind
	}
	if strings.Contains(templateName, "Transfer") {
		return KindTransfer
	}
	return KindGeneric
}

// Resolve looks up (status, action) for kind. Every pair not defined is an
// *InvalidTransitionError.
func Resolve(kind, status, action string) (Step, error) {
	var (
		step Step
		ok   bool
	)
	switch kind {
	case KindTransfer:
		step, ok = transferStep(status, action)
	default:
		kind = KindGeneric
		step, ok = genericStep(status, action)
	}
	if !ok {
		return Step{}, &InvalidTransitionError{Kind: kind, Status: status, Action: action}
	}
	step.From = status
	return step, nil
}

// IsTerminal reports whether no action leaves status.
func IsTerminal(kind, status string) bool {
	switch status {
	case StatusDenied:
		return true
	case StatusCompleted:
		return kind == KindTransfer
	case StatusApproved:
		return kind != KindTransfer
	}
	return false
}

func locked(v bool) *bool { return &v }

func transferStep(status, action string) (Step, bool) {
	if action == ActionDeny && !IsTerminal(KindTransfer, status) {
		return Step{To: StatusDenied, Label: StatusDenied, Lock: locked(true)}, true
	}
	switch status {
	case StatusDraft, StatusCorrectionNeeded:
		if action == ActionSubmit {
			return Step{To: StatusPendingSupReview, Label: "Supervisor Review", Lock: locked(true), Assign: AssignSupervisor}, true
		}
	case StatusPendingSupReview:
		switch action {
		case ActionReturn:
			return Step{To: StatusCorrectionNeeded, Label: StatusDraft, Lock: locked(false), Assign: AssignCreator}, true
		case ActionApprove:
			return Step{To: StatusPendingReceivingSup, Label: "Receiving Supervisor Review"}, true
		}
	case StatusPendingReceivingSup:
		if action == ActionApprove {
			return Step{To: StatusPendingNewOfficer, Label: "New Officer Acceptance"}, true
		}
	case StatusPendingNewOfficer:
		if action == ActionAccept {
			return Step{To: StatusCompleted, Label: StatusCompleted, ReassignEpisode: true}, true
		}
	}
	return Step{}, false
}

func genericStep(status, action string) (Step, bool) {
	if action == ActionDeny && !IsTerminal(KindGeneric, status) {
		return Step{To: StatusDenied, Label: StatusDenied}, true
	}
	switch status {
	case StatusDraft, StatusReturned:
		if action == ActionSubmit {
			return Step{To: StatusSubmitted, Label: StatusSubmitted, Lock: locked(true)}, true
		}
	case StatusSubmitted:
		switch action {
		case ActionReturn:
			return Step{To: StatusReturned, Label: StatusReturned, Lock: locked(false), Assign: AssignCreator}, true
		case ActionApprove:
			return Step{To: StatusApproved, Label: StatusApproved}, true
		}
	}
	return Step{}, false
}
