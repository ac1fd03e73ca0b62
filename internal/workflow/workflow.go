// Package workflow holds the SOP approval state machine: which role may move
// a document from which status, and what each move does to the header.
package workflow

import "strings"

// Status values match the numbering used in the document headers table.
type Status int

const (
	StatusDraft                 Status = 1
	StatusSubmittedForReview    Status = 2
	StatusUnderSupervisorReview Status = 3
	StatusSupervisorApproved    Status = 4
	StatusPendingManagerReview  Status = 5
	StatusPublished             Status = 6
)

func (s Status) Valid() bool {
	return s >= StatusDraft && s <= StatusPublished
}

func (s Status) String() string {
	switch s {
	case StatusDraft:
		return "DRAFT"
	case StatusSubmittedForReview:
		return "SUBMITTED_FOR_REVIEW"
	case StatusUnderSupervisorReview:
		return "UNDER_SUPERVISOR_REVIEW"
	case StatusSupervisorApproved:
		return "SUPERVISOR_APPROVED"
	case StatusPendingManagerReview:
		return "PENDING_MANAGER_REVIEW"
	case StatusPublished:
		return "PUBLISHED"
	default:
		return "UNKNOWN"
	}
}

type Role string

const (
	RoleAuthor   Role = "author"   // QA Associate
	RoleReviewer Role = "reviewer" // QA Supervisor
	RoleApprover Role = "approver" // QA Manager
)

// NormalizeRole closes an upstream role string into the workflow enum.
func NormalizeRole(role string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(role))) {
	case RoleAuthor:
		return RoleAuthor, true
	case RoleReviewer:
		return RoleReviewer, true
	case RoleApprover:
		return RoleApprover, true
	default:
		return "", false
	}
}

type Action string

const (
	ActionSubmit  Action = "submit"
	ActionApprove Action = "approve"
	ActionConfirm Action = "confirm"
	ActionReturn  Action = "return"
	// ActionView is the implicit trigger: a privileged role loading the
	// document consumes a pending status without an extra click.
	ActionView Action = "view"
)

// Signs names the signature slot a transition fills on the header.
type Signs int

const (
	SignsNone Signs = iota
	SignsPrepared
	SignsReviewed
	SignsApproved
)

type Transition struct {
	From   Status
	Role   Role
	Action Action
	To     Status
	// Implicit transitions are applied as a side effect of a view and must
	// never fail the request that triggered them.
	Implicit bool
	Signs    Signs
	// BumpsVersion: publishing promotes the header to a new major revision.
	BumpsVersion bool
	// ClearsApprovals: the manager's return edge invalidates signatures
	// collected for the now-stale revision.
	ClearsApprovals bool
}

var table = []Transition{
	{From: StatusDraft, Role: RoleAuthor, Action: ActionSubmit, To: StatusSubmittedForReview, Signs: SignsPrepared},
	{From: StatusSubmittedForReview, Role: RoleReviewer, Action: ActionView, To: StatusUnderSupervisorReview, Implicit: true},
	{From: StatusUnderSupervisorReview, Role: RoleReviewer, Action: ActionApprove, To: StatusSupervisorApproved, Signs: SignsReviewed},
	{From: StatusSupervisorApproved, Role: RoleReviewer, Action: ActionConfirm, To: StatusPendingManagerReview},
	{From: StatusSupervisorApproved, Role: RoleApprover, Action: ActionConfirm, To: StatusPendingManagerReview},
	{From: StatusSupervisorApproved, Role: RoleApprover, Action: ActionView, To: StatusPendingManagerReview, Implicit: true},
	{From: StatusPendingManagerReview, Role: RoleApprover, Action: ActionApprove, To: StatusPublished, Signs: SignsApproved, BumpsVersion: true},
	{From: StatusPendingManagerReview, Role: RoleApprover, Action: ActionReturn, To: StatusUnderSupervisorReview, ClearsApprovals: true},
}

// Find returns the transition for an exact (status, role, action) triple.
func Find(from Status, role Role, action Action) (Transition, bool) {
	for _, t := range table {
		if t.From == from && t.Role == role && t.Action == action {
			return t, true
		}
	}
	return Transition{}, false
}

// CanTransition reports whether the triple appears in the transition table.
func CanTransition(from Status, role Role, action Action) bool {
	_, ok := Find(from, role, action)
	return ok
}

// AlreadyApplied reports whether the (role, action) pair has a transition
// whose target is the current status. It makes retries of the same
// transition no-ops: the supervisor's explicit confirm and the manager's
// implicit view both land on PENDING_MANAGER_REVIEW, and whichever fires
// second must not fail.
func AlreadyApplied(current Status, role Role, action Action) bool {
	for _, t := range table {
		if t.Role == role && t.Action == action && t.To == current {
			return true
		}
	}
	return false
}

// Transitions returns a copy of the full table, for diagnostics and tests.
func Transitions() []Transition {
	out := make([]Transition, len(table))
	copy(out, table)
	return out
}
