package models

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ActionKind identifies the state-changing call a request asks for
type ActionKind string

const (
	ActionSyncRate     ActionKind = "sync_rate"
	ActionProcessEpoch ActionKind = "process_epoch"
)

// ActionRequest describes one candidate state-changing call. It is created by a
// check, consumed once by the executor, then discarded.
type ActionRequest struct {
	Kind         ActionKind
	Target       common.Address
	Method       string
	Args         []any
	Precondition string // Human-readable condition that made the call due

	// Projected values for dry-run and audit logs, empty when not derivable
	Before string
	After  string
}

func (r ActionRequest) String() string {
	return fmt.Sprintf("%s %s.%s()", r.Kind, r.Target.Hex(), r.Method)
}

// OutcomeStatus is the terminal state of executing an ActionRequest
type OutcomeStatus string

const (
	OutcomeSkipped          OutcomeStatus = "skipped"
	OutcomeDryRun           OutcomeStatus = "dry_run_logged"
	OutcomeSimulationFailed OutcomeStatus = "simulation_failed"
	OutcomeSendFailed       OutcomeStatus = "send_failed"
	OutcomeSent             OutcomeStatus = "sent"
	OutcomeConfirmed        OutcomeStatus = "confirmed"
	OutcomeReverted         OutcomeStatus = "reverted"
	OutcomeUnconfirmed      OutcomeStatus = "unconfirmed"
)

// ActionOutcome is the result of executing one ActionRequest. Used for
// reporting and the exit code only.
type ActionOutcome struct {
	Request  ActionRequest
	Status   OutcomeStatus
	Category ErrorCategory // Set when a failure was classified
	Reason   string
	TxHash   common.Hash
	Block    uint64
	Fatal    bool
	Err      error
}

// Succeeded reports whether the action landed on the ledger successfully
func (o ActionOutcome) Succeeded() bool {
	return o.Status == OutcomeConfirmed
}

// ErrorCategory is the classifier's verdict on a failed simulation or send
type ErrorCategory string

const (
	CategoryNone                  ErrorCategory = ""
	CategoryInsufficientFunds     ErrorCategory = "insufficient_funds"
	CategoryPreconditionNotYetMet ErrorCategory = "precondition_not_yet_met"
	CategoryUnauthorized          ErrorCategory = "unauthorized"
	CategoryUnknown               ErrorCategory = "unknown"
)

// Fatal reports whether a failure in this category must fail the run
func (c ErrorCategory) Fatal() bool {
	switch c {
	case CategoryInsufficientFunds, CategoryPreconditionNotYetMet:
		return false
	default:
		return c != CategoryNone
	}
}

// Explain returns the operator-facing meaning of the category
func (c ErrorCategory) Explain() string {
	switch c {
	case CategoryInsufficientFunds:
		return "expected while no deposits or yield exist yet; nothing to do"
	case CategoryPreconditionNotYetMet:
		return "ledger state changed since evaluation; will be re-checked next run"
	case CategoryUnauthorized:
		return "signing identity lacks the required role; fix keeper configuration"
	case CategoryUnknown:
		return "unrecognized failure; needs attention"
	default:
		return ""
	}
}
