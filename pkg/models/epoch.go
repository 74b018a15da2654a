package models

import (
	"fmt"
	"math/big"
	"time"
)

// EpochState mirrors the lifecycle enum stored by the epoch manager contract
type EpochState uint8

const (
	EpochStateOpen    EpochState = 0 // Accepting deposits and withdrawal requests
	EpochStateLocked  EpochState = 1 // Closed for new activity, awaiting settlement
	EpochStateSettled EpochState = 2 // Accounting finalized
)

func (s EpochState) String() string {
	switch s {
	case EpochStateOpen:
		return "OPEN"
	case EpochStateLocked:
		return "LOCKED"
	case EpochStateSettled:
		return "SETTLED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
	}
}

// EpochRecord is a read-only snapshot of one epoch as held by the ledger.
// The keeper never mutates it; settlement happens as a side effect of processEpoch.
type EpochRecord struct {
	ID                      uint64
	StartTime               time.Time
	EndTime                 time.Time
	State                   EpochState
	TotalDeposits           *big.Int
	TotalWithdrawalRequests *big.Int
	Settled                 bool
}

// Ended reports whether the epoch window has closed at now.
// An epoch whose end time equals now counts as ended.
func (r EpochRecord) Ended(now time.Time) bool {
	return !now.Before(r.EndTime)
}

// Remaining returns the time left until the epoch ends, or zero once ended
func (r EpochRecord) Remaining(now time.Time) time.Duration {
	if r.Ended(now) {
		return 0
	}
	return r.EndTime.Sub(now)
}

// Consistent checks the settled flag against the lifecycle state
func (r EpochRecord) Consistent() error {
	if r.Settled && r.State != EpochStateSettled {
		return fmt.Errorf("epoch %d is flagged settled but state is %s", r.ID, r.State)
	}
	return nil
}

// EpochStatus is the keeper's classification of the current epoch
type EpochStatus string

const (
	EpochStatusOpen           EpochStatus = "open_active"
	EpochStatusDue            EpochStatus = "due"
	EpochStatusAlreadySettled EpochStatus = "anomalous_already_settled"
)

// ClassifyEpoch decides what the keeper should do with the epoch at now
func ClassifyEpoch(r EpochRecord, now time.Time) EpochStatus {
	switch {
	case !r.Ended(now):
		return EpochStatusOpen
	case r.Settled:
		return EpochStatusAlreadySettled
	default:
		return EpochStatusDue
	}
}
