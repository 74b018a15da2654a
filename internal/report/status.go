package report

import (
	"time"

	"github.com/psantana5/epoch-keeper/internal/keeper"
)

// RateStatus is the rate part of a status report
type RateStatus struct {
	Operating string `json:"operating,omitempty" yaml:"operating,omitempty"`
	Target    string `json:"target,omitempty" yaml:"target,omitempty"`
	InSync    bool   `json:"in_sync" yaml:"in_sync"`
	Delta     string `json:"delta,omitempty" yaml:"delta,omitempty"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
}

// EpochStatus is the epoch part of a status report
type EpochStatus struct {
	ID        uint64    `json:"id" yaml:"id"`
	State     string    `json:"state,omitempty" yaml:"state,omitempty"`
	Status    string    `json:"status,omitempty" yaml:"status,omitempty"`
	Start     time.Time `json:"start,omitempty" yaml:"start,omitempty"`
	End       time.Time `json:"end,omitempty" yaml:"end,omitempty"`
	Remaining string    `json:"remaining,omitempty" yaml:"remaining,omitempty"`
	Clock     string    `json:"clock,omitempty" yaml:"clock,omitempty"`
	Settled   bool      `json:"settled" yaml:"settled"`
	Deposits  string    `json:"total_deposits,omitempty" yaml:"total_deposits,omitempty"`
	Requests  string    `json:"total_withdrawal_requests,omitempty" yaml:"total_withdrawal_requests,omitempty"`
	Warning   string    `json:"warning,omitempty" yaml:"warning,omitempty"`
	Error     string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// Status is a read-only snapshot of what the keeper watches
type Status struct {
	Rate        RateStatus  `json:"rate" yaml:"rate"`
	Epoch       EpochStatus `json:"epoch" yaml:"epoch"`
	PendingWork []string    `json:"pending_actions" yaml:"pending_actions"`
}

// FromSnapshot builds a Status report
func FromSnapshot(s keeper.Snapshot) *Status {
	st := &Status{PendingWork: []string{}}

	if s.Rate.Err != nil {
		st.Rate.Error = s.Rate.Err.Error()
	} else {
		snap := s.Rate.Snapshot
		st.Rate = RateStatus{
			Operating: snap.Operating.String(),
			Target:    snap.Target.String(),
			InSync:    snap.InSync(),
			Delta:     snap.Delta().StringFixed(2),
		}
	}
	if s.Rate.Request != nil {
		st.PendingWork = append(st.PendingWork, s.Rate.Request.String())
	}

	if s.Epoch.Err != nil {
		st.Epoch.Error = s.Epoch.Err.Error()
	} else {
		rec := s.Epoch.Record
		st.Epoch = EpochStatus{
			ID:        rec.ID,
			State:     rec.State.String(),
			Status:    string(s.Epoch.Status),
			Start:     rec.StartTime.UTC(),
			End:       rec.EndTime.UTC(),
			Remaining: s.Epoch.Remaining.Round(time.Second).String(),
			Clock:     string(s.Epoch.Clock),
			Settled:   rec.Settled,
			Warning:   s.Epoch.Warning,
		}
		if rec.TotalDeposits != nil {
			st.Epoch.Deposits = rec.TotalDeposits.String()
		}
		if rec.TotalWithdrawalRequests != nil {
			st.Epoch.Requests = rec.TotalWithdrawalRequests.String()
		}
	}
	if s.Epoch.Request != nil {
		st.PendingWork = append(st.PendingWork, s.Epoch.Request.String())
	}

	return st
}
