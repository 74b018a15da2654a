package models

import (
	"testing"
	"time"
)

func TestClassifyEpoch(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name     string
		endTime  time.Time
		settled  bool
		expected EpochStatus
	}{
		{"Open with time left", now.Add(time.Hour), false, EpochStatusOpen},
		{"Open one second before end", now.Add(time.Second), false, EpochStatusOpen},
		{"End equals now counts as ended", now, false, EpochStatusDue},
		{"Ended and unsettled", now.Add(-10 * time.Second), false, EpochStatusDue},
		{"Ended and settled", now.Add(-10 * time.Second), true, EpochStatusAlreadySettled},
		{"Settled but still open", now.Add(time.Hour), true, EpochStatusOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := EpochRecord{ID: 7, EndTime: tt.endTime, Settled: tt.settled}
			if got := ClassifyEpoch(r, now); got != tt.expected {
				t.Errorf("ClassifyEpoch() = %v, expected %v", got, tt.expected)
			}
		})
	}
}

func TestEpochRecordRemaining(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	r := EpochRecord{EndTime: now.Add(90 * time.Minute)}

	if got := r.Remaining(now); got != 90*time.Minute {
		t.Errorf("Remaining() = %v, expected 1h30m", got)
	}
	if got := r.Remaining(now.Add(2 * time.Hour)); got != 0 {
		t.Errorf("Remaining() after end = %v, expected 0", got)
	}
}

func TestEpochRecordConsistent(t *testing.T) {
	if err := (EpochRecord{ID: 1, Settled: true, State: EpochStateSettled}).Consistent(); err != nil {
		t.Errorf("expected settled record to be consistent, got %v", err)
	}
	if err := (EpochRecord{ID: 1, Settled: true, State: EpochStateLocked}).Consistent(); err == nil {
		t.Error("expected error for settled flag on locked epoch")
	}
}

func TestRateFormatting(t *testing.T) {
	tests := []struct {
		rate     Rate
		expected string
	}{
		{0, "0.00%"},
		{5, "0.05%"},
		{550, "5.50%"},
		{1234, "12.34%"},
	}

	for _, tt := range tests {
		if got := tt.rate.String(); got != tt.expected {
			t.Errorf("Rate(%d).String() = %q, expected %q", uint64(tt.rate), got, tt.expected)
		}
	}
}

func TestRateSnapshotInSync(t *testing.T) {
	if !(RateSnapshot{Operating: 550, Target: 550}).InSync() {
		t.Error("equal rates should be in sync")
	}
	if (RateSnapshot{Operating: 500, Target: 550}).InSync() {
		t.Error("lower operating rate should not be in sync")
	}
	if (RateSnapshot{Operating: 600, Target: 550}).InSync() {
		t.Error("higher operating rate should not be in sync")
	}

	delta := RateSnapshot{Operating: 600, Target: 550}.Delta()
	if delta.String() != "-0.5" {
		t.Errorf("Delta() = %s, expected -0.5", delta)
	}
}

func TestErrorCategoryFatal(t *testing.T) {
	tests := []struct {
		category ErrorCategory
		fatal    bool
	}{
		{CategoryNone, false},
		{CategoryInsufficientFunds, false},
		{CategoryPreconditionNotYetMet, false},
		{CategoryUnauthorized, true},
		{CategoryUnknown, true},
	}

	for _, tt := range tests {
		if got := tt.category.Fatal(); got != tt.fatal {
			t.Errorf("%q.Fatal() = %v, expected %v", tt.category, got, tt.fatal)
		}
	}
}
