package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/psantana5/epoch-keeper/internal/keeper"
	"github.com/psantana5/epoch-keeper/pkg/models"
)

// ActionSummary is the reportable part of an ActionOutcome
type ActionSummary struct {
	Kind     string `json:"kind" yaml:"kind"`
	Call     string `json:"call" yaml:"call"`
	Status   string `json:"status" yaml:"status"`
	Category string `json:"category,omitempty" yaml:"category,omitempty"`
	Reason   string `json:"reason,omitempty" yaml:"reason,omitempty"`
	TxHash   string `json:"tx_hash,omitempty" yaml:"tx_hash,omitempty"`
	Explorer string `json:"explorer,omitempty" yaml:"explorer,omitempty"`
	Block    uint64 `json:"block,omitempty" yaml:"block,omitempty"`
	Fatal    bool   `json:"fatal" yaml:"fatal"`
}

// StepSummary is the reportable part of a StepResult
type StepSummary struct {
	Step     string         `json:"step" yaml:"step"`
	Summary  string         `json:"summary" yaml:"summary"`
	Warning  string         `json:"warning,omitempty" yaml:"warning,omitempty"`
	Error    string         `json:"error,omitempty" yaml:"error,omitempty"`
	Fatal    bool           `json:"fatal" yaml:"fatal"`
	Duration float64        `json:"duration_seconds" yaml:"duration_seconds"`
	Action   *ActionSummary `json:"action,omitempty" yaml:"action,omitempty"`
}

// Summary is the immutable record of one keeper pass
type Summary struct {
	RunID    string        `json:"run_id" yaml:"run_id"`
	Mode     string        `json:"mode" yaml:"mode"`
	Started  time.Time     `json:"started" yaml:"started"`
	Finished time.Time     `json:"finished" yaml:"finished"`
	Duration float64       `json:"duration_seconds" yaml:"duration_seconds"`
	ExitCode int           `json:"exit_code" yaml:"exit_code"`
	Steps    []StepSummary `json:"steps" yaml:"steps"`
}

// FromRun builds a Summary. txURL may be nil.
func FromRun(r *keeper.RunResult, txURL func(common.Hash) string) *Summary {
	s := &Summary{
		RunID:    r.RunID,
		Mode:     r.Mode,
		Started:  r.Started.UTC(),
		Finished: r.Finished.UTC(),
		Duration: r.Duration().Seconds(),
		ExitCode: r.ExitCode(),
	}

	for _, step := range r.Steps {
		ss := StepSummary{
			Step:     step.Step,
			Summary:  step.Summary,
			Warning:  step.Warning,
			Fatal:    step.Fatal,
			Duration: step.Duration.Seconds(),
		}
		if step.Err != nil {
			ss.Error = step.Err.Error()
		}
		if step.Action != nil {
			ss.Action = summarizeAction(*step.Action, txURL)
		}
		s.Steps = append(s.Steps, ss)
	}
	return s
}

func summarizeAction(o models.ActionOutcome, txURL func(common.Hash) string) *ActionSummary {
	a := &ActionSummary{
		Kind:     string(o.Request.Kind),
		Call:     o.Request.Method + "()",
		Status:   string(o.Status),
		Category: string(o.Category),
		Reason:   o.Reason,
		Block:    o.Block,
		Fatal:    o.Fatal,
	}
	if o.TxHash != (common.Hash{}) {
		a.TxHash = o.TxHash.Hex()
		if txURL != nil {
			a.Explorer = txURL(o.TxHash)
		}
	}
	return a
}

// LogLine is the one-line pass summary operators grep for
func (s *Summary) LogLine() string {
	parts := []string{
		"RUN " + s.RunID,
		"mode=" + s.Mode,
	}
	for _, step := range s.Steps {
		status := "ok"
		switch {
		case step.Fatal:
			status = "FATAL"
		case step.Error != "":
			status = "degraded"
		case step.Action != nil:
			status = step.Action.Status
		}
		parts = append(parts, fmt.Sprintf("%s=%s", step.Step, status))
	}
	parts = append(parts,
		fmt.Sprintf("runtime=%.1fs", s.Duration),
		fmt.Sprintf("exit=%d", s.ExitCode),
	)
	return strings.Join(parts, " | ")
}
