package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

// Output formats
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// Write renders v as a table, JSON or YAML
func Write(w io.Writer, format string, v interface{}) error {
	switch strings.ToLower(format) {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to marshal YAML: %w", err)
		}
		return enc.Close()
	case FormatTable, "":
		return writeTable(w, v)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

func writeTable(w io.Writer, v interface{}) error {
	switch r := v.(type) {
	case *Summary:
		return summaryTable(w, r)
	case *Status:
		return statusTable(w, r)
	default:
		return fmt.Errorf("no table layout for %T", v)
	}
}

func summaryTable(w io.Writer, s *Summary) error {
	fmt.Fprintf(w, "Run %s (%s) started %s\n\n", s.RunID, s.Mode, s.Started.Format(time.RFC3339))

	table := tablewriter.NewWriter(w)
	table.Header("Step", "Result", "Action", "Outcome", "Category", "Tx")

	for _, step := range s.Steps {
		result := step.Summary
		if step.Error != "" {
			result = step.Error
		}

		action, outcome, category, tx := "-", "-", "-", "-"
		if a := step.Action; a != nil {
			action = a.Call
			outcome = a.Status
			if a.Category != "" {
				category = a.Category
			}
			if a.TxHash != "" {
				tx = a.TxHash
			}
		}

		table.Append(step.Step, result, action, outcome, category, tx)
	}

	if err := table.Render(); err != nil {
		return err
	}

	for _, step := range s.Steps {
		if step.Warning != "" {
			fmt.Fprintf(w, "WARNING (%s): %s\n", step.Step, step.Warning)
		}
		if step.Action != nil && step.Action.Explorer != "" {
			fmt.Fprintf(w, "%s: %s\n", step.Action.Kind, step.Action.Explorer)
		}
	}

	verdict := "OK"
	if s.ExitCode != 0 {
		verdict = "FAILED"
	}
	fmt.Fprintf(w, "\n%s in %.1fs (exit %d)\n", verdict, s.Duration, s.ExitCode)
	return nil
}

func statusTable(w io.Writer, st *Status) error {
	table := tablewriter.NewWriter(w)
	table.Header("Field", "Value")

	if st.Rate.Error != "" {
		table.Append("Rate", "unavailable: "+st.Rate.Error)
	} else {
		table.Append("Operating rate", st.Rate.Operating)
		table.Append("Target rate", st.Rate.Target)
		table.Append("In sync", fmt.Sprintf("%t", st.Rate.InSync))
	}

	if st.Epoch.Error != "" {
		table.Append("Epoch", "unavailable: "+st.Epoch.Error)
	} else {
		table.Append("Epoch", fmt.Sprintf("%d (%s)", st.Epoch.ID, st.Epoch.State))
		table.Append("Ends", st.Epoch.End.Format(time.RFC3339))
		table.Append("Remaining", st.Epoch.Remaining)
		table.Append("Status", st.Epoch.Status)
		table.Append("Total deposits", st.Epoch.Deposits)
		table.Append("Withdrawal requests", st.Epoch.Requests)
	}

	pending := "none"
	if len(st.PendingWork) > 0 {
		pending = strings.Join(st.PendingWork, ", ")
	}
	table.Append("Pending actions", pending)

	if err := table.Render(); err != nil {
		return err
	}
	if st.Epoch.Warning != "" {
		fmt.Fprintf(w, "WARNING: %s\n", st.Epoch.Warning)
	}
	return nil
}
