package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/obslabs/migverify/internal/verify"
)

// Render writes the verification results to w in the requested format:
// table, json or yaml.
func Render(w io.Writer, format string, results []verify.Result) error {
	switch format {
	case "table", "":
		table := tablewriter.NewWriter(w)
		table.Header("Check", "Status", "Expected", "Actual")
		for _, r := range results {
			status := "PASS"
			if !r.Pass {
				status = "FAIL"
			}
			table.Append(r.Name, status, r.Expected, r.Actual)
		}
		table.Render()
		fmt.Fprintln(w, Summary(results))
		return nil
	case "json":
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode results: %w", err)
		}
		fmt.Fprintln(w, string(data))
		return nil
	case "yaml":
		data, err := yaml.Marshal(results)
		if err != nil {
			return fmt.Errorf("failed to encode results: %w", err)
		}
		fmt.Fprint(w, string(data))
		return nil
	default:
		return fmt.Errorf("unknown output format: %s (want table, json or yaml)", format)
	}
}

// Summary returns a one-line pass/fail tally
func Summary(results []verify.Result) string {
	passed := 0
	for _, r := range results {
		if r.Pass {
			passed++
		}
	}
	return fmt.Sprintf("%d/%d checks passed", passed, len(results))
}
