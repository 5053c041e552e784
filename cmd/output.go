package main

import (
	"fmt"
	"io"

	"github.com/sells-group/opportunity-intel/internal/model"
)

// printSummary writes a batch summary followed by its failed items.
func printSummary(w io.Writer, title string, s model.Summary) {
	fmt.Fprintf(w, "\n--- %s ---\n", title)
	fmt.Fprintf(w, "Scanned:   %d\n", s.Scanned)
	fmt.Fprintf(w, "Succeeded: %d\n", s.Succeeded)
	fmt.Fprintf(w, "Failed:    %d\n", s.Failed)
	fmt.Fprintf(w, "Skipped:   %d\n", s.Skipped)
	for _, d := range s.Details {
		if d.Status != model.ItemFailed {
			continue
		}
		label := d.Name
		if label == "" {
			label = fmt.Sprintf("#%d", d.EntityID)
		}
		fmt.Fprintf(w, "  failed %-30s %s\n", label, d.Error)
	}
}

func printJob(w io.Writer, job model.BatchJob) {
	fmt.Fprintf(w, "\n--- Job %s (%s) ---\n", job.ID, job.Status)
	fmt.Fprintf(w, "Processed: %d / %d\n", job.Processed, job.Total)
	fmt.Fprintf(w, "Succeeded: %d\n", job.Succeeded)
	fmt.Fprintf(w, "Failed:    %d\n", job.Failed)
	fmt.Fprintf(w, "Skipped:   %d\n", job.Skipped)
	for _, e := range job.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}
