package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	apiclient "github.com/ironsupr/AutoDeployHub/pkg/api/client"
)

func newTabwriter(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
}

func printWorkloads(out io.Writer, workloads []apiclient.Workload) {
	w := newTabwriter(out)
	fmt.Fprintln(w, "ID\tNAME\tBRANCH\tREPOSITORY")
	for _, wl := range workloads {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", wl.ID, wl.Name, wl.Branch, wl.RepoURL)
	}
	w.Flush()
}

func printAttempts(out io.Writer, attempts []apiclient.Attempt) {
	w := newTabwriter(out)
	fmt.Fprintln(w, "ID\tREFERENCE\tSTATUS\tCREATED")
	for _, a := range attempts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.ID, a.Reference, a.Status, a.CreatedAt.UTC().Format(time.RFC3339))
	}
	w.Flush()
}

// printAttempt writes the attempt log followed by a status line.
func printAttempt(out io.Writer, attempt apiclient.Attempt) {
	for _, line := range attempt.Log {
		fmt.Fprintf(out, "[%s] %s\n", line.At.UTC().Format("2006-01-02 15:04:05"), line.Message)
	}
	fmt.Fprintf(out, "attempt %s finished with status %s\n", attempt.ID, attempt.Status)
}
