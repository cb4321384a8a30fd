package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/me/jobsys/pkg/model"
)

var (
	titleColor   = color.New(color.FgCyan, color.Bold)
	successColor = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed)
	dimColor     = color.New(color.FgHiBlack)
)

func statusColor(st model.JobStatus) *color.Color {
	switch st {
	case model.JobStatusQueued:
		return warnColor
	case model.JobStatusRunning:
		return titleColor
	case model.JobStatusCompleted:
		return successColor
	case model.JobStatusRetired:
		return dimColor
	default:
		return errorColor
	}
}

// paddedStatus pads before colouring so escape codes do not break columns.
func paddedStatus(st model.JobStatus, width int) string {
	return statusColor(st).Sprint(fmt.Sprintf("%-*s", width, st))
}

func printEntry(w io.Writer, e model.HistoryEntry) {
	fmt.Fprintf(w, "Job %d", e.ID)
	if e.Type != "" {
		fmt.Fprintf(w, " (%s)", e.Type)
	}
	fmt.Fprintf(w, ": %s\n", statusColor(e.Status).Sprint(e.Status))
	if e.Worker != "" {
		fmt.Fprintf(w, "  Worker:    %s\n", e.Worker)
	}
	if !e.QueuedAt.IsZero() {
		fmt.Fprintf(w, "  Queued:    %s\n", e.QueuedAt.Format(time.RFC3339))
	}
	printTime(w, "Started:  ", e.StartedAt)
	printTime(w, "Completed:", e.CompletedAt)
	printTime(w, "Retired:  ", e.RetiredAt)
}

func printTime(w io.Writer, label string, t *time.Time) {
	if t != nil {
		fmt.Fprintf(w, "  %s %s\n", label, t.Format(time.RFC3339))
	}
}

func printSummary(w io.Writer, sum model.Summary) {
	titleColor.Fprintf(w, "%d jobs\n", sum.Total)
	for _, st := range model.AllJobStatuses() {
		if st == model.JobStatusNeverSeen {
			continue
		}
		fmt.Fprintf(w, "  %s %d\n", paddedStatus(st, 10), sum.Counts[st])
	}
	if len(sum.Jobs) == 0 {
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%-6s  %-20s  %-10s  %s\n", "ID", "TYPE", "STATUS", "WORKER")
	fmt.Fprintf(w, "%-6s  %-20s  %-10s  %s\n", "--", "----", "------", "------")
	for _, e := range sum.Jobs {
		fmt.Fprintf(w, "%-6d  %-20s  %s  %s\n", e.ID, e.Type, paddedStatus(e.Status, 10), e.Worker)
	}
}

func printWorkers(w io.Writer, workers []model.WorkerInfo) {
	if len(workers) == 0 {
		fmt.Fprintln(w, "No workers.")
		return
	}
	fmt.Fprintf(w, "%-20s  %-10s  %-8s  %-8s  %s\n", "NAME", "CHANNELS", "STATE", "EXECUTED", "CURRENT")
	fmt.Fprintf(w, "%-20s  %-10s  %-8s  %-8s  %s\n", "----", "--------", "-----", "--------", "-------")
	for _, info := range workers {
		current := "-"
		if info.CurrentJob != nil {
			current = fmt.Sprint(*info.CurrentJob)
		}
		fmt.Fprintf(w, "%-20s  %-10s  %-8s  %-8d  %s\n",
			info.Name, info.ChannelMask, info.State, info.JobsExecuted, current)
	}
}
