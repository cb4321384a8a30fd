package cli

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/me/jobsys/pkg/model"
)

const shellPrompt = `Enter: "stop", "destroy", "finish", "status", "finishjob", "job_types", "history" or "help":`

func newShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive command loop against the daemon",
		Long: `shell reads one command per line:

  status [id]      status of a job (asks for the id when omitted)
  finishjob [id]   wait for a job to complete, then retire it
  finish           retire every completed job (queued dependants of
                   a retired job are never claimed)
  job_types        list registered job types
  history          job counts and the per-job table
  destroy          retire every completed job, then leave
  stop             leave`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

// runShell executes commands read from in until stop, destroy or EOF.
// Command failures are reported and the loop continues.
func runShell(in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	next := func() (string, bool) {
		if !sc.Scan() {
			return "", false
		}
		return strings.TrimSpace(sc.Text()), true
	}

	for {
		fmt.Fprintln(out, shellPrompt)
		line, ok := next()
		if !ok {
			return sc.Err()
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		command, rest := fields[0], fields[1:]

		// askID takes the id from the command line or prompts for it.
		askID := func(prompt string) (int, bool) {
			raw := ""
			if len(rest) > 0 {
				raw = rest[0]
			} else {
				fmt.Fprint(out, prompt)
				if raw, ok = next(); !ok {
					return 0, false
				}
			}
			id, err := strconv.Atoi(raw)
			if err != nil || id < 0 {
				errorColor.Fprintf(out, "Invalid job id %q\n", raw)
				return 0, false
			}
			return id, true
		}

		switch command {
		case "stop", "quit", "exit":
			return nil

		case "destroy":
			shellRetireAll(out)
			return nil

		case "finish":
			shellRetireAll(out)

		case "status":
			id, ok := askID("Enter ID of job to get status: ")
			if !ok {
				continue
			}
			resp, err := client.Get("/api/v1/jobs/" + strconv.Itoa(id))
			if err != nil {
				errorColor.Fprintf(out, "%v\n", err)
				continue
			}
			var entry model.HistoryEntry
			if err := resp.decode(&entry); err != nil {
				errorColor.Fprintf(out, "%v\n", err)
				continue
			}
			fmt.Fprintf(out, "Status for job (# %d) is: %s\n", id, statusColor(entry.Status).Sprint(entry.Status))

		case "finishjob":
			id, ok := askID("Enter ID of job to finish: ")
			if !ok {
				continue
			}
			entry, err := retireOne(id, 0)
			if err != nil {
				errorColor.Fprintf(out, "%v\n", err)
				continue
			}
			successColor.Fprintf(out, "Job %d (%s) retired\n", entry.ID, entry.Type)

		case "job_types":
			types, err := fetchTypes()
			if err != nil {
				errorColor.Fprintf(out, "%v\n", err)
				continue
			}
			fmt.Fprintln(out)
			for i, t := range types {
				fmt.Fprintf(out, "Job type %d: %s\n", i, t)
			}
			fmt.Fprintln(out)

		case "history":
			sum, err := fetchSummary()
			if err != nil {
				errorColor.Fprintf(out, "%v\n", err)
				continue
			}
			printSummary(out, sum)

		case "help":
			fmt.Fprintln(out, "status [id], finishjob [id], finish, job_types, history, destroy, stop")

		default:
			warnColor.Fprintln(out, "Invalid command")
		}
	}
}

func shellRetireAll(out io.Writer) {
	n, err := retireAll()
	if err != nil {
		errorColor.Fprintf(out, "%v\n", err)
		return
	}
	successColor.Fprintf(out, "Retired %d job(s)\n", n)
}
