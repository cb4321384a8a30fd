package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/jobsys/pkg/model"
)

func parseJobID(arg string) (int, error) {
	id, err := strconv.Atoi(arg)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid job id %q", arg)
	}
	return id, nil
}

func newSubmitCmd() *cobra.Command {
	var (
		input     string
		inputFile string
		channels  string
		after     []int
	)
	cmd := &cobra.Command{
		Use:   "submit <type>",
		Short: "Submit a job by type name",
		Example: `  jobsys submit COMPILE_JOB --input '{"makefile":"build/Makefile"}'
  jobsys submit PARSING_JOB --after 0`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := model.JobRequest{Type: args[0], Dependencies: after}

			switch {
			case inputFile != "":
				data, err := os.ReadFile(inputFile)
				if err != nil {
					return fmt.Errorf("read input file: %w", err)
				}
				req.Input = data
			case input != "":
				req.Input = json.RawMessage(input)
			}
			if len(req.Input) > 0 && !json.Valid(req.Input) {
				return fmt.Errorf("input is not valid JSON")
			}
			if channels != "" {
				mask, err := model.ParseChannelMask(channels)
				if err != nil {
					return err
				}
				req.Channels = &mask
			}

			resp, err := client.Post("/api/v1/jobs/", req)
			if err != nil {
				return fmt.Errorf("submit job: %w", err)
			}
			var sub model.SubmitResponse
			if err := resp.decode(&sub); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Submitted job %d (%s): %s\n", sub.ID, sub.Type, statusColor(sub.Status).Sprint(sub.Status))
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "Job input as a JSON object")
	cmd.Flags().StringVar(&inputFile, "input-file", "", "Read the job input from a JSON file")
	cmd.Flags().StringVar(&channels, "channels", "", "Channel mask (number, 0x hex, or names like compile|parse)")
	cmd.Flags().IntSliceVar(&after, "after", nil, "IDs of jobs that must complete first")
	cmd.MarkFlagsMutuallyExclusive("input", "input-file")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job_id>",
		Short: "Show the lifecycle status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			resp, err := client.Get("/api/v1/jobs/" + strconv.Itoa(id))
			if err != nil {
				return fmt.Errorf("get job: %w", err)
			}
			var entry model.HistoryEntry
			if err := resp.decode(&entry); err != nil {
				return err
			}
			printEntry(cmd.OutOrStdout(), entry)
			return nil
		},
	}
}

func newOutputCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "output <job_id>",
		Short: "Print the output document of a completed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			resp, err := client.Get("/api/v1/jobs/" + strconv.Itoa(id) + "/output")
			if err != nil {
				return fmt.Errorf("get output: %w", err)
			}
			var buf bytes.Buffer
			if err := json.Indent(&buf, resp.Data, "", "  "); err != nil {
				return fmt.Errorf("format output: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), buf.String())
			return nil
		},
	}
}

func newRetireCmd() *cobra.Command {
	var (
		all     bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "retire [job_id]",
		Short: "Retire a job once it completes, or every completed job with --all",
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if all {
				n, err := retireAll()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Retired %d job(s)\n", n)
				return nil
			}

			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			entry, err := retireOne(id, timeout)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Retired job %d (%s)\n", entry.ID, entry.Type)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Retire every job that is completed now; queued jobs depending on them will not run")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up waiting after this long (server default when 0)")
	return cmd
}

func retireOne(id int, timeout time.Duration) (model.HistoryEntry, error) {
	path := "/api/v1/jobs/" + strconv.Itoa(id) + "/retire"
	if timeout > 0 {
		path += "?" + url.Values{"timeout": {timeout.String()}}.Encode()
	}
	var entry model.HistoryEntry
	resp, err := client.Post(path, nil)
	if err != nil {
		return entry, fmt.Errorf("retire job %d: %w", id, err)
	}
	return entry, resp.decode(&entry)
}

func retireAll() (int, error) {
	resp, err := client.Post("/api/v1/jobs/retire", nil)
	if err != nil {
		return 0, fmt.Errorf("retire completed jobs: %w", err)
	}
	var r model.RetireAllResponse
	if err := resp.decode(&r); err != nil {
		return 0, err
	}
	return r.Retired, nil
}

func fetchSummary() (model.Summary, error) {
	var sum model.Summary
	resp, err := client.Get("/api/v1/summary")
	if err != nil {
		return sum, fmt.Errorf("get summary: %w", err)
	}
	return sum, resp.decode(&sum)
}

func fetchTypes() ([]string, error) {
	resp, err := client.Get("/api/v1/types")
	if err != nil {
		return nil, fmt.Errorf("list job types: %w", err)
	}
	var types []string
	return types, resp.decode(&types)
}

func newSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "summary",
		Aliases: []string{"history"},
		Short:   "Show job counts per status and the job table",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := fetchSummary()
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), sum)
			return nil
		},
	}
}

func newTypesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List registered job types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			types, err := fetchTypes()
			if err != nil {
				return err
			}
			for _, t := range types {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
			return nil
		},
	}
}

func newResultsCmd() *cobra.Command {
	var (
		typeName string
		limit    int
		offset   int
	)
	cmd := &cobra.Command{
		Use:   "results",
		Short: "List archived results of retired jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			q.Set("limit", strconv.Itoa(limit))
			q.Set("offset", strconv.Itoa(offset))
			if typeName != "" {
				q.Set("type", typeName)
			}
			resp, err := client.Get("/api/v1/results/?" + q.Encode())
			if err != nil {
				return fmt.Errorf("list results: %w", err)
			}
			var results []struct {
				model.ArchivedJob
				OutputBytes int `json:"output_bytes"`
			}
			if err := resp.decode(&results); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(results) == 0 {
				fmt.Fprintln(out, "No archived results.")
				return nil
			}
			fmt.Fprintf(out, "%-6s  %-20s  %-20s  %-8s  %s\n", "ID", "TYPE", "WORKER", "BYTES", "RETIRED")
			fmt.Fprintf(out, "%-6s  %-20s  %-20s  %-8s  %s\n", "--", "----", "------", "-----", "-------")
			for _, r := range results {
				fmt.Fprintf(out, "%-6d  %-20s  %-20s  %-8d  %s\n",
					r.ID, r.Type, r.Worker, r.OutputBytes, r.RetiredAt.Format(time.RFC3339))
			}
			if resp.Pagination != nil && resp.Pagination.HasMore {
				fmt.Fprintf(out, "\n(%d of %d shown)\n", len(results), resp.Pagination.Total)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&typeName, "type", "", "Only results of this job type")
	cmd.Flags().IntVar(&limit, "limit", 20, "Page size (max 100)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Results to skip")
	return cmd
}

func newLogLevelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "log-level [level]",
		Short: "Show or change the daemon log level",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				resp *apiResponse
				err  error
			)
			if len(args) == 1 {
				resp, err = client.Put("/api/v1/admin/log-level", model.LogLevelRequest{Level: args[0]})
			} else {
				resp, err = client.Get("/api/v1/admin/log-level")
			}
			if err != nil {
				return fmt.Errorf("log level: %w", err)
			}
			var lvl model.LogLevelRequest
			if err := resp.decode(&lvl); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), lvl.Level)
			return nil
		},
	}
}
