package cli

import (
	"fmt"
	"net/url"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/me/jobsys/pkg/model"
)

func newWorkersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "Manage the daemon's worker pool",
		Args:  cobra.NoArgs,
		RunE:  runListWorkers,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List workers",
			Args:  cobra.NoArgs,
			RunE:  runListWorkers,
		},
		newWorkersAddCmd(),
		&cobra.Command{
			Use:   "remove <name>",
			Short: "Stop a worker after its current job",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if _, err := client.Delete("/api/v1/workers/" + url.PathEscape(args[0])); err != nil {
					return fmt.Errorf("remove worker: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Worker %s stopped\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "set-channels <name> <channels>",
			Short: "Change which channels a worker claims from",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				resp, err := client.Put("/api/v1/workers/"+url.PathEscape(args[0])+"/channels",
					model.WorkerRequest{Channels: args[1]})
				if err != nil {
					return fmt.Errorf("set channels: %w", err)
				}
				var info model.WorkerInfo
				if err := resp.decode(&info); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Worker %s now claims %s\n", info.Name, info.ChannelMask)
				return nil
			},
		},
	)
	return cmd
}

func newWorkersAddCmd() *cobra.Command {
	var name, channels string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Start a worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Post("/api/v1/workers/", model.WorkerRequest{Name: name, Channels: channels})
			if err != nil {
				return fmt.Errorf("add worker: %w", err)
			}
			var info model.WorkerInfo
			if err := resp.decode(&info); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Worker %s started on %s\n", info.Name, info.ChannelMask)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Worker name (generated when empty)")
	cmd.Flags().StringVar(&channels, "channels", "all", "Channel mask (number, 0x hex, or names like compile|parse)")
	return cmd
}

func runListWorkers(cmd *cobra.Command, args []string) error {
	resp, err := client.Get("/api/v1/workers/")
	if err != nil {
		return fmt.Errorf("list workers: %w", err)
	}
	var workers []model.WorkerInfo
	if err := resp.decode(&workers); err != nil {
		return err
	}
	printWorkers(cmd.OutOrStdout(), workers)
	return nil
}

func newPipelineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pipeline <file>",
		Short: "Submit a YAML or JSON pipeline of named, dependent jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read pipeline: %w", err)
			}
			resp, err := client.PostYAML("/api/v1/pipelines", doc)
			if err != nil {
				return fmt.Errorf("submit pipeline: %w", err)
			}
			var pr model.PipelineResponse
			if err := resp.decode(&pr); err != nil {
				return err
			}

			names := make([]string, 0, len(pr.Jobs))
			for name := range pr.Jobs {
				names = append(names, name)
			}
			sort.Slice(names, func(i, j int) bool { return pr.Jobs[names[i]] < pr.Jobs[names[j]] })

			out := cmd.OutOrStdout()
			titleColor.Fprintf(out, "Pipeline %s submitted\n", pr.Name)
			for _, name := range names {
				fmt.Fprintf(out, "  %-6d %s\n", pr.Jobs[name], name)
			}
			return nil
		},
	}
}
