package main

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ndlib/holey"
)

func newFetchCommand(ctx *commandContext) *cobra.Command {
	var opts holey.FetchOptions
	var progress bool

	cmd := &cobra.Command{
		Use:   "fetch <dir>",
		Short: "Download the remote files of a bag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := ctx.ensureBagger()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("jobs") {
				opts.Concurrency = ctx.cfg.Fetch.Concurrency
			}
			if progress {
				opts.Progress = func(done, total int) bool {
					fmt.Fprintf(cmd.ErrOrStderr(), "\r%d of %d", done, total)
					if done == total {
						fmt.Fprintln(cmd.ErrOrStderr())
					}
					return cmd.Context().Err() == nil
				}
			}
			result, err := b.ResolveFetch(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable([]string{"Entries", "Count"}, summaryRows(result), 2))
			if rows := ctx.counters.rows(); len(rows) > 0 {
				fmt.Fprintln(out, renderTable([]string{"Counter", "Value"}, rows, 2))
			}
			if len(result.Failures) > 0 {
				rows := make([][]string, 0, len(result.Failures))
				for _, f := range result.Failures {
					rows = append(rows, []string{f.Path, f.URL, f.Err.Error()})
				}
				fmt.Fprintln(out, renderTable([]string{"Path", "URL", "Error"}, rows))
			}
			if !result.OK() {
				return errors.Errorf("%s: %d failed, %d not attempted", args[0], len(result.Failures), result.Cancelled)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "fetch files even if they are present")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only fetch entries matching an expression such as \"length<1000000\"")
	cmd.Flags().IntVarP(&opts.Concurrency, "jobs", "j", 1, "number of files to fetch at once (default from config)")
	cmd.Flags().BoolVar(&progress, "progress", false, "show progress")
	return cmd
}

func summaryRows(r holey.FetchResult) [][]string {
	itoa := strconv.Itoa
	return [][]string{
		{"total", itoa(r.Total)},
		{"fetched", itoa(r.Fetched)},
		{"deferred", itoa(r.Deferred)},
		{"skipped", itoa(r.Skipped)},
		{"filtered", itoa(r.Filtered)},
		{"failed", itoa(len(r.Failures))},
		{"cancelled", itoa(r.Cancelled)},
	}
}
