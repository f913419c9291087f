package main

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ndlib/holey"
	"github.com/ndlib/holey/bagit"
)

func newValidateCommand(ctx *commandContext) *cobra.Command {
	var opts holey.ValidateOptions

	cmd := &cobra.Command{
		Use:   "validate <dir>",
		Short: "Check a bag against its manifests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := ctx.ensureBagger()
			if err != nil {
				return err
			}
			state, err := b.Validate(cmd.Context(), args[0], opts)
			printValidation(cmd.OutOrStdout(), args[0], state, err)
			if err != nil {
				return errors.Errorf("%s is %s", args[0], state)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.Fast, "fast", false, "only compare the Payload-Oxum with the payload")
	cmd.Flags().BoolVar(&opts.SkipRemote, "skip-remote", false, "ignore files listed in fetch.txt that are not present")
	return cmd
}

func printValidation(w io.Writer, dir string, state holey.State, err error) {
	switch e := errors.Cause(err).(type) {
	case nil:
		fmt.Fprintf(w, "%s is %s\n", dir, state)
	case bagit.BagError:
		fmt.Fprintln(w, renderTable([]string{"Problem", "Path", "Algorithm", "Expected", "Actual"}, problemRows(e.Problems)))
	case holey.IncompleteError:
		if len(e.Pending) > 0 {
			rows := make([][]string, 0, len(e.Pending))
			for _, p := range e.Pending {
				rows = append(rows, []string{p})
			}
			fmt.Fprintln(w, renderTable([]string{"Not yet fetched"}, rows))
		}
		if len(e.Orphans) > 0 {
			fmt.Fprintln(w, renderTable([]string{"Problem", "Path", "Algorithm", "Expected", "Actual"}, problemRows(e.Orphans)))
		}
		if e.RemoteChanged {
			fmt.Fprintf(w, "%s: fetch.txt was changed since the bag was written; run update to accept it\n", dir)
		}
	default:
		fmt.Fprintf(w, "%s: %s\n", dir, err)
	}
}

func problemRows(problems []bagit.Problem) [][]string {
	rows := make([][]string, 0, len(problems))
	for _, p := range problems {
		rows = append(rows, []string{p.Kind.String(), p.Path, p.Algorithm, p.Expected, p.Actual})
	}
	return rows
}
