package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	perrors "github.com/Aman-CERP/pagesearch/internal/errors"
	"github.com/Aman-CERP/pagesearch/internal/index"
	"github.com/Aman-CERP/pagesearch/internal/output"
)

func newCheckCmd(st *state) *cobra.Command {
	var repair bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify the metadata and vector index agree",
		Long: `Compare every passage row with the vectors in the index.

Orphan vectors (left by an interrupted run) are harmless but take space.
Passages without a vector cannot be found by search. --repair deletes the
orphans and re-embeds the missing vectors.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a := st.app
			if repair {
				if err := a.Lock(); err != nil {
					return err
				}
			}

			checker, err := a.Checker(ctx, repair)
			if err != nil {
				return err
			}
			res, err := checker.Check(ctx)
			if err != nil {
				return err
			}

			var repaired *index.RepairResult
			if repair && !res.Consistent() {
				if repaired, err = checker.Repair(ctx, res.Inconsistencies); err != nil {
					return err
				}
			}
			output.New(cmd.OutOrStdout()).Check(res, repaired)

			if !res.Consistent() && repaired == nil {
				return perrors.New(perrors.ErrCodeConsistencyViolation,
					fmt.Sprintf("%d inconsistencies found", len(res.Inconsistencies)), nil).
					WithSuggestion("Run 'pagesearch check --repair'")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "Fix the inconsistencies found")
	return cmd
}
