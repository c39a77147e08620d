package main

import (
	"github.com/spf13/cobra"

	"github.com/verdantly/footprint-cli/internal/model"
	"github.com/verdantly/footprint-cli/internal/queue"
	"github.com/verdantly/footprint-cli/internal/store"
)

var recalcCmd = &cobra.Command{
	Use:   "recalc",
	Short: "Manage recalculation batches",
}

var enqueueFlags struct {
	org              string
	missingScoreOnly bool
	products         []string
	priority         int
	reason           string
	requestedBy      string
}

var recalcEnqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Enqueue a recalculation batch",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		batch, err := queue.NewService(st).Enqueue(ctx,
			model.JobSelector{
				OrganisationID:   enqueueFlags.org,
				MissingScoreOnly: enqueueFlags.missingScoreOnly,
				ProductIDs:       enqueueFlags.products,
				Priority:         enqueueFlags.priority,
			},
			model.BatchMetadata{
				Reason:      enqueueFlags.reason,
				RequestedBy: enqueueFlags.requestedBy,
			})
		if err != nil {
			return err
		}
		return printJSON(batch)
	},
}

var recalcStatusCmd = &cobra.Command{
	Use:   "status <batch-id>",
	Short: "Show batch progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		batch, err := st.GetBatch(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(batch)
	},
}

var recalcListFlags struct {
	status string
	limit  int
}

var recalcListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent batches",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		batches, err := st.ListBatches(ctx, store.BatchFilter{
			Status: model.BatchStatus(recalcListFlags.status),
			Limit:  recalcListFlags.limit,
		})
		if err != nil {
			return err
		}
		return printJSON(batches)
	},
}

var recalcCancelCmd = &cobra.Command{
	Use:   "cancel <batch-id>",
	Short: "Cancel a batch; in-flight jobs finish, pending jobs stop being claimed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		return st.CancelBatch(ctx, args[0])
	},
}

func init() {
	recalcEnqueueCmd.Flags().StringVar(&enqueueFlags.org, "org", "", "restrict to one organisation")
	recalcEnqueueCmd.Flags().BoolVar(&enqueueFlags.missingScoreOnly, "missing-score-only", false, "only products lacking a current single score")
	recalcEnqueueCmd.Flags().StringSliceVar(&enqueueFlags.products, "products", nil, "explicit product ids, bypassing selection")
	recalcEnqueueCmd.Flags().IntVar(&enqueueFlags.priority, "priority", 0, "job priority, higher claims first")
	recalcEnqueueCmd.Flags().StringVar(&enqueueFlags.reason, "reason", "", "why this batch was requested")
	recalcEnqueueCmd.Flags().StringVar(&enqueueFlags.requestedBy, "requested-by", "", "who requested this batch")
	recalcListCmd.Flags().StringVar(&recalcListFlags.status, "status", "", "filter by batch status")
	recalcListCmd.Flags().IntVar(&recalcListFlags.limit, "limit", 20, "maximum batches to list")
	recalcCmd.AddCommand(recalcEnqueueCmd, recalcStatusCmd, recalcListCmd, recalcCancelCmd)
	rootCmd.AddCommand(recalcCmd)
}
