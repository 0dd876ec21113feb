package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/reconcile-cli/internal/model"
	"github.com/sells-group/reconcile-cli/internal/review"
)

var (
	reviewsPriority string
	reviewsLimit    int

	decideDecision  string
	decideNotes     string
	decideCorrected float64
)

var reviewsCmd = &cobra.Command{
	Use:   "reviews",
	Short: "Inspect and work the human-review queue",
}

var reviewsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending review tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		tasks, err := env.Engine.PendingReviews(ctx, model.ReviewPriority(reviewsPriority), reviewsLimit)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(tasks)
	},
}

var reviewsDecideCmd = &cobra.Command{
	Use:   "decide <task-id>",
	Short: "Record a reviewer verdict on a pending task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		d := review.Decision{
			Verdict: model.ReviewDecision(decideDecision),
			Notes:   decideNotes,
		}
		if cmd.Flags().Changed("corrected-value") {
			v := decideCorrected
			d.CorrectedValue = &v
		}

		result, err := env.Engine.SubmitReviewDecision(ctx, args[0], d)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	reviewsListCmd.Flags().StringVar(&reviewsPriority, "priority", "", "filter by priority (URGENT, NORMAL, LOW)")
	reviewsListCmd.Flags().IntVar(&reviewsLimit, "limit", 100, "max tasks to list")

	reviewsDecideCmd.Flags().StringVar(&decideDecision, "decision", "", "APPROVE or REJECT (required)")
	reviewsDecideCmd.Flags().StringVar(&decideNotes, "notes", "", "reviewer notes")
	reviewsDecideCmd.Flags().Float64Var(&decideCorrected, "corrected-value", 0, "corrected value (rejection only)")
	reviewsDecideCmd.MarkFlagRequired("decision") //nolint:errcheck

	reviewsCmd.AddCommand(reviewsListCmd)
	reviewsCmd.AddCommand(reviewsDecideCmd)
	rootCmd.AddCommand(reviewsCmd)
}
