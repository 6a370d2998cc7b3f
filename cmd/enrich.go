package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Run one enrichment pass over recent contacts",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		summary, err := env.Worker.Run(cmd.Context())
		if err != nil {
			return err
		}

		zap.L().Info("enrichment pass finished",
			zap.Int("candidates", summary.Candidates),
			zap.Int("completed", summary.Completed),
			zap.Int("spam", summary.Spam),
			zap.Int("errored", summary.Errored),
			zap.Int("errors_cleared", summary.ErrorsCleared),
		)
		cmd.Printf("processed %d candidates: %d completed (%d spam), %d errored, %d errors cleared\n",
			summary.Candidates, summary.Completed, summary.Spam, summary.Errored, summary.ErrorsCleared)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(enrichCmd)
}
