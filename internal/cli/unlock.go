package cli

import (
	"context"

	"github.com/spf13/cobra"
)

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Remove a stale workspace lock",
	Long: `Unlock removes the workspace lock file left behind when a publish process
exits without releasing it. Only run it when no other publish is running
against the workspace.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		s, engine, _, err := setup(ctx, cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		removed, err := engine.Unlock(s.Workspace)
		if err != nil {
			return err
		}
		if removed {
			printSuccess(cmd.OutOrStdout(), "Workspace lock removed")
		} else {
			printEmptyState(cmd.OutOrStdout(), "Workspace is not locked.")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(unlockCmd)
}
