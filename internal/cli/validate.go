package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the settings and store access",
	Long: `Validate loads the settings file, resolves credentials and lists at most
one object under the configured prefix to confirm the store is reachable.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		out := cmd.OutOrStdout()

		s, engine, hint, err := setup(ctx, cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		printSection(out, "Settings")
		printLabelValue(out, "Workspace", s.Workspace)
		printLabelValue(out, "Destination", fmt.Sprintf("s3://%s/%s", s.Bucket, s.Prefix))
		printLabelValue(out, "Region", s.Region)
		printLabelValue(out, "Backend", s.Backend)
		printLabelValue(out, "Credentials", hint)
		if s.DistributionID != "" {
			printLabelValue(out, "Distribution", s.DistributionID)
		}
		_, _ = fmt.Fprintln(out)

		if err := engine.Validate(ctx, s.StoreParams()); err != nil {
			printError(out, "Store is not reachable")
			return fmt.Errorf("validation failed: %w", err)
		}
		printSuccess(out, "Store is reachable")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
