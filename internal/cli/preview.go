package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/cruskit/afterglow-manager/internal/settings"
	"github.com/cruskit/afterglow-manager/publish"
	"github.com/cruskit/afterglow-manager/publish/pubtypes"
)

var previewVerbose bool

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Show what a publish would change",
	Long: `Preview resolves the workspace manifests, generates missing thumbnails and
compares every reachable file with the remote prefix. It prints the uploads
and deletions a publish would perform without changing anything remotely.`,
	Args: cobra.NoArgs,
	RunE: runPreview,
}

func init() {
	rootCmd.AddCommand(previewCmd)
	previewCmd.Flags().BoolVarP(&previewVerbose, "verbose", "v", false, "list every upload")
}

func runPreview(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, engine, _, err := setup(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	plan, err := preview(ctx, engine, s, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), plan)
	}
	printPlan(cmd.OutOrStdout(), plan, previewVerbose)
	return nil
}

// preview runs a preview, reporting thumbnail generation on w unless JSON
// output was requested.
func preview(ctx context.Context, engine *publish.Engine, s *settings.Settings, w io.Writer) (*pubtypes.Plan, error) {
	req := publish.PreviewRequest{
		WorkspaceRoot: s.Workspace,
		Store:         s.StoreParams(),
	}
	if !jsonOutput {
		req.OnThumbnail = func(p pubtypes.ThumbnailProgress) {
			_, _ = dimColor.Fprintf(w, "  thumbnail [%d/%d] %s\n", p.Current, p.Total, p.Filename)
		}
	}

	plan, err := engine.Preview(ctx, req)
	if err != nil {
		return nil, explain("preview", err)
	}
	return plan, nil
}
