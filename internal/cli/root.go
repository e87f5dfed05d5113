// Package cli implements the afterglow-publish command line.
package cli

import (
	"github.com/spf13/cobra"
)

var (
	version = "dev"

	// Global flags
	configPath    string
	workspaceFlag string
	logLevel      string
	jsonOutput    bool
)

var rootCmd = &cobra.Command{
	Use:   "afterglow-publish",
	Short: "Publish photo galleries to S3 and CloudFront",
	Long: `afterglow-publish mirrors the galleries reachable from a workspace's
galleries.json onto an S3 prefix, generating thumbnails and uploading only
what changed.

Every publish starts with a preview. Nothing is uploaded or deleted until
the previewed plan is confirmed. Objects under the prefix that the workspace
no longer references are deleted.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// SetVersion sets the version string reported by --version.
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Version = version

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "publish.yaml", "path to the publish settings file")
	rootCmd.PersistentFlags().StringVarP(&workspaceFlag, "workspace", "w", "", "gallery workspace root (overrides the settings file)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print machine-readable JSON")
}
