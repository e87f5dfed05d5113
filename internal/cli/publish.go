package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cruskit/afterglow-manager/publish/pubtypes"
)

var (
	publishYes     bool
	publishVerbose bool

	// ErrDeclined is returned when the confirmation prompt is not accepted.
	ErrDeclined = errors.New("publish declined")

	// ErrCancelled is returned when an execution stops on request.
	ErrCancelled = errors.New("publish cancelled")
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Preview and publish the workspace",
	Long: `Publish previews the workspace, asks for confirmation and then applies the
plan: changed files are uploaded, orphaned objects under the prefix are
deleted and the CloudFront distribution, if configured, is invalidated.

Interrupting a running publish stops it after the current upload or delete.
Running publish again resumes from the remote state.`,
	Args: cobra.NoArgs,
	RunE: runPublish,
}

func init() {
	rootCmd.AddCommand(publishCmd)
	publishCmd.Flags().BoolVarP(&publishYes, "yes", "y", false, "skip the confirmation prompt")
	publishCmd.Flags().BoolVarP(&publishVerbose, "verbose", "v", false, "list every upload in the plan")
}

func runPublish(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	s, engine, _, err := setup(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	plan, err := preview(ctx, engine, s, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	if jsonOutput {
		if err := writeJSON(out, plan); err != nil {
			return err
		}
	} else {
		printPlan(out, plan, publishVerbose)
	}
	if plan.IsEmpty() && plan.Store.DistributionID == "" {
		if jsonOutput {
			return writeJSON(out, pubtypes.Event{Kind: pubtypes.EventComplete, Summary: pubtypes.Summary{Unchanged: plan.UnchangedCount}})
		}
		return nil
	}

	if !publishYes {
		ok, err := confirm(cmd.InOrStdin(), cmd.ErrOrStderr(), "Proceed with publish?")
		if err != nil {
			return err
		}
		if !ok {
			return ErrDeclined
		}
	}

	events, err := engine.Execute(ctx, plan.PlanID)
	if err != nil {
		return explain("publish", err)
	}

	interrupts := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	defer func() {
		signal.Stop(interrupts)
		close(done)
	}()
	go func() {
		select {
		case <-interrupts:
			_, _ = warningColor.Fprintln(cmd.ErrOrStderr(), "\nStopping after the current action...")
			_ = engine.Cancel(plan.PlanID)
		case <-done:
		}
	}()

	if !jsonOutput {
		printSection(out, "Publishing")
	}
	// The stream closes only after the workspace lock is released.
	var last *pubtypes.Event
	for ev := range events {
		if jsonOutput {
			if err := writeJSON(out, ev); err != nil {
				return err
			}
		} else if ev.Kind == pubtypes.EventProgress && ev.Progress != nil {
			printProgress(out, ev.Progress)
		}
		if ev.Terminal() {
			last = &ev
		}
	}
	if last == nil {
		return fmt.Errorf("publish failed: event stream ended without a result")
	}
	return finish(out, *last)
}

// finish reports a terminal event and maps it to the command's result.
func finish(w io.Writer, ev pubtypes.Event) error {
	sum := fmt.Sprintf("%s uploaded, %s deleted, %d unchanged",
		printCount(ev.Summary.Uploaded, "file", "files"),
		printCount(ev.Summary.Deleted, "object", "objects"),
		ev.Summary.Unchanged)

	switch ev.Kind {
	case pubtypes.EventComplete:
		if !jsonOutput {
			_, _ = fmt.Fprintln(w)
			printSuccess(w, "Published: "+sum)
		}
		return nil

	case pubtypes.EventCancelled:
		if !jsonOutput {
			_, _ = fmt.Fprintln(w)
			printWarning(w, "Cancelled after "+sum)
		}
		return ErrCancelled

	default:
		cause := ev.Err
		if cause == nil {
			cause = errors.New(ev.Message)
		}
		if !jsonOutput {
			_, _ = fmt.Fprintln(w)
			if ev.SyncCompleted {
				printWarning(w, "Files published ("+sum+") but the CDN was not invalidated")
			} else {
				printError(w, "Stopped after "+sum)
			}
		}
		return fmt.Errorf("publish failed: %w", cause)
	}
}

// confirm asks a yes/no question on w and reads the answer from r.
func confirm(r io.Reader, w io.Writer, question string) (bool, error) {
	_, _ = fmt.Fprintf(w, "\n%s [y/N] ", question)
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
