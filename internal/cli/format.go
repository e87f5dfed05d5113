package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/cruskit/afterglow-manager/publish"
	"github.com/cruskit/afterglow-manager/publish/pubtypes"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
	labelColor   = color.New(color.FgWhite, color.Bold)
	valueColor   = color.New(color.FgHiBlack)
	dimColor     = color.New(color.FgHiBlack)
)

// printSection prints a section header
func printSection(w io.Writer, title string) {
	_, _ = fmt.Fprintln(w)
	_, _ = headerColor.Fprintf(w, "▸ %s\n", title)
	_, _ = fmt.Fprintln(w)
}

func printSuccess(w io.Writer, msg string) {
	_, _ = successColor.Fprintf(w, "✓ %s\n", msg)
}

func printWarning(w io.Writer, msg string) {
	_, _ = warningColor.Fprintf(w, "⚠ %s\n", msg)
}

func printError(w io.Writer, msg string) {
	_, _ = errorColor.Fprintf(w, "✗ %s\n", msg)
}

func printLabelValue(w io.Writer, label, value string) {
	_, _ = labelColor.Fprintf(w, "  %s: ", label)
	_, _ = valueColor.Fprintln(w, value)
}

// printList prints items with bullet points
func printList(w io.Writer, items []string, indent int) {
	indentStr := strings.Repeat("  ", indent)
	for _, item := range items {
		_, _ = infoColor.Fprintf(w, "%s• %s\n", indentStr, item)
	}
}

func printEmptyState(w io.Writer, msg string) {
	_, _ = dimColor.Fprintf(w, "  %s\n", msg)
}

// printCount formats a count with the right noun form
func printCount(count int, singular, plural string) string {
	if count == 1 {
		return fmt.Sprintf("%d %s", count, singular)
	}
	return fmt.Sprintf("%d %s", count, plural)
}

// formatBytes renders a byte count in binary units.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// printPlan renders a plan summary followed by its actions and warnings.
func printPlan(w io.Writer, plan *pubtypes.Plan, verbose bool) {
	stats := publish.Stats(plan)

	printSection(w, "Publish Plan")
	printLabelValue(w, "Plan", plan.PlanID)
	printLabelValue(w, "Destination", fmt.Sprintf("s3://%s/%s", plan.Store.Bucket, plan.Store.Prefix))
	printLabelValue(w, "Files", printCount(plan.TotalFiles, "reachable file", "reachable files"))
	printLabelValue(w, "Upload", fmt.Sprintf("%s (%s)", printCount(stats.Uploads, "file", "files"), formatBytes(stats.UploadBytes)))
	printLabelValue(w, "Delete", printCount(stats.Deletes, "object", "objects"))
	printLabelValue(w, "Unchanged", printCount(stats.Unchanged, "file", "files"))
	if plan.Store.DistributionID != "" {
		printLabelValue(w, "Invalidate", plan.Store.DistributionID)
	}

	if verbose && len(plan.ToUpload) > 0 {
		_, _ = fmt.Fprintln(w)
		items := make([]string, len(plan.ToUpload))
		for i, a := range plan.ToUpload {
			items[i] = fmt.Sprintf("upload %s (%s)", a.RemoteKey, formatBytes(a.SizeBytes))
		}
		printList(w, items, 1)
	}
	if len(plan.ToDelete) > 0 {
		_, _ = fmt.Fprintln(w)
		items := make([]string, len(plan.ToDelete))
		for i, k := range plan.ToDelete {
			items[i] = "delete " + k
		}
		printList(w, items, 1)
	}

	if len(plan.Warnings) > 0 {
		printSection(w, "Warnings")
		for _, warn := range plan.Warnings {
			printWarning(w, fmt.Sprintf("%s: %s", warn.Path, warn.Message))
		}
	}

	if plan.IsEmpty() {
		_, _ = fmt.Fprintln(w)
		printEmptyState(w, "Remote is already up to date.")
	}
}

// printProgress renders one execution progress line.
func printProgress(w io.Writer, p *pubtypes.ProgressEvent) {
	if p.Action == pubtypes.ActionInvalidate {
		_, _ = infoColor.Fprintf(w, "  invalidating %s\n", p.File)
		return
	}
	width := len(fmt.Sprint(p.Total))
	_, _ = dimColor.Fprintf(w, "  [%*d/%d] ", width, p.Current, p.Total)
	_, _ = fmt.Fprintf(w, "%-6s %s\n", p.Action, p.File)
}
