// Package tui renders conversion progress and reports.
// Simple streaming output - clean styles, no full-screen TUI.
package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"

	"github.com/geoflow/geoflow/pkg/convert"
)

// Colors
var (
	accent  = lipgloss.Color("#00A8E8")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	warning = lipgloss.Color("#FFAA00")
	failure = lipgloss.Color("#FF4444")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(warning).Bold(true)
	failStyle    = lipgloss.NewStyle().Foreground(failure).Bold(true)
)

// PrintHeader prints the banner before a run.
func PrintHeader(version string) {
	fmt.Println()
	fmt.Println(titleStyle.Render("  GEOFLOW") + mutedStyle.Render(" "+version))
	fmt.Println(mutedStyle.Render("  Streaming geospatial container converter"))
	fmt.Println()
}

// LayerBar creates a per-layer progress bar over the layer's approximate
// record count.
func LayerBar(layer string, total int64) *progressbar.ProgressBar {
	if total <= 0 {
		total = -1 // spinner mode
	}
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(fmt.Sprintf("  %s", layer)),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// PrintLayerResult prints one layer's line in the running output.
func PrintLayerResult(res convert.ConversionResult) {
	var mark string
	switch res.Status {
	case convert.StatusSuccess:
		mark = successStyle.Render("✓")
	case convert.StatusPartial:
		mark = warnStyle.Render("◐")
	default:
		mark = failStyle.Render("✗")
	}

	line := fmt.Sprintf("  %s %s %s", mark, titleStyle.Render(res.Layer),
		mutedStyle.Render(fmt.Sprintf("%s records, %d batches, %s",
			formatNumber(res.RecordsRead), res.Batches, formatDuration(res.Duration))))
	fmt.Println(line)

	if res.DegradedRecords > 0 || res.InvalidGeometries > 0 {
		fmt.Println(mutedStyle.Render(fmt.Sprintf("      %d degraded, %d invalid geometries",
			res.DegradedRecords, res.InvalidGeometries)))
	}
	if res.Err != nil {
		fmt.Println(failStyle.Render("      " + res.Err.Error()))
	}
}

// PrintRunReport prints the summary after all layers finish.
func PrintRunReport(run *convert.RunResult) {
	fmt.Println()
	if run.LayersFailed == 0 {
		fmt.Println(successStyle.Render("  ✓ CONVERSION COMPLETE"))
	} else if run.LayersConverted > 0 {
		fmt.Println(warnStyle.Render(fmt.Sprintf("  ◐ CONVERSION PARTIAL (%d of %d layers failed)",
			run.LayersFailed, len(run.Layers))))
	} else {
		fmt.Println(failStyle.Render("  ✗ CONVERSION FAILED"))
	}
	fmt.Println()

	fmt.Printf("  %s %s\n", mutedStyle.Render("Layers:"),
		titleStyle.Render(fmt.Sprintf("%d converted, %d failed", run.LayersConverted, run.LayersFailed)))
	fmt.Printf("  %s %s\n", mutedStyle.Render("Records:"),
		titleStyle.Render(formatNumber(run.TotalRecords)))
	if run.TotalOutputBytes > 0 {
		fmt.Printf("  %s %s\n", mutedStyle.Render("Output:"),
			titleStyle.Render(formatBytes(run.TotalOutputBytes)))
	}
	if run.Duration > 0 {
		fmt.Printf("  %s %s %s\n", mutedStyle.Render("Time:"),
			titleStyle.Render(formatDuration(run.Duration)),
			mutedStyle.Render(fmt.Sprintf("(%s records/sec)", formatNumber(int64(run.Rate)))))
	}
	fmt.Printf("  %s %s\n", mutedStyle.Render("Run:"), mutedStyle.Render(run.RunID))
	fmt.Println()
}

// PrintInfo prints a dataset analysis table for the info command.
func PrintInfo(source string, layers []LayerInfo) {
	fmt.Println()
	fmt.Println(accentStyle.Render("  ▸ " + source))
	fmt.Println()
	var total int64
	for _, l := range layers {
		fmt.Printf("  %s %s\n", titleStyle.Render(l.Name),
			mutedStyle.Render(fmt.Sprintf("%s  %d fields  ~%s records",
				l.GeometryType, l.FieldCount, formatNumber(l.RecordCount))))
		total += l.RecordCount
	}
	fmt.Println()
	fmt.Printf("  %s %s layers, ~%s records\n", mutedStyle.Render("Total:"),
		titleStyle.Render(fmt.Sprintf("%d", len(layers))), titleStyle.Render(formatNumber(total)))
	fmt.Println()
}

// LayerInfo is one row of the info table.
type LayerInfo struct {
	Name         string
	GeometryType string
	FieldCount   int
	RecordCount  int64
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
