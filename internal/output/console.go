// Package output renders live progress and final results of a load run.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/wesleyorama2/merchload/internal/loadtest/engine"
	"github.com/wesleyorama2/merchload/internal/loadtest/executor"
	"github.com/wesleyorama2/merchload/internal/loadtest/metrics"
)

// ANSI escape codes for cursor control
const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"

	boxHorizontal  = "━"
	boxVertical    = "│"
	boxTopLeft     = "┌"
	boxTopRight    = "┐"
	boxBottomLeft  = "└"
	boxBottomRight = "┘"

	progressFilled = "█"
	progressEmpty  = "░"

	ruleWidth = 56
	boxWidth  = 55
)

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	Progress float64
	Elapsed  time.Duration
	Total    time.Duration

	ActiveVUs int
	TargetVUs int

	RPS           float64
	TotalRequests int64
	Failed        int64
	FailedRate    float64

	LatencyP90 time.Duration
	LatencyAvg time.Duration

	Phase        string
	CurrentStage int // 1-indexed
	TotalStages  int
	StageName    string
}

// StatsFromRun builds LiveStats from a live snapshot and executor stats.
// Either may be nil.
func StatsFromRun(snap *metrics.Snapshot, stats *executor.Stats, progress float64) *LiveStats {
	live := &LiveStats{Progress: progress, Phase: "initializing"}
	if stats != nil {
		live.Elapsed = stats.Elapsed
		live.Total = stats.TotalDuration
		live.ActiveVUs = stats.ActiveVUs
		live.TargetVUs = stats.TargetVUs
		live.CurrentStage = stats.CurrentStage + 1
		live.TotalStages = stats.TotalStages
		live.StageName = stats.CurrentStageName
	}
	if snap != nil {
		live.RPS = snap.RPS
		live.TotalRequests = snap.TotalRequests
		live.Failed = snap.FailedRequests
		live.FailedRate = snap.FailedRate
		live.LatencyP90 = snap.Latency.P90
		live.LatencyAvg = snap.Latency.Mean
		live.Phase = string(snap.CurrentPhase)
	}
	return live
}

// Console manages console output during and after a run.
type Console struct {
	writer io.Writer
	isTTY  bool
	colors *ColorScheme
	quiet  bool

	mu          sync.Mutex
	linesOutput int
}

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	Writer      io.Writer
	Quiet       bool
	NoColor     bool
	ForceColors bool
	ForceTTY    bool
}

// NewConsole creates a new console output handler.
func NewConsole(config ConsoleConfig) *Console {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}

	isTTY := config.ForceTTY || isTerminal(config.Writer)

	var colors *ColorScheme
	switch {
	case config.NoColor:
		colors = NoColorScheme()
	case config.ForceColors || (isTTY && supportsColors()):
		colors = ForcedColorScheme()
	default:
		colors = NoColorScheme()
	}

	return &Console{
		writer: config.Writer,
		isTTY:  isTTY,
		colors: colors,
		quiet:  config.Quiet,
	}
}

// IsTTY returns whether the output is a terminal.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

// Header describes a run about to start.
type Header struct {
	Name     string
	RunID    string
	BaseURL  string
	Users    int
	Duration time.Duration
	Stages   []executor.Stage
}

// PrintHeader prints the run header.
func (c *Console) PrintHeader(h Header) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rule := c.colors.Rule.Sprint(strings.Repeat(boxHorizontal, ruleWidth))
	c.writeln(rule)
	c.writeln(c.colors.Title.Sprintf("%s - Running", h.Name))
	c.writeln(rule)
	c.writeln(fmt.Sprintf("Run ID:    %s", c.colors.Dim.Sprint(h.RunID)))
	c.writeln(fmt.Sprintf("Target:    %s", c.colors.Value.Sprint(h.BaseURL)))
	c.writeln(fmt.Sprintf("Users:     %s", c.colors.Value.Sprint(formatNumber(int64(h.Users)))))
	c.writeln(fmt.Sprintf("Duration:  %s", c.colors.Value.Sprint(formatDuration(h.Duration))))
	if len(h.Stages) > 0 {
		parts := make([]string, len(h.Stages))
		for i, s := range h.Stages {
			parts[i] = fmt.Sprintf("%s→%d", formatDuration(s.Duration), s.Target)
		}
		c.writeln(fmt.Sprintf("Stages:    %s", c.colors.Stage.Sprint(strings.Join(parts, ", "))))
	}
	c.writeln("")
}

// Update redraws the live display in place. It does nothing unless the
// output is a terminal.
func (c *Console) Update(stats *LiveStats) {
	if c.quiet || !c.isTTY {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLive()
	lines := c.renderLiveStats(stats)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

func (c *Console) clearLive() {
	if c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine + "\n")
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	c.linesOutput = 0
}

func (c *Console) renderLiveStats(stats *LiveStats) []string {
	var lines []string

	bar := renderProgressBar(stats.Progress, 40)
	lines = append(lines, fmt.Sprintf("Progress: %s %s | %s",
		c.colors.Success.Sprint(bar),
		c.colors.Title.Sprintf("%.0f%%", stats.Progress*100),
		c.colors.Dim.Sprintf("%s / %s", formatDuration(stats.Elapsed), formatDuration(stats.Total))))

	lines = append(lines, fmt.Sprintf("Stage:    %s", c.colors.Stage.Sprint(stageLabel(stats))))
	lines = append(lines, "")

	lines = append(lines, c.colors.Dim.Sprint(boxTopLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxTopRight))

	vus := fmt.Sprintf("VUs:     %s / %d", c.colors.Value.Sprint(stats.ActiveVUs), stats.TargetVUs)
	reqs := fmt.Sprintf("Requests:    %s", c.colors.Value.Sprint(formatNumber(stats.TotalRequests)))
	lines = append(lines, c.formatBoxRow(vus, reqs))

	rateColor := c.colors.RateColor(stats.FailedRate)
	rps := fmt.Sprintf("RPS:     %s", c.colors.Success.Sprintf("%.1f", stats.RPS))
	failed := fmt.Sprintf("Failed:      %s (%s)",
		rateColor.Sprint(stats.Failed),
		rateColor.Sprint(formatRate(stats.FailedRate)))
	lines = append(lines, c.formatBoxRow(rps, failed))

	p90 := fmt.Sprintf("P90:     %s", c.colors.Latency.Sprint(formatDurationShort(stats.LatencyP90)))
	avg := fmt.Sprintf("Avg:         %s", c.colors.Latency.Sprint(formatDurationShort(stats.LatencyAvg)))
	lines = append(lines, c.formatBoxRow(p90, avg))

	lines = append(lines, c.colors.Dim.Sprint(boxBottomLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxBottomRight))

	return lines
}

// formatBoxRow formats a row inside the stats box with two columns.
func (c *Console) formatBoxRow(left, right string) string {
	colWidth := (boxWidth - 4) / 2

	pad := func(s string) string {
		n := colWidth - visibleWidth(s)
		if n < 0 {
			n = 0
		}
		return s + strings.Repeat(" ", n)
	}

	bar := c.colors.Dim.Sprint(boxVertical)
	return fmt.Sprintf("%s %s%s %s %s", bar, pad(left), bar, pad(right), bar)
}

// PrintNonInteractiveUpdate prints a one-line status update.
// Used when output is not a TTY (e.g., piped to a file or CI/CD).
func (c *Console) PrintNonInteractiveUpdate(stats *LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(fmt.Sprintf("[%s] Progress: %.0f%% | Stage: %s | VUs: %d/%d | Reqs: %d | RPS: %.1f | Failed: %d (%s) | P90: %s",
		formatDuration(stats.Elapsed),
		stats.Progress*100,
		stageLabel(stats),
		stats.ActiveVUs,
		stats.TargetVUs,
		stats.TotalRequests,
		stats.RPS,
		stats.Failed,
		formatRate(stats.FailedRate),
		formatDurationShort(stats.LatencyP90)))
}

// PrintSummary prints the final run summary.
func (c *Console) PrintSummary(result *engine.TestResult) {
	if c.quiet {
		if result.Passed {
			c.writeln(c.colors.Success.Sprint("PASSED"))
		} else {
			c.writeln(c.colors.Error.Sprint("FAILED"))
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isTTY {
		c.clearLive()
	}

	status := c.colors.Success.Sprint("Completed ✓")
	if !result.Passed {
		status = c.colors.Error.Sprint("Failed ✗")
	}
	if result.Interrupted {
		status += c.colors.Warn.Sprint(" (interrupted)")
	}

	rule := c.colors.Rule.Sprint(strings.Repeat(boxHorizontal, ruleWidth))
	c.writeln("")
	c.writeln(rule)
	c.writeln(fmt.Sprintf("%s - %s", c.colors.Title.Sprint(result.Name), status))
	c.writeln(rule)
	c.writeln("")

	s := result.Summary
	if s == nil {
		s = metrics.NewSummary(nil, result.Duration)
	}

	c.writeln(fmt.Sprintf("Duration:      %s", c.colors.Value.Sprint(formatDuration(result.Duration))))
	c.writeln(fmt.Sprintf("Peak VUs:      %s", c.colors.Value.Sprint(result.PeakVUs)))
	c.writeln(fmt.Sprintf("Total Reqs:    %s", c.colors.Value.Sprint(formatNumber(s.TotalRequests))))
	c.writeln(fmt.Sprintf("Throughput:    %s", c.colors.Value.Sprintf("%.1f req/s", s.RPS)))
	c.writeln(fmt.Sprintf("Failed:        %s",
		c.colors.RateColor(s.FailedRate).Sprintf("%s (%s)", formatNumber(s.FailedRequests), formatRate(s.FailedRate))))
	c.writeln("")

	if s.TotalRequests > 0 {
		c.writeln(c.colors.Label.Sprint("Latency Distribution:"))
		c.writeln(fmt.Sprintf("  Min:       %s", formatDurationShort(s.Latency.Min)))
		c.writeln(fmt.Sprintf("  P50:       %s", formatDurationShort(s.Latency.P50)))
		c.writeln(fmt.Sprintf("  P90:       %s", formatDurationShort(s.Latency.P90)))
		c.writeln(fmt.Sprintf("  P95:       %s", formatDurationShort(s.Latency.P95)))
		c.writeln(fmt.Sprintf("  P99:       %s", formatDurationShort(s.Latency.P99)))
		c.writeln(fmt.Sprintf("  Max:       %s", formatDurationShort(s.Latency.Max)))
		c.writeln("")
	}

	if len(s.Actions) > 0 {
		c.writeln(c.colors.Label.Sprint("Actions:"))
		c.writeln(c.colors.Dim.Sprintf("  %-12s %10s %10s %10s", "ACTION", "COUNT", "FAILED", "P90"))
		names := make([]string, 0, len(s.Actions))
		for name := range s.Actions {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			a := s.Actions[name]
			c.writeln(fmt.Sprintf("  %-12s %10s %10s %10s",
				name, formatNumber(a.Count), formatNumber(a.Failed), formatDurationShort(a.Latency.P90)))
		}
		c.writeln("")
	}

	if len(result.Thresholds) > 0 {
		c.writeln(c.colors.Label.Sprint("Thresholds:"))
		for _, t := range result.Thresholds {
			switch {
			case t.NoData:
				c.writeln(fmt.Sprintf("  %s %s %s (no data)", c.colors.NoDataIcon(), t.Metric, t.Expression))
			case t.Passed:
				c.writeln(fmt.Sprintf("  %s %s %s (actual: %s)", c.colors.SuccessIcon(), t.Metric, t.Expression, t.Actual))
			default:
				detail := t.Actual
				if t.Message != "" {
					detail = t.Message
				}
				c.writeln(fmt.Sprintf("  %s %s %s (%s)", c.colors.ErrorIcon(), t.Metric, t.Expression, detail))
			}
		}
		c.writeln("")
	}
}

// write writes to the output without a newline.
func (c *Console) write(s string) {
	fmt.Fprint(c.writer, s)
}

// writeln writes to the output with a newline.
func (c *Console) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

func stageLabel(stats *LiveStats) string {
	label := stats.Phase
	if stats.TotalStages > 0 {
		label = fmt.Sprintf("%s (%d/%d)", stats.Phase, stats.CurrentStage, stats.TotalStages)
	}
	if stats.StageName != "" {
		label += " " + stats.StageName
	}
	return label
}

// renderProgressBar renders a progress bar.
func renderProgressBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}

	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
}

// formatDurationShort formats a latency in a short format.
func formatDurationShort(d time.Duration) string {
	if d < time.Microsecond {
		return "0ms"
	}
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%.1fms", float64(d)/float64(time.Millisecond))
	}
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}

// formatRate formats a failure rate as a percentage. Small non-zero rates
// keep enough digits to compare against tight thresholds.
func formatRate(rate float64) string {
	if rate > 0 && rate < 0.001 {
		return fmt.Sprintf("%.4f%%", rate*100)
	}
	return fmt.Sprintf("%.2f%%", rate*100)
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}

// visibleWidth returns the printed width of s, ignoring ANSI sequences.
func visibleWidth(s string) int {
	return utf8.RuneCountInString(stripANSI(s))
}

// stripANSI removes ANSI escape codes from a string.
func stripANSI(s string) string {
	var result strings.Builder
	inEscape := false

	for i := 0; i < len(s); i++ {
		if s[i] == '\033' {
			inEscape = true
			continue
		}
		if inEscape {
			if (s[i] >= 'a' && s[i] <= 'z') || (s[i] >= 'A' && s[i] <= 'Z') {
				inEscape = false
			}
			continue
		}
		result.WriteByte(s[i])
	}

	return result.String()
}
