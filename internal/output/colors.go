package output

import (
	"github.com/fatih/color"
)

// ColorScheme defines the colors used for different elements in the output
type ColorScheme struct {
	Rule    *color.Color
	Title   *color.Color
	Label   *color.Color
	Value   *color.Color
	Latency *color.Color
	Stage   *color.Color
	Dim     *color.Color
	Success *color.Color
	Warn    *color.Color
	Error   *color.Color
}

// DefaultColorScheme returns the default color scheme
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Rule:    color.New(color.FgCyan),
		Title:   color.New(color.Bold),
		Label:   color.New(color.Bold),
		Value:   color.New(color.FgCyan),
		Latency: color.New(color.FgBlue),
		Stage:   color.New(color.FgMagenta),
		Dim:     color.New(color.Faint),
		Success: color.New(color.FgGreen),
		Warn:    color.New(color.FgYellow),
		Error:   color.New(color.FgRed),
	}
}

func (s *ColorScheme) all() []*color.Color {
	return []*color.Color{s.Rule, s.Title, s.Label, s.Value, s.Latency, s.Stage, s.Dim, s.Success, s.Warn, s.Error}
}

// NoColorScheme returns a color scheme with all colors disabled
func NoColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	for _, c := range scheme.all() {
		c.DisableColor()
	}
	return scheme
}

// ForcedColorScheme returns the default scheme with colors enabled even when
// the output is not a terminal.
func ForcedColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	for _, c := range scheme.all() {
		c.EnableColor()
	}
	return scheme
}

// RateColor picks a color for a failure rate.
func (s *ColorScheme) RateColor(rate float64) *color.Color {
	switch {
	case rate > 0.05:
		return s.Error
	case rate > 0:
		return s.Warn
	default:
		return s.Success
	}
}

// SuccessIcon returns a checkmark symbol with appropriate color
func (s *ColorScheme) SuccessIcon() string {
	return s.Success.Sprint("✓")
}

// ErrorIcon returns an X symbol with appropriate color
func (s *ColorScheme) ErrorIcon() string {
	return s.Error.Sprint("✗")
}

// NoDataIcon marks a threshold that had nothing to evaluate
func (s *ColorScheme) NoDataIcon() string {
	return s.Warn.Sprint("-")
}
