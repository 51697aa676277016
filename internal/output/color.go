package output

import (
	"os"

	"github.com/fatih/color"
)

// Palette colors console text. A disabled palette returns text unchanged.
type Palette struct {
	enabled bool
	good    *color.Color
	warn    *color.Color
	bad     *color.Color
	dim     *color.Color
	bold    *color.Color
}

// NewPalette creates a palette. Colors are forced on or off regardless of the
// terminal, so callers decide with ColorEnabled.
func NewPalette(enabled bool) *Palette {
	p := &Palette{
		enabled: enabled,
		good:    color.New(color.FgGreen),
		warn:    color.New(color.FgYellow),
		bad:     color.New(color.FgRed, color.Bold),
		dim:     color.New(color.Faint),
		bold:    color.New(color.Bold),
	}
	for _, c := range []*color.Color{p.good, p.warn, p.bad, p.dim, p.bold} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// Enabled reports whether the palette emits escape codes.
func (p *Palette) Enabled() bool { return p.enabled }

// Good renders healthy values.
func (p *Palette) Good(s string) string { return p.good.Sprint(s) }

// Warn renders values that need attention.
func (p *Palette) Warn(s string) string { return p.warn.Sprint(s) }

// Bad renders failures and suspects.
func (p *Palette) Bad(s string) string { return p.bad.Sprint(s) }

// Dim renders secondary text.
func (p *Palette) Dim(s string) string { return p.dim.Sprint(s) }

// Bold renders headings.
func (p *Palette) Bold(s string) string { return p.bold.Sprint(s) }

// ColorEnabled decides whether to color output written to stdout.
// NO_COLOR and a non-terminal stdout disable color; noColor forces it off.
func ColorEnabled(noColor bool) bool {
	if noColor {
		return false
	}
	if _, set := os.LookupEnv("NO_COLOR"); set {
		return false
	}
	return !color.NoColor && IsTerminal(os.Stdout)
}
