// Package ui is the grove terminal interface: a chat transcript beside a live
// engagement panel showing stage, drift, reveals and suggested prompts.
package ui

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"grove/internal/engagement"
	"grove/internal/entropy"
)

// Palette
var (
	LightBackground = lipgloss.Color("#f6f5ef")
	LightForeground = lipgloss.Color("#1f2a1c")
	LightPrimary    = lipgloss.Color("#2f5d3a") // moss
	LightAccent     = lipgloss.Color("#8a6d3b") // bark
	LightMuted      = lipgloss.Color("#8c9488")
	LightBorder     = lipgloss.Color("#cfd6c8")

	DarkBackground = lipgloss.Color("#141a14")
	DarkForeground = lipgloss.Color("#e8ede4")
	DarkPrimary    = lipgloss.Color("#8bc34a") // leaf
	DarkAccent     = lipgloss.Color("#d7b26a") // pollen
	DarkMuted      = lipgloss.Color("#6b7568")
	DarkBorder     = lipgloss.Color("#2e3a2c")

	Destructive = lipgloss.Color("#e53935")
	Warning     = lipgloss.Color("#ffc107")
	Info        = lipgloss.Color("#2196f3")
)

// Theme holds the current color scheme.
type Theme struct {
	Background lipgloss.Color
	Foreground lipgloss.Color
	Primary    lipgloss.Color
	Accent     lipgloss.Color
	Muted      lipgloss.Color
	Border     lipgloss.Color
	IsDark     bool
}

func LightTheme() Theme {
	return Theme{
		Background: LightBackground,
		Foreground: LightForeground,
		Primary:    LightPrimary,
		Accent:     LightAccent,
		Muted:      LightMuted,
		Border:     LightBorder,
	}
}

func DarkTheme() Theme {
	return Theme{
		Background: DarkBackground,
		Foreground: DarkForeground,
		Primary:    DarkPrimary,
		Accent:     DarkAccent,
		Muted:      DarkMuted,
		Border:     DarkBorder,
		IsDark:     true,
	}
}

// DetectTheme picks dark mode from GROVE_DARK_MODE or a dark COLORFGBG
// background, light otherwise.
func DetectTheme() Theme {
	switch os.Getenv("GROVE_DARK_MODE") {
	case "1", "true":
		return DarkTheme()
	case "0", "false":
		return LightTheme()
	}

	// COLORFGBG is "foreground;background"; ANSI 0-6 and 8 are dark.
	if parts := strings.Split(os.Getenv("COLORFGBG"), ";"); len(parts) == 2 {
		if bg, err := strconv.Atoi(parts[1]); err == nil && (bg <= 6 || bg == 8) && bg >= 0 {
			return DarkTheme()
		}
	}
	return LightTheme()
}

// Styles holds the styled components.
type Styles struct {
	Theme Theme

	Header  lipgloss.Style
	Footer  lipgloss.Style
	Panel   lipgloss.Style
	Sidebar lipgloss.Style

	Title lipgloss.Style
	Label lipgloss.Style
	Body  lipgloss.Style
	Muted lipgloss.Style

	Prompt    lipgloss.Style
	UserInput lipgloss.Style
	Reply     lipgloss.Style
	Notice    lipgloss.Style
	Error     lipgloss.Style

	Badge    lipgloss.Style
	MeterOn  lipgloss.Style
	MeterOff lipgloss.Style
}

func NewStyles(theme Theme) Styles {
	return Styles{
		Theme: theme,

		Header: lipgloss.NewStyle().
			Background(theme.Primary).
			Foreground(lipgloss.Color("#ffffff")).
			Padding(0, 2).
			Bold(true),

		Footer: lipgloss.NewStyle().
			Foreground(theme.Muted).
			Padding(0, 2),

		Panel: lipgloss.NewStyle().
			Padding(0, 1),

		Sidebar: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(theme.Border).
			Padding(0, 1),

		Title: lipgloss.NewStyle().
			Foreground(theme.Primary).
			Bold(true),

		Label: lipgloss.NewStyle().
			Foreground(theme.Muted),

		Body: lipgloss.NewStyle().
			Foreground(theme.Foreground),

		Muted: lipgloss.NewStyle().
			Foreground(theme.Muted).
			Italic(true),

		Prompt: lipgloss.NewStyle().
			Foreground(theme.Accent).
			Bold(true),

		UserInput: lipgloss.NewStyle().
			Foreground(theme.Foreground).
			Bold(true),

		Reply: lipgloss.NewStyle().
			Foreground(theme.Foreground).
			PaddingLeft(2).
			BorderLeft(true).
			BorderStyle(lipgloss.ThickBorder()).
			BorderForeground(theme.Accent),

		Notice: lipgloss.NewStyle().
			Foreground(Info).
			Bold(true),

		Error: lipgloss.NewStyle().
			Foreground(Destructive).
			Bold(true),

		Badge: lipgloss.NewStyle().
			Background(theme.Accent).
			Foreground(lipgloss.Color("#ffffff")).
			Padding(0, 1).
			Bold(true),

		MeterOn: lipgloss.NewStyle().
			Foreground(theme.Primary),

		MeterOff: lipgloss.NewStyle().
			Foreground(theme.Border),
	}
}

// DefaultStyles returns styles for the detected theme.
func DefaultStyles() Styles {
	return NewStyles(DetectTheme())
}

// StageBadge renders the session stage.
func (s Styles) StageBadge(stage engagement.Stage) string {
	return s.Badge.Render(stage.String())
}

// EntropyMeter renders score as a width-cell bar; high drift turns it to the
// warning color.
func (s Styles) EntropyMeter(score float64, class entropy.Classification, width int) string {
	if width <= 0 {
		return ""
	}
	filled := int(score*float64(width) + 0.5)
	filled = max(0, min(width, filled))

	on := s.MeterOn
	if class == entropy.ClassHigh {
		on = on.Foreground(Warning)
	}
	return on.Render(strings.Repeat("█", filled)) +
		s.MeterOff.Render(strings.Repeat("░", width-filled)) +
		s.Label.Render(fmt.Sprintf(" %.2f", score))
}

// RenderDivider returns a horizontal rule.
func (s Styles) RenderDivider(width int) string {
	return s.Label.Render(strings.Repeat("─", max(width, 0)))
}
