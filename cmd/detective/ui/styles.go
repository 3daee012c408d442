// Package ui provides the visual styling for the detective game TUI.
// Noir palette, dark mode first.
package ui

import (
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	// Dark Mode Colors (Default - it is a noir game)
	DarkBackground = lipgloss.Color("#0d0d12")
	DarkForeground = lipgloss.Color("#d8d4c8") // old paper
	DarkPrimary    = lipgloss.Color("#c9a227") // brass
	DarkAccent     = lipgloss.Color("#8c2f39") // dried blood red
	DarkSecondary  = lipgloss.Color("#1a1a24")
	DarkMuted      = lipgloss.Color("#5c5a52")
	DarkBorder     = lipgloss.Color("#33313c")
	DarkCard       = lipgloss.Color("#15151d")

	// Light Mode Colors
	LightBackground = lipgloss.Color("#f0ece2")
	LightForeground = lipgloss.Color("#1f1d24")
	LightPrimary    = lipgloss.Color("#7a5c00")
	LightAccent     = lipgloss.Color("#8c2f39")
	LightSecondary  = lipgloss.Color("#e2ddd0")
	LightMuted      = lipgloss.Color("#8a867a")
	LightBorder     = lipgloss.Color("#c9c4b4")
	LightCard       = lipgloss.Color("#faf7ee")

	// Semantic Colors (same in both modes)
	Destructive = lipgloss.Color("#e53935")
	Success     = lipgloss.Color("#6a994e")
	Warning     = lipgloss.Color("#FFC107")
	Info        = lipgloss.Color("#2196F3")
)

// Theme holds the current color scheme
type Theme struct {
	Background lipgloss.Color
	Foreground lipgloss.Color
	Primary    lipgloss.Color
	Accent     lipgloss.Color
	Secondary  lipgloss.Color
	Muted      lipgloss.Color
	Border     lipgloss.Color
	Card       lipgloss.Color
	IsDark     bool
}

// DarkTheme returns the noir dark theme
func DarkTheme() Theme {
	return Theme{
		Background: DarkBackground,
		Foreground: DarkForeground,
		Primary:    DarkPrimary,
		Accent:     DarkAccent,
		Secondary:  DarkSecondary,
		Muted:      DarkMuted,
		Border:     DarkBorder,
		Card:       DarkCard,
		IsDark:     true,
	}
}

// LightTheme returns the light theme
func LightTheme() Theme {
	return Theme{
		Background: LightBackground,
		Foreground: LightForeground,
		Primary:    LightPrimary,
		Accent:     LightAccent,
		Secondary:  LightSecondary,
		Muted:      LightMuted,
		Border:     LightBorder,
		Card:       LightCard,
		IsDark:     false,
	}
}

// DetectTheme picks a theme from the terminal environment. Dark is the
// default.
func DetectTheme() Theme {
	if os.Getenv("BISHOPGAME_LIGHT_MODE") == "1" {
		return LightTheme()
	}

	colorTerm := os.Getenv("COLORFGBG")
	if colorTerm != "" {
		// Format is usually "foreground;background"
		parts := strings.Split(colorTerm, ";")
		if len(parts) == 2 {
			if bgIdx, err := strconv.Atoi(parts[1]); err == nil {
				if bgIdx == 7 || bgIdx == 15 {
					return LightTheme()
				}
			}
		}
	}

	return DarkTheme()
}

// Styles holds all the styled components
type Styles struct {
	Theme Theme

	// Layout
	Header  lipgloss.Style
	Footer  lipgloss.Style
	Content lipgloss.Style

	// Text
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Body     lipgloss.Style
	Muted    lipgloss.Style

	// Game
	SuspectName     lipgloss.Style
	SuspectRole     lipgloss.Style
	SuspectReply    lipgloss.Style
	DetectiveLine   lipgloss.Style
	EmotionBadge    lipgloss.Style
	DayBadge        lipgloss.Style
	NotebookPage    lipgloss.Style
	MenuItem        lipgloss.Style
	MenuItemActive  lipgloss.Style
	WinBanner       lipgloss.Style
	LoseBanner      lipgloss.Style

	// Status
	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Info    lipgloss.Style

	// Components
	Spinner lipgloss.Style
	Divider lipgloss.Style
}

// NewStyles creates a new Styles instance with the given theme
func NewStyles(theme Theme) Styles {
	return Styles{
		Theme: theme,

		Header: lipgloss.NewStyle().
			Background(theme.Secondary).
			Foreground(theme.Primary).
			Padding(0, 2).
			Bold(true),

		Footer: lipgloss.NewStyle().
			Foreground(theme.Muted).
			Padding(0, 2),

		Content: lipgloss.NewStyle().
			Padding(1, 2),

		Title: lipgloss.NewStyle().
			Foreground(theme.Primary).
			Bold(true).
			MarginBottom(1),

		Subtitle: lipgloss.NewStyle().
			Foreground(theme.Muted).
			Italic(true),

		Body: lipgloss.NewStyle().
			Foreground(theme.Foreground),

		Muted: lipgloss.NewStyle().
			Foreground(theme.Muted),

		SuspectName: lipgloss.NewStyle().
			Foreground(theme.Primary).
			Bold(true),

		SuspectRole: lipgloss.NewStyle().
			Foreground(theme.Muted).
			Italic(true),

		SuspectReply: lipgloss.NewStyle().
			Foreground(theme.Foreground).
			PaddingLeft(2).
			BorderLeft(true).
			BorderStyle(lipgloss.ThickBorder()).
			BorderForeground(theme.Accent),

		DetectiveLine: lipgloss.NewStyle().
			Foreground(theme.Foreground).
			Bold(true),

		EmotionBadge: lipgloss.NewStyle().
			Background(theme.Accent).
			Foreground(lipgloss.Color("#ffffff")).
			Padding(0, 1),

		DayBadge: lipgloss.NewStyle().
			Background(theme.Primary).
			Foreground(theme.Background).
			Padding(0, 1).
			Bold(true),

		NotebookPage: lipgloss.NewStyle().
			Background(theme.Card).
			Foreground(theme.Foreground).
			Padding(1, 2).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(theme.Border),

		MenuItem: lipgloss.NewStyle().
			Foreground(theme.Muted).
			Padding(0, 2),

		MenuItemActive: lipgloss.NewStyle().
			Foreground(theme.Primary).
			Padding(0, 2).
			Bold(true),

		WinBanner: lipgloss.NewStyle().
			Foreground(Success).
			Bold(true).
			Border(lipgloss.DoubleBorder()).
			BorderForeground(Success).
			Padding(1, 4),

		LoseBanner: lipgloss.NewStyle().
			Foreground(Destructive).
			Bold(true).
			Border(lipgloss.DoubleBorder()).
			BorderForeground(Destructive).
			Padding(1, 4),

		Success: lipgloss.NewStyle().
			Foreground(Success).
			Bold(true),

		Error: lipgloss.NewStyle().
			Foreground(Destructive).
			Bold(true),

		Warning: lipgloss.NewStyle().
			Foreground(Warning).
			Bold(true),

		Info: lipgloss.NewStyle().
			Foreground(Info),

		Spinner: lipgloss.NewStyle().
			Foreground(theme.Accent),

		Divider: lipgloss.NewStyle().
			Foreground(theme.Border),
	}
}

// DefaultStyles returns styles with the detected theme
func DefaultStyles() Styles {
	return NewStyles(DetectTheme())
}

// Logo returns the title banner
func Logo(s Styles) string {
	logo := `
  ▄▄▄  THE BISHOP CASE  ▄▄▄
  یک پرونده، شش مظنون، یک قاتل
`
	return s.Title.Render(logo)
}

// RenderDivider returns a horizontal divider of the given width
func (s Styles) RenderDivider(width int) string {
	if width <= 0 {
		width = 40
	}
	return s.Divider.Render(strings.Repeat("─", width))
}
