package main

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/sevigo/ci-script/internal/core"
)

type styles struct {
	app      lipgloss.Style
	header   lipgloss.Style
	viewport lipgloss.Style
	footer   lipgloss.Style
	inactive lipgloss.Style
	error    lipgloss.Style
	success  lipgloss.Style
	prompt   lipgloss.Style
	command  lipgloss.Style
	states   map[core.JobState]lipgloss.Style
	palette  ThemePalette
}

type ThemeName string

const (
	ThemeCyan      ThemeName = "cyan"
	ThemeMono      ThemeName = "mono"
	ThemeSolarized ThemeName = "solarized"
	ThemeDracula   ThemeName = "dracula"
)

// ThemePalette maps UI roles to terminal colors. Running, Done and Failed
// color jobs by state.
type ThemePalette struct {
	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Running   lipgloss.Color
	Done      lipgloss.Color
	Failed    lipgloss.Color
	Inactive  lipgloss.Color
}

var palettes = map[ThemeName]ThemePalette{
	ThemeCyan: {
		Primary:   lipgloss.Color("51"),
		Secondary: lipgloss.Color("33"),
		Running:   lipgloss.Color("226"),
		Done:      lipgloss.Color("46"),
		Failed:    lipgloss.Color("196"),
		Inactive:  lipgloss.Color("240"),
	},
	ThemeMono: {
		Primary:   lipgloss.Color("255"),
		Secondary: lipgloss.Color("250"),
		Running:   lipgloss.Color("255"),
		Done:      lipgloss.Color("250"),
		Failed:    lipgloss.Color("255"),
		Inactive:  lipgloss.Color("242"),
	},
	ThemeSolarized: {
		Primary:   lipgloss.Color("#268bd2"),
		Secondary: lipgloss.Color("#2aa198"),
		Running:   lipgloss.Color("#b58900"),
		Done:      lipgloss.Color("#859900"),
		Failed:    lipgloss.Color("#dc322f"),
		Inactive:  lipgloss.Color("#586e75"),
	},
	ThemeDracula: {
		Primary:   lipgloss.Color("141"), // purple
		Secondary: lipgloss.Color("117"), // cyan
		Running:   lipgloss.Color("212"), // pink
		Done:      lipgloss.Color("84"),  // green
		Failed:    lipgloss.Color("203"),
		Inactive:  lipgloss.Color("240"),
	},
}

func GetTheme(theme ThemeName) styles {
	if palette, ok := palettes[theme]; ok {
		return newStylesFromPalette(palette)
	}
	return newStylesFromPalette(palettes[ThemeCyan])
}

func ListThemes() []ThemeName {
	return []ThemeName{ThemeCyan, ThemeMono, ThemeSolarized, ThemeDracula}
}

func newStylesFromPalette(p ThemePalette) styles {
	return styles{
		app: lipgloss.NewStyle().Margin(0, 1),
		header: lipgloss.NewStyle().
			Foreground(p.Primary).
			Bold(true).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(p.Primary).
			Padding(0, 2),
		viewport: lipgloss.NewStyle().PaddingLeft(1),
		footer: lipgloss.NewStyle().
			BorderTop(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(p.Secondary),
		inactive: lipgloss.NewStyle().Foreground(p.Inactive),
		error:    lipgloss.NewStyle().Foreground(p.Failed).Bold(true),
		success:  lipgloss.NewStyle().Foreground(p.Done).Bold(true),
		prompt:   lipgloss.NewStyle().Foreground(p.Running).Bold(true),
		command:  lipgloss.NewStyle().Foreground(p.Secondary).Italic(true),
		states: map[core.JobState]lipgloss.Style{
			core.JobQueued:    lipgloss.NewStyle().Foreground(p.Secondary),
			core.JobLeased:    lipgloss.NewStyle().Foreground(p.Running).Bold(true),
			core.JobCompleted: lipgloss.NewStyle().Foreground(p.Done),
			core.JobFailed:    lipgloss.NewStyle().Foreground(p.Failed).Bold(true),
		},
		palette: p,
	}
}
