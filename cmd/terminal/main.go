package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/sevigo/ci-script/internal/config"
	"github.com/sevigo/ci-script/internal/core"
	"github.com/sevigo/ci-script/internal/queueclient"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Parse command-line flags
	themeFlag := flag.String("theme", "", "UI theme (cyan, mono, solarized, dracula)")
	listThemes := flag.Bool("list-themes", false, "List all available themes")
	queueURL := flag.String("queue-url", cfg.Queue.URL, "Address of the ci-script server")
	interval := flag.Duration("interval", 2*time.Second, "How often the job list is refreshed")
	state := flag.String("state", "", "Initial state filter")
	limit := flag.Int("limit", 50, "Maximum number of jobs to show")
	flag.Parse()

	if *listThemes {
		fmt.Println("Available themes:")
		for _, theme := range ListThemes() {
			fmt.Printf("  - %s\n", theme)
		}
		os.Exit(0)
	}

	selectedTheme := *themeFlag
	if selectedTheme == "" {
		selectedTheme = os.Getenv("CI_SCRIPT_THEME")
	}
	if selectedTheme == "" {
		selectedTheme = string(ThemeCyan)
	}
	theme := ThemeName(selectedTheme)
	validTheme := false
	for _, t := range ListThemes() {
		if t == theme {
			validTheme = true
			break
		}
	}
	if !validTheme {
		fmt.Printf("Invalid theme '%s'. Use --list-themes to see available options.\n", theme)
		os.Exit(1)
	}
	if *queueURL == "" {
		fmt.Println("No queue address configured. Set QUEUE_URL or pass --queue-url.")
		os.Exit(1)
	}
	if *interval < 200*time.Millisecond {
		*interval = 200 * time.Millisecond
	}

	client := queueclient.New(*queueURL, cfg.Queue.Token)
	filter := core.JobFilter{State: core.JobState(*state), Limit: *limit}
	p := tea.NewProgram(initialModel(theme, client, *queueURL, *interval, filter), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		slog.Error("error running program", "error", err)
		fmt.Printf("Error running program: %v\n", err)
		os.Exit(1)
	}
}
