package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sevigo/ci-script/internal/core"
	"github.com/sevigo/ci-script/internal/gitutil"
)

const banner = "CI-SCRIPT QUEUE MONITOR"

var stateFilters = []core.JobState{"", core.JobQueued, core.JobLeased, core.JobCompleted, core.JobFailed}

type model struct {
	styles   styles
	api      queueAPI
	queueURL string
	interval time.Duration

	// UI Components
	table    table.Model
	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model

	// Session State
	filter      core.JobFilter
	jobs        []*core.Job
	detail      *core.Job
	isLoading   bool
	status      string
	lastRefresh time.Time
}

func initialModel(theme ThemeName, api queueAPI, queueURL string, interval time.Duration, filter core.JobFilter) *model {
	styles := GetTheme(theme)

	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ID", Width: 36},
			{Title: "STATE", Width: 10},
			{Title: "REPOSITORY", Width: 28},
			{Title: "SCRIPT", Width: 32},
			{Title: "CREATED", Width: 19},
		}),
		table.WithFocused(true),
		table.WithHeight(15),
	)
	ts := table.DefaultStyles()
	ts.Header = ts.Header.Foreground(styles.palette.Primary).Bold(true)
	ts.Selected = ts.Selected.Foreground(styles.palette.Running).Bold(true)
	t.SetStyles(ts)

	ta := textarea.New()
	ta.Placeholder = "Type /help for commands, Enter opens the selected job..."
	ta.Focus()
	ta.Prompt = styles.prompt.Render("► ")
	ta.CharLimit = 500
	ta.SetWidth(50)
	ta.SetHeight(1)
	ta.ShowLineNumbers = false

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(styles.palette.Primary)

	return &model{
		styles:    styles,
		api:       api,
		queueURL:  queueURL,
		interval:  interval,
		table:     t,
		viewport:  viewport.New(80, 20),
		textarea:  ta,
		spinner:   sp,
		filter:    filter,
		isLoading: true,
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(loadJobsCmd(m.api, m.filter), tickCmd(m.interval), m.spinner.Tick)
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		// Keep polling; skip the request while the previous one is in flight.
		cmds := []tea.Cmd{tickCmd(m.interval)}
		if !m.isLoading {
			m.isLoading = true
			cmds = append(cmds, loadJobsCmd(m.api, m.filter), m.spinner.Tick)
			if m.detail != nil {
				cmds = append(cmds, refreshJobCmd(m.api, m.detail.ID))
			}
		}
		return m, tea.Batch(cmds...)

	case jobsLoadedMsg:
		m.isLoading = false
		if msg.err != nil {
			m.status = m.styles.error.Render("⚠ " + msg.err.Error())
			return m, nil
		}
		m.jobs = msg.jobs
		m.lastRefresh = time.Now()
		m.table.SetRows(jobRows(msg.jobs))
		return m, nil

	case jobLoadedMsg:
		if msg.err != nil {
			m.status = m.styles.error.Render("⚠ " + msg.err.Error())
			return m, nil
		}
		if msg.refresh && (m.detail == nil || m.detail.ID != msg.job.ID) {
			return m, nil
		}
		m.detail = msg.job
		m.viewport.SetContent(renderMarkdown(jobMarkdown(msg.job), m.viewport.Width))
		return m, nil

	case jobEnqueuedMsg:
		if msg.err != nil {
			m.status = m.styles.error.Render("ENQUEUE FAILED: " + msg.err.Error())
			return m, nil
		}
		m.status = m.styles.success.Render(fmt.Sprintf("✓ job %s queued", msg.id))
		return m, loadJobsCmd(m.api, m.filter)

	case errorMsg:
		m.status = m.styles.error.Render("⚠ " + msg.Error())
		return m, nil

	case spinner.TickMsg:
		if !m.isLoading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.styles.header = m.styles.header.Width(msg.Width - 4)
		m.table.SetWidth(msg.Width - 4)
		m.table.SetHeight(max(msg.Height-10, 3))
		m.viewport.Width = msg.Width - 4
		m.viewport.Height = max(msg.Height-8, 3)
		m.textarea.SetWidth(msg.Width - 10)
		if m.detail != nil {
			m.viewport.SetContent(renderMarkdown(jobMarkdown(m.detail), m.viewport.Width))
		}
		return m, nil
	}
	return m, nil
}

func (m *model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit
	case tea.KeyEsc:
		if m.detail != nil {
			m.detail = nil
			return m, nil
		}
		return m, tea.Quit
	case tea.KeyEnter:
		input := strings.TrimSpace(m.textarea.Value())
		if input != "" {
			m.textarea.Reset()
			return m, m.processCommand(input)
		}
		if m.detail == nil {
			if row := m.table.SelectedRow(); row != nil {
				return m, getJobCmd(m.api, row[0])
			}
		}
		return m, nil
	case tea.KeyUp, tea.KeyDown, tea.KeyPgUp, tea.KeyPgDown, tea.KeyHome, tea.KeyEnd:
		if m.detail != nil {
			m.viewport, cmd = m.viewport.Update(msg)
		} else {
			m.table, cmd = m.table.Update(msg)
		}
		return m, cmd
	}
	m.textarea, cmd = m.textarea.Update(msg)
	return m, cmd
}

func (m *model) View() string {
	header := m.styles.header.Render(banner)

	var body string
	if m.detail != nil {
		body = m.styles.viewport.Render(m.viewport.View())
	} else {
		body = m.table.View()
		if len(m.jobs) == 0 && !m.lastRefresh.IsZero() {
			body += "\n" + m.styles.inactive.Render("  no jobs")
		}
	}

	statusParts := []string{"QUEUE: " + m.queueURL}
	if m.filter.State != "" {
		statusParts = append(statusParts, "FILTER: "+string(m.filter.State))
	} else {
		statusParts = append(statusParts, "FILTER: all")
	}
	statusParts = append(statusParts, m.stateCounts())
	if !m.lastRefresh.IsZero() {
		statusParts = append(statusParts, "UPDATED: "+m.lastRefresh.Format(time.TimeOnly))
	}
	status := m.styles.inactive.Render(strings.Join(statusParts, " │ "))

	var loadingIndicator string
	if m.isLoading {
		loadingIndicator = " " + m.spinner.View()
	}

	lines := []string{header, body}
	if m.status != "" {
		lines = append(lines, m.status)
	}
	lines = append(lines,
		m.styles.footer.Render(lipgloss.JoinHorizontal(lipgloss.Left, m.textarea.View(), loadingIndicator)),
		status,
	)
	return m.styles.app.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (m *model) processCommand(input string) tea.Cmd {
	parts := strings.Fields(input)
	command := parts[0]
	args := parts[1:]
	m.status = ""

	switch command {
	case "/refresh", "/r":
		m.isLoading = true
		return tea.Batch(loadJobsCmd(m.api, m.filter), m.spinner.Tick)

	case "/filter", "/f":
		if len(args) == 0 {
			m.filter.State = nextFilter(m.filter.State)
		} else {
			state := core.JobState(args[0])
			if args[0] == "all" {
				state = ""
			}
			if !knownFilter(state) {
				m.status = m.styles.error.Render("USAGE: /filter [all|queued|leased|completed|failed]")
				return nil
			}
			m.filter.State = state
		}
		m.isLoading = true
		return tea.Batch(loadJobsCmd(m.api, m.filter), m.spinner.Tick)

	case "/limit":
		if len(args) != 1 {
			m.status = m.styles.error.Render("USAGE: /limit [n]")
			return nil
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			m.status = m.styles.error.Render("USAGE: /limit [n]")
			return nil
		}
		m.filter.Limit = n
		return loadJobsCmd(m.api, m.filter)

	case "/show", "/s":
		if len(args) != 1 {
			m.status = m.styles.error.Render("USAGE: /show [job id]")
			return nil
		}
		return getJobCmd(m.api, args[0])

	case "/enqueue", "/e":
		if len(args) < 2 {
			m.status = m.styles.error.Render("USAGE: /enqueue [owner/repo[@ref]] [script] [args...]")
			return nil
		}
		repo, ref, _ := strings.Cut(args[0], "@")
		owner, name, err := gitutil.ParseRepoFullName(repo)
		if err != nil {
			m.status = m.styles.error.Render(err.Error())
			return nil
		}
		m.status = m.styles.command.Render(fmt.Sprintf("→ queueing %s on %s...", args[1], args[0]))
		return enqueueJobCmd(m.api, &core.Job{
			ScriptPath: args[1],
			Args:       args[2:],
			Trigger: core.Trigger{
				Repo: core.RepoRef{
					Owner:    owner,
					Name:     name,
					Ref:      ref,
					CloneURL: gitutil.GitHubCloneURL(owner, name),
				},
				Actor: "terminal",
			},
		})

	case "/help", "/h":
		m.status = m.styles.success.Render("AVAILABLE COMMANDS:") + `
  /refresh, /r                        Reload the job list now.
  /filter [state], /f                 Show only one state, or cycle through them.
  /limit [n]                          Show at most n jobs (0 for the server default).
  /show [id], /s                      Open a job by id.
  /enqueue owner/repo[@ref] script    Queue a script run.
  /quit                               Exit.
  ` + m.styles.inactive.Render("Arrows move, Enter opens the selected job, Esc goes back.")
		return nil

	case "/exit", "/quit", "/q":
		return tea.Quit

	default:
		m.status = m.styles.error.Render("UNKNOWN COMMAND: "+command) + " " + m.styles.inactive.Render("Type /help for assistance.")
		return nil
	}
}

// stateCounts summarizes the loaded jobs per state, in lifecycle order.
func (m *model) stateCounts() string {
	counts := make(map[core.JobState]int)
	for _, job := range m.jobs {
		counts[job.State]++
	}
	parts := make([]string, 0, len(stateFilters))
	for _, s := range stateFilters[1:] {
		if counts[s] == 0 {
			continue
		}
		parts = append(parts, m.styles.states[s].Render(fmt.Sprintf("%s %d", strings.ToUpper(string(s)), counts[s])))
	}
	if len(parts) == 0 {
		return "JOBS: 0"
	}
	return strings.Join(parts, " · ")
}

func jobRows(jobs []*core.Job) []table.Row {
	rows := make([]table.Row, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, table.Row{
			job.ID,
			string(job.State),
			job.Trigger.Repo.FullName(),
			job.ScriptPath,
			job.CreatedAt.Local().Format(time.DateTime),
		})
	}
	return rows
}

func nextFilter(current core.JobState) core.JobState {
	for i, s := range stateFilters {
		if s == current {
			return stateFilters[(i+1)%len(stateFilters)]
		}
	}
	return ""
}

func knownFilter(state core.JobState) bool {
	for _, s := range stateFilters {
		if s == state {
			return true
		}
	}
	return false
}
