package main

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/sevigo/ci-script/internal/core"
)

const requestTimeout = 10 * time.Second

// queueAPI is the part of the queue client the monitor needs.
type queueAPI interface {
	List(ctx context.Context, filter core.JobFilter) ([]*core.Job, error)
	Get(ctx context.Context, id string) (*core.Job, error)
	Enqueue(ctx context.Context, job *core.Job) (string, error)
}

func loadJobsCmd(api queueAPI, filter core.JobFilter) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		jobs, err := api.List(ctx, filter)
		return jobsLoadedMsg{jobs: jobs, err: err}
	}
}

func getJobCmd(api queueAPI, id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		job, err := api.Get(ctx, id)
		return jobLoadedMsg{job: job, err: err}
	}
}

func refreshJobCmd(api queueAPI, id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		job, err := api.Get(ctx, id)
		if err != nil {
			return errorMsg{err}
		}
		return jobLoadedMsg{job: job, refresh: true}
	}
}

func enqueueJobCmd(api queueAPI, job *core.Job) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		id, err := api.Enqueue(ctx, job)
		return jobEnqueuedMsg{id: id, err: err}
	}
}

func tickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
