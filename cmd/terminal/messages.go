package main

import (
	"time"

	"github.com/sevigo/ci-script/internal/core"
)

// Carries a fresh page of jobs for the table.
type jobsLoadedMsg struct {
	jobs []*core.Job
	err  error
}

// refresh is set when the load came from polling rather than the user.
type jobLoadedMsg struct {
	job     *core.Job
	refresh bool
	err     error
}

type jobEnqueuedMsg struct {
	id  string
	err error
}

// Fires on every poll interval.
type tickMsg time.Time

// A generic error message for reporting failures from commands.
type errorMsg struct{ err error }

func (e errorMsg) Error() string {
	return e.err.Error()
}
