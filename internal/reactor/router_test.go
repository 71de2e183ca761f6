package reactor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/sevigo/ci-script/internal/config"
	"github.com/sevigo/ci-script/internal/core"
	"github.com/sevigo/ci-script/mocks"
)

type recordingQueue struct {
	jobs []*core.Job
	err  error
}

func (q *recordingQueue) Enqueue(_ context.Context, job *core.Job) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	q.jobs = append(q.jobs, job)
	return "job-1", nil
}

func triggerConfig() config.TriggerConfig {
	return config.TriggerConfig{
		CommandPrefix:       "/",
		AllowedAssociations: []string{"OWNER", "MEMBER", "COLLABORATOR"},
		Root:                ".github",
		ScriptExt:           ".js",
	}
}

func event(message string) *core.TriggerEvent {
	return &core.TriggerEvent{
		Trigger: core.Trigger{
			Repo:           core.RepoRef{Owner: "org", Name: "repo", Ref: "main", CloneURL: "https://github.com/org/repo.git"},
			Actor:          "alice",
			IssueNumber:    3,
			CommentID:      44,
			InstallationID: 9,
		},
		Message:     message,
		Association: "MEMBER",
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    *Command
	}{
		{"keyword and script", "/benchbot fmt", &Command{Keyword: "benchbot", Args: []string{"fmt"}}},
		{"quoted arguments", `/benchbot run "two words" x`, &Command{Keyword: "benchbot", Args: []string{"run", "two words", "x"}}},
		{"only first line", "/benchbot fmt\nplease", &Command{Keyword: "benchbot", Args: []string{"fmt"}}},
		{"keyword only", "/benchbot", &Command{Keyword: "benchbot", Args: []string{}}},
		{"plain comment", "looks good to me", nil},
		{"bare prefix", "/ fmt", nil},
		{"traversal in keyword", "/../x fmt", nil},
		{"unbalanced quote", `/benchbot "fmt`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseCommand("/", tt.message)
			if tt.want == nil {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.want.Keyword, got.Keyword)
			assert.Equal(t, tt.want.Args, got.Args)
		})
	}
}

func TestHandleTriggerEnqueuesJob(t *testing.T) {
	ctrl := gomock.NewController(t)
	factory := mocks.NewMockClientFactory(ctrl)
	client := mocks.NewMockClient(ctrl)
	queue := &recordingQueue{}

	factory.EXPECT().ForInstallation(gomock.Any(), int64(9)).Return(client, "tok", nil)
	client.EXPECT().FileExists(gomock.Any(), "org", "repo", ".github/benchbot/fmt.js", "main").Return(true, nil)

	r := New(triggerConfig(), queue, factory, slog.New(slog.NewTextHandler(io.Discard, nil)))
	id, err := r.HandleTrigger(context.Background(), event("/benchbot fmt"))

	require.NoError(t, err)
	assert.Equal(t, "job-1", id)
	require.Len(t, queue.jobs, 1)
	job := queue.jobs[0]
	assert.Equal(t, ".github/benchbot/fmt.js", job.ScriptPath)
	assert.Equal(t, []string{}, job.Args)
	assert.Equal(t, "org", job.Trigger.Repo.Owner)
	assert.Equal(t, "repo", job.Trigger.Repo.Name)
	assert.Equal(t, "alice", job.Trigger.Actor)
	assert.Equal(t, int64(44), job.Trigger.CommentID)
}

func TestHandleTriggerPassesRemainingArguments(t *testing.T) {
	ctrl := gomock.NewController(t)
	factory := mocks.NewMockClientFactory(ctrl)
	client := mocks.NewMockClient(ctrl)
	queue := &recordingQueue{}

	factory.EXPECT().ForInstallation(gomock.Any(), gomock.Any()).Return(client, "tok", nil)
	client.EXPECT().FileExists(gomock.Any(), "org", "repo", ".github/bench/compare.js", "main").Return(true, nil)

	r := New(triggerConfig(), queue, factory, slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := r.HandleTrigger(context.Background(), event(`/bench compare main "feature x"`))

	require.NoError(t, err)
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, []string{"main", "feature x"}, queue.jobs[0].Args)
}

func TestHandleTriggerScriptNotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	factory := mocks.NewMockClientFactory(ctrl)
	client := mocks.NewMockClient(ctrl)
	queue := &recordingQueue{}

	// resolving twice gives the same answer
	factory.EXPECT().ForInstallation(gomock.Any(), int64(9)).Return(client, "tok", nil).Times(2)
	client.EXPECT().FileExists(gomock.Any(), "org", "repo", ".github/benchbot/fmt.js", "main").Return(false, nil).Times(2)
	client.EXPECT().CreateComment(gomock.Any(), "org", "repo", 3, gomock.Any()).Return(nil).Times(2)

	r := New(triggerConfig(), queue, factory, slog.New(slog.NewTextHandler(io.Discard, nil)))
	for i := 0; i < 2; i++ {
		id, err := r.HandleTrigger(context.Background(), event("/benchbot fmt"))
		assert.ErrorIs(t, err, ErrScriptNotFound)
		assert.Empty(t, id)
	}
	assert.Empty(t, queue.jobs)
}

func TestHandleTriggerIgnoresMessages(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *config.TriggerConfig, ev *core.TriggerEvent)
	}{
		{"not a command", func(_ *config.TriggerConfig, ev *core.TriggerEvent) { ev.Message = "thanks!" }},
		{"no script name", func(_ *config.TriggerConfig, ev *core.TriggerEvent) { ev.Message = "/benchbot" }},
		{"script name escapes", func(_ *config.TriggerConfig, ev *core.TriggerEvent) { ev.Message = "/benchbot ../../etc" }},
		{"outside association", func(_ *config.TriggerConfig, ev *core.TriggerEvent) { ev.Association = "NONE" }},
		{"keyword not allowed", func(cfg *config.TriggerConfig, _ *core.TriggerEvent) { cfg.AllowedKeywords = []string{"deploy"} }},
		{"other prefix", func(cfg *config.TriggerConfig, _ *core.TriggerEvent) { cfg.CommandPrefix = "!" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			factory := mocks.NewMockClientFactory(ctrl)
			queue := &recordingQueue{}
			cfg := triggerConfig()
			ev := event("/benchbot fmt")
			tt.mutate(&cfg, ev)

			r := New(cfg, queue, factory, slog.New(slog.NewTextHandler(io.Discard, nil)))
			id, err := r.HandleTrigger(context.Background(), ev)

			assert.NoError(t, err)
			assert.Empty(t, id)
			assert.Empty(t, queue.jobs)
		})
	}
}

func TestHandleTriggerErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	factory := mocks.NewMockClientFactory(ctrl)
	client := mocks.NewMockClient(ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("forge unavailable", func(t *testing.T) {
		factory.EXPECT().ForInstallation(gomock.Any(), gomock.Any()).Return(nil, "", errors.New("no credentials"))
		_, err := New(triggerConfig(), &recordingQueue{}, factory, logger).HandleTrigger(context.Background(), event("/benchbot fmt"))
		assert.Error(t, err)
	})

	t.Run("enqueue fails", func(t *testing.T) {
		factory.EXPECT().ForInstallation(gomock.Any(), gomock.Any()).Return(client, "tok", nil)
		client.EXPECT().FileExists(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(true, nil)
		_, err := New(triggerConfig(), &recordingQueue{err: errors.New("db down")}, factory, logger).HandleTrigger(context.Background(), event("/benchbot fmt"))
		assert.ErrorContains(t, err, "db down")
	})
}

func TestScriptPath(t *testing.T) {
	r := New(triggerConfig(), nil, nil, nil)
	assert.Equal(t, ".github/benchbot/fmt.js", r.ScriptPath("benchbot", "fmt"))
}
