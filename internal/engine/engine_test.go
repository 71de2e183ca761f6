package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/ci-script/internal/core"
)

type fakeRepo struct {
	mu      sync.Mutex
	root    string
	coords  core.RepoRef
	initial map[string]string
	files   map[string]string
	branch  string
	pushErr error
	pushed  []string
	staged  []string
	prs     []core.PullRequestSpec
}

func newFakeRepo(t *testing.T, files map[string]string) *fakeRepo {
	initial := map[string]string{}
	current := map[string]string{}
	for k, v := range files {
		initial[k] = v
		current[k] = v
	}
	return &fakeRepo{
		root:    t.TempDir(),
		coords:  core.RepoRef{Owner: "org", Name: "repo", Ref: "main"},
		initial: initial,
		files:   current,
		branch:  "main",
	}
}

func (f *fakeRepo) Root() string                   { return f.root }
func (f *fakeRepo) Coordinates() core.RepoRef      { return f.coords }
func (f *fakeRepo) CurrentBranch() (string, error) { return f.branch, nil }

func (f *fakeRepo) Branch(name string) error {
	f.branch = name
	return nil
}

func (f *fakeRepo) Read(path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[path]
	if !ok {
		return nil, errors.New("no such file: " + path)
	}
	return []byte(data), nil
}

func (f *fakeRepo) Write(path string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = string(data)
	return nil
}

func (f *fakeRepo) ListFiles(string) ([]core.FileEntry, error) {
	var out []core.FileEntry
	for p := range f.files {
		out = append(out, core.FileEntry{Path: p, IsFile: true})
	}
	out = append(out, core.FileEntry{Path: "src", IsDir: true})
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (f *fakeRepo) Stage(path string) error {
	if path == "missing.txt" {
		return errors.New("no such file: " + path)
	}
	f.staged = append(f.staged, path)
	return nil
}

func (f *fakeRepo) Status() (*core.ChangeSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := &core.ChangeSet{Changed: []string{}, Added: []string{}, Removed: []string{}}
	for p, v := range f.files {
		orig, ok := f.initial[p]
		switch {
		case !ok:
			set.Added = append(set.Added, p)
		case orig != v:
			set.Changed = append(set.Changed, p)
		}
	}
	sort.Strings(set.Added)
	sort.Strings(set.Changed)
	return set, nil
}

func (f *fakeRepo) Diff(string, string) (*core.ChangeSet, error) {
	return &core.ChangeSet{Changed: []string{"a.go"}, Added: []string{}, Removed: []string{}}, nil
}

func (f *fakeRepo) Commit(string) (string, error) { return "abc123", nil }

func (f *fakeRepo) Push(_ context.Context, local, remote string) error {
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushed = append(f.pushed, local+":"+remote)
	return nil
}

func (f *fakeRepo) CreatePullRequest(_ context.Context, spec core.PullRequestSpec) (*core.PullRequest, error) {
	f.prs = append(f.prs, spec)
	return &core.PullRequest{Number: 5, URL: "https://github.com/org/repo/pull/5"}, nil
}

type fakeIssue struct {
	comments []string
}

func (i *fakeIssue) Number() int { return 7 }
func (i *fakeIssue) Comment(_ context.Context, body string) error {
	i.comments = append(i.comments, body)
	return nil
}

type fakeCloner struct {
	t     *testing.T
	calls []string
}

func (c *fakeCloner) Clone(_ context.Context, fullName, _ string) (core.RepoHandle, error) {
	c.calls = append(c.calls, fullName)
	r := newFakeRepo(c.t, map[string]string{"tool.txt": "v1"})
	r.coords = core.RepoRef{Owner: "org", Name: "tools"}
	return r, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func execute(t *testing.T, script string, ec *ExecutionContext) core.Result {
	t.Helper()
	if ec.Logger == nil {
		ec.Logger = quietLogger()
	}
	res := New(quietLogger()).Execute(context.Background(), "fmt.js", script, ec)
	require.NoError(t, res.Validate())
	return res
}

func TestExecuteIsDeterministic(t *testing.T) {
	script := `const n = ARGS.length; ({greeting: "hello " + ARGS[0], count: n})`
	var values []string
	for i := 0; i < 3; i++ {
		res := execute(t, script, &ExecutionContext{Repo: newFakeRepo(t, nil), Args: []string{"world", "x"}})
		require.NotNil(t, res.Outcome)
		assert.Empty(t, res.Outcome.Effects)
		values = append(values, res.Outcome.Value)
	}
	assert.Equal(t, `{"count":2,"greeting":"hello world"}`, values[0])
	assert.Equal(t, values[0], values[1])
	assert.Equal(t, values[1], values[2])
}

func TestCompletionValue(t *testing.T) {
	tests := []struct {
		script string
		want   string
	}{
		{`"plain"`, "plain"},
		{`undefined`, ""},
		{`null`, ""},
		{`42`, "42"},
		{`[1, "a"]`, `[1,"a"]`},
		{`ISSUE === null`, "true"},
	}
	for _, tt := range tests {
		t.Run(tt.script, func(t *testing.T) {
			res := execute(t, tt.script, &ExecutionContext{Repo: newFakeRepo(t, nil)})
			require.NotNil(t, res.Outcome)
			assert.Equal(t, tt.want, res.Outcome.Value)
		})
	}
}

func TestUndefinedCapabilityIsScriptError(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{"unknown global", "const a = 1;\nfrobnicate();"},
		{"unknown handle method", "const a = 1;\nREPO.frobnicate();"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := execute(t, tt.script, &ExecutionContext{Repo: newFakeRepo(t, nil)})
			require.NotNil(t, res.Failure)
			assert.Equal(t, core.FailureScript, res.Failure.Kind)
			assert.Contains(t, res.Failure.Message, "frobnicate")
			require.NotNil(t, res.Failure.Position)
			assert.Equal(t, 2, res.Failure.Position.Line)
			assert.Equal(t, "fmt.js", res.Failure.Position.File)
		})
	}
}

func TestSyntaxErrorHasPosition(t *testing.T) {
	res := execute(t, "const ok = 1;\nconst x = ;", &ExecutionContext{Repo: newFakeRepo(t, nil)})
	require.NotNil(t, res.Failure)
	assert.Equal(t, core.FailureScript, res.Failure.Kind)
	require.NotNil(t, res.Failure.Position)
	assert.Equal(t, 2, res.Failure.Position.Line)
}

func TestWriteBeforeCrashIsKept(t *testing.T) {
	repo := newFakeRepo(t, nil)
	res := execute(t, `REPO.write("hello.md", "Hello"); missing();`, &ExecutionContext{Repo: repo})

	require.NotNil(t, res.Failure)
	assert.Equal(t, core.FailureScript, res.Failure.Kind)
	assert.Equal(t, []core.Effect{{Op: "write", Target: "hello.md"}}, res.Failure.Effects)

	status, err := repo.Status()
	require.NoError(t, err)
	assert.Equal(t, []string{"hello.md"}, status.Added)
}

func TestOperationError(t *testing.T) {
	repo := newFakeRepo(t, nil)
	repo.pushErr = errors.New("rejected: non-fast-forward")

	t.Run("uncaught", func(t *testing.T) {
		res := execute(t, `REPO.commit("x"); REPO.push("main");`, &ExecutionContext{Repo: repo})
		require.NotNil(t, res.Failure)
		assert.Equal(t, core.FailureOperation, res.Failure.Kind)
		assert.Equal(t, "push", res.Failure.Op)
		assert.Equal(t, "rejected: non-fast-forward", res.Failure.Message)
		assert.Equal(t, []core.Effect{{Op: "commit", Target: "abc123"}}, res.Failure.Effects)
	})

	t.Run("caught by the script", func(t *testing.T) {
		res := execute(t, `let msg; try { REPO.push("main") } catch (e) { msg = e.message } msg`, &ExecutionContext{Repo: repo})
		require.NotNil(t, res.Outcome)
		assert.Contains(t, res.Outcome.Value, "non-fast-forward")
	})

	t.Run("read of missing file", func(t *testing.T) {
		res := execute(t, `REPO.read("nope.txt")`, &ExecutionContext{Repo: repo})
		require.NotNil(t, res.Failure)
		assert.Equal(t, "read", res.Failure.Op)
	})
}

func TestTimeoutDuringProcessCall(t *testing.T) {
	repo := newFakeRepo(t, nil)
	start := time.Now()
	res := execute(t, `REPO.write("a.txt", "1"); run("sleep", "2"); "finished"`, &ExecutionContext{
		Repo:    repo,
		Timeout: 200 * time.Millisecond,
		Tools:   []string{"sleep"},
	})

	require.NotNil(t, res.Failure)
	assert.Equal(t, core.FailureTimeout, res.Failure.Kind)
	assert.Equal(t, "deadline of 200ms exceeded", res.Failure.Message)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Contains(t, res.Failure.Effects, core.Effect{Op: "write", Target: "a.txt"})
}

func TestTimeoutInBusyLoop(t *testing.T) {
	res := execute(t, `while (true) {}`, &ExecutionContext{Repo: newFakeRepo(t, nil), Timeout: 100 * time.Millisecond})
	require.NotNil(t, res.Failure)
	assert.Equal(t, core.FailureTimeout, res.Failure.Kind)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := New(quietLogger()).Execute(ctx, "fmt.js", `REPO.read("a")`, &ExecutionContext{Repo: newFakeRepo(t, nil), Logger: quietLogger()})
	require.NotNil(t, res.Failure)
	assert.Equal(t, core.FailureCancelled, res.Failure.Kind)
}

func TestOperationBudget(t *testing.T) {
	repo := newFakeRepo(t, map[string]string{"a": "1"})
	res := execute(t, `REPO.read("a"); REPO.read("a"); REPO.write("b", "2"); "done"`, &ExecutionContext{Repo: repo, MaxOperations: 2})

	require.NotNil(t, res.Failure)
	assert.Equal(t, core.FailureTimeout, res.Failure.Kind)
	assert.Equal(t, "operation budget of 2 exceeded", res.Failure.Message)
	_, err := repo.Read("b")
	assert.Error(t, err, "the call over budget must not run")
}

func TestRunProcess(t *testing.T) {
	ec := func() *ExecutionContext {
		return &ExecutionContext{Repo: newFakeRepo(t, nil), Tools: []string{"echo", "sh"}}
	}

	t.Run("command string", func(t *testing.T) {
		res := execute(t, `run("echo 'hello world'").stdout`, ec())
		require.NotNil(t, res.Outcome)
		assert.Equal(t, "hello world\n", res.Outcome.Value)
		assert.Equal(t, []core.Effect{{Op: "run", Target: "echo hello world"}}, res.Outcome.Effects)
	})

	t.Run("non-zero exit is a value", func(t *testing.T) {
		res := execute(t, `const r = run("sh", "-c", "echo oops >&2; exit 3"); [r.code, r.ok, r.stderr]`, ec())
		require.NotNil(t, res.Outcome)
		assert.Equal(t, `[3,false,"oops\n"]`, res.Outcome.Value)
	})

	t.Run("runs in the repository root", func(t *testing.T) {
		c := ec()
		res := execute(t, `REPO.run("sh", "-c", "pwd").stdout.trim() === REPO.root`, c)
		require.NotNil(t, res.Outcome)
		assert.Equal(t, "true", res.Outcome.Value)
	})

	t.Run("environment is limited to passthrough", func(t *testing.T) {
		c := ec()
		c.Env = map[string]string{"CI_SCRIPT_TEST": "visible"}
		res := execute(t, `run("sh", "-c", "echo $CI_SCRIPT_TEST$HOSTNAME_UNSET").stdout + env("CI_SCRIPT_TEST") + env("OTHER")`, c)
		require.NotNil(t, res.Outcome)
		assert.Equal(t, "visible\nvisible", res.Outcome.Value)
	})

	for _, script := range []string{`run("rm -rf /tmp/x")`, `run("/bin/echo hi")`, `run("")`} {
		t.Run("refused "+script, func(t *testing.T) {
			res := execute(t, script, ec())
			require.NotNil(t, res.Failure)
			assert.Equal(t, core.FailureOperation, res.Failure.Kind)
			assert.Equal(t, "run", res.Failure.Op)
		})
	}
}

func TestListFilesSupportsSequenceOperations(t *testing.T) {
	repo := newFakeRepo(t, map[string]string{"b.go": "", "a.go": "", "README.md": ""})
	res := execute(t, `
const files = REPO.listFiles()
	.filter(e => e.isFile && e.path.endsWith(".go"))
	.map(e => e.path);
` + "`found ${files.length}:\n${files.join(\",\")}`", &ExecutionContext{Repo: repo})

	require.NotNil(t, res.Outcome)
	assert.Equal(t, "found 2:\na.go,b.go", res.Outcome.Value)
}

func TestRepositoryWorkflow(t *testing.T) {
	repo := newFakeRepo(t, map[string]string{"main.go": "package main"})
	res := execute(t, `
REPO.checkout("fmt");
REPO.write("main.go", "package main\n");
const st = REPO.status();
REPO.stage(".");
const id = REPO.commit("fmt");
REPO.push(REPO.branch());
const pr = REPO.createPullRequest({title: "Format", body: "auto", head: "fmt", base: "main"});
[st.changed, id, pr.number, REPO.diff("main", "fmt").changed]
`, &ExecutionContext{Repo: repo})

	require.NotNil(t, res.Outcome, "%v", res.Failure)
	assert.Equal(t, `[["main.go"],"abc123",5,["a.go"]]`, res.Outcome.Value)
	assert.Equal(t, []string{"fmt:"}, repo.pushed)
	assert.Equal(t, []core.PullRequestSpec{{Title: "Format", Body: "auto", Head: "fmt", Base: "main"}}, repo.prs)
	assert.Equal(t, []core.Effect{
		{Op: "checkout", Target: "fmt"},
		{Op: "write", Target: "main.go"},
		{Op: "commit", Target: "abc123"},
		{Op: "push", Target: "fmt:fmt"},
		{Op: "pull_request", Target: "https://github.com/org/repo/pull/5"},
	}, res.Outcome.Effects)
}

func TestStageAcceptsPathList(t *testing.T) {
	repo := newFakeRepo(t, nil)
	res := execute(t, `
REPO.write("a.txt", "a");
REPO.write("b.txt", "b");
REPO.stage(["a.txt", "b.txt"]);
REPO.stage("c.txt");
REPO.commit("two files")
`, &ExecutionContext{Repo: repo})

	require.NotNil(t, res.Outcome, "%v", res.Failure)
	assert.Equal(t, "abc123", res.Outcome.Value)
	assert.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, repo.staged)

	t.Run("empty list", func(t *testing.T) {
		res := execute(t, `REPO.stage([])`, &ExecutionContext{Repo: newFakeRepo(t, nil)})
		require.NotNil(t, res.Failure)
		assert.Equal(t, core.FailureScript, res.Failure.Kind)
		assert.Contains(t, res.Failure.Message, "at least one path")
	})

	t.Run("failing path stops the list", func(t *testing.T) {
		repo := newFakeRepo(t, nil)
		res := execute(t, `REPO.stage(["a.txt", "missing.txt", "b.txt"])`, &ExecutionContext{Repo: repo})
		require.NotNil(t, res.Failure)
		assert.Equal(t, "stage", res.Failure.Op)
		assert.Equal(t, []string{"a.txt"}, repo.staged)
	})
}

func TestCloneAndIssue(t *testing.T) {
	cloner := &fakeCloner{t: t}
	issue := &fakeIssue{}
	res := execute(t, `
const tools = git.clone("org/tools", "main");
ISSUE.comment("using " + tools.name + " " + tools.read("tool.txt"));
ISSUE.number
`, &ExecutionContext{Repo: newFakeRepo(t, nil), Cloner: cloner, Issue: issue})

	require.NotNil(t, res.Outcome, "%v", res.Failure)
	assert.Equal(t, "7", res.Outcome.Value)
	assert.Equal(t, []string{"org/tools"}, cloner.calls)
	assert.Equal(t, []string{"using tools v1"}, issue.comments)
	assert.Equal(t, []core.Effect{{Op: "clone", Target: "org/tools"}, {Op: "comment", Target: "#7"}}, res.Outcome.Effects)
}

func TestCloneUnavailable(t *testing.T) {
	res := execute(t, `git.clone("org/tools")`, &ExecutionContext{Repo: newFakeRepo(t, nil)})
	require.NotNil(t, res.Failure)
	assert.Equal(t, "clone", res.Failure.Op)
}

func TestMissingArgumentIsScriptError(t *testing.T) {
	res := execute(t, `REPO.write("only-path.txt")`, &ExecutionContext{Repo: newFakeRepo(t, nil)})
	require.NotNil(t, res.Failure)
	assert.Equal(t, core.FailureScript, res.Failure.Kind)
	assert.Contains(t, res.Failure.Message, "content is required")
}

func TestExecuteWithoutRepo(t *testing.T) {
	res := New(nil).Execute(context.Background(), "x.js", `1`, &ExecutionContext{})
	require.NotNil(t, res.Failure)
}
