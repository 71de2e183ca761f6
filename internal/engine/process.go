package engine

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/mattn/go-shellwords"
)

// ErrToolNotAllowed is returned for commands outside the tool allow-list.
var ErrToolNotAllowed = errors.New("tool is not allowed")

const waitDelay = 2 * time.Second

// runIn returns the process capability for a working directory. A non-zero
// exit is a value the script inspects; only a refused command throws.
func (x *execution) runIn(dir string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		argv, err := x.commandLine(call)
		if err != nil {
			x.throw("run", err)
		}
		if !x.toolAllowed(argv[0]) {
			x.throw("run", fmt.Errorf("%w: %s", ErrToolNotAllowed, argv[0]))
		}

		cmd := exec.CommandContext(x.ctx, argv[0], argv[1:]...) //nolint:gosec // tool is allow-listed
		cmd.Dir = dir
		cmd.Env = x.processEnv()
		cmd.WaitDelay = waitDelay
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		x.logger.Info("running tool", "command", strings.Join(argv, " "), "dir", dir)
		code := 0
		if err := cmd.Run(); err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				code = exitErr.ExitCode()
			} else {
				code = -1
				stderr.WriteString(err.Error())
			}
		}
		x.record("run", strings.Join(argv, " "))

		res := x.vm.NewObject()
		_ = res.Set("code", code)
		_ = res.Set("ok", code == 0)
		_ = res.Set("stdout", stdout.String())
		_ = res.Set("stderr", stderr.String())
		return res
	}
}

// commandLine accepts either run("go", "fmt", "./...") or run("go fmt ./...").
func (x *execution) commandLine(call goja.FunctionCall) ([]string, error) {
	first := x.stringArg(call, 0, "command")
	if len(call.Arguments) > 1 {
		argv := []string{first}
		for _, a := range call.Arguments[1:] {
			argv = append(argv, a.String())
		}
		return argv, nil
	}
	argv, err := shellwords.Parse(first)
	if err != nil {
		return nil, fmt.Errorf("failed to parse command %q: %w", first, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return argv, nil
}

// toolAllowed accepts bare tool names from the allow-list only, so a script
// cannot reach an arbitrary binary through a path.
func (x *execution) toolAllowed(tool string) bool {
	if tool != filepath.Base(tool) {
		return false
	}
	return slices.Contains(x.ec.Tools, tool)
}

func (x *execution) processEnv() []string {
	env := make([]string, 0, len(x.ec.Env))
	for k, v := range x.ec.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}
