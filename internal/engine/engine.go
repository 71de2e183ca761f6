// Package engine runs CI scripts written in JavaScript. A script sees a fixed
// set of globals (the triggering repository, its arguments, process and clone
// capabilities) and nothing else from the host.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/dop251/goja"

	"github.com/sevigo/ci-script/internal/core"
)

var errBudgetExceeded = errors.New("operation budget exceeded")

// ExecutionContext is created for one execution and discarded afterwards.
// Repo is required; Issue and Cloner are optional.
type ExecutionContext struct {
	Repo   core.RepoHandle
	Args   []string
	Issue  core.Issue
	Cloner core.Cloner

	// Timeout bounds wall-clock time. Zero leaves only the caller's deadline.
	Timeout time.Duration
	// MaxOperations bounds capability calls. Zero means unlimited.
	MaxOperations int
	Tools         []string
	Env           map[string]string
	Logger        *slog.Logger
}

// Engine executes scripts. It holds no per-execution state and is safe for
// concurrent use.
type Engine struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// Execute runs source to completion. The result carries either an Outcome or
// a FailureReason, never both. Repository mutations performed before a
// failure are kept and listed in the failure's effects.
func (e *Engine) Execute(ctx context.Context, name, source string, ec *ExecutionContext) (result core.Result) {
	if ec == nil || ec.Repo == nil {
		return core.Result{Failure: &core.FailureReason{Kind: core.FailureScript, Message: "no repository bound to execution"}}
	}
	if ec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ec.Timeout)
		defer cancel()
	}
	logger := ec.Logger
	if logger == nil {
		logger = e.logger
	}

	x := newExecution(ctx, ec, logger)
	stop := context.AfterFunc(ctx, func() { x.vm.Interrupt(ctx.Err()) })
	defer stop()

	start := time.Now()
	logger.Info("script started", "script", name, "args", ec.Args)
	defer func() {
		if r := recover(); r != nil {
			result = x.fail(&core.FailureReason{Kind: core.FailureScript, Message: fmt.Sprintf("internal error: %v", r)})
		}
		if result.Failure != nil {
			logger.Warn("script failed", "script", name, "duration", time.Since(start), "reason", result.Failure.Error())
			return
		}
		logger.Info("script finished", "script", name, "duration", time.Since(start), "effects", len(result.Outcome.Effects))
	}()

	prog, err := goja.Compile(name, source, false)
	if err != nil {
		return x.fail(compileFailure(name, err))
	}
	if err := x.bind(); err != nil {
		return x.fail(&core.FailureReason{Kind: core.FailureScript, Message: fmt.Sprintf("failed to bind globals: %v", err)})
	}

	val, err := x.vm.RunProgram(prog)
	if reason := x.classify(err); reason != nil {
		return x.fail(reason)
	}
	return core.Result{Outcome: &core.Outcome{Value: completionValue(val), Effects: x.effects}}
}

func (x *execution) fail(reason *core.FailureReason) core.Result {
	reason.Effects = append(reason.Effects, x.effects...)
	return core.Result{Failure: reason}
}

// classify maps a RunProgram error onto the failure taxonomy. A halt recorded
// by a capability call wins over whatever the script did afterwards.
func (x *execution) classify(err error) *core.FailureReason {
	if x.halt != nil {
		return x.haltReason(x.halt)
	}
	if err == nil {
		return nil
	}

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		cause, _ := interrupted.Value().(error)
		return x.haltReason(cause)
	}

	var opErr *operationError
	if errors.As(err, &opErr) {
		return core.NewOperationFailure(opErr.op, opErr.err)
	}

	var exc *goja.Exception
	if errors.As(err, &exc) {
		return &core.FailureReason{Kind: core.FailureScript, Message: exc.Value().String(), Position: stackPosition(exc)}
	}
	return &core.FailureReason{Kind: core.FailureScript, Message: err.Error()}
}

func (x *execution) haltReason(cause error) *core.FailureReason {
	switch {
	case errors.Is(cause, errBudgetExceeded):
		return &core.FailureReason{Kind: core.FailureTimeout, Message: fmt.Sprintf("operation budget of %d exceeded", x.ec.MaxOperations)}
	case errors.Is(cause, context.Canceled):
		return &core.FailureReason{Kind: core.FailureCancelled, Message: "execution cancelled"}
	case x.ec.Timeout > 0:
		return &core.FailureReason{Kind: core.FailureTimeout, Message: fmt.Sprintf("deadline of %s exceeded", x.ec.Timeout)}
	default:
		return &core.FailureReason{Kind: core.FailureTimeout, Message: "deadline exceeded"}
	}
}

var parserPosition = regexp.MustCompile(`Line (\d+):(\d+)`)

func compileFailure(name string, err error) *core.FailureReason {
	reason := &core.FailureReason{Kind: core.FailureScript, Message: err.Error()}

	var syntaxErr *goja.CompilerSyntaxError
	if !errors.As(err, &syntaxErr) {
		return reason
	}
	reason.Message = syntaxErr.Message
	if syntaxErr.File != nil {
		p := syntaxErr.File.Position(syntaxErr.Offset)
		reason.Position = &core.Position{File: name, Line: p.Line, Column: p.Column}
		return reason
	}
	// parser errors only carry their location in the message
	if m := parserPosition.FindStringSubmatch(syntaxErr.Message); m != nil {
		line, _ := strconv.Atoi(m[1])
		col, _ := strconv.Atoi(m[2])
		reason.Position = &core.Position{File: name, Line: line, Column: col}
	}
	return reason
}

func stackPosition(exc *goja.Exception) *core.Position {
	for _, frame := range exc.Stack() {
		p := frame.Position()
		if p.Line > 0 {
			return &core.Position{File: frame.SrcName(), Line: p.Line, Column: p.Column}
		}
	}
	return nil
}

// completionValue renders the script's final expression. Strings are kept as
// is, undefined and null become empty and everything else is JSON.
func completionValue(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	if s, ok := v.Export().(string); ok {
		return s
	}
	data, err := json.Marshal(v.Export())
	if err != nil {
		return v.String()
	}
	return string(data)
}
