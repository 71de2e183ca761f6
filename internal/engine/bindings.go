package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dop251/goja"

	"github.com/sevigo/ci-script/internal/core"
)

// operationError is thrown into the script when a capability fails. Scripts
// may catch it; uncaught it becomes an OperationError failure.
type operationError struct {
	op  string
	err error
}

func (e *operationError) Error() string { return e.op + ": " + e.err.Error() }
func (e *operationError) Unwrap() error { return e.err }

type execution struct {
	ctx     context.Context
	ec      *ExecutionContext
	vm      *goja.Runtime
	logger  *slog.Logger
	effects []core.Effect
	ops     int
	// halt is set once the deadline or the operation budget stops the script.
	halt error
}

func newExecution(ctx context.Context, ec *ExecutionContext, logger *slog.Logger) *execution {
	return &execution{ctx: ctx, ec: ec, vm: goja.New(), logger: logger, effects: []core.Effect{}}
}

func (x *execution) bind() error {
	repo, err := x.handleObject(x.ec.Repo)
	if err != nil {
		return err
	}

	args := make([]interface{}, len(x.ec.Args))
	for i, a := range x.ec.Args {
		args[i] = a
	}

	gitObj := x.vm.NewObject()
	if err := gitObj.Set("clone", x.guard("clone", x.clone)); err != nil {
		return err
	}

	console := x.vm.NewObject()
	if err := console.Set("log", x.log); err != nil {
		return err
	}

	var issue goja.Value = goja.Null()
	if x.ec.Issue != nil {
		obj, err := x.issueObject(x.ec.Issue)
		if err != nil {
			return err
		}
		issue = obj
	}

	globals := map[string]interface{}{
		"REPO":    repo,
		"ARGS":    x.vm.NewArray(args...),
		"ISSUE":   issue,
		"git":     gitObj,
		"run":     x.guard("run", x.runIn(x.ec.Repo.Root())),
		"env":     x.guard("env", x.env),
		"log":     x.log,
		"console": console,
	}
	for name, v := range globals {
		if err := x.vm.Set(name, v); err != nil {
			return fmt.Errorf("failed to set %s: %w", name, err)
		}
	}
	return nil
}

// guard wraps a capability with the budget checks. The deadline and the
// operation count are checked before the call, and the deadline again after
// it, so an expired budget stops the script at the next statement.
func (x *execution) guard(op string, fn func(goja.FunctionCall) goja.Value) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if err := x.ctx.Err(); err != nil {
			x.stop(err)
			return goja.Undefined()
		}
		x.ops++
		if x.ec.MaxOperations > 0 && x.ops > x.ec.MaxOperations {
			x.stop(errBudgetExceeded)
			return goja.Undefined()
		}
		defer func() {
			if err := x.ctx.Err(); err != nil {
				x.stop(err)
			}
		}()
		return fn(call)
	}
}

func (x *execution) stop(cause error) {
	if x.halt == nil {
		x.halt = cause
		x.logger.Warn("script halted", "cause", cause, "operations", x.ops)
	}
	x.vm.Interrupt(cause)
}

func (x *execution) record(op, target string) {
	x.effects = append(x.effects, core.Effect{Op: op, Target: target})
}

// throw aborts the current capability with an OperationError.
func (x *execution) throw(op string, err error) {
	panic(x.vm.NewGoError(&operationError{op: op, err: err}))
}

func (x *execution) stringArg(call goja.FunctionCall, i int, what string) string {
	v := call.Argument(i)
	if goja.IsUndefined(v) || goja.IsNull(v) {
		panic(x.vm.NewTypeError("%s is required", what))
	}
	return v.String()
}

// pathsArg accepts a single path or an array of paths.
func (x *execution) pathsArg(call goja.FunctionCall, i int) []string {
	v := call.Argument(i)
	obj, ok := v.(*goja.Object)
	if !ok || obj.ClassName() != "Array" {
		return []string{x.stringArg(call, i, "path")}
	}
	var paths []string
	if err := x.vm.ExportTo(v, &paths); err != nil {
		panic(x.vm.NewTypeError("paths must be strings: %v", err))
	}
	if len(paths) == 0 {
		panic(x.vm.NewTypeError("at least one path is required"))
	}
	return paths
}

func (x *execution) optionalString(call goja.FunctionCall, i int) string {
	v := call.Argument(i)
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}

func (x *execution) stringArray(items []string) *goja.Object {
	vals := make([]interface{}, len(items))
	for i, s := range items {
		vals[i] = s
	}
	return x.vm.NewArray(vals...)
}

func (x *execution) log(call goja.FunctionCall) goja.Value {
	parts := make([]string, len(call.Arguments))
	for i, a := range call.Arguments {
		parts[i] = a.String()
	}
	x.logger.Info("script log", "message", strings.Join(parts, " "))
	return goja.Undefined()
}

func (x *execution) env(call goja.FunctionCall) goja.Value {
	return x.vm.ToValue(x.ec.Env[x.stringArg(call, 0, "variable name")])
}

func (x *execution) clone(call goja.FunctionCall) goja.Value {
	fullName := x.stringArg(call, 0, "repository name")
	ref := x.optionalString(call, 1)
	if x.ec.Cloner == nil {
		x.throw("clone", fmt.Errorf("cloning is not available in this execution"))
	}
	h, err := x.ec.Cloner.Clone(x.ctx, fullName, ref)
	if err != nil {
		x.throw("clone", err)
	}
	x.record("clone", fullName)
	obj, err := x.handleObject(h)
	if err != nil {
		x.throw("clone", err)
	}
	return obj
}

func (x *execution) issueObject(issue core.Issue) (*goja.Object, error) {
	obj := x.vm.NewObject()
	if err := obj.Set("number", issue.Number()); err != nil {
		return nil, err
	}
	err := obj.Set("comment", x.guard("comment", func(call goja.FunctionCall) goja.Value {
		body := x.stringArg(call, 0, "comment body")
		if err := issue.Comment(x.ctx, body); err != nil {
			x.throw("comment", err)
		}
		x.record("comment", fmt.Sprintf("#%d", issue.Number()))
		return goja.Undefined()
	}))
	return obj, err
}
