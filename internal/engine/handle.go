package engine

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/sevigo/ci-script/internal/core"
)

// handleObject exposes h to the script. Every method is a guarded capability.
func (x *execution) handleObject(h core.RepoHandle) (*goja.Object, error) {
	obj := x.vm.NewObject()
	coords := h.Coordinates()

	props := map[string]interface{}{
		"root":  h.Root(),
		"owner": coords.Owner,
		"name":  coords.Name,
	}
	for k, v := range props {
		if err := obj.Set(k, v); err != nil {
			return nil, err
		}
	}

	methods := map[string]func(goja.FunctionCall) goja.Value{
		"branch": func(goja.FunctionCall) goja.Value {
			name, err := h.CurrentBranch()
			if err != nil {
				x.throw("branch", err)
			}
			return x.vm.ToValue(name)
		},
		"checkout": func(call goja.FunctionCall) goja.Value {
			name := x.stringArg(call, 0, "branch name")
			if err := h.Branch(name); err != nil {
				x.throw("checkout", err)
			}
			x.record("checkout", name)
			return goja.Undefined()
		},
		"read": func(call goja.FunctionCall) goja.Value {
			data, err := h.Read(x.stringArg(call, 0, "path"))
			if err != nil {
				x.throw("read", err)
			}
			return x.vm.ToValue(string(data))
		},
		"write": func(call goja.FunctionCall) goja.Value {
			path := x.stringArg(call, 0, "path")
			content := x.stringArg(call, 1, "content")
			if err := h.Write(path, []byte(content)); err != nil {
				x.throw("write", err)
			}
			x.record("write", path)
			return goja.Undefined()
		},
		"listFiles": func(call goja.FunctionCall) goja.Value {
			entries, err := h.ListFiles(x.optionalString(call, 0))
			if err != nil {
				x.throw("listFiles", err)
			}
			return x.entryArray(entries)
		},
		"stage": func(call goja.FunctionCall) goja.Value {
			for _, path := range x.pathsArg(call, 0) {
				if err := h.Stage(path); err != nil {
					x.throw("stage", err)
				}
			}
			return goja.Undefined()
		},
		"status": func(goja.FunctionCall) goja.Value {
			set, err := h.Status()
			if err != nil {
				x.throw("status", err)
			}
			return x.changeSetObject(set)
		},
		"diff": func(call goja.FunctionCall) goja.Value {
			set, err := h.Diff(x.stringArg(call, 0, "from revision"), x.stringArg(call, 1, "to revision"))
			if err != nil {
				x.throw("diff", err)
			}
			return x.changeSetObject(set)
		},
		"commit": func(call goja.FunctionCall) goja.Value {
			hash, err := h.Commit(x.stringArg(call, 0, "commit message"))
			if err != nil {
				x.throw("commit", err)
			}
			x.record("commit", hash)
			return x.vm.ToValue(hash)
		},
		"push": func(call goja.FunctionCall) goja.Value {
			local := x.stringArg(call, 0, "local branch")
			remote := x.optionalString(call, 1)
			if err := h.Push(x.ctx, local, remote); err != nil {
				x.throw("push", err)
			}
			if remote == "" {
				remote = local
			}
			x.record("push", fmt.Sprintf("%s:%s", local, remote))
			return goja.Undefined()
		},
		"createPullRequest": func(call goja.FunctionCall) goja.Value {
			spec := x.pullRequestSpec(call)
			pr, err := h.CreatePullRequest(x.ctx, spec)
			if err != nil {
				x.throw("createPullRequest", err)
			}
			x.record("pull_request", pr.URL)
			res := x.vm.NewObject()
			_ = res.Set("number", pr.Number)
			_ = res.Set("url", pr.URL)
			return res
		},
		"run": x.runIn(h.Root()),
	}
	for name, fn := range methods {
		if err := obj.Set(name, x.guard(name, fn)); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

func (x *execution) pullRequestSpec(call goja.FunctionCall) core.PullRequestSpec {
	arg := call.Argument(0)
	if goja.IsUndefined(arg) || goja.IsNull(arg) {
		panic(x.vm.NewTypeError("pull request options are required"))
	}
	opts := arg.ToObject(x.vm)
	field := func(name string) string {
		v := opts.Get(name)
		if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
			return ""
		}
		return v.String()
	}
	return core.PullRequestSpec{
		Title: field("title"),
		Body:  field("body"),
		Head:  field("head"),
		Base:  field("base"),
	}
}

func (x *execution) entryArray(entries []core.FileEntry) *goja.Object {
	items := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		o := x.vm.NewObject()
		_ = o.Set("path", e.Path)
		_ = o.Set("isFile", e.IsFile)
		_ = o.Set("isDir", e.IsDir)
		_ = o.Set("isSymlink", e.IsSymlink)
		items = append(items, o)
	}
	return x.vm.NewArray(items...)
}

func (x *execution) changeSetObject(set *core.ChangeSet) *goja.Object {
	o := x.vm.NewObject()
	_ = o.Set("changed", x.stringArray(set.Changed))
	_ = o.Set("added", x.stringArray(set.Added))
	_ = o.Set("removed", x.stringArray(set.Removed))
	return o
}
