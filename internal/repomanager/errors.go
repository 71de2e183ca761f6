package repomanager

import "errors"

var (
	ErrNoSource       = errors.New("repository has neither a clone URL nor a local path")
	ErrWorkspaceInUse = errors.New("workspace is held by a running job")
)
