package core

import (
	"fmt"
	"strings"
)

// Effect records one mutation a script performed. Effects are kept for
// observability only.
type Effect struct {
	Op     string `json:"op"`
	Target string `json:"target"`
}

func (e Effect) String() string {
	return e.Op + " " + e.Target
}

// Outcome is the result of a script that ran to completion.
type Outcome struct {
	Value   string   `json:"value,omitempty"`
	Effects []Effect `json:"effects,omitempty"`
}

// FailureKind tags a FailureReason.
type FailureKind string

const (
	FailureScript    FailureKind = "script_error"
	FailureOperation FailureKind = "operation_error"
	FailureTimeout   FailureKind = "timeout"
	// FailureCancelled is reported when the caller cancels a running script.
	FailureCancelled FailureKind = "cancelled"
)

// Position is a best-effort location inside a script.
type Position struct {
	File   string `json:"file,omitempty"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

func (p Position) String() string {
	if p.File == "" {
		return fmt.Sprintf("%d:%d", p.Line, p.Column)
	}
	return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Column)
}

// FailureReason describes why a job did not complete. Effects lists the
// mutations that were performed before the failure; they are not undone.
type FailureReason struct {
	Kind     FailureKind `json:"kind"`
	Message  string      `json:"message"`
	Op       string      `json:"op,omitempty"`
	Position *Position   `json:"position,omitempty"`
	Effects  []Effect    `json:"effects,omitempty"`
}

func (f *FailureReason) Error() string {
	var b strings.Builder
	switch f.Kind {
	case FailureScript:
		b.WriteString("script error")
		if f.Position != nil {
			b.WriteString(" at ")
			b.WriteString(f.Position.String())
		}
	case FailureOperation:
		b.WriteString("operation ")
		b.WriteString(f.Op)
		b.WriteString(" failed")
	case FailureTimeout:
		b.WriteString("timeout")
	case FailureCancelled:
		b.WriteString("cancelled")
	default:
		b.WriteString(string(f.Kind))
	}
	if f.Message != "" {
		b.WriteString(": ")
		b.WriteString(f.Message)
	}
	return b.String()
}

// NewOperationFailure builds an OperationError reason for op.
func NewOperationFailure(op string, err error) *FailureReason {
	return &FailureReason{Kind: FailureOperation, Op: op, Message: err.Error()}
}
