// Package context carries run-scoped values (run id, source, record) used
// for log correlation.
package context

import (
	"context"

	"github.com/google/uuid"
)

// RunContext identifies the batch run and the unit of work being processed.
type RunContext struct {
	RunID    string
	Command  string
	SourceID string
	RecordID string
}

type runContextKey struct{}

// WithRun adds RunContext to context.
func WithRun(ctx context.Context, run *RunContext) context.Context {
	return context.WithValue(ctx, runContextKey{}, run)
}

// GetRun returns RunContext from context.
func GetRun(ctx context.Context) *RunContext {
	if v, ok := ctx.Value(runContextKey{}).(*RunContext); ok {
		return v
	}
	return nil
}

// NewRun starts a run context with a fresh run id.
func NewRun(command string) *RunContext {
	return &RunContext{
		RunID:   uuid.NewString(),
		Command: command,
	}
}

// WithSource returns a derived context scoped to one source.
func WithSource(ctx context.Context, sourceID string) context.Context {
	run := RunContext{}
	if r := GetRun(ctx); r != nil {
		run = *r
	}
	run.SourceID = sourceID
	run.RecordID = ""
	return WithRun(ctx, &run)
}

// WithRecord returns a derived context scoped to one record.
func WithRecord(ctx context.Context, recordID string) context.Context {
	run := RunContext{}
	if r := GetRun(ctx); r != nil {
		run = *r
	}
	run.RecordID = recordID
	return WithRun(ctx, &run)
}
