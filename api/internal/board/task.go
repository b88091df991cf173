package board

import (
	"context"
	"errors"

	"inkboard/api/internal/recognize"
)

// ErrStale is the result of a submission overtaken by a later action.
var ErrStale = errors.New("board: response discarded")

// Task is one in-flight recognition request.
type Task struct {
	gen    uint64
	engine string
	done   chan struct{}

	pred recognize.Prediction
	err  error
}

func newTask(gen uint64, engine string) *Task {
	return &Task{gen: gen, engine: engine, done: make(chan struct{})}
}

// Done is closed once the continuation has run.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task finishes or ctx ends. Leaving early does not
// cancel the request.
func (t *Task) Wait(ctx context.Context) (recognize.Prediction, error) {
	select {
	case <-t.done:
		return t.pred, t.err
	case <-ctx.Done():
		return recognize.Prediction{}, ctx.Err()
	}
}

func (t *Task) Engine() string { return t.engine }
