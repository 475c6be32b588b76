package worker

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrDispatcherBusy is returned when the submission queue is full.
	ErrDispatcherBusy = errors.New("dispatcher busy")
	// ErrDispatcherClosed is returned for jobs submitted to or stranded in a closed dispatcher.
	ErrDispatcherClosed = errors.New("dispatcher closed")
)

// Job is one unit of backend work queued under a fairness key.
type Job struct {
	Key  string
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
	stop bool
}

func (j Job) execute() {
	if err := j.ctx.Err(); err != nil {
		j.done <- err
		return
	}
	defer func() {
		if r := recover(); r != nil {
			j.done <- fmt.Errorf("job %s panicked: %v", j.Key, r)
		}
	}()
	j.done <- j.fn(j.ctx)
}

func (j Job) abort(err error) {
	if j.done != nil {
		j.done <- err
	}
}
