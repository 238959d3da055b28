package lifecycle

import (
	"errors"
	"fmt"

	"github.com/i474232898/weather-aware-tasks/internal/task"
)

// ErrInvalidTransition is the sentinel every TransitionError unwraps to.
var ErrInvalidTransition = errors.New("invalid transition")

// TransitionError reports a rejected state change. The task's state is unchanged.
type TransitionError struct {
	TaskID string
	Event  Event
	From   task.State
	Reason string
}

func (e *TransitionError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s: task %s cannot %s from %s", ErrInvalidTransition, e.TaskID, e.Event, e.From)
	if e.Event == "" {
		msg = fmt.Sprintf("%s: task %s in %s", ErrInvalidTransition, e.TaskID, e.From)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

func invalid(t task.Task, ev Event, format string, args ...any) error {
	return &TransitionError{
		TaskID: t.ID,
		Event:  ev,
		From:   t.State,
		Reason: fmt.Sprintf(format, args...),
	}
}
