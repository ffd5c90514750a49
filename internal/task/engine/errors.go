package engine

import (
	"errors"
	"fmt"
	"time"

	"mediatasks/internal/task"
)

var (
	ErrStopped  = errors.New("execution coordinator stopped")
	ErrTimedOut = errors.New("execution deadline exceeded")
	ErrPanicked = errors.New("action panicked")
)

func timeoutError(after time.Duration) error {
	return fmt.Errorf("%w after %s", ErrTimedOut, after)
}

func alreadyRunning(id string) error {
	return fmt.Errorf("%w: %s", task.ErrAlreadyRunning, id)
}
