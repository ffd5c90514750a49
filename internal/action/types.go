package action

import (
	"context"
	"errors"
	"time"

	"mediatasks/internal/task/engine"
)

var ErrNoHandler = errors.New("no handler for task type")

// Handler performs one task execution. A nil error means success.
type Handler interface {
	Handle(ctx context.Context, req engine.Request) error
}

type HandlerFunc func(ctx context.Context, req engine.Request) error

func (f HandlerFunc) Handle(ctx context.Context, req engine.Request) error { return f(ctx, req) }

// Config describes a command-backed handler for one task type.
type Config struct {
	Command string
	Args    []string
	Env     []string
	Dir     string

	// RatePerSec limits how often this type may start; 0 = unlimited.
	RatePerSec float64
	Burst      int
}

const (
	outputTailBytes = 512
	killWaitDelay   = 5 * time.Second
)
