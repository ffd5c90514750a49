package action

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"mediatasks/internal/task/engine"
)

// CommandHandler runs an external program per execution.
//
// Args may reference {task_id}, {item_id}, {item_title}, {type} and
// {trigger}. The same values are exported as MEDIATASKS_* variables. A
// non-zero exit fails the run with the tail of the combined output.
type CommandHandler struct {
	cfg Config
}

func NewCommandHandler(cfg Config) *CommandHandler {
	cfg.Args = append([]string(nil), cfg.Args...)
	cfg.Env = append([]string(nil), cfg.Env...)
	return &CommandHandler{cfg: cfg}
}

func (h *CommandHandler) Handle(ctx context.Context, req engine.Request) error {
	r := strings.NewReplacer(
		"{task_id}", req.TaskID,
		"{item_id}", req.ItemID,
		"{item_title}", req.ItemTitle,
		"{type}", string(req.Type),
		"{trigger}", string(req.Trigger),
	)
	args := make([]string, len(h.cfg.Args))
	for i, a := range h.cfg.Args {
		args[i] = r.Replace(a)
	}

	cmd := exec.CommandContext(ctx, h.cfg.Command, args...)
	cmd.Dir = h.cfg.Dir
	cmd.WaitDelay = killWaitDelay
	cmd.Env = append(os.Environ(), h.cfg.Env...)
	cmd.Env = append(cmd.Env,
		"MEDIATASKS_TASK_ID="+req.TaskID,
		"MEDIATASKS_ITEM_ID="+req.ItemID,
		"MEDIATASKS_ITEM_TITLE="+req.ItemTitle,
		"MEDIATASKS_TASK_TYPE="+string(req.Type),
		"MEDIATASKS_TRIGGER="+string(req.Trigger),
	)
	// one writer for both streams: exec serializes its Write calls
	out := &tailWriter{max: outputTailBytes}
	cmd.Stdout = out
	cmd.Stderr = out

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", h.cfg.Command, ctxErr)
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if tail := outputTail(out.Bytes()); tail != "" {
			return fmt.Errorf("%s: %v: %s", h.cfg.Command, err, tail)
		}
	}
	return fmt.Errorf("%s: %w", h.cfg.Command, err)
}

func outputTail(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) > outputTailBytes {
		b = b[len(b)-outputTailBytes:]
	}
	return strings.Join(strings.Fields(string(b)), " ")
}

// tailWriter keeps only the last max bytes written to it.
type tailWriter struct {
	max int
	buf []byte
}

func (w *tailWriter) Write(p []byte) (int, error) {
	n := len(p)
	if len(p) >= w.max {
		w.buf = append(w.buf[:0], p[len(p)-w.max:]...)
		return n, nil
	}
	w.buf = append(w.buf, p...)
	// compact once the slack reaches max so the buffer stays under 2*max
	if len(w.buf) >= 2*w.max {
		w.buf = append(w.buf[:0], w.buf[len(w.buf)-w.max:]...)
	}
	return n, nil
}

func (w *tailWriter) Bytes() []byte {
	if len(w.buf) > w.max {
		return w.buf[len(w.buf)-w.max:]
	}
	return w.buf
}
