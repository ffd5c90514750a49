package action

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediatasks/internal/task"
	"mediatasks/internal/task/engine"
	logx "mediatasks/pkg/logx"
)

func req(typ task.Type) engine.Request {
	return engine.Request{
		TaskID: "t1", ItemID: "item-1", ItemTitle: "Some Show", Type: typ, Trigger: task.TriggerManual,
	}
}

func TestDispatcherRoutesByType(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(logx.Nop())
	var got engine.Request
	d.Register(task.TypeEpisodeUpdate, HandlerFunc(func(_ context.Context, r engine.Request) error {
		got = r
		return nil
	}), 0, 0)
	d.Register(task.TypeMetadataRefresh, HandlerFunc(func(context.Context, engine.Request) error {
		return errors.New("scrape failed")
	}), 0, 0)

	out := d.Run(context.Background(), req(task.TypeEpisodeUpdate))
	assert.True(t, out.Success)
	assert.Equal(t, "item-1", got.ItemID)

	out = d.Run(context.Background(), req(task.TypeMetadataRefresh))
	assert.False(t, out.Success)
	assert.Equal(t, "scrape failed", out.Error)

	out = d.Run(context.Background(), req("unknown"))
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, ErrNoHandler.Error())

	assert.Equal(t, []string{"episode-update", "metadata-refresh"}, d.Types())
}

func TestDispatcherRateLimitHonoursContext(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(logx.Nop())
	d.Register(task.TypeEpisodeUpdate, HandlerFunc(func(context.Context, engine.Request) error { return nil }), 0.001, 1)

	require.True(t, d.Run(context.Background(), req(task.TypeEpisodeUpdate)).Success)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	out := d.Run(ctx, req(task.TypeEpisodeUpdate))
	assert.False(t, out.Success)
	assert.True(t, strings.HasPrefix(out.Error, "rate limit wait"), out.Error)
}

func TestDispatcherApplyReplacesCommandRoutes(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(logx.Nop())
	d.Register("custom", HandlerFunc(func(context.Context, engine.Request) error { return nil }), 0, 0)

	d.Apply(map[string]Config{
		"episode-update":   {Command: "true"},
		"metadata-refresh": {Command: "true"},
		"broken":           {},
	})
	assert.Equal(t, []string{"custom", "episode-update", "metadata-refresh"}, d.Types())

	d.Apply(map[string]Config{"episode-update": {Command: "true"}})
	assert.Equal(t, []string{"custom", "episode-update"}, d.Types())
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestCommandHandler(t *testing.T) {
	t.Parallel()
	requireShell(t)

	cases := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"placeholders", []string{"-c", `test "$1" = "item-1" && test "$2" = "Some Show"`, "sh", "{item_id}", "{item_title}"}, ""},
		{"env", []string{"-c", `test "$MEDIATASKS_TASK_ID" = t1 && test "$MEDIATASKS_TRIGGER" = manual`}, ""},
		{"exit code", []string{"-c", "exit 3"}, "exit status 3"},
		{"output tail", []string{"-c", "echo first; echo upstream timeout >&2; exit 1"}, "upstream timeout"},
	}
	for _, tc := range cases {
		h := NewCommandHandler(Config{Command: "sh", Args: tc.args})
		err := h.Handle(context.Background(), req(task.TypeEpisodeUpdate))
		if tc.wantErr == "" {
			if err != nil {
				t.Fatalf("%s: unexpected err: %v", tc.name, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
			t.Fatalf("%s: err=%v, want containing %q", tc.name, err, tc.wantErr)
		}
	}
}

func TestCommandHandlerCanceled(t *testing.T) {
	t.Parallel()
	requireShell(t)
	h := NewCommandHandler(Config{Command: "sh", Args: []string{"-c", "sleep 5"}})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := h.Handle(ctx, req(task.TypeEpisodeUpdate))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestTailWriterKeepsOnlyTail(t *testing.T) {
	t.Parallel()
	w := &tailWriter{max: 8}
	for i := 0; i < 1000; i++ {
		n, err := w.Write([]byte("abc"))
		require.NoError(t, err)
		require.Equal(t, 3, n)
		require.Less(t, cap(w.buf), 64, "buffer must stay bounded")
	}
	assert.Equal(t, "bcabcabc", string(w.Bytes()))

	n, err := w.Write([]byte("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, "23456789", string(w.Bytes()))

	short := &tailWriter{max: 8}
	_, _ = short.Write([]byte("hi"))
	assert.Equal(t, "hi", string(short.Bytes()))
}

func TestCommandHandlerLargeOutputKeepsTail(t *testing.T) {
	t.Parallel()
	requireShell(t)
	// ~1 MiB of noise followed by the line that matters
	script := `i=0; while [ $i -lt 16384 ]; do echo "noise line number $i padding padding"; i=$((i+1)); done; echo final failure reason >&2; exit 2`
	h := NewCommandHandler(Config{Command: "sh", Args: []string{"-c", script}})
	err := h.Handle(context.Background(), req(task.TypeEpisodeUpdate))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "final failure reason")
	assert.Less(t, len(err.Error()), outputTailBytes+64)
}
