package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediatasks/internal/task"
	"mediatasks/internal/task/scheduler"
)

func TestAddFlagsSchedule(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		f       addFlags
		want    task.Schedule
		wantErr bool
	}{
		{"interval", addFlags{every: 6 * time.Hour}, task.Interval(6 * time.Hour), false},
		{"weekly", addFlags{day: "sun", at: "03:30"}, task.Weekly(time.Sunday, 3, 30), false},
		{"weekly midnight default", addFlags{day: "friday"}, task.Weekly(time.Friday, 0, 0), false},
		{"both", addFlags{every: time.Hour, day: "mon"}, task.Schedule{}, true},
		{"none", addFlags{}, task.Schedule{}, true},
		{"bad clock", addFlags{day: "mon", at: "25:00"}, task.Schedule{}, true},
	}
	for _, tc := range cases {
		got, err := tc.f.schedule()
		if tc.wantErr {
			assert.Error(t, err, tc.name)
			continue
		}
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.want, got, tc.name)
	}
}

// execute runs the root command; configFile is package state, so these tests
// are not parallel.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := BuildCLI()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestTasksRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(`
logging:
  level: error
scheduler:
  enabled: true
  timezone: UTC
storage:
  driver: file
  path: `+filepath.Join(dir, "tasks.json")+`
actions:
  episode-update:
    command: "true"
`), 0o644))

	out, err := execute(t, "--config", cfg, "tasks", "add",
		"--id", "t1", "--item", "item-1", "--title", "Show", "--name", "weekly", "--day", "sun", "--at", "04:00")
	require.NoError(t, err, out)

	out, err = execute(t, "--config", cfg, "tasks", "list", "--json")
	require.NoError(t, err, out)
	var listed []task.ScheduledTask
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "t1", listed[0].ID)
	assert.Equal(t, task.Weekly(time.Sunday, 4, 0), listed[0].Schedule)
	assert.False(t, listed[0].NextRun.IsZero())

	out, err = execute(t, "--config", cfg, "status")
	require.NoError(t, err, out)
	var st scheduler.Status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.False(t, st.Initialized)
	require.Len(t, st.Planned, 1)
	assert.True(t, st.Planned[0].FireAt.Equal(listed[0].NextRun))

	out, err = execute(t, "--config", cfg, "run", "t1")
	require.NoError(t, err, out)
	var res scheduler.RunResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Success)
	assert.Equal(t, task.StatusSuccess, res.LastRunStatus)

	out, err = execute(t, "--config", cfg, "tasks", "disable", "t1")
	require.NoError(t, err, out)

	out, err = execute(t, "--config", cfg, "tasks", "list")
	require.NoError(t, err, out)
	assert.Contains(t, out, "t1")
	assert.Contains(t, out, "false")

	out, err = execute(t, "--config", cfg, "tasks", "rm", "t1")
	require.NoError(t, err, out)
	assert.True(t, strings.HasPrefix(out, "deleted t1"))

	_, err = execute(t, "--config", cfg, "run", "t1")
	require.ErrorIs(t, err, task.ErrNotFound)
}
