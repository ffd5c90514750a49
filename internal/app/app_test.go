package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediatasks/internal/config"
	"mediatasks/internal/task"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

const baseConfig = `
logging:
  level: error
scheduler:
  enabled: true
  timezone: UTC
validator:
  enabled: false
storage:
  driver: memory
actions:
  episode-update:
    command: "true"
`

func TestAppLifecycle(t *testing.T) {
	a, err := New(writeConfig(t, baseConfig))
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))

	created, err := a.Scheduler().CreateTask(context.Background(), task.ScheduledTask{
		ItemID: "item-1", ItemTitle: "Show", Name: "weekly", Type: task.TypeEpisodeUpdate,
		Schedule: task.Weekly(time.Sunday, 3, 0), Enabled: true,
	})
	require.NoError(t, err)

	st, err := a.Scheduler().Status(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Initialized)
	require.Len(t, st.Timers, 1)
	assert.Equal(t, created.ID, st.Timers[0].TaskID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx, StopCommand))
	assert.Equal(t, 0, a.timers.Len())
}

func TestApplyConfigHotReload(t *testing.T) {
	a, err := New(writeConfig(t, baseConfig))
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx, StopCommand)
	})

	prev := a.Config()
	next := *prev
	next.Scheduler.Timezone = "Asia/Tokyo"
	next.Actions = map[string]config.ActionConfig{
		"episode-update":   {Command: "true"},
		"metadata-refresh": {Command: "true"},
	}
	a.applyConfig(prev, &next)

	assert.Equal(t, []string{"episode-update", "metadata-refresh"}, a.actions.Types())
	st, err := a.Scheduler().Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Asia/Tokyo", st.Timezone)
	assert.True(t, st.Initialized)
}

func TestValidateConfigRejectsBadValidatorSchedule(t *testing.T) {
	a, err := New(writeConfig(t, baseConfig))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Stop(context.Background(), StopCommand) })

	cfg := *a.Config()
	cfg.Validator = config.ValidatorConfig{Enabled: true, Schedule: "every full moon"}
	require.ErrorContains(t, a.validateConfig(context.Background(), &cfg), "validator.schedule")

	cfg.Validator.Schedule = "6h"
	require.NoError(t, a.validateConfig(context.Background(), &cfg))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(writeConfig(t, "scheduler:\n  timezone: Not/AZone\n"))
	require.ErrorContains(t, err, "scheduler.timezone")

	_, err = New(writeConfig(t, "scheduler:\n  workers: 2\n"))
	require.Error(t, err)
}
