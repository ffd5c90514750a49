package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsoleGoesToGivenWriter(t *testing.T) {
	var buf bytes.Buffer
	svc, log := newService(Config{Level: "info", Console: true}, &buf)
	defer svc.Close()

	log.With(String("task", "T1")).Info("armed", Int("n", 2))
	log.Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, "armed")
	assert.Contains(t, out, "task=T1")
	assert.Contains(t, out, "n=2")
	assert.Contains(t, out, "logging_test.go:")
	assert.NotContains(t, out, "hidden")
}

func TestApplySwitchesLevelAndFile(t *testing.T) {
	var buf bytes.Buffer
	svc, log := newService(Config{Level: "warn", Console: true}, &buf)
	defer svc.Close()

	log.Info("before")
	assert.Empty(t, buf.String())

	path := filepath.Join(t.TempDir(), "app.log")
	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	log.Debug("after", Err(errors.New("boom")))
	require.NoError(t, svc.Close())

	assert.Empty(t, buf.String())
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(raw))), &rec))
	assert.Equal(t, "after", rec["message"])
	assert.Equal(t, "debug", rec["level"])
	assert.Equal(t, "boom", rec["err"])
}

func TestZeroAndNopLoggersDiscard(t *testing.T) {
	var zero Logger
	assert.True(t, zero.IsZero())
	assert.False(t, Nop().IsZero())
	assert.NotPanics(t, func() {
		zero.Error("dropped")
		Nop().With(Bool("x", true)).Warn("dropped")
	})
}
