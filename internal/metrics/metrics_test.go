package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediatasks/internal/eventbus"
	logx "mediatasks/pkg/logx"
)

func TestObserveTaskEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.Observe(eventbus.Event{Type: eventbus.TaskFinished, Data: eventbus.TaskEvent{
		Trigger: "timer", Type: "episode-update", Duration: 2 * time.Second,
	}})
	c.Observe(eventbus.Event{Type: eventbus.TaskFailed, Data: eventbus.TaskEvent{Trigger: "manual", Type: "episode-update"}})
	c.Observe(eventbus.Event{Type: eventbus.TaskSkipped})
	c.Observe(eventbus.Event{Type: eventbus.TaskDiscarded})
	c.Observe(eventbus.Event{Type: eventbus.TimerArmed})
	c.Observe(eventbus.Event{Type: eventbus.TimerArmed})
	c.Observe(eventbus.Event{Type: eventbus.TimerDisarmed})
	c.Observe(eventbus.Event{Type: "something.else"})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.runs.WithLabelValues("timer", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runs.WithLabelValues("manual", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.skipped))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.discarded))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.timerArms))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.timerDrops))
	assert.Equal(t, 1, testutil.CollectAndCount(c.duration))
}

func TestObserveValidatorRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.Observe(eventbus.Event{Type: eventbus.ValidatorRun, Data: eventbus.ValidatorEvent{
		Total: 10, Invalid: 3, Fixed: 1, Deleted: 2,
	}})
	assert.Equal(t, 1.0, testutil.ToFloat64(c.validatorRuns))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.invalidTasks))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.validatorRepairs.WithLabelValues("relinked")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.validatorRepairs.WithLabelValues("deleted")))
}

func TestRunConsumesBus(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	bus := eventbus.New()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, bus)
		close(done)
	}()

	require.Eventually(t, func() bool {
		eventbus.Publish(bus, eventbus.TaskSkipped, eventbus.TaskEvent{TaskID: "a"})
		return testutil.ToFloat64(c.skipped) > 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestHandlerExposesLiveGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg,
		WithTimers(func() int { return 4 }),
		WithInFlight(func() int { return 1 }),
		WithDropped(func() uint64 { return 7 }),
	)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	for _, want := range []string{
		"mediatasks_timers_armed 4",
		"mediatasks_executions_in_flight 1",
		"mediatasks_events_dropped_total 7",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, body)
		}
	}
}

func TestMuxAuthAndPprof(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	cases := []struct {
		name   string
		cfg    ServerConfig
		path   string
		header string
		want   int
	}{
		{"open metrics", ServerConfig{}, "/metrics", "", http.StatusOK},
		{"healthz never gated", ServerConfig{Token: "s3cret"}, "/healthz", "", http.StatusOK},
		{"missing token", ServerConfig{Token: "s3cret"}, "/metrics", "", http.StatusUnauthorized},
		{"bearer token", ServerConfig{Token: "s3cret"}, "/metrics", "Bearer s3cret", http.StatusOK},
		{"query token", ServerConfig{Token: "s3cret"}, "/metrics?token=s3cret", "", http.StatusOK},
		{"wrong query token", ServerConfig{Token: "s3cret"}, "/metrics?token=nope", "Bearer s3cret", http.StatusUnauthorized},
		{"pprof off", ServerConfig{}, "/debug/pprof/", "", http.StatusNotFound},
		{"pprof on", ServerConfig{Pprof: true}, "/debug/pprof/", "", http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		NewMux(tc.cfg, reg).ServeHTTP(rec, req)
		assert.Equal(t, tc.want, rec.Code, tc.name)
	}
}

func TestServeRefusesPublicPprofWithoutToken(t *testing.T) {
	t.Parallel()
	err := Serve(context.Background(), ServerConfig{Addr: "0.0.0.0:0", Pprof: true}, prometheus.NewRegistry(), logx.Nop())
	require.ErrorContains(t, err, "insecure pprof bind")
	assert.True(t, isLoopbackAddr("127.0.0.1:9464"))
	assert.True(t, isLoopbackAddr("localhost:1"))
	assert.False(t, isLoopbackAddr(":9464"))
}
