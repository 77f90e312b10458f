package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newspulse/aggregator/internal/process"
)

type countingRefresher struct {
	calls atomic.Int32
	err   error
}

func (r *countingRefresher) TriggerRefresh(ctx context.Context) (process.RefreshResult, error) {
	r.calls.Add(1)
	return process.RefreshResult{RunID: "run"}, r.err
}

func TestSpec(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		expr     string
		want     string
		wantErr  bool
	}{
		{name: "interval", interval: 15 * time.Minute, want: "@every 15m0s"},
		{name: "cron wins", interval: time.Minute, expr: "*/10 * * * *", want: "*/10 * * * *"},
		{name: "bad cron", expr: "every tuesday", wantErr: true},
		{name: "too short", interval: 10 * time.Millisecond, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Spec(tt.interval, tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScheduleRunsRefresher(t *testing.T) {
	r := &countingRefresher{}
	s := New(r, time.UTC)
	require.NoError(t, s.Schedule("@every 1s"))
	assert.False(t, s.Next().IsZero())

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return r.calls.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	runs, _ := s.Stats()
	assert.GreaterOrEqual(t, runs, int64(1))
}

func TestNextBeforeStart(t *testing.T) {
	s := New(&countingRefresher{}, time.UTC)
	defer s.Stop()
	assert.True(t, s.Next().IsZero())

	require.NoError(t, s.Schedule("@every 1h"))
	next := s.Next()
	assert.WithinDuration(t, time.Now().Add(time.Hour), next, 5*time.Second)

	require.NoError(t, s.Schedule("0 6 * * *"))
	next = s.Next()
	require.False(t, next.IsZero())
	assert.True(t, next.After(time.Now()))
	assert.Equal(t, 0, next.Minute())
}

func TestScheduleReplacesEntry(t *testing.T) {
	s := New(&countingRefresher{}, nil)
	defer s.Stop()

	require.NoError(t, s.Schedule("@every 1h"))
	first := s.entryID
	require.NoError(t, s.Schedule("@every 2h"))
	assert.NotEqual(t, first, s.entryID)
	assert.Len(t, s.cron.Entries(), 1)

	assert.Error(t, s.Schedule("not a spec"))
}

func TestRunNowCountsSkippedCycles(t *testing.T) {
	r := &countingRefresher{err: process.ErrRefreshInProgress}
	s := New(r, time.UTC, WithRunTimeout(time.Second))
	defer s.Stop()

	s.RunNow()
	runs, skipped := s.Stats()
	assert.Zero(t, runs)
	assert.Equal(t, int64(1), skipped)
	assert.Equal(t, int32(1), r.calls.Load())
}
