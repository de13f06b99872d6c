package api

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/attendance-engine/core"
)

type fakeRecomputer struct {
	mu     sync.Mutex
	calls  []string
	failOn string
}

func (f *fakeRecomputer) RecomputeMonth(_ context.Context, year int, month time.Month) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := core.StartOfMonth(year, month).Format("2006-01")
	f.calls = append(f.calls, key)
	if key == f.failOn {
		return 0, errors.New("store unavailable")
	}
	return 2, nil
}

func newTestScheduler(t *testing.T, now time.Time, r MonthRecomputer) *PayrollScheduler {
	t.Helper()
	loc, err := core.LoadLocation(core.DefaultLocationName)
	require.NoError(t, err)
	logger, _ := test.NewNullLogger()
	ps := NewPayrollScheduler(r, loc, logger)
	ps.now = func() time.Time { return now }
	return ps
}

func TestScheduler_RunOnceCurrentMonth(t *testing.T) {
	fake := &fakeRecomputer{}
	ps := newTestScheduler(t, time.Date(2025, time.March, 15, 6, 0, 0, 0, time.UTC), fake)

	total := ps.RunOnce(context.Background())

	assert.Equal(t, 2, total)
	assert.Equal(t, []string{"2025-03"}, fake.calls)
	runs, failed := ps.Stats()
	assert.Equal(t, 1, runs)
	assert.Zero(t, failed)
}

func TestScheduler_RunOnceIncludesPreviousMonthEarly(t *testing.T) {
	// GIVEN: 19:00 UTC on Feb 28th is already March 1st in Dhaka
	fake := &fakeRecomputer{failOn: "2025-03"}
	ps := newTestScheduler(t, time.Date(2025, time.February, 28, 19, 0, 0, 0, time.UTC), fake)

	total := ps.RunOnce(context.Background())

	// THEN: Both months are attempted; the failure is counted, not fatal
	assert.Equal(t, []string{"2025-03", "2025-02"}, fake.calls)
	assert.Equal(t, 2, total)
	_, failed := ps.Stats()
	assert.Equal(t, 1, failed)
}

func TestScheduler_StartStop(t *testing.T) {
	fake := &fakeRecomputer{}
	ps := newTestScheduler(t, time.Date(2025, time.March, 15, 6, 0, 0, 0, time.UTC), fake)
	ps.CheckInterval = time.Hour

	ps.Start()
	ps.Start() // no second loop
	require.Eventually(t, func() bool {
		runs, _ := ps.Stats()
		return runs == 1
	}, time.Second, 5*time.Millisecond)
	ps.Stop()
	ps.Stop()

	runs, _ := ps.Stats()
	assert.Equal(t, 1, runs)
}

func TestScheduler_Disabled(t *testing.T) {
	fake := &fakeRecomputer{}
	ps := newTestScheduler(t, time.Now(), fake)
	ps.Enabled = false

	ps.Start()
	ps.Stop()

	runs, _ := ps.Stats()
	assert.Zero(t, runs)
}
