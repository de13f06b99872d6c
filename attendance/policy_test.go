package attendance_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/core"
	"github.com/warp/attendance-engine/store/memory"
)

func TestPolicyRegistry_SingleActive(t *testing.T) {
	ctx := context.Background()
	reg := attendance.NewPolicyRegistry(memory.New())

	day := dayPolicy()
	night := dayPolicy()
	night.ID, night.Name = "night", "Night"
	night.Start = core.MustParseTimeOfDay("21:00")

	_, err := reg.Save(ctx, day)
	require.NoError(t, err)
	_, err = reg.Save(ctx, night)
	require.NoError(t, err)

	active, err := reg.CurrentActive(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, core.PolicyID("night"), active.ID)

	activated, err := reg.Activate(ctx, "day")
	require.NoError(t, err)
	assert.True(t, activated.Active)

	all, err := reg.List(ctx)
	require.NoError(t, err)
	activeCount := 0
	for _, p := range all {
		if p.Active {
			activeCount++
		}
	}
	assert.Equal(t, 1, activeCount)

	require.NoError(t, reg.Deactivate(ctx, "day"))
	active, err = reg.CurrentActive(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestPolicyRegistry_Errors(t *testing.T) {
	ctx := context.Background()
	reg := attendance.NewPolicyRegistry(memory.New())

	_, err := reg.Activate(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrPolicyNotFound)
	_, err = reg.Get(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrPolicyNotFound)
	assert.ErrorIs(t, reg.Deactivate(ctx, "missing"), core.ErrPolicyNotFound)

	invalid := dayPolicy()
	invalid.Name = ""
	_, err = reg.Save(ctx, invalid)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestPolicyRegistry_EffectiveFor(t *testing.T) {
	ctx := context.Background()
	reg := attendance.NewPolicyRegistry(memory.New())
	_, err := reg.Save(ctx, dayPolicy())
	require.NoError(t, err)

	frozen := dayPolicy()
	frozen.GraceMinutes = 0
	p, err := reg.EffectiveFor(ctx, &core.AttendanceRecord{Policy: &frozen})
	require.NoError(t, err)
	assert.Equal(t, 0, p.GraceMinutes)

	p, err = reg.EffectiveFor(ctx, &core.AttendanceRecord{})
	require.NoError(t, err)
	assert.Equal(t, 10, p.GraceMinutes)
}
