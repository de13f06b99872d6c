package payroll_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/attendance-engine/core"
	"github.com/warp/attendance-engine/payroll"
	"github.com/warp/attendance-engine/store/memory"
)

func TestSummarize(t *testing.T) {
	// GIVEN: Four late days (one fine) plus a manual bonus
	store := memory.New()
	ctx := context.Background()
	seedEmployee(t, store, "e1", 3000)
	seedDays(t, store, "e1", 4, core.StatusPresent, core.StatusPresent, core.StatusPresent, core.StatusPresent, core.StatusHoliday, core.StatusOnLeave)
	_, err := newAdjuster(t, store).Recompute(ctx, "e1", march)
	require.NoError(t, err)
	require.NoError(t, store.InsertAdjustment(ctx, core.SalaryAdjustment{
		ID:         core.NewAdjustmentID(),
		EmployeeID: "e1",
		Kind:       core.AdjustmentBonus,
		Amount:     decimal.NewFromInt(250),
		Reason:     "Referral",
		Month:      march,
	}))

	// WHEN: Summarising March
	s, err := payroll.Summarize(ctx, store, "e1", core.MustParseDate("2025-03-20"))

	// THEN: Totals combine automatic and manual rows
	require.NoError(t, err)
	assert.Equal(t, "2025-03-01", s.Month.String())
	assert.True(t, s.TotalFine.Equal(decimal.NewFromInt(100)))
	assert.True(t, s.TotalBonus.Equal(decimal.NewFromInt(250)))
	assert.True(t, s.NetAdjustment.Equal(decimal.NewFromInt(150)))
	assert.True(t, s.NetSalary.Equal(decimal.NewFromInt(3150)))
	assert.Equal(t, 4, s.LateDays)
	assert.Equal(t, 4, s.WorkingDays)
	assert.Len(t, s.Adjustments, 2)
}

func TestSummarize_UnknownEmployee(t *testing.T) {
	_, err := payroll.Summarize(context.Background(), memory.New(), "ghost", march)
	assert.ErrorIs(t, err, core.ErrEmployeeNotFound)
}
